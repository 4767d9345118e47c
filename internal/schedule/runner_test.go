package schedule

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testJob(typ JobType) *Job {
	return &Job{
		ID:      newJobID(typ),
		Type:    typ,
		Enabled: true,
		NextRun: time.Now(),
	}
}

func TestRunnerSuccess(t *testing.T) {
	logs := NewTaskLogs(t.TempDir())
	defer logs.Close()

	var got *Job
	runner := NewRunner(map[JobType]Action{
		TypeBackup: ActionFunc(func(ctx context.Context, job *Job) error {
			got = job
			return nil
		}),
	}, logs, discardLogger())

	job := testJob(TypeBackup)
	rec := runner.Run(context.Background(), job)

	assert.Equal(t, OutcomeSuccess, rec.Outcome)
	assert.Equal(t, job.ID, rec.JobID)
	assert.Equal(t, job.NextRun, rec.ScheduledFor)
	assert.Empty(t, rec.ErrorDetail)
	assert.False(t, rec.FinishedAt.Before(rec.StartedAt))
	require.NotNil(t, got)
	assert.Equal(t, job.ID, got.ID)
}

func TestRunnerCapturesFailure(t *testing.T) {
	logs := NewTaskLogs(t.TempDir())
	defer logs.Close()

	runner := NewRunner(map[JobType]Action{
		TypeCleanup: ActionFunc(func(ctx context.Context, job *Job) error {
			return errors.New("exec exited with code 1")
		}),
	}, logs, discardLogger())

	rec := runner.Run(context.Background(), testJob(TypeCleanup))
	assert.Equal(t, OutcomeFailure, rec.Outcome)
	assert.Equal(t, "exec exited with code 1", rec.ErrorDetail)
}

func TestRunnerMissingActionIsFailure(t *testing.T) {
	logs := NewTaskLogs(t.TempDir())
	defer logs.Close()

	runner := NewRunner(map[JobType]Action{}, logs, discardLogger())
	rec := runner.Run(context.Background(), testJob(TypeBackup))
	assert.Equal(t, OutcomeFailure, rec.Outcome)
	assert.Contains(t, rec.ErrorDetail, "no action registered")
}

func TestRunnerSkipsOverlappingRun(t *testing.T) {
	logs := NewTaskLogs(t.TempDir())
	defer logs.Close()

	started := make(chan struct{})
	release := make(chan struct{})
	runner := NewRunner(map[JobType]Action{
		TypeBackup: ActionFunc(func(ctx context.Context, job *Job) error {
			close(started)
			<-release
			return nil
		}),
	}, logs, discardLogger())

	job := testJob(TypeBackup)

	var wg sync.WaitGroup
	var first ExecutionRecord
	wg.Add(1)
	go func() {
		defer wg.Done()
		first = runner.Run(context.Background(), job)
	}()

	<-started
	second := runner.Run(context.Background(), job.Clone())
	assert.Equal(t, OutcomeSkippedOverlap, second.Outcome)

	close(release)
	wg.Wait()
	assert.Equal(t, OutcomeSuccess, first.Outcome, "the in-flight run is unaffected by the skip")
}

func TestRunnerDistinctJobsDoNotBlockEachOther(t *testing.T) {
	logs := NewTaskLogs(t.TempDir())
	defer logs.Close()

	started := make(chan struct{})
	release := make(chan struct{})
	runner := NewRunner(map[JobType]Action{
		TypeBackup: ActionFunc(func(ctx context.Context, job *Job) error {
			close(started)
			<-release
			return nil
		}),
		TypeCleanup: ActionFunc(func(ctx context.Context, job *Job) error {
			return nil
		}),
	}, logs, discardLogger())

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		runner.Run(context.Background(), testJob(TypeBackup))
	}()

	<-started
	rec := runner.Run(context.Background(), testJob(TypeCleanup))
	assert.Equal(t, OutcomeSuccess, rec.Outcome, "a different job id is not blocked")

	close(release)
	wg.Wait()
}

func TestRunnerJobTimeout(t *testing.T) {
	logs := NewTaskLogs(t.TempDir())
	defer logs.Close()

	runner := NewRunner(map[JobType]Action{
		TypeBackup: ActionFunc(func(ctx context.Context, job *Job) error {
			<-ctx.Done()
			return ctx.Err()
		}),
	}, logs, discardLogger(), WithJobTimeout(20*time.Millisecond))

	rec := runner.Run(context.Background(), testJob(TypeBackup))
	assert.Equal(t, OutcomeFailure, rec.Outcome)
	assert.Contains(t, rec.ErrorDetail, "context deadline exceeded")
}

func TestRunnerWritesTaskLog(t *testing.T) {
	dir := t.TempDir()
	logs := NewTaskLogs(dir)
	defer logs.Close()

	runner := NewRunner(map[JobType]Action{
		TypeBackup: ActionFunc(func(ctx context.Context, job *Job) error { return nil }),
	}, logs, discardLogger())

	job := testJob(TypeBackup)
	runner.Run(context.Background(), job)

	data, err := os.ReadFile(logs.Path(TypeBackup))
	require.NoError(t, err)
	assert.Contains(t, string(data), job.ID)
	assert.Contains(t, string(data), string(OutcomeSuccess))
}
