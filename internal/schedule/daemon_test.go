package schedule

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDaemonRunsDueJobOnce(t *testing.T) {
	registry := NewRegistry(newMemStore(t), discardLogger())

	// A job whose next run is already in the past is due on the first tick.
	rule, err := NewDaily("03:00")
	require.NoError(t, err)
	job, err := registry.Create(TypeBackup, rule, Params{Backup: &BackupParams{}}, false)
	require.NoError(t, err)
	require.NoError(t, registry.Store().Mutate(func(jobs map[JobType]*Job) error {
		jobs[TypeBackup].NextRun = time.Now().Add(-time.Hour)
		return nil
	}))

	var runs atomic.Int32
	logs := NewTaskLogs(t.TempDir())
	defer logs.Close()
	runner := NewRunner(map[JobType]Action{
		TypeBackup: ActionFunc(func(ctx context.Context, j *Job) error {
			runs.Add(1)
			return nil
		}),
	}, logs, discardLogger())

	daemon := NewDaemon(registry, runner, discardLogger(),
		WithTick(10*time.Millisecond), WithWorkers(2))

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	require.NoError(t, daemon.Run(ctx))

	// Completion bookkeeping pushed the next run into the future, so the job
	// fired exactly once no matter how many ticks elapsed.
	assert.Equal(t, int32(1), runs.Load())

	updated, err := registry.Get(job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, updated.LastStatus)
	assert.True(t, updated.NextRun.After(time.Now()))
}

func TestDaemonStopLetsInFlightRunFinish(t *testing.T) {
	registry := NewRegistry(newMemStore(t), discardLogger())

	rule, err := NewDaily("03:00")
	require.NoError(t, err)
	job, err := registry.Create(TypeBackup, rule, Params{Backup: &BackupParams{}}, false)
	require.NoError(t, err)
	require.NoError(t, registry.Store().Mutate(func(jobs map[JobType]*Job) error {
		jobs[TypeBackup].NextRun = time.Now().Add(-time.Hour)
		return nil
	}))

	started := make(chan struct{})
	release := make(chan struct{})
	logs := NewTaskLogs(t.TempDir())
	defer logs.Close()
	runner := NewRunner(map[JobType]Action{
		TypeBackup: ActionFunc(func(ctx context.Context, j *Job) error {
			close(started)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-release:
				return nil
			}
		}),
	}, logs, discardLogger())

	daemon := NewDaemon(registry, runner, discardLogger(),
		WithTick(10*time.Millisecond), WithWorkers(1))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- daemon.Run(ctx) }()

	// Request a stop while the run is in flight, then let it finish.
	<-started
	cancel()
	time.Sleep(20 * time.Millisecond)
	close(release)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("daemon did not stop after cancellation")
	}

	updated, err := registry.Get(job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, updated.LastStatus, "the stop must not interrupt the action")
	assert.Zero(t, updated.ConsecutiveFailures)
}

func TestDaemonStopsCleanlyWithNothingDue(t *testing.T) {
	registry := NewRegistry(newMemStore(t), discardLogger())
	logs := NewTaskLogs(t.TempDir())
	defer logs.Close()
	runner := NewRunner(map[JobType]Action{}, logs, discardLogger())

	daemon := NewDaemon(registry, runner, discardLogger(), WithTick(10*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- daemon.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("daemon did not stop after cancellation")
	}
}

func TestDaemonHeartbeat(t *testing.T) {
	registry := NewRegistry(newMemStore(t), discardLogger())
	logs := NewTaskLogs(t.TempDir())
	defer logs.Close()
	runner := NewRunner(map[JobType]Action{}, logs, discardLogger())

	var beats atomic.Int32
	daemon := NewDaemon(registry, runner, discardLogger(),
		WithTick(10*time.Millisecond),
		WithHeartbeat(func() { beats.Add(1) }))

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	require.NoError(t, daemon.Run(ctx))

	assert.Positive(t, beats.Load())
}
