package schedule

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

// Action executes the external side effect of one job type. Implementations
// may be slow and may fail; the runner captures both.
type Action interface {
	Execute(ctx context.Context, job *Job) error
}

// ActionFunc adapts a function to the Action interface.
type ActionFunc func(ctx context.Context, job *Job) error

func (f ActionFunc) Execute(ctx context.Context, job *Job) error { return f(ctx, job) }

// Runner executes single jobs. A per-job mutex guarantees at most one
// execution in flight per job id: a second invocation while one is running
// is recorded as skipped_overlap rather than blocking or failing
// (TryLock is atomic, so there is no race between check and acquire).
type Runner struct {
	actions map[JobType]Action
	logs    *TaskLogs
	log     *log.Logger
	timeout time.Duration // 0 means no per-execution timeout

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// RunnerOption customizes a Runner.
type RunnerOption func(*Runner)

// WithJobTimeout bounds each execution; the context handed to the action is
// cancelled when it elapses. Zero keeps executions unbounded.
func WithJobTimeout(d time.Duration) RunnerOption {
	return func(r *Runner) { r.timeout = d }
}

// NewRunner creates a runner dispatching to the given per-type actions.
func NewRunner(actions map[JobType]Action, logs *TaskLogs, logger *log.Logger, opts ...RunnerOption) *Runner {
	r := &Runner{
		actions: actions,
		logs:    logs,
		log:     logger,
		locks:   make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes one job and returns its record unconditionally: all failures
// are captured in the record, never raised to the caller.
func (r *Runner) Run(ctx context.Context, job *Job) ExecutionRecord {
	rec := ExecutionRecord{
		JobID:        job.ID,
		JobType:      job.Type,
		ScheduledFor: job.NextRun,
		StartedAt:    time.Now(),
	}

	lock := r.jobLock(job.ID)
	if !lock.TryLock() {
		rec.FinishedAt = time.Now()
		rec.Outcome = OutcomeSkippedOverlap
		r.logs.Record(rec)
		r.log.Warn("job still running, skipping this trigger", "job_id", job.ID, "type", job.Type)
		return rec
	}
	defer lock.Unlock()

	action, ok := r.actions[job.Type]
	if !ok {
		rec.FinishedAt = time.Now()
		rec.Outcome = OutcomeFailure
		rec.ErrorDetail = fmt.Sprintf("no action registered for job type %q", job.Type)
		r.logs.Record(rec)
		return rec
	}

	runCtx := ctx
	if r.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	r.log.Info("job execution started", "job_id", job.ID, "type", job.Type)
	err := action.Execute(runCtx, job)
	rec.FinishedAt = time.Now()

	if err != nil {
		rec.Outcome = OutcomeFailure
		rec.ErrorDetail = err.Error()
		r.log.Error("job execution failed",
			"job_id", job.ID, "type", job.Type,
			"duration", rec.Duration().Round(time.Millisecond), "error", err)
	} else {
		rec.Outcome = OutcomeSuccess
		r.log.Info("job execution finished",
			"job_id", job.ID, "type", job.Type,
			"duration", rec.Duration().Round(time.Millisecond))
	}

	r.logs.Record(rec)
	return rec
}

func (r *Runner) jobLock(jobID string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	if l, ok := r.locks[jobID]; ok {
		return l
	}
	l := &sync.Mutex{}
	r.locks[jobID] = l
	return l
}
