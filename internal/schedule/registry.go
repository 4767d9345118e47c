package schedule

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

// Store is the persisted job document. Implementations must make Mutate a
// read-modify-write of the whole document under a cross-process lock, and
// Load must always observe the latest committed write.
type Store interface {
	// Load returns a snapshot of all persisted jobs keyed by type.
	Load() (map[JobType]*Job, error)
	// Mutate applies fn to the current jobs under the store lock and
	// atomically replaces the persisted document.
	Mutate(fn func(jobs map[JobType]*Job) error) error
	// Path is the on-disk location of the document, for change watching.
	Path() string
}

// Registry is the durable mapping from job identity to job definition.
// Mutations are serialized through the store's lock so the daemon and an
// interactive CLI invocation can edit concurrently without lost updates.
type Registry struct {
	mu          sync.Mutex
	store       Store
	log         *log.Logger
	maxFailures int
	now         func() time.Time
}

// RegistryOption customizes a Registry.
type RegistryOption func(*Registry)

// WithMaxFailures caps consecutive execution failures before a job is
// auto-disabled. Zero disables the cap.
func WithMaxFailures(n int) RegistryOption {
	return func(r *Registry) { r.maxFailures = n }
}

// WithClock overrides the registry clock. Tests use this.
func WithClock(now func() time.Time) RegistryOption {
	return func(r *Registry) { r.now = now }
}

// NewRegistry creates a registry over the given store.
func NewRegistry(store Store, logger *log.Logger, opts ...RegistryOption) *Registry {
	r := &Registry{
		store:       store,
		log:         logger,
		maxFailures: 5,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Store exposes the underlying store, mainly for change watching.
func (r *Registry) Store() Store { return r.store }

// Create persists a new job of the given type and returns it. It fails with
// ErrDuplicateJob when an enabled job of the same type already exists, unless
// replace is set, in which case the existing job is superseded.
func (r *Registry) Create(typ JobType, rule Rule, params Params, replace bool) (*Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	job := &Job{
		ID:         newJobID(typ),
		Type:       typ,
		Rule:       rule,
		Enabled:    true,
		Backup:     params.Backup,
		Cleanup:    params.Cleanup,
		LastStatus: StatusNeverRun,
		NextRun:    rule.Next(r.now()),
	}

	err := r.store.Mutate(func(jobs map[JobType]*Job) error {
		if existing, ok := jobs[typ]; ok && existing.Enabled && !replace {
			return fmt.Errorf("%w: %s (job %s)", ErrDuplicateJob, typ, existing.ID)
		}
		if existing, ok := jobs[typ]; ok {
			r.log.Info("replacing scheduled job", "type", typ, "old_job_id", existing.ID)
		}
		jobs[typ] = job
		return nil
	})
	if err != nil {
		return nil, err
	}

	r.log.Info("scheduled job created",
		"job_id", job.ID, "type", typ, "recurrence", rule.String(), "next_run", job.NextRun)
	return job.Clone(), nil
}

// Update describes a partial edit of a job. Nil fields are left unchanged.
type Update struct {
	Rule    *Rule
	Params  *Params
	Enabled *bool
}

// Update applies a partial edit to the job with the given id, recomputing
// NextRun when the recurrence changes.
func (r *Registry) Update(jobID string, upd Update) (*Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var updated *Job
	err := r.store.Mutate(func(jobs map[JobType]*Job) error {
		job := findByID(jobs, jobID)
		if job == nil {
			return fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
		}
		if upd.Rule != nil {
			job.Rule = *upd.Rule
			job.NextRun = job.Rule.Next(r.now())
		}
		if upd.Params != nil {
			job.Backup = upd.Params.Backup
			job.Cleanup = upd.Params.Cleanup
		}
		if upd.Enabled != nil {
			job.Enabled = *upd.Enabled
			if *upd.Enabled {
				job.ConsecutiveFailures = 0
			}
		}
		updated = job.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// Remove deletes the job with the given id.
func (r *Registry) Remove(jobID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.store.Mutate(func(jobs map[JobType]*Job) error {
		for typ, job := range jobs {
			if job.ID == jobID {
				delete(jobs, typ)
				r.log.Info("scheduled job removed", "job_id", jobID, "type", typ)
				return nil
			}
		}
		return fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	})
}

// RemoveByType deletes all jobs of the given type and returns how many were
// removed.
func (r *Registry) RemoveByType(typ JobType) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	err := r.store.Mutate(func(jobs map[JobType]*Job) error {
		if job, ok := jobs[typ]; ok {
			delete(jobs, typ)
			removed++
			r.log.Info("scheduled job removed", "job_id", job.ID, "type", typ)
		}
		return nil
	})
	return removed, err
}

// Get returns the job with the given id.
func (r *Registry) Get(jobID string) (*Job, error) {
	jobs, err := r.store.Load()
	if err != nil {
		return nil, err
	}
	if job := findByID(jobs, jobID); job != nil {
		return job.Clone(), nil
	}
	return nil, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
}

// GetByType returns the job of the given type, if one is registered.
func (r *Registry) GetByType(typ JobType) (*Job, error) {
	jobs, err := r.store.Load()
	if err != nil {
		return nil, err
	}
	if job, ok := jobs[typ]; ok {
		return job.Clone(), nil
	}
	return nil, fmt.Errorf("%w: no %s job", ErrJobNotFound, typ)
}

// List returns all jobs sorted by NextRun, ties broken by job id.
func (r *Registry) List() ([]*Job, error) {
	jobs, err := r.store.Load()
	if err != nil {
		return nil, err
	}
	out := make([]*Job, 0, len(jobs))
	for _, job := range jobs {
		out = append(out, job.Clone())
	}
	sortJobs(out)
	return out, nil
}

// ListDue returns the enabled jobs whose NextRun has arrived at `now`,
// sorted by NextRun ascending with ties broken by job id for determinism.
func (r *Registry) ListDue(now time.Time) ([]*Job, error) {
	jobs, err := r.store.Load()
	if err != nil {
		return nil, err
	}
	var due []*Job
	for _, job := range jobs {
		if job.Due(now) {
			due = append(due, job.Clone())
		}
	}
	sortJobs(due)
	return due, nil
}

// RecordCompletion folds one execution record into the job's bookkeeping.
// NextRun is recomputed from the originally scheduled instant, not from the
// completion time, so execution latency does not drift the schedule; it is
// then rolled forward past `now` so a window missed while the daemon was
// down runs at most once. Overlap skips leave the job untouched: the
// in-flight execution's own completion will advance it.
func (r *Registry) RecordCompletion(jobID string, rec ExecutionRecord) error {
	return r.record(jobID, rec, true)
}

// RecordAdHoc folds a manual, out-of-band execution into the job's
// bookkeeping. NextRun is left untouched: an ad-hoc run must not consume
// the upcoming scheduled window.
func (r *Registry) RecordAdHoc(jobID string, rec ExecutionRecord) error {
	return r.record(jobID, rec, false)
}

func (r *Registry) record(jobID string, rec ExecutionRecord, advance bool) error {
	if rec.Outcome == OutcomeSkippedOverlap {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	return r.store.Mutate(func(jobs map[JobType]*Job) error {
		job := findByID(jobs, jobID)
		if job == nil {
			return fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
		}

		started := rec.StartedAt
		job.LastRun = &started

		switch rec.Outcome {
		case OutcomeSuccess:
			job.LastStatus = StatusSuccess
			job.ConsecutiveFailures = 0
		case OutcomeFailure:
			job.LastStatus = StatusFailure
			job.ConsecutiveFailures++
			if r.maxFailures > 0 && job.ConsecutiveFailures >= r.maxFailures {
				job.Enabled = false
				r.log.Error("job disabled after repeated failures",
					"job_id", job.ID, "type", job.Type,
					"consecutive_failures", job.ConsecutiveFailures,
					"last_error", rec.ErrorDetail)
			}
		}

		if advance {
			now := r.now()
			next := job.Rule.Next(rec.ScheduledFor)
			for !next.After(now) {
				next = job.Rule.Next(next)
			}
			job.NextRun = next
		}
		return nil
	})
}

func findByID(jobs map[JobType]*Job, jobID string) *Job {
	for _, job := range jobs {
		if job.ID == jobID {
			return job
		}
	}
	return nil
}

func sortJobs(jobs []*Job) {
	sort.Slice(jobs, func(i, j int) bool {
		if !jobs[i].NextRun.Equal(jobs[j].NextRun) {
			return jobs[i].NextRun.Before(jobs[j].NextRun)
		}
		return jobs[i].ID < jobs[j].ID
	})
}
