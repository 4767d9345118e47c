package schedule

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/fsnotify/fsnotify"
)

// Daemon is the long-lived scheduling loop. On each tick it asks the
// registry for due jobs and dispatches them to the runner through a bounded
// worker pool; distinct jobs run concurrently, the same job never does (the
// runner's per-job lock turns overlap into a skipped record).
type Daemon struct {
	registry  *Registry
	runner    *Runner
	log       *log.Logger
	tick      time.Duration
	workers   int
	heartbeat func() // refreshes the PID marker, may be nil
}

// DaemonOption customizes a Daemon.
type DaemonOption func(*Daemon)

// WithTick sets the control loop interval.
func WithTick(d time.Duration) DaemonOption {
	return func(dm *Daemon) { dm.tick = d }
}

// WithWorkers bounds how many distinct jobs execute concurrently.
func WithWorkers(n int) DaemonOption {
	return func(dm *Daemon) { dm.workers = n }
}

// WithHeartbeat registers a callback invoked once per tick while the daemon
// is alive, used to keep the PID marker fresh for stale detection.
func WithHeartbeat(fn func()) DaemonOption {
	return func(dm *Daemon) { dm.heartbeat = fn }
}

// NewDaemon wires a daemon over the registry and runner.
func NewDaemon(registry *Registry, runner *Runner, logger *log.Logger, opts ...DaemonOption) *Daemon {
	d := &Daemon{
		registry: registry,
		runner:   runner,
		log:      logger,
		tick:     30 * time.Second,
		workers:  4,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Run drives the control loop until ctx is cancelled. Cancellation is
// cooperative: in-flight executions finish, no new ones start. Jobs whose
// NextRun elapsed while the daemon was down are due on the first tick and
// run exactly once; RecordCompletion rolls their schedule forward past now,
// so missed windows are never back-filled.
func (d *Daemon) Run(ctx context.Context) error {
	d.log.Info("scheduler daemon started", "tick", d.tick, "workers", d.workers)

	wake := d.watchStore(ctx)

	ticker := time.NewTicker(d.tick)
	defer ticker.Stop()

	var wg sync.WaitGroup
	slots := make(chan struct{}, d.workers)

	// First evaluation immediately, not one tick later: anything that came
	// due while the daemon was down should not wait another interval.
	d.dispatch(ctx, &wg, slots)

	for {
		select {
		case <-ctx.Done():
			d.log.Info("stop requested, waiting for in-flight jobs")
			wg.Wait()
			d.log.Info("scheduler daemon stopped")
			return nil
		case <-ticker.C:
			if d.heartbeat != nil {
				d.heartbeat()
			}
			d.dispatch(ctx, &wg, slots)
		case <-wake:
			d.log.Debug("job registry changed, re-evaluating due jobs")
			d.dispatch(ctx, &wg, slots)
		}
	}
}

// dispatch runs one evaluation: every due job is handed to the runner,
// bounded by the worker pool. Failures are isolated per job; nothing here
// can stop the loop.
func (d *Daemon) dispatch(ctx context.Context, wg *sync.WaitGroup, slots chan struct{}) {
	now := time.Now()
	due, err := d.registry.ListDue(now)
	if err != nil {
		d.log.Error("failed to list due jobs", "error", err)
		return
	}

	for _, job := range due {
		select {
		case <-ctx.Done():
			return
		case slots <- struct{}{}:
		}

		wg.Add(1)
		go func(job *Job) {
			defer wg.Done()
			defer func() { <-slots }()

			// The stop context only gates new dispatches. The execution gets
			// a detached context so a stop request never hard-interrupts an
			// external action mid-flight; Run waits for it via the WaitGroup.
			rec := d.runner.Run(context.WithoutCancel(ctx), job)
			if err := d.registry.RecordCompletion(job.ID, rec); err != nil {
				d.log.Error("failed to record job completion",
					"job_id", job.ID, "outcome", rec.Outcome, "error", err)
			}
		}(job)
	}
}

// watchStore watches the registry document so CLI edits take effect without
// waiting for the next tick. The parent directory is watched because saves
// are atomic renames, which would break a watch on the file itself.
func (d *Daemon) watchStore(ctx context.Context) <-chan struct{} {
	wake := make(chan struct{}, 1)

	storePath := d.registry.Store().Path()
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		d.log.Warn("registry change watching disabled", "error", err)
		return wake
	}
	if err := watcher.Add(filepath.Dir(storePath)); err != nil {
		d.log.Warn("registry change watching disabled", "path", storePath, "error", err)
		_ = watcher.Close()
		return wake
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Name != storePath {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				select {
				case wake <- struct{}{}:
				default: // a wakeup is already pending
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				d.log.Warn("registry watch error", "error", err)
			}
		}
	}()

	return wake
}
