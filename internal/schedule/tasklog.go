package schedule

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

// TaskLogs owns the append-only per-job-type execution logs. Each job type
// gets its own rotating file under dir; one line is written per execution
// record, newest last, so `schedule logs -f` can follow it.
type TaskLogs struct {
	dir string

	mu      sync.Mutex
	writers map[JobType]*lumberjack.Logger
	loggers map[JobType]*log.Logger
}

// NewTaskLogs creates the log tree under dir (created on demand).
func NewTaskLogs(dir string) *TaskLogs {
	return &TaskLogs{
		dir:     dir,
		writers: make(map[JobType]*lumberjack.Logger),
		loggers: make(map[JobType]*log.Logger),
	}
}

// Path returns the current log file for a job type.
func (t *TaskLogs) Path(typ JobType) string {
	return filepath.Join(t.dir, string(typ)+".log")
}

// Record appends one structured line for the execution.
func (t *TaskLogs) Record(rec ExecutionRecord) {
	logger := t.logger(rec.JobType)
	kv := []interface{}{
		"job_id", rec.JobID,
		"outcome", string(rec.Outcome),
		"duration", rec.Duration().Round(time.Millisecond).String(),
	}
	switch rec.Outcome {
	case OutcomeSuccess:
		logger.Info("job execution finished", kv...)
	case OutcomeSkippedOverlap:
		logger.Warn("job execution skipped, previous run still in flight", kv...)
	case OutcomeFailure:
		kv = append(kv, "error", rec.ErrorDetail)
		logger.Error("job execution failed", kv...)
	}
}

// Logger returns the structured logger for a job type, so actions can write
// progress lines into the same file as the execution records.
func (t *TaskLogs) Logger(typ JobType) *log.Logger {
	return t.logger(typ)
}

// Close flushes and closes all rotating writers.
func (t *TaskLogs) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	var firstErr error
	for _, w := range t.writers {
		if err := w.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	t.writers = make(map[JobType]*lumberjack.Logger)
	t.loggers = make(map[JobType]*log.Logger)
	return firstErr
}

func (t *TaskLogs) logger(typ JobType) *log.Logger {
	t.mu.Lock()
	defer t.mu.Unlock()

	if l, ok := t.loggers[typ]; ok {
		return l
	}
	_ = os.MkdirAll(t.dir, 0o755)
	w := &lumberjack.Logger{
		Filename:   t.Path(typ),
		MaxSize:    10, // megabytes
		MaxBackups: 5,
		MaxAge:     30, // days
	}
	l := log.NewWithOptions(w, log.Options{
		ReportTimestamp: true,
		TimeFormat:      time.RFC3339,
	})
	t.writers[typ] = w
	t.loggers[typ] = l
	return l
}
