package schedule

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// JobType is the closed set of maintenance actions a job can perform.
type JobType string

const (
	TypeBackup  JobType = "backup"
	TypeCleanup JobType = "cleanup"
)

// ParseJobType validates a user-supplied job type string.
func ParseJobType(s string) (JobType, error) {
	switch JobType(strings.ToLower(strings.TrimSpace(s))) {
	case TypeBackup:
		return TypeBackup, nil
	case TypeCleanup:
		return TypeCleanup, nil
	}
	return "", fmt.Errorf("unknown job type %q (expected backup or cleanup)", s)
}

// Status summarizes the most recent completed execution of a job.
type Status string

const (
	StatusNeverRun Status = "never_run"
	StatusSuccess  Status = "success"
	StatusFailure  Status = "failure"
)

// Outcome is the result of a single runner invocation.
type Outcome string

const (
	OutcomeSuccess        Outcome = "success"
	OutcomeFailure        Outcome = "failure"
	OutcomeSkippedOverlap Outcome = "skipped_overlap"
)

// BackupParams configures a backup job.
type BackupParams struct {
	CleanupFirst bool   `yaml:"cleanup_first,omitempty"`
	AutoPush     bool   `yaml:"auto_push,omitempty"`
	TagPattern   string `yaml:"tag_pattern,omitempty"` // Go time layout, e.g. backup-20060102_150405
	Repository   string `yaml:"repository,omitempty"`  // overrides the project image repository
}

// CleanupParams configures a cleanup job.
type CleanupParams struct {
	Paths    []string `yaml:"paths,omitempty"`
	Excludes []string `yaml:"excludes,omitempty"`
}

// Params carries the type-specific parameters of a job; exactly one field is
// set, matching the job's type.
type Params struct {
	Backup  *BackupParams
	Cleanup *CleanupParams
}

// Job is a persisted definition of a recurring maintenance action.
type Job struct {
	ID                  string         `yaml:"job_id"`
	Type                JobType        `yaml:"type"`
	Rule                Rule           `yaml:"recurrence"`
	Enabled             bool           `yaml:"enabled"`
	Backup              *BackupParams  `yaml:"backup,omitempty"`
	Cleanup             *CleanupParams `yaml:"cleanup,omitempty"`
	LastRun             *time.Time     `yaml:"last_run,omitempty"`
	LastStatus          Status         `yaml:"last_status"`
	NextRun             time.Time      `yaml:"next_run"`
	ConsecutiveFailures int            `yaml:"consecutive_failures,omitempty"`
}

// Due reports whether the job should run at the given instant.
func (j *Job) Due(now time.Time) bool {
	return j.Enabled && !j.NextRun.After(now)
}

// Clone returns a deep copy, so registry snapshots can be handed out without
// aliasing the store's state.
func (j *Job) Clone() *Job {
	c := *j
	if j.Backup != nil {
		b := *j.Backup
		c.Backup = &b
	}
	if j.Cleanup != nil {
		cl := *j.Cleanup
		cl.Paths = append([]string(nil), j.Cleanup.Paths...)
		cl.Excludes = append([]string(nil), j.Cleanup.Excludes...)
		c.Cleanup = &cl
	}
	if j.LastRun != nil {
		t := *j.LastRun
		c.LastRun = &t
	}
	return &c
}

// newJobID generates a stable identifier of the form "<type>-<8 hex>".
func newJobID(typ JobType) string {
	return fmt.Sprintf("%s-%s", typ, strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
}

// ExecutionRecord is the ephemeral result of one runner invocation.
type ExecutionRecord struct {
	JobID        string
	JobType      JobType
	ScheduledFor time.Time
	StartedAt    time.Time
	FinishedAt   time.Time
	Outcome      Outcome
	ErrorDetail  string
}

// Duration returns the wall-clock time the execution took.
func (r ExecutionRecord) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}
