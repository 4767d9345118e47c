package project

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
	"gopkg.in/yaml.v3"

	"dockmaster/internal/schedule"
)

// Store persists scheduled jobs inside the project document. It implements
// schedule.Store: reads are snapshots of the latest committed write, and
// Mutate is a read-modify-write of the whole document guarded by an advisory
// file lock so the daemon and a CLI invocation cannot clobber each other.
// Saves replace the document atomically (temp file + rename) so a concurrent
// reader never observes a partial write.
type Store struct {
	path string
	lock *flock.Flock
}

// NewStore creates a store over the project document in dir.
func NewStore(dir string) *Store {
	path := ConfigPath(dir)
	return &Store{
		path: path,
		// The lock lives next to the document, not on it: saves rename over
		// the document, which would silently drop a lock held on the inode.
		lock: flock.New(path + ".lock"),
	}
}

// Path returns the document location.
func (s *Store) Path() string { return s.path }

// Load returns the persisted jobs keyed by type.
func (s *Store) Load() (map[schedule.JobType]*schedule.Job, error) {
	cfg, err := s.read()
	if err != nil {
		return nil, err
	}
	jobs := cfg.Schedule
	if jobs == nil {
		jobs = make(map[schedule.JobType]*schedule.Job)
	}
	return jobs, nil
}

// Mutate applies fn to the current jobs under the file lock and atomically
// replaces the document, preserving all non-schedule sections.
func (s *Store) Mutate(fn func(jobs map[schedule.JobType]*schedule.Job) error) error {
	if err := s.lock.Lock(); err != nil {
		return fmt.Errorf("failed to lock project config: %w", err)
	}
	defer func() { _ = s.lock.Unlock() }()

	cfg, err := s.read()
	if err != nil {
		return err
	}
	if cfg.Schedule == nil {
		cfg.Schedule = make(map[schedule.JobType]*schedule.Job)
	}
	if err := fn(cfg.Schedule); err != nil {
		return err
	}
	if len(cfg.Schedule) == 0 {
		cfg.Schedule = nil
	}
	return s.writeAtomic(cfg)
}

func (s *Store) read() (*Config, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Config{}, nil
		}
		return nil, fmt.Errorf("failed to read project config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse project config: %w", err)
	}
	return &cfg, nil
}

func (s *Store) writeAtomic(cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal project config: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".dockmaster-*.yaml")
	if err != nil {
		return fmt.Errorf("failed to create temp config: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write temp config: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync temp config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("failed to replace project config: %w", err)
	}
	return nil
}
