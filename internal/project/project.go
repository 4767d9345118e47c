// Package project reads and writes the per-project dockmaster.yaml document.
// The document is the single source of truth shared by interactive CLI
// commands and the scheduler daemon, so every write goes through an advisory
// file lock and an atomic whole-document replace.
package project

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"dockmaster/internal/schedule"
)

// ConfigFileName is the project document, one per project directory.
const ConfigFileName = "dockmaster.yaml"

// RegistryConfig holds image registry coordinates for pushes.
type RegistryConfig struct {
	URL      string `yaml:"url,omitempty"`
	Username string `yaml:"username,omitempty"`
	Password string `yaml:"password,omitempty"` // prefer the env var over storing this
	Prefix   string `yaml:"prefix,omitempty"`
}

// ResolvePassword returns the push password, preferring the environment
// (DOCKER_PASSWORD_<USER>, then DOCKER_PASSWORD) over the stored value so
// credentials need not live in the document.
func (r RegistryConfig) ResolvePassword() string {
	if r.Username != "" {
		key := "DOCKER_PASSWORD_" + strings.ToUpper(r.Username)
		if v := os.Getenv(key); v != "" {
			return v
		}
	}
	if v := os.Getenv("DOCKER_PASSWORD"); v != "" {
		return v
	}
	return r.Password
}

// Complete reports whether the registry settings are sufficient for a push.
func (r RegistryConfig) Complete() bool {
	return r.URL != "" && r.Username != "" && r.ResolvePassword() != ""
}

// ImageConfig names the project image and its registry.
type ImageConfig struct {
	Repository string         `yaml:"repository,omitempty"`
	Registry   RegistryConfig `yaml:"registry,omitempty"`
}

// ContainerConfig describes the project's container.
type ContainerConfig struct {
	Name    string   `yaml:"name"`
	Image   string   `yaml:"image,omitempty"`
	Ports   []string `yaml:"ports,omitempty"`   // host:container specs
	Volumes []string `yaml:"volumes,omitempty"` // host:container mounts
	Env     []string `yaml:"env,omitempty"`
}

// CleanupConfig holds the project-wide defaults for cleanup jobs.
type CleanupConfig struct {
	Paths    []string `yaml:"paths,omitempty"`
	Excludes []string `yaml:"excludes,omitempty"`
}

// defaultCleanupPaths are used when neither the job nor the project
// configures any.
var defaultCleanupPaths = []string{"/tmp/*", "/var/cache/*"}

// Config is the full project document.
type Config struct {
	Name      string                             `yaml:"name"`
	Container ContainerConfig                    `yaml:"container"`
	Image     ImageConfig                        `yaml:"image,omitempty"`
	Cleanup   CleanupConfig                      `yaml:"cleanup,omitempty"`
	Schedule  map[schedule.JobType]*schedule.Job `yaml:"schedule,omitempty"`
}

// CleanupPaths returns the configured cleanup paths or the built-in defaults.
func (c *Config) CleanupPaths() []string {
	if len(c.Cleanup.Paths) > 0 {
		return c.Cleanup.Paths
	}
	return append([]string(nil), defaultCleanupPaths...)
}

// BackupRepository returns the repository backup images are committed to,
// falling back to the container name when no image repository is configured.
func (c *Config) BackupRepository() string {
	if c.Image.Repository != "" {
		return c.Image.Repository
	}
	return c.Container.Name
}

// Project is a loaded project: its directory plus its parsed document.
type Project struct {
	Dir    string
	Config *Config
}

// ConfigPath returns the document path inside a project directory.
func ConfigPath(dir string) string {
	return filepath.Join(dir, ConfigFileName)
}

// Load reads the project document from dir. A .env file beside the document
// is loaded into the environment first, so push credentials can live there
// instead of the caller's shell; existing environment variables win.
func Load(dir string) (*Project, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	_ = godotenv.Load(filepath.Join(abs, ".env"))

	data, err := os.ReadFile(ConfigPath(abs))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("no %s found in %s (not a dockmaster project?)", ConfigFileName, abs)
		}
		return nil, fmt.Errorf("failed to read project config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", ConfigFileName, err)
	}
	if cfg.Container.Name == "" {
		cfg.Container.Name = cfg.Name
	}
	return &Project{Dir: abs, Config: &cfg}, nil
}

// LogsDir is where the scheduler daemon keeps its own log, PID marker and
// per-task logs, mirroring logs/scheduler/tasks/<type>.log.
func (p *Project) LogsDir() string {
	return filepath.Join(p.Dir, "logs", "scheduler")
}

// TasksLogDir holds one rotating log file per job type.
func (p *Project) TasksLogDir() string {
	return filepath.Join(p.LogsDir(), "tasks")
}

// PidFile is the daemon's PID marker.
func (p *Project) PidFile() string {
	return filepath.Join(p.LogsDir(), "scheduler.pid")
}

// DaemonLogFile receives the daemon process's own output.
func (p *Project) DaemonLogFile() string {
	return filepath.Join(p.LogsDir(), "scheduler.log")
}
