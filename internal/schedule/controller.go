package schedule

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
)

// State is the controller's view of the daemon process.
type State string

const (
	StateStopped State = "stopped"
	StateRunning State = "running"
	// StateStale means a PID marker exists but the process it references is
	// not alive, so an operator should clean up and restart.
	StateStale State = "stale"
)

// PidMarker is the on-disk record a separate CLI invocation reads to find
// the daemon process.
type PidMarker struct {
	PID       int
	StartedAt time.Time
}

// Controller manages the OS-level lifecycle of the scheduler daemon. It
// owns the PID marker exclusively; the daemon only keeps the marker fresh
// via the heartbeat.
type Controller struct {
	pidFile     string
	daemonLog   string
	spawnArgs   []string // argv passed to our own binary to start the daemon
	stopTimeout time.Duration
	log         *log.Logger
}

// ControllerOption customizes a Controller.
type ControllerOption func(*Controller)

// WithStopTimeout bounds how long Stop waits for a graceful exit before
// escalating to SIGKILL.
func WithStopTimeout(d time.Duration) ControllerOption {
	return func(c *Controller) { c.stopTimeout = d }
}

// NewController creates a controller. spawnArgs are the arguments passed to
// the current executable to run the daemon process (e.g. "schedule",
// "daemon", "--project", dir); daemonLog receives its stdout and stderr.
func NewController(pidFile, daemonLog string, spawnArgs []string, logger *log.Logger, opts ...ControllerOption) *Controller {
	c := &Controller{
		pidFile:     pidFile,
		daemonLog:   daemonLog,
		spawnArgs:   spawnArgs,
		stopTimeout: 10 * time.Second,
		log:         logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start spawns the daemon as a detached process and writes the PID marker.
// A live marker fails with ErrAlreadyRunning; a stale one is removed first.
// The marker is claimed with an exclusive create before spawning, so two
// concurrent Start calls cannot both end up with a daemon.
func (c *Controller) Start() error {
	state, marker, err := c.Status()
	if err != nil {
		return err
	}
	switch state {
	case StateRunning:
		return fmt.Errorf("%w (pid %d)", ErrAlreadyRunning, marker.PID)
	case StateStale:
		if marker.PID == 0 {
			// An unreadable marker may be a claim from a concurrent Start
			// that has not written its pid yet. Never steal it; 'schedule
			// stop' cleans up a genuinely corrupt one.
			return fmt.Errorf("%w (unreadable PID marker %s, run 'schedule stop' to clean up)", ErrAlreadyRunning, c.pidFile)
		}
		c.log.Warn("removing stale PID marker", "pid", marker.PID, "path", c.pidFile)
		_ = os.Remove(c.pidFile)
	}

	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to locate executable: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(c.pidFile), 0o755); err != nil {
		return fmt.Errorf("failed to create marker directory: %w", err)
	}
	claim, err := os.OpenFile(c.pidFile, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		if os.IsExist(err) {
			return fmt.Errorf("%w (another start claimed the marker)", ErrAlreadyRunning)
		}
		return fmt.Errorf("failed to claim PID marker: %w", err)
	}
	abort := func() {
		_ = claim.Close()
		_ = os.Remove(c.pidFile)
	}

	if err := os.MkdirAll(filepath.Dir(c.daemonLog), 0o755); err != nil {
		abort()
		return fmt.Errorf("failed to create log directory: %w", err)
	}
	logFile, err := os.OpenFile(c.daemonLog, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		abort()
		return fmt.Errorf("failed to open daemon log: %w", err)
	}
	defer logFile.Close()

	cmd := exec.Command(exe, c.spawnArgs...)
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.Stdin = nil
	// New session: the daemon must survive the CLI process and its terminal.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		abort()
		return fmt.Errorf("failed to spawn scheduler daemon: %w", err)
	}

	if _, err := fmt.Fprintf(claim, "%d %s\n", cmd.Process.Pid, time.Now().UTC().Format(time.RFC3339)); err != nil {
		_ = cmd.Process.Kill()
		abort()
		return fmt.Errorf("failed to write PID marker: %w", err)
	}
	if err := claim.Close(); err != nil {
		_ = cmd.Process.Kill()
		_ = os.Remove(c.pidFile)
		return fmt.Errorf("failed to write PID marker: %w", err)
	}

	// The CLI exits before its child; release the process handle so the
	// daemon is not left as a zombie waiting to be reaped.
	_ = cmd.Process.Release()

	c.log.Info("scheduler daemon started", "pid", cmd.Process.Pid, "log", c.daemonLog)
	return nil
}

// Stop sends a graceful termination signal, waits up to the stop timeout,
// escalates to SIGKILL, and removes the marker.
func (c *Controller) Stop() error {
	state, marker, err := c.Status()
	if err != nil {
		return err
	}
	switch state {
	case StateStopped:
		return ErrNotRunning
	case StateStale:
		_ = os.Remove(c.pidFile)
		return fmt.Errorf("%w (pid %d was gone)", ErrStale, marker.PID)
	}

	proc, err := os.FindProcess(marker.PID)
	if err != nil {
		return fmt.Errorf("failed to find daemon process %d: %w", marker.PID, err)
	}

	c.log.Info("stopping scheduler daemon", "pid", marker.PID)
	if err := proc.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("failed to signal daemon: %w", err)
	}

	deadline := time.Now().Add(c.stopTimeout)
	for time.Now().Before(deadline) {
		if !processAlive(marker.PID) {
			_ = os.Remove(c.pidFile)
			c.log.Info("scheduler daemon stopped", "pid", marker.PID)
			return nil
		}
		time.Sleep(200 * time.Millisecond)
	}

	c.log.Warn("daemon did not exit in time, killing", "pid", marker.PID, "timeout", c.stopTimeout)
	_ = proc.Signal(syscall.SIGKILL)
	_ = os.Remove(c.pidFile)
	return nil
}

// Restart stops the daemon, tolerating a daemon that is not running, then
// starts it again.
func (c *Controller) Restart() error {
	if err := c.Stop(); err != nil && !errors.Is(err, ErrNotRunning) && !errors.Is(err, ErrStale) {
		return err
	}
	return c.Start()
}

// Status probes the PID marker and the process it references.
func (c *Controller) Status() (State, *PidMarker, error) {
	marker, err := c.readMarker()
	if err != nil {
		if os.IsNotExist(err) {
			return StateStopped, nil, nil
		}
		// An unreadable marker is treated as stale rather than fatal; the
		// operator can restart to self-heal.
		c.log.Warn("unreadable PID marker", "path", c.pidFile, "error", err)
		return StateStale, &PidMarker{}, nil
	}
	if processAlive(marker.PID) {
		return StateRunning, marker, nil
	}
	return StateStale, marker, nil
}

// Touch refreshes the marker's modification time. The daemon calls this once
// per tick as its heartbeat.
func (c *Controller) Touch() {
	now := time.Now()
	_ = os.Chtimes(c.pidFile, now, now)
}

// RemoveMarker deletes the marker; the daemon calls this on clean shutdown.
func (c *Controller) RemoveMarker() {
	_ = os.Remove(c.pidFile)
}

// WriteOwnMarker records the calling process as the daemon. Used when the
// daemon process rewrites the marker on boot to cover direct foreground runs.
func (c *Controller) WriteOwnMarker() error {
	return c.writeMarker(PidMarker{PID: os.Getpid(), StartedAt: time.Now()})
}

func (c *Controller) writeMarker(m PidMarker) error {
	if err := os.MkdirAll(filepath.Dir(c.pidFile), 0o755); err != nil {
		return err
	}
	content := fmt.Sprintf("%d %s\n", m.PID, m.StartedAt.UTC().Format(time.RFC3339))
	return os.WriteFile(c.pidFile, []byte(content), 0o600)
}

func (c *Controller) readMarker() (*PidMarker, error) {
	data, err := os.ReadFile(c.pidFile)
	if err != nil {
		return nil, err
	}
	fields := strings.Fields(string(data))
	if len(fields) == 0 {
		return nil, fmt.Errorf("empty PID marker %s", c.pidFile)
	}
	pid, err := strconv.Atoi(fields[0])
	if err != nil || pid <= 0 {
		return nil, fmt.Errorf("malformed PID marker %s: %q", c.pidFile, fields[0])
	}
	m := &PidMarker{PID: pid}
	if len(fields) > 1 {
		if ts, err := time.Parse(time.RFC3339, fields[1]); err == nil {
			m.StartedAt = ts
		}
	}
	return m, nil
}

// processAlive probes a PID with signal 0. EPERM means the process exists
// but belongs to another user, which still counts as alive.
func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	if err == nil {
		return true
	}
	return errors.Is(err, syscall.EPERM)
}
