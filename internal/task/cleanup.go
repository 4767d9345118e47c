package task

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/log"

	"dockmaster/internal/project"
	"dockmaster/internal/schedule"
	"dockmaster/pkg/docker"
)

// CleanupAction removes transient path globs inside the project container.
type CleanupAction struct {
	cfg *project.Config
	log *log.Logger
}

// NewCleanupAction creates the cleanup action for a project.
func NewCleanupAction(cfg *project.Config, logger *log.Logger) *CleanupAction {
	return &CleanupAction{cfg: cfg, log: logger}
}

// Execute removes the job's configured paths (or the project defaults)
// inside the running container.
func (a *CleanupAction) Execute(ctx context.Context, job *schedule.Job) error {
	paths := a.cfg.CleanupPaths()
	excludes := a.cfg.Cleanup.Excludes
	if job.Cleanup != nil {
		if len(job.Cleanup.Paths) > 0 {
			paths = job.Cleanup.Paths
		}
		if len(job.Cleanup.Excludes) > 0 {
			excludes = job.Cleanup.Excludes
		}
	}

	name := a.cfg.Container.Name
	containerID, err := docker.GetContainerIDByName(ctx, name)
	if err != nil {
		return fmt.Errorf("cleanup target unavailable: %w", err)
	}
	_, running, err := docker.CheckContainerStatus(ctx, name)
	if err != nil {
		return err
	}
	if !running {
		return fmt.Errorf("container %s is not running, cannot exec cleanup", name)
	}

	a.log.Info("cleaning container paths", "container", name, "paths", strings.Join(paths, " "))
	if err := cleanupContainer(ctx, containerID, paths, excludes); err != nil {
		return err
	}
	a.log.Info("container cleanup finished", "container", name)
	return nil
}

// cleanupContainer runs the removal script inside the container. Globs are
// expanded by the container's own shell so they match the container
// filesystem, not the host's.
func cleanupContainer(ctx context.Context, containerID string, paths, excludes []string) error {
	script := CleanupScript(paths, excludes)
	exitCode, output, err := docker.ExecInContainer(ctx, containerID, []string{"sh", "-c", script})
	if err != nil {
		return err
	}
	if exitCode != 0 {
		return fmt.Errorf("cleanup exited with code %d: %s", exitCode, strings.TrimSpace(output))
	}
	return nil
}

// CleanupScript renders the shell script removing the given globs while
// skipping excluded patterns.
func CleanupScript(paths, excludes []string) string {
	var b strings.Builder
	b.WriteString("for p in ")
	b.WriteString(strings.Join(paths, " "))
	b.WriteString("; do ")
	if len(excludes) > 0 {
		b.WriteString(`case "$p" in `)
		b.WriteString(strings.Join(excludes, "|"))
		b.WriteString(") continue ;; esac; ")
	}
	b.WriteString(`rm -rf -- "$p"; done`)
	return b.String()
}
