// Package task implements the job actions the scheduler dispatches: backing
// up a project container to an image and cleaning transient paths inside it.
package task

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/log"

	"dockmaster/internal/project"
	"dockmaster/internal/schedule"
	"dockmaster/pkg/docker"
)

// DefaultTagPattern is the Go time layout used for backup image tags when a
// job does not configure one.
const DefaultTagPattern = "backup-20060102_150405"

// BackupAction commits the project container to a timestamped image and
// optionally pushes it to the configured registry.
type BackupAction struct {
	cfg *project.Config
	log *log.Logger
	now func() time.Time
}

// NewBackupAction creates the backup action for a project.
func NewBackupAction(cfg *project.Config, logger *log.Logger) *BackupAction {
	return &BackupAction{cfg: cfg, log: logger, now: time.Now}
}

// Execute runs one backup. Failures are returned for the runner to record;
// nothing here retries.
func (a *BackupAction) Execute(ctx context.Context, job *schedule.Job) error {
	params := job.Backup
	if params == nil {
		params = &schedule.BackupParams{}
	}

	name := a.cfg.Container.Name
	containerID, err := docker.GetContainerIDByName(ctx, name)
	if err != nil {
		return fmt.Errorf("backup target unavailable: %w", err)
	}

	if params.CleanupFirst {
		a.log.Info("cleaning container before backup", "container", name)
		if err := cleanupContainer(ctx, containerID, a.cfg.CleanupPaths(), a.cfg.Cleanup.Excludes); err != nil {
			return fmt.Errorf("pre-backup cleanup failed: %w", err)
		}
	}

	reference := BackupReference(a.cfg, params, a.now())
	a.log.Info("committing container to backup image", "container", name, "image", reference)
	if _, err := docker.CommitContainer(ctx, containerID, reference, "dockmaster scheduled backup"); err != nil {
		return err
	}
	a.log.Info("backup image created", "image", reference)

	if !params.AutoPush {
		return nil
	}
	return a.push(ctx, reference)
}

func (a *BackupAction) push(ctx context.Context, reference string) error {
	reg := a.cfg.Image.Registry
	if !reg.Complete() {
		return fmt.Errorf("auto-push enabled but registry config is incomplete: set image.registry.url and username, and provide the password via DOCKER_PASSWORD")
	}

	qualified := docker.QualifyReference(reference, reg.URL, reg.Prefix)
	if qualified != reference {
		if err := docker.TagImage(ctx, reference, qualified); err != nil {
			return err
		}
	}

	a.log.Info("pushing backup image", "image", qualified)
	err := docker.PushImage(ctx, qualified, docker.AuthConfig{
		Username:      reg.Username,
		Password:      reg.ResolvePassword(),
		ServerAddress: reg.URL,
	})
	if err != nil {
		return err
	}
	a.log.Info("backup image pushed", "image", qualified)
	return nil
}

// BackupReference builds the image reference a backup commits to: the
// job's repository override or the project default, tagged with the job's
// tag pattern rendered at the given instant.
func BackupReference(cfg *project.Config, params *schedule.BackupParams, now time.Time) string {
	repo := cfg.BackupRepository()
	if params != nil && params.Repository != "" {
		repo = params.Repository
	}
	pattern := DefaultTagPattern
	if params != nil && params.TagPattern != "" {
		pattern = params.TagPattern
	}
	return fmt.Sprintf("%s:%s", repo, now.Format(pattern))
}
