package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/AlecAivazis/survey/v2"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"dockmaster/internal/project"
	"dockmaster/internal/schedule"
	"dockmaster/pkg/docker"
)

var (
	recurWeekly  string
	recurMonthly int
	recurHourly  int

	jobReplace bool
	jobRunNow  bool
	jobForce   bool

	backupCleanupFirst bool
	backupAutoPush     bool
	backupTagPattern   string
	backupRepository   string

	cleanupPaths    []string
	cleanupExcludes []string
)

var scheduleBackupCmd = &cobra.Command{
	Use:   "backup [HH:MM]",
	Short: "Schedule a recurring container backup",
	Long: `Schedule a recurring backup that commits the project container to a
timestamped image. Defaults to daily at the given time; use --weekly,
--monthly or --hourly for other recurrences.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rule, err := buildRule(args)
		if err != nil {
			return err
		}
		p, err := openProject()
		if err != nil {
			return err
		}
		if !jobForce {
			if err := requireRunningContainer(cmd.Context(), p); err != nil {
				return err
			}
		}

		params := schedule.Params{Backup: &schedule.BackupParams{
			CleanupFirst: backupCleanupFirst,
			AutoPush:     backupAutoPush,
			TagPattern:   backupTagPattern,
			Repository:   backupRepository,
		}}
		return createJob(cmd.Context(), p, schedule.TypeBackup, rule, params)
	},
}

var scheduleCleanupCmd = &cobra.Command{
	Use:   "cleanup [HH:MM]",
	Short: "Schedule recurring cleanup of paths inside the container",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rule, err := buildRule(args)
		if err != nil {
			return err
		}
		p, err := openProject()
		if err != nil {
			return err
		}
		if !jobForce {
			if err := requireRunningContainer(cmd.Context(), p); err != nil {
				return err
			}
		}

		params := schedule.Params{Cleanup: &schedule.CleanupParams{
			Paths:    cleanupPaths,
			Excludes: cleanupExcludes,
		}}
		return createJob(cmd.Context(), p, schedule.TypeCleanup, rule, params)
	},
}

var scheduleRunCmd = &cobra.Command{
	Use:   "run <type>",
	Short: "Run a scheduled job immediately",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		typ, err := schedule.ParseJobType(args[0])
		if err != nil {
			return err
		}
		p, err := openProject()
		if err != nil {
			return err
		}
		if err := initDocker(); err != nil {
			return err
		}

		registry := newRegistry(p)
		job, err := registry.GetByType(typ)
		if err != nil {
			return err
		}

		return runJobNow(cmd.Context(), p, registry, job)
	},
}

// buildRule derives a recurrence from the positional time argument and the
// recurrence flags. Without flags the rule is daily; the flags are mutually
// exclusive.
func buildRule(args []string) (schedule.Rule, error) {
	set := 0
	if recurWeekly != "" {
		set++
	}
	if recurMonthly > 0 {
		set++
	}
	if recurHourly >= 0 {
		set++
	}
	if set > 1 {
		return schedule.Rule{}, errors.New("--weekly, --monthly and --hourly are mutually exclusive")
	}

	if recurHourly >= 0 {
		if len(args) > 0 {
			return schedule.Rule{}, errors.New("--hourly takes a minute, not an HH:MM argument")
		}
		return schedule.NewHourly(recurHourly)
	}

	if len(args) == 0 {
		return schedule.Rule{}, errors.New("missing HH:MM time argument")
	}
	clock := args[0]

	switch {
	case recurWeekly != "":
		return schedule.NewWeekly(recurWeekly, clock)
	case recurMonthly > 0:
		return schedule.NewMonthly(recurMonthly, clock)
	default:
		return schedule.NewDaily(clock)
	}
}

// requireRunningContainer refuses to schedule jobs against a container that
// is not up, which would make every execution fail. --force skips the check.
func requireRunningContainer(ctx context.Context, p *project.Project) error {
	if err := initDocker(); err != nil {
		return fmt.Errorf("%w (use --force to schedule anyway)", err)
	}
	name := p.Config.Container.Name
	exists, running, err := docker.CheckContainerStatus(ctx, name)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("container %s does not exist (use --force to schedule anyway)", name)
	}
	if !running {
		return fmt.Errorf("container %s is not running (use --force to schedule anyway)", name)
	}
	return nil
}

func createJob(ctx context.Context, p *project.Project, typ schedule.JobType, rule schedule.Rule, params schedule.Params) error {
	registry := newRegistry(p)
	job, err := registry.Create(typ, rule, params, jobReplace)
	if err != nil {
		if errors.Is(err, schedule.ErrDuplicateJob) {
			return fmt.Errorf("%w (use --replace to supersede it)", err)
		}
		return err
	}

	fmt.Printf("Scheduled %s job %s: %s\n", typ, color.CyanString(job.ID), rule.String())
	fmt.Printf("Next run: %s\n", job.NextRun.Format("2006-01-02 15:04:05"))

	if jobRunNow {
		if err := initDocker(); err != nil {
			return err
		}
		if err := runJobNow(ctx, p, registry, job); err != nil {
			return err
		}
	}

	return offerDaemonStart(p)
}

// runJobNow executes one job in this process. A due job gets the same
// completion bookkeeping the daemon does; an early manual run is recorded
// ad-hoc so the upcoming scheduled window still fires.
func runJobNow(ctx context.Context, p *project.Project, registry *schedule.Registry, job *schedule.Job) error {
	runner, logs := newRunner(p)
	defer logs.Close()

	fmt.Printf("Running %s job now...\n", job.Type)
	rec := runner.Run(ctx, job)

	record := registry.RecordAdHoc
	if job.Due(time.Now()) {
		record = registry.RecordCompletion
	}
	if err := record(job.ID, rec); err != nil {
		return err
	}

	switch rec.Outcome {
	case schedule.OutcomeSuccess:
		fmt.Printf("%s (%s)\n", color.GreenString("Job succeeded"), rec.Duration().Round(time.Millisecond))
		return nil
	case schedule.OutcomeSkippedOverlap:
		fmt.Println(color.YellowString("Job skipped: a previous run is still in flight."))
		return nil
	default:
		return fmt.Errorf("job failed: %s", rec.ErrorDetail)
	}
}

// offerDaemonStart prompts to start the scheduler when a job was created but
// no daemon is around to run it.
func offerDaemonStart(p *project.Project) error {
	controller := newController(p)
	state, _, err := controller.Status()
	if err != nil || state == schedule.StateRunning {
		return err
	}

	start := assumeYes
	if !assumeYes {
		prompt := &survey.Confirm{
			Message: "The scheduler daemon is not running. Start it now?",
			Default: true,
		}
		if err := survey.AskOne(prompt, &start); err != nil {
			return err
		}
	}
	if !start {
		fmt.Println("The job will not run until you start the daemon with 'dockmaster schedule start'.")
		return nil
	}
	if err := controller.Start(); err != nil {
		return err
	}
	fmt.Println(color.GreenString("Scheduler daemon started."))
	return nil
}

func init() {
	for _, cmd := range []*cobra.Command{scheduleBackupCmd, scheduleCleanupCmd} {
		cmd.Flags().StringVar(&recurWeekly, "weekly", "", "run weekly on this weekday (e.g. monday)")
		cmd.Flags().IntVar(&recurMonthly, "monthly", 0, "run monthly on this day (1-31, clamped to short months)")
		cmd.Flags().IntVar(&recurHourly, "hourly", -1, "run hourly at this minute (0-59)")
		cmd.Flags().BoolVar(&jobReplace, "replace", false, "replace an existing job of the same type")
		cmd.Flags().BoolVar(&jobRunNow, "run-now", false, "run the job once immediately after scheduling it")
		cmd.Flags().BoolVar(&jobForce, "force", false, "schedule even if the container is not running")
	}

	scheduleBackupCmd.Flags().BoolVar(&backupCleanupFirst, "cleanup", false, "clean container paths before each backup")
	scheduleBackupCmd.Flags().BoolVar(&backupAutoPush, "push", false, "push each backup image to the configured registry")
	scheduleBackupCmd.Flags().StringVar(&backupTagPattern, "tag-pattern", "", "Go time layout for backup tags (default backup-20060102_150405)")
	scheduleBackupCmd.Flags().StringVar(&backupRepository, "repository", "", "override the repository backups are committed to")

	scheduleCleanupCmd.Flags().StringArrayVar(&cleanupPaths, "path", nil, "path glob to remove (repeatable, default project config)")
	scheduleCleanupCmd.Flags().StringArrayVar(&cleanupExcludes, "exclude", nil, "path glob to keep (repeatable)")

	scheduleCmd.AddCommand(scheduleBackupCmd)
	scheduleCmd.AddCommand(scheduleCleanupCmd)
	scheduleCmd.AddCommand(scheduleRunCmd)
}
