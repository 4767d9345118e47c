package cmd

import (
	"errors"
	"fmt"

	"github.com/AlecAivazis/survey/v2"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"dockmaster/internal/schedule"
)

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Manage recurring backup and cleanup jobs",
}

var scheduleListCmd = &cobra.Command{
	Use:   "list",
	Short: "List scheduled jobs and their next runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := openProject()
		if err != nil {
			return err
		}
		jobs, err := newRegistry(p).List()
		if err != nil {
			return err
		}
		if len(jobs) == 0 {
			fmt.Println("No scheduled jobs. Create one with 'dockmaster schedule backup' or 'dockmaster schedule cleanup'.")
			return nil
		}
		for _, job := range jobs {
			printJob(job)
		}
		return nil
	},
}

func printJob(job *schedule.Job) {
	state := color.GreenString("enabled")
	if !job.Enabled {
		state = color.RedString("disabled")
	}
	fmt.Printf("%s  %s  [%s]\n", color.CyanString(string(job.Type)), job.ID, state)
	fmt.Printf("  recurrence: %s (%s)\n", job.Rule.String(), job.Rule.Expr())
	fmt.Printf("  next run:   %s\n", job.NextRun.Format("2006-01-02 15:04:05"))
	if job.LastRun != nil {
		status := string(job.LastStatus)
		switch job.LastStatus {
		case schedule.StatusSuccess:
			status = color.GreenString(status)
		case schedule.StatusFailure:
			status = color.RedString(status)
		}
		fmt.Printf("  last run:   %s (%s)\n", job.LastRun.Format("2006-01-02 15:04:05"), status)
	} else {
		fmt.Printf("  last run:   %s\n", color.YellowString("never"))
	}
	if job.ConsecutiveFailures > 0 {
		fmt.Printf("  failures:   %s\n", color.RedString("%d consecutive", job.ConsecutiveFailures))
	}
}

var scheduleRemoveCmd = &cobra.Command{
	Use:   "remove [type]",
	Short: "Remove a scheduled job",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := openProject()
		if err != nil {
			return err
		}
		registry := newRegistry(p)

		var typ schedule.JobType
		if len(args) == 1 {
			typ, err = schedule.ParseJobType(args[0])
			if err != nil {
				return err
			}
		} else {
			typ, err = pickJobType(registry)
			if err != nil {
				return err
			}
		}

		removed, err := registry.RemoveByType(typ)
		if err != nil {
			return err
		}
		if removed == 0 {
			fmt.Printf("No %s job to remove.\n", typ)
			return nil
		}
		fmt.Printf("Removed %s job.\n", typ)
		return nil
	},
}

// pickJobType prompts for one of the currently registered job types.
func pickJobType(registry *schedule.Registry) (schedule.JobType, error) {
	jobs, err := registry.List()
	if err != nil {
		return "", err
	}
	if len(jobs) == 0 {
		return "", errors.New("no scheduled jobs to remove")
	}

	options := make([]string, 0, len(jobs))
	for _, job := range jobs {
		options = append(options, fmt.Sprintf("%s (%s)", job.Type, job.Rule.String()))
	}

	var picked string
	prompt := &survey.Select{
		Message: "Which job do you want to remove?",
		Options: options,
	}
	if err := survey.AskOne(prompt, &picked); err != nil {
		return "", err
	}
	for i, opt := range options {
		if opt == picked {
			return jobs[i].Type, nil
		}
	}
	return "", fmt.Errorf("unknown selection %q", picked)
}

var scheduleStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the scheduler daemon for this project",
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := openProject()
		if err != nil {
			return err
		}
		if err := newController(p).Start(); err != nil {
			return err
		}
		fmt.Println(color.GreenString("Scheduler daemon started."))
		return nil
	},
}

var scheduleStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the scheduler daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := openProject()
		if err != nil {
			return err
		}
		err = newController(p).Stop()
		switch {
		case errors.Is(err, schedule.ErrNotRunning):
			fmt.Println("Scheduler daemon is not running.")
			return nil
		case errors.Is(err, schedule.ErrStale):
			fmt.Println(color.YellowString("Scheduler daemon was already gone; cleaned up its PID marker."))
			return nil
		case err != nil:
			return err
		}
		fmt.Println(color.GreenString("Scheduler daemon stopped."))
		return nil
	},
}

var scheduleRestartCmd = &cobra.Command{
	Use:   "restart",
	Short: "Restart the scheduler daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := openProject()
		if err != nil {
			return err
		}
		if err := newController(p).Restart(); err != nil {
			return err
		}
		fmt.Println(color.GreenString("Scheduler daemon restarted."))
		return nil
	},
}

var scheduleStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whether the scheduler daemon is running",
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := openProject()
		if err != nil {
			return err
		}
		state, marker, err := newController(p).Status()
		if err != nil {
			return err
		}
		switch state {
		case schedule.StateRunning:
			fmt.Printf("Scheduler daemon: %s (pid %d, started %s)\n",
				color.GreenString("running"), marker.PID,
				marker.StartedAt.Local().Format("2006-01-02 15:04:05"))
		case schedule.StateStale:
			fmt.Printf("Scheduler daemon: %s (pid %d no longer alive, run 'schedule start')\n",
				color.YellowString("stale"), marker.PID)
		default:
			fmt.Printf("Scheduler daemon: %s\n", color.RedString("stopped"))
		}
		return nil
	},
}

func init() {
	scheduleCmd.AddCommand(scheduleListCmd)
	scheduleCmd.AddCommand(scheduleRemoveCmd)
	scheduleCmd.AddCommand(scheduleStartCmd)
	scheduleCmd.AddCommand(scheduleStopCmd)
	scheduleCmd.AddCommand(scheduleRestartCmd)
	scheduleCmd.AddCommand(scheduleStatusCmd)
	rootCmd.AddCommand(scheduleCmd)
}
