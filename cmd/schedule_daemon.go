package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"dockmaster/internal/schedule"
)

// scheduleDaemonCmd is the process the controller spawns. It is hidden:
// operators manage the daemon through 'schedule start/stop/status', and the
// only reason to invoke this directly is running the loop in the foreground
// for debugging.
var scheduleDaemonCmd = &cobra.Command{
	Use:    "daemon",
	Short:  "Run the scheduler loop in this process",
	Hidden: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := openProject()
		if err != nil {
			return err
		}
		if err := initDocker(); err != nil {
			return err
		}

		controller := newController(p)
		// Rewrite the marker with our own pid: a no-op when spawned by the
		// controller, and what makes foreground runs visible to 'status'.
		if err := controller.WriteOwnMarker(); err != nil {
			return err
		}
		defer controller.RemoveMarker()

		registry := newRegistry(p)
		runner, logs := newRunner(p)
		defer logs.Close()

		daemon := schedule.NewDaemon(registry, runner,
			log.Default().With("component", "daemon", "project", p.Config.Name),
			schedule.WithTick(viper.GetDuration("scheduler.tick_interval")),
			schedule.WithWorkers(viper.GetInt("scheduler.workers")),
			schedule.WithHeartbeat(controller.Touch),
		)

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return daemon.Run(ctx)
	},
}

func init() {
	scheduleCmd.AddCommand(scheduleDaemonCmd)
}
