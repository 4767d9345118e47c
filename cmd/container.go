package cmd

import (
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"dockmaster/pkg/docker"
)

var containerStopTimeout time.Duration

var containerCmd = &cobra.Command{
	Use:   "container",
	Short: "Manage the project container",
}

var containerStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the project container",
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := openProject()
		if err != nil {
			return err
		}
		if err := initDocker(); err != nil {
			return err
		}

		ctx := cmd.Context()
		name := p.Config.Container.Name
		id, err := docker.GetContainerIDByName(ctx, name)
		if err != nil {
			return err
		}
		if err := docker.StartContainer(ctx, id); err != nil {
			return err
		}
		if err := docker.WaitForContainerRunning(ctx, id, 30*time.Second); err != nil {
			return err
		}
		fmt.Printf("Container %s %s\n", name, color.GreenString("started"))
		return nil
	},
}

var containerStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the project container",
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := openProject()
		if err != nil {
			return err
		}
		if err := initDocker(); err != nil {
			return err
		}

		ctx := cmd.Context()
		name := p.Config.Container.Name
		id, err := docker.GetContainerIDByName(ctx, name)
		if err != nil {
			return err
		}
		if err := docker.StopContainerGracefully(ctx, id, containerStopTimeout); err != nil {
			return err
		}
		fmt.Printf("Container %s %s\n", name, color.YellowString("stopped"))
		return nil
	},
}

var containerStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the project container's state",
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := openProject()
		if err != nil {
			return err
		}
		if err := initDocker(); err != nil {
			return err
		}

		name := p.Config.Container.Name
		exists, running, err := docker.CheckContainerStatus(cmd.Context(), name)
		if err != nil {
			return err
		}
		switch {
		case !exists:
			fmt.Printf("Container %s: %s\n", name, color.RedString("not found"))
		case running:
			fmt.Printf("Container %s: %s\n", name, color.GreenString("running"))
		default:
			fmt.Printf("Container %s: %s\n", name, color.YellowString("stopped"))
		}
		return nil
	},
}

func init() {
	containerStopCmd.Flags().DurationVar(&containerStopTimeout, "timeout", 10*time.Second, "grace period before the engine kills the container")

	containerCmd.AddCommand(containerStartCmd)
	containerCmd.AddCommand(containerStopCmd)
	containerCmd.AddCommand(containerStatusCmd)
	rootCmd.AddCommand(containerCmd)
}
