package cmd

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"dockmaster/pkg/docker"
)

var imageCmd = &cobra.Command{
	Use:   "image",
	Short: "Manage project images",
}

var imagePushCmd = &cobra.Command{
	Use:   "push <reference>",
	Short: "Push a local image to the project registry",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := openProject()
		if err != nil {
			return err
		}
		if err := initDocker(); err != nil {
			return err
		}

		reg := p.Config.Image.Registry
		if !reg.Complete() {
			return fmt.Errorf("registry config is incomplete: set image.registry.url and username, and provide the password via DOCKER_PASSWORD")
		}

		ctx := cmd.Context()
		reference := args[0]

		exists, err := docker.CheckIfImageExists(ctx, reference)
		if err != nil {
			return err
		}
		if !exists {
			return fmt.Errorf("image not found locally: %s", reference)
		}

		qualified := docker.QualifyReference(reference, reg.URL, reg.Prefix)
		if qualified != reference {
			if err := docker.TagImage(ctx, reference, qualified); err != nil {
				return err
			}
		}

		fmt.Printf("Pushing %s...\n", qualified)
		err = docker.PushImage(ctx, qualified, docker.AuthConfig{
			Username:      reg.Username,
			Password:      reg.ResolvePassword(),
			ServerAddress: reg.URL,
		})
		if err != nil {
			return err
		}
		fmt.Println(color.GreenString("Image pushed."))
		return nil
	},
}

func init() {
	imageCmd.AddCommand(imagePushCmd)
	rootCmd.AddCommand(imageCmd)
}
