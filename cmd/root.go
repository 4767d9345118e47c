package cmd

import (
	"os"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"dockmaster/internal/project"
	"dockmaster/internal/schedule"
	"dockmaster/internal/task"
	"dockmaster/pkg/docker"
)

var (
	cfgFile    string
	projectDir string
	assumeYes  bool
)

var rootCmd = &cobra.Command{
	Use:   "dockmaster",
	Short: "Dockmaster - Docker project lifecycle manager",
	Long: `Dockmaster manages the lifecycle of Docker-based projects: container
start/stop, image backups and pushes, and recurring maintenance jobs run by a
per-project scheduler daemon.`,
	SilenceUsage: true,
}

// Execute wires build metadata into the version command and runs the CLI.
func Execute(version, commit, date string) {
	setVersionInfo(version, commit, date)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "tool config file (default is dockmaster.toml in standard locations)")
	rootCmd.PersistentFlags().StringVarP(&projectDir, "project", "p", ".", "project directory")
	rootCmd.PersistentFlags().BoolVarP(&assumeYes, "yes", "y", false, "answer yes to all prompts")
}

// initConfig loads the optional tool-level config. Project state lives in
// the project's dockmaster.yaml; this file only tunes the tool itself.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("dockmaster")
		viper.SetConfigType("toml")
		viper.AddConfigPath(".")
		if userConfigDir, err := os.UserConfigDir(); err == nil {
			viper.AddConfigPath(userConfigDir + "/dockmaster")
		}
		viper.AddConfigPath("/etc/dockmaster")
	}

	viper.SetDefault("log.level", "info")
	viper.SetDefault("docker.sock", docker.DefaultSock)
	viper.SetDefault("scheduler.tick_interval", "30s")
	viper.SetDefault("scheduler.workers", 4)
	viper.SetDefault("scheduler.max_failures", 5)
	viper.SetDefault("scheduler.stop_timeout", "10s")
	viper.SetDefault("scheduler.job_timeout", "0s")

	viper.SetEnvPrefix("DOCKMASTER")
	viper.AutomaticEnv()

	// The tool config is optional; defaults cover everything.
	_ = viper.ReadInConfig()

	if lvl, err := log.ParseLevel(viper.GetString("log.level")); err == nil {
		log.SetLevel(lvl)
	}
}

func openProject() (*project.Project, error) {
	return project.Load(projectDir)
}

func initDocker() error {
	return docker.InitializeClient(&docker.Config{Sock: viper.GetString("docker.sock")})
}

func newRegistry(p *project.Project) *schedule.Registry {
	store := project.NewStore(p.Dir)
	return schedule.NewRegistry(store, log.Default().With("component", "registry"),
		schedule.WithMaxFailures(viper.GetInt("scheduler.max_failures")))
}

func newRunner(p *project.Project) (*schedule.Runner, *schedule.TaskLogs) {
	logs := schedule.NewTaskLogs(p.TasksLogDir())
	actions := map[schedule.JobType]schedule.Action{
		schedule.TypeBackup:  task.NewBackupAction(p.Config, logs.Logger(schedule.TypeBackup)),
		schedule.TypeCleanup: task.NewCleanupAction(p.Config, logs.Logger(schedule.TypeCleanup)),
	}
	runner := schedule.NewRunner(actions, logs, log.Default().With("component", "runner"),
		schedule.WithJobTimeout(viper.GetDuration("scheduler.job_timeout")))
	return runner, logs
}

func newController(p *project.Project) *schedule.Controller {
	spawnArgs := []string{"schedule", "daemon", "--project", p.Dir}
	if cfgFile != "" {
		spawnArgs = append(spawnArgs, "--config", cfgFile)
	}
	return schedule.NewController(p.PidFile(), p.DaemonLogFile(), spawnArgs,
		log.Default().With("component", "controller"),
		schedule.WithStopTimeout(viper.GetDuration("scheduler.stop_timeout")))
}
