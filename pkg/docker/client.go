package docker

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/log"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
)

// Config selects the engine socket to talk to.
type Config struct {
	Sock string
}

var (
	dockerCli     *client.Client
	currentConfig *Config
)

// DefaultSock is used when no socket is configured.
const DefaultSock = "/var/run/docker.sock"

// InitializeClient sets up the package-level Docker client.
func InitializeClient(config *Config) error {
	sock := config.Sock
	if sock == "" {
		sock = DefaultSock
	}

	if _, err := os.Stat(sock); os.IsNotExist(err) {
		return fmt.Errorf("docker socket not found: %s", sock)
	}

	cli, err := client.NewClientWithOpts(
		client.WithHost("unix://"+sock),
		client.WithAPIVersionNegotiation(),
	)
	if err != nil {
		return fmt.Errorf("error initializing Docker client: %w", err)
	}

	log.Debug("Docker client initialized", "socket", sock)
	dockerCli = cli
	currentConfig = &Config{Sock: sock}
	return nil
}

// CheckIfInitialized verifies the client is usable and the daemon reachable.
func CheckIfInitialized() error {
	if dockerCli == nil || currentConfig == nil {
		return fmt.Errorf("docker client is not initialized")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := dockerCli.ContainerList(ctx, container.ListOptions{}); err != nil {
		return fmt.Errorf("cannot connect to Docker daemon: %w", err)
	}
	return nil
}
