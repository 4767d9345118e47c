package docker

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"
)

// GetContainerIDByName resolves a container name to its ID, searching
// stopped containers too.
func GetContainerIDByName(ctx context.Context, name string) (string, error) {
	containers, err := dockerCli.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("name", name)),
	})
	if err != nil {
		return "", fmt.Errorf("error listing containers: %w", err)
	}
	for _, c := range containers {
		for _, n := range c.Names {
			// The API prefixes names with a slash.
			if n == "/"+name || n == name {
				return c.ID, nil
			}
		}
	}
	return "", fmt.Errorf("container not found: %s", name)
}

// CheckContainerStatus reports whether the named container exists and
// whether it is running.
func CheckContainerStatus(ctx context.Context, name string) (exists bool, running bool, err error) {
	id, err := GetContainerIDByName(ctx, name)
	if err != nil {
		return false, false, nil
	}
	info, err := dockerCli.ContainerInspect(ctx, id)
	if err != nil {
		return true, false, fmt.Errorf("error inspecting container: %w", err)
	}
	return true, info.State != nil && info.State.Running, nil
}

// StartContainer starts a stopped container.
func StartContainer(ctx context.Context, containerID string) error {
	if err := dockerCli.ContainerStart(ctx, containerID, container.StartOptions{}); err != nil {
		return fmt.Errorf("error starting container: %w", err)
	}
	return nil
}

// StopContainerGracefully asks the engine to stop a container, allowing it
// the given grace period before the engine kills it.
func StopContainerGracefully(ctx context.Context, containerID string, timeout time.Duration) error {
	seconds := int(timeout.Seconds())
	if err := dockerCli.ContainerStop(ctx, containerID, container.StopOptions{Timeout: &seconds}); err != nil {
		return fmt.Errorf("error stopping container: %w", err)
	}
	return nil
}

// ExecInContainer runs a command inside a running container and returns its
// exit code and combined output.
func ExecInContainer(ctx context.Context, containerID string, cmd []string) (int, string, error) {
	execResp, err := dockerCli.ContainerExecCreate(ctx, containerID, container.ExecOptions{
		Cmd:          cmd,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return -1, "", fmt.Errorf("error creating exec: %w", err)
	}

	attach, err := dockerCli.ContainerExecAttach(ctx, execResp.ID, container.ExecAttachOptions{})
	if err != nil {
		return -1, "", fmt.Errorf("error attaching to exec: %w", err)
	}
	defer attach.Close()

	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, attach.Reader); err != nil {
		return -1, "", fmt.Errorf("error reading exec output: %w", err)
	}

	inspect, err := dockerCli.ContainerExecInspect(ctx, execResp.ID)
	if err != nil {
		return -1, "", fmt.Errorf("error inspecting exec: %w", err)
	}

	output := stdout.String()
	if stderr.Len() > 0 {
		output += stderr.String()
	}
	return inspect.ExitCode, output, nil
}

// ParsePortSpecs converts "host:container" port specs to the engine's
// exposed-port and binding structures.
func ParsePortSpecs(specs []string) (nat.PortSet, nat.PortMap, error) {
	exposed, bindings, err := nat.ParsePortSpecs(specs)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid port spec: %w", err)
	}
	return exposed, bindings, nil
}

// WaitForContainerRunning polls until the container reports running or the
// timeout elapses.
func WaitForContainerRunning(ctx context.Context, containerID string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		info, err := dockerCli.ContainerInspect(ctx, containerID)
		if err != nil {
			return err
		}
		if info.State != nil && info.State.Running {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(500 * time.Millisecond):
		}
	}
	log.Warn("container did not reach running state", "containerID", containerID, "timeout", timeout)
	return fmt.Errorf("timeout waiting for container %s to be running", containerID)
}
