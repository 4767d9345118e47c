package docker

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
)

// CommitContainer commits a container's filesystem to a new image with the
// given reference (repository:tag) and returns the image ID.
func CommitContainer(ctx context.Context, containerID, reference, comment string) (string, error) {
	resp, err := dockerCli.ContainerCommit(ctx, containerID, container.CommitOptions{
		Reference: reference,
		Comment:   comment,
		Pause:     true,
	})
	if err != nil {
		return "", fmt.Errorf("error committing container: %w", err)
	}
	log.Debug("container committed", "containerID", containerID, "image", reference, "imageID", resp.ID)
	return resp.ID, nil
}

// TagImage adds a reference to an existing image.
func TagImage(ctx context.Context, source, target string) error {
	if err := dockerCli.ImageTag(ctx, source, target); err != nil {
		return fmt.Errorf("error tagging image %s as %s: %w", source, target, err)
	}
	return nil
}

// PushImage pushes an image reference using the given credentials. The push
// stream is scanned for in-band errors, which the engine reports per line
// rather than through the call's error return.
func PushImage(ctx context.Context, reference string, auth AuthConfig) error {
	encoded, err := auth.Encode()
	if err != nil {
		return err
	}

	reader, err := dockerCli.ImagePush(ctx, reference, image.PushOptions{RegistryAuth: encoded})
	if err != nil {
		return fmt.Errorf("error pushing image %s: %w", reference, err)
	}
	defer reader.Close()

	scanner := bufio.NewScanner(reader)
	for scanner.Scan() {
		var message struct {
			Status      string `json:"status"`
			Error       string `json:"error"`
			ErrorDetail struct {
				Message string `json:"message"`
			} `json:"errorDetail"`
		}
		if err := json.Unmarshal(scanner.Bytes(), &message); err != nil {
			continue
		}
		if message.Error != "" {
			detail := message.Error
			if message.ErrorDetail.Message != "" {
				detail = message.ErrorDetail.Message
			}
			return fmt.Errorf("push of %s failed: %s", reference, detail)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("error reading push response: %w", err)
	}

	log.Debug("image pushed", "image", reference)
	return nil
}

// CheckIfImageExists reports whether an image reference resolves locally.
func CheckIfImageExists(ctx context.Context, reference string) (bool, error) {
	images, err := dockerCli.ImageList(ctx, image.ListOptions{})
	if err != nil {
		return false, fmt.Errorf("error listing images: %w", err)
	}
	for _, img := range images {
		for _, repoTag := range img.RepoTags {
			if repoTag == reference || strings.TrimPrefix(repoTag, "docker.io/") == reference {
				return true, nil
			}
		}
	}
	return false, nil
}
