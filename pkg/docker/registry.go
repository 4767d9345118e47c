package docker

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/docker/docker/api/types/registry"
)

// AuthConfig holds push credentials for a registry.
type AuthConfig struct {
	Username      string
	Password      string
	ServerAddress string
}

// Encode serializes the credentials into the base64 header value the engine
// API expects.
func (a AuthConfig) Encode() (string, error) {
	cfg := registry.AuthConfig{
		Username:      a.Username,
		Password:      a.Password,
		ServerAddress: a.ServerAddress,
	}
	data, err := json.Marshal(cfg)
	if err != nil {
		return "", fmt.Errorf("error encoding registry auth: %w", err)
	}
	return base64.URLEncoding.EncodeToString(data), nil
}

// QualifyReference prefixes an image reference with the registry host and
// optional namespace prefix, unless it already names a registry.
func QualifyReference(reference, registryURL, prefix string) string {
	host := strings.TrimSuffix(strings.TrimPrefix(strings.TrimPrefix(registryURL, "https://"), "http://"), "/")
	if host == "" {
		return reference
	}

	// Already qualified: the first path segment looks like a host.
	first := strings.SplitN(reference, "/", 2)[0]
	if strings.ContainsAny(first, ".:") {
		return reference
	}

	if prefix != "" {
		return fmt.Sprintf("%s/%s/%s", host, strings.Trim(prefix, "/"), reference)
	}
	return fmt.Sprintf("%s/%s", host, reference)
}
