package ingress

import (
	"context"
	"fmt"
	"strings"

	"github.com/docker/docker/client"
	dockererr "github.com/docker/docker/errdefs"
)

// dockerReloader triggers proxy reloads by signalling a Docker container.
type dockerReloader struct {
	client    *client.Client
	container string
}

// NewDockerReloader signals the named proxy container with SIGHUP on reload.
func NewDockerReloader(containerName string) (Reloader, error) {
	containerName = strings.TrimSpace(containerName)
	if containerName == "" {
		return nil, fmt.Errorf("container name required")
	}
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, err
	}
	return &dockerReloader{client: cli, container: containerName}, nil
}

func (r *dockerReloader) Reload(ctx context.Context) error {
	if err := r.client.ContainerKill(ctx, r.container, "HUP"); err != nil {
		if dockererr.IsNotFound(err) {
			return fmt.Errorf("proxy container %s not found", r.container)
		}
		return err
	}
	return nil
}

func (r *dockerReloader) Close() error {
	return r.client.Close()
}

// NoopReloader is used when no proxy container is configured, e.g. when the
// proxy watches the config directory itself.
type NoopReloader struct{}

func (NoopReloader) Reload(context.Context) error { return nil }
func (NoopReloader) Close() error                 { return nil }
