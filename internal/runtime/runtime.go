// Package runtime defines the capability boundary to the local container
// engine. Implementations carry no business policy; they translate between
// engine-native state and the domain model.
package runtime

import (
	"context"

	"github.com/hacker-cb/docklite/internal/compose"
	"github.com/hacker-cb/docklite/internal/domain"
)

// Filter narrows a container listing.
type Filter struct {
	// ProjectID restricts results to one project's containers.
	ProjectID string
	// ManagedOnly restricts results to containers carrying the engine's
	// management label. When false the full host inventory is returned,
	// system containers included.
	ManagedOnly bool
	// Running restricts results to live containers.
	Running bool
}

// ProjectRef carries the engine-independent project attributes an adapter
// needs to label and route containers.
type ProjectRef struct {
	ID     string
	Domain string
}

// Adapter is the polymorphic interface over the container engine. Every call
// may block on engine I/O and can fail with an errdefs Unavailable, NotFound
// or Timeout error.
type Adapter interface {
	List(ctx context.Context, filter Filter) ([]domain.Container, error)
	Create(ctx context.Context, project ProjectRef, def compose.Definition, env map[string]string) ([]domain.Container, error)
	Start(ctx context.Context, containerID string) error
	Stop(ctx context.Context, containerID string) error
	Restart(ctx context.Context, containerID string) error
	Remove(ctx context.Context, containerID string) error
	Logs(ctx context.Context, containerID string, tail int) (string, error)
	Stats(ctx context.Context, containerID string) (domain.ContainerStats, error)
	Ping(ctx context.Context) error
}
