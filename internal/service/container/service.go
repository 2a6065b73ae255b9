// Package container exposes read and mutation operations on individual
// containers, with ownership and system-container rules enforced.
package container

import (
	"context"

	"log/slog"

	"github.com/hacker-cb/docklite/internal/domain"
	"github.com/hacker-cb/docklite/internal/errdefs"
	"github.com/hacker-cb/docklite/internal/runtime"
	"github.com/hacker-cb/docklite/internal/service/access"
)

// Service mediates container access through the visibility filter.
type Service struct {
	adapter runtime.Adapter
	access  access.Service
	logger  *slog.Logger
}

// New constructs a Service.
func New(adapter runtime.Adapter, accessSvc access.Service, logger *slog.Logger) Service {
	return Service{adapter: adapter, access: accessSvc, logger: logger}
}

// List returns containers visible to the principal. Admins may opt into
// seeing system containers; regular users never see them.
func (s Service) List(ctx context.Context, principal domain.Principal, includeSystem bool) ([]domain.Container, error) {
	containers, err := s.adapter.List(ctx, runtime.Filter{})
	if err != nil {
		return nil, err
	}
	return s.access.VisibleContainers(ctx, principal, containers, includeSystem)
}

// Get returns a single container by id, subject to visibility rules.
func (s Service) Get(ctx context.Context, principal domain.Principal, containerID string) (*domain.Container, error) {
	ctr, err := s.find(ctx, containerID)
	if err != nil {
		return nil, err
	}
	visible, err := s.access.VisibleContainers(ctx, principal, []domain.Container{*ctr}, true)
	if err != nil {
		return nil, err
	}
	if len(visible) == 0 {
		return nil, errdefs.NotFound("container not found")
	}
	return &visible[0], nil
}

// Start starts a container after authorization.
func (s Service) Start(ctx context.Context, principal domain.Principal, containerID string) error {
	ctr, err := s.authorize(ctx, principal, containerID, "start")
	if err != nil {
		return err
	}
	return s.adapter.Start(ctx, ctr.ID)
}

// Stop stops a container after authorization.
func (s Service) Stop(ctx context.Context, principal domain.Principal, containerID string) error {
	ctr, err := s.authorize(ctx, principal, containerID, "stop")
	if err != nil {
		return err
	}
	return s.adapter.Stop(ctx, ctr.ID)
}

// Restart restarts a container after authorization.
func (s Service) Restart(ctx context.Context, principal domain.Principal, containerID string) error {
	ctr, err := s.authorize(ctx, principal, containerID, "restart")
	if err != nil {
		return err
	}
	return s.adapter.Restart(ctx, ctr.ID)
}

// Remove deletes a container after authorization. Managed containers are
// normally removed through their project's lifecycle; removing one directly
// leaves the project record to be repaired by the next reconcile pass.
func (s Service) Remove(ctx context.Context, principal domain.Principal, containerID string) error {
	ctr, err := s.authorize(ctx, principal, containerID, "remove")
	if err != nil {
		return err
	}
	return s.adapter.Remove(ctx, ctr.ID)
}

// Logs returns the tail of a container's log stream.
func (s Service) Logs(ctx context.Context, principal domain.Principal, containerID string, tail int) (string, error) {
	if _, err := s.Get(ctx, principal, containerID); err != nil {
		return "", err
	}
	return s.adapter.Logs(ctx, containerID, tail)
}

// Stats returns a resource usage snapshot for a container.
func (s Service) Stats(ctx context.Context, principal domain.Principal, containerID string) (domain.ContainerStats, error) {
	if _, err := s.Get(ctx, principal, containerID); err != nil {
		return domain.ContainerStats{}, err
	}
	return s.adapter.Stats(ctx, containerID)
}

func (s Service) authorize(ctx context.Context, principal domain.Principal, containerID, action string) (*domain.Container, error) {
	ctr, err := s.find(ctx, containerID)
	if err != nil {
		return nil, err
	}
	if err := s.access.AuthorizeContainerMutation(ctx, principal, *ctr, action); err != nil {
		return nil, err
	}
	return ctr, nil
}

func (s Service) find(ctx context.Context, containerID string) (*domain.Container, error) {
	containers, err := s.adapter.List(ctx, runtime.Filter{})
	if err != nil {
		return nil, err
	}
	for i := range containers {
		if containers[i].ID == containerID || containers[i].Name == containerID {
			return &containers[i], nil
		}
	}
	return nil, errdefs.NotFound("container not found")
}
