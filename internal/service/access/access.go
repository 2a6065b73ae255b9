// Package access computes the visible and operable subset of projects and
// containers for a principal, and guards system containers from non-admin
// mutation.
package access

import (
	"context"
	"errors"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/hacker-cb/docklite/internal/domain"
	"github.com/hacker-cb/docklite/internal/errdefs"
	"github.com/hacker-cb/docklite/internal/repository"
)

// System containers back the platform itself, so admin mutations of them are
// worth alerting on separately from ordinary container operations.
var systemMutationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "docklite_system_container_mutations_total",
	Help: "Admin-initiated mutations of system containers.",
}, []string{"action"})

// Service implements ownership and visibility policy.
type Service struct {
	projects repository.ProjectRepository
	logger   *slog.Logger
}

// New returns an access service.
func New(projects repository.ProjectRepository, logger *slog.Logger) Service {
	return Service{projects: projects, logger: logger}
}

// VisibleProjects returns every project the principal may see.
func (s Service) VisibleProjects(ctx context.Context, principal domain.Principal) ([]domain.Project, error) {
	if principal.IsAdmin {
		return s.projects.ListProjects(ctx)
	}
	return s.projects.ListProjectsByOwner(ctx, principal.UserID)
}

// GetProject fetches a project the principal may see. Projects owned by other
// users are reported as not found, not forbidden, so listings and lookups
// agree on what exists.
func (s Service) GetProject(ctx context.Context, principal domain.Principal, projectID string) (*domain.Project, error) {
	project, err := s.projects.GetProjectByID(ctx, projectID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, errdefs.NotFound("project %s not found", projectID)
		}
		return nil, err
	}
	if !principal.IsAdmin && project.OwnerID != principal.UserID {
		return nil, errdefs.NotFound("project %s not found", projectID)
	}
	return project, nil
}

// VisibleContainers filters a container inventory down to what the principal
// may see. System containers are excluded for non-admins regardless of
// includeSystem; admins must opt in explicitly.
func (s Service) VisibleContainers(ctx context.Context, principal domain.Principal, containers []domain.Container, includeSystem bool) ([]domain.Container, error) {
	if principal.IsAdmin {
		visible := make([]domain.Container, 0, len(containers))
		for _, ctr := range containers {
			if ctr.IsSystem && !includeSystem {
				continue
			}
			visible = append(visible, ctr)
		}
		return visible, nil
	}

	owned, err := s.projects.ListProjectsByOwner(ctx, principal.UserID)
	if err != nil {
		return nil, err
	}
	ownedIDs := make(map[string]struct{}, len(owned))
	for _, project := range owned {
		ownedIDs[project.ID] = struct{}{}
	}

	visible := make([]domain.Container, 0, len(containers))
	for _, ctr := range containers {
		if ctr.IsSystem {
			continue
		}
		if _, ok := ownedIDs[ctr.ProjectID]; !ok {
			continue
		}
		visible = append(visible, ctr)
	}
	return visible, nil
}

// AuthorizeContainerMutation checks whether the principal may mutate the
// container. Admin mutation of a system container is permitted but logged
// distinctly; stopping a platform container is operationally significant.
func (s Service) AuthorizeContainerMutation(ctx context.Context, principal domain.Principal, ctr domain.Container, action string) error {
	if ctr.IsSystem {
		if !principal.IsAdmin {
			return errdefs.Forbidden("system containers are immutable to non-admin users")
		}
		systemMutationsTotal.WithLabelValues(action).Inc()
		if s.logger != nil {
			s.logger.Warn("system container mutated",
				"action", action,
				"container_id", ctr.ID,
				"container_name", ctr.Name,
				"user_id", principal.UserID)
		}
		return nil
	}
	if principal.IsAdmin {
		return nil
	}
	project, err := s.projects.GetProjectByID(ctx, ctr.ProjectID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return errdefs.NotFound("container %s not found", ctr.ID)
		}
		return err
	}
	if project.OwnerID != principal.UserID {
		return errdefs.Forbidden("container belongs to another user's project")
	}
	return nil
}
