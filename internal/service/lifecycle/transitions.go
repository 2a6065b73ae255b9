package lifecycle

import (
	"context"
	"fmt"
	"strings"

	"github.com/hacker-cb/docklite/internal/compose"
	"github.com/hacker-cb/docklite/internal/domain"
	"github.com/hacker-cb/docklite/internal/errdefs"
	"github.com/hacker-cb/docklite/internal/ingress"
	"github.com/hacker-cb/docklite/internal/runtime"
)

// Start transitions a project to starting and brings its containers up in the
// background. The returned project reflects the starting state; completion is
// observed through status polling or the event stream.
func (s *Service) Start(ctx context.Context, principal domain.Principal, projectID string) (*domain.Project, error) {
	project, err := s.access.GetProject(ctx, principal, projectID)
	if err != nil {
		return nil, err
	}
	def, err := compose.Parse(project.ComposeContent)
	if err != nil {
		return nil, err
	}
	env, err := s.decryptEnv(project.EnvCipher)
	if err != nil {
		return nil, err
	}
	switch project.Status {
	case domain.StatusStarting, domain.StatusRunning, domain.StatusStopping:
		return nil, errdefs.AlreadyInProgress("project is %s", project.Status)
	}
	if !s.locks.TryAcquire(project.ID) {
		return nil, errdefs.AlreadyInProgress("another operation is in progress for this project")
	}

	s.setStatus(ctx, project.ID, domain.StatusStarting, "")
	project.Status = domain.StatusStarting
	project.StatusReason = ""

	snapshot := *project
	s.spawn(project.ID, func(opCtx context.Context) {
		s.runStart(opCtx, snapshot, def, env)
	})
	return project, nil
}

// Stop transitions a project to stopping and halts its containers in the
// background. Containers are stopped, not removed.
func (s *Service) Stop(ctx context.Context, principal domain.Principal, projectID string) (*domain.Project, error) {
	project, err := s.access.GetProject(ctx, principal, projectID)
	if err != nil {
		return nil, err
	}
	switch project.Status {
	case domain.StatusCreated:
		return nil, errdefs.InvalidTransition("project has never been started")
	case domain.StatusStopped:
		return nil, errdefs.InvalidTransition("project is already stopped")
	case domain.StatusStopping:
		return nil, errdefs.AlreadyInProgress("project is already stopping")
	}
	if !s.locks.TryAcquire(project.ID) {
		return nil, errdefs.AlreadyInProgress("another operation is in progress for this project")
	}

	s.setStatus(ctx, project.ID, domain.StatusStopping, "")
	project.Status = domain.StatusStopping
	project.StatusReason = ""

	projectID = project.ID
	s.spawn(projectID, func(opCtx context.Context) {
		s.runStop(opCtx, projectID)
	})
	return project, nil
}

// Restart restarts a project's containers. Permitted from running, and from
// error as the retry path back to a healthy state.
func (s *Service) Restart(ctx context.Context, principal domain.Principal, projectID string) (*domain.Project, error) {
	project, err := s.access.GetProject(ctx, principal, projectID)
	if err != nil {
		return nil, err
	}
	switch project.Status {
	case domain.StatusRunning, domain.StatusError:
	case domain.StatusStarting, domain.StatusStopping:
		return nil, errdefs.AlreadyInProgress("project is %s", project.Status)
	default:
		return nil, errdefs.InvalidTransition("cannot restart a project in status %s", project.Status)
	}
	def, err := compose.Parse(project.ComposeContent)
	if err != nil {
		return nil, err
	}
	env, err := s.decryptEnv(project.EnvCipher)
	if err != nil {
		return nil, err
	}
	if !s.locks.TryAcquire(project.ID) {
		return nil, errdefs.AlreadyInProgress("another operation is in progress for this project")
	}

	s.setStatus(ctx, project.ID, domain.StatusStarting, "")
	project.Status = domain.StatusStarting
	project.StatusReason = ""

	snapshot := *project
	s.spawn(project.ID, func(opCtx context.Context) {
		s.runStart(opCtx, snapshot, def, env)
	})
	return project, nil
}

// Delete removes a project's containers, its route, and finally the record.
// Only permitted from created, stopped or error.
func (s *Service) Delete(ctx context.Context, principal domain.Principal, projectID string) error {
	project, err := s.access.GetProject(ctx, principal, projectID)
	if err != nil {
		return err
	}
	switch project.Status {
	case domain.StatusCreated, domain.StatusStopped, domain.StatusError:
	default:
		return errdefs.InvalidTransition("cannot delete a project in status %s; stop it first", project.Status)
	}
	if !s.locks.TryAcquire(project.ID) {
		return errdefs.AlreadyInProgress("another operation is in progress for this project")
	}
	defer s.locks.Release(project.ID)

	containers, err := s.adapter.List(ctx, runtime.Filter{ProjectID: project.ID})
	if err != nil {
		return err
	}
	for _, ctr := range containers {
		if err := s.adapter.Remove(ctx, ctr.ID); err != nil {
			return fmt.Errorf("remove container %s: %w", ctr.Name, err)
		}
	}
	if err := s.projects.DeleteProject(ctx, project.ID); err != nil {
		return err
	}
	if err := s.syncRoutes(ctx); err != nil {
		s.logger.Warn("route sync after delete failed", "project_id", project.ID, "error", err)
	}
	s.logger.Info("project deleted", "project_id", project.ID, "domain", project.Domain)
	return nil
}

// spawn runs a transition on the bounded worker pool. The project lock is
// released on every exit path once the transition completes.
func (s *Service) spawn(projectID string, fn func(context.Context)) {
	go func() {
		s.workers <- struct{}{}
		defer func() { <-s.workers }()
		defer s.locks.Release(projectID)

		opCtx, cancel := context.WithTimeout(context.Background(), transitionTimeout)
		defer cancel()
		fn(opCtx)
	}()
}

func (s *Service) runStart(ctx context.Context, project domain.Project, def compose.Definition, env map[string]string) {
	existing, err := s.adapter.List(ctx, runtime.Filter{ProjectID: project.ID})
	if err != nil {
		s.setStatus(ctx, project.ID, domain.StatusError, err.Error())
		return
	}
	byService := make(map[string]domain.Container, len(existing))
	for _, ctr := range existing {
		byService[ctr.Service] = ctr
	}

	var failures []string
	missing := compose.Definition{Services: make(map[string]compose.Service)}
	for _, name := range def.ServiceNames {
		if _, ok := byService[name]; ok {
			continue
		}
		missing.Services[name] = def.Services[name]
		missing.ServiceNames = append(missing.ServiceNames, name)
	}
	if len(missing.ServiceNames) > 0 {
		ref := runtime.ProjectRef{ID: project.ID, Domain: project.Domain}
		created, err := s.adapter.Create(ctx, ref, missing, env)
		for _, ctr := range created {
			byService[ctr.Service] = ctr
		}
		if err != nil {
			failures = append(failures, fmt.Sprintf("create: %v", err))
		}
	}

	for _, name := range def.ServiceNames {
		ctr, ok := byService[name]
		if !ok {
			continue
		}
		if err := s.adapter.Start(ctx, ctr.ID); err != nil {
			failures = append(failures, fmt.Sprintf("%s: %v", name, err))
		}
	}

	if len(failures) > 0 {
		// Succeeded services stay up; tearing down is the operator's call.
		reason := "start failed: " + strings.Join(failures, "; ")
		s.setStatus(ctx, project.ID, domain.StatusError, reason)
		s.logger.Error("project start failed", "project_id", project.ID, "reason", reason)
		return
	}

	s.setStatus(ctx, project.ID, domain.StatusRunning, "")
	s.logger.Info("project started", "project_id", project.ID, "domain", project.Domain, "services", len(def.ServiceNames))

	if err := s.syncRoutes(ctx); err != nil {
		// Containers are up; only routing is degraded. Surface it on the
		// project, next reconciliation pass retries.
		s.setStatus(ctx, project.ID, domain.StatusRunning, "routing sync failed: "+err.Error())
		s.logger.Warn("route sync after start failed", "project_id", project.ID, "error", err)
	}
}

func (s *Service) runStop(ctx context.Context, projectID string) {
	containers, err := s.adapter.List(ctx, runtime.Filter{ProjectID: projectID})
	if err != nil {
		s.setStatus(ctx, projectID, domain.StatusError, err.Error())
		return
	}

	var failures []string
	for _, ctr := range containers {
		if !ctr.Running() {
			continue
		}
		if err := s.adapter.Stop(ctx, ctr.ID); err != nil {
			failures = append(failures, fmt.Sprintf("%s: %v", ctr.Service, err))
		}
	}

	if len(failures) > 0 {
		reason := "stop failed: " + strings.Join(failures, "; ")
		s.setStatus(ctx, projectID, domain.StatusError, reason)
		s.logger.Error("project stop failed", "project_id", projectID, "reason", reason)
		return
	}

	s.setStatus(ctx, projectID, domain.StatusStopped, "")
	s.logger.Info("project stopped", "project_id", projectID)

	if err := s.syncRoutes(ctx); err != nil {
		s.logger.Warn("route sync after stop failed", "project_id", projectID, "error", err)
	}
}

// syncRoutes recomputes the full route table from live containers and applies
// it. Routes are derived, never edited in place.
func (s *Service) syncRoutes(ctx context.Context) error {
	if s.routes == nil {
		return nil
	}
	projects, err := s.projects.ListProjects(ctx)
	if err != nil {
		return err
	}
	containers, err := s.adapter.List(ctx, runtime.Filter{ManagedOnly: true, Running: true})
	if err != nil {
		return err
	}
	return s.routes.Sync(ctx, ingress.BuildRoutes(projects, containers))
}
