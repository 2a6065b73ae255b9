package container

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/hacker-cb/docklite/internal/compose"
	"github.com/hacker-cb/docklite/internal/domain"
	"github.com/hacker-cb/docklite/internal/errdefs"
	"github.com/hacker-cb/docklite/internal/repository"
	"github.com/hacker-cb/docklite/internal/runtime"
	"github.com/hacker-cb/docklite/internal/service/access"
)

type stubProjectRepository struct {
	projects map[string]domain.Project
}

func (s *stubProjectRepository) CreateProject(ctx context.Context, project *domain.Project) error {
	return nil
}

func (s *stubProjectRepository) GetProjectByID(ctx context.Context, id string) (*domain.Project, error) {
	if project, ok := s.projects[id]; ok {
		return &project, nil
	}
	return nil, repository.ErrNotFound
}

func (s *stubProjectRepository) GetProjectByDomain(ctx context.Context, domainName string) (*domain.Project, error) {
	return nil, repository.ErrNotFound
}

func (s *stubProjectRepository) ListProjects(ctx context.Context) ([]domain.Project, error) {
	return nil, nil
}

func (s *stubProjectRepository) ListProjectsByOwner(ctx context.Context, ownerID string) ([]domain.Project, error) {
	var owned []domain.Project
	for _, project := range s.projects {
		if project.OwnerID == ownerID {
			owned = append(owned, project)
		}
	}
	return owned, nil
}

func (s *stubProjectRepository) UpdateProject(ctx context.Context, project *domain.Project) error {
	return nil
}

func (s *stubProjectRepository) UpdateProjectStatus(ctx context.Context, id string, status domain.ProjectStatus, reason string) error {
	return nil
}

func (s *stubProjectRepository) DeleteProject(ctx context.Context, id string) error { return nil }

func (s *stubProjectRepository) CountProjectsByOwner(ctx context.Context, ownerID string) (int, error) {
	return 0, nil
}

type stubAdapter struct {
	containers []domain.Container
	stopped    []string
	removed    []string
}

func (s *stubAdapter) List(ctx context.Context, filter runtime.Filter) ([]domain.Container, error) {
	return append([]domain.Container(nil), s.containers...), nil
}

func (s *stubAdapter) Create(ctx context.Context, project runtime.ProjectRef, def compose.Definition, env map[string]string) ([]domain.Container, error) {
	return nil, nil
}

func (s *stubAdapter) Start(ctx context.Context, containerID string) error { return nil }

func (s *stubAdapter) Stop(ctx context.Context, containerID string) error {
	s.stopped = append(s.stopped, containerID)
	return nil
}

func (s *stubAdapter) Restart(ctx context.Context, containerID string) error { return nil }

func (s *stubAdapter) Remove(ctx context.Context, containerID string) error {
	s.removed = append(s.removed, containerID)
	return nil
}

func (s *stubAdapter) Logs(ctx context.Context, containerID string, tail int) (string, error) {
	return "line one\nline two\n", nil
}

func (s *stubAdapter) Stats(ctx context.Context, containerID string) (domain.ContainerStats, error) {
	return domain.ContainerStats{}, nil
}

func (s *stubAdapter) Ping(ctx context.Context) error { return nil }

func newTestService() (Service, *stubAdapter) {
	repo := &stubProjectRepository{projects: map[string]domain.Project{
		"p-alice": {ID: "p-alice", OwnerID: "alice"},
		"p-bob":   {ID: "p-bob", OwnerID: "bob"},
	}}
	adapter := &stubAdapter{containers: []domain.Container{
		{ID: "c1", Name: "dl-p-alice-web", ProjectID: "p-alice", Service: "web", State: "running"},
		{ID: "c2", Name: "dl-p-bob-web", ProjectID: "p-bob", Service: "web", State: "running"},
		{ID: "c3", Name: "docklite-proxy", IsSystem: true, State: "running"},
	}}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(adapter, access.New(repo, log), log), adapter
}

func TestListFiltersByOwnership(t *testing.T) {
	svc, _ := newTestService()

	visible, err := svc.List(context.Background(), domain.Principal{UserID: "alice"}, true)
	if err != nil {
		t.Fatalf("List returned error: %v", err)
	}
	if len(visible) != 1 || visible[0].ID != "c1" {
		t.Fatalf("expected only owned container, got %+v", visible)
	}

	adminVisible, err := svc.List(context.Background(), domain.Principal{UserID: "root", IsAdmin: true}, true)
	if err != nil {
		t.Fatalf("List returned error: %v", err)
	}
	if len(adminVisible) != 3 {
		t.Fatalf("admin with opt-in sees everything, got %+v", adminVisible)
	}
}

func TestGetHidesForeignContainer(t *testing.T) {
	svc, _ := newTestService()

	if _, err := svc.Get(context.Background(), domain.Principal{UserID: "alice"}, "c1"); err != nil {
		t.Fatalf("owner lookup failed: %v", err)
	}
	_, err := svc.Get(context.Background(), domain.Principal{UserID: "alice"}, "c2")
	if !errdefs.IsKind(err, errdefs.KindNotFound) {
		t.Fatalf("foreign container must read as not found, got %v", err)
	}
	if _, err := svc.Get(context.Background(), domain.Principal{UserID: "alice"}, "unknown"); !errdefs.IsKind(err, errdefs.KindNotFound) {
		t.Fatalf("unknown container must be not found, got %v", err)
	}
}

func TestGetResolvesByName(t *testing.T) {
	svc, _ := newTestService()
	ctr, err := svc.Get(context.Background(), domain.Principal{UserID: "root", IsAdmin: true}, "docklite-proxy")
	if err != nil {
		t.Fatalf("Get by name failed: %v", err)
	}
	if ctr.ID != "c3" {
		t.Fatalf("unexpected container: %+v", ctr)
	}
}

func TestStopSystemContainerRequiresAdmin(t *testing.T) {
	svc, adapter := newTestService()

	err := svc.Stop(context.Background(), domain.Principal{UserID: "alice"}, "c3")
	if !errdefs.IsKind(err, errdefs.KindForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	if len(adapter.stopped) != 0 {
		t.Fatalf("adapter must not be called, got %v", adapter.stopped)
	}

	if err := svc.Stop(context.Background(), domain.Principal{UserID: "root", IsAdmin: true}, "c3"); err != nil {
		t.Fatalf("admin stop of system container should succeed, got %v", err)
	}
	if len(adapter.stopped) != 1 || adapter.stopped[0] != "c3" {
		t.Fatalf("expected c3 stopped, got %v", adapter.stopped)
	}
}

func TestRemoveEnforcesOwnership(t *testing.T) {
	svc, adapter := newTestService()

	err := svc.Remove(context.Background(), domain.Principal{UserID: "alice"}, "c2")
	if !errdefs.IsKind(err, errdefs.KindForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	if len(adapter.removed) != 0 {
		t.Fatalf("adapter must not be called, got %v", adapter.removed)
	}

	if err := svc.Remove(context.Background(), domain.Principal{UserID: "alice"}, "c1"); err != nil {
		t.Fatalf("owner remove failed: %v", err)
	}
	if len(adapter.removed) != 1 || adapter.removed[0] != "c1" {
		t.Fatalf("expected c1 removed, got %v", adapter.removed)
	}
}
