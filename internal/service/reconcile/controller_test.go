package reconcile

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/hacker-cb/docklite/internal/compose"
	"github.com/hacker-cb/docklite/internal/domain"
	"github.com/hacker-cb/docklite/internal/repository"
	"github.com/hacker-cb/docklite/internal/runtime"
	"github.com/hacker-cb/docklite/internal/service/lifecycle"
	"github.com/hacker-cb/docklite/pkg/config"
)

const testCompose = "services:\n  web:\n    image: nginx\n"

type stubProjectRepository struct {
	mu       sync.Mutex
	projects map[string]domain.Project
}

func (s *stubProjectRepository) CreateProject(ctx context.Context, project *domain.Project) error {
	return nil
}

func (s *stubProjectRepository) GetProjectByID(ctx context.Context, id string) (*domain.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if project, ok := s.projects[id]; ok {
		return &project, nil
	}
	return nil, repository.ErrNotFound
}

func (s *stubProjectRepository) GetProjectByDomain(ctx context.Context, domainName string) (*domain.Project, error) {
	return nil, repository.ErrNotFound
}

func (s *stubProjectRepository) ListProjects(ctx context.Context) ([]domain.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var all []domain.Project
	for _, project := range s.projects {
		all = append(all, project)
	}
	return all, nil
}

func (s *stubProjectRepository) ListProjectsByOwner(ctx context.Context, ownerID string) ([]domain.Project, error) {
	return nil, nil
}

func (s *stubProjectRepository) UpdateProject(ctx context.Context, project *domain.Project) error {
	return nil
}

func (s *stubProjectRepository) UpdateProjectStatus(ctx context.Context, id string, status domain.ProjectStatus, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	project, ok := s.projects[id]
	if !ok {
		return repository.ErrNotFound
	}
	project.Status = status
	project.StatusReason = reason
	s.projects[id] = project
	return nil
}

func (s *stubProjectRepository) DeleteProject(ctx context.Context, id string) error { return nil }

func (s *stubProjectRepository) CountProjectsByOwner(ctx context.Context, ownerID string) (int, error) {
	return 0, nil
}

func (s *stubProjectRepository) status(t *testing.T, id string) domain.ProjectStatus {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	project, ok := s.projects[id]
	if !ok {
		t.Fatalf("project %s missing", id)
	}
	return project.Status
}

type stubAdapter struct {
	mu         sync.Mutex
	containers map[string]domain.Container
	failStart  map[string]error
	listErr    error
	started    []string
	removed    []string
}

func newStubAdapter() *stubAdapter {
	return &stubAdapter{containers: make(map[string]domain.Container), failStart: make(map[string]error)}
}

func (s *stubAdapter) List(ctx context.Context, filter runtime.Filter) ([]domain.Container, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	var out []domain.Container
	for _, ctr := range s.containers {
		if filter.ProjectID != "" && ctr.ProjectID != filter.ProjectID {
			continue
		}
		if filter.ManagedOnly && ctr.ProjectID == "" && !ctr.IsSystem {
			continue
		}
		if filter.Running && !ctr.Running() {
			continue
		}
		out = append(out, ctr)
	}
	return out, nil
}

func (s *stubAdapter) Create(ctx context.Context, project runtime.ProjectRef, def compose.Definition, env map[string]string) ([]domain.Container, error) {
	return nil, nil
}

func (s *stubAdapter) Start(ctx context.Context, containerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = append(s.started, containerID)
	if err := s.failStart[containerID]; err != nil {
		return err
	}
	ctr := s.containers[containerID]
	ctr.State = "running"
	s.containers[containerID] = ctr
	return nil
}

func (s *stubAdapter) Stop(ctx context.Context, containerID string) error    { return nil }
func (s *stubAdapter) Restart(ctx context.Context, containerID string) error { return nil }

func (s *stubAdapter) Remove(ctx context.Context, containerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.containers, containerID)
	s.removed = append(s.removed, containerID)
	return nil
}

func (s *stubAdapter) Logs(ctx context.Context, containerID string, tail int) (string, error) {
	return "", nil
}

func (s *stubAdapter) Stats(ctx context.Context, containerID string) (domain.ContainerStats, error) {
	return domain.ContainerStats{}, nil
}

func (s *stubAdapter) Ping(ctx context.Context) error { return nil }

type noopSyncer struct{}

func (noopSyncer) Sync(ctx context.Context, routes []domain.Route) error { return nil }
func (noopSyncer) Routes() []domain.Route                                { return nil }

func newTestController(repo *stubProjectRepository, adapter *stubAdapter) (*Controller, *lifecycle.Locks) {
	locks := lifecycle.NewLocks()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := config.EngineConfig{RestartBudget: 1}
	return New(repo, adapter, noopSyncer{}, locks, nil, log, cfg), locks
}

func TestRunPassRestartsExitedContainer(t *testing.T) {
	repo := &stubProjectRepository{projects: map[string]domain.Project{
		"p1": {ID: "p1", Status: domain.StatusRunning, ComposeContent: testCompose},
	}}
	adapter := newStubAdapter()
	adapter.containers["c1"] = domain.Container{ID: "c1", ProjectID: "p1", Service: "web", State: "exited"}
	ctl, _ := newTestController(repo, adapter)

	if err := ctl.RunPass(context.Background()); err != nil {
		t.Fatalf("RunPass returned error: %v", err)
	}
	if len(adapter.started) != 1 || adapter.started[0] != "c1" {
		t.Fatalf("expected c1 restarted, got %v", adapter.started)
	}
	if got := repo.status(t, "p1"); got != domain.StatusRunning {
		t.Fatalf("project should stay running, got %s", got)
	}
}

func TestRunPassMarksErrorAfterBudgetExhausted(t *testing.T) {
	repo := &stubProjectRepository{projects: map[string]domain.Project{
		"p1": {ID: "p1", Status: domain.StatusRunning, ComposeContent: testCompose},
	}}
	adapter := newStubAdapter()
	adapter.containers["c1"] = domain.Container{ID: "c1", ProjectID: "p1", Service: "web", State: "exited"}
	adapter.failStart["c1"] = errors.New("entrypoint crashes")
	ctl, _ := newTestController(repo, adapter)

	// First pass spends the restart budget.
	if err := ctl.RunPass(context.Background()); err != nil {
		t.Fatalf("first pass returned error: %v", err)
	}
	if got := repo.status(t, "p1"); got != domain.StatusRunning {
		t.Fatalf("project should still read running after first attempt, got %s", got)
	}

	// Second pass finds the service still down and gives up.
	if err := ctl.RunPass(context.Background()); err != nil {
		t.Fatalf("second pass returned error: %v", err)
	}
	if got := repo.status(t, "p1"); got != domain.StatusError {
		t.Fatalf("expected error status after budget exhausted, got %s", got)
	}
}

func TestRunPassRestartCounterResetsWhenHealthy(t *testing.T) {
	repo := &stubProjectRepository{projects: map[string]domain.Project{
		"p1": {ID: "p1", Status: domain.StatusRunning, ComposeContent: testCompose},
	}}
	adapter := newStubAdapter()
	adapter.containers["c1"] = domain.Container{ID: "c1", ProjectID: "p1", Service: "web", State: "exited"}
	ctl, _ := newTestController(repo, adapter)

	// Restart succeeds, next pass observes healthy and clears the counter.
	if err := ctl.RunPass(context.Background()); err != nil {
		t.Fatalf("first pass returned error: %v", err)
	}
	if err := ctl.RunPass(context.Background()); err != nil {
		t.Fatalf("second pass returned error: %v", err)
	}
	if ctl.restarts["p1"] != 0 {
		t.Fatalf("restart counter should reset on healthy pass, got %d", ctl.restarts["p1"])
	}
}

func TestRunPassBackfillsObservedRunningState(t *testing.T) {
	repo := &stubProjectRepository{projects: map[string]domain.Project{
		"p1": {ID: "p1", Status: domain.StatusStopped, ComposeContent: testCompose},
	}}
	adapter := newStubAdapter()
	adapter.containers["c1"] = domain.Container{ID: "c1", ProjectID: "p1", Service: "web", State: "running"}
	ctl, _ := newTestController(repo, adapter)

	if err := ctl.RunPass(context.Background()); err != nil {
		t.Fatalf("RunPass returned error: %v", err)
	}
	if got := repo.status(t, "p1"); got != domain.StatusRunning {
		t.Fatalf("expected status back-filled to running, got %s", got)
	}
}

func TestRunPassHoldsErrorWhilePartiallyRunning(t *testing.T) {
	multiCompose := "services:\n  web:\n    image: nginx\n  worker:\n    image: worker\n"
	repo := &stubProjectRepository{projects: map[string]domain.Project{
		"p1": {ID: "p1", Status: domain.StatusError, StatusReason: "services keep exiting: worker", ComposeContent: multiCompose},
	}}
	adapter := newStubAdapter()
	adapter.containers["c1"] = domain.Container{ID: "c1", ProjectID: "p1", Service: "web", State: "running"}
	adapter.containers["c2"] = domain.Container{ID: "c2", ProjectID: "p1", Service: "worker", State: "exited"}
	adapter.failStart["c2"] = errors.New("entrypoint crashes")
	ctl, _ := newTestController(repo, adapter)
	ctl.restarts["p1"] = 1

	// The error verdict must hold across passes while only part of the
	// project is up, instead of flapping through running and back.
	for pass := 0; pass < 6; pass++ {
		if err := ctl.RunPass(context.Background()); err != nil {
			t.Fatalf("pass %d returned error: %v", pass, err)
		}
		if got := repo.status(t, "p1"); got != domain.StatusError {
			t.Fatalf("pass %d: expected error to hold, got %s", pass, got)
		}
	}
	if len(adapter.started) != 0 {
		t.Fatalf("no repair attempts expected for an error project, got %v", adapter.started)
	}
}

func TestRunPassPromotesErrorWhenFullyRunning(t *testing.T) {
	multiCompose := "services:\n  web:\n    image: nginx\n  worker:\n    image: worker\n"
	repo := &stubProjectRepository{projects: map[string]domain.Project{
		"p1": {ID: "p1", Status: domain.StatusError, ComposeContent: multiCompose},
	}}
	adapter := newStubAdapter()
	adapter.containers["c1"] = domain.Container{ID: "c1", ProjectID: "p1", Service: "web", State: "running"}
	adapter.containers["c2"] = domain.Container{ID: "c2", ProjectID: "p1", Service: "worker", State: "running"}
	ctl, _ := newTestController(repo, adapter)
	ctl.restarts["p1"] = 1

	if err := ctl.RunPass(context.Background()); err != nil {
		t.Fatalf("RunPass returned error: %v", err)
	}
	if got := repo.status(t, "p1"); got != domain.StatusRunning {
		t.Fatalf("fully healthy project should be promoted to running, got %s", got)
	}
	if ctl.restarts["p1"] != 0 {
		t.Fatalf("restart counter should be cleared on promotion, got %d", ctl.restarts["p1"])
	}
}

func TestRunPassRemovesOrphanedContainers(t *testing.T) {
	repo := &stubProjectRepository{projects: map[string]domain.Project{}}
	adapter := newStubAdapter()
	adapter.containers["c9"] = domain.Container{ID: "c9", ProjectID: "ghost", Service: "web", State: "running"}
	ctl, _ := newTestController(repo, adapter)

	if err := ctl.RunPass(context.Background()); err != nil {
		t.Fatalf("RunPass returned error: %v", err)
	}
	if len(adapter.removed) != 1 || adapter.removed[0] != "c9" {
		t.Fatalf("expected orphan c9 removed, got %v", adapter.removed)
	}
}

func TestRunPassSkipsLockedProjects(t *testing.T) {
	repo := &stubProjectRepository{projects: map[string]domain.Project{
		"p1": {ID: "p1", Status: domain.StatusRunning, ComposeContent: testCompose},
	}}
	adapter := newStubAdapter()
	adapter.containers["c1"] = domain.Container{ID: "c1", ProjectID: "p1", Service: "web", State: "exited"}
	ctl, locks := newTestController(repo, adapter)

	if !locks.TryAcquire("p1") {
		t.Fatal("failed to acquire lock for test setup")
	}
	defer locks.Release("p1")

	if err := ctl.RunPass(context.Background()); err != nil {
		t.Fatalf("RunPass returned error: %v", err)
	}
	if len(adapter.started) != 0 {
		t.Fatalf("locked project must be skipped, got restarts %v", adapter.started)
	}
	if got := repo.status(t, "p1"); got != domain.StatusRunning {
		t.Fatalf("locked project status must be untouched, got %s", got)
	}
}

func TestRunPassReportsEngineOutage(t *testing.T) {
	repo := &stubProjectRepository{projects: map[string]domain.Project{}}
	adapter := newStubAdapter()
	adapter.listErr = errors.New("cannot connect to the engine socket")
	ctl, _ := newTestController(repo, adapter)

	if err := ctl.RunPass(context.Background()); err == nil {
		t.Fatal("expected error when engine is unreachable")
	}
}
