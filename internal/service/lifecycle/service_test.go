package lifecycle

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/hacker-cb/docklite/internal/compose"
	"github.com/hacker-cb/docklite/internal/domain"
	"github.com/hacker-cb/docklite/internal/errdefs"
	"github.com/hacker-cb/docklite/internal/repository"
	"github.com/hacker-cb/docklite/internal/runtime"
	"github.com/hacker-cb/docklite/internal/service/access"
	"github.com/hacker-cb/docklite/pkg/config"
)

const testCompose = `
services:
  web:
    image: nginx
    expose:
      - "8080"
  worker:
    image: busybox
`

type memoryProjectRepository struct {
	mu       sync.Mutex
	projects map[string]domain.Project
}

func newMemoryProjectRepository() *memoryProjectRepository {
	return &memoryProjectRepository{projects: make(map[string]domain.Project)}
}

func (m *memoryProjectRepository) CreateProject(ctx context.Context, project *domain.Project) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.projects {
		if existing.Domain == project.Domain || (existing.OwnerID == project.OwnerID && existing.Name == project.Name) {
			return repository.ErrDuplicate
		}
	}
	m.projects[project.ID] = *project
	return nil
}

func (m *memoryProjectRepository) GetProjectByID(ctx context.Context, id string) (*domain.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if project, ok := m.projects[id]; ok {
		return &project, nil
	}
	return nil, repository.ErrNotFound
}

func (m *memoryProjectRepository) GetProjectByDomain(ctx context.Context, domainName string) (*domain.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, project := range m.projects {
		if project.Domain == domainName {
			return &project, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m *memoryProjectRepository) ListProjects(ctx context.Context) ([]domain.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var all []domain.Project
	for _, project := range m.projects {
		all = append(all, project)
	}
	return all, nil
}

func (m *memoryProjectRepository) ListProjectsByOwner(ctx context.Context, ownerID string) ([]domain.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var owned []domain.Project
	for _, project := range m.projects {
		if project.OwnerID == ownerID {
			owned = append(owned, project)
		}
	}
	return owned, nil
}

func (m *memoryProjectRepository) UpdateProject(ctx context.Context, project *domain.Project) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.projects[project.ID]; !ok {
		return repository.ErrNotFound
	}
	m.projects[project.ID] = *project
	return nil
}

func (m *memoryProjectRepository) UpdateProjectStatus(ctx context.Context, id string, status domain.ProjectStatus, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	project, ok := m.projects[id]
	if !ok {
		return repository.ErrNotFound
	}
	project.Status = status
	project.StatusReason = reason
	m.projects[id] = project
	return nil
}

func (m *memoryProjectRepository) DeleteProject(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.projects[id]; !ok {
		return repository.ErrNotFound
	}
	delete(m.projects, id)
	return nil
}

func (m *memoryProjectRepository) CountProjectsByOwner(ctx context.Context, ownerID string) (int, error) {
	owned, _ := m.ListProjectsByOwner(ctx, ownerID)
	return len(owned), nil
}

func (m *memoryProjectRepository) status(t *testing.T, id string) (domain.ProjectStatus, string) {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	project, ok := m.projects[id]
	if !ok {
		t.Fatalf("project %s missing", id)
	}
	return project.Status, project.StatusReason
}

type fakeAdapter struct {
	mu         sync.Mutex
	containers map[string]domain.Container
	failStart  map[string]error
	failCreate error
	listErr    error
	removed    []string
}

func newFakeAdapter() *fakeAdapter {
	return &fakeAdapter{
		containers: make(map[string]domain.Container),
		failStart:  make(map[string]error),
	}
}

func (f *fakeAdapter) List(ctx context.Context, filter runtime.Filter) ([]domain.Container, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []domain.Container
	for _, ctr := range f.containers {
		if filter.ProjectID != "" && ctr.ProjectID != filter.ProjectID {
			continue
		}
		if filter.ManagedOnly && ctr.ProjectID == "" {
			continue
		}
		if filter.Running && !ctr.Running() {
			continue
		}
		out = append(out, ctr)
	}
	return out, nil
}

func (f *fakeAdapter) Create(ctx context.Context, project runtime.ProjectRef, def compose.Definition, env map[string]string) ([]domain.Container, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failCreate != nil {
		return nil, f.failCreate
	}
	var created []domain.Container
	for _, name := range def.ServiceNames {
		ctr := domain.Container{
			ID:        "ctr-" + project.ID + "-" + name,
			Name:      "dl-" + name,
			ProjectID: project.ID,
			Service:   name,
			State:     "created",
			Address:   "10.0.0.2",
		}
		f.containers[ctr.ID] = ctr
		created = append(created, ctr)
	}
	return created, nil
}

func (f *fakeAdapter) Start(ctx context.Context, containerID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failStart[containerID]; err != nil {
		return err
	}
	ctr, ok := f.containers[containerID]
	if !ok {
		return errdefs.NotFound("container not found")
	}
	ctr.State = "running"
	f.containers[containerID] = ctr
	return nil
}

func (f *fakeAdapter) Stop(ctx context.Context, containerID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	ctr, ok := f.containers[containerID]
	if !ok {
		return errdefs.NotFound("container not found")
	}
	ctr.State = "exited"
	f.containers[containerID] = ctr
	return nil
}

func (f *fakeAdapter) Restart(ctx context.Context, containerID string) error {
	return f.Start(ctx, containerID)
}

func (f *fakeAdapter) Remove(ctx context.Context, containerID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.containers, containerID)
	f.removed = append(f.removed, containerID)
	return nil
}

func (f *fakeAdapter) Logs(ctx context.Context, containerID string, tail int) (string, error) {
	return "", nil
}

func (f *fakeAdapter) Stats(ctx context.Context, containerID string) (domain.ContainerStats, error) {
	return domain.ContainerStats{}, nil
}

func (f *fakeAdapter) Ping(ctx context.Context) error { return nil }

func (f *fakeAdapter) state(t *testing.T, containerID string) string {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	ctr, ok := f.containers[containerID]
	if !ok {
		t.Fatalf("container %s missing", containerID)
	}
	return ctr.State
}

type recordingSyncer struct {
	mu       sync.Mutex
	syncs    int
	last     []domain.Route
	failWith error
}

func (r *recordingSyncer) Sync(ctx context.Context, routes []domain.Route) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failWith != nil {
		return r.failWith
	}
	r.syncs++
	r.last = append([]domain.Route(nil), routes...)
	return nil
}

func (r *recordingSyncer) Routes() []domain.Route {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.Route(nil), r.last...)
}

func newTestService(t *testing.T) (*Service, *memoryProjectRepository, *fakeAdapter, *recordingSyncer) {
	t.Helper()
	repo := newMemoryProjectRepository()
	adapter := newFakeAdapter()
	syncer := &recordingSyncer{}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := config.EngineConfig{
		EnvEncryptionKey: "unit-test-key",
		LifecycleWorkers: 2,
	}
	svc := New(repo, adapter, syncer, access.New(repo, log), nil, NewLocks(), log, cfg)
	svc.now = func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) }
	return svc, repo, adapter, syncer
}

func createProject(t *testing.T, svc *Service, owner string) *domain.Project {
	t.Helper()
	project, err := svc.Create(context.Background(), domain.Principal{UserID: owner}, CreateInput{
		Name:           "blog",
		Domain:         "blog.example.com",
		ComposeContent: testCompose,
		EnvVars:        map[string]string{"API_KEY": "secret-1"},
	})
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	return project
}

func TestCreateValidation(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	principal := domain.Principal{UserID: "alice"}

	cases := []struct {
		name  string
		input CreateInput
	}{
		{"missing name", CreateInput{Domain: "a.example.com", ComposeContent: testCompose}},
		{"bad domain", CreateInput{Name: "x", Domain: "not valid", ComposeContent: testCompose}},
		{"bad compose", CreateInput{Name: "x", Domain: "a.example.com", ComposeContent: "nope"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Create(context.Background(), principal, tc.input)
			if !errdefs.IsKind(err, errdefs.KindValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
}

func TestCreateDuplicateDomainConflicts(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	createProject(t, svc, "alice")

	_, err := svc.Create(context.Background(), domain.Principal{UserID: "bob"}, CreateInput{
		Name:           "other",
		Domain:         "Blog.Example.Com",
		ComposeContent: testCompose,
	})
	if !errdefs.IsKind(err, errdefs.KindConflict) {
		t.Fatalf("expected conflict for duplicate domain, got %v", err)
	}
}

func TestEnvVarsRoundTrip(t *testing.T) {
	svc, repo, _, _ := newTestService(t)
	project := createProject(t, svc, "alice")

	stored, _ := repo.GetProjectByID(context.Background(), project.ID)
	if len(stored.EnvCipher) == 0 {
		t.Fatal("environment must be stored encrypted")
	}
	if string(stored.EnvCipher) == `{"API_KEY":"secret-1"}` {
		t.Fatal("environment stored in plaintext")
	}

	envVars, err := svc.EnvVars(context.Background(), domain.Principal{UserID: "alice"}, project.ID)
	if err != nil {
		t.Fatalf("EnvVars returned error: %v", err)
	}
	if envVars["API_KEY"] != "secret-1" {
		t.Fatalf("unexpected env vars: %v", envVars)
	}
}

func TestStartRejectedWhileLockHeld(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	project := createProject(t, svc, "alice")

	if !svc.Locks().TryAcquire(project.ID) {
		t.Fatal("failed to acquire lock for test setup")
	}
	defer svc.Locks().Release(project.ID)

	_, err := svc.Start(context.Background(), domain.Principal{UserID: "alice"}, project.ID)
	if !errdefs.IsKind(err, errdefs.KindAlreadyInProgress) {
		t.Fatalf("expected already-in-progress, got %v", err)
	}
}

func TestStartRejectedFromTransitionalStatus(t *testing.T) {
	svc, repo, _, _ := newTestService(t)
	project := createProject(t, svc, "alice")

	for _, status := range []domain.ProjectStatus{domain.StatusStarting, domain.StatusRunning, domain.StatusStopping} {
		if err := repo.UpdateProjectStatus(context.Background(), project.ID, status, ""); err != nil {
			t.Fatalf("status update failed: %v", err)
		}
		_, err := svc.Start(context.Background(), domain.Principal{UserID: "alice"}, project.ID)
		if !errdefs.IsKind(err, errdefs.KindAlreadyInProgress) {
			t.Fatalf("status %s: expected already-in-progress, got %v", status, err)
		}
	}
}

func TestRunStartBringsProjectUp(t *testing.T) {
	svc, repo, adapter, syncer := newTestService(t)
	project := createProject(t, svc, "alice")

	def, err := compose.Parse(project.ComposeContent)
	if err != nil {
		t.Fatalf("parse compose: %v", err)
	}
	svc.runStart(context.Background(), *project, def, nil)

	status, reason := repo.status(t, project.ID)
	if status != domain.StatusRunning || reason != "" {
		t.Fatalf("expected running, got %s (%q)", status, reason)
	}
	if got := adapter.state(t, "ctr-"+project.ID+"-web"); got != "running" {
		t.Fatalf("web container not running: %s", got)
	}
	if got := adapter.state(t, "ctr-"+project.ID+"-worker"); got != "running" {
		t.Fatalf("worker container not running: %s", got)
	}

	routes := syncer.Routes()
	if len(routes) != 1 {
		t.Fatalf("expected one route after start, got %v", routes)
	}
	if routes[0].Domain != "blog.example.com" || routes[0].Port != 8080 {
		t.Fatalf("unexpected route: %+v", routes[0])
	}
}

func TestRunStartPartialFailureLeavesSurvivors(t *testing.T) {
	svc, repo, adapter, _ := newTestService(t)
	project := createProject(t, svc, "alice")
	adapter.failStart["ctr-"+project.ID+"-worker"] = errors.New("image broken")

	def, _ := compose.Parse(project.ComposeContent)
	svc.runStart(context.Background(), *project, def, nil)

	status, reason := repo.status(t, project.ID)
	if status != domain.StatusError {
		t.Fatalf("expected error status, got %s", status)
	}
	if reason == "" {
		t.Fatal("expected failure reason to be recorded")
	}
	// The service that did come up stays up.
	if got := adapter.state(t, "ctr-"+project.ID+"-web"); got != "running" {
		t.Fatalf("surviving container must keep running, got %s", got)
	}
}

func TestRunStopStopsContainers(t *testing.T) {
	svc, repo, adapter, syncer := newTestService(t)
	project := createProject(t, svc, "alice")
	def, _ := compose.Parse(project.ComposeContent)
	svc.runStart(context.Background(), *project, def, nil)

	svc.runStop(context.Background(), project.ID)

	status, _ := repo.status(t, project.ID)
	if status != domain.StatusStopped {
		t.Fatalf("expected stopped, got %s", status)
	}
	if got := adapter.state(t, "ctr-"+project.ID+"-web"); got != "exited" {
		t.Fatalf("expected exited container, got %s", got)
	}
	if routes := syncer.Routes(); len(routes) != 0 {
		t.Fatalf("route must be withdrawn after stop, got %v", routes)
	}
}

func TestStopRejectedBeforeFirstStart(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	project := createProject(t, svc, "alice")

	_, err := svc.Stop(context.Background(), domain.Principal{UserID: "alice"}, project.ID)
	if !errdefs.IsKind(err, errdefs.KindInvalidTransition) {
		t.Fatalf("expected invalid transition, got %v", err)
	}
}

func TestDeleteRejectedWhileRunning(t *testing.T) {
	svc, repo, _, _ := newTestService(t)
	project := createProject(t, svc, "alice")
	_ = repo.UpdateProjectStatus(context.Background(), project.ID, domain.StatusRunning, "")

	err := svc.Delete(context.Background(), domain.Principal{UserID: "alice"}, project.ID)
	if !errdefs.IsKind(err, errdefs.KindInvalidTransition) {
		t.Fatalf("expected invalid transition, got %v", err)
	}
}

func TestDeleteRemovesContainersAndRecord(t *testing.T) {
	svc, repo, adapter, _ := newTestService(t)
	project := createProject(t, svc, "alice")
	def, _ := compose.Parse(project.ComposeContent)
	svc.runStart(context.Background(), *project, def, nil)
	svc.runStop(context.Background(), project.ID)

	if err := svc.Delete(context.Background(), domain.Principal{UserID: "alice"}, project.ID); err != nil {
		t.Fatalf("Delete returned error: %v", err)
	}
	if _, err := repo.GetProjectByID(context.Background(), project.ID); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("project record should be gone, got %v", err)
	}
	if len(adapter.removed) != 2 {
		t.Fatalf("expected both containers removed, got %v", adapter.removed)
	}
}

func TestDeleteHiddenForForeignOwner(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	project := createProject(t, svc, "alice")

	err := svc.Delete(context.Background(), domain.Principal{UserID: "mallory"}, project.ID)
	if !errdefs.IsKind(err, errdefs.KindNotFound) {
		t.Fatalf("foreign delete must read as not found, got %v", err)
	}
}

func TestUpdateReValidatesDomain(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	project := createProject(t, svc, "alice")

	bad := "under_score.example.com"
	_, err := svc.Update(context.Background(), domain.Principal{UserID: "alice"}, project.ID, UpdateInput{Domain: &bad})
	if !errdefs.IsKind(err, errdefs.KindValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestLocksAreNonBlocking(t *testing.T) {
	locks := NewLocks()
	if !locks.TryAcquire("p1") {
		t.Fatal("first acquire should succeed")
	}
	if locks.TryAcquire("p1") {
		t.Fatal("second acquire must fail while held")
	}
	if !locks.TryAcquire("p2") {
		t.Fatal("independent project must not be blocked")
	}
	locks.Release("p1")
	if !locks.TryAcquire("p1") {
		t.Fatal("acquire after release should succeed")
	}
}
