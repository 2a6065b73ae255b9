// Package lifecycle owns project state transitions: it validates definitions,
// drives the runtime adapter, and keeps recorded status in step with the
// containers it manages.
package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/hacker-cb/docklite/internal/compose"
	"github.com/hacker-cb/docklite/internal/domain"
	"github.com/hacker-cb/docklite/internal/errdefs"
	"github.com/hacker-cb/docklite/internal/repository"
	"github.com/hacker-cb/docklite/internal/runtime"
	"github.com/hacker-cb/docklite/internal/service/access"
	"github.com/hacker-cb/docklite/pkg/config"
	"github.com/hacker-cb/docklite/pkg/crypto"
)

// transitionTimeout bounds one start/stop run, image pulls included.
const transitionTimeout = 5 * time.Minute

var transitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "docklite_project_transitions_total",
	Help: "Recorded project status transitions, by resulting status.",
}, []string{"status"})

// RouteSyncer applies the authoritative route set to the reverse proxy.
type RouteSyncer interface {
	Sync(ctx context.Context, routes []domain.Route) error
	Routes() []domain.Route
}

// StatusNotifier receives project status transitions.
type StatusNotifier interface {
	NotifyStatus(projectID string, status domain.ProjectStatus, reason string)
}

// CreateInput encapsulates project creation attributes.
type CreateInput struct {
	Name           string
	Domain         string
	ComposeContent string
	EnvVars        map[string]string
}

// UpdateInput carries optional project updates; nil fields are left unchanged.
type UpdateInput struct {
	Name           *string
	Domain         *string
	ComposeContent *string
	EnvVars        map[string]string
}

// Service is the project lifecycle state machine.
type Service struct {
	projects repository.ProjectRepository
	adapter  runtime.Adapter
	routes   RouteSyncer
	access   access.Service
	notifier StatusNotifier
	locks    *Locks
	logger   *slog.Logger
	cfg      config.EngineConfig

	// workers bounds concurrent transitions across projects.
	workers chan struct{}

	now func() time.Time
}

// New returns a lifecycle service.
func New(projects repository.ProjectRepository, adapter runtime.Adapter, routes RouteSyncer, accessSvc access.Service, notifier StatusNotifier, locks *Locks, logger *slog.Logger, cfg config.EngineConfig) *Service {
	if locks == nil {
		locks = NewLocks()
	}
	poolSize := cfg.LifecycleWorkers
	if poolSize <= 0 {
		poolSize = 4
	}
	if logger != nil {
		logger = logger.With("component", "lifecycle")
	}
	return &Service{
		projects: projects,
		adapter:  adapter,
		routes:   routes,
		access:   accessSvc,
		notifier: notifier,
		locks:    locks,
		logger:   logger,
		cfg:      cfg,
		workers:  make(chan struct{}, poolSize),
		now:      time.Now,
	}
}

// Locks exposes the per-project lock table so the reconciler serializes
// against operator-triggered transitions.
func (s *Service) Locks() *Locks { return s.locks }

// Create validates and persists a new project in the created state. No
// containers are started.
func (s *Service) Create(ctx context.Context, principal domain.Principal, input CreateInput) (*domain.Project, error) {
	if input.Name == "" {
		return nil, errdefs.ValidationFields("project name is required",
			map[string]string{"name": "name is required"})
	}
	if err := compose.ValidateDomain(input.Domain); err != nil {
		return nil, err
	}
	if _, err := compose.Parse(input.ComposeContent); err != nil {
		return nil, err
	}

	domainName := compose.NormalizeDomain(input.Domain)
	if err := s.checkDomainFree(ctx, domainName, ""); err != nil {
		return nil, err
	}

	cipher, err := s.encryptEnv(input.EnvVars)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	project := &domain.Project{
		ID:             uuid.NewString(),
		OwnerID:        principal.UserID,
		Name:           input.Name,
		Domain:         domainName,
		ComposeContent: input.ComposeContent,
		EnvCipher:      cipher,
		Status:         domain.StatusCreated,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.projects.CreateProject(ctx, project); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, errdefs.Conflict("project with domain %q or name %q already exists", domainName, input.Name)
		}
		return nil, err
	}
	s.logger.Info("project created", "project_id", project.ID, "owner_id", project.OwnerID, "domain", project.Domain)
	return project, nil
}

// Update applies partial changes to a project's definition, domain, name or
// environment; compose and domain changes are re-validated.
func (s *Service) Update(ctx context.Context, principal domain.Principal, projectID string, input UpdateInput) (*domain.Project, error) {
	project, err := s.access.GetProject(ctx, principal, projectID)
	if err != nil {
		return nil, err
	}
	if input.ComposeContent != nil {
		if _, err := compose.Parse(*input.ComposeContent); err != nil {
			return nil, err
		}
		project.ComposeContent = *input.ComposeContent
	}
	if input.Domain != nil {
		domainName := compose.NormalizeDomain(*input.Domain)
		if domainName != project.Domain {
			if err := compose.ValidateDomain(domainName); err != nil {
				return nil, err
			}
			if err := s.checkDomainFree(ctx, domainName, project.ID); err != nil {
				return nil, err
			}
			project.Domain = domainName
		}
	}
	if input.Name != nil && *input.Name != "" {
		project.Name = *input.Name
	}
	if input.EnvVars != nil {
		cipher, err := s.encryptEnv(input.EnvVars)
		if err != nil {
			return nil, err
		}
		project.EnvCipher = cipher
	}
	project.UpdatedAt = s.now().UTC()
	if err := s.projects.UpdateProject(ctx, project); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, errdefs.Conflict("project with domain %q already exists", project.Domain)
		}
		return nil, err
	}
	return project, nil
}

// EnvVars returns the decrypted environment mapping for a project.
func (s *Service) EnvVars(ctx context.Context, principal domain.Principal, projectID string) (map[string]string, error) {
	project, err := s.access.GetProject(ctx, principal, projectID)
	if err != nil {
		return nil, err
	}
	return s.decryptEnv(project.EnvCipher)
}

// UpdateEnvVars replaces the project's environment mapping.
func (s *Service) UpdateEnvVars(ctx context.Context, principal domain.Principal, projectID string, envVars map[string]string) error {
	project, err := s.access.GetProject(ctx, principal, projectID)
	if err != nil {
		return err
	}
	cipher, err := s.encryptEnv(envVars)
	if err != nil {
		return err
	}
	project.EnvCipher = cipher
	project.UpdatedAt = s.now().UTC()
	return s.projects.UpdateProject(ctx, project)
}

func (s *Service) checkDomainFree(ctx context.Context, domainName, excludeID string) error {
	existing, err := s.projects.GetProjectByDomain(ctx, domainName)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil
		}
		return err
	}
	if existing.ID == excludeID {
		return nil
	}
	return errdefs.Conflict("project with domain %q already exists", domainName)
}

func (s *Service) encryptEnv(envVars map[string]string) ([]byte, error) {
	if len(envVars) == 0 {
		return nil, nil
	}
	payload, err := json.Marshal(envVars)
	if err != nil {
		return nil, err
	}
	return crypto.EncryptString(s.cfg.EnvEncryptionKey, string(payload))
}

func (s *Service) decryptEnv(cipher []byte) (map[string]string, error) {
	if len(cipher) == 0 {
		return map[string]string{}, nil
	}
	plain, err := crypto.DecryptToString(s.cfg.EnvEncryptionKey, cipher)
	if err != nil {
		return nil, err
	}
	envVars := make(map[string]string)
	if err := json.Unmarshal([]byte(plain), &envVars); err != nil {
		return nil, err
	}
	return envVars, nil
}

func (s *Service) setStatus(ctx context.Context, projectID string, status domain.ProjectStatus, reason string) {
	if err := s.projects.UpdateProjectStatus(ctx, projectID, status, reason); err != nil {
		s.logger.Error("failed to record project status", "project_id", projectID, "status", status, "error", err)
		return
	}
	transitionsTotal.WithLabelValues(string(status)).Inc()
	if s.notifier != nil {
		s.notifier.NotifyStatus(projectID, status, reason)
	}
}
