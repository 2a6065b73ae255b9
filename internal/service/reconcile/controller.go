// Package reconcile keeps recorded project state and live containers
// converged: it restarts exited services within a budget, back-fills status
// drift, garbage-collects orphaned containers and re-applies the route table.
package reconcile

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/hacker-cb/docklite/internal/compose"
	"github.com/hacker-cb/docklite/internal/domain"
	"github.com/hacker-cb/docklite/internal/errdefs"
	"github.com/hacker-cb/docklite/internal/ingress"
	"github.com/hacker-cb/docklite/internal/repository"
	"github.com/hacker-cb/docklite/internal/runtime"
	"github.com/hacker-cb/docklite/internal/service/lifecycle"
	"github.com/hacker-cb/docklite/pkg/config"
)

var (
	passesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "docklite_reconcile_passes_total",
		Help: "Completed reconciliation passes.",
	})
	passErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "docklite_reconcile_pass_errors_total",
		Help: "Reconciliation passes aborted because the container engine was unreachable.",
	})
	restartsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "docklite_reconcile_restarts_total",
		Help: "Containers restarted by the reconciler.",
	})
	orphansRemovedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "docklite_reconcile_orphans_removed_total",
		Help: "Orphaned containers removed by the reconciler.",
	})
	driftRepairedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "docklite_reconcile_status_drift_total",
		Help: "Project status records corrected from observed container state.",
	})
)

// Controller runs the periodic reconciliation loop. It shares the lifecycle
// lock table so it never races an in-flight operator transition.
type Controller struct {
	projects repository.ProjectRepository
	adapter  runtime.Adapter
	routes   lifecycle.RouteSyncer
	locks    *lifecycle.Locks
	notifier lifecycle.StatusNotifier
	logger   *slog.Logger
	cfg      config.EngineConfig

	// restarts counts consecutive repair attempts per project; reset once the
	// project is observed fully healthy.
	restarts map[string]int

	now func() time.Time
}

func New(projects repository.ProjectRepository, adapter runtime.Adapter, routes lifecycle.RouteSyncer, locks *lifecycle.Locks, notifier lifecycle.StatusNotifier, logger *slog.Logger, cfg config.EngineConfig) *Controller {
	if logger != nil {
		logger = logger.With("component", "reconciler")
	}
	return &Controller{
		projects: projects,
		adapter:  adapter,
		routes:   routes,
		locks:    locks,
		notifier: notifier,
		logger:   logger,
		cfg:      cfg,
		restarts: make(map[string]int),
		now:      time.Now,
	}
}

// Run executes reconciliation passes until ctx is cancelled. When the engine
// is unreachable the interval backs off exponentially, capped at eight times
// the configured interval.
func (c *Controller) Run(ctx context.Context) {
	interval := c.cfg.ReconcileInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	maxInterval := 8 * interval

	current := interval
	timer := time.NewTimer(current)
	defer timer.Stop()

	c.logger.Info("reconciler started", "interval", interval.String())
	for {
		select {
		case <-ctx.Done():
			c.logger.Info("reconciler stopped")
			return
		case <-timer.C:
		}

		if err := c.RunPass(ctx); err != nil {
			passErrorsTotal.Inc()
			current *= 2
			if current > maxInterval {
				current = maxInterval
			}
			c.logger.Warn("reconciliation pass failed", "error", err, "next_in", current.String())
		} else {
			current = interval
		}
		timer.Reset(current)
	}
}

// RunPass performs a single reconciliation pass. It returns an error only
// when the pass could not observe state at all; per-project repair failures
// are recorded on the projects themselves.
func (c *Controller) RunPass(ctx context.Context) error {
	projects, err := c.projects.ListProjects(ctx)
	if err != nil {
		return err
	}
	containers, err := c.adapter.List(ctx, runtime.Filter{ManagedOnly: true})
	if err != nil {
		return err
	}

	known := make(map[string]domain.Project, len(projects))
	for _, p := range projects {
		known[p.ID] = p
	}
	byProject := make(map[string][]domain.Container)
	for _, ctr := range containers {
		if ctr.IsSystem {
			continue
		}
		byProject[ctr.ProjectID] = append(byProject[ctr.ProjectID], ctr)
	}

	c.removeOrphans(ctx, known, byProject)

	for _, project := range projects {
		c.reconcileProject(ctx, project, byProject[project.ID])
	}

	if err := c.syncRoutes(ctx); err != nil {
		c.logger.Warn("route sync failed during reconciliation", "error", err)
	}

	passesTotal.Inc()
	return nil
}

// removeOrphans deletes labeled containers whose project record no longer
// exists, typically left behind by a crash between removal and record delete.
func (c *Controller) removeOrphans(ctx context.Context, known map[string]domain.Project, byProject map[string][]domain.Container) {
	for projectID, ctrs := range byProject {
		if _, ok := known[projectID]; ok {
			continue
		}
		for _, ctr := range ctrs {
			if err := c.adapter.Remove(ctx, ctr.ID); err != nil {
				c.logger.Warn("failed to remove orphaned container", "container", ctr.Name, "project_id", projectID, "error", err)
				continue
			}
			orphansRemovedTotal.Inc()
			c.logger.Info("removed orphaned container", "container", ctr.Name, "project_id", projectID)
		}
		delete(byProject, projectID)
	}
}

func (c *Controller) reconcileProject(ctx context.Context, project domain.Project, ctrs []domain.Container) {
	// In-flight transitions own the project; pick it up next pass.
	if !c.locks.TryAcquire(project.ID) {
		return
	}
	defer c.locks.Release(project.ID)

	switch project.Status {
	case domain.StatusRunning:
		c.repairRunning(ctx, project, ctrs)
	case domain.StatusStopped, domain.StatusCreated, domain.StatusError:
		c.backfill(ctx, project, ctrs)
	}
}

// repairRunning restarts exited containers of a running project, up to the
// restart budget; past the budget the project is marked error.
func (c *Controller) repairRunning(ctx context.Context, project domain.Project, ctrs []domain.Container) {
	def, err := compose.Parse(project.ComposeContent)
	if err != nil {
		// Definition was valid at create time; treat as unrepairable.
		c.setStatus(ctx, project.ID, domain.StatusError, "stored definition no longer parses: "+err.Error())
		return
	}

	byService := make(map[string]domain.Container, len(ctrs))
	for _, ctr := range ctrs {
		byService[ctr.Service] = ctr
	}

	var down []string
	for _, name := range def.ServiceNames {
		ctr, ok := byService[name]
		if !ok || !ctr.Running() {
			down = append(down, name)
		}
	}
	if len(down) == 0 {
		delete(c.restarts, project.ID)
		return
	}

	budget := c.cfg.RestartBudget
	if budget <= 0 {
		budget = 1
	}
	if c.restarts[project.ID] >= budget {
		c.setStatus(ctx, project.ID, domain.StatusError, "services keep exiting: "+down[0])
		c.logger.Warn("restart budget exhausted", "project_id", project.ID, "services", down)
		return
	}
	c.restarts[project.ID]++

	for _, name := range down {
		ctr, ok := byService[name]
		if !ok {
			c.logger.Warn("service container missing, skipping repair", "project_id", project.ID, "service", name)
			continue
		}
		if err := c.adapter.Start(ctx, ctr.ID); err != nil {
			if errdefs.IsKind(err, errdefs.KindNotFound) {
				continue
			}
			c.logger.Warn("failed to restart container", "project_id", project.ID, "service", name, "error", err)
			continue
		}
		restartsTotal.Inc()
		c.logger.Info("restarted exited container", "project_id", project.ID, "service", name, "attempt", c.restarts[project.ID])
	}
}

// backfill corrects recorded status when containers were started or stopped
// behind the engine's back. An error record is an explicit verdict: it is
// promoted back to running only when every service in the definition is
// observed healthy, so a partially-up project holds error until an operator
// retries instead of flapping between error and running each pass.
func (c *Controller) backfill(ctx context.Context, project domain.Project, ctrs []domain.Container) {
	byService := make(map[string]domain.Container, len(ctrs))
	anyRunning := false
	for _, ctr := range ctrs {
		byService[ctr.Service] = ctr
		if ctr.Running() {
			anyRunning = true
		}
	}
	if !anyRunning {
		return
	}
	if project.Status == domain.StatusError {
		def, err := compose.Parse(project.ComposeContent)
		if err != nil {
			return
		}
		for _, name := range def.ServiceNames {
			ctr, ok := byService[name]
			if !ok || !ctr.Running() {
				return
			}
		}
		delete(c.restarts, project.ID)
	}
	c.setStatus(ctx, project.ID, domain.StatusRunning, "")
	driftRepairedTotal.Inc()
	c.logger.Info("status corrected from observed containers", "project_id", project.ID, "was", project.Status)
}

func (c *Controller) syncRoutes(ctx context.Context) error {
	if c.routes == nil {
		return nil
	}
	projects, err := c.projects.ListProjects(ctx)
	if err != nil {
		return err
	}
	containers, err := c.adapter.List(ctx, runtime.Filter{ManagedOnly: true, Running: true})
	if err != nil {
		return err
	}
	return c.routes.Sync(ctx, ingress.BuildRoutes(projects, containers))
}

func (c *Controller) setStatus(ctx context.Context, projectID string, status domain.ProjectStatus, reason string) {
	if err := c.projects.UpdateProjectStatus(ctx, projectID, status, reason); err != nil {
		c.logger.Error("failed to record project status", "project_id", projectID, "status", status, "error", err)
		return
	}
	if c.notifier != nil {
		c.notifier.NotifyStatus(projectID, status, reason)
	}
}
