// Package httpx wires the engine's HTTP API to its services.
package httpx

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"log/slog"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hacker-cb/docklite/internal/domain"
	"github.com/hacker-cb/docklite/internal/errdefs"
	"github.com/hacker-cb/docklite/internal/preset"
	"github.com/hacker-cb/docklite/internal/service/access"
	"github.com/hacker-cb/docklite/internal/service/auth"
	"github.com/hacker-cb/docklite/internal/service/container"
	"github.com/hacker-cb/docklite/internal/service/lifecycle"
	"github.com/hacker-cb/docklite/internal/service/user"
	"github.com/hacker-cb/docklite/internal/ws"
)

// Router wires HTTP endpoints to services.
type Router struct {
	mux        *http.ServeMux
	logger     *slog.Logger
	auth       auth.Service
	users      user.Service
	projects   *lifecycle.Service
	containers container.Service
	access     access.Service
	routes     lifecycle.RouteSyncer
	hub        *ws.Hub
	upgrader   websocket.Upgrader
	limiter    RateLimiter
	dbHealth   func(context.Context) error
	engPing    func(context.Context) error

	metricsOnce        sync.Once
	metricsInitialized bool
	requestTotal       *prometheus.CounterVec
	requestLatency     *prometheus.HistogramVec
	rateLimitHits      *prometheus.CounterVec
}

const (
	rateWindowDefault  = time.Minute
	rateWindowRealtime = 30 * time.Second
	rateLimitSetup     = 5
	rateLimitLogin     = 12
	rateLimitUserWrite = 60
	rateLimitUserRead  = 120
	rateLimitWebsocket = 30
	healthCheckTimeout = 2 * time.Second
	defaultLogTail     = 100
)

// NewRouter assembles routes with dependencies.
func NewRouter(logger *slog.Logger, authSvc auth.Service, userSvc user.Service, projectSvc *lifecycle.Service, containerSvc container.Service, accessSvc access.Service, routes lifecycle.RouteSyncer, hub *ws.Hub, limiter RateLimiter, dbHealth, engPing func(context.Context) error) *Router {
	r := &Router{
		mux:        http.NewServeMux(),
		logger:     logger,
		auth:       authSvc,
		users:      userSvc,
		projects:   projectSvc,
		containers: containerSvc,
		access:     accessSvc,
		routes:     routes,
		hub:        hub,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		limiter:  limiter,
		dbHealth: dbHealth,
		engPing:  engPing,
	}
	if r.limiter == nil {
		r.limiter = NewMemoryRateLimiter()
	}
	r.initMetrics()
	r.register()
	return r
}

// ServeHTTP delegates to underlying mux.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// Close releases background resources.
func (r *Router) Close() {
	if r.limiter != nil {
		r.limiter.Close()
	}
}

func (r *Router) register() {
	r.mux.HandleFunc("/healthz", r.audit(r.handleHealthz))
	r.mux.Handle("/metrics", promhttp.Handler())
	r.mux.HandleFunc("/auth/setup", r.audit(r.withRateLimit("/auth/setup", rateLimitSetup, rateWindowDefault, rateLimitKeyIP, r.handleSetup)))
	r.mux.HandleFunc("/auth/login", r.audit(r.withRateLimit("/auth/login", rateLimitLogin, rateWindowDefault, rateLimitKeyIP, r.handleLogin)))
	r.mux.HandleFunc("/auth/me", r.audit(r.handlerAuthRate("/auth/me", rateLimitUserRead, rateWindowDefault, r.handleMe)))
	r.mux.HandleFunc("/users", r.audit(r.handlerAuthRate("/users", rateLimitUserWrite, rateWindowDefault, r.handleUsers)))
	r.mux.HandleFunc("/users/", r.audit(r.handlerAuthRate("/users/", rateLimitUserWrite, rateWindowDefault, r.handleUserSubroutes)))
	r.mux.HandleFunc("/projects", r.audit(r.handlerAuthRate("/projects", rateLimitUserWrite, rateWindowDefault, r.handleProjects)))
	r.mux.HandleFunc("/projects/", r.audit(r.handlerAuthRate("/projects/", rateLimitUserWrite, rateWindowDefault, r.handleProjectSubroutes)))
	r.mux.HandleFunc("/presets", r.audit(r.handlerAuthRate("/presets", rateLimitUserRead, rateWindowDefault, r.handlePresets)))
	r.mux.HandleFunc("/presets/", r.audit(r.handlerAuthRate("/presets/", rateLimitUserRead, rateWindowDefault, r.handlePresetSubroutes)))
	r.mux.HandleFunc("/containers", r.audit(r.handlerAuthRate("/containers", rateLimitUserRead, rateWindowDefault, r.handleContainers)))
	r.mux.HandleFunc("/containers/", r.audit(r.handlerAuthRate("/containers/", rateLimitUserWrite, rateWindowDefault, r.handleContainerSubroutes)))
	r.mux.HandleFunc("/ws/events", r.audit(r.handlerAuthRate("/ws/events", rateLimitWebsocket, rateWindowRealtime, r.handleEventsWS)))
}

func (r *Router) handleSetup(w http.ResponseWriter, req *http.Request) {
	switch req.Method {
	case http.MethodGet:
		required, err := r.auth.SetupRequired(req.Context())
		if err != nil {
			r.respondError(w, req, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"setup_required": required})
	case http.MethodPost:
		var payload struct {
			Username string `json:"username"`
			Password string `json:"password"`
		}
		if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		created, token, err := r.auth.Setup(req.Context(), payload.Username, payload.Password)
		if err != nil {
			r.respondError(w, req, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{
			"user":  userJSON(created),
			"token": tokenJSON(token),
		})
	default:
		r.methodNotAllowed(w)
	}
}

func (r *Router) handleLogin(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	var payload struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	authed, token, err := r.auth.Login(req.Context(), payload.Username, payload.Password)
	if err != nil {
		if errdefs.IsKind(err, errdefs.KindValidation) {
			writeError(w, http.StatusUnauthorized, "invalid username or password")
			return
		}
		r.respondError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user":  userJSON(authed),
		"token": tokenJSON(token),
	})
}

func (r *Router) handleMe(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	token, err := bearerToken(req.Header.Get("Authorization"))
	if err != nil {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	me, _, err := r.auth.Authorize(req.Context(), token)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "authentication failed")
		return
	}
	writeJSON(w, http.StatusOK, userJSON(me))
}

func (r *Router) handleUsers(w http.ResponseWriter, req *http.Request) {
	principal, ok := principalFromContext(req.Context())
	if !ok {
		r.missingAuthContext(w, req)
		return
	}
	switch req.Method {
	case http.MethodGet:
		users, err := r.users.List(req.Context(), principal)
		if err != nil {
			r.respondError(w, req, err)
			return
		}
		payload := make([]map[string]any, 0, len(users))
		for i := range users {
			payload = append(payload, userJSON(&users[i]))
		}
		writeJSON(w, http.StatusOK, payload)
	case http.MethodPost:
		var payload struct {
			Username string `json:"username"`
			Password string `json:"password"`
			IsAdmin  bool   `json:"is_admin"`
		}
		if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		created, err := r.users.Create(req.Context(), principal, user.CreateInput{
			Username: payload.Username,
			Password: payload.Password,
			IsAdmin:  payload.IsAdmin,
		})
		if err != nil {
			r.respondError(w, req, err)
			return
		}
		writeJSON(w, http.StatusCreated, userJSON(created))
	default:
		r.methodNotAllowed(w)
	}
}

func (r *Router) handleUserSubroutes(w http.ResponseWriter, req *http.Request) {
	principal, ok := principalFromContext(req.Context())
	if !ok {
		r.missingAuthContext(w, req)
		return
	}
	userID := strings.TrimPrefix(req.URL.Path, "/users/")
	if userID == "" || strings.Contains(userID, "/") {
		r.notFound(w)
		return
	}
	switch req.Method {
	case http.MethodGet:
		found, err := r.users.Get(req.Context(), principal, userID)
		if err != nil {
			r.respondError(w, req, err)
			return
		}
		writeJSON(w, http.StatusOK, userJSON(found))
	case http.MethodPatch, http.MethodPut:
		var payload struct {
			Password *string `json:"password"`
			IsAdmin  *bool   `json:"is_admin"`
			IsActive *bool   `json:"is_active"`
		}
		if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		updated, err := r.users.Update(req.Context(), principal, userID, user.UpdateInput{
			Password: payload.Password,
			IsAdmin:  payload.IsAdmin,
			IsActive: payload.IsActive,
		})
		if err != nil {
			r.respondError(w, req, err)
			return
		}
		writeJSON(w, http.StatusOK, userJSON(updated))
	case http.MethodDelete:
		if err := r.users.Delete(req.Context(), principal, userID); err != nil {
			r.respondError(w, req, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	default:
		r.methodNotAllowed(w)
	}
}

func (r *Router) handleProjects(w http.ResponseWriter, req *http.Request) {
	principal, ok := principalFromContext(req.Context())
	if !ok {
		r.missingAuthContext(w, req)
		return
	}
	switch req.Method {
	case http.MethodGet:
		projects, err := r.access.VisibleProjects(req.Context(), principal)
		if err != nil {
			r.respondError(w, req, err)
			return
		}
		payload := make([]map[string]any, 0, len(projects))
		for i := range projects {
			payload = append(payload, projectJSON(&projects[i]))
		}
		writeJSON(w, http.StatusOK, payload)
	case http.MethodPost:
		var payload struct {
			Name           string            `json:"name"`
			Domain         string            `json:"domain"`
			ComposeContent string            `json:"compose_content"`
			EnvVars        map[string]string `json:"env_vars"`
		}
		if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		created, err := r.projects.Create(req.Context(), principal, lifecycle.CreateInput{
			Name:           payload.Name,
			Domain:         payload.Domain,
			ComposeContent: payload.ComposeContent,
			EnvVars:        payload.EnvVars,
		})
		if err != nil {
			r.respondError(w, req, err)
			return
		}
		writeJSON(w, http.StatusCreated, projectJSON(created))
	default:
		r.methodNotAllowed(w)
	}
}

func (r *Router) handleProjectSubroutes(w http.ResponseWriter, req *http.Request) {
	trimmed := strings.TrimPrefix(req.URL.Path, "/projects/")
	parts := strings.Split(trimmed, "/")
	if len(parts) < 1 || parts[0] == "" {
		r.notFound(w)
		return
	}
	projectID := parts[0]
	if len(parts) == 1 {
		r.handleProject(w, req, projectID)
		return
	}
	if len(parts) == 2 {
		switch parts[1] {
		case "start", "stop", "restart":
			r.handleProjectAction(w, req, projectID, parts[1])
			return
		case "env":
			r.handleProjectEnv(w, req, projectID)
			return
		case "deployment":
			r.handleProjectDeployment(w, req, projectID)
			return
		}
	}
	r.notFound(w)
}

func (r *Router) handleProject(w http.ResponseWriter, req *http.Request, projectID string) {
	principal, ok := principalFromContext(req.Context())
	if !ok {
		r.missingAuthContext(w, req)
		return
	}
	switch req.Method {
	case http.MethodGet:
		project, err := r.access.GetProject(req.Context(), principal, projectID)
		if err != nil {
			r.respondError(w, req, err)
			return
		}
		writeJSON(w, http.StatusOK, projectJSON(project))
	case http.MethodPatch, http.MethodPut:
		var payload struct {
			Name           *string           `json:"name"`
			Domain         *string           `json:"domain"`
			ComposeContent *string           `json:"compose_content"`
			EnvVars        map[string]string `json:"env_vars"`
		}
		if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		updated, err := r.projects.Update(req.Context(), principal, projectID, lifecycle.UpdateInput{
			Name:           payload.Name,
			Domain:         payload.Domain,
			ComposeContent: payload.ComposeContent,
			EnvVars:        payload.EnvVars,
		})
		if err != nil {
			r.respondError(w, req, err)
			return
		}
		writeJSON(w, http.StatusOK, projectJSON(updated))
	case http.MethodDelete:
		if err := r.projects.Delete(req.Context(), principal, projectID); err != nil {
			r.respondError(w, req, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	default:
		r.methodNotAllowed(w)
	}
}

func (r *Router) handleProjectAction(w http.ResponseWriter, req *http.Request, projectID, action string) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	principal, ok := principalFromContext(req.Context())
	if !ok {
		r.missingAuthContext(w, req)
		return
	}
	var (
		project *domain.Project
		err     error
	)
	switch action {
	case "start":
		project, err = r.projects.Start(req.Context(), principal, projectID)
	case "stop":
		project, err = r.projects.Stop(req.Context(), principal, projectID)
	case "restart":
		project, err = r.projects.Restart(req.Context(), principal, projectID)
	}
	if err != nil {
		r.respondError(w, req, err)
		return
	}
	writeJSON(w, http.StatusAccepted, projectJSON(project))
}

func (r *Router) handleProjectEnv(w http.ResponseWriter, req *http.Request, projectID string) {
	principal, ok := principalFromContext(req.Context())
	if !ok {
		r.missingAuthContext(w, req)
		return
	}
	switch req.Method {
	case http.MethodGet:
		envVars, err := r.projects.EnvVars(req.Context(), principal, projectID)
		if err != nil {
			r.respondError(w, req, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"env_vars": envVars})
	case http.MethodPut:
		var payload struct {
			EnvVars map[string]string `json:"env_vars"`
		}
		if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		if err := r.projects.UpdateEnvVars(req.Context(), principal, projectID, payload.EnvVars); err != nil {
			r.respondError(w, req, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "stored"})
	default:
		r.methodNotAllowed(w)
	}
}

func (r *Router) handleProjectDeployment(w http.ResponseWriter, req *http.Request, projectID string) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	principal, ok := principalFromContext(req.Context())
	if !ok {
		r.missingAuthContext(w, req)
		return
	}
	project, err := r.access.GetProject(req.Context(), principal, projectID)
	if err != nil {
		r.respondError(w, req, err)
		return
	}
	containers, err := r.containers.List(req.Context(), principal, false)
	if err != nil {
		r.respondError(w, req, err)
		return
	}
	projectContainers := make([]domain.Container, 0)
	for _, ctr := range containers {
		if ctr.ProjectID == project.ID {
			projectContainers = append(projectContainers, ctr)
		}
	}
	routeActive := false
	if r.routes != nil {
		for _, route := range r.routes.Routes() {
			if route.ProjectID == project.ID {
				routeActive = true
				break
			}
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"project_id":   project.ID,
		"domain":       project.Domain,
		"url":          "http://" + project.Domain,
		"status":       project.Status,
		"route_active": routeActive,
		"containers":   projectContainers,
	})
}

func (r *Router) handlePresets(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, preset.All(req.URL.Query().Get("category")))
}

func (r *Router) handlePresetSubroutes(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	id := strings.TrimPrefix(req.URL.Path, "/presets/")
	if id == "categories" {
		writeJSON(w, http.StatusOK, preset.Categories())
		return
	}
	p, ok := preset.ByID(id)
	if !ok {
		r.respondError(w, req, errdefs.NotFound("preset %s not found", id))
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (r *Router) handleContainers(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	principal, ok := principalFromContext(req.Context())
	if !ok {
		r.missingAuthContext(w, req)
		return
	}
	includeSystem, _ := strconv.ParseBool(req.URL.Query().Get("include_system"))
	containers, err := r.containers.List(req.Context(), principal, includeSystem)
	if err != nil {
		r.respondError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, containers)
}

func (r *Router) handleContainerSubroutes(w http.ResponseWriter, req *http.Request) {
	principal, ok := principalFromContext(req.Context())
	if !ok {
		r.missingAuthContext(w, req)
		return
	}
	trimmed := strings.TrimPrefix(req.URL.Path, "/containers/")
	parts := strings.Split(trimmed, "/")
	if len(parts) < 1 || parts[0] == "" {
		r.notFound(w)
		return
	}
	containerID := parts[0]

	if len(parts) == 1 {
		switch req.Method {
		case http.MethodGet:
			ctr, err := r.containers.Get(req.Context(), principal, containerID)
			if err != nil {
				r.respondError(w, req, err)
				return
			}
			writeJSON(w, http.StatusOK, ctr)
		case http.MethodDelete:
			if err := r.containers.Remove(req.Context(), principal, containerID); err != nil {
				r.respondError(w, req, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]string{"status": "removed"})
		default:
			r.methodNotAllowed(w)
		}
		return
	}
	if len(parts) != 2 {
		r.notFound(w)
		return
	}
	switch parts[1] {
	case "start", "stop", "restart":
		if req.Method != http.MethodPost {
			r.methodNotAllowed(w)
			return
		}
		var err error
		switch parts[1] {
		case "start":
			err = r.containers.Start(req.Context(), principal, containerID)
		case "stop":
			err = r.containers.Stop(req.Context(), principal, containerID)
		case "restart":
			err = r.containers.Restart(req.Context(), principal, containerID)
		}
		if err != nil {
			r.respondError(w, req, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": parts[1] + "ed"})
	case "logs":
		if req.Method != http.MethodGet {
			r.methodNotAllowed(w)
			return
		}
		tail, _ := strconv.Atoi(req.URL.Query().Get("tail"))
		if tail <= 0 {
			tail = defaultLogTail
		}
		logs, err := r.containers.Logs(req.Context(), principal, containerID, tail)
		if err != nil {
			r.respondError(w, req, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"logs": logs})
	case "stats":
		if req.Method != http.MethodGet {
			r.methodNotAllowed(w)
			return
		}
		stats, err := r.containers.Stats(req.Context(), principal, containerID)
		if err != nil {
			r.respondError(w, req, err)
			return
		}
		writeJSON(w, http.StatusOK, stats)
	default:
		r.notFound(w)
	}
}

func (r *Router) handleEventsWS(w http.ResponseWriter, req *http.Request) {
	principal, ok := principalFromContext(req.Context())
	if !ok {
		r.missingAuthContext(w, req)
		return
	}
	projectID := req.URL.Query().Get("project_id")
	if projectID == "" && !principal.IsAdmin {
		r.respondError(w, req, errdefs.ValidationFields("project_id is required", map[string]string{
			"project_id": "must name a visible project",
		}))
		return
	}
	if projectID != "" {
		if _, err := r.access.GetProject(req.Context(), principal, projectID); err != nil {
			r.respondError(w, req, err)
			return
		}
	}
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	client := ws.NewClient(conn, r.logger)
	r.hub.Register(client, ws.Subscription{ProjectID: projectID, AllProjects: projectID == ""})
	go func() {
		defer func() {
			r.hub.Unregister(client)
			client.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()
}

func (r *Router) handleHealthz(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	components := make(map[string]any)
	status := "ok"
	check := func(name string, fn func(context.Context) error) {
		if fn == nil {
			return
		}
		ctx, cancel := context.WithTimeout(req.Context(), healthCheckTimeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			status = "degraded"
			components[name] = map[string]any{"status": "down", "error": err.Error()}
			return
		}
		components[name] = map[string]any{"status": "up"}
	}
	check("database", r.dbHealth)
	check("container_engine", r.engPing)

	payload := map[string]any{
		"status":     status,
		"components": components,
		"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
	}
	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, payload)
}

func userJSON(u *domain.User) map[string]any {
	return map[string]any{
		"id":         u.ID,
		"username":   u.Username,
		"is_admin":   u.IsAdmin,
		"is_active":  u.IsActive,
		"created_at": u.CreatedAt,
		"updated_at": u.UpdatedAt,
	}
}

func projectJSON(p *domain.Project) map[string]any {
	return map[string]any{
		"id":              p.ID,
		"owner_id":        p.OwnerID,
		"name":            p.Name,
		"domain":          p.Domain,
		"compose_content": p.ComposeContent,
		"status":          p.Status,
		"status_reason":   p.StatusReason,
		"created_at":      p.CreatedAt,
		"updated_at":      p.UpdatedAt,
	}
}

func tokenJSON(t auth.Token) map[string]any {
	return map[string]any{
		"access_token": t.AccessToken,
		"token_type":   "bearer",
		"expires_in":   int(t.ExpiresIn.Seconds()),
	}
}

func (r *Router) missingAuthContext(w http.ResponseWriter, req *http.Request) {
	r.logger.Error("auth context missing", "path", req.URL.Path)
	writeError(w, http.StatusInternalServerError, "authorization context missing")
}

func (r *Router) audit(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w}
		start := time.Now()
		next(recorder, req)

		status := recorder.status
		if status == 0 {
			status = http.StatusOK
		}
		ctx := recorder.ctx
		if ctx == nil {
			ctx = req.Context()
		}
		duration := time.Since(start)
		r.recordRequestMetrics(req.Method, routeLabel(req.URL.Path), status, duration)

		actor := "anonymous"
		fields := []any{
			"method", req.Method,
			"path", req.URL.Path,
			"status", status,
			"bytes", recorder.bytes,
			"duration_ms", duration.Milliseconds(),
		}
		if ip := clientIP(req); ip != "" {
			fields = append(fields, "ip", ip)
		}
		if reqID := strings.TrimSpace(req.Header.Get("X-Request-ID")); reqID != "" {
			fields = append(fields, "request_id", reqID)
		}
		if principal, ok := principalFromContext(ctx); ok {
			actor = "user"
			fields = append(fields, "user_id", principal.UserID)
		}
		fields = append(fields, "actor", actor)

		switch {
		case status >= http.StatusInternalServerError:
			r.logger.Error("http_request", fields...)
		case status >= http.StatusBadRequest:
			r.logger.Warn("http_request", fields...)
		default:
			r.logger.Info("http_request", fields...)
		}
	}
}

// routeLabel collapses resource ids so metric cardinality stays bounded.
func routeLabel(path string) string {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) >= 2 {
		switch parts[0] {
		case "projects", "containers", "users":
			parts[1] = ":id"
		}
	}
	return "/" + strings.Join(parts, "/")
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
	ctx    context.Context
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	if sr.status == 0 {
		sr.status = http.StatusOK
	}
	n, err := sr.ResponseWriter.Write(b)
	sr.bytes += n
	return n, err
}

func (sr *statusRecorder) SetContext(ctx context.Context) {
	sr.ctx = ctx
}

func (sr *statusRecorder) Flush() {
	if f, ok := sr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (sr *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := sr.ResponseWriter.(http.Hijacker); ok {
		return h.Hijack()
	}
	return nil, nil, errors.New("hijacker not supported")
}

func (sr *statusRecorder) Push(target string, opts *http.PushOptions) error {
	if p, ok := sr.ResponseWriter.(http.Pusher); ok {
		return p.Push(target, opts)
	}
	return http.ErrNotSupported
}

func clientIP(req *http.Request) string {
	if forwarded := strings.TrimSpace(req.Header.Get("X-Forwarded-For")); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		if len(parts) > 0 {
			ip := strings.TrimSpace(parts[0])
			if ip != "" {
				return ip
			}
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(req.RemoteAddr))
	if err != nil {
		return strings.TrimSpace(req.RemoteAddr)
	}
	return host
}

func (r *Router) applyRateHeaders(w http.ResponseWriter, limit int, decision rateDecision) {
	if limit <= 0 {
		return
	}
	remaining := limit - decision.count
	if remaining < 0 {
		remaining = 0
	}
	headers := w.Header()
	headers.Set("X-RateLimit-Limit", strconv.Itoa(limit))
	headers.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
	if !decision.windowEnd.IsZero() {
		headers.Set("X-RateLimit-Reset", strconv.FormatInt(decision.windowEnd.Unix(), 10))
	}
}

func (r *Router) methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func (r *Router) notFound(w http.ResponseWriter) {
	writeError(w, http.StatusNotFound, "not found")
}
