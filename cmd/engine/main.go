package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hacker-cb/docklite/internal/app/migrate"
	httpx "github.com/hacker-cb/docklite/internal/http"
	"github.com/hacker-cb/docklite/internal/ingress"
	"github.com/hacker-cb/docklite/internal/repository/postgres"
	"github.com/hacker-cb/docklite/internal/runtime/dockerd"
	"github.com/hacker-cb/docklite/internal/service/access"
	"github.com/hacker-cb/docklite/internal/service/auth"
	"github.com/hacker-cb/docklite/internal/service/container"
	"github.com/hacker-cb/docklite/internal/service/lifecycle"
	"github.com/hacker-cb/docklite/internal/service/reconcile"
	"github.com/hacker-cb/docklite/internal/service/user"
	"github.com/hacker-cb/docklite/internal/ws"
	"github.com/hacker-cb/docklite/pkg/config"
	"github.com/hacker-cb/docklite/pkg/logger"
)

func main() {
	cfg := config.LoadEngineConfig()
	log := logger.New("engine", slog.LevelInfo)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}

	runner, err := migrate.New(pool, cfg.DatabaseURL, cfg.MigrationsDir, log)
	if err != nil {
		log.Error("failed to configure migrations", "error", err)
		os.Exit(1)
	}
	defer runner.Close()
	if err := runner.Ping(ctx); err != nil {
		log.Error("database ping failed", "error", err)
		os.Exit(1)
	}
	if err := runner.Ensure(ctx); err != nil {
		log.Error("migrations failed", "error", err)
		os.Exit(1)
	}

	adapter, err := dockerd.New(cfg.DockerHost, cfg.NetworkName, cfg.LabelNamespace, cfg.StopTimeout)
	if err != nil {
		log.Error("failed to connect to container engine", "error", err)
		os.Exit(1)
	}
	defer adapter.Close()
	if err := adapter.Ping(ctx); err != nil {
		log.Warn("container engine unreachable at startup", "error", err)
	}

	var reloader ingress.Reloader = ingress.NoopReloader{}
	if cfg.ProxyContainerName != "" {
		dockerReloader, err := ingress.NewDockerReloader(cfg.ProxyContainerName)
		if err != nil {
			log.Warn("proxy reloader unavailable, route changes will not be applied live", "error", err)
		} else {
			reloader = dockerReloader
		}
	}
	routes := ingress.New(cfg.ProxyConfigDir, reloader, log)
	defer routes.Close()

	repo := postgres.New(pool)
	hub := ws.NewHub(log)

	accessSvc := access.New(repo, log)
	authSvc := auth.New(repo, log, cfg)
	userSvc := user.New(repo, repo, log)
	containerSvc := container.New(adapter, accessSvc, log)
	lifecycleSvc := lifecycle.New(repo, adapter, routes, accessSvc, hub, nil, log, cfg)

	reconciler := reconcile.New(repo, adapter, routes, lifecycleSvc.Locks(), hub, log, cfg)
	go reconciler.Run(ctx)

	limiter := httpx.NewMemoryRateLimiter()
	if addr := strings.TrimSpace(cfg.RateLimitRedisAddr); addr != "" {
		redisLimiter, err := httpx.NewRedisRateLimiter(addr, cfg.RateLimitRedisPass, cfg.RateLimitRedisDB, log)
		if err != nil {
			log.Warn("redis rate limiter unavailable", "error", err)
		} else {
			limiter = redisLimiter
		}
	}

	router := httpx.NewRouter(log, authSvc, userSvc, lifecycleSvc, containerSvc, accessSvc, routes, hub, limiter, pool.Ping, adapter.Ping)
	defer router.Close()

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errorCh := make(chan error, 1)
	go func() {
		log.Info("engine server starting", "addr", cfg.Addr)
		errorCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", "error", err)
		}
		log.Info("engine server stopped")
	case err := <-errorCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}
}
