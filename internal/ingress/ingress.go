// Package ingress keeps the reverse proxy's routing table synchronized with
// the set of running project containers.
package ingress

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/hacker-cb/docklite/internal/domain"
	"github.com/hacker-cb/docklite/internal/errdefs"
)

const (
	managedMarker = "# managed by docklite"
	confSuffix    = ".conf"
)

// Reloader signals the proxy to pick up configuration changes.
type Reloader interface {
	Reload(ctx context.Context) error
	Close() error
}

// Manager renders one proxy config file per routed domain and reloads the
// proxy when the effective set changes. Sync is idempotent: identical input
// produces no writes and no reload.
type Manager struct {
	dir      string
	reloader Reloader
	logger   *slog.Logger

	mu      sync.Mutex
	applied []domain.Route
}

// New constructs a Manager writing into dir.
func New(dir string, reloader Reloader, logger *slog.Logger) *Manager {
	if logger != nil {
		logger = logger.With("component", "ingress")
	}
	return &Manager{dir: dir, reloader: reloader, logger: logger}
}

// Close releases the reloader.
func (m *Manager) Close() error {
	if m.reloader != nil {
		return m.reloader.Close()
	}
	return nil
}

// Routes returns the last applied route set.
func (m *Manager) Routes() []domain.Route {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.Route(nil), m.applied...)
}

// Sync replaces the active routing configuration with the given routes.
// Additions and updates are written before stale files are removed so traffic
// for unaffected domains is never dropped. A failure is scoped to the domains
// it touched and reported as a routing-sync error.
func (m *Manager) Sync(ctx context.Context, routes []domain.Route) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	desired := make(map[string]domain.Route, len(routes))
	for _, route := range routes {
		if route.Domain == "" || route.Target == "" {
			continue
		}
		desired[confName(route.Domain)] = route
	}

	existing, err := m.managedFiles()
	if err != nil {
		return errdefs.RoutingSync(err, "read proxy configuration")
	}

	changed := false
	var failed []string
	names := make([]string, 0, len(desired))
	for name := range desired {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		route := desired[name]
		content := render(route)
		if prev, ok := existing[name]; ok && prev == content {
			continue
		}
		if err := m.writeFile(name, content); err != nil {
			if m.logger != nil {
				m.logger.Warn("failed to write route config", "domain", route.Domain, "error", err)
			}
			failed = append(failed, route.Domain)
			continue
		}
		changed = true
	}

	for name := range existing {
		if _, keep := desired[name]; keep {
			continue
		}
		if err := os.Remove(filepath.Join(m.dir, name)); err != nil && !os.IsNotExist(err) {
			if m.logger != nil {
				m.logger.Warn("failed to remove stale route config", "file", name, "error", err)
			}
			failed = append(failed, strings.TrimSuffix(name, confSuffix))
			continue
		}
		changed = true
	}

	if changed && m.reloader != nil {
		if err := m.reloader.Reload(ctx); err != nil {
			return errdefs.RoutingSync(err, "reload proxy")
		}
	}

	if len(failed) > 0 {
		return errdefs.RoutingSync(nil, "routes not applied for: %s", strings.Join(failed, ", "))
	}

	snapshot := make([]domain.Route, 0, len(desired))
	for _, name := range names {
		snapshot = append(snapshot, desired[name])
	}
	m.applied = snapshot

	if changed && m.logger != nil {
		m.logger.Info("route table synchronized", "routes", len(snapshot))
	}
	return nil
}

func (m *Manager) managedFiles() (map[string]string, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return nil, err
	}
	files := make(map[string]string)
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), confSuffix) {
			continue
		}
		data, err := os.ReadFile(filepath.Join(m.dir, entry.Name()))
		if err != nil {
			return nil, err
		}
		content := string(data)
		// Foreign files in the directory are left alone.
		if !strings.HasPrefix(content, managedMarker) {
			continue
		}
		files[entry.Name()] = content
	}
	return files, nil
}

func (m *Manager) writeFile(name, content string) error {
	path := filepath.Join(m.dir, name)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(content), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func render(route domain.Route) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n", managedMarker)
	fmt.Fprintf(&b, "# project: %s service: %s\n", route.ProjectID, route.Service)
	fmt.Fprintf(&b, "server {\n")
	fmt.Fprintf(&b, "    listen 80;\n")
	fmt.Fprintf(&b, "    server_name %s;\n", route.Domain)
	fmt.Fprintf(&b, "    location / {\n")
	fmt.Fprintf(&b, "        proxy_pass http://%s:%d;\n", route.Target, route.Port)
	fmt.Fprintf(&b, "        proxy_set_header Host $host;\n")
	fmt.Fprintf(&b, "        proxy_set_header X-Real-IP $remote_addr;\n")
	fmt.Fprintf(&b, "        proxy_set_header X-Forwarded-For $proxy_add_x_forwarded_for;\n")
	fmt.Fprintf(&b, "        proxy_set_header X-Forwarded-Proto $scheme;\n")
	fmt.Fprintf(&b, "    }\n")
	fmt.Fprintf(&b, "}\n")
	return b.String()
}

func confName(domainName string) string {
	safe := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '.':
			return r
		case r >= 'A' && r <= 'Z':
			return r + ('a' - 'A')
		default:
			return '_'
		}
	}, domainName)
	return safe + confSuffix
}
