// Package dockerd implements the runtime adapter on the Docker Engine API.
package dockerd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	dockererr "github.com/docker/docker/errdefs"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"

	"github.com/hacker-cb/docklite/internal/compose"
	"github.com/hacker-cb/docklite/internal/domain"
	"github.com/hacker-cb/docklite/internal/errdefs"
	"github.com/hacker-cb/docklite/internal/runtime"
)

const namePrefix = "dl"

// Adapter manages labeled containers through the Docker daemon.
type Adapter struct {
	cli         *client.Client
	network     string
	labelNS     string
	stopTimeout time.Duration
}

var _ runtime.Adapter = (*Adapter)(nil)

// New connects to the Docker daemon. An empty host falls back to environment
// defaults (DOCKER_HOST et al).
func New(host, networkName, labelNamespace string, stopTimeout time.Duration) (*Adapter, error) {
	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if host != "" {
		opts = append(opts, client.WithHost(host))
	}
	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	if stopTimeout <= 0 {
		stopTimeout = 10 * time.Second
	}
	return &Adapter{
		cli:         cli,
		network:     networkName,
		labelNS:     labelNamespace,
		stopTimeout: stopTimeout,
	}, nil
}

// Label keys derived from the configured namespace.
func (a *Adapter) labelProject() string { return a.labelNS + ".project" }
func (a *Adapter) labelService() string { return a.labelNS + ".service" }
func (a *Adapter) labelDomain() string  { return a.labelNS + ".domain" }
func (a *Adapter) labelManaged() string { return a.labelNS + ".managed" }
func (a *Adapter) labelSystem() string  { return a.labelNS + ".system" }

// Ping validates connectivity to the Docker daemon.
func (a *Adapter) Ping(ctx context.Context) error {
	ping, err := a.cli.Ping(ctx)
	if err != nil {
		return a.mapErr(err, "ping engine")
	}
	if ping.APIVersion == "" {
		return errdefs.Unavailable(nil, "engine ping returned empty API version")
	}
	return nil
}

// Close releases the underlying client.
func (a *Adapter) Close() error {
	return a.cli.Close()
}

// List returns containers matching the filter.
func (a *Adapter) List(ctx context.Context, f runtime.Filter) ([]domain.Container, error) {
	args := filters.NewArgs()
	if f.ManagedOnly {
		args.Add("label", a.labelManaged()+"=true")
	}
	if f.ProjectID != "" {
		args.Add("label", a.labelProject()+"="+f.ProjectID)
	}
	summaries, err := a.cli.ContainerList(ctx, container.ListOptions{All: !f.Running, Filters: args})
	if err != nil {
		return nil, a.mapErr(err, "list containers")
	}
	containers := make([]domain.Container, 0, len(summaries))
	for _, summary := range summaries {
		containers = append(containers, a.toDomain(summary))
	}
	return containers, nil
}

// Create materializes one container per definition service, labeled for the
// project. Containers are created stopped; Start brings them up.
func (a *Adapter) Create(ctx context.Context, project runtime.ProjectRef, def compose.Definition, env map[string]string) ([]domain.Container, error) {
	if err := a.ensureNetwork(ctx); err != nil {
		return nil, err
	}
	created := make([]domain.Container, 0, len(def.ServiceNames))
	for _, name := range def.ServiceNames {
		svc := def.Services[name]
		ctr, err := a.createService(ctx, project, svc, env)
		if err != nil {
			return created, err
		}
		created = append(created, ctr)
	}
	return created, nil
}

func (a *Adapter) createService(ctx context.Context, project runtime.ProjectRef, svc compose.Service, env map[string]string) (domain.Container, error) {
	if err := a.ensureImage(ctx, svc.Image); err != nil {
		return domain.Container{}, err
	}

	merged := make(map[string]string, len(svc.Environment)+len(env))
	for k, v := range svc.Environment {
		merged[k] = v
	}
	for k, v := range env {
		merged[k] = v
	}
	envSlice := make([]string, 0, len(merged))
	for k, v := range merged {
		envSlice = append(envSlice, k+"="+v)
	}

	exposed := nat.PortSet{}
	for _, raw := range svc.Expose {
		port, err := nat.NewPort("tcp", strings.TrimSuffix(raw, "/tcp"))
		if err != nil {
			continue
		}
		exposed[port] = struct{}{}
	}

	cfg := &container.Config{
		Image:        svc.Image,
		Env:          envSlice,
		ExposedPorts: exposed,
		Labels: map[string]string{
			a.labelManaged(): "true",
			a.labelProject(): project.ID,
			a.labelService(): svc.Name,
			a.labelDomain():  project.Domain,
		},
	}
	if len(svc.Command) > 0 {
		cfg.Cmd = append([]string(nil), svc.Command...)
	}

	hostCfg := &container.HostConfig{
		RestartPolicy: container.RestartPolicy{Name: container.RestartPolicyDisabled},
	}
	netCfg := &network.NetworkingConfig{
		EndpointsConfig: map[string]*network.EndpointSettings{
			a.network: {},
		},
	}

	name := containerName(project.ID, svc.Name)
	resp, err := a.cli.ContainerCreate(ctx, cfg, hostCfg, netCfg, nil, name)
	if err != nil {
		return domain.Container{}, a.mapErr(err, "create container for service "+svc.Name)
	}
	return domain.Container{
		ID:        resp.ID,
		Name:      name,
		Image:     svc.Image,
		State:     "created",
		ProjectID: project.ID,
		Service:   svc.Name,
		Labels:    cfg.Labels,
	}, nil
}

// Start starts a container.
func (a *Adapter) Start(ctx context.Context, containerID string) error {
	if err := a.cli.ContainerStart(ctx, containerID, container.StartOptions{}); err != nil {
		return a.mapErr(err, "start container")
	}
	return nil
}

// Stop stops a container without removing it.
func (a *Adapter) Stop(ctx context.Context, containerID string) error {
	timeout := int(a.stopTimeout.Seconds())
	if err := a.cli.ContainerStop(ctx, containerID, container.StopOptions{Timeout: &timeout}); err != nil {
		return a.mapErr(err, "stop container")
	}
	return nil
}

// Restart restarts a container.
func (a *Adapter) Restart(ctx context.Context, containerID string) error {
	timeout := int(a.stopTimeout.Seconds())
	if err := a.cli.ContainerRestart(ctx, containerID, container.StopOptions{Timeout: &timeout}); err != nil {
		return a.mapErr(err, "restart container")
	}
	return nil
}

// Remove force-removes a container.
func (a *Adapter) Remove(ctx context.Context, containerID string) error {
	if err := a.cli.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: true}); err != nil {
		if dockererr.IsNotFound(err) {
			return nil
		}
		return a.mapErr(err, "remove container")
	}
	return nil
}

// Logs returns up to tail lines of combined stdout/stderr output.
func (a *Adapter) Logs(ctx context.Context, containerID string, tail int) (string, error) {
	opts := container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Timestamps: true,
	}
	if tail > 0 {
		opts.Tail = strconv.Itoa(tail)
	}
	reader, err := a.cli.ContainerLogs(ctx, containerID, opts)
	if err != nil {
		return "", a.mapErr(err, "read container logs")
	}
	defer reader.Close()

	var buf bytes.Buffer
	// Engine log streams are multiplexed unless the container runs with a TTY.
	if _, err := stdcopy.StdCopy(&buf, &buf, reader); err != nil {
		buf.Reset()
		if _, copyErr := io.Copy(&buf, reader); copyErr != nil {
			return "", fmt.Errorf("read container logs: %w", copyErr)
		}
	}
	return buf.String(), nil
}

// Stats takes a one-shot resource snapshot.
func (a *Adapter) Stats(ctx context.Context, containerID string) (domain.ContainerStats, error) {
	resp, err := a.cli.ContainerStatsOneShot(ctx, containerID)
	if err != nil {
		return domain.ContainerStats{}, a.mapErr(err, "read container stats")
	}
	defer resp.Body.Close()

	var raw container.StatsResponse
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return domain.ContainerStats{}, fmt.Errorf("decode stats: %w", err)
	}

	stats := domain.ContainerStats{
		ContainerID: containerID,
		MemoryUsage: int64(raw.MemoryStats.Usage),
		MemoryLimit: int64(raw.MemoryStats.Limit),
	}
	if raw.MemoryStats.Limit > 0 {
		stats.MemoryPercent = float64(raw.MemoryStats.Usage) / float64(raw.MemoryStats.Limit) * 100
	}
	cpuDelta := float64(raw.CPUStats.CPUUsage.TotalUsage) - float64(raw.PreCPUStats.CPUUsage.TotalUsage)
	sysDelta := float64(raw.CPUStats.SystemUsage) - float64(raw.PreCPUStats.SystemUsage)
	if cpuDelta > 0 && sysDelta > 0 {
		cores := float64(raw.CPUStats.OnlineCPUs)
		if cores == 0 {
			cores = float64(len(raw.CPUStats.CPUUsage.PercpuUsage))
		}
		if cores == 0 {
			cores = 1
		}
		stats.CPUPercent = cpuDelta / sysDelta * cores * 100
	}
	for _, net := range raw.Networks {
		stats.NetworkRx += int64(net.RxBytes)
		stats.NetworkTx += int64(net.TxBytes)
	}
	return stats, nil
}

func (a *Adapter) ensureNetwork(ctx context.Context) error {
	networks, err := a.cli.NetworkList(ctx, network.ListOptions{
		Filters: filters.NewArgs(filters.Arg("name", a.network)),
	})
	if err != nil {
		return a.mapErr(err, "list networks")
	}
	for _, n := range networks {
		if n.Name == a.network {
			return nil
		}
	}
	_, err = a.cli.NetworkCreate(ctx, a.network, network.CreateOptions{
		Driver: "bridge",
		Labels: map[string]string{a.labelManaged(): "true"},
	})
	if err != nil {
		return a.mapErr(err, "create network")
	}
	return nil
}

func (a *Adapter) ensureImage(ctx context.Context, ref string) error {
	_, _, err := a.cli.ImageInspectWithRaw(ctx, ref)
	if err == nil {
		return nil
	}
	if !dockererr.IsNotFound(err) {
		return a.mapErr(err, "inspect image "+ref)
	}
	reader, err := a.cli.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return a.mapErr(err, "pull image "+ref)
	}
	defer reader.Close()
	_, err = io.Copy(io.Discard, reader)
	return err
}

func (a *Adapter) toDomain(summary types.Container) domain.Container {
	name := ""
	if len(summary.Names) > 0 {
		name = strings.TrimPrefix(summary.Names[0], "/")
	}
	projectID := summary.Labels[a.labelProject()]
	ctr := domain.Container{
		ID:        summary.ID,
		Name:      name,
		Image:     summary.Image,
		State:     summary.State,
		Status:    summary.Status,
		ProjectID: projectID,
		Service:   summary.Labels[a.labelService()],
		IsSystem:  projectID == "",
		Labels:    summary.Labels,
		CreatedAt: time.Unix(summary.Created, 0),
	}
	for _, port := range summary.Ports {
		ctr.Ports = append(ctr.Ports, domain.PortMapping{
			Private: int(port.PrivatePort),
			Public:  int(port.PublicPort),
			Proto:   port.Type,
		})
	}
	if summary.NetworkSettings != nil {
		if settings, ok := summary.NetworkSettings.Networks[a.network]; ok && settings != nil {
			ctr.Address = settings.IPAddress
		} else {
			for _, settings := range summary.NetworkSettings.Networks {
				if settings != nil && settings.IPAddress != "" {
					ctr.Address = settings.IPAddress
					break
				}
			}
		}
	}
	return ctr
}

func (a *Adapter) mapErr(err error, op string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.DeadlineExceeded):
		return errdefs.Timeout(err, "%s", op)
	case dockererr.IsNotFound(err):
		return errdefs.NotFound("%s", op)
	case client.IsErrConnectionFailed(err):
		return errdefs.Unavailable(err, "%s", op)
	default:
		return errdefs.Unavailable(err, "%s", op)
	}
}

func containerName(projectID, service string) string {
	short := projectID
	if len(short) > 8 {
		short = short[:8]
	}
	return fmt.Sprintf("%s-%s-%s", namePrefix, short, service)
}
