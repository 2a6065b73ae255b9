package domain

import "time"

// Container is a runtime-derived projection of an engine container. It is
// never persisted; the project linkage travels in engine labels.
type Container struct {
	ID        string
	Name      string
	Image     string
	State     string
	Status    string
	ProjectID string
	Service   string
	IsSystem  bool
	Labels    map[string]string
	Address   string
	Ports     []PortMapping
	CreatedAt time.Time
}

// Running reports whether the engine considers the container live.
func (c Container) Running() bool { return c.State == "running" }

// PortMapping describes one exposed port.
type PortMapping struct {
	Private int    `json:"private"`
	Public  int    `json:"public"`
	Proto   string `json:"proto"`
}

// ContainerStats is a point-in-time resource snapshot.
type ContainerStats struct {
	ContainerID   string  `json:"container_id"`
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryUsage   int64   `json:"memory_usage"`
	MemoryLimit   int64   `json:"memory_limit"`
	MemoryPercent float64 `json:"memory_percent"`
	NetworkRx     int64   `json:"network_rx"`
	NetworkTx     int64   `json:"network_tx"`
}
