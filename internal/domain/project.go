package domain

import "time"

// ProjectStatus enumerates lifecycle states.
type ProjectStatus string

const (
	StatusCreated  ProjectStatus = "created"
	StatusStarting ProjectStatus = "starting"
	StatusRunning  ProjectStatus = "running"
	StatusStopping ProjectStatus = "stopping"
	StatusStopped  ProjectStatus = "stopped"
	StatusError    ProjectStatus = "error"
)

// Project is a user-owned unit of deployment: one routing domain plus a
// multi-container compose definition.
type Project struct {
	ID             string
	OwnerID        string
	Name           string
	Domain         string
	ComposeContent string
	EnvCipher      []byte
	Status         ProjectStatus
	StatusReason   string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Route maps a domain to a container network address. Routes are derived from
// live containers and never persisted.
type Route struct {
	Domain    string
	ProjectID string
	Service   string
	Target    string
	Port      int
}
