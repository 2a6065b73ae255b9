package repository

import (
	"context"

	"github.com/hacker-cb/docklite/internal/domain"
)

// UserRepository persists operator accounts.
type UserRepository interface {
	CreateUser(ctx context.Context, user *domain.User) error
	GetUserByID(ctx context.Context, id string) (*domain.User, error)
	GetUserByUsername(ctx context.Context, username string) (*domain.User, error)
	ListUsers(ctx context.Context) ([]domain.User, error)
	UpdateUser(ctx context.Context, user *domain.User) error
	DeleteUser(ctx context.Context, id string) error
	CountUsers(ctx context.Context) (int, error)
}

// ProjectRepository persists project configuration and recorded status.
type ProjectRepository interface {
	CreateProject(ctx context.Context, project *domain.Project) error
	GetProjectByID(ctx context.Context, id string) (*domain.Project, error)
	GetProjectByDomain(ctx context.Context, domain string) (*domain.Project, error)
	ListProjects(ctx context.Context) ([]domain.Project, error)
	ListProjectsByOwner(ctx context.Context, ownerID string) ([]domain.Project, error)
	UpdateProject(ctx context.Context, project *domain.Project) error
	UpdateProjectStatus(ctx context.Context, id string, status domain.ProjectStatus, reason string) error
	DeleteProject(ctx context.Context, id string) error
	CountProjectsByOwner(ctx context.Context, ownerID string) (int, error)
}
