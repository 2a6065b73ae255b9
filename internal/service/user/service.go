// Package user implements administrator-only account management.
package user

import (
	"context"
	"errors"
	"time"

	"log/slog"

	"github.com/google/uuid"

	"github.com/hacker-cb/docklite/internal/domain"
	"github.com/hacker-cb/docklite/internal/errdefs"
	"github.com/hacker-cb/docklite/internal/repository"
	"github.com/hacker-cb/docklite/pkg/crypto"
)

// Service manages user accounts. Every operation requires an admin principal.
type Service struct {
	users    repository.UserRepository
	projects repository.ProjectRepository
	logger   *slog.Logger
	now      func() time.Time
}

// New constructs a Service.
func New(users repository.UserRepository, projects repository.ProjectRepository, logger *slog.Logger) Service {
	return Service{users: users, projects: projects, logger: logger, now: time.Now}
}

// CreateInput holds attributes for a new account.
type CreateInput struct {
	Username string
	Password string
	IsAdmin  bool
}

// UpdateInput carries optional account updates; nil fields are unchanged.
type UpdateInput struct {
	Password *string
	IsAdmin  *bool
	IsActive *bool
}

// List returns all accounts.
func (s Service) List(ctx context.Context, principal domain.Principal) ([]domain.User, error) {
	if err := requireAdmin(principal); err != nil {
		return nil, err
	}
	return s.users.ListUsers(ctx)
}

// Get returns a single account by id.
func (s Service) Get(ctx context.Context, principal domain.Principal, userID string) (*domain.User, error) {
	if err := requireAdmin(principal); err != nil {
		return nil, err
	}
	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, errdefs.NotFound("user not found")
		}
		return nil, err
	}
	return user, nil
}

// Create adds a new account.
func (s Service) Create(ctx context.Context, principal domain.Principal, input CreateInput) (*domain.User, error) {
	if err := requireAdmin(principal); err != nil {
		return nil, err
	}
	fields := make(map[string]string)
	if len(input.Username) < 3 {
		fields["username"] = "username must be at least 3 characters"
	}
	if len(input.Password) < 8 {
		fields["password"] = "password must be at least 8 characters"
	}
	if len(fields) > 0 {
		return nil, errdefs.ValidationFields("invalid user attributes", fields)
	}
	hash, err := crypto.HashPassword(input.Password)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	user := &domain.User{
		ID:           uuid.NewString(),
		Username:     input.Username,
		PasswordHash: hash,
		IsAdmin:      input.IsAdmin,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.users.CreateUser(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, errdefs.Conflict("username %q is already taken", input.Username)
		}
		return nil, err
	}
	s.logger.Info("user created", "user_id", user.ID, "username", user.Username, "is_admin", user.IsAdmin, "created_by", principal.UserID)
	return user, nil
}

// Update applies partial changes to an account. Admins cannot demote or
// deactivate themselves, which keeps at least one working admin around.
func (s Service) Update(ctx context.Context, principal domain.Principal, userID string, input UpdateInput) (*domain.User, error) {
	if err := requireAdmin(principal); err != nil {
		return nil, err
	}
	user, err := s.Get(ctx, principal, userID)
	if err != nil {
		return nil, err
	}
	if user.ID == principal.UserID {
		if input.IsAdmin != nil && !*input.IsAdmin {
			return nil, errdefs.Conflict("cannot revoke your own admin role")
		}
		if input.IsActive != nil && !*input.IsActive {
			return nil, errdefs.Conflict("cannot deactivate your own account")
		}
	}
	if input.Password != nil {
		if len(*input.Password) < 8 {
			return nil, errdefs.ValidationFields("invalid user attributes",
				map[string]string{"password": "password must be at least 8 characters"})
		}
		hash, err := crypto.HashPassword(*input.Password)
		if err != nil {
			return nil, err
		}
		user.PasswordHash = hash
	}
	if input.IsAdmin != nil {
		user.IsAdmin = *input.IsAdmin
	}
	if input.IsActive != nil {
		user.IsActive = *input.IsActive
	}
	user.UpdatedAt = s.now().UTC()
	if err := s.users.UpdateUser(ctx, user); err != nil {
		return nil, err
	}
	s.logger.Info("user updated", "user_id", user.ID, "updated_by", principal.UserID)
	return user, nil
}

// Delete removes an account. Accounts that still own projects cannot be
// deleted; their projects have to be deleted or reassigned first.
func (s Service) Delete(ctx context.Context, principal domain.Principal, userID string) error {
	if err := requireAdmin(principal); err != nil {
		return err
	}
	if userID == principal.UserID {
		return errdefs.Conflict("cannot delete your own account")
	}
	count, err := s.projects.CountProjectsByOwner(ctx, userID)
	if err != nil {
		return err
	}
	if count > 0 {
		return errdefs.Conflict("user still owns %d project(s)", count)
	}
	if err := s.users.DeleteUser(ctx, userID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return errdefs.NotFound("user not found")
		}
		return err
	}
	s.logger.Info("user deleted", "user_id", userID, "deleted_by", principal.UserID)
	return nil
}

func requireAdmin(principal domain.Principal) error {
	if !principal.IsAdmin {
		return errdefs.Forbidden("administrator access required")
	}
	return nil
}
