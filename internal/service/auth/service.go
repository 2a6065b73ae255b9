// Package auth handles first-run setup, credential login and bearer token
// validation.
package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"log/slog"

	"github.com/google/uuid"

	"github.com/hacker-cb/docklite/internal/domain"
	"github.com/hacker-cb/docklite/internal/errdefs"
	"github.com/hacker-cb/docklite/internal/repository"
	"github.com/hacker-cb/docklite/pkg/config"
	"github.com/hacker-cb/docklite/pkg/crypto"
	jwtpkg "github.com/hacker-cb/docklite/pkg/jwt"
)

// Service handles authentication workflows.
type Service struct {
	users  repository.UserRepository
	logger *slog.Logger
	cfg    config.EngineConfig
	now    func() time.Time
}

// New constructs a Service.
func New(users repository.UserRepository, logger *slog.Logger, cfg config.EngineConfig) Service {
	return Service{users: users, logger: logger, cfg: cfg, now: time.Now}
}

// Token carries an issued access token.
type Token struct {
	AccessToken string
	ExpiresIn   time.Duration
}

// SetupRequired reports whether no users exist yet, meaning the first-run
// admin still has to be created.
func (s Service) SetupRequired(ctx context.Context) (bool, error) {
	count, err := s.users.CountUsers(ctx)
	if err != nil {
		return false, err
	}
	return count == 0, nil
}

// Setup creates the initial administrator account. It is only permitted while
// no users exist.
func (s Service) Setup(ctx context.Context, username, password string) (*domain.User, Token, error) {
	if err := validateCredentials(username, password); err != nil {
		return nil, Token{}, err
	}
	count, err := s.users.CountUsers(ctx)
	if err != nil {
		return nil, Token{}, err
	}
	if count > 0 {
		return nil, Token{}, errdefs.Conflict("setup already completed")
	}
	hash, err := crypto.HashPassword(password)
	if err != nil {
		return nil, Token{}, err
	}
	now := s.now().UTC()
	user := &domain.User{
		ID:           uuid.NewString(),
		Username:     username,
		PasswordHash: hash,
		IsAdmin:      true,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.users.CreateUser(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, Token{}, errdefs.Conflict("setup already completed")
		}
		return nil, Token{}, err
	}
	token, err := s.issueToken(user)
	if err != nil {
		return nil, Token{}, err
	}
	s.logger.Info("initial admin created", "user_id", user.ID, "username", user.Username)
	return user, token, nil
}

// Login authenticates a user by username and password.
func (s Service) Login(ctx context.Context, username, password string) (*domain.User, Token, error) {
	user, err := s.users.GetUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, Token{}, errdefs.Validation("invalid username or password")
		}
		return nil, Token{}, err
	}
	if err := crypto.ComparePassword(user.PasswordHash, password); err != nil {
		return nil, Token{}, errdefs.Validation("invalid username or password")
	}
	if !user.IsActive {
		return nil, Token{}, errdefs.Forbidden("account is disabled")
	}
	token, err := s.issueToken(user)
	if err != nil {
		return nil, Token{}, err
	}
	s.logger.Info("user logged in", "user_id", user.ID)
	return user, token, nil
}

// Authorize validates a bearer token and returns the associated user.
func (s Service) Authorize(ctx context.Context, token string) (*domain.User, *jwtpkg.Claims, error) {
	trimmed := strings.TrimSpace(token)
	if trimmed == "" {
		return nil, nil, errors.New("token required")
	}
	claims, err := jwtpkg.Parse(trimmed, s.cfg.JWTSecret)
	if err != nil {
		return nil, nil, err
	}
	user, err := s.users.GetUserByID(ctx, claims.UserID)
	if err != nil {
		return nil, nil, err
	}
	if !user.IsActive {
		return nil, nil, errors.New("account is disabled")
	}
	return user, claims, nil
}

func (s Service) issueToken(user *domain.User) (Token, error) {
	access, err := jwtpkg.GenerateToken(user.ID, user.IsAdmin, s.cfg.JWTSecret, s.cfg.AccessTokenTTL)
	if err != nil {
		return Token{}, err
	}
	return Token{AccessToken: access, ExpiresIn: s.cfg.AccessTokenTTL}, nil
}

func validateCredentials(username, password string) error {
	fields := make(map[string]string)
	if len(username) < 3 {
		fields["username"] = "username must be at least 3 characters"
	}
	if len(password) < 8 {
		fields["password"] = "password must be at least 8 characters"
	}
	if len(fields) > 0 {
		return errdefs.ValidationFields("invalid credentials", fields)
	}
	return nil
}
