package auth

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/mdm-api/internal/model"
	"github.com/jwalitptl/mdm-api/internal/repository"
	"github.com/jwalitptl/mdm-api/pkg/auth"
	"github.com/jwalitptl/mdm-api/pkg/errors"
	"github.com/jwalitptl/mdm-api/pkg/logger"
	"github.com/jwalitptl/mdm-api/pkg/security"
)

const defaultMonthlyQuota = 150

// Migrator runs per-user import work on login. Best effort.
type Migrator interface {
	MigrateLegacy(ctx context.Context, userID uuid.UUID) error
}

type Service struct {
	users    repository.UserRepository
	jwtSvc   auth.JWTService
	hasher   security.PasswordHasher
	migrator Migrator
	logger   *logger.Logger
}

func NewService(users repository.UserRepository, jwtSvc auth.JWTService, hasher security.PasswordHasher, migrator Migrator, log *logger.Logger) *Service {
	return &Service{
		users:    users,
		jwtSvc:   jwtSvc,
		hasher:   hasher,
		migrator: migrator,
		logger:   log,
	}
}

type TokenResponse struct {
	AccessToken string      `json:"access_token"`
	User        *model.User `json:"user"`
}

func (s *Service) Register(ctx context.Context, emailAddr, name, password string) (*model.User, error) {
	emailAddr = strings.ToLower(strings.TrimSpace(emailAddr))
	if emailAddr == "" {
		return nil, errors.NewValidation("email cannot be empty")
	}
	if strings.TrimSpace(name) == "" {
		return nil, errors.NewValidation("name cannot be empty")
	}

	if existing, err := s.users.GetByEmail(ctx, emailAddr); err == nil && existing != nil {
		return nil, errors.NewConflict("email already registered")
	} else if err != nil && !errors.IsNotFound(err) {
		return nil, fmt.Errorf("failed to check existing user: %w", err)
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, errors.NewValidation(err.Error())
	}

	now := time.Now()
	user := &model.User{
		Email:        emailAddr,
		Name:         strings.TrimSpace(name),
		PasswordHash: hash,
		MonthlyQuota: defaultMonthlyQuota,
	}
	user.ID = uuid.New()
	user.CreatedAt = now
	user.UpdatedAt = now

	if err := s.users.Create(ctx, user); err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return user, nil
}

func (s *Service) Login(ctx context.Context, emailAddr, password string) (*TokenResponse, error) {
	emailAddr = strings.ToLower(strings.TrimSpace(emailAddr))

	user, err := s.users.GetByEmail(ctx, emailAddr)
	if err != nil {
		if errors.IsNotFound(err) {
			return nil, errors.Unauthorized(nil)
		}
		return nil, fmt.Errorf("failed to load user: %w", err)
	}

	if err := s.hasher.Compare(user.PasswordHash, password); err != nil {
		return nil, errors.Unauthorized(nil)
	}

	token, err := s.jwtSvc.GenerateAccessToken(user.ID, user.Email)
	if err != nil {
		return nil, fmt.Errorf("failed to generate token: %w", err)
	}

	if err := s.users.UpdateLastLogin(ctx, user.ID, time.Now()); err != nil {
		s.logger.Error(err, "failed to stamp last login", "user_id", user.ID.String())
	}

	// One-shot import of browser-era order sets. Login still succeeds if
	// the import fails; it retries on the next login.
	if s.migrator != nil {
		if err := s.migrator.MigrateLegacy(ctx, user.ID); err != nil {
			s.logger.Error(err, "legacy order set migration failed", "user_id", user.ID.String())
		}
	}

	return &TokenResponse{AccessToken: token, User: user}, nil
}

func (s *Service) ValidateToken(token string) (*auth.Claims, error) {
	claims, err := s.jwtSvc.ValidateToken(token)
	if err != nil {
		return nil, errors.Unauthorized(err)
	}
	return claims, nil
}
