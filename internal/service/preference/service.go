package preference

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/mdm-api/internal/model"
	"github.com/jwalitptl/mdm-api/internal/repository"
	"github.com/jwalitptl/mdm-api/pkg/errors"
	"github.com/jwalitptl/mdm-api/pkg/logger"
)

const maxValueBytes = 256 * 1024

var emptyObject = json.RawMessage(`{}`)

// Service stores user preference blobs. Values are opaque JSON; reads
// never fail on corrupt or missing data, they degrade to an empty default
// so a bad blob cannot wedge the client.
type Service struct {
	repo   repository.PreferenceRepository
	logger *logger.Logger
}

func NewService(repo repository.PreferenceRepository, log *logger.Logger) *Service {
	return &Service{repo: repo, logger: log}
}

// Get returns the stored value, or the empty default when the key is
// missing or the stored blob does not parse.
func (s *Service) Get(ctx context.Context, userID uuid.UUID, key string) (json.RawMessage, error) {
	pref, err := s.repo.Get(ctx, userID, key)
	if err != nil {
		if errors.IsNotFound(err) {
			return emptyObject, nil
		}
		return nil, fmt.Errorf("failed to load preference: %w", err)
	}

	if !json.Valid(pref.Value) {
		s.logger.Warn("preference value is corrupt, returning default", "key", key, "user_id", userID.String())
		return emptyObject, nil
	}
	return pref.Value, nil
}

func (s *Service) Set(ctx context.Context, userID uuid.UUID, key string, value json.RawMessage) error {
	if strings.TrimSpace(key) == "" {
		return errors.NewValidation("preference key cannot be empty")
	}
	if len(value) > maxValueBytes {
		return errors.NewValidation("preference value too large")
	}
	if !json.Valid(value) {
		return errors.NewValidation("preference value must be valid JSON")
	}

	pref := &model.Preference{
		UserID:    userID,
		Key:       key,
		Value:     value,
		UpdatedAt: time.Now(),
	}
	if err := s.repo.Set(ctx, pref); err != nil {
		return fmt.Errorf("failed to save preference: %w", err)
	}
	return nil
}

func (s *Service) ListKeys(ctx context.Context, userID uuid.UUID) ([]string, error) {
	keys, err := s.repo.ListKeys(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list preference keys: %w", err)
	}
	return keys, nil
}

func (s *Service) Delete(ctx context.Context, userID uuid.UUID, key string) error {
	return s.repo.Delete(ctx, userID, key)
}
