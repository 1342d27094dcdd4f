package orderset

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

const maxNameLength = 120

// Service manages user order sets: CRUD, suggestion matching, usage
// accounting and the one-shot import of sets stored in the browser-era
// preference blob.
type Service struct {
	repo   repository.OrderSetRepository
	prefs  repository.PreferenceRepository
	logger *logger.Logger
}

func NewService(repo repository.OrderSetRepository, prefs repository.PreferenceRepository, log *logger.Logger) *Service {
	return &Service{
		repo:   repo,
		prefs:  prefs,
		logger: log,
	}
}

func (s *Service) Create(ctx context.Context, userID uuid.UUID, name string, testIDs, tags []string) (*model.OrderSet, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.NewValidation("order set name cannot be empty")
	}
	if len(name) > maxNameLength {
		return nil, errors.NewValidation(fmt.Sprintf("order set name cannot exceed %d characters", maxNameLength))
	}
	if len(testIDs) == 0 {
		return nil, errors.NewValidation("order set must contain at least one test")
	}

	now := time.Now()
	set := &model.OrderSet{
		UserID:  userID,
		Name:    name,
		TestIDs: dedupe(testIDs),
		Tags:    dedupe(tags),
	}
	set.ID = uuid.New()
	set.CreatedAt = now
	set.UpdatedAt = now

	if err := s.repo.Create(ctx, set); err != nil {
		return nil, fmt.Errorf("failed to create order set: %w", err)
	}
	return set, nil
}

func (s *Service) Get(ctx context.Context, userID, id uuid.UUID) (*model.OrderSet, error) {
	set, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if set.UserID != userID {
		return nil, errors.NewNotFound("order set", nil)
	}
	return set, nil
}

func (s *Service) List(ctx context.Context, userID uuid.UUID) ([]*model.OrderSet, error) {
	return s.repo.ListForUser(ctx, userID)
}

func (s *Service) Update(ctx context.Context, userID, id uuid.UUID, name string, testIDs, tags []string) (*model.OrderSet, error) {
	set, err := s.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}

	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.NewValidation("order set name cannot be empty")
	}
	if len(testIDs) == 0 {
		return nil, errors.NewValidation("order set must contain at least one test")
	}

	set.Name = name
	set.TestIDs = dedupe(testIDs)
	set.Tags = dedupe(tags)
	set.UpdatedAt = time.Now()

	if err := s.repo.Update(ctx, set); err != nil {
		return nil, fmt.Errorf("failed to update order set: %w", err)
	}
	return set, nil
}

func (s *Service) Delete(ctx context.Context, userID, id uuid.UUID) error {
	return s.repo.Delete(ctx, userID, id)
}

// Suggest matches the user's order sets against the differential text.
// Returns nil with no error when nothing matches.
func (s *Service) Suggest(ctx context.Context, userID uuid.UUID, differentialText string) (*model.OrderSet, error) {
	sets, err := s.repo.ListForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list order sets: %w", err)
	}
	return Match(sets, differentialText), nil
}

// RecordUsage bumps the usage counter for an applied set. Best effort:
// failures are logged and swallowed because usage stats never block the
// workup.
func (s *Service) RecordUsage(ctx context.Context, id uuid.UUID) {
	if err := s.repo.IncrementUsage(ctx, id); err != nil {
		s.logger.Error(err, "failed to record order set usage", "order_set_id", id.String())
	}
}

// legacyOrderSet is the shape the browser clients stored under the
// order-sets preference key.
type legacyOrderSet struct {
	Name  string   `json:"name"`
	Tests []string `json:"tests"`
	Tags  []string `json:"tags"`
}

// MigrateLegacy imports order sets from the preference blob exactly once
// per user. A marker preference records completion so re-login never
// duplicates the sets. Corrupt blobs are skipped, not fatal.
func (s *Service) MigrateLegacy(ctx context.Context, userID uuid.UUID) error {
	if marker, err := s.prefs.Get(ctx, userID, model.PrefKeyOrderSetsMigrated); err == nil && marker != nil {
		return nil
	} else if err != nil && !errors.IsNotFound(err) {
		return fmt.Errorf("failed to check migration marker: %w", err)
	}

	pref, err := s.prefs.Get(ctx, userID, model.PrefKeyOrderSets)
	if err != nil {
		if errors.IsNotFound(err) {
			return s.markMigrated(ctx, userID)
		}
		return fmt.Errorf("failed to load legacy order sets: %w", err)
	}

	var legacy []legacyOrderSet
	if err := json.Unmarshal(pref.Value, &legacy); err != nil {
		s.logger.Warn("legacy order set blob is corrupt, skipping import", "user_id", userID.String())
		return s.markMigrated(ctx, userID)
	}

	imported := 0
	for _, l := range legacy {
		if strings.TrimSpace(l.Name) == "" || len(l.Tests) == 0 {
			continue
		}
		if _, err := s.Create(ctx, userID, l.Name, l.Tests, l.Tags); err != nil {
			return fmt.Errorf("failed to import legacy order set %q: %w", l.Name, err)
		}
		imported++
	}

	s.logger.Info("imported legacy order sets", "user_id", userID.String(), "count", imported)
	return s.markMigrated(ctx, userID)
}

func (s *Service) markMigrated(ctx context.Context, userID uuid.UUID) error {
	marker := &model.Preference{
		UserID:    userID,
		Key:       model.PrefKeyOrderSetsMigrated,
		Value:     json.RawMessage(`true`),
		UpdatedAt: time.Now(),
	}
	if err := s.prefs.Set(ctx, marker); err != nil {
		return fmt.Errorf("failed to set migration marker: %w", err)
	}
	return nil
}

func dedupe(items []string) []string {
	seen := make(map[string]bool, len(items))
	out := make([]string, 0, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" || seen[item] {
			continue
		}
		seen[item] = true
		out = append(out, item)
	}
	return out
}
