package quota

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"

	"github.com/jwalitptl/mdm-api/internal/model"
	"github.com/jwalitptl/mdm-api/internal/repository"
	"github.com/jwalitptl/mdm-api/pkg/logger"
	"github.com/jwalitptl/mdm-api/pkg/metrics"
)

const (
	cacheTTL     = 5 * time.Minute
	cacheCleanup = 10 * time.Minute
)

// Service tracks monthly finalization quotas. The database counter is the
// source of truth; the cache only serves quick usage reads between
// charges. An encounter is charged at most once across retries, enforced
// by the quota-counted flag on the encounter row.
type Service struct {
	encounters   repository.EncounterRepository
	usage        repository.QuotaRepository
	monthlyQuota int
	cache        *gocache.Cache
	logger       *logger.Logger
	metrics      *metrics.Metrics
}

func NewService(encounters repository.EncounterRepository, usage repository.QuotaRepository, monthlyQuota int, log *logger.Logger, m *metrics.Metrics) *Service {
	return &Service{
		encounters:   encounters,
		usage:        usage,
		monthlyQuota: monthlyQuota,
		cache:        gocache.New(cacheTTL, cacheCleanup),
		logger:       log,
		metrics:      m,
	}
}

// ChargeEncounter counts the encounter against its owner's monthly quota.
// Idempotent per encounter: the quota-counted flag flips first, and a
// conflict there means another charge already landed, so the usage counter
// is left alone.
func (s *Service) ChargeEncounter(ctx context.Context, enc *model.Encounter) (int, error) {
	if enc.QuotaCounted {
		return s.Remaining(ctx, enc.UserID)
	}

	now := time.Now()
	if err := s.encounters.MarkQuotaCounted(ctx, enc.ID, now); err != nil {
		return 0, fmt.Errorf("failed to mark encounter quota counted: %w", err)
	}
	enc.QuotaCounted = true
	enc.QuotaCountedAt = &now

	used, err := s.usage.IncrementUsage(ctx, enc.UserID, monthKey(now))
	if err != nil {
		// The flag is set, so the charge will not repeat. Usage drifts low
		// by one until the next reconciliation read.
		return 0, fmt.Errorf("failed to increment quota usage: %w", err)
	}

	s.cache.Set(cacheKey(enc.UserID, monthKey(now)), used, cacheTTL)
	s.metrics.QuotaCharges.Inc()

	remaining := s.monthlyQuota - used
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

// Remaining returns how many finalizations the user has left this month.
func (s *Service) Remaining(ctx context.Context, userID uuid.UUID) (int, error) {
	month := monthKey(time.Now())
	key := cacheKey(userID, month)

	var used int
	if cached, ok := s.cache.Get(key); ok {
		used = cached.(int)
	} else {
		var err error
		used, err = s.usage.GetUsage(ctx, userID, month)
		if err != nil {
			return 0, fmt.Errorf("failed to read quota usage: %w", err)
		}
		s.cache.Set(key, used, cacheTTL)
	}

	remaining := s.monthlyQuota - used
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

// Limit returns the configured monthly quota.
func (s *Service) Limit() int {
	return s.monthlyQuota
}

func monthKey(t time.Time) string {
	return t.UTC().Format("2006-01")
}

func cacheKey(userID uuid.UUID, month string) string {
	return userID.String() + ":" + month
}
