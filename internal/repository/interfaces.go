package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/mdm-api/internal/model"
)

type EncounterRepository interface {
	Create(ctx context.Context, enc *model.Encounter) error
	Get(ctx context.Context, id uuid.UUID) (*model.Encounter, error)
	GetForUser(ctx context.Context, userID, id uuid.UUID) (*model.Encounter, error)
	List(ctx context.Context, userID uuid.UUID) ([]*model.Encounter, error)
	// UpdateFields writes only the named columns, leaving everything else
	// untouched. Callers use it instead of whole-row overwrites so
	// concurrent writers cannot clobber fields they did not mean to touch.
	UpdateFields(ctx context.Context, id uuid.UUID, fields map[string]interface{}) error
	// UpdateCDRTracking replaces the entire tracking map in one write.
	UpdateCDRTracking(ctx context.Context, id uuid.UUID, tracking map[string]*model.CDRTrackingEntry) error
	ListExpired(ctx context.Context, before time.Time) ([]*model.Encounter, error)
	MarkArchived(ctx context.Context, id uuid.UUID) error
	MarkQuotaCounted(ctx context.Context, id uuid.UUID, at time.Time) error
}

type OrderSetRepository interface {
	Create(ctx context.Context, set *model.OrderSet) error
	Get(ctx context.Context, id uuid.UUID) (*model.OrderSet, error)
	ListForUser(ctx context.Context, userID uuid.UUID) ([]*model.OrderSet, error)
	Update(ctx context.Context, set *model.OrderSet) error
	Delete(ctx context.Context, userID, id uuid.UUID) error
	IncrementUsage(ctx context.Context, id uuid.UUID) error
}

type PreferenceRepository interface {
	Get(ctx context.Context, userID uuid.UUID, key string) (*model.Preference, error)
	Set(ctx context.Context, pref *model.Preference) error
	ListKeys(ctx context.Context, userID uuid.UUID) ([]string, error)
	Delete(ctx context.Context, userID uuid.UUID, key string) error
}

type UserRepository interface {
	Create(ctx context.Context, user *model.User) error
	Get(ctx context.Context, id uuid.UUID) (*model.User, error)
	GetByEmail(ctx context.Context, email string) (*model.User, error)
	UpdateLastLogin(ctx context.Context, id uuid.UUID, at time.Time) error
}

type QuotaRepository interface {
	// IncrementUsage bumps the user's counter for the given month key
	// (YYYY-MM) and returns the new total.
	IncrementUsage(ctx context.Context, userID uuid.UUID, month string) (int, error)
	GetUsage(ctx context.Context, userID uuid.UUID, month string) (int, error)
}
