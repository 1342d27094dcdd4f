package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/jwalitptl/mdm-api/internal/model"
	"github.com/jwalitptl/mdm-api/internal/repository"
	"github.com/jwalitptl/mdm-api/pkg/errors"
)

type preferenceRepository struct {
	BaseRepository
}

func NewPreferenceRepository(base BaseRepository) repository.PreferenceRepository {
	return &preferenceRepository{base}
}

func (r *preferenceRepository) Get(ctx context.Context, userID uuid.UUID, key string) (*model.Preference, error) {
	query := `
		SELECT user_id, key, value, updated_at FROM preferences
		WHERE user_id = $1 AND key = $2
	`
	var pref model.Preference
	if err := r.GetDB().GetContext(ctx, &pref, query, userID, key); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NewNotFound("preference", err)
		}
		return nil, fmt.Errorf("failed to get preference: %w", err)
	}
	return &pref, nil
}

func (r *preferenceRepository) Set(ctx context.Context, pref *model.Preference) error {
	query := `
		INSERT INTO preferences (user_id, key, value, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (user_id, key)
		DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()
	`
	if _, err := r.GetDB().ExecContext(ctx, query, pref.UserID, pref.Key, pref.Value); err != nil {
		return fmt.Errorf("failed to set preference: %w", err)
	}
	return nil
}

func (r *preferenceRepository) ListKeys(ctx context.Context, userID uuid.UUID) ([]string, error) {
	query := `
		SELECT key FROM preferences
		WHERE user_id = $1
		ORDER BY key
	`
	var keys []string
	if err := r.GetDB().SelectContext(ctx, &keys, query, userID); err != nil {
		return nil, fmt.Errorf("failed to list preference keys: %w", err)
	}
	return keys, nil
}

func (r *preferenceRepository) Delete(ctx context.Context, userID uuid.UUID, key string) error {
	query := `DELETE FROM preferences WHERE user_id = $1 AND key = $2`
	if _, err := r.GetDB().ExecContext(ctx, query, userID, key); err != nil {
		return fmt.Errorf("failed to delete preference: %w", err)
	}
	return nil
}
