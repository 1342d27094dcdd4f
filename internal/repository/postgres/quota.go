package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/jwalitptl/mdm-api/internal/repository"
)

type quotaRepository struct {
	BaseRepository
}

func NewQuotaRepository(base BaseRepository) repository.QuotaRepository {
	return &quotaRepository{base}
}

func (r *quotaRepository) IncrementUsage(ctx context.Context, userID uuid.UUID, month string) (int, error) {
	query := `
		INSERT INTO generation_usage (user_id, month, used)
		VALUES ($1, $2, 1)
		ON CONFLICT (user_id, month)
		DO UPDATE SET used = generation_usage.used + 1
		RETURNING used
	`
	var used int
	if err := r.GetDB().GetContext(ctx, &used, query, userID, month); err != nil {
		return 0, fmt.Errorf("failed to increment generation usage: %w", err)
	}
	return used, nil
}

func (r *quotaRepository) GetUsage(ctx context.Context, userID uuid.UUID, month string) (int, error) {
	query := `SELECT used FROM generation_usage WHERE user_id = $1 AND month = $2`
	var used int
	if err := r.GetDB().GetContext(ctx, &used, query, userID, month); err != nil {
		if err == sql.ErrNoRows {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to get generation usage: %w", err)
	}
	return used, nil
}
