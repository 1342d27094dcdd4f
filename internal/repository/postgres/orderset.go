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

type orderSetRepository struct {
	BaseRepository
}

func NewOrderSetRepository(base BaseRepository) repository.OrderSetRepository {
	return &orderSetRepository{base}
}

func (r *orderSetRepository) Create(ctx context.Context, set *model.OrderSet) error {
	if err := set.MarshalLists(); err != nil {
		return fmt.Errorf("failed to marshal order set lists: %w", err)
	}

	query := `
		INSERT INTO order_sets (
			id, user_id, name, tests, tags, usage_count, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := r.GetDB().ExecContext(ctx, query,
		set.ID,
		set.UserID,
		set.Name,
		set.TestsJSON,
		set.TagsJSON,
		set.UsageCount,
		set.CreatedAt,
		set.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create order set: %w", err)
	}
	return nil
}

func (r *orderSetRepository) Get(ctx context.Context, id uuid.UUID) (*model.OrderSet, error) {
	query := `
		SELECT * FROM order_sets
		WHERE id = $1 AND deleted_at IS NULL
	`
	var set model.OrderSet
	if err := r.GetDB().GetContext(ctx, &set, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NewNotFound("order set", err)
		}
		return nil, fmt.Errorf("failed to get order set: %w", err)
	}
	if err := set.UnmarshalLists(); err != nil {
		return nil, fmt.Errorf("failed to unmarshal order set lists: %w", err)
	}
	return &set, nil
}

func (r *orderSetRepository) ListForUser(ctx context.Context, userID uuid.UUID) ([]*model.OrderSet, error) {
	// created_at ordering keeps matcher tie-breaks stable.
	query := `
		SELECT * FROM order_sets
		WHERE user_id = $1 AND deleted_at IS NULL
		ORDER BY created_at ASC
	`
	var sets []*model.OrderSet
	if err := r.GetDB().SelectContext(ctx, &sets, query, userID); err != nil {
		return nil, fmt.Errorf("failed to list order sets: %w", err)
	}
	for _, set := range sets {
		if err := set.UnmarshalLists(); err != nil {
			return nil, fmt.Errorf("failed to unmarshal order set lists: %w", err)
		}
	}
	return sets, nil
}

func (r *orderSetRepository) Update(ctx context.Context, set *model.OrderSet) error {
	if err := set.MarshalLists(); err != nil {
		return fmt.Errorf("failed to marshal order set lists: %w", err)
	}

	query := `
		UPDATE order_sets SET
			name = $1, tests = $2, tags = $3, updated_at = NOW()
		WHERE id = $4 AND user_id = $5 AND deleted_at IS NULL
	`
	result, err := r.GetDB().ExecContext(ctx, query,
		set.Name, set.TestsJSON, set.TagsJSON, set.ID, set.UserID)
	if err != nil {
		return fmt.Errorf("failed to update order set: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return errors.NewNotFound("order set", nil)
	}
	return nil
}

func (r *orderSetRepository) Delete(ctx context.Context, userID, id uuid.UUID) error {
	query := `
		UPDATE order_sets
		SET deleted_at = NOW()
		WHERE id = $1 AND user_id = $2 AND deleted_at IS NULL
	`
	result, err := r.GetDB().ExecContext(ctx, query, id, userID)
	if err != nil {
		return fmt.Errorf("failed to delete order set: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return errors.NewNotFound("order set", nil)
	}
	return nil
}

func (r *orderSetRepository) IncrementUsage(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE order_sets
		SET usage_count = usage_count + 1, updated_at = NOW()
		WHERE id = $1 AND deleted_at IS NULL
	`
	if _, err := r.GetDB().ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("failed to increment order set usage: %w", err)
	}
	return nil
}
