package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/mdm-api/internal/model"
	"github.com/jwalitptl/mdm-api/internal/repository"
	"github.com/jwalitptl/mdm-api/pkg/errors"
)

type encounterRepository struct {
	BaseRepository
}

func NewEncounterRepository(base BaseRepository) repository.EncounterRepository {
	return &encounterRepository{base}
}

// Columns the partial-update path is allowed to touch. Everything else is
// owned by a dedicated method (archival, quota) or immutable after create.
var encounterUpdatableColumns = map[string]bool{
	"status":          true,
	"current_section": true,
	"quick_note":      true,
	"section1":        true,
	"section2":        true,
	"section3":        true,
	"cdr_tracking":    true,
}

func (r *encounterRepository) Create(ctx context.Context, enc *model.Encounter) error {
	if err := enc.MarshalSections(); err != nil {
		return fmt.Errorf("failed to marshal encounter sections: %w", err)
	}

	query := `
		INSERT INTO encounters (
			id, user_id, status, mode, current_section, chief_complaint,
			quick_note, section1, section2, section3, cdr_tracking,
			shift_started_at, quota_counted, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`
	_, err := r.GetDB().ExecContext(ctx, query,
		enc.ID,
		enc.UserID,
		enc.Status,
		enc.Mode,
		enc.CurrentSection,
		enc.ChiefComplaint,
		enc.QuickNote,
		enc.Section1JSON,
		enc.Section2JSON,
		enc.Section3JSON,
		enc.CDRTrackingJSON,
		enc.ShiftStartedAt,
		enc.QuotaCounted,
		enc.CreatedAt,
		enc.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create encounter: %w", err)
	}
	return nil
}

func (r *encounterRepository) Get(ctx context.Context, id uuid.UUID) (*model.Encounter, error) {
	query := `
		SELECT * FROM encounters
		WHERE id = $1 AND deleted_at IS NULL
	`
	var enc model.Encounter
	if err := r.GetDB().GetContext(ctx, &enc, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NewNotFound("encounter", err)
		}
		return nil, fmt.Errorf("failed to get encounter: %w", err)
	}

	if err := enc.UnmarshalSections(); err != nil {
		return nil, fmt.Errorf("failed to unmarshal encounter sections: %w", err)
	}
	return &enc, nil
}

func (r *encounterRepository) GetForUser(ctx context.Context, userID, id uuid.UUID) (*model.Encounter, error) {
	enc, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if enc.UserID != userID {
		return nil, errors.NewNotFound("encounter", nil)
	}
	return enc, nil
}

func (r *encounterRepository) List(ctx context.Context, userID uuid.UUID) ([]*model.Encounter, error) {
	query := `
		SELECT * FROM encounters
		WHERE user_id = $1 AND deleted_at IS NULL
		ORDER BY created_at DESC
	`
	var encounters []*model.Encounter
	if err := r.GetDB().SelectContext(ctx, &encounters, query, userID); err != nil {
		return nil, fmt.Errorf("failed to list encounters: %w", err)
	}

	for _, enc := range encounters {
		if err := enc.UnmarshalSections(); err != nil {
			return nil, fmt.Errorf("failed to unmarshal encounter sections: %w", err)
		}
	}
	return encounters, nil
}

func (r *encounterRepository) UpdateFields(ctx context.Context, id uuid.UUID, fields map[string]interface{}) error {
	if len(fields) == 0 {
		return nil
	}

	// Deterministic column order keeps the generated SQL stable.
	cols := make([]string, 0, len(fields))
	for col := range fields {
		if !encounterUpdatableColumns[col] {
			return fmt.Errorf("column %q is not updatable", col)
		}
		cols = append(cols, col)
	}
	sort.Strings(cols)

	query := "UPDATE encounters SET updated_at = NOW()"
	args := []interface{}{}
	for _, col := range cols {
		args = append(args, fields[col])
		query += fmt.Sprintf(", %s = $%d", col, len(args))
	}
	args = append(args, id)
	query += fmt.Sprintf(" WHERE id = $%d AND deleted_at IS NULL", len(args))

	result, err := r.GetDB().ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update encounter: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return errors.NewNotFound("encounter", nil)
	}
	return nil
}

func (r *encounterRepository) UpdateCDRTracking(ctx context.Context, id uuid.UUID, tracking map[string]*model.CDRTrackingEntry) error {
	payload, err := json.Marshal(tracking)
	if err != nil {
		return fmt.Errorf("failed to marshal cdr tracking: %w", err)
	}
	return r.UpdateFields(ctx, id, map[string]interface{}{"cdr_tracking": payload})
}

func (r *encounterRepository) ListExpired(ctx context.Context, before time.Time) ([]*model.Encounter, error) {
	query := `
		SELECT * FROM encounters
		WHERE shift_started_at < $1
		  AND status NOT IN ($2, $3)
		  AND deleted_at IS NULL
	`
	var encounters []*model.Encounter
	err := r.GetDB().SelectContext(ctx, &encounters, query, before,
		model.EncounterStatusFinalized, model.EncounterStatusArchived)
	if err != nil {
		return nil, fmt.Errorf("failed to list expired encounters: %w", err)
	}

	for _, enc := range encounters {
		if err := enc.UnmarshalSections(); err != nil {
			return nil, fmt.Errorf("failed to unmarshal encounter sections: %w", err)
		}
	}
	return encounters, nil
}

func (r *encounterRepository) MarkArchived(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE encounters
		SET status = $1, updated_at = NOW()
		WHERE id = $2 AND status NOT IN ($3, $4) AND deleted_at IS NULL
	`
	_, err := r.GetDB().ExecContext(ctx, query,
		model.EncounterStatusArchived, id,
		model.EncounterStatusFinalized, model.EncounterStatusArchived)
	if err != nil {
		return fmt.Errorf("failed to archive encounter: %w", err)
	}
	return nil
}

func (r *encounterRepository) MarkQuotaCounted(ctx context.Context, id uuid.UUID, at time.Time) error {
	return r.WithTx(ctx, func(tx *sqlx.Tx) error {
		query := `
			UPDATE encounters
			SET quota_counted = TRUE, quota_counted_at = $1, updated_at = NOW()
			WHERE id = $2 AND quota_counted = FALSE AND deleted_at IS NULL
		`
		result, err := tx.ExecContext(ctx, query, at, id)
		if err != nil {
			return fmt.Errorf("failed to mark quota counted: %w", err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}
		if rows == 0 {
			// Already counted: the at-most-once invariant holds.
			return errors.NewConflict("encounter already counted against quota")
		}
		return nil
	})
}
