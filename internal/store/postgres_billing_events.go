package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ZrianRashid/ai-ugc-generator/internal/domain"
)

// RecordBillingEvent appends rec to the event log. The (source,
// provider_event_id) unique key turns redeliveries into a lookup of the first row.
func (r *PostgresRepository) RecordBillingEvent(ctx context.Context, rec *domain.BillingEventRecord) (*domain.BillingEventRecord, bool, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}

	stored := *rec
	err := r.db.QueryRow(ctx, `
		INSERT INTO billing_event_log (id, source, provider_event_id, event_type, payload)
		VALUES ($1, $2, $3, $4, $5::jsonb)
		ON CONFLICT (source, provider_event_id) DO NOTHING
		RETURNING processed, created_at`,
		rec.ID, rec.Source, rec.ProviderEventID, rec.EventType, jsonParam(rec.Payload),
	).Scan(&stored.Processed, &stored.CreatedAt)
	if err == nil {
		return &stored, false, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, fmt.Errorf("insert billing event: %w", err)
	}

	var outcome *string
	err = r.db.QueryRow(ctx, `
		SELECT id, processed, outcome, error, created_at
		FROM billing_event_log
		WHERE source = $1 AND provider_event_id = $2`,
		rec.Source, rec.ProviderEventID,
	).Scan(&stored.ID, &stored.Processed, &outcome, &stored.Error, &stored.CreatedAt)
	if err != nil {
		return nil, false, fmt.Errorf("load recorded billing event: %w", err)
	}
	if outcome != nil {
		stored.Outcome = *outcome
	}
	return &stored, true, nil
}

// MarkBillingEventProcessed stores the processing outcome of a recorded event.
// Failed outcomes stay unprocessed so a provider retry runs them again.
func (r *PostgresRepository) MarkBillingEventProcessed(ctx context.Context, id string, outcome string, processingErr *string) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE billing_event_log
		SET processed = $2, outcome = $3, error = $4, processed_at = NOW()
		WHERE id = $1`,
		id, processingErr == nil, outcome, processingErr)
	if err != nil {
		return fmt.Errorf("mark billing event %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}
