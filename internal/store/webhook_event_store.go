package store

import (
	"context"
	"database/sql"
	"errors"
)

// WebhookEventStore is the append-only record of provider callbacks. The
// primary key (provider, provider_event_id) is the dedup key.
type WebhookEventStore struct {
	db DB
}

type ProcessedWebhookEvent struct {
	Provider        string `db:"provider"`
	ProviderEventID string `db:"provider_event_id"`
	Outcome         string `db:"outcome"`
	ReceivedAt      any    `db:"received_at"`
}

const (
	WebhookOutcomeApplied    = "applied"
	WebhookOutcomeUnresolved = "unresolved"
)

func NewWebhookEventStore(db DB) *WebhookEventStore {
	return &WebhookEventStore{db: db}
}

// Reserve claims the event for application inside the caller's transaction.
// It returns false when an identical event was already applied, so the
// caller must short-circuit without touching the ledger. An event previously
// recorded as unresolved may be claimed again.
func (s *WebhookEventStore) Reserve(ctx context.Context, tx Getter, provider, eventID string) (bool, error) {
	var outcome string
	err := tx.GetContext(ctx, &outcome, `
		INSERT INTO processed_webhook_events (provider, provider_event_id, outcome)
		VALUES ($1, $2, 'applied')
		ON CONFLICT (provider, provider_event_id) DO UPDATE
		SET outcome = 'applied'
		WHERE processed_webhook_events.outcome <> 'applied'
		RETURNING outcome
	`, provider, eventID)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// RecordUnresolved files the event for manual reconciliation after the
// ledger application failed and its transaction rolled back. Runs outside
// any transaction so the record survives.
func (s *WebhookEventStore) RecordUnresolved(ctx context.Context, provider, eventID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO processed_webhook_events (provider, provider_event_id, outcome)
		VALUES ($1, $2, 'unresolved')
		ON CONFLICT (provider, provider_event_id) DO NOTHING
	`, provider, eventID)
	return err
}

func (s *WebhookEventStore) ListUnresolved(ctx context.Context, limit int) ([]ProcessedWebhookEvent, error) {
	var rows []ProcessedWebhookEvent
	err := s.db.SelectContext(ctx, &rows, `
		SELECT provider, provider_event_id, outcome, received_at
		FROM processed_webhook_events
		WHERE outcome = 'unresolved'
		ORDER BY received_at
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	return rows, nil
}
