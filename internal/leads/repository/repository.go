// Package repository persists leads, snapshots, per-lead conversational
// state, journey events and the human review queue.
package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"leadflow_backend/internal/engine/domain"
)

var ErrNotFound = errors.New("lead not found")

type Repository struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// UpsertLead finds the lead for a platform user, creating it on the first
// inbound message. The display name is refreshed when the platform sends a
// newer one.
func (r *Repository) UpsertLead(ctx context.Context, platform, platformUserID, name string) (*domain.Lead, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO leads (id, platform, platform_user_id, name)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (platform, platform_user_id) DO UPDATE
		SET name = COALESCE(NULLIF(EXCLUDED.name, ''), leads.name),
		    updated_at = now()
		RETURNING id, platform, platform_user_id, name
	`, uuid.New(), platform, platformUserID, name)

	var lead domain.Lead
	if err := row.Scan(&lead.ID, &lead.Platform, &lead.PlatformUserID, &lead.Name); err != nil {
		return nil, fmt.Errorf("upsert lead: %w", err)
	}
	return &lead, nil
}

func (r *Repository) GetLead(ctx context.Context, id string) (*domain.Lead, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, platform, platform_user_id, name
		FROM leads WHERE id = $1
	`, id)

	var lead domain.Lead
	if err := row.Scan(&lead.ID, &lead.Platform, &lead.PlatformUserID, &lead.Name); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get lead: %w", err)
	}
	return &lead, nil
}

// GetSnapshot loads the stored fact snapshot; a lead without one gets the
// empty snapshot.
func (r *Repository) GetSnapshot(ctx context.Context, leadID string) (domain.Snapshot, error) {
	var raw []byte
	err := r.pool.QueryRow(ctx, `
		SELECT data FROM lead_snapshots WHERE lead_id = $1
	`, leadID).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.NewSnapshot(), nil
	}
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("get snapshot: %w", err)
	}

	snap := domain.NewSnapshot()
	if err := json.Unmarshal(raw, &snap); err != nil {
		return domain.Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	return snap, nil
}

func (r *Repository) SaveSnapshot(ctx context.Context, leadID string, snap domain.Snapshot) error {
	raw, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO lead_snapshots (lead_id, data, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (lead_id) DO UPDATE SET data = EXCLUDED.data, updated_at = now()
	`, leadID, raw)
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

// GetContextState loads the conversational state, nil when none exists yet.
func (r *Repository) GetContextState(ctx context.Context, leadID string) (*domain.ContextState, error) {
	var raw []byte
	err := r.pool.QueryRow(ctx, `
		SELECT data FROM lead_context WHERE lead_id = $1
	`, leadID).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get context state: %w", err)
	}

	var state domain.ContextState
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, fmt.Errorf("decode context state: %w", err)
	}
	return &state, nil
}

func (r *Repository) SaveContextState(ctx context.Context, leadID string, state *domain.ContextState) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode context state: %w", err)
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO lead_context (lead_id, data, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (lead_id) DO UPDATE SET data = EXCLUDED.data, updated_at = now()
	`, leadID, raw)
	if err != nil {
		return fmt.Errorf("save context state: %w", err)
	}
	return nil
}

// RecordJourneyEvent appends one entry to the lead's journey log.
func (r *Repository) RecordJourneyEvent(ctx context.Context, leadID, kind string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode journey payload: %w", err)
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO journey_events (lead_id, kind, payload)
		VALUES ($1, $2, $3)
	`, leadID, kind, raw)
	if err != nil {
		return fmt.Errorf("record journey event: %w", err)
	}
	return nil
}

// JourneyEvent is one recorded pipeline occurrence for a lead.
type JourneyEvent struct {
	ID        int64           `json:"id"`
	LeadID    string          `json:"leadId"`
	Kind      string          `json:"kind"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"createdAt"`
}

func (r *Repository) ListJourneyEvents(ctx context.Context, leadID string, limit int) ([]JourneyEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, lead_id, kind, payload, created_at
		FROM journey_events
		WHERE lead_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, leadID, limit)
	if err != nil {
		return nil, fmt.Errorf("list journey events: %w", err)
	}
	defer rows.Close()

	items := make([]JourneyEvent, 0)
	for rows.Next() {
		var ev JourneyEvent
		if err := rows.Scan(&ev.ID, &ev.LeadID, &ev.Kind, &ev.Payload, &ev.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, ev)
	}
	return items, rows.Err()
}

// ReviewItem is a decision parked for human review.
type ReviewItem struct {
	ID         int64      `json:"id"`
	LeadID     string     `json:"leadId"`
	DecisionID string     `json:"decisionId"`
	Reason     string     `json:"reason"`
	Message    string     `json:"message"`
	Status     string     `json:"status"`
	CreatedAt  time.Time  `json:"createdAt"`
	ResolvedAt *time.Time `json:"resolvedAt,omitempty"`
}

func (r *Repository) EnqueueReview(ctx context.Context, leadID, decisionID, reason, message string) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO review_queue (lead_id, decision_id, reason, message, status)
		VALUES ($1, $2, $3, $4, 'pending')
	`, leadID, decisionID, reason, message)
	if err != nil {
		return fmt.Errorf("enqueue review: %w", err)
	}
	return nil
}

func (r *Repository) ListPendingReviews(ctx context.Context, limit int) ([]ReviewItem, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, lead_id, decision_id, reason, message, status, created_at, resolved_at
		FROM review_queue
		WHERE status = 'pending'
		ORDER BY created_at ASC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list pending reviews: %w", err)
	}
	defer rows.Close()

	items := make([]ReviewItem, 0)
	for rows.Next() {
		var item ReviewItem
		if err := rows.Scan(&item.ID, &item.LeadID, &item.DecisionID, &item.Reason, &item.Message, &item.Status, &item.CreatedAt, &item.ResolvedAt); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (r *Repository) ResolveReview(ctx context.Context, id int64, status string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE review_queue
		SET status = $2, resolved_at = now()
		WHERE id = $1 AND status = 'pending'
	`, id, status)
	if err != nil {
		return fmt.Errorf("resolve review: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ExpireWaitingStates clears waiting entries whose deadline passed, for the
// background sweep. Returns how many rows were touched.
func (r *Repository) ExpireWaitingStates(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE lead_context
		SET data = data - 'waiting', updated_at = now()
		WHERE data ? 'waiting'
		  AND (data->'waiting'->>'expiresAt')::timestamptz <= $1
	`, now)
	if err != nil {
		return 0, fmt.Errorf("expire waiting states: %w", err)
	}
	return tag.RowsAffected(), nil
}
