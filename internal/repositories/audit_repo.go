package repositories

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/mortgage-marketplace/backend/internal/models"
)

// AuditRepo stores the deal state history and the alert feed.
type AuditRepo struct {
	q querier
}

func NewAuditRepo(q querier) *AuditRepo {
	return &AuditRepo{q: q}
}

const historyColumns = `deal_id, from_state, to_state, event, actor_id, actor_type, notes, manual_override, created_at`

func (r *AuditRepo) AppendHistory(ctx context.Context, e models.HistoryEntry) error {
	_, err := r.q.Exec(ctx, `
		INSERT INTO deal_state_history (deal_id, from_state, to_state, event, actor_id, actor_type, notes, manual_override, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, e.DealID, string(e.FromState), string(e.ToState), string(e.Event), e.Actor.ID, e.Actor.Type, e.Notes, e.ManualOverride, e.Timestamp)
	return err
}

func (r *AuditRepo) scanHistory(ctx context.Context, sql string, args ...any) ([]models.HistoryEntry, error) {
	rows, err := r.q.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []models.HistoryEntry
	for rows.Next() {
		var (
			e                   models.HistoryEntry
			from, to, eventKind string
		)
		if err := rows.Scan(&e.DealID, &from, &to, &eventKind, &e.Actor.ID, &e.Actor.Type, &e.Notes, &e.ManualOverride, &e.Timestamp); err != nil {
			return nil, err
		}
		e.FromState = models.DealState(from)
		e.ToState = models.DealState(to)
		e.Event = models.EventKind(eventKind)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// HistoryForDeal returns the deal's transitions oldest first.
func (r *AuditRepo) HistoryForDeal(ctx context.Context, dealID uuid.UUID) ([]models.HistoryEntry, error) {
	return r.scanHistory(ctx, `
		SELECT `+historyColumns+` FROM deal_state_history
		WHERE deal_id = $1 ORDER BY id ASC
	`, dealID)
}

// Recent returns the newest transitions across every deal.
func (r *AuditRepo) Recent(ctx context.Context, limit int) ([]models.HistoryEntry, error) {
	if limit <= 0 {
		limit = 20
	}
	return r.scanHistory(ctx, `
		SELECT `+historyColumns+` FROM deal_state_history
		ORDER BY id DESC LIMIT $1
	`, limit)
}

// InsertAlert stores a.CreatedAt as given (now() when zero). seq breaks ties
// between alerts written in the same instant.
func (r *AuditRepo) InsertAlert(ctx context.Context, a *models.Alert) error {
	var at *time.Time
	if !a.CreatedAt.IsZero() {
		at = &a.CreatedAt
	}
	return r.q.QueryRow(ctx, `
		INSERT INTO alerts (type, deal_id, transfer_id, actor_id, actor_type, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, COALESCE($7, now()))
		RETURNING id, created_at
	`, string(a.Type), a.DealID, a.TransferID, a.Actor.ID, a.Actor.Type, a.Payload, at).Scan(&a.ID, &a.CreatedAt)
}

func (r *AuditRepo) ListAlerts(ctx context.Context, dealID *uuid.UUID, limit int) ([]models.Alert, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.q.Query(ctx, `
		SELECT id, type, deal_id, transfer_id, actor_id, actor_type, payload, created_at
		FROM alerts
		WHERE ($1::uuid IS NULL OR deal_id = $1)
		ORDER BY created_at DESC, seq DESC LIMIT $2
	`, dealID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var alerts []models.Alert
	for rows.Next() {
		var (
			a   models.Alert
			typ string
		)
		if err := rows.Scan(&a.ID, &typ, &a.DealID, &a.TransferID, &a.Actor.ID, &a.Actor.Type, &a.Payload, &a.CreatedAt); err != nil {
			return nil, err
		}
		a.Type = models.AlertType(typ)
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}
