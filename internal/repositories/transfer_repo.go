package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mortgage-marketplace/backend/internal/models"
	"github.com/shopspring/decimal"
)

type TransferRepo struct {
	q querier
}

func NewTransferRepo(q querier) *TransferRepo {
	return &TransferRepo{q: q}
}

const transferColumns = `id, deal_id, from_owner_id, to_owner_id, percentage::text, status, maker_id,
	rejection_count, rejection_reason, escalated, escalated_at, created_at, reviewed_at, reviewed_by,
	resolved_by, resolution`

func scanTransfer(row pgx.Row) (*models.PendingOwnershipTransfer, error) {
	var (
		t           models.PendingOwnershipTransfer
		pct, status string
	)
	if err := row.Scan(&t.ID, &t.DealID, &t.FromOwnerID, &t.ToOwnerID, &pct, &status, &t.MakerID,
		&t.RejectionCount, &t.RejectionReason, &t.Escalated, &t.EscalatedAt, &t.CreatedAt, &t.ReviewedAt, &t.ReviewedBy,
		&t.ResolvedBy, &t.Resolution); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, err
	}
	t.Status = models.TransferStatus(status)
	p, err := decimal.NewFromString(pct)
	if err != nil {
		return nil, fmt.Errorf("ownership_transfers: parse percentage: %w", err)
	}
	t.Percentage = p
	return &t, nil
}

func (r *TransferRepo) Create(ctx context.Context, t *models.PendingOwnershipTransfer) error {
	err := r.q.QueryRow(ctx, `
		INSERT INTO ownership_transfers (deal_id, from_owner_id, to_owner_id, percentage, status, maker_id, created_at)
		VALUES ($1, $2, $3, $4::numeric, $5, $6, $7)
		RETURNING id
	`, t.DealID, t.FromOwnerID, t.ToOwnerID, t.Percentage.String(), string(t.Status), t.MakerID, t.CreatedAt).Scan(&t.ID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrOpenTransferExists
		}
		return fmt.Errorf("ownership_transfers: insert: %w", err)
	}
	return nil
}

func (r *TransferRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.PendingOwnershipTransfer, error) {
	return scanTransfer(r.q.QueryRow(ctx, `SELECT `+transferColumns+` FROM ownership_transfers WHERE id = $1`, id))
}

func (r *TransferRepo) GetPendingForDeal(ctx context.Context, dealID uuid.UUID) (*models.PendingOwnershipTransfer, error) {
	return scanTransfer(r.q.QueryRow(ctx, `
		SELECT `+transferColumns+` FROM ownership_transfers
		WHERE deal_id = $1 AND status = 'pending'
	`, dealID))
}

// UpdateReview is a compare-and-set on (status = pending, rejection_count = expected).
func (r *TransferRepo) UpdateReview(ctx context.Context, t *models.PendingOwnershipTransfer, expectedRejections int) error {
	tag, err := r.q.Exec(ctx, `
		UPDATE ownership_transfers
		SET status = $1,
		    rejection_count = $2,
		    rejection_reason = $3,
		    escalated = $4,
		    escalated_at = $5,
		    reviewed_at = $6,
		    reviewed_by = $7,
		    resolved_by = $8,
		    resolution = $9
		WHERE id = $10 AND status = 'pending' AND rejection_count = $11
	`, string(t.Status), t.RejectionCount, t.RejectionReason, t.Escalated, t.EscalatedAt, t.ReviewedAt, t.ReviewedBy,
		t.ResolvedBy, t.Resolution, t.ID, expectedRejections)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	if _, err := r.GetByID(ctx, t.ID); err != nil {
		return err
	}
	return models.ErrConflict
}

func (r *TransferRepo) List(ctx context.Context, f TransferFilter) ([]models.PendingOwnershipTransfer, error) {
	query := `SELECT ` + transferColumns + ` FROM ownership_transfers WHERE TRUE`
	args := []any{}
	argIdx := 1

	if f.DealID != nil {
		query += fmt.Sprintf(" AND deal_id = $%d", argIdx)
		args = append(args, *f.DealID)
		argIdx++
	}
	if f.Status != nil {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, string(*f.Status))
		argIdx++
	}
	if f.EscalatedOnly {
		query += " AND escalated"
	}
	if f.ReviewedSince != nil {
		query += fmt.Sprintf(" AND reviewed_at >= $%d", argIdx)
		args = append(args, *f.ReviewedSince)
	}
	query += " ORDER BY created_at ASC"

	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.PendingOwnershipTransfer
	for rows.Next() {
		t, err := scanTransfer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}
