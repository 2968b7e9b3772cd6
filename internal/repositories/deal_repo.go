package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mortgage-marketplace/backend/internal/models"
	"github.com/shopspring/decimal"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type DealRepo struct {
	q querier
}

func NewDealRepo(q querier) *DealRepo {
	return &DealRepo{q: q}
}

const dealColumns = `id, listing_id, seller_id, investor_id, ownership_percentage::text, deal_value::text,
	current_state, version, created_at, updated_at, completed_at`

func scanDeal(row pgx.Row) (*models.Deal, error) {
	var (
		d          models.Deal
		state      string
		pct, value string
	)
	if err := row.Scan(&d.ID, &d.ListingID, &d.SellerID, &d.InvestorID, &pct, &value,
		&state, &d.Version, &d.CreatedAt, &d.UpdatedAt, &d.CompletedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, err
	}
	d.CurrentState = models.DealState(state)
	var err error
	if d.OwnershipPercentage, err = decimal.NewFromString(pct); err != nil {
		return nil, fmt.Errorf("deals: parse ownership_percentage: %w", err)
	}
	if d.DealValue, err = decimal.NewFromString(value); err != nil {
		return nil, fmt.Errorf("deals: parse deal_value: %w", err)
	}
	return &d, nil
}

func (r *DealRepo) Create(ctx context.Context, d *models.Deal) error {
	if d.CurrentState == "" {
		d.CurrentState = models.InitialDealState
	}
	return r.q.QueryRow(ctx, `
		INSERT INTO deals (listing_id, seller_id, investor_id, ownership_percentage, deal_value, current_state)
		VALUES ($1, $2, $3, $4::numeric, $5::numeric, $6)
		RETURNING id, version, created_at, updated_at
	`, d.ListingID, d.SellerID, d.InvestorID, d.OwnershipPercentage.String(), d.DealValue.String(), string(d.CurrentState),
	).Scan(&d.ID, &d.Version, &d.CreatedAt, &d.UpdatedAt)
}

func (r *DealRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Deal, error) {
	return scanDeal(r.q.QueryRow(ctx, `SELECT `+dealColumns+` FROM deals WHERE id = $1`, id))
}

func (r *DealRepo) List(ctx context.Context, f DealFilter) ([]models.Deal, error) {
	query := `SELECT ` + dealColumns + ` FROM deals`
	args := []any{}
	argIdx := 1

	if f.State != nil {
		query += fmt.Sprintf(" WHERE current_state = $%d", argIdx)
		args = append(args, string(*f.State))
		argIdx++
	}
	query += " ORDER BY created_at DESC"
	if !f.Unbounded {
		query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", argIdx, argIdx+1)
		args = append(args, f.limit(), f.Offset)
	}

	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var deals []models.Deal
	for rows.Next() {
		d, err := scanDeal(rows)
		if err != nil {
			return nil, err
		}
		deals = append(deals, *d)
	}
	return deals, rows.Err()
}

// CompareAndSetState advances current_state only if it still equals from.
// LockForUpdate holds the deal row until the enclosing tx ends.
func (r *DealRepo) LockForUpdate(ctx context.Context, id uuid.UUID) error {
	var locked uuid.UUID
	err := r.q.QueryRow(ctx, `SELECT id FROM deals WHERE id = $1 FOR UPDATE`, id).Scan(&locked)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.ErrNotFound
	}
	return err
}

func (r *DealRepo) CompareAndSetState(ctx context.Context, id uuid.UUID, from, to models.DealState, at time.Time, completedAt *time.Time) error {
	tag, err := r.q.Exec(ctx, `
		UPDATE deals
		SET current_state = $1,
		    version = version + 1,
		    updated_at = $2,
		    completed_at = COALESCE($3, completed_at)
		WHERE id = $4 AND current_state = $5
	`, string(to), at, completedAt, id, string(from))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var exists bool
	if err := r.q.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM deals WHERE id = $1)`, id).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return models.ErrNotFound
	}
	return models.ErrConflict
}
