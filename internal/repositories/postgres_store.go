package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mortgage-marketplace/backend/internal/models"
)

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	querier
	Begin(ctx context.Context) (pgx.Tx, error)
}

// PostgresStore keeps deals, history, transfers and alerts in Postgres. A unit
// of work is one pgx transaction.
type PostgresStore struct {
	pool      TxBeginner
	deals     *DealRepo
	transfers *TransferRepo
	audit     *AuditRepo
}

var (
	_ TxBeginner = (*pgxpool.Pool)(nil)
	_ Store      = (*PostgresStore)(nil)
)

func NewPostgresStore(pool TxBeginner) *PostgresStore {
	return &PostgresStore{
		pool:      pool,
		deals:     NewDealRepo(pool),
		transfers: NewTransferRepo(pool),
		audit:     NewAuditRepo(pool),
	}
}

func (s *PostgresStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(newPgTx(tx)); err != nil {
		return mapTxError(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return mapTxError(fmt.Errorf("store: commit tx: %w", err))
	}
	return nil
}

// Postgres aborts one side of a deadlock or a serialization failure. Either
// way the caller lost a concurrent write.
const (
	sqlStateSerializationFailure = "40001"
	sqlStateDeadlockDetected     = "40P01"
)

func mapTxError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case sqlStateSerializationFailure, sqlStateDeadlockDetected:
			return fmt.Errorf("%w: %s", models.ErrConflict, pgErr.Message)
		}
	}
	return err
}

func (s *PostgresStore) GetDeal(ctx context.Context, id uuid.UUID) (*models.Deal, error) {
	return loadDeal(ctx, s.deals, s.audit, id)
}

func (s *PostgresStore) ListDeals(ctx context.Context, f DealFilter) ([]models.Deal, error) {
	return s.deals.List(ctx, f)
}

func (s *PostgresStore) GetTransfer(ctx context.Context, id uuid.UUID) (*models.PendingOwnershipTransfer, error) {
	return s.transfers.GetByID(ctx, id)
}

func (s *PostgresStore) ListTransfers(ctx context.Context, f TransferFilter) ([]models.PendingOwnershipTransfer, error) {
	return s.transfers.List(ctx, f)
}

func (s *PostgresStore) RecentHistory(ctx context.Context, limit int) ([]models.HistoryEntry, error) {
	return s.audit.Recent(ctx, limit)
}

func (s *PostgresStore) ListAlerts(ctx context.Context, dealID *uuid.UUID, limit int) ([]models.Alert, error) {
	return s.audit.ListAlerts(ctx, dealID, limit)
}

func loadDeal(ctx context.Context, deals *DealRepo, audit *AuditRepo, id uuid.UUID) (*models.Deal, error) {
	d, err := deals.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	d.StateHistory, err = audit.HistoryForDeal(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("store: load history: %w", err)
	}
	return d, nil
}

type pgTx struct {
	deals     *DealRepo
	transfers *TransferRepo
	audit     *AuditRepo
}

func newPgTx(tx pgx.Tx) *pgTx {
	return &pgTx{
		deals:     NewDealRepo(tx),
		transfers: NewTransferRepo(tx),
		audit:     NewAuditRepo(tx),
	}
}

func (t *pgTx) GetDeal(ctx context.Context, id uuid.UUID) (*models.Deal, error) {
	return loadDeal(ctx, t.deals, t.audit, id)
}

func (t *pgTx) LockDeal(ctx context.Context, id uuid.UUID) error {
	return t.deals.LockForUpdate(ctx, id)
}

func (t *pgTx) CreateDeal(ctx context.Context, d *models.Deal) error {
	return t.deals.Create(ctx, d)
}

func (t *pgTx) CompareAndSetDealState(ctx context.Context, dealID uuid.UUID, entry models.HistoryEntry, completedAt *time.Time) error {
	if err := t.deals.CompareAndSetState(ctx, dealID, entry.FromState, entry.ToState, entry.Timestamp, completedAt); err != nil {
		return err
	}
	entry.DealID = dealID
	return t.audit.AppendHistory(ctx, entry)
}

func (t *pgTx) GetTransfer(ctx context.Context, id uuid.UUID) (*models.PendingOwnershipTransfer, error) {
	return t.transfers.GetByID(ctx, id)
}

func (t *pgTx) GetPendingTransferForDeal(ctx context.Context, dealID uuid.UUID) (*models.PendingOwnershipTransfer, error) {
	return t.transfers.GetPendingForDeal(ctx, dealID)
}

func (t *pgTx) CreateTransfer(ctx context.Context, tr *models.PendingOwnershipTransfer) error {
	return t.transfers.Create(ctx, tr)
}

func (t *pgTx) UpdateTransferReview(ctx context.Context, tr *models.PendingOwnershipTransfer, expectedRejections int) error {
	return t.transfers.UpdateReview(ctx, tr, expectedRejections)
}

func (t *pgTx) InsertAlert(ctx context.Context, a *models.Alert) error {
	return t.audit.InsertAlert(ctx, a)
}
