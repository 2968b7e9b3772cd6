package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mortgage-marketplace/backend/internal/models"
)

// ErrOpenTransferExists is returned when a second pending transfer is written for a deal.
var ErrOpenTransferExists = fmt.Errorf("%w: deal already has a pending ownership transfer", models.ErrConflict)

type DealFilter struct {
	State *models.DealState
	Limit int
	// Unbounded ignores Limit and Offset. Used by read-side projections.
	Unbounded bool
	Offset    int
}

func (f DealFilter) limit() int {
	if f.Limit <= 0 || f.Limit > 100 {
		return 20
	}
	return f.Limit
}

type TransferFilter struct {
	DealID *uuid.UUID
	Status *models.TransferStatus
	// EscalatedOnly limits results to transfers flagged for manual resolution.
	EscalatedOnly bool
	// ReviewedSince limits results to transfers reviewed at or after the time.
	ReviewedSince *time.Time
}

// Reader covers the reads that need no unit of work.
type Reader interface {
	// GetDeal returns the deal with its full state history.
	GetDeal(ctx context.Context, id uuid.UUID) (*models.Deal, error)
	// ListDeals returns deals without history, newest first.
	ListDeals(ctx context.Context, f DealFilter) ([]models.Deal, error)
	GetTransfer(ctx context.Context, id uuid.UUID) (*models.PendingOwnershipTransfer, error)
	ListTransfers(ctx context.Context, f TransferFilter) ([]models.PendingOwnershipTransfer, error)
	// RecentHistory returns the newest transitions across all deals, newest first.
	RecentHistory(ctx context.Context, limit int) ([]models.HistoryEntry, error)
	ListAlerts(ctx context.Context, dealID *uuid.UUID, limit int) ([]models.Alert, error)
}

// Tx is one atomic unit of work. Every write made through it commits together
// or not at all.
type Tx interface {
	GetDeal(ctx context.Context, id uuid.UUID) (*models.Deal, error)
	// LockDeal takes the deal's row lock for the rest of the unit. Units that
	// write both a transfer and its deal take it before touching the transfer,
	// so every writer locks deal then transfer.
	LockDeal(ctx context.Context, id uuid.UUID) error
	CreateDeal(ctx context.Context, d *models.Deal) error
	// CompareAndSetDealState moves the deal from entry.FromState to entry.ToState
	// and appends entry to its history. A stored state other than entry.FromState
	// yields models.ErrConflict. completedAt is written only when non-nil.
	CompareAndSetDealState(ctx context.Context, dealID uuid.UUID, entry models.HistoryEntry, completedAt *time.Time) error

	GetTransfer(ctx context.Context, id uuid.UUID) (*models.PendingOwnershipTransfer, error)
	// GetPendingTransferForDeal returns models.ErrNotFound when the deal has no open transfer.
	GetPendingTransferForDeal(ctx context.Context, dealID uuid.UUID) (*models.PendingOwnershipTransfer, error)
	CreateTransfer(ctx context.Context, t *models.PendingOwnershipTransfer) error
	// UpdateTransferReview writes the review fields of t. It succeeds only while
	// the stored transfer is pending with expectedRejections rejections, and
	// yields models.ErrConflict otherwise.
	UpdateTransferReview(ctx context.Context, t *models.PendingOwnershipTransfer, expectedRejections int) error

	InsertAlert(ctx context.Context, a *models.Alert) error
}

// Store is the persistence boundary injected into services.
type Store interface {
	Reader
	InTx(ctx context.Context, fn func(tx Tx) error) error
}
