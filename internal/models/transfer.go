package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type TransferStatus string

// Ownership transfer statuses
const (
	TransferStatusPending  TransferStatus = "pending"
	TransferStatusApproved TransferStatus = "approved"
	TransferStatusRejected TransferStatus = "rejected"
)

// Manual resolutions
const (
	ResolutionForceApproved  = "force_approved"
	ResolutionForceCancelled = "force_cancelled"
	ResolutionDealCancelled  = "deal_cancelled"
)

// TransferDetails are the ownership terms of a transfer.
type TransferDetails struct {
	FromOwnerID string          `json:"from_owner_id"`
	ToOwnerID   string          `json:"to_owner_id"`
	Percentage  decimal.Decimal `json:"percentage"`
}

var hundred = decimal.NewFromInt(100)

// PercentageInRange reports 0 < p <= 100.
func PercentageInRange(p decimal.Decimal) bool {
	return p.IsPositive() && p.LessThanOrEqual(hundred)
}

// PendingOwnershipTransfer is the maker-checker request for the final ownership
// reassignment of a deal. At most one per deal is pending at a time.
type PendingOwnershipTransfer struct {
	ID              uuid.UUID       `json:"id"`
	DealID          uuid.UUID       `json:"deal_id"`
	FromOwnerID     string          `json:"from_owner_id"`
	ToOwnerID       string          `json:"to_owner_id"`
	Percentage      decimal.Decimal `json:"percentage"`
	Status          TransferStatus  `json:"status"`
	MakerID         string          `json:"maker_id"`
	RejectionCount  int             `json:"rejection_count"`
	RejectionReason *string         `json:"rejection_reason,omitempty"`
	Escalated       bool            `json:"escalated"`
	EscalatedAt     *time.Time      `json:"escalated_at,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	ReviewedAt      *time.Time      `json:"reviewed_at,omitempty"`
	ReviewedBy      *string         `json:"reviewed_by,omitempty"`
	ResolvedBy      *string         `json:"resolved_by,omitempty"`
	Resolution      *string         `json:"resolution,omitempty"`
}

func (t PendingOwnershipTransfer) IsPending() bool {
	return t.Status == TransferStatusPending
}

func (t PendingOwnershipTransfer) Clone() PendingOwnershipTransfer {
	out := t
	out.RejectionReason = cloneStr(t.RejectionReason)
	out.ReviewedBy = cloneStr(t.ReviewedBy)
	out.ResolvedBy = cloneStr(t.ResolvedBy)
	out.Resolution = cloneStr(t.Resolution)
	out.EscalatedAt = cloneTime(t.EscalatedAt)
	out.ReviewedAt = cloneTime(t.ReviewedAt)
	return out
}

func cloneStr(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
