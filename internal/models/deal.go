package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type DealState string

// Deal states
const (
	DealStateLocked                 DealState = "locked"
	DealStatePendingLawyer          DealState = "pending_lawyer"
	DealStatePendingDocs            DealState = "pending_docs"
	DealStatePendingTransfer        DealState = "pending_transfer"
	DealStatePendingVerification    DealState = "pending_verification"
	DealStatePendingOwnershipReview DealState = "pending_ownership_review"
	DealStateCompleted              DealState = "completed"
	DealStateCancelled              DealState = "cancelled"
	DealStateArchived               DealState = "archived"
)

// InitialDealState is the state of a deal with an empty history.
const InitialDealState = DealStateLocked

// AllDealStates in forward-chain order, terminal states last.
var AllDealStates = []DealState{
	DealStateLocked,
	DealStatePendingLawyer,
	DealStatePendingDocs,
	DealStatePendingTransfer,
	DealStatePendingVerification,
	DealStatePendingOwnershipReview,
	DealStateCompleted,
	DealStateCancelled,
	DealStateArchived,
}

func (s DealState) IsTerminal() bool {
	switch s {
	case DealStateCompleted, DealStateCancelled, DealStateArchived:
		return true
	}
	return false
}

func (s DealState) IsValid() bool {
	for _, v := range AllDealStates {
		if v == s {
			return true
		}
	}
	return false
}

// Actor types
const (
	ActorTypeUser    = "user"
	ActorTypeAdmin   = "admin"
	ActorTypeSystem  = "system"
	ActorTypeWebhook = "webhook"
)

// Actor identifies who performed an operation. Maker-checker compares ID only.
type Actor struct {
	ID   string `json:"id"`
	Type string `json:"type"`
}

func (a Actor) IsZero() bool { return a.ID == "" }

type Deal struct {
	ID                  uuid.UUID       `json:"id"`
	ListingID           uuid.UUID       `json:"listing_id"`
	SellerID            string          `json:"seller_id"`
	InvestorID          string          `json:"investor_id"`
	OwnershipPercentage decimal.Decimal `json:"ownership_percentage"`
	DealValue           decimal.Decimal `json:"deal_value"`
	CurrentState        DealState       `json:"current_state"`
	StateHistory        []HistoryEntry  `json:"state_history"`
	Version             int64           `json:"version"`
	CreatedAt           time.Time       `json:"created_at"`
	UpdatedAt           time.Time       `json:"updated_at"`
	CompletedAt         *time.Time      `json:"completed_at,omitempty"`
}

// Clone returns a deep copy so stores can hand out values without sharing history slices.
func (d Deal) Clone() Deal {
	out := d
	if d.StateHistory != nil {
		out.StateHistory = make([]HistoryEntry, len(d.StateHistory))
		copy(out.StateHistory, d.StateHistory)
	}
	if d.CompletedAt != nil {
		t := *d.CompletedAt
		out.CompletedAt = &t
	}
	return out
}

// TransferDetails are the ownership terms handed to the maker-checker workflow
// when the deal enters ownership review.
func (d Deal) TransferDetails() TransferDetails {
	return TransferDetails{
		FromOwnerID: d.SellerID,
		ToOwnerID:   d.InvestorID,
		Percentage:  d.OwnershipPercentage,
	}
}
