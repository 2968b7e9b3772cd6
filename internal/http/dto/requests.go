package dto

import (
	"github.com/mortgage-marketplace/backend/internal/models"
	"github.com/shopspring/decimal"
)

type CreateDealRequest struct {
	ListingID           string          `json:"listing_id"`
	SellerID            string          `json:"seller_id"`
	InvestorID          string          `json:"investor_id"`
	OwnershipPercentage decimal.Decimal `json:"ownership_percentage"`
	DealValue           decimal.Decimal `json:"deal_value"`
}

// TransitionRequest is an event raised against a deal. Only the fields of the
// named event type may be present.
type TransitionRequest struct {
	Type           string           `json:"type"`
	Notes          *string          `json:"notes,omitempty"`
	Reason         *string          `json:"reason,omitempty"`
	VerifiedAmount *decimal.Decimal `json:"verified_amount,omitempty"` // number or string
	EnvelopeID     *string          `json:"envelope_id,omitempty"`
	ReceiptRef     *string          `json:"receipt_ref,omitempty"`
	ToState        *string          `json:"to_state,omitempty"`
}

func (r TransitionRequest) EventPayload() models.EventPayload {
	p := models.EventPayload{
		Type:       r.Type,
		Reason:     r.Reason,
		EnvelopeID: r.EnvelopeID,
		ReceiptRef: r.ReceiptRef,
		ToState:    r.ToState,
	}
	if r.VerifiedAmount != nil {
		s := r.VerifiedAmount.String()
		p.VerifiedAmount = &s
	}
	return p
}

type RejectTransferRequest struct {
	Reason string `json:"reason"`
}

type ManualResolutionRequest struct {
	Notes *string `json:"notes,omitempty"`
}

// ESignWebhookRequest is the signing provider's envelope status callback.
type ESignWebhookRequest struct {
	DealID     string `json:"deal_id"`
	EnvelopeID string `json:"envelope_id"`
	Status     string `json:"status"` // sent / delivered / completed / declined
}
