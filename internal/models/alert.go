package models

import (
	"time"

	"github.com/google/uuid"
)

type AlertType string

// Alert types
const (
	AlertDealStateChanged          AlertType = "deal_state_changed"
	AlertDealCompleted             AlertType = "deal_completed"
	AlertDealCancelled             AlertType = "deal_cancelled"
	AlertDealArchived              AlertType = "deal_archived"
	AlertOwnershipReviewRequired   AlertType = "ownership_review_required"
	AlertOwnershipTransferApproved AlertType = "ownership_transfer_approved"
	AlertOwnershipTransferRejected AlertType = "ownership_transfer_rejected"
	AlertManualResolutionRequired  AlertType = "manual_resolution_required"
	AlertManualOverride            AlertType = "manual_override"
)

type Alert struct {
	ID         uuid.UUID      `json:"id"`
	Type       AlertType      `json:"type"`
	DealID     uuid.UUID      `json:"deal_id"`
	TransferID *uuid.UUID     `json:"transfer_id,omitempty"`
	Actor      Actor          `json:"actor"`
	Payload    map[string]any `json:"payload,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}
