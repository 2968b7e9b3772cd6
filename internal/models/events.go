package models

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type EventKind string

// Deal events
const (
	EventLawyerConfirmed    EventKind = "LAWYER_CONFIRMED"
	EventDocsReady          EventKind = "DOCS_READY"
	EventDocsSigned         EventKind = "DOCS_SIGNED"
	EventTransferUploaded   EventKind = "TRANSFER_UPLOADED"
	EventVerifyComplete     EventKind = "VERIFY_COMPLETE"
	EventOwnershipApproved  EventKind = "OWNERSHIP_APPROVED"
	EventManualApprove      EventKind = "MANUAL_APPROVE"
	EventCancel             EventKind = "CANCEL"
	EventArchive            EventKind = "ARCHIVE"
	EventRejectVerification EventKind = "REJECT_VERIFICATION"
	EventRequestDocRevision EventKind = "REQUEST_DOC_REVISION"
)

// AllEventKinds lists every event the machine knows.
var AllEventKinds = []EventKind{
	EventLawyerConfirmed,
	EventDocsReady,
	EventDocsSigned,
	EventTransferUploaded,
	EventVerifyComplete,
	EventOwnershipApproved,
	EventManualApprove,
	EventCancel,
	EventArchive,
	EventRejectVerification,
	EventRequestDocRevision,
}

// Event is a deal lifecycle event. Each kind is its own type and carries only
// the fields that kind uses.
type Event interface {
	Kind() EventKind
}

type LawyerConfirmed struct{}

type DocsReady struct{}

// DocsSigned is raised by the signing provider once every party signed.
type DocsSigned struct {
	EnvelopeID string
}

// TransferUploaded records that a payment receipt was uploaded.
type TransferUploaded struct {
	ReceiptRef string
}

// VerifyComplete confirms the received funds. The amount must match the deal value.
type VerifyComplete struct {
	VerifiedAmount decimal.Decimal
}

// OwnershipApproved is raised only by the maker-checker workflow.
type OwnershipApproved struct {
	TransferID uuid.UUID
}

// ManualApprove is raised only by the manual-resolution path.
type ManualApprove struct {
	TransferID uuid.UUID
}

type Cancel struct {
	Reason string
}

type Archive struct{}

// RejectVerification sends a deal back to pending_transfer when the receipt fails checks.
type RejectVerification struct {
	Reason string
}

// RequestDocRevision sends a deal back to pending_docs when the signed package is defective.
type RequestDocRevision struct {
	Reason string
}

func (LawyerConfirmed) Kind() EventKind    { return EventLawyerConfirmed }
func (DocsReady) Kind() EventKind          { return EventDocsReady }
func (DocsSigned) Kind() EventKind         { return EventDocsSigned }
func (TransferUploaded) Kind() EventKind   { return EventTransferUploaded }
func (VerifyComplete) Kind() EventKind     { return EventVerifyComplete }
func (OwnershipApproved) Kind() EventKind  { return EventOwnershipApproved }
func (ManualApprove) Kind() EventKind      { return EventManualApprove }
func (Cancel) Kind() EventKind             { return EventCancel }
func (Archive) Kind() EventKind            { return EventArchive }
func (RejectVerification) Kind() EventKind { return EventRejectVerification }
func (RequestDocRevision) Kind() EventKind { return EventRequestDocRevision }

// EventPayload is the wire shape accepted from collaborators.
type EventPayload struct {
	Type           string  `json:"type"`
	Reason         *string `json:"reason,omitempty"`
	VerifiedAmount *string `json:"verified_amount,omitempty"`
	EnvelopeID     *string `json:"envelope_id,omitempty"`
	ReceiptRef     *string `json:"receipt_ref,omitempty"`
	// ToState is accepted only so that legacy GO_BACK payloads can be refused explicitly.
	ToState *string `json:"to_state,omitempty"`
}

func invalidEvent(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidEvent, fmt.Sprintf(format, args...))
}

// ParseEvent maps a wire payload to a typed event. Only events collaborators may
// raise directly are accepted; fields foreign to the event kind are rejected.
func ParseEvent(p EventPayload) (Event, error) {
	kind := EventKind(strings.ToUpper(strings.TrimSpace(p.Type)))

	allowed := map[string]bool{}
	switch kind {
	case EventDocsSigned:
		allowed["envelope_id"] = true
	case EventTransferUploaded:
		allowed["receipt_ref"] = true
	case EventVerifyComplete:
		allowed["verified_amount"] = true
	case EventCancel, EventRejectVerification, EventRequestDocRevision:
		allowed["reason"] = true
	case EventLawyerConfirmed, EventDocsReady, EventArchive:
	default:
		return nil, invalidEvent("unknown event type %q", p.Type)
	}

	present := map[string]bool{
		"reason":          p.Reason != nil,
		"verified_amount": p.VerifiedAmount != nil,
		"envelope_id":     p.EnvelopeID != nil,
		"receipt_ref":     p.ReceiptRef != nil,
		"to_state":        p.ToState != nil,
	}
	for field, ok := range present {
		if ok && !allowed[field] {
			return nil, invalidEvent("field %q is not valid for event %s", field, kind)
		}
	}

	switch kind {
	case EventLawyerConfirmed:
		return LawyerConfirmed{}, nil
	case EventDocsReady:
		return DocsReady{}, nil
	case EventDocsSigned:
		return DocsSigned{EnvelopeID: deref(p.EnvelopeID)}, nil
	case EventTransferUploaded:
		return TransferUploaded{ReceiptRef: deref(p.ReceiptRef)}, nil
	case EventVerifyComplete:
		if p.VerifiedAmount == nil {
			return nil, invalidEvent("verified_amount is required for %s", kind)
		}
		amount, err := decimal.NewFromString(*p.VerifiedAmount)
		if err != nil {
			return nil, invalidEvent("verified_amount %q is not a number", *p.VerifiedAmount)
		}
		return VerifyComplete{VerifiedAmount: amount}, nil
	case EventCancel:
		return Cancel{Reason: deref(p.Reason)}, nil
	case EventArchive:
		return Archive{}, nil
	case EventRejectVerification:
		return RejectVerification{Reason: deref(p.Reason)}, nil
	default:
		return RequestDocRevision{Reason: deref(p.Reason)}, nil
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
