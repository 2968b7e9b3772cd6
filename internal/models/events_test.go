package models

import (
	"errors"
	"testing"
)

func strp(s string) *string { return &s }

func TestParseEvent(t *testing.T) {
	tests := []struct {
		name    string
		payload EventPayload
		want    EventKind
		wantErr bool
	}{
		{"lawyer", EventPayload{Type: "LAWYER_CONFIRMED"}, EventLawyerConfirmed, false},
		{"lowercase", EventPayload{Type: "docs_ready"}, EventDocsReady, false},
		{"signed with envelope", EventPayload{Type: "DOCS_SIGNED", EnvelopeID: strp("env-19")}, EventDocsSigned, false},
		{"upload", EventPayload{Type: "TRANSFER_UPLOADED", ReceiptRef: strp("rcpt-1")}, EventTransferUploaded, false},
		{"verify", EventPayload{Type: "VERIFY_COMPLETE", VerifiedAmount: strp("150000.50")}, EventVerifyComplete, false},
		{"cancel with reason", EventPayload{Type: "CANCEL", Reason: strp("buyer withdrew")}, EventCancel, false},
		{"archive", EventPayload{Type: "ARCHIVE"}, EventArchive, false},
		{"reject verification", EventPayload{Type: "REJECT_VERIFICATION", Reason: strp("wrong account")}, EventRejectVerification, false},
		{"doc revision", EventPayload{Type: "REQUEST_DOC_REVISION", Reason: strp("unsigned page")}, EventRequestDocRevision, false},

		{"unknown", EventPayload{Type: "TELEPORT"}, "", true},
		{"empty", EventPayload{}, "", true},
		{"go back refused", EventPayload{Type: "GO_BACK", ToState: strp("locked")}, "", true},
		{"to_state on forward event", EventPayload{Type: "DOCS_READY", ToState: strp("locked")}, "", true},
		{"amount on wrong event", EventPayload{Type: "LAWYER_CONFIRMED", VerifiedAmount: strp("1")}, "", true},
		{"verify without amount", EventPayload{Type: "VERIFY_COMPLETE"}, "", true},
		{"verify bad amount", EventPayload{Type: "VERIFY_COMPLETE", VerifiedAmount: strp("lots")}, "", true},
		{"approval not external", EventPayload{Type: "OWNERSHIP_APPROVED"}, "", true},
		{"manual approve not external", EventPayload{Type: "MANUAL_APPROVE"}, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := ParseEvent(tt.payload)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidEvent) {
					t.Fatalf("expected ErrInvalidEvent, got ev=%v err=%v", ev, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if ev.Kind() != tt.want {
				t.Errorf("kind = %s, want %s", ev.Kind(), tt.want)
			}
		})
	}
}

func TestParseEventCarriesFields(t *testing.T) {
	ev, err := ParseEvent(EventPayload{Type: "VERIFY_COMPLETE", VerifiedAmount: strp("99.95")})
	if err != nil {
		t.Fatal(err)
	}
	vc, ok := ev.(VerifyComplete)
	if !ok {
		t.Fatalf("got %T, want VerifyComplete", ev)
	}
	if vc.VerifiedAmount.String() != "99.95" {
		t.Errorf("amount = %s", vc.VerifiedAmount)
	}

	ev, _ = ParseEvent(EventPayload{Type: "CANCEL", Reason: strp("appraisal fell through")})
	if c := ev.(Cancel); c.Reason != "appraisal fell through" {
		t.Errorf("reason = %q", c.Reason)
	}
}
