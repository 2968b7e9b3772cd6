package models

import "strings"

type transitionKey struct {
	From  DealState
	Event EventKind
}

// dealTransitions is the full edge table except CANCEL, which is decided by
// CanCancelFromState. Regression edges are enumerated here like any other edge.
var dealTransitions = map[transitionKey]DealState{
	// Forward path
	{DealStateLocked, EventLawyerConfirmed}:                   DealStatePendingLawyer,
	{DealStatePendingLawyer, EventDocsReady}:                  DealStatePendingDocs,
	{DealStatePendingDocs, EventDocsSigned}:                   DealStatePendingTransfer,
	{DealStatePendingTransfer, EventTransferUploaded}:         DealStatePendingVerification,
	{DealStatePendingVerification, EventVerifyComplete}:       DealStatePendingOwnershipReview,
	{DealStatePendingOwnershipReview, EventOwnershipApproved}: DealStateCompleted,

	// Manual resolution of an escalated transfer
	{DealStatePendingOwnershipReview, EventManualApprove}: DealStateCompleted,

	// Regressions
	{DealStatePendingVerification, EventRejectVerification}: DealStatePendingTransfer,
	{DealStatePendingTransfer, EventRequestDocRevision}:     DealStatePendingDocs,

	// Archival
	{DealStateCompleted, EventArchive}: DealStateArchived,
	{DealStateCancelled, EventArchive}: DealStateArchived,
}

// CanCancelFromState is the cancellation policy: any non-terminal state may cancel.
// Cancelling from ownership review also closes the open transfer.
func CanCancelFromState(s DealState) bool {
	return s.IsValid() && !s.IsTerminal()
}

// Target returns the state an event leads to from a state, ignoring guards.
func Target(from DealState, kind EventKind) (DealState, bool) {
	if kind == EventCancel {
		if CanCancelFromState(from) {
			return DealStateCancelled, true
		}
		return "", false
	}
	to, ok := dealTransitions[transitionKey{From: from, Event: kind}]
	return to, ok
}

// IsValidTransition reports whether kind is legal from state, ignoring guards.
func IsValidTransition(from DealState, kind EventKind) bool {
	_, ok := Target(from, kind)
	return ok
}

type guardFunc func(d Deal, ev Event) error

var eventGuards = map[EventKind]guardFunc{
	EventVerifyComplete:     verifiedAmountMatches,
	EventRejectVerification: reasonPresent,
	EventRequestDocRevision: reasonPresent,
}

func verifiedAmountMatches(d Deal, ev Event) error {
	vc, ok := ev.(VerifyComplete)
	if !ok {
		return nil
	}
	if !vc.VerifiedAmount.Equal(d.DealValue) {
		return NewGuardViolation(RuleAmountMismatch, "verified %s does not match deal value %s",
			vc.VerifiedAmount.String(), d.DealValue.String())
	}
	return nil
}

func reasonPresent(_ Deal, ev Event) error {
	var reason string
	switch e := ev.(type) {
	case RejectVerification:
		reason = e.Reason
	case RequestDocRevision:
		reason = e.Reason
	}
	if strings.TrimSpace(reason) == "" {
		return NewGuardViolation(RuleReasonRequired, "%s requires a reason", ev.Kind())
	}
	return nil
}

// Next computes the state a deal moves to on ev. It performs no I/O and has no
// side effects; unknown (state, event) pairs yield *InvalidTransitionError.
func Next(d Deal, ev Event) (DealState, error) {
	if ev == nil {
		return "", invalidEvent("nil event")
	}
	to, ok := Target(d.CurrentState, ev.Kind())
	if !ok {
		return "", &InvalidTransitionError{From: d.CurrentState, Event: ev.Kind()}
	}
	if g, ok := eventGuards[ev.Kind()]; ok {
		if err := g(d, ev); err != nil {
			return "", err
		}
	}
	return to, nil
}

// ForwardChain is the happy path in order.
var ForwardChain = []DealState{
	DealStateLocked,
	DealStatePendingLawyer,
	DealStatePendingDocs,
	DealStatePendingTransfer,
	DealStatePendingVerification,
	DealStatePendingOwnershipReview,
	DealStateCompleted,
}

// ForwardIndex is the position of s in ForwardChain, or -1.
func ForwardIndex(s DealState) int {
	for i, v := range ForwardChain {
		if v == s {
			return i
		}
	}
	return -1
}
