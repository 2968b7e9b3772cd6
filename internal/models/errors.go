package models

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("conflict: state changed concurrently, reload and retry")
	ErrInvalidTransition = errors.New("invalid transition")
	ErrGuardViolation    = errors.New("guard violation")
	ErrInvalidEvent      = errors.New("invalid event payload")
	// ErrInvariantViolated means the transition table let a deal complete twice.
	ErrInvariantViolated = errors.New("invariant violated")
)

// InvalidTransitionError is returned when an event is not legal from a state.
type InvalidTransitionError struct {
	From  DealState
	Event EventKind
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition: event %s not allowed from state %s", e.Event, e.From)
}

func (e *InvalidTransitionError) Unwrap() error { return ErrInvalidTransition }

// Guard rules
const (
	RuleMakerChecker     = "maker_checker"
	RulePercentageRange  = "percentage_range"
	RuleOpenTransfer     = "open_transfer_exists"
	RuleTransferNotOpen  = "transfer_not_pending"
	RuleAmountMismatch   = "amount_mismatch"
	RuleReasonRequired   = "reason_required"
	RuleNotEscalated     = "transfer_not_escalated"
	RuleActorRequired    = "actor_required"
	RuleAdminRequired    = "admin_required"
	RuleDealNotInReview  = "deal_not_in_review"
	RuleInvalidDealInput = "invalid_deal_input"
	RuleReviewRequired   = "ownership_review_required"
)

// GuardViolationError is a rejected precondition. It is never coerced into success.
type GuardViolationError struct {
	Rule   string
	Detail string
}

func (e *GuardViolationError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("guard violation: %s", e.Rule)
	}
	return fmt.Sprintf("guard violation: %s: %s", e.Rule, e.Detail)
}

func (e *GuardViolationError) Unwrap() error { return ErrGuardViolation }

func NewGuardViolation(rule, format string, args ...any) error {
	return &GuardViolationError{Rule: rule, Detail: fmt.Sprintf(format, args...)}
}

// IsGuardRule reports whether err is a guard violation for the given rule.
func IsGuardRule(err error, rule string) bool {
	var gv *GuardViolationError
	return errors.As(err, &gv) && gv.Rule == rule
}
