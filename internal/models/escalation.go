package models

import "time"

// Escalation defaults
const (
	DefaultEscalationThreshold = 2
	DefaultReviewSLA           = 4 * time.Hour
)

type SLAStatus string

const (
	SLAWithin  SLAStatus = "within_sla"
	SLAOutside SLAStatus = "outside_sla"
	SLAUnknown SLAStatus = "unknown"
)

// Classification is the escalation verdict for a transfer.
type Classification struct {
	Escalated bool `json:"escalated"`
}

// EscalationPolicy classifies transfers. It never mutates them.
type EscalationPolicy struct {
	RejectionThreshold int
	ReviewSLA          time.Duration
}

func DefaultEscalationPolicy() EscalationPolicy {
	return EscalationPolicy{
		RejectionThreshold: DefaultEscalationThreshold,
		ReviewSLA:          DefaultReviewSLA,
	}
}

func (p EscalationPolicy) threshold() int {
	if p.RejectionThreshold <= 0 {
		return DefaultEscalationThreshold
	}
	return p.RejectionThreshold
}

func (p EscalationPolicy) sla() time.Duration {
	if p.ReviewSLA <= 0 {
		return DefaultReviewSLA
	}
	return p.ReviewSLA
}

func (p EscalationPolicy) Classify(t PendingOwnershipTransfer) Classification {
	return Classification{Escalated: t.RejectionCount >= p.threshold()}
}

// SLAStatus compares review latency to the SLA. Unreviewed transfers are Unknown.
func (p EscalationPolicy) SLAStatus(t PendingOwnershipTransfer) SLAStatus {
	if t.ReviewedAt == nil {
		return SLAUnknown
	}
	if t.ReviewedAt.Sub(t.CreatedAt) <= p.sla() {
		return SLAWithin
	}
	return SLAOutside
}
