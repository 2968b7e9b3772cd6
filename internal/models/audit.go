package models

import (
	"time"

	"github.com/google/uuid"
)

// HistoryEntry is one append-only record of a deal transition.
type HistoryEntry struct {
	DealID         uuid.UUID `json:"deal_id"`
	FromState      DealState `json:"from_state"`
	ToState        DealState `json:"to_state"`
	Event          EventKind `json:"event"`
	Timestamp      time.Time `json:"timestamp"`
	Actor          Actor     `json:"actor"`
	Notes          *string   `json:"notes,omitempty"`
	ManualOverride bool      `json:"manual_override"`
}

// LastEntry returns the most recent history entry, if any.
func (d Deal) LastEntry() (HistoryEntry, bool) {
	if len(d.StateHistory) == 0 {
		return HistoryEntry{}, false
	}
	return d.StateHistory[len(d.StateHistory)-1], true
}

// HistoryConsistent reports whether the current state matches the tail of the history, or the
// initial state when history is empty.
func (d Deal) HistoryConsistent() bool {
	last, ok := d.LastEntry()
	if !ok {
		return d.CurrentState == InitialDealState
	}
	return last.ToState == d.CurrentState
}

// CurrentStateSince is the time the deal entered its current state.
func (d Deal) CurrentStateSince() time.Time {
	if last, ok := d.LastEntry(); ok {
		return last.Timestamp
	}
	return d.CreatedAt
}

// TimeInState sums the time spent in each state. The current state is measured up to now.
func (d Deal) TimeInState(now time.Time) map[DealState]time.Duration {
	out := make(map[DealState]time.Duration)
	state := InitialDealState
	since := d.CreatedAt
	for _, e := range d.StateHistory {
		if e.Timestamp.After(since) {
			out[state] += e.Timestamp.Sub(since)
		}
		state = e.ToState
		since = e.Timestamp
	}
	if now.After(since) {
		out[state] += now.Sub(since)
	}
	return out
}
