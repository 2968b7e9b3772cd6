package events

import (
	"context"

	"github.com/mortgage-marketplace/backend/internal/models"
)

// StreamDealAlerts carries every committed deal and transfer alert.
const StreamDealAlerts = "events:deal_alerts"

type Event struct {
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload"`
}

// FromAlert flattens a persisted alert into a wire event.
func FromAlert(a models.Alert) Event {
	payload := make(map[string]any, len(a.Payload)+5)
	for k, v := range a.Payload {
		payload[k] = v
	}
	payload["alert_id"] = a.ID.String()
	payload["deal_id"] = a.DealID.String()
	if a.TransferID != nil {
		payload["transfer_id"] = a.TransferID.String()
	}
	payload["actor_id"] = a.Actor.ID
	payload["actor_type"] = a.Actor.Type
	payload["created_at"] = a.CreatedAt
	return Event{Type: string(a.Type), Payload: payload}
}

type Publisher interface {
	Publish(ctx context.Context, stream string, event Event) error
}

type Subscriber interface {
	Subscribe(ctx context.Context, stream string, handler func(Event)) error
}

// NopPublisher drops every event.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, string, Event) error { return nil }
