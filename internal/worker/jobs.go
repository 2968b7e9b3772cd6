package worker

import (
	"context"
	"time"

	"github.com/mortgage-marketplace/backend/internal/events"
	"github.com/mortgage-marketplace/backend/internal/services"
	"go.uber.org/zap"
)

// EventManualResolutionPending re-announces escalated transfers that no admin
// has resolved yet. It is published only, never persisted as an alert.
const EventManualResolutionPending = "manual_resolution_pending"

type Jobs struct {
	flow      *services.TransferWorkflow
	metrics   *services.MetricsService
	publisher events.Publisher
	log       *zap.Logger

	// SLAWindow is how far back each SLA report looks.
	SLAWindow time.Duration
	now       func() time.Time
}

func NewJobs(flow *services.TransferWorkflow, metrics *services.MetricsService, publisher events.Publisher, slaWindow time.Duration, log *zap.Logger) *Jobs {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	if slaWindow <= 0 {
		slaWindow = time.Hour
	}
	return &Jobs{
		flow:      flow,
		metrics:   metrics,
		publisher: publisher,
		log:       log,
		SLAWindow: slaWindow,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// ReportSLA logs review latency for transfers reviewed inside the window.
func (j *Jobs) ReportSLA(ctx context.Context) (*services.SLAReport, error) {
	rep, err := j.flow.SLAReport(ctx, j.now().Add(-j.SLAWindow))
	if err != nil {
		return nil, err
	}

	fields := []zap.Field{
		zap.Time("since", rep.Since),
		zap.Int("within_sla", rep.Within),
		zap.Int("outside_sla", rep.Outside),
	}
	if rep.Outside > 0 {
		ids := make([]string, 0, len(rep.Breaches))
		for _, id := range rep.Breaches {
			ids = append(ids, id.String())
		}
		j.log.Warn("ownership review SLA breached", append(fields, zap.Strings("transfer_ids", ids))...)
	} else {
		j.log.Info("ownership review SLA report", fields...)
	}
	return rep, nil
}

func (j *Jobs) RefreshMetrics(ctx context.Context) error {
	m, err := j.metrics.Refresh(ctx)
	if err != nil {
		return err
	}
	j.log.Debug("deal metrics refreshed",
		zap.Int("total_active", m.TotalActive),
		zap.Int("pending_transfers", m.Transfers.Pending),
	)
	return nil
}

// SweepEscalations publishes a reminder for every escalated transfer still
// waiting on an admin. It returns how many reminders went out.
func (j *Jobs) SweepEscalations(ctx context.Context) (int, error) {
	waiting, err := j.flow.EscalatedAwaitingResolution(ctx)
	if err != nil {
		return 0, err
	}

	now := j.now()
	sent := 0
	for _, t := range waiting {
		payload := map[string]any{
			"transfer_id":     t.ID.String(),
			"deal_id":         t.DealID.String(),
			"rejection_count": t.RejectionCount,
			"waiting_seconds": now.Sub(t.CreatedAt).Seconds(),
		}
		if t.EscalatedAt != nil {
			payload["escalated_at"] = t.EscalatedAt.Format(time.RFC3339)
		}
		ev := events.Event{Type: EventManualResolutionPending, Payload: payload}
		if err := j.publisher.Publish(ctx, events.StreamDealAlerts, ev); err != nil {
			j.log.Warn("failed to publish escalation reminder",
				zap.String("transfer_id", t.ID.String()),
				zap.Error(err),
			)
			continue
		}
		sent++
	}

	if len(waiting) > 0 {
		j.log.Info("escalated transfers awaiting manual resolution",
			zap.Int("count", len(waiting)),
			zap.Int("reminders_sent", sent),
		)
	}
	return sent, nil
}
