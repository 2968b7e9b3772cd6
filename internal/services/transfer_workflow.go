package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mortgage-marketplace/backend/internal/models"
	"github.com/mortgage-marketplace/backend/internal/repositories"
	"go.uber.org/zap"
)

// TransferWorkflow is the maker-checker review of the final ownership transfer.
// The maker is whoever moved the deal into ownership review; any other actor
// may check.
type TransferWorkflow struct {
	deals  *DealService
	policy models.EscalationPolicy
}

func NewTransferWorkflow(deals *DealService, policy models.EscalationPolicy) *TransferWorkflow {
	return &TransferWorkflow{deals: deals, policy: policy}
}

// Policy is the escalation policy reviews are classified with. Metrics are
// built from it so both agree on what counts as escalated.
func (w *TransferWorkflow) Policy() models.EscalationPolicy { return w.policy }

// Open materializes the pending transfer for a deal that just entered review.
// It must run inside the unit of work that performed the transition.
func (w *TransferWorkflow) Open(ctx context.Context, u *unit, deal *models.Deal, details models.TransferDetails, maker models.Actor) (*models.PendingOwnershipTransfer, error) {
	return openTransfer(ctx, u, deal, details, maker, w.deals.now())
}

func openTransfer(ctx context.Context, u *unit, deal *models.Deal, details models.TransferDetails, maker models.Actor, at time.Time) (*models.PendingOwnershipTransfer, error) {
	if maker.IsZero() {
		return nil, models.NewGuardViolation(models.RuleActorRequired, "a maker is required to open a transfer")
	}
	if !models.PercentageInRange(details.Percentage) {
		return nil, models.NewGuardViolation(models.RulePercentageRange,
			"percentage %s is outside (0, 100]", details.Percentage.String())
	}

	existing, err := u.tx.GetPendingTransferForDeal(ctx, deal.ID)
	switch {
	case err == nil:
		return nil, models.NewGuardViolation(models.RuleOpenTransfer,
			"deal %s already has pending transfer %s", deal.ID, existing.ID)
	case !errors.Is(err, models.ErrNotFound):
		return nil, err
	}

	t := &models.PendingOwnershipTransfer{
		DealID:      deal.ID,
		FromOwnerID: details.FromOwnerID,
		ToOwnerID:   details.ToOwnerID,
		Percentage:  details.Percentage,
		Status:      models.TransferStatusPending,
		MakerID:     maker.ID,
		CreatedAt:   at,
	}
	if err := u.tx.CreateTransfer(ctx, t); err != nil {
		return nil, err
	}

	err = u.alert(ctx, models.Alert{
		Type:       models.AlertOwnershipReviewRequired,
		DealID:     deal.ID,
		TransferID: &t.ID,
		Actor:      maker,
		Payload: map[string]any{
			"from_owner_id": t.FromOwnerID,
			"to_owner_id":   t.ToOwnerID,
			"percentage":    t.Percentage.String(),
			"maker_id":      t.MakerID,
		},
		CreatedAt: at,
	})
	return t, err
}

// closeTransferOnCancel rejects the open transfer of a deal cancelled from review.
func closeTransferOnCancel(ctx context.Context, u *unit, dealID uuid.UUID, actor models.Actor, at time.Time) error {
	t, err := u.tx.GetPendingTransferForDeal(ctx, dealID)
	if errors.Is(err, models.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	closed := t.Clone()
	closed.Status = models.TransferStatusRejected
	closed.ResolvedBy = &actor.ID
	resolution := models.ResolutionDealCancelled
	closed.Resolution = &resolution
	return u.tx.UpdateTransferReview(ctx, &closed, t.RejectionCount)
}

// loadForReview runs the review guards in order: actor present, maker differs
// from checker, transfer pending, deal in review.
func (w *TransferWorkflow) loadForReview(ctx context.Context, transferID uuid.UUID, checker models.Actor) (*models.PendingOwnershipTransfer, *models.Deal, error) {
	if checker.IsZero() {
		return nil, nil, models.NewGuardViolation(models.RuleActorRequired, "a reviewer is required")
	}
	t, err := w.deals.store.GetTransfer(ctx, transferID)
	if err != nil {
		return nil, nil, err
	}
	if checker.ID == t.MakerID {
		return nil, nil, models.NewGuardViolation(models.RuleMakerChecker,
			"actor %s opened this transfer and cannot review it", checker.ID)
	}
	if !t.IsPending() {
		return nil, nil, models.NewGuardViolation(models.RuleTransferNotOpen,
			"transfer %s is %s", t.ID, t.Status)
	}
	deal, err := w.deals.store.GetDeal(ctx, t.DealID)
	if err != nil {
		return nil, nil, err
	}
	if deal.CurrentState != models.DealStatePendingOwnershipReview {
		return nil, nil, models.NewGuardViolation(models.RuleDealNotInReview,
			"deal %s is %s", deal.ID, deal.CurrentState)
	}
	return t, deal, nil
}

// Approve completes the deal. The transfer and the deal move in one unit of work.
func (w *TransferWorkflow) Approve(ctx context.Context, transferID uuid.UUID, reviewer models.Actor) (*models.PendingOwnershipTransfer, error) {
	t, deal, err := w.loadForReview(ctx, transferID, reviewer)
	if err != nil {
		return nil, err
	}

	approved := t.Clone()
	err = w.deals.inUnit(ctx, func(u *unit) error {
		at := w.deals.now()
		approved.Status = models.TransferStatusApproved
		approved.ReviewedAt = &at
		approved.ReviewedBy = &reviewer.ID
		if err := u.tx.LockDeal(ctx, deal.ID); err != nil {
			return err
		}
		if err := u.tx.UpdateTransferReview(ctx, &approved, t.RejectionCount); err != nil {
			return err
		}
		if err := u.alert(ctx, models.Alert{
			Type:       models.AlertOwnershipTransferApproved,
			DealID:     deal.ID,
			TransferID: &approved.ID,
			Actor:      reviewer,
			Payload:    map[string]any{"maker_id": approved.MakerID, "rejection_count": approved.RejectionCount},
			CreatedAt:  at,
		}); err != nil {
			return err
		}
		return w.deals.applyTransition(ctx, u, deal, models.OwnershipApproved{TransferID: approved.ID}, reviewer, transitionOpts{})
	})
	if err != nil {
		return nil, err
	}

	w.deals.log.Info("ownership transfer approved",
		zap.String("transfer_id", approved.ID.String()),
		zap.String("deal_id", deal.ID.String()),
		zap.String("reviewer_id", reviewer.ID),
	)
	return &approved, nil
}

// Reject records a rejection. The transfer stays pending so the maker can fix
// and resubmit; crossing the escalation threshold flags it for manual resolution.
func (w *TransferWorkflow) Reject(ctx context.Context, transferID uuid.UUID, reviewer models.Actor, reason string) (*models.PendingOwnershipTransfer, error) {
	t, deal, err := w.loadForReview(ctx, transferID, reviewer)
	if err != nil {
		return nil, err
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, models.NewGuardViolation(models.RuleReasonRequired, "a rejection reason is required")
	}

	rejected := t.Clone()
	escalatedNow := false
	err = w.deals.inUnit(ctx, func(u *unit) error {
		at := w.deals.now()
		rejected.RejectionCount = t.RejectionCount + 1
		rejected.RejectionReason = &reason
		rejected.ReviewedAt = &at
		rejected.ReviewedBy = &reviewer.ID
		if w.policy.Classify(rejected).Escalated && !t.Escalated {
			rejected.Escalated = true
			rejected.EscalatedAt = &at
			escalatedNow = true
		}
		if err := u.tx.LockDeal(ctx, deal.ID); err != nil {
			return err
		}
		if err := u.tx.UpdateTransferReview(ctx, &rejected, t.RejectionCount); err != nil {
			return err
		}

		if err := u.alert(ctx, models.Alert{
			Type:       models.AlertOwnershipTransferRejected,
			DealID:     deal.ID,
			TransferID: &rejected.ID,
			Actor:      reviewer,
			Payload:    map[string]any{"reason": reason, "rejection_count": rejected.RejectionCount},
			CreatedAt:  at,
		}); err != nil {
			return err
		}
		if !escalatedNow {
			return nil
		}
		return u.alert(ctx, models.Alert{
			Type:       models.AlertManualResolutionRequired,
			DealID:     deal.ID,
			TransferID: &rejected.ID,
			Actor:      reviewer,
			Payload:    map[string]any{"rejection_count": rejected.RejectionCount, "last_reason": reason},
			CreatedAt:  at,
		})
	})
	if err != nil {
		return nil, err
	}

	log := w.deals.log.With(
		zap.String("transfer_id", rejected.ID.String()),
		zap.String("deal_id", deal.ID.String()),
		zap.Int("rejection_count", rejected.RejectionCount),
	)
	log.Info("ownership transfer rejected", zap.String("reviewer_id", reviewer.ID))
	if escalatedNow {
		log.Warn("ownership transfer escalated for manual resolution")
	}
	return &rejected, nil
}

func (w *TransferWorkflow) loadForOverride(ctx context.Context, transferID uuid.UUID, admin models.Actor) (*models.PendingOwnershipTransfer, *models.Deal, error) {
	if !admin.IsZero() && admin.Type != models.ActorTypeAdmin {
		return nil, nil, models.NewGuardViolation(models.RuleAdminRequired, "manual resolution requires an admin actor")
	}
	t, deal, err := w.loadForReview(ctx, transferID, admin)
	if err != nil {
		return nil, nil, err
	}
	if !t.Escalated {
		return nil, nil, models.NewGuardViolation(models.RuleNotEscalated,
			"transfer %s has %d rejections and is not escalated", t.ID, t.RejectionCount)
	}
	return t, deal, nil
}

// ForceApprove resolves an escalated transfer by completing the deal.
func (w *TransferWorkflow) ForceApprove(ctx context.Context, transferID uuid.UUID, admin models.Actor, notes *string) (*models.PendingOwnershipTransfer, error) {
	return w.resolve(ctx, transferID, admin, notes, models.ResolutionForceApproved)
}

// ForceCancel resolves an escalated transfer by cancelling the deal.
func (w *TransferWorkflow) ForceCancel(ctx context.Context, transferID uuid.UUID, admin models.Actor, notes *string) (*models.PendingOwnershipTransfer, error) {
	return w.resolve(ctx, transferID, admin, notes, models.ResolutionForceCancelled)
}

func (w *TransferWorkflow) resolve(ctx context.Context, transferID uuid.UUID, admin models.Actor, notes *string, resolution string) (*models.PendingOwnershipTransfer, error) {
	t, deal, err := w.loadForOverride(ctx, transferID, admin)
	if err != nil {
		return nil, err
	}

	var ev models.Event
	resolved := t.Clone()
	switch resolution {
	case models.ResolutionForceApproved:
		resolved.Status = models.TransferStatusApproved
		ev = models.ManualApprove{TransferID: t.ID}
	case models.ResolutionForceCancelled:
		resolved.Status = models.TransferStatusRejected
		reason := "manual resolution"
		if notes != nil {
			reason = *notes
		}
		ev = models.Cancel{Reason: reason}
	default:
		return nil, fmt.Errorf("unknown resolution %q", resolution)
	}

	err = w.deals.inUnit(ctx, func(u *unit) error {
		at := w.deals.now()
		resolved.ReviewedAt = &at
		resolved.ReviewedBy = &admin.ID
		resolved.ResolvedBy = &admin.ID
		resolved.Resolution = &resolution
		if err := u.tx.LockDeal(ctx, deal.ID); err != nil {
			return err
		}
		if err := u.tx.UpdateTransferReview(ctx, &resolved, t.RejectionCount); err != nil {
			return err
		}
		if err := w.deals.applyTransition(ctx, u, deal, ev, admin, transitionOpts{notes: notes, manualOverride: true}); err != nil {
			return err
		}
		payload := map[string]any{
			"resolution":      resolution,
			"rejection_count": resolved.RejectionCount,
			"maker_id":        resolved.MakerID,
		}
		if notes != nil {
			payload["notes"] = *notes
		}
		return u.alert(ctx, models.Alert{
			Type:       models.AlertManualOverride,
			DealID:     deal.ID,
			TransferID: &resolved.ID,
			Actor:      admin,
			Payload:    payload,
			CreatedAt:  at,
		})
	})
	if err != nil {
		return nil, err
	}

	w.deals.log.Warn("manual override applied",
		zap.String("transfer_id", resolved.ID.String()),
		zap.String("deal_id", deal.ID.String()),
		zap.String("resolution", resolution),
		zap.String("admin_id", admin.ID),
	)
	return &resolved, nil
}

// ReviewItem is a pending transfer annotated for the review queue.
type ReviewItem struct {
	Transfer       models.PendingOwnershipTransfer `json:"transfer"`
	Classification models.Classification           `json:"classification"`
	WaitingSeconds float64                         `json:"waiting_seconds"`
}

// GetPendingTransfersForReview lists pending transfers, escalated first, then oldest first.
func (w *TransferWorkflow) GetPendingTransfersForReview(ctx context.Context) ([]ReviewItem, error) {
	status := models.TransferStatusPending
	transfers, err := w.deals.store.ListTransfers(ctx, repositories.TransferFilter{Status: &status})
	if err != nil {
		return nil, err
	}

	now := w.deals.now()
	items := make([]ReviewItem, 0, len(transfers))
	for _, t := range transfers {
		items = append(items, ReviewItem{
			Transfer:       t,
			Classification: w.policy.Classify(t),
			WaitingSeconds: now.Sub(t.CreatedAt).Seconds(),
		})
	}
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].Classification.Escalated != items[j].Classification.Escalated {
			return items[i].Classification.Escalated
		}
		return items[i].Transfer.CreatedAt.Before(items[j].Transfer.CreatedAt)
	})
	return items, nil
}

// EscalatedAwaitingResolution lists escalated transfers no admin has resolved yet.
func (w *TransferWorkflow) EscalatedAwaitingResolution(ctx context.Context) ([]models.PendingOwnershipTransfer, error) {
	status := models.TransferStatusPending
	return w.deals.store.ListTransfers(ctx, repositories.TransferFilter{Status: &status, EscalatedOnly: true})
}

// SLAReport is the review latency summary over transfers reviewed since a time.
type SLAReport struct {
	Since    time.Time   `json:"since"`
	Within   int         `json:"within_sla"`
	Outside  int         `json:"outside_sla"`
	Breaches []uuid.UUID `json:"breaches"`
}

func (w *TransferWorkflow) SLAReport(ctx context.Context, since time.Time) (*SLAReport, error) {
	transfers, err := w.deals.store.ListTransfers(ctx, repositories.TransferFilter{ReviewedSince: &since})
	if err != nil {
		return nil, err
	}
	rep := &SLAReport{Since: since, Breaches: []uuid.UUID{}}
	for _, t := range transfers {
		switch w.policy.SLAStatus(t) {
		case models.SLAWithin:
			rep.Within++
		case models.SLAOutside:
			rep.Outside++
			rep.Breaches = append(rep.Breaches, t.ID)
		}
	}
	return rep, nil
}
