package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mortgage-marketplace/backend/internal/models"
	"github.com/mortgage-marketplace/backend/internal/repositories"
	"golang.org/x/sync/errgroup"
)

func TestMakerCannotCheck(t *testing.T) {
	env := newTestEnv(t)
	_, tr := env.driveToReview(t)

	_, err := env.flow.Approve(context.Background(), tr.ID, maker)
	wantGuard(t, err, models.RuleMakerChecker)

	_, err = env.flow.Reject(context.Background(), tr.ID, maker, "looks wrong")
	wantGuard(t, err, models.RuleMakerChecker)

	// the same id under another actor type is still the maker
	_, err = env.flow.Approve(context.Background(), tr.ID, models.Actor{ID: maker.ID, Type: models.ActorTypeUser})
	wantGuard(t, err, models.RuleMakerChecker)
}

func TestRejectRequiresReason(t *testing.T) {
	env := newTestEnv(t)
	_, tr := env.driveToReview(t)

	_, err := env.flow.Reject(context.Background(), tr.ID, checker1, "  ")
	wantGuard(t, err, models.RuleReasonRequired)
}

func TestEscalationAlertEmittedOnce(t *testing.T) {
	env := newTestEnv(t)
	d, tr := env.driveToReview(t)

	first, err := env.flow.Reject(context.Background(), tr.ID, checker1, "missing lien release")
	if err != nil {
		t.Fatal(err)
	}
	if first.RejectionCount != 1 || first.Escalated || !first.IsPending() {
		t.Fatalf("after first rejection = %+v", first)
	}
	if env.alertCount(t, d.ID, models.AlertManualResolutionRequired) != 0 {
		t.Fatal("escalated after one rejection")
	}

	second, err := env.flow.Reject(context.Background(), tr.ID, checker2, "signature mismatch")
	if err != nil {
		t.Fatal(err)
	}
	if second.RejectionCount != 2 || !second.Escalated || second.EscalatedAt == nil {
		t.Fatalf("after second rejection = %+v", second)
	}

	if _, err := env.flow.Reject(context.Background(), tr.ID, checker3, "still wrong"); err != nil {
		t.Fatal(err)
	}

	if got := env.alertCount(t, d.ID, models.AlertManualResolutionRequired); got != 1 {
		t.Fatalf("manual_resolution_required alerts = %d, want 1", got)
	}
	if got := env.alertCount(t, d.ID, models.AlertOwnershipTransferRejected); got != 3 {
		t.Fatalf("rejection alerts = %d, want 3", got)
	}
	if env.pub.count(models.AlertManualResolutionRequired) != 1 {
		t.Fatal("escalation alert not published exactly once")
	}

	deal, _ := env.deals.GetDeal(context.Background(), d.ID)
	if deal.CurrentState != models.DealStatePendingOwnershipReview {
		t.Fatalf("rejections moved the deal to %s", deal.CurrentState)
	}
}

func TestApproveEscalatedByThirdReviewer(t *testing.T) {
	env := newTestEnv(t)
	d, tr := env.driveToReview(t)

	if _, err := env.flow.Reject(context.Background(), tr.ID, checker1, "a"); err != nil {
		t.Fatal(err)
	}
	if _, err := env.flow.Reject(context.Background(), tr.ID, checker2, "b"); err != nil {
		t.Fatal(err)
	}

	approved, err := env.flow.Approve(context.Background(), tr.ID, checker3)
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if approved.RejectionCount != 2 || approved.Status != models.TransferStatusApproved {
		t.Fatalf("approved = %+v", approved)
	}

	deal, _ := env.deals.GetDeal(context.Background(), d.ID)
	if deal.CurrentState != models.DealStateCompleted || deal.CompletedAt == nil {
		t.Fatalf("deal = %s completed_at=%v", deal.CurrentState, deal.CompletedAt)
	}
	completedAt := *deal.CompletedAt

	_, err = env.flow.Approve(context.Background(), tr.ID, checker1)
	wantGuard(t, err, models.RuleTransferNotOpen)
	_, err = env.flow.ForceApprove(context.Background(), tr.ID, admin, nil)
	wantGuard(t, err, models.RuleTransferNotOpen)

	deal, _ = env.deals.GetDeal(context.Background(), d.ID)
	if !deal.CompletedAt.Equal(completedAt) {
		t.Fatalf("completed_at changed from %s to %s", completedAt, *deal.CompletedAt)
	}
}

func TestForceApprove(t *testing.T) {
	env := newTestEnv(t)
	d, tr := env.driveToReview(t)
	ctx := context.Background()

	_, err := env.flow.ForceApprove(ctx, tr.ID, admin, nil)
	wantGuard(t, err, models.RuleNotEscalated)

	_, _ = env.flow.Reject(ctx, tr.ID, checker1, "a")
	_, _ = env.flow.Reject(ctx, tr.ID, checker2, "b")

	_, err = env.flow.ForceApprove(ctx, tr.ID, checker3, nil)
	wantGuard(t, err, models.RuleAdminRequired)

	notes := "title company confirmed by phone"
	resolved, err := env.flow.ForceApprove(ctx, tr.ID, admin, &notes)
	if err != nil {
		t.Fatalf("force approve: %v", err)
	}
	if resolved.Status != models.TransferStatusApproved || *resolved.Resolution != models.ResolutionForceApproved || *resolved.ResolvedBy != admin.ID {
		t.Fatalf("resolved = %+v", resolved)
	}

	deal, _ := env.deals.GetDeal(ctx, d.ID)
	last, _ := deal.LastEntry()
	if deal.CurrentState != models.DealStateCompleted || last.Event != models.EventManualApprove || !last.ManualOverride {
		t.Fatalf("deal = %s last = %+v", deal.CurrentState, last)
	}
	if last.Notes == nil || *last.Notes != notes {
		t.Fatalf("notes = %v", last.Notes)
	}
	if env.alertCount(t, d.ID, models.AlertManualOverride) != 1 {
		t.Fatal("expected one manual_override alert")
	}
}

func TestForceCancel(t *testing.T) {
	env := newTestEnv(t)
	d, tr := env.driveToReview(t)
	ctx := context.Background()

	_, _ = env.flow.Reject(ctx, tr.ID, checker1, "a")
	_, _ = env.flow.Reject(ctx, tr.ID, checker2, "b")

	resolved, err := env.flow.ForceCancel(ctx, tr.ID, admin, nil)
	if err != nil {
		t.Fatalf("force cancel: %v", err)
	}
	if resolved.Status != models.TransferStatusRejected || *resolved.Resolution != models.ResolutionForceCancelled {
		t.Fatalf("resolved = %+v", resolved)
	}

	deal, _ := env.deals.GetDeal(ctx, d.ID)
	last, _ := deal.LastEntry()
	if deal.CurrentState != models.DealStateCancelled || last.Event != models.EventCancel || !last.ManualOverride {
		t.Fatalf("deal = %s last = %+v", deal.CurrentState, last)
	}
	if deal.CompletedAt != nil {
		t.Fatal("cancelled deal has completed_at")
	}
}

func TestCompletedTwiceIsInvariantViolation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	d, tr := env.driveToReview(t)

	// corrupt the stored deal so it claims an earlier completion
	err := env.mem.InTx(ctx, func(tx repositories.Tx) error {
		stored, err := tx.GetDeal(ctx, d.ID)
		if err != nil {
			return err
		}
		at := stored.CreatedAt
		stored.CompletedAt = &at
		return tx.CreateDeal(ctx, stored)
	})
	if err != nil {
		t.Fatal(err)
	}

	_, err = env.flow.Approve(ctx, tr.ID, checker1)
	if !errors.Is(err, models.ErrInvariantViolated) {
		t.Fatalf("expected invariant violation, got %v", err)
	}

	// the transfer CAS ran first and must have been rolled back
	still, _ := env.mem.GetTransfer(ctx, tr.ID)
	if !still.IsPending() {
		t.Fatalf("transfer = %s after rollback", still.Status)
	}
	if env.pub.count(models.AlertOwnershipTransferApproved) != 0 {
		t.Fatal("rolled back alert was published")
	}
}

func TestConcurrentOpenOneWinner(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	d := env.createDeal(t)

	errs := make([]error, 2)
	var g errgroup.Group
	for i := range errs {
		g.Go(func() error {
			errs[i] = env.mem.InTx(ctx, func(tx repositories.Tx) error {
				_, err := env.flow.Open(ctx, &unit{tx: tx}, d, d.TransferDetails(), maker)
				return err
			})
			return nil
		})
	}
	_ = g.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
			continue
		}
		if !models.IsGuardRule(err, models.RuleOpenTransfer) && !errors.Is(err, models.ErrConflict) {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if wins != 1 {
		t.Fatalf("wins = %d", wins)
	}
	env.pendingTransfer(t, d.ID)
}

func TestOpenRejectsBadPercentage(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	d := env.createDeal(t)

	details := d.TransferDetails()
	details.Percentage = details.Percentage.Neg()
	err := env.mem.InTx(ctx, func(tx repositories.Tx) error {
		_, err := env.flow.Open(ctx, &unit{tx: tx}, d, details, maker)
		return err
	})
	wantGuard(t, err, models.RulePercentageRange)
}

func TestCancelRacesApprove(t *testing.T) {
	mem := repositories.NewMemoryStore()
	bs := &barrierStore{MemoryStore: mem}
	env := newTestEnvWithStore(t, mem, bs)
	d, tr := env.driveToReview(t)
	ctx := context.Background()

	bs.arm(2)
	var cancelErr, approveErr error
	var g errgroup.Group
	g.Go(func() error {
		_, cancelErr = env.deals.TransitionDealState(ctx, d.ID, models.Cancel{Reason: "race"}, admin, nil)
		return nil
	})
	g.Go(func() error {
		_, approveErr = env.flow.Approve(ctx, tr.ID, checker1)
		return nil
	})
	_ = g.Wait()
	bs.armed.Store(false)

	if (cancelErr == nil) == (approveErr == nil) {
		t.Fatalf("cancel=%v approve=%v, want exactly one winner", cancelErr, approveErr)
	}
	for _, err := range []error{cancelErr, approveErr} {
		if err != nil && !isConflictOrGuard(err) {
			t.Fatalf("loser error = %v", err)
		}
	}

	deal, _ := mem.GetDeal(ctx, d.ID)
	final, _ := mem.GetTransfer(ctx, tr.ID)
	switch deal.CurrentState {
	case models.DealStateCompleted:
		if final.Status != models.TransferStatusApproved {
			t.Fatalf("completed deal with transfer %s", final.Status)
		}
	case models.DealStateCancelled:
		if final.Status != models.TransferStatusRejected {
			t.Fatalf("cancelled deal with transfer %s", final.Status)
		}
	default:
		t.Fatalf("deal state = %s", deal.CurrentState)
	}
}

func TestConcurrentRejectsCountOnce(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	_, tr := env.driveToReview(t)

	errs := make([]error, 2)
	var g errgroup.Group
	for i, r := range []models.Actor{checker1, checker2} {
		g.Go(func() error {
			_, errs[i] = env.flow.Reject(ctx, tr.ID, r, "race")
			return nil
		})
	}
	_ = g.Wait()

	got, _ := env.mem.GetTransfer(ctx, tr.ID)
	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
		} else if !errors.Is(err, models.ErrConflict) {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if got.RejectionCount != succeeded {
		t.Fatalf("rejection_count = %d, successful rejects = %d", got.RejectionCount, succeeded)
	}
}

func TestPendingReviewQueueOrder(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, older := env.driveToReview(t)
	_, newer := env.driveToReview(t)
	_, _ = env.flow.Reject(ctx, newer.ID, checker1, "a")
	_, _ = env.flow.Reject(ctx, newer.ID, checker2, "b")

	items, err := env.flow.GetPendingTransfersForReview(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 2 {
		t.Fatalf("items = %d", len(items))
	}
	if items[0].Transfer.ID != newer.ID || !items[0].Classification.Escalated {
		t.Fatalf("escalated transfer should lead the queue: %+v", items[0])
	}
	if items[1].Transfer.ID != older.ID || items[1].WaitingSeconds <= 0 {
		t.Fatalf("second item = %+v", items[1])
	}

	escalated, err := env.flow.EscalatedAwaitingResolution(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(escalated) != 1 || escalated[0].ID != newer.ID {
		t.Fatalf("escalated = %+v", escalated)
	}
}

func TestSLAReport(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	start := env.clock.Now()

	_, fast := env.driveToReview(t)
	if _, err := env.flow.Reject(ctx, fast.ID, checker1, "quick look"); err != nil {
		t.Fatal(err)
	}

	_, slow := env.driveToReview(t)
	env.clock.Advance(5 * time.Hour)
	if _, err := env.flow.Approve(ctx, slow.ID, checker1); err != nil {
		t.Fatal(err)
	}

	_, _ = env.driveToReview(t)

	rep, err := env.flow.SLAReport(ctx, start)
	if err != nil {
		t.Fatal(err)
	}
	if rep.Within != 1 || rep.Outside != 1 {
		t.Fatalf("report = %+v", rep)
	}
	if len(rep.Breaches) != 1 || rep.Breaches[0] != slow.ID {
		t.Fatalf("breaches = %v", rep.Breaches)
	}
}
