package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mortgage-marketplace/backend/internal/events"
	"github.com/mortgage-marketplace/backend/internal/models"
	"github.com/mortgage-marketplace/backend/internal/repositories"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type DealService struct {
	store     repositories.Store
	publisher events.Publisher
	log       *zap.Logger
	now       func() time.Time
}

func NewDealService(store repositories.Store, publisher events.Publisher, log *zap.Logger) *DealService {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	return &DealService{
		store:     store,
		publisher: publisher,
		log:       log,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// unit is one unit of work plus the alerts it wrote, published after commit.
type unit struct {
	tx     repositories.Tx
	alerts []models.Alert
}

func (u *unit) alert(ctx context.Context, a models.Alert) error {
	if err := u.tx.InsertAlert(ctx, &a); err != nil {
		return fmt.Errorf("insert alert %s: %w", a.Type, err)
	}
	u.alerts = append(u.alerts, a)
	return nil
}

// inUnit runs fn in one store transaction and publishes its alerts once it commits.
func (s *DealService) inUnit(ctx context.Context, fn func(u *unit) error) error {
	var committed []models.Alert
	err := s.store.InTx(ctx, func(tx repositories.Tx) error {
		u := &unit{tx: tx}
		if err := fn(u); err != nil {
			return err
		}
		committed = u.alerts
		return nil
	})
	if err != nil {
		return err
	}
	s.publishAlerts(ctx, committed)
	return nil
}

func (s *DealService) publishAlerts(ctx context.Context, alerts []models.Alert) {
	for _, a := range alerts {
		if err := s.publisher.Publish(ctx, events.StreamDealAlerts, events.FromAlert(a)); err != nil {
			s.log.Warn("failed to publish alert",
				zap.String("alert_id", a.ID.String()),
				zap.String("type", string(a.Type)),
				zap.String("deal_id", a.DealID.String()),
				zap.Error(err),
			)
		}
	}
}

type transitionOpts struct {
	notes          *string
	manualOverride bool
}

// applyTransition moves deal along ev inside u. It owns every side effect of a
// transition: history, completion time, the transfer opened on entry to review,
// the transfer closed on cancel and the alerts. deal is updated in place.
func (s *DealService) applyTransition(ctx context.Context, u *unit, deal *models.Deal, ev models.Event, actor models.Actor, opts transitionOpts) error {
	from := deal.CurrentState
	to, err := models.Next(*deal, ev)
	if err != nil {
		return err
	}

	at := s.now()
	entry := models.HistoryEntry{
		DealID:         deal.ID,
		FromState:      from,
		ToState:        to,
		Event:          ev.Kind(),
		Timestamp:      at,
		Actor:          actor,
		Notes:          opts.notes,
		ManualOverride: opts.manualOverride,
	}

	var completedAt *time.Time
	if to == models.DealStateCompleted {
		if deal.CompletedAt != nil {
			s.log.DPanic("deal completed twice",
				zap.String("deal_id", deal.ID.String()),
				zap.Time("completed_at", *deal.CompletedAt),
			)
			return fmt.Errorf("%w: deal %s already has completed_at", models.ErrInvariantViolated, deal.ID)
		}
		completedAt = &at
	}

	if err := u.tx.CompareAndSetDealState(ctx, deal.ID, entry, completedAt); err != nil {
		return err
	}
	deal.CurrentState = to
	deal.StateHistory = append(deal.StateHistory, entry)
	deal.Version++
	deal.UpdatedAt = at
	if completedAt != nil {
		deal.CompletedAt = completedAt
	}

	if to == models.DealStatePendingOwnershipReview {
		if _, err := openTransfer(ctx, u, deal, deal.TransferDetails(), actor, at); err != nil {
			return err
		}
	}
	if ev.Kind() == models.EventCancel && from == models.DealStatePendingOwnershipReview {
		if err := closeTransferOnCancel(ctx, u, deal.ID, actor, at); err != nil {
			return err
		}
	}

	payload := map[string]any{
		"from_state":      string(from),
		"to_state":        string(to),
		"event":           string(ev.Kind()),
		"manual_override": opts.manualOverride,
	}
	if err := u.alert(ctx, models.Alert{
		Type: models.AlertDealStateChanged, DealID: deal.ID, Actor: actor, Payload: payload, CreatedAt: at,
	}); err != nil {
		return err
	}

	var terminal models.AlertType
	switch to {
	case models.DealStateCompleted:
		terminal = models.AlertDealCompleted
	case models.DealStateCancelled:
		terminal = models.AlertDealCancelled
	case models.DealStateArchived:
		terminal = models.AlertDealArchived
	}
	if terminal != "" {
		return u.alert(ctx, models.Alert{Type: terminal, DealID: deal.ID, Actor: actor, Payload: payload, CreatedAt: at})
	}
	return nil
}

// TransitionDealState applies an externally raised event. Ownership approval is
// reserved to the transfer workflow.
func (s *DealService) TransitionDealState(ctx context.Context, dealID uuid.UUID, ev models.Event, actor models.Actor, notes *string) (*models.Deal, error) {
	if actor.IsZero() {
		return nil, models.NewGuardViolation(models.RuleActorRequired, "an actor is required")
	}
	if ev == nil {
		return nil, fmt.Errorf("%w: nil event", models.ErrInvalidEvent)
	}
	switch ev.Kind() {
	case models.EventOwnershipApproved, models.EventManualApprove:
		return nil, models.NewGuardViolation(models.RuleReviewRequired,
			"%s is raised only by the ownership transfer review", ev.Kind())
	}

	deal, err := s.store.GetDeal(ctx, dealID)
	if err != nil {
		return nil, err
	}

	err = s.inUnit(ctx, func(u *unit) error {
		return s.applyTransition(ctx, u, deal, ev, actor, transitionOpts{notes: notes})
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("deal transitioned",
		zap.String("deal_id", deal.ID.String()),
		zap.String("event", string(ev.Kind())),
		zap.String("state", string(deal.CurrentState)),
		zap.String("actor_id", actor.ID),
	)
	return deal, nil
}

// Column scales of deals.deal_value and deals.ownership_percentage. Input with
// more precision would be rounded silently on insert.
const (
	dealValueScale  = 2
	percentageScale = 4
)

type CreateDealInput struct {
	ListingID           uuid.UUID
	SellerID            string
	InvestorID          string
	OwnershipPercentage decimal.Decimal
	DealValue           decimal.Decimal
}

func (in CreateDealInput) validate() error {
	switch {
	case in.ListingID == uuid.Nil:
		return models.NewGuardViolation(models.RuleInvalidDealInput, "listing_id is required")
	case strings.TrimSpace(in.SellerID) == "" || strings.TrimSpace(in.InvestorID) == "":
		return models.NewGuardViolation(models.RuleInvalidDealInput, "seller_id and investor_id are required")
	case in.SellerID == in.InvestorID:
		return models.NewGuardViolation(models.RuleInvalidDealInput, "seller and investor must differ")
	case !in.DealValue.IsPositive():
		return models.NewGuardViolation(models.RuleInvalidDealInput, "deal_value must be positive")
	case !in.DealValue.Equal(in.DealValue.Round(dealValueScale)):
		return models.NewGuardViolation(models.RuleInvalidDealInput,
			"deal_value %s has more than %d decimal places", in.DealValue.String(), dealValueScale)
	case !in.OwnershipPercentage.Equal(in.OwnershipPercentage.Round(percentageScale)):
		return models.NewGuardViolation(models.RulePercentageRange,
			"ownership_percentage %s has more than %d decimal places", in.OwnershipPercentage.String(), percentageScale)
	case !models.PercentageInRange(in.OwnershipPercentage):
		return models.NewGuardViolation(models.RulePercentageRange,
			"ownership_percentage %s is outside (0, 100]", in.OwnershipPercentage.String())
	}
	return nil
}

// CreateDeal starts a deal in the initial state with an empty history.
func (s *DealService) CreateDeal(ctx context.Context, in CreateDealInput, actor models.Actor) (*models.Deal, error) {
	if actor.IsZero() {
		return nil, models.NewGuardViolation(models.RuleActorRequired, "an actor is required")
	}
	if err := in.validate(); err != nil {
		return nil, err
	}

	now := s.now()
	deal := &models.Deal{
		ListingID:           in.ListingID,
		SellerID:            in.SellerID,
		InvestorID:          in.InvestorID,
		OwnershipPercentage: in.OwnershipPercentage,
		DealValue:           in.DealValue,
		CurrentState:        models.InitialDealState,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if err := s.store.InTx(ctx, func(tx repositories.Tx) error {
		return tx.CreateDeal(ctx, deal)
	}); err != nil {
		return nil, fmt.Errorf("create deal: %w", err)
	}

	s.log.Info("deal created",
		zap.String("deal_id", deal.ID.String()),
		zap.String("listing_id", deal.ListingID.String()),
		zap.String("actor_id", actor.ID),
	)
	return deal, nil
}

func (s *DealService) GetDeal(ctx context.Context, id uuid.UUID) (*models.Deal, error) {
	return s.store.GetDeal(ctx, id)
}

func (s *DealService) ListDeals(ctx context.Context, f repositories.DealFilter) ([]models.Deal, error) {
	return s.store.ListDeals(ctx, f)
}

// DealHistory is the audit view of one deal.
type DealHistory struct {
	DealID            uuid.UUID             `json:"deal_id"`
	CurrentState      models.DealState      `json:"current_state"`
	CurrentStateSince time.Time             `json:"current_state_since"`
	Entries           []models.HistoryEntry `json:"entries"`
	// SecondsInState sums the time spent in each state, up to now for the current one.
	SecondsInState map[models.DealState]float64 `json:"seconds_in_state"`
}

func (s *DealService) GetDealHistory(ctx context.Context, id uuid.UUID) (*DealHistory, error) {
	deal, err := s.store.GetDeal(ctx, id)
	if err != nil {
		return nil, err
	}
	if !deal.HistoryConsistent() {
		// the store writes state and history together, so this is corruption
		s.log.Error("deal history does not end in current state",
			zap.String("deal_id", deal.ID.String()),
			zap.String("state", string(deal.CurrentState)),
		)
	}

	secs := make(map[models.DealState]float64)
	for st, d := range deal.TimeInState(s.now()) {
		secs[st] = d.Seconds()
	}
	entries := deal.StateHistory
	if entries == nil {
		entries = []models.HistoryEntry{}
	}
	return &DealHistory{
		DealID:            deal.ID,
		CurrentState:      deal.CurrentState,
		CurrentStateSince: deal.CurrentStateSince(),
		Entries:           entries,
		SecondsInState:    secs,
	}, nil
}

// IsRetryable reports whether err came from losing a concurrent write.
func IsRetryable(err error) bool {
	return errors.Is(err, models.ErrConflict)
}
