package services

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mortgage-marketplace/backend/internal/events"
	"github.com/mortgage-marketplace/backend/internal/models"
	"github.com/mortgage-marketplace/backend/internal/repositories"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var (
	lawyer   = models.Actor{ID: "lawyer-1", Type: models.ActorTypeUser}
	signer   = models.Actor{ID: "esign", Type: models.ActorTypeWebhook}
	maker    = models.Actor{ID: "ops-maker", Type: models.ActorTypeAdmin}
	checker1 = models.Actor{ID: "checker-1", Type: models.ActorTypeUser}
	checker2 = models.Actor{ID: "checker-2", Type: models.ActorTypeUser}
	checker3 = models.Actor{ID: "checker-3", Type: models.ActorTypeUser}
	admin    = models.Actor{ID: "admin-1", Type: models.ActorTypeAdmin}

	dealValue = decimal.RequireFromString("250000.00")
)

// testClock moves one second forward on every reading.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, stream string, ev events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	if stream == events.StreamDealAlerts {
		p.events = append(p.events, ev)
	}
	return nil
}

func (p *recordingPublisher) count(typ models.AlertType) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, ev := range p.events {
		if ev.Type == string(typ) {
			n++
		}
	}
	return n
}

// barrierStore holds every armed GetDeal caller until n of them have loaded,
// so concurrent writers all start from the same snapshot.
type barrierStore struct {
	*repositories.MemoryStore
	armed atomic.Bool
	wg    sync.WaitGroup
}

func (b *barrierStore) arm(n int) {
	b.wg.Add(n)
	b.armed.Store(true)
}

func (b *barrierStore) GetDeal(ctx context.Context, id uuid.UUID) (*models.Deal, error) {
	d, err := b.MemoryStore.GetDeal(ctx, id)
	if b.armed.Load() {
		b.wg.Done()
		b.wg.Wait()
	}
	return d, err
}

type testEnv struct {
	mem   *repositories.MemoryStore
	deals *DealService
	flow  *TransferWorkflow
	pub   *recordingPublisher
	clock *testClock
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	mem := repositories.NewMemoryStore()
	return newTestEnvWithStore(t, mem, mem)
}

func newTestEnvWithStore(t *testing.T, mem *repositories.MemoryStore, store repositories.Store) *testEnv {
	t.Helper()
	pub := &recordingPublisher{}
	clock := &testClock{now: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
	deals := NewDealService(store, pub, zap.NewNop())
	deals.now = clock.Now
	return &testEnv{
		mem:   mem,
		deals: deals,
		flow:  NewTransferWorkflow(deals, models.DefaultEscalationPolicy()),
		pub:   pub,
		clock: clock,
	}
}

func (e *testEnv) createDeal(t *testing.T) *models.Deal {
	t.Helper()
	d, err := e.deals.CreateDeal(context.Background(), CreateDealInput{
		ListingID:           uuid.New(),
		SellerID:            "seller-1",
		InvestorID:          "investor-1",
		OwnershipPercentage: decimal.NewFromInt(25),
		DealValue:           dealValue,
	}, maker)
	if err != nil {
		t.Fatalf("create deal: %v", err)
	}
	return d
}

func (e *testEnv) transition(t *testing.T, dealID uuid.UUID, ev models.Event, actor models.Actor) *models.Deal {
	t.Helper()
	d, err := e.deals.TransitionDealState(context.Background(), dealID, ev, actor, nil)
	if err != nil {
		t.Fatalf("%s: %v", ev.Kind(), err)
	}
	return d
}

// driveToReview walks a new deal to ownership review with maker raising the
// final verification, and returns the opened transfer.
func (e *testEnv) driveToReview(t *testing.T) (*models.Deal, *models.PendingOwnershipTransfer) {
	t.Helper()
	d := e.createDeal(t)
	e.transition(t, d.ID, models.LawyerConfirmed{}, lawyer)
	e.transition(t, d.ID, models.DocsReady{}, lawyer)
	e.transition(t, d.ID, models.DocsSigned{EnvelopeID: "env-1"}, signer)
	e.transition(t, d.ID, models.TransferUploaded{ReceiptRef: "rcpt-1"}, maker)
	d = e.transition(t, d.ID, models.VerifyComplete{VerifiedAmount: dealValue}, maker)
	if d.CurrentState != models.DealStatePendingOwnershipReview {
		t.Fatalf("state = %s", d.CurrentState)
	}
	return d, e.pendingTransfer(t, d.ID)
}

func (e *testEnv) pendingTransfer(t *testing.T, dealID uuid.UUID) *models.PendingOwnershipTransfer {
	t.Helper()
	status := models.TransferStatusPending
	ts, err := e.mem.ListTransfers(context.Background(), repositories.TransferFilter{DealID: &dealID, Status: &status})
	if err != nil {
		t.Fatalf("list transfers: %v", err)
	}
	if len(ts) != 1 {
		t.Fatalf("pending transfers = %d, want 1", len(ts))
	}
	return &ts[0]
}

func (e *testEnv) alertCount(t *testing.T, dealID uuid.UUID, typ models.AlertType) int {
	t.Helper()
	alerts, err := e.mem.ListAlerts(context.Background(), &dealID, 1000)
	if err != nil {
		t.Fatalf("list alerts: %v", err)
	}
	n := 0
	for _, a := range alerts {
		if a.Type == typ {
			n++
		}
	}
	return n
}

func wantGuard(t *testing.T, err error, rule string) {
	t.Helper()
	if !models.IsGuardRule(err, rule) {
		t.Fatalf("expected guard violation %s, got %v", rule, err)
	}
}

func isConflictOrGuard(err error) bool {
	var gv *models.GuardViolationError
	return errors.Is(err, models.ErrConflict) || errors.As(err, &gv)
}
