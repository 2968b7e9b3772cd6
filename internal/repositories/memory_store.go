package repositories

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mortgage-marketplace/backend/internal/models"
)

type memState struct {
	deals     map[uuid.UUID]models.Deal
	transfers map[uuid.UUID]models.PendingOwnershipTransfer
	history   []models.HistoryEntry
	alerts    []models.Alert
}

func (s *memState) clone() *memState {
	out := &memState{
		deals:     make(map[uuid.UUID]models.Deal, len(s.deals)),
		transfers: make(map[uuid.UUID]models.PendingOwnershipTransfer, len(s.transfers)),
		history:   append([]models.HistoryEntry(nil), s.history...),
		alerts:    append([]models.Alert(nil), s.alerts...),
	}
	for id, d := range s.deals {
		out.deals[id] = d.Clone()
	}
	for id, t := range s.transfers {
		out.transfers[id] = t.Clone()
	}
	return out
}

// MemoryStore keeps everything in process. A unit of work runs against a copy
// of the state that replaces the live state only when fn returns nil.
type MemoryStore struct {
	mu    sync.RWMutex
	state *memState
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: &memState{
		deals:     map[uuid.UUID]models.Deal{},
		transfers: map[uuid.UUID]models.PendingOwnershipTransfer{},
	}}
}

func (s *MemoryStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.state.clone()
	if err := fn(&memTx{st: work}); err != nil {
		return err
	}
	s.state = work
	return nil
}

func (s *MemoryStore) GetDeal(ctx context.Context, id uuid.UUID) (*models.Deal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return (&memTx{st: s.state}).GetDeal(ctx, id)
}

func (s *MemoryStore) ListDeals(_ context.Context, f DealFilter) ([]models.Deal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var deals []models.Deal
	for _, d := range s.state.deals {
		if f.State != nil && d.CurrentState != *f.State {
			continue
		}
		d = d.Clone()
		d.StateHistory = nil
		deals = append(deals, d)
	}
	sort.Slice(deals, func(i, j int) bool {
		if deals[i].CreatedAt.Equal(deals[j].CreatedAt) {
			return deals[i].ID.String() < deals[j].ID.String()
		}
		return deals[i].CreatedAt.After(deals[j].CreatedAt)
	})
	if f.Unbounded {
		return deals, nil
	}
	if f.Offset >= len(deals) {
		return nil, nil
	}
	deals = deals[f.Offset:]
	if len(deals) > f.limit() {
		deals = deals[:f.limit()]
	}
	return deals, nil
}

func (s *MemoryStore) GetTransfer(ctx context.Context, id uuid.UUID) (*models.PendingOwnershipTransfer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return (&memTx{st: s.state}).GetTransfer(ctx, id)
}

func (s *MemoryStore) ListTransfers(_ context.Context, f TransferFilter) ([]models.PendingOwnershipTransfer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.PendingOwnershipTransfer
	for _, t := range s.state.transfers {
		if f.DealID != nil && t.DealID != *f.DealID {
			continue
		}
		if f.Status != nil && t.Status != *f.Status {
			continue
		}
		if f.EscalatedOnly && !t.Escalated {
			continue
		}
		if f.ReviewedSince != nil && (t.ReviewedAt == nil || t.ReviewedAt.Before(*f.ReviewedSince)) {
			continue
		}
		out = append(out, t.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) RecentHistory(_ context.Context, limit int) ([]models.HistoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := len(s.state.history)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]models.HistoryEntry, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, s.state.history[i])
	}
	return out, nil
}

func (s *MemoryStore) ListAlerts(_ context.Context, dealID *uuid.UUID, limit int) ([]models.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 50
	}
	var out []models.Alert
	for i := len(s.state.alerts) - 1; i >= 0 && len(out) < limit; i-- {
		a := s.state.alerts[i]
		if dealID != nil && a.DealID != *dealID {
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

type memTx struct {
	st *memState
}

// LockDeal only checks existence; the store mutex already serializes units.
func (t *memTx) LockDeal(_ context.Context, id uuid.UUID) error {
	if _, ok := t.st.deals[id]; !ok {
		return models.ErrNotFound
	}
	return nil
}

func (t *memTx) GetDeal(_ context.Context, id uuid.UUID) (*models.Deal, error) {
	d, ok := t.st.deals[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	c := d.Clone()
	return &c, nil
}

func (t *memTx) CreateDeal(_ context.Context, d *models.Deal) error {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	now := time.Now().UTC()
	if d.CreatedAt.IsZero() {
		d.CreatedAt = now
	}
	d.UpdatedAt = d.CreatedAt
	if d.CurrentState == "" {
		d.CurrentState = models.InitialDealState
	}
	t.st.deals[d.ID] = d.Clone()
	return nil
}

func (t *memTx) CompareAndSetDealState(_ context.Context, dealID uuid.UUID, entry models.HistoryEntry, completedAt *time.Time) error {
	d, ok := t.st.deals[dealID]
	if !ok {
		return models.ErrNotFound
	}
	if d.CurrentState != entry.FromState {
		return models.ErrConflict
	}
	entry.DealID = dealID
	d.CurrentState = entry.ToState
	d.StateHistory = append(d.StateHistory, entry)
	d.Version++
	d.UpdatedAt = entry.Timestamp
	if completedAt != nil {
		v := *completedAt
		d.CompletedAt = &v
	}
	t.st.deals[dealID] = d
	t.st.history = append(t.st.history, entry)
	return nil
}

func (t *memTx) GetTransfer(_ context.Context, id uuid.UUID) (*models.PendingOwnershipTransfer, error) {
	tr, ok := t.st.transfers[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	c := tr.Clone()
	return &c, nil
}

func (t *memTx) GetPendingTransferForDeal(_ context.Context, dealID uuid.UUID) (*models.PendingOwnershipTransfer, error) {
	for _, tr := range t.st.transfers {
		if tr.DealID == dealID && tr.IsPending() {
			c := tr.Clone()
			return &c, nil
		}
	}
	return nil, models.ErrNotFound
}

func (t *memTx) CreateTransfer(ctx context.Context, tr *models.PendingOwnershipTransfer) error {
	if _, err := t.GetPendingTransferForDeal(ctx, tr.DealID); err == nil {
		return ErrOpenTransferExists
	}
	if tr.ID == uuid.Nil {
		tr.ID = uuid.New()
	}
	if tr.CreatedAt.IsZero() {
		tr.CreatedAt = time.Now().UTC()
	}
	t.st.transfers[tr.ID] = tr.Clone()
	return nil
}

func (t *memTx) UpdateTransferReview(_ context.Context, tr *models.PendingOwnershipTransfer, expectedRejections int) error {
	cur, ok := t.st.transfers[tr.ID]
	if !ok {
		return models.ErrNotFound
	}
	if !cur.IsPending() || cur.RejectionCount != expectedRejections {
		return models.ErrConflict
	}
	t.st.transfers[tr.ID] = tr.Clone()
	return nil
}

func (t *memTx) InsertAlert(_ context.Context, a *models.Alert) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	t.st.alerts = append(t.st.alerts, *a)
	return nil
}
