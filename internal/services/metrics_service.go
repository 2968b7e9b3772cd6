package services

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/mortgage-marketplace/backend/internal/models"
	"github.com/mortgage-marketplace/backend/internal/repositories"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const metricsCacheKey = "metrics:deals"

// TransferMetrics summarizes the review queue.
type TransferMetrics struct {
	Pending    int `json:"pending"`
	Escalated  int `json:"escalated"`
	WithinSLA  int `json:"within_sla"`
	OutsideSLA int `json:"outside_sla"`
	UnknownSLA int `json:"unknown_sla"`
}

type DealMetrics struct {
	// ByState excludes archived deals.
	ByState               map[models.DealState]int `json:"by_state"`
	TotalActive           int                      `json:"total_active"`
	TotalCompleted        int                      `json:"total_completed"`
	TotalCancelled        int                      `json:"total_cancelled"`
	TotalArchived         int                      `json:"total_archived"`
	AverageDaysToComplete float64                  `json:"average_days_to_complete"`
	RecentActivity        []models.HistoryEntry    `json:"recent_activity"`
	Transfers             TransferMetrics          `json:"transfers"`
	GeneratedAt           time.Time                `json:"generated_at"`
}

// AggregateDealMetrics is a pure projection over deals, transfers and the
// newest history entries.
func AggregateDealMetrics(deals []models.Deal, transfers []models.PendingOwnershipTransfer, recent []models.HistoryEntry, policy models.EscalationPolicy, now time.Time) DealMetrics {
	m := DealMetrics{
		ByState:        make(map[models.DealState]int),
		RecentActivity: recent,
		GeneratedAt:    now,
	}
	if m.RecentActivity == nil {
		m.RecentActivity = []models.HistoryEntry{}
	}

	var (
		completedTotal time.Duration
		completedN     int
	)
	for _, d := range deals {
		switch d.CurrentState {
		case models.DealStateArchived:
			m.TotalArchived++
		case models.DealStateCompleted:
			m.TotalCompleted++
		case models.DealStateCancelled:
			m.TotalCancelled++
		default:
			m.TotalActive++
		}
		if d.CurrentState != models.DealStateArchived {
			m.ByState[d.CurrentState]++
		}
		// archived deals that were completed still count toward completion time
		if d.CompletedAt != nil && !d.CompletedAt.Before(d.CreatedAt) {
			completedTotal += d.CompletedAt.Sub(d.CreatedAt)
			completedN++
		}
	}
	if completedN > 0 {
		m.AverageDaysToComplete = completedTotal.Hours() / 24 / float64(completedN)
	}

	for _, t := range transfers {
		if t.IsPending() {
			m.Transfers.Pending++
			if policy.Classify(t).Escalated {
				m.Transfers.Escalated++
			}
		}
		switch policy.SLAStatus(t) {
		case models.SLAWithin:
			m.Transfers.WithinSLA++
		case models.SLAOutside:
			m.Transfers.OutsideSLA++
		default:
			m.Transfers.UnknownSLA++
		}
	}
	return m
}

// MetricsCache stores the serialized projection. Satisfied by *redis.Client.
type MetricsCache interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
}

type MetricsService struct {
	store       repositories.Reader
	cache       MetricsCache
	policy      models.EscalationPolicy
	ttl         time.Duration
	recentLimit int
	log         *zap.Logger
	now         func() time.Time
}

// NewMetricsService builds the dashboard projection. cache may be nil.
func NewMetricsService(store repositories.Reader, cache MetricsCache, policy models.EscalationPolicy, ttl time.Duration, recentLimit int, log *zap.Logger) *MetricsService {
	if recentLimit <= 0 {
		recentLimit = 20
	}
	return &MetricsService{
		store:       store,
		cache:       cache,
		policy:      policy,
		ttl:         ttl,
		recentLimit: recentLimit,
		log:         log,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// GetDealMetrics serves from the cache when possible. Cache errors degrade to
// direct computation.
func (s *MetricsService) GetDealMetrics(ctx context.Context) (*DealMetrics, error) {
	if s.cache != nil && s.ttl > 0 {
		raw, err := s.cache.Get(ctx, metricsCacheKey).Bytes()
		switch {
		case err == nil:
			var m DealMetrics
			if jsonErr := json.Unmarshal(raw, &m); jsonErr == nil {
				return &m, nil
			}
			s.log.Warn("discarding unreadable metrics cache entry")
		case !errors.Is(err, redis.Nil):
			s.log.Warn("metrics cache unavailable", zap.Error(err))
		}
	}
	return s.Refresh(ctx)
}

// Refresh recomputes the projection and rewrites the cache.
func (s *MetricsService) Refresh(ctx context.Context) (*DealMetrics, error) {
	deals, err := s.store.ListDeals(ctx, repositories.DealFilter{Unbounded: true})
	if err != nil {
		return nil, err
	}
	transfers, err := s.store.ListTransfers(ctx, repositories.TransferFilter{})
	if err != nil {
		return nil, err
	}
	recent, err := s.store.RecentHistory(ctx, s.recentLimit)
	if err != nil {
		return nil, err
	}

	m := AggregateDealMetrics(deals, transfers, recent, s.policy, s.now())

	if s.cache != nil && s.ttl > 0 {
		if data, err := json.Marshal(m); err == nil {
			if err := s.cache.Set(ctx, metricsCacheKey, data, s.ttl).Err(); err != nil {
				s.log.Warn("failed to write metrics cache", zap.Error(err))
			}
		}
	}
	return &m, nil
}
