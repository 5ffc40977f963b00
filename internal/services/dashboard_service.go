package services

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"

	"ainopay/internal/cache"
	"ainopay/internal/core"
	"ainopay/internal/log"
	"ainopay/internal/ports"
)

const (
	DefaultRecentLimit = 5
	statsField         = "stats"
)

// DashboardService serves per-user aggregates, cached until the user's next
// payment write.
type DashboardService struct {
	payments ports.PaymentRepository
	stats    cache.GroupCache[core.DashboardStats]
	charts   cache.GroupCache[[]core.MonthlyStats]
	logger   *log.Logger
	now      func() time.Time
}

// NewDashboardService accepts nil caches, which disables caching.
func NewDashboardService(payments ports.PaymentRepository, stats cache.GroupCache[core.DashboardStats],
	charts cache.GroupCache[[]core.MonthlyStats], logger *log.Logger) *DashboardService {
	if logger == nil {
		logger = log.Discard()
	}
	return &DashboardService{
		payments: payments,
		stats:    stats,
		charts:   charts,
		logger:   logger.WithComponent(log.ComponentDashboard),
		now:      time.Now,
	}
}

func (s *DashboardService) Stats(ctx context.Context, userID uuid.UUID) (core.DashboardStats, error) {
	group := core.DashboardGroup(userID)
	if s.stats != nil {
		if v, ok, err := s.stats.Get(ctx, group, statsField); err != nil {
			s.logger.WarnContext(ctx, "Dashboard cache read failed", log.FieldError, err)
		} else if ok {
			return v, nil
		}
	}

	stats, err := s.payments.PaymentStats(ctx, userID)
	if err != nil {
		return core.DashboardStats{}, err
	}
	if s.stats != nil {
		if err := s.stats.Set(ctx, group, statsField, stats); err != nil {
			s.logger.WarnContext(ctx, "Dashboard cache write failed", log.FieldError, err)
		}
	}
	return stats, nil
}

// Chart returns completed totals per month of year; year 0 means the
// current year.
func (s *DashboardService) Chart(ctx context.Context, userID uuid.UUID, year int) ([]core.MonthlyStats, error) {
	if year == 0 {
		year = s.now().Year()
	}
	group := core.DashboardGroup(userID)
	field := "chart:" + strconv.Itoa(year)
	if s.charts != nil {
		if v, ok, err := s.charts.Get(ctx, group, field); err != nil {
			s.logger.WarnContext(ctx, "Dashboard cache read failed", log.FieldError, err)
		} else if ok {
			return v, nil
		}
	}

	months, err := s.payments.MonthlyStats(ctx, userID, year)
	if err != nil {
		return nil, err
	}
	if months == nil {
		months = []core.MonthlyStats{}
	}
	if s.charts != nil {
		if err := s.charts.Set(ctx, group, field, months); err != nil {
			s.logger.WarnContext(ctx, "Dashboard cache write failed", log.FieldError, err)
		}
	}
	return months, nil
}

func (s *DashboardService) Recent(ctx context.Context, userID uuid.UUID, limit int) ([]core.Payment, error) {
	if limit < 1 {
		limit = DefaultRecentLimit
	}
	payments, err := s.payments.RecentPayments(ctx, userID, limit)
	if err != nil {
		return nil, err
	}
	if payments == nil {
		payments = []core.Payment{}
	}
	return payments, nil
}

// Invalidate drops every cached aggregate of userID.
func (s *DashboardService) Invalidate(ctx context.Context, userID uuid.UUID) {
	group := core.DashboardGroup(userID)
	if s.stats != nil {
		if err := s.stats.DeleteGroup(ctx, group); err != nil {
			s.logger.WarnContext(ctx, "Dashboard cache invalidation failed", log.FieldUserID, userID, log.FieldError, err)
		}
	}
	if s.charts != nil {
		if err := s.charts.DeleteGroup(ctx, group); err != nil {
			s.logger.WarnContext(ctx, "Dashboard cache invalidation failed", log.FieldUserID, userID, log.FieldError, err)
		}
	}
}
