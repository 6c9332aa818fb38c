package scheduler

import (
	"context"
	"time"

	businessflow "github.com/dormup/dormup-discounts/business_flow"
	"go.uber.org/zap"
)

// Backfiller recomputes stored monthly metrics for recent months
type Backfiller interface {
	Backfill(ctx context.Context, months int) (*businessflow.BackfillResult, error)
}

// MetricsBackfillScheduler keeps the stored monthly aggregates of recent months fresh
type MetricsBackfillScheduler struct {
	backfiller Backfiller
	months     int
	interval   time.Duration
	timeout    time.Duration
	logger     *zap.Logger
}

func NewMetricsBackfillScheduler(backfiller Backfiller, months int, interval time.Duration, logger *zap.Logger) *MetricsBackfillScheduler {
	if interval <= 0 {
		interval = time.Hour
	}
	return &MetricsBackfillScheduler{
		backfiller: backfiller,
		months:     months,
		interval:   interval,
		timeout:    10 * time.Minute,
		logger:     logger,
	}
}

func (s *MetricsBackfillScheduler) Start(parent context.Context) func() {
	ctx, cancel := context.WithCancel(parent)

	go func() {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.runOnce(ctx)
			}
		}
	}()

	return cancel
}

func (s *MetricsBackfillScheduler) runOnce(parent context.Context) {
	ctx, cancel := context.WithTimeout(parent, s.timeout)
	defer cancel()

	start := time.Now()
	res, err := s.backfiller.Backfill(ctx, s.months)
	if err != nil {
		s.logger.Error("scheduler: metrics backfill failed", zap.Error(err))
		return
	}
	s.logger.Info("scheduler: metrics backfill done",
		zap.Strings("months", res.Months),
		zap.Int("partner_rows", res.PartnerRows),
		zap.Duration("took", time.Since(start)))
}
