// Package scheduler runs periodic maintenance of discount codes and monthly metrics
package scheduler

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// CodeExpirer is the part of the tracking flow the expiry scheduler drives
type CodeExpirer interface {
	ExpireCodes(ctx context.Context) (int64, error)
}

// CodeExpiryScheduler periodically flips overdue generated codes to expired
type CodeExpiryScheduler struct {
	expirer  CodeExpirer
	interval time.Duration
	timeout  time.Duration
	logger   *zap.Logger
}

func NewCodeExpiryScheduler(expirer CodeExpirer, interval time.Duration, logger *zap.Logger) *CodeExpiryScheduler {
	if interval <= 0 {
		interval = time.Minute
	}
	return &CodeExpiryScheduler{
		expirer:  expirer,
		interval: interval,
		timeout:  30 * time.Second,
		logger:   logger,
	}
}

// Start runs once immediately and then on every tick; the returned func stops it
func (s *CodeExpiryScheduler) Start(parent context.Context) func() {
	ctx, cancel := context.WithCancel(parent)

	go func() {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		s.runOnce(ctx)

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

func (s *CodeExpiryScheduler) runOnce(parent context.Context) {
	ctx, cancel := context.WithTimeout(parent, s.timeout)
	defer cancel()

	n, err := s.expirer.ExpireCodes(ctx)
	if err != nil {
		s.logger.Error("scheduler: code expiry failed", zap.Error(err))
		return
	}
	if n > 0 {
		s.logger.Debug("scheduler: code expiry done", zap.Int64("expired", n))
	}
}
