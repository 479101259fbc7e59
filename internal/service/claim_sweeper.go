package service

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// ClaimSweeper periodically expires lapsed waitlist offers and passes the
// freed slots down the waitlist.
type ClaimSweeper struct {
	enrollments *EnrollmentService
	interval    time.Duration
	logger      *zap.Logger
	cancel      context.CancelFunc
	done        chan struct{}
}

// NewClaimSweeper creates the background sweeper.
func NewClaimSweeper(enrollments *EnrollmentService, interval time.Duration, logger *zap.Logger) *ClaimSweeper {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ClaimSweeper{enrollments: enrollments, interval: interval, logger: logger}
}

// Start launches the sweep loop. One sweep runs immediately.
func (s *ClaimSweeper) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)
		s.sweep(ctx)

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.sweep(ctx)
			}
		}
	}()
	s.logger.Info("claim sweeper started", zap.Duration("interval", s.interval))
}

// Stop halts the sweep loop and waits for the current sweep to finish.
func (s *ClaimSweeper) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.logger.Info("claim sweeper stopped")
}

func (s *ClaimSweeper) sweep(ctx context.Context) {
	expired, err := s.enrollments.ExpireOffers(ctx)
	if err != nil {
		s.logger.Error("claim sweep failed", zap.Error(err))
		return
	}
	if expired > 0 {
		s.logger.Info("claim sweep expired offers", zap.Int("count", expired))
	}
}
