package service

import (
	"context"
	"time"

	"github.com/clinicaec/hospital-backend/pkg/actor"
	"github.com/clinicaec/hospital-backend/pkg/logger"
)

// Recomputer is the part of LotService the scheduler drives
type Recomputer interface {
	RecomputeAllLotStates(ctx context.Context) (RecomputeResult, error)
}

// LotStateScheduler re-derives lot states periodically. Lot state depends
// on the calendar date, so it drifts even when no lot is written.
type LotStateScheduler struct {
	lots     Recomputer
	interval time.Duration
	logger   *logger.Logger
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewLotStateScheduler creates a new lot state scheduler
func NewLotStateScheduler(lots Recomputer, interval time.Duration, log *logger.Logger) *LotStateScheduler {
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	return &LotStateScheduler{
		lots:     lots,
		interval: interval,
		logger:   log.WithComponent("lot-state-scheduler"),
	}
}

// Start starts the scheduler in a background goroutine. The first pass runs
// immediately.
func (s *LotStateScheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(actor.WithActor(ctx, actor.System()))
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)
		s.logger.Info().Dur("interval", s.interval).Msg("lot state scheduler started")

		s.runCycle(ctx)

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				s.logger.Info().Msg("lot state scheduler stopped")
				return
			case <-ticker.C:
				s.runCycle(ctx)
			}
		}
	}()
}

// Stop stops the scheduler goroutine and waits for it to exit
func (s *LotStateScheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
		<-s.done
	}
}

func (s *LotStateScheduler) runCycle(ctx context.Context) {
	start := time.Now()
	result, err := s.lots.RecomputeAllLotStates(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("lot state recompute failed")
		return
	}

	s.logger.Info().
		Dur("duration", time.Since(start)).
		Int("evaluados", result.Evaluated).
		Int("actualizados", result.Changed).
		Msg("lot state cycle completed")
}
