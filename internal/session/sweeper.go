package session

import (
	"context"
	"time"

	"go.uber.org/zap"

	"grcbridge/internal/metrics"
)

// Sweeper periodically deletes sessions that expired more than retention
// ago. Reads never rely on it; it only bounds storage growth.
type Sweeper struct {
	store     Store
	interval  time.Duration
	retention time.Duration
	now       func() time.Time
	log       *zap.SugaredLogger
	metrics   *metrics.Metrics
}

func NewSweeper(store Store, interval, retention time.Duration, log *zap.SugaredLogger, m *metrics.Metrics) *Sweeper {
	return &Sweeper{store: store, interval: interval, retention: retention, now: time.Now, log: log, metrics: m}
}

// Run sweeps every interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	if s.interval <= 0 {
		return
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.SweepOnce(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (s *Sweeper) SweepOnce(ctx context.Context) int64 {
	n, err := s.store.DeleteExpired(ctx, s.now().Add(-s.retention))
	if err != nil {
		s.log.Warnw("session sweep failed", "err", err)
		return 0
	}
	s.metrics.AddSwept(n)
	if n > 0 {
		s.log.Infow("expired sessions swept", "count", n)
	}
	return n
}
