package appointment

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// NoShowSweeper periodically cancels appointments still scheduled on days
// that have ended. It goes through the Service, so it must share the
// Service's lock domain with every API instance writing the same ledger.
type NoShowSweeper struct {
	svc      *Service
	interval time.Duration
	batch    int
	timeout  time.Duration
	log      zerolog.Logger
}

func NewNoShowSweeper(svc *Service, interval time.Duration, batch int, log zerolog.Logger) *NoShowSweeper {
	return &NoShowSweeper{
		svc:      svc,
		interval: interval,
		batch:    batch,
		timeout:  30 * time.Second,
		log:      log.With().Str("component", "noshow").Logger(),
	}
}

// Run sweeps once immediately and then every interval until ctx ends.
func (w *NoShowSweeper) Run(ctx context.Context) {
	w.RunOnce(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("noshow sweeper stopped")
			return
		case <-ticker.C:
			w.RunOnce(ctx)
		}
	}
}

// RunOnce cancels at most one batch and reports how many were cancelled.
func (w *NoShowSweeper) RunOnce(ctx context.Context) int {
	runCtx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	start := time.Now()
	n, err := w.svc.CancelStaleAppointments(runCtx, w.svc.Today(), w.batch)
	if err != nil {
		w.log.Error().Err(err).Msg("noshow run error")
		return 0
	}
	w.log.Info().Int("cancelled", n).Dur("took", time.Since(start)).Msg("noshow run complete")
	return n
}
