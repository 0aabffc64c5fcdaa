// Package reaper reclaims capacity held by reservations that were created
// but never paid within the timeout window.
package reaper

import (
	"context"
	"time"

	"github.com/eventhub/booking/internal/observability"
)

// Sweeper is implemented by the booking service.
type Sweeper interface {
	Sweep(ctx context.Context, timeout time.Duration) (int64, error)
}

type Reaper struct {
	sweeper Sweeper
	logger  observability.Logger
	timeout time.Duration
}

func New(sweeper Sweeper, logger observability.Logger, timeout time.Duration) *Reaper {
	return &Reaper{sweeper: sweeper, logger: logger, timeout: timeout}
}

// Run sweeps on a fixed cadence until the context is cancelled. Sweep
// errors are logged and the next cycle proceeds; cleanup is best-effort
// and never fatal.
func (r *Reaper) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			reaped, err := r.sweeper.Sweep(ctx, r.timeout)
			if err != nil {
				r.logger.WithError(err).Error("sweep cycle failed")
				continue
			}
			if reaped > 0 {
				r.logger.WithField("reaped", reaped).Info("reclaimed expired reservations")
			}
		}
	}
}
