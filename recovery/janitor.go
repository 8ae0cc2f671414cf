package recovery

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/ruteri/social-recovery-backend/interfaces"
	"github.com/ruteri/social-recovery-backend/metrics"
)

// Janitor abandons recovery requests that saw no activity for longer than
// the configured inactivity window.
type Janitor struct {
	lister     interfaces.StaleRecoveryLister
	recoveries interfaces.RecoveryStore
	window     time.Duration
	interval   time.Duration
	metrics    metrics.RecoveryMetrics
	log        *slog.Logger
	now        func() time.Time
}

func NewJanitor(cfg Config, lister interfaces.StaleRecoveryLister, recoveries interfaces.RecoveryStore, m metrics.RecoveryMetrics, log *slog.Logger) *Janitor {
	if m == nil {
		m = metrics.NoopCollector{}
	}
	return &Janitor{
		lister:     lister,
		recoveries: recoveries,
		window:     cfg.InactivityWindow,
		interval:   cfg.JanitorInterval,
		metrics:    m,
		log:        log,
		now:        time.Now,
	}
}

// Sweep abandons every stale request once and reports how many it closed.
// A request that saw activity or closed since it was listed is skipped.
func (j *Janitor) Sweep(ctx context.Context) (int, error) {
	cutoff := j.now().UTC().Add(-j.window)

	stale, err := j.lister.StaleRecoveries(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	abandoned := 0
	for _, req := range stale {
		if _, err := j.recoveries.ExpireRecovery(ctx, req.ID, cutoff); err != nil {
			if errors.Is(err, interfaces.ErrSessionClosed) || errors.Is(err, interfaces.ErrInvalidState) || errors.Is(err, interfaces.ErrNotFound) {
				continue
			}
			return abandoned, err
		}

		abandoned++
		j.metrics.RecoveryAbandoned("inactive")
		j.log.Info("Abandoned inactive recovery",
			"requestID", req.ID,
			"accountID", req.AccountID,
			"lastActivity", req.UpdatedAt)
	}
	return abandoned, nil
}

// Run sweeps every interval until ctx is done.
func (j *Janitor) Run(ctx context.Context) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := j.Sweep(ctx); err != nil && ctx.Err() == nil {
				j.log.Error("Recovery sweep failed", "err", err)
			}
		}
	}
}
