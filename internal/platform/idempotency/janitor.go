package idempotency

import (
	"context"
	"time"
)

const defaultPurgeTimeout = time.Minute

// Janitor periodically purges expired records from a Store.
type Janitor struct {
	store    Store
	interval time.Duration
	batch    int
	clock    clockFunc
	logger   Logger
}

// NewJanitor constructs a Janitor. A non-positive interval disables Run.
func NewJanitor(store Store, interval time.Duration, batch int, logger Logger) *Janitor {
	return &Janitor{
		store:    store,
		interval: interval,
		batch:    batch,
		clock:    time.Now,
		logger:   logger,
	}
}

// Run purges on every tick until ctx is cancelled.
func (j *Janitor) Run(ctx context.Context) {
	if j == nil || j.store == nil || j.interval <= 0 {
		return
	}
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.Sweep(ctx)
		}
	}
}

// Sweep performs one purge pass and reports the number of removed records.
func (j *Janitor) Sweep(ctx context.Context) int {
	runCtx, cancel := context.WithTimeout(ctx, defaultPurgeTimeout)
	defer cancel()

	removed, err := j.store.Purge(runCtx, j.clock().UTC(), j.batch)
	if err != nil {
		if j.logger != nil {
			j.logger(ctx, "idempotency.purge.failed", map[string]any{"error": err})
		}
		return 0
	}
	if removed > 0 && j.logger != nil {
		j.logger(ctx, "idempotency.purge", map[string]any{"removed": removed})
	}
	return removed
}
