package heatercooler

import (
	"context"
	"time"
)

// Refresher pulls device state on a fixed interval.
type Refresher struct {
	interval time.Duration
	refresh  func(context.Context)
	busy     func() bool
	logger   Logger
	name     string
}

// NewRefresher creates a Refresher that calls refresh every interval unless
// busy reports a write in flight.
func NewRefresher(name string, interval time.Duration, refresh func(context.Context), busy func() bool, logger Logger) *Refresher {
	return &Refresher{
		interval: interval,
		refresh:  refresh,
		busy:     busy,
		logger:   logger,
		name:     name,
	}
}

// Run ticks until ctx is cancelled. A failed refresh never stops the loop.
func (r *Refresher) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Tick(ctx)
		}
	}
}

// Tick performs one refresh unless a write is in flight.
// Skipped ticks are not queued.
//
// Returns:
//   - bool: true if refresh was called
func (r *Refresher) Tick(ctx context.Context) bool {
	if r.busy != nil && r.busy() {
		if r.logger != nil {
			r.logger.Debug("skipping refresh, write in flight", "appliance", r.name)
		}
		return false
	}
	r.refresh(ctx)
	return true
}
