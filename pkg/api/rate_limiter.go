// Package api provides the authenticated, rate-limited, retrying client
// for the upstream game API, including cursor pagination and
// sliding-window backfill.
package api

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Pacer enforces a minimum inter-request interval per credential.
// Concurrent callers sharing a credential serialize: each waits out the
// interval measured from the previous call's start before issuing.
type Pacer struct {
	interval time.Duration

	mu    sync.Mutex
	slots map[string]*pacerSlot

	// Stats
	waits         int64
	totalWaitTime int64
}

// pacerSlot carries the last-request timestamp for one credential. The
// slot mutex is held across the wait so that a second caller queues
// behind the first instead of racing it.
type pacerSlot struct {
	mu   sync.Mutex
	last time.Time
}

// NewPacer creates a pacer with the given minimum interval between
// requests on the same credential.
func NewPacer(interval time.Duration) *Pacer {
	return &Pacer{
		interval: interval,
		slots:    make(map[string]*pacerSlot),
	}
}

// Wait blocks until a request on the credential may be issued, or the
// context is cancelled. On success the credential's clock is advanced to
// the current time.
func (p *Pacer) Wait(ctx context.Context, credential string) error {
	slot := p.slot(credential)

	slot.mu.Lock()
	defer slot.mu.Unlock()

	wait := p.interval - time.Since(slot.last)
	if wait > 0 {
		atomic.AddInt64(&p.waits, 1)
		atomic.AddInt64(&p.totalWaitTime, int64(wait))

		timer := time.NewTimer(wait)
		defer timer.Stop()

		select {
		case <-timer.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	slot.last = time.Now()
	return nil
}

// Interval returns the configured minimum inter-request interval
func (p *Pacer) Interval() time.Duration {
	return p.interval
}

// slot returns the per-credential slot, creating it on first use
func (p *Pacer) slot(credential string) *pacerSlot {
	p.mu.Lock()
	defer p.mu.Unlock()

	s, ok := p.slots[credential]
	if !ok {
		s = &pacerSlot{}
		p.slots[credential] = s
	}
	return s
}

// PacerStats reports aggregate pacing behavior for monitoring
type PacerStats struct {
	Waits         int64         `json:"waits"`
	TotalWaitTime time.Duration `json:"total_wait_time"`
}

// Stats returns pacing statistics
func (p *Pacer) Stats() PacerStats {
	return PacerStats{
		Waits:         atomic.LoadInt64(&p.waits),
		TotalWaitTime: time.Duration(atomic.LoadInt64(&p.totalWaitTime)),
	}
}
