// Package scheduler runs endpoint processors on their polling
// intervals, bounded by a worker pool. One endpoint's failure or panic
// never stops the others.
package scheduler

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/tornflow/tornflow/pkg/config"
)

// Task is one schedulable unit of work, normally a processor
type Task interface {
	Endpoint() *config.Endpoint
	Run(ctx context.Context) error
}

// Scheduler ticks each processor at its endpoint's frequency
type Scheduler struct {
	cron    *cron.Cron
	slots   chan struct{}
	logger  *zap.Logger
	wg      sync.WaitGroup
	baseCtx context.Context
	cancel  context.CancelFunc
}

// New creates a scheduler with a bounded worker pool
func New(workers int, logger *zap.Logger) *Scheduler {
	if workers <= 0 {
		workers = 4
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:    cron.New(),
		slots:   make(chan struct{}, workers),
		logger:  logger.With(zap.String("component", "scheduler")),
		baseCtx: ctx,
		cancel:  cancel,
	}
}

// Add registers a task at its endpoint's polling interval. A tick that
// fires while the endpoint's previous cycle is still running, or still
// waiting for a slot, is skipped, so cycles for one endpoint never
// overlap even when the pool has free capacity.
func (s *Scheduler) Add(p Task) {
	endpoint := p.Endpoint()
	var inflight int32
	s.cron.Schedule(cron.Every(endpoint.Interval()), cron.FuncJob(func() {
		if !atomic.CompareAndSwapInt32(&inflight, 0, 1) {
			s.logger.Debug("previous cycle still running, skipping tick",
				zap.String("endpoint", endpoint.Name))
			return
		}
		s.dispatch(p, &inflight)
	}))
	s.logger.Info("scheduled endpoint",
		zap.String("endpoint", endpoint.Name),
		zap.Duration("interval", endpoint.Interval()))
}

// dispatch runs one cycle on a worker slot. The slots channel bounds
// total concurrency across endpoints; the inflight flag taken by the
// caller keeps same-endpoint cycles serial and is cleared on every
// exit path.
func (s *Scheduler) dispatch(p Task, inflight *int32) {
	select {
	case s.slots <- struct{}{}:
	case <-s.baseCtx.Done():
		atomic.StoreInt32(inflight, 0)
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer atomic.StoreInt32(inflight, 0)
		defer func() { <-s.slots }()
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("cycle panicked",
					zap.String("endpoint", p.Endpoint().Name),
					zap.Any("panic", r))
			}
		}()

		// Errors are logged inside Run; the next tick retries
		_ = p.Run(s.baseCtx)
	}()
}

// Start begins ticking. Returns immediately.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("scheduler started", zap.Int("workers", cap(s.slots)))
}

// Stop halts ticking, cancels running cycles and waits for them to
// drain.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.cancel()
	s.wg.Wait()
	s.logger.Info("scheduler stopped")
}
