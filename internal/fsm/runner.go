package fsm

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"botflow/internal/flow"
	"botflow/internal/metrics"
	"botflow/internal/queue"
)

// Runner owns the engine's long-lived goroutines: the dispatch loop that
// drains the work queue, both schedulers, and the content-graph watcher.
type Runner struct {
	queue          *queue.Queue
	handler        *Handler
	reminders      *ReminderScheduler
	broadcasts     *BroadcastScheduler
	loader         *flow.Loader
	watchFlow      bool
	dequeueTimeout time.Duration
	metrics        *metrics.Collector
	logger         *slog.Logger
}

func NewRunner(
	q *queue.Queue,
	handler *Handler,
	reminders *ReminderScheduler,
	broadcasts *BroadcastScheduler,
	loader *flow.Loader,
	watchFlow bool,
	dequeueTimeout time.Duration,
	m *metrics.Collector,
	logger *slog.Logger,
) *Runner {
	if dequeueTimeout <= 0 {
		dequeueTimeout = 250 * time.Millisecond
	}
	return &Runner{
		queue:          q,
		handler:        handler,
		reminders:      reminders,
		broadcasts:     broadcasts,
		loader:         loader,
		watchFlow:      watchFlow,
		dequeueTimeout: dequeueTimeout,
		metrics:        m,
		logger:         logger,
	}
}

// Run blocks until the context ends, then waits for every in-flight
// dispatch cycle and scheduler to finish.
func (r *Runner) Run(ctx context.Context) {
	var background sync.WaitGroup

	background.Add(1)
	go func() {
		defer background.Done()
		r.reminders.Run(ctx)
	}()

	background.Add(1)
	go func() {
		defer background.Done()
		r.broadcasts.Run(ctx)
	}()

	if r.watchFlow {
		background.Add(1)
		go func() {
			defer background.Done()
			if err := r.loader.Watch(ctx); err != nil {
				r.logger.Error("content graph watcher stopped", "error", err)
			}
		}()
	}

	r.logger.Info("dispatch loop started")
	var inflight sync.WaitGroup
	for ctx.Err() == nil {
		rc, ok := r.queue.Dequeue(r.dequeueTimeout)
		r.metrics.SetQueueDepth(r.queue.Len())
		if !ok {
			continue
		}
		inflight.Add(1)
		go func() {
			defer inflight.Done()
			r.handler.Process(ctx, rc)
		}()
	}

	r.logger.Info("dispatch loop stopping, draining in-flight cycles")
	inflight.Wait()
	background.Wait()
	r.logger.Info("dispatch loop stopped")
}
