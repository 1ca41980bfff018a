package fsm

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"botflow/internal/domain"
	"botflow/internal/metrics"
	"botflow/internal/sender"
)

// ReminderScheduler delivers due check-backs. Every tick it collects the
// reminders of the next interval and spreads their delivery across the
// fan-out window so a dense minute does not burst the frontends.
type ReminderScheduler struct {
	store     domain.Store
	client    *sender.Client
	directory sender.Directory
	interval  time.Duration
	window    time.Duration
	// responseState is pushed onto the user's stack so their next message
	// is handled as a reminder reply.
	responseState string
	metrics       *metrics.Collector
	logger        *slog.Logger
}

func NewReminderScheduler(
	store domain.Store,
	client *sender.Client,
	directory sender.Directory,
	interval, window time.Duration,
	responseState string,
	m *metrics.Collector,
	logger *slog.Logger,
) *ReminderScheduler {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	if window <= 0 {
		window = interval
	}
	return &ReminderScheduler{
		store:         store,
		client:        client,
		directory:     directory,
		interval:      interval,
		window:        window,
		responseState: responseState,
		metrics:       m,
		logger:        logger,
	}
}

// Run ticks aligned to the interval until the context ends.
func (s *ReminderScheduler) Run(ctx context.Context) {
	s.logger.Info("reminder scheduler started", "interval", s.interval)
	for {
		next := time.Now().Truncate(s.interval).Add(s.interval)
		if !sleepUntil(ctx, next) {
			s.logger.Info("reminder scheduler stopped")
			return
		}
		s.deliverDue(ctx, next)
	}
}

func (s *ReminderScheduler) deliverDue(ctx context.Context, from time.Time) {
	count, due, err := s.store.CheckbacksInRange(ctx, from, from.Add(s.interval))
	if err != nil {
		s.logger.Error("cannot query reminders", "error", err)
		return
	}
	if count == 0 {
		return
	}
	s.logger.Debug("delivering reminders", "count", count)

	offsets := FanoutOffsets(s.window, count)
	var wg sync.WaitGroup
	for i, cb := range due {
		wg.Add(1)
		go func(cb *domain.CheckBack, offset time.Duration) {
			defer wg.Done()
			if !sleepFor(ctx, offset) {
				return
			}
			s.deliver(ctx, cb)
		}(cb, offsets[i])
	}
	wg.Wait()
}

func (s *ReminderScheduler) deliver(ctx context.Context, cb *domain.CheckBack) {
	payload := cb.Context.Clone()

	url, err := s.directory.URL(ctx, payload.ViaInstance)
	if err != nil {
		s.logger.Error("no endpoint for reminder", "instance", payload.ViaInstance, "error", err)
		return
	}

	// The reply to a reminder is handled by the response state, so push
	// it before the message goes out.
	if err := s.store.AppendUserState(ctx, cb.Identity, s.responseState); err != nil {
		s.logger.Error("cannot push reminder response state", "identity", cb.Identity, "error", err)
		return
	}

	status, _, err := s.client.Post(ctx, url, payload)
	if err != nil {
		s.logger.Error("reminder delivery failed", "identity", cb.Identity, "error", err)
		return
	}
	if status != 200 {
		s.logger.Error("reminder delivery rejected", "identity", cb.Identity, "status", status)
		return
	}

	if err := s.store.RemoveCheckback(ctx, cb.ID); err != nil {
		s.logger.Error("cannot remove delivered reminder", "id", cb.ID, "error", err)
		return
	}
	s.metrics.ReminderSent()
	s.logger.Info("reminder delivered", "identity", cb.Identity, "id", cb.ID)
}

// FanoutOffsets spreads n sends evenly across a window, first at zero.
func FanoutOffsets(window time.Duration, n int) []time.Duration {
	if n <= 0 {
		return nil
	}
	step := window / time.Duration(n)
	offsets := make([]time.Duration, n)
	for i := range offsets {
		offsets[i] = step * time.Duration(i)
	}
	return offsets
}

func sleepUntil(ctx context.Context, t time.Time) bool {
	return sleepFor(ctx, time.Until(t))
}

func sleepFor(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
