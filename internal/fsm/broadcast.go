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

// BroadcastScheduler fans pending announcements out to every registered
// channel session, minute-aligned, spreading records across the fan-out
// window.
type BroadcastScheduler struct {
	store    domain.Store
	client   *sender.Client
	token    string
	interval time.Duration
	window   time.Duration
	metrics  *metrics.Collector
	logger   *slog.Logger
}

func NewBroadcastScheduler(
	store domain.Store,
	client *sender.Client,
	token string,
	interval, window time.Duration,
	m *metrics.Collector,
	logger *slog.Logger,
) *BroadcastScheduler {
	if interval <= 0 {
		interval = time.Minute
	}
	if window <= 0 {
		window = interval
	}
	return &BroadcastScheduler{
		store:    store,
		client:   client,
		token:    token,
		interval: interval,
		window:   window,
		metrics:  m,
		logger:   logger,
	}
}

func (s *BroadcastScheduler) Run(ctx context.Context) {
	s.logger.Info("broadcast scheduler started", "interval", s.interval)
	for {
		next := time.Now().Truncate(s.interval).Add(s.interval)
		if !sleepUntil(ctx, next) {
			s.logger.Info("broadcast scheduler stopped")
			return
		}
		s.dispatchPending(ctx)
	}
}

func (s *BroadcastScheduler) dispatchPending(ctx context.Context) {
	count, pending, err := s.store.PendingBroadcasts(ctx)
	if err != nil {
		s.logger.Error("cannot query broadcasts", "error", err)
		return
	}
	if count == 0 {
		return
	}
	sessions, err := s.store.ChannelSessions(ctx)
	if err != nil {
		s.logger.Error("cannot list channel sessions", "error", err)
		return
	}
	if len(sessions) == 0 {
		s.logger.Warn("broadcasts pending but no channel sessions registered", "count", count)
		return
	}

	offsets := FanoutOffsets(s.window, count)
	var wg sync.WaitGroup
	for i, b := range pending {
		wg.Add(1)
		go func(b *domain.Broadcast, offset time.Duration) {
			defer wg.Done()
			if !sleepFor(ctx, offset) {
				return
			}
			s.dispatch(ctx, b, sessions)
		}(b, offsets[i])
	}
	wg.Wait()
}

func (s *BroadcastScheduler) dispatch(ctx context.Context, b *domain.Broadcast, sessions []*domain.ChannelSession) {
	var wg sync.WaitGroup
	for _, session := range sessions {
		if session.Broadcast == "" {
			continue
		}
		wg.Add(1)
		go func(session *domain.ChannelSession) {
			defer wg.Done()
			payload := b.Context.Clone()
			payload.ViaInstance = session.Name
			payload.Chat.ChatID = session.Broadcast
			// Stored records carry no token; stamp it at send time so
			// frontends can authenticate the post.
			payload.SecurityToken = s.token
			status, _, err := s.client.Post(ctx, session.URL, payload)
			if err != nil {
				s.logger.Error("broadcast send failed", "session", session.Name, "error", err)
				return
			}
			if status != 200 {
				s.logger.Error("broadcast send rejected", "session", session.Name, "status", status)
				return
			}
			s.metrics.BroadcastSent()
		}(session)
	}
	wg.Wait()

	if err := s.store.RemoveBroadcast(ctx, b.ID); err != nil {
		s.logger.Error("cannot remove dispatched broadcast", "id", b.ID, "error", err)
		return
	}
	s.logger.Info("broadcast dispatched", "id", b.ID, "sessions", len(sessions))
}
