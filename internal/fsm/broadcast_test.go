package fsm

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"botflow/internal/domain"
	"botflow/internal/sender"
)

// broadcastStore serves canned pending broadcasts and records removals.
type broadcastStore struct {
	*memStore
	pending  []*domain.Broadcast
	sessions []*domain.ChannelSession

	mu      sync.Mutex
	removed []int64
}

func (b *broadcastStore) PendingBroadcasts(context.Context) (int, []*domain.Broadcast, error) {
	return len(b.pending), b.pending, nil
}

func (b *broadcastStore) ChannelSessions(context.Context) ([]*domain.ChannelSession, error) {
	return b.sessions, nil
}

func (b *broadcastStore) RemoveBroadcast(_ context.Context, id int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.removed = append(b.removed, id)
	return nil
}

func TestBroadcastRecordsFanOutConcurrently(t *testing.T) {
	const slow = 300 * time.Millisecond

	type post struct {
		identity string
		at       time.Time
	}
	var mu sync.Mutex
	var posts []post

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			SecurityToken string `json:"security_token"`
			User          struct {
				Identity string `json:"identity"`
			} `json:"user"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		if body.SecurityToken != "engine-secret" {
			t.Errorf("outbound post must carry the engine token, got %q", body.SecurityToken)
		}
		mu.Lock()
		posts = append(posts, post{identity: body.User.Identity, at: time.Now()})
		mu.Unlock()
		if body.User.Identity == "first" {
			time.Sleep(slow)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	record := func(id int64, identity string) *domain.Broadcast {
		return &domain.Broadcast{
			ID: id,
			Context: &domain.Request{
				ViaInstance: "tg-main",
				User:        domain.UserInfo{Identity: identity},
				Message:     domain.Message{Text: domain.PlainText("hello")},
			},
		}
	}
	store := &broadcastStore{
		memStore: newMemStore(),
		pending:  []*domain.Broadcast{record(1, "first"), record(2, "second")},
		sessions: []*domain.ChannelSession{
			{Name: "tg-main", URL: srv.URL, Broadcast: "announce"},
		},
	}

	logger := slog.Default()
	s := NewBroadcastScheduler(store, sender.NewClient(5*time.Second, logger),
		"engine-secret", time.Minute, 100*time.Millisecond, nil, logger)

	s.dispatchPending(context.Background())

	mu.Lock()
	defer mu.Unlock()
	if len(posts) != 2 {
		t.Fatalf("expected both records sent, got %d posts", len(posts))
	}
	byIdentity := map[string]time.Time{}
	for _, p := range posts {
		byIdentity[p.identity] = p.at
	}
	// With per-record goroutines the second post goes out on its own
	// offset, well before the slow first record completes.
	gap := byIdentity["second"].Sub(byIdentity["first"])
	if gap >= slow {
		t.Fatalf("second record waited for the first: gap=%v", gap)
	}
	if len(store.removed) != 2 {
		t.Fatalf("dispatched records must be removed: %v", store.removed)
	}
}
