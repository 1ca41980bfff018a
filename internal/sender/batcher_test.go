package sender

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
)

type staticDirectory struct{ url string }

func (d staticDirectory) URL(context.Context, string) (string, error) { return d.url, nil }

func payload(chatID, text string) *domain.Request {
	return &domain.Request{
		ServiceIn:   domain.ServiceTelegram,
		ViaInstance: "tg-main",
		User:        domain.UserInfo{UserID: "u1"},
		Chat:        domain.Chat{ChatID: chatID},
		Message:     domain.Message{Text: domain.PlainText(text)},
	}
}

func TestFlushKeepsOrderedSequence(t *testing.T) {
	var mu sync.Mutex
	var texts []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req domain.Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode: %v", err)
		}
		mu.Lock()
		texts = append(texts, req.Message.Text.String())
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	logger := slog.Default()
	b := NewBatcher(NewClient(time.Second, logger), staticDirectory{srv.URL}, 30, nil, logger)

	b.Add("tg-main", payload("c1", "first"))
	b.Add("tg-main", payload("c1", "second"))
	b.Add("tg-main", payload("c1", "third"))
	b.Flush(context.Background())

	want := []string{"first", "second", "third"}
	if len(texts) != len(want) {
		t.Fatalf("got %d sends, want %d", len(texts), len(want))
	}
	for i := range want {
		if texts[i] != want[i] {
			t.Fatalf("ordered sends out of order: %v", texts)
		}
	}
}

func TestFlushChunksBatchable(t *testing.T) {
	var mu sync.Mutex
	received := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		received++
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	logger := slog.Default()
	b := NewBatcher(NewClient(time.Second, logger), staticDirectory{srv.URL}, 30, nil, logger)

	for i := 0; i < 65; i++ {
		b.AddBatch("tg-main", payload("c1", "announce"))
	}
	b.Flush(context.Background())

	if received != 65 {
		t.Fatalf("expected 65 batchable sends, got %d", received)
	}
	if !b.Empty() {
		t.Fatal("batcher must be drained after flush")
	}
}

func TestSendFailureDoesNotAbortFlush(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	logger := slog.Default()
	b := NewBatcher(NewClient(time.Second, logger), staticDirectory{srv.URL}, 30, nil, logger)

	b.Add("tg-main", payload("c1", "fails"))
	b.Add("tg-main", payload("c1", "still goes out"))
	b.Flush(context.Background())

	if calls != 2 {
		t.Fatalf("a rejected send must not stop the flush, got %d calls", calls)
	}
}

func TestSnapshotIsImmutable(t *testing.T) {
	var mu sync.Mutex
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req domain.Request
		_ = json.NewDecoder(r.Body).Decode(&req)
		mu.Lock()
		got = req.Message.Text.String()
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	logger := slog.Default()
	b := NewBatcher(NewClient(time.Second, logger), staticDirectory{srv.URL}, 30, nil, logger)

	req := payload("c1", "original")
	b.Add("tg-main", req)
	// Mutating the request after Add must not change the queued task.
	req.Message.Text = domain.PlainText("mutated")
	b.Flush(context.Background())

	if got != "original" {
		t.Fatalf("queued task was mutated after Add: %q", got)
	}
}
