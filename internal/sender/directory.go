package sender

import (
	"context"
	"fmt"
	"sync"

	"botflow/internal/domain"
)

// Directory resolves frontend instance names to their endpoint URLs.
type Directory interface {
	URL(ctx context.Context, service string) (string, error)
}

// sessionSource is the slice of the storage contract the directory needs.
type sessionSource interface {
	GetSession(ctx context.Context, name string) (*domain.ChannelSession, error)
}

// SessionDirectory resolves instance URLs from the channel-session
// registry, caching hits in memory.
type SessionDirectory struct {
	store sessionSource

	mu    sync.RWMutex
	cache map[string]string
}

func NewSessionDirectory(store sessionSource) *SessionDirectory {
	return &SessionDirectory{store: store, cache: make(map[string]string)}
}

// Put primes the cache, used when a session is registered in-process.
func (d *SessionDirectory) Put(name, url string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cache[name] = url
}

func (d *SessionDirectory) URL(ctx context.Context, service string) (string, error) {
	d.mu.RLock()
	url, ok := d.cache[service]
	d.mu.RUnlock()
	if ok {
		return url, nil
	}

	session, err := d.store.GetSession(ctx, service)
	if err != nil {
		return "", fmt.Errorf("resolve session %s: %w", service, err)
	}
	if session == nil {
		return "", fmt.Errorf("unknown frontend instance: %s", service)
	}
	d.Put(service, session.URL)
	return session.URL, nil
}
