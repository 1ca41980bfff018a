package i18n

import "sync"

// Promise is a placeholder for a localized string. It is created when a
// state asks for a key that is not yet cached in the user's language and
// filled by the lifecycle wrapper before outbound payloads are flushed.
type Promise struct {
	key string

	mu     sync.Mutex
	value  string
	filled bool
}

func newPromise(key string) *Promise { return &Promise{key: key} }

// Key returns the string key the promise stands for.
func (p *Promise) Key() string { return p.key }

// Fill resolves the promise. Later fills are ignored.
func (p *Promise) Fill(value string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.filled {
		p.value = value
		p.filled = true
	}
}

// Resolved returns the value once the promise has been filled.
func (p *Promise) Resolved() (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.value, p.filled
}

// Button is the result of matching raw user input against the localized
// button captions. Key is empty when nothing matched.
type Button struct {
	Raw string
	Key string
}

// Is reports whether the button matched the given string key.
func (b Button) Is(key string) bool { return b.Key != "" && b.Key == key }
