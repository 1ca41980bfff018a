package i18n

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"botflow/internal/domain"
)

// upperTranslator "translates" by uppercasing, so tests can tell a
// translated string from its source.
type upperTranslator struct{ calls int }

func (u *upperTranslator) Translate(_ context.Context, _ string, texts map[string]string) (map[string]string, error) {
	u.calls++
	out := make(map[string]string, len(texts))
	for k, v := range texts {
		out[k] = strings.ToUpper(v)
	}
	return out, nil
}

// memTranslations is an in-memory TranslationStore.
type memTranslations struct {
	rows map[string]*domain.Translation // lang|key
}

func newMemTranslations() *memTranslations {
	return &memTranslations{rows: make(map[string]*domain.Translation)}
}

func (m *memTranslations) QueryTranslations(_ context.Context, lang string, keys []string) ([]*domain.Translation, error) {
	var out []*domain.Translation
	for _, key := range keys {
		if row, ok := m.rows[lang+"|"+key]; ok {
			out = append(out, row)
		}
	}
	return out, nil
}

func (m *memTranslations) SaveTranslations(_ context.Context, items []*domain.Translation) error {
	for _, item := range items {
		m.rows[item.Language+"|"+item.StringKey] = item
	}
	return nil
}

func writeStringsFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "strings.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write strings file: %v", err)
	}
	return path
}

func testStrings(t *testing.T, tr Translator, store TranslationStore) *Strings {
	t.Helper()
	path := writeStringsFile(t, `{"welcome": "Hello there", "thanks": "Thank you"}`)
	s, err := NewStrings(path, tr, store, time.Minute, slog.Default())
	if err != nil {
		t.Fatalf("new strings: %v", err)
	}
	return s
}

func TestBaseLanguageServedDirectly(t *testing.T) {
	tr := &upperTranslator{}
	s := testStrings(t, tr, nil)

	a := s.Accessor("en")
	text := a.Text("welcome")
	if got := text.String(); got != "Hello there" {
		t.Fatalf("base language text: %q", got)
	}
	if a.Pending() {
		t.Fatal("base language must not leave pending promises")
	}
	if tr.calls != 0 {
		t.Fatal("base language must not hit the translator")
	}
}

func TestPromiseResolvedByFill(t *testing.T) {
	tr := &upperTranslator{}
	s := testStrings(t, tr, newMemTranslations())

	a := s.Accessor("ru")
	text := a.Text("welcome")
	if !a.Pending() {
		t.Fatal("uncached language must create a promise")
	}
	// Unresolved promises render as their key, never as empty text.
	if got := text.String(); got != "welcome" {
		t.Fatalf("unresolved promise rendering: %q", got)
	}

	if err := a.FillPromises(context.Background()); err != nil {
		t.Fatalf("fill: %v", err)
	}
	if got := text.String(); got != "HELLO THERE" {
		t.Fatalf("resolved text: %q", got)
	}
	if tr.calls != 1 {
		t.Fatalf("translator calls: %d", tr.calls)
	}
}

func TestStoreCacheSkipsTranslator(t *testing.T) {
	store := newMemTranslations()
	tr := &upperTranslator{}
	s := testStrings(t, tr, store)

	a := s.Accessor("ru")
	_ = a.Text("welcome")
	if err := a.FillPromises(context.Background()); err != nil {
		t.Fatalf("fill: %v", err)
	}
	if tr.calls != 1 {
		t.Fatalf("first fill must translate, calls=%d", tr.calls)
	}

	// A fresh catalog instance sees only the persistent cache.
	s2, err := NewStrings(writeStringsFile(t, `{"welcome": "Hello there"}`), tr, store, time.Minute, slog.Default())
	if err != nil {
		t.Fatalf("new strings: %v", err)
	}
	a2 := s2.Accessor("ru")
	text := a2.Text("welcome")
	if err := a2.FillPromises(context.Background()); err != nil {
		t.Fatalf("fill: %v", err)
	}
	if text.String() != "HELLO THERE" {
		t.Fatalf("stored translation not used: %q", text.String())
	}
	if tr.calls != 1 {
		t.Fatalf("stored translation must skip the translator, calls=%d", tr.calls)
	}
}

func TestChangedSourceInvalidatesStoredTranslation(t *testing.T) {
	store := newMemTranslations()
	store.rows["ru|welcome"] = &domain.Translation{
		Language:    "ru",
		StringKey:   "welcome",
		ContentHash: "stale-hash",
		Text:        "OUTDATED",
	}
	tr := &upperTranslator{}
	s := testStrings(t, tr, store)

	a := s.Accessor("ru")
	text := a.Text("welcome")
	if err := a.FillPromises(context.Background()); err != nil {
		t.Fatalf("fill: %v", err)
	}
	if text.String() != "HELLO THERE" {
		t.Fatalf("stale row must be retranslated, got %q", text.String())
	}
	if tr.calls != 1 {
		t.Fatalf("translator calls: %d", tr.calls)
	}
}

func TestSetFlowTextsMergesAndFlushes(t *testing.T) {
	s := testStrings(t, &upperTranslator{}, nil)

	s.SetFlowTexts(map[string]string{"q-1": "How do you feel?"})
	if v, ok := s.Base("q-1"); !ok || v != "How do you feel?" {
		t.Fatalf("flow text not merged: %q ok=%v", v, ok)
	}
	if v, ok := s.Base("welcome"); !ok || v != "Hello there" {
		t.Fatalf("file strings lost on merge: %q ok=%v", v, ok)
	}
}

func TestMatchButtonTruncated(t *testing.T) {
	s := testStrings(t, &upperTranslator{}, nil)
	s.SetFlowTexts(map[string]string{"long-btn": "This caption is much longer than twenty characters"})

	a := s.Accessor("en")
	full := "This caption is much longer than twenty characters"
	if btn := a.MatchButton(full, MatchOpts{Verify: []string{"long-btn"}}); !btn.Is("long-btn") {
		t.Fatalf("exact match failed: %+v", btn)
	}

	truncated := full[:20]
	if btn := a.MatchButton(truncated, MatchOpts{Verify: []string{"long-btn"}}); btn.Is("long-btn") {
		t.Fatal("prefix must not match without truncation enabled")
	}
	if btn := a.MatchButton(truncated, MatchOpts{Truncated: true, Verify: []string{"long-btn"}}); !btn.Is("long-btn") {
		t.Fatalf("truncated match failed: %+v", btn)
	}
}
