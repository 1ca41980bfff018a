// Package i18n holds the translation-string cache: English base strings,
// per-language cached translations, and lazily resolved text promises.
package i18n

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"botflow/internal/domain"
)

const baseLanguage = "en"

// Translator produces translations for uncached strings. It is an
// external collaborator; Identity is the fallback.
type Translator interface {
	Translate(ctx context.Context, target string, texts map[string]string) (map[string]string, error)
}

// Identity returns the input untranslated. Used when no translation
// backend is configured.
type Identity struct{}

func (Identity) Translate(_ context.Context, _ string, texts map[string]string) (map[string]string, error) {
	out := make(map[string]string, len(texts))
	for k, v := range texts {
		out[k] = v
	}
	return out, nil
}

// TranslationStore is the persistent side of the cache, satisfied by the
// engine's storage layer.
type TranslationStore interface {
	QueryTranslations(ctx context.Context, language string, keys []string) ([]*domain.Translation, error)
	SaveTranslations(ctx context.Context, items []*domain.Translation) error
}

type source struct {
	text string
	hash string
}

// Strings is the read-mostly shared string catalog: English originals
// (file strings plus flow-imported texts) and a TTL cache of translated
// languages backed by the persistent store.
type Strings struct {
	translator Translator
	store      TranslationStore
	logger     *slog.Logger
	cache      *gocache.Cache // language -> map[string]string

	mu   sync.RWMutex
	base map[string]source
}

// NewStrings loads the base string file. flow texts are merged in later
// via SetFlowTexts when the content graph loads.
func NewStrings(path string, tr Translator, store TranslationStore, ttl time.Duration, logger *slog.Logger) (*Strings, error) {
	if tr == nil {
		tr = Identity{}
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	s := &Strings{
		translator: tr,
		store:      store,
		logger:     logger,
		cache:      gocache.New(ttl, 2*ttl),
		base:       make(map[string]source),
	}
	if path != "" {
		if err := s.loadFile(path); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *Strings) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("cannot read strings file %s: %w", path, err)
	}
	var raw map[string]string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("cannot parse strings file %s: %w", path, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range raw {
		s.base[k] = source{text: v, hash: contentHash(v)}
	}
	return nil
}

// SetFlowTexts merges texts imported from the dialogue content graph into
// the base catalog and drops cached translations, since keys may have
// changed meaning.
func (s *Strings) SetFlowTexts(texts map[string]string) {
	s.mu.Lock()
	for k, v := range texts {
		s.base[k] = source{text: v, hash: contentHash(v)}
	}
	s.mu.Unlock()
	s.cache.Flush()
}

// Base returns the English text for a key.
func (s *Strings) Base(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	src, ok := s.base[key]
	return src.text, ok
}

// Cached returns the translated catalog for a language when it is in the
// in-memory cache, without falling back to the base strings. Used by the
// promise path, which must not mistake English for a translation.
func (s *Strings) Cached(lang string) map[string]string {
	if lang == baseLanguage {
		return nil
	}
	if v, ok := s.cache.Get(lang); ok {
		return v.(map[string]string)
	}
	return nil
}

// Language returns the cached catalog for a language, falling back to the
// English base. Used for synchronous button matching.
func (s *Strings) Language(lang string) map[string]string {
	if lang != baseLanguage {
		if v, ok := s.cache.Get(lang); ok {
			return v.(map[string]string)
		}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]string, len(s.base))
	for k, src := range s.base {
		out[k] = src.text
	}
	return out
}

// Accessor binds the catalog to one user's language for the duration of a
// dispatch step.
func (s *Strings) Accessor(lang string) *Accessor {
	if lang == "" {
		lang = baseLanguage
	}
	return &Accessor{lang: lang, strings: s}
}

// Translations resolves keys for a language: base language served
// directly, then the in-memory cache, then the persistent store (verified
// against the current content hash), and finally the translator, whose
// results are written back to both cache layers.
func (s *Strings) Translations(ctx context.Context, lang string, keys []string) (map[string]string, error) {
	s.mu.RLock()
	originals := make(map[string]source, len(keys))
	for _, key := range keys {
		if src, ok := s.base[key]; ok {
			originals[key] = src
		}
	}
	s.mu.RUnlock()

	result := make(map[string]string, len(keys))
	if lang == baseLanguage {
		for key, src := range originals {
			result[key] = src.text
		}
		return result, nil
	}

	var cached map[string]string
	if v, ok := s.cache.Get(lang); ok {
		cached = v.(map[string]string)
	}
	var missing []string
	for key := range originals {
		if v, ok := cached[key]; ok {
			result[key] = v
		} else {
			missing = append(missing, key)
		}
	}
	if len(missing) == 0 {
		return result, nil
	}

	// Check the persistent cache, invalidating rows whose source text
	// changed since they were translated.
	var stale []string
	if s.store != nil {
		rows, err := s.store.QueryTranslations(ctx, lang, missing)
		if err != nil {
			s.logger.Warn("translation store query failed", "lang", lang, "error", err)
		} else {
			found := make(map[string]bool, len(rows))
			for _, row := range rows {
				src, ok := originals[row.StringKey]
				if !ok {
					continue
				}
				found[row.StringKey] = true
				if row.ContentHash == src.hash {
					result[row.StringKey] = row.Text
				} else {
					stale = append(stale, row.StringKey)
				}
			}
			var still []string
			for _, key := range missing {
				if !found[key] {
					still = append(still, key)
				}
			}
			missing = append(still, stale...)
		}
	}

	if len(missing) > 0 {
		texts := make(map[string]string, len(missing))
		for _, key := range missing {
			texts[key] = originals[key].text
		}
		fresh, err := s.translator.Translate(ctx, lang, texts)
		if err != nil {
			return result, fmt.Errorf("translate %d strings to %s: %w", len(missing), lang, err)
		}
		for k, v := range fresh {
			result[k] = v
		}
		if s.store != nil {
			items := make([]*domain.Translation, 0, len(fresh))
			for k, v := range fresh {
				items = append(items, &domain.Translation{
					Language:    lang,
					StringKey:   k,
					ContentHash: originals[k].hash,
					Text:        v,
				})
			}
			if err := s.store.SaveTranslations(ctx, items); err != nil {
				s.logger.Warn("saving translations failed", "lang", lang, "error", err)
			}
		}
	}

	// Refresh the in-memory language catalog.
	merged := make(map[string]string, len(cached)+len(result))
	for k, v := range cached {
		merged[k] = v
	}
	for k, v := range result {
		merged[k] = v
	}
	s.cache.SetDefault(lang, merged)

	return result, nil
}

func contentHash(text string) string {
	sum := sha1.Sum([]byte(text))
	return hex.EncodeToString(sum[:])
}
