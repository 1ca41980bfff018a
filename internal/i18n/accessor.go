package i18n

import (
	"context"

	"botflow/internal/domain"
)

// Accessor serves localized strings for one language during one dispatch
// step, accumulating promises for keys that need asynchronous resolution.
type Accessor struct {
	lang     string
	strings  *Strings
	promises []*Promise
}

// Lang returns the bound language code.
func (a *Accessor) Lang() string { return a.lang }

// Text returns the localized string for a key as a request Text. When the
// translation is not cached yet a pending promise is returned; the
// lifecycle wrapper fills it before the outbound flush.
func (a *Accessor) Text(key string) domain.Text {
	p := newPromise(key)
	if a.lang == baseLanguage {
		if v, ok := a.strings.Base(key); ok {
			p.Fill(v)
			return domain.PromisedText(p)
		}
	} else if catalog := a.strings.Cached(a.lang); catalog != nil {
		if v, ok := catalog[key]; ok {
			p.Fill(v)
			return domain.PromisedText(p)
		}
	}
	a.promises = append(a.promises, p)
	return domain.PromisedText(p)
}

// Pending reports whether any promises still await resolution.
func (a *Accessor) Pending() bool { return len(a.promises) > 0 }

// FillPromises resolves every outstanding promise in one batch.
func (a *Accessor) FillPromises(ctx context.Context) error {
	if len(a.promises) == 0 {
		return nil
	}
	keys := make([]string, 0, len(a.promises))
	for _, p := range a.promises {
		keys = append(keys, p.Key())
	}
	translations, err := a.strings.Translations(ctx, a.lang, keys)
	for _, p := range a.promises {
		if v, ok := translations[p.Key()]; ok {
			p.Fill(v)
		} else if base, ok := a.strings.Base(p.Key()); ok {
			p.Fill(base)
		}
	}
	a.promises = a.promises[:0]
	return err
}

// MatchOpts tunes button matching.
type MatchOpts struct {
	// Truncated compares only the first TruncateAt characters, for
	// frontends that cut long captions.
	Truncated  bool
	TruncateAt int
	// Verify restricts matching to the given keys.
	Verify []string
}

// MatchButton compares raw user input to the localized captions and
// returns the matched string key, if any.
func (a *Accessor) MatchButton(raw string, opts MatchOpts) Button {
	btn := Button{Raw: raw}
	catalog := a.strings.Language(a.lang)
	if catalog == nil {
		return btn
	}
	if opts.TruncateAt <= 0 {
		opts.TruncateAt = 20
	}

	match := func(key, caption string) bool {
		if caption == raw {
			return true
		}
		if opts.Truncated && len(caption) > opts.TruncateAt &&
			len(raw) >= opts.TruncateAt && caption[:opts.TruncateAt] == raw[:opts.TruncateAt] {
			return true
		}
		return false
	}

	if len(opts.Verify) > 0 {
		for _, key := range opts.Verify {
			if caption, ok := catalog[key]; ok && match(key, caption) {
				btn.Key = key
				return btn
			}
		}
		return btn
	}
	for key, caption := range catalog {
		if match(key, caption) {
			btn.Key = key
			return btn
		}
	}
	return btn
}
