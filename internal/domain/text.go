package domain

import "encoding/json"

// Localizable is a lazily resolved piece of text. Promises created by the
// localization layer implement it; the dispatch lifecycle resolves every
// outstanding promise before outbound payloads are serialized.
type Localizable interface {
	Key() string
	Resolved() (string, bool)
}

// Text is a message or button caption inside a request payload. Inbound it
// is a plain string; outbound it may carry a translation promise that is
// filled before the payload is sent.
type Text struct {
	raw     string
	promise Localizable
}

// PlainText wraps a literal string.
func PlainText(s string) Text { return Text{raw: s} }

// PromisedText wraps a translation promise.
func PromisedText(p Localizable) Text { return Text{promise: p} }

func (t Text) String() string {
	if t.promise != nil {
		if v, ok := t.promise.Resolved(); ok {
			return v
		}
		return t.promise.Key()
	}
	return t.raw
}

// IsZero reports whether the text carries neither a literal nor a promise.
func (t Text) IsZero() bool { return t.raw == "" && t.promise == nil }

func (t Text) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

func (t *Text) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*t = Text{raw: s}
	return nil
}
