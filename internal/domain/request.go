package domain

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
)

// UserInfo identifies the sender inside a channel frontend.
type UserInfo struct {
	UserID    string `json:"user_id"`
	Identity  string `json:"identity,omitempty"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	Username  string `json:"username,omitempty"`
}

// Chat addresses the conversation inside a channel frontend.
type Chat struct {
	ChatID string `json:"chat_id"`
}

// Message is the inbound text (or the outbound reply text once the
// pipeline rewrites it).
type Message struct {
	Text Text `json:"text"`
}

// ReplyButton is one quick-reply option attached to an outbound message.
type ReplyButton struct {
	Text Text `json:"text"`
}

// FileRef points at a media payload attached to a message.
type FileRef struct {
	Payload string `json:"payload"`
}

// Request is the wire payload exchanged with channel frontends. The same
// shape is used inbound (frontend -> engine) and outbound (engine ->
// frontend); states mutate it in place to prepare replies.
type Request struct {
	ServiceIn     string        `json:"service_in"`
	ViaInstance   string        `json:"via_instance"`
	SecurityToken string        `json:"security_token,omitempty"`
	User          UserInfo      `json:"user"`
	Chat          Chat          `json:"chat"`
	Message       Message       `json:"message"`
	HasButtons    bool          `json:"has_buttons"`
	ButtonsType   string        `json:"buttons_type,omitempty"`
	Buttons       []ReplyButton `json:"buttons,omitempty"`
	HasFile       bool          `json:"has_file"`
	Files         []FileRef     `json:"file,omitempty"`
}

// Clone returns a value copy with its own button and file slices. Promise
// pointers inside Text values are shared on purpose: they are resolved
// once, before any snapshot is serialized.
func (r *Request) Clone() *Request {
	cp := *r
	if len(r.Buttons) > 0 {
		cp.Buttons = make([]ReplyButton, len(r.Buttons))
		copy(cp.Buttons, r.Buttons)
	}
	if len(r.Files) > 0 {
		cp.Files = make([]FileRef, len(r.Files))
		copy(cp.Files, r.Files)
	}
	return &cp
}

// RequestContext is one inbound unit of work. It is owned by exactly one
// dispatch cycle and never shared between cycles.
type RequestContext struct {
	Request *Request
}

// NewRequestContext wraps a validated request payload.
func NewRequestContext(r *Request) *RequestContext {
	return &RequestContext{Request: r}
}

// Validate checks the attributes every dispatch cycle relies on and fills
// the derived identity hash when the frontend did not send one.
func (rc *RequestContext) Validate() error {
	r := rc.Request
	if r == nil {
		return fmt.Errorf("empty request")
	}
	switch {
	case r.ServiceIn == "":
		return fmt.Errorf("missing required field: service_in")
	case r.ViaInstance == "":
		return fmt.Errorf("missing required field: via_instance")
	case r.User.UserID == "":
		return fmt.Errorf("missing required field: user.user_id")
	case r.Chat.ChatID == "":
		return fmt.Errorf("missing required field: chat.chat_id")
	}
	if r.User.Identity == "" {
		r.User.Identity = Identity(r.User.UserID, r.ServiceIn)
	}
	return nil
}

// Identity derives the cross-channel identity hash for a sender.
func Identity(userID, service string) string {
	sum := sha1.Sum([]byte(userID + service))
	return hex.EncodeToString(sum[:])
}
