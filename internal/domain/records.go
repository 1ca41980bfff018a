package domain

import "time"

// OutboundTask is an immutable snapshot of one outbound send: the target
// frontend instance plus a fully rendered payload, copied at creation time
// so later mutation of the originating context cannot change it.
type OutboundTask struct {
	Service string
	Payload *Request
	// Batchable tasks may be grouped and sent concurrently; ordered
	// tasks keep their enqueue order.
	Batchable bool
}

// NewOutboundTask snapshots a request payload for the given frontend.
func NewOutboundTask(service string, payload *Request, batchable bool) OutboundTask {
	return OutboundTask{Service: service, Payload: payload.Clone(), Batchable: batchable}
}

// CheckBack is a scheduled reminder: a serialized payload replayed to the
// user at delivery time.
type CheckBack struct {
	ID       int64     `json:"id"`
	Identity string    `json:"identity"`
	Context  *Request  `json:"context"`
	SendAt   time.Time `json:"send_at"`
}

// Broadcast is a pending announcement fanned out to every registered
// channel session, then deleted.
type Broadcast struct {
	ID        int64     `json:"id"`
	Context   *Request  `json:"context"`
	CreatedAt time.Time `json:"created_at"`
}

// ChannelSession is a registered outbound frontend: where the engine posts
// replies, and which chat receives broadcasts.
type ChannelSession struct {
	Name      string `json:"name"`
	Token     string `json:"token"`
	URL       string `json:"url"`
	Broadcast string `json:"broadcast,omitempty"`
}

// Translation is one cached translated string, invalidated by the content
// hash of its English source.
type Translation struct {
	Language    string `json:"language"`
	StringKey   string `json:"string_key"`
	ContentHash string `json:"content_hash"`
	Text        string `json:"text"`
}
