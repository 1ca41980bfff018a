// Package fsm is the dispatch core: the per-user finite state machine,
// the lifecycle wrapper around state invocations, and the reminder and
// broadcast schedulers.
package fsm

import (
	"context"
	"log/slog"

	"botflow/internal/domain"
	"botflow/internal/flow"
	"botflow/internal/i18n"
	"botflow/internal/sender"
)

// Settings carries the engine knobs states and the dispatcher share.
type Settings struct {
	// HistoryDepth bounds the per-user state stack.
	HistoryDepth int
	// StartState receives users with no resolvable state.
	StartState string
	// EndState is the sentinel pushed when a pop would empty the stack.
	EndState string
	// CheckbackState handles the reply to a delivered reminder.
	CheckbackState string
	// OwnerIdentity may manage permissions of other users.
	OwnerIdentity string
	// PublicURL is the externally reachable base URL of this engine.
	PublicURL string
	Debug     bool
}

// State is one node of the dialogue machine. Entry runs when the user
// arrives at the state; Process handles every subsequent message. States
// are constructed fresh per invocation and hold no cross-request data.
type State interface {
	// HasEntry reports whether the state has an entry hook. States
	// without one receive the arriving request via Process directly.
	HasEntry() bool
	Entry(ctx context.Context, step *Step) (Outcome, error)
	Process(ctx context.Context, step *Step) (Outcome, error)
}

// Step is everything one state invocation may touch: the user record, the
// inbound request, localized strings, persistence, the content graph, and
// the cycle's outbound batcher.
type Step struct {
	User     *domain.User
	Request  *domain.Request
	Texts    *i18n.Accessor
	Store    domain.Store
	Flow     *flow.Graph
	Settings Settings
	Logger   *slog.Logger

	batch    *sender.Batcher
	deferred []func(context.Context) error
}

// NewStep assembles a step outside the dispatcher, for states that are
// exercised directly.
func NewStep(
	user *domain.User,
	req *domain.Request,
	texts *i18n.Accessor,
	store domain.Store,
	graph *flow.Graph,
	settings Settings,
	logger *slog.Logger,
	batch *sender.Batcher,
) *Step {
	return &Step{
		User:     user,
		Request:  req,
		Texts:    texts,
		Store:    store,
		Flow:     graph,
		Settings: settings,
		Logger:   logger,
		batch:    batch,
	}
}

// Send queues the request in its current shape as an ordered outbound
// task addressed to the user's frontend instance.
func (s *Step) Send() {
	s.batch.Add(s.Request.ViaInstance, s.Request)
}

// SendTo queues a separately built payload as an ordered task.
func (s *Step) SendTo(payload *domain.Request) {
	s.batch.Add(payload.ViaInstance, payload)
}

// SendBatched queues a payload into the batchable group: delivery order
// against other batchable tasks is not guaranteed.
func (s *Step) SendBatched(payload *domain.Request) {
	s.batch.AddBatch(payload.ViaInstance, payload)
}

// Defer schedules work to run after the user record is committed and the
// outbound tasks are flushed.
func (s *Step) Defer(fn func(context.Context) error) {
	s.deferred = append(s.deferred, fn)
}

// SetText replaces the outbound message text with a localized string.
func (s *Step) SetText(key string) {
	s.Request.Message.Text = s.Texts.Text(key)
	s.Request.HasFile = false
	s.Request.Files = nil
}

// SetButtons attaches localized quick-reply buttons to the request.
func (s *Step) SetButtons(keys ...string) {
	s.Request.Buttons = s.Request.Buttons[:0]
	for _, key := range keys {
		s.Request.Buttons = append(s.Request.Buttons, domain.ReplyButton{Text: s.Texts.Text(key)})
	}
	s.Request.HasButtons = len(s.Request.Buttons) > 0
	if s.Request.HasButtons && s.Request.ButtonsType == "" {
		s.Request.ButtonsType = "text"
	}
}

// ClearButtons strips quick-reply buttons from the request.
func (s *Step) ClearButtons() {
	s.Request.HasButtons = false
	s.Request.ButtonsType = ""
	s.Request.Buttons = nil
}

// MatchButton resolves raw user input to a localized button key.
// Frontends that truncate long captions get prefix matching.
func (s *Step) MatchButton(verify ...string) i18n.Button {
	return s.Texts.MatchButton(s.Request.Message.Text.String(), i18n.MatchOpts{
		Truncated: s.Request.ServiceIn == domain.ServiceFacebook,
		Verify:    verify,
	})
}
