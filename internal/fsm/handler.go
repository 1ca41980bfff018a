package fsm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"botflow/internal/domain"
	"botflow/internal/flow"
	"botflow/internal/i18n"
	"botflow/internal/metrics"
	"botflow/internal/sender"
)

// maxTransfers bounds in-cycle state transfers so a miswired graph of
// GoTo outcomes cannot loop forever.
const maxTransfers = 16

// Handler runs one dispatch cycle per inbound request: user resolution,
// command interrupts, the state invocation chain, and the commit /
// translate / flush epilogue.
type Handler struct {
	store      domain.Store
	strings    *i18n.Strings
	graphs     interface{ Graph() *flow.Graph }
	registry   *Registry
	newBatcher func() *sender.Batcher
	settings   Settings
	metrics    *metrics.Collector
	logger     *slog.Logger
}

func NewHandler(
	store domain.Store,
	str *i18n.Strings,
	graphs interface{ Graph() *flow.Graph },
	registry *Registry,
	newBatcher func() *sender.Batcher,
	settings Settings,
	m *metrics.Collector,
	logger *slog.Logger,
) *Handler {
	return &Handler{
		store:      store,
		strings:    str,
		graphs:     graphs,
		registry:   registry,
		newBatcher: newBatcher,
		settings:   settings,
		metrics:    m,
		logger:     logger,
	}
}

// Process runs the full dispatch cycle for one request context. It is
// called on its own goroutine per request; everything it touches is
// either owned by the cycle or safe for concurrent use.
func (h *Handler) Process(ctx context.Context, rc *domain.RequestContext) {
	started := time.Now()
	r := rc.Request
	defer func() {
		h.metrics.DispatchDone(r.ServiceIn, time.Since(started))
	}()

	u, err := h.getOrRegisterUser(ctx, r)
	if err != nil {
		h.logger.Error("cannot resolve user", "identity", r.User.Identity, "error", err)
		return
	}

	name := u.LastState()
	entry := false

	// Slash commands interrupt whatever state the user is in.
	if target, rest, ok := h.commandTarget(r.Message.Text.String()); ok {
		r.Message.Text = domain.PlainText(rest)
		// A command for the state already on top is a re-process, not a
		// fresh transition.
		if target != name {
			u.PushState(target, h.settings.HistoryDepth)
			entry = true
		}
		name = target
	}

	if _, ok := h.registry.Resolve(name); !ok {
		if name != "" {
			h.logger.Warn("unknown state, falling back to start", "state", name, "identity", u.Identity)
		}
		name = h.settings.StartState
		u.PushState(name, h.settings.HistoryDepth)
		entry = true
	}

	for i := 0; i < maxTransfers; i++ {
		state, ok := h.registry.Resolve(name)
		if !ok {
			h.logger.Error("transfer to unknown state", "state", name, "identity", u.Identity)
			return
		}
		if entry && !state.HasEntry() {
			entry = false
		}

		out := h.invoke(ctx, u, r, name, state, entry)

		switch out.Kind {
		case KindContinue:
			return
		case KindGoTo:
			changed := out.Next != name
			if changed {
				u.PushState(out.Next, h.settings.HistoryDepth)
			}
			name = out.Next
			entry = changed || out.ForceEntry
		case KindPop:
			u.PopState(h.settings.EndState)
			name = u.LastState()
			entry = false
		}
	}
	h.logger.Error("state transfer limit reached", "identity", u.Identity, "state", name)
}

// invoke wraps a single state call in the cycle epilogue: commit when the
// outcome asks for it, resolve translation promises, flush outbound
// tasks, then run deferred work. A panicking or failing state yields a
// no-commit outcome so the stored record stays untouched.
func (h *Handler) invoke(ctx context.Context, u *domain.User, r *domain.Request, name string, state State, entry bool) Outcome {
	texts := h.strings.Accessor(u.Language)
	batch := h.newBatcher()
	step := &Step{
		User:     u,
		Request:  r,
		Texts:    texts,
		Store:    h.store,
		Flow:     h.graphs.Graph(),
		Settings: h.settings,
		Logger:   h.logger.With("state", name, "identity", u.Identity),
		batch:    batch,
	}

	out := h.contained(ctx, name, state, step, entry)

	if out.Commit {
		if err := h.store.CommitUser(ctx, u); err != nil {
			h.logger.Error("commit failed", "identity", u.Identity, "error", err)
		}
	}
	if err := texts.FillPromises(ctx); err != nil {
		h.logger.Warn("translation resolution incomplete", "lang", u.Language, "error", err)
	}
	if !batch.Empty() {
		batch.Flush(ctx)
	}
	for _, fn := range step.deferred {
		if err := fn(ctx); err != nil {
			h.logger.Error("deferred task failed", "state", name, "error", err)
		}
	}
	return out
}

func (h *Handler) contained(ctx context.Context, name string, state State, step *Step, entry bool) (out Outcome) {
	defer func() {
		if rec := recover(); rec != nil {
			h.logger.Error("state panicked", "state", name, "identity", step.User.Identity, "panic", rec)
			h.metrics.StateFault(name)
			out = Fault()
		}
	}()

	var err error
	if entry {
		out, err = state.Entry(ctx, step)
	} else {
		out, err = state.Process(ctx, step)
	}
	if err != nil {
		h.logger.Error("state failed", "state", name, "identity", step.User.Identity, "error", err)
		h.metrics.StateFault(name)
		return Fault()
	}
	return out
}

// commandTarget parses a leading slash command and returns the handling
// state plus the remaining message text.
func (h *Handler) commandTarget(text string) (state, rest string, ok bool) {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "/") {
		return "", "", false
	}
	token := trimmed
	if i := strings.IndexAny(trimmed, " \t\n"); i >= 0 {
		token, rest = trimmed[:i], strings.TrimSpace(trimmed[i:])
	}
	state, ok = h.registry.Command(strings.ToLower(token))
	if !ok {
		return "", "", false
	}
	return state, rest, true
}

// getOrRegisterUser loads the persistent record for the sender, creating
// it on first contact. Instance rebinding is persisted out-of-band so a
// user who switches frontends is reachable even if the cycle faults.
func (h *Handler) getOrRegisterUser(ctx context.Context, r *domain.Request) (*domain.User, error) {
	u, err := h.store.GetUser(ctx, r.User.Identity)
	if err != nil {
		return nil, err
	}
	if u == nil {
		u = &domain.User{
			Identity:    r.User.Identity,
			UserID:      r.User.UserID,
			Service:     r.ServiceIn,
			ViaInstance: r.ViaInstance,
			FirstName:   r.User.FirstName,
			LastName:    r.User.LastName,
			Username:    r.User.Username,
			Language:    "en",
			Type:        domain.AccountCommon,
			Permission:  domain.PermissionDefault,
			States:      []string{h.settings.EndState},
			Context:     make(map[string]any),
			Answers:     make(map[string]any),
			Files:       make(map[string]any),
		}
		if err := h.store.CreateUser(ctx, u); err != nil {
			return nil, fmt.Errorf("register user %s: %w", u.Identity, err)
		}
		h.logger.Info("registered user", "identity", u.Identity, "service", u.Service)
		return u, nil
	}
	if u.ViaInstance != r.ViaInstance {
		if err := h.store.SetUserInstance(ctx, u.Identity, r.ViaInstance); err != nil {
			h.logger.Warn("instance rebind failed", "identity", u.Identity, "error", err)
		}
		u.ViaInstance = r.ViaInstance
	}
	if r.User.FirstName != "" {
		u.FirstName = r.User.FirstName
	}
	if r.User.LastName != "" {
		u.LastName = r.User.LastName
	}
	if r.User.Username != "" {
		u.Username = r.User.Username
	}
	return u, nil
}
