package states

import (
	"context"
	"strings"

	"botflow/internal/domain"
	"botflow/internal/fsm"
)

// Blogging records an announcement for the broadcast scheduler to fan
// out to every registered channel session.
type Blogging struct{}

func (Blogging) HasEntry() bool { return false }

func (b Blogging) Entry(ctx context.Context, s *fsm.Step) (fsm.Outcome, error) {
	return b.Process(ctx, s)
}

func (Blogging) Process(ctx context.Context, s *fsm.Step) (fsm.Outcome, error) {
	if s.User.Permission < domain.PermissionBroadcaster {
		return deny(s)
	}
	if strings.TrimSpace(s.Request.Message.Text.String()) == "" && !s.Request.HasFile {
		s.SetText("post-prompt")
		s.ClearButtons()
		s.Send()
		return fsm.OK(), nil
	}

	// Snapshot the announcement before the acknowledgment rewrites the
	// request. Creation is deferred past the cycle flush.
	payload := s.Request.Clone()
	payload.SecurityToken = ""
	s.Defer(func(ctx context.Context) error {
		return s.Store.CreateBroadcast(ctx, payload)
	})

	s.SetText("post-accepted")
	s.ClearButtons()
	s.Send()
	s.User.PopState(StateEnd)
	return fsm.OK(), nil
}
