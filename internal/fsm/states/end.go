package states

import (
	"context"

	"botflow/internal/fsm"
)

// End is the stack sentinel. Any message arriving here restarts the
// conversation.
type End struct{}

func (End) HasEntry() bool { return false }

func (End) Entry(ctx context.Context, s *fsm.Step) (fsm.Outcome, error) {
	return fsm.Reenter(StateStart), nil
}

func (End) Process(ctx context.Context, s *fsm.Step) (fsm.Outcome, error) {
	return fsm.Reenter(StateStart), nil
}

// AFK parks a user who asked to stop: it acknowledges, wipes the
// questionnaire progress and resets the stack to the sentinel, so the
// next message starts over.
type AFK struct{}

func (AFK) HasEntry() bool { return false }

func (a AFK) Entry(ctx context.Context, s *fsm.Step) (fsm.Outcome, error) {
	return a.Process(ctx, s)
}

func (AFK) Process(ctx context.Context, s *fsm.Step) (fsm.Outcome, error) {
	clearFlowProgress(s.User)
	s.SetText("stopped")
	s.ClearButtons()
	s.Send()
	s.User.States = []string{StateEnd}
	return fsm.OK(), nil
}
