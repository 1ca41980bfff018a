package states

import (
	"context"

	"botflow/internal/fsm"
)

// Checkback handles the reply to a delivered reminder. The reminder
// scheduler pushes this state right before the reminder goes out, so the
// user's next message lands here. It has no entry hook.
type Checkback struct{}

func (Checkback) HasEntry() bool { return false }

func (c Checkback) Entry(ctx context.Context, s *fsm.Step) (fsm.Outcome, error) {
	return c.Process(ctx, s)
}

func (Checkback) Process(ctx context.Context, s *fsm.Step) (fsm.Outcome, error) {
	btn := s.MatchButton("yes", "no")
	switch {
	case btn.Is("yes"):
		// Resume the questionnaire at the reminded question.
		return fsm.Reenter(StateQA), nil
	case btn.Is("no"):
		// Acknowledge and drop back to wherever the user was, without
		// feeding "no" to that state as an answer.
		s.SetText("checkback-later")
		s.ClearButtons()
		s.Send()
		s.User.PopState(StateEnd)
		return fsm.OK(), nil
	}
	s.SetText("checkback-continue")
	s.SetButtons("yes", "no")
	s.Send()
	return fsm.OK(), nil
}
