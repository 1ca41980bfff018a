package states

import (
	"context"

	"botflow/internal/domain"
	"botflow/internal/fsm"
)

// langButtons maps language selection buttons to language codes.
var langButtons = map[string]string{
	"lang-en": "en",
	"lang-ru": "ru",
	"lang-es": "es",
}

var langButtonKeys = []string{"lang-en", "lang-ru", "lang-es"}

// Start greets the user and asks for a language, then hands over to the
// questionnaire.
type Start struct{}

func (Start) HasEntry() bool { return true }

func (Start) Entry(ctx context.Context, s *fsm.Step) (fsm.Outcome, error) {
	clearFlowProgress(s.User)
	s.SetText("welcome")
	s.SetButtons(langButtonKeys...)
	s.Send()
	return fsm.OK(), nil
}

func (Start) Process(ctx context.Context, s *fsm.Step) (fsm.Outcome, error) {
	btn := s.MatchButton(langButtonKeys...)
	code, ok := langButtons[btn.Key]
	if !ok {
		s.SetText("select-language")
		s.SetButtons(langButtonKeys...)
		s.Send()
		return fsm.OK(), nil
	}
	s.User.Language = code
	return fsm.Reenter(StateQA), nil
}

func clearFlowProgress(u *domain.User) {
	if u.Context == nil {
		u.Context = make(map[string]any)
	}
	delete(u.Context, ctxPosition)
	delete(u.Context, ctxTrail)
	delete(u.Context, ctxMulti)
}
