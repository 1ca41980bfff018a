package states

import (
	"context"
	"strconv"
	"time"

	"botflow/internal/domain"
	"botflow/internal/flow"
	"botflow/internal/fsm"
)

// Keys inside User.Context tracking questionnaire progress. Values
// survive a JSON round trip through the store, so slices come back as
// []any.
const (
	ctxPosition = "qa_position"
	ctxTrail    = "qa_trail"
	ctxMulti    = "qa_multi"
)

// Buttons attached to every question in addition to the authored ones.
const (
	btnBack = "back"
	btnStop = "stop"
)

// Flow commands authored in the content graph.
const (
	cmdEnd       = "end"
	cmdRepeat    = "repeat"
	cmdDone      = "done"
	cmdPartial   = "partial"
	cmdCheckback = "checkback"
)

const defaultCheckbackDelay = 24 * time.Hour

// QA walks the user through the externally authored dialogue graph,
// recording answers and files along the way.
type QA struct{}

func (QA) HasEntry() bool { return true }

func (q QA) Entry(ctx context.Context, s *fsm.Step) (fsm.Outcome, error) {
	m := q.current(s)
	if m == nil {
		m = s.Flow.First()
	}
	if m == nil {
		s.SetText("flow-unavailable")
		s.ClearButtons()
		s.Send()
		return fsm.OK(), nil
	}
	return q.present(s, m)
}

func (q QA) Process(ctx context.Context, s *fsm.Step) (fsm.Outcome, error) {
	m := q.current(s)
	if m == nil {
		return q.Entry(ctx, s)
	}

	verify := append(m.ButtonKeys(), btnBack, btnStop)
	btn := s.MatchButton(verify...)

	switch {
	case btn.Is(btnStop):
		return fsm.Reenter(StateAFK), nil
	case btn.Is(btnBack):
		if prev := q.popTrail(s); prev != nil {
			return q.present(s, prev)
		}
		return q.present(s, m)
	}

	if len(m.Buttons) == 0 || m.FreeAnswer {
		return q.acceptFree(s, m)
	}

	if btn.Key == "" {
		s.SetText("wrong-answer")
		s.ClearButtons()
		s.Send()
		return q.present(s, m)
	}
	return q.acceptButton(s, m, btn.Key)
}

// acceptFree records a typed or uploaded answer to an open question.
func (q QA) acceptFree(s *fsm.Step, m *flow.Message) (fsm.Outcome, error) {
	switch m.ExpectedType {
	case "image":
		if !s.Request.HasFile || len(s.Request.Files) == 0 {
			s.SetText("file-expected")
			s.ClearButtons()
			s.Send()
			return q.present(s, m)
		}
		s.User.Files[m.TextKey] = s.Request.Files[0].Payload
	default:
		s.User.Answers[m.TextKey] = s.Request.Message.Text.String()
	}
	return q.advance(s, m, "")
}

// acceptButton records a button answer and applies its authored
// commands.
func (q QA) acceptButton(s *fsm.Step, m *flow.Message, key string) (fsm.Outcome, error) {
	b := m.ButtonByKey(key)
	if b == nil {
		return q.present(s, m)
	}

	if m.Multichoice && b.Command() != cmdDone {
		q.appendChoice(s, key)
		return fsm.OK(), nil
	}
	if m.Multichoice {
		s.User.Answers[m.TextKey] = q.choices(s)
		delete(s.User.Context, ctxMulti)
	} else {
		s.User.Answers[m.TextKey] = key
	}

	for _, cmd := range b.Commands {
		switch cmd {
		case cmdEnd:
			return q.finish(s)
		case cmdRepeat:
			return q.present(s, m)
		case cmdCheckback:
			q.scheduleCheckback(s, m, b.CommandArgs)
		}
	}
	return q.advance(s, m, key)
}

// advance moves along the graph edge chosen by the answer.
func (q QA) advance(s *fsm.Step, m *flow.Message, answerKey string) (fsm.Outcome, error) {
	next := s.Flow.Next(m, answerKey)
	if next == nil {
		return q.finish(s)
	}
	q.pushTrail(s, m.ID)
	return q.present(s, next)
}

// present sends a message chain: informational messages are pushed out
// back to back until the chain reaches one that expects an answer.
func (q QA) present(s *fsm.Step, m *flow.Message) (fsm.Outcome, error) {
	for m != nil {
		s.Request.Message.Text = s.Texts.Text(m.TextKey)
		s.Request.HasFile = m.Image != ""
		if m.Image != "" {
			s.Request.Files = []domain.FileRef{{Payload: m.Image}}
		} else {
			s.Request.Files = nil
		}
		q.setButtons(s, m)
		s.Send()

		if m.HasCommand(cmdCheckback) {
			q.scheduleCheckback(s, m, m.CommandArgs)
		}
		if m.HasCommand(cmdEnd) {
			return q.finish(s)
		}
		// A #partial message is informational: it goes out and the
		// chain continues with its successor in the same reply.
		if q.expectsAnswer(m) && !m.HasCommand(cmdPartial) {
			s.User.Context[ctxPosition] = m.ID
			return fsm.OK(), nil
		}
		prev := m
		m = s.Flow.Next(m, "")
		if m != nil {
			q.pushTrail(s, prev.ID)
		}
	}
	return q.finish(s)
}

func (QA) expectsAnswer(m *flow.Message) bool {
	return len(m.Buttons) > 0 || m.FreeAnswer || m.ExpectedType != ""
}

func (QA) setButtons(s *fsm.Step, m *flow.Message) {
	keys := m.ButtonKeys()
	if len(keys) == 0 {
		keys = append(keys, btnStop)
	} else {
		keys = append(keys, btnBack, btnStop)
	}
	s.SetButtons(keys...)
}

// finish closes the questionnaire and resets the stack to the sentinel,
// so the next message starts a fresh conversation.
func (q QA) finish(s *fsm.Step) (fsm.Outcome, error) {
	clearFlowProgress(s.User)
	s.SetText("thanks")
	s.ClearButtons()
	s.Send()
	s.User.States = []string{StateEnd}
	return fsm.OK(), nil
}

// scheduleCheckback defers reminder creation to after the cycle flush,
// when the question's translation promises are resolved and the payload
// can be serialized.
func (QA) scheduleCheckback(s *fsm.Step, m *flow.Message, args map[string]string) {
	delay := defaultCheckbackDelay
	if raw, ok := args["delay"]; ok {
		if secs, err := strconv.Atoi(raw); err == nil && secs > 0 {
			delay = time.Duration(secs) * time.Second
		}
	}
	payload := s.Request.Clone()
	identity := s.User.Identity
	sendAt := time.Now().Add(delay)
	s.Defer(func(ctx context.Context) error {
		return s.Store.CreateCheckback(ctx, &domain.CheckBack{
			Identity: identity,
			Context:  payload,
			SendAt:   sendAt,
		})
	})
	s.Logger.Info("reminder scheduled", "message", m.ID, "send_at", sendAt)
}

// --- questionnaire progress bookkeeping ---

func (QA) current(s *fsm.Step) *flow.Message {
	id, _ := s.User.Context[ctxPosition].(string)
	if id == "" {
		return nil
	}
	return s.Flow.Find(id)
}

func (QA) pushTrail(s *fsm.Step, id string) {
	s.User.Context[ctxTrail] = append(contextStrings(s.User.Context[ctxTrail]), id)
}

func (q QA) popTrail(s *fsm.Step) *flow.Message {
	trail := contextStrings(s.User.Context[ctxTrail])
	if len(trail) == 0 {
		return nil
	}
	id := trail[len(trail)-1]
	s.User.Context[ctxTrail] = trail[:len(trail)-1]
	return s.Flow.Find(id)
}

func (QA) appendChoice(s *fsm.Step, key string) {
	s.User.Context[ctxMulti] = append(contextStrings(s.User.Context[ctxMulti]), key)
}

func (QA) choices(s *fsm.Step) []string {
	return contextStrings(s.User.Context[ctxMulti])
}

// contextStrings reads a string slice out of User.Context, which holds
// []any after a store round trip.
func contextStrings(v any) []string {
	switch vv := v.(type) {
	case []string:
		return vv
	case []any:
		out := make([]string, 0, len(vv))
		for _, item := range vv {
			if str, ok := item.(string); ok {
				out = append(out, str)
			}
		}
		return out
	}
	return nil
}
