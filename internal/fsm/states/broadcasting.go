package states

import (
	"context"
	"fmt"
	"strings"

	"botflow/internal/domain"
	"botflow/internal/fsm"
)

// Broadcasting lets privileged users send a message to a filtered set of
// users. The first line of the input is the target filter, the rest is
// the message body:
//
//	language=en !service{telegram,facebook}
//	We are back online.
//
// A filter of * targets everyone.
type Broadcasting struct{}

func (Broadcasting) HasEntry() bool { return true }

func (b Broadcasting) Entry(ctx context.Context, s *fsm.Step) (fsm.Outcome, error) {
	if s.User.Permission < domain.PermissionBroadcaster {
		return deny(s)
	}
	if strings.TrimSpace(s.Request.Message.Text.String()) != "" {
		return b.Process(ctx, s)
	}
	s.SetText("broadcast-prompt")
	s.ClearButtons()
	s.Send()
	return fsm.OK(), nil
}

func (Broadcasting) Process(ctx context.Context, s *fsm.Step) (fsm.Outcome, error) {
	if s.User.Permission < domain.PermissionBroadcaster {
		return deny(s)
	}
	input := strings.TrimSpace(s.Request.Message.Text.String())
	filterLine, body, found := strings.Cut(input, "\n")
	if !found || strings.TrimSpace(body) == "" {
		s.SetText("broadcast-prompt")
		s.ClearButtons()
		s.Send()
		return fsm.OK(), nil
	}
	body = strings.TrimSpace(body)

	conds, err := ParseConds(filterLine)
	if err != nil {
		s.Request.Message.Text = domain.PlainText(fmt.Sprintf("Bad filter: %v", err))
		s.ClearButtons()
		s.Send()
		return fsm.OK(), nil
	}

	targets, err := s.Store.MatchUsers(ctx, conds)
	if err != nil {
		return fsm.Fault(), fmt.Errorf("match broadcast targets: %w", err)
	}

	sent := 0
	for _, target := range targets {
		if target.Identity == s.User.Identity {
			continue
		}
		chat := target.ConversationID
		if chat == "" {
			chat = target.UserID
		}
		s.SendBatched(&domain.Request{
			ServiceIn:   target.Service,
			ViaInstance: target.ViaInstance,
			User:        domain.UserInfo{UserID: target.UserID, Identity: target.Identity},
			Chat:        domain.Chat{ChatID: chat},
			Message:     domain.Message{Text: domain.PlainText(body)},
		})
		sent++
	}

	s.Request.Message.Text = domain.PlainText(fmt.Sprintf("Broadcast queued for %d users.", sent))
	s.ClearButtons()
	s.Send()
	s.User.PopState(StateEnd)
	return fsm.OK(), nil
}

// ParseConds parses a space-separated filter line into store predicates.
// Each token is field, operator, value; a leading ! inverts the match.
// Operators: = exact, < less, > greater, { in a comma list, } substring.
func ParseConds(line string) ([]domain.UserCond, error) {
	line = strings.TrimSpace(line)
	if line == "" || line == "*" {
		return nil, nil
	}
	var conds []domain.UserCond
	for _, token := range strings.Fields(line) {
		cond := domain.UserCond{}
		if strings.HasPrefix(token, "!") {
			cond.Invert = true
			token = token[1:]
		}
		i := strings.IndexAny(token, "=<>{}")
		if i <= 0 || i == len(token)-1 && token[i] != '{' {
			return nil, fmt.Errorf("cannot parse %q", token)
		}
		cond.Field = token[:i]
		cond.Op = string(token[i])
		value := strings.TrimSuffix(token[i+1:], "}")
		if value == "" {
			return nil, fmt.Errorf("empty value in %q", token)
		}
		if cond.Op == "{" {
			parts := strings.Split(value, ",")
			list := make([]any, 0, len(parts))
			for _, p := range parts {
				list = append(list, strings.TrimSpace(p))
			}
			cond.Value = list
		} else {
			cond.Value = value
		}
		conds = append(conds, cond)
	}
	return conds, nil
}

func deny(s *fsm.Step) (fsm.Outcome, error) {
	s.SetText("not-allowed")
	s.ClearButtons()
	s.Send()
	s.User.PopState(StateEnd)
	return fsm.OK(), nil
}
