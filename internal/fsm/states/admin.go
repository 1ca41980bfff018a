package states

import (
	"context"
	"fmt"
	"strings"

	"botflow/internal/domain"
	"botflow/internal/fsm"
)

// GetID replies with the sender's cross-channel identity, so it can be
// handed to the owner for permission grants.
type GetID struct{}

func (GetID) HasEntry() bool { return false }

func (g GetID) Entry(ctx context.Context, s *fsm.Step) (fsm.Outcome, error) {
	return g.Process(ctx, s)
}

func (GetID) Process(ctx context.Context, s *fsm.Step) (fsm.Outcome, error) {
	s.Request.Message.Text = domain.PlainText(s.User.Identity)
	s.ClearButtons()
	s.Send()
	s.User.PopState(StateEnd)
	return fsm.OK(), nil
}

// EditPermissions lets the engine owner change another user's permission
// level. Input is "<identity> <level>"; "me" targets the owner.
type EditPermissions struct{}

func (EditPermissions) HasEntry() bool { return true }

func (e EditPermissions) Entry(ctx context.Context, s *fsm.Step) (fsm.Outcome, error) {
	if s.User.Identity != s.Settings.OwnerIdentity {
		return deny(s)
	}
	if strings.TrimSpace(s.Request.Message.Text.String()) != "" {
		return e.Process(ctx, s)
	}
	s.Request.Message.Text = domain.PlainText("Send: <identity> <level>")
	s.ClearButtons()
	s.Send()
	return fsm.OK(), nil
}

func (EditPermissions) Process(ctx context.Context, s *fsm.Step) (fsm.Outcome, error) {
	if s.User.Identity != s.Settings.OwnerIdentity {
		return deny(s)
	}
	fields := strings.Fields(s.Request.Message.Text.String())
	if len(fields) != 2 {
		s.Request.Message.Text = domain.PlainText("Send: <identity> <level>")
		s.ClearButtons()
		s.Send()
		return fsm.OK(), nil
	}

	identity := fields[0]
	if identity == "me" {
		identity = s.User.Identity
	}
	var level domain.PermissionLevel
	switch fields[1] {
	case "0", "default":
		level = domain.PermissionDefault
	case "1", "broadcaster":
		level = domain.PermissionBroadcaster
	case "2", "admin":
		level = domain.PermissionAdmin
	default:
		s.Request.Message.Text = domain.PlainText(fmt.Sprintf("Unknown level %q", fields[1]))
		s.ClearButtons()
		s.Send()
		return fsm.OK(), nil
	}

	if err := s.Store.SetUserPermission(ctx, identity, level); err != nil {
		return fsm.Fault(), fmt.Errorf("set permission for %s: %w", identity, err)
	}
	if identity == s.User.Identity {
		s.User.Permission = level
	}
	s.Request.Message.Text = domain.PlainText(fmt.Sprintf("Permission of %s set to %d.", identity, level))
	s.ClearButtons()
	s.Send()
	s.User.PopState(StateEnd)
	return fsm.OK(), nil
}

// WebLogin issues a one-time token for the web admin panel.
type WebLogin struct{}

func (WebLogin) HasEntry() bool { return false }

func (w WebLogin) Entry(ctx context.Context, s *fsm.Step) (fsm.Outcome, error) {
	return w.Process(ctx, s)
}

func (WebLogin) Process(ctx context.Context, s *fsm.Step) (fsm.Outcome, error) {
	// The configured owner is admitted regardless of permission level.
	if s.User.Identity != s.Settings.OwnerIdentity && s.User.Permission < domain.PermissionAdmin {
		return deny(s)
	}
	token, err := s.Store.CreateWebToken(ctx, s.User.Identity)
	if err != nil {
		return fsm.Fault(), fmt.Errorf("issue web token: %w", err)
	}
	s.Request.Message.Text = domain.PlainText(fmt.Sprintf("%s/admin?token=%s", s.Settings.PublicURL, token))
	s.ClearButtons()
	s.Send()
	s.User.PopState(StateEnd)
	return fsm.OK(), nil
}
