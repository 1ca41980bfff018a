// Package states holds the dialogue states the dispatcher routes
// between. State names double as persisted stack entries, so renaming
// one is a data migration.
package states

import "botflow/internal/fsm"

const (
	StateStart           = "StartState"
	StateEnd             = "ENDState"
	StateQA              = "QAState"
	StateCheckback       = "CheckBackState"
	StateBroadcasting    = "BroadcastingState"
	StateEditPermissions = "EditPermissionsState"
	StateGetID           = "GetIDState"
	StateBlogging        = "BloggingState"
	StateAFK             = "AFKState"
	StateWebLogin        = "WebAdminLoginState"
)

// All returns the state registry contents.
func All() map[string]fsm.Constructor {
	return map[string]fsm.Constructor{
		StateStart:           func() fsm.State { return &Start{} },
		StateEnd:             func() fsm.State { return &End{} },
		StateQA:              func() fsm.State { return &QA{} },
		StateCheckback:       func() fsm.State { return &Checkback{} },
		StateBroadcasting:    func() fsm.State { return &Broadcasting{} },
		StateEditPermissions: func() fsm.State { return &EditPermissions{} },
		StateGetID:           func() fsm.State { return &GetID{} },
		StateBlogging:        func() fsm.State { return &Blogging{} },
		StateAFK:             func() fsm.State { return &AFK{} },
		StateWebLogin:        func() fsm.State { return &WebLogin{} },
	}
}

// Commands maps slash-command tokens to the states that handle them.
func Commands() map[string]string {
	return map[string]string{
		"/start":            StateStart,
		"/stop":             StateAFK,
		"/id":               StateGetID,
		"/postme":           StateBlogging,
		"/broadcast":        StateBroadcasting,
		"/edit_permissions": StateEditPermissions,
		"/login":            StateWebLogin,
	}
}
