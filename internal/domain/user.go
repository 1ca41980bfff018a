package domain

import "time"

// User is the persistent per-person record, keyed by the cross-channel
// identity hash. It is mutated only inside a dispatch cycle and committed
// at cycle end when the cycle's outcome asks for it.
type User struct {
	Identity       string          `json:"identity"`
	UserID         string          `json:"user_id"`
	Service        string          `json:"service"`
	ViaInstance    string          `json:"via_instance"`
	FirstName      string          `json:"first_name"`
	LastName       string          `json:"last_name"`
	Username       string          `json:"username"`
	Language       string          `json:"language"`
	Type           AccountType     `json:"type"`
	Permission     PermissionLevel `json:"permission_level"`
	CreatedAt      time.Time       `json:"created_at"`
	LastActive     time.Time       `json:"last_active"`
	ConversationID string          `json:"conversation_id,omitempty"`

	// States is the dialogue history stack, most recent last.
	States []string `json:"states"`
	// Context is scratch space shared between steps of one flow.
	Context map[string]any `json:"context"`
	// Answers accumulates dialogue results keyed by feature.
	Answers map[string]any `json:"answers"`
	// Files tracks media collected from the user.
	Files map[string]any `json:"files"`
}

// LastState returns the stack top, or the empty string when the stack is
// empty or was corrupted.
func (u *User) LastState() string {
	if len(u.States) == 0 {
		return ""
	}
	return u.States[len(u.States)-1]
}

// PrevState returns the state below the top, used by interrupt states to
// return where the user was. Falls back to the top itself.
func (u *User) PrevState() string {
	if len(u.States) >= 2 {
		return u.States[len(u.States)-2]
	}
	return u.LastState()
}

// PushState appends a state name and evicts the oldest entries once the
// stack exceeds the given history depth.
func (u *User) PushState(name string, depth int) {
	u.States = append(u.States, name)
	if depth > 0 && len(u.States) > depth {
		u.States = u.States[len(u.States)-depth:]
	}
}

// PopState removes the stack top. It never leaves the stack empty: the
// given sentinel is pushed instead.
func (u *User) PopState(sentinel string) {
	if len(u.States) > 0 {
		u.States = u.States[:len(u.States)-1]
	}
	if len(u.States) == 0 {
		u.States = []string{sentinel}
	}
}
