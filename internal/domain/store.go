package domain

import (
	"context"
	"time"
)

// UserCond is one predicate of a broadcast target filter. Field names are
// validated against a whitelist by the store.
type UserCond struct {
	Field  string
	Op     string // "=" | "<" | ">" | "{" (in) | "}" (contains)
	Value  any
	Invert bool
}

// Store is the persistence contract consumed by the dispatcher and the
// schedulers.
type Store interface {
	GetUser(ctx context.Context, identity string) (*User, error)
	CreateUser(ctx context.Context, user *User) error
	// CommitUser persists the full record at dispatch-cycle end.
	CommitUser(ctx context.Context, user *User) error
	// SetUserInstance rebinds the frontend instance out-of-band of the
	// cycle commit.
	SetUserInstance(ctx context.Context, identity, instance string) error
	SetUserPermission(ctx context.Context, identity string, level PermissionLevel) error
	// AppendUserState pushes a state onto a user's stack without loading
	// the record into a cycle (used by the reminder scheduler).
	AppendUserState(ctx context.Context, identity, state string) error
	MatchUsers(ctx context.Context, conds []UserCond) ([]*User, error)

	CreateCheckback(ctx context.Context, cb *CheckBack) error
	CheckbacksInRange(ctx context.Context, from, to time.Time) (int, []*CheckBack, error)
	RemoveCheckback(ctx context.Context, id int64) error

	CreateBroadcast(ctx context.Context, payload *Request) error
	PendingBroadcasts(ctx context.Context) (int, []*Broadcast, error)
	RemoveBroadcast(ctx context.Context, id int64) error

	GetSession(ctx context.Context, name string) (*ChannelSession, error)
	CreateSession(ctx context.Context, s *ChannelSession) error
	ChannelSessions(ctx context.Context) ([]*ChannelSession, error)

	CreateWebToken(ctx context.Context, identity string) (string, error)

	QueryTranslations(ctx context.Context, language string, keys []string) ([]*Translation, error)
	SaveTranslations(ctx context.Context, items []*Translation) error

	Close() error
}
