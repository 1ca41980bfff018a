package domain

// PermissionLevel gates access to privileged dialogue states.
type PermissionLevel int

const (
	PermissionDefault     PermissionLevel = 0
	PermissionBroadcaster PermissionLevel = 1
	PermissionAdmin       PermissionLevel = 2
	PermissionMax                         = PermissionAdmin
)

// AccountType classifies user accounts.
type AccountType int

const (
	AccountCommon AccountType = 1
	AccountMedic  AccountType = 2
	AccountSocial AccountType = 3
)

// Service identifiers of the channel frontends that feed the engine.
const (
	ServiceTelegram = "telegram"
	ServiceFacebook = "facebook"
	ServiceWebsite  = "website"
)
