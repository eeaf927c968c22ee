package types

// User is the application's view of the remote account.
type User struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
	Verified    bool   `json:"verified"`
}

// Session wraps the signed-in user.
type Session struct {
	User User `json:"user"`
}

// AuthEvent names a session transition.
type AuthEvent string

// Session transitions broadcast by the auth bridge.
const (
	AuthSignedIn  AuthEvent = "SIGNED_IN"
	AuthSignedOut AuthEvent = "SIGNED_OUT"
)

// Roles understood by the access guard.
const (
	RoleMember  = "member"
	RoleManager = "manager"
	RoleAdmin   = "admin"
)
