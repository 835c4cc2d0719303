package auth

import "time"

// Identity is a registered account together with its organization and role.
// The bcrypt hash in PasswordHash embeds its own salt.
type Identity struct {
	ID               int64      `json:"id"`
	UserName         string     `json:"user_name"`
	Email            string     `json:"email"`
	OrganizationID   int64      `json:"organization_id"`
	OrganizationName string     `json:"organization_name"`
	RoleID           int64      `json:"role_id"`
	RoleName         string     `json:"role_name"`
	PasswordHash     string     `json:"password_hash"`
	Active           bool       `json:"active"`
	CurrentSessionID string     `json:"current_session_id,omitempty"`
	LastLoginAt      *time.Time `json:"last_login_at,omitempty"`
}

// Session is a server-side proof of a successful login. It is valid while
// the clock is inside [CreatedAt, ExpiresAt] and it is still the owner's
// current session.
type Session struct {
	ID        string    `json:"id"`
	UserID    int64     `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}
