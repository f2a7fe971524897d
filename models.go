package auth

import (
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// UserRole is the user's role
type UserRole = string

const (
	// RoleUser is a standard account
	RoleUser UserRole = "user"
	// RoleAdmin can additionally list all accounts
	RoleAdmin UserRole = "admin"
)

// PendingActionKind tags what flow a confirmation token was minted for,
// so a token issued for one flow cannot be consumed by another.
type PendingActionKind = string

const (
	// PendingNone means no confirmation is outstanding
	PendingNone PendingActionKind = ""
	// PendingRegistration awaits the initial account confirmation
	PendingRegistration PendingActionKind = "registration"
	// PendingPasswordReset awaits a forgotten-password confirmation
	PendingPasswordReset PendingActionKind = "password_reset"
	// PendingEmailChange awaits verification of a new address
	PendingEmailChange PendingActionKind = "email_change"
)

// User is the account model. Email doubles as the login username.
// A user starts disabled and becomes enabled once the registration
// confirmation token is consumed.
type User struct {
	bun.BaseModel `bun:"table:users,alias:usr"`

	ID           uuid.UUID `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	Role         UserRole  `bun:"user_role,notnull" json:"user_role,omitempty"`
	Email        string    `bun:"email,notnull,unique" json:"email,omitempty"`
	PendingEmail string    `bun:"pending_email" json:"pending_email,omitempty"`
	PasswordHash string    `bun:"password_hash" json:"-"`
	Enabled      bool      `bun:"enabled" json:"enabled"`

	PendingAction     PendingActionKind `bun:"pending_action" json:"-"`
	ConfirmationToken string            `bun:"confirmation_token" json:"-"`
	TokenIssuedAt     *time.Time        `bun:"token_issued_at,nullzero" json:"-"`

	CreatedAt *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt *time.Time `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
}

// BeginPendingAction mints a fresh confirmation token for the given flow,
// overwriting any token a prior flow may have left behind.
func (u *User) BeginPendingAction(kind PendingActionKind) string {
	token := uuid.New().String()
	now := time.Now()

	u.PendingAction = kind
	u.ConfirmationToken = token
	u.TokenIssuedAt = &now

	return token
}

// ClearPendingAction consumes the confirmation token. Tokens are single
// use: once cleared, a lookup by the old value must come back empty.
func (u *User) ClearPendingAction() {
	u.PendingAction = PendingNone
	u.ConfirmationToken = ""
	u.TokenIssuedAt = nil
}

// HasPendingAction reports whether a confirmation is outstanding.
func (u *User) HasPendingAction() bool {
	return u.ConfirmationToken != ""
}

// AccessToken is a row in the token store. It mirrors what the
// authorization server hands out on login: an access token plus an
// optional linked refresh token, both keyed to the account username.
type AccessToken struct {
	bun.BaseModel `bun:"table:access_tokens,alias:tok"`

	ID           uuid.UUID  `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	Username     string     `bun:"username,notnull" json:"username,omitempty"`
	Token        string     `bun:"token,notnull,unique" json:"token,omitempty"`
	RefreshToken string     `bun:"refresh_token" json:"refresh_token,omitempty"`
	ExpiresAt    *time.Time `bun:"expires_at,nullzero" json:"expires_at,omitempty"`
	CreatedAt    *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
}
