package auth

import (
	"errors"
	"regexp"
	"time"
)

// usernamePattern defines the valid format for new usernames:
// alphanumeric, dots, hyphens, underscores, 1-64 characters.
var usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9._-]{1,64}$`)

// IsValidUsername checks if a username meets format requirements for new accounts.
// Login only requires a non-empty username so legacy accounts keep working.
func IsValidUsername(username string) bool {
	return usernamePattern.MatchString(username)
}

// Role represents an authorisation tier.
type Role string

const (
	// RoleUser may operate the door.
	RoleUser Role = "USER"

	// RoleAdmin may operate the door and manage accounts and lockouts.
	RoleAdmin Role = "ADMIN"
)

// IsValidRole returns true if r is a known role.
func IsValidRole(r Role) bool {
	return r == RoleUser || r == RoleAdmin
}

// Status is the lifecycle state of an account.
type Status string

const (
	StatusActive   Status = "ACTIVE"
	StatusInactive Status = "INACTIVE"
)

// User is an account record. Credential and Token never leave the process
// through JSON.
type User struct {
	ID          string     `json:"id"`
	Username    string     `json:"username"`
	Credential  string     `json:"-"`
	Status      Status     `json:"status"`
	Role        Role       `json:"role"`
	Token       string     `json:"-"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	LastLoginAt *time.Time `json:"last_login_at,omitempty"`
}

// IsAdmin reports whether the user holds the ADMIN role.
func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

// IsActive reports whether the account may log in.
func (u *User) IsActive() bool {
	return u.Status == StatusActive
}

// HasSession reports whether the user currently holds a token.
func (u *User) HasSession() bool {
	return u.Token != ""
}

// Sentinel errors for auth operations.
var (
	ErrInvalidInput       = errors.New("invalid input")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidUsername    = errors.New("invalid username")
	ErrPasswordTooShort   = errors.New("password too short")
	ErrPasswordMismatch   = errors.New("password confirmation does not match")
	ErrUserNotFound       = errors.New("user not found")
	ErrUserInactive       = errors.New("user account is inactive")
	ErrUsernameExists     = errors.New("username already exists")
	ErrTokenInvalid       = errors.New("invalid token")
	ErrTokenConflict      = errors.New("token already assigned")
	ErrMigrationFailed    = errors.New("credential migration failed")
	ErrIPBlocked          = errors.New("client address is blocked")
	ErrForbidden          = errors.New("insufficient permissions")
	ErrSelfModification   = errors.New("cannot modify own account in this way")
)
