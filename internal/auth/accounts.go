package auth

import (
	"context"
	"fmt"
	"unicode/utf8"
)

// RegisterRequest is a self-service sign-up.
type RegisterRequest struct {
	Username        string
	Password        string
	ConfirmPassword string
}

// CreateAccount validates and stores a new ACTIVE account with a freshly
// encoded credential.
func (c *Coordinator) CreateAccount(ctx context.Context, username, password string, role Role) (*User, error) {
	if !IsValidUsername(username) {
		return nil, ErrInvalidUsername
	}
	if utf8.RuneCountInString(password) < c.minPasswordLength {
		return nil, ErrPasswordTooShort
	}
	if !IsValidRole(role) {
		return nil, fmt.Errorf("role %q: %w", role, ErrInvalidInput)
	}

	credential, err := c.codec.Encode(password)
	if err != nil {
		return nil, err
	}

	user := &User{
		Username:   username,
		Credential: credential,
		Status:     StatusActive,
		Role:       role,
	}
	if err := c.users.Create(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// Register creates a USER account and signs it in. Requests from a blocked
// address are refused; validation failures do not count as login attempts.
func (c *Coordinator) Register(ctx context.Context, req RegisterRequest, clientIP string) (*User, string, error) {
	if c.tracker.IsBlocked(clientIP) {
		return nil, "", ErrIPBlocked
	}
	if req.Username == "" {
		return nil, "", ErrInvalidUsername
	}
	if utf8.RuneCountInString(req.Password) < c.minPasswordLength {
		return nil, "", ErrPasswordTooShort
	}
	if req.Password != req.ConfirmPassword {
		return nil, "", ErrPasswordMismatch
	}

	user, err := c.CreateAccount(ctx, req.Username, req.Password, RoleUser)
	if err != nil {
		return nil, "", err
	}

	token, err := c.sessions.IssueToken(ctx, user)
	if err != nil {
		return nil, "", fmt.Errorf("signing in new account: %w", err)
	}
	return user, token, nil
}

// SetPassword replaces a user's credential with a freshly encoded one.
func (c *Coordinator) SetPassword(ctx context.Context, userID, password string) error {
	if utf8.RuneCountInString(password) < c.minPasswordLength {
		return ErrPasswordTooShort
	}
	credential, err := c.codec.Encode(password)
	if err != nil {
		return err
	}
	return c.users.UpdateCredential(ctx, userID, credential)
}

// SetStatus activates or deactivates an account. Deactivation also ends the
// user's session. actorID may not deactivate itself. Only the status column
// is written, so a concurrent login or credential migration is never undone.
func (c *Coordinator) SetStatus(ctx context.Context, actorID, userID string, status Status) (*User, error) {
	if status != StatusActive && status != StatusInactive {
		return nil, fmt.Errorf("status %q: %w", status, ErrInvalidInput)
	}
	if actorID == userID && status == StatusInactive {
		return nil, ErrSelfModification
	}

	if err := c.users.UpdateStatus(ctx, userID, status); err != nil {
		return nil, err
	}
	user, err := c.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	if status == StatusInactive {
		if err := c.sessions.Invalidate(ctx, user.Username); err != nil {
			return nil, err
		}
		user.Token = ""
	}
	return user, nil
}

// SetRole promotes or demotes an account. actorID may not demote itself.
func (c *Coordinator) SetRole(ctx context.Context, actorID, userID string, role Role) (*User, error) {
	if !IsValidRole(role) {
		return nil, fmt.Errorf("role %q: %w", role, ErrInvalidInput)
	}
	if actorID == userID && role != RoleAdmin {
		return nil, ErrSelfModification
	}

	if err := c.users.UpdateRole(ctx, userID, role); err != nil {
		return nil, err
	}
	return c.users.GetByID(ctx, userID)
}

// RegenerateToken issues a new token for userID, ending any current session.
func (c *Coordinator) RegenerateToken(ctx context.Context, userID string) (*User, string, error) {
	user, err := c.users.GetByID(ctx, userID)
	if err != nil {
		return nil, "", err
	}
	if !user.IsActive() {
		return nil, "", ErrUserInactive
	}

	token, err := c.sessions.IssueToken(ctx, user)
	if err != nil {
		return nil, "", err
	}
	return user, token, nil
}

// CredentialReport counts stored credentials by encoding. Every encoding is
// present in the result, possibly with zero.
func (c *Coordinator) CredentialReport(ctx context.Context) (map[Encoding]int, error) {
	users, err := c.users.List(ctx)
	if err != nil {
		return nil, err
	}

	report := map[Encoding]int{
		EncodingSHA256:       0,
		EncodingLegacyBase64: 0,
		EncodingPlainText:    0,
	}
	for _, u := range users {
		report[ClassifyEncoding(u.Credential)]++
	}
	return report, nil
}

// Credential migration results.
const (
	MigrationMigrated = "migrated"
	MigrationCurrent  = "current"
	MigrationSkipped  = "skipped"
	MigrationError    = "error"
)

// CredentialMigration is the outcome for one account.
type CredentialMigration struct {
	Username string   `json:"username"`
	From     Encoding `json:"from"`
	Result   string   `json:"result"`
	Error    string   `json:"error,omitempty"`
}

// MigrationReport summarises MigrateCredentials.
type MigrationReport struct {
	Migrated       int                   `json:"migrated"`
	AlreadyCurrent int                   `json:"already_current"`
	Skipped        int                   `json:"skipped"`
	Errors         int                   `json:"errors"`
	Accounts       []CredentialMigration `json:"accounts"`
}

// MigrateCredentials re-encodes every legacy credential as salted SHA-256
// without waiting for its owner to log in. Plain text values are encoded
// as stored and Base64 values are decoded first. A credential that changes
// while the run is in progress is left alone and counted as skipped.
func (c *Coordinator) MigrateCredentials(ctx context.Context) (*MigrationReport, error) {
	users, err := c.users.List(ctx)
	if err != nil {
		return nil, err
	}

	report := &MigrationReport{Accounts: make([]CredentialMigration, 0, len(users))}
	for _, u := range users {
		entry := c.migrateStored(ctx, u)
		switch entry.Result {
		case MigrationMigrated:
			report.Migrated++
		case MigrationCurrent:
			report.AlreadyCurrent++
		case MigrationSkipped:
			report.Skipped++
		default:
			report.Errors++
		}
		report.Accounts = append(report.Accounts, entry)
	}

	c.logger.Info("credential migration complete",
		"migrated", report.Migrated,
		"already_current", report.AlreadyCurrent,
		"skipped", report.Skipped,
		"errors", report.Errors,
	)
	return report, nil
}

func (c *Coordinator) migrateStored(ctx context.Context, u User) CredentialMigration {
	cred := ParseCredential(u.Credential)
	entry := CredentialMigration{Username: u.Username, From: cred.Encoding()}

	var plaintext string
	switch v := cred.(type) {
	case SHA256Salted:
		entry.Result = MigrationCurrent
		return entry
	case LegacyBase64:
		plaintext = string(v.Payload)
	case PlainText:
		plaintext = v.Value
	}

	encoded, err := c.codec.Encode(plaintext)
	if err == nil {
		var swapped bool
		swapped, err = c.users.SwapCredential(ctx, u.ID, u.Credential, encoded)
		if err == nil && !swapped {
			entry.Result = MigrationSkipped
			return entry
		}
	}
	if err != nil {
		c.logger.Warn("credential migration failed", "username", u.Username, "error", err)
		entry.Result = MigrationError
		entry.Error = err.Error()
		return entry
	}
	entry.Result = MigrationMigrated
	return entry
}
