package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"
)

// DefaultMinPasswordLength is the shortest password accepted when none is configured.
const DefaultMinPasswordLength = 6

// Outcome classifies the result of a login attempt.
type Outcome string

const (
	OutcomeSuccess            Outcome = "success"
	OutcomeInvalidCredentials Outcome = "invalid_credentials"
	OutcomeAccountDisabled    Outcome = "account_disabled"
	OutcomeBlocked            Outcome = "blocked"
)

// LoginResult is the structured result of Login. Exactly one Outcome is set;
// User, Token and IsAdmin are only populated on success.
type LoginResult struct {
	Outcome                 Outcome `json:"outcome"`
	User                    *User   `json:"user,omitempty"`
	Token                   string  `json:"-"`
	IsAdmin                 bool    `json:"is_admin"`
	RemainingAttempts       int     `json:"remaining_attempts"`
	RemainingLockoutMinutes int     `json:"remaining_lockout_minutes,omitempty"`
	Message                 string  `json:"message"`
}

// CoordinatorConfig configures the login flow.
type CoordinatorConfig struct {
	MinPasswordLength int
}

// Coordinator runs the login protocol: lockout gate, credential
// verification with transparent migration to the current encoding, account
// status check and token issuance.
type Coordinator struct {
	users    UserRepository
	codec    *Codec
	tracker  *LockoutTracker
	sessions *SessionAuthority
	logger   *slog.Logger

	minPasswordLength int

	// decoy is verified against when the username is unknown so that the
	// response time does not reveal which usernames exist.
	decoy string
}

// NewCoordinator wires the login collaborators together.
func NewCoordinator(users UserRepository, codec *Codec, tracker *LockoutTracker, sessions *SessionAuthority, cfg CoordinatorConfig, logger *slog.Logger) (*Coordinator, error) {
	if cfg.MinPasswordLength <= 0 {
		cfg.MinPasswordLength = DefaultMinPasswordLength
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	decoy, err := codec.Encode("decoy-credential-never-matches")
	if err != nil {
		return nil, fmt.Errorf("preparing decoy credential: %w", err)
	}

	return &Coordinator{
		users:             users,
		codec:             codec,
		tracker:           tracker,
		sessions:          sessions,
		logger:            logger,
		minPasswordLength: cfg.MinPasswordLength,
		decoy:             decoy,
	}, nil
}

// Login authenticates username/password from clientIP. It never returns an
// error: store and issuance failures resolve to InvalidCredentials and are
// logged.
//
// Steps, in order:
//  1. A blocked address is rejected without touching credentials.
//  2. Shape check (non-empty username, minimum password length).
//  3. Verify against the stored credential.
//  4. A verified non-SHA-256 credential is re-encoded and saved (best effort).
//  5. An inactive account counts as a failure and reports AccountDisabled.
//  6. Success clears the address and issues a token.
//
// Any failure counts against clientIP.
func (c *Coordinator) Login(ctx context.Context, username, password, clientIP string) LoginResult {
	if c.tracker.IsBlocked(clientIP) {
		minutes := c.tracker.RemainingLockoutMinutes(clientIP)
		return LoginResult{
			Outcome:                 OutcomeBlocked,
			RemainingLockoutMinutes: minutes,
			Message:                 fmt.Sprintf("Too many failed attempts. Try again in %d minutes", minutes),
		}
	}

	if username == "" || utf8.RuneCountInString(password) < c.minPasswordLength {
		return c.fail(clientIP)
	}

	user, err := c.users.FindByUsername(ctx, username)
	if err != nil {
		if !errors.Is(err, ErrUserNotFound) {
			c.logger.Error("looking up user for login", "username", username, "error", err)
		}
		c.codec.Verify(password, c.decoy)
		return c.fail(clientIP)
	}

	if !c.codec.Verify(password, user.Credential) {
		return c.fail(clientIP)
	}

	if enc := ClassifyEncoding(user.Credential); enc != EncodingSHA256 {
		if err := c.migrate(ctx, user, password); err != nil {
			c.logger.Warn("credential migration failed",
				"username", user.Username, "from", enc.String(), "error", err)
		} else {
			c.logger.Info("credential migrated", "username", user.Username, "from", enc.String())
		}
	}

	if !user.IsActive() {
		remaining := c.tracker.RecordFailure(clientIP)
		return LoginResult{
			Outcome:           OutcomeAccountDisabled,
			RemainingAttempts: remaining,
			Message:           "Account disabled",
		}
	}

	c.tracker.RecordSuccess(clientIP)

	token, err := c.sessions.IssueToken(ctx, user)
	if err != nil {
		c.logger.Error("issuing session token", "username", user.Username, "error", err)
		return c.fail(clientIP)
	}

	now := time.Now().UTC().Truncate(time.Second)
	if err := c.users.TouchLastLogin(ctx, user.ID, now); err != nil {
		c.logger.Warn("recording last login", "username", user.Username, "error", err)
	} else {
		user.LastLoginAt = &now
	}

	return LoginResult{
		Outcome:           OutcomeSuccess,
		User:              user,
		Token:             token,
		IsAdmin:           user.IsAdmin(),
		RemainingAttempts: c.tracker.Config().MaxAttempts,
		Message:           "Login successful",
	}
}

// fail records a failed attempt and builds the InvalidCredentials result.
func (c *Coordinator) fail(clientIP string) LoginResult {
	remaining := c.tracker.RecordFailure(clientIP)
	result := LoginResult{
		Outcome:           OutcomeInvalidCredentials,
		RemainingAttempts: remaining,
	}

	if remaining == 0 {
		result.RemainingLockoutMinutes = c.tracker.RemainingLockoutMinutes(clientIP)
		result.Message = fmt.Sprintf("Too many failed attempts. IP blocked for %d minutes", result.RemainingLockoutMinutes)
	} else {
		result.Message = fmt.Sprintf("Invalid username or password. %d attempts remaining", remaining)
	}
	return result
}

// migrate re-encodes a verified legacy credential in the current format.
func (c *Coordinator) migrate(ctx context.Context, user *User, password string) error {
	encoded, err := c.codec.Encode(password)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrMigrationFailed, err)
	}
	if err := c.users.UpdateCredential(ctx, user.ID, encoded); err != nil {
		return fmt.Errorf("%w: %w", ErrMigrationFailed, err)
	}
	user.Credential = encoded
	return nil
}

// Logout clears the user's session token.
func (c *Coordinator) Logout(ctx context.Context, username string) error {
	return c.sessions.Invalidate(ctx, username)
}
