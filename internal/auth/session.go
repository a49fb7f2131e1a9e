package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"regexp"
	"sync"
)

// tokenBytes is the entropy of an issued token (256 bits, hex encoded).
const tokenBytes = 32

// maxIssueAttempts bounds retries when a generated token collides.
const maxIssueAttempts = 3

// tokenPattern accepts issued hex tokens and the UUID tokens written by
// earlier releases.
var tokenPattern = regexp.MustCompile(`^[0-9a-fA-F-]{16,128}$`)

// SessionStore is the subset of UserRepository the session authority needs.
type SessionStore interface {
	FindByToken(ctx context.Context, token string) (*User, error)
	SetToken(ctx context.Context, userID, token string) error
	ClearTokenByUsername(ctx context.Context, username string) error
}

// SessionAuthority issues and validates opaque session tokens. Each user
// holds at most one live token; issuing a new one supersedes the old.
//
// Thread Safety:
//   - Issuance for the same username is serialised; different users never
//     contend.
type SessionAuthority struct {
	store SessionStore
	rand  io.Reader
	locks sync.Map // username -> *userLock
}

// userLock serialises issuance for one username. It is dropped from the map
// when released, so the map only holds usernames with work in flight. A
// holder that finds it released retries with a fresh lock.
type userLock struct {
	mu       sync.Mutex
	released bool
}

// NewSessionAuthority creates a SessionAuthority backed by store.
func NewSessionAuthority(store SessionStore) *SessionAuthority {
	return &SessionAuthority{store: store, rand: rand.Reader}
}

// lock acquires the per-username lock. The returned func releases it.
func (a *SessionAuthority) lock(username string) func() {
	for {
		v, _ := a.locks.LoadOrStore(username, &userLock{})
		l := v.(*userLock)
		l.mu.Lock()
		if l.released {
			l.mu.Unlock()
			continue
		}
		return func() {
			l.released = true
			a.locks.CompareAndDelete(username, l)
			l.mu.Unlock()
		}
	}
}

// IssueToken clears the user's current token, generates a new one, persists
// it and returns it. The previous token stops validating before the new one
// is stored. On success user.Token holds the new token.
func (a *SessionAuthority) IssueToken(ctx context.Context, user *User) (string, error) {
	if user == nil || user.ID == "" || user.Username == "" {
		return "", fmt.Errorf("issuing token: %w", ErrInvalidInput)
	}

	unlock := a.lock(user.Username)
	defer unlock()

	if err := a.store.ClearTokenByUsername(ctx, user.Username); err != nil {
		return "", fmt.Errorf("clearing previous token: %w", err)
	}
	user.Token = ""

	for attempt := 0; attempt < maxIssueAttempts; attempt++ {
		token, err := a.generate()
		if err != nil {
			return "", err
		}

		err = a.store.SetToken(ctx, user.ID, token)
		if errors.Is(err, ErrTokenConflict) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("storing token: %w", err)
		}

		user.Token = token
		return token, nil
	}
	return "", fmt.Errorf("storing token: %w", ErrTokenConflict)
}

func (a *SessionAuthority) generate() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := io.ReadFull(a.rand, b); err != nil {
		return "", fmt.Errorf("generating token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// ValidateToken returns the user holding token. Empty, malformed and
// unknown tokens yield ErrTokenInvalid. Tokens do not expire.
func (a *SessionAuthority) ValidateToken(ctx context.Context, token string) (*User, error) {
	if !tokenPattern.MatchString(token) {
		return nil, ErrTokenInvalid
	}

	user, err := a.store.FindByToken(ctx, token)
	if errors.Is(err, ErrUserNotFound) {
		return nil, ErrTokenInvalid
	}
	if err != nil {
		return nil, fmt.Errorf("validating token: %w", err)
	}
	return user, nil
}

// Invalidate clears username's token (logout).
func (a *SessionAuthority) Invalidate(ctx context.Context, username string) error {
	unlock := a.lock(username)
	defer unlock()

	if err := a.store.ClearTokenByUsername(ctx, username); err != nil {
		return fmt.Errorf("invalidating session: %w", err)
	}
	return nil
}
