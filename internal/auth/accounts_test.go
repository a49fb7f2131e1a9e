package auth

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateAccount(t *testing.T) {
	s := newTestStack(t)

	user, err := s.coord.CreateAccount(t.Context(), "erin", "pass123", RoleAdmin)
	require.NoError(t, err)
	assert.Equal(t, RoleAdmin, user.Role)
	assert.Equal(t, StatusActive, user.Status)
	assert.Equal(t, EncodingSHA256, ClassifyEncoding(user.Credential))

	tests := []struct {
		name     string
		username string
		password string
		role     Role
		wantErr  error
	}{
		{"duplicate", "erin", "pass123", RoleUser, ErrUsernameExists},
		{"bad username", "bad name!", "pass123", RoleUser, ErrInvalidUsername},
		{"short password", "frank", "12345", RoleUser, ErrPasswordTooShort},
		{"unknown role", "frank", "pass123", Role("ROOT"), ErrInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.coord.CreateAccount(t.Context(), tt.username, tt.password, tt.role)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestRegister(t *testing.T) {
	s := newTestStack(t)

	user, token, err := s.coord.Register(t.Context(), RegisterRequest{
		Username: "gina", Password: "pass123", ConfirmPassword: "pass123",
	}, "10.0.1.1")
	require.NoError(t, err)
	assert.Equal(t, RoleUser, user.Role)

	got, err := s.sessions.ValidateToken(t.Context(), token)
	require.NoError(t, err)
	assert.Equal(t, user.ID, got.ID)

	res := s.coord.Login(t.Context(), "gina", "pass123", "10.0.1.1")
	assert.Equal(t, OutcomeSuccess, res.Outcome)
}

func TestRegister_Validation(t *testing.T) {
	s := newTestStack(t)
	seedTestUser(t, s.db, "taken", s.mustEncode(t, "pass123"), RoleUser, StatusActive)

	tests := []struct {
		name    string
		req     RegisterRequest
		wantErr error
	}{
		{"empty username", RegisterRequest{Password: "pass123", ConfirmPassword: "pass123"}, ErrInvalidUsername},
		{"short password", RegisterRequest{Username: "hank", Password: "123", ConfirmPassword: "123"}, ErrPasswordTooShort},
		{"mismatch", RegisterRequest{Username: "hank", Password: "pass123", ConfirmPassword: "pass124"}, ErrPasswordMismatch},
		{"taken", RegisterRequest{Username: "taken", Password: "pass123", ConfirmPassword: "pass123"}, ErrUsernameExists},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := s.coord.Register(t.Context(), tt.req, "10.0.1.2")
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	assert.Equal(t, 5, s.tracker.RemainingAttempts("10.0.1.2"), "validation failures are not login attempts")
}

func TestRegister_BlockedAddress(t *testing.T) {
	s := newTestStack(t)
	for range 5 {
		s.tracker.RecordFailure("10.0.1.3")
	}

	_, _, err := s.coord.Register(t.Context(), RegisterRequest{
		Username: "ivan", Password: "pass123", ConfirmPassword: "pass123",
	}, "10.0.1.3")
	assert.ErrorIs(t, err, ErrIPBlocked)
}

func TestSetPassword(t *testing.T) {
	s := newTestStack(t)
	user := seedTestUser(t, s.db, "jane", "cGFzczEyMw==", RoleUser, StatusActive)

	require.NoError(t, s.coord.SetPassword(t.Context(), user.ID, "new-secret"))
	assert.ErrorIs(t, s.coord.SetPassword(t.Context(), user.ID, "x"), ErrPasswordTooShort)
	assert.ErrorIs(t, s.coord.SetPassword(t.Context(), "usr-missing", "new-secret"), ErrUserNotFound)

	res := s.coord.Login(t.Context(), "jane", "new-secret", "10.0.1.4")
	assert.Equal(t, OutcomeSuccess, res.Outcome)
}

func TestSetStatus(t *testing.T) {
	s := newTestStack(t)
	admin := seedTestUser(t, s.db, "admin", s.mustEncode(t, "pass123"), RoleAdmin, StatusActive)
	seedTestUser(t, s.db, "kate", s.mustEncode(t, "pass123"), RoleUser, StatusActive)

	login := s.coord.Login(t.Context(), "kate", "pass123", "10.0.1.5")
	require.Equal(t, OutcomeSuccess, login.Outcome)

	user, err := s.coord.SetStatus(t.Context(), admin.ID, login.User.ID, StatusInactive)
	require.NoError(t, err)
	assert.Equal(t, StatusInactive, user.Status)

	_, err = s.sessions.ValidateToken(t.Context(), login.Token)
	assert.ErrorIs(t, err, ErrTokenInvalid, "deactivation ends the session")

	assert.Equal(t, OutcomeAccountDisabled, s.coord.Login(t.Context(), "kate", "pass123", "10.0.1.5").Outcome)

	_, err = s.coord.SetStatus(t.Context(), admin.ID, login.User.ID, StatusActive)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSuccess, s.coord.Login(t.Context(), "kate", "pass123", "10.0.1.5").Outcome)

	_, err = s.coord.SetStatus(t.Context(), admin.ID, admin.ID, StatusInactive)
	assert.ErrorIs(t, err, ErrSelfModification)

	_, err = s.coord.SetStatus(t.Context(), admin.ID, "usr-missing", StatusActive)
	assert.ErrorIs(t, err, ErrUserNotFound)

	_, err = s.coord.SetStatus(t.Context(), admin.ID, login.User.ID, Status("SUSPENDED"))
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestSetRole(t *testing.T) {
	s := newTestStack(t)
	admin := seedTestUser(t, s.db, "admin", s.mustEncode(t, "pass123"), RoleAdmin, StatusActive)
	user := seedTestUser(t, s.db, "liam", s.mustEncode(t, "pass123"), RoleUser, StatusActive)

	promoted, err := s.coord.SetRole(t.Context(), admin.ID, user.ID, RoleAdmin)
	require.NoError(t, err)
	assert.True(t, promoted.IsAdmin())

	demoted, err := s.coord.SetRole(t.Context(), admin.ID, user.ID, RoleUser)
	require.NoError(t, err)
	assert.False(t, demoted.IsAdmin())

	_, err = s.coord.SetRole(t.Context(), admin.ID, admin.ID, RoleUser)
	assert.ErrorIs(t, err, ErrSelfModification)
}

// interleavedLoginRepo signs the user in again right after the first
// GetByID, the way a concurrent login would land between an admin's read
// and write.
type interleavedLoginRepo struct {
	UserRepository
	once  sync.Once
	login func()
}

func (r *interleavedLoginRepo) GetByID(ctx context.Context, id string) (*User, error) {
	u, err := r.UserRepository.GetByID(ctx, id)
	r.once.Do(r.login)
	return u, err
}

func TestAdminUpdatesKeepNewestToken(t *testing.T) {
	tests := []struct {
		name   string
		update func(c *Coordinator, actorID, userID string) error
	}{
		{"set role", func(c *Coordinator, actorID, userID string) error {
			_, err := c.SetRole(context.Background(), actorID, userID, RoleAdmin)
			return err
		}},
		{"activate", func(c *Coordinator, actorID, userID string) error {
			_, err := c.SetStatus(context.Background(), actorID, userID, StatusActive)
			return err
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestStack(t)
			admin := seedTestUser(t, s.db, "admin", s.mustEncode(t, "pass123"), RoleAdmin, StatusActive)
			seedTestUser(t, s.db, "olga", s.mustEncode(t, "pass123"), RoleUser, StatusActive)

			first := s.coord.Login(t.Context(), "olga", "pass123", "10.0.2.1")
			require.Equal(t, OutcomeSuccess, first.Outcome)

			var newest string
			repo := &interleavedLoginRepo{UserRepository: s.repo}
			repo.login = func() {
				res := s.coord.Login(context.Background(), "olga", "pass123", "10.0.2.2")
				require.Equal(t, OutcomeSuccess, res.Outcome)
				newest = res.Token
			}
			coord, err := NewCoordinator(repo, s.codec, s.tracker, s.sessions, CoordinatorConfig{}, nil)
			require.NoError(t, err)

			require.NoError(t, tt.update(coord, admin.ID, first.User.ID))
			require.NotEmpty(t, newest)

			_, err = s.sessions.ValidateToken(t.Context(), first.Token)
			assert.ErrorIs(t, err, ErrTokenInvalid, "superseded token must stay dead")

			holder, err := s.sessions.ValidateToken(t.Context(), newest)
			require.NoError(t, err, "newest token must stay live")
			assert.Equal(t, "olga", holder.Username)
		})
	}
}

func TestSetRole_KeepsMigratedCredential(t *testing.T) {
	s := newTestStack(t)
	admin := seedTestUser(t, s.db, "admin", s.mustEncode(t, "pass123"), RoleAdmin, StatusActive)
	user := seedTestUser(t, s.db, "pete", "cGFzczEyMw==", RoleUser, StatusActive)

	repo := &interleavedLoginRepo{UserRepository: s.repo}
	repo.login = func() {
		s.coord.Login(context.Background(), "pete", "pass123", "10.0.2.3")
	}
	coord, err := NewCoordinator(repo, s.codec, s.tracker, s.sessions, CoordinatorConfig{}, nil)
	require.NoError(t, err)

	_, err = coord.SetRole(t.Context(), admin.ID, user.ID, RoleAdmin)
	require.NoError(t, err)

	stored, err := s.repo.GetByID(t.Context(), user.ID)
	require.NoError(t, err)
	assert.Equal(t, EncodingSHA256, ClassifyEncoding(stored.Credential), "migration not undone")
	assert.Equal(t, RoleAdmin, stored.Role)
}

func TestRegenerateToken(t *testing.T) {
	s := newTestStack(t)
	seedTestUser(t, s.db, "mia", s.mustEncode(t, "pass123"), RoleUser, StatusActive)
	inactive := seedTestUser(t, s.db, "ned", s.mustEncode(t, "pass123"), RoleUser, StatusInactive)

	login := s.coord.Login(t.Context(), "mia", "pass123", "10.0.1.6")
	require.Equal(t, OutcomeSuccess, login.Outcome)

	_, token, err := s.coord.RegenerateToken(t.Context(), login.User.ID)
	require.NoError(t, err)
	assert.NotEqual(t, login.Token, token)

	_, err = s.sessions.ValidateToken(t.Context(), login.Token)
	assert.ErrorIs(t, err, ErrTokenInvalid)

	_, _, err = s.coord.RegenerateToken(t.Context(), inactive.ID)
	assert.ErrorIs(t, err, ErrUserInactive)
}

func TestCredentialReport(t *testing.T) {
	s := newTestStack(t)
	seedTestUser(t, s.db, "a", s.mustEncode(t, "pass123"), RoleUser, StatusActive)
	seedTestUser(t, s.db, "b", "cGFzczEyMw==", RoleUser, StatusActive)
	seedTestUser(t, s.db, "c", "dGVzdA==", RoleUser, StatusActive)

	report, err := s.coord.CredentialReport(t.Context())
	require.NoError(t, err)
	assert.Equal(t, map[Encoding]int{
		EncodingSHA256:       1,
		EncodingLegacyBase64: 2,
		EncodingPlainText:    0,
	}, report)
}

func TestMigrateCredentials(t *testing.T) {
	s := newTestStack(t)
	current := seedTestUser(t, s.db, "sam", s.mustEncode(t, "pass123"), RoleUser, StatusActive)
	seedTestUser(t, s.db, "tina", "cGFzczEyMw==", RoleUser, StatusActive)
	seedTestUser(t, s.db, "ugo", "hunter2!", RoleAdmin, StatusActive)
	seedTestUser(t, s.db, "vera", "", RoleUser, StatusActive)

	report, err := s.coord.MigrateCredentials(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 2, report.Migrated)
	assert.Equal(t, 1, report.AlreadyCurrent)
	assert.Equal(t, 0, report.Skipped)
	assert.Equal(t, 1, report.Errors)

	results := make(map[string]CredentialMigration)
	for _, a := range report.Accounts {
		results[a.Username] = a
	}
	assert.Equal(t, CredentialMigration{Username: "sam", From: EncodingSHA256, Result: MigrationCurrent}, results["sam"])
	assert.Equal(t, EncodingLegacyBase64, results["tina"].From)
	assert.Equal(t, MigrationMigrated, results["tina"].Result)
	assert.Equal(t, EncodingPlainText, results["ugo"].From)
	assert.Equal(t, MigrationMigrated, results["ugo"].Result)
	assert.Equal(t, MigrationError, results["vera"].Result)
	assert.NotEmpty(t, results["vera"].Error)

	stored, err := s.repo.GetByID(t.Context(), current.ID)
	require.NoError(t, err)
	assert.Equal(t, current.Credential, stored.Credential, "current credentials are not rewritten")

	// Base64 values are decoded before encoding; plain text is encoded as stored.
	assert.Equal(t, OutcomeSuccess, s.coord.Login(t.Context(), "tina", "pass123", "10.0.3.1").Outcome)
	assert.Equal(t, OutcomeSuccess, s.coord.Login(t.Context(), "ugo", "hunter2!", "10.0.3.2").Outcome)

	report2, err := s.coord.CredentialReport(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 3, report2[EncodingSHA256])
	assert.Equal(t, 0, report2[EncodingLegacyBase64])
	assert.Equal(t, 1, report2[EncodingPlainText], "the failed empty credential remains")
}

// concurrentPasswordRepo changes a password between List and the
// credential write, as an admin SetPassword racing the migration would.
type concurrentPasswordRepo struct {
	UserRepository
	change func()
}

func (r *concurrentPasswordRepo) List(ctx context.Context) ([]User, error) {
	users, err := r.UserRepository.List(ctx)
	r.change()
	return users, err
}

func TestMigrateCredentials_LeavesConcurrentChangeAlone(t *testing.T) {
	s := newTestStack(t)
	user := seedTestUser(t, s.db, "walt", "old-plain-password", RoleUser, StatusActive)

	repo := &concurrentPasswordRepo{UserRepository: s.repo}
	repo.change = func() {
		require.NoError(t, s.coord.SetPassword(context.Background(), user.ID, "brand-new-pass"))
	}
	coord, err := NewCoordinator(repo, s.codec, s.tracker, s.sessions, CoordinatorConfig{}, nil)
	require.NoError(t, err)

	report, err := coord.MigrateCredentials(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Skipped)

	assert.Equal(t, OutcomeSuccess, s.coord.Login(t.Context(), "walt", "brand-new-pass", "10.0.3.3").Outcome)
}

func TestUserRepository_SwapCredential(t *testing.T) {
	db := testDB(t)
	repo := NewUserRepository(db)
	user := seedTestUser(t, db, "xena", "first", RoleUser, StatusActive)

	swapped, err := repo.SwapCredential(t.Context(), user.ID, "stale", "second")
	require.NoError(t, err)
	assert.False(t, swapped)

	swapped, err = repo.SwapCredential(t.Context(), user.ID, "first", "second")
	require.NoError(t, err)
	assert.True(t, swapped)

	stored, err := repo.GetByID(t.Context(), user.ID)
	require.NoError(t, err)
	assert.Equal(t, "second", stored.Credential)
}
