package auth

import (
	"database/sql"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/doorgate/internal/infrastructure/config"
	"github.com/nerrad567/doorgate/internal/infrastructure/database"
	"github.com/nerrad567/doorgate/migrations"
)

// testDB creates a temporary SQLite database with the real migrations applied.
// The database file is removed when the test completes.
func testDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := database.Open(t.Context(), config.DatabaseConfig{
		Path:        filepath.Join(t.TempDir(), "auth-test.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup

	if err := db.Migrate(t.Context(), migrations.FS); err != nil {
		t.Fatalf("applying migrations: %v", err)
	}
	return db.DB
}

// seedTestUser inserts a user with the given stored credential and returns it.
func seedTestUser(t *testing.T, db *sql.DB, username, credential string, role Role, status Status) *User {
	t.Helper()

	user := &User{
		Username:   username,
		Credential: credential,
		Role:       role,
		Status:     status,
	}
	if err := NewUserRepository(db).Create(t.Context(), user); err != nil {
		t.Fatalf("creating test user %s: %v", username, err)
	}
	return user
}

// fakeClock is a manually advanced time source.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// newTestTracker returns a tracker driven by clock.
func newTestTracker(cfg LockoutConfig, clock *fakeClock) *LockoutTracker {
	tr := NewLockoutTracker(cfg)
	tr.now = clock.Now
	return tr
}

// testStack bundles a coordinator and its collaborators over a temp database.
type testStack struct {
	db       *sql.DB
	repo     *SQLiteUserRepository
	codec    *Codec
	tracker  *LockoutTracker
	sessions *SessionAuthority
	coord    *Coordinator
	clock    *fakeClock
}

func newTestStack(t *testing.T) *testStack {
	t.Helper()

	db := testDB(t)
	clock := newFakeClock()
	s := &testStack{
		db:      db,
		repo:    NewUserRepository(db),
		codec:   NewCodec(DefaultSaltLength),
		tracker: newTestTracker(LockoutConfig{MaxAttempts: 5, Duration: time.Hour}, clock),
		clock:   clock,
	}
	s.sessions = NewSessionAuthority(s.repo)

	coord, err := NewCoordinator(s.repo, s.codec, s.tracker, s.sessions, CoordinatorConfig{MinPasswordLength: 6}, nil)
	if err != nil {
		t.Fatalf("NewCoordinator() error = %v", err)
	}
	s.coord = coord
	return s
}

func (s *testStack) mustEncode(t *testing.T, password string) string {
	t.Helper()
	encoded, err := s.codec.Encode(password)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	return encoded
}
