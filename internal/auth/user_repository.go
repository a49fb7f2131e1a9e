package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"
)

// UserRepository defines the interface for user account persistence.
// Implementations enforce unique usernames and unique non-empty tokens.
type UserRepository interface {
	Create(ctx context.Context, user *User) error
	GetByID(ctx context.Context, id string) (*User, error)
	FindByUsername(ctx context.Context, username string) (*User, error)
	FindByToken(ctx context.Context, token string) (*User, error)
	List(ctx context.Context) ([]User, error)
	Save(ctx context.Context, user *User) error
	UpdateCredential(ctx context.Context, id, credential string) error
	SwapCredential(ctx context.Context, id, old, credential string) (bool, error)
	UpdateStatus(ctx context.Context, id string, status Status) error
	UpdateRole(ctx context.Context, id string, role Role) error
	SetToken(ctx context.Context, id, token string) error
	ClearTokenByUsername(ctx context.Context, username string) error
	TouchLastLogin(ctx context.Context, id string, at time.Time) error
	Count(ctx context.Context) (int, error)
}

// SQLiteUserRepository implements UserRepository using SQLite.
type SQLiteUserRepository struct {
	db *sql.DB
}

// NewUserRepository creates a new SQLite-backed user repository.
func NewUserRepository(db *sql.DB) *SQLiteUserRepository {
	return &SQLiteUserRepository{db: db}
}

const userColumns = "id, username, credential, status, role, token, created_at, updated_at, last_login_at"

// Create inserts a new account. The ID is generated if empty; Status and
// Role default to ACTIVE and USER.
func (r *SQLiteUserRepository) Create(ctx context.Context, user *User) error {
	if user.ID == "" {
		user.ID = "usr-" + uuid.NewString()[:8]
	}
	if user.Status == "" {
		user.Status = StatusActive
	}
	if user.Role == "" {
		user.Role = RoleUser
	}

	now := time.Now().UTC().Truncate(time.Second)
	user.CreatedAt = now
	user.UpdatedAt = now

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO users (id, username, credential, status, role, token, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		user.ID, user.Username, user.Credential, string(user.Status), string(user.Role),
		nullString(user.Token), now.Format(time.RFC3339), now.Format(time.RFC3339),
	)
	if err != nil {
		return mapUniqueViolation(err, "creating user")
	}
	return nil
}

// GetByID retrieves a user by their unique ID.
func (r *SQLiteUserRepository) GetByID(ctx context.Context, id string) (*User, error) {
	return r.getUser(ctx, "SELECT "+userColumns+" FROM users WHERE id = ?", id)
}

// FindByUsername retrieves a user by exact username.
func (r *SQLiteUserRepository) FindByUsername(ctx context.Context, username string) (*User, error) {
	return r.getUser(ctx, "SELECT "+userColumns+" FROM users WHERE username = ?", username)
}

// FindByToken retrieves the user currently holding token.
func (r *SQLiteUserRepository) FindByToken(ctx context.Context, token string) (*User, error) {
	if token == "" {
		return nil, ErrUserNotFound
	}
	return r.getUser(ctx, "SELECT "+userColumns+" FROM users WHERE token = ?", token)
}

// List returns all users ordered by creation date.
func (r *SQLiteUserRepository) List(ctx context.Context) ([]User, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT "+userColumns+" FROM users ORDER BY created_at ASC, username ASC")
	if err != nil {
		return nil, fmt.Errorf("listing users: %w", err)
	}
	defer rows.Close()

	users := []User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating users: %w", err)
	}
	return users, nil
}

// Save writes the mutable fields of user (credential, status, role, token).
func (r *SQLiteUserRepository) Save(ctx context.Context, user *User) error {
	now := time.Now().UTC().Truncate(time.Second)

	result, err := r.db.ExecContext(ctx,
		`UPDATE users SET credential = ?, status = ?, role = ?, token = ?, updated_at = ? WHERE id = ?`,
		user.Credential, string(user.Status), string(user.Role), nullString(user.Token),
		now.Format(time.RFC3339), user.ID,
	)
	if err != nil {
		return mapUniqueViolation(err, "saving user")
	}
	if err := requireRow(result); err != nil {
		return err
	}
	user.UpdatedAt = now
	return nil
}

// UpdateCredential replaces a user's stored credential.
func (r *SQLiteUserRepository) UpdateCredential(ctx context.Context, id, credential string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE users SET credential = ?, updated_at = ? WHERE id = ?`,
		credential, time.Now().UTC().Format(time.RFC3339), id,
	)
	if err != nil {
		return fmt.Errorf("updating credential: %w", err)
	}
	return requireRow(result)
}

// SwapCredential replaces the stored credential only if it still equals old
// and reports whether the row was changed.
func (r *SQLiteUserRepository) SwapCredential(ctx context.Context, id, old, credential string) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE users SET credential = ?, updated_at = ? WHERE id = ? AND credential = ?`,
		credential, time.Now().UTC().Format(time.RFC3339), id, old,
	)
	if err != nil {
		return false, fmt.Errorf("swapping credential: %w", err)
	}
	rows, _ := result.RowsAffected() //nolint:errcheck // always succeeds on SQLite
	return rows == 1, nil
}

// UpdateStatus changes only the account status.
func (r *SQLiteUserRepository) UpdateStatus(ctx context.Context, id string, status Status) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE users SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), time.Now().UTC().Format(time.RFC3339), id,
	)
	if err != nil {
		return fmt.Errorf("updating status: %w", err)
	}
	return requireRow(result)
}

// UpdateRole changes only the account role.
func (r *SQLiteUserRepository) UpdateRole(ctx context.Context, id string, role Role) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE users SET role = ?, updated_at = ? WHERE id = ?`,
		string(role), time.Now().UTC().Format(time.RFC3339), id,
	)
	if err != nil {
		return fmt.Errorf("updating role: %w", err)
	}
	return requireRow(result)
}

// SetToken assigns token to the user. A token held by another user yields
// ErrTokenConflict.
func (r *SQLiteUserRepository) SetToken(ctx context.Context, id, token string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE users SET token = ?, updated_at = ? WHERE id = ?`,
		nullString(token), time.Now().UTC().Format(time.RFC3339), id,
	)
	if err != nil {
		return mapUniqueViolation(err, "setting token")
	}
	return requireRow(result)
}

// ClearTokenByUsername removes the user's token. Unknown usernames are a no-op.
func (r *SQLiteUserRepository) ClearTokenByUsername(ctx context.Context, username string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE users SET token = NULL, updated_at = ? WHERE username = ? AND token IS NOT NULL`,
		time.Now().UTC().Format(time.RFC3339), username,
	)
	if err != nil {
		return fmt.Errorf("clearing token: %w", err)
	}
	return nil
}

// TouchLastLogin records a successful login time.
func (r *SQLiteUserRepository) TouchLastLogin(ctx context.Context, id string, at time.Time) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE users SET last_login_at = ? WHERE id = ?`,
		at.UTC().Format(time.RFC3339), id,
	)
	if err != nil {
		return fmt.Errorf("recording last login: %w", err)
	}
	return requireRow(result)
}

// Count returns the total number of user accounts.
func (r *SQLiteUserRepository) Count(ctx context.Context) (int, error) {
	var count int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM users").Scan(&count); err != nil {
		return 0, fmt.Errorf("counting users: %w", err)
	}
	return count, nil
}

func (r *SQLiteUserRepository) getUser(ctx context.Context, query string, args ...any) (*User, error) {
	u, err := scanUser(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		return nil, err
	}
	return u, nil
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanUser(s scanner) (*User, error) {
	var (
		u                    User
		status, role         string
		token, lastLogin     sql.NullString
		createdAt, updatedAt string
	)

	err := s.Scan(&u.ID, &u.Username, &u.Credential, &status, &role, &token, &createdAt, &updatedAt, &lastLogin)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning user: %w", err)
	}

	u.Status = Status(status)
	u.Role = Role(role)
	u.Token = token.String
	u.CreatedAt, _ = time.Parse(time.RFC3339, createdAt) //nolint:errcheck // format is controlled
	u.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt) //nolint:errcheck // format is controlled
	if lastLogin.Valid {
		if t, err := time.Parse(time.RFC3339, lastLogin.String); err == nil {
			u.LastLoginAt = &t
		}
	}
	return &u, nil
}

// nullString converts an empty string to SQL NULL so UNIQUE columns admit
// any number of unset rows.
func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func requireRow(result sql.Result) error {
	rows, _ := result.RowsAffected() //nolint:errcheck // always succeeds on SQLite
	if rows == 0 {
		return ErrUserNotFound
	}
	return nil
}

// mapUniqueViolation converts SQLite UNIQUE failures into the matching
// sentinel error.
func mapUniqueViolation(err error, op string) error {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
		// The driver reports the failing column only in the message.
		msg := sqliteErr.Error()
		switch {
		case strings.Contains(msg, "users.token"):
			return ErrTokenConflict
		case strings.Contains(msg, "users.username"):
			return ErrUsernameExists
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}
