package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Actions recorded in the access log.
const (
	ActionLogin        = "LOGIN"
	ActionLogout       = "LOGOUT"
	ActionRegister     = "REGISTER"
	ActionDoorCommand  = "DOOR_COMMAND"
	ActionAdminUser    = "ADMIN_USER"
	ActionAdminUnblock = "ADMIN_UNBLOCK"
)

// Results recorded in the access log.
const (
	ResultSuccess = "SUCCESS"
	ResultFailure = "FAILURE"
)

// timeLayout is fixed-width so created_at sorts correctly as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Pagination bounds for List.
const (
	defaultLimit = 50
	maxLimit     = 200
)

// AccessLog is a single access event.
type AccessLog struct {
	ID        string         `json:"id"`
	Username  string         `json:"username,omitempty"`
	Action    string         `json:"action"`
	Result    string         `json:"result"`
	ClientIP  string         `json:"client_ip,omitempty"`
	UserAgent string         `json:"user_agent,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Filter controls which access logs to return.
type Filter struct {
	Username string
	Action   string
	Result   string
	ClientIP string
	Since    time.Time
	Limit    int // default 50, max 200
	Offset   int
}

// ListResult contains the paginated access log results.
type ListResult struct {
	Logs   []AccessLog `json:"logs"`
	Total  int         `json:"total"`
	Limit  int         `json:"limit"`
	Offset int         `json:"offset"`
}

// Summary counts events by action and result.
type Summary struct {
	Total    int                       `json:"total"`
	ByAction map[string]map[string]int `json:"by_action"`
}

// Repository defines the interface for access log operations.
type Repository interface {
	Create(ctx context.Context, log *AccessLog) error
	List(ctx context.Context, filter Filter) (*ListResult, error)
	Summarise(ctx context.Context, since time.Time) (*Summary, error)
}

// SQLiteRepository stores access logs in SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new access log repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Create inserts an entry. The ID and CreatedAt are generated if empty.
func (r *SQLiteRepository) Create(ctx context.Context, log *AccessLog) error {
	if log.ID == "" {
		log.ID = "acc-" + uuid.NewString()[:8]
	}
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now().UTC()
	}

	var detailsJSON *string
	if log.Details != nil {
		b, err := json.Marshal(log.Details)
		if err != nil {
			return fmt.Errorf("marshalling access log details: %w", err)
		}
		s := string(b)
		detailsJSON = &s
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO access_logs (id, username, action, result, client_ip, user_agent, details, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		log.ID, nullableString(log.Username), log.Action, log.Result,
		nullableString(log.ClientIP), nullableString(log.UserAgent), detailsJSON,
		log.CreatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("inserting access log: %w", err)
	}
	return nil
}

// nullableString returns nil for empty strings so the column stores NULL.
func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// whereClause builds a parameterised WHERE clause from the filter.
func (f Filter) whereClause() (string, []any) {
	var conditions []string
	var args []any

	add := func(column, value string) {
		if value != "" {
			conditions = append(conditions, column+" = ?")
			args = append(args, value)
		}
	}
	add("username", f.Username)
	add("action", f.Action)
	add("result", f.Result)
	add("client_ip", f.ClientIP)

	if !f.Since.IsZero() {
		conditions = append(conditions, "created_at >= ?")
		args = append(args, f.Since.UTC().Format(timeLayout))
	}

	if len(conditions) == 0 {
		return "", nil
	}
	return "WHERE " + strings.Join(conditions, " AND "), args
}

// List returns access logs matching the filter, most recent first.
func (r *SQLiteRepository) List(ctx context.Context, filter Filter) (*ListResult, error) {
	if filter.Limit <= 0 {
		filter.Limit = defaultLimit
	}
	if filter.Limit > maxLimit {
		filter.Limit = maxLimit
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	where, args := filter.whereClause()

	var total int
	countQuery := "SELECT COUNT(*) FROM access_logs " + where //nolint:gosec // WHERE built from parameterised conditions
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting access logs: %w", err)
	}

	query := "SELECT id, username, action, result, client_ip, user_agent, details, created_at FROM access_logs " + //nolint:gosec // WHERE built from parameterised conditions
		where + " ORDER BY created_at DESC LIMIT ? OFFSET ?"
	rows, err := r.db.QueryContext(ctx, query, append(args, filter.Limit, filter.Offset)...)
	if err != nil {
		return nil, fmt.Errorf("querying access logs: %w", err)
	}
	defer rows.Close()

	logs := []AccessLog{}
	for rows.Next() {
		var (
			log                                     AccessLog
			username, clientIP, userAgent, detailsJ sql.NullString
			createdAt                               string
		)
		if err := rows.Scan(&log.ID, &username, &log.Action, &log.Result,
			&clientIP, &userAgent, &detailsJ, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning access log: %w", err)
		}

		log.Username = username.String
		log.ClientIP = clientIP.String
		log.UserAgent = userAgent.String
		if detailsJ.Valid && detailsJ.String != "" {
			var details map[string]any
			if json.Unmarshal([]byte(detailsJ.String), &details) == nil {
				log.Details = details
			}
		}

		t, err := time.Parse(time.RFC3339Nano, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing access log timestamp %q: %w", createdAt, err)
		}
		log.CreatedAt = t

		logs = append(logs, log)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating access logs: %w", err)
	}

	return &ListResult{
		Logs:   logs,
		Total:  total,
		Limit:  filter.Limit,
		Offset: filter.Offset,
	}, nil
}

// Summarise counts events since the given time grouped by action and result.
// A zero since counts everything.
func (r *SQLiteRepository) Summarise(ctx context.Context, since time.Time) (*Summary, error) {
	where, args := Filter{Since: since}.whereClause()

	rows, err := r.db.QueryContext(ctx,
		"SELECT action, result, COUNT(*) FROM access_logs "+where+" GROUP BY action, result", //nolint:gosec // parameterised
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("summarising access logs: %w", err)
	}
	defer rows.Close()

	summary := &Summary{ByAction: map[string]map[string]int{}}
	for rows.Next() {
		var action, result string
		var n int
		if err := rows.Scan(&action, &result, &n); err != nil {
			return nil, fmt.Errorf("scanning access log summary: %w", err)
		}
		if summary.ByAction[action] == nil {
			summary.ByAction[action] = map[string]int{}
		}
		summary.ByAction[action][result] = n
		summary.Total += n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating access log summary: %w", err)
	}
	return summary, nil
}
