package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/nerrad567/doorgate/internal/audit"
	"github.com/nerrad567/doorgate/internal/auth"
)

type unblockRequest struct {
	IP string `json:"ip"`
}

// handleCredentialReport counts users per stored credential encoding.
func (s *Server) handleCredentialReport(w http.ResponseWriter, r *http.Request) {
	report, err := s.coordinator.CredentialReport(r.Context())
	if err != nil {
		s.logger.Error("credential report failed", "error", err)
		writeInternalError(w, "failed to build credential report")
		return
	}

	total := 0
	counts := make(map[string]int, len(report))
	for enc, n := range report {
		counts[enc.String()] = n
		total += n
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"encodings": counts,
		"total":     total,
		"pending":   total - report[auth.EncodingSHA256],
	})
}

// handleMigrateCredentials re-encodes every legacy credential and reports
// the outcome per account.
func (s *Server) handleMigrateCredentials(w http.ResponseWriter, r *http.Request) {
	report, err := s.coordinator.MigrateCredentials(r.Context())
	if err != nil {
		s.logger.Error("credential migration failed", "error", err)
		writeInternalError(w, "failed to migrate credentials")
		return
	}

	actor := userFromContext(r.Context())
	entry := s.accessEntry(r, actor.Username)
	entry.Action = audit.ActionAdminUser
	entry.Result = audit.ResultSuccess
	if report.Errors > 0 {
		entry.Result = audit.ResultFailure
	}
	entry.Details = map[string]any{
		"operation": "migrate_credentials",
		"migrated":  report.Migrated,
		"errors":    report.Errors,
	}
	s.events.Access(entry)

	writeJSON(w, http.StatusOK, report)
}

// handleSecurityStats returns a lockout tracker snapshot plus access counts
// for the last 24 hours.
func (s *Server) handleSecurityStats(w http.ResponseWriter, r *http.Request) {
	summary, err := s.accessLogs.Summarise(r.Context(), time.Now().Add(-24*time.Hour))
	if err != nil {
		s.logger.Error("access log summary failed", "error", err)
		writeInternalError(w, "failed to summarise access logs")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"lockout":      s.tracker.StatsSnapshot(),
		"access_24h":   summary,
		"generated_at": time.Now().UTC(),
	})
}

// handleUnblock clears an address from the lockout tracker.
func (s *Server) handleUnblock(w http.ResponseWriter, r *http.Request) {
	var req unblockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	req.IP = strings.TrimSpace(req.IP)
	if req.IP == "" {
		writeValidationError(w, "ip is required")
		return
	}

	removed := s.tracker.Unblock(req.IP)

	actor := userFromContext(r.Context())
	entry := s.accessEntry(r, actor.Username)
	entry.Action = audit.ActionAdminUnblock
	entry.Result = audit.ResultSuccess
	entry.Details = map[string]any{"ip": req.IP, "was_tracked": removed}
	s.events.Access(entry)
	s.logger.Info("address unblocked", "actor", actor.Username, "ip", req.IP, "was_tracked", removed)

	writeJSON(w, http.StatusOK, map[string]any{
		"ip":          req.IP,
		"was_tracked": removed,
	})
}

// handleListAccessLogs returns access logs with optional filters:
// ?username=&action=&result=&ip=&since=RFC3339&limit=&offset=
func (s *Server) handleListAccessLogs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := audit.Filter{
		Username: q.Get("username"),
		Action:   strings.ToUpper(q.Get("action")),
		Result:   strings.ToUpper(q.Get("result")),
		ClientIP: q.Get("ip"),
	}

	if v := q.Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeValidationError(w, "since must be an RFC 3339 timestamp")
			return
		}
		filter.Since = t
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeValidationError(w, "limit must be an integer")
			return
		}
		filter.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeValidationError(w, "offset must be an integer")
			return
		}
		filter.Offset = n
	}

	result, err := s.accessLogs.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("list access logs failed", "error", err)
		writeInternalError(w, "failed to list access logs")
		return
	}
	writeJSON(w, http.StatusOK, result)
}
