package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/nerrad567/doorgate/internal/audit"
	"github.com/nerrad567/doorgate/internal/auth"
	"github.com/nerrad567/doorgate/internal/infrastructure/logging"
)

// Landing pages returned after sign-in.
const (
	landingAdmin = "/dashboard"
	landingUser  = "/control"
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type registerRequest struct {
	Username        string `json:"username"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirm_password"`
}

// sessionResponse is returned by login and registration.
type sessionResponse struct {
	Token   string     `json:"token"`
	Role    auth.Role  `json:"role"`
	IsAdmin bool       `json:"is_admin"`
	Landing string     `json:"landing"`
	User    *auth.User `json:"user"`
	Message string     `json:"message,omitempty"`
}

// loginFailure extends the error envelope with lockout counters.
type loginFailure struct {
	Error
	Outcome                 auth.Outcome `json:"outcome"`
	RemainingAttempts       int          `json:"remaining_attempts"`
	RemainingLockoutMinutes int          `json:"remaining_lockout_minutes,omitempty"`
}

func landingFor(user *auth.User) string {
	if user.IsAdmin() {
		return landingAdmin
	}
	return landingUser
}

// handleLogin runs the login protocol for the caller's address.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	ip := clientIP(r)
	result := s.coordinator.Login(r.Context(), req.Username, req.Password, ip)

	s.events.Login(result.Outcome, s.accessEntry(r, req.Username))

	if result.Outcome == auth.OutcomeSuccess {
		s.logger.Info("login succeeded",
			"username", result.User.Username,
			"client_ip", ip,
			"token", logging.Redact(result.Token),
		)
		writeJSON(w, http.StatusOK, sessionResponse{
			Token:   result.Token,
			Role:    result.User.Role,
			IsAdmin: result.IsAdmin,
			Landing: landingFor(result.User),
			User:    result.User,
			Message: result.Message,
		})
		return
	}

	s.logger.Info("login refused", "username", req.Username, "client_ip", ip, "outcome", result.Outcome)

	status, code := http.StatusUnauthorized, ErrCodeUnauthorized
	switch result.Outcome {
	case auth.OutcomeAccountDisabled:
		status, code = http.StatusForbidden, ErrCodeForbidden
	case auth.OutcomeBlocked:
		status, code = http.StatusTooManyRequests, ErrCodeTooManyRequests
		w.Header().Set("Retry-After", strconv.Itoa(result.RemainingLockoutMinutes*60))
	}
	writeJSON(w, status, loginFailure{
		Error:                   Error{Status: status, Code: code, Message: result.Message},
		Outcome:                 result.Outcome,
		RemainingAttempts:       result.RemainingAttempts,
		RemainingLockoutMinutes: result.RemainingLockoutMinutes,
	})
}

// handleRegister creates a USER account and signs it in.
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	user, token, err := s.coordinator.Register(r.Context(), auth.RegisterRequest{
		Username:        req.Username,
		Password:        req.Password,
		ConfirmPassword: req.ConfirmPassword,
	}, clientIP(r))

	entry := s.accessEntry(r, req.Username)
	entry.Action = audit.ActionRegister
	if err != nil {
		entry.Result = audit.ResultFailure
		entry.Details = map[string]any{"reason": err.Error()}
		s.events.Access(entry)

		if errors.Is(err, auth.ErrIPBlocked) {
			minutes := s.tracker.RemainingLockoutMinutes(clientIP(r))
			w.Header().Set("Retry-After", strconv.Itoa(minutes*60))
			writeTooManyRequests(w, "too many failed attempts, try again in "+strconv.Itoa(minutes)+" minutes")
			return
		}
		s.writeAuthError(w, "registration failed", err)
		return
	}

	entry.Result = audit.ResultSuccess
	s.events.Access(entry)
	s.logger.Info("account registered", "username", user.Username, "client_ip", entry.ClientIP)

	writeJSON(w, http.StatusCreated, sessionResponse{
		Token:   token,
		Role:    user.Role,
		IsAdmin: user.IsAdmin(),
		Landing: landingFor(user),
		User:    user,
		Message: "Registration successful",
	})
}

// handleLockoutStatus reports the caller's own lockout counters.
func (s *Server) handleLockoutStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.tracker.Status(clientIP(r)))
}

// handleLogout clears the caller's session token.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	user := userFromContext(r.Context())

	if err := s.coordinator.Logout(r.Context(), user.Username); err != nil {
		s.logger.Error("logout failed", "username", user.Username, "error", err)
		writeInternalError(w, "failed to end session")
		return
	}

	entry := s.accessEntry(r, user.Username)
	entry.Action = audit.ActionLogout
	entry.Result = audit.ResultSuccess
	s.events.Access(entry)

	writeJSON(w, http.StatusOK, map[string]string{"message": "Logged out"})
}

// handleMe returns the authenticated user.
func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	user := userFromContext(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"user":     user,
		"is_admin": user.IsAdmin(),
		"landing":  landingFor(user),
	})
}

// accessEntry starts an access log entry with the request's client details.
func (s *Server) accessEntry(r *http.Request, username string) *audit.AccessLog {
	return &audit.AccessLog{
		Username:  username,
		ClientIP:  clientIP(r),
		UserAgent: r.UserAgent(),
	}
}

// writeAuthError maps auth sentinel errors to HTTP responses.
func (s *Server) writeAuthError(w http.ResponseWriter, action string, err error) {
	switch {
	case errors.Is(err, auth.ErrInvalidUsername):
		writeValidationError(w, "username must be 1-64 characters of letters, digits, '.', '_' or '-'")
	case errors.Is(err, auth.ErrPasswordTooShort):
		writeValidationError(w, "password is too short")
	case errors.Is(err, auth.ErrPasswordMismatch):
		writeValidationError(w, "password confirmation does not match")
	case errors.Is(err, auth.ErrInvalidInput):
		writeValidationError(w, err.Error())
	case errors.Is(err, auth.ErrUsernameExists):
		writeConflict(w, "username already exists")
	case errors.Is(err, auth.ErrUserNotFound):
		writeNotFound(w, "user not found")
	case errors.Is(err, auth.ErrUserInactive):
		writeConflict(w, "user account is inactive")
	case errors.Is(err, auth.ErrSelfModification):
		writeForbidden(w, "cannot deactivate or demote your own account")
	default:
		s.logger.Error(action, "error", err)
		writeInternalError(w, action)
	}
}
