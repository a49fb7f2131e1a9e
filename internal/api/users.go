package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/doorgate/internal/audit"
	"github.com/nerrad567/doorgate/internal/auth"
)

type createUserRequest struct {
	Username string    `json:"username"`
	Password string    `json:"password"`
	Role     auth.Role `json:"role"`
}

type setPasswordRequest struct {
	Password string `json:"password"`
}

// userSummary adds the session flag to the public user fields.
type userSummary struct {
	auth.User
	HasSession bool `json:"has_session"`
}

// handleListUsers returns all accounts.
func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.users.List(r.Context())
	if err != nil {
		s.logger.Error("list users failed", "error", err)
		writeInternalError(w, "failed to list users")
		return
	}

	out := make([]userSummary, 0, len(users))
	for _, u := range users {
		out = append(out, userSummary{User: u, HasSession: u.HasSession()})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"users": out,
		"count": len(out),
	})
}

// handleCreateUser creates an account with any role. Role defaults to USER.
func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Role == "" {
		req.Role = auth.RoleUser
	}

	user, err := s.coordinator.CreateAccount(r.Context(), req.Username, req.Password, req.Role)
	if err != nil {
		s.writeAuthError(w, "failed to create user", err)
		return
	}

	s.recordAdmin(r, "create", user)
	writeJSON(w, http.StatusCreated, user)
}

func (s *Server) handleActivateUser(w http.ResponseWriter, r *http.Request) {
	s.setStatus(w, r, auth.StatusActive, "activate")
}

func (s *Server) handleDeactivateUser(w http.ResponseWriter, r *http.Request) {
	s.setStatus(w, r, auth.StatusInactive, "deactivate")
}

func (s *Server) setStatus(w http.ResponseWriter, r *http.Request, status auth.Status, op string) {
	actor := userFromContext(r.Context())
	user, err := s.coordinator.SetStatus(r.Context(), actor.ID, chi.URLParam(r, "id"), status)
	if err != nil {
		s.writeAuthError(w, "failed to "+op+" user", err)
		return
	}
	s.recordAdmin(r, op, user)
	writeJSON(w, http.StatusOK, user)
}

func (s *Server) handlePromoteUser(w http.ResponseWriter, r *http.Request) {
	s.setRole(w, r, auth.RoleAdmin, "promote")
}

func (s *Server) handleDemoteUser(w http.ResponseWriter, r *http.Request) {
	s.setRole(w, r, auth.RoleUser, "demote")
}

func (s *Server) setRole(w http.ResponseWriter, r *http.Request, role auth.Role, op string) {
	actor := userFromContext(r.Context())
	user, err := s.coordinator.SetRole(r.Context(), actor.ID, chi.URLParam(r, "id"), role)
	if err != nil {
		s.writeAuthError(w, "failed to "+op+" user", err)
		return
	}
	s.recordAdmin(r, op, user)
	writeJSON(w, http.StatusOK, user)
}

// handleRegenerateToken replaces the user's session with a new token,
// returned once in the response.
func (s *Server) handleRegenerateToken(w http.ResponseWriter, r *http.Request) {
	user, token, err := s.coordinator.RegenerateToken(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeAuthError(w, "failed to regenerate token", err)
		return
	}
	s.recordAdmin(r, "regenerate-token", user)
	writeJSON(w, http.StatusOK, map[string]any{
		"user":  user,
		"token": token,
	})
}

// handleSetPassword re-encodes the user's password.
func (s *Server) handleSetPassword(w http.ResponseWriter, r *http.Request) {
	var req setPasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	id := chi.URLParam(r, "id")
	if err := s.coordinator.SetPassword(r.Context(), id, req.Password); err != nil {
		s.writeAuthError(w, "failed to set password", err)
		return
	}
	s.recordAdmin(r, "set-password", &auth.User{ID: id})
	writeJSON(w, http.StatusOK, map[string]string{"message": "password updated"})
}

// recordAdmin logs a successful admin action against target.
func (s *Server) recordAdmin(r *http.Request, op string, target *auth.User) {
	actor := userFromContext(r.Context())
	entry := s.accessEntry(r, actor.Username)
	entry.Action = audit.ActionAdminUser
	entry.Result = audit.ResultSuccess
	entry.Details = map[string]any{
		"operation": op,
		"target_id": target.ID,
	}
	if target.Username != "" {
		entry.Details["target"] = target.Username
	}
	s.events.Access(entry)
	s.logger.Info("admin action", "actor", actor.Username, "operation", op, "target_id", target.ID)
}
