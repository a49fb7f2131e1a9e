package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/doorgate/internal/audit"
	"github.com/nerrad567/doorgate/internal/device"
)

type doorCommandResponse struct {
	Success bool                 `json:"success"`
	Message string               `json:"message"`
	Result  device.CommandResult `json:"result"`
}

func (s *Server) handleDoorOpen(w http.ResponseWriter, r *http.Request) {
	s.runDoorCommand(w, r, device.CommandOpenDoor)
}

func (s *Server) handleDoorClose(w http.ResponseWriter, r *http.Request) {
	s.runDoorCommand(w, r, device.CommandCloseDoor)
}

func (s *Server) handleDoorTest(w http.ResponseWriter, r *http.Request) {
	s.runDoorCommand(w, r, device.CommandTestConnection)
}

// handleDoorCommand forwards an arbitrary controller command.
func (s *Server) handleDoorCommand(w http.ResponseWriter, r *http.Request) {
	s.runDoorCommand(w, r, chi.URLParam(r, "cmd"))
}

// runDoorCommand sends cmd to the controller. A controller that is
// unreachable or does not answer 200 yields 502 with the result attached.
func (s *Server) runDoorCommand(w http.ResponseWriter, r *http.Request, cmd string) {
	user := userFromContext(r.Context())

	result, err := s.relay.Execute(r.Context(), cmd, user.Username)
	if err != nil {
		if errors.Is(err, device.ErrInvalidCommand) {
			writeValidationError(w, err.Error())
			return
		}
		s.logger.Error("door command failed", "command", cmd, "error", err)
		writeInternalError(w, "failed to send command")
		return
	}

	entry := s.accessEntry(r, user.Username)
	entry.Action = audit.ActionDoorCommand
	entry.Result = audit.ResultSuccess
	entry.Details = map[string]any{
		"command":     result.Command,
		"status_code": result.StatusCode,
		"duration_ms": result.Duration.Milliseconds(),
	}
	if !result.Success {
		entry.Result = audit.ResultFailure
		entry.Details["error"] = result.Error
	}
	s.events.Access(entry)

	if !result.Success {
		writeJSON(w, http.StatusBadGateway, doorCommandResponse{
			Success: false,
			Message: "door controller did not accept the command",
			Result:  result,
		})
		return
	}
	writeJSON(w, http.StatusOK, doorCommandResponse{
		Success: true,
		Message: "command delivered",
		Result:  result,
	})
}

// handleDoorStatus checks the controller and returns the last command.
func (s *Server) handleDoorStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.relay.Status(r.Context()))
}
