package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// healthCheckTimeout bounds each dependency check in /health.
const healthCheckTimeout = 2 * time.Second

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	if s.cfg.TrustProxy {
		r.Use(middleware.RealIP)
	}
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)
	if s.limiter != nil {
		r.Use(s.rateLimitMiddleware)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Route("/auth", func(r chi.Router) {
			r.Post("/login", s.handleLogin)
			r.Post("/register", s.handleRegister)
			r.Get("/lockout", s.handleLockoutStatus)

			r.Group(func(r chi.Router) {
				r.Use(s.authMiddleware)
				r.Post("/logout", s.handleLogout)
				r.Get("/me", s.handleMe)
			})
		})

		r.Route("/door", func(r chi.Router) {
			r.Use(s.authMiddleware)
			r.Post("/open", s.handleDoorOpen)
			r.Post("/close", s.handleDoorClose)
			r.Post("/test", s.handleDoorTest)
			r.Post("/command/{cmd}", s.handleDoorCommand)
			r.Get("/status", s.handleDoorStatus)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(s.authMiddleware)
			r.Use(s.requireAdmin)

			r.Route("/users", func(r chi.Router) {
				r.Get("/", s.handleListUsers)
				r.Post("/", s.handleCreateUser)

				r.Route("/{id}", func(r chi.Router) {
					r.Post("/activate", s.handleActivateUser)
					r.Post("/deactivate", s.handleDeactivateUser)
					r.Post("/promote", s.handlePromoteUser)
					r.Post("/demote", s.handleDemoteUser)
					r.Post("/regenerate-token", s.handleRegenerateToken)
					r.Put("/password", s.handleSetPassword)
				})
			})

			r.Get("/credentials/report", s.handleCredentialReport)
			r.Post("/credentials/migrate", s.handleMigrateCredentials)
			r.Get("/security/stats", s.handleSecurityStats)
			r.Post("/security/unblock", s.handleUnblock)
			r.Get("/access-logs", s.handleListAccessLogs)
		})
	})

	return r
}

// handleHealth reports the server and its dependencies. A failing database
// returns 503; failing optional dependencies only mark the status degraded.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	code := http.StatusOK
	components := map[string]string{}

	check := func(name string, hc HealthChecker) bool {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		defer cancel()
		if err := hc.HealthCheck(ctx); err != nil {
			components[name] = err.Error()
			return false
		}
		components[name] = "ok"
		return true
	}

	if s.database != nil && !check("database", s.database) {
		status = "unhealthy"
		code = http.StatusServiceUnavailable
	}
	for name, hc := range s.optional {
		if !check(name, hc) && status == "ok" {
			status = "degraded"
		}
	}

	writeJSON(w, code, map[string]any{
		"status":     status,
		"version":    s.version,
		"components": components,
	})
}
