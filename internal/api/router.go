package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/echonet-heatercooler/internal/platform"
)

// healthCheckTimeout bounds each component check of the health route.
const healthCheckTimeout = 2 * time.Second

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Route("/appliances", func(r chi.Router) {
			r.Get("/", s.handleListAppliances)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetAppliance)
				r.Patch("/", s.handleUpdateAppliance)
				r.Post("/refresh", s.handleRefreshAppliance)
				r.Get("/history", s.handleApplianceHistory)
			})
		})
	})

	return r
}

// HealthResponse is the body of GET /api/v1/health.
type HealthResponse struct {
	Status     string            `json:"status"`
	Version    string            `json:"version"`
	Platform   platform.Health   `json:"platform"`
	Components map[string]string `json:"components,omitempty"`
}

// handleHealth reports the platform state and every component check.
// Any failing component makes the answer 503 "degraded".
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:   "ok",
		Version:  s.version,
		Platform: s.platform.Health(),
	}

	if len(s.checks) > 0 {
		resp.Components = make(map[string]string, len(s.checks))
		for name, check := range s.checks {
			ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
			err := check.HealthCheck(ctx)
			cancel()
			if err != nil {
				resp.Components[name] = err.Error()
				resp.Status = "degraded"
				continue
			}
			resp.Components[name] = "ok"
		}
	}

	status := http.StatusOK
	if resp.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}
