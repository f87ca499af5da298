package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/vbus/internal/bus"
)

// healthCheckTimeout bounds each dependency check on /health.
const healthCheckTimeout = 2 * time.Second

// buildRouter creates the router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/metrics", s.handleMetrics)

		r.Route("/bus", func(r chi.Router) {
			r.Get("/", s.handleGetBus)
			r.Get("/attributes", s.handleListAttributes(bus.KindBus))
			r.Get("/attributes/{attr}", s.handleReadAttribute(bus.KindBus))
			r.With(s.authMiddleware).Put("/attributes/{attr}", s.handleWriteAttribute(bus.KindBus))
		})

		r.Route("/devices", func(r chi.Router) {
			r.Get("/", s.handleListDevices)
			r.Route("/{name}", func(r chi.Router) {
				r.Get("/", s.handleGetDevice)
				r.Get("/attributes", s.handleListAttributes(bus.KindDevice))
				r.Get("/attributes/{attr}", s.handleReadAttribute(bus.KindDevice))
				r.With(s.authMiddleware).Put("/attributes/{attr}", s.handleWriteAttribute(bus.KindDevice))
			})
		})

		r.Route("/drivers", func(r chi.Router) {
			r.Get("/", s.handleListDrivers)
			r.Route("/{name}", func(r chi.Router) {
				r.Get("/", s.handleGetDriver)
				r.Get("/attributes", s.handleListAttributes(bus.KindDriver))
				r.Get("/attributes/{attr}", s.handleReadAttribute(bus.KindDriver))
				r.With(s.authMiddleware).Put("/attributes/{attr}", s.handleWriteAttribute(bus.KindDriver))
			})
		})

		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)
			r.Post("/rescan", s.handleRescan)
			r.Post("/hotplug/{name}", s.handleHotplug)
			r.Get("/audit", s.handleListAuditLogs)
		})

		r.Get("/events", s.handleListEvents)
		r.Get("/events/ws", s.handleWebSocket)
	})

	return r
}

// handleHealth reports server status and the status of each dependency.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	checks := make(map[string]string, len(s.checks))

	for name, c := range s.checks {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		err := c.HealthCheck(ctx)
		cancel()
		if err != nil {
			checks[name] = err.Error()
			status = "degraded"
			continue
		}
		checks[name] = "ok"
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":  status,
		"version": s.version,
		"bus":     s.bus.Name(),
		"checks":  checks,
	})
}
