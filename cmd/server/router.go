package main

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/admitly/advisor-api/internal/api"
	apiMiddleware "github.com/admitly/advisor-api/internal/api/middleware"
)

// setupRouter creates and configures the application router with all routes
// and middleware.
func (app *application) setupRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(apiMiddleware.TraceMiddleware)

	askHandler := api.NewAskHandler(app.queue, app.logger)

	// The worker probe is a full subprocess round trip, so it gets the same
	// budget as a regular request plus queueing slack.
	probeTimeout := time.Duration(app.config.Worker.RequestTimeoutSeconds+5) * time.Second
	healthHandler := api.NewHealthHandler(app.bridge, probeTimeout, app.logger)

	r.Route("/api", func(r chi.Router) {
		r.Post("/ask", askHandler.Ask)
		r.Post("/jobs", askHandler.SubmitJob)
		r.Get("/jobs/{id}", askHandler.GetJob)
	})

	r.Get("/health", healthHandler.Live)
	r.Get("/health/worker", healthHandler.Worker)
	r.Method(http.MethodGet, "/metrics", app.collector.Handler())

	return r
}
