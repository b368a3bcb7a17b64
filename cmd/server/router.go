package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/zcanic/zcanic-server/internal/api"
	apiMiddleware "github.com/zcanic/zcanic-server/internal/api/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// setupRouter creates and configures the application router with all routes and middleware.
func (app *application) setupRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(apiMiddleware.TraceMiddleware(app.logger))

	authMiddleware := apiMiddleware.NewAuthMiddleware(app.jwtService)
	taskHandler := api.NewTaskHandler(app.status, app.logger)
	chatHandler := api.NewChatHandler(app.submissions, app.logger)
	fortuneHandler := api.NewFortuneHandler(app.submissions, app.logger)

	r.Route("/api", func(r chi.Router) {
		r.Use(authMiddleware.Authenticate)

		r.Get("/tasks/{id}", taskHandler.GetTask)
		r.Post("/tasks/batch", taskHandler.BatchGetTasks)

		r.Post("/chat/sessions", chatHandler.CreateSession)
		r.Get("/chat/sessions/{id}/messages", chatHandler.ListMessages)
		r.Post("/chat/sessions/{id}/messages", chatHandler.PostMessage)

		r.Post("/fortunes/today", fortuneHandler.RequestToday)
	})

	r.Handle("/metrics", promhttp.HandlerFor(app.registry, promhttp.HandlerOpts{}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("OK")); err != nil {
			app.logger.Error("failed to write health check response", "error", err)
		}
	})

	return otelhttp.NewHandler(r, "zcanic-server", otelhttp.WithFilter(func(req *http.Request) bool {
		return req.URL.Path != "/health" && req.URL.Path != "/metrics"
	}))
}
