package api

import (
	"net/http"

	"flowspec/internal/event"
	"flowspec/internal/logging"
	"flowspec/internal/skill"
	"flowspec/internal/store"
	"flowspec/internal/temporal"
)

type RoutesConfig struct {
	AuthToken      string
	WebhookSecret  string
	ArchiveDir     string
	AllowedOrigins []string
}

// RegisterRoutes wires every HTTP surface: the REST API, the host webhook
// ingress, and the websocket log stream. The webhook endpoint deliberately
// skips bearer auth; its requests are authenticated by HMAC signature.
func RegisterRoutes(mux *http.ServeMux, dataStore *store.Store, skills *skill.Store, runner *temporal.Runner, eventBus *event.Bus[store.Event], config RoutesConfig, logger *logging.Logger) {
	rest := &RestHandler{
		Store:      dataStore,
		Skills:     skills,
		Runner:     runner,
		Logger:     logger,
		ArchiveDir: config.ArchiveDir,
	}

	mux.Handle("/hooks/github", &WebhookHandler{
		Store:    dataStore,
		Signaler: runner,
		Secret:   config.WebhookSecret,
		Logger:   logger,
	})

	mux.Handle("/ws/logs", securityHeadersMiddleware(cacheControlNoStore, &LogsHandler{
		Logger:         logger,
		AuthToken:      config.AuthToken,
		AllowedOrigins: config.AllowedOrigins,
	}))

	mux.Handle("/ws/runs", securityHeadersMiddleware(cacheControlNoStore, &RunsHandler{
		Store:          dataStore,
		Bus:            eventBus,
		AuthToken:      config.AuthToken,
		AllowedOrigins: config.AllowedOrigins,
		Logger:         logger,
	}))

	mux.Handle("/api/status", restHandler(config.AuthToken, logger, rest.handleStatus))
	mux.Handle("/api/solutions", restHandler(config.AuthToken, logger, rest.handleSolutions))
	mux.Handle("/api/solutions/", restHandler(config.AuthToken, logger, rest.handleSolution))
	mux.Handle("/api/uploads/", restHandler(config.AuthToken, logger, rest.handleUpload))
	mux.Handle("/api/skills", restHandler(config.AuthToken, logger, rest.handleSkills))
	mux.Handle("/api/logs", restHandler(config.AuthToken, logger, rest.handleLogs))
	mux.Handle("/api/metrics", restHandler(config.AuthToken, logger, rest.handleMetrics))
	mux.Handle("/api/", securityHeadersMiddleware(cacheControlNoStore, http.NotFoundHandler()))

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		setSecurityHeaders(w, cacheControlNoStore)
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("flowspec ok\n"))
	})
}
