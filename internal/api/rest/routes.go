package rest

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/triagehub/triagehub-backend/internal/api/middleware"
)

// RouterDeps carries the handlers the router mounts.
type RouterDeps struct {
	Webhook *WebhookHandler
	OAuth   *OAuthHandler
	Health  *HealthHandler
	Logger  *slog.Logger
}

// NewRouter builds the HTTP mux with the standard middleware chain.
func NewRouter(deps RouterDeps) http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/plugins/health", deps.Health.Health).Methods(http.MethodGet)
	r.HandleFunc("/plugins/{plugin}/webhook", deps.Webhook.Handle).Methods(http.MethodPost)
	r.HandleFunc("/plugins/{plugin}/oauth/authorize", deps.OAuth.Authorize).Methods(http.MethodGet)
	r.HandleFunc("/plugins/{plugin}/oauth/callback", deps.OAuth.Callback).Methods(http.MethodGet)

	r.Use(middleware.RequestID)
	r.Use(middleware.StructuredLog)
	r.Use(middleware.Recover(deps.Logger))
	return r
}
