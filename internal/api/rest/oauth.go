package rest

import (
	"errors"
	"fmt"
	"html"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/triagehub/triagehub-backend/internal/oauth"
)

// OAuthHandler serves the installation endpoints. Callback pages are plain
// HTML and never contain token material.
type OAuthHandler struct {
	flows  map[string]*oauth.Flow
	logger *slog.Logger
}

// NewOAuthHandler creates the handler over per-plugin flows.
func NewOAuthHandler(flows map[string]*oauth.Flow, logger *slog.Logger) *OAuthHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &OAuthHandler{flows: flows, logger: logger}
}

// Authorize handles GET /plugins/{plugin}/oauth/authorize: issues a state
// and redirects the installer to the platform consent page.
func (h *OAuthHandler) Authorize(w http.ResponseWriter, r *http.Request) {
	flow, ok := h.flows[mux.Vars(r)["plugin"]]
	if !ok {
		respondError(w, http.StatusNotFound, "unknown plugin")
		return
	}
	authURL, _, err := flow.AuthorizeURL()
	if err != nil {
		h.logger.Error("issuing authorize URL failed", "err", err)
		respondError(w, http.StatusInternalServerError, "could not start the installation")
		return
	}
	http.Redirect(w, r, authURL, http.StatusFound)
}

// Callback handles GET /plugins/{plugin}/oauth/callback.
func (h *OAuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	flow, ok := h.flows[mux.Vars(r)["plugin"]]
	if !ok {
		respondError(w, http.StatusNotFound, "unknown plugin")
		return
	}
	q := r.URL.Query()

	if errCode := q.Get("error"); errCode != "" {
		msg := "Authorization was cancelled."
		if errCode != "access_denied" {
			msg = "Authorization failed. Please try again."
		}
		h.renderPage(w, http.StatusOK, "Installation not completed", msg)
		return
	}
	if !flow.VerifyState(q.Get("state")) {
		h.renderPage(w, http.StatusUnauthorized, "Installation failed",
			"This installation link has expired or was already used. Please start over.")
		return
	}

	tokens, err := flow.Exchange(r.Context(), q.Get("code"))
	if err != nil {
		h.renderPage(w, http.StatusOK, "Installation failed", userMessage(err))
		return
	}
	inst, err := flow.Store(r.Context(), tokens)
	if err != nil {
		h.renderPage(w, http.StatusOK, "Installation failed", userMessage(err))
		return
	}

	name := inst.Metadata["team_name"]
	if name == "" {
		name = inst.ChannelID
	}
	h.renderPage(w, http.StatusOK, "Installation complete",
		fmt.Sprintf("Workspace %s is ready. Head back to your chat client and try /triage help.", name))
}

func userMessage(err error) string {
	var oe *oauth.OAuthError
	if errors.As(err, &oe) {
		return oe.Message
	}
	return "Authorization failed. Please try again."
}

func (h *OAuthHandler) renderPage(w http.ResponseWriter, status int, title, body string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	fmt.Fprintf(w, "<!doctype html><html><head><title>%s</title></head><body><h1>%s</h1><p>%s</p></body></html>",
		html.EscapeString(title), html.EscapeString(title), html.EscapeString(body))
}
