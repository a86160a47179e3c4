// Package rest is the HTTP edge: the webhook gateway, the OAuth endpoints,
// and the service health probe. The gateway authenticates before parsing and
// parses before routing; adapter failures surface as HTTP 200 with an
// error-typed body so the platform does not retry.
package rest

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/slack-go/slack/slackevents"

	"github.com/triagehub/triagehub-backend/internal/models"
	"github.com/triagehub/triagehub-backend/internal/plugin"
	slackadapter "github.com/triagehub/triagehub-backend/internal/plugins/slack"
)

const (
	signatureHeader = "X-Slack-Signature"
	timestampHeader = "X-Slack-Request-Timestamp"

	// replayWindow bounds accepted timestamp drift in either direction.
	replayWindow = 5 * time.Minute

	// maxBodyBytes caps webhook payload size.
	maxBodyBytes = 1 << 20

	// routeTimeout is the end-to-end budget for handling one webhook.
	routeTimeout = 25 * time.Second
)

// SecretProvider resolves the signing secret for a plugin. False means the
// plugin has no webhook surface configured.
type SecretProvider func(pluginName string) (string, bool)

// WebhookHandler terminates inbound platform webhooks.
type WebhookHandler struct {
	registry *plugin.Registry
	secrets  SecretProvider
	logger   *slog.Logger
	now      func() time.Time
}

// NewWebhookHandler creates the gateway handler over the registry.
func NewWebhookHandler(registry *plugin.Registry, secrets SecretProvider, logger *slog.Logger) *WebhookHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebhookHandler{registry: registry, secrets: secrets, logger: logger, now: time.Now}
}

// Handle processes POST /plugins/{plugin}/webhook.
func (h *WebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	pluginName := mux.Vars(r)["plugin"]

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		respondError(w, http.StatusBadRequest, "could not read request body")
		return
	}

	// Authentication first: nothing in the payload is trusted until the
	// signature checks out. A failed check returns 401 with no detail and
	// logs nothing about the presented signature.
	if !h.verifySignature(pluginName, r, body) {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	msg, special, ok := h.parsePayload(r, body)
	if !ok {
		respondError(w, http.StatusBadRequest, "unrecognized payload")
		return
	}
	if special != nil {
		respondJSON(w, http.StatusOK, special)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), routeTimeout)
	defer cancel()
	resp := h.registry.RouteMessage(ctx, pluginName, msg)
	respondPlatform(w, resp)
}

func (h *WebhookHandler) verifySignature(pluginName string, r *http.Request, body []byte) bool {
	secret, ok := h.secrets(pluginName)
	if !ok || secret == "" {
		return false
	}

	ts := r.Header.Get(timestampHeader)
	unix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return false
	}
	drift := h.now().Sub(time.Unix(unix, 0))
	if drift > replayWindow || drift < -replayWindow {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "v0:%s:%s", ts, body)
	expected := "v0=" + hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(r.Header.Get(signatureHeader)))
}

// parsePayload converts the verified body into a canonical message, or a
// special direct answer (the URL-verification challenge). ok=false means the
// envelope is malformed.
func (h *WebhookHandler) parsePayload(r *http.Request, body []byte) (msg models.Message, special map[string]string, ok bool) {
	contentType := r.Header.Get("Content-Type")
	switch {
	case strings.HasPrefix(contentType, "application/x-www-form-urlencoded"):
		form, err := url.ParseQuery(string(body))
		if err != nil {
			return models.Message{}, nil, false
		}
		if payload := form.Get("payload"); payload != "" {
			m, err := slackadapter.ParseInteractiveComponent([]byte(payload))
			if err != nil {
				return models.Message{}, nil, false
			}
			return m, nil, true
		}
		return slackadapter.ParseSlashCommand(form), nil, true

	case strings.HasPrefix(contentType, "application/json"):
		return h.parseEventEnvelope(body)

	default:
		return models.Message{}, nil, false
	}
}

func (h *WebhookHandler) parseEventEnvelope(body []byte) (models.Message, map[string]string, bool) {
	event, err := slackevents.ParseEvent(json.RawMessage(body), slackevents.OptionNoVerifyToken())
	if err != nil {
		return models.Message{}, nil, false
	}

	switch event.Type {
	case slackevents.URLVerification:
		var challenge slackevents.ChallengeResponse
		if err := json.Unmarshal(body, &challenge); err != nil {
			return models.Message{}, nil, false
		}
		return models.Message{}, map[string]string{"challenge": challenge.Challenge}, true

	case slackevents.CallbackEvent:
		teamID := event.TeamID
		switch inner := event.InnerEvent.Data.(type) {
		case *slackevents.AppMentionEvent:
			return slackadapter.ParseAppMention(teamID, inner), nil, true
		case *slackevents.MessageEvent:
			if inner.BotID != "" {
				// Our own messages echo back; dropping them here prevents loops.
				return models.Message{}, map[string]string{"ok": "ignored"}, true
			}
			return slackadapter.ParseDirectMessage(teamID, inner), nil, true
		default:
			// Unknown inner events are acknowledged, not errored: the
			// platform would retry a non-200.
			return models.Message{}, map[string]string{"ok": "ignored"}, true
		}

	default:
		return models.Message{}, nil, false
	}
}
