package rest

import (
	"encoding/json"
	"net/http"

	slackapi "github.com/slack-go/slack"

	"github.com/triagehub/triagehub-backend/internal/models"
	"github.com/triagehub/triagehub-backend/internal/plugins/slack"
)

// respondJSON writes v as the JSON response body.
func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// respondError sends a minimal error body. Auth failures deliberately carry
// no detail beyond the status.
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// platformResponse is the wire shape sent back to the chat platform for an
// inbound webhook. Error-typed responses render as ephemeral text so the
// platform shows them to the caller without retrying.
type platformResponse struct {
	ResponseType string           `json:"response_type"`
	Text         string           `json:"text"`
	Blocks       []slackapi.Block `json:"blocks,omitempty"`
}

// respondPlatform writes the response in the platform's slash-command shape.
// Buttons and attachments ride along as Block Kit blocks so an interactive
// round trip can start directly from the webhook reply; the plain text field
// stays populated as the notification fallback.
func respondPlatform(w http.ResponseWriter, resp models.Response) {
	out := platformResponse{Text: resp.Content}
	switch resp.Type {
	case models.ResponseInChannel:
		out.ResponseType = "in_channel"
	default:
		out.ResponseType = "ephemeral"
	}
	if len(resp.Actions) > 0 || len(resp.Attachments) > 0 {
		out.Blocks = slack.FormatBlocks(resp)
	}
	respondJSON(w, http.StatusOK, out)
}
