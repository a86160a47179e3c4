package slack

import (
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	slackapi "github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"

	"github.com/triagehub/triagehub-backend/internal/models"
)

var botMentionPattern = regexp.MustCompile(`<@[A-Z0-9]+>`)

// ParseSlashCommand converts a slash-command form payload into the canonical
// message. The first token of the text is the command; `key=value` tokens
// become parameters and bare tokens become arg_0, arg_1, ...
func ParseSlashCommand(form url.Values) models.Message {
	msg := models.Message{
		ChannelID:  form.Get("team_id"),
		UserID:     form.Get("user_id"),
		Content:    form.Get("text"),
		Parameters: map[string]string{},
		Metadata:   map[string]string{},
	}
	if ch := form.Get("channel_id"); ch != "" {
		msg.Metadata["slack_channel_id"] = ch
	}
	if ru := form.Get("response_url"); ru != "" {
		msg.Metadata["response_url"] = ru
	}
	parseCommandText(form.Get("text"), &msg)
	return msg
}

// parseCommandText fills Command and Parameters from free text.
func parseCommandText(text string, msg *models.Message) {
	tokens := strings.Fields(text)
	if len(tokens) == 0 {
		msg.Command = "help"
		return
	}
	msg.Command = strings.ToLower(tokens[0])
	argN := 0
	for _, tok := range tokens[1:] {
		if key, value, ok := strings.Cut(tok, "="); ok && key != "" {
			msg.Parameters[key] = value
			continue
		}
		msg.Parameters[fmt.Sprintf("arg_%d", argN)] = tok
		argN++
	}
}

// ParseInteractiveComponent converts a block-actions payload (the JSON under
// the form's `payload` field) into the canonical message. The action ID's
// prefix before the first underscore is the command.
func ParseInteractiveComponent(payload []byte) (models.Message, error) {
	var cb slackapi.InteractionCallback
	if err := json.Unmarshal(payload, &cb); err != nil {
		return models.Message{}, fmt.Errorf("parsing interactive payload: %w", err)
	}
	if len(cb.ActionCallback.BlockActions) == 0 {
		return models.Message{}, fmt.Errorf("interactive payload carries no actions")
	}
	action := cb.ActionCallback.BlockActions[0]

	msg := models.Message{
		ChannelID:  cb.Team.ID,
		UserID:     cb.User.ID,
		Parameters: map[string]string{},
		Metadata:   map[string]string{},
	}
	command, rest, _ := strings.Cut(action.ActionID, "_")
	msg.Command = command
	if rest != "" {
		msg.Parameters["action_arg"] = rest
	}
	if action.Value != "" {
		// Button values embed the plan date the button was rendered for.
		msg.Parameters["plan_date"] = action.Value
	}
	if cb.Channel.ID != "" {
		msg.Metadata["slack_channel_id"] = cb.Channel.ID
	}
	if cb.ResponseURL != "" {
		msg.Metadata["response_url"] = cb.ResponseURL
	}
	if cb.Message.Timestamp != "" {
		msg.Metadata["message_ts"] = cb.Message.Timestamp
	}
	return msg, nil
}

// ParseAppMention converts an app_mention event into the canonical message,
// stripping the bot mention and reading the rest as slash-command text.
func ParseAppMention(teamID string, ev *slackevents.AppMentionEvent) models.Message {
	text := strings.TrimSpace(botMentionPattern.ReplaceAllString(ev.Text, ""))
	msg := models.Message{
		ChannelID:  teamID,
		UserID:     ev.User,
		Content:    text,
		Parameters: map[string]string{},
		Metadata:   map[string]string{"slack_channel_id": ev.Channel},
	}
	if ev.ThreadTimeStamp != "" {
		msg.ThreadID = ev.ThreadTimeStamp
	} else {
		msg.ThreadID = ev.TimeStamp
	}
	parseCommandText(text, &msg)
	return msg
}

// ParseDirectMessage converts an IM message event into the canonical message.
func ParseDirectMessage(teamID string, ev *slackevents.MessageEvent) models.Message {
	text := strings.TrimSpace(botMentionPattern.ReplaceAllString(ev.Text, ""))
	msg := models.Message{
		ChannelID:  teamID,
		UserID:     ev.User,
		Content:    text,
		Parameters: map[string]string{},
		Metadata:   map[string]string{"slack_channel_id": ev.Channel},
	}
	if ev.ThreadTimeStamp != "" {
		msg.ThreadID = ev.ThreadTimeStamp
	}
	parseCommandText(text, &msg)
	return msg
}
