package slack

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/slack-go/slack/slackevents"
)

func TestParseSlashCommand(t *testing.T) {
	form := url.Values{
		"team_id":      {"T777"},
		"user_id":      {"U123"},
		"channel_id":   {"C42"},
		"response_url": {"https://hooks.slack.test/respond"},
		"text":         {"plan date=2026-08-24 closure_rate=0.8 extra"},
	}

	msg := ParseSlashCommand(form)
	assert.Equal(t, "T777", msg.ChannelID)
	assert.Equal(t, "U123", msg.UserID)
	assert.Equal(t, "plan", msg.Command)
	assert.Equal(t, "2026-08-24", msg.Parameters["date"])
	assert.Equal(t, "0.8", msg.Parameters["closure_rate"])
	assert.Equal(t, "extra", msg.Parameters["arg_0"])
	assert.Equal(t, "C42", msg.Metadata["slack_channel_id"])
	assert.Equal(t, "https://hooks.slack.test/respond", msg.Metadata["response_url"])
}

func TestParseSlashCommandEmptyTextIsHelp(t *testing.T) {
	msg := ParseSlashCommand(url.Values{"team_id": {"T777"}, "user_id": {"U123"}, "text": {"  "}})
	assert.Equal(t, "help", msg.Command)
}

func TestParseSlashCommandBareTokensNumbered(t *testing.T) {
	msg := ParseSlashCommand(url.Values{"text": {"reject too much work today"}})
	assert.Equal(t, "reject", msg.Command)
	assert.Equal(t, "too", msg.Parameters["arg_0"])
	assert.Equal(t, "much", msg.Parameters["arg_1"])
	assert.Equal(t, "today", msg.Parameters["arg_3"])
}

func TestParseInteractiveComponent(t *testing.T) {
	payload := []byte(`{
		"type": "block_actions",
		"team": {"id": "T777"},
		"user": {"id": "U123"},
		"channel": {"id": "C42"},
		"response_url": "https://hooks.slack.test/respond",
		"message": {"ts": "1724500000.000100"},
		"actions": [{"action_id": "approve_plan", "value": "2026-08-24"}]
	}`)

	msg, err := ParseInteractiveComponent(payload)
	require.NoError(t, err)
	assert.Equal(t, "approve", msg.Command)
	assert.Equal(t, "plan", msg.Parameters["action_arg"])
	assert.Equal(t, "2026-08-24", msg.Parameters["plan_date"])
	assert.Equal(t, "T777", msg.ChannelID)
	assert.Equal(t, "U123", msg.UserID)
	assert.Equal(t, "C42", msg.Metadata["slack_channel_id"])
	assert.Equal(t, "1724500000.000100", msg.Metadata["message_ts"])
}

func TestParseInteractiveComponentRejectsMalformed(t *testing.T) {
	_, err := ParseInteractiveComponent([]byte(`{not json`))
	assert.Error(t, err)

	_, err = ParseInteractiveComponent([]byte(`{"type":"block_actions","actions":[]}`))
	assert.Error(t, err)
}

func TestParseAppMention(t *testing.T) {
	ev := &slackevents.AppMentionEvent{
		User:            "U123",
		Channel:         "C42",
		Text:            "<@B042> plan date=2026-08-24",
		TimeStamp:       "1724500000.000100",
		ThreadTimeStamp: "",
	}

	msg := ParseAppMention("T777", ev)
	assert.Equal(t, "plan", msg.Command)
	assert.Equal(t, "2026-08-24", msg.Parameters["date"])
	assert.Equal(t, "T777", msg.ChannelID)
	assert.NotContains(t, msg.Content, "<@B042>")
	assert.Equal(t, "1724500000.000100", msg.ThreadID, "replies stay in the thread")
}

func TestParseDirectMessage(t *testing.T) {
	ev := &slackevents.MessageEvent{
		User:    "U123",
		Channel: "D99",
		Text:    "status",
	}

	msg := ParseDirectMessage("T777", ev)
	assert.Equal(t, "status", msg.Command)
	assert.Equal(t, "D99", msg.Metadata["slack_channel_id"])
	assert.Empty(t, msg.ThreadID)
}
