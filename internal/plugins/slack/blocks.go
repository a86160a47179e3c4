package slack

import (
	"fmt"

	slackapi "github.com/slack-go/slack"

	"github.com/triagehub/triagehub-backend/internal/models"
)

// maxSectionChars keeps section text under Slack's 3000-char block limit
// with headroom for markdown expansion.
const maxSectionChars = 2900

// FormatBlocks renders a canonical response as Block Kit blocks: chunked
// section blocks for the content, sections for attachments, a divider and an
// action row for buttons, and a trailing context block for selected metadata.
func FormatBlocks(resp models.Response) []slackapi.Block {
	var blocks []slackapi.Block

	for _, chunk := range splitChunks(resp.Content, maxSectionChars) {
		blocks = append(blocks, slackapi.NewSectionBlock(
			slackapi.NewTextBlockObject(slackapi.MarkdownType, chunk, false, false), nil, nil))
	}

	for _, att := range resp.Attachments {
		text := att.Text
		if att.Title != "" {
			text = fmt.Sprintf("*%s*\n%s", att.Title, att.Text)
		}
		for _, chunk := range splitChunks(text, maxSectionChars) {
			blocks = append(blocks, slackapi.NewSectionBlock(
				slackapi.NewTextBlockObject(slackapi.MarkdownType, chunk, false, false), nil, nil))
		}
	}

	if len(resp.Actions) > 0 {
		blocks = append(blocks, slackapi.NewDividerBlock())
		var buttons []slackapi.BlockElement
		for _, action := range resp.Actions {
			btn := slackapi.NewButtonBlockElement(action.ID, resp.Metadata["plan_date"],
				slackapi.NewTextBlockObject(slackapi.PlainTextType, action.Label, false, false))
			switch action.Style {
			case "primary":
				btn.Style = slackapi.StylePrimary
			case "danger":
				btn.Style = slackapi.StyleDanger
			}
			buttons = append(buttons, btn)
		}
		blocks = append(blocks, slackapi.NewActionBlock("triage_actions", buttons...))
	}

	if planDate, ok := resp.Metadata["plan_date"]; ok {
		blocks = append(blocks, slackapi.NewContextBlock("triage_context",
			slackapi.NewTextBlockObject(slackapi.MarkdownType, fmt.Sprintf("Plan date: %s", planDate), false, false)))
	}
	return blocks
}

// splitChunks splits text on rune boundaries into pieces of at most max
// characters, preferring newline breaks.
func splitChunks(text string, max int) []string {
	if text == "" {
		return nil
	}
	runes := []rune(text)
	var chunks []string
	for len(runes) > max {
		cut := max
		for i := max; i > max/2; i-- {
			if runes[i-1] == '\n' {
				cut = i
				break
			}
		}
		chunks = append(chunks, string(runes[:cut]))
		runes = runes[cut:]
	}
	chunks = append(chunks, string(runes))
	return chunks
}
