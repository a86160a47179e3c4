package slack

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	slackapi "github.com/slack-go/slack"

	"github.com/triagehub/triagehub-backend/internal/models"
)

func TestFormatBlocksSplitsLongContent(t *testing.T) {
	long := strings.Repeat("line of plan text\n", 400) // well past one section

	blocks := FormatBlocks(models.Response{Content: long, Type: models.ResponseMessage})
	require.Greater(t, len(blocks), 1)
	for _, b := range blocks {
		section, ok := b.(*slackapi.SectionBlock)
		require.True(t, ok)
		assert.LessOrEqual(t, len([]rune(section.Text.Text)), maxSectionChars)
	}
}

func TestFormatBlocksActionsAfterDivider(t *testing.T) {
	blocks := FormatBlocks(models.Response{
		Content: "plan body",
		Actions: []models.Action{
			{ID: "approve_plan", Label: "Approve", Style: "primary"},
			{ID: "reject_plan", Label: "Reject", Style: "danger"},
		},
		Metadata: map[string]string{"plan_date": "2026-08-24"},
	})

	require.Len(t, blocks, 4) // section, divider, actions, context
	assert.IsType(t, &slackapi.SectionBlock{}, blocks[0])
	assert.IsType(t, &slackapi.DividerBlock{}, blocks[1])

	actions, ok := blocks[2].(*slackapi.ActionBlock)
	require.True(t, ok)
	require.Len(t, actions.Elements.ElementSet, 2)
	approve := actions.Elements.ElementSet[0].(*slackapi.ButtonBlockElement)
	assert.Equal(t, "approve_plan", approve.ActionID)
	assert.Equal(t, slackapi.StylePrimary, approve.Style)
	assert.Equal(t, "2026-08-24", approve.Value, "buttons carry the plan date")
	reject := actions.Elements.ElementSet[1].(*slackapi.ButtonBlockElement)
	assert.Equal(t, slackapi.StyleDanger, reject.Style)

	context, ok := blocks[3].(*slackapi.ContextBlock)
	require.True(t, ok)
	text := context.ContextElements.Elements[0].(*slackapi.TextBlockObject)
	assert.Contains(t, text.Text, "2026-08-24")
}

func TestFormatBlocksAttachments(t *testing.T) {
	blocks := FormatBlocks(models.Response{
		Content: "body",
		Attachments: []models.Attachment{
			{Title: "Backlog", Text: "TT-3 Rewrite billing"},
		},
	})

	require.Len(t, blocks, 2)
	att := blocks[1].(*slackapi.SectionBlock)
	assert.Contains(t, att.Text.Text, "*Backlog*")
	assert.Contains(t, att.Text.Text, "TT-3")
}

func TestSplitChunksPrefersNewlines(t *testing.T) {
	text := strings.Repeat("aaaa\n", 10)
	chunks := splitChunks(text, 12)
	for _, c := range chunks[:len(chunks)-1] {
		assert.True(t, strings.HasSuffix(c, "\n"), "chunk %q should break at a newline", c)
	}
	assert.Equal(t, text, strings.Join(chunks, ""))

	assert.Nil(t, splitChunks("", 10))
}
