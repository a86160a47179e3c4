// Package slack is the reference channel adapter: it translates Slack slash
// commands, interactive components, and events into core actions, and
// renders core responses as Block Kit messages.
package slack

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	slackapi "github.com/slack-go/slack"
	"github.com/sony/gobreaker"

	"github.com/triagehub/triagehub-backend/internal/models"
	"github.com/triagehub/triagehub-backend/internal/plugin"
	"github.com/triagehub/triagehub-backend/internal/store"
)

const (
	pluginName    = "slack"
	pluginVersion = "1.2.0"

	msgNotInstalled = "This workspace has not installed the app yet. Ask an admin to run the installation."
	msgBadUser      = "Sorry, this request does not look like it came from a Slack user."
)

// chatPoster is the slice of the Slack client the adapter sends through.
// Injectable for tests.
type chatPoster interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slackapi.MsgOption) (string, string, error)
}

// Adapter implements plugin.Plugin for Slack.
type Adapter struct {
	logger  *slog.Logger
	store   *store.InstallationStore
	core    plugin.CoreAPI
	cfg     models.PluginConfig
	breaker *gobreaker.CircuitBreaker
	stopped atomic.Bool

	// newPoster builds a Web API client for one workspace token.
	newPoster func(token string) chatPoster
}

// New creates an uninitialised Slack adapter over the installation store.
func New(st *store.InstallationStore, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{
		logger: logger,
		store:  st,
		newPoster: func(token string) chatPoster {
			return slackapi.New(token)
		},
	}
}

// Factory adapts New to the registry's factory signature.
func Factory(st *store.InstallationStore, logger *slog.Logger) plugin.Factory {
	return func() plugin.Plugin { return New(st, logger) }
}

func (a *Adapter) Name() string    { return pluginName }
func (a *Adapter) Version() string { return pluginVersion }

func (a *Adapter) ConfigSchema() plugin.Schema {
	return plugin.Schema{Fields: map[string]plugin.SchemaField{
		"signing_secret":  {Type: plugin.TypeString, Required: true, Secret: true},
		"client_id":       {Type: plugin.TypeString},
		"client_secret":   {Type: plugin.TypeString, Secret: true},
		"default_channel": {Type: plugin.TypeString},
		"notify_events":   {Type: plugin.TypeBoolean, Default: true},
	}}
}

func (a *Adapter) Initialize(_ context.Context, cfg models.PluginConfig, core plugin.CoreAPI) error {
	if core == nil {
		return fmt.Errorf("core API is required")
	}
	a.cfg = cfg
	a.core = core
	a.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "slack-post-message",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			a.logger.Warn("slack send breaker state changed", "from", from.String(), "to", to.String())
		},
	})
	return nil
}

func (a *Adapter) Start(context.Context) error {
	a.stopped.Store(false)
	return nil
}

func (a *Adapter) Stop(context.Context) error {
	a.stopped.Store(true)
	return nil
}

func (a *Adapter) HealthCheck(context.Context) models.HealthState {
	switch {
	case a.stopped.Load():
		return models.HealthStopped
	case a.breaker != nil && a.breaker.State() == gobreaker.StateOpen:
		return models.HealthDegraded
	default:
		return models.HealthHealthy
	}
}

// HandleMessage dispatches a canonical message to the matching core action.
// Expected failures come back as ephemeral or error responses; an error
// return is reserved for infrastructure faults.
func (a *Adapter) HandleMessage(ctx context.Context, msg models.Message) (models.Response, error) {
	inst, err := a.store.GetActive(ctx, pluginName, msg.ChannelID)
	if err != nil {
		return models.Response{}, fmt.Errorf("installation lookup: %w", err)
	}
	if inst == nil {
		return models.EphemeralResponse(msgNotInstalled), nil
	}
	if !workspaceUser(msg.UserID) {
		return models.EphemeralResponse(msgBadUser), nil
	}

	switch msg.Command {
	case "plan":
		return a.handlePlan(ctx, msg), nil
	case "approve":
		return a.handleDecision(ctx, msg, true), nil
	case "reject":
		return a.handleDecision(ctx, msg, false), nil
	case "breakdown":
		return a.handleBreakdown(ctx, msg), nil
	case "status":
		return a.handleStatus(ctx, msg), nil
	case "settings":
		return a.handleSettings(ctx, msg), nil
	case "help", "":
		return helpResponse(), nil
	default:
		return helpResponse(), nil
	}
}

func (a *Adapter) handlePlan(ctx context.Context, msg models.Message) models.Response {
	var rate *float64
	if raw, ok := msg.Parameters["closure_rate"]; ok {
		parsed, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return models.EphemeralResponse("closure_rate must be a number between 0 and 1")
		}
		rate = &parsed
	}
	planDate := msg.Parameters["date"]
	if planDate == "" {
		planDate = msg.Parameters["arg_0"]
	}

	result := a.core.GeneratePlan(ctx, msg.UserID, planDate, rate)
	if !result.Success {
		return models.EphemeralResponse(result.Error)
	}

	date, _ := result.Data["plan_date"].(string)
	text, _ := result.Data["plan_text"].(string)
	return models.Response{
		Content: text,
		Type:    models.ResponseInChannel,
		Actions: []models.Action{
			{ID: "approve_plan", Label: "Approve", Style: "primary"},
			{ID: "reject_plan", Label: "Reject", Style: "danger"},
		},
		Metadata: map[string]string{"plan_date": date},
	}
}

func (a *Adapter) handleDecision(ctx context.Context, msg models.Message, approved bool) models.Response {
	// The date may also arrive positionally ("approve 2026-08-24"), but for
	// reject the positional args are free-form feedback, so a bare token only
	// counts as the date when it actually is one.
	planDate := firstOf(msg.Parameters, "plan_date", "date")
	feedbackStart := 0
	if planDate == "" && isPlanDate(msg.Parameters["arg_0"]) {
		planDate = msg.Parameters["arg_0"]
		feedbackStart = 1
	}
	feedback := msg.Parameters["feedback"]

	var result models.ActionResult
	if approved {
		result = a.core.ApprovePlan(ctx, msg.UserID, planDate, true, feedback)
	} else {
		if feedback == "" {
			feedback = freeTextFrom(msg, feedbackStart)
		}
		result = a.core.RejectPlan(ctx, msg.UserID, planDate, feedback)
	}
	if !result.Success {
		return models.EphemeralResponse(result.Error)
	}

	if approved {
		return models.Response{Content: "Plan approved. Good luck out there!", Type: models.ResponseInChannel}
	}
	content := "Plan rejected."
	if text, ok := result.Data["plan_text"].(string); ok {
		content = "Plan rejected. Here is a fresh take:\n\n" + text
	}
	return models.Response{Content: content, Type: models.ResponseInChannel}
}

func (a *Adapter) handleBreakdown(ctx context.Context, msg models.Message) models.Response {
	taskKey := firstOf(msg.Parameters, "task", "arg_0")
	targetDays := 0.0
	if raw, ok := msg.Parameters["target_days"]; ok {
		parsed, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return models.EphemeralResponse("target_days must be a positive number")
		}
		targetDays = parsed
	}

	result := a.core.DecomposeTask(ctx, msg.UserID, taskKey, targetDays)
	if !result.Success {
		return models.EphemeralResponse(result.Error)
	}
	subtasks, _ := result.Data["subtasks"].([]models.Subtask)
	var b strings.Builder
	fmt.Fprintf(&b, "*Breakdown for %s*\n", taskKey)
	for _, s := range subtasks {
		fmt.Fprintf(&b, "%d. %s (%.2g d)\n", s.Order, s.Title, s.EstimateDays)
	}
	return models.Response{Content: b.String(), Type: models.ResponseMessage}
}

func (a *Adapter) handleStatus(ctx context.Context, msg models.Message) models.Response {
	planDate := firstOf(msg.Parameters, "date", "arg_0")
	result := a.core.GetStatus(ctx, msg.UserID, planDate)
	if !result.Success {
		return models.EphemeralResponse(result.Error)
	}
	if status, _ := result.Data["status"].(string); status == "not_found" {
		return models.EphemeralResponse("No completion record for that day yet.")
	}
	rate, _ := result.Data["closure_rate"].(float64)
	completed := result.Data["completed_priorities"]
	total := result.Data["total_priorities"]
	return models.Response{
		Content: fmt.Sprintf("Closure: %v/%v priorities done (%.0f%%)", completed, total, rate*100),
		Type:    models.ResponseMessage,
	}
}

func (a *Adapter) handleSettings(ctx context.Context, msg models.Message) models.Response {
	settings := map[string]any{}
	for key, raw := range msg.Parameters {
		if strings.HasPrefix(key, "arg_") {
			continue
		}
		settings[key] = coerceSettingValue(raw)
	}

	result := a.core.ConfigureSettings(ctx, msg.UserID, settings)
	if !result.Success {
		return models.EphemeralResponse(result.Error)
	}
	return models.EphemeralResponse("Settings updated.")
}

// SendMessage pushes a response into a workspace channel. The per-workspace
// token is fetched fresh from the store for every send; delivery is
// best-effort behind the circuit breaker.
func (a *Adapter) SendMessage(ctx context.Context, channelID, userID string, resp models.Response) bool {
	inst, err := a.store.GetActive(ctx, pluginName, channelID)
	if err != nil || inst == nil {
		a.logger.Warn("send skipped: no active installation", "channel_id", channelID)
		return false
	}

	target := resp.Metadata["slack_channel_id"]
	if target == "" {
		target = a.cfg.ConfigValue("default_channel", "")
	}
	if target == "" {
		target = userID
	}

	_, err = a.breaker.Execute(func() (any, error) {
		client := a.newPoster(inst.AccessToken)
		_, _, err := client.PostMessageContext(ctx, target,
			slackapi.MsgOptionBlocks(FormatBlocks(resp)...),
			slackapi.MsgOptionText(resp.Content, false))
		return nil, err
	})
	if err != nil {
		a.logger.Warn("slack send failed", "channel_id", channelID, "err", err)
		return false
	}
	return true
}

// HandleEvent pushes notification-worthy core events into the workspace the
// event belongs to. Unknown event types are ignored.
func (a *Adapter) HandleEvent(ctx context.Context, eventType models.EventType, data map[string]any) {
	if !a.notifyEnabled() {
		return
	}
	userID, _ := data["user_id"].(string)
	channelID, _ := data["channel_id"].(string)
	if channelID == "" {
		// Without a workspace reference there is nowhere to deliver.
		return
	}

	var content string
	switch eventType {
	case models.EventPlanGenerated:
		content = fmt.Sprintf("A new plan is ready for <@%s>. Run `/triage plan` to review it.", userID)
	case models.EventApprovalTimeout:
		content = fmt.Sprintf("<@%s>, your plan is still waiting for approval.", userID)
	case models.EventTaskBlocked:
		task, _ := data["task_key"].(string)
		content = fmt.Sprintf("Task %s is blocked.", task)
	default:
		return
	}
	a.SendMessage(ctx, channelID, userID, models.Response{Content: content, Type: models.ResponseMessage})
}

func (a *Adapter) notifyEnabled() bool {
	if v, ok := a.cfg.Config["notify_events"].(bool); ok {
		return v
	}
	return true
}

// workspaceUser is a cheap shape check on Slack user IDs, not a security
// boundary; authenticity is established by the gateway's signature check.
func workspaceUser(userID string) bool {
	return strings.HasPrefix(userID, "U") || strings.HasPrefix(userID, "W")
}

func firstOf(params map[string]string, keys ...string) string {
	for _, key := range keys {
		if v := params[key]; v != "" {
			return v
		}
	}
	return ""
}

// freeTextFrom joins positional args starting at index start, skipping any
// tokens already consumed (such as a leading plan date).
func freeTextFrom(msg models.Message, start int) string {
	var parts []string
	for i := start; ; i++ {
		v, ok := msg.Parameters[fmt.Sprintf("arg_%d", i)]
		if !ok {
			break
		}
		parts = append(parts, v)
	}
	return strings.Join(parts, " ")
}

// isPlanDate reports whether s is a calendar date in YYYY-MM-DD form.
func isPlanDate(s string) bool {
	if s == "" {
		return false
	}
	_, err := time.Parse("2006-01-02", s)
	return err == nil
}

func coerceSettingValue(raw string) any {
	switch strings.ToLower(raw) {
	case "true", "on", "yes":
		return true
	case "false", "off", "no":
		return false
	}
	if n, err := strconv.ParseFloat(raw, 64); err == nil {
		return n
	}
	return raw
}

func helpResponse() models.Response {
	help := strings.Join([]string{
		"*Triage commands*",
		"`plan [date=YYYY-MM-DD] [closure_rate=0.8]` — generate today's plan",
		"`approve [date=YYYY-MM-DD] [feedback=...]` — approve the plan",
		"`reject <feedback>` — reject the plan and say why",
		"`breakdown <task-key> [target_days=1]` — split a big task",
		"`status [date=YYYY-MM-DD]` — closure for a day",
		"`settings key=value ...` — e.g. `max_priorities=3`, `notification_enabled=false`",
		"`help` — this message",
	}, "\n")
	return models.EphemeralResponse(help)
}
