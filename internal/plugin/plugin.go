// Package plugin implements the plugin bus: the channel-adapter contract,
// per-plugin configuration loading, the core event bus, and the registry
// that owns adapter lifecycle, routing, broadcast, and health.
package plugin

import (
	"context"

	"github.com/triagehub/triagehub-backend/internal/models"
)

// CoreAPI is the stable façade adapters call into the triage engine.
// Adapters borrow this reference; they never own it. Every call validates
// its inputs and returns an ActionResult instead of an error for expected
// failures.
type CoreAPI interface {
	// GeneratePlan builds the daily plan. planDate is YYYY-MM-DD or empty
	// for today; closureRate overrides yesterday's closure when non-nil.
	GeneratePlan(ctx context.Context, userID, planDate string, closureRate *float64) models.ActionResult
	ApprovePlan(ctx context.Context, userID, planDate string, approved bool, feedback string) models.ActionResult
	RejectPlan(ctx context.Context, userID, planDate, feedback string) models.ActionResult
	DecomposeTask(ctx context.Context, userID, taskKey string, targetDays float64) models.ActionResult
	GetStatus(ctx context.Context, userID, planDate string) models.ActionResult
	ConfigureSettings(ctx context.Context, userID string, settings map[string]any) models.ActionResult
}

// Plugin is the capability set every channel adapter must satisfy.
//
// HandleMessage and HandleEvent must be re-entrant: the registry issues
// concurrent calls. All identifiers are opaque to the adapter. No method may
// block the registry indefinitely; Stop should cancel in-flight work
// cooperatively.
type Plugin interface {
	// Identity. Name and Version must be callable on a bare, uninitialised
	// instance (the registry probes them before configuration).
	Name() string
	Version() string
	ConfigSchema() Schema

	// Lifecycle.
	Initialize(ctx context.Context, cfg models.PluginConfig, core CoreAPI) error
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	HealthCheck(ctx context.Context) models.HealthState

	// Inbound: user → core.
	HandleMessage(ctx context.Context, msg models.Message) (models.Response, error)

	// Outbound: core → user. Best-effort; false means delivery failed.
	SendMessage(ctx context.Context, channelID, userID string, resp models.Response) bool

	// Events: informational core notifications. Failures are logged by the
	// registry and never affect health.
	HandleEvent(ctx context.Context, eventType models.EventType, data map[string]any)
}

// Factory produces a bare, uninitialised adapter instance.
type Factory func() Plugin
