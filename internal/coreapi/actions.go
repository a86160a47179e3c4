// Package coreapi is the versioned façade plugins call into the triage
// engine. Every entry point validates all inputs before touching shared
// state, returns a models.ActionResult with a stable error code on failure,
// and never lets collaborator error text leak into user-facing messages.
package coreapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/triagehub/triagehub-backend/internal/engine"
	"github.com/triagehub/triagehub-backend/internal/models"
	"github.com/triagehub/triagehub-backend/internal/plugin"
	"github.com/triagehub/triagehub-backend/internal/repository"
)

const dateLayout = "2006-01-02"

// Actions implements plugin.CoreAPI over the triage engine and event bus.
type Actions struct {
	engine *engine.Engine
	bus    *plugin.EventBus
	logger *slog.Logger
}

var _ plugin.CoreAPI = (*Actions)(nil)

// New creates the actions façade. engine may be nil during partial startup;
// every call then fails with NOT_INITIALIZED rather than panicking.
func New(eng *engine.Engine, bus *plugin.EventBus, logger *slog.Logger) *Actions {
	if logger == nil {
		logger = slog.Default()
	}
	return &Actions{engine: eng, bus: bus, logger: logger}
}

// GeneratePlan builds and persists the plan for planDate (empty = today).
// closureRate, when given, must be finite in [0,1] and scales the day's
// priority capacity.
func (a *Actions) GeneratePlan(ctx context.Context, userID, planDate string, closureRate *float64) models.ActionResult {
	if !validUserID(userID) {
		return models.FailResult(models.ErrCodeInvalidUserID, "user_id must be a non-empty identifier")
	}
	planDate, ok := normalizeDate(planDate)
	if !ok {
		return models.FailResult(models.ErrCodeInvalidDate, "plan_date must be YYYY-MM-DD")
	}
	if closureRate != nil {
		r := *closureRate
		if math.IsNaN(r) || math.IsInf(r, 0) || r < 0 || r > 1 {
			return models.FailResult(models.ErrCodeInvalidClosureRate, "closure_rate must be a finite number in [0,1]")
		}
	}
	if a.engine == nil {
		return models.FailResult(models.ErrCodeNotInitialized, "triage engine not initialized")
	}

	plan, err := a.engine.GeneratePlan(ctx, userID, planDate, closureRate)
	if err != nil {
		a.logger.Error("plan generation failed", "user_id", userID, "plan_date", planDate, "err", err)
		return models.FailResult(models.ErrCodePlanGenerationFail, "could not generate a plan")
	}

	a.publish(models.EventPlanGenerated, map[string]any{
		"user_id":    userID,
		"plan_date":  planDate,
		"priorities": len(plan.Priorities),
	})
	return models.OKResult(map[string]any{
		"user_id":   userID,
		"plan_date": planDate,
		"plan":      plan,
		"plan_text": engine.RenderMarkdown(plan),
	})
}

// ApprovePlan records the approval decision for a stored plan and publishes
// the matching event.
func (a *Actions) ApprovePlan(ctx context.Context, userID, planDate string, approved bool, feedback string) models.ActionResult {
	if !validUserID(userID) {
		return models.FailResult(models.ErrCodeInvalidUserID, "user_id must be a non-empty identifier")
	}
	planDate, ok := normalizeDate(planDate)
	if !ok {
		return models.FailResult(models.ErrCodeInvalidDate, "plan_date must be YYYY-MM-DD")
	}
	if a.engine == nil {
		return models.FailResult(models.ErrCodeNotInitialized, "triage engine not initialized")
	}

	if err := a.engine.RecordApproval(ctx, userID, planDate, approved, strings.TrimSpace(feedback)); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return models.FailResult(models.ErrCodeApprovalFailed, fmt.Sprintf("no plan exists for %s", planDate))
		}
		a.logger.Error("approval failed", "user_id", userID, "plan_date", planDate, "err", err)
		return models.FailResult(models.ErrCodeApprovalFailed, "could not record the decision")
	}

	data := map[string]any{
		"user_id":   userID,
		"plan_date": planDate,
		"approved":  approved,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	if fb := strings.TrimSpace(feedback); fb != "" {
		data["feedback"] = fb
	}
	eventType := models.EventPlanApproved
	if !approved {
		eventType = models.EventPlanRejected
	}
	a.publish(eventType, data)
	return models.OKResult(data)
}

// RejectPlan records a rejection with mandatory feedback and regenerates a
// fresh plan best-effort.
func (a *Actions) RejectPlan(ctx context.Context, userID, planDate, feedback string) models.ActionResult {
	if !validUserID(userID) {
		return models.FailResult(models.ErrCodeInvalidUserID, "user_id must be a non-empty identifier")
	}
	planDate, ok := normalizeDate(planDate)
	if !ok {
		return models.FailResult(models.ErrCodeInvalidDate, "plan_date must be YYYY-MM-DD")
	}
	feedback = strings.TrimSpace(feedback)
	if feedback == "" {
		return models.FailResult(models.ErrCodeInvalidFeedback, "feedback is required when rejecting a plan")
	}
	if a.engine == nil {
		return models.FailResult(models.ErrCodeNotInitialized, "triage engine not initialized")
	}

	if err := a.engine.RecordApproval(ctx, userID, planDate, false, feedback); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return models.FailResult(models.ErrCodeRejectionFailed, fmt.Sprintf("no plan exists for %s", planDate))
		}
		a.logger.Error("rejection failed", "user_id", userID, "plan_date", planDate, "err", err)
		return models.FailResult(models.ErrCodeRejectionFailed, "could not record the rejection")
	}

	data := map[string]any{
		"user_id":   userID,
		"plan_date": planDate,
		"approved":  false,
		"feedback":  feedback,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	a.publish(models.EventPlanRejected, data)

	// A rejection usually means "try again": attach a fresh plan when the
	// engine can produce one, but the rejection stands either way.
	if plan, err := a.engine.GeneratePlan(ctx, userID, planDate, nil); err == nil {
		data["plan"] = plan
		data["plan_text"] = engine.RenderMarkdown(plan)
	} else {
		a.logger.Warn("regeneration after rejection failed", "user_id", userID, "err", err)
	}
	return models.OKResult(data)
}

// DecomposeTask splits a task into subtasks of at most targetDays effort.
// targetDays zero means the default of one day.
func (a *Actions) DecomposeTask(ctx context.Context, userID, taskKey string, targetDays float64) models.ActionResult {
	if !validUserID(userID) {
		return models.FailResult(models.ErrCodeInvalidUserID, "user_id must be a non-empty identifier")
	}
	taskKey = strings.TrimSpace(taskKey)
	if taskKey == "" {
		return models.FailResult(models.ErrCodeInvalidTaskKey, "task_key must be a non-empty identifier")
	}
	if targetDays == 0 {
		targetDays = 1.0
	}
	if math.IsNaN(targetDays) || math.IsInf(targetDays, 0) || targetDays <= 0 {
		return models.FailResult(models.ErrCodeInvalidTargetDays, "target_days must be a positive, finite number")
	}
	if a.engine == nil {
		return models.FailResult(models.ErrCodeNotInitialized, "triage engine not initialized")
	}

	subtasks, err := a.engine.Decompose(ctx, userID, taskKey, targetDays)
	if err != nil {
		if errors.Is(err, engine.ErrTaskNotFound) {
			return models.FailResult(models.ErrCodeDecompositionFailed, fmt.Sprintf("no active task %s", taskKey))
		}
		a.logger.Error("decomposition failed", "user_id", userID, "task_key", taskKey, "err", err)
		return models.FailResult(models.ErrCodeDecompositionFailed, "could not decompose the task")
	}
	return models.OKResult(map[string]any{
		"task_key": taskKey,
		"subtasks": subtasks,
		"count":    len(subtasks),
	})
}

// GetStatus returns the closure record for planDate (empty = today), or a
// not_found marker when the day has no record yet.
func (a *Actions) GetStatus(ctx context.Context, userID, planDate string) models.ActionResult {
	if !validUserID(userID) {
		return models.FailResult(models.ErrCodeInvalidUserID, "user_id must be a non-empty identifier")
	}
	planDate, ok := normalizeDate(planDate)
	if !ok {
		return models.FailResult(models.ErrCodeInvalidDate, "plan_date must be YYYY-MM-DD")
	}
	if a.engine == nil {
		return models.FailResult(models.ErrCodeNotInitialized, "triage engine not initialized")
	}

	rec, err := a.engine.Closure(ctx, userID, planDate)
	if err != nil {
		a.logger.Error("status fetch failed", "user_id", userID, "plan_date", planDate, "err", err)
		return models.FailResult(models.ErrCodeStatusFetchFailed, "could not fetch the status")
	}
	if rec == nil {
		return models.OKResult(map[string]any{"status": "not_found", "plan_date": planDate})
	}
	return models.OKResult(map[string]any{
		"status":               "found",
		"plan_date":            planDate,
		"total_priorities":     rec.TotalPriorities,
		"completed_priorities": rec.CompletedPriorities,
		"closure_rate":         rec.ClosureRate,
		"incomplete_tasks":     rec.IncompleteTasks,
	})
}

// ConfigureSettings applies the recognised keys onto the user's settings.
// Unknown keys are dropped silently; any invalid known key fails the whole
// call without persisting anything.
func (a *Actions) ConfigureSettings(ctx context.Context, userID string, settings map[string]any) models.ActionResult {
	if !validUserID(userID) {
		return models.FailResult(models.ErrCodeInvalidUserID, "user_id must be a non-empty identifier")
	}
	if a.engine == nil {
		return models.FailResult(models.ErrCodeNotInitialized, "triage engine not initialized")
	}

	current, err := a.engine.Settings(ctx, userID)
	if err != nil {
		a.logger.Error("settings load failed", "user_id", userID, "err", err)
		return models.FailResult(models.ErrCodeSettingsUpdateFail, "could not load current settings")
	}

	applied := map[string]any{}
	for key, value := range settings {
		switch key {
		case "notification_enabled":
			b, ok := value.(bool)
			if !ok {
				return models.FailResult(models.ErrCodeInvalidSettings, "notification_enabled must be a boolean")
			}
			current.NotificationEnabled = b
			applied[key] = b
		case "approval_timeout_hours":
			n, ok := asNumber(value)
			if !ok || math.IsNaN(n) || math.IsInf(n, 0) || n <= 0 {
				return models.FailResult(models.ErrCodeInvalidSettings, "approval_timeout_hours must be a positive number")
			}
			current.ApprovalTimeoutHours = n
			applied[key] = n
		case "admin_block_time":
			s, ok := value.(string)
			if !ok || !validBlockTime(s) {
				return models.FailResult(models.ErrCodeInvalidSettings, "admin_block_time must be of the form HH:MM-HH:MM")
			}
			current.AdminBlockTime = s
			applied[key] = s
		case "max_priorities":
			n, ok := asNumber(value)
			if !ok || n != math.Trunc(n) || n < 1 || n > 5 {
				return models.FailResult(models.ErrCodeInvalidSettings, "max_priorities must be an integer between 1 and 5")
			}
			current.MaxPriorities = int(n)
			applied[key] = int(n)
		default:
			// Unknown keys are dropped without failing the call.
		}
	}

	saved, err := a.engine.SaveSettings(ctx, current)
	if err != nil {
		a.logger.Error("settings update failed", "user_id", userID, "err", err)
		return models.FailResult(models.ErrCodeSettingsUpdateFail, "could not save the settings")
	}
	return models.OKResult(map[string]any{
		"user_id": userID,
		"applied": applied,
		"settings": map[string]any{
			"notification_enabled":   saved.NotificationEnabled,
			"approval_timeout_hours": saved.ApprovalTimeoutHours,
			"admin_block_time":       saved.AdminBlockTime,
			"max_priorities":         saved.MaxPriorities,
		},
		"updated_at": saved.UpdatedAt.UTC().Format(time.RFC3339),
	})
}

func (a *Actions) publish(eventType models.EventType, data map[string]any) {
	if a.bus == nil {
		return
	}
	a.bus.Publish(models.Event{Type: eventType, Data: data, Source: "core"})
}

func validUserID(userID string) bool {
	userID = strings.TrimSpace(userID)
	return userID != "" && !strings.ContainsAny(userID, " \t\n")
}

// normalizeDate validates planDate, substituting today when empty. The
// layout round-trip rejects shorthand like 2026-8-4.
func normalizeDate(planDate string) (string, bool) {
	if strings.TrimSpace(planDate) == "" {
		return time.Now().UTC().Format(dateLayout), true
	}
	parsed, err := time.Parse(dateLayout, planDate)
	if err != nil || parsed.Format(dateLayout) != planDate {
		return "", false
	}
	return planDate, true
}

func validBlockTime(s string) bool {
	parts := strings.Split(s, "-")
	if len(parts) != 2 {
		return false
	}
	start, err := time.Parse("15:04", parts[0])
	if err != nil {
		return false
	}
	end, err := time.Parse("15:04", parts[1])
	if err != nil {
		return false
	}
	return end.After(start)
}

func asNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
