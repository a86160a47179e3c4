// Package engine is the triage engine behind the core actions API: it
// classifies a user's active tasks, builds the daily plan, decomposes large
// tasks, and tracks closure. Ranking arithmetic is deliberately simple; the
// interesting guarantees live in the plan shape (at most the configured
// number of priorities, one administrative block capped at 90 minutes, the
// rest ranked).
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/triagehub/triagehub-backend/internal/models"
	"github.com/triagehub/triagehub-backend/internal/repository"
)

// adminBlockCapMinutes bounds the daily administrative block.
const adminBlockCapMinutes = 90

// minutesPerWorkDay converts task estimates to block minutes.
const minutesPerWorkDay = 480

// ErrTaskNotFound is returned by Decompose when the key matches no active task.
var ErrTaskNotFound = errors.New("task not found")

// TaskSource supplies the active tasks for a user, typically backed by an
// issue-tracker client.
type TaskSource interface {
	ActiveTasks(ctx context.Context, userID string) ([]models.Task, error)
}

// planStore is the slice of the repository the engine needs.
type planStore interface {
	repository.SettingsRepository
	repository.PlanRepository
	repository.ClosureRepository
}

// Engine generates and tracks daily plans for one process.
type Engine struct {
	source TaskSource
	store  planStore
	logger *slog.Logger
	now    func() time.Time
}

// New creates an engine over a task source and the persistence layer.
func New(source TaskSource, store planStore, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{source: source, store: store, logger: logger, now: time.Now}
}

// Classify buckets a task. A task that already carries a class keeps it.
func Classify(t models.Task) models.TaskClass {
	switch {
	case t.Class != "":
		return t.Class
	case len(t.BlockedBy) > 0:
		return models.ClassDependent
	case len(t.Blocks) > 0:
		return models.ClassBlocking
	case t.EstimateDays > 0 && t.EstimateDays <= 0.25:
		return models.ClassAdministrative
	case t.EstimateDays >= 5:
		return models.ClassLongRunning
	default:
		return models.ClassPriorityEligible
	}
}

// rank orders tasks for planning. Older tasks and tasks that block others
// float up; a near due date dominates.
func rank(t models.Task, now time.Time) float64 {
	score := t.RankScore
	score += float64(t.AgeDays) * 0.1
	score += float64(len(t.Blocks)) * 2
	if t.DueDate != nil {
		days := t.DueDate.Sub(now).Hours() / 24
		if days < 3 {
			score += 10 - days
		}
	}
	return score
}

// GeneratePlan builds, persists, and returns the plan for planDate. An
// optional closure rate from the previous day scales today's priority
// capacity down (never below one slot).
func (e *Engine) GeneratePlan(ctx context.Context, userID, planDate string, closureRate *float64) (*models.Plan, error) {
	settings, err := e.settingsFor(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("loading settings: %w", err)
	}

	tasks, err := e.source.ActiveTasks(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("fetching active tasks: %w", err)
	}

	capacity := settings.MaxPriorities
	if closureRate != nil {
		capacity = int(math.Ceil(float64(settings.MaxPriorities) * *closureRate))
		if capacity < 1 {
			capacity = 1
		}
	}

	now := e.now()
	classified := make([]models.Task, len(tasks))
	for i, t := range tasks {
		t.Class = Classify(t)
		classified[i] = t
	}
	sort.SliceStable(classified, func(i, j int) bool {
		return rank(classified[i], now) > rank(classified[j], now)
	})

	plan := &models.Plan{
		UserID:      userID,
		PlanDate:    planDate,
		Priorities:  []models.PlanItem{},
		GeneratedAt: now.UTC(),
	}
	adminMinutes := 0
	for _, t := range classified {
		item := models.PlanItem{TaskKey: t.Key, Summary: t.Summary, Class: t.Class}
		switch t.Class {
		case models.ClassAdministrative:
			minutes := int(t.EstimateDays * minutesPerWorkDay)
			if minutes < 5 {
				minutes = 5
			}
			if adminMinutes+minutes > adminBlockCapMinutes {
				plan.Remainder = append(plan.Remainder, item)
				continue
			}
			adminMinutes += minutes
			item.Minutes = minutes
			plan.AdminBlock = append(plan.AdminBlock, item)
		case models.ClassPriorityEligible, models.ClassBlocking:
			if len(plan.Priorities) < capacity {
				item.Priority = len(plan.Priorities) + 1
				plan.Priorities = append(plan.Priorities, item)
			} else {
				plan.Remainder = append(plan.Remainder, item)
			}
		default:
			plan.Remainder = append(plan.Remainder, item)
		}
	}

	if err := e.store.SavePlan(ctx, plan); err != nil {
		return nil, fmt.Errorf("saving plan: %w", err)
	}
	e.logger.Info("plan generated",
		"user_id", userID, "plan_date", planDate,
		"priorities", len(plan.Priorities), "admin_minutes", adminMinutes)
	return plan, nil
}

// RecordApproval persists the approval decision for a stored plan.
func (e *Engine) RecordApproval(ctx context.Context, userID, planDate string, approved bool, feedback string) error {
	return e.store.SetApproval(ctx, userID, planDate, approved, feedback)
}

// Plan returns the stored plan for the day, or nil when none exists.
func (e *Engine) Plan(ctx context.Context, userID, planDate string) (*models.Plan, error) {
	plan, err := e.store.GetPlan(ctx, userID, planDate)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	return plan, err
}

// Decompose splits an active task into ordered subtasks of at most
// targetDays effort each.
func (e *Engine) Decompose(ctx context.Context, userID, taskKey string, targetDays float64) ([]models.Subtask, error) {
	tasks, err := e.source.ActiveTasks(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("fetching active tasks: %w", err)
	}
	var task *models.Task
	for i := range tasks {
		if tasks[i].Key == taskKey {
			task = &tasks[i]
			break
		}
	}
	if task == nil {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, taskKey)
	}

	total := task.EstimateDays
	if total <= 0 {
		total = targetDays
	}
	count := int(math.Ceil(total / targetDays))
	if count < 1 {
		count = 1
	}
	subtasks := make([]models.Subtask, 0, count)
	remaining := total
	for i := 1; i <= count; i++ {
		effort := math.Min(targetDays, remaining)
		subtasks = append(subtasks, models.Subtask{
			Order:        i,
			Title:        fmt.Sprintf("%s (part %d/%d)", task.Summary, i, count),
			EstimateDays: effort,
		})
		remaining -= effort
	}
	return subtasks, nil
}

// Closure returns the closure record for the day, or nil when none exists.
func (e *Engine) Closure(ctx context.Context, userID, planDate string) (*models.ClosureRecord, error) {
	rec, err := e.store.GetClosure(ctx, userID, planDate)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	return rec, err
}

// RecordClosure computes and persists a closure record from the stored plan
// and the set of completed task keys.
func (e *Engine) RecordClosure(ctx context.Context, userID, planDate string, completedKeys []string) (*models.ClosureRecord, error) {
	plan, err := e.Plan(ctx, userID, planDate)
	if err != nil {
		return nil, err
	}
	if plan == nil {
		return nil, fmt.Errorf("no plan for %s on %s", userID, planDate)
	}

	done := make(map[string]bool, len(completedKeys))
	for _, k := range completedKeys {
		done[k] = true
	}
	rec := &models.ClosureRecord{
		UserID:          userID,
		PlanDate:        planDate,
		TotalPriorities: len(plan.Priorities),
	}
	for _, item := range plan.Priorities {
		if done[item.TaskKey] {
			rec.CompletedPriorities++
		} else {
			rec.IncompleteTasks = append(rec.IncompleteTasks, item.TaskKey)
		}
	}
	if rec.TotalPriorities > 0 {
		rec.ClosureRate = float64(rec.CompletedPriorities) / float64(rec.TotalPriorities)
	}
	if err := e.store.UpsertClosure(ctx, rec); err != nil {
		return nil, fmt.Errorf("saving closure record: %w", err)
	}
	return rec, nil
}

// Settings returns the user's settings, falling back to defaults.
func (e *Engine) Settings(ctx context.Context, userID string) (models.UserSettings, error) {
	return e.settingsFor(ctx, userID)
}

// SaveSettings persists the given settings and returns them with the
// update timestamp the repository stamped.
func (e *Engine) SaveSettings(ctx context.Context, s models.UserSettings) (models.UserSettings, error) {
	if err := e.store.UpsertSettings(ctx, &s); err != nil {
		return models.UserSettings{}, err
	}
	return s, nil
}

func (e *Engine) settingsFor(ctx context.Context, userID string) (models.UserSettings, error) {
	s, err := e.store.GetSettings(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return models.DefaultSettings(userID), nil
	}
	if err != nil {
		return models.UserSettings{}, err
	}
	return *s, nil
}
