package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/triagehub/triagehub-backend/internal/models"
)

func (r *sqlRepository) GetSettings(ctx context.Context, userID string) (*models.UserSettings, error) {
	var s models.UserSettings
	query := `SELECT user_id, notification_enabled, approval_timeout_hours, admin_block_time, max_priorities, updated_at
		FROM user_settings WHERE user_id = ?`
	err := r.db.GetContext(ctx, &s, r.rebind(query), userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get settings: %w", err)
	}
	return &s, nil
}

func (r *sqlRepository) UpsertSettings(ctx context.Context, s *models.UserSettings) error {
	s.UpdatedAt = time.Now().UTC()
	query := `
		INSERT INTO user_settings (user_id, notification_enabled, approval_timeout_hours, admin_block_time, max_priorities, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id) DO UPDATE SET
			notification_enabled = excluded.notification_enabled,
			approval_timeout_hours = excluded.approval_timeout_hours,
			admin_block_time = excluded.admin_block_time,
			max_priorities = excluded.max_priorities,
			updated_at = excluded.updated_at
	`
	_, err := r.db.ExecContext(ctx, r.rebind(query),
		s.UserID, s.NotificationEnabled, s.ApprovalTimeoutHours, s.AdminBlockTime, s.MaxPriorities, s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert settings: %w", err)
	}
	return nil
}

func (r *sqlRepository) SavePlan(ctx context.Context, plan *models.Plan) error {
	body, err := json.Marshal(plan)
	if err != nil {
		return fmt.Errorf("encode plan: %w", err)
	}
	now := time.Now().UTC()
	query := `
		INSERT INTO plans (user_id, plan_date, plan_json, approved, feedback, generated_at, updated_at)
		VALUES (?, ?, ?, NULL, '', ?, ?)
		ON CONFLICT (user_id, plan_date) DO UPDATE SET
			plan_json = excluded.plan_json,
			approved = NULL,
			feedback = '',
			updated_at = excluded.updated_at
	`
	if _, err := r.db.ExecContext(ctx, r.rebind(query),
		plan.UserID, plan.PlanDate, string(body), plan.GeneratedAt, now); err != nil {
		return fmt.Errorf("save plan: %w", err)
	}
	return nil
}

func (r *sqlRepository) GetPlan(ctx context.Context, userID, planDate string) (*models.Plan, error) {
	var body string
	query := `SELECT plan_json FROM plans WHERE user_id = ? AND plan_date = ?`
	err := r.db.GetContext(ctx, &body, r.rebind(query), userID, planDate)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get plan: %w", err)
	}
	var plan models.Plan
	if err := json.Unmarshal([]byte(body), &plan); err != nil {
		return nil, fmt.Errorf("decode plan: %w", err)
	}
	return &plan, nil
}

func (r *sqlRepository) SetApproval(ctx context.Context, userID, planDate string, approved bool, feedback string) error {
	query := `UPDATE plans SET approved = ?, feedback = ?, updated_at = ? WHERE user_id = ? AND plan_date = ?`
	res, err := r.db.ExecContext(ctx, r.rebind(query), approved, feedback, time.Now().UTC(), userID, planDate)
	if err != nil {
		return fmt.Errorf("set approval: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *sqlRepository) GetClosure(ctx context.Context, userID, planDate string) (*models.ClosureRecord, error) {
	var row struct {
		models.ClosureRecord
		Incomplete string `db:"incomplete_tasks"`
	}
	query := `SELECT user_id, plan_date, total_priorities, completed_priorities, closure_rate, incomplete_tasks
		FROM closure_records WHERE user_id = ? AND plan_date = ?`
	err := r.db.GetContext(ctx, &row, r.rebind(query), userID, planDate)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get closure record: %w", err)
	}
	rec := row.ClosureRecord
	if row.Incomplete != "" {
		if err := json.Unmarshal([]byte(row.Incomplete), &rec.IncompleteTasks); err != nil {
			return nil, fmt.Errorf("decode incomplete tasks: %w", err)
		}
	}
	return &rec, nil
}

func (r *sqlRepository) UpsertClosure(ctx context.Context, rec *models.ClosureRecord) error {
	incomplete, err := json.Marshal(rec.IncompleteTasks)
	if err != nil {
		return fmt.Errorf("encode incomplete tasks: %w", err)
	}
	query := `
		INSERT INTO closure_records (user_id, plan_date, total_priorities, completed_priorities, closure_rate, incomplete_tasks)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id, plan_date) DO UPDATE SET
			total_priorities = excluded.total_priorities,
			completed_priorities = excluded.completed_priorities,
			closure_rate = excluded.closure_rate,
			incomplete_tasks = excluded.incomplete_tasks
	`
	if _, err := r.db.ExecContext(ctx, r.rebind(query),
		rec.UserID, rec.PlanDate, rec.TotalPriorities, rec.CompletedPriorities, rec.ClosureRate, string(incomplete)); err != nil {
		return fmt.Errorf("upsert closure record: %w", err)
	}
	return nil
}
