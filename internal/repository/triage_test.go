package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/triagehub/triagehub-backend/internal/models"
)

func TestSettingsRoundTrip(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	_, err := repo.GetSettings(ctx, "U1")
	assert.ErrorIs(t, err, ErrNotFound)

	s := models.DefaultSettings("U1")
	s.MaxPriorities = 5
	require.NoError(t, repo.UpsertSettings(ctx, &s))

	got, err := repo.GetSettings(ctx, "U1")
	require.NoError(t, err)
	assert.Equal(t, 5, got.MaxPriorities)
	assert.Equal(t, "14:00-15:30", got.AdminBlockTime)

	s.AdminBlockTime = "09:00-10:00"
	require.NoError(t, repo.UpsertSettings(ctx, &s))
	got, err = repo.GetSettings(ctx, "U1")
	require.NoError(t, err)
	assert.Equal(t, "09:00-10:00", got.AdminBlockTime)
}

func TestPlanSaveApprove(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	plan := &models.Plan{
		UserID:   "U1",
		PlanDate: "2026-08-24",
		Priorities: []models.PlanItem{
			{TaskKey: "TT-1", Summary: "Fix login", Class: models.ClassPriorityEligible, Priority: 1},
		},
		GeneratedAt: time.Now().UTC(),
	}
	require.NoError(t, repo.SavePlan(ctx, plan))

	got, err := repo.GetPlan(ctx, "U1", "2026-08-24")
	require.NoError(t, err)
	require.Len(t, got.Priorities, 1)
	assert.Equal(t, "TT-1", got.Priorities[0].TaskKey)

	require.NoError(t, repo.SetApproval(ctx, "U1", "2026-08-24", true, "lgtm"))
	assert.ErrorIs(t, repo.SetApproval(ctx, "U1", "2026-01-01", true, ""), ErrNotFound)

	_, err = repo.GetPlan(ctx, "U1", "2026-01-01")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestClosureRoundTrip(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	rec := &models.ClosureRecord{
		UserID:              "U1",
		PlanDate:            "2026-08-24",
		TotalPriorities:     3,
		CompletedPriorities: 2,
		ClosureRate:         2.0 / 3.0,
		IncompleteTasks:     []string{"TT-9"},
	}
	require.NoError(t, repo.UpsertClosure(ctx, rec))

	got, err := repo.GetClosure(ctx, "U1", "2026-08-24")
	require.NoError(t, err)
	assert.Equal(t, 2, got.CompletedPriorities)
	assert.Equal(t, []string{"TT-9"}, got.IncompleteTasks)

	rec.CompletedPriorities = 3
	rec.IncompleteTasks = nil
	require.NoError(t, repo.UpsertClosure(ctx, rec))
	got, err = repo.GetClosure(ctx, "U1", "2026-08-24")
	require.NoError(t, err)
	assert.Equal(t, 3, got.CompletedPriorities)
	assert.Empty(t, got.IncompleteTasks)
}
