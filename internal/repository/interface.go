// Package repository is the raw persistence layer. It stores installation
// token columns exactly as given; encryption is the store layer's job so
// the substrate can be swapped without touching the cipher.
package repository

import (
	"context"
	"errors"

	"github.com/triagehub/triagehub-backend/internal/models"
)

var (
	// ErrAlreadyExists is returned when the (plugin_name, channel_id) key is taken.
	ErrAlreadyExists = errors.New("installation already exists")
	// ErrNotFound is returned when no row matches the lookup.
	ErrNotFound = errors.New("not found")
)

// InstallationRepository defines raw installation row access. Token fields
// are treated as opaque strings (ciphertext in practice).
type InstallationRepository interface {
	Create(ctx context.Context, inst *models.Installation) error
	Get(ctx context.Context, pluginName, channelID string) (*models.Installation, error)
	GetByID(ctx context.Context, id int64) (*models.Installation, error)
	// Update applies a partial update; nil fields are preserved and
	// last_active is always stamped. Returns the updated row.
	Update(ctx context.Context, pluginName, channelID string, up models.InstallationUpdate) (*models.Installation, error)
	// Delete hard-deletes the row and reports whether one existed.
	Delete(ctx context.Context, pluginName, channelID string) (bool, error)
	ListForPlugin(ctx context.Context, pluginName string, activeOnly bool) ([]*models.Installation, error)
	ListAll(ctx context.Context, activeOnly bool) ([]*models.Installation, error)
}

// SettingsRepository persists per-user triage settings.
type SettingsRepository interface {
	GetSettings(ctx context.Context, userID string) (*models.UserSettings, error)
	UpsertSettings(ctx context.Context, s *models.UserSettings) error
}

// PlanRepository persists generated plans and their approval state.
type PlanRepository interface {
	SavePlan(ctx context.Context, plan *models.Plan) error
	GetPlan(ctx context.Context, userID, planDate string) (*models.Plan, error)
	SetApproval(ctx context.Context, userID, planDate string, approved bool, feedback string) error
}

// ClosureRepository persists daily closure records.
type ClosureRepository interface {
	GetClosure(ctx context.Context, userID, planDate string) (*models.ClosureRecord, error)
	UpsertClosure(ctx context.Context, rec *models.ClosureRecord) error
}

// Repository aggregates all repositories over one database handle.
type Repository interface {
	InstallationRepository
	SettingsRepository
	PlanRepository
	ClosureRepository
	RunMigrations(migrationSQL string) error
	Close() error
}
