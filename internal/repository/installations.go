package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/triagehub/triagehub-backend/internal/models"
)

// installationRow mirrors the installations table; metadata is JSON text.
type installationRow struct {
	ID           int64     `db:"id"`
	PluginName   string    `db:"plugin_name"`
	ChannelID    string    `db:"channel_id"`
	AccessToken  string    `db:"access_token"`
	RefreshToken string    `db:"refresh_token"`
	Metadata     string    `db:"metadata"`
	InstalledAt  time.Time `db:"installed_at"`
	LastActive   time.Time `db:"last_active"`
	IsActive     bool      `db:"is_active"`
}

func (row installationRow) toModel() (*models.Installation, error) {
	meta, err := decodeMetadata(row.Metadata)
	if err != nil {
		return nil, err
	}
	return &models.Installation{
		ID:           row.ID,
		PluginName:   row.PluginName,
		ChannelID:    row.ChannelID,
		AccessToken:  row.AccessToken,
		RefreshToken: row.RefreshToken,
		Metadata:     meta,
		InstalledAt:  row.InstalledAt,
		LastActive:   row.LastActive,
		IsActive:     row.IsActive,
	}, nil
}

const installationColumns = `id, plugin_name, channel_id, access_token, refresh_token, metadata, installed_at, last_active, is_active`

func (r *sqlRepository) Create(ctx context.Context, inst *models.Installation) error {
	meta, err := encodeMetadata(inst.Metadata)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	if inst.InstalledAt.IsZero() {
		inst.InstalledAt = now
	}
	inst.LastActive = now
	inst.IsActive = true

	query := `
		INSERT INTO installations (plugin_name, channel_id, access_token, refresh_token, metadata, installed_at, last_active, is_active)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	args := []any{
		inst.PluginName,
		inst.ChannelID,
		inst.AccessToken,
		inst.RefreshToken,
		meta,
		inst.InstalledAt,
		inst.LastActive,
		inst.IsActive,
	}

	if r.driver == "postgres" {
		err = r.db.QueryRowContext(ctx, r.rebind(query+" RETURNING id"), args...).Scan(&inst.ID)
	} else {
		var res sql.Result
		res, err = r.db.ExecContext(ctx, r.rebind(query), args...)
		if err == nil {
			inst.ID, err = res.LastInsertId()
		}
	}
	if err != nil {
		if isUniqueViolation(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("insert installation: %w", err)
	}
	return nil
}

func (r *sqlRepository) Get(ctx context.Context, pluginName, channelID string) (*models.Installation, error) {
	var row installationRow
	query := `SELECT ` + installationColumns + ` FROM installations WHERE plugin_name = ? AND channel_id = ?`
	err := r.db.GetContext(ctx, &row, r.rebind(query), pluginName, channelID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get installation: %w", err)
	}
	return row.toModel()
}

func (r *sqlRepository) GetByID(ctx context.Context, id int64) (*models.Installation, error) {
	var row installationRow
	query := `SELECT ` + installationColumns + ` FROM installations WHERE id = ?`
	err := r.db.GetContext(ctx, &row, r.rebind(query), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get installation by id: %w", err)
	}
	return row.toModel()
}

func (r *sqlRepository) Update(ctx context.Context, pluginName, channelID string, up models.InstallationUpdate) (*models.Installation, error) {
	sets := []string{"last_active = ?"}
	args := []any{time.Now().UTC()}

	if up.AccessToken != nil {
		sets = append(sets, "access_token = ?")
		args = append(args, *up.AccessToken)
	}
	if up.RefreshToken != nil {
		sets = append(sets, "refresh_token = ?")
		args = append(args, *up.RefreshToken)
	}
	if up.Metadata != nil {
		meta, err := encodeMetadata(up.Metadata)
		if err != nil {
			return nil, err
		}
		sets = append(sets, "metadata = ?")
		args = append(args, meta)
	}
	if up.IsActive != nil {
		sets = append(sets, "is_active = ?")
		args = append(args, *up.IsActive)
	}

	query := `UPDATE installations SET ` + joinSets(sets) + ` WHERE plugin_name = ? AND channel_id = ?`
	args = append(args, pluginName, channelID)

	res, err := r.db.ExecContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("update installation: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return nil, ErrNotFound
	}
	return r.Get(ctx, pluginName, channelID)
}

func (r *sqlRepository) Delete(ctx context.Context, pluginName, channelID string) (bool, error) {
	query := `DELETE FROM installations WHERE plugin_name = ? AND channel_id = ?`
	res, err := r.db.ExecContext(ctx, r.rebind(query), pluginName, channelID)
	if err != nil {
		return false, fmt.Errorf("delete installation: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete installation: %w", err)
	}
	return n > 0, nil
}

func (r *sqlRepository) ListForPlugin(ctx context.Context, pluginName string, activeOnly bool) ([]*models.Installation, error) {
	query := `SELECT ` + installationColumns + ` FROM installations WHERE plugin_name = ?`
	if activeOnly {
		query += ` AND is_active = ?`
		return r.listInstallations(ctx, query, pluginName, true)
	}
	return r.listInstallations(ctx, query, pluginName)
}

func (r *sqlRepository) ListAll(ctx context.Context, activeOnly bool) ([]*models.Installation, error) {
	query := `SELECT ` + installationColumns + ` FROM installations`
	if activeOnly {
		query += ` WHERE is_active = ?`
		return r.listInstallations(ctx, query, true)
	}
	return r.listInstallations(ctx, query)
}

func (r *sqlRepository) listInstallations(ctx context.Context, query string, args ...any) ([]*models.Installation, error) {
	var rows []installationRow
	if err := r.db.SelectContext(ctx, &rows, r.rebind(query+` ORDER BY installed_at`), args...); err != nil {
		return nil, fmt.Errorf("list installations: %w", err)
	}
	out := make([]*models.Installation, 0, len(rows))
	for _, row := range rows {
		inst, err := row.toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, inst)
	}
	return out, nil
}

func joinSets(sets []string) string {
	out := sets[0]
	for _, s := range sets[1:] {
		out += ", " + s
	}
	return out
}
