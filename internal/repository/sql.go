package repository

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// sqlRepository is the shared sqlx implementation. Queries are written with
// `?` bindvars and rebound per driver, so SQLite and Postgres share one body.
type sqlRepository struct {
	db     *sqlx.DB
	driver string
}

func (r *sqlRepository) Close() error {
	return r.db.Close()
}

// RunMigrations executes the given migration SQL as one batch.
func (r *sqlRepository) RunMigrations(migrationSQL string) error {
	_, err := r.db.Exec(migrationSQL)
	return err
}

func (r *sqlRepository) rebind(query string) string {
	return r.db.Rebind(query)
}

// isUniqueViolation classifies driver-specific duplicate-key errors.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func encodeMetadata(m map[string]string) (string, error) {
	if len(m) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("encode metadata: %w", err)
	}
	return string(b), nil
}

func decodeMetadata(raw string) (map[string]string, error) {
	m := map[string]string{}
	if raw == "" {
		return m, nil
	}
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}
	return m, nil
}
