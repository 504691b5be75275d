package database

import (
	"context"
	stdsql "database/sql"
	"fmt"
)

// CreateGINIndexes creates JSONB GIN indexes for PostgreSQL. These enable
// efficient containment queries on event attributes, which the projection
// views and the permission/version read paths filter on.
func CreateGINIndexes(ctx context.Context, db *stdsql.DB) error {
	// GIN index for attribute containment queries
	_, err := db.ExecContext(ctx,
		`CREATE INDEX IF NOT EXISTS idx_landing_events_attributes_gin
		ON landing.events USING gin(attributes)`)
	if err != nil {
		return fmt.Errorf("failed to create attributes GIN index: %w", err)
	}

	return nil
}
