// Package services provides read models over the activity projection.
// Every query in this package reads views; nothing here writes SQL.
package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/cklose2000/eventlake/pkg/guard"
)

// PermissionService resolves caller budgets from permission events. The
// latest grant or revoke for a grantee wins; callers with no grant (or a
// revoke as their latest event) fall back to the viewer defaults.
type PermissionService struct {
	db *sqlx.DB
}

// NewPermissionService creates a new PermissionService
func NewPermissionService(db *sqlx.DB) *PermissionService {
	return &PermissionService{db: db}
}

const latestPermissionQuery = `
SELECT action, attributes
FROM ACTIVITY.EVENTS
WHERE action IN ('system.permission.granted', 'system.permission.revoked')
  AND attributes->>'grantee' = $1
ORDER BY occurred_at DESC
LIMIT 1`

// BudgetFor implements guard.PermissionSource.
func (s *PermissionService) BudgetFor(ctx context.Context, actorID string) (guard.Budget, bool, error) {
	var row struct {
		Action     string `db:"action"`
		Attributes []byte `db:"attributes"`
	}
	err := s.db.GetContext(ctx, &row, latestPermissionQuery, actorID)
	if errors.Is(err, sql.ErrNoRows) {
		return guard.Budget{}, false, nil
	}
	if err != nil {
		return guard.Budget{}, false, fmt.Errorf("failed to load permission events: %w", err)
	}
	if row.Action != "system.permission.granted" {
		return guard.Budget{}, false, nil
	}

	var attrs struct {
		MaxRows     int   `json:"max_rows"`
		MaxRuntimeS int   `json:"max_runtime_s"`
		MaxBytes    int64 `json:"max_bytes"`
	}
	if err := json.Unmarshal(row.Attributes, &attrs); err != nil {
		return guard.Budget{}, false, fmt.Errorf("failed to parse grant attributes: %w", err)
	}

	budget := guard.DefaultBudget()
	if attrs.MaxRows > 0 {
		budget.MaxRows = attrs.MaxRows
	}
	if attrs.MaxRuntimeS > 0 {
		budget.MaxRuntime = time.Duration(attrs.MaxRuntimeS) * time.Second
	}
	if attrs.MaxBytes > 0 {
		budget.MaxBytes = attrs.MaxBytes
	}
	return budget, true, nil
}
