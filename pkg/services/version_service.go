package services

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// VersionService answers which dashboard version is live by replaying the
// activation history. Both version.active and rollback.executed move the
// pointer; the newest event wins.
type VersionService struct {
	db *sqlx.DB
}

// NewVersionService creates a new VersionService
func NewVersionService(db *sqlx.DB) *VersionService {
	return &VersionService{db: db}
}

// activationHistoryLimit caps how far back PreviousVersion searches for a
// hash distinct from the active one.
const activationHistoryLimit = 100

const activationsQuery = `
SELECT coalesce(attributes->>'hash', attributes->>'to_hash') AS hash
FROM ACTIVITY.EVENTS
WHERE action IN ('dashboard.version.active', 'dashboard.rollback.executed')
  AND attributes->>'name' = $1
ORDER BY occurred_at DESC
LIMIT $2`

// ActiveVersion implements dashboard.VersionSource.
func (s *VersionService) ActiveVersion(ctx context.Context, name string) (string, error) {
	hashes, err := s.activations(ctx, name, 1)
	if err != nil {
		return "", err
	}
	if len(hashes) == 0 {
		return "", nil
	}
	return hashes[0], nil
}

// PreviousVersion implements dashboard.VersionSource. Republishing the same
// hash does not count as a version change, so the previous version is the
// newest activation whose hash differs from the active one.
func (s *VersionService) PreviousVersion(ctx context.Context, name string) (string, error) {
	hashes, err := s.activations(ctx, name, activationHistoryLimit)
	if err != nil {
		return "", err
	}
	if len(hashes) == 0 {
		return "", nil
	}
	active := hashes[0]
	for _, h := range hashes[1:] {
		if h != active {
			return h, nil
		}
	}
	return "", nil
}

func (s *VersionService) activations(ctx context.Context, name string, limit int) ([]string, error) {
	var hashes []string
	if err := s.db.SelectContext(ctx, &hashes, activationsQuery, name, limit); err != nil {
		return nil, fmt.Errorf("failed to load activation events: %w", err)
	}
	return hashes, nil
}
