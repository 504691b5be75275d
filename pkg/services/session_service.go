package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/cklose2000/eventlake/pkg/events"
)

// SessionService manages analytics session lifecycle. Sessions are not rows
// anywhere: starting and ending a session are ordinary events, and stats are
// an aggregation over the projection.
type SessionService struct {
	db       *sqlx.DB
	recorder events.Recorder
}

// NewSessionService creates a new SessionService
func NewSessionService(db *sqlx.DB, recorder events.Recorder) *SessionService {
	return &SessionService{db: db, recorder: recorder}
}

// StartSession mints a session id and records the start event.
func (s *SessionService) StartSession(ctx context.Context, actorID string, attrs map[string]any) (string, error) {
	if actorID == "" {
		return "", NewValidationError("actor_id", "required")
	}
	sessionID := uuid.NewString()
	s.recorder.Record(events.New(events.ActionSessionStarted, sessionID, actorID, attrs))
	return sessionID, nil
}

// EndSession records the end event for a session.
func (s *SessionService) EndSession(ctx context.Context, sessionID, actorID string) error {
	if sessionID == "" {
		return NewValidationError("session_id", "required")
	}
	if actorID == "" {
		return NewValidationError("actor_id", "required")
	}
	s.recorder.Record(events.New(events.ActionSessionEnded, sessionID, actorID, nil))
	return nil
}

// SessionStats aggregates everything a session did.
type SessionStats struct {
	SessionID           string     `json:"session_id" db:"-"`
	StartedAt           *time.Time `json:"started_at" db:"started_at"`
	EndedAt             *time.Time `json:"ended_at" db:"ended_at"`
	EventCount          int64      `json:"event_count" db:"event_count"`
	QueryCount          int64      `json:"query_count" db:"query_count"`
	RowsReturned        int64      `json:"rows_returned" db:"rows_returned"`
	BytesScanned        int64      `json:"bytes_scanned" db:"bytes_scanned"`
	DashboardsPublished int64      `json:"dashboards_published" db:"dashboards_published"`
}

const sessionStatsQuery = `
SELECT
  count(*) AS event_count,
  min(occurred_at) FILTER (WHERE action = 'ccode.session.started') AS started_at,
  max(occurred_at) FILTER (WHERE action = 'ccode.session.ended') AS ended_at,
  count(*) FILTER (WHERE action = 'ccode.mcp.query_executed') AS query_count,
  coalesce(sum((attributes->>'rows')::BIGINT) FILTER (WHERE action = 'ccode.mcp.query_executed'), 0) AS rows_returned,
  coalesce(sum((attributes->>'bytes')::BIGINT) FILTER (WHERE action = 'ccode.mcp.query_executed'), 0) AS bytes_scanned,
  count(*) FILTER (WHERE action = 'dashboard.version.active') AS dashboards_published
FROM ACTIVITY.EVENTS
WHERE session_id = $1`

// GetSessionStats aggregates the projection for one session. A session with
// no events at all is treated as not found.
func (s *SessionService) GetSessionStats(ctx context.Context, sessionID string) (*SessionStats, error) {
	if sessionID == "" {
		return nil, NewValidationError("session_id", "required")
	}
	var stats SessionStats
	if err := s.db.GetContext(ctx, &stats, sessionStatsQuery, sessionID); err != nil {
		return nil, fmt.Errorf("failed to aggregate session stats: %w", err)
	}
	if stats.EventCount == 0 {
		return nil, ErrNotFound
	}
	stats.SessionID = sessionID
	return &stats, nil
}
