package services

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cklose2000/eventlake/pkg/events"
)

func TestSessionLifecycle(t *testing.T) {
	t.Run("start mints an id and records the event", func(t *testing.T) {
		db, _ := newMockDB(t)
		rec := &memoryRecorder{}
		svc := NewSessionService(db, rec)

		id, err := svc.StartSession(context.Background(), "analyst-7", map[string]any{"client": "cli"})
		require.NoError(t, err)
		assert.NotEmpty(t, id)
		require.Len(t, rec.recorded, 1)
		assert.Equal(t, events.ActionSessionStarted, rec.recorded[0].Action)
		assert.Equal(t, id, rec.recorded[0].SessionID)
		assert.Equal(t, "cli", rec.recorded[0].Attributes["client"])
	})

	t.Run("start requires an actor", func(t *testing.T) {
		db, _ := newMockDB(t)
		svc := NewSessionService(db, &memoryRecorder{})
		_, err := svc.StartSession(context.Background(), "", nil)
		assert.True(t, IsValidationError(err))
	})

	t.Run("end records the event", func(t *testing.T) {
		db, _ := newMockDB(t)
		rec := &memoryRecorder{}
		svc := NewSessionService(db, rec)

		require.NoError(t, svc.EndSession(context.Background(), "sess-1", "analyst-7"))
		require.Len(t, rec.recorded, 1)
		assert.Equal(t, events.ActionSessionEnded, rec.recorded[0].Action)
		assert.Equal(t, "sess-1", rec.recorded[0].SessionID)
	})
}

func TestGetSessionStats(t *testing.T) {
	cols := []string{
		"event_count", "started_at", "ended_at", "query_count",
		"rows_returned", "bytes_scanned", "dashboards_published",
	}

	t.Run("aggregates the projection", func(t *testing.T) {
		db, mock := newMockDB(t)
		started := time.Date(2026, 8, 26, 9, 0, 0, 0, time.UTC)
		ended := started.Add(42 * time.Minute)
		mock.ExpectQuery("session_id").
			WithArgs("sess-1").
			WillReturnRows(sqlmock.NewRows(cols).
				AddRow(17, started, ended, 4, 380, 92160, 1))

		svc := NewSessionService(db, &memoryRecorder{})
		stats, err := svc.GetSessionStats(context.Background(), "sess-1")
		require.NoError(t, err)
		assert.Equal(t, "sess-1", stats.SessionID)
		assert.Equal(t, int64(17), stats.EventCount)
		assert.Equal(t, int64(4), stats.QueryCount)
		assert.Equal(t, int64(380), stats.RowsReturned)
		assert.Equal(t, int64(92160), stats.BytesScanned)
		assert.Equal(t, int64(1), stats.DashboardsPublished)
		require.NotNil(t, stats.StartedAt)
		assert.Equal(t, started, stats.StartedAt.UTC())
	})

	t.Run("session with no events is not found", func(t *testing.T) {
		db, mock := newMockDB(t)
		mock.ExpectQuery("session_id").
			WithArgs("ghost").
			WillReturnRows(sqlmock.NewRows(cols).
				AddRow(0, nil, nil, 0, 0, 0, 0))

		svc := NewSessionService(db, &memoryRecorder{})
		_, err := svc.GetSessionStats(context.Background(), "ghost")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}
