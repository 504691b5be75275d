package services

import (
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/cklose2000/eventlake/pkg/events"
)

// newMockDB returns an sqlx handle backed by sqlmock. Queries are matched
// with regexp, so expectations quote the SQL they assert on.
func newMockDB(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return sqlx.NewDb(db, "sqlmock"), mock
}

// memoryRecorder captures recorded events for assertions.
type memoryRecorder struct {
	recorded []*events.Event
}

func (r *memoryRecorder) Record(e *events.Event) {
	r.recorded = append(r.recorded, e)
}
