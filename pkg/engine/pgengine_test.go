package engine

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStageEngine(t *testing.T) (*PG, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	eng, err := NewPG(context.Background(), db, t.TempDir())
	require.NoError(t, err)
	return eng, mock
}

func TestStageRoundTrip(t *testing.T) {
	eng, _ := newStageEngine(t)
	ctx := context.Background()

	require.NoError(t, eng.PutStage(ctx, "@DASH_APPS/sales/abc/manifest.json", []byte(`{"name":"sales"}`)))

	data, err := eng.GetStage(ctx, "@DASH_APPS/sales/abc/manifest.json")
	require.NoError(t, err)
	assert.Equal(t, `{"name":"sales"}`, string(data))

	files, err := eng.ListStage(ctx, "@DASH_APPS/sales")
	require.NoError(t, err)
	assert.Len(t, files, 1)

	require.NoError(t, eng.RemoveStage(ctx, "@DASH_APPS/sales/abc"))
	_, err = eng.GetStage(ctx, "@DASH_APPS/sales/abc/manifest.json")
	require.Error(t, err)
	assert.Equal(t, KindNotFound, KindOf(err))
}

func TestStagePathEscapeRejected(t *testing.T) {
	eng, _ := newStageEngine(t)
	ctx := context.Background()

	err := eng.PutStage(ctx, "../outside", []byte("x"))
	require.Error(t, err)
	assert.Equal(t, KindPermanent, KindOf(err))

	err = eng.PutStage(ctx, "/etc/passwd", []byte("x"))
	require.Error(t, err)
}

func TestSessionIsPerEngine(t *testing.T) {
	eng, mock := newStageEngine(t)
	ctx := context.Background()

	tag := `{"proc":"dash_query","session_id":"s1"}`
	mock.ExpectExec("set_config").WithArgs(tag).WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, eng.SetSession(ctx, Session{Role: "viewer", QueryTag: tag}))
	assert.Equal(t, "viewer", eng.CurrentSession().Role)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSetSessionSkipsEmptyTag(t *testing.T) {
	eng, mock := newStageEngine(t)

	require.NoError(t, eng.SetSession(context.Background(), Session{Role: "viewer"}))
	assert.NoError(t, mock.ExpectationsWereMet())
}
