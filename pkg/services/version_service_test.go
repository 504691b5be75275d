package services

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVersionService(t *testing.T) {
	t.Run("active version is the newest activation", func(t *testing.T) {
		db, mock := newMockDB(t)
		mock.ExpectQuery("dashboard.version.active").
			WithArgs("team-activity", 1).
			WillReturnRows(sqlmock.NewRows([]string{"hash"}).AddRow("bbbb2222"))

		svc := NewVersionService(db)
		active, err := svc.ActiveVersion(context.Background(), "team-activity")
		require.NoError(t, err)
		assert.Equal(t, "bbbb2222", active)
	})

	t.Run("never published means empty hash", func(t *testing.T) {
		db, mock := newMockDB(t)
		mock.ExpectQuery("dashboard.version.active").
			WithArgs("ghost", 1).
			WillReturnRows(sqlmock.NewRows([]string{"hash"}))

		svc := NewVersionService(db)
		active, err := svc.ActiveVersion(context.Background(), "ghost")
		require.NoError(t, err)
		assert.Empty(t, active)
	})

	t.Run("previous skips reasserted duplicates of the active hash", func(t *testing.T) {
		db, mock := newMockDB(t)
		mock.ExpectQuery("dashboard.version.active").
			WithArgs("team-activity", activationHistoryLimit).
			WillReturnRows(sqlmock.NewRows([]string{"hash"}).
				AddRow("bbbb2222").
				AddRow("bbbb2222").
				AddRow("aaaa1111"))

		svc := NewVersionService(db)
		previous, err := svc.PreviousVersion(context.Background(), "team-activity")
		require.NoError(t, err)
		assert.Equal(t, "aaaa1111", previous)
	})

	t.Run("single version has no previous", func(t *testing.T) {
		db, mock := newMockDB(t)
		mock.ExpectQuery("dashboard.version.active").
			WithArgs("team-activity", activationHistoryLimit).
			WillReturnRows(sqlmock.NewRows([]string{"hash"}).AddRow("bbbb2222"))

		svc := NewVersionService(db)
		previous, err := svc.PreviousVersion(context.Background(), "team-activity")
		require.NoError(t, err)
		assert.Empty(t, previous)
	})
}
