package journal

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMemorySQLite(t *testing.T) *SQLiteSink {
	t.Helper()
	sink, err := NewSQLiteSink(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { sink.Close() })
	return sink
}

func TestSQLiteSink_AppendAndRecent(t *testing.T) {
	sink := newMemorySQLite(t)
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 9, 30, 0, 123456789, time.UTC)

	first := NewEntry("module.installed", "crm", base)
	second := NewEntry("module.installed", "sales", base.Add(time.Second))
	third := NewEntry("engine.shutdown", "", base.Add(2*time.Second))
	for _, e := range []Entry{first, second, third} {
		require.NoError(t, sink.Append(ctx, e))
	}

	all, err := sink.Recent(ctx, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, third.ID, all[0].ID)
	assert.Equal(t, second.ID, all[1].ID)
	assert.Equal(t, first.ID, all[2].ID)
	assert.Equal(t, "sales", all[1].Module)
	assert.Empty(t, all[0].Module)
	assert.True(t, first.At.Equal(all[2].At))

	latest, err := sink.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, latest, 2)
	assert.Equal(t, third.ID, latest[0].ID)
}

func TestSQLiteSink_EmptyJournal(t *testing.T) {
	sink := newMemorySQLite(t)

	entries, err := sink.Recent(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestSQLiteSink_CreateTableError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS kernel_journal`).
		WillReturnError(errors.New("disk I/O error"))

	_, err = NewSQLiteSinkWithDB(context.Background(), db)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to create journal table")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLiteSink_AppendError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS kernel_journal`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`INSERT INTO kernel_journal`).
		WithArgs(sqlmock.AnyArg(), "module.installed", "crm", sqlmock.AnyArg()).
		WillReturnError(errors.New("database is locked"))

	sink, err := NewSQLiteSinkWithDB(context.Background(), db)
	require.NoError(t, err)

	err = sink.Append(context.Background(), NewEntry("module.installed", "crm", time.Now()))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database is locked")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLiteSink_RecentErrors(t *testing.T) {
	t.Run("query fails", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectExec(`CREATE TABLE IF NOT EXISTS kernel_journal`).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(`SELECT id, event, module, at FROM kernel_journal`).
			WithArgs(sqlmock.AnyArg()).
			WillReturnError(errors.New("no such table"))

		sink, err := NewSQLiteSinkWithDB(context.Background(), db)
		require.NoError(t, err)

		_, err = sink.Recent(context.Background(), 5)
		assert.ErrorContains(t, err, "failed to query journal")
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("corrupt id", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectExec(`CREATE TABLE IF NOT EXISTS kernel_journal`).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(`SELECT id, event, module, at FROM kernel_journal`).
			WithArgs(sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows([]string{"id", "event", "module", "at"}).
				AddRow("not-a-uuid", "module.installed", "crm", int64(1)))

		sink, err := NewSQLiteSinkWithDB(context.Background(), db)
		require.NoError(t, err)

		_, err = sink.Recent(context.Background(), 0)
		assert.ErrorContains(t, err, "invalid journal entry id")
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
