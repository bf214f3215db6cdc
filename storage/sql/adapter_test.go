package sql

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sig-0/fxsnap/storage"
	"github.com/sig-0/fxsnap/storage/types"
)

var rateRowColumns = []string{"id", "currency", "provider", "updated_at", "rate"}

func newMockStorage(t *testing.T) (*Storage, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = db.Close()
	})

	return NewStorage(db), mock
}

func testRecord(currency string, rate float64, at time.Time) *types.RateRecord {
	return &types.RateRecord{
		Currency:  types.Currency(currency),
		Provider:  "test",
		UpdatedAt: at,
		Rate:      rate,
	}
}

func TestStorage_ReplaceAll(t *testing.T) {
	t.Parallel()

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("deletes and inserts in one transaction", func(t *testing.T) {
		t.Parallel()

		s, mock := newMockStorage(t)

		mock.ExpectBegin()
		mock.ExpectExec("LOCK TABLE currency_rate").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectExec("DELETE FROM currency_rate").WillReturnResult(sqlmock.NewResult(0, 3))
		mock.ExpectQuery("INSERT INTO currency_rate").
			WithArgs("EUR", "test", at, 0.9).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))
		mock.ExpectQuery("INSERT INTO currency_rate").
			WithArgs("GBP", "test", at, 0.8).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(2))
		mock.ExpectCommit()

		require.NoError(t, s.ReplaceAll(context.Background(), []*types.RateRecord{
			testRecord("eur", 0.9, at),
			testRecord("GBP", 0.8, at),
		}))

		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("invalid batch never reaches the DB", func(t *testing.T) {
		t.Parallel()

		s, mock := newMockStorage(t)

		err := s.ReplaceAll(context.Background(), []*types.RateRecord{
			testRecord("EUR", 0.9, at),
			testRecord("EURO", 0.8, at),
		})

		assert.ErrorIs(t, err, storage.ErrConstraintViolation)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("insert failure rolls back", func(t *testing.T) {
		t.Parallel()

		s, mock := newMockStorage(t)

		mock.ExpectBegin()
		mock.ExpectExec("LOCK TABLE currency_rate").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectExec("DELETE FROM currency_rate").WillReturnResult(sqlmock.NewResult(0, 3))
		mock.ExpectQuery("INSERT INTO currency_rate").
			WillReturnError(errors.New("connection reset"))
		mock.ExpectRollback()

		err := s.ReplaceAll(context.Background(), []*types.RateRecord{
			testRecord("EUR", 0.9, at),
		})

		assert.ErrorIs(t, err, storage.ErrIO)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("constraint failure is classified", func(t *testing.T) {
		t.Parallel()

		s, mock := newMockStorage(t)

		mock.ExpectBegin()
		mock.ExpectExec("LOCK TABLE currency_rate").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectExec("DELETE FROM currency_rate").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery("INSERT INTO currency_rate").
			WillReturnError(&pgconn.PgError{Code: "23514", Message: "check violation"})
		mock.ExpectRollback()

		err := s.ReplaceAll(context.Background(), []*types.RateRecord{
			testRecord("EUR", 0.9, at),
		})

		assert.ErrorIs(t, err, storage.ErrConstraintViolation)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestStorage_Upsert(t *testing.T) {
	t.Parallel()

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("returns the row ID", func(t *testing.T) {
		t.Parallel()

		s, mock := newMockStorage(t)

		mock.ExpectBegin()
		mock.ExpectExec("LOCK TABLE currency_rate").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(regexp.QuoteMeta("ON CONFLICT (currency) DO UPDATE")).
			WithArgs("JPY", "test", at, 150.0).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(7))
		mock.ExpectCommit()

		id, err := s.Upsert(context.Background(), testRecord("jpy", 150, at))
		require.NoError(t, err)

		assert.Equal(t, types.RecordID(7), id)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("nil record", func(t *testing.T) {
		t.Parallel()

		s, _ := newMockStorage(t)

		_, err := s.Upsert(context.Background(), nil)
		assert.ErrorIs(t, err, storage.ErrConstraintViolation)
	})
}

func TestStorage_Get(t *testing.T) {
	t.Parallel()

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("found", func(t *testing.T) {
		t.Parallel()

		s, mock := newMockStorage(t)

		mock.ExpectQuery("SELECT (.+) FROM currency_rate WHERE currency = ").
			WithArgs("EUR").
			WillReturnRows(sqlmock.NewRows(rateRowColumns).AddRow(3, "EUR", "test", at, 0.9))

		rec, err := s.Get(context.Background(), "eur")
		require.NoError(t, err)
		require.NotNil(t, rec)

		assert.Equal(t, types.RecordID(3), rec.ID)
		assert.Equal(t, types.Currency("EUR"), rec.Currency)
		assert.Equal(t, 0.9, rec.Rate)
		assert.True(t, at.Equal(rec.UpdatedAt))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing", func(t *testing.T) {
		t.Parallel()

		s, mock := newMockStorage(t)

		mock.ExpectQuery("SELECT (.+) FROM currency_rate WHERE currency = ").
			WithArgs("ZZZ").
			WillReturnRows(sqlmock.NewRows(rateRowColumns))

		rec, err := s.Get(context.Background(), "ZZZ")
		require.NoError(t, err)

		assert.Nil(t, rec)
	})

	t.Run("query failure", func(t *testing.T) {
		t.Parallel()

		s, mock := newMockStorage(t)

		mock.ExpectQuery("SELECT (.+) FROM currency_rate").
			WillReturnError(errors.New("connection refused"))

		_, err := s.Get(context.Background(), "EUR")
		assert.ErrorIs(t, err, storage.ErrIO)
	})
}

func TestStorage_Lookup(t *testing.T) {
	t.Parallel()

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("single statement", func(t *testing.T) {
		t.Parallel()

		s, mock := newMockStorage(t)

		mock.ExpectQuery(regexp.QuoteMeta("WHERE currency IN ($1, $2)")).
			WithArgs("EUR", "GBP").
			WillReturnRows(sqlmock.NewRows(rateRowColumns).
				AddRow(1, "EUR", "test", at, 0.9).
				AddRow(2, "GBP", "test", at, 0.8))

		out, err := s.Lookup(context.Background(), "eur", "GBP")
		require.NoError(t, err)

		require.Len(t, out, 2)
		assert.Equal(t, 0.9, out["EUR"].Rate)
		assert.Equal(t, 0.8, out["GBP"].Rate)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("no currencies", func(t *testing.T) {
		t.Parallel()

		s, mock := newMockStorage(t)

		out, err := s.Lookup(context.Background())
		require.NoError(t, err)

		assert.Empty(t, out)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestStorage_List(t *testing.T) {
	t.Parallel()

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("filters and order", func(t *testing.T) {
		t.Parallel()

		var (
			s, mock = newMockStorage(t)

			provider = "test"
			query    = &types.ListQuery{
				Provider:   &provider,
				OrderBy:    types.OrderByRate,
				Descending: true,
			}
		)

		mock.ExpectQuery(regexp.QuoteMeta("WHERE provider = $1 ORDER BY rate DESC, currency DESC")).
			WithArgs("test").
			WillReturnRows(sqlmock.NewRows(rateRowColumns).
				AddRow(3, "JPY", "test", at, 150.0).
				AddRow(1, "EUR", "test", at, 0.9))

		out, err := s.List(context.Background(), query)
		require.NoError(t, err)

		require.Len(t, out, 2)
		assert.Equal(t, types.Currency("JPY"), out[0].Currency)
		assert.Equal(t, types.Currency("EUR"), out[1].Currency)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown order", func(t *testing.T) {
		t.Parallel()

		s, _ := newMockStorage(t)

		_, err := s.List(context.Background(), &types.ListQuery{OrderBy: "volume"})
		assert.Error(t, err)
	})
}

func TestBuildListQuery(t *testing.T) {
	t.Parallel()

	var (
		id       = types.RecordID(4)
		currency = types.Currency("usd")
	)

	stmt, args, err := buildListQuery(&types.ListQuery{
		ID:       &id,
		Currency: &currency,
	})
	require.NoError(t, err)

	assert.Equal(
		t,
		"SELECT "+rateColumns+" FROM currency_rate WHERE id = $1 AND currency = $2 ORDER BY currency ASC",
		stmt,
	)
	assert.Equal(t, []any{int64(4), "USD"}, args)
}

func TestStorage_Commit(t *testing.T) {
	t.Parallel()

	var (
		at     = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
		synced = at.Add(time.Minute)
	)

	t.Run("replace with base and metadata", func(t *testing.T) {
		t.Parallel()

		s, mock := newMockStorage(t)

		mock.ExpectBegin()
		mock.ExpectExec("LOCK TABLE currency_rate").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectExec("DELETE FROM currency_rate").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery("INSERT INTO currency_rate").
			WithArgs("EUR", "test", at, 0.9).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))
		mock.ExpectQuery("INSERT INTO currency_rate").
			WithArgs("USD", "test", at, 1.0).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(2))
		mock.ExpectExec("INSERT INTO sync_metadata").
			WithArgs(synced).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		require.NoError(t, s.Commit(context.Background(), &types.Commit{
			SyncedAt: synced,
			Base:     testRecord("USD", 1, at),
			Records:  []*types.RateRecord{testRecord("EUR", 0.9, at)},
			Replace:  true,
		}))

		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("upsert without replace", func(t *testing.T) {
		t.Parallel()

		s, mock := newMockStorage(t)

		mock.ExpectBegin()
		mock.ExpectExec("LOCK TABLE currency_rate").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery("INSERT INTO currency_rate").
			WithArgs("EUR", "test", at, 0.9).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))
		mock.ExpectExec("INSERT INTO sync_metadata").
			WithArgs(synced).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		require.NoError(t, s.Commit(context.Background(), &types.Commit{
			SyncedAt: synced,
			Records:  []*types.RateRecord{testRecord("EUR", 0.9, at)},
		}))

		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("metadata failure rolls back", func(t *testing.T) {
		t.Parallel()

		s, mock := newMockStorage(t)

		mock.ExpectBegin()
		mock.ExpectExec("LOCK TABLE currency_rate").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectExec("DELETE FROM currency_rate").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectExec("INSERT INTO sync_metadata").
			WillReturnError(errors.New("disk full"))
		mock.ExpectRollback()

		err := s.Commit(context.Background(), &types.Commit{
			SyncedAt: synced,
			Replace:  true,
		})

		assert.ErrorIs(t, err, storage.ErrIO)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("invalid base", func(t *testing.T) {
		t.Parallel()

		s, mock := newMockStorage(t)

		err := s.Commit(context.Background(), &types.Commit{
			SyncedAt: synced,
			Base:     testRecord("", 1, at),
		})

		assert.ErrorIs(t, err, storage.ErrConstraintViolation)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestStorage_SyncMetadata(t *testing.T) {
	t.Parallel()

	t.Run("never synced", func(t *testing.T) {
		t.Parallel()

		s, mock := newMockStorage(t)

		mock.ExpectQuery("SELECT last_sync_at, sync_interval_millis FROM sync_metadata").
			WillReturnRows(sqlmock.NewRows([]string{"last_sync_at", "sync_interval_millis"}).
				AddRow(nil, int64(21600000)))

		meta, err := s.SyncMetadata(context.Background())
		require.NoError(t, err)

		assert.False(t, meta.Synced())
		assert.Equal(t, types.DefaultSyncInterval, meta.SyncInterval)
	})

	t.Run("synced", func(t *testing.T) {
		t.Parallel()

		var (
			s, mock = newMockStorage(t)

			at = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
		)

		mock.ExpectQuery("SELECT last_sync_at, sync_interval_millis FROM sync_metadata").
			WillReturnRows(sqlmock.NewRows([]string{"last_sync_at", "sync_interval_millis"}).
				AddRow(at, int64(60000)))

		meta, err := s.SyncMetadata(context.Background())
		require.NoError(t, err)

		assert.True(t, meta.Synced())
		assert.True(t, at.Equal(meta.LastSyncAt))
		assert.Equal(t, time.Minute, meta.SyncInterval)
	})

	t.Run("missing row", func(t *testing.T) {
		t.Parallel()

		s, mock := newMockStorage(t)

		mock.ExpectQuery("SELECT last_sync_at, sync_interval_millis FROM sync_metadata").
			WillReturnRows(sqlmock.NewRows([]string{"last_sync_at", "sync_interval_millis"}))

		meta, err := s.SyncMetadata(context.Background())
		require.NoError(t, err)

		assert.False(t, meta.Synced())
		assert.Equal(t, types.DefaultSyncInterval, meta.SyncInterval)
	})
}

func TestStorage_SaveSyncInterval(t *testing.T) {
	t.Parallel()

	t.Run("saved in millis", func(t *testing.T) {
		t.Parallel()

		s, mock := newMockStorage(t)

		mock.ExpectExec("INSERT INTO sync_metadata").
			WithArgs(int64(3600000)).
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, s.SaveSyncInterval(context.Background(), time.Hour))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("non-positive interval", func(t *testing.T) {
		t.Parallel()

		s, _ := newMockStorage(t)

		assert.ErrorIs(t, s.SaveSyncInterval(context.Background(), 0), storage.ErrConstraintViolation)
	})
}
