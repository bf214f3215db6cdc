// Package storagetest contains the behavior suite every storage backend
// needs to pass
package storagetest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sig-0/fxsnap/storage"
	"github.com/sig-0/fxsnap/storage/types"
)

const testProvider = "test-provider"

// Factory creates a fresh, empty storage instance for a single test
type Factory func(t *testing.T) storage.Storage

// Run runs the storage behavior suite against the backend
func Run(t *testing.T, newStorage Factory) {
	t.Helper()

	t.Run("replace all", func(t *testing.T) {
		t.Parallel()

		var (
			ctx = context.Background()
			s   = newStorage(t)
		)

		require.NoError(t, s.ReplaceAll(ctx, records("EUR", 0.9, "GBP", 0.8)))
		require.NoError(t, s.ReplaceAll(ctx, records("JPY", 150.0, "EUR", 0.95)))

		list, err := s.List(ctx, nil)
		require.NoError(t, err)

		require.Len(t, list, 2)
		assert.Equal(t, types.Currency("EUR"), list[0].Currency)
		assert.Equal(t, 0.95, list[0].Rate)
		assert.Equal(t, types.Currency("JPY"), list[1].Currency)

		gbp, err := s.Get(ctx, "GBP")
		require.NoError(t, err)
		assert.Nil(t, gbp)
	})

	t.Run("replace all with empty batch", func(t *testing.T) {
		t.Parallel()

		var (
			ctx = context.Background()
			s   = newStorage(t)
		)

		require.NoError(t, s.ReplaceAll(ctx, records("EUR", 0.9)))
		require.NoError(t, s.ReplaceAll(ctx, nil))

		list, err := s.List(ctx, nil)
		require.NoError(t, err)
		assert.Empty(t, list)
	})

	t.Run("replace all rejects invalid batch", func(t *testing.T) {
		t.Parallel()

		var (
			ctx = context.Background()
			s   = newStorage(t)
		)

		require.NoError(t, s.ReplaceAll(ctx, records("EUR", 0.9)))

		invalid := append(records("GBP", 0.8), &types.RateRecord{
			Currency: "TOOLONG",
			Provider: testProvider,
			Rate:     1,
		})

		assert.ErrorIs(t, s.ReplaceAll(ctx, invalid), storage.ErrConstraintViolation)

		// The previous state is untouched
		list, err := s.List(ctx, nil)
		require.NoError(t, err)

		require.Len(t, list, 1)
		assert.Equal(t, types.Currency("EUR"), list[0].Currency)
	})

	t.Run("replace all keeps last duplicate", func(t *testing.T) {
		t.Parallel()

		var (
			ctx = context.Background()
			s   = newStorage(t)
		)

		require.NoError(t, s.ReplaceAll(ctx, records("EUR", 0.9, "eur", 0.91)))

		list, err := s.List(ctx, nil)
		require.NoError(t, err)

		require.Len(t, list, 1)
		assert.Equal(t, 0.91, list[0].Rate)
	})

	t.Run("get is case insensitive", func(t *testing.T) {
		t.Parallel()

		var (
			ctx = context.Background()
			s   = newStorage(t)
		)

		require.NoError(t, s.ReplaceAll(ctx, records("eur", 0.9)))

		rec, err := s.Get(ctx, "Eur")
		require.NoError(t, err)
		require.NotNil(t, rec)

		assert.Equal(t, types.Currency("EUR"), rec.Currency)
		assert.Equal(t, testProvider, rec.Provider)
		assert.Equal(t, 0.9, rec.Rate)
		assert.NotZero(t, rec.ID)
	})

	t.Run("upsert uniqueness", func(t *testing.T) {
		t.Parallel()

		var (
			ctx = context.Background()
			s   = newStorage(t)
		)

		require.NoError(t, s.ReplaceAll(ctx, records("EUR", 0.9, "GBP", 0.8)))

		before, err := s.Get(ctx, "EUR")
		require.NoError(t, err)
		require.NotNil(t, before)

		updatedAt := time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC)

		id, err := s.Upsert(ctx, &types.RateRecord{
			Currency:  "EUR",
			Provider:  "other",
			UpdatedAt: updatedAt,
			Rate:      0.92,
		})
		require.NoError(t, err)
		assert.Equal(t, before.ID, id)

		currency := types.Currency("EUR")

		list, err := s.List(ctx, &types.ListQuery{Currency: &currency})
		require.NoError(t, err)

		require.Len(t, list, 1)
		assert.Equal(t, "other", list[0].Provider)
		assert.Equal(t, 0.92, list[0].Rate)
		assert.True(t, updatedAt.Equal(list[0].UpdatedAt))

		all, err := s.List(ctx, nil)
		require.NoError(t, err)
		assert.Len(t, all, 2)
	})

	t.Run("upsert new currency", func(t *testing.T) {
		t.Parallel()

		var (
			ctx = context.Background()
			s   = newStorage(t)
		)

		id, err := s.Upsert(ctx, &types.RateRecord{
			Currency: "usd",
			Provider: testProvider,
			Rate:     1,
		})
		require.NoError(t, err)
		assert.NotZero(t, id)

		rec, err := s.Get(ctx, "USD")
		require.NoError(t, err)
		require.NotNil(t, rec)
		assert.Equal(t, id, rec.ID)
	})

	t.Run("upsert rejects invalid record", func(t *testing.T) {
		t.Parallel()

		var (
			ctx = context.Background()
			s   = newStorage(t)
		)

		_, err := s.Upsert(ctx, &types.RateRecord{
			Currency: "EUR",
			Rate:     1,
		})

		assert.ErrorIs(t, err, storage.ErrConstraintViolation)
	})

	t.Run("lookup", func(t *testing.T) {
		t.Parallel()

		var (
			ctx = context.Background()
			s   = newStorage(t)
		)

		require.NoError(t, s.ReplaceAll(ctx, records("EUR", 0.9, "GBP", 0.8)))

		found, err := s.Lookup(ctx, "eur", "GBP", "ZZZ")
		require.NoError(t, err)

		require.Len(t, found, 2)
		assert.Equal(t, 0.9, found["EUR"].Rate)
		assert.Equal(t, 0.8, found["GBP"].Rate)
	})

	t.Run("list filters and order", func(t *testing.T) {
		t.Parallel()

		var (
			ctx = context.Background()
			s   = newStorage(t)
		)

		require.NoError(t, s.ReplaceAll(ctx, records("EUR", 0.9, "GBP", 0.8, "JPY", 150.0)))

		_, err := s.Upsert(ctx, &types.RateRecord{
			Currency: "USD",
			Provider: "base",
			Rate:     1,
		})
		require.NoError(t, err)

		list, err := s.List(ctx, &types.ListQuery{
			OrderBy:    types.OrderByRate,
			Descending: true,
		})
		require.NoError(t, err)
		require.Len(t, list, 4)

		assert.Equal(t, types.Currency("JPY"), list[0].Currency)
		assert.Equal(t, types.Currency("USD"), list[1].Currency)
		assert.Equal(t, types.Currency("EUR"), list[2].Currency)
		assert.Equal(t, types.Currency("GBP"), list[3].Currency)

		provider := "base"

		list, err = s.List(ctx, &types.ListQuery{Provider: &provider})
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, types.Currency("USD"), list[0].Currency)

		id := list[0].ID

		list, err = s.List(ctx, &types.ListQuery{ID: &id})
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, types.Currency("USD"), list[0].Currency)
	})

	t.Run("commit with replace", func(t *testing.T) {
		t.Parallel()

		var (
			ctx      = context.Background()
			s        = newStorage(t)
			syncedAt = time.Date(2026, time.April, 2, 10, 0, 0, 0, time.UTC)
		)

		require.NoError(t, s.ReplaceAll(ctx, records("GBP", 0.8)))

		require.NoError(t, s.Commit(ctx, &types.Commit{
			Records:  records("EUR", 0.9),
			Replace:  true,
			Base:     baseRecord(syncedAt),
			SyncedAt: syncedAt,
		}))

		list, err := s.List(ctx, nil)
		require.NoError(t, err)

		require.Len(t, list, 2)
		assert.Equal(t, types.Currency("EUR"), list[0].Currency)
		assert.Equal(t, types.Currency("USD"), list[1].Currency)
		assert.Equal(t, 1.0, list[1].Rate)

		meta, err := s.SyncMetadata(ctx)
		require.NoError(t, err)
		assert.True(t, syncedAt.Equal(meta.LastSyncAt))
	})

	t.Run("commit without replace keeps rows", func(t *testing.T) {
		t.Parallel()

		var (
			ctx      = context.Background()
			s        = newStorage(t)
			syncedAt = time.Date(2026, time.April, 2, 10, 0, 0, 0, time.UTC)
		)

		require.NoError(t, s.ReplaceAll(ctx, records("GBP", 0.8)))

		require.NoError(t, s.Commit(ctx, &types.Commit{
			Base:     baseRecord(syncedAt),
			SyncedAt: syncedAt,
		}))

		list, err := s.List(ctx, nil)
		require.NoError(t, err)

		require.Len(t, list, 2)
		assert.Equal(t, types.Currency("GBP"), list[0].Currency)
		assert.Equal(t, types.Currency("USD"), list[1].Currency)
	})

	t.Run("invalid commit leaves state untouched", func(t *testing.T) {
		t.Parallel()

		var (
			ctx      = context.Background()
			s        = newStorage(t)
			syncedAt = time.Date(2026, time.April, 2, 10, 0, 0, 0, time.UTC)
		)

		require.NoError(t, s.ReplaceAll(ctx, records("GBP", 0.8)))

		base := baseRecord(syncedAt)
		base.Provider = ""

		err := s.Commit(ctx, &types.Commit{
			Records:  records("EUR", 0.9),
			Replace:  true,
			Base:     base,
			SyncedAt: syncedAt,
		})
		assert.ErrorIs(t, err, storage.ErrConstraintViolation)

		list, err := s.List(ctx, nil)
		require.NoError(t, err)

		require.Len(t, list, 1)
		assert.Equal(t, types.Currency("GBP"), list[0].Currency)

		meta, err := s.SyncMetadata(ctx)
		require.NoError(t, err)
		assert.False(t, meta.Synced())
	})

	t.Run("sync metadata", func(t *testing.T) {
		t.Parallel()

		var (
			ctx = context.Background()
			s   = newStorage(t)
		)

		meta, err := s.SyncMetadata(ctx)
		require.NoError(t, err)

		assert.False(t, meta.Synced())
		assert.Equal(t, types.DefaultSyncInterval, meta.SyncInterval)

		require.NoError(t, s.SaveSyncInterval(ctx, time.Minute))

		meta, err = s.SyncMetadata(ctx)
		require.NoError(t, err)
		assert.Equal(t, time.Minute, meta.SyncInterval)

		assert.ErrorIs(t, s.SaveSyncInterval(ctx, 0), storage.ErrConstraintViolation)
	})

	t.Run("concurrent replace is atomic", func(t *testing.T) {
		t.Parallel()

		var (
			ctx = context.Background()
			s   = newStorage(t)

			batchA = records("EUR", 0.9, "GBP", 0.8)
			batchB = records("JPY", 150.0, "CHF", 0.88)
		)

		require.NoError(t, s.ReplaceAll(ctx, batchA))

		var (
			wg       sync.WaitGroup
			done     = make(chan struct{})
			failures = make(chan string, 100)
		)

		wg.Add(1)

		go func() {
			defer wg.Done()

			for i := 0; i < 50; i++ {
				batch := batchA
				if i%2 == 0 {
					batch = batchB
				}

				if err := s.ReplaceAll(ctx, batch); err != nil {
					failures <- err.Error()
				}
			}

			close(done)
		}()

		wg.Add(1)

		go func() {
			defer wg.Done()

			for {
				select {
				case <-done:
					return
				default:
				}

				list, err := s.List(ctx, nil)
				if err != nil {
					failures <- err.Error()

					return
				}

				if reason := checkSnapshot(list); reason != "" {
					failures <- reason

					return
				}
			}
		}()

		wg.Wait()
		close(failures)

		for reason := range failures {
			t.Error(reason)
		}
	})
}

// checkSnapshot verifies the listing is exactly one of the two batches
// used by the concurrency check
func checkSnapshot(list []*types.RateRecord) string {
	seen := make(map[types.Currency]bool, len(list))
	for _, r := range list {
		seen[r.Currency] = true
	}

	switch {
	case len(list) == 2 && seen["EUR"] && seen["GBP"]:
		return ""
	case len(list) == 2 && seen["JPY"] && seen["CHF"]:
		return ""
	default:
		return fmt.Sprintf("observed a mixed snapshot: %v", seen)
	}
}

// records builds test records from (currency, rate) pairs
func records(pairs ...any) []*types.RateRecord {
	out := make([]*types.RateRecord, 0, len(pairs)/2)

	for i := 0; i+1 < len(pairs); i += 2 {
		out = append(out, &types.RateRecord{
			Currency:  types.Currency(pairs[i].(string)), //nolint:forcetypeassert // test helper
			Provider:  testProvider,
			UpdatedAt: time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC),
			Rate:      pairs[i+1].(float64), //nolint:forcetypeassert // test helper
		})
	}

	return out
}

func baseRecord(at time.Time) *types.RateRecord {
	return &types.RateRecord{
		Currency:  "USD",
		Provider:  testProvider,
		UpdatedAt: at,
		Rate:      1.0,
	}
}
