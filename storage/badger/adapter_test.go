package badger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sig-0/fxsnap/storage"
	"github.com/sig-0/fxsnap/storage/storagetest"
	"github.com/sig-0/fxsnap/storage/types"
)

func newTestStorage(t *testing.T) *Storage {
	t.Helper()

	db, err := Open("")
	require.NoError(t, err)

	t.Cleanup(func() {
		require.NoError(t, db.Close())
	})

	return NewStorage(db)
}

func TestStorage(t *testing.T) {
	t.Parallel()

	storagetest.Run(t, func(t *testing.T) storage.Storage {
		return newTestStorage(t)
	})
}

func TestStorage_Persistence(t *testing.T) {
	t.Parallel()

	var (
		ctx = context.Background()
		dir = t.TempDir()
	)

	db, err := Open(dir)
	require.NoError(t, err)

	s := NewStorage(db)

	_, err = s.Upsert(ctx, &types.RateRecord{
		Currency: "EUR",
		Provider: "test",
		Rate:     0.9,
	})
	require.NoError(t, err)
	require.NoError(t, db.Close())

	// Reopen the same directory
	db, err = Open(dir)
	require.NoError(t, err)

	t.Cleanup(func() {
		require.NoError(t, db.Close())
	})

	s = NewStorage(db)

	rec, err := s.Get(ctx, "EUR")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, 0.9, rec.Rate)

	// The ID sequence survives restarts
	id, err := s.Upsert(ctx, &types.RateRecord{
		Currency: "GBP",
		Provider: "test",
		Rate:     0.8,
	})
	require.NoError(t, err)
	assert.Greater(t, id, rec.ID)
}
