package mock

import (
	"context"
	"time"

	"github.com/sig-0/fxsnap/storage/types"
)

type (
	ReplaceAllDelegate       func(context.Context, []*types.RateRecord) error
	UpsertDelegate           func(context.Context, *types.RateRecord) (types.RecordID, error)
	GetDelegate              func(context.Context, types.Currency) (*types.RateRecord, error)
	LookupDelegate           func(context.Context, ...types.Currency) (map[types.Currency]*types.RateRecord, error)
	ListDelegate             func(context.Context, *types.ListQuery) ([]*types.RateRecord, error)
	CommitDelegate           func(context.Context, *types.Commit) error
	SyncMetadataDelegate     func(context.Context) (*types.SyncMetadata, error)
	SaveSyncIntervalDelegate func(context.Context, time.Duration) error
)

type Storage struct {
	ReplaceAllFn       ReplaceAllDelegate
	UpsertFn           UpsertDelegate
	GetFn              GetDelegate
	LookupFn           LookupDelegate
	ListFn             ListDelegate
	CommitFn           CommitDelegate
	SyncMetadataFn     SyncMetadataDelegate
	SaveSyncIntervalFn SaveSyncIntervalDelegate
}

func (m *Storage) ReplaceAll(ctx context.Context, records []*types.RateRecord) error {
	if m.ReplaceAllFn != nil {
		return m.ReplaceAllFn(ctx, records)
	}

	return nil
}

func (m *Storage) Upsert(ctx context.Context, record *types.RateRecord) (types.RecordID, error) {
	if m.UpsertFn != nil {
		return m.UpsertFn(ctx, record)
	}

	return 0, nil
}

func (m *Storage) Get(ctx context.Context, currency types.Currency) (*types.RateRecord, error) {
	if m.GetFn != nil {
		return m.GetFn(ctx, currency)
	}

	return nil, nil
}

func (m *Storage) Lookup(
	ctx context.Context,
	currencies ...types.Currency,
) (map[types.Currency]*types.RateRecord, error) {
	if m.LookupFn != nil {
		return m.LookupFn(ctx, currencies...)
	}

	return nil, nil
}

func (m *Storage) List(ctx context.Context, query *types.ListQuery) ([]*types.RateRecord, error) {
	if m.ListFn != nil {
		return m.ListFn(ctx, query)
	}

	return nil, nil
}

func (m *Storage) Commit(ctx context.Context, commit *types.Commit) error {
	if m.CommitFn != nil {
		return m.CommitFn(ctx, commit)
	}

	return nil
}

func (m *Storage) SyncMetadata(ctx context.Context) (*types.SyncMetadata, error) {
	if m.SyncMetadataFn != nil {
		return m.SyncMetadataFn(ctx)
	}

	return &types.SyncMetadata{
		SyncInterval: types.DefaultSyncInterval,
	}, nil
}

func (m *Storage) SaveSyncInterval(ctx context.Context, interval time.Duration) error {
	if m.SaveSyncIntervalFn != nil {
		return m.SaveSyncIntervalFn(ctx, interval)
	}

	return nil
}
