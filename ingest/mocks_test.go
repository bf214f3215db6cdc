package ingest

import (
	"context"
	"sync"

	"github.com/sig-0/fxsnap/provider"
	"github.com/sig-0/fxsnap/storage/types"
)

type (
	nameDelegate  func() string
	baseDelegate  func() types.Currency
	fetchDelegate func(context.Context) (*provider.FetchResult, error)
	syncDelegate  func(context.Context, bool, Sink) Result
)

type mockProvider struct {
	nameFn  nameDelegate
	baseFn  baseDelegate
	fetchFn fetchDelegate
}

func (m *mockProvider) Name() string {
	if m.nameFn != nil {
		return m.nameFn()
	}

	return ""
}

func (m *mockProvider) BaseCurrency() types.Currency {
	if m.baseFn != nil {
		return m.baseFn()
	}

	return ""
}

func (m *mockProvider) Fetch(ctx context.Context) (*provider.FetchResult, error) {
	if m.fetchFn != nil {
		return m.fetchFn(ctx)
	}

	return nil, nil
}

type mockSyncer struct {
	syncFn syncDelegate
}

func (m *mockSyncer) Sync(ctx context.Context, force bool, sink Sink) Result {
	if m.syncFn != nil {
		return m.syncFn(ctx, force, sink)
	}

	return Result{}
}

// recordingSink records every delivered event
type recordingSink struct {
	events []Event
	mux    sync.Mutex
}

func (r *recordingSink) Send(_ context.Context, ev Event) {
	r.mux.Lock()
	defer r.mux.Unlock()

	r.events = append(r.events, ev)
}

func (r *recordingSink) Events() []Event {
	r.mux.Lock()
	defer r.mux.Unlock()

	return append([]Event(nil), r.events...)
}
