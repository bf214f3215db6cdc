package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/xid"

	"github.com/sig-0/fxsnap/provider"
	"github.com/sig-0/fxsnap/storage"
	"github.com/sig-0/fxsnap/storage/types"
)

// ErrUnavailable is the terminal error of syncs without a working provider
var ErrUnavailable = errors.New("no rate provider available")

// Coordinator decides whether to sync, runs the provider fetch,
// and commits the fetched snapshot atomically.
// Sync invocations are serialized: a call arriving while
// another sync is running waits for it to finish
type Coordinator struct {
	storage  storage.Storage
	provider provider.Provider // nil if no provider could be constructed
	logger   *slog.Logger
	metrics  *metrics
	now      func() time.Time

	registerer prometheus.Registerer

	interval time.Duration
	timeout  time.Duration

	mu sync.Mutex
}

// New creates a new sync coordinator.
// A nil provider makes every sync report Unavailable
func New(storage storage.Storage, p provider.Provider, opts ...Option) *Coordinator {
	c := &Coordinator{
		storage:  storage,
		provider: p,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		now: func() time.Time {
			return time.Now().UTC()
		},
		interval: types.DefaultSyncInterval,
	}

	// Apply the options
	for _, opt := range opts {
		opt(c)
	}

	c.metrics = newMetrics(c.registerer)

	return c
}

// Available returns true if the coordinator has a provider
func (c *Coordinator) Available() bool {
	return c.provider != nil
}

// Sync runs a single sync invocation [BLOCKING].
// The lifecycle events are delivered to the sink (logged if nil),
// and the terminal result is returned. Every failure ends up in the result.
//
// Running is emitted as soon as Sync is called. Concurrent invocations are
// queued, and each runs to completion before the next one starts.
// Cancelling ctx does not abort a sync in flight, only the configured
// timeout bounds the fetch and the commit
func (c *Coordinator) Sync(ctx context.Context, force bool, sink Sink) Result {
	ctx = context.WithoutCancel(ctx)

	res := Result{
		SyncID:    xid.New().String(),
		State:     StateIdle,
		StartedAt: c.now(),
		Forced:    force,
	}

	c.emit(ctx, sink, &res, StateRunning, "")

	c.mu.Lock()
	defer c.mu.Unlock()

	state, err := c.run(ctx, force, &res)

	res.Err = err
	res.FinishedAt = c.now()

	message := ""
	if err != nil {
		message = err.Error()
	}

	c.emit(ctx, sink, &res, state, message)
	c.metrics.observe(res)

	switch state {
	case StateError:
		c.logger.Error(
			"sync failed",
			"sync_id", res.SyncID,
			"err", err,
		)
	case StateUnavailable:
		c.logger.Warn(
			"sync unavailable",
			"sync_id", res.SyncID,
		)
	default:
		c.logger.Info(
			"sync done",
			"sync_id", res.SyncID,
			"state", state,
			"forced", force,
			"committed", res.Committed,
			"duration", res.FinishedAt.Sub(res.StartedAt),
		)
	}

	return res
}

// run executes the sync steps, returning the terminal state
func (c *Coordinator) run(ctx context.Context, force bool, res *Result) (State, error) {
	if c.provider == nil {
		return StateUnavailable, ErrUnavailable
	}

	if c.timeout > 0 {
		var cancelFn context.CancelFunc

		ctx, cancelFn = context.WithTimeout(ctx, c.timeout)
		defer cancelFn()
	}

	meta, err := c.storage.SyncMetadata(ctx)
	if err != nil {
		return StateError, fmt.Errorf("unable to read sync metadata: %w", err)
	}

	if !force && c.fresh(meta) {
		return StateUpToDate, nil
	}

	fetched, err := c.provider.Fetch(ctx)
	if err != nil {
		return StateError, fmt.Errorf("unable to fetch rates from %s: %w", c.provider.Name(), err)
	}

	commit := c.buildCommit(fetched)

	if !commit.Replace {
		res.Empty = true

		c.logger.Warn(
			"provider returned no rates, only the base rate is committed",
			"sync_id", res.SyncID,
			"provider", c.provider.Name(),
		)
	}

	if err := c.storage.Commit(ctx, commit); err != nil {
		return StateError, fmt.Errorf("unable to commit rates: %w", err)
	}

	res.Committed = len(commit.Records)

	return StateFinished, nil
}

// fresh returns true if the last sync is within the staleness interval
func (c *Coordinator) fresh(meta *types.SyncMetadata) bool {
	if !meta.Synced() {
		return false
	}

	interval := meta.SyncInterval
	if interval <= 0 {
		interval = c.interval
	}

	return c.now().Sub(meta.LastSyncAt) <= interval
}

// buildCommit builds the atomic commit for the fetched snapshot.
// The base currency self-rate is always re-asserted
func (c *Coordinator) buildCommit(fetched *provider.FetchResult) *types.Commit {
	var (
		now  = c.now()
		name = c.provider.Name()
		base = c.provider.BaseCurrency()

		commit = &types.Commit{
			SyncedAt: now,
			Base: &types.RateRecord{
				Currency:  base,
				Provider:  name,
				UpdatedAt: now,
				Rate:      1.0,
			},
		}
	)

	if fetched == nil || len(fetched.Rates) == 0 {
		return commit
	}

	commit.Replace = true
	commit.Records = make([]*types.RateRecord, 0, len(fetched.Rates))

	for currency, rate := range fetched.Rates {
		if currency == base {
			continue // the base record takes its place
		}

		commit.Records = append(commit.Records, &types.RateRecord{
			Currency:  currency,
			Provider:  name,
			UpdatedAt: fetched.UpdatedAt,
			Rate:      rate,
		})
	}

	storage.SortRecords(commit.Records, types.OrderByCurrency, false)

	return commit
}

// emit records the event in the result, and delivers it
func (c *Coordinator) emit(ctx context.Context, sink Sink, res *Result, state State, message string) {
	ev := Event{
		Time:    c.now(),
		SyncID:  res.SyncID,
		State:   state,
		Message: message,
		Code:    state.Code(),
	}

	res.State = state
	res.Events = append(res.Events, ev)

	if sink == nil {
		c.logger.Info(
			"sync event (no sink)",
			"sync_id", ev.SyncID,
			"state", ev.State,
			"code", ev.Code,
			"message", ev.Message,
		)

		return
	}

	sink.Send(ctx, ev)
}
