package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sig-0/fxsnap/storage"
	"github.com/sig-0/fxsnap/storage/types"
)

type Storage struct {
	data map[types.Currency]types.RateRecord
	meta types.SyncMetadata

	nextID types.RecordID

	mu sync.RWMutex
}

func NewStorage() *Storage {
	return &Storage{
		data: make(map[types.Currency]types.RateRecord),
		meta: types.SyncMetadata{
			SyncInterval: types.DefaultSyncInterval,
		},
	}
}

func (s *Storage) ReplaceAll(_ context.Context, records []*types.RateRecord) error {
	prepared, err := storage.PrepareRecords(records)
	if err != nil {
		return fmt.Errorf("unable to replace rates: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.replaceLocked(prepared)

	return nil
}

func (s *Storage) Upsert(_ context.Context, record *types.RateRecord) (types.RecordID, error) {
	if record == nil {
		return 0, fmt.Errorf("unable to upsert rate: %w: nil record", storage.ErrConstraintViolation)
	}

	elem := storage.NormalizeRecord(record)
	if err := storage.ValidateRecord(&elem); err != nil {
		return 0, fmt.Errorf("unable to upsert rate: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.upsertLocked(elem), nil
}

func (s *Storage) Get(_ context.Context, currency types.Currency) (*types.RateRecord, error) {
	code := types.NormalizeCurrency(currency.String())

	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.data[code]
	if !ok {
		return nil, nil //nolint:nilnil // valid case
	}

	return &v, nil
}

func (s *Storage) Lookup(
	_ context.Context,
	currencies ...types.Currency,
) (map[types.Currency]*types.RateRecord, error) {
	out := make(map[types.Currency]*types.RateRecord, len(currencies))

	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, c := range currencies {
		code := types.NormalizeCurrency(c.String())

		if v, ok := s.data[code]; ok {
			out[code] = &v
		}
	}

	return out, nil
}

func (s *Storage) List(_ context.Context, query *types.ListQuery) ([]*types.RateRecord, error) {
	s.mu.RLock()

	out := make([]*types.RateRecord, 0, len(s.data))

	for _, v := range s.data {
		if !query.Matches(&v) {
			continue
		}

		cp := v
		out = append(out, &cp)
	}

	s.mu.RUnlock()

	var (
		order      types.Order
		descending bool
	)

	if query != nil {
		order = query.OrderBy
		descending = query.Descending
	}

	storage.SortRecords(out, order, descending)

	return out, nil
}

func (s *Storage) Commit(_ context.Context, commit *types.Commit) error {
	if commit == nil {
		return fmt.Errorf("unable to commit rates: %w: nil commit", storage.ErrConstraintViolation)
	}

	prepared, err := storage.PrepareRecords(commit.Records)
	if err != nil {
		return fmt.Errorf("unable to commit rates: %w", err)
	}

	var base *types.RateRecord

	if commit.Base != nil {
		elem := storage.NormalizeRecord(commit.Base)
		if err := storage.ValidateRecord(&elem); err != nil {
			return fmt.Errorf("unable to commit base rate: %w", err)
		}

		base = &elem
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if commit.Replace {
		s.replaceLocked(prepared)
	} else {
		for _, r := range prepared {
			s.upsertLocked(r)
		}
	}

	if base != nil {
		s.upsertLocked(*base)
	}

	s.meta.LastSyncAt = commit.SyncedAt.UTC()

	return nil
}

func (s *Storage) SyncMetadata(_ context.Context) (*types.SyncMetadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	meta := s.meta

	return &meta, nil
}

func (s *Storage) SaveSyncInterval(_ context.Context, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("unable to save sync interval: %w: non-positive interval", storage.ErrConstraintViolation)
	}

	s.mu.Lock()
	s.meta.SyncInterval = interval
	s.mu.Unlock()

	return nil
}

// replaceLocked swaps in a fresh table built from the records.
// The write lock needs to be held
func (s *Storage) replaceLocked(records []types.RateRecord) {
	data := make(map[types.Currency]types.RateRecord, len(records))

	for _, r := range records {
		s.nextID++
		r.ID = s.nextID

		data[r.Currency] = r
	}

	s.data = data
}

// upsertLocked inserts or replaces the record, keeping the existing row ID.
// The write lock needs to be held
func (s *Storage) upsertLocked(r types.RateRecord) types.RecordID {
	if existing, ok := s.data[r.Currency]; ok {
		r.ID = existing.ID
	} else {
		s.nextID++
		r.ID = s.nextID
	}

	s.data[r.Currency] = r

	return r.ID
}
