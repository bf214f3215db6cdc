package badger

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v3"

	"github.com/sig-0/fxsnap/storage"
	"github.com/sig-0/fxsnap/storage/types"
)

var (
	ratePrefix = []byte("rate/")
	metaKey    = []byte("meta/sync")
	seqKey     = []byte("meta/next_id")
)

// Storage is the embedded, durable storage backed by BadgerDB.
// Every write is a single badger transaction; writers are additionally
// serialized, so concurrent writes never conflict
type Storage struct {
	db *badger.DB

	writeMu sync.Mutex
}

func NewStorage(db *badger.DB) *Storage {
	return &Storage{
		db: db,
	}
}

// Open opens (or creates) a BadgerDB at the given path.
// An empty path opens an in-memory database
func Open(path string) (*badger.DB, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	if path == "" {
		opts = opts.WithInMemory(true)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("unable to open badger DB: %w", err)
	}

	return db, nil
}

func (s *Storage) ReplaceAll(_ context.Context, records []*types.RateRecord) error {
	prepared, err := storage.PrepareRecords(records)
	if err != nil {
		return fmt.Errorf("unable to replace rates: %w", err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := s.db.Update(func(txn *badger.Txn) error {
		return replace(txn, prepared)
	}); err != nil {
		return fmt.Errorf("unable to replace rates: %w: %w", storage.ErrIO, err)
	}

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

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	var id types.RecordID

	if err := s.db.Update(func(txn *badger.Txn) error {
		var err error

		id, err = upsert(txn, elem)

		return err
	}); err != nil {
		return 0, fmt.Errorf("unable to upsert rate: %w: %w", storage.ErrIO, err)
	}

	return id, nil
}

func (s *Storage) Get(_ context.Context, currency types.Currency) (*types.RateRecord, error) {
	var rec *types.RateRecord

	if err := s.db.View(func(txn *badger.Txn) error {
		var err error

		rec, err = getRecord(txn, types.NormalizeCurrency(currency.String()))

		return err
	}); err != nil {
		return nil, fmt.Errorf("unable to fetch rate: %w: %w", storage.ErrIO, err)
	}

	return rec, nil
}

func (s *Storage) Lookup(
	_ context.Context,
	currencies ...types.Currency,
) (map[types.Currency]*types.RateRecord, error) {
	out := make(map[types.Currency]*types.RateRecord, len(currencies))

	if err := s.db.View(func(txn *badger.Txn) error {
		for _, c := range currencies {
			code := types.NormalizeCurrency(c.String())

			rec, err := getRecord(txn, code)
			if err != nil {
				return err
			}

			if rec != nil {
				out[code] = rec
			}
		}

		return nil
	}); err != nil {
		return nil, fmt.Errorf("unable to look up rates: %w: %w", storage.ErrIO, err)
	}

	return out, nil
}

func (s *Storage) List(_ context.Context, query *types.ListQuery) ([]*types.RateRecord, error) {
	out := make([]*types.RateRecord, 0)

	if err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(ratePrefix); it.ValidForPrefix(ratePrefix); it.Next() {
			var rec types.RateRecord

			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				return err
			}

			if query.Matches(&rec) {
				out = append(out, &rec)
			}
		}

		return nil
	}); err != nil {
		return nil, fmt.Errorf("unable to list rates: %w: %w", storage.ErrIO, err)
	}

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

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := s.db.Update(func(txn *badger.Txn) error {
		if commit.Replace {
			if err := replace(txn, prepared); err != nil {
				return err
			}
		} else {
			for _, r := range prepared {
				if _, err := upsert(txn, r); err != nil {
					return err
				}
			}
		}

		if base != nil {
			if _, err := upsert(txn, *base); err != nil {
				return err
			}
		}

		meta, err := getMetadata(txn)
		if err != nil {
			return err
		}

		meta.LastSyncAt = commit.SyncedAt.UTC()

		return setJSON(txn, metaKey, meta)
	}); err != nil {
		return fmt.Errorf("unable to commit rates: %w: %w", storage.ErrIO, err)
	}

	return nil
}

func (s *Storage) SyncMetadata(_ context.Context) (*types.SyncMetadata, error) {
	var meta *types.SyncMetadata

	if err := s.db.View(func(txn *badger.Txn) error {
		var err error

		meta, err = getMetadata(txn)

		return err
	}); err != nil {
		return nil, fmt.Errorf("unable to fetch sync metadata: %w: %w", storage.ErrIO, err)
	}

	return meta, nil
}

func (s *Storage) SaveSyncInterval(_ context.Context, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("unable to save sync interval: %w: non-positive interval", storage.ErrConstraintViolation)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := s.db.Update(func(txn *badger.Txn) error {
		meta, err := getMetadata(txn)
		if err != nil {
			return err
		}

		meta.SyncInterval = interval

		return setJSON(txn, metaKey, meta)
	}); err != nil {
		return fmt.Errorf("unable to save sync interval: %w: %w", storage.ErrIO, err)
	}

	return nil
}

// replace deletes every rate row, and inserts the given records
func replace(txn *badger.Txn, records []types.RateRecord) error {
	keys := make([][]byte, 0)

	it := txn.NewIterator(badger.IteratorOptions{PrefetchValues: false})

	for it.Seek(ratePrefix); it.ValidForPrefix(ratePrefix); it.Next() {
		keys = append(keys, it.Item().KeyCopy(nil))
	}

	it.Close()

	for _, k := range keys {
		if err := txn.Delete(k); err != nil {
			return err
		}
	}

	for _, r := range records {
		id, err := nextID(txn)
		if err != nil {
			return err
		}

		r.ID = id

		if err := setJSON(txn, rateKey(r.Currency), r); err != nil {
			return err
		}
	}

	return nil
}

// upsert inserts or replaces the record, keeping the existing row ID
func upsert(txn *badger.Txn, r types.RateRecord) (types.RecordID, error) {
	existing, err := getRecord(txn, r.Currency)
	if err != nil {
		return 0, err
	}

	if existing != nil {
		r.ID = existing.ID
	} else {
		if r.ID, err = nextID(txn); err != nil {
			return 0, err
		}
	}

	if err := setJSON(txn, rateKey(r.Currency), r); err != nil {
		return 0, err
	}

	return r.ID, nil
}

func getRecord(txn *badger.Txn, currency types.Currency) (*types.RateRecord, error) {
	item, err := txn.Get(rateKey(currency))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, nil //nolint:nilnil // valid case
		}

		return nil, err
	}

	var rec types.RateRecord

	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &rec)
	}); err != nil {
		return nil, err
	}

	return &rec, nil
}

func getMetadata(txn *badger.Txn) (*types.SyncMetadata, error) {
	meta := &types.SyncMetadata{
		SyncInterval: types.DefaultSyncInterval,
	}

	item, err := txn.Get(metaKey)
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return meta, nil
		}

		return nil, err
	}

	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, meta)
	}); err != nil {
		return nil, err
	}

	return meta, nil
}

// nextID increments and returns the row ID sequence
func nextID(txn *badger.Txn) (types.RecordID, error) {
	var current uint64

	item, err := txn.Get(seqKey)

	switch {
	case errors.Is(err, badger.ErrKeyNotFound):
	case err != nil:
		return 0, err
	default:
		if err := item.Value(func(val []byte) error {
			if len(val) != 8 {
				return fmt.Errorf("invalid sequence value length %d", len(val))
			}

			current = binary.BigEndian.Uint64(val)

			return nil
		}); err != nil {
			return 0, err
		}
	}

	current++

	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, current)

	if err := txn.Set(seqKey, buf); err != nil {
		return 0, err
	}

	return types.RecordID(current), nil //nolint:gosec // sequence fits
}

func setJSON(txn *badger.Txn, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}

	return txn.Set(key, data)
}

func rateKey(currency types.Currency) []byte {
	return append(append([]byte{}, ratePrefix...), currency...)
}
