package storage

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/sig-0/fxsnap/storage/types"
)

var (
	// ErrIO is returned when the underlying engine fails to read or write
	ErrIO = errors.New("storage I/O failure")

	// ErrConstraintViolation is returned when a record breaks a table constraint
	ErrConstraintViolation = errors.New("storage constraint violation")
)

// Storage is an abstraction over the current rate snapshot
type Storage interface {
	// ReplaceAll atomically deletes every stored rate and inserts the given ones
	ReplaceAll(context.Context, []*types.RateRecord) error

	// Upsert inserts or replaces a single rate, keyed by currency
	Upsert(context.Context, *types.RateRecord) (types.RecordID, error)

	// Get fetches the rate for the given currency, if any
	Get(context.Context, types.Currency) (*types.RateRecord, error)

	// Lookup fetches the rates for the given currencies from a single snapshot.
	// Missing currencies are absent from the result
	Lookup(context.Context, ...types.Currency) (map[types.Currency]*types.RateRecord, error)

	// List lists the stored rates matching the query
	List(context.Context, *types.ListQuery) ([]*types.RateRecord, error)

	// Commit atomically applies a sync commit, including the sync metadata
	Commit(context.Context, *types.Commit) error

	// SyncMetadata fetches the persisted sync metadata
	SyncMetadata(context.Context) (*types.SyncMetadata, error)

	// SaveSyncInterval persists the staleness interval
	SaveSyncInterval(context.Context, time.Duration) error
}

// ValidateRecord checks the record against the table constraints
func ValidateRecord(r *types.RateRecord) error {
	if !r.Currency.Valid() {
		return fmt.Errorf("%w: invalid currency %q", ErrConstraintViolation, r.Currency)
	}

	if r.Provider == "" {
		return fmt.Errorf("%w: missing provider for %s", ErrConstraintViolation, r.Currency)
	}

	if math.IsNaN(r.Rate) || math.IsInf(r.Rate, 0) {
		return fmt.Errorf("%w: invalid rate for %s", ErrConstraintViolation, r.Currency)
	}

	return nil
}

// NormalizeRecord returns a copy of the record with an uppercase currency
// and a UTC timestamp
func NormalizeRecord(r *types.RateRecord) types.RateRecord {
	elem := *r
	elem.Currency = types.NormalizeCurrency(elem.Currency.String())
	elem.UpdatedAt = elem.UpdatedAt.UTC()

	return elem
}

// PrepareRecords normalizes and validates the given batch.
// Duplicate currencies collapse into the last occurrence, keeping the batch order
func PrepareRecords(records []*types.RateRecord) ([]types.RateRecord, error) {
	var (
		out   = make([]types.RateRecord, 0, len(records))
		index = make(map[types.Currency]int, len(records))
	)

	for _, r := range records {
		if r == nil {
			return nil, fmt.Errorf("%w: nil record", ErrConstraintViolation)
		}

		elem := NormalizeRecord(r)
		if err := ValidateRecord(&elem); err != nil {
			return nil, err
		}

		if i, ok := index[elem.Currency]; ok {
			out[i] = elem

			continue
		}

		index[elem.Currency] = len(out)
		out = append(out, elem)
	}

	return out, nil
}

// SortRecords sorts the records in place, according to the given order
func SortRecords(records []*types.RateRecord, order types.Order, descending bool) {
	less := func(a, b *types.RateRecord) bool {
		switch order {
		case types.OrderByRate:
			if a.Rate != b.Rate {
				return a.Rate < b.Rate
			}
		case types.OrderByUpdated:
			if !a.UpdatedAt.Equal(b.UpdatedAt) {
				return a.UpdatedAt.Before(b.UpdatedAt)
			}
		case types.OrderByID:
			if a.ID != b.ID {
				return a.ID < b.ID
			}
		}

		return a.Currency < b.Currency
	}

	sort.SliceStable(records, func(i, j int) bool {
		if descending {
			return less(records[j], records[i])
		}

		return less(records[i], records[j])
	})
}
