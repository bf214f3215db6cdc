package types

import (
	"errors"
	"strings"
	"time"
)

// DefaultSyncInterval is the default staleness interval for the rate snapshot
const DefaultSyncInterval = time.Hour * 6

var errInvalidCurrency = errors.New("invalid currency (must be 3 letters A-Z)")

type Currency string

func (c Currency) String() string {
	return string(c)
}

// Valid returns true if the currency is a 3-letter uppercase code
func (c Currency) Valid() bool {
	if len(c) != 3 {
		return false
	}

	for i := 0; i < 3; i++ {
		if c[i] < 'A' || c[i] > 'Z' {
			return false
		}
	}

	return true
}

// NormalizeCurrency trims and uppercases the given code, without validating it
func NormalizeCurrency(s string) Currency {
	return Currency(strings.ToUpper(strings.TrimSpace(s)))
}

// ParseCurrency normalizes and validates the given currency code
func ParseCurrency(s string) (Currency, error) {
	c := NormalizeCurrency(s)
	if !c.Valid() {
		return "", errInvalidCurrency
	}

	return c, nil
}

// RecordID is the store-assigned row identifier
type RecordID int64

// RateRecord is a single stored rate, relative to the base currency.
// 1 unit of base currency = Rate units of Currency
type RateRecord struct {
	UpdatedAt time.Time `json:"updated_at"`
	Currency  Currency  `json:"currency"`
	Provider  string    `json:"provider"`
	ID        RecordID  `json:"id"`
	Rate      float64   `json:"rate"`
}

// SyncMetadata is the persisted sync bookkeeping
type SyncMetadata struct {
	LastSyncAt   time.Time     `json:"last_sync_at"` // zero if never synced
	SyncInterval time.Duration `json:"sync_interval"`
}

// Synced returns true if a sync was ever committed
func (m *SyncMetadata) Synced() bool {
	return !m.LastSyncAt.IsZero()
}

type Order string

const (
	OrderByCurrency Order = "currency"
	OrderByRate     Order = "rate"
	OrderByUpdated  Order = "updated"
	OrderByID       Order = "id"
)

func (o Order) String() string {
	return string(o)
}

// Valid returns true if the order is known (empty defaults to currency)
func (o Order) Valid() bool {
	switch o {
	case "", OrderByCurrency, OrderByRate, OrderByUpdated, OrderByID:
		return true
	default:
		return false
	}
}

// ListQuery filters and orders a rate listing.
// Nil filters match everything
type ListQuery struct {
	ID         *RecordID `json:"id"`
	Currency   *Currency `json:"currency"`
	Provider   *string   `json:"provider"`
	OrderBy    Order     `json:"order_by"`
	Descending bool      `json:"descending"`
}

// Matches returns true if the record passes the query filters
func (q *ListQuery) Matches(r *RateRecord) bool {
	if q == nil {
		return true
	}

	if q.ID != nil && *q.ID != r.ID {
		return false
	}

	if q.Currency != nil && *q.Currency != r.Currency {
		return false
	}

	if q.Provider != nil && *q.Provider != r.Provider {
		return false
	}

	return true
}

// Commit is the atomic unit written by a successful sync
type Commit struct {
	SyncedAt time.Time     `json:"synced_at"`
	Base     *RateRecord   `json:"base"`
	Records  []*RateRecord `json:"records"`

	// Replace deletes every existing row before inserting Records
	Replace bool `json:"replace"`
}
