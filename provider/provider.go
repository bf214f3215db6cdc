package provider

import (
	"context"
	"errors"
	"time"

	"github.com/sig-0/fxsnap/storage/types"
)

var (
	// ErrTransport is returned when the rate source cannot be reached
	ErrTransport = errors.New("provider transport failure")

	// ErrFormat is returned when the source response cannot be parsed,
	// or is missing required fields
	ErrFormat = errors.New("provider format failure")

	// ErrConfig is returned when the provider is misconfigured (construction time)
	ErrConfig = errors.New("provider configuration failure")
)

const (
	// OptionFeedEndpoint is the feed URL option
	OptionFeedEndpoint = "feed_endpoint"

	// OptionBaseCurrency is the base currency option
	OptionBaseCurrency = "base_currency"
)

// Provider is a single pluggable rate source,
// producing full rate snapshots relative to its base currency
type Provider interface {
	// Name returns the fixed name of the provider
	Name() string

	// BaseCurrency returns the currency the fetched rates are relative to
	BaseCurrency() types.Currency

	// Fetch fetches one full rate snapshot (one round trip, no retry)
	Fetch(context.Context) (*FetchResult, error)
}

// FetchResult is a single fetched rate snapshot.
// Rates maps each currency to the units of it per 1 unit of the base currency
type FetchResult struct {
	UpdatedAt time.Time
	Rates     map[types.Currency]float64
}

// Options are the named provider options
type Options map[string]string

// Get returns the option value, or the default if it's unset or empty
func (o Options) Get(key, def string) string {
	if v, ok := o[key]; ok && v != "" {
		return v
	}

	return def
}
