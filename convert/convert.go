package convert

import (
	"context"
	"errors"
	"fmt"

	"github.com/sig-0/fxsnap/storage"
	"github.com/sig-0/fxsnap/storage/types"
)

var (
	// ErrUnknownCurrency is returned when either currency has no stored rate
	ErrUnknownCurrency = errors.New("unknown currency")

	// ErrDivisionUndefined is returned when the source currency rate is zero
	ErrDivisionUndefined = errors.New("division undefined")
)

// Engine converts amounts between currencies, using the base-relative
// rates of the store
type Engine struct {
	storage storage.Storage
}

func New(storage storage.Storage) *Engine {
	return &Engine{
		storage: storage,
	}
}

// Rate returns the cross rate: the units of to per 1 unit of from
func (e *Engine) Rate(ctx context.Context, from, to types.Currency) (float64, error) {
	return e.Convert(ctx, from, to, 1)
}

// Convert converts the amount of from into to.
// Both rates are read from the same store snapshot
func (e *Engine) Convert(ctx context.Context, from, to types.Currency, amount float64) (float64, error) {
	from = types.NormalizeCurrency(from.String())
	to = types.NormalizeCurrency(to.String())

	rates, err := e.storage.Lookup(ctx, from, to)
	if err != nil {
		return 0, fmt.Errorf("unable to look up rates: %w", err)
	}

	fromRate, ok := rates[from]
	if !ok || fromRate == nil {
		return 0, fmt.Errorf("%w: %s", ErrUnknownCurrency, from)
	}

	toRate, ok := rates[to]
	if !ok || toRate == nil {
		return 0, fmt.Errorf("%w: %s", ErrUnknownCurrency, to)
	}

	if fromRate.Rate == 0 {
		return 0, fmt.Errorf("%w: zero rate for %s", ErrDivisionUndefined, from)
	}

	return toRate.Rate / fromRate.Rate * amount, nil
}
