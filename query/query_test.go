package query

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sig-0/fxsnap/convert"
	"github.com/sig-0/fxsnap/storage"
	"github.com/sig-0/fxsnap/storage/memory"
	"github.com/sig-0/fxsnap/storage/mock"
	"github.com/sig-0/fxsnap/storage/types"
)

func newService(t *testing.T, opts ...Option) *Service {
	t.Helper()

	var (
		s  = memory.NewStorage()
		at = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	)

	require.NoError(t, s.ReplaceAll(context.Background(), []*types.RateRecord{
		{Currency: "USD", Provider: "test", UpdatedAt: at, Rate: 1},
		{Currency: "EUR", Provider: "test", UpdatedAt: at, Rate: 0.9},
		{Currency: "GBP", Provider: "test", UpdatedAt: at, Rate: 0.8},
	}))

	return New(s, opts...)
}

func TestService_Do(t *testing.T) {
	t.Parallel()

	t.Run("list", func(t *testing.T) {
		t.Parallel()

		resp, err := newService(t).Do(context.Background(), &Request{
			Kind: KindList,
			List: &types.ListQuery{
				OrderBy:    types.OrderByRate,
				Descending: true,
			},
		})
		require.NoError(t, err)

		assert.Equal(t, KindList, resp.Kind)
		require.Len(t, resp.Records, 3)
		assert.Equal(t, types.Currency("USD"), resp.Records[0].Currency)
		assert.Equal(t, types.Currency("GBP"), resp.Records[2].Currency)
	})

	t.Run("list all", func(t *testing.T) {
		t.Parallel()

		resp, err := newService(t).Do(context.Background(), &Request{Kind: KindList})
		require.NoError(t, err)

		assert.Len(t, resp.Records, 3)
	})

	t.Run("get", func(t *testing.T) {
		t.Parallel()

		resp, err := newService(t).Do(context.Background(), &Request{
			Kind:     KindGet,
			Currency: "eur",
		})
		require.NoError(t, err)

		require.NotNil(t, resp.Record)
		assert.Equal(t, 0.9, resp.Record.Rate)
	})

	t.Run("get unknown", func(t *testing.T) {
		t.Parallel()

		_, err := newService(t).Do(context.Background(), &Request{
			Kind:     KindGet,
			Currency: "ZZZ",
		})

		assert.ErrorIs(t, err, ErrRateNotFound)
	})

	t.Run("convert", func(t *testing.T) {
		t.Parallel()

		resp, err := newService(t).Do(context.Background(), &Request{
			Kind:   KindConvert,
			From:   "EUR",
			To:     "GBP",
			Amount: 100,
		})
		require.NoError(t, err)

		assert.InDelta(t, 100*(0.8/0.9), resp.Amount, 1e-9)
	})

	t.Run("convert unknown", func(t *testing.T) {
		t.Parallel()

		_, err := newService(t).Do(context.Background(), &Request{
			Kind:   KindConvert,
			From:   "EUR",
			To:     "ZZZ",
			Amount: 1,
		})

		assert.ErrorIs(t, err, convert.ErrUnknownCurrency)
	})

	t.Run("unknown kind", func(t *testing.T) {
		t.Parallel()

		_, err := newService(t).Do(context.Background(), &Request{Kind: Kind(42)})
		assert.ErrorIs(t, err, errUnknownKind)
	})

	t.Run("nil request", func(t *testing.T) {
		t.Parallel()

		_, err := newService(t).Do(context.Background(), nil)
		assert.ErrorIs(t, err, errNilRequest)
	})
}

func TestService_StoreFailure(t *testing.T) {
	t.Parallel()

	s := New(&mock.Storage{
		ListFn: func(context.Context, *types.ListQuery) ([]*types.RateRecord, error) {
			return nil, storage.ErrIO
		},
		GetFn: func(context.Context, types.Currency) (*types.RateRecord, error) {
			return nil, storage.ErrIO
		},
	})

	_, err := s.ListRates(context.Background(), nil)
	assert.ErrorIs(t, err, storage.ErrIO)

	_, err = s.GetRate(context.Background(), "EUR")
	assert.ErrorIs(t, err, storage.ErrIO)
}

func TestService_ConversionMetrics(t *testing.T) {
	t.Parallel()

	s := newService(t, WithRegisterer(prometheus.NewRegistry()))

	_, _ = s.Convert(context.Background(), "EUR", "GBP", 1)
	_, _ = s.Convert(context.Background(), "EUR", "GBP", 2)
	_, _ = s.Convert(context.Background(), "EUR", "ZZZ", 1)

	assert.Equal(t, 2.0, testutil.ToFloat64(s.conversions.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(s.conversions.WithLabelValues("unknown_currency")))
}

func TestKind_String(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "list", KindList.String())
	assert.Equal(t, "get", KindGet.String())
	assert.Equal(t, "convert", KindConvert.String())
	assert.Equal(t, "kind(7)", Kind(7).String())
}
