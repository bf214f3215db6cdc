package query

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/sig-0/fxsnap/convert"
	"github.com/sig-0/fxsnap/storage"
	"github.com/sig-0/fxsnap/storage/types"
)

var (
	// ErrRateNotFound is returned when the requested currency has no stored rate
	ErrRateNotFound = errors.New("rate not found")

	errUnknownKind = errors.New("unknown request kind")
	errNilRequest  = errors.New("nil request")
)

// Kind is the query request kind
type Kind int

const (
	KindList Kind = iota
	KindGet
	KindConvert
)

func (k Kind) String() string {
	switch k {
	case KindList:
		return "list"
	case KindGet:
		return "get"
	case KindConvert:
		return "convert"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Request is a single query request.
// Only the fields of the request kind are read
type Request struct {
	List     *types.ListQuery // KindList
	Currency types.Currency   // KindGet
	From     types.Currency   // KindConvert
	To       types.Currency   // KindConvert
	Amount   float64          // KindConvert
	Kind     Kind
}

// Response is the query response, populated for the request kind
type Response struct {
	Record  *types.RateRecord
	Records []*types.RateRecord
	Amount  float64
	Kind    Kind
}

// Service answers the rate queries from the store snapshot
type Service struct {
	storage storage.Storage
	engine  *convert.Engine
	logger  *slog.Logger

	registerer  prometheus.Registerer
	conversions *prometheus.CounterVec
}

type Option func(s *Service)

// WithLogger specifies the logger for the service
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		s.logger = l
	}
}

// WithRegisterer specifies the prometheus registerer for the query metrics
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(s *Service) {
		s.registerer = reg
	}
}

// New creates a new query service
func New(storage storage.Storage, opts ...Option) *Service {
	s := &Service{
		storage: storage,
		engine:  convert.New(storage),
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	for _, opt := range opts {
		opt(s)
	}

	s.conversions = promauto.With(s.registerer).NewCounterVec(prometheus.CounterOpts{
		Namespace: "fxsnap",
		Name:      "conversions_total",
		Help:      "Number of conversion queries, by outcome",
	}, []string{"outcome"})

	return s
}

// Do dispatches the request to the query operation of its kind
func (s *Service) Do(ctx context.Context, req *Request) (*Response, error) {
	if req == nil {
		return nil, errNilRequest
	}

	resp := &Response{
		Kind: req.Kind,
	}

	switch req.Kind {
	case KindList:
		records, err := s.ListRates(ctx, req.List)
		if err != nil {
			return nil, err
		}

		resp.Records = records
	case KindGet:
		record, err := s.GetRate(ctx, req.Currency)
		if err != nil {
			return nil, err
		}

		resp.Record = record
	case KindConvert:
		amount, err := s.Convert(ctx, req.From, req.To, req.Amount)
		if err != nil {
			return nil, err
		}

		resp.Amount = amount
	default:
		return nil, fmt.Errorf("%w: %s", errUnknownKind, req.Kind)
	}

	return resp, nil
}

// ListRates lists the stored rates matching the query
func (s *Service) ListRates(ctx context.Context, query *types.ListQuery) ([]*types.RateRecord, error) {
	records, err := s.storage.List(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("unable to list rates: %w", err)
	}

	return records, nil
}

// GetRate fetches the stored rate of the currency
func (s *Service) GetRate(ctx context.Context, currency types.Currency) (*types.RateRecord, error) {
	record, err := s.storage.Get(ctx, currency)
	if err != nil {
		return nil, fmt.Errorf("unable to fetch rate: %w", err)
	}

	if record == nil {
		return nil, fmt.Errorf("%w: %s", ErrRateNotFound, types.NormalizeCurrency(currency.String()))
	}

	return record, nil
}

// Convert converts the amount between the currencies.
// Conversion errors are expected outcomes, and are returned as-is
func (s *Service) Convert(ctx context.Context, from, to types.Currency, amount float64) (float64, error) {
	v, err := s.engine.Convert(ctx, from, to, amount)

	outcome := "ok"

	switch {
	case errors.Is(err, convert.ErrUnknownCurrency):
		outcome = "unknown_currency"
	case errors.Is(err, convert.ErrDivisionUndefined):
		outcome = "division_undefined"
	case err != nil:
		outcome = "error"

		s.logger.Error(
			"unable to convert",
			"from", from,
			"to", to,
			"err", err,
		)
	}

	s.conversions.WithLabelValues(outcome).Inc()

	return v, err
}
