package openexchange

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/sig-0/fxsnap/provider"
	"github.com/sig-0/fxsnap/provider/currencies"
	"github.com/sig-0/fxsnap/storage/types"
)

const (
	// Name is the fixed name of the provider
	Name = "OpenExchangeRates"

	// DefaultFeedEndpoint is the default feed URL
	DefaultFeedEndpoint = "http://openexchangerates.org/latest.json"

	// maxFeedSize caps the feed document size
	maxFeedSize = 8 << 20

	// millisThreshold is the timestamp value above which the
	// timestamp is treated as unix millis, and not seconds
	millisThreshold = 1e11
)

// Provider is the Open Exchange Rates JSON feed provider.
//
// Expected feed format:
//
//	{
//		"timestamp": 1324116096,
//		"base": "USD",
//		"rates": {
//			"AED": 3.673,
//			"AFN": 42.950001
//		}
//	}
type Provider struct {
	client *http.Client
	logger *slog.Logger

	endpoint string
	base     types.Currency
}

type Option func(p *Provider)

// WithLogger specifies the logger for the provider
func WithLogger(l *slog.Logger) Option {
	return func(p *Provider) {
		p.logger = l
	}
}

// WithTimeout specifies the per-fetch network timeout
func WithTimeout(timeout time.Duration) Option {
	return func(p *Provider) {
		p.client.Timeout = timeout
	}
}

// WithHTTPClient specifies the HTTP client used for fetching
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		p.client = c
	}
}

// New creates a new feed provider from the given named options.
// A malformed endpoint or base currency fails with provider.ErrConfig
func New(options provider.Options, opts ...Option) (*Provider, error) {
	endpoint := options.Get(provider.OptionFeedEndpoint, DefaultFeedEndpoint)

	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("%w: bad feed endpoint %q: %w", provider.ErrConfig, endpoint, err)
	}

	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%w: bad feed endpoint %q", provider.ErrConfig, endpoint)
	}

	base, err := types.ParseCurrency(options.Get(provider.OptionBaseCurrency, currencies.USD.String()))
	if err != nil {
		return nil, fmt.Errorf("%w: bad base currency: %w", provider.ErrConfig, err)
	}

	p := &Provider{
		client: &http.Client{
			Timeout: time.Second * 30,
		},
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		endpoint: u.String(),
		base:     base,
	}

	for _, opt := range opts {
		opt(p)
	}

	return p, nil
}

func (p *Provider) Name() string {
	return Name
}

func (p *Provider) BaseCurrency() types.Currency {
	return p.base
}

func (p *Provider) Fetch(ctx context.Context) (*provider.FetchResult, error) {
	// Prepare the request
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.endpoint, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("%w: unable to create new GET request: %w", provider.ErrTransport, err)
	}

	req.Header.Set("Accept", "application/json")

	// Execute the request
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: unable to execute GET request: %w", provider.ErrTransport, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: invalid status code received: %d", provider.ErrTransport, resp.StatusCode)
	}

	// The feed is small enough to be parsed as one document
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFeedSize))
	if err != nil {
		return nil, fmt.Errorf("%w: unable to read feed body: %w", provider.ErrTransport, err)
	}

	result, err := p.parse(body)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", provider.ErrFormat, err)
	}

	p.logger.Debug(
		"fetched rate feed",
		"endpoint", p.endpoint,
		"rates", len(result.Rates),
		"updated_at", result.UpdatedAt,
	)

	return result, nil
}

// feed is the raw feed document.
// Fields are kept raw so missing and null values can be told apart
type feed struct {
	Timestamp *int64                     `json:"timestamp"`
	Base      *string                    `json:"base"`
	Rates     map[string]json.RawMessage `json:"rates"`
}

// parse parses the whole feed document, accepting all rates or none
func (p *Provider) parse(body []byte) (*provider.FetchResult, error) {
	var doc feed

	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("unable to parse feed: %w", err)
	}

	if doc.Timestamp == nil {
		return nil, fmt.Errorf("missing %q field", "timestamp")
	}

	if doc.Base == nil {
		return nil, fmt.Errorf("missing %q field", "base")
	}

	if doc.Rates == nil {
		return nil, fmt.Errorf("missing %q field", "rates")
	}

	base, err := types.ParseCurrency(*doc.Base)
	if err != nil {
		return nil, fmt.Errorf("invalid base %q: %w", *doc.Base, err)
	}

	if base != p.base {
		return nil, fmt.Errorf("feed base %s does not match provider base %s", base, p.base)
	}

	rates := make(map[types.Currency]float64, len(doc.Rates))

	for code, raw := range doc.Rates {
		currency, err := types.ParseCurrency(code)
		if err != nil {
			return nil, fmt.Errorf("invalid currency %q: %w", code, err)
		}

		// "usd" and "USD" are the same currency
		if _, ok := rates[currency]; ok {
			return nil, fmt.Errorf("duplicate rate for %s", currency)
		}

		var rate *float64

		if err := json.Unmarshal(raw, &rate); err != nil {
			return nil, fmt.Errorf("invalid rate for %s: %w", currency, err)
		}

		if rate == nil {
			return nil, fmt.Errorf("missing rate for %s", currency)
		}

		rates[currency] = *rate
	}

	return &provider.FetchResult{
		UpdatedAt: parseTimestamp(*doc.Timestamp),
		Rates:     rates,
	}, nil
}

// parseTimestamp parses the feed timestamp, in either unix seconds or millis
func parseTimestamp(ts int64) time.Time {
	if ts > millisThreshold {
		return time.UnixMilli(ts).UTC()
	}

	return time.Unix(ts, 0).UTC()
}
