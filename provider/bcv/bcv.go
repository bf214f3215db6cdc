package bcv

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/sig-0/fxsnap/provider"
	"github.com/sig-0/fxsnap/provider/currencies"
	"github.com/sig-0/fxsnap/storage/types"
)

const (
	// Name is the fixed name of the provider
	Name = "BCV"

	// DefaultFeedEndpoint is the BCV homepage
	DefaultFeedEndpoint = "https://www.bcv.org.ve/"
)

var errInvalidRate = errors.New("invalid rate")

// sections maps the BCV website currency section IDs to currencies
var sections = []struct {
	id       string
	currency types.Currency
}{
	{"dolar", currencies.USD},
	{"euro", currencies.EUR},
	{"yuan", currencies.CNY},
	{"lira", currencies.TRY},
	{"rublo", currencies.RUB},
}

// Provider is the BCV website scraping provider
type Provider struct {
	client *http.Client
	logger *slog.Logger
	url    string
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

// New creates a new instance of the BCV website provider.
// The provider's base currency is always VES
func New(options provider.Options, opts ...Option) (*Provider, error) {
	endpoint := options.Get(provider.OptionFeedEndpoint, DefaultFeedEndpoint)

	u, err := url.Parse(endpoint)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%w: bad feed endpoint %q", provider.ErrConfig, endpoint)
	}

	if base := options.Get(provider.OptionBaseCurrency, ""); base != "" &&
		types.NormalizeCurrency(base) != currencies.VES {
		return nil, fmt.Errorf("%w: unsupported base currency %q", provider.ErrConfig, base)
	}

	tr := http.DefaultTransport.(*http.Transport).Clone()
	tr.TLSClientConfig = &tls.Config{
		InsecureSkipVerify: true, //nolint:gosec // the BCV certificate chain is incomplete
	}

	p := &Provider{
		client: &http.Client{
			Timeout:   time.Second * 30,
			Transport: tr,
		},
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		url:    u.String(),
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
	return currencies.VES
}

func (p *Provider) Fetch(ctx context.Context) (*provider.FetchResult, error) {
	// Prepare the request
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("%w: unable to create new GET request: %w", provider.ErrTransport, err)
	}

	// Execute the request
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: unable to execute GET request: %w", provider.ErrTransport, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: invalid status code received: %d", provider.ErrTransport, resp.StatusCode)
	}

	// Construct document for parsing
	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: unable to construct query doc: %w", provider.ErrFormat, err)
	}

	result := &provider.FetchResult{
		UpdatedAt: time.Now().UTC(),
		Rates:     make(map[types.Currency]float64, len(sections)),
	}

	// Fetch as-of date
	if effectiveDate := parseEffectiveDate(doc); effectiveDate != nil {
		result.UpdatedAt = *effectiveDate
	}

	for _, section := range sections {
		quote, err := fetchQuote(doc, section.id)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", provider.ErrFormat, err)
		}

		// The page quotes VES per 1 unit of the currency
		result.Rates[section.currency] = 1 / quote
	}

	p.logger.Debug(
		"scraped BCV rates",
		"rates", len(result.Rates),
		"updated_at", result.UpdatedAt,
	)

	return result, nil
}

// fetchQuote fetches the VES quote from the given currency section
func fetchQuote(doc *goquery.Document, sectionID string) (float64, error) {
	sel := doc.Find("#" + sectionID)

	if sel.Length() == 0 {
		return 0, fmt.Errorf("missing element #%s", sectionID)
	}

	txt := sel.Find(".col-sm-6.col-xs-6.centrado").First().Text()
	if strings.TrimSpace(txt) == "" {
		txt = sel.Find(".centrado").First().Text()
	}

	v, err := parseBCVNumber(txt)
	if err != nil {
		return 0, fmt.Errorf("unable to parse rate value for %s: %w", sectionID, err)
	}

	if v <= 0 || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%w for %s: %v", errInvalidRate, sectionID, v)
	}

	return v, nil
}

// parseBCVNumber parses the rate number from the BCV website
func parseBCVNumber(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, errInvalidRate
	}

	// BCV uses comma as decimal separator, and dots for thousands:
	// "1.234,56" -> "1234.56"
	s = strings.ReplaceAll(s, ".", "")
	s = strings.ReplaceAll(s, ",", ".")

	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("unable to parse rate %q: %w", s, err)
	}

	return f, nil
}

// parseEffectiveDate parses the "Fecha Valor" date on the BCV website
func parseEffectiveDate(doc *goquery.Document) *time.Time {
	// Best source: the machine-readable datetime
	sel := doc.Find(`span.date-display-single[property="dc:date"]`).First()
	if sel.Length() == 0 {
		sel = doc.Find("span.date-display-single").First()
	}

	if sel.Length() == 0 {
		return nil
	}

	if content, ok := sel.Attr("content"); ok && strings.TrimSpace(content) != "" {
		// Example: "2026-01-13T00:00:00-04:00"
		if t, err := time.Parse(time.RFC3339, strings.TrimSpace(content)); err == nil {
			u := t.UTC()

			return &u
		}
	}

	// Fallback: parse the rendered Spanish text
	txt := strings.TrimSpace(sel.Text())
	if txt == "" {
		return nil
	}

	t, err := parseBCVDate(txt)
	if err != nil {
		return nil
	}

	return &t
}

var months = map[string]time.Month{
	"enero":      time.January,
	"febrero":    time.February,
	"marzo":      time.March,
	"abril":      time.April,
	"mayo":       time.May,
	"junio":      time.June,
	"julio":      time.July,
	"agosto":     time.August,
	"septiembre": time.September,
	"setiembre":  time.September,
	"octubre":    time.October,
	"noviembre":  time.November,
	"diciembre":  time.December,
}

// parseBCVDate parses the rendered effective date, ignoring the day of week.
// Example: "Martes, 13 Enero 2026"
func parseBCVDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if i := strings.Index(s, ","); i != -1 {
		s = strings.TrimSpace(s[i+1:])
	}

	parts := strings.Fields(s)
	if len(parts) < 3 {
		return time.Time{}, fmt.Errorf("date format is invalid %q", s)
	}

	day, err := strconv.Atoi(parts[0])
	if err != nil {
		return time.Time{}, fmt.Errorf("unable to parse effective date day: %w", err)
	}

	mo, ok := months[strings.ToLower(parts[1])]
	if !ok {
		return time.Time{}, fmt.Errorf("month is invalid %q", parts[1])
	}

	year, err := strconv.Atoi(parts[2])
	if err != nil {
		return time.Time{}, fmt.Errorf("unable to parse effective date year: %w", err)
	}

	return time.Date(year, mo, day, 0, 0, 0, 0, time.UTC), nil
}
