package serve

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/sig-0/fxsnap/config"
	"github.com/sig-0/fxsnap/provider"
	"github.com/sig-0/fxsnap/provider/bcv"
	"github.com/sig-0/fxsnap/provider/openexchange"
)

const (
	providerOpenExchangeRates = "openexchangerates"
	providerBCV               = "bcv"
)

// newProvider creates the configured rate provider
func newProvider(cfg *config.Sync, logger *slog.Logger) (provider.Provider, error) {
	var (
		name    = strings.ToLower(strings.TrimSpace(cfg.Provider))
		options = provider.Options(cfg.Options)
		timeout = cfg.FetchTimeout()
	)

	switch name {
	case providerOpenExchangeRates:
		p, err := openexchange.New(
			options,
			openexchange.WithLogger(logger),
			openexchange.WithTimeout(timeout),
		)
		if err != nil {
			return nil, err
		}

		return p, nil
	case providerBCV:
		p, err := bcv.New(
			options,
			bcv.WithLogger(logger),
			bcv.WithTimeout(timeout),
		)
		if err != nil {
			return nil, err
		}

		return p, nil
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", provider.ErrConfig, cfg.Provider)
	}
}
