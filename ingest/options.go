package ingest

import (
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type Option func(c *Coordinator)

// WithLogger specifies the logger for the coordinator
func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) {
		c.logger = l
	}
}

// WithSyncInterval specifies the fallback staleness interval,
// used when the stored sync metadata carries none.
// Defaults to 6h
func WithSyncInterval(d time.Duration) Option {
	return func(c *Coordinator) {
		c.interval = d
	}
}

// WithTimeout specifies the upper bound for a single fetch and commit.
// Zero (the default) bounds the sync only by the caller's context
func WithTimeout(d time.Duration) Option {
	return func(c *Coordinator) {
		c.timeout = d
	}
}

// WithRegisterer specifies the prometheus registerer for the sync metrics.
// The metrics are left unregistered if not set
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(c *Coordinator) {
		c.registerer = reg
	}
}

// WithClock specifies the time source for the coordinator
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) {
		c.now = now
	}
}
