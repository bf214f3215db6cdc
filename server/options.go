package server

import (
	"log/slog"
	"net/http"

	"github.com/sig-0/fxsnap/config"
	"github.com/sig-0/fxsnap/ingest"
)

type Option func(s *Server)

// WithLogger specifies the logger for the server
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		s.logger = l
	}
}

// WithConfig specifies the config for the server
func WithConfig(c *config.Config) Option {
	return func(s *Server) {
		s.config = c
	}
}

// WithSyncSink specifies the additional event sink for the
// syncs triggered through the API
func WithSyncSink(sink ingest.Sink) Option {
	return func(s *Server) {
		s.sink = sink
	}
}

// WithMetricsHandler specifies the handler serving /metrics.
// Defaults to the prometheus default gatherer
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) {
		s.metrics = h
	}
}
