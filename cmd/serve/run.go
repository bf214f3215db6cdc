package serve

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/sig-0/fxsnap/cmd/env"
	"github.com/sig-0/fxsnap/config"
	"github.com/sig-0/fxsnap/ingest"
	"github.com/sig-0/fxsnap/notify"
	"github.com/sig-0/fxsnap/query"
	"github.com/sig-0/fxsnap/server"
	"github.com/sig-0/fxsnap/storage"
)

// run wires the sync pipeline and the HTTP server on top of the store,
// and runs them until the context is cancelled or a signal arrives [BLOCKING]
func run(ctx context.Context, cfg *config.Config, store storage.Storage, logger *slog.Logger) error {
	// A misconfigured provider leaves the service up, with syncs unavailable
	p, err := newProvider(cfg.Sync, logger)
	if err != nil {
		logger.Error(
			"unable to create rate provider, syncs are disabled",
			"provider", cfg.Sync.Provider,
			"err", err,
		)
	}

	interval := cfg.Sync.SyncInterval()

	if err = store.SaveSyncInterval(ctx, interval); err != nil {
		return fmt.Errorf("unable to save sync interval: %w", err)
	}

	// Set up the sync event delivery, if any
	var sink ingest.Sink

	if redisURL := notifyURL(cfg); redisURL != "" {
		client, err := notify.Open(ctx, redisURL)
		if err != nil {
			return fmt.Errorf("unable to set up sync notifications: %w", err)
		}

		defer func() {
			if err := client.Close(); err != nil {
				logger.Error(
					"unable to gracefully close Redis connection",
					"err", err,
				)
			}
		}()

		opts := []notify.Option{
			notify.WithLogger(logger),
		}

		if cfg.Notify != nil && cfg.Notify.Channel != "" {
			opts = append(opts, notify.WithChannel(cfg.Notify.Channel))
		}

		sink = notify.NewRedisSink(client, opts...)

		logger.Info("sync notifications enabled")
	}

	coordinator := ingest.New(
		store,
		p,
		ingest.WithLogger(logger),
		ingest.WithSyncInterval(interval),
		ingest.WithTimeout(cfg.Sync.FetchTimeout()),
		ingest.WithRegisterer(prometheus.DefaultRegisterer),
	)

	scheduler := ingest.NewScheduler(
		coordinator,
		ingest.WithSchedulerLogger(logger),
		ingest.WithCheckInterval(cfg.Sync.CheckEvery()),
		ingest.WithPeriodicSink(sink),
	)

	queries := query.New(
		store,
		query.WithLogger(logger),
		query.WithRegisterer(prometheus.DefaultRegisterer),
	)

	s, err := server.New(
		queries,
		coordinator,
		server.WithLogger(logger),
		server.WithConfig(cfg),
		server.WithSyncSink(sink),
	)
	if err != nil {
		return fmt.Errorf("unable to create server, %w", err)
	}

	runCtx, cancelFn := signal.NotifyContext(
		ctx,
		os.Interrupt,
		syscall.SIGINT,
		syscall.SIGTERM,
		syscall.SIGQUIT,
	)
	defer cancelFn()

	group, gCtx := errgroup.WithContext(runCtx)

	// Start the HTTP server
	group.Go(func() error {
		return s.Serve(gCtx)
	})

	// Start the sync scheduler
	group.Go(func() error {
		return scheduler.Start(gCtx)
	})

	// SIGHUP forces a sync
	group.Go(func() error {
		hupCh := make(chan os.Signal, 1)

		signal.Notify(hupCh, syscall.SIGHUP)
		defer signal.Stop(hupCh)

		for {
			select {
			case <-gCtx.Done():
				return nil
			case <-hupCh:
				logger.Info("SIGHUP received, forcing a sync")

				scheduler.Trigger(true, sink)
			}
		}
	})

	return group.Wait()
}

// notifyURL returns the Redis URL for sync notifications.
// The environment takes precedence over the configuration
func notifyURL(cfg *config.Config) string {
	if v := os.Getenv(env.Prefix + env.RedisURLSuffix); v != "" {
		return v
	}

	if cfg.Notify == nil {
		return ""
	}

	return cfg.Notify.RedisURL
}
