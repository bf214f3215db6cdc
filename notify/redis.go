package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sig-0/fxsnap/ingest"
)

// DefaultChannel is the default pub/sub channel for sync events
const DefaultChannel = "fxsnap:sync"

// Publisher publishes messages to a pub/sub channel.
// Satisfied by *redis.Client
type Publisher interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

// RedisSink publishes the sync lifecycle events to a Redis pub/sub channel.
// Delivery is best effort: publish failures are only logged
type RedisSink struct {
	publisher Publisher
	logger    *slog.Logger
	channel   string
	timeout   time.Duration
}

type Option func(s *RedisSink)

// WithLogger specifies the logger for the sink
func WithLogger(l *slog.Logger) Option {
	return func(s *RedisSink) {
		s.logger = l
	}
}

// WithChannel specifies the pub/sub channel
func WithChannel(channel string) Option {
	return func(s *RedisSink) {
		s.channel = channel
	}
}

// NewRedisSink creates a new Redis pub/sub event sink
func NewRedisSink(publisher Publisher, opts ...Option) *RedisSink {
	s := &RedisSink{
		publisher: publisher,
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		channel:   DefaultChannel,
		timeout:   time.Second * 5,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Open connects to the Redis server at the given URL
// (e.g. "redis://localhost:6379/0"), and pings it
func Open(ctx context.Context, url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("unable to parse redis URL: %w", err)
	}

	client := redis.NewClient(opt)

	pingCtx, cancelFn := context.WithTimeout(ctx, time.Second*5)
	defer cancelFn()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()

		return nil, fmt.Errorf("unable to reach redis (ping): %w", err)
	}

	return client, nil
}

// Send publishes the event as JSON
func (s *RedisSink) Send(ctx context.Context, ev ingest.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		s.logger.Error(
			"unable to marshal sync event",
			"sync_id", ev.SyncID,
			"err", err,
		)

		return
	}

	// Delivery doesn't outlive the sync, but is bounded on its own
	publishCtx, cancelFn := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	defer cancelFn()

	receivers, err := s.publisher.Publish(publishCtx, s.channel, data).Result()
	if err != nil {
		s.logger.Error(
			"unable to publish sync event",
			"channel", s.channel,
			"sync_id", ev.SyncID,
			"state", ev.State,
			"err", err,
		)

		return
	}

	s.logger.Debug(
		"published sync event",
		"channel", s.channel,
		"sync_id", ev.SyncID,
		"state", ev.State,
		"receivers", receivers,
	)
}
