package ingest

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/rs/xid"
	"github.com/sig-0/iq"
)

// Scheduler is the sync trigger loop. It queues a periodic, non-forced
// sync on boot and every check interval, plus ad-hoc syncs requested
// through Trigger. Failed syncs are not retried, the next job simply runs
// on its own schedule
type Scheduler struct {
	syncer Syncer
	logger *slog.Logger
	sink   Sink // sink for the periodic jobs

	q    iq.Queue[scheduledSync]
	qMux sync.Mutex

	jobs sync.WaitGroup // in-flight sync jobs

	queryInterval time.Duration
	checkInterval time.Duration
}

type SchedulerOption func(s *Scheduler)

// WithSchedulerLogger specifies the logger for the scheduler
func WithSchedulerLogger(l *slog.Logger) SchedulerOption {
	return func(s *Scheduler) {
		s.logger = l
	}
}

// WithCheckInterval specifies how often the periodic sync job runs.
// Defaults to 1m. The coordinator decides if the periodic sync
// actually refetches, based on the staleness interval
func WithCheckInterval(d time.Duration) SchedulerOption {
	return func(s *Scheduler) {
		s.checkInterval = d
	}
}

// WithQueryInterval specifies how often the job queue is checked for due jobs.
// Defaults to 1s
func WithQueryInterval(d time.Duration) SchedulerOption {
	return func(s *Scheduler) {
		s.queryInterval = d
	}
}

// WithPeriodicSink specifies the event sink for the periodic sync jobs
func WithPeriodicSink(sink Sink) SchedulerOption {
	return func(s *Scheduler) {
		s.sink = sink
	}
}

// NewScheduler creates a new sync scheduler
func NewScheduler(syncer Syncer, opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		syncer:        syncer,
		logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
		q:             iq.NewQueue[scheduledSync](),
		queryInterval: time.Second,
		checkInterval: time.Minute,
	}

	// Apply the options
	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Trigger queues an ad-hoc sync, run on the next queue check.
// The events of the sync are delivered to the given sink
func (s *Scheduler) Trigger(force bool, sink Sink) xid.ID {
	id := xid.New()

	s.schedule(scheduledSync{
		at:    time.Now().UTC(),
		sink:  sink,
		id:    id,
		force: force,
	})

	s.logger.Info(
		"sync triggered",
		"job_id", id.String(),
		"force", force,
	)

	return id
}

// Pending returns the number of queued sync jobs
func (s *Scheduler) Pending() int {
	s.qMux.Lock()
	defer s.qMux.Unlock()

	return s.q.Len()
}

// Start starts the sync scheduler loop [BLOCKING].
// Syncs are not cancelled on shutdown, Start returns once
// the in-flight sync jobs are done
func (s *Scheduler) Start(ctx context.Context) error {
	collectorCh := make(chan *jobResponse, 100)

	// Queue the boot sync
	s.schedule(scheduledSync{
		at:       time.Now().UTC(),
		sink:     s.sink,
		id:       xid.New(),
		periodic: true,
	})

	ticker := time.NewTicker(s.queryInterval)
	defer ticker.Stop()

	// handleDue runs all jobs that are due
	handleDue := func() {
		for {
			select {
			case <-ctx.Done():
				return
			default:
				next := s.nextSync()
				if next == nil {
					return // nothing is due
				}

				s.logger.Debug(
					"running sync job",
					"job_id", next.id.String(),
					"force", next.force,
					"periodic", next.periodic,
				)

				s.jobs.Add(1)

				go func() {
					defer s.jobs.Done()

					handleJob(ctx, s.syncer, next, collectorCh)
				}()
			}
		}
	}

	handleDue()

	for {
		select {
		case <-ctx.Done():
			s.jobs.Wait()

			s.logger.Info("sync scheduler shut down")

			return nil
		case <-ticker.C:
			handleDue()
		case response := <-collectorCh:
			s.logger.Debug(
				"sync job done",
				"job_id", response.id.String(),
				"sync_id", response.result.SyncID,
				"state", response.result.State,
			)

			if !response.periodic {
				continue
			}

			// Schedule the next periodic check
			s.schedule(scheduledSync{
				at:       time.Now().UTC().Add(s.checkInterval),
				sink:     s.sink,
				id:       response.id,
				periodic: true,
			})
		}
	}
}

// schedule queues up a new sync job
func (s *Scheduler) schedule(job scheduledSync) {
	s.qMux.Lock()
	defer s.qMux.Unlock()

	s.q.Push(job)
}

// nextSync fetches the next due sync job, as of the moment of calling
func (s *Scheduler) nextSync() *scheduledSync {
	s.qMux.Lock()
	defer s.qMux.Unlock()

	if s.q.Len() == 0 {
		return nil // nothing queued
	}

	// Check if the top element is due
	if s.q.Index(0).at.After(time.Now().UTC()) {
		return nil
	}

	return s.q.PopFront()
}
