package ingest

import (
	"context"
	"time"

	"github.com/rs/xid"
)

// Syncer runs sync invocations
type Syncer interface {
	Sync(ctx context.Context, force bool, sink Sink) Result
}

// scheduledSync is a single scheduled sync job
type scheduledSync struct {
	at       time.Time
	sink     Sink
	id       xid.ID
	force    bool
	periodic bool // periodic jobs reschedule themselves
}

// Less is utilized to sort scheduled syncs by their due-time (earliest == first)
func (a scheduledSync) Less(b scheduledSync) bool {
	return a.at.Before(b.at)
}

// jobResponse is the sync routine response
type jobResponse struct {
	result   Result
	id       xid.ID
	periodic bool
}

// handleJob runs the scheduled sync
func handleJob(
	ctx context.Context,
	syncer Syncer,
	job *scheduledSync,
	resCh chan<- *jobResponse,
) {
	response := &jobResponse{
		result:   syncer.Sync(ctx, job.force, job.sink),
		id:       job.id,
		periodic: job.periodic,
	}

	select {
	case <-ctx.Done():
	case resCh <- response:
	}
}
