package research

import (
	"context"
	"time"

	"github.com/google/uuid"

	"foresight/internal/domain/research"
	"foresight/internal/workers"
	"foresight/pkg/errors"
)

// Dispatcher claims a queued job and runs it in the background.
type Dispatcher interface {
	Dispatch(ctx context.Context, jobID uuid.UUID) (bool, error)
}

// queueBatchSize bounds how many queued jobs one poll cycle dispatches.
const queueBatchSize = 10

// QueueWorker polls for queued jobs and hands them to the orchestrator.
// It is the safety net behind direct API dispatch: jobs created while the
// process was down, or whose dispatch was lost, get picked up here. The
// orchestrator's claim makes double dispatch harmless.
type QueueWorker struct {
	*workers.BaseWorker
	store      research.JobStore
	dispatcher Dispatcher
}

// NewQueueWorker creates a queue worker.
func NewQueueWorker(store research.JobStore, dispatcher Dispatcher, interval time.Duration) *QueueWorker {
	return &QueueWorker{
		BaseWorker: workers.NewBaseWorker("research_queue", interval, true),
		store:      store,
		dispatcher: dispatcher,
	}
}

// Run dispatches one batch of queued jobs.
func (w *QueueWorker) Run(ctx context.Context) error {
	jobs, err := w.store.ListByStatus(ctx, research.StatusQueued, queueBatchSize)
	if err != nil {
		w.RecordError(err)
		return errors.Wrap(err, "list queued jobs")
	}

	dispatched := 0
	for _, job := range jobs {
		claimed, err := w.dispatcher.Dispatch(ctx, job.ID)
		if err != nil {
			w.Log().Warnf("Failed to dispatch job %s: %v", job.ID, err)
			continue
		}
		if claimed {
			dispatched++
		}
	}

	if dispatched > 0 {
		w.Log().Infof("Dispatched %d queued research jobs", dispatched)
	}
	w.RecordRun()
	return nil
}
