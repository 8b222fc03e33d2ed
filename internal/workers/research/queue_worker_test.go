package research

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"foresight/internal/domain/research"
	"foresight/pkg/errors"
)

type stubLister struct {
	research.JobStore
	jobs []research.ResearchJob
	err  error
}

func (s *stubLister) ListByStatus(_ context.Context, _ research.Status, limit int) ([]research.ResearchJob, error) {
	if s.err != nil {
		return nil, s.err
	}
	if len(s.jobs) > limit {
		return s.jobs[:limit], nil
	}
	return s.jobs, nil
}

type stubDispatcher struct {
	mu      sync.Mutex
	claimed map[uuid.UUID]bool
	calls   int
}

func (d *stubDispatcher) Dispatch(_ context.Context, jobID uuid.UUID) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	if d.claimed == nil {
		d.claimed = make(map[uuid.UUID]bool)
	}
	if d.claimed[jobID] {
		return false, nil
	}
	d.claimed[jobID] = true
	return true, nil
}

func queuedJob(t *testing.T) research.ResearchJob {
	t.Helper()
	job, err := research.NewJob("market", "question?", 1, "", "")
	require.NoError(t, err)
	return *job
}

func TestQueueWorkerDispatchesQueuedJobs(t *testing.T) {
	jobs := []research.ResearchJob{queuedJob(t), queuedJob(t)}
	store := &stubLister{jobs: jobs}
	dispatcher := &stubDispatcher{}
	w := NewQueueWorker(store, dispatcher, time.Second)

	require.NoError(t, w.Run(context.Background()))
	require.Equal(t, 2, dispatcher.calls)

	// A second poll re-sees the same jobs; the claim makes it harmless.
	require.NoError(t, w.Run(context.Background()))
	require.Equal(t, 4, dispatcher.calls)
	require.Len(t, dispatcher.claimed, 2)
}

func TestQueueWorkerListFailure(t *testing.T) {
	store := &stubLister{err: errors.Wrap(errors.ErrUnavailable, "db down")}
	w := NewQueueWorker(store, &stubDispatcher{}, time.Second)

	err := w.Run(context.Background())
	require.Error(t, err)
	require.Equal(t, int64(1), w.Health().ErrorCount)
}
