package research

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"foresight/internal/adapters/ai"
	"foresight/internal/adapters/search"
	"foresight/internal/domain/research"
	"foresight/pkg/errors"
)

// fakeStore is an in-memory JobStore with the same transition and append
// semantics as the Postgres implementation.
type fakeStore struct {
	mu            sync.Mutex
	jobs          map[uuid.UUID]*research.ResearchJob
	statusHistory map[uuid.UUID][]research.Status
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		jobs:          make(map[uuid.UUID]*research.ResearchJob),
		statusHistory: make(map[uuid.UUID][]research.Status),
	}
}

func (s *fakeStore) CreateJob(_ context.Context, job *research.ResearchJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *job
	s.jobs[job.ID] = &clone
	return nil
}

func (s *fakeStore) GetJob(_ context.Context, id uuid.UUID) (*research.ResearchJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, errors.ErrNotFound
	}
	clone := *job
	clone.Iterations = append(research.IterationList{}, job.Iterations...)
	clone.ProgressLog = append(research.StringList{}, job.ProgressLog...)
	return &clone, nil
}

func (s *fakeStore) ListByStatus(_ context.Context, status research.Status, limit int) ([]research.ResearchJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []research.ResearchJob
	for _, job := range s.jobs {
		if job.Status == status && len(out) < limit {
			out = append(out, *job)
		}
	}
	return out, nil
}

func (s *fakeStore) UpdateStatus(_ context.Context, id uuid.UUID, next research.Status, errorMessage string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return errors.ErrNotFound
	}
	if !job.Status.CanTransitionTo(next) {
		return errors.ErrInvalidTransition
	}
	job.Status = next
	s.statusHistory[id] = append(s.statusHistory[id], next)
	if next == research.StatusFailed {
		job.ErrorMessage = errorMessage
	}
	if next == research.StatusCompleted {
		now := time.Now()
		job.CompletedAt = &now
	}
	return nil
}

func (s *fakeStore) ClaimQueued(_ context.Context, id uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return false, errors.ErrNotFound
	}
	if job.Status != research.StatusQueued {
		return false, nil
	}
	job.Status = research.StatusProcessing
	s.statusHistory[id] = append(s.statusHistory[id], research.StatusProcessing)
	return true, nil
}

func (s *fakeStore) AppendProgress(_ context.Context, id uuid.UUID, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return errors.ErrNotFound
	}
	job.ProgressLog = append(job.ProgressLog, message)
	return nil
}

func (s *fakeStore) AppendIteration(_ context.Context, id uuid.UUID, rec research.IterationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return errors.ErrNotFound
	}
	for _, existing := range job.Iterations {
		if existing.Iteration == rec.Iteration {
			return errors.ErrIterationExists
		}
	}
	job.Iterations = append(job.Iterations, rec)
	if rec.Iteration > job.CurrentIteration {
		job.CurrentIteration = rec.Iteration
	}
	return nil
}

func (s *fakeStore) AppendResultsToIteration(_ context.Context, id uuid.UUID, iteration int, results []research.ContentItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return errors.ErrNotFound
	}
	for i := range job.Iterations {
		if job.Iterations[i].Iteration == iteration {
			job.Iterations[i].Results = append(job.Iterations[i].Results, results...)
			return nil
		}
	}
	return errors.ErrIterationNotFound
}

func (s *fakeStore) StreamAppendAnalysis(_ context.Context, id uuid.UUID, iteration int, chunk string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return errors.ErrNotFound
	}
	for i := range job.Iterations {
		if job.Iterations[i].Iteration == iteration {
			job.Iterations[i].Analysis += chunk
			return nil
		}
	}
	return errors.ErrIterationNotFound
}

func (s *fakeStore) StreamAppendFinalAnalysis(_ context.Context, id uuid.UUID, chunk string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return errors.ErrNotFound
	}
	job.FinalAnalysis += chunk
	return nil
}

func (s *fakeStore) SetStructuredInsights(_ context.Context, id uuid.UUID, insights research.StructuredInsights) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return errors.ErrNotFound
	}
	job.Insights = insights
	return nil
}

func (s *fakeStore) MarkNotificationSent(_ context.Context, id uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return false, errors.ErrNotFound
	}
	if job.NotificationSent {
		return false, nil
	}
	job.NotificationSent = true
	return true, nil
}

func (s *fakeStore) history(id uuid.UUID) []research.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]research.Status{}, s.statusHistory[id]...)
}

// fakeProvider routes Chat by prompt content and replays scripted streams.
type fakeProvider struct {
	mu          sync.Mutex
	chatFn      func(req ai.ChatRequest) (*ai.ChatResponse, error)
	streamFn    func(call int, req ai.ChatRequest) ([]string, error)
	streamCalls int
}

func (p *fakeProvider) Name() string { return "fake" }

func (p *fakeProvider) Chat(_ context.Context, req ai.ChatRequest) (*ai.ChatResponse, error) {
	return p.chatFn(req)
}

func (p *fakeProvider) ChatStream(_ context.Context, req ai.ChatRequest) (<-chan ai.ChatStreamChunk, <-chan error) {
	p.mu.Lock()
	p.streamCalls++
	call := p.streamCalls
	p.mu.Unlock()

	chunks := make(chan ai.ChatStreamChunk)
	errCh := make(chan error, 1)
	go func() {
		defer close(chunks)
		defer close(errCh)
		deltas, err := p.streamFn(call, req)
		for _, d := range deltas {
			chunks <- ai.ChatStreamChunk{Delta: d}
		}
		if err != nil {
			errCh <- err
		}
	}()
	return chunks, errCh
}

func (p *fakeProvider) streamCallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.streamCalls
}

// fakeSearch returns scripted results per call.
type fakeSearch struct {
	mu      sync.Mutex
	calls   int
	results func(call int, query string) ([]search.Result, error)
}

func (s *fakeSearch) Search(_ context.Context, query string, _ int) ([]search.Result, error) {
	s.mu.Lock()
	s.calls++
	call := s.calls
	s.mu.Unlock()
	return s.results(call, query)
}

// uniqueResults produces count results with URLs unique across all calls.
func uniqueResults(call int, count int) []search.Result {
	out := make([]search.Result, count)
	for i := range out {
		out[i] = search.Result{
			URL:         fmt.Sprintf("https://example.com/%d/%d", call, i),
			Title:       fmt.Sprintf("Result %d-%d", call, i),
			Description: "snippet",
		}
	}
	return out
}
