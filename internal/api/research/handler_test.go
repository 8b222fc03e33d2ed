package research

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"foresight/internal/adapters/config"
	"foresight/internal/domain/research"
	"foresight/pkg/errors"
)

type memStore struct {
	research.JobStore
	mu   sync.Mutex
	jobs map[uuid.UUID]*research.ResearchJob
}

func newMemStore() *memStore {
	return &memStore{jobs: make(map[uuid.UUID]*research.ResearchJob)}
}

func (s *memStore) CreateJob(_ context.Context, job *research.ResearchJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *job
	s.jobs[job.ID] = &clone
	return nil
}

func (s *memStore) GetJob(_ context.Context, id uuid.UUID) (*research.ResearchJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, errors.ErrNotFound
	}
	clone := *job
	return &clone, nil
}

type recordingDispatcher struct {
	mu   sync.Mutex
	jobs []uuid.UUID
}

func (d *recordingDispatcher) Dispatch(_ context.Context, jobID uuid.UUID) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.jobs = append(d.jobs, jobID)
	return true, nil
}

type staticBus struct {
	events []research.JobEvent
}

func (b *staticBus) Publish(_ context.Context, _ research.JobEvent) error { return nil }

func (b *staticBus) Subscribe(_ context.Context, _ uuid.UUID) (<-chan research.JobEvent, func(), error) {
	ch := make(chan research.JobEvent, len(b.events))
	for _, e := range b.events {
		ch <- e
	}
	close(ch)
	return ch, func() {}, nil
}

func testHandler(store research.JobStore, bus research.EventBus, dispatcher Dispatcher) *Handler {
	return New(store, bus, dispatcher, nil, config.ResearchConfig{
		DefaultMaxIterations: 3,
		MaxMaxIterations:     10,
	})
}

func doCreate(t *testing.T, h *Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/research/jobs", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.HandleCreate(rec, req)
	return rec
}

func TestCreateJobMissingMarketID(t *testing.T) {
	h := testHandler(newMemStore(), nil, &recordingDispatcher{})
	rec := doCreate(t, h, `{"query": "Will it rain?"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateJobMissingQuery(t *testing.T) {
	h := testHandler(newMemStore(), nil, &recordingDispatcher{})
	rec := doCreate(t, h, `{"marketId": "m-1"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateJobInvalidBody(t *testing.T) {
	h := testHandler(newMemStore(), nil, &recordingDispatcher{})
	rec := doCreate(t, h, `{not json`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateJobReturnsIDAndDispatches(t *testing.T) {
	store := newMemStore()
	dispatcher := &recordingDispatcher{}
	h := testHandler(store, nil, dispatcher)

	rec := doCreate(t, h, `{"marketId": "m-1", "query": "Will it rain?"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp createJobResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	id, err := uuid.Parse(resp.JobID)
	require.NoError(t, err)

	require.Equal(t, []uuid.UUID{id}, dispatcher.jobs)

	job, err := store.GetJob(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, research.StatusQueued, job.Status)
	require.Equal(t, 3, job.MaxIterations, "default max iterations applied")
}

func TestCreateJobClampsMaxIterations(t *testing.T) {
	store := newMemStore()
	h := testHandler(store, nil, &recordingDispatcher{})

	rec := doCreate(t, h, `{"marketId": "m-1", "query": "q", "maxIterations": 99}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp createJobResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	job, err := store.GetJob(context.Background(), uuid.MustParse(resp.JobID))
	require.NoError(t, err)
	require.Equal(t, 10, job.MaxIterations)
}

func getJob(t *testing.T, h *Handler, id string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/research/jobs/"+id, nil)
	req.SetPathValue("id", id)
	rec := httptest.NewRecorder()
	h.HandleGet(rec, req)
	return rec
}

func TestGetJobNotFound(t *testing.T) {
	h := testHandler(newMemStore(), nil, &recordingDispatcher{})
	rec := getJob(t, h, uuid.NewString())
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetJobInvalidID(t *testing.T) {
	h := testHandler(newMemStore(), nil, &recordingDispatcher{})
	rec := getJob(t, h, "not-a-uuid")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetJobSnapshot(t *testing.T) {
	store := newMemStore()
	h := testHandler(store, nil, &recordingDispatcher{})

	job, err := research.NewJob("m-1", "Will it rain?", 2, "tomorrow", "")
	require.NoError(t, err)
	job.Insights = research.StructuredInsights{Probability: "40%", Rationale: "clouds"}
	require.NoError(t, store.CreateJob(context.Background(), job))

	rec := getJob(t, h, job.ID.String())
	require.Equal(t, http.StatusOK, rec.Code)

	var resp jobResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "m-1", resp.MarketID)
	require.Equal(t, "queued", resp.Status)
	require.NotNil(t, resp.Insights)
	require.Equal(t, "40%", resp.Insights.Probability)
	require.NotNil(t, resp.Iterations, "iterations serializes as [] not null")
}

func TestStreamRelaysEvents(t *testing.T) {
	store := newMemStore()
	job, err := research.NewJob("m-1", "q", 1, "", "")
	require.NoError(t, err)
	require.NoError(t, store.CreateJob(context.Background(), job))

	bus := &staticBus{events: []research.JobEvent{
		{JobID: job.ID, Type: research.EventAnalysisChunk, Iteration: 1, Chunk: "Paris "},
		{JobID: job.ID, Type: research.EventStatusChanged, Status: research.StatusCompleted},
	}}
	h := testHandler(store, bus, &recordingDispatcher{})

	req := httptest.NewRequest(http.MethodGet, "/research/jobs/"+job.ID.String()+"/stream", nil)
	req.SetPathValue("id", job.ID.String())
	rec := httptest.NewRecorder()
	h.HandleStream(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	body := rec.Body.String()
	require.Contains(t, body, "event: snapshot")
	require.Contains(t, body, "event: analysis_chunk")
	require.Contains(t, body, "Paris ")
	require.Contains(t, body, "event: status_changed")

	// Snapshot frame arrives before any delta
	require.Less(t, strings.Index(body, "event: snapshot"), strings.Index(body, "event: analysis_chunk"))
}

func TestStreamWithoutBus(t *testing.T) {
	h := testHandler(newMemStore(), nil, &recordingDispatcher{})
	req := httptest.NewRequest(http.MethodGet, "/research/jobs/"+uuid.NewString()+"/stream", nil)
	req.SetPathValue("id", uuid.NewString())
	rec := httptest.NewRecorder()
	h.HandleStream(rec, req)
	require.Equal(t, http.StatusNotImplemented, rec.Code)
}
