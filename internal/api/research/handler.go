package research

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"

	"foresight/internal/adapters/config"
	"foresight/internal/adapters/kafka"
	"foresight/internal/domain/research"
	"foresight/pkg/errors"
	"foresight/pkg/logger"
)

// Dispatcher claims a queued job and runs it in the background.
type Dispatcher interface {
	Dispatch(ctx context.Context, jobID uuid.UUID) (bool, error)
}

// LifecyclePublisher pushes job lifecycle events to the message bus.
type LifecyclePublisher interface {
	Publish(ctx context.Context, topic string, key string, event interface{}) error
}

// Handler serves the research job HTTP API: creation, snapshot reads and the
// realtime event stream.
type Handler struct {
	store      research.JobStore
	bus        research.EventBus
	dispatcher Dispatcher
	producer   LifecyclePublisher
	cfg        config.ResearchConfig
	log        *logger.Logger
}

// New creates a research API handler. bus and producer are optional.
func New(store research.JobStore, bus research.EventBus, dispatcher Dispatcher, producer LifecyclePublisher, cfg config.ResearchConfig) *Handler {
	return &Handler{
		store:      store,
		bus:        bus,
		dispatcher: dispatcher,
		producer:   producer,
		cfg:        cfg,
		log:        logger.Get().With("component", "research_api"),
	}
}

// Register mounts the handler's routes on the mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /research/jobs", h.HandleCreate)
	mux.HandleFunc("GET /research/jobs/{id}", h.HandleGet)
	mux.HandleFunc("GET /research/jobs/{id}/stream", h.HandleStream)
}

type createJobRequest struct {
	MarketID          string `json:"marketId"`
	Query             string `json:"query"`
	MaxIterations     int    `json:"maxIterations"`
	FocusText         string `json:"focusText"`
	NotificationEmail string `json:"notificationEmail"`
}

type createJobResponse struct {
	JobID string `json:"jobId"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// HandleCreate accepts a job request, persists it queued and returns the id
// immediately. The pipeline runs detached; clients follow progress via the
// snapshot or stream endpoints.
func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req createJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if req.MaxIterations == 0 {
		req.MaxIterations = h.cfg.DefaultMaxIterations
	}
	if req.MaxIterations > h.cfg.MaxMaxIterations {
		req.MaxIterations = h.cfg.MaxMaxIterations
	}

	job, err := research.NewJob(req.MarketID, req.Query, req.MaxIterations, req.FocusText, req.NotificationEmail)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.store.CreateJob(r.Context(), job); err != nil {
		h.log.Errorf("Failed to create research job: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to create job")
		return
	}

	if h.producer != nil {
		event := map[string]string{"job_id": job.ID.String(), "market_id": job.MarketID, "status": string(job.Status)}
		if err := h.producer.Publish(r.Context(), kafka.TopicJobCreated, job.ID.String(), event); err != nil {
			h.log.Warnf("Failed to publish job created event: %v", err)
		}
	}

	// Direct dispatch; the queue worker is the fallback if this loses a race
	// or the process dies before claiming.
	if _, err := h.dispatcher.Dispatch(r.Context(), job.ID); err != nil {
		h.log.Warnf("Direct dispatch of job %s failed, queue worker will pick it up: %v", job.ID, err)
	}

	writeJSON(w, http.StatusOK, createJobResponse{JobID: job.ID.String()})
}

// jobResponse is the wire shape of a job snapshot.
type jobResponse struct {
	ID                string                       `json:"id"`
	MarketID          string                       `json:"marketId"`
	Query             string                       `json:"query"`
	FocusText         string                       `json:"focusText,omitempty"`
	Status            string                       `json:"status"`
	MaxIterations     int                          `json:"maxIterations"`
	CurrentIteration  int                          `json:"currentIteration"`
	Iterations        []research.IterationRecord   `json:"iterations"`
	FinalAnalysis     string                       `json:"finalAnalysis"`
	Insights          *research.StructuredInsights `json:"structuredInsights,omitempty"`
	ProgressLog       []string                     `json:"progressLog"`
	ErrorMessage      string                       `json:"errorMessage,omitempty"`
	NotificationSent  bool                         `json:"notificationSent"`
	CreatedAt         time.Time                    `json:"createdAt"`
	UpdatedAt         time.Time                    `json:"updatedAt"`
	CompletedAt       *time.Time                   `json:"completedAt,omitempty"`
	NotificationEmail string                       `json:"notificationEmail,omitempty"`
}

func toJobResponse(job *research.ResearchJob) jobResponse {
	resp := jobResponse{
		ID:                job.ID.String(),
		MarketID:          job.MarketID,
		Query:             job.Query,
		FocusText:         job.FocusText,
		Status:            string(job.Status),
		MaxIterations:     job.MaxIterations,
		CurrentIteration:  job.CurrentIteration,
		Iterations:        job.Iterations,
		FinalAnalysis:     job.FinalAnalysis,
		ProgressLog:       job.ProgressLog,
		ErrorMessage:      job.ErrorMessage,
		NotificationSent:  job.NotificationSent,
		CreatedAt:         job.CreatedAt,
		UpdatedAt:         job.UpdatedAt,
		CompletedAt:       job.CompletedAt,
		NotificationEmail: job.NotificationEmail,
	}
	if resp.Iterations == nil {
		resp.Iterations = []research.IterationRecord{}
	}
	if resp.ProgressLog == nil {
		resp.ProgressLog = []string{}
	}
	if !job.Insights.IsZero() {
		insights := job.Insights
		resp.Insights = &insights
	}
	return resp
}

// HandleGet returns a full job snapshot.
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid job id")
		return
	}

	job, err := h.store.GetJob(r.Context(), id)
	if err != nil {
		if errors.Is(err, errors.ErrNotFound) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		h.log.Errorf("Failed to load job %s: %v", id, err)
		writeError(w, http.StatusInternalServerError, "failed to load job")
		return
	}

	writeJSON(w, http.StatusOK, toJobResponse(job))
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}
