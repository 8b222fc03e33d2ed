package research

import (
	"context"

	"github.com/google/uuid"
)

// JobStore defines durable, incrementally-updatable persistence of
// ResearchJob state. Appends must be single-statement operations so the
// orchestrator's sequential writes never lose entries; status transitions
// are enforced forward-only by the store itself.
type JobStore interface {
	// CreateJob inserts a new queued job.
	CreateJob(ctx context.Context, job *ResearchJob) error

	// GetJob returns a full snapshot.
	GetJob(ctx context.Context, id uuid.UUID) (*ResearchJob, error)

	// ListByStatus returns up to limit jobs in the given status, oldest first.
	ListByStatus(ctx context.Context, status Status, limit int) ([]ResearchJob, error)

	// UpdateStatus moves the job forward; regressions are a no-op returning
	// ErrInvalidTransition. errorMessage is recorded on failed; completed_at
	// is stamped on completed.
	UpdateStatus(ctx context.Context, id uuid.UUID, next Status, errorMessage string) error

	// ClaimQueued atomically moves queued -> processing.
	// Returns false when the job was already claimed or is past queued.
	ClaimQueued(ctx context.Context, id uuid.UUID) (bool, error)

	// AppendProgress adds one observability line; best-effort for callers.
	AppendProgress(ctx context.Context, id uuid.UUID, message string) error

	// AppendIteration adds a new IterationRecord and bumps current_iteration.
	// Returns ErrIterationExists when the iteration number is already present.
	AppendIteration(ctx context.Context, id uuid.UUID, rec IterationRecord) error

	// AppendResultsToIteration merges additional content items into an
	// existing iteration's results.
	AppendResultsToIteration(ctx context.Context, id uuid.UUID, iteration int, results []ContentItem) error

	// StreamAppendAnalysis appends a text chunk to an iteration's analysis.
	// Chunks are applied in call order under the orchestrator's single-writer
	// guarantee.
	StreamAppendAnalysis(ctx context.Context, id uuid.UUID, iteration int, chunk string) error

	// StreamAppendFinalAnalysis appends a text chunk to the job-level final
	// analysis buffer.
	StreamAppendFinalAnalysis(ctx context.Context, id uuid.UUID, chunk string) error

	// SetStructuredInsights sets the job's insights; last call wins.
	SetStructuredInsights(ctx context.Context, id uuid.UUID, insights StructuredInsights) error

	// MarkNotificationSent flips the notification flag.
	// Returns false when it was already set, preventing duplicate emails.
	MarkNotificationSent(ctx context.Context, id uuid.UUID) (bool, error)
}

// JobEventType discriminates change events on the realtime feed.
type JobEventType string

const (
	EventStatusChanged   JobEventType = "status_changed"
	EventProgress        JobEventType = "progress"
	EventIterationAdded  JobEventType = "iteration_added"
	EventResultsAppended JobEventType = "results_appended"
	EventAnalysisChunk   JobEventType = "analysis_chunk"
	EventFinalChunk      JobEventType = "final_chunk"
	EventInsightsSet     JobEventType = "insights_set"
)

// JobEvent is one row-level change notification.
// Delivery is at-least-once; consumers must tolerate duplicates and re-read
// the job snapshot when in doubt.
type JobEvent struct {
	JobID     uuid.UUID    `json:"job_id"`
	Type      JobEventType `json:"type"`
	Status    Status       `json:"status,omitempty"`
	Iteration int          `json:"iteration,omitempty"`
	Chunk     string       `json:"chunk,omitempty"`
	Message   string       `json:"message,omitempty"`
}

// EventBus pushes job change events to subscribers.
type EventBus interface {
	// Publish emits one event; failures are logged by callers, never fatal.
	Publish(ctx context.Context, event JobEvent) error

	// Subscribe streams events for one job until cancel is called or the
	// context ends.
	Subscribe(ctx context.Context, jobID uuid.UUID) (<-chan JobEvent, func(), error)
}

// Notifier delivers terminal job notifications. Fire-and-forget: errors are
// logged, never escalated.
type Notifier interface {
	SendJobNotification(ctx context.Context, email, jobID, status, summary string) error
}
