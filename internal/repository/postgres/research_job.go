package postgres

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"foresight/internal/domain/research"
	"foresight/internal/metrics"
	"foresight/pkg/errors"
	"foresight/pkg/logger"
)

// Compile-time check
var _ research.JobStore = (*ResearchJobRepository)(nil)

// ResearchJobRepository implements research.JobStore using sqlx.
//
// Every mutation is a single UPDATE statement that appends rather than
// rewriting whole collections, which keeps the single-writer orchestrator
// safe without transactions. After each successful write a change event is
// published on the bus, best-effort.
type ResearchJobRepository struct {
	db  *sqlx.DB
	bus research.EventBus // optional; nil disables change events
	log *logger.Logger
}

// NewResearchJobRepository creates a new research job repository.
func NewResearchJobRepository(db *sqlx.DB, bus research.EventBus) *ResearchJobRepository {
	return &ResearchJobRepository{
		db:  db,
		bus: bus,
		log: logger.Get().With("component", "research_job_repo"),
	}
}

// CreateJob inserts a new queued job.
func (r *ResearchJobRepository) CreateJob(ctx context.Context, job *research.ResearchJob) error {
	query := `
		INSERT INTO research_jobs (
			id, market_id, query, focus_text, notification_email,
			status, max_iterations, current_iteration, iterations,
			final_analysis, structured_insights, progress_log,
			error_message, notification_sent, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9,
			$10, $11, $12, $13, $14, $15, $16
		)`

	_, err := r.db.ExecContext(ctx, query,
		job.ID, job.MarketID, job.Query, job.FocusText, job.NotificationEmail,
		job.Status, job.MaxIterations, job.CurrentIteration, job.Iterations,
		job.FinalAnalysis, job.Insights, job.ProgressLog,
		job.ErrorMessage, job.NotificationSent, job.CreatedAt, job.UpdatedAt,
	)
	r.track("insert_job", err)
	if err != nil {
		return errors.Wrap(err, "insert research job")
	}

	r.publish(ctx, research.JobEvent{JobID: job.ID, Type: research.EventStatusChanged, Status: job.Status})
	return nil
}

// GetJob returns a full snapshot.
func (r *ResearchJobRepository) GetJob(ctx context.Context, id uuid.UUID) (*research.ResearchJob, error) {
	var job research.ResearchJob
	err := r.db.GetContext(ctx, &job, `SELECT * FROM research_jobs WHERE id = $1`, id)
	r.track("get_job", err)
	if err == sql.ErrNoRows {
		return nil, errors.Wrapf(errors.ErrNotFound, "job %s", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "get research job")
	}
	return &job, nil
}

// ListByStatus returns up to limit jobs in the given status, oldest first.
func (r *ResearchJobRepository) ListByStatus(ctx context.Context, status research.Status, limit int) ([]research.ResearchJob, error) {
	var jobs []research.ResearchJob
	query := `SELECT * FROM research_jobs WHERE status = $1 ORDER BY created_at ASC LIMIT $2`
	err := r.db.SelectContext(ctx, &jobs, query, status, limit)
	r.track("list_by_status", err)
	if err != nil {
		return nil, errors.Wrap(err, "list research jobs")
	}
	return jobs, nil
}

// UpdateStatus moves the job forward. The transition guard runs in SQL so a
// stale writer can never regress a status: the target must be failed (legal
// from any non-terminal state) or rank strictly higher than the current one.
func (r *ResearchJobRepository) UpdateStatus(ctx context.Context, id uuid.UUID, next research.Status, errorMessage string) error {
	if !next.Valid() {
		return errors.Wrapf(errors.ErrInvalidInput, "unknown status %q", next)
	}

	query := `
		UPDATE research_jobs SET
			status = $2,
			error_message = CASE WHEN $2 = 'failed' THEN $3 ELSE error_message END,
			completed_at = CASE WHEN $2 = 'completed' THEN now() ELSE completed_at END,
			updated_at = now()
		WHERE id = $1
		  AND status NOT IN ('completed', 'failed')
		  AND ($2 = 'failed'
		       OR array_position($4::text[], status) < array_position($4::text[], $2))`

	res, err := r.db.ExecContext(ctx, query, id, next, errorMessage, pq.Array(research.OrderedStatuses()))
	r.track("update_status", err)
	if err != nil {
		return errors.Wrap(err, "update job status")
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		if _, err := r.GetJob(ctx, id); err != nil {
			return err
		}
		return errors.Wrapf(errors.ErrInvalidTransition, "to %s", next)
	}

	r.publish(ctx, research.JobEvent{JobID: id, Type: research.EventStatusChanged, Status: next, Message: errorMessage})
	return nil
}

// ClaimQueued atomically moves queued -> processing.
func (r *ResearchJobRepository) ClaimQueued(ctx context.Context, id uuid.UUID) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE research_jobs SET status = 'processing', updated_at = now()
		 WHERE id = $1 AND status = 'queued'`, id)
	r.track("claim_queued", err)
	if err != nil {
		return false, errors.Wrap(err, "claim queued job")
	}
	affected, _ := res.RowsAffected()
	if affected > 0 {
		r.publish(ctx, research.JobEvent{JobID: id, Type: research.EventStatusChanged, Status: research.StatusProcessing})
	}
	return affected > 0, nil
}

// AppendProgress adds one observability line.
func (r *ResearchJobRepository) AppendProgress(ctx context.Context, id uuid.UUID, message string) error {
	entry, err := json.Marshal([]string{message})
	if err != nil {
		return errors.Wrap(err, "marshal progress entry")
	}

	_, err = r.db.ExecContext(ctx,
		`UPDATE research_jobs SET progress_log = progress_log || $2::jsonb, updated_at = now()
		 WHERE id = $1`, id, entry)
	r.track("append_progress", err)
	if err != nil {
		return errors.Wrap(err, "append progress")
	}

	r.publish(ctx, research.JobEvent{JobID: id, Type: research.EventProgress, Message: message})
	return nil
}

// AppendIteration adds a new IterationRecord. The duplicate guard runs in
// the same statement, making concurrent duplicate execution a safe no-op.
func (r *ResearchJobRepository) AppendIteration(ctx context.Context, id uuid.UUID, rec research.IterationRecord) error {
	encoded, err := json.Marshal([]research.IterationRecord{rec})
	if err != nil {
		return errors.Wrap(err, "marshal iteration record")
	}

	query := `
		UPDATE research_jobs
		SET iterations = iterations || $2::jsonb,
		    current_iteration = GREATEST(current_iteration, $3),
		    updated_at = now()
		WHERE id = $1
		  AND NOT EXISTS (
		      SELECT 1 FROM jsonb_array_elements(research_jobs.iterations) e
		      WHERE (e->>'iteration')::int = $3
		  )`

	res, err := r.db.ExecContext(ctx, query, id, encoded, rec.Iteration)
	r.track("append_iteration", err)
	if err != nil {
		return errors.Wrap(err, "append iteration")
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		if _, err := r.GetJob(ctx, id); err != nil {
			return err
		}
		return errors.Wrapf(errors.ErrIterationExists, "iteration %d", rec.Iteration)
	}

	r.publish(ctx, research.JobEvent{JobID: id, Type: research.EventIterationAdded, Iteration: rec.Iteration})
	return nil
}

// AppendResultsToIteration merges content items into an iteration's results.
func (r *ResearchJobRepository) AppendResultsToIteration(ctx context.Context, id uuid.UUID, iteration int, results []research.ContentItem) error {
	if len(results) == 0 {
		return nil
	}
	encoded, err := json.Marshal(results)
	if err != nil {
		return errors.Wrap(err, "marshal content items")
	}

	query := `
		UPDATE research_jobs j
		SET iterations = jsonb_set(j.iterations, ARRAY[pos.idx::text, 'results'],
		        COALESCE(j.iterations -> pos.idx -> 'results', '[]'::jsonb) || $3::jsonb),
		    updated_at = now()
		FROM (
			SELECT ord - 1 AS idx
			FROM research_jobs, jsonb_array_elements(iterations) WITH ORDINALITY AS e(elem, ord)
			WHERE id = $1 AND (elem->>'iteration')::int = $2
		) pos
		WHERE j.id = $1`

	res, err := r.db.ExecContext(ctx, query, id, iteration, encoded)
	r.track("append_results", err)
	if err != nil {
		return errors.Wrap(err, "append results to iteration")
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return errors.Wrapf(errors.ErrIterationNotFound, "iteration %d", iteration)
	}

	r.publish(ctx, research.JobEvent{JobID: id, Type: research.EventResultsAppended, Iteration: iteration})
	return nil
}

// StreamAppendAnalysis appends a text chunk to an iteration's analysis.
// Concatenation happens inside Postgres, so appends from the single writer
// are applied in call order without a read-modify-write window.
func (r *ResearchJobRepository) StreamAppendAnalysis(ctx context.Context, id uuid.UUID, iteration int, chunk string) error {
	if chunk == "" {
		return nil
	}

	query := `
		UPDATE research_jobs j
		SET iterations = jsonb_set(j.iterations, ARRAY[pos.idx::text, 'analysis'],
		        to_jsonb(COALESCE(j.iterations -> pos.idx ->> 'analysis', '') || $3::text)),
		    updated_at = now()
		FROM (
			SELECT ord - 1 AS idx
			FROM research_jobs, jsonb_array_elements(iterations) WITH ORDINALITY AS e(elem, ord)
			WHERE id = $1 AND (elem->>'iteration')::int = $2
		) pos
		WHERE j.id = $1`

	res, err := r.db.ExecContext(ctx, query, id, iteration, chunk)
	r.track("stream_append_analysis", err)
	if err != nil {
		return errors.Wrap(err, "stream append analysis")
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return errors.Wrapf(errors.ErrIterationNotFound, "iteration %d", iteration)
	}

	r.publish(ctx, research.JobEvent{JobID: id, Type: research.EventAnalysisChunk, Iteration: iteration, Chunk: chunk})
	return nil
}

// StreamAppendFinalAnalysis appends a text chunk to the final analysis buffer.
func (r *ResearchJobRepository) StreamAppendFinalAnalysis(ctx context.Context, id uuid.UUID, chunk string) error {
	if chunk == "" {
		return nil
	}

	res, err := r.db.ExecContext(ctx,
		`UPDATE research_jobs SET final_analysis = final_analysis || $2, updated_at = now()
		 WHERE id = $1`, id, chunk)
	r.track("stream_append_final", err)
	if err != nil {
		return errors.Wrap(err, "stream append final analysis")
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return errors.Wrapf(errors.ErrNotFound, "job %s", id)
	}

	r.publish(ctx, research.JobEvent{JobID: id, Type: research.EventFinalChunk, Chunk: chunk})
	return nil
}

// SetStructuredInsights sets the job's insights; last call wins.
func (r *ResearchJobRepository) SetStructuredInsights(ctx context.Context, id uuid.UUID, insights research.StructuredInsights) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE research_jobs SET structured_insights = $2, updated_at = now() WHERE id = $1`,
		id, insights)
	r.track("set_insights", err)
	if err != nil {
		return errors.Wrap(err, "set structured insights")
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return errors.Wrapf(errors.ErrNotFound, "job %s", id)
	}

	r.publish(ctx, research.JobEvent{JobID: id, Type: research.EventInsightsSet})
	return nil
}

// MarkNotificationSent flips the notification flag exactly once.
func (r *ResearchJobRepository) MarkNotificationSent(ctx context.Context, id uuid.UUID) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE research_jobs SET notification_sent = true, updated_at = now()
		 WHERE id = $1 AND notification_sent = false`, id)
	r.track("mark_notification_sent", err)
	if err != nil {
		return false, errors.Wrap(err, "mark notification sent")
	}
	affected, _ := res.RowsAffected()
	return affected > 0, nil
}

func (r *ResearchJobRepository) track(operation string, err error) {
	status := "success"
	if err != nil && err != sql.ErrNoRows {
		status = "error"
	}
	metrics.DBQueries.WithLabelValues("postgres", operation, status).Inc()
}

func (r *ResearchJobRepository) publish(ctx context.Context, event research.JobEvent) {
	if r.bus == nil {
		return
	}
	if err := r.bus.Publish(ctx, event); err != nil {
		r.log.Warnf("Failed to publish job event %s for %s: %v", event.Type, event.JobID, err)
	}
}
