package clickhouse

import (
	"context"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"foresight/internal/domain/aiusage"
	"foresight/internal/metrics"
	"foresight/pkg/errors"
)

// Compile-time check
var _ aiusage.Repository = (*AIUsageRepository)(nil)

// AIUsageRepository implements aiusage.Repository for ClickHouse.
// Research jobs make a handful of model calls each, so rows are inserted
// directly without batching.
type AIUsageRepository struct {
	conn driver.Conn
}

// NewAIUsageRepository creates a new AI usage repository
func NewAIUsageRepository(conn driver.Conn) *AIUsageRepository {
	return &AIUsageRepository{conn: conn}
}

// Store saves a usage log entry
func (r *AIUsageRepository) Store(ctx context.Context, log *aiusage.UsageLog) error {
	query := `
		INSERT INTO ai_usage (
			timestamp, job_id, market_id,
			stage, iteration,
			provider, model_id,
			prompt_tokens, completion_tokens, total_tokens,
			latency_ms, streamed
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	err := r.conn.Exec(ctx, query,
		log.Timestamp, log.JobID, log.MarketID,
		log.Stage, log.Iteration,
		log.Provider, log.ModelID,
		log.PromptTokens, log.CompletionTokens, log.TotalTokens,
		log.LatencyMs, log.Streamed,
	)
	if err != nil {
		metrics.DBQueries.WithLabelValues("clickhouse", "insert_usage", "error").Inc()
		return errors.Wrap(err, "failed to insert ai usage")
	}
	metrics.DBQueries.WithLabelValues("clickhouse", "insert_usage", "success").Inc()

	return nil
}

// GetJobTokens returns total tokens spent by one job
func (r *AIUsageRepository) GetJobTokens(ctx context.Context, jobID string) (uint64, error) {
	query := `
		SELECT sum(total_tokens) as total
		FROM ai_usage
		WHERE job_id = ?
	`

	var total uint64
	if err := r.conn.QueryRow(ctx, query, jobID).Scan(&total); err != nil {
		return 0, errors.Wrap(err, "failed to get job tokens")
	}

	return total, nil
}

// GetModelTokens returns tokens grouped by model for a time range
func (r *AIUsageRepository) GetModelTokens(ctx context.Context, from, to time.Time) (map[string]uint64, error) {
	query := `
		SELECT model_id, sum(total_tokens) as total
		FROM ai_usage
		WHERE timestamp BETWEEN ? AND ?
		GROUP BY model_id
		ORDER BY total DESC
	`

	rows, err := r.conn.Query(ctx, query, from, to)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query model tokens")
	}
	defer rows.Close()

	totals := make(map[string]uint64)
	for rows.Next() {
		var modelID string
		var total uint64
		if err := rows.Scan(&modelID, &total); err != nil {
			return nil, errors.Wrap(err, "failed to scan model tokens")
		}
		totals[modelID] = total
	}

	return totals, nil
}
