package aiusage

import (
	"context"
	"time"
)

// Pipeline stages that spend model tokens.
const (
	StageQueryGeneration   = "query_generation"
	StageAnalysis          = "analysis"
	StageFinalAnalysis     = "final_analysis"
	StageInsightExtraction = "insight_extraction"
)

// UsageLog represents a single model call made on behalf of a research job
type UsageLog struct {
	Timestamp time.Time `ch:"timestamp"`
	JobID     string    `ch:"job_id"`
	MarketID  string    `ch:"market_id"`

	// Pipeline context
	Stage     string `ch:"stage"`
	Iteration uint16 `ch:"iteration"`

	// Model details
	Provider string `ch:"provider"`
	ModelID  string `ch:"model_id"`

	// Token usage
	PromptTokens     uint32 `ch:"prompt_tokens"`
	CompletionTokens uint32 `ch:"completion_tokens"`
	TotalTokens      uint32 `ch:"total_tokens"`

	// Performance
	LatencyMs uint32 `ch:"latency_ms"`
	Streamed  bool   `ch:"streamed"`
}

// Repository stores model usage events
type Repository interface {
	Store(ctx context.Context, log *UsageLog) error
	GetJobTokens(ctx context.Context, jobID string) (uint64, error)
	GetModelTokens(ctx context.Context, from, to time.Time) (map[string]uint64, error)
}
