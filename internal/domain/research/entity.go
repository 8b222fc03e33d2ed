package research

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"foresight/pkg/errors"
)

// ContentItem is one normalized web search result collected for a job.
type ContentItem struct {
	URL     string `json:"url"`
	Title   string `json:"title"`
	Content string `json:"content"`
	Source  string `json:"source"`
}

// IterationRecord captures one round of query generation, search and
// analysis. Records are append-only by iteration number; the analysis text
// grows by streamed appends until the iteration is closed.
type IterationRecord struct {
	Iteration int           `json:"iteration"`
	Queries   []string      `json:"queries"`
	Results   []ContentItem `json:"results"`
	Analysis  string        `json:"analysis"`
}

// StructuredInsights is the machine-readable result of a completed job.
// A zero value means no insights were extracted yet; Error carries the
// placeholder marker when extraction failed on a failed job.
type StructuredInsights struct {
	Probability      string   `json:"probability"`
	Likelihood       string   `json:"likelihood"`
	Rationale        string   `json:"rationale"`
	KeyFactors       []string `json:"key_factors,omitempty"`
	AreasForResearch []string `json:"areas_for_research,omitempty"`
	Error            string   `json:"error,omitempty"`
}

// IsZero reports whether no insights were set.
func (s StructuredInsights) IsZero() bool {
	return s.Probability == "" && s.Rationale == "" && s.Error == ""
}

// ResearchJob is the aggregate root of one end-to-end research run.
type ResearchJob struct {
	ID                uuid.UUID          `db:"id"`
	MarketID          string             `db:"market_id"`
	Query             string             `db:"query"`
	FocusText         string             `db:"focus_text"`
	NotificationEmail string             `db:"notification_email"`
	Status            Status             `db:"status"`
	MaxIterations     int                `db:"max_iterations"`
	CurrentIteration  int                `db:"current_iteration"`
	Iterations        IterationList      `db:"iterations"`
	FinalAnalysis     string             `db:"final_analysis"`
	Insights          StructuredInsights `db:"structured_insights"`
	ProgressLog       StringList         `db:"progress_log"`
	ErrorMessage      string             `db:"error_message"`
	NotificationSent  bool               `db:"notification_sent"`
	CreatedAt         time.Time          `db:"created_at"`
	UpdatedAt         time.Time          `db:"updated_at"`
	CompletedAt       *time.Time         `db:"completed_at"`
}

// NewJob builds a queued job ready for persistence.
func NewJob(marketID, query string, maxIterations int, focusText, notificationEmail string) (*ResearchJob, error) {
	if marketID == "" {
		return nil, errors.Wrap(errors.ErrInvalidInput, "marketId is required")
	}
	if query == "" {
		return nil, errors.Wrap(errors.ErrInvalidInput, "query is required")
	}
	if maxIterations < 1 {
		return nil, errors.Wrapf(errors.ErrInvalidInput, "maxIterations must be >= 1, got %d", maxIterations)
	}

	now := time.Now().UTC()
	return &ResearchJob{
		ID:                uuid.New(),
		MarketID:          marketID,
		Query:             query,
		FocusText:         focusText,
		NotificationEmail: notificationEmail,
		Status:            StatusQueued,
		MaxIterations:     maxIterations,
		Iterations:        IterationList{},
		ProgressLog:       StringList{},
		CreatedAt:         now,
		UpdatedAt:         now,
	}, nil
}

// Iteration returns the record with the given 1-indexed number, if present.
func (j *ResearchJob) Iteration(n int) (*IterationRecord, bool) {
	for i := range j.Iterations {
		if j.Iterations[i].Iteration == n {
			return &j.Iterations[i], true
		}
	}
	return nil, false
}

// JSONB column types

// IterationList stores IterationRecords as a JSONB array.
type IterationList []IterationRecord

// Value implements driver.Valuer.
func (l IterationList) Value() (driver.Value, error) {
	if l == nil {
		l = IterationList{}
	}
	return json.Marshal(l)
}

// Scan implements sql.Scanner.
func (l *IterationList) Scan(src interface{}) error {
	return scanJSON(src, l)
}

// StringList stores an ordered string sequence as a JSONB array.
type StringList []string

// Value implements driver.Valuer.
func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		l = StringList{}
	}
	return json.Marshal(l)
}

// Scan implements sql.Scanner.
func (l *StringList) Scan(src interface{}) error {
	return scanJSON(src, l)
}

// Value implements driver.Valuer. A zero value persists as SQL NULL so the
// column is non-null iff insights were set.
func (s StructuredInsights) Value() (driver.Value, error) {
	if s.IsZero() {
		return nil, nil
	}
	return json.Marshal(s)
}

// Scan implements sql.Scanner.
func (s *StructuredInsights) Scan(src interface{}) error {
	if src == nil {
		*s = StructuredInsights{}
		return nil
	}
	return scanJSON(src, s)
}

func scanJSON(src, dest interface{}) error {
	switch v := src.(type) {
	case nil:
		return nil
	case []byte:
		return json.Unmarshal(v, dest)
	case string:
		return json.Unmarshal([]byte(v), dest)
	default:
		return errors.Newf("cannot scan %T into JSON column", src)
	}
}
