package research

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"foresight/internal/adapters/ai"
	"foresight/internal/domain/research"
	"foresight/pkg/errors"
	"foresight/pkg/logger"
)

// Analyzer streams one round's LLM analysis, appending each delta to the job
// store as it arrives so subscribers watch the text grow live. Appends are
// serialized (one in-flight write at a time) to preserve chunk order.
type Analyzer struct {
	provider      ai.ChatProvider
	store         research.JobStore
	model         string
	charBudget    int
	retryAttempts int
	retryBackoff  time.Duration
	log           *logger.Logger
}

// NewAnalyzer creates an analyzer.
func NewAnalyzer(provider ai.ChatProvider, store research.JobStore, model string, charBudget, retryAttempts int, retryBackoff time.Duration) *Analyzer {
	return &Analyzer{
		provider:      provider,
		store:         store,
		model:         model,
		charBudget:    charBudget,
		retryAttempts: retryAttempts,
		retryBackoff:  retryBackoff,
		log:           logger.Get().With("component", "analyzer"),
	}
}

// AnalysisInput carries one round's analysis context.
type AnalysisInput struct {
	Topic            string
	FocusText        string
	MarketContext    string
	Iteration        int
	MaxIterations    int
	Content          []research.ContentItem
	PreviousAnalyses []string
}

// Analyze streams the round's analysis into the store and returns the full
// accumulated text. An error before any content arrived means the round
// produced nothing; the orchestrator decides whether to continue.
func (a *Analyzer) Analyze(ctx context.Context, jobID uuid.UUID, in AnalysisInput) (string, ai.Usage, error) {
	researchAreas := collectResearchAreas(in.PreviousAnalyses)
	system, user := buildAnalysisPrompt(
		in.Topic, in.FocusText, in.MarketContext,
		in.Iteration, in.MaxIterations,
		in.Content, in.PreviousAnalyses, researchAreas,
		a.charBudget,
	)

	chunks, errCh := a.provider.ChatStream(ctx, ai.ChatRequest{
		Model: a.model,
		Messages: []ai.Message{
			{Role: ai.RoleSystem, Content: system},
			{Role: ai.RoleUser, Content: user},
		},
		Temperature: 0.3,
	})

	var full strings.Builder
	var usage ai.Usage

	for chunk := range chunks {
		if chunk.Usage != nil {
			usage = *chunk.Usage
		}
		if chunk.Delta == "" {
			continue
		}
		full.WriteString(chunk.Delta)

		err := writeWithRetry(ctx, a.retryAttempts, a.retryBackoff, func(ctx context.Context) error {
			return a.store.StreamAppendAnalysis(ctx, jobID, in.Iteration, chunk.Delta)
		})
		if err != nil {
			// A lost chunk leaves a small gap in the displayed text; the
			// accumulated return value stays complete.
			a.log.Warnf("Dropping analysis chunk for job %s iteration %d: %v", jobID, in.Iteration, err)
		}
	}

	if err := <-errCh; err != nil {
		if full.Len() == 0 {
			return "", usage, errors.Wrapf(err, "analysis stream failed for iteration %d", in.Iteration)
		}
		a.log.Warnf("Analysis stream for job %s iteration %d ended early after %d chars: %v", jobID, in.Iteration, full.Len(), err)
	}

	return full.String(), usage, nil
}

// collectResearchAreas merges the flagged follow-ups from all prior analyses.
func collectResearchAreas(analyses []string) []string {
	var areas []string
	seen := make(map[string]struct{})
	for _, a := range analyses {
		for _, area := range ExtractResearchAreas(a) {
			key := strings.ToLower(area)
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			areas = append(areas, area)
		}
	}
	if len(areas) > maxResearchAreas {
		areas = areas[:maxResearchAreas]
	}
	return areas
}
