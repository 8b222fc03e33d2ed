package research

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"foresight/internal/adapters/ai"
	"foresight/internal/adapters/config"
	"foresight/internal/adapters/search"
	"foresight/internal/domain/research"
	"foresight/pkg/errors"
)

// routeChat answers query generation and insight extraction requests.
func routeChat(req ai.ChatRequest) (*ai.ChatResponse, error) {
	system := req.Messages[0].Content
	if strings.Contains(system, "search queries") {
		return &ai.ChatResponse{
			Content: `{"queries": ["election polls", "swing state turnout", "candidate approval"]}`,
			Usage:   ai.Usage{PromptTokens: 10, CompletionTokens: 20, TotalTokens: 30},
		}, nil
	}
	return &ai.ChatResponse{
		Content: `{"probability": "65%", "likelihood": "Likely", "rationale": "Polling trends support the outcome.", "key_factors": ["polls"]}`,
		Usage:   ai.Usage{PromptTokens: 10, CompletionTokens: 20, TotalTokens: 30},
	}, nil
}

func newTestOrchestrator(store *fakeStore, provider *fakeProvider, searcher search.Client) *Orchestrator {
	researchCfg := config.ResearchConfig{
		QueriesPerIteration: 3,
		ResultsPerQuery:     3,
		AnalysisCharBudget:  20000,
		FinalCharBudget:     25000,
		WriteRetryAttempts:  2,
		WriteRetryBackoff:   time.Millisecond,
	}
	aiCfg := config.AIConfig{
		QueryModel:      "test/query",
		AnalysisModel:   "test/analysis",
		ExtractionModel: "test/extract",
	}
	return NewOrchestrator(Deps{
		Store:        store,
		QueryGen:     NewQueryGenerator(provider, aiCfg.QueryModel, researchCfg.QueriesPerIteration),
		Collector:    NewCollector(searcher, researchCfg.ResultsPerQuery),
		Analyzer:     NewAnalyzer(provider, store, aiCfg.AnalysisModel, researchCfg.AnalysisCharBudget, researchCfg.WriteRetryAttempts, researchCfg.WriteRetryBackoff),
		Synth:        NewSynthesizer(provider, store, aiCfg.AnalysisModel, researchCfg.FinalCharBudget, researchCfg.WriteRetryAttempts, researchCfg.WriteRetryBackoff),
		Extractor:    NewExtractor(provider, aiCfg.ExtractionModel),
		ProviderName: provider.Name(),
		AI:           aiCfg,
		Research:     researchCfg,
	})
}

func runJob(t *testing.T, o *Orchestrator, store *fakeStore, maxIterations int) *research.ResearchJob {
	t.Helper()
	ctx := context.Background()

	job, err := research.NewJob("will-x-happen", "Will X happen by 2027?", maxIterations, "", "")
	require.NoError(t, err)
	require.NoError(t, store.CreateJob(ctx, job))

	claimed, err := o.Dispatch(ctx, job.ID)
	require.NoError(t, err)
	require.True(t, claimed)

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	require.NoError(t, o.Shutdown(shutdownCtx))

	got, err := store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	return got
}

func TestOrchestratorHappyPath(t *testing.T) {
	store := newFakeStore()
	provider := &fakeProvider{
		chatFn: routeChat,
		streamFn: func(_ int, _ ai.ChatRequest) ([]string, error) {
			return []string{"Paris ", "is the ", "capital."}, nil
		},
	}
	searcher := &fakeSearch{results: func(call int, _ string) ([]search.Result, error) {
		return uniqueResults(call, 3), nil
	}}
	o := newTestOrchestrator(store, provider, searcher)

	job := runJob(t, o, store, 2)

	require.Equal(t, research.StatusCompleted, job.Status)
	require.Len(t, job.Iterations, 2)
	require.Equal(t, 2, job.CurrentIteration)
	require.Equal(t, "Paris is the capital.", job.Iterations[0].Analysis)
	require.Equal(t, "Paris is the capital.", job.FinalAnalysis)
	require.False(t, job.Insights.IsZero())
	require.Equal(t, "65%", job.Insights.Probability)
	require.NotNil(t, job.CompletedAt)
}

func TestOrchestratorDedupAcrossIterations(t *testing.T) {
	store := newFakeStore()
	provider := &fakeProvider{
		chatFn: routeChat,
		streamFn: func(_ int, _ ai.ChatRequest) ([]string, error) {
			return []string{"analysis text"}, nil
		},
	}
	// Same three URLs on every call: iteration 2 must collect nothing new.
	searcher := &fakeSearch{results: func(_ int, _ string) ([]search.Result, error) {
		return uniqueResults(1, 3), nil
	}}
	o := newTestOrchestrator(store, provider, searcher)

	job := runJob(t, o, store, 2)

	require.Equal(t, research.StatusCompleted, job.Status)
	seen := make(map[string]int)
	for _, rec := range job.Iterations {
		for _, item := range rec.Results {
			seen[item.URL]++
		}
	}
	for url, n := range seen {
		require.Equal(t, 1, n, "url %s appears in more than one iteration", url)
	}
	rec, ok := job.Iteration(2)
	require.True(t, ok)
	require.Empty(t, rec.Results)
}

func TestOrchestratorPartialIterationFailure(t *testing.T) {
	store := newFakeStore()
	provider := &fakeProvider{
		chatFn: routeChat,
		streamFn: func(call int, _ ai.ChatRequest) ([]string, error) {
			if call == 1 {
				return nil, errors.Wrap(errors.ErrExternal, "model overloaded")
			}
			return []string{"recovered analysis"}, nil
		},
	}
	searcher := &fakeSearch{results: func(call int, _ string) ([]search.Result, error) {
		return uniqueResults(call, 2), nil
	}}
	o := newTestOrchestrator(store, provider, searcher)

	job := runJob(t, o, store, 2)

	require.Equal(t, research.StatusCompleted, job.Status)
	rec, ok := job.Iteration(2)
	require.True(t, ok)
	require.Equal(t, "recovered analysis", rec.Analysis)

	var logged bool
	for _, line := range job.ProgressLog {
		if strings.Contains(line, "Iteration 1 failed") {
			logged = true
		}
	}
	require.True(t, logged, "progress log must record the iteration failure: %v", job.ProgressLog)
}

func TestOrchestratorFinalAnalysisFailureIsFatal(t *testing.T) {
	store := newFakeStore()
	provider := &fakeProvider{
		chatFn: routeChat,
		streamFn: func(call int, _ ai.ChatRequest) ([]string, error) {
			// Call 1 is the single iteration's analysis; call 2 is the
			// final synthesis.
			if call == 2 {
				return nil, errors.Wrap(errors.ErrExternal, "stream reset")
			}
			return []string{"iteration analysis"}, nil
		},
	}
	searcher := &fakeSearch{results: func(call int, _ string) ([]search.Result, error) {
		return uniqueResults(call, 2), nil
	}}
	o := newTestOrchestrator(store, provider, searcher)

	job := runJob(t, o, store, 1)

	require.Equal(t, research.StatusFailed, job.Status)
	require.NotEmpty(t, job.ErrorMessage)
	require.NotContains(t, store.history(job.ID), research.StatusExtractingInsights)
}

func TestOrchestratorNoContentPlaceholder(t *testing.T) {
	store := newFakeStore()
	provider := &fakeProvider{
		chatFn: routeChat,
		streamFn: func(_ int, _ ai.ChatRequest) ([]string, error) {
			return []string{"empty round analysis"}, nil
		},
	}
	searcher := &fakeSearch{results: func(_ int, _ string) ([]search.Result, error) {
		return nil, nil
	}}
	o := newTestOrchestrator(store, provider, searcher)

	job := runJob(t, o, store, 2)

	require.Equal(t, research.StatusCompleted, job.Status)
	require.Equal(t, NoContentPlaceholder, job.FinalAnalysis)
	// Streams ran only for the per-iteration analyses; synthesis was skipped.
	require.Equal(t, 2, provider.streamCallCount())
}

func TestOrchestratorInsightExtractionFailureIsFatal(t *testing.T) {
	store := newFakeStore()
	provider := &fakeProvider{
		chatFn: func(req ai.ChatRequest) (*ai.ChatResponse, error) {
			system := req.Messages[0].Content
			if strings.Contains(system, "search queries") {
				return routeChat(req)
			}
			return nil, errors.Wrap(errors.ErrExternal, "extraction unavailable")
		},
		streamFn: func(_ int, _ ai.ChatRequest) ([]string, error) {
			return []string{"analysis"}, nil
		},
	}
	searcher := &fakeSearch{results: func(call int, _ string) ([]search.Result, error) {
		return uniqueResults(call, 2), nil
	}}
	o := newTestOrchestrator(store, provider, searcher)

	job := runJob(t, o, store, 1)

	require.Equal(t, research.StatusFailed, job.Status)
	require.Contains(t, job.ErrorMessage, "insight extraction failed")
	require.NotEmpty(t, job.Insights.Error, "failed extraction must leave an error marker")
}

func TestOrchestratorSecondDispatchLoses(t *testing.T) {
	store := newFakeStore()
	provider := &fakeProvider{
		chatFn: routeChat,
		streamFn: func(_ int, _ ai.ChatRequest) ([]string, error) {
			return []string{"analysis"}, nil
		},
	}
	searcher := &fakeSearch{results: func(call int, _ string) ([]search.Result, error) {
		return uniqueResults(call, 1), nil
	}}
	o := newTestOrchestrator(store, provider, searcher)

	ctx := context.Background()
	job, err := research.NewJob("market", "question?", 1, "", "")
	require.NoError(t, err)
	require.NoError(t, store.CreateJob(ctx, job))

	claimed, err := o.Dispatch(ctx, job.ID)
	require.NoError(t, err)
	require.True(t, claimed)

	claimed, err = o.Dispatch(ctx, job.ID)
	require.NoError(t, err)
	require.False(t, claimed)

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	require.NoError(t, o.Shutdown(shutdownCtx))
}
