package postgres

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	pgclient "foresight/internal/adapters/postgres"
	"foresight/internal/domain/research"
	"foresight/pkg/errors"
)

// setupRepo connects to the configured Postgres instance.
// Tests are skipped when no database is reachable (e.g. unit-only CI lanes).
func setupRepo(t *testing.T) *ResearchJobRepository {
	t.Helper()
	if cfg == nil {
		t.Skip("no test configuration available")
	}
	client, err := pgclient.NewClient(cfg.Postgres)
	if err != nil {
		t.Skipf("postgres unavailable: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return NewResearchJobRepository(client.DB(), nil)
}

func createTestJob(t *testing.T, repo *ResearchJobRepository, maxIterations int) *research.ResearchJob {
	t.Helper()
	job, err := research.NewJob("test-market", "Will it happen?", maxIterations, "", "")
	require.NoError(t, err)
	require.NoError(t, repo.CreateJob(context.Background(), job))
	return job
}

func TestCreateAndGetJob(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()

	job := createTestJob(t, repo, 3)

	got, err := repo.GetJob(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, research.StatusQueued, got.Status)
	require.Equal(t, 0, got.CurrentIteration)
	require.Empty(t, got.Iterations)
	require.True(t, got.Insights.IsZero())
	require.Nil(t, got.CompletedAt)
}

func TestUpdateStatusForwardOnly(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()

	job := createTestJob(t, repo, 3)

	require.NoError(t, repo.UpdateStatus(ctx, job.ID, research.StatusProcessing, ""))
	require.NoError(t, repo.UpdateStatus(ctx, job.ID, research.StatusGeneratingFinalAnalysis, ""))

	// Regression is rejected
	err := repo.UpdateStatus(ctx, job.ID, research.StatusProcessing, "")
	require.ErrorIs(t, err, errors.ErrInvalidTransition)

	got, err := repo.GetJob(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, research.StatusGeneratingFinalAnalysis, got.Status)
}

func TestUpdateStatusCompletedStampsTimestamp(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()

	job := createTestJob(t, repo, 1)
	require.NoError(t, repo.UpdateStatus(ctx, job.ID, research.StatusCompleted, ""))

	got, err := repo.GetJob(ctx, job.ID)
	require.NoError(t, err)
	require.NotNil(t, got.CompletedAt)

	// Terminal state rejects any further transition
	err = repo.UpdateStatus(ctx, job.ID, research.StatusFailed, "late failure")
	require.ErrorIs(t, err, errors.ErrInvalidTransition)
}

func TestUpdateStatusFailedRecordsMessage(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()

	job := createTestJob(t, repo, 1)
	require.NoError(t, repo.UpdateStatus(ctx, job.ID, research.StatusFailed, "provider exploded"))

	got, err := repo.GetJob(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, research.StatusFailed, got.Status)
	require.Equal(t, "provider exploded", got.ErrorMessage)
}

func TestClaimQueuedIsExclusive(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()

	job := createTestJob(t, repo, 1)

	claimed, err := repo.ClaimQueued(ctx, job.ID)
	require.NoError(t, err)
	require.True(t, claimed)

	claimed, err = repo.ClaimQueued(ctx, job.ID)
	require.NoError(t, err)
	require.False(t, claimed, "second claim must lose")
}

func TestAppendIterationIdempotent(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()

	job := createTestJob(t, repo, 2)

	rec := research.IterationRecord{Iteration: 1, Queries: []string{"q1"}}
	require.NoError(t, repo.AppendIteration(ctx, job.ID, rec))

	err := repo.AppendIteration(ctx, job.ID, rec)
	require.ErrorIs(t, err, errors.ErrIterationExists)

	got, err := repo.GetJob(ctx, job.ID)
	require.NoError(t, err)
	require.Len(t, got.Iterations, 1)
	require.Equal(t, 1, got.CurrentIteration)
}

func TestAppendResultsDedupAcrossCalls(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()

	job := createTestJob(t, repo, 2)
	require.NoError(t, repo.AppendIteration(ctx, job.ID, research.IterationRecord{Iteration: 1}))

	first := []research.ContentItem{{URL: "https://a.example", Title: "A"}}
	second := []research.ContentItem{{URL: "https://b.example", Title: "B"}}
	require.NoError(t, repo.AppendResultsToIteration(ctx, job.ID, 1, first))
	require.NoError(t, repo.AppendResultsToIteration(ctx, job.ID, 1, second))

	got, err := repo.GetJob(ctx, job.ID)
	require.NoError(t, err)
	rec, ok := got.Iteration(1)
	require.True(t, ok)
	require.Len(t, rec.Results, 2)
	require.Equal(t, "https://a.example", rec.Results[0].URL)
	require.Equal(t, "https://b.example", rec.Results[1].URL)
}

func TestAppendResultsMissingIteration(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()

	job := createTestJob(t, repo, 2)
	err := repo.AppendResultsToIteration(ctx, job.ID, 7, []research.ContentItem{{URL: "https://x"}})
	require.ErrorIs(t, err, errors.ErrIterationNotFound)
}

func TestStreamAppendAnalysisPreservesOrder(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()

	job := createTestJob(t, repo, 1)
	require.NoError(t, repo.AppendIteration(ctx, job.ID, research.IterationRecord{Iteration: 1}))

	chunks := []string{"Paris ", "is the ", "capital."}
	for _, chunk := range chunks {
		require.NoError(t, repo.StreamAppendAnalysis(ctx, job.ID, 1, chunk))
	}

	got, err := repo.GetJob(ctx, job.ID)
	require.NoError(t, err)
	rec, ok := got.Iteration(1)
	require.True(t, ok)
	require.Equal(t, "Paris is the capital.", rec.Analysis)
}

func TestStreamAppendFinalAnalysis(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()

	job := createTestJob(t, repo, 1)
	require.NoError(t, repo.StreamAppendFinalAnalysis(ctx, job.ID, "Executive summary: "))
	require.NoError(t, repo.StreamAppendFinalAnalysis(ctx, job.ID, "all clear."))

	got, err := repo.GetJob(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, "Executive summary: all clear.", got.FinalAnalysis)
}

func TestSetStructuredInsightsLastWriteWins(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()

	job := createTestJob(t, repo, 1)

	require.NoError(t, repo.SetStructuredInsights(ctx, job.ID, research.StructuredInsights{Probability: "40%", Rationale: "first pass"}))
	require.NoError(t, repo.SetStructuredInsights(ctx, job.ID, research.StructuredInsights{Probability: "55%", Rationale: "retry"}))

	got, err := repo.GetJob(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, "55%", got.Insights.Probability)
}

func TestMarkNotificationSentOnce(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()

	job := createTestJob(t, repo, 1)

	first, err := repo.MarkNotificationSent(ctx, job.ID)
	require.NoError(t, err)
	require.True(t, first)

	second, err := repo.MarkNotificationSent(ctx, job.ID)
	require.NoError(t, err)
	require.False(t, second)
}

func TestAppendProgressOrdering(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()

	job := createTestJob(t, repo, 1)
	require.NoError(t, repo.AppendProgress(ctx, job.ID, "Starting research"))
	require.NoError(t, repo.AppendProgress(ctx, job.ID, "Iteration 1 complete"))

	got, err := repo.GetJob(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, research.StringList{"Starting research", "Iteration 1 complete"}, got.ProgressLog)
}
