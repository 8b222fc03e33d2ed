package research

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"foresight/internal/adapters/ai"
	"foresight/internal/adapters/config"
	"foresight/internal/adapters/kafka"
	"foresight/internal/adapters/market"
	"foresight/internal/domain/aiusage"
	"foresight/internal/domain/research"
	"foresight/internal/metrics"
	"foresight/pkg/errors"
	"foresight/pkg/logger"
)

// LifecyclePublisher pushes job lifecycle events to the message bus.
type LifecyclePublisher interface {
	Publish(ctx context.Context, topic string, key string, event interface{}) error
}

// jobLifecycleEvent is the Kafka payload for job lifecycle topics.
type jobLifecycleEvent struct {
	JobID    string `json:"job_id"`
	MarketID string `json:"market_id"`
	Status   string `json:"status"`
	Error    string `json:"error,omitempty"`
}

// Deps wires the orchestrator's collaborators. Markets, Notifier, Producer
// and Usage are optional; nil disables the concern.
type Deps struct {
	Store     research.JobStore
	QueryGen  *QueryGenerator
	Collector *Collector
	Analyzer  *Analyzer
	Synth     *Synthesizer
	Extractor *Extractor
	Markets   market.Client
	Notifier  research.Notifier
	Producer  LifecyclePublisher
	Usage     aiusage.Repository

	ProviderName string
	AI           config.AIConfig
	Research     config.ResearchConfig
}

// Orchestrator drives a research job through its state machine:
// queued -> processing -> generating_final_analysis -> extracting_insights ->
// completed, with failed reachable from any non-terminal state.
//
// Each job runs as one detached goroutine; iterations within a job are
// strictly sequential, so the job record has a single writer for its whole
// life. Per-iteration errors degrade the result; final synthesis and insight
// extraction errors fail the job.
type Orchestrator struct {
	deps Deps
	log  *logger.Logger
	wg   sync.WaitGroup
}

// NewOrchestrator creates an orchestrator.
func NewOrchestrator(deps Deps) *Orchestrator {
	return &Orchestrator{
		deps: deps,
		log:  logger.Get().With("component", "orchestrator"),
	}
}

// Dispatch claims a queued job and runs it in the background. Returns false
// when the job was already claimed or is past queued; the caller treats that
// as someone else's job. The claim is the dedup point between direct API
// dispatch and the queue poller.
func (o *Orchestrator) Dispatch(ctx context.Context, jobID uuid.UUID) (bool, error) {
	claimed, err := o.deps.Store.ClaimQueued(ctx, jobID)
	if err != nil {
		return false, errors.Wrap(err, "claim queued job")
	}
	if !claimed {
		return false, nil
	}

	metrics.JobsStarted.Inc()
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		// The job outlives the creating request.
		ctx := context.Background()
		defer func() {
			if r := recover(); r != nil {
				o.log.Errorf("Research job %s panicked: %v", jobID, r)
				o.fail(ctx, jobID, time.Now(), fmt.Sprintf("internal error: %v", r))
			}
		}()
		o.run(ctx, jobID)
	}()

	return true, nil
}

// Shutdown waits for in-flight jobs to finish or the context to expire.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errors.Wrap(errors.ErrTimeout, "jobs still running at shutdown")
	}
}

func (o *Orchestrator) run(ctx context.Context, jobID uuid.UUID) {
	started := time.Now()
	log := o.log.With("job_id", jobID.String())

	job, err := o.deps.Store.GetJob(ctx, jobID)
	if err != nil {
		log.Errorf("Failed to load claimed job: %v", err)
		return
	}

	o.progress(ctx, jobID, fmt.Sprintf("Starting research for market %s (%d iterations)", job.MarketID, job.MaxIterations))

	marketContext := o.loadMarketContext(ctx, job.MarketID)

	// Job-lifetime state. The seen set lives in memory only: jobs are not
	// resumed across process restarts.
	seen := make(map[string]struct{})
	var allContent []research.ContentItem
	var analyses []string
	var findings []string

	for i := 1; i <= job.MaxIterations; i++ {
		if err := o.runIteration(ctx, job, i, marketContext, seen, &allContent, &analyses, &findings); err != nil {
			metrics.IterationsRun.WithLabelValues("error").Inc()
			log.Warnf("Iteration %d failed: %v", i, err)
			o.progress(ctx, jobID, fmt.Sprintf("Iteration %d failed: %v", i, err))
			continue
		}
		metrics.IterationsRun.WithLabelValues("success").Inc()
		o.progress(ctx, jobID, fmt.Sprintf("Iteration %d of %d complete", i, job.MaxIterations))
	}

	// Final synthesis. From here on errors are fatal: insight extraction
	// depends on the final analysis, and a job without insights is a failed
	// job from the product's view.
	if err := o.transition(ctx, jobID, research.StatusGeneratingFinalAnalysis, ""); err != nil {
		log.Errorf("Failed to enter final analysis phase: %v", err)
		o.fail(ctx, jobID, started, fmt.Sprintf("status transition failed: %v", err))
		return
	}
	o.progress(ctx, jobID, "Generating final analysis")

	synthStart := time.Now()
	finalText, synthUsage, err := o.deps.Synth.Synthesize(ctx, jobID, SynthesisInput{
		Topic:             job.Query,
		FocusText:         job.FocusText,
		MarketContext:     marketContext,
		AllContent:        allContent,
		IterationAnalyses: analyses,
	})
	o.recordLLM(ctx, job, aiusage.StageFinalAnalysis, 0, o.deps.AI.AnalysisModel, synthUsage, time.Since(synthStart), true, err)
	if err != nil {
		o.fail(ctx, jobID, started, fmt.Sprintf("final analysis failed: %v", err))
		return
	}

	if err := o.transition(ctx, jobID, research.StatusExtractingInsights, ""); err != nil {
		log.Errorf("Failed to enter insight extraction phase: %v", err)
		o.fail(ctx, jobID, started, fmt.Sprintf("status transition failed: %v", err))
		return
	}
	o.progress(ctx, jobID, "Extracting structured insights")

	extractStart := time.Now()
	insights, extractUsage, err := o.deps.Extractor.Extract(ctx, job.Query, marketContext, finalText)
	o.recordLLM(ctx, job, aiusage.StageInsightExtraction, 0, o.deps.AI.ExtractionModel, extractUsage, time.Since(extractStart), false, err)
	if err != nil {
		// Leave an explicit marker so the record shows extraction was
		// attempted and failed, then fail the job.
		placeholder := research.StructuredInsights{Error: fmt.Sprintf("insight extraction failed: %v", err)}
		if werr := o.deps.Store.SetStructuredInsights(ctx, jobID, placeholder); werr != nil {
			log.Warnf("Failed to record extraction error marker: %v", werr)
		}
		o.fail(ctx, jobID, started, fmt.Sprintf("insight extraction failed: %v", err))
		return
	}

	if err := o.retryWrite(ctx, func(ctx context.Context) error {
		return o.deps.Store.SetStructuredInsights(ctx, jobID, insights)
	}); err != nil {
		o.fail(ctx, jobID, started, fmt.Sprintf("failed to persist insights: %v", err))
		return
	}

	if err := o.transition(ctx, jobID, research.StatusCompleted, ""); err != nil {
		log.Errorf("Failed to mark job completed: %v", err)
		return
	}
	o.progress(ctx, jobID, "Research complete")

	metrics.JobsFinished.WithLabelValues("completed").Inc()
	metrics.JobDuration.Observe(time.Since(started).Seconds())
	o.publishLifecycle(ctx, kafka.TopicJobCompleted, job, "")
	o.notify(ctx, jobID, string(research.StatusCompleted), insights.Probability)

	log.Infof("Research job completed in %v (%d iterations, %d content items)",
		time.Since(started), len(analyses), len(allContent))
}

// runIteration executes one round of query generation, search and streamed
// analysis. Any error is non-fatal to the job.
func (o *Orchestrator) runIteration(
	ctx context.Context,
	job *research.ResearchJob,
	iteration int,
	marketContext string,
	seen map[string]struct{},
	allContent *[]research.ContentItem,
	analyses *[]string,
	findings *[]string,
) error {
	jobID := job.ID

	genStart := time.Now()
	queries, genUsage := o.deps.QueryGen.Generate(ctx, job.Query, job.FocusText, job.MarketID, iteration, *findings)
	o.recordLLM(ctx, job, aiusage.StageQueryGeneration, iteration, o.deps.AI.QueryModel, genUsage, time.Since(genStart), false, nil)

	err := o.retryWrite(ctx, func(ctx context.Context) error {
		return o.deps.Store.AppendIteration(ctx, jobID, research.IterationRecord{
			Iteration: iteration,
			Queries:   queries,
		})
	})
	if err != nil && !errors.Is(err, errors.ErrIterationExists) {
		return errors.Wrapf(err, "record iteration %d", iteration)
	}

	items := o.deps.Collector.Collect(ctx, queries, seen)
	metrics.SearchResults.Add(float64(len(items)))
	if len(items) > 0 {
		err := o.retryWrite(ctx, func(ctx context.Context) error {
			return o.deps.Store.AppendResultsToIteration(ctx, jobID, iteration, items)
		})
		if err != nil {
			o.log.Warnf("Failed to persist results for job %s iteration %d: %v", jobID, iteration, err)
		}
		*allContent = append(*allContent, items...)
	}
	o.progress(ctx, jobID, fmt.Sprintf("Iteration %d: collected %d new results", iteration, len(items)))

	analysisStart := time.Now()
	analysis, analysisUsage, err := o.deps.Analyzer.Analyze(ctx, jobID, AnalysisInput{
		Topic:            job.Query,
		FocusText:        job.FocusText,
		MarketContext:    marketContext,
		Iteration:        iteration,
		MaxIterations:    job.MaxIterations,
		Content:          items,
		PreviousAnalyses: *analyses,
	})
	o.recordLLM(ctx, job, aiusage.StageAnalysis, iteration, o.deps.AI.AnalysisModel, analysisUsage, time.Since(analysisStart), true, err)
	if err != nil {
		return errors.Wrapf(err, "analyze iteration %d", iteration)
	}

	*analyses = append(*analyses, analysis)
	*findings = append(*findings, truncate(analysis, 300))
	return nil
}

// loadMarketContext fetches market price data; best-effort, the pipeline
// works without it.
func (o *Orchestrator) loadMarketContext(ctx context.Context, marketID string) string {
	if o.deps.Markets == nil {
		return ""
	}

	m, err := o.deps.Markets.GetMarket(ctx, marketID)
	if err != nil {
		o.log.Warnf("Failed to fetch market context for %s: %v", marketID, err)
		return ""
	}

	related, err := o.deps.Markets.GetRelatedMarkets(ctx, marketID)
	if err != nil {
		o.log.Debugf("No related markets for %s: %v", marketID, err)
	}

	return formatMarketContext(m, related)
}

// fail moves the job to failed, notifies and emits the lifecycle event.
func (o *Orchestrator) fail(ctx context.Context, jobID uuid.UUID, started time.Time, message string) {
	if err := o.transition(ctx, jobID, research.StatusFailed, message); err != nil {
		// Job may appear stuck rather than failed; nothing more to do here.
		o.log.Errorf("Failed to mark job %s failed: %v", jobID, err)
	}
	o.progress(ctx, jobID, "Research failed: "+message)

	metrics.JobsFinished.WithLabelValues("failed").Inc()
	metrics.JobDuration.Observe(time.Since(started).Seconds())

	job, err := o.deps.Store.GetJob(ctx, jobID)
	if err != nil {
		o.log.Warnf("Failed to re-read failed job %s: %v", jobID, err)
		return
	}
	o.publishLifecycle(ctx, kafka.TopicJobFailed, job, message)
	o.notify(ctx, jobID, string(research.StatusFailed), message)
}

// transition performs a status update with write retries. Exhaustion here is
// treated as fatal by callers: a lost status transition cannot be recovered
// by the next write the way a lost streaming chunk can.
func (o *Orchestrator) transition(ctx context.Context, jobID uuid.UUID, next research.Status, errorMessage string) error {
	return o.retryWrite(ctx, func(ctx context.Context) error {
		err := o.deps.Store.UpdateStatus(ctx, jobID, next, errorMessage)
		if errors.Is(err, errors.ErrInvalidTransition) {
			// Not transient, retrying cannot help.
			return nil
		}
		return err
	})
}

// progress appends an observability line; failures never affect the job.
func (o *Orchestrator) progress(ctx context.Context, jobID uuid.UUID, message string) {
	if err := o.deps.Store.AppendProgress(ctx, jobID, message); err != nil {
		o.log.Debugf("Failed to append progress for job %s: %v", jobID, err)
	}
}

func (o *Orchestrator) retryWrite(ctx context.Context, fn func(context.Context) error) error {
	return writeWithRetry(ctx, o.deps.Research.WriteRetryAttempts, o.deps.Research.WriteRetryBackoff, fn)
}

// notify sends the terminal email at most once per job. Fire-and-forget.
func (o *Orchestrator) notify(ctx context.Context, jobID uuid.UUID, status, summary string) {
	if o.deps.Notifier == nil {
		return
	}

	job, err := o.deps.Store.GetJob(ctx, jobID)
	if err != nil || job.NotificationEmail == "" {
		return
	}

	first, err := o.deps.Store.MarkNotificationSent(ctx, jobID)
	if err != nil {
		o.log.Warnf("Failed to mark notification sent for job %s: %v", jobID, err)
		return
	}
	if !first {
		return
	}

	if err := o.deps.Notifier.SendJobNotification(ctx, job.NotificationEmail, jobID.String(), status, summary); err != nil {
		o.log.Warnf("Failed to send notification for job %s: %v", jobID, err)
	}
}

func (o *Orchestrator) publishLifecycle(ctx context.Context, topic string, job *research.ResearchJob, errMessage string) {
	if o.deps.Producer == nil {
		return
	}

	event := jobLifecycleEvent{
		JobID:    job.ID.String(),
		MarketID: job.MarketID,
		Status:   string(job.Status),
		Error:    errMessage,
	}
	if err := o.deps.Producer.Publish(ctx, topic, job.ID.String(), event); err != nil {
		metrics.KafkaMessages.WithLabelValues(topic, "error").Inc()
		o.log.Warnf("Failed to publish lifecycle event for job %s: %v", job.ID, err)
		return
	}
	metrics.KafkaMessages.WithLabelValues(topic, "success").Inc()
}

// recordLLM accounts one model call in metrics and the usage store.
func (o *Orchestrator) recordLLM(ctx context.Context, job *research.ResearchJob, stage string, iteration int, model string, usage ai.Usage, latency time.Duration, streamed bool, callErr error) {
	status := "success"
	if callErr != nil {
		status = "error"
	}
	metrics.LLMCalls.WithLabelValues(stage, model, status).Inc()
	metrics.LLMLatency.WithLabelValues(stage, model).Observe(latency.Seconds())
	if usage.PromptTokens > 0 {
		metrics.LLMTokens.WithLabelValues(stage, model, "input").Add(float64(usage.PromptTokens))
	}
	if usage.CompletionTokens > 0 {
		metrics.LLMTokens.WithLabelValues(stage, model, "output").Add(float64(usage.CompletionTokens))
	}

	if o.deps.Usage == nil || usage.TotalTokens == 0 {
		return
	}
	log := &aiusage.UsageLog{
		Timestamp:        time.Now().UTC(),
		JobID:            job.ID.String(),
		MarketID:         job.MarketID,
		Stage:            stage,
		Iteration:        uint16(iteration),
		Provider:         o.deps.ProviderName,
		ModelID:          model,
		PromptTokens:     uint32(usage.PromptTokens),
		CompletionTokens: uint32(usage.CompletionTokens),
		TotalTokens:      uint32(usage.TotalTokens),
		LatencyMs:        uint32(latency.Milliseconds()),
		Streamed:         streamed,
	}
	if err := o.deps.Usage.Store(ctx, log); err != nil {
		o.log.Debugf("Failed to store usage log for job %s: %v", job.ID, err)
	}
}
