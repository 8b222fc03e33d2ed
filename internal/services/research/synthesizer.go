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

// NoContentPlaceholder is written as the final analysis when no web content
// was collected across all rounds; the model call is skipped entirely.
const NoContentPlaceholder = "No relevant content was collected during research. Unable to generate an analysis for this market."

// Synthesizer streams the job-level final analysis over the union of all
// collected content and all per-round analyses.
type Synthesizer struct {
	provider      ai.ChatProvider
	store         research.JobStore
	model         string
	charBudget    int
	retryAttempts int
	retryBackoff  time.Duration
	log           *logger.Logger
}

// NewSynthesizer creates a synthesizer.
func NewSynthesizer(provider ai.ChatProvider, store research.JobStore, model string, charBudget, retryAttempts int, retryBackoff time.Duration) *Synthesizer {
	return &Synthesizer{
		provider:      provider,
		store:         store,
		model:         model,
		charBudget:    charBudget,
		retryAttempts: retryAttempts,
		retryBackoff:  retryBackoff,
		log:           logger.Get().With("component", "synthesizer"),
	}
}

// SynthesisInput carries the whole-job context for the final report.
type SynthesisInput struct {
	Topic             string
	FocusText         string
	MarketContext     string
	AllContent        []research.ContentItem
	IterationAnalyses []string
}

// Synthesize streams the final report into the store and returns the full
// text. With no collected content the model call is skipped and the
// deterministic placeholder is written instead. Errors here are fatal to the
// job: insight extraction depends on this text.
func (s *Synthesizer) Synthesize(ctx context.Context, jobID uuid.UUID, in SynthesisInput) (string, ai.Usage, error) {
	var usage ai.Usage

	if len(in.AllContent) == 0 {
		err := writeWithRetry(ctx, s.retryAttempts, s.retryBackoff, func(ctx context.Context) error {
			return s.store.StreamAppendFinalAnalysis(ctx, jobID, NoContentPlaceholder)
		})
		if err != nil {
			return "", usage, errors.Wrap(err, "write no-content placeholder")
		}
		return NoContentPlaceholder, usage, nil
	}

	system, user := buildFinalPrompt(in.Topic, in.FocusText, in.MarketContext, in.AllContent, in.IterationAnalyses, s.charBudget)

	chunks, errCh := s.provider.ChatStream(ctx, ai.ChatRequest{
		Model: s.model,
		Messages: []ai.Message{
			{Role: ai.RoleSystem, Content: system},
			{Role: ai.RoleUser, Content: user},
		},
		Temperature: 0.3,
	})

	var full strings.Builder
	for chunk := range chunks {
		if chunk.Usage != nil {
			usage = *chunk.Usage
		}
		if chunk.Delta == "" {
			continue
		}
		full.WriteString(chunk.Delta)

		err := writeWithRetry(ctx, s.retryAttempts, s.retryBackoff, func(ctx context.Context) error {
			return s.store.StreamAppendFinalAnalysis(ctx, jobID, chunk.Delta)
		})
		if err != nil {
			s.log.Warnf("Dropping final analysis chunk for job %s: %v", jobID, err)
		}
	}

	if err := <-errCh; err != nil {
		return "", usage, errors.Wrap(err, "final analysis stream failed")
	}
	if full.Len() == 0 {
		return "", usage, errors.Wrap(errors.ErrNoContent, "final analysis stream produced no text")
	}

	return full.String(), usage, nil
}
