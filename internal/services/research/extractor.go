package research

import (
	"context"
	"encoding/json"
	"strings"

	"foresight/internal/adapters/ai"
	"foresight/internal/domain/research"
	"foresight/pkg/errors"
	"foresight/pkg/logger"
)

// Extractor converts the completed final analysis into structured insights
// with a single non-streaming model call. Failure here is fatal to the job: a
// completed job without insights is a failed job from the product's view.
type Extractor struct {
	provider ai.ChatProvider
	model    string
	log      *logger.Logger
}

// NewExtractor creates an extractor.
func NewExtractor(provider ai.ChatProvider, model string) *Extractor {
	return &Extractor{
		provider: provider,
		model:    model,
		log:      logger.Get().With("component", "extractor"),
	}
}

// Extract returns the structured insights for a job's final analysis.
func (e *Extractor) Extract(ctx context.Context, topic, marketContext, finalAnalysis string) (research.StructuredInsights, ai.Usage, error) {
	system, user := buildExtractionPrompt(topic, marketContext, finalAnalysis)

	resp, err := e.provider.Chat(ctx, ai.ChatRequest{
		Model: e.model,
		Messages: []ai.Message{
			{Role: ai.RoleSystem, Content: system},
			{Role: ai.RoleUser, Content: user},
		},
		Temperature:  0,
		JSONResponse: true,
	})
	if err != nil {
		return research.StructuredInsights{}, ai.Usage{}, errors.Wrap(err, "insight extraction call failed")
	}

	insights, err := parseInsights(resp.Content)
	if err != nil {
		return research.StructuredInsights{}, resp.Usage, errors.Wrap(err, "parse insight extraction response")
	}

	return insights, resp.Usage, nil
}

func parseInsights(content string) (research.StructuredInsights, error) {
	content = strings.TrimSpace(content)

	// Model may wrap the object in a code fence
	if start := strings.Index(content, "{"); start >= 0 {
		if end := strings.LastIndex(content, "}"); end > start {
			content = content[start : end+1]
		}
	}

	var insights research.StructuredInsights
	if err := json.Unmarshal([]byte(content), &insights); err != nil {
		return research.StructuredInsights{}, err
	}
	if insights.Probability == "" {
		return research.StructuredInsights{}, errors.Wrap(errors.ErrNoContent, "extraction response missing probability")
	}
	return insights, nil
}
