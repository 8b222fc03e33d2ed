package research

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"foresight/internal/adapters/ai"
	"foresight/pkg/logger"
)

// fallbackTemplates pad out a short or failed query generation. Cycled with
// the topic until the target count is reached.
var fallbackTemplates = []string{
	"%s latest news",
	"%s analysis",
	"%s probability forecast",
	"%s expert opinion",
	"%s recent developments",
	"%s timeline",
	"%s key factors",
}

// QueryGenerator turns a market question into a batch of search queries for
// one research round. It never fails: a bad model response degrades to
// deterministic template queries.
type QueryGenerator struct {
	provider    ai.ChatProvider
	model       string
	targetCount int
	log         *logger.Logger
}

// NewQueryGenerator creates a query generator.
func NewQueryGenerator(provider ai.ChatProvider, model string, targetCount int) *QueryGenerator {
	return &QueryGenerator{
		provider:    provider,
		model:       model,
		targetCount: targetCount,
		log:         logger.Get().With("component", "query_generator"),
	}
}

// Generate returns exactly targetCount non-empty queries for the given round.
// previousFindings are truncated summaries of prior rounds used to steer the
// model away from redundant searches. marketID is scrubbed from the output
// since slugs pollute web searches.
func (g *QueryGenerator) Generate(ctx context.Context, topic, focusText, marketID string, iteration int, previousFindings []string) ([]string, ai.Usage) {
	system, user := buildQueryGenPrompt(topic, focusText, iteration, previousFindings, g.targetCount)

	var queries []string
	var usage ai.Usage

	resp, err := g.provider.Chat(ctx, ai.ChatRequest{
		Model: g.model,
		Messages: []ai.Message{
			{Role: ai.RoleSystem, Content: system},
			{Role: ai.RoleUser, Content: user},
		},
		Temperature:  0.7,
		JSONResponse: true,
	})
	if err != nil {
		g.log.Warnf("Query generation call failed, using fallback queries: %v", err)
	} else {
		usage = resp.Usage
		queries = parseQueries(resp.Content)
		if len(queries) == 0 {
			g.log.Warnf("Query generation returned unparseable output, using fallback queries")
		}
	}

	queries = g.sanitize(queries, focusText, marketID)
	queries = g.pad(queries, topic, focusText)
	return queries[:g.targetCount], usage
}

// parseQueries accepts a bare JSON array of strings or an object with a
// "queries" key, with or without surrounding prose.
func parseQueries(content string) []string {
	content = strings.TrimSpace(content)

	var arr []string
	if err := json.Unmarshal([]byte(content), &arr); err == nil {
		return arr
	}

	var obj struct {
		Queries []string `json:"queries"`
	}
	if err := json.Unmarshal([]byte(content), &obj); err == nil && len(obj.Queries) > 0 {
		return obj.Queries
	}

	// Model wrapped the JSON in prose or a code fence
	if start := strings.Index(content, "["); start >= 0 {
		if end := strings.LastIndex(content, "]"); end > start {
			if err := json.Unmarshal([]byte(content[start:end+1]), &arr); err == nil {
				return arr
			}
		}
	}

	return nil
}

// sanitize drops empties, scrubs the market identifier and injects the focus
// text into queries that omitted it.
func (g *QueryGenerator) sanitize(queries []string, focusText, marketID string) []string {
	out := make([]string, 0, len(queries))
	for _, q := range queries {
		if marketID != "" {
			q = strings.ReplaceAll(q, marketID, "")
		}
		q = strings.Join(strings.Fields(q), " ")
		if q == "" {
			continue
		}
		if focusText != "" && !strings.Contains(strings.ToLower(q), strings.ToLower(focusText)) {
			q = q + " " + focusText
		}
		out = append(out, q)
	}
	return out
}

// pad fills the batch with templated queries until the target count.
func (g *QueryGenerator) pad(queries []string, topic, focusText string) []string {
	for i := 0; len(queries) < g.targetCount; i++ {
		q := fmt.Sprintf(fallbackTemplates[i%len(fallbackTemplates)], topic)
		if focusText != "" {
			q = q + " " + focusText
		}
		queries = append(queries, q)
	}
	return queries
}
