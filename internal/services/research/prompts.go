package research

import (
	"fmt"
	"strings"
	"time"

	"foresight/internal/adapters/market"
	"foresight/internal/domain/research"
)

// likelihoodLabels are the allowed verbal stance labels for insight
// extraction, ordered from bearish to bullish.
var likelihoodLabels = []string{
	"Extremely unlikely",
	"Very unlikely",
	"Unlikely",
	"Somewhat unlikely",
	"Uncertain",
	"Somewhat likely",
	"Likely",
	"Very likely",
	"Extremely likely",
}

// truncate cuts s to at most budget characters, appending a marker when
// content was dropped. Prompt budgets keep combined content inside model
// context limits.
func truncate(s string, budget int) string {
	if budget <= 0 || len(s) <= budget {
		return s
	}
	return s[:budget] + "\n...[content truncated]"
}

// formatMarketContext renders market price data for prompt embedding.
// Empty string when no market data is available.
func formatMarketContext(m *market.Market, related []market.Market) string {
	if m == nil {
		return ""
	}

	var b strings.Builder
	fmt.Fprintf(&b, "MARKET: %s\n", m.Question)
	if m.Description != "" {
		fmt.Fprintf(&b, "DESCRIPTION: %s\n", truncate(m.Description, 1500))
	}
	for i, outcome := range m.Outcomes {
		if i < len(m.Prices) {
			fmt.Fprintf(&b, "CURRENT PRICE %s: %s\n", outcome, m.Prices[i].StringFixed(3))
		}
	}
	if !m.BestBid.IsZero() || !m.BestAsk.IsZero() {
		fmt.Fprintf(&b, "BEST BID: %s, BEST ASK: %s\n", m.BestBid.StringFixed(3), m.BestAsk.StringFixed(3))
	}

	if len(related) > 0 {
		b.WriteString("RELATED MARKETS:\n")
		for _, r := range related {
			if len(r.Prices) > 0 && len(r.Outcomes) > 0 {
				fmt.Fprintf(&b, "- %s (%s: %s)\n", r.Question, r.Outcomes[0], r.Prices[0].StringFixed(3))
			} else {
				fmt.Fprintf(&b, "- %s\n", r.Question)
			}
		}
	}
	return b.String()
}

// formatContent renders collected content items for prompt embedding,
// bounded by the character budget.
func formatContent(items []research.ContentItem, budget int) string {
	var b strings.Builder
	for _, item := range items {
		fmt.Fprintf(&b, "SOURCE: %s\nTITLE: %s\n%s\n\n", item.URL, item.Title, item.Content)
		if b.Len() > budget {
			break
		}
	}
	return truncate(b.String(), budget)
}

func buildQueryGenPrompt(topic, focusText string, iteration int, previousFindings []string, targetCount int) (system, user string) {
	system = "You generate web search queries for research into prediction market questions. " +
		"Respond with a JSON object of the form {\"queries\": [\"...\"]} and nothing else."

	var b strings.Builder
	fmt.Fprintf(&b, "Generate %d search queries to research the following topic:\n\n%s\n\n", targetCount, topic)
	if focusText != "" {
		fmt.Fprintf(&b, "Every query MUST explicitly relate to this focus area: %s\n\n", focusText)
	}
	if iteration <= 1 {
		b.WriteString("This is the first research round: produce diverse queries covering different angles of the topic.\n")
	} else {
		fmt.Fprintf(&b, "This is research round %d: produce deeper, more technical queries that go beyond what was already found.\n", iteration)
	}
	if len(previousFindings) > 0 {
		b.WriteString("\nPrior findings (do NOT repeat searches that would surface the same information):\n")
		for _, f := range previousFindings {
			fmt.Fprintf(&b, "- %s\n", truncate(f, 300))
		}
	}
	fmt.Fprintf(&b, "\nToday's date is %s. Queries should target current, factual information.", time.Now().Format("2006-01-02"))
	return system, b.String()
}

func buildAnalysisPrompt(topic, focusText, marketContext string, iteration, maxIterations int, content []research.ContentItem, previousAnalyses, researchAreas []string, budget int) (system, user string) {
	system = "You are a careful research analyst for prediction markets. Analyze the provided web content " +
		"and assess how it bears on the market question. Be factual and cite which sources support each claim."

	var b strings.Builder
	fmt.Fprintf(&b, "MARKET QUESTION: %s\n\n", topic)
	if marketContext != "" {
		b.WriteString(marketContext)
		b.WriteString("\n")
	}
	if focusText != "" {
		fmt.Fprintf(&b, "FOCUS AREA: your analysis must specifically address: %s\n\n", focusText)
	}
	fmt.Fprintf(&b, "This is research round %d of %d.\n\n", iteration, maxIterations)

	if len(previousAnalyses) > 0 {
		b.WriteString("PREVIOUS ANALYSES (do NOT repeat their points; build on them):\n\n")
		for i, a := range previousAnalyses {
			fmt.Fprintf(&b, "--- Round %d analysis ---\n%s\n\n", i+1, a)
		}
	}
	if len(researchAreas) > 0 {
		b.WriteString("AREAS FLAGGED FOR FURTHER RESEARCH in prior rounds (address these if the content allows):\n")
		for _, area := range researchAreas {
			fmt.Fprintf(&b, "- %s\n", area)
		}
		b.WriteString("\n")
	}

	b.WriteString("NEW CONTENT COLLECTED THIS ROUND:\n\n")
	b.WriteString(formatContent(content, budget))
	b.WriteString("\n\nAnalyze the new content. End with a section titled \"Areas for further research\" listing specific open questions as bullet points.")
	return system, b.String()
}

func buildFinalPrompt(topic, focusText, marketContext string, allContent []research.ContentItem, iterationAnalyses []string, budget int) (system, user string) {
	system = "You are a careful research analyst for prediction markets. Produce one comprehensive final report " +
		"synthesizing all research rounds."

	var b strings.Builder
	fmt.Fprintf(&b, "MARKET QUESTION: %s\n\n", topic)
	if marketContext != "" {
		b.WriteString(marketContext)
		b.WriteString("\n")
	}
	if focusText != "" {
		fmt.Fprintf(&b, "FOCUS AREA: the report must specifically address: %s\n\n", focusText)
	}

	b.WriteString("ALL COLLECTED CONTENT:\n\n")
	b.WriteString(formatContent(allContent, budget))

	if len(iterationAnalyses) > 0 {
		b.WriteString("\n\nPER-ROUND ANALYSES:\n\n")
		for i, a := range iterationAnalyses {
			fmt.Fprintf(&b, "--- Round %d ---\n%s\n\n", i+1, a)
		}
	}

	b.WriteString("\nWrite a comprehensive report with these sections:\n" +
		"1. Executive summary\n" +
		"2. Key facts and developments\n" +
		"3. Probability assessment\n" +
		"4. Conflicting information\n" +
		"5. Strength of evidence\n" +
		"6. Conclusions\n" +
		"7. Remaining open questions\n")
	return system, b.String()
}

func buildExtractionPrompt(topic, marketContext, finalAnalysis string) (system, user string) {
	system = "You extract structured conclusions from research reports on prediction markets. " +
		"Respond ONLY with a JSON object of the form:\n" +
		"{\"probability\": \"<percentage, e.g. 65%>\", \"likelihood\": \"<one of: " + strings.Join(likelihoodLabels, ", ") + ">\", " +
		"\"rationale\": \"<2-4 sentences>\", \"key_factors\": [\"...\"], \"areas_for_research\": [\"...\"]}"

	var b strings.Builder
	fmt.Fprintf(&b, "MARKET QUESTION: %s\n\n", topic)
	if marketContext != "" {
		b.WriteString(marketContext)
		b.WriteString("\n")
	}
	b.WriteString("FINAL RESEARCH REPORT:\n\n")
	b.WriteString(truncate(finalAnalysis, 20000))
	b.WriteString("\n\nExtract the structured insights as specified.")
	return system, b.String()
}
