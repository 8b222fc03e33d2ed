package research

import (
	"context"

	"foresight/internal/adapters/search"
	"foresight/internal/domain/research"
	"foresight/internal/metrics"
	"foresight/pkg/logger"
)

// Collector executes a round's search queries and normalizes results.
// Queries run sequentially to bound the search API rate; URL deduplication is
// job-wide, carried in the seen set the orchestrator owns.
type Collector struct {
	search          search.Client
	resultsPerQuery int
	log             *logger.Logger
}

// NewCollector creates a collector.
func NewCollector(client search.Client, resultsPerQuery int) *Collector {
	return &Collector{
		search:          client,
		resultsPerQuery: resultsPerQuery,
		log:             logger.Get().With("component", "collector"),
	}
}

// Collect runs every query and returns the newly collected items, adding each
// accepted URL to seen. A failed query is logged and skipped; the round
// continues with the remaining queries.
func (c *Collector) Collect(ctx context.Context, queries []string, seen map[string]struct{}) []research.ContentItem {
	var items []research.ContentItem

	for _, query := range queries {
		results, err := c.search.Search(ctx, query, c.resultsPerQuery)
		if err != nil {
			metrics.SearchCalls.WithLabelValues("error").Inc()
			c.log.Warnf("Search failed for %q, continuing with next query: %v", query, err)
			continue
		}
		metrics.SearchCalls.WithLabelValues("success").Inc()

		for _, r := range results {
			if _, dup := seen[r.URL]; dup {
				continue
			}
			seen[r.URL] = struct{}{}
			items = append(items, research.ContentItem{
				URL:     r.URL,
				Title:   r.Title,
				Content: r.Description,
				Source:  "web_search",
			})
		}
	}

	return items
}
