package research

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"foresight/internal/adapters/search"
	"foresight/pkg/errors"
)

func TestCollectDeduplicatesAgainstSeenSet(t *testing.T) {
	searcher := &fakeSearch{results: func(_ int, _ string) ([]search.Result, error) {
		return []search.Result{
			{URL: "https://a.example", Title: "A", Description: "alpha"},
			{URL: "https://b.example", Title: "B", Description: "beta"},
		}, nil
	}}
	c := NewCollector(searcher, 10)

	seen := map[string]struct{}{"https://a.example": {}}
	items := c.Collect(context.Background(), []string{"q1", "q2"}, seen)

	// b.example collected once from q1; q2's duplicates all skipped.
	require.Len(t, items, 1)
	require.Equal(t, "https://b.example", items[0].URL)
	require.Contains(t, seen, "https://b.example")
}

func TestCollectContinuesPastFailedQuery(t *testing.T) {
	searcher := &fakeSearch{results: func(call int, _ string) ([]search.Result, error) {
		if call == 1 {
			return nil, errors.Wrap(errors.ErrExternal, "quota exceeded")
		}
		return uniqueResults(call, 2), nil
	}}
	c := NewCollector(searcher, 10)

	items := c.Collect(context.Background(), []string{"fails", "works"}, map[string]struct{}{})
	require.Len(t, items, 2)
}

func TestCollectNormalizesFields(t *testing.T) {
	searcher := &fakeSearch{results: func(_ int, _ string) ([]search.Result, error) {
		return []search.Result{{URL: "https://x.example", Title: "X", Description: "body"}}, nil
	}}
	c := NewCollector(searcher, 10)

	items := c.Collect(context.Background(), []string{"q"}, map[string]struct{}{})
	require.Len(t, items, 1)
	require.Equal(t, "X", items[0].Title)
	require.Equal(t, "body", items[0].Content)
	require.Equal(t, "web_search", items[0].Source)
}
