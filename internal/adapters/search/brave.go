package search

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"foresight/pkg/errors"
)

// Result is a single normalized web search hit.
type Result struct {
	URL         string
	Title       string
	Description string
}

// Client defines the web search contract the collector depends on.
type Client interface {
	Search(ctx context.Context, query string, count int) ([]Result, error)
}

// Ensure BraveClient implements Client
var _ Client = (*BraveClient)(nil)

// BraveClient queries the Brave web search API.
type BraveClient struct {
	apiKey  string
	baseURL string
	limiter *rate.Limiter
	client  *http.Client
}

// NewBraveClient creates a new Brave search client.
// reqPerMinute bounds outbound requests; the collector additionally runs
// queries sequentially, so the limiter mostly matters across jobs.
func NewBraveClient(apiKey, baseURL string, timeout time.Duration, reqPerMinute float64) *BraveClient {
	burst := int(reqPerMinute / 10)
	if burst < 1 {
		burst = 1
	}
	return &BraveClient{
		apiKey:  apiKey,
		baseURL: baseURL,
		limiter: rate.NewLimiter(rate.Limit(reqPerMinute/60.0), burst),
		client:  &http.Client{Timeout: timeout},
	}
}

// Search executes one query and returns up to count results.
func (c *BraveClient) Search(ctx context.Context, query string, count int) ([]Result, error) {
	if c.apiKey == "" {
		return nil, errors.Wrap(errors.ErrInvalidInput, "brave API key not configured")
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, errors.Wrap(errors.ErrRateLimitExceeded, err.Error())
	}

	endpoint := c.baseURL + "/web/search?q=" + url.QueryEscape(query) + "&count=" + strconv.Itoa(count)
	req, err := http.NewRequestWithContext(ctx, "GET", endpoint, nil)
	if err != nil {
		return nil, errors.Wrap(err, "create search request")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Subscription-Token", c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "send search request")
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "read search response")
	}

	if resp.StatusCode != http.StatusOK {
		return nil, errors.Wrapf(errors.ErrExternal, "brave API error (%d): %s", resp.StatusCode, string(body))
	}

	var payload braveResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, errors.Wrap(err, "unmarshal search response")
	}

	results := make([]Result, 0, len(payload.Web.Results))
	for _, r := range payload.Web.Results {
		if r.URL == "" {
			continue
		}
		results = append(results, Result{
			URL:         r.URL,
			Title:       r.Title,
			Description: r.Description,
		})
	}
	return results, nil
}

type braveResponse struct {
	Web struct {
		Results []struct {
			URL         string `json:"url"`
			Title       string `json:"title"`
			Description string `json:"description"`
		} `json:"results"`
	} `json:"web"`
}
