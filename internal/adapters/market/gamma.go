package market

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"

	"foresight/pkg/errors"
)

// Market holds the context the analysis prompts embed for a question.
type Market struct {
	Slug        string
	Question    string
	Description string
	Outcomes    []string
	// Prices are outcome probabilities in [0,1]; index-aligned with Outcomes.
	Prices  []decimal.Decimal
	BestBid decimal.Decimal
	BestAsk decimal.Decimal
	Active  bool
	Closed  bool
}

// Client defines the market context contract the orchestrator depends on.
type Client interface {
	GetMarket(ctx context.Context, slug string) (*Market, error)
	GetRelatedMarkets(ctx context.Context, slug string) ([]Market, error)
}

// Ensure GammaClient implements Client
var _ Client = (*GammaClient)(nil)

// GammaClient queries the Polymarket Gamma API.
type GammaClient struct {
	baseURL string
	client  *http.Client
}

// NewGammaClient creates a new Gamma API client.
func NewGammaClient(baseURL string, timeout time.Duration) *GammaClient {
	return &GammaClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

// GetMarket fetches a single market by slug.
func (c *GammaClient) GetMarket(ctx context.Context, slug string) (*Market, error) {
	raw, err := c.getMarkets(ctx, "/markets?slug="+url.QueryEscape(slug))
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, errors.Wrapf(errors.ErrNotFound, "market %s", slug)
	}
	m := raw[0].toMarket()
	return &m, nil
}

// GetRelatedMarkets fetches the sibling markets of the event containing slug.
// The market itself is excluded; inactive or closed siblings are skipped.
func (c *GammaClient) GetRelatedMarkets(ctx context.Context, slug string) ([]Market, error) {
	raw, err := c.getMarkets(ctx, "/markets?slug="+url.QueryEscape(slug))
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, errors.Wrapf(errors.ErrNotFound, "market %s", slug)
	}
	eventSlug := raw[0].eventSlug()
	if eventSlug == "" {
		return nil, nil
	}

	events, err := c.getEvents(ctx, "/events?slug="+url.QueryEscape(eventSlug))
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, nil
	}

	related := make([]Market, 0, len(events[0].Markets))
	for _, gm := range events[0].Markets {
		if gm.Slug == slug || !gm.Active || gm.Closed {
			continue
		}
		related = append(related, gm.toMarket())
	}
	return related, nil
}

func (c *GammaClient) getMarkets(ctx context.Context, path string) ([]gammaMarket, error) {
	var out []gammaMarket
	if err := c.get(ctx, path, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *GammaClient) getEvents(ctx context.Context, path string) ([]gammaEvent, error) {
	var out []gammaEvent
	if err := c.get(ctx, path, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *GammaClient) get(ctx context.Context, path string, dest interface{}) error {
	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+path, nil)
	if err != nil {
		return errors.Wrap(err, "create gamma request")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return errors.Wrap(err, "send gamma request")
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrap(err, "read gamma response")
	}

	if resp.StatusCode != http.StatusOK {
		return errors.Wrapf(errors.ErrExternal, "gamma API error (%d): %s", resp.StatusCode, string(body))
	}

	if err := json.Unmarshal(body, dest); err != nil {
		return errors.Wrap(err, "unmarshal gamma response")
	}
	return nil
}

type gammaMarket struct {
	Slug        string          `json:"slug"`
	Question    string          `json:"question"`
	Title       string          `json:"title"`
	Description string          `json:"description"`
	// Gamma serves these either as JSON arrays or JSON-stringified arrays
	Outcomes      json.RawMessage `json:"outcomes"`
	OutcomePrices json.RawMessage `json:"outcomePrices"`
	BestBid       json.Number     `json:"bestBid"`
	BestAsk       json.Number     `json:"bestAsk"`
	Active        bool            `json:"active"`
	Closed        bool            `json:"closed"`
	EventSlug     string          `json:"eventSlug"`
	GroupSlug     string          `json:"groupSlug"`
	Events        json.RawMessage `json:"events"`
}

type gammaEvent struct {
	Slug    string        `json:"slug"`
	Markets []gammaMarket `json:"markets"`
}

func (g gammaMarket) toMarket() Market {
	m := Market{
		Slug:        g.Slug,
		Question:    g.Question,
		Description: g.Description,
		Outcomes:    decodeStringList(g.Outcomes),
		Active:      g.Active,
		Closed:      g.Closed,
	}
	if m.Question == "" {
		m.Question = g.Title
	}
	if m.Question == "" {
		m.Question = g.Slug
	}
	for _, s := range decodeStringList(g.OutcomePrices) {
		if d, err := decimal.NewFromString(s); err == nil {
			m.Prices = append(m.Prices, d)
		}
	}
	if d, err := decimal.NewFromString(g.BestBid.String()); err == nil {
		m.BestBid = d
	}
	if d, err := decimal.NewFromString(g.BestAsk.String()); err == nil {
		m.BestAsk = d
	}
	return m
}

// eventSlug resolves the owning event from the several shapes Gamma serves.
func (g gammaMarket) eventSlug() string {
	if g.EventSlug != "" {
		return g.EventSlug
	}
	var obj struct {
		Slug string `json:"slug"`
	}
	if err := json.Unmarshal(g.Events, &obj); err == nil && obj.Slug != "" {
		return obj.Slug
	}
	var list []struct {
		Slug string `json:"slug"`
	}
	if err := json.Unmarshal(g.Events, &list); err == nil && len(list) > 0 {
		return list[0].Slug
	}
	return g.GroupSlug
}

// decodeStringList accepts a JSON array of strings/numbers or a
// JSON-stringified array of the same.
func decodeStringList(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}
	var direct []json.Number
	if err := json.Unmarshal(raw, &direct); err == nil {
		out := make([]string, len(direct))
		for i, n := range direct {
			out[i] = n.String()
		}
		return out
	}
	var directStr []string
	if err := json.Unmarshal(raw, &directStr); err == nil {
		return directStr
	}
	var stringified string
	if err := json.Unmarshal(raw, &stringified); err == nil {
		var inner []string
		if err := json.Unmarshal([]byte(stringified), &inner); err == nil {
			return inner
		}
	}
	return nil
}
