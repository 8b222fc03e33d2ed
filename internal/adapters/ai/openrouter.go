package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"foresight/pkg/errors"
)

// Ensure OpenRouterProvider implements ChatProvider
var _ ChatProvider = (*OpenRouterProvider)(nil)

// OpenRouterProvider talks to the OpenRouter chat completions API.
// OpenRouter exposes an OpenAI-compatible schema; some routed models
// (Perplexity deep-research) answer with `answer`/`output` envelopes instead
// of `choices`, so response parsing accepts all three shapes.
type OpenRouterProvider struct {
	apiKey  string
	baseURL string
	timeout time.Duration
	limiter *rate.Limiter
	client  *http.Client

	// Non-streaming retry policy. Streams are not retried: a partial stream
	// has already been persisted by the caller.
	retryAttempts int
	retryBackoff  time.Duration
}

// NewOpenRouterProvider creates a new OpenRouter provider.
// reqPerMinute bounds outbound requests across all jobs in the process.
func NewOpenRouterProvider(apiKey, baseURL string, timeout time.Duration, reqPerMinute float64) *OpenRouterProvider {
	burst := int(reqPerMinute / 10)
	if burst < 1 {
		burst = 1
	}
	return &OpenRouterProvider{
		apiKey:        apiKey,
		baseURL:       baseURL,
		timeout:       timeout,
		limiter:       rate.NewLimiter(rate.Limit(reqPerMinute/60.0), burst),
		client:        &http.Client{Timeout: timeout},
		retryAttempts: 3,
		retryBackoff:  2 * time.Second,
	}
}

// Name returns the provider name.
func (p *OpenRouterProvider) Name() string {
	return "openrouter"
}

// Chat sends a non-streaming chat completion request. Transport failures,
// 5xx and 429 responses are retried with exponential backoff.
func (p *OpenRouterProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	if p.apiKey == "" {
		return nil, errors.Wrap(errors.ErrInvalidInput, "openrouter API key not configured")
	}

	var respBody []byte
	var lastErr error

	for attempt := 0; attempt < p.retryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(p.retryBackoff << (attempt - 1)):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		if err := p.limiter.Wait(ctx); err != nil {
			return nil, errors.Wrap(errors.ErrRateLimitExceeded, err.Error())
		}

		body, status, err := p.sendOnce(ctx, req)
		if err != nil {
			lastErr = err
			continue
		}
		if status != http.StatusOK {
			lastErr = apiError(status, body)
			if status >= 500 || status == http.StatusTooManyRequests {
				continue
			}
			return nil, lastErr
		}
		respBody = body
		lastErr = nil
		break
	}
	if lastErr != nil {
		return nil, lastErr
	}

	var payload openRouterResponse
	if err := json.Unmarshal(respBody, &payload); err != nil {
		return nil, errors.Wrap(err, "unmarshal openrouter response")
	}

	// Error envelope wrapped in a 200
	if payload.Error != nil {
		return nil, errors.Wrapf(errors.ErrExternal, "openrouter error %d: %s",
			payload.Error.Code, payload.Error.Message)
	}

	content, ok := payload.content()
	if !ok {
		return nil, errors.Wrap(errors.ErrExternal, "unrecognised openrouter payload")
	}

	out := &ChatResponse{
		ID:      payload.ID,
		Model:   payload.Model,
		Content: content,
	}
	if payload.Usage != nil {
		out.Usage = Usage{
			PromptTokens:     payload.Usage.PromptTokens,
			CompletionTokens: payload.Usage.CompletionTokens,
			TotalTokens:      payload.Usage.TotalTokens,
		}
	}
	return out, nil
}

// ChatStream sends a streaming chat completion request.
// Content deltas are emitted on the chunk channel in wire order. A failure
// before the first byte surfaces on the error channel; malformed records
// mid-stream are skipped.
func (p *OpenRouterProvider) ChatStream(ctx context.Context, req ChatRequest) (<-chan ChatStreamChunk, <-chan error) {
	chunks := make(chan ChatStreamChunk)
	errCh := make(chan error, 1)

	if p.apiKey == "" {
		close(chunks)
		errCh <- errors.Wrap(errors.ErrInvalidInput, "openrouter API key not configured")
		close(errCh)
		return chunks, errCh
	}

	go func() {
		defer close(chunks)
		defer close(errCh)

		if err := p.limiter.Wait(ctx); err != nil {
			errCh <- errors.Wrap(errors.ErrRateLimitExceeded, err.Error())
			return
		}

		resp, err := p.send(ctx, req, true)
		if err != nil {
			errCh <- err
			return
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			errCh <- apiError(resp.StatusCode, body)
			return
		}

		reader := NewSSEReader(resp.Body)
		for {
			payload, ok, err := reader.Next()
			if err != nil {
				errCh <- errors.Wrap(err, "read openrouter stream")
				return
			}
			if !ok {
				return
			}

			var frame openRouterResponse
			if err := json.Unmarshal([]byte(payload), &frame); err != nil {
				// One bad record must not abort the whole analysis
				continue
			}

			if frame.Error != nil {
				errCh <- errors.Wrapf(errors.ErrExternal, "openrouter stream error: %s", frame.Error.Message)
				return
			}

			delta, usage := frame.delta()
			if delta == "" && usage == nil {
				continue
			}

			chunk := ChatStreamChunk{Delta: delta}
			if usage != nil {
				chunk.Usage = &Usage{
					PromptTokens:     usage.PromptTokens,
					CompletionTokens: usage.CompletionTokens,
					TotalTokens:      usage.TotalTokens,
				}
			}

			select {
			case chunks <- chunk:
			case <-ctx.Done():
				errCh <- ctx.Err()
				return
			}
		}
	}()

	return chunks, errCh
}

// sendOnce performs one non-streaming request and drains the body.
func (p *OpenRouterProvider) sendOnce(ctx context.Context, req ChatRequest) ([]byte, int, error) {
	resp, err := p.send(ctx, req, false)
	if err != nil {
		return nil, 0, err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, errors.Wrap(err, "read openrouter response")
	}
	return body, resp.StatusCode, nil
}

func (p *OpenRouterProvider) send(ctx context.Context, req ChatRequest, stream bool) (*http.Response, error) {
	payload := openRouterRequest{
		Model:       req.Model,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Stream:      stream,
	}
	if payload.MaxTokens == 0 {
		payload.MaxTokens = 4096
	}
	if req.JSONResponse {
		payload.ResponseFormat = &responseFormat{Type: "json_object"}
	}
	for _, msg := range req.Messages {
		payload.Messages = append(payload.Messages, openRouterMessage{
			Role:    string(msg.Role),
			Content: msg.Content,
		})
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.Wrap(err, "marshal openrouter request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", p.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "create HTTP request")
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	client := p.client
	if stream {
		// Streams outlive the default client timeout; rely on ctx instead
		client = &http.Client{}
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, errors.Wrap(err, "send openrouter request")
	}
	return resp, nil
}

func apiError(status int, body []byte) error {
	var errResp struct {
		Error struct {
			Message string `json:"message"`
			Code    int    `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error.Message != "" {
		return errors.Wrapf(errors.ErrExternal, "openrouter API error (%d): %s", status, errResp.Error.Message)
	}
	return errors.Wrapf(errors.ErrExternal, "openrouter API error (%d): %s", status, string(body))
}

// OpenAI-compatible request/response types

type openRouterRequest struct {
	Model          string              `json:"model"`
	Messages       []openRouterMessage `json:"messages"`
	Temperature    float64             `json:"temperature,omitempty"`
	MaxTokens      int                 `json:"max_tokens,omitempty"`
	Stream         bool                `json:"stream,omitempty"`
	ResponseFormat *responseFormat     `json:"response_format,omitempty"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type openRouterMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openRouterResponse struct {
	ID      string             `json:"id"`
	Model   string             `json:"model"`
	Choices []openRouterChoice `json:"choices"`
	Usage   *openRouterUsage   `json:"usage"`
	Error   *openRouterError   `json:"error"`

	// Perplexity deep-research envelopes
	Answer string `json:"answer"`
	Output string `json:"output"`
}

type openRouterChoice struct {
	Message *openRouterMessage `json:"message"`
	Delta   *openRouterMessage `json:"delta"`
	Text    string             `json:"text"`
}

type openRouterUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type openRouterError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// content extracts the full text of a non-streaming response.
func (r *openRouterResponse) content() (string, bool) {
	if len(r.Choices) > 0 {
		choice := r.Choices[0]
		if choice.Message != nil {
			return choice.Message.Content, true
		}
		if choice.Text != "" {
			return choice.Text, true
		}
	}
	if r.Answer != "" {
		return r.Answer, true
	}
	if r.Output != "" {
		return r.Output, true
	}
	return "", false
}

// delta extracts the incremental text of a streaming frame.
func (r *openRouterResponse) delta() (string, *openRouterUsage) {
	if len(r.Choices) > 0 && r.Choices[0].Delta != nil {
		return r.Choices[0].Delta.Content, r.Usage
	}
	if r.Answer != "" {
		return r.Answer, r.Usage
	}
	if r.Output != "" {
		return r.Output, r.Usage
	}
	return "", r.Usage
}
