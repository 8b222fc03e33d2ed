package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"foresight/pkg/errors"
	"foresight/pkg/logger"
)

const resendAPIURL = "https://api.resend.com/emails"

// ResendNotifier sends research completion emails through the Resend API.
// Delivery is best-effort: callers log failures and never escalate them.
type ResendNotifier struct {
	apiKey string
	from   string
	client *http.Client
	log    *logger.Logger
}

// NewResendNotifier creates a new Resend notifier.
func NewResendNotifier(apiKey, from string) *ResendNotifier {
	return &ResendNotifier{
		apiKey: apiKey,
		from:   from,
		client: &http.Client{Timeout: 15 * time.Second},
		log:    logger.Get().With("component", "notifier"),
	}
}

// SendJobNotification emails the terminal status of a research job.
func (n *ResendNotifier) SendJobNotification(ctx context.Context, email, jobID, status, summary string) error {
	if n.apiKey == "" {
		return errors.Wrap(errors.ErrInvalidInput, "resend API key not configured")
	}

	payload := map[string]interface{}{
		"from":    n.from,
		"to":      []string{email},
		"subject": fmt.Sprintf("Research job %s: %s", jobID, status),
		"text":    summary,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return errors.Wrap(err, "marshal notification")
	}

	req, err := http.NewRequestWithContext(ctx, "POST", resendAPIURL, bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, "create notification request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+n.apiKey)

	resp, err := n.client.Do(req)
	if err != nil {
		return errors.Wrap(err, "send notification")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return errors.Wrapf(errors.ErrExternal, "resend API error (%d): %s", resp.StatusCode, string(respBody))
	}

	n.log.Infof("Notification sent for job %s to %s", jobID, email)
	return nil
}
