package delivery

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/loomhq/loom/webhook"
)

const maxResponseBody = 1024 // cap on response body storage

// Result holds the outcome of a single delivery attempt.
type Result struct {
	StatusCode int
	Error      string
	Response   string
	LatencyMs  int
}

// OK reports whether the attempt was acknowledged with a 2xx.
func (r Result) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300 && r.Error == ""
}

// Sender performs HTTP webhook delivery. The payload was serialized and
// signed at dispatch time; the sender posts those exact bytes.
type Sender struct {
	client *http.Client
}

// NewSender creates a sender with the given HTTP timeout.
func NewSender(timeout time.Duration) *Sender {
	return &Sender{
		client: &http.Client{Timeout: timeout},
	}
}

// Send posts a delivery to its subscription endpoint.
func (s *Sender) Send(ctx context.Context, sub *webhook.Subscription, d *Delivery) Result {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sub.URL, bytes.NewReader(d.Payload))
	if err != nil {
		return Result{Error: fmt.Sprintf("create request: %v", err)}
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Loom/1.0")
	req.Header.Set("X-Webhook-Signature", d.Signature)
	req.Header.Set("X-Webhook-Event", d.EventType)
	req.Header.Set("X-Webhook-Correlation-Id", d.CorrelationID)

	// Custom subscription headers.
	for k, v := range sub.Headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := s.client.Do(req)
	latency := time.Since(start).Milliseconds()

	if err != nil {
		return Result{
			Error:     err.Error(),
			LatencyMs: int(latency),
		}
	}
	defer resp.Body.Close()

	respBody, readErr := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if readErr != nil {
		return Result{
			StatusCode: resp.StatusCode,
			Error:      fmt.Sprintf("read response: %v", readErr),
			LatencyMs:  int(latency),
		}
	}

	return Result{
		StatusCode: resp.StatusCode,
		Response:   string(respBody),
		LatencyMs:  int(latency),
	}
}
