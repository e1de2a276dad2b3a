package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const maxHandshakeBody = 4096

// Verifier performs the ownership handshake against a subscriber endpoint.
type Verifier struct {
	client *http.Client
}

// NewVerifier creates a verifier with the given HTTP timeout.
func NewVerifier(timeout time.Duration) *Verifier {
	return &Verifier{
		client: &http.Client{Timeout: timeout},
	}
}

// challenge is the handshake request body.
type challenge struct {
	Type      string    `json:"type"`
	Token     string    `json:"token"`
	Timestamp time.Time `json:"timestamp"`
}

// Verify POSTs the verification challenge to the subscription's URL.
// Success requires a 2xx response whose body echoes the token verbatim.
func (v *Verifier) Verify(ctx context.Context, sub *Subscription) error {
	body, err := json.Marshal(challenge{
		Type:      "webhook.verification",
		Token:     sub.VerificationToken,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("webhook: marshal challenge: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sub.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook: create handshake request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := v.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook: handshake: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("webhook: handshake returned %d", resp.StatusCode)
	}

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxHandshakeBody))
	if err != nil {
		return fmt.Errorf("webhook: read handshake response: %w", err)
	}
	if !strings.Contains(string(respBody), sub.VerificationToken) {
		return fmt.Errorf("webhook: handshake response did not echo the verification token")
	}
	return nil
}
