// Package webhook delivers call lifecycle notifications to a configured
// endpoint, signed so the receiver can verify origin.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// SignatureHeader carries the hex HMAC-SHA256 of the request body.
const SignatureHeader = "X-Voicebridge-Signature"

// Event is one notification payload.
type Event struct {
	Type      string    `json:"type"`
	CallID    string    `json:"call_id"`
	SessionID string    `json:"session_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Detail    string    `json:"detail,omitempty"`
}

// Event types delivered over the webhook.
const (
	EventCallStarted = "call.started"
	EventCallEnded   = "call.ended"
	EventCallFailed  = "call.failed"
)

// Deliverer posts signed events with bounded retries. Safe for concurrent
// use.
type Deliverer struct {
	url        string
	secret     []byte
	logger     *slog.Logger
	httpClient *http.Client
	attempts   int
	backoff    time.Duration
}

// New builds a deliverer for the given endpoint. An empty url disables
// delivery entirely: Deliver becomes a no-op.
func New(url string, secret string, logger *slog.Logger) *Deliverer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Deliverer{
		url:        url,
		secret:     []byte(secret),
		logger:     logger,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		attempts:   3,
		backoff:    500 * time.Millisecond,
	}
}

// Sign computes the hex HMAC-SHA256 signature for a payload.
func Sign(secret, payload []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether sig is a valid signature for payload.
func Verify(secret, payload []byte, sig string) bool {
	return hmac.Equal([]byte(Sign(secret, payload)), []byte(sig))
}

// Deliver posts one event, retrying transient failures with backoff. A 4xx
// response is permanent and stops the retries.
func (d *Deliverer) Deliver(ctx context.Context, ev Event) error {
	if d.url == "" {
		return nil
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal webhook event: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= d.attempts; attempt++ {
		if attempt > 1 {
			select {
			case <-time.After(d.backoff * time.Duration(attempt-1)):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		err := d.post(ctx, payload)
		if err == nil {
			return nil
		}
		var perm *permanentError
		if errors.As(err, &perm) {
			return perm.err
		}
		lastErr = err
		d.logger.Warn("webhook delivery failed",
			"type", ev.Type, "attempt", attempt, "error", err)
	}
	return fmt.Errorf("webhook delivery gave up after %d attempts: %w", d.attempts, lastErr)
}

func (d *Deliverer) post(ctx context.Context, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(SignatureHeader, Sign(d.secret, payload))

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return &permanentError{err: fmt.Errorf("webhook endpoint rejected event: %d", resp.StatusCode)}
	default:
		return fmt.Errorf("webhook endpoint returned %d", resp.StatusCode)
	}
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
