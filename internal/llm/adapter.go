// ABOUTME: Adapter interface implemented by every model backend binding.
// ABOUTME: Also defines transient-failure classification shared by the HTTP adapters.

package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Adapter normalizes one provider's generate/analyze calls into the uniform
// request/response shape. Implementations must be safe for concurrent use.
type Adapter interface {
	Name() string
	Generate(ctx context.Context, req Request) (*Response, error)
	AnalyzeMedia(ctx context.Context, media Media, prompt string) (*Response, error)
	Supports(kind MediaKind) bool
}

// TransientError wraps a provider failure that is safe to retry or fail over:
// timeouts, rate-limit signals, and 5xx-equivalent responses.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// transient is a convenience constructor.
func transient(format string, args ...any) error {
	return &TransientError{Err: fmt.Errorf(format, args...)}
}

// IsTransient reports whether err should be retried or failed over rather
// than surfaced. Deadline expiry counts as transient per the dispatch
// contract; caller cancellation is distinguished by the orchestrator, which
// checks its own context before classifying.
func IsTransient(err error) bool {
	var te *TransientError
	if errors.As(err, &te) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

const maxErrorBody = 2048

// postJSON sends a JSON payload and decodes a JSON response. HTTP 408, 429,
// and 5xx are classified as transient; other non-2xx statuses are fatal for
// the adapter that produced them.
func postJSON(ctx context.Context, client *http.Client, url string, header http.Header, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		// Connection-level failures are retryable.
		return &TransientError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		if resp.StatusCode == http.StatusRequestTimeout ||
			resp.StatusCode == http.StatusTooManyRequests ||
			resp.StatusCode >= 500 {
			return transient("provider returned %d: %s", resp.StatusCode, snippet)
		}
		return fmt.Errorf("provider returned %d: %s", resp.StatusCode, snippet)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// newHTTPClient returns the client used by the bundled adapters. The per-call
// timeout is enforced by the orchestrator's context, not here; this bound is
// a last-resort safety net for misconfigured callers.
func newHTTPClient() *http.Client {
	return &http.Client{Timeout: 5 * time.Minute}
}

// Options configures one of the bundled HTTP adapters.
type Options struct {
	Name     string // configured adapter name, reported on responses
	APIKey   string
	Model    string
	Endpoint string // base URL override, mainly for tests
	Params   Params // default generation parameters
}
