// ABOUTME: Orchestrator dispatches requests across adapters with retry, backoff, and failover.
// ABOUTME: Transient provider failures never leak past this layer; callers see typed errors.

package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// ErrAllModelsExhausted indicates every configured adapter failed after its
// retries. Callers surface this as a "temporarily unavailable" reply.
var ErrAllModelsExhausted = errors.New("all model adapters exhausted")

// ErrUnsupportedMedia indicates no configured adapter supports the media kind.
var ErrUnsupportedMedia = errors.New("no adapter supports this media kind")

// ErrNoAdapters indicates an orchestrator was constructed with an empty
// adapter list. This is a configuration error, fatal at construction.
var ErrNoAdapters = errors.New("at least one adapter must be configured")

// Backend pairs an adapter with its dispatch policy. Retries is the total
// number of attempts against this adapter before failing over; Timeout bounds
// each individual attempt.
type Backend struct {
	Adapter Adapter
	Timeout time.Duration
	Retries int
}

// Orchestrator selects an adapter and applies the timeout/retry/fallback
// policy. It is a pure request/response dispatcher: it never touches session,
// context, or memory state.
type Orchestrator struct {
	backends []Backend // priority order
	backoff  time.Duration
	logger   *slog.Logger
}

// NewOrchestrator validates the backend list and returns an orchestrator.
// Backoff is the base delay before the first retry; it doubles per attempt.
func NewOrchestrator(backends []Backend, backoff time.Duration, logger *slog.Logger) (*Orchestrator, error) {
	if len(backends) == 0 {
		return nil, ErrNoAdapters
	}
	for _, b := range backends {
		if b.Adapter == nil {
			return nil, fmt.Errorf("backend has nil adapter")
		}
		if b.Timeout <= 0 {
			return nil, fmt.Errorf("backend %s: timeout must be positive", b.Adapter.Name())
		}
		if b.Retries < 1 {
			return nil, fmt.Errorf("backend %s: retries must be at least 1", b.Adapter.Name())
		}
	}
	if backoff <= 0 {
		backoff = 250 * time.Millisecond
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		backends: backends,
		backoff:  backoff,
		logger:   logger.With("component", "orchestrator"),
	}, nil
}

// Adapters returns the configured adapter names in priority order.
func (o *Orchestrator) Adapters() []string {
	names := make([]string, len(o.backends))
	for i, b := range o.backends {
		names[i] = b.Adapter.Name()
	}
	return names
}

// Generate calls the preferred adapter, retrying transient failures with
// exponential backoff, then falls back through the remaining adapters in
// priority order. An empty preferred name starts at the head of the list.
func (o *Orchestrator) Generate(ctx context.Context, req Request, preferred string) (*Response, error) {
	return o.dispatch(ctx, preferred, nil, func(ctx context.Context, a Adapter) (*Response, error) {
		return a.Generate(ctx, req)
	})
}

// AnalyzeMedia applies the same dispatch policy to a multimodal request,
// considering only adapters that declare support for the media kind.
func (o *Orchestrator) AnalyzeMedia(ctx context.Context, media Media, prompt, preferred string) (*Response, error) {
	supported := false
	for _, b := range o.backends {
		if b.Adapter.Supports(media.Kind) {
			supported = true
			break
		}
	}
	if !supported {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedMedia, media.Kind)
	}

	eligible := func(a Adapter) bool { return a.Supports(media.Kind) }
	return o.dispatch(ctx, preferred, eligible, func(ctx context.Context, a Adapter) (*Response, error) {
		return a.AnalyzeMedia(ctx, media, prompt)
	})
}

// dispatch walks the adapter list (preferred first) and runs the per-adapter
// retry loop. Caller cancellation aborts the current attempt and does not
// trigger fallback; provider-side failures do.
func (o *Orchestrator) dispatch(
	ctx context.Context,
	preferred string,
	eligible func(Adapter) bool,
	call func(context.Context, Adapter) (*Response, error),
) (*Response, error) {
	var lastErr error

	for _, b := range o.order(preferred) {
		if eligible != nil && !eligible(b.Adapter) {
			continue
		}

		for attempt := 1; attempt <= b.Retries; attempt++ {
			if attempt > 1 {
				delay := o.backoff << (attempt - 2)
				select {
				case <-time.After(delay):
				case <-ctx.Done():
					return nil, ctx.Err()
				}
			}

			callCtx, cancel := context.WithTimeout(ctx, b.Timeout)
			resp, err := call(callCtx, b.Adapter)
			cancel()

			if err == nil {
				return resp, nil
			}

			// Caller-initiated abandonment: abort, no fallback.
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}

			lastErr = err
			if !IsTransient(err) {
				// Retrying a fatal provider error is pointless;
				// move straight to the next adapter.
				o.logger.Warn("adapter failed",
					"adapter", b.Adapter.Name(),
					"attempt", attempt,
					"error", err)
				break
			}

			o.logger.Debug("transient adapter failure",
				"adapter", b.Adapter.Name(),
				"attempt", attempt,
				"retries", b.Retries,
				"error", err)
		}
	}

	return nil, fmt.Errorf("%w (last error: %v)", ErrAllModelsExhausted, lastErr)
}

// order returns the backends with the preferred adapter moved to the front.
func (o *Orchestrator) order(preferred string) []Backend {
	if preferred == "" {
		return o.backends
	}
	ordered := make([]Backend, 0, len(o.backends))
	for _, b := range o.backends {
		if b.Adapter.Name() == preferred {
			ordered = append(ordered, b)
		}
	}
	if len(ordered) == 0 {
		return o.backends
	}
	for _, b := range o.backends {
		if b.Adapter.Name() != preferred {
			ordered = append(ordered, b)
		}
	}
	return ordered
}
