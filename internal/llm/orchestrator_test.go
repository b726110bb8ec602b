// ABOUTME: Tests for orchestrator dispatch: retry, backoff, failover, cancellation.
// ABOUTME: Uses scripted fake adapters; no network involved.

package llm

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeAdapter returns scripted results in order, then repeats the last one.
type fakeAdapter struct {
	mu      sync.Mutex
	name    string
	media   []MediaKind
	results []fakeResult
	calls   int
	block   time.Duration // sleep before answering, honors ctx
}

type fakeResult struct {
	resp *Response
	err  error
}

func (f *fakeAdapter) Name() string { return f.name }

func (f *fakeAdapter) Supports(kind MediaKind) bool {
	for _, k := range f.media {
		if k == kind {
			return true
		}
	}
	return false
}

func (f *fakeAdapter) next(ctx context.Context) (*Response, error) {
	f.mu.Lock()
	idx := f.calls
	f.calls++
	if idx >= len(f.results) {
		idx = len(f.results) - 1
	}
	r := f.results[idx]
	block := f.block
	f.mu.Unlock()

	if block > 0 {
		select {
		case <-time.After(block):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return r.resp, r.err
}

func (f *fakeAdapter) Generate(ctx context.Context, _ Request) (*Response, error) {
	return f.next(ctx)
}

func (f *fakeAdapter) AnalyzeMedia(ctx context.Context, _ Media, _ string) (*Response, error) {
	return f.next(ctx)
}

func (f *fakeAdapter) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func ok(name string) fakeResult {
	return fakeResult{resp: &Response{Text: "reply from " + name, Adapter: name}}
}

func fail() fakeResult {
	return fakeResult{err: transient("simulated provider failure")}
}

func newTestOrchestrator(t *testing.T, backends ...Backend) *Orchestrator {
	t.Helper()
	o, err := NewOrchestrator(backends, time.Millisecond, nil)
	require.NoError(t, err)
	return o
}

func backend(a Adapter, retries int) Backend {
	return Backend{Adapter: a, Timeout: time.Second, Retries: retries}
}

func TestNewOrchestrator_RequiresAdapters(t *testing.T) {
	_, err := NewOrchestrator(nil, time.Millisecond, nil)
	assert.ErrorIs(t, err, ErrNoAdapters)
}

func TestNewOrchestrator_RejectsInvalidPolicy(t *testing.T) {
	a := &fakeAdapter{name: "a", results: []fakeResult{ok("a")}}

	_, err := NewOrchestrator([]Backend{{Adapter: a, Timeout: 0, Retries: 1}}, 0, nil)
	assert.Error(t, err)

	_, err = NewOrchestrator([]Backend{{Adapter: a, Timeout: time.Second, Retries: 0}}, 0, nil)
	assert.Error(t, err)
}

func TestOrchestrator_Generate_FirstAdapterSucceeds(t *testing.T) {
	a := &fakeAdapter{name: "a", results: []fakeResult{ok("a")}}
	b := &fakeAdapter{name: "b", results: []fakeResult{ok("b")}}
	o := newTestOrchestrator(t, backend(a, 2), backend(b, 2))

	resp, err := o.Generate(context.Background(), Request{}, "")
	require.NoError(t, err)
	assert.Equal(t, "a", resp.Adapter)
	assert.Equal(t, 0, b.callCount())
}

// Failover property: A exhausts its retries, B succeeds; the response is
// marked as served by B and carries no trace of A's failures.
func TestOrchestrator_Generate_FailsOverAfterRetries(t *testing.T) {
	a := &fakeAdapter{name: "a", results: []fakeResult{fail(), fail()}}
	b := &fakeAdapter{name: "b", results: []fakeResult{ok("b")}}
	o := newTestOrchestrator(t, backend(a, 2), backend(b, 2))

	resp, err := o.Generate(context.Background(), Request{}, "")
	require.NoError(t, err)
	assert.Equal(t, "b", resp.Adapter)
	assert.Equal(t, 2, a.callCount())
	assert.Equal(t, 1, b.callCount())
}

func TestOrchestrator_Generate_RetriesSameAdapterFirst(t *testing.T) {
	a := &fakeAdapter{name: "a", results: []fakeResult{fail(), ok("a")}}
	b := &fakeAdapter{name: "b", results: []fakeResult{ok("b")}}
	o := newTestOrchestrator(t, backend(a, 3), backend(b, 1))

	resp, err := o.Generate(context.Background(), Request{}, "")
	require.NoError(t, err)
	assert.Equal(t, "a", resp.Adapter)
	assert.Equal(t, 2, a.callCount())
	assert.Equal(t, 0, b.callCount())
}

func TestOrchestrator_Generate_AllExhausted(t *testing.T) {
	a := &fakeAdapter{name: "a", results: []fakeResult{fail()}}
	b := &fakeAdapter{name: "b", results: []fakeResult{fail()}}
	o := newTestOrchestrator(t, backend(a, 2), backend(b, 2))

	_, err := o.Generate(context.Background(), Request{}, "")
	assert.ErrorIs(t, err, ErrAllModelsExhausted)
	assert.Equal(t, 2, a.callCount())
	assert.Equal(t, 2, b.callCount())
}

func TestOrchestrator_Generate_NonTransientSkipsRetries(t *testing.T) {
	fatal := fakeResult{err: errors.New("invalid api key")}
	a := &fakeAdapter{name: "a", results: []fakeResult{fatal}}
	b := &fakeAdapter{name: "b", results: []fakeResult{ok("b")}}
	o := newTestOrchestrator(t, backend(a, 5), backend(b, 1))

	resp, err := o.Generate(context.Background(), Request{}, "")
	require.NoError(t, err)
	assert.Equal(t, "b", resp.Adapter)
	assert.Equal(t, 1, a.callCount(), "fatal errors must not be retried")
}

func TestOrchestrator_Generate_PreferredAdapterTriedFirst(t *testing.T) {
	a := &fakeAdapter{name: "a", results: []fakeResult{ok("a")}}
	b := &fakeAdapter{name: "b", results: []fakeResult{ok("b")}}
	o := newTestOrchestrator(t, backend(a, 1), backend(b, 1))

	resp, err := o.Generate(context.Background(), Request{}, "b")
	require.NoError(t, err)
	assert.Equal(t, "b", resp.Adapter)
	assert.Equal(t, 0, a.callCount())
}

func TestOrchestrator_Generate_UnknownPreferredFallsBackToPriorityOrder(t *testing.T) {
	a := &fakeAdapter{name: "a", results: []fakeResult{ok("a")}}
	o := newTestOrchestrator(t, backend(a, 1))

	resp, err := o.Generate(context.Background(), Request{}, "no-such-adapter")
	require.NoError(t, err)
	assert.Equal(t, "a", resp.Adapter)
}

// Cancellation is caller-initiated abandonment: the in-flight attempt stops
// and no fallback is attempted.
func TestOrchestrator_Generate_CancellationDoesNotTriggerFallback(t *testing.T) {
	a := &fakeAdapter{name: "a", results: []fakeResult{ok("a")}, block: time.Second}
	b := &fakeAdapter{name: "b", results: []fakeResult{ok("b")}}
	o := newTestOrchestrator(t, backend(a, 2), backend(b, 2))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := o.Generate(ctx, Request{}, "")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, b.callCount(), "cancellation must not fail over")
}

// Per-call timeout: an attempt exceeding the adapter timeout counts as a
// transient failure and the next adapter serves the request.
func TestOrchestrator_Generate_TimeoutCountsAsTransient(t *testing.T) {
	slow := &fakeAdapter{name: "slow", results: []fakeResult{ok("slow")}, block: time.Second}
	fast := &fakeAdapter{name: "fast", results: []fakeResult{ok("fast")}}
	o := newTestOrchestrator(t,
		Backend{Adapter: slow, Timeout: 10 * time.Millisecond, Retries: 1},
		Backend{Adapter: fast, Timeout: time.Second, Retries: 1},
	)

	resp, err := o.Generate(context.Background(), Request{}, "")
	require.NoError(t, err)
	assert.Equal(t, "fast", resp.Adapter)
}

func TestOrchestrator_AnalyzeMedia_UnsupportedKind(t *testing.T) {
	a := &fakeAdapter{name: "a", media: []MediaKind{MediaImage}, results: []fakeResult{ok("a")}}
	o := newTestOrchestrator(t, backend(a, 1))

	_, err := o.AnalyzeMedia(context.Background(), Media{Kind: MediaAudio}, "describe", "")
	assert.ErrorIs(t, err, ErrUnsupportedMedia)
	assert.Equal(t, 0, a.callCount())
}

func TestOrchestrator_AnalyzeMedia_SkipsNonSupportingAdapters(t *testing.T) {
	textOnly := &fakeAdapter{name: "text-only", results: []fakeResult{ok("text-only")}}
	vision := &fakeAdapter{name: "vision", media: []MediaKind{MediaImage}, results: []fakeResult{ok("vision")}}
	o := newTestOrchestrator(t, backend(textOnly, 1), backend(vision, 1))

	resp, err := o.AnalyzeMedia(context.Background(), Media{Kind: MediaImage}, "describe", "")
	require.NoError(t, err)
	assert.Equal(t, "vision", resp.Adapter)
	assert.Equal(t, 0, textOnly.callCount())
}
