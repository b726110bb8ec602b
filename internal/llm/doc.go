// Package llm binds the engine to interchangeable model backends.
//
// # Adapters
//
// An Adapter normalizes one provider's generate/analyze calls into the
// uniform Request/Response shape:
//
//	adapter := llm.NewOpenAIAdapter(llm.Options{APIKey: key, Model: "gpt-4o"})
//	resp, err := adapter.Generate(ctx, req)
//
// Bundled adapters: OpenAI (chat completions), Anthropic (messages), and
// Gemini (generateContent). Each classifies timeouts, rate-limit signals,
// and 5xx responses as TransientError; everything else is fatal for that
// adapter.
//
// # Orchestrator
//
// The Orchestrator owns dispatch policy across adapters:
//
//	orch, err := llm.NewOrchestrator(backends, backoff, logger)
//	resp, err := orch.Generate(ctx, req, session.ModelPreference)
//
// Per call: the preferred adapter is tried first, each adapter gets its
// configured attempt count with exponential backoff between attempts, and
// failures fall over to the next adapter in priority order. Callers only
// ever see a successful Response, ErrAllModelsExhausted,
// ErrUnsupportedMedia, or their own context error — raw provider errors
// never escape.
//
// Retries and fallback are sequential, never speculative, to bound API cost.
// Caller cancellation aborts the in-flight attempt without triggering
// fallback: abandonment is not a provider failure.
package llm
