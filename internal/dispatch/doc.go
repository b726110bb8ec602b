// Package dispatch accepts normalized inbound chat events and runs each one
// through its session's processing pipeline.
//
// Flow per event:
//
//  1. Per-identity rate check (token bucket, fail-fast with ErrRateLimited)
//  2. Resolve or create the session; queue FIFO for its processing token
//  3. Append the user turn to the context window
//  4. Recall relevant memory entries and build the system prompt
//  5. Dispatch to the model orchestrator (Generate or AnalyzeMedia)
//  6. On success: append the assistant turn, remember salient facts,
//     record the exchange and usage, flatten the reply for delivery
//
// A failed model call leaves the window exactly as it was before dispatch
// plus the triggering user turn — the assistant turn is conditional on
// success. Model exhaustion and unsupported media come back to the caller
// as error-kind response records, not Go errors: they are user-visible,
// recoverable conditions.
//
// The dispatcher assumes its input is already authenticated and parsed; the
// webhook transport is a separate collaborator.
package dispatch
