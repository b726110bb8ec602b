// Package window provides the bounded context window fed to model calls.
//
// Each session owns one Window. Turns are appended in arrival order and the
// running size total never exceeds the configured budget: overflow is
// resolved by dropping whole oldest turns, and a single over-budget newest
// turn is truncated rather than dropped, since it represents the event that
// triggered the call.
//
// The window is deliberately unsynchronized — the session's processing token
// is the single-writer guarantee.
package window
