// Package session owns per-identity conversational state and its lifecycle.
//
// # Concurrency model
//
// Many sessions are processed concurrently; work belonging to one session is
// strictly serial. Each Session carries a processing token (a one-slot
// channel); every operation that touches the session's context window or
// memory pool runs while holding it. Callers queue in FIFO arrival order.
// TryWithSession is the non-blocking variant and fails with ErrSessionBusy.
//
// The registry (identity -> Session) is a concurrency-safe insert-if-absent
// map. Two concurrent ResolveOrCreate calls for an unseen identity observe
// exactly one created session. The registry lock is only held for map
// operations, never across a model call, so unrelated sessions never block
// each other.
//
// # Lifecycle
//
// Sessions are created on first event, refreshed on every processed event,
// and retired once idle past the configured timeout. Run drives a periodic
// sweep that archives and drops expired sessions; the sweep only acts on
// sessions whose token it can take without blocking, deferring in-flight
// ones to the next pass. Retired sessions are archived to the store before
// leaving the registry.
package session
