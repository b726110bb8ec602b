// Package store persists conversation state that outlives sessions.
//
// The engine keeps live state in memory; this package is the durable tail:
//
//   - session_archives (+ archived_turns, archived_memories): snapshot taken
//     when the sweeper or an operator retires a session
//   - exchanges: ledger of completed user/assistant round trips
//   - model_usage: per-call token accounting
//
// SQLiteStore is the production implementation (modernc.org/sqlite, WAL).
// NopStore satisfies the interface for tests and persistence-free runs.
package store
