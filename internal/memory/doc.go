// Package memory provides the per-session pool of longer-lived facts.
//
// The pool lives outside the rolling context window: evicting a turn does
// not forget a fact, and expiring a fact does not shorten the window. Entries
// carry an importance score (0-1) and a last-access time. Capacity overflow
// evicts the lowest-importance entry (ties: oldest access); ExpireOlderThan
// enforces a hard age ceiling regardless of importance.
package memory
