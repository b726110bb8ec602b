// ABOUTME: Store interface and record types for conversation archival.
// ABOUTME: Archives expired sessions and keeps an exchange ledger plus model usage rows.

package store

import (
	"context"
	"time"
)

// Store persists what the engine wants to outlive a session: the transcript
// and memory snapshot of archived sessions, a ledger of exchanges, and model
// token usage for cost accounting.
type Store interface {
	ArchiveSession(ctx context.Context, arc *SessionArchive) error
	SaveExchange(ctx context.Context, ex *Exchange) error
	SaveUsage(ctx context.Context, usage *Usage) error
	RecentExchanges(ctx context.Context, identity string, limit int) ([]*Exchange, error)
	Close() error
}

// ArchiveReason records why a session was archived.
type ArchiveReason string

const (
	ReasonExpired  ArchiveReason = "expired"
	ReasonForced   ArchiveReason = "forced"
	ReasonCapacity ArchiveReason = "capacity"
)

// SessionArchive is the durable snapshot of a session taken when it leaves
// the active registry.
type SessionArchive struct {
	ID           string
	SessionID    string
	Identity     string
	CreatedAt    time.Time
	LastActivity time.Time
	Reason       ArchiveReason
	ArchivedAt   time.Time
	Turns        []ArchivedTurn
	Memories     []ArchivedMemory
}

// ArchivedTurn is one transcript row within an archive.
type ArchivedTurn struct {
	Role      string
	Content   string
	Timestamp time.Time
}

// ArchivedMemory is one memory-pool row within an archive.
type ArchivedMemory struct {
	Fact       string
	Importance float64
	CreatedAt  time.Time
}

// Exchange is one completed user/assistant round trip.
type Exchange struct {
	ID        string
	SessionID string
	Identity  string
	Kind      string // text, image, audio
	Prompt    string
	Reply     string
	ModelUsed string
	CreatedAt time.Time
}

// Usage is a per-call token consumption record.
type Usage struct {
	ID           string
	SessionID    string
	Adapter      string
	Model        string
	InputTokens  int
	OutputTokens int
	CreatedAt    time.Time
}

// NopStore discards everything. Used in tests and for deployments that run
// the engine without persistence.
type NopStore struct{}

func (NopStore) ArchiveSession(context.Context, *SessionArchive) error { return nil }
func (NopStore) SaveExchange(context.Context, *Exchange) error         { return nil }
func (NopStore) SaveUsage(context.Context, *Usage) error               { return nil }
func (NopStore) RecentExchanges(context.Context, string, int) ([]*Exchange, error) {
	return nil, nil
}
func (NopStore) Close() error { return nil }
