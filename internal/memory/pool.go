// ABOUTME: Importance-weighted fact store with a lifecycle independent of the context window.
// ABOUTME: Capacity eviction drops the lowest-importance entry; age expiry is a hard ceiling.

package memory

import (
	"errors"
	"sort"
	"strings"
	"time"
)

// ErrInvalidCapacity indicates a non-positive capacity, rejected at
// construction.
var ErrInvalidCapacity = errors.New("memory capacity must be positive")

// Entry is one remembered fact. Duplicate or near-duplicate facts are
// permitted; deduplication belongs to whatever feeds Remember.
type Entry struct {
	SessionID  string
	Fact       string
	Importance float64 // 0-1
	CreatedAt  time.Time
	LastAccess time.Time
}

// Pool holds the longer-lived memory entries for one session. Like the
// context window it is unsynchronized and relies on the session token for
// single-writer access.
type Pool struct {
	capacity int
	entries  []*Entry
	now      func() time.Time
}

// NewPool creates an empty pool bounded at capacity entries.
func NewPool(capacity int) (*Pool, error) {
	if capacity <= 0 {
		return nil, ErrInvalidCapacity
	}
	return &Pool{capacity: capacity, now: time.Now}, nil
}

// Remember inserts an entry. When the pool is over capacity the entry with
// the lowest importance is evicted, ties broken by oldest last-access. The
// entry just inserted competes like any other: it is only evicted if it is
// itself the lowest-scored.
func (p *Pool) Remember(e Entry) {
	now := p.now()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	if e.LastAccess.IsZero() {
		e.LastAccess = e.CreatedAt
	}

	p.entries = append(p.entries, &e)
	for len(p.entries) > p.capacity {
		p.evictLowest()
	}
}

// Recall returns up to limit entries most relevant to the hint, ordered by
// importance descending then recency descending. A non-empty hint filters to
// entries sharing a word with it (case-insensitive). Returned entries get
// their last-access time refreshed, which is what makes retention
// recency-aware.
func (p *Pool) Recall(hint string, limit int) []Entry {
	if limit <= 0 {
		return nil
	}

	words := hintWords(hint)
	matches := make([]*Entry, 0, len(p.entries))
	for _, e := range p.entries {
		if matchesHint(e.Fact, words) {
			matches = append(matches, e)
		}
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Importance != matches[j].Importance {
			return matches[i].Importance > matches[j].Importance
		}
		return matches[i].LastAccess.After(matches[j].LastAccess)
	})

	if len(matches) > limit {
		matches = matches[:limit]
	}

	now := p.now()
	out := make([]Entry, len(matches))
	for i, e := range matches {
		e.LastAccess = now
		out[i] = *e
	}
	return out
}

// hintWords lowercases the hint and keeps words long enough to carry meaning.
// Short function words would match nearly every entry.
func hintWords(hint string) []string {
	fields := strings.Fields(strings.ToLower(hint))
	words := fields[:0]
	for _, w := range fields {
		w = strings.Trim(w, ".,!?;:\"'()")
		if len(w) >= 3 {
			words = append(words, w)
		}
	}
	return words
}

// matchesHint reports whether the fact shares at least one hint word. An
// empty word list matches everything.
func matchesHint(fact string, words []string) bool {
	if len(words) == 0 {
		return true
	}
	fact = strings.ToLower(fact)
	for _, w := range words {
		if strings.Contains(fact, w) {
			return true
		}
	}
	return false
}

// ExpireOlderThan removes entries whose age exceeds the threshold regardless
// of importance and returns how many were removed. This is the hard retention
// ceiling, independent of capacity eviction.
func (p *Pool) ExpireOlderThan(age time.Duration) int {
	cutoff := p.now().Add(-age)
	kept := p.entries[:0]
	removed := 0
	for _, e := range p.entries {
		if e.CreatedAt.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	for i := len(kept); i < len(p.entries); i++ {
		p.entries[i] = nil
	}
	p.entries = kept
	return removed
}

// Len returns the number of entries currently held.
func (p *Pool) Len() int { return len(p.entries) }

// Snapshot returns a copy of all entries, used when archiving a session.
func (p *Pool) Snapshot() []Entry {
	out := make([]Entry, len(p.entries))
	for i, e := range p.entries {
		out[i] = *e
	}
	return out
}

// evictLowest removes the entry with the lowest importance, breaking ties by
// oldest last-access time.
func (p *Pool) evictLowest() {
	if len(p.entries) == 0 {
		return
	}
	victim := 0
	for i, e := range p.entries[1:] {
		idx := i + 1
		v := p.entries[victim]
		if e.Importance < v.Importance ||
			(e.Importance == v.Importance && e.LastAccess.Before(v.LastAccess)) {
			victim = idx
		}
	}
	copy(p.entries[victim:], p.entries[victim+1:])
	p.entries[len(p.entries)-1] = nil
	p.entries = p.entries[:len(p.entries)-1]
}
