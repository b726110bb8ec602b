// ABOUTME: Bounded, ordered turn history used as model input for one session.
// ABOUTME: Enforces the size budget by evicting oldest turns, never by over-accepting.

package window

import (
	"errors"

	"github.com/parleybot/parley/internal/llm"
)

// ErrInvalidBudget indicates a non-positive budget, which is a configuration
// error rejected at construction.
var ErrInvalidBudget = errors.New("context budget must be positive")

// Window holds one session's rolling turn history. It is not internally
// locked: a window belongs to exactly one session and is only touched while
// that session's processing token is held.
type Window struct {
	turns  []llm.Turn
	used   int
	budget int
}

// New creates an empty window with the given budget. An empty window is
// valid; a zero or negative budget is not.
func New(budget int) (*Window, error) {
	if budget <= 0 {
		return nil, ErrInvalidBudget
	}
	return &Window{budget: budget}, nil
}

// Append adds a turn and restores the budget invariant. Whole oldest turns
// are dropped first. If the new turn alone exceeds the budget its content is
// truncated to fit — the newest turn represents the triggering event and is
// never dropped entirely.
func (w *Window) Append(t llm.Turn) {
	if t.Size <= 0 {
		t.Size = estimateSize(t)
	}

	if t.Size > w.budget {
		t.Content = truncateRunes(t.Content, w.budget)
		t.Size = w.budget
	}

	w.turns = append(w.turns, t)
	w.used += t.Size

	for w.used > w.budget && len(w.turns) > 1 {
		w.used -= w.turns[0].Size
		w.turns[0] = llm.Turn{} // release content for GC
		w.turns = w.turns[1:]
	}
}

// Snapshot returns a consistent point-in-time copy of the window for use as
// a model prompt. It never mutates state.
func (w *Window) Snapshot() []llm.Turn {
	out := make([]llm.Turn, len(w.turns))
	copy(out, w.turns)
	return out
}

// BudgetUsed returns the running size total of the window.
func (w *Window) BudgetUsed() int { return w.used }

// BudgetRemaining returns how much of the budget is free.
func (w *Window) BudgetRemaining() int { return w.budget - w.used }

// Budget returns the configured maximum.
func (w *Window) Budget() int { return w.budget }

// Len returns the number of turns currently held.
func (w *Window) Len() int { return len(w.turns) }

// estimateSize derives a budget cost for turns that carry no explicit size.
// The unit is runes of visible content; media turns cost their description
// plus a flat surcharge for the payload reference.
func estimateSize(t llm.Turn) int {
	n := runeLen(t.Content)
	if t.Media != nil {
		n += runeLen(t.Media.Description) + 16
	}
	if n == 0 {
		n = 1
	}
	return n
}

func runeLen(s string) int {
	n := 0
	for range s {
		n++
	}
	return n
}

func truncateRunes(s string, limit int) string {
	if limit <= 0 {
		return ""
	}
	i := 0
	for idx := range s {
		if i == limit {
			return s[:idx]
		}
		i++
	}
	return s
}
