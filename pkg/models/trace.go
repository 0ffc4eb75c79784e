package models

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// TraceEntry is one routed worker step.
type TraceEntry struct {
	Role      string          `json:"role"`
	Timestamp time.Time       `json:"timestamp"`
	Duration  time.Duration   `json:"duration"`
	Cost      float64         `json:"cost"`
	Decision  RoutingDecision `json:"decision"`
	// Summary is a truncated copy of the worker's output.
	Summary string `json:"summary,omitempty"`
}

// ExecutionTrace is the append-only history of a routing loop.
// Only the router appends; readers get copies.
type ExecutionTrace struct {
	mu      sync.RWMutex
	entries []TraceEntry
}

// NewExecutionTrace creates an empty trace.
func NewExecutionTrace() *ExecutionTrace {
	return &ExecutionTrace{}
}

// Append adds an entry to the end of the trace.
func (t *ExecutionTrace) Append(e TraceEntry) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = append(t.entries, e)
}

// Len returns the number of entries.
func (t *ExecutionTrace) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}

// Entries returns a copy of all entries in order.
func (t *ExecutionTrace) Entries() []TraceEntry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]TraceEntry, len(t.entries))
	copy(out, t.entries)
	return out
}

// TotalCost sums the cost of every entry.
func (t *ExecutionTrace) TotalCost() float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var total float64
	for _, e := range t.entries {
		total += e.Cost
	}
	return total
}

// Condensed renders the last maxEntries entries as the context handed to the
// next worker. Earlier entries are summarized as a count.
func (t *ExecutionTrace) Condensed(maxEntries int) string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if len(t.entries) == 0 {
		return "(no previous steps)"
	}
	start := 0
	if maxEntries > 0 && len(t.entries) > maxEntries {
		start = len(t.entries) - maxEntries
	}

	var b strings.Builder
	if start > 0 {
		fmt.Fprintf(&b, "(%d earlier steps omitted)\n", start)
	}
	for i := start; i < len(t.entries); i++ {
		e := t.entries[i]
		fmt.Fprintf(&b, "%d. [%s] -> %s", i+1, e.Role, e.Decision)
		if e.Decision.Reason != "" {
			fmt.Fprintf(&b, " (%s)", e.Decision.Reason)
		}
		b.WriteString("\n")
		if e.Summary != "" {
			fmt.Fprintf(&b, "   %s\n", e.Summary)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}
