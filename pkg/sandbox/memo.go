package sandbox

import (
	"context"
	"sync"
)

// Memo caches evaluation results by expression text for one pass over an unchanging
// bindings snapshot. Callers hold one Memo per snapshot and Reset it when the snapshot changes.
type Memo struct {
	mu     sync.Mutex
	values map[string]Value
	hits   int
}

func NewMemo() *Memo {
	return &Memo{values: make(map[string]Value)}
}

// Reset drops every cached value
func (m *Memo) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	clear(m.values)
	m.hits = 0
}

// Hits returns how many evaluations were served from the cache since the last Reset
func (m *Memo) Hits() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.hits
}

// Evaluate returns the cached value for expr or evaluates it through sb.
// A nil Memo evaluates without caching.
func (m *Memo) Evaluate(ctx context.Context, sb *Sandbox, expr string, bindings map[string]Value) Value {
	if m == nil {
		return sb.Evaluate(ctx, expr, bindings)
	}

	m.mu.Lock()
	if v, ok := m.values[expr]; ok {
		m.hits++
		m.mu.Unlock()
		return v
	}
	m.mu.Unlock()

	v := sb.Evaluate(ctx, expr, bindings)

	m.mu.Lock()
	m.values[expr] = v
	m.mu.Unlock()
	return v
}
