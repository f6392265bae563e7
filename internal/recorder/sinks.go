package recorder

import (
	"context"
	"sync"

	"pohchain/internal/poh"
)

// Sink receives every entry the recorder emits, in order. seq is the
// zero-based position of the entry in the chain's output.
type Sink interface {
	Append(ctx context.Context, seq uint64, e poh.Entry) error
}

// MemorySink keeps emitted entries in memory.
type MemorySink struct {
	mu      sync.Mutex
	entries []poh.Entry
}

// NewMemorySink returns an empty memory sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

// Append records e. seq is implied by the append order.
func (m *MemorySink) Append(_ context.Context, _ uint64, e poh.Entry) error {
	m.mu.Lock()
	m.entries = append(m.entries, e)
	m.mu.Unlock()
	return nil
}

// Entries returns a copy of the collected entries.
func (m *MemorySink) Entries() []poh.Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]poh.Entry, len(m.entries))
	copy(out, m.entries)
	return out
}

// Len returns the number of collected entries.
func (m *MemorySink) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// MultiSink appends to each sink in turn and stops at the first error.
type MultiSink []Sink

// Append forwards e to every sink.
func (ms MultiSink) Append(ctx context.Context, seq uint64, e poh.Entry) error {
	for _, s := range ms {
		if err := s.Append(ctx, seq, e); err != nil {
			return err
		}
	}
	return nil
}
