// Package poh implements a proof-of-history hash chain.
//
// A Chain repeatedly hashes its own head, so the number of hashes between
// two points is evidence of sequential computation. External event
// digests (mixins) are folded into the head to anchor them at a position
// in that timeline, and periodic checkpoints report the chain's progress
// without any event data.
//
// The resulting entries can be replayed by anyone holding the initial
// digest: see Verify and Verifier.
package poh

import "time"

// Entry is one unit of chain output.
type Entry struct {
	// NumHashes counts the hash steps since the previous entry,
	// including the final combining step for mixin entries.
	NumHashes uint64 `json:"num_hashes" yaml:"num_hashes"`

	// ID is the chain head after those steps.
	ID Digest `json:"id" yaml:"id"`

	// Mixin is the event digest bound at this position. Nil for checkpoints.
	Mixin *Digest `json:"mixin,omitempty" yaml:"mixin,omitempty"`
}

// IsCheckpoint reports whether the entry carries no mixin.
func (e Entry) IsCheckpoint() bool {
	return e.Mixin == nil
}

// Chain is the generator state. It is owned by a single goroutine;
// no method is safe for concurrent use.
type Chain struct {
	head     Digest
	pending  uint64
	lastTick time.Time
	interval time.Duration

	hasher Hasher
	clock  Clock
}

// Option configures a Chain.
type Option func(*Chain)

// WithHasher sets the hash primitive. The default is SHA256.
func WithHasher(h Hasher) Option {
	return func(c *Chain) {
		if h != nil {
			c.hasher = h
		}
	}
}

// WithClock sets the clock used for checkpoint gating.
func WithClock(clock Clock) Option {
	return func(c *Chain) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// New creates a chain starting at initial. A checkpointInterval of zero
// or less disables checkpoints.
func New(initial Digest, checkpointInterval time.Duration, opts ...Option) *Chain {
	c := &Chain{
		head:     initial,
		interval: checkpointInterval,
		hasher:   SHA256{},
		clock:    SystemClock{},
	}
	for _, opt := range opts {
		opt(c)
	}
	c.lastTick = c.clock.Now()
	return c
}

// Advance performs one plain hash step.
func (c *Chain) Advance() {
	c.head = c.hasher.Hash(c.head[:])
	c.pending++
}

// AdvanceN performs n plain hash steps.
func (c *Chain) AdvanceN(n uint64) {
	for i := uint64(0); i < n; i++ {
		c.head = c.hasher.Hash(c.head[:])
	}
	c.pending += n
}

// Bind folds mixin into the head and returns the entry anchoring it.
// The combining step counts as one more hash.
func (c *Chain) Bind(mixin Digest) Entry {
	numHashes := c.pending + 1
	c.pending = 0

	c.head = c.hasher.HashMany(c.head[:], mixin[:])

	m := mixin
	return Entry{
		NumHashes: numHashes,
		ID:        c.head,
		Mixin:     &m,
	}
}

// Checkpoint emits a mixin-less entry once the checkpoint interval has
// elapsed since the previous one. The head is reported as is, not
// hashed again. The second return value is false when checkpoints are
// disabled or the interval has not elapsed; state is then unchanged.
//
// A checkpoint with NumHashes == 0 is returned when no advance happened
// since the last entry.
func (c *Chain) Checkpoint() (Entry, bool) {
	if c.interval <= 0 {
		return Entry{}, false
	}
	if c.clock.Since(c.lastTick) < c.interval {
		return Entry{}, false
	}

	c.lastTick = c.clock.Now()
	e := Entry{
		NumHashes: c.pending,
		ID:        c.head,
	}
	c.pending = 0
	return e, true
}

// Head returns the current chain head.
func (c *Chain) Head() Digest {
	return c.head
}

// Pending returns the number of advances since the last emitted entry.
func (c *Chain) Pending() uint64 {
	return c.pending
}

// Hasher returns the chain's hash primitive.
func (c *Chain) Hasher() Hasher {
	return c.hasher
}

// CheckpointInterval returns the configured interval, zero if disabled.
func (c *Chain) CheckpointInterval() time.Duration {
	if c.interval <= 0 {
		return 0
	}
	return c.interval
}

// Snapshot returns an independent copy of the chain. Work done on the
// copy does not affect the original.
func (c *Chain) Snapshot() *Chain {
	cp := *c
	return &cp
}
