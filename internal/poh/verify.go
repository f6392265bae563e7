package poh

import (
	"context"
	"errors"
	"fmt"
)

// ErrMalformedEntry marks an entry that claims zero hash steps.
var ErrMalformedEntry = errors.New("poh: malformed entry")

// MalformedEntryError identifies the offending entry.
type MalformedEntryError struct {
	Index     int
	NumHashes uint64
}

func (e *MalformedEntryError) Error() string {
	return fmt.Sprintf("poh: malformed entry %d: num_hashes is %d", e.Index, e.NumHashes)
}

func (e *MalformedEntryError) Unwrap() error {
	return ErrMalformedEntry
}

// Report holds the outcome of replaying an entry sequence.
type Report struct {
	// Valid is true only if every entry matched.
	Valid bool

	// FailedIndex is the first entry that did not verify, or -1.
	FailedIndex int

	// Entries is the number of entries replayed successfully.
	Entries int

	// Hashes is the number of hash operations performed.
	Hashes uint64

	// Err is set when an entry was malformed or the replay was
	// cancelled. Valid is then false.
	Err error
}

// Cancelled reports whether the replay stopped because its context was
// done. FailedIndex is then the first entry not checked, not a mismatch.
func (r Report) Cancelled() bool {
	return errors.Is(r.Err, context.Canceled) || errors.Is(r.Err, context.DeadlineExceeded)
}

// cancelCheckInterval is how many hash steps run between context checks.
const cancelCheckInterval = 1 << 14

// Verifier replays entry sequences with a fixed hash primitive.
// It holds no mutable state and is safe for concurrent use.
type Verifier struct {
	hasher Hasher
}

// NewVerifier returns a Verifier for h. A nil h selects SHA256.
func NewVerifier(h Hasher) *Verifier {
	if h == nil {
		h = SHA256{}
	}
	return &Verifier{hasher: h}
}

// Verify replays entries from initial using SHA-256.
func Verify(initial Digest, entries []Entry) (bool, error) {
	return NewVerifier(nil).Verify(initial, entries)
}

// Verify reports whether entries could only have been produced by a
// chain starting at initial. A mismatch returns false with a nil error;
// a malformed entry returns false with a *MalformedEntryError.
func (v *Verifier) Verify(initial Digest, entries []Entry) (bool, error) {
	r := v.Replay(initial, entries)
	return r.Valid, r.Err
}

// Replay verifies entries sequentially and reports diagnostics. It stops
// at the first malformed or mismatching entry.
func (v *Verifier) Replay(initial Digest, entries []Entry) Report {
	return v.replay(context.Background(), initial, entries, 0)
}

// ReplayContext is Replay with cancellation. If ctx is done before every
// entry has been checked, the report carries ctx.Err().
func (v *Verifier) ReplayContext(ctx context.Context, initial Digest, entries []Entry) Report {
	return v.replay(ctx, initial, entries, 0)
}

// replay verifies entries starting at cursor. Indices in the report are
// offset by base so segments can be merged back into one sequence.
func (v *Verifier) replay(ctx context.Context, cursor Digest, entries []Entry, base int) Report {
	r := Report{FailedIndex: -1}
	cancelled := func(i int) bool {
		if err := ctx.Err(); err != nil {
			r.FailedIndex = base + i
			r.Err = err
			return true
		}
		return false
	}

	for i, e := range entries {
		if cancelled(i) {
			return r
		}
		if e.NumHashes == 0 {
			r.FailedIndex = base + i
			r.Err = &MalformedEntryError{Index: base + i, NumHashes: e.NumHashes}
			return r
		}

		for n := uint64(1); n < e.NumHashes; n++ {
			cursor = v.hasher.Hash(cursor[:])
			if n%cancelCheckInterval == 0 && cancelled(i) {
				return r
			}
		}

		var id Digest
		if e.Mixin != nil {
			id = v.hasher.HashMany(cursor[:], e.Mixin[:])
		} else {
			id = v.hasher.Hash(cursor[:])
		}
		r.Hashes += e.NumHashes

		if id != e.ID {
			r.FailedIndex = base + i
			return r
		}
		cursor = id
		r.Entries++
	}

	r.Valid = true
	return r
}
