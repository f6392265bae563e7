package poh

import (
	"context"
	"runtime"
	"sync"
)

// Segment is a run of entries ending at a checkpoint (or at the end of
// the sequence). Start is the digest the segment is replayed from.
type Segment struct {
	Offset  int
	Start   Digest
	Entries []Entry
}

// Segments splits entries after every checkpoint. The first segment
// starts at initial; every later one starts at the claimed ID of the
// entry before it, which is itself checked by the preceding segment.
func Segments(initial Digest, entries []Entry) []Segment {
	var segs []Segment
	start := 0
	cursor := initial
	for i, e := range entries {
		if !e.IsCheckpoint() {
			continue
		}
		segs = append(segs, Segment{Offset: start, Start: cursor, Entries: entries[start : i+1]})
		cursor = e.ID
		start = i + 1
	}
	if start < len(entries) {
		segs = append(segs, Segment{Offset: start, Start: cursor, Entries: entries[start:]})
	}
	return segs
}

// VerifyParallel replays checkpoint-delimited segments concurrently on
// at most workers goroutines (GOMAXPROCS when workers <= 0). The report
// matches what Replay would return for the same input, except that
// Entries and Hashes count the work actually done. If ctx is cancelled
// before all segments finish, Err is ctx.Err().
func (v *Verifier) VerifyParallel(ctx context.Context, initial Digest, entries []Entry, workers int) Report {
	segs := Segments(initial, entries)
	if len(segs) <= 1 || workers == 1 {
		return v.ReplayContext(ctx, initial, entries)
	}
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	results := make([]Report, len(segs))
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	semaphore := make(chan struct{}, workers)

	for i, seg := range segs {
		wg.Add(1)
		go func(idx int, s Segment) {
			defer wg.Done()

			select {
			case semaphore <- struct{}{}:
			case <-ctx.Done():
				results[idx] = Report{FailedIndex: s.Offset, Err: ctx.Err()}
				return
			}
			defer func() { <-semaphore }()

			if err := ctx.Err(); err != nil {
				results[idx] = Report{FailedIndex: s.Offset, Err: err}
				return
			}
			results[idx] = v.replay(ctx, s.Start, s.Entries, s.Offset)
		}(i, seg)
	}
	wg.Wait()

	merged := Report{Valid: true, FailedIndex: -1}
	for _, r := range results {
		merged.Entries += r.Entries
		merged.Hashes += r.Hashes
		if r.Valid {
			continue
		}
		// Segments are in sequence order, so the first failure is the lowest index.
		if merged.Valid {
			merged.Valid = false
			merged.FailedIndex = r.FailedIndex
			merged.Err = r.Err
		}
	}
	if merged.Valid {
		return merged
	}
	if err := ctx.Err(); err != nil && merged.Err == nil {
		merged.Err = err
	}
	return merged
}
