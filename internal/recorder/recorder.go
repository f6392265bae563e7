// Package recorder runs a Proof of History chain on a single goroutine.
//
// The recorder hashes continuously, binds mixins submitted through Record
// as soon as they arrive, and emits a checkpoint whenever the chain's
// interval elapses. Every emitted entry is handed to a Sink in order.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"pohchain/internal/logging"
	"pohchain/internal/poh"
)

var (
	// ErrStopped is returned by Record once the recorder has exited.
	ErrStopped = errors.New("recorder: stopped")

	// ErrRunning is returned when Run is called twice.
	ErrRunning = errors.New("recorder: already running")
)

// Config configures a Recorder.
type Config struct {
	// HashesPerBatch is the number of advances between request checks.
	HashesPerBatch uint64

	// QueueSize bounds the number of pending Record calls.
	QueueSize int

	// EmitEmptyCheckpoints emits checkpoints even when no hashes were
	// performed since the previous entry.
	EmitEmptyCheckpoints bool

	Logger *logging.Logger
}

// DefaultConfig returns the recorder defaults.
func DefaultConfig() Config {
	return Config{
		HashesPerBatch: 1024,
		QueueSize:      256,
	}
}

// Stats is a snapshot of recorder counters.
type Stats struct {
	Hashes      uint64
	Entries     uint64
	Checkpoints uint64
	Records     uint64
}

type result struct {
	entry poh.Entry
	err   error
}

type request struct {
	mixin poh.Digest
	reply chan result
}

// Recorder owns a chain and serializes every operation on it.
type Recorder struct {
	chain  *poh.Chain
	sink   Sink
	config Config
	log    *logging.Logger

	requests chan request
	done     chan struct{}
	running  atomic.Bool

	seq uint64

	hashes      atomic.Uint64
	entries     atomic.Uint64
	checkpoints atomic.Uint64
	records     atomic.Uint64
}

// New creates a recorder for chain. The recorder takes ownership of the
// chain: callers must not use it while Run is active.
func New(chain *poh.Chain, sink Sink, config Config) *Recorder {
	defaults := DefaultConfig()
	if config.HashesPerBatch == 0 {
		config.HashesPerBatch = defaults.HashesPerBatch
	}
	if config.QueueSize <= 0 {
		config.QueueSize = defaults.QueueSize
	}
	log := config.Logger
	if log == nil {
		log = logging.Default()
	}

	return &Recorder{
		chain:    chain,
		sink:     sink,
		config:   config,
		log:      log.WithComponent("recorder"),
		requests: make(chan request, config.QueueSize),
		done:     make(chan struct{}),
	}
}

// Run drives the chain until ctx is cancelled or the sink fails. It
// returns nil on cancellation and the sink error otherwise.
//
// Sink appends use a context detached from ctx's cancellation, so an
// entry that has been produced is always delivered.
func (r *Recorder) Run(ctx context.Context) error {
	if !r.running.CompareAndSwap(false, true) {
		return ErrRunning
	}
	defer close(r.done)

	r.log.Info("recorder started",
		"hasher", r.chain.Hasher().Name(),
		"initial", r.chain.Head().String(),
		"checkpoint_interval", r.chain.CheckpointInterval(),
		"batch", r.config.HashesPerBatch)

	sinkCtx := context.WithoutCancel(ctx)

	for {
		if ctx.Err() != nil {
			r.log.Info("recorder stopped", "entries", r.entries.Load(), "hashes", r.hashes.Load())
			return nil
		}

		select {
		case req := <-r.requests:
			e := r.chain.Bind(req.mixin)
			r.hashes.Add(1)
			r.records.Add(1)
			if err := r.emit(sinkCtx, e); err != nil {
				req.reply <- result{err: err}
				return err
			}
			req.reply <- result{entry: e}

		default:
			r.chain.AdvanceN(r.config.HashesPerBatch)
			r.hashes.Add(r.config.HashesPerBatch)
		}

		if err := r.maybeCheckpoint(sinkCtx); err != nil {
			return err
		}
	}
}

func (r *Recorder) maybeCheckpoint(ctx context.Context) error {
	if r.chain.Pending() == 0 && !r.config.EmitEmptyCheckpoints {
		return nil
	}
	e, ok := r.chain.Checkpoint()
	if !ok {
		return nil
	}
	r.checkpoints.Add(1)
	return r.emit(ctx, e)
}

func (r *Recorder) emit(ctx context.Context, e poh.Entry) error {
	if err := r.sink.Append(ctx, r.seq, e); err != nil {
		r.log.Error("sink append failed", "seq", r.seq, "error", err)
		return fmt.Errorf("append entry %d: %w", r.seq, err)
	}
	r.log.Debug("entry emitted",
		"seq", r.seq,
		"num_hashes", e.NumHashes,
		"checkpoint", e.IsCheckpoint())
	r.seq++
	r.entries.Add(1)
	return nil
}

// Record binds mixin into the chain and returns the resulting entry once
// the sink has accepted it.
func (r *Recorder) Record(ctx context.Context, mixin poh.Digest) (poh.Entry, error) {
	req := request{mixin: mixin, reply: make(chan result, 1)}

	select {
	case <-r.done:
		return poh.Entry{}, ErrStopped
	default:
	}

	select {
	case r.requests <- req:
	case <-r.done:
		return poh.Entry{}, ErrStopped
	case <-ctx.Done():
		return poh.Entry{}, ctx.Err()
	}

	select {
	case res := <-req.reply:
		return res.entry, res.err
	case <-r.done:
		// The loop may have answered just before exiting.
		select {
		case res := <-req.reply:
			return res.entry, res.err
		default:
			return poh.Entry{}, ErrStopped
		}
	case <-ctx.Done():
		return poh.Entry{}, ctx.Err()
	}
}

// Done is closed when Run returns.
func (r *Recorder) Done() <-chan struct{} {
	return r.done
}

// Stats returns the current counters.
func (r *Recorder) Stats() Stats {
	return Stats{
		Hashes:      r.hashes.Load(),
		Entries:     r.entries.Load(),
		Checkpoints: r.checkpoints.Load(),
		Records:     r.records.Load(),
	}
}
