// Package store provides SQLite-based entry storage for pohchain.
package store

import (
	"errors"
	"time"

	"pohchain/internal/poh"
)

var (
	// ErrNotFound is returned when a chain does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrOutOfOrder is returned when an entry does not extend the
	// stored sequence by exactly one.
	ErrOutOfOrder = errors.New("store: entry out of order")
)

// Chain describes a recorded chain.
type Chain struct {
	ID                 int64
	Name               string
	Hasher             string
	Initial            poh.Digest
	CheckpointInterval time.Duration
	CreatedAt          time.Time
}

// EntryRecord is a stored entry with its position.
type EntryRecord struct {
	ChainID    int64
	Seq        uint64
	Entry      poh.Entry
	RecordedAt time.Time
}
