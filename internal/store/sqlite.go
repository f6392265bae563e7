package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"pohchain/internal/poh"
)

// Schema for the pohchain entry store.
const schema = `
CREATE TABLE IF NOT EXISTS chains (
    id                      INTEGER PRIMARY KEY AUTOINCREMENT,
    name                    TEXT NOT NULL UNIQUE,
    hasher                  TEXT NOT NULL,
    initial                 BLOB NOT NULL,
    checkpoint_interval_ns  INTEGER NOT NULL,
    created_at              INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS entries (
    chain_id        INTEGER NOT NULL REFERENCES chains(id),
    seq             INTEGER NOT NULL,
    num_hashes      INTEGER NOT NULL,
    entry_id        BLOB NOT NULL,
    mixin           BLOB,
    recorded_at     INTEGER NOT NULL,
    PRIMARY KEY (chain_id, seq)
);

CREATE INDEX IF NOT EXISTS idx_entries_mixin ON entries(mixin);
`

// DefaultBusyTimeout is used by Open.
const DefaultBusyTimeout = 5 * time.Second

// Store represents the SQLite entry store.
type Store struct {
	db *sql.DB
}

// Open opens or creates the SQLite database at the given path.
func Open(path string) (*Store, error) {
	return OpenWithTimeout(path, DefaultBusyTimeout)
}

// OpenWithTimeout opens the database with the given busy timeout.
func OpenWithTimeout(path string, busyTimeout time.Duration) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	dsn := fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=%d", path, busyTimeout.Milliseconds())
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// CreateChain registers a new chain and returns it.
func (s *Store) CreateChain(ctx context.Context, name, hasher string, initial poh.Digest, interval time.Duration) (*Chain, error) {
	now := time.Now()
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO chains (name, hasher, initial, checkpoint_interval_ns, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		name, hasher, initial[:], int64(interval), now.UnixNano(),
	)
	if err != nil {
		return nil, fmt.Errorf("insert chain: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("get last insert id: %w", err)
	}

	return &Chain{
		ID:                 id,
		Name:               name,
		Hasher:             hasher,
		Initial:            initial,
		CheckpointInterval: interval,
		CreatedAt:          time.Unix(0, now.UnixNano()),
	}, nil
}

const chainColumns = `id, name, hasher, initial, checkpoint_interval_ns, created_at`

func scanChain(row interface{ Scan(...any) error }) (*Chain, error) {
	var (
		c          Chain
		initial    []byte
		intervalNs int64
		createdNs  int64
	)
	if err := row.Scan(&c.ID, &c.Name, &c.Hasher, &initial, &intervalNs, &createdNs); err != nil {
		return nil, err
	}
	copy(c.Initial[:], initial)
	c.CheckpointInterval = time.Duration(intervalNs)
	c.CreatedAt = time.Unix(0, createdNs)
	return &c, nil
}

// GetChain retrieves a chain by ID.
func (s *Store) GetChain(ctx context.Context, id int64) (*Chain, error) {
	c, err := scanChain(s.db.QueryRowContext(ctx, `SELECT `+chainColumns+` FROM chains WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("chain %d: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("get chain: %w", err)
	}
	return c, nil
}

// ChainByName retrieves a chain by its unique name.
func (s *Store) ChainByName(ctx context.Context, name string) (*Chain, error) {
	c, err := scanChain(s.db.QueryRowContext(ctx, `SELECT `+chainColumns+` FROM chains WHERE name = ?`, name))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("chain %q: %w", name, ErrNotFound)
		}
		return nil, fmt.Errorf("get chain by name: %w", err)
	}
	return c, nil
}

// ListChains returns all chains ordered by creation.
func (s *Store) ListChains(ctx context.Context) ([]*Chain, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+chainColumns+` FROM chains ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list chains: %w", err)
	}
	defer rows.Close()

	var chains []*Chain
	for rows.Next() {
		c, err := scanChain(rows)
		if err != nil {
			return nil, fmt.Errorf("scan chain: %w", err)
		}
		chains = append(chains, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chains: %w", err)
	}
	return chains, nil
}

// AppendEntry stores e at position seq. seq must equal the number of
// entries already stored for the chain.
func (s *Store) AppendEntry(ctx context.Context, chainID int64, seq uint64, e poh.Entry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var next int64
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq) + 1, 0) FROM entries WHERE chain_id = ?`, chainID,
	).Scan(&next); err != nil {
		return fmt.Errorf("query next seq: %w", err)
	}
	if uint64(next) != seq {
		return fmt.Errorf("%w: chain %d expects seq %d, got %d", ErrOutOfOrder, chainID, next, seq)
	}

	var mixin []byte
	if e.Mixin != nil {
		mixin = e.Mixin[:]
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO entries (chain_id, seq, num_hashes, entry_id, mixin, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		chainID, int64(seq), int64(e.NumHashes), e.ID[:], mixin, time.Now().UnixNano(),
	); err != nil {
		return fmt.Errorf("insert entry: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func scanEntry(row interface{ Scan(...any) error }) (*EntryRecord, error) {
	var (
		r          EntryRecord
		seq        int64
		numHashes  int64
		id, mixin  []byte
		recordedNs int64
	)
	if err := row.Scan(&r.ChainID, &seq, &numHashes, &id, &mixin, &recordedNs); err != nil {
		return nil, err
	}
	r.Seq = uint64(seq)
	r.Entry.NumHashes = uint64(numHashes)
	copy(r.Entry.ID[:], id)
	if mixin != nil {
		var m poh.Digest
		copy(m[:], mixin)
		r.Entry.Mixin = &m
	}
	r.RecordedAt = time.Unix(0, recordedNs)
	return &r, nil
}

const entryColumns = `chain_id, seq, num_hashes, entry_id, mixin, recorded_at`

// Entries returns every entry of a chain in sequence order.
func (s *Store) Entries(ctx context.Context, chainID int64) ([]poh.Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+entryColumns+` FROM entries WHERE chain_id = ? ORDER BY seq ASC`, chainID)
	if err != nil {
		return nil, fmt.Errorf("query entries: %w", err)
	}
	defer rows.Close()

	entries := []poh.Entry{}
	for rows.Next() {
		r, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		entries = append(entries, r.Entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entries: %w", err)
	}
	return entries, nil
}

// EntryCount returns the number of stored entries for a chain.
func (s *Store) EntryCount(ctx context.Context, chainID int64) (uint64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM entries WHERE chain_id = ?`, chainID,
	).Scan(&n); err != nil {
		return 0, fmt.Errorf("count entries: %w", err)
	}
	return uint64(n), nil
}

// LastEntry returns the most recent entry of a chain.
func (s *Store) LastEntry(ctx context.Context, chainID int64) (*EntryRecord, error) {
	r, err := scanEntry(s.db.QueryRowContext(ctx,
		`SELECT `+entryColumns+` FROM entries WHERE chain_id = ? ORDER BY seq DESC LIMIT 1`, chainID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("chain %d has no entries: %w", chainID, ErrNotFound)
		}
		return nil, fmt.Errorf("get last entry: %w", err)
	}
	return r, nil
}

// FindMixin returns every stored entry that bound mixin.
func (s *Store) FindMixin(ctx context.Context, mixin poh.Digest) ([]*EntryRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+entryColumns+` FROM entries WHERE mixin = ? ORDER BY chain_id, seq`, mixin[:])
	if err != nil {
		return nil, fmt.Errorf("query mixin: %w", err)
	}
	defer rows.Close()

	var records []*EntryRecord
	for rows.Next() {
		r, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entries: %w", err)
	}
	return records, nil
}

// ChainSink appends recorder output to one stored chain.
type ChainSink struct {
	store   *Store
	chainID int64
}

// Sink returns a sink writing to the given chain.
func (s *Store) Sink(chainID int64) *ChainSink {
	return &ChainSink{store: s, chainID: chainID}
}

// Append stores the entry at position seq.
func (cs *ChainSink) Append(ctx context.Context, seq uint64, e poh.Entry) error {
	return cs.store.AppendEntry(ctx, cs.chainID, seq, e)
}
