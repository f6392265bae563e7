// Package entrylog reads and writes entry logs: the initial digest of a
// chain together with the entries it emitted, in the form handed to
// verifiers.
//
// JSON and YAML encodings are supported. JSON documents can be checked
// against the embedded JSON Schema before decoding.
package entrylog

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"pohchain/internal/poh"
)

// Version is the current entry log document version.
const Version = 1

// Format selects the document encoding.
type Format int

const (
	// FormatJSON encodes the log as indented JSON.
	FormatJSON Format = iota
	// FormatYAML encodes the log as YAML.
	FormatYAML
)

// String returns the format name.
func (f Format) String() string {
	switch f {
	case FormatYAML:
		return "yaml"
	default:
		return "json"
	}
}

// ParseFormat parses "json" or "yaml".
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "", "json":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	default:
		return FormatJSON, fmt.Errorf("unknown entry log format: %s", s)
	}
}

// FormatFromPath picks the format from a file extension. Unknown
// extensions are treated as JSON.
func FormatFromPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatJSON
	}
}

// ErrUnsupportedVersion is returned for documents from a newer writer.
var ErrUnsupportedVersion = errors.New("entrylog: unsupported version")

// Log is a serialized chain.
type Log struct {
	Version   int         `json:"version" yaml:"version"`
	Hasher    string      `json:"hasher" yaml:"hasher"`
	Initial   poh.Digest  `json:"initial" yaml:"initial"`
	CreatedAt time.Time   `json:"created_at" yaml:"created_at"`
	Entries   []poh.Entry `json:"entries" yaml:"entries"`
}

// New returns a log for a chain that started at initial.
func New(hasher poh.Hasher, initial poh.Digest, entries []poh.Entry) *Log {
	if entries == nil {
		entries = []poh.Entry{}
	}
	return &Log{
		Version:   Version,
		Hasher:    hasher.Name(),
		Initial:   initial,
		CreatedAt: time.Now().UTC(),
		Entries:   entries,
	}
}

// Verifier returns a verifier using the log's hash primitive.
func (l *Log) Verifier() (*poh.Verifier, error) {
	h, err := poh.HasherByName(l.Hasher)
	if err != nil {
		return nil, err
	}
	return poh.NewVerifier(h), nil
}

// Stats summarizes the log's entries.
type Stats struct {
	Entries     int
	Checkpoints int
	Mixins      int
	Hashes      uint64
}

// Stats counts entries by kind and the hash steps they claim.
func (l *Log) Stats() Stats {
	var s Stats
	for _, e := range l.Entries {
		s.Entries++
		s.Hashes += e.NumHashes
		if e.IsCheckpoint() {
			s.Checkpoints++
		} else {
			s.Mixins++
		}
	}
	return s
}

// Encode writes l to w.
func Encode(w io.Writer, l *Log, format Format) error {
	switch format {
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(l); err != nil {
			return fmt.Errorf("encode YAML: %w", err)
		}
		return enc.Close()
	default:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(l); err != nil {
			return fmt.Errorf("encode JSON: %w", err)
		}
		return nil
	}
}

// Decode reads a log from r.
func Decode(r io.Reader, format Format) (*Log, error) {
	var l Log
	switch format {
	case FormatYAML:
		if err := yaml.NewDecoder(r).Decode(&l); err != nil {
			return nil, fmt.Errorf("decode YAML: %w", err)
		}
	default:
		if err := json.NewDecoder(r).Decode(&l); err != nil {
			return nil, fmt.Errorf("decode JSON: %w", err)
		}
	}

	if l.Version < 1 || l.Version > Version {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, l.Version)
	}
	return &l, nil
}

// WriteFile writes l to path atomically with owner-only permissions.
func WriteFile(path string, l *Log, format Format) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".entrylog-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := Encode(tmp, l, format); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync entry log: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close entry log: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0600); err != nil {
		return fmt.Errorf("chmod entry log: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename entry log: %w", err)
	}
	return nil
}

// ReadFile reads a log from path, choosing the format by extension.
// When validate is set, JSON documents are checked against the schema
// before decoding.
func ReadFile(path string, validate bool) (*Log, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read entry log: %w", err)
	}

	format := FormatFromPath(path)
	if validate && format == FormatJSON {
		if err := Validate(data); err != nil {
			return nil, err
		}
	}

	return Decode(bytes.NewReader(data), format)
}
