package poh

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"golang.org/x/crypto/blake2b"
)

// DigestSize is the width of every digest produced by a Hasher.
const DigestSize = 32

// Digest is the opaque fixed-width output of the chain hash primitive.
type Digest [DigestSize]byte

// Bytes returns the raw digest bytes.
func (d Digest) Bytes() []byte {
	return d[:]
}

// String returns the lowercase hex encoding of the digest.
func (d Digest) String() string {
	return hex.EncodeToString(d[:])
}

// IsZero reports whether every byte of the digest is zero.
func (d Digest) IsZero() bool {
	return d == Digest{}
}

// MarshalText implements encoding.TextMarshaler.
func (d Digest) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Digest) UnmarshalText(text []byte) error {
	parsed, err := ParseDigest(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// ParseDigest decodes a hex-encoded digest.
func ParseDigest(s string) (Digest, error) {
	var d Digest
	raw, err := hex.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return d, fmt.Errorf("decode digest: %w", err)
	}
	if len(raw) != DigestSize {
		return d, fmt.Errorf("digest must be %d bytes, got %d", DigestSize, len(raw))
	}
	copy(d[:], raw)
	return d, nil
}

// Hasher is the collision-resistant primitive driving the chain.
// Hash is the single-input step; HashMany is the combining step used
// when a mixin is folded in.
type Hasher interface {
	Hash(data []byte) Digest
	HashMany(parts ...[]byte) Digest
	Name() string
}

// Hasher names accepted by HasherByName.
const (
	HasherSHA256       = "sha256"
	HasherBlake2b      = "blake2b"
	HasherDoubleSHA256 = "sha256d"
)

// SHA256 is the default chain primitive.
type SHA256 struct{}

func (SHA256) Hash(data []byte) Digest {
	return sha256.Sum256(data)
}

func (SHA256) HashMany(parts ...[]byte) Digest {
	h := sha256.New()
	for _, p := range parts {
		h.Write(p)
	}
	var d Digest
	h.Sum(d[:0])
	return d
}

func (SHA256) Name() string { return HasherSHA256 }

// Blake2b256 uses BLAKE2b with a 256-bit output.
type Blake2b256 struct{}

func (Blake2b256) Hash(data []byte) Digest {
	return blake2b.Sum256(data)
}

func (Blake2b256) HashMany(parts ...[]byte) Digest {
	// New256 only fails for oversized keys; no key is used here.
	h, _ := blake2b.New256(nil)
	for _, p := range parts {
		h.Write(p)
	}
	var d Digest
	h.Sum(d[:0])
	return d
}

func (Blake2b256) Name() string { return HasherBlake2b }

// DoubleSHA256 applies SHA-256 twice, as Bitcoin does for block and
// transaction identifiers.
type DoubleSHA256 struct{}

func (DoubleSHA256) Hash(data []byte) Digest {
	return Digest(chainhash.DoubleHashH(data))
}

func (DoubleSHA256) HashMany(parts ...[]byte) Digest {
	size := 0
	for _, p := range parts {
		size += len(p)
	}
	buf := make([]byte, 0, size)
	for _, p := range parts {
		buf = append(buf, p...)
	}
	return Digest(chainhash.DoubleHashH(buf))
}

func (DoubleSHA256) Name() string { return HasherDoubleSHA256 }

// HasherByName resolves a configured hasher name. An empty name selects SHA-256.
func HasherByName(name string) (Hasher, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", HasherSHA256, "sha-256":
		return SHA256{}, nil
	case HasherBlake2b, "blake2b-256", "blake2b256":
		return Blake2b256{}, nil
	case HasherDoubleSHA256, "double-sha256":
		return DoubleSHA256{}, nil
	default:
		return nil, fmt.Errorf("unknown hasher %q", name)
	}
}

// SeedDigest derives an initial digest from an arbitrary seed string.
func SeedDigest(h Hasher, seed string) Digest {
	return h.HashMany([]byte("pohchain-seed-v1"), []byte(seed))
}
