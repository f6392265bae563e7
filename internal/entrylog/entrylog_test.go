package entrylog

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pohchain/internal/poh"
)

func sampleLog(t *testing.T, h poh.Hasher) *Log {
	t.Helper()

	initial := poh.SeedDigest(h, "entrylog-test")
	clock := poh.NewManualClock(time.Unix(0, 0))
	c := poh.New(initial, time.Second, poh.WithHasher(h), poh.WithClock(clock))

	var entries []poh.Entry
	c.AdvanceN(5)
	entries = append(entries, c.Bind(sha256.Sum256([]byte("first"))))
	c.AdvanceN(8)
	clock.Advance(time.Second)
	cp, ok := c.Checkpoint()
	require.True(t, ok)
	entries = append(entries, cp)
	c.Advance()
	entries = append(entries, c.Bind(sha256.Sum256([]byte("second"))))

	return New(h, initial, entries)
}

func TestEncodeDecodeVerifies(t *testing.T) {
	for _, format := range []Format{FormatJSON, FormatYAML} {
		t.Run(format.String(), func(t *testing.T) {
			log := sampleLog(t, poh.Blake2b256{})

			var buf bytes.Buffer
			require.NoError(t, Encode(&buf, log, format))

			decoded, err := Decode(&buf, format)
			require.NoError(t, err)

			assert.Equal(t, log.Hasher, decoded.Hasher)
			assert.Equal(t, log.Initial, decoded.Initial)
			assert.Equal(t, log.Entries, decoded.Entries)
			assert.True(t, log.CreatedAt.Equal(decoded.CreatedAt))

			v, err := decoded.Verifier()
			require.NoError(t, err)
			ok, err := v.Verify(decoded.Initial, decoded.Entries)
			require.NoError(t, err)
			assert.True(t, ok)
		})
	}
}

func TestCheckpointHasNoMixinField(t *testing.T) {
	log := sampleLog(t, poh.SHA256{})

	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, log, FormatJSON))

	// Two mixin entries, one checkpoint.
	assert.Equal(t, 2, strings.Count(buf.String(), `"mixin"`))
}

func TestStats(t *testing.T) {
	s := sampleLog(t, poh.SHA256{}).Stats()
	assert.Equal(t, 3, s.Entries)
	assert.Equal(t, 1, s.Checkpoints)
	assert.Equal(t, 2, s.Mixins)
	assert.Equal(t, uint64(6+8+2), s.Hashes)
}

func TestWriteReadFile(t *testing.T) {
	dir := t.TempDir()
	log := sampleLog(t, poh.SHA256{})

	for _, name := range []string{"entries.json", "entries.yaml"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, "out", name)
			require.NoError(t, WriteFile(path, log, FormatFromPath(path)))

			info, err := os.Stat(path)
			require.NoError(t, err)
			assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

			read, err := ReadFile(path, true)
			require.NoError(t, err)
			assert.Equal(t, log.Entries, read.Entries)
		})
	}
}

func TestValidate(t *testing.T) {
	log := sampleLog(t, poh.SHA256{})
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, log, FormatJSON))
	valid := buf.String()

	require.NoError(t, Validate([]byte(valid)))

	tests := []struct {
		name string
		doc  string
	}{
		{"short digest", strings.Replace(valid, log.Initial.String(), "abcd", 1)},
		{"unknown hasher", strings.Replace(valid, `"sha256"`, `"md5"`, 1)},
		{"negative count", strings.Replace(valid, `"num_hashes": 6`, `"num_hashes": -6`, 1)},
		{"unknown field", strings.Replace(valid, `"version": 1`, `"version": 1, "extra": true`, 1)},
		{"not json", "{"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NotEqual(t, valid, tt.doc, "test case did not modify document")
			err := Validate([]byte(tt.doc))
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrSchema))
		})
	}
}

func TestZeroCountPassesSchema(t *testing.T) {
	log := sampleLog(t, poh.SHA256{})
	log.Entries[1].NumHashes = 0

	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, log, FormatJSON))
	require.NoError(t, Validate(buf.Bytes()))

	decoded, err := Decode(&buf, FormatJSON)
	require.NoError(t, err)

	v, err := decoded.Verifier()
	require.NoError(t, err)
	_, err = v.Verify(decoded.Initial, decoded.Entries)
	assert.ErrorIs(t, err, poh.ErrMalformedEntry)
}

func TestDecodeRejectsVersion(t *testing.T) {
	_, err := Decode(strings.NewReader(`{"version": 7, "hasher": "sha256", "entries": []}`), FormatJSON)
	assert.ErrorIs(t, err, ErrUnsupportedVersion)
}

func TestDecodeBadDigest(t *testing.T) {
	_, err := Decode(strings.NewReader(`{"version": 1, "initial": "xyz"}`), FormatJSON)
	assert.Error(t, err)
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat("YAML")
	require.NoError(t, err)
	assert.Equal(t, FormatYAML, f)

	_, err = ParseFormat("csv")
	assert.Error(t, err)

	assert.Equal(t, FormatYAML, FormatFromPath("x.yml"))
	assert.Equal(t, FormatJSON, FormatFromPath("x.log"))
}

func TestSchemaIsCopy(t *testing.T) {
	s := Schema()
	s[0] = 'x'
	assert.Equal(t, byte('{'), Schema()[0])
}
