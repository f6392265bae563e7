package main

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pohchain/internal/entrylog"
	"pohchain/internal/poh"
	"pohchain/internal/store"
)

func buildLog(t *testing.T) *entrylog.Log {
	t.Helper()

	h := poh.SHA256{}
	initial := poh.SeedDigest(h, "pohverify")
	clock := poh.NewManualClock(time.Unix(0, 0))
	c := poh.New(initial, time.Second, poh.WithClock(clock))

	var entries []poh.Entry
	for i := 0; i < 4; i++ {
		c.AdvanceN(10)
		entries = append(entries, c.Bind(sha256.Sum256([]byte{byte(i)})))
		c.AdvanceN(3)
		clock.Advance(time.Second)
		cp, ok := c.Checkpoint()
		require.True(t, ok)
		entries = append(entries, cp)
	}
	return entrylog.New(h, initial, entries)
}

func writeLog(t *testing.T, log *entrylog.Log, name string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, entrylog.WriteFile(path, log, entrylog.FormatFromPath(path)))
	return path
}

func runCmd(args ...string) (int, string, string) {
	var stdout, stderr bytes.Buffer
	code := run(args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestVerifyValidLog(t *testing.T) {
	log := buildLog(t)

	for _, name := range []string{"entries.json", "entries.yaml"} {
		for _, parallel := range []string{"-parallel=true", "-parallel=false"} {
			t.Run(name+parallel, func(t *testing.T) {
				path := writeLog(t, log, name)
				code, out, _ := runCmd(parallel, path)
				assert.Equal(t, exitValid, code)
				assert.Contains(t, out, "VALID")
				assert.Contains(t, out, "8 (4 checkpoints, 4 mixins)")
			})
		}
	}
}

func TestVerifyTamperedLog(t *testing.T) {
	log := buildLog(t)
	log.Entries[5].ID[0] ^= 0xff
	path := writeLog(t, log, "entries.json")

	code, out, _ := runCmd("-format", "json", path)
	assert.Equal(t, exitInvalid, code)

	var res result
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.False(t, res.Valid)
	require.NotNil(t, res.FailedIndex)
	assert.Equal(t, 5, *res.FailedIndex)
	assert.False(t, res.Malformed)
}

func TestVerifyZeroCount(t *testing.T) {
	log := buildLog(t)
	log.Entries[2].NumHashes = 0
	path := writeLog(t, log, "entries.json")

	code, out, _ := runCmd(path)
	assert.Equal(t, exitMalformed, code)
	assert.Contains(t, out, "MALFORMED at entry 2")
}

func TestVerifySchemaViolation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "entries.json")
	doc := `{"version": 1, "hasher": "sha256", "initial": "abcd", "created_at": "2024-01-01T00:00:00Z", "entries": []}`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0600))

	code, _, errOut := runCmd(path)
	assert.Equal(t, exitMalformed, code)
	assert.Contains(t, errOut, "schema")

	// Without schema validation the decoder still rejects the digest.
	code, _, _ = runCmd("-schema=false", path)
	assert.Equal(t, exitMalformed, code)
}

func TestUsageErrors(t *testing.T) {
	path := writeLog(t, buildLog(t), "entries.json")

	tests := []struct {
		name string
		args []string
	}{
		{"no input", nil},
		{"file and chain", []string{"-chain", "x", path}},
		{"bad format", []string{"-format", "xml", path}},
		{"unknown flag", []string{"-bogus", path}},
		{"missing config", []string{"-config", filepath.Join(t.TempDir(), "bad.toml"), path}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.name == "missing config" {
				require.NoError(t, os.WriteFile(tt.args[1], []byte("[chain\n"), 0600))
			}
			code, _, _ := runCmd(tt.args...)
			assert.Equal(t, exitUsage, code)
		})
	}
}

func TestVersion(t *testing.T) {
	code, out, _ := runCmd("-version")
	assert.Equal(t, exitValid, code)
	assert.True(t, strings.HasPrefix(out, "pohverify dev"))
}

func TestVerifyStoredChain(t *testing.T) {
	log := buildLog(t)
	dbPath := filepath.Join(t.TempDir(), "entries.db")
	ctx := context.Background()

	st, err := store.Open(dbPath)
	require.NoError(t, err)
	c, err := st.CreateChain(ctx, "main", log.Hasher, log.Initial, time.Second)
	require.NoError(t, err)
	for i, e := range log.Entries {
		require.NoError(t, st.AppendEntry(ctx, c.ID, uint64(i), e))
	}
	require.NoError(t, st.Close())

	code, out, _ := runCmd("-db", dbPath, "-chain", "main", "-workers", "2")
	assert.Equal(t, exitValid, code)
	assert.Contains(t, out, dbPath+"#main")

	code, _, errOut := runCmd("-db", dbPath, "-chain", "missing")
	assert.Equal(t, exitMalformed, code)
	assert.Contains(t, errOut, "not found")

	code, _, _ = runCmd("-db", filepath.Join(t.TempDir(), "none.db"), "-chain", "main")
	assert.Equal(t, exitMalformed, code)
}

func TestConfigDefaults(t *testing.T) {
	log := buildLog(t)
	path := writeLog(t, log, "entries.json")

	cfgPath := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("[verify]\nparallel = false\n"), 0600))

	code, out, _ := runCmd("-config", cfgPath, "-format", "json", path)
	require.Equal(t, exitValid, code)

	var res result
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, 1, res.Workers)

	code, out, _ = runCmd("-config", cfgPath, "-parallel", "-workers", "3", "-format", "json", path)
	require.Equal(t, exitValid, code)
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, 3, res.Workers)
}

func TestVerifyTimeoutIsNotAVerdict(t *testing.T) {
	path := writeLog(t, buildLog(t), "entries.json")

	for _, mode := range [][]string{{"-parallel=false"}, {"-workers", "4"}} {
		t.Run(strings.Join(mode, " "), func(t *testing.T) {
			args := append([]string{"-timeout", "1ns"}, mode...)
			code, out, _ := runCmd(append(args, path)...)
			assert.Equal(t, exitIncomplete, code)
			assert.Contains(t, out, "INCOMPLETE")
			assert.NotContains(t, out, "INVALID")
		})
	}

	code, out, _ := runCmd("-timeout", "1ns", "-format", "json", path)
	require.Equal(t, exitIncomplete, code)
	var res result
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.True(t, res.Incomplete)
	assert.False(t, res.Malformed)
	assert.False(t, res.Valid)

	code, _, _ = runCmd("-timeout", "1m", path)
	assert.Equal(t, exitValid, code)
}

func TestVerifyStoredChainTimeout(t *testing.T) {
	log := buildLog(t)
	dbPath := filepath.Join(t.TempDir(), "entries.db")
	ctx := context.Background()

	st, err := store.Open(dbPath)
	require.NoError(t, err)
	c, err := st.CreateChain(ctx, "main", log.Hasher, log.Initial, time.Second)
	require.NoError(t, err)
	for i, e := range log.Entries {
		require.NoError(t, st.AppendEntry(ctx, c.ID, uint64(i), e))
	}
	require.NoError(t, st.Close())

	code, _, _ := runCmd("-timeout", "1ns", "-db", dbPath, "-chain", "main")
	assert.Equal(t, exitIncomplete, code)
}

func TestWorkersString(t *testing.T) {
	assert.Equal(t, "1 (sequential)", workersString(1))
	assert.Equal(t, "auto", workersString(0))
	assert.Equal(t, "4", workersString(4))
}
