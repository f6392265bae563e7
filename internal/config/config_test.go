package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	t.Setenv("POHCHAIN_DATA_DIR", "/var/lib/pohchain")

	cfg := DefaultConfig()
	if cfg == nil {
		t.Fatal("DefaultConfig returned nil")
	}

	if cfg.Version != Version {
		t.Errorf("expected version %d, got %d", Version, cfg.Version)
	}
	if cfg.Chain.Hasher != "sha256" {
		t.Errorf("expected sha256 hasher, got %s", cfg.Chain.Hasher)
	}
	if cfg.CheckpointInterval() != time.Second {
		t.Errorf("expected 1s checkpoint interval, got %v", cfg.CheckpointInterval())
	}
	if !strings.HasPrefix(cfg.Storage.Path, "/var/lib/pohchain") {
		t.Errorf("storage path should live under the data dir: %s", cfg.Storage.Path)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestConfigPath(t *testing.T) {
	path := ConfigPath()
	if !strings.HasSuffix(path, "config.toml") {
		t.Errorf("expected path ending with config.toml, got %s", path)
	}
	if !strings.Contains(path, "pohchain") {
		t.Errorf("config path should contain pohchain: %s", path)
	}
}

func TestLoadNonexistent(t *testing.T) {
	cfg, err := Load("/nonexistent/path/config.toml")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Chain.HashesPerBatch != DefaultConfig().Chain.HashesPerBatch {
		t.Errorf("expected default hashes_per_batch, got %d", cfg.Chain.HashesPerBatch)
	}
}

func TestLoadTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
version = 1

[chain]
hasher = "blake2b"
seed = "testnet"
checkpoint_interval_ms = 250
hashes_per_batch = 64

[verify]
parallel = false
workers = 2

[logging]
level = "debug"
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Chain.Hasher != "blake2b" {
		t.Errorf("expected blake2b, got %s", cfg.Chain.Hasher)
	}
	if cfg.Chain.Seed != "testnet" {
		t.Errorf("expected seed testnet, got %s", cfg.Chain.Seed)
	}
	if cfg.CheckpointInterval() != 250*time.Millisecond {
		t.Errorf("expected 250ms, got %v", cfg.CheckpointInterval())
	}
	if cfg.Verify.Parallel {
		t.Error("expected parallel disabled")
	}
	if cfg.Verify.Workers != 2 {
		t.Errorf("expected 2 workers, got %d", cfg.Verify.Workers)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("expected debug level, got %s", cfg.Logging.Level)
	}
	// Untouched sections keep their defaults.
	if cfg.Chain.QueueSize != DefaultConfig().Chain.QueueSize {
		t.Errorf("expected default queue size, got %d", cfg.Chain.QueueSize)
	}
}

func TestLoadYAMLAndJSON(t *testing.T) {
	dir := t.TempDir()

	yamlPath := filepath.Join(dir, "config.yaml")
	yamlContent := "chain:\n  hasher: sha256d\n  checkpoint_interval_ms: 0\n"
	if err := os.WriteFile(yamlPath, []byte(yamlContent), 0600); err != nil {
		t.Fatal(err)
	}

	jsonPath := filepath.Join(dir, "config.json")
	jsonContent := `{"chain": {"hasher": "blake2b", "hashes_per_batch": 8}}`
	if err := os.WriteFile(jsonPath, []byte(jsonContent), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(yamlPath)
	if err != nil {
		t.Fatalf("Load YAML failed: %v", err)
	}
	if cfg.Chain.Hasher != "sha256d" || cfg.CheckpointInterval() != 0 {
		t.Errorf("unexpected YAML config: %+v", cfg.Chain)
	}

	cfg, err = Load(jsonPath)
	if err != nil {
		t.Fatalf("Load JSON failed: %v", err)
	}
	if cfg.Chain.Hasher != "blake2b" || cfg.Chain.HashesPerBatch != 8 {
		t.Errorf("unexpected JSON config: %+v", cfg.Chain)
	}
}

func TestLoadAutoDetect(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pohchainrc")
	if err := os.WriteFile(path, []byte(`{"chain": {"seed": "detected"}}`), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Chain.Seed != "detected" {
		t.Errorf("expected seed detected, got %s", cfg.Chain.Seed)
	}
}

func TestLoadInvalidTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("this is not [valid toml"), 0600); err != nil {
		t.Fatal(err)
	}

	if _, err := Load(path); err == nil {
		t.Error("expected error for invalid TOML")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"bad version", func(c *Config) { c.Version = 99 }, "version"},
		{"bad hasher", func(c *Config) { c.Chain.Hasher = "md5" }, "chain.hasher"},
		{"bad initial", func(c *Config) { c.Chain.Initial = "abcd" }, "chain.initial"},
		{"negative interval", func(c *Config) { c.Chain.CheckpointIntervalMs = -1 }, "chain.checkpoint_interval_ms"},
		{"zero batch", func(c *Config) { c.Chain.HashesPerBatch = 0 }, "chain.hashes_per_batch"},
		{"negative workers", func(c *Config) { c.Verify.Workers = -2 }, "verify.workers"},
		{"storage without path", func(c *Config) {
			c.Storage.Enabled = true
			c.Storage.Path = ""
		}, "storage.path"},
		{"bad output format", func(c *Config) { c.Output.Format = "xml" }, "output.format"},
		{"bad log level", func(c *Config) { c.Logging.Level = "loud" }, "logging.level"},
		{"file logging without path", func(c *Config) {
			c.Logging.Output = "file"
			c.Logging.FilePath = ""
		}, "logging.file_path"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			var verrs ValidationErrors
			if !errors.As(err, &verrs) {
				t.Fatalf("expected ValidationErrors, got %T", err)
			}
			if !verrs.Has(tt.field) {
				t.Errorf("expected error on %s, got %v", tt.field, err)
			}
		})
	}
}

func TestValidateAcceptsInitial(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Chain.Initial = strings.Repeat("00", 32)
	if err := cfg.Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("POHCHAIN_HASHER", "blake2b")
	t.Setenv("POHCHAIN_CHECKPOINT_INTERVAL_MS", "50")
	t.Setenv("POHCHAIN_STORAGE_PATH", "/tmp/pohchain/entries.db")
	t.Setenv("POHCHAIN_LOG_LEVEL", "warn")

	cfg := DefaultConfig()
	cfg.ApplyEnvOverrides()

	if cfg.Chain.Hasher != "blake2b" {
		t.Errorf("expected blake2b, got %s", cfg.Chain.Hasher)
	}
	if cfg.Chain.CheckpointIntervalMs != 50 {
		t.Errorf("expected 50ms, got %d", cfg.Chain.CheckpointIntervalMs)
	}
	if !cfg.Storage.Enabled || cfg.Storage.Path != "/tmp/pohchain/entries.db" {
		t.Errorf("storage override not applied: %+v", cfg.Storage)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("expected warn, got %s", cfg.Logging.Level)
	}
}

func TestSaveConfigRoundTrip(t *testing.T) {
	for _, ext := range []string{".toml", ".json", ".yaml"} {
		t.Run(ext, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "nested", "config"+ext)

			cfg := DefaultConfig()
			cfg.Chain.Seed = "round-trip"
			cfg.Chain.CheckpointIntervalMs = 1234
			cfg.Verify.Workers = 3

			if err := SaveConfig(cfg, path); err != nil {
				t.Fatalf("SaveConfig failed: %v", err)
			}

			loaded, err := Load(path)
			if err != nil {
				t.Fatalf("Load failed: %v", err)
			}
			if loaded.Chain.Seed != "round-trip" {
				t.Errorf("seed lost: %s", loaded.Chain.Seed)
			}
			if loaded.Chain.CheckpointIntervalMs != 1234 {
				t.Errorf("interval lost: %d", loaded.Chain.CheckpointIntervalMs)
			}
			if loaded.Verify.Workers != 3 {
				t.Errorf("workers lost: %d", loaded.Verify.Workers)
			}
		})
	}
}

func TestLoadOrCreate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")

	_, created, err := LoadOrCreate(path)
	if err != nil {
		t.Fatalf("LoadOrCreate failed: %v", err)
	}
	if !created {
		t.Error("expected config to be created")
	}

	_, created, err = LoadOrCreate(path)
	if err != nil {
		t.Fatalf("second LoadOrCreate failed: %v", err)
	}
	if created {
		t.Error("expected existing config to be loaded")
	}
}

func TestClone(t *testing.T) {
	cfg := DefaultConfig()
	clone := cfg.Clone()
	clone.Chain.Seed = "changed"

	if cfg.Chain.Seed == "changed" {
		t.Error("clone shares state with original")
	}
}

func TestEnsureDirectories(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.Output.Path = filepath.Join(dir, "out", "entries.json")
	cfg.Storage.Enabled = true
	cfg.Storage.Path = filepath.Join(dir, "db", "entries.db")

	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories failed: %v", err)
	}
	for _, sub := range []string{"out", "db"} {
		if info, err := os.Stat(filepath.Join(dir, sub)); err != nil || !info.IsDir() {
			t.Errorf("expected directory %s", sub)
		}
	}
}
