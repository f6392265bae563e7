// Package config handles configuration loading, validation, and management for pohchain.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Version is the current configuration schema version.
const Version = 1

// Config holds the complete configuration.
type Config struct {
	// Version is the configuration schema version.
	Version int `toml:"version" json:"version" yaml:"version"`

	// Chain configures the generator.
	Chain ChainConfig `toml:"chain" json:"chain" yaml:"chain"`

	// Verify configures replay.
	Verify VerifyConfig `toml:"verify" json:"verify" yaml:"verify"`

	// Storage configures the SQLite entry store.
	Storage StorageConfig `toml:"storage" json:"storage" yaml:"storage"`

	// Output configures the entry log written by the recorder.
	Output OutputConfig `toml:"output" json:"output" yaml:"output"`

	// Logging configuration.
	Logging LoggingConfig `toml:"logging" json:"logging" yaml:"logging"`

	// mu protects concurrent access to the config.
	mu sync.RWMutex `toml:"-" json:"-" yaml:"-"`
}

// ChainConfig holds chain generation parameters.
type ChainConfig struct {
	// Hasher is the hash primitive: "sha256", "blake2b" or "sha256d".
	Hasher string `toml:"hasher" json:"hasher" yaml:"hasher"`

	// Initial is the hex-encoded starting digest. When empty, the
	// starting digest is derived from Seed.
	Initial string `toml:"initial" json:"initial" yaml:"initial"`

	// Seed is hashed into the starting digest when Initial is empty.
	Seed string `toml:"seed" json:"seed" yaml:"seed"`

	// CheckpointIntervalMs is the checkpoint spacing in milliseconds.
	// Set to 0 to disable checkpoints.
	CheckpointIntervalMs int `toml:"checkpoint_interval_ms" json:"checkpoint_interval_ms" yaml:"checkpoint_interval_ms"`

	// HashesPerBatch is the number of advances between checks for
	// queued mixins.
	HashesPerBatch int `toml:"hashes_per_batch" json:"hashes_per_batch" yaml:"hashes_per_batch"`

	// QueueSize bounds the number of pending mixins.
	QueueSize int `toml:"queue_size" json:"queue_size" yaml:"queue_size"`
}

// VerifyConfig holds verification parameters.
type VerifyConfig struct {
	// Parallel enables checkpoint-segment parallel replay.
	Parallel bool `toml:"parallel" json:"parallel" yaml:"parallel"`

	// Workers bounds parallel replay. 0 means GOMAXPROCS.
	Workers int `toml:"workers" json:"workers" yaml:"workers"`
}

// StorageConfig holds persistence configuration.
type StorageConfig struct {
	// Enabled turns on the SQLite store.
	Enabled bool `toml:"enabled" json:"enabled" yaml:"enabled"`

	// Path is the path to the database file.
	Path string `toml:"path" json:"path" yaml:"path"`

	// BusyTimeoutMs is the SQLite busy timeout.
	BusyTimeoutMs int `toml:"busy_timeout_ms" json:"busy_timeout_ms" yaml:"busy_timeout_ms"`
}

// OutputConfig holds entry log output settings.
type OutputConfig struct {
	// Path is the entry log file. The format follows the extension
	// unless Format is set.
	Path string `toml:"path" json:"path" yaml:"path"`

	// Format is "json" or "yaml".
	Format string `toml:"format" json:"format" yaml:"format"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error.
	Level string `toml:"level" json:"level" yaml:"level"`

	// Format is "text" or "json".
	Format string `toml:"format" json:"format" yaml:"format"`

	// Output is "stdout", "stderr", "file", or "both".
	Output string `toml:"output" json:"output" yaml:"output"`

	// FilePath is the log file path when Output includes a file.
	FilePath string `toml:"file_path" json:"file_path" yaml:"file_path"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	dir := DataDir()

	return &Config{
		Version: Version,
		Chain: ChainConfig{
			Hasher:               "sha256",
			Seed:                 appName,
			CheckpointIntervalMs: 1000,
			HashesPerBatch:       1024,
			QueueSize:            256,
		},
		Verify: VerifyConfig{
			Parallel: true,
			Workers:  0,
		},
		Storage: StorageConfig{
			Enabled:       false,
			Path:          filepath.Join(dir, "entries.db"),
			BusyTimeoutMs: 5000,
		},
		Output: OutputConfig{
			Path:   filepath.Join(dir, "entries.json"),
			Format: "json",
		},
		Logging: LoggingConfig{
			Level:    "info",
			Format:   "text",
			Output:   "stderr",
			FilePath: filepath.Join(dir, "pohchain.log"),
		},
	}
}

// DataDir returns the base data directory.
// POHCHAIN_DATA_DIR overrides the platform default.
func DataDir() string {
	if envDir := os.Getenv("POHCHAIN_DATA_DIR"); envDir != "" {
		return envDir
	}
	return PlatformDataDir()
}

// ConfigPath returns the default configuration file path.
func ConfigPath() string {
	return filepath.Join(PlatformConfigDir(), "config.toml")
}

// Load reads configuration from the specified path.
// If the file doesn't exist, returns default configuration.
// Supports TOML, JSON, and YAML formats based on file extension.
func Load(path string) (*Config, error) {
	if path == "" {
		path = ConfigPath()
	}

	cfg, err := loadConfigFromFile(path)
	if err != nil {
		return nil, err
	}

	cfg.ApplyEnvOverrides()
	return cfg, nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	return ValidateConfig(c)
}

// CheckpointInterval returns the checkpoint interval as a duration.
func (c *Config) CheckpointInterval() time.Duration {
	return time.Duration(c.Chain.CheckpointIntervalMs) * time.Millisecond
}

// EnsureDirectories creates the directories holding output files.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		filepath.Dir(c.Output.Path),
	}
	if c.Storage.Enabled {
		dirs = append(dirs, filepath.Dir(c.Storage.Path))
	}
	if c.Logging.Output == "file" || c.Logging.Output == "both" {
		dirs = append(dirs, filepath.Dir(c.Logging.FilePath))
	}

	for _, dir := range dirs {
		if dir == "" || dir == "." {
			continue
		}
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}

	return nil
}

// ApplyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables are prefixed with POHCHAIN_ and use underscores.
func (c *Config) ApplyEnvOverrides() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if v := os.Getenv("POHCHAIN_HASHER"); v != "" {
		c.Chain.Hasher = v
	}
	if v := os.Getenv("POHCHAIN_INITIAL"); v != "" {
		c.Chain.Initial = v
	}
	if v := os.Getenv("POHCHAIN_CHECKPOINT_INTERVAL_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil {
			c.Chain.CheckpointIntervalMs = ms
		}
	}
	if v := os.Getenv("POHCHAIN_STORAGE_PATH"); v != "" {
		c.Storage.Path = v
		c.Storage.Enabled = true
	}
	if v := os.Getenv("POHCHAIN_OUTPUT_PATH"); v != "" {
		c.Output.Path = v
	}
	if v := os.Getenv("POHCHAIN_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("POHCHAIN_LOG_PATH"); v != "" {
		c.Logging.FilePath = v
	}
}

// Clone returns a copy of the configuration.
func (c *Config) Clone() *Config {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return &Config{
		Version: c.Version,
		Chain:   c.Chain,
		Verify:  c.Verify,
		Storage: c.Storage,
		Output:  c.Output,
		Logging: c.Logging,
	}
}

// SaveConfig writes the configuration to path, choosing the encoding by
// extension (TOML by default).
func SaveConfig(cfg *Config, path string) error {
	var (
		data []byte
		err  error
	)

	switch filepath.Ext(path) {
	case ".json":
		data, err = json.MarshalIndent(cfg, "", "  ")
	case ".yaml", ".yml":
		data, err = yaml.Marshal(cfg)
	default:
		var buf bytes.Buffer
		buf.WriteString("# pohchain configuration\n\n")
		err = toml.NewEncoder(&buf).Encode(cfg)
		data = buf.Bytes()
	}
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}
