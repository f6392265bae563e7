package config

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Has reports whether a validation error was recorded for field.
func (e ValidationErrors) Has(field string) bool {
	for _, err := range e {
		if err.Field == field {
			return true
		}
	}
	return false
}

// ValidateConfig performs comprehensive validation of the configuration.
func ValidateConfig(c *Config) error {
	var errs ValidationErrors

	if c.Version < 1 || c.Version > Version {
		errs = append(errs, ValidationError{
			Field:   "version",
			Message: fmt.Sprintf("unsupported version %d (current: %d)", c.Version, Version),
		})
	}

	errs = append(errs, validateChain(&c.Chain)...)
	errs = append(errs, validateVerify(&c.Verify)...)
	errs = append(errs, validateStorage(&c.Storage)...)
	errs = append(errs, validateOutput(&c.Output)...)
	errs = append(errs, validateLogging(&c.Logging)...)

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func validateChain(c *ChainConfig) ValidationErrors {
	var errs ValidationErrors

	switch strings.ToLower(c.Hasher) {
	case "", "sha256", "blake2b", "sha256d":
	default:
		errs = append(errs, ValidationError{
			Field:   "chain.hasher",
			Message: fmt.Sprintf("unknown hasher %q (valid: sha256, blake2b, sha256d)", c.Hasher),
		})
	}

	if c.Initial != "" {
		raw, err := hex.DecodeString(c.Initial)
		if err != nil || len(raw) != 32 {
			errs = append(errs, ValidationError{
				Field:   "chain.initial",
				Message: "must be 64 hex characters",
			})
		}
	}

	if c.CheckpointIntervalMs < 0 {
		errs = append(errs, ValidationError{
			Field:   "chain.checkpoint_interval_ms",
			Message: "must be non-negative (0 disables checkpoints)",
		})
	}

	if c.HashesPerBatch < 1 {
		errs = append(errs, ValidationError{
			Field:   "chain.hashes_per_batch",
			Message: "must be at least 1",
		})
	}

	if c.QueueSize < 0 {
		errs = append(errs, ValidationError{
			Field:   "chain.queue_size",
			Message: "must be non-negative",
		})
	}

	return errs
}

func validateVerify(v *VerifyConfig) ValidationErrors {
	var errs ValidationErrors
	if v.Workers < 0 {
		errs = append(errs, ValidationError{
			Field:   "verify.workers",
			Message: "must be non-negative (0 uses all CPUs)",
		})
	}
	return errs
}

func validateStorage(s *StorageConfig) ValidationErrors {
	var errs ValidationErrors

	if s.Enabled && s.Path == "" {
		errs = append(errs, ValidationError{
			Field:   "storage.path",
			Message: "required when storage is enabled",
		})
	}
	if s.BusyTimeoutMs < 0 {
		errs = append(errs, ValidationError{
			Field:   "storage.busy_timeout_ms",
			Message: "must be non-negative",
		})
	}

	return errs
}

func validateOutput(o *OutputConfig) ValidationErrors {
	var errs ValidationErrors

	switch strings.ToLower(o.Format) {
	case "", "json", "yaml", "yml":
	default:
		errs = append(errs, ValidationError{
			Field:   "output.format",
			Message: fmt.Sprintf("unknown format %q (valid: json, yaml)", o.Format),
		})
	}

	return errs
}

func validateLogging(l *LoggingConfig) ValidationErrors {
	var errs ValidationErrors

	switch strings.ToLower(l.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.level",
			Message: fmt.Sprintf("invalid level %q (valid: debug, info, warn, error)", l.Level),
		})
	}

	switch strings.ToLower(l.Format) {
	case "", "text", "json":
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.format",
			Message: fmt.Sprintf("invalid format %q (valid: text, json)", l.Format),
		})
	}

	switch strings.ToLower(l.Output) {
	case "", "stdout", "stderr":
	case "file", "both":
		if l.FilePath == "" {
			errs = append(errs, ValidationError{
				Field:   "logging.file_path",
				Message: "required when output includes a file",
			})
		}
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.output",
			Message: fmt.Sprintf("invalid output %q (valid: stdout, stderr, file, both)", l.Output),
		})
	}

	return errs
}
