package config

import (
	"fmt"
	"os"
	"slices"
	"time"

	"github.com/hay-kot/criterio"
)

// Validate checks every field and reports all failures together as
// criterio.FieldErrors.
func (c *Config) Validate() error {
	return criterio.ValidateStruct(
		criterio.Run("api.base_url", c.API.BaseURL, validBaseURL),
		criterio.Run("api.timeout", c.API.Timeout, positive),
		criterio.Run("sync.interval", c.Sync.Interval, nonNegative),
		criterio.Run("sync.grace", c.Sync.Grace, nonNegative),
		criterio.Run("sync.debounce", c.Sync.Debounce, nonNegative),
		criterio.Run("connectivity.probe_interval", c.Connectivity.ProbeInterval, positive),
		criterio.Run("connectivity.probe_timeout", c.Connectivity.ProbeTimeout, positive),
		criterio.Run("storage.backend", c.Storage.Backend, oneOf(BackendAuto, BackendSQLite, BackendJSONFile)),
		criterio.Run("storage.dir", c.Storage.Dir, isDirectoryOrNotExist),
		criterio.Run("log.level", c.Log.Level, oneOf("debug", "info", "warn", "error")),
		criterio.Run("log.format", c.Log.Format, oneOf("text", "json")),
		c.validateRotation(),
	)
}

func (c *Config) validateRotation() error {
	var errs criterio.FieldErrorsBuilder
	if c.Log.MaxSizeMB < 0 {
		errs = errs.Append("log.max_size_mb", fmt.Errorf("must not be negative"))
	}
	if c.Log.MaxBackups < 0 {
		errs = errs.Append("log.max_backups", fmt.Errorf("must not be negative"))
	}
	return errs.ToError()
}

func positive(d time.Duration) error {
	if d <= 0 {
		return fmt.Errorf("must be greater than zero")
	}
	return nil
}

func nonNegative(d time.Duration) error {
	if d < 0 {
		return fmt.Errorf("must not be negative")
	}
	return nil
}

func oneOf(allowed ...string) func(string) error {
	return func(s string) error {
		if !slices.Contains(allowed, s) {
			return fmt.Errorf("%q is not one of %v", s, allowed)
		}
		return nil
	}
}

// isDirectoryOrNotExist validates that a path is a directory or doesn't exist.
func isDirectoryOrNotExist(path string) error {
	if path == "" {
		return fmt.Errorf("cannot be empty")
	}
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil // will be created
	}
	if err != nil {
		return fmt.Errorf("cannot access: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("exists but is not a directory")
	}
	return nil
}
