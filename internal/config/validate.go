package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateWatch(); err != nil {
		return err
	}
	if err := c.validateCapture(); err != nil {
		return err
	}
	if err := c.validateEncoding(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validatePaths() error {
	if c.Paths.InputDir == "" {
		return errors.New("paths.input_dir must be set")
	}
	if c.Paths.OutputDir == "" {
		return errors.New("paths.output_dir must be set")
	}
	if c.Paths.InputDir == c.Paths.OutputDir {
		return errors.New("paths.output_dir must differ from paths.input_dir")
	}
	return nil
}

func (c *Config) validateWatch() error {
	if c.Watch.RescanIntervalSeconds < 1 || c.Watch.RescanIntervalSeconds > maxRescanIntervalSeconds {
		return fmt.Errorf("watch.rescan_interval_seconds must be between 1 and %d", maxRescanIntervalSeconds)
	}
	if c.Watch.SettleDelaySeconds < 0 || c.Watch.SettleDelaySeconds > maxSettleDelaySeconds {
		return fmt.Errorf("watch.settle_delay_seconds must be between 0 and %d", maxSettleDelaySeconds)
	}
	for _, pattern := range c.Watch.Patterns {
		if _, err := filepath.Match(pattern, "probe.m3u"); err != nil {
			return fmt.Errorf("watch.patterns: invalid pattern %q: %w", pattern, err)
		}
	}
	return nil
}

func (c *Config) validateCapture() error {
	if c.Capture.FetchTimeoutSeconds < 1 || c.Capture.FetchTimeoutSeconds > maxFetchTimeoutSeconds {
		return fmt.Errorf("capture.fetch_timeout_seconds must be between 1 and %d", maxFetchTimeoutSeconds)
	}
	if c.Capture.FetchParallelism > maxFetchParallelism {
		return fmt.Errorf("capture.fetch_parallelism must be at most %d", maxFetchParallelism)
	}
	switch c.Capture.FormatMismatch {
	case FormatMismatchResample, FormatMismatchReject:
	default:
		return fmt.Errorf("capture.format_mismatch must be %q or %q", FormatMismatchResample, FormatMismatchReject)
	}
	if strings.ContainsAny(c.Capture.OutputPrefix, `/\`) {
		return errors.New("capture.output_prefix must not contain path separators")
	}
	return nil
}

func (c *Config) validateEncoding() error {
	if c.Encoding.Quality < 0 || c.Encoding.Quality > 100 {
		return errors.New("encoding.quality must be between 0 and 100")
	}
	if c.Encoding.OpenAttempts < 1 || c.Encoding.OpenAttempts > maxOpenAttempts {
		return fmt.Errorf("encoding.open_attempts must be between 1 and %d", maxOpenAttempts)
	}
	if c.Encoding.AutoDeleteWAV && !c.Encoding.AutoConvert {
		return errors.New("encoding.auto_delete_wav requires encoding.auto_convert")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format must be console or json, got %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn, or error, got %q", c.Logging.Level)
	}
	return nil
}
