package config

import (
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeWatch()
	if err := c.normalizeCapture(); err != nil {
		return err
	}
	if err := c.normalizeEncoding(); err != nil {
		return err
	}
	c.normalizeNotifications()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	if value, ok := os.LookupEnv(envInputDir); ok && strings.TrimSpace(value) != "" {
		c.Paths.InputDir = strings.TrimSpace(value)
	}
	if value, ok := os.LookupEnv(envOutputDir); ok && strings.TrimSpace(value) != "" {
		c.Paths.OutputDir = strings.TrimSpace(value)
	}
	if strings.TrimSpace(c.Paths.StateDir) == "" {
		c.Paths.StateDir = defaultStateDir
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}

	var err error
	if c.Paths.InputDir, err = expandPath(strings.TrimSpace(c.Paths.InputDir)); err != nil {
		return fmt.Errorf("paths.input_dir: %w", err)
	}
	if c.Paths.OutputDir, err = expandPath(strings.TrimSpace(c.Paths.OutputDir)); err != nil {
		return fmt.Errorf("paths.output_dir: %w", err)
	}
	if c.Paths.StateDir, err = expandPath(strings.TrimSpace(c.Paths.StateDir)); err != nil {
		return fmt.Errorf("paths.state_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(strings.TrimSpace(c.Paths.LogDir)); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeWatch() {
	patterns := make([]string, 0, len(c.Watch.Patterns))
	for _, pattern := range c.Watch.Patterns {
		if trimmed := strings.TrimSpace(pattern); trimmed != "" {
			patterns = append(patterns, strings.ToLower(trimmed))
		}
	}
	if len(patterns) == 0 {
		patterns = append(patterns, defaultPatterns...)
	}
	c.Watch.Patterns = patterns
}

func (c *Config) normalizeCapture() error {
	if value, ok := os.LookupEnv(envVolume); ok && strings.TrimSpace(value) != "" {
		volume, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil {
			return fmt.Errorf("%s: parse volume %q: %w", envVolume, value, err)
		}
		c.Capture.Volume = volume
	}
	c.Capture.Volume = ClampVolume(c.Capture.Volume)
	c.Capture.OutputPrefix = strings.TrimSpace(c.Capture.OutputPrefix)
	c.Capture.UserAgent = strings.TrimSpace(c.Capture.UserAgent)
	if c.Capture.UserAgent == "" {
		c.Capture.UserAgent = defaultUserAgent
	}
	c.Capture.FormatMismatch = strings.ToLower(strings.TrimSpace(c.Capture.FormatMismatch))
	if c.Capture.FormatMismatch == "" {
		c.Capture.FormatMismatch = defaultFormatMismatch
	}
	if c.Capture.FetchParallelism <= 0 {
		c.Capture.FetchParallelism = defaultFetchParallelism
	}
	return nil
}

func (c *Config) normalizeEncoding() error {
	if value, ok := os.LookupEnv(envQuality); ok && strings.TrimSpace(value) != "" {
		quality, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil {
			return fmt.Errorf("%s: parse quality %q: %w", envQuality, value, err)
		}
		c.Encoding.Quality = quality
	}
	c.Encoding.FlacBinary = strings.TrimSpace(c.Encoding.FlacBinary)
	if c.Encoding.FlacBinary == "" {
		c.Encoding.FlacBinary = defaultFlacBinary
	}
	if c.Encoding.OpenAttempts == 0 {
		c.Encoding.OpenAttempts = defaultOpenAttempts
	}
	return nil
}

func (c *Config) normalizeNotifications() {
	if c.Notifications.NtfyTopic == "" {
		if value, ok := os.LookupEnv(envNtfyTopic); ok {
			c.Notifications.NtfyTopic = value
		}
	}
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	if c.Notifications.RequestTimeout <= 0 {
		c.Notifications.RequestTimeout = defaultNotifyRequestTimeout
	}
}

func (c *Config) normalizeLogging() {
	if value, ok := os.LookupEnv(envLogLevel); ok && strings.TrimSpace(value) != "" {
		c.Logging.Level = value
	}
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if c.Logging.RetentionDays < 0 {
		c.Logging.RetentionDays = 0
	}
	if c.History.RetentionDays < 0 {
		c.History.RetentionDays = 0
	}
}

// ClampVolume limits a monitoring volume to the 0.0-1.0 range.
func ClampVolume(volume float64) float64 {
	switch {
	case math.IsNaN(volume):
		return defaultVolume
	case volume < 0:
		return 0
	case volume > 1:
		return 1
	default:
		return volume
	}
}
