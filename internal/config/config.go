package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/renameio/v2"
	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	InputDir  string `toml:"input_dir"`
	OutputDir string `toml:"output_dir"`
	StateDir  string `toml:"state_dir"`
	LogDir    string `toml:"log_dir"`
}

// Watch contains playlist discovery settings.
type Watch struct {
	RescanIntervalSeconds int      `toml:"rescan_interval_seconds"`
	SettleDelaySeconds    int      `toml:"settle_delay_seconds"`
	Patterns              []string `toml:"patterns"`
}

// Capture contains per-job download and assembly settings.
type Capture struct {
	// Volume is the monitoring playback volume (0.0-1.0). It never affects
	// the captured samples.
	Volume              float64 `toml:"volume"`
	OutputPrefix        string  `toml:"output_prefix"`
	FetchTimeoutSeconds int     `toml:"fetch_timeout_seconds"`
	// FetchParallelism > 1 downloads URLs concurrently; assembly order is
	// still playlist order.
	FetchParallelism int    `toml:"fetch_parallelism"`
	UserAgent        string `toml:"user_agent"`
	FormatMismatch   string `toml:"format_mismatch"`
}

// Encoding contains lossless compression settings.
type Encoding struct {
	AutoConvert   bool   `toml:"auto_convert"`
	AutoDeleteWAV bool   `toml:"auto_delete_wav"`
	Quality       int    `toml:"quality"`
	OpenAttempts  int    `toml:"open_attempts"`
	FlacBinary    string `toml:"flac_binary"`
	Native        bool   `toml:"native"`
}

// Notifications contains configuration for ntfy push notifications.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
	JobSucceeded   bool   `toml:"job_succeeded"`
	JobFailed      bool   `toml:"job_failed"`
}

// History contains settings for the capture history database.
type History struct {
	// RetentionDays prunes records older than this many days when the
	// daemon starts. Zero keeps every record.
	RetentionDays int `toml:"retention_days"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format        string `toml:"format"`
	Level         string `toml:"level"`
	RetentionDays int    `toml:"retention_days"`
}

// Config encapsulates all configuration values for flaccapture.
//
// Configuration sections by subsystem:
//   - Paths: inbox, output, state and log directories
//   - Watch: rescan cadence, settle delay, playlist patterns
//   - Capture: monitoring volume, fetch policy, output naming, format mismatch policy
//   - Encoding: FLAC conversion, cleanup and encoder lookup
//   - Notifications: ntfy push notification settings
//   - History: capture history retention
//   - Logging: log format, level, and retention
type Config struct {
	Paths         Paths         `toml:"paths"`
	Watch         Watch         `toml:"watch"`
	Capture       Capture       `toml:"capture"`
	Encoding      Encoding      `toml:"encoding"`
	Notifications Notifications `toml:"notifications"`
	History       History       `toml:"history"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigFile)
}

// Load locates, parses, and validates a configuration file. A .env file in the
// working directory is loaded first; variables already present in the
// environment are not overridden. The returned config has all path fields
// expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			return nil, "", false, fmt.Errorf("load .env: %w", err)
		}
	}

	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigFile)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("flaccapture.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
// The processed/ and failed/ subdirectories are created on demand by the
// watcher, not here.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.InputDir, c.Paths.OutputDir, c.Paths.StateDir, c.Paths.LogDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// RescanInterval returns the periodic rescan interval.
func (c *Config) RescanInterval() time.Duration {
	return time.Duration(c.Watch.RescanIntervalSeconds) * time.Second
}

// SettleDelay returns how long a newly observed playlist is left alone before it is read.
func (c *Config) SettleDelay() time.Duration {
	return time.Duration(c.Watch.SettleDelaySeconds) * time.Second
}

// FetchTimeout returns the per-URL download timeout.
func (c *Config) FetchTimeout() time.Duration {
	return time.Duration(c.Capture.FetchTimeoutSeconds) * time.Second
}

// HistoryPath returns the location of the job history database.
func (c *Config) HistoryPath() string {
	return filepath.Join(c.Paths.StateDir, "history.db")
}

// LockPath returns the daemon single-instance lock file.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.StateDir, "flaccapture.lock")
}

// PIDPath returns the daemon pid file.
func (c *Config) PIDPath() string {
	return filepath.Join(c.Paths.StateDir, "flaccapture.pid")
}

// ProcessedDir returns the directory successful playlists are moved into.
func (c *Config) ProcessedDir() string {
	return filepath.Join(c.Paths.InputDir, "processed")
}

// FailedDir returns the directory failed playlists are moved into.
func (c *Config) FailedDir() string {
	return filepath.Join(c.Paths.InputDir, "failed")
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := renameio.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

// Encode renders the configuration as TOML.
func (c *Config) Encode() ([]byte, error) {
	data, err := toml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	return data, nil
}
