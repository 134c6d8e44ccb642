package config

const (
	defaultInputDir              = "~/.local/share/flaccapture/inbox"
	defaultOutputDir             = "~/Music/captures"
	defaultStateDir              = "~/.local/share/flaccapture"
	defaultLogDir                = "~/.local/share/flaccapture/logs"
	defaultLogRetentionDays      = 30
	defaultHistoryRetentionDays  = 365
	defaultLogFormat             = "console"
	defaultLogLevel              = "info"
	defaultRescanIntervalSeconds = 30
	defaultSettleDelaySeconds    = 2
	defaultVolume                = 0.7
	defaultFetchTimeoutSeconds   = 1800
	defaultFetchParallelism      = 1
	defaultUserAgent             = "flaccapture/dev"
	defaultFormatMismatch        = FormatMismatchResample
	defaultQuality               = 100
	defaultOpenAttempts          = 3
	defaultFlacBinary            = "flac"
	defaultNotifyRequestTimeout  = 10
	maxFetchTimeoutSeconds       = 86400
	maxFetchParallelism          = 16
	maxRescanIntervalSeconds     = 86400
	maxSettleDelaySeconds        = 300
	maxOpenAttempts              = 10
	envInputDir                  = "FLACCAPTURE_INPUT_DIR"
	envOutputDir                 = "FLACCAPTURE_OUTPUT_DIR"
	envVolume                    = "FLACCAPTURE_VOLUME"
	envQuality                   = "FLACCAPTURE_QUALITY"
	envNtfyTopic                 = "FLACCAPTURE_NTFY_TOPIC"
	envLogLevel                  = "FLACCAPTURE_LOG_LEVEL"
	defaultConfigFile            = "~/.config/flaccapture/config.toml"
)

// Format mismatch policies for multi-stream assembly.
const (
	FormatMismatchResample = "resample"
	FormatMismatchReject   = "reject"
)

var defaultPatterns = []string{"*.m3u", "*.m3u8"}

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			InputDir:  defaultInputDir,
			OutputDir: defaultOutputDir,
			StateDir:  defaultStateDir,
			LogDir:    defaultLogDir,
		},
		Watch: Watch{
			RescanIntervalSeconds: defaultRescanIntervalSeconds,
			SettleDelaySeconds:    defaultSettleDelaySeconds,
			Patterns:              append([]string(nil), defaultPatterns...),
		},
		Capture: Capture{
			Volume:              defaultVolume,
			FetchTimeoutSeconds: defaultFetchTimeoutSeconds,
			FetchParallelism:    defaultFetchParallelism,
			UserAgent:           defaultUserAgent,
			FormatMismatch:      defaultFormatMismatch,
		},
		Encoding: Encoding{
			AutoConvert:   true,
			AutoDeleteWAV: true,
			Quality:       defaultQuality,
			OpenAttempts:  defaultOpenAttempts,
			FlacBinary:    defaultFlacBinary,
			Native:        true,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyRequestTimeout,
			JobSucceeded:   true,
			JobFailed:      true,
		},
		History: History{
			RetentionDays: defaultHistoryRetentionDays,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
	}
}
