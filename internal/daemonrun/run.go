package daemonrun

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/google/renameio/v2"

	"flaccapture/internal/capture"
	"flaccapture/internal/config"
	"flaccapture/internal/daemon"
	"flaccapture/internal/history"
	"flaccapture/internal/logging"
	"flaccapture/internal/logs"
	"flaccapture/internal/notifications"
	"flaccapture/internal/preflight"
	"flaccapture/internal/watcher"
)

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel    string
	LogFormat   string
	Development bool
}

// Run starts the flaccapture watch daemon and blocks until SIGINT/SIGTERM or
// cmdCtx is cancelled.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return fmt.Errorf("ensure directories: %w", err)
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	runID := time.Now().UTC().Format("20060102T150405.000Z")
	logPath := filepath.Join(cfg.Paths.LogDir, fmt.Sprintf("flaccapture-%s.log", runID))
	level := opts.LogLevel
	if level == "" {
		level = cfg.Logging.Level
	}
	format := opts.LogFormat
	if format == "" {
		format = cfg.Logging.Format
	}
	logger, err := logging.New(logging.Options{
		Level:       level,
		Format:      format,
		OutputPaths: []string{"stdout", logPath},
		Development: opts.Development,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	if err := ensureCurrentLogPointer(cfg.Paths.LogDir, logPath); err != nil {
		fmt.Fprintf(os.Stderr, "warn: unable to update flaccapture.log link: %v\n", err)
	}
	logging.CleanupOldLogs(logger, cfg.Logging.RetentionDays, cfg.Paths.LogDir, "flaccapture-*.log", logPath)

	results := preflight.RunAll(cfg)
	logPreflight(logger, results)
	if err := preflight.Summarize(results); err != nil {
		logging.ErrorWithContext(logger, "preflight checks failed", "preflight_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "fix directory permissions or paths in the config file"),
		)
		return err
	}

	pidPath := cfg.PIDPath()
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	store, err := history.Open(cfg.HistoryPath())
	if err != nil {
		logger.Error("open history store", logging.Error(err))
		return err
	}
	defer store.Close()
	pruneHistory(signalCtx, logger, store, cfg.History.RetentionDays, time.Now())

	logStartupBanner(logger, cfg)

	orchestrator := capture.NewFromConfig(cfg, logger)
	service := watcher.New(watcher.OptionsFromConfig(cfg), orchestrator, logger)
	service.SetRecorder(store)
	service.SetNotifier(notifications.NewService(cfg))

	d, err := daemon.New(cfg, service, logger)
	if err != nil {
		return fmt.Errorf("create daemon: %w", err)
	}
	if err := d.Start(signalCtx); err != nil {
		return err
	}
	defer d.Stop()

	select {
	case <-signalCtx.Done():
	case <-d.Done():
		if err := d.Err(); err != nil {
			return err
		}
	}
	logger.Info("flaccapture daemon shutting down", logging.String(logging.FieldEventType, "daemon_shutdown"))
	return nil
}

// pruneHistory drops history records older than retentionDays. Zero keeps
// everything.
func pruneHistory(ctx context.Context, logger *slog.Logger, store *history.Store, retentionDays int, now time.Time) int64 {
	if retentionDays <= 0 {
		return 0
	}
	removed, err := store.Prune(ctx, now.AddDate(0, 0, -retentionDays))
	if err != nil {
		logger.Warn("history prune failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "old capture records are kept until the next start"),
		)
		return 0
	}
	if removed > 0 {
		logger.Info("pruned capture history",
			logging.Int64("removed", removed),
			logging.Int("retention_days", retentionDays),
		)
	}
	return removed
}

// logStartupBanner records the effective settings an operator usually wants
// to confirm when the daemon comes up.
func logStartupBanner(logger *slog.Logger, cfg *config.Config) {
	logger.Info("flaccapture starting",
		logging.String(logging.FieldEventType, "startup_banner"),
		logging.String("inbox", cfg.Paths.InputDir),
		logging.String("output", cfg.Paths.OutputDir),
		logging.Duration("scan_interval", cfg.RescanInterval()),
		logging.Duration("settle_delay", cfg.SettleDelay()),
		logging.String("volume", fmt.Sprintf("%.0f%%", config.ClampVolume(cfg.Capture.Volume)*100)),
		logging.Int("fetch_parallelism", cfg.Capture.FetchParallelism),
		logging.String("format_mismatch", cfg.Capture.FormatMismatch),
		logging.Bool("auto_convert", cfg.Encoding.AutoConvert),
		logging.Bool("auto_delete_wav", cfg.Encoding.AutoDeleteWAV),
		logging.Int("quality", cfg.Encoding.Quality),
	)
}

func logPreflight(logger *slog.Logger, results []preflight.Result) {
	for _, r := range results {
		switch {
		case r.Passed:
			logger.Debug("preflight check passed", logging.String("check", r.Name), logging.String("detail", r.Detail))
		case r.Optional:
			logging.WarnWithContext(logger, "optional dependency unavailable", "dependency_missing",
				logging.String("check", r.Name),
				logging.String("detail", r.Detail),
				logging.String(logging.FieldImpact, "conversion relies on the built-in encoder only"),
				logging.String(logging.FieldErrorHint, "install flac from https://xiph.org/flac/download.html"),
			)
		default:
			logger.Error("preflight check failed", logging.String("check", r.Name), logging.String("detail", r.Detail))
		}
	}
}

func ensureCurrentLogPointer(logDir, target string) error {
	if logDir == "" || target == "" {
		return nil
	}
	current := filepath.Join(logDir, logs.PointerName)
	if err := os.Remove(current); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove existing log pointer: %w", err)
	}
	if err := os.Symlink(target, current); err == nil {
		return nil
	}
	if err := os.Link(target, current); err != nil {
		return fmt.Errorf("link log pointer: %w", err)
	}
	return nil
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	return renameio.WriteFile(path, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644)
}
