package watcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/robfig/cron/v3"

	"flaccapture/internal/capture"
	"flaccapture/internal/config"
	"flaccapture/internal/history"
	"flaccapture/internal/logging"
	"flaccapture/internal/notifications"
	"flaccapture/internal/playlist"
)

const (
	defaultRescanInterval = 30 * time.Second
	stageName             = "watch"
)

// Runner executes one capture job.
type Runner interface {
	Run(ctx context.Context, job *playlist.Job) *capture.Outcome
}

// Recorder persists finished jobs.
type Recorder interface {
	Insert(ctx context.Context, rec history.Record) (int64, error)
}

// Options configures a Service.
type Options struct {
	InputDir       string
	ProcessedDir   string
	FailedDir      string
	Patterns       []string
	RescanInterval time.Duration
	SettleDelay    time.Duration
}

// OptionsFromConfig maps the paths and watch sections onto Options.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		InputDir:       cfg.Paths.InputDir,
		ProcessedDir:   cfg.ProcessedDir(),
		FailedDir:      cfg.FailedDir(),
		Patterns:       append([]string(nil), cfg.Watch.Patterns...),
		RescanInterval: cfg.RescanInterval(),
		SettleDelay:    cfg.SettleDelay(),
	}
}

// Service watches the inbox and runs admitted playlists sequentially.
type Service struct {
	opts     Options
	runner   Runner
	registry *Registry
	recorder Recorder
	notifier notifications.Service
	logger   *slog.Logger
	now      func() time.Time

	queue   chan string
	wg      sync.WaitGroup
	running atomic.Bool
}

// New constructs a Service. Missing ProcessedDir/FailedDir default to
// processed/ and failed/ under InputDir.
func New(opts Options, runner Runner, logger *slog.Logger) *Service {
	if opts.ProcessedDir == "" {
		opts.ProcessedDir = filepath.Join(opts.InputDir, "processed")
	}
	if opts.FailedDir == "" {
		opts.FailedDir = filepath.Join(opts.InputDir, "failed")
	}
	if len(opts.Patterns) == 0 {
		opts.Patterns = []string{"*.m3u"}
	}
	if opts.RescanInterval <= 0 {
		opts.RescanInterval = defaultRescanInterval
	}
	if opts.SettleDelay < 0 {
		opts.SettleDelay = 0
	}
	return &Service{
		opts:     opts,
		runner:   runner,
		registry: NewRegistry(),
		notifier: notifications.NewService(nil),
		logger:   logging.NewComponentLogger(logger, "watcher"),
		now:      time.Now,
		queue:    make(chan string, 1),
	}
}

// SetRecorder attaches a history store.
func (s *Service) SetRecorder(r Recorder) {
	s.recorder = r
}

// SetNotifier replaces the default no-op notifier.
func (s *Service) SetNotifier(n notifications.Service) {
	if n != nil {
		s.notifier = n
	}
}

// Registry exposes the identity registry.
func (s *Service) Registry() *Registry {
	return s.registry
}

// Run watches the inbox until ctx is cancelled, then waits for the job in
// flight to stop before returning.
func (s *Service) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return errors.New("watch service already running")
	}
	defer s.running.Store(false)

	if err := os.MkdirAll(s.opts.InputDir, 0o755); err != nil {
		return fmt.Errorf("create inbox: %w", err)
	}

	s.wg.Add(1)
	defer s.wg.Wait()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go s.worker(ctx)

	events, errs, closeWatcher := s.startNotify()
	defer closeWatcher()

	s.scan(ctx)

	scheduler := cron.New(cron.WithChain(
		cron.Recover(cronLogger{s.logger}),
		cron.SkipIfStillRunning(cronLogger{s.logger}),
	))
	schedule := "@every " + s.opts.RescanInterval.String()
	if _, err := scheduler.AddFunc(schedule, func() { s.scan(ctx) }); err != nil {
		return fmt.Errorf("schedule rescan %q: %w", schedule, err)
	}
	scheduler.Start()
	defer func() { <-scheduler.Stop().Done() }()

	s.logger.Info("watching inbox",
		logging.String(logging.FieldEventType, "watch_started"),
		logging.String("inbox", s.opts.InputDir),
		logging.Duration("rescan_interval", s.opts.RescanInterval),
		logging.Bool("fsnotify", events != nil),
	)

	for {
		select {
		case <-ctx.Done():
			counts := s.registry.Counts()
			s.logger.Info("watch service stopping",
				logging.String(logging.FieldEventType, "watch_stopped"),
				logging.Int("processed", counts[DispositionProcessed]),
				logging.Int("failed", counts[DispositionFailed]),
				logging.Int("in_flight", counts[DispositionProcessing]),
			)
			return nil
		case event, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			s.handleEvent(ctx, event)
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			s.logger.Warn("filesystem watcher error", logging.Error(err))
		}
	}
}

// Wait blocks until the worker goroutine has exited.
func (s *Service) Wait() {
	s.wg.Wait()
}

// startNotify registers the inbox with fsnotify. On failure the service keeps
// running on rescans alone and the returned channels are nil.
func (s *Service) startNotify() (<-chan fsnotify.Event, <-chan error, func()) {
	w, err := fsnotify.NewWatcher()
	if err == nil {
		if addErr := w.Add(s.opts.InputDir); addErr != nil {
			_ = w.Close()
			err = addErr
		}
	}
	if err != nil {
		logging.WarnWithContext(s.logger, "filesystem notifications unavailable", "fsnotify_unavailable",
			logging.Error(err),
			logging.String(logging.FieldImpact, "new playlists are picked up on the next rescan"),
			logging.String(logging.FieldErrorHint, "raise fs.inotify.max_user_watches or shorten rescan_interval_seconds"),
		)
		return nil, nil, func() {}
	}
	return w.Events, w.Errors, func() { _ = w.Close() }
}

func (s *Service) handleEvent(ctx context.Context, event fsnotify.Event) {
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) && !event.Has(fsnotify.Rename) {
		return
	}
	if event.Has(fsnotify.Rename) && !event.Has(fsnotify.Create) {
		// The old name of a moved file; only interesting if it came back.
		if _, err := os.Stat(event.Name); err != nil {
			return
		}
	}
	s.offer(ctx, event.Name)
}

// scan offers every playlist currently in the inbox.
func (s *Service) scan(ctx context.Context) {
	entries, err := os.ReadDir(s.opts.InputDir)
	if err != nil {
		s.logger.Warn("inbox scan failed", logging.String("inbox", s.opts.InputDir), logging.Error(err))
		return
	}
	for _, entry := range entries {
		if ctx.Err() != nil {
			return
		}
		if entry.IsDir() {
			continue
		}
		s.offer(ctx, filepath.Join(s.opts.InputDir, entry.Name()))
	}
}

// offer is the single admission path for both discovery sources.
func (s *Service) offer(ctx context.Context, path string) bool {
	if !playlist.IsPlaylist(path, s.opts.Patterns) {
		return false
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	if !s.registry.TryAdmit(abs) {
		return false
	}
	select {
	case s.queue <- abs:
		s.logger.Debug("playlist admitted", logging.String(logging.FieldPlaylist, abs))
		return true
	case <-ctx.Done():
		s.registry.Release(abs)
		return false
	}
}

func (s *Service) worker(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case path := <-s.queue:
			s.process(ctx, path)
		}
	}
}

type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("scheduler: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Warn("scheduler: "+msg, append(keysAndValues, logging.Error(err))...)
}
