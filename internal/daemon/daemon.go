package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/gofrs/flock"

	"flaccapture/internal/config"
	"flaccapture/internal/logging"
	"flaccapture/internal/watcher"
)

// Daemon runs the watch service and enforces single-instance execution.
type Daemon struct {
	cfg     *config.Config
	service *watcher.Service
	logger  *slog.Logger

	lockPath string
	lock     *flock.Flock

	mu      sync.Mutex
	running atomic.Bool
	cancel  context.CancelFunc
	done    chan struct{}
	runErr  error
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool
	LockFilePath string
	Processing   []string
	Processed    int
	Failed       int
}

// New constructs a daemon around an already configured watch service.
func New(cfg *config.Config, service *watcher.Service, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil || service == nil || logger == nil {
		return nil, errors.New("daemon requires config, watch service, and logger")
	}
	lockPath := cfg.LockPath()
	return &Daemon{
		cfg:      cfg,
		service:  service,
		logger:   logging.NewComponentLogger(logger, "daemon"),
		lockPath: lockPath,
		lock:     flock.New(lockPath, flock.SetPermissions(0o644)),
	}, nil
}

// Start acquires the daemon lock and launches the watch service.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	if err := os.MkdirAll(filepath.Dir(d.lockPath), 0o755); err != nil {
		return fmt.Errorf("create lock directory: %w", err)
	}
	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return fmt.Errorf("another flaccapture daemon is already watching (lock %s)", d.lockPath)
	}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	d.cancel = cancel
	d.done = done
	d.runErr = nil
	d.running.Store(true)

	go func() {
		defer close(done)
		if err := d.service.Run(runCtx); err != nil {
			d.runErr = err
			logging.ErrorWithContext(d.logger, "watch service stopped unexpectedly", "watch_failed",
				logging.Error(err),
				logging.String(logging.FieldImpact, "new playlists are not being captured"),
			)
		}
	}()

	d.logger.Info("flaccapture daemon started",
		logging.String(logging.FieldEventType, "daemon_started"),
		logging.String("lock", d.lockPath),
	)
	return nil
}

// Stop cancels the watch service, waits for the job in flight and releases
// the daemon lock.
func (d *Daemon) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.running.Load() {
		return
	}

	d.cancel()
	<-d.done
	d.service.Wait()
	d.cancel = nil

	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("flaccapture daemon stopped", logging.String(logging.FieldEventType, "daemon_stopped"))
}

// Done is closed when the watch service returns. It is nil before Start.
func (d *Daemon) Done() <-chan struct{} {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.done
}

// Err reports why the watch service returned early, if it did.
func (d *Daemon) Err() error {
	done := d.Done()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return d.runErr
	default:
		return nil
	}
}

// Status returns the current daemon status.
func (d *Daemon) Status() Status {
	registry := d.service.Registry()
	counts := registry.Counts()
	return Status{
		Running:      d.running.Load(),
		LockFilePath: d.lockPath,
		Processing:   registry.Processing(),
		Processed:    counts[watcher.DispositionProcessed],
		Failed:       counts[watcher.DispositionFailed],
	}
}
