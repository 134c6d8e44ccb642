package daemonctl

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"golang.org/x/sys/unix"

	"flaccapture/internal/config"
	"flaccapture/internal/deps"
	"flaccapture/internal/history"
	"flaccapture/internal/playlist"
	"flaccapture/internal/preflight"
)

const pollInterval = 100 * time.Millisecond

// ErrDaemonNotRunning indicates no daemon holds the lock.
var ErrDaemonNotRunning = errors.New("daemon not running")

// LaunchOptions controls daemon process launch behavior.
type LaunchOptions struct {
	ConfigPath string
	LogLevel   string
}

type StartState string

const (
	StartStateStarted        StartState = "started"
	StartStateAlreadyRunning StartState = "already_running"
)

// StartResult captures daemon start orchestration state.
type StartResult struct {
	State StartState
	PID   int
}

// StopResult captures daemon stop/termination outcome.
type StopResult struct {
	PID        int
	ForcedKill bool
}

// Launch starts a detached `flaccapture watch` process.
func Launch(executablePath string, opts LaunchOptions) error {
	if strings.TrimSpace(executablePath) == "" {
		return fmt.Errorf("resolve executable: executable path is empty")
	}
	args := []string{"watch"}
	if cfg := strings.TrimSpace(opts.ConfigPath); cfg != "" {
		args = append(args, "--config", cfg)
	}
	if level := strings.TrimSpace(opts.LogLevel); level != "" {
		args = append(args, "--log-level", level)
	}

	proc := exec.Command(executablePath, args...)
	proc.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := proc.Start(); err != nil {
		return fmt.Errorf("launch daemon: %w", err)
	}
	return proc.Process.Release()
}

// LockHeld reports whether some process holds the daemon lock.
func LockHeld(lockPath string) (bool, error) {
	if _, err := os.Stat(lockPath); errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	probe := flock.New(lockPath)
	acquired, err := probe.TryLock()
	if err != nil {
		return false, fmt.Errorf("probe daemon lock: %w", err)
	}
	if acquired {
		_ = probe.Unlock()
		return false, nil
	}
	return true, nil
}

// ReadPID returns the PID recorded in path, or 0 when none is recorded.
func ReadPID(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("read daemon pid file %q: %w", path, err)
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		return 0, nil
	}
	pid, err := strconv.Atoi(text)
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("daemon pid file %q holds %q", path, text)
	}
	return pid, nil
}

// Alive reports whether pid names a live process.
func Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}

// ProcessInfo returns whether the daemon is running and its PID when known.
func ProcessInfo(cfg *config.Config) (bool, int, error) {
	held, err := LockHeld(cfg.LockPath())
	if err != nil {
		return false, 0, err
	}
	pid, pidErr := ReadPID(cfg.PIDPath())
	if !held {
		return false, 0, nil
	}
	if pidErr != nil {
		return true, 0, pidErr
	}
	return true, pid, nil
}

// EnsureStarted launches a daemon unless one is already running and waits
// for it to take the lock.
func EnsureStarted(cfg *config.Config, executablePath string, opts LaunchOptions, waitTimeout time.Duration) (StartResult, error) {
	running, pid, err := ProcessInfo(cfg)
	if err != nil {
		return StartResult{}, err
	}
	if running {
		return StartResult{State: StartStateAlreadyRunning, PID: pid}, nil
	}
	if err := Launch(executablePath, opts); err != nil {
		return StartResult{}, err
	}

	deadline := time.Now().Add(waitTimeout)
	for time.Now().Before(deadline) {
		running, pid, err = ProcessInfo(cfg)
		if err == nil && running {
			return StartResult{State: StartStateStarted, PID: pid}, nil
		}
		time.Sleep(pollInterval)
	}
	return StartResult{}, fmt.Errorf("daemon did not start within %s; check %s", waitTimeout, cfg.Paths.LogDir)
}

// StopAndTerminate sends SIGTERM to the daemon and SIGKILL if it is still
// alive after gracePeriod.
func StopAndTerminate(cfg *config.Config, gracePeriod time.Duration) (StopResult, error) {
	running, pid, err := ProcessInfo(cfg)
	if err != nil {
		return StopResult{}, err
	}
	if !running {
		return StopResult{}, ErrDaemonNotRunning
	}
	if pid <= 0 {
		return StopResult{}, fmt.Errorf("unable to determine daemon pid (pid file: %s)", cfg.PIDPath())
	}
	return terminate(pid, cfg.PIDPath(), gracePeriod)
}

func terminate(pid int, pidPath string, gracePeriod time.Duration) (StopResult, error) {
	if pid == os.Getpid() {
		return StopResult{}, fmt.Errorf("refusing to signal current process (pid %d)", pid)
	}
	result := StopResult{PID: pid}
	if err := unix.Kill(pid, unix.SIGTERM); err != nil {
		if errors.Is(err, unix.ESRCH) {
			return result, nil
		}
		return result, fmt.Errorf("signal daemon process %d: %w", pid, err)
	}

	deadline := time.Now().Add(gracePeriod)
	for time.Now().Before(deadline) {
		if !Alive(pid) {
			return result, nil
		}
		time.Sleep(pollInterval)
	}

	if err := unix.Kill(pid, unix.SIGKILL); err != nil && !errors.Is(err, unix.ESRCH) {
		return result, fmt.Errorf("kill daemon process %d: %w", pid, err)
	}
	if err := os.Remove(pidPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return result, fmt.Errorf("remove pid file %q: %w", pidPath, err)
	}
	result.ForcedKill = true
	return result, nil
}

// Snapshot is the offline-capable daemon status report.
type Snapshot struct {
	Running      bool               `json:"running"`
	PID          int                `json:"pid,omitempty"`
	InputDir     string             `json:"input_dir"`
	Pending      int                `json:"pending"`
	History      *history.Summary   `json:"history,omitempty"`
	Dependencies []deps.Status      `json:"dependencies"`
	Checks       []preflight.Result `json:"checks"`
}

// BuildStatusSnapshot collects daemon liveness, history totals, pending
// inbox playlists and dependency state.
func BuildStatusSnapshot(ctx context.Context, cfg *config.Config) (*Snapshot, error) {
	if cfg == nil {
		return nil, errors.New("configuration not available")
	}
	snap := &Snapshot{InputDir: cfg.Paths.InputDir}

	running, pid, err := ProcessInfo(cfg)
	if err != nil {
		return nil, err
	}
	snap.Running = running
	snap.PID = pid

	pending, err := countPending(cfg.Paths.InputDir, cfg.Watch.Patterns)
	if err != nil {
		return nil, err
	}
	snap.Pending = pending

	if _, statErr := os.Stat(cfg.HistoryPath()); statErr == nil {
		queryCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if store, openErr := history.Open(cfg.HistoryPath()); openErr == nil {
			if summary, sumErr := store.Summarize(queryCtx); sumErr == nil {
				snap.History = &summary
			}
			_ = store.Close()
		}
	}

	snap.Dependencies = preflight.CheckSystemDeps(cfg)
	snap.Checks = preflight.RunAll(cfg)
	return snap, nil
}

func countPending(dir string, patterns []string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("read input dir: %w", err)
	}
	count := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if playlist.IsPlaylist(entry.Name(), patterns) {
			count++
		}
	}
	return count, nil
}
