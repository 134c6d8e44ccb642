package logs

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/fsnotify/fsnotify"
)

// PointerName is the stable name the daemon links to its active run log.
const PointerName = "flaccapture.log"

const (
	runLogPattern = "flaccapture-*.log"
	pollInterval  = 250 * time.Millisecond
	maxLineBytes  = 1024 * 1024
)

// ErrNoLogs reports that the log directory holds no daemon logs yet.
var ErrNoLogs = errors.New("no daemon logs found")

// Current resolves the log file the daemon is writing to.
func Current(logDir string) (string, error) {
	if logDir == "" {
		return "", fmt.Errorf("log directory not configured")
	}
	pointer := filepath.Join(logDir, PointerName)
	if resolved, err := filepath.EvalSymlinks(pointer); err == nil {
		return resolved, nil
	}
	matches, err := filepath.Glob(filepath.Join(logDir, runLogPattern))
	if err != nil {
		return "", fmt.Errorf("list run logs: %w", err)
	}
	if len(matches) == 0 {
		if _, err := os.Stat(pointer); err == nil {
			return pointer, nil
		}
		return "", ErrNoLogs
	}
	sort.Slice(matches, func(i, j int) bool {
		return modTime(matches[i]).After(modTime(matches[j]))
	})
	return matches[0], nil
}

func modTime(path string) time.Time {
	info, err := os.Stat(path)
	if err != nil {
		return time.Time{}
	}
	return info.ModTime()
}

// Last returns up to limit trailing lines of path and the offset just past
// them. A limit <= 0 returns no lines and the end offset.
func Last(path string, limit int) ([]string, int64, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("open log file: %w", err)
	}
	defer file.Close()

	if limit <= 0 {
		end, err := file.Seek(0, io.SeekEnd)
		if err != nil {
			return nil, 0, fmt.Errorf("seek log file: %w", err)
		}
		return nil, end, nil
	}

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	ring := make([]string, limit)
	count, next := 0, 0
	for scanner.Scan() {
		ring[next] = scanner.Text()
		next = (next + 1) % limit
		if count < limit {
			count++
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, 0, fmt.Errorf("read log file: %w", err)
	}
	end, err := file.Seek(0, io.SeekCurrent)
	if err != nil {
		return nil, 0, fmt.Errorf("determine log offset: %w", err)
	}

	lines := make([]string, count)
	start := 0
	if count == limit {
		start = next
	}
	for i := range count {
		lines[i] = ring[(start+i)%limit]
	}
	return lines, end, nil
}

// ReadFrom returns the complete lines written after offset and the offset
// following the last one. A partial trailing line is left for the next read.
// An offset past the end of the file (truncation) restarts from zero.
func ReadFrom(path string, offset int64) ([]string, int64, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, offset, fmt.Errorf("open log file: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return nil, offset, fmt.Errorf("stat log file: %w", err)
	}
	if offset < 0 || offset > info.Size() {
		offset = 0
	}
	if _, err := file.Seek(offset, io.SeekStart); err != nil {
		return nil, offset, fmt.Errorf("seek log file: %w", err)
	}

	reader := bufio.NewReader(file)
	var lines []string
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return lines, offset, fmt.Errorf("read log file: %w", err)
		}
		offset += int64(len(line))
		lines = append(lines, line[:len(line)-1])
	}
	return lines, offset, nil
}

// Follow streams lines appended to the active log after offset to emit until
// ctx ends. When the daemon starts a new run log Follow switches to it from
// the beginning.
func Follow(ctx context.Context, logDir, path string, offset int64, emit func(string)) error {
	watcher, err := fsnotify.NewWatcher()
	var events <-chan fsnotify.Event
	var watchErrs <-chan error
	if err == nil {
		defer watcher.Close()
		if addErr := watcher.Add(logDir); addErr == nil {
			events = watcher.Events
			watchErrs = watcher.Errors
		}
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		lines, next, err := ReadFrom(path, offset)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
		for _, line := range lines {
			emit(line)
		}
		offset = next

		if current, err := Current(logDir); err == nil && current != path {
			path, offset = current, 0
			continue
		}

		select {
		case <-ctx.Done():
			return nil
		case <-events:
		case <-watchErrs:
		case <-ticker.C:
		}
	}
}
