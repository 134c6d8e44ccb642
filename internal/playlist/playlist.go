package playlist

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"flaccapture/internal/services"
	"flaccapture/internal/textutil"
)

// ErrEmptyPlaylist reports a playlist with no usable URL lines.
var ErrEmptyPlaylist = errors.New("playlist contains no stream urls")

// TimestampLayout formats the timestamp suffix of output base names.
const TimestampLayout = "20060102_150405"

const maxLineBytes = 1 << 20

// Job is one playlist admitted for capture. Its identity is Path, the
// absolute location of the playlist at discovery time.
type Job struct {
	Path         string
	URLs         []string
	DiscoveredAt time.Time
	// BaseName is the sanitized playlist file stem.
	BaseName string
}

// Parse reads playlist text and returns the stream URLs in order.
func Parse(r io.Reader) ([]string, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	var urls []string
	first := true
	for scanner.Scan() {
		line := scanner.Text()
		if first {
			line = strings.TrimPrefix(line, "\ufeff")
			first = false
		}
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		urls = append(urls, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read playlist: %w", err)
	}
	return urls, nil
}

// ParseString is Parse over an in-memory playlist.
func ParseString(text string) []string {
	urls, _ := Parse(strings.NewReader(text))
	return urls
}

// Load reads the playlist at path and builds a Job discovered at now.
// A playlist without URLs returns ErrEmptyPlaylist tagged as a validation
// error.
func Load(path string, now time.Time) (*Job, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, "playlist", "resolve path", path, err)
	}
	file, err := os.Open(abs)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, services.Wrap(services.ErrNotFound, "playlist", "open", abs, err)
		}
		return nil, services.Wrap(services.ErrTransient, "playlist", "open", abs, err)
	}
	defer file.Close()

	urls, err := Parse(file)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "playlist", "read", abs, err)
	}
	if len(urls) == 0 {
		return nil, services.Wrap(services.ErrValidation, "playlist", "parse", abs, ErrEmptyPlaylist)
	}

	return &Job{
		Path:         abs,
		URLs:         urls,
		DiscoveredAt: now,
		BaseName:     Stem(abs),
	}, nil
}

// Stem returns the sanitized file name of path without its extension.
func Stem(path string) string {
	name := filepath.Base(path)
	name = strings.TrimSuffix(name, filepath.Ext(name))
	if clean := textutil.SanitizeFileName(name); clean != "" {
		return clean
	}
	return "playlist"
}

// OutputBase returns the output file name (without extension) for a job
// started at start: <prefix><stem>_<yyyyMMdd_HHmmss>.
func (j *Job) OutputBase(prefix string, start time.Time) string {
	return OutputBase(prefix, j.BaseName, start)
}

// OutputBase builds <prefix><stem>_<yyyyMMdd_HHmmss>. An empty stem yields
// <prefix><yyyyMMdd_HHmmss>.
func OutputBase(prefix, stem string, start time.Time) string {
	stamp := start.Format(TimestampLayout)
	if stem == "" {
		return prefix + stamp
	}
	return prefix + stem + "_" + stamp
}

// IsPlaylist reports whether name matches one of the glob patterns
// (case-insensitive on the file name).
func IsPlaylist(name string, patterns []string) bool {
	base := strings.ToLower(filepath.Base(name))
	for _, pattern := range patterns {
		if ok, err := filepath.Match(strings.ToLower(pattern), base); err == nil && ok {
			return true
		}
	}
	return false
}
