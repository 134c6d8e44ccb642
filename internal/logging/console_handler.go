package logging

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	ansiReset  = "\x1b[0m"
	ansiRed    = "\x1b[31m"
	ansiYellow = "\x1b[33m"
	ansiGray   = "\x1b[90m"
)

// prettyHandler renders one human readable line per record:
//
//	2025-01-02T15:04:05Z INFO [3f2a9c1d fetch 2/5] fetcher: download complete url=... size="12 MiB"
//
// job_id, stage and stream move into the bracketed prefix; component becomes
// the message prefix. Remaining attributes follow as key=value pairs.
type prettyHandler struct {
	mu        *sync.Mutex
	writer    io.Writer
	level     *slog.LevelVar
	attrs     []slog.Attr
	groups    []string
	addSource bool
	color     bool
}

func newPrettyHandler(w io.Writer, lvl *slog.LevelVar, addSource, color bool) slog.Handler {
	return &prettyHandler{mu: &sync.Mutex{}, writer: w, level: lvl, addSource: addSource, color: color}
}

// headline collects the attributes rendered ahead of the message.
type headline struct {
	component string
	jobID     string
	stage     string
	stream    string
}

// take claims kv for the headline. The first value of each promoted key
// wins so handler-level attrs beat per-record duplicates.
func (h *headline) take(item kv) bool {
	var slot *string
	switch item.key {
	case FieldComponent:
		slot = &h.component
	case FieldJobID:
		slot = &h.jobID
	case FieldStage:
		slot = &h.stage
	case FieldStream:
		slot = &h.stream
	default:
		return false
	}
	if *slot == "" {
		*slot = attrString(item.value)
	}
	return true
}

func (h headline) prefix() string {
	parts := make([]string, 0, 3)
	for _, p := range []string{shortID(h.jobID), h.stage, h.stream} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, " ")
}

func (h *prettyHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *prettyHandler) Handle(_ context.Context, record slog.Record) error {
	if record.Level < h.level.Level() {
		return nil
	}

	kvs := make([]kv, 0, record.NumAttrs()+len(h.attrs))
	flattenAttrs(&kvs, h.groups, h.attrs)
	record.Attrs(func(attr slog.Attr) bool {
		flattenAttr(&kvs, h.groups, attr)
		return true
	})

	var head headline
	rest := kvs[:0]
	for _, item := range kvs {
		if item.key == "" || head.take(item) {
			continue
		}
		rest = append(rest, item)
	}
	rest = dedupeKVsByKey(rest)

	var buf bytes.Buffer
	buf.Grow(128 + len(rest)*24)
	h.writeHeader(&buf, record, head)
	for _, item := range rest {
		buf.WriteByte(' ')
		h.paint(&buf, ansiGray, item.key+"=")
		buf.WriteString(formatValue(item.value))
	}
	buf.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := h.writer.Write(buf.Bytes())
	return err
}

func (h *prettyHandler) writeHeader(buf *bytes.Buffer, record slog.Record, head headline) {
	ts := record.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	buf.WriteString(ts.UTC().Format(time.RFC3339))
	buf.WriteByte(' ')
	h.paint(buf, levelColor(record.Level), levelLabel(record.Level))
	buf.WriteByte(' ')

	if p := head.prefix(); p != "" {
		buf.WriteString("[" + p + "] ")
	}
	if head.component != "" {
		buf.WriteString(head.component + ": ")
	}
	if msg := strings.TrimSpace(record.Message); msg != "" {
		buf.WriteString(msg)
	} else {
		buf.WriteString("(no message)")
	}

	if !h.addSource {
		return
	}
	if src := record.Source(); src != nil {
		buf.WriteString(" [" + filepath.Base(src.File) + ":" + strconv.Itoa(src.Line) + "]")
	}
}

// paint writes s wrapped in color when colour output is on.
func (h *prettyHandler) paint(buf *bytes.Buffer, color, s string) {
	if !h.color || color == "" {
		buf.WriteString(s)
		return
	}
	buf.WriteString(color)
	buf.WriteString(s)
	buf.WriteString(ansiReset)
}

func (h *prettyHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := h.clone()
	clone.attrs = append(clone.attrs, attrs...)
	return clone
}

func (h *prettyHandler) WithGroup(name string) slog.Handler {
	clone := h.clone()
	clone.groups = append(clone.groups, name)
	return clone
}

func (h *prettyHandler) clone() *prettyHandler {
	c := *h
	c.attrs = append([]slog.Attr(nil), h.attrs...)
	c.groups = append([]string(nil), h.groups...)
	return &c
}

// shortID trims UUID-style job identifiers to their first block.
func shortID(id string) string {
	if idx := strings.IndexByte(id, '-'); idx > 0 {
		return id[:idx]
	}
	return id
}

func levelLabel(level slog.Level) string {
	switch {
	case level >= slog.LevelError:
		return "ERROR"
	case level >= slog.LevelWarn:
		return "WARN"
	case level >= slog.LevelInfo:
		return "INFO"
	default:
		return "DEBUG"
	}
}

func levelColor(level slog.Level) string {
	switch {
	case level >= slog.LevelError:
		return ansiRed
	case level >= slog.LevelWarn:
		return ansiYellow
	case level < slog.LevelInfo:
		return ansiGray
	default:
		return ""
	}
}
