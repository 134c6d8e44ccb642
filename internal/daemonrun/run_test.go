package daemonrun

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"flaccapture/internal/history"
	"flaccapture/internal/logging"
	"flaccapture/internal/testsupport"
)

func TestWritePIDFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flaccapture.pid")
	if err := writePIDFile(path); err != nil {
		t.Fatalf("writePIDFile: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read pid: %v", err)
	}
	if got := strings.TrimSpace(string(data)); got != strconv.Itoa(os.Getpid()) {
		t.Fatalf("unexpected pid: got %q want %d", got, os.Getpid())
	}
	if err := writePIDFile(""); err != nil {
		t.Fatalf("empty path should be ignored: %v", err)
	}
}

func TestEnsureCurrentLogPointer(t *testing.T) {
	dir := t.TempDir()
	first := filepath.Join(dir, "flaccapture-1.log")
	second := filepath.Join(dir, "flaccapture-2.log")
	for _, p := range []string{first, second} {
		if err := os.WriteFile(p, []byte(filepath.Base(p)), 0o644); err != nil {
			t.Fatalf("write log: %v", err)
		}
	}
	if err := ensureCurrentLogPointer(dir, first); err != nil {
		t.Fatalf("first pointer: %v", err)
	}
	if err := ensureCurrentLogPointer(dir, second); err != nil {
		t.Fatalf("second pointer: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(dir, "flaccapture.log"))
	if err != nil {
		t.Fatalf("read pointer: %v", err)
	}
	if string(data) != "flaccapture-2.log" {
		t.Fatalf("pointer targets wrong log: %q", data)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithoutConversion())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Run(ctx, cfg, Options{LogLevel: "error"}) }()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := os.Stat(cfg.PIDPath()); err == nil {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if _, err := os.Stat(cfg.PIDPath()); err != nil {
		cancel()
		t.Fatalf("expected pid file while running: %v", err)
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
	if _, err := os.Stat(cfg.PIDPath()); !os.IsNotExist(err) {
		t.Fatalf("expected pid file removed, stat err=%v", err)
	}
	if _, err := os.Stat(cfg.HistoryPath()); err != nil {
		t.Fatalf("expected history database created: %v", err)
	}
	matches, _ := filepath.Glob(filepath.Join(cfg.Paths.LogDir, "flaccapture-*.log"))
	if len(matches) != 1 {
		t.Fatalf("expected one run log, got %v", matches)
	}
}

func TestPruneHistoryHonoursRetention(t *testing.T) {
	store, err := history.Open(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("open history: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	for i, age := range []time.Duration{400 * 24 * time.Hour, 10 * 24 * time.Hour} {
		finished := now.Add(-age)
		rec := history.Record{
			JobID:      "job-" + strconv.Itoa(i),
			Playlist:   "/in/" + strconv.Itoa(i) + ".m3u",
			Status:     "succeeded",
			StartedAt:  finished,
			FinishedAt: finished,
		}
		if _, err := store.Insert(ctx, rec); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	if removed := pruneHistory(ctx, logging.NewNop(), store, 0, now); removed != 0 {
		t.Fatalf("zero retention must keep everything, removed %d", removed)
	}
	if removed := pruneHistory(ctx, logging.NewNop(), store, 365, now); removed != 1 {
		t.Fatalf("expected one expired record removed, got %d", removed)
	}
	records, err := store.List(ctx, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(records) != 1 || records[0].JobID != "job-1" {
		t.Fatalf("unexpected remaining records: %+v", records)
	}
}
