package history_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"flaccapture/internal/audio"
	"flaccapture/internal/capture"
	"flaccapture/internal/encoding"
	"flaccapture/internal/fetch"
	"flaccapture/internal/history"
	"flaccapture/internal/services"
)

func openStore(t *testing.T) *history.Store {
	t.Helper()
	store, err := history.Open(filepath.Join(t.TempDir(), "state", "history.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestOpenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	first, err := history.Open(path)
	if err != nil {
		t.Fatalf("first open: %v", err)
	}
	if _, err := first.Insert(context.Background(), history.Record{JobID: "a", Playlist: "/in/a.m3u", Status: "succeeded"}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	second, err := history.Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer second.Close()
	records, err := second.List(context.Background(), 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(records) != 1 || records[0].JobID != "a" {
		t.Fatalf("expected record to survive reopen, got %+v", records)
	}
}

func TestOpenRequiresPath(t *testing.T) {
	if _, err := history.Open("  "); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestInsertRequiresPlaylist(t *testing.T) {
	store := openStore(t)
	if _, err := store.Insert(context.Background(), history.Record{JobID: "x"}); err == nil {
		t.Fatal("expected error when playlist missing")
	}
}

func TestListNewestFirstWithLimit(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	for i, name := range []string{"one", "two", "three"} {
		rec := history.Record{
			JobID:      name,
			Playlist:   "/in/" + name + ".m3u",
			Status:     string(capture.StatusSucceeded),
			StartedAt:  base.Add(time.Duration(i) * time.Minute),
			FinishedAt: base.Add(time.Duration(i)*time.Minute + 30*time.Second),
		}
		if _, err := store.Insert(ctx, rec); err != nil {
			t.Fatalf("insert %s: %v", name, err)
		}
	}

	records, err := store.List(ctx, 2)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if records[0].JobID != "three" || records[1].JobID != "two" {
		t.Fatalf("unexpected order: %s, %s", records[0].JobID, records[1].JobID)
	}
	if got := records[0].Duration(); got != 30*time.Second {
		t.Fatalf("unexpected duration: got %v want 30s", got)
	}
	if !records[0].FinishedAt.Equal(base.Add(2*time.Minute + 30*time.Second)) {
		t.Fatalf("finished_at not preserved: %v", records[0].FinishedAt)
	}
}

func TestFromOutcomeRoundTrip(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	start := time.Date(2026, 5, 6, 7, 8, 9, 0, time.UTC)

	succeeded := &capture.Outcome{
		JobID:     "job-ok",
		Playlist:  "/in/mix.m3u",
		Status:    capture.StatusSucceeded,
		Fetches:   []fetch.Result{{Index: 0}, {Index: 1, Err: errors.New("404")}},
		Assembled: &audio.Assembled{Path: "/out/mix.wav", Bytes: 4096},
		Encoded:   &encoding.Result{OutputPath: "/out/mix.flac", OutputSize: 2048, Method: encoding.MethodNative},
		StartedAt: start, FinishedAt: start.Add(time.Minute),
	}
	failed := &capture.Outcome{
		JobID:     "job-bad",
		Playlist:  "/in/bad.m3u",
		Status:    capture.StatusFailed,
		Err:       services.Wrap(services.ErrAssembly, "assemble", "concatenate", "no usable input", nil),
		StartedAt: start.Add(2 * time.Minute), FinishedAt: start.Add(3 * time.Minute),
	}
	if _, err := store.Insert(ctx, history.FromOutcome(succeeded, "processed")); err != nil {
		t.Fatalf("insert succeeded: %v", err)
	}
	if _, err := store.Insert(ctx, history.FromOutcome(failed, "failed")); err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	records, err := store.List(ctx, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	bad, ok := records[0], records[1]
	if bad.ErrorKind != services.ErrAssembly.Error() || bad.Disposition != "failed" || bad.OutputPath != "" {
		t.Fatalf("unexpected failed record: %+v", bad)
	}
	if ok.OutputPath != "/out/mix.flac" || ok.OutputBytes != 2048 || ok.EncodeMethod != string(encoding.MethodNative) {
		t.Fatalf("unexpected succeeded record: %+v", ok)
	}
	if ok.Streams != 2 || ok.Fetched != 1 {
		t.Fatalf("unexpected stream counts: streams=%d fetched=%d", ok.Streams, ok.Fetched)
	}

	summary, err := store.Summarize(ctx)
	if err != nil {
		t.Fatalf("summarize: %v", err)
	}
	if summary.Total != 2 || summary.Succeeded != 1 || summary.Failed != 1 || summary.Bytes != 2048 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
}

func TestPruneRemovesOldRecords(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	now := time.Now().UTC()
	for _, finished := range []time.Time{now.Add(-48 * time.Hour), now} {
		if _, err := store.Insert(ctx, history.Record{JobID: "j", Playlist: "/in/p.m3u", Status: "succeeded", StartedAt: finished, FinishedAt: finished}); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}
	removed, err := store.Prune(ctx, now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 pruned record, got %d", removed)
	}
	records, _ := store.List(ctx, 0)
	if len(records) != 1 {
		t.Fatalf("expected 1 remaining record, got %d", len(records))
	}
}

func TestFromOutcomeMarksAbortedQueue(t *testing.T) {
	out := &capture.Outcome{
		JobID:     "job-partial",
		Playlist:  "/in/partial.m3u",
		Status:    capture.StatusSucceeded,
		Requested: 3,
		Aborted:   true,
		Fetches:   []fetch.Result{{Index: 0}, {Index: 1, Err: services.ErrCancelled}},
		Assembled: &audio.Assembled{Path: "/out/partial.wav", Bytes: 1024},
	}
	rec := history.FromOutcome(out, "")
	if rec.Status != string(capture.StatusSucceeded) {
		t.Fatalf("expected succeeded status, got %q", rec.Status)
	}
	if rec.ErrorKind != services.ErrCancelled.Error() {
		t.Fatalf("expected cancelled error kind, got %q", rec.ErrorKind)
	}
	if rec.ErrorMessage != "fetch queue aborted after 1 of 3 streams" {
		t.Fatalf("unexpected error message: %q", rec.ErrorMessage)
	}
}
