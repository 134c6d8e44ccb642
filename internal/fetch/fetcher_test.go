package fetch_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"flaccapture/internal/fetch"
	"flaccapture/internal/logging"
	"flaccapture/internal/services"
)

func newFetcher(t *testing.T, timeout time.Duration) (*fetch.Fetcher, string) {
	t.Helper()
	dir := t.TempDir()
	return fetch.New(fetch.Options{Timeout: timeout, TempDir: dir, UserAgent: "flaccapture-test"}, logging.NewNop()), dir
}

func tempFiles(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read temp dir: %v", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestFetchStreamsBodyToTempFile(t *testing.T) {
	payload := bytes.Repeat([]byte("audio"), 4096)
	var gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		w.Header().Set("Content-Length", fmt.Sprint(len(payload)))
		_, _ = w.Write(payload)
	}))
	defer srv.Close()

	f, dir := newFetcher(t, time.Minute)
	result := f.Fetch(context.Background(), srv.URL+"/1.mp3")
	if !result.OK() {
		t.Fatalf("expected success, got %v", result.Err)
	}
	if result.Size != int64(len(payload)) {
		t.Fatalf("unexpected size: got %d want %d", result.Size, len(payload))
	}
	if !strings.HasPrefix(result.Path, dir) || !strings.HasSuffix(result.Path, ".tmp") {
		t.Fatalf("unexpected temp path: %q", result.Path)
	}
	data, err := os.ReadFile(result.Path)
	if err != nil {
		t.Fatalf("read fetched file: %v", err)
	}
	if !bytes.Equal(data, payload) {
		t.Fatal("fetched content mismatch")
	}
	if gotUA != "flaccapture-test" {
		t.Fatalf("unexpected user agent: %q", gotUA)
	}
}

func TestFetchNonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusNotFound)
	}))
	defer srv.Close()

	f, dir := newFetcher(t, time.Minute)
	result := f.Fetch(context.Background(), srv.URL+"/missing.mp3")
	if result.OK() {
		t.Fatal("expected failure")
	}
	if !errors.Is(result.Err, services.ErrFetch) {
		t.Fatalf("expected fetch error, got %v", result.Err)
	}
	if result.Cancelled() {
		t.Fatal("status failure must not be reported as cancellation")
	}
	if !strings.Contains(result.Err.Error(), "404") {
		t.Fatalf("expected status in error, got %v", result.Err)
	}
	if files := tempFiles(t, dir); len(files) != 0 {
		t.Fatalf("expected no temp files, got %v", files)
	}
}

func TestFetchMalformedURL(t *testing.T) {
	f, _ := newFetcher(t, time.Minute)
	result := f.Fetch(context.Background(), "::not a url")
	if !errors.Is(result.Err, services.ErrFetch) {
		t.Fatalf("expected fetch error, got %v", result.Err)
	}
}

func TestFetchTimeoutIsFetchError(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	f, dir := newFetcher(t, 50*time.Millisecond)
	result := f.Fetch(context.Background(), srv.URL)
	if !errors.Is(result.Err, services.ErrFetch) {
		t.Fatalf("expected fetch error on timeout, got %v", result.Err)
	}
	if result.Cancelled() {
		t.Fatal("timeout must not be reported as cancellation")
	}
	if files := tempFiles(t, dir); len(files) != 0 {
		t.Fatalf("expected no temp files, got %v", files)
	}
}

func TestFetchCancelledMidBodyRemovesPartialFile(t *testing.T) {
	started := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "10000000")
		_, _ = w.Write(bytes.Repeat([]byte{1}, 32*1024))
		w.(http.Flusher).Flush()
		close(started)
		<-r.Context().Done()
	}))
	defer srv.Close()

	f, dir := newFetcher(t, time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()

	result := f.Fetch(ctx, srv.URL+"/big.wav")
	if !result.Cancelled() {
		t.Fatalf("expected cancellation, got %v", result.Err)
	}
	if errors.Is(result.Err, services.ErrFetch) {
		t.Fatalf("cancellation must be distinct from fetch errors: %v", result.Err)
	}
	if files := tempFiles(t, dir); len(files) != 0 {
		t.Fatalf("expected partial file removed, got %v", files)
	}
}

func TestFetchAllSequentialContinuesPastFailures(t *testing.T) {
	var mu sync.Mutex
	var order []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		order = append(order, r.URL.Path)
		mu.Unlock()
		if r.URL.Path == "/2.mp3" {
			http.Error(w, "gone", http.StatusGone)
			return
		}
		_, _ = w.Write([]byte(r.URL.Path))
	}))
	defer srv.Close()

	f, _ := newFetcher(t, time.Minute)
	urls := []string{srv.URL + "/1.mp3", srv.URL + "/2.mp3", srv.URL + "/3.mp3"}
	results, err := f.FetchAll(context.Background(), urls, 1)
	if err != nil {
		t.Fatalf("FetchAll: %v", err)
	}
	defer fetch.Cleanup(results)

	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	if !results[0].OK() || results[1].OK() || !results[2].OK() {
		t.Fatalf("unexpected outcomes: %v %v %v", results[0].Err, results[1].Err, results[2].Err)
	}
	if got := fetch.Succeeded(results); len(got) != 2 || got[1].Index != 2 {
		t.Fatalf("unexpected successes: %+v", got)
	}
	want := []string{"/1.mp3", "/2.mp3", "/3.mp3"}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("unexpected request order: %v", order)
		}
	}
}

func TestFetchAllParallelPreservesOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/1" {
			time.Sleep(30 * time.Millisecond)
		}
		_, _ = w.Write([]byte(r.URL.Path))
	}))
	defer srv.Close()

	f, _ := newFetcher(t, time.Minute)
	urls := []string{srv.URL + "/1", srv.URL + "/2", srv.URL + "/3"}
	results, err := f.FetchAll(context.Background(), urls, 3)
	if err != nil {
		t.Fatalf("FetchAll: %v", err)
	}
	defer fetch.Cleanup(results)

	for i, r := range results {
		if !r.OK() {
			t.Fatalf("result %d failed: %v", i, r.Err)
		}
		if r.URL != urls[i] || r.Index != i {
			t.Fatalf("result %d out of order: %+v", i, r)
		}
		data, _ := os.ReadFile(r.Path)
		if string(data) != fmt.Sprintf("/%d", i+1) {
			t.Fatalf("result %d has wrong content %q", i, data)
		}
	}
}

func TestFetchAllCancellationStopsQueueAndKeepsCompletedDownloads(t *testing.T) {
	var hits sync.Map
	ctx, cancel := context.WithCancel(context.Background())
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Store(r.URL.Path, true)
		if r.URL.Path == "/2" {
			w.Header().Set("Content-Length", "1000000")
			_, _ = w.Write([]byte("partial"))
			w.(http.Flusher).Flush()
			cancel()
			<-r.Context().Done()
			return
		}
		_, _ = w.Write([]byte("complete"))
	}))
	defer srv.Close()

	f, dir := newFetcher(t, time.Minute)
	urls := []string{srv.URL + "/1", srv.URL + "/2", srv.URL + "/3"}
	results, err := f.FetchAll(ctx, urls, 1)
	if !errors.Is(err, services.ErrCancelled) {
		t.Fatalf("expected cancellation error, got %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected queue to stop after cancelled fetch, got %d results", len(results))
	}
	if _, ok := hits.Load("/3"); ok {
		t.Fatal("expected remaining URLs not to be requested")
	}
	if !results[0].OK() {
		t.Fatalf("expected the completed download to survive, got %v", results[0].Err)
	}
	if !results[1].Cancelled() {
		t.Fatalf("expected the interrupted download to be cancelled, got %v", results[1].Err)
	}
	if files := tempFiles(t, dir); len(files) != 1 {
		t.Fatalf("expected only the completed download on disk, got %v", files)
	}

	fetch.Cleanup(results)
	if files := tempFiles(t, dir); len(files) != 0 {
		t.Fatalf("expected zero temp files after cleanup, got %v", files)
	}
}

func TestFetchAllReportsCancellationBeforeFirstURL(t *testing.T) {
	var requests int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		_, _ = w.Write([]byte("complete"))
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	f, dir := newFetcher(t, time.Minute)
	for _, parallelism := range []int{1, 3} {
		results, err := f.FetchAll(ctx, []string{srv.URL + "/1", srv.URL + "/2"}, parallelism)
		if !errors.Is(err, services.ErrCancelled) {
			t.Fatalf("parallelism %d: expected cancellation error, got results=%d err=%v", parallelism, len(results), err)
		}
		if len(fetch.Succeeded(results)) != 0 {
			t.Fatalf("parallelism %d: expected nothing fetched", parallelism)
		}
	}
	if requests != 0 {
		t.Fatalf("expected no requests, got %d", requests)
	}
	if files := tempFiles(t, dir); len(files) != 0 {
		t.Fatalf("expected no temp files, got %v", files)
	}
}
