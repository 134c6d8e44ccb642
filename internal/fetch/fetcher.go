package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"flaccapture/internal/logging"
	"flaccapture/internal/services"
)

// DefaultTimeout tolerates very large recordings on slow links.
const DefaultTimeout = 30 * time.Minute

const stageName = "fetch"

// Options configures a Fetcher.
type Options struct {
	// Timeout bounds each request including the body transfer.
	Timeout time.Duration
	// TempDir receives the downloaded fragments; os.TempDir() when empty.
	TempDir   string
	UserAgent string
	// Client overrides the HTTP client. Its own Timeout is left untouched.
	Client *http.Client
}

// Result is the outcome of fetching one URL. Path is owned by the caller once
// returned and is empty unless the fetch succeeded.
type Result struct {
	Index         int
	URL           string
	Path          string
	Size          int64
	ContentLength int64
	Duration      time.Duration
	Err           error
}

// OK reports whether the fetch produced a usable file.
func (r Result) OK() bool {
	return r.Err == nil && r.Path != ""
}

// Cancelled reports whether the fetch stopped because of cancellation.
func (r Result) Cancelled() bool {
	return errors.Is(r.Err, services.ErrCancelled)
}

// Fetcher retrieves stream URLs to local temporary storage.
type Fetcher struct {
	client    *http.Client
	timeout   time.Duration
	tempDir   string
	userAgent string
	logger    *slog.Logger
}

// New constructs a Fetcher.
func New(opts Options, logger *slog.Logger) *Fetcher {
	client := opts.Client
	if client == nil {
		client = &http.Client{}
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	tempDir := opts.TempDir
	if tempDir == "" {
		tempDir = os.TempDir()
	}
	return &Fetcher{
		client:    client,
		timeout:   timeout,
		tempDir:   tempDir,
		userAgent: opts.UserAgent,
		logger:    logging.NewComponentLogger(logger, "fetcher"),
	}
}

// Fetch downloads url into a fresh temporary file.
func (f *Fetcher) Fetch(ctx context.Context, url string) Result {
	start := time.Now()
	result := Result{URL: url, ContentLength: -1}
	logger := logging.WithContext(ctx, f.logger).With(logging.String("url", url))

	reqCtx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		result.Err = services.Wrap(services.ErrFetch, stageName, "build request", url, err)
		return f.finish(logger, result, start)
	}
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		result.Err = f.classify(ctx, url, "request", err)
		return f.finish(logger, result, start)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		result.Err = services.Wrap(services.ErrFetch, stageName, "status", fmt.Sprintf("%s returned %s", url, resp.Status), nil)
		return f.finish(logger, result, start)
	}

	result.ContentLength = resp.ContentLength
	logger.Info("download started", logging.Bytes("size", resp.ContentLength))

	path := filepath.Join(f.tempDir, "stream_"+uuid.NewString()+".tmp")
	file, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		result.Err = services.Wrap(services.ErrFetch, stageName, "create temp file", path, err)
		return f.finish(logger, result, start)
	}

	counter := &progressWriter{
		total:   resp.ContentLength,
		sampler: logging.NewProgressSampler(25, 0),
		logger:  logger,
	}
	written, copyErr := io.Copy(io.MultiWriter(file, counter), resp.Body)
	closeErr := file.Close()
	if copyErr == nil && closeErr != nil {
		copyErr = closeErr
	}
	if copyErr == nil && resp.ContentLength > 0 && written != resp.ContentLength {
		copyErr = fmt.Errorf("short body: got %d of %d bytes", written, resp.ContentLength)
	}
	if copyErr != nil {
		_ = os.Remove(path)
		result.Err = f.classify(ctx, url, "copy body", copyErr)
		return f.finish(logger, result, start)
	}

	result.Path = path
	result.Size = written
	return f.finish(logger, result, start)
}

// classify separates caller cancellation from ordinary transfer failures.
// A per-request timeout is a fetch error, not a cancellation.
func (f *Fetcher) classify(ctx context.Context, url, op string, err error) error {
	if ctx.Err() != nil {
		return services.Wrap(services.ErrCancelled, stageName, op, url, ctx.Err())
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return services.Wrap(services.ErrFetch, stageName, op, fmt.Sprintf("%s timed out after %s", url, f.timeout), err)
	}
	return services.Wrap(services.ErrFetch, stageName, op, url, err)
}

func (f *Fetcher) finish(logger *slog.Logger, result Result, start time.Time) Result {
	result.Duration = time.Since(start)
	switch {
	case result.OK():
		logger.Info("download complete",
			logging.Bytes("size", result.Size),
			logging.Duration("elapsed", result.Duration.Round(time.Millisecond)),
			logging.String(logging.FieldEventType, "fetch_complete"),
		)
	case result.Cancelled():
		logger.Info("download cancelled", logging.String(logging.FieldEventType, "fetch_cancelled"))
	default:
		logging.WarnWithContext(logger, "download failed; continuing with remaining streams", "fetch_failed",
			logging.Error(result.Err),
			logging.String(logging.FieldErrorHint, "check the URL is reachable and returns audio"),
			logging.String(logging.FieldImpact, "stream omitted from the capture"),
		)
	}
	return result
}

type progressWriter struct {
	written int64
	total   int64
	sampler *logging.ProgressSampler
	logger  *slog.Logger
}

func (p *progressWriter) Write(b []byte) (int, error) {
	p.written += int64(len(b))
	if p.sampler.ShouldLog(p.written, p.total) && p.written > 0 {
		attrs := []logging.Attr{logging.Bytes("written", p.written)}
		if p.total > 0 {
			attrs = append(attrs, logging.Int64("percent", p.written*100/p.total))
		}
		p.logger.Debug("download progress", logging.Args(attrs...)...)
	}
	return len(b), nil
}
