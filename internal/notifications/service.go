package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"flaccapture/internal/config"
)

const userAgent = "flaccapture/0.1"

// JobSummary describes a finished capture job for notification purposes.
type JobSummary struct {
	Playlist   string
	OutputPath string
	Streams    int
	Fetched    int
	Bytes      int64
	Ratio      float64
	Duration   time.Duration
}

// Service defines the notification surface exposed to the watch service.
type Service interface {
	NotifyJobSucceeded(ctx context.Context, summary JobSummary) error
	NotifyJobFailed(ctx context.Context, playlist string, err error) error
	NotifyEncodingFailed(ctx context.Context, wavPath string, err error) error
	TestNotification(ctx context.Context) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	if cfg == nil {
		return noopService{}
	}
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &ntfyService{
		endpoint:  topic,
		client:    &http.Client{Timeout: timeout},
		succeeded: cfg.Notifications.JobSucceeded,
		failed:    cfg.Notifications.JobFailed,
	}
}

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint  string
	client    *http.Client
	succeeded bool
	failed    bool
}

func (n *ntfyService) NotifyJobSucceeded(ctx context.Context, summary JobSummary) error {
	if !n.succeeded {
		return nil
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Captured %s", filepath.Base(summary.Playlist))
	if summary.Streams > 0 {
		fmt.Fprintf(&b, " (%d/%d streams)", summary.Fetched, summary.Streams)
	}
	if summary.OutputPath != "" {
		fmt.Fprintf(&b, "\nOutput: %s", summary.OutputPath)
	}
	if summary.Bytes > 0 {
		fmt.Fprintf(&b, "\nSize: %s", humanize.IBytes(uint64(summary.Bytes)))
	}
	if summary.Ratio > 0 {
		fmt.Fprintf(&b, " (%.1f%% smaller than WAV)", summary.Ratio)
	}
	if summary.Duration > 0 {
		fmt.Fprintf(&b, "\nTook %s", summary.Duration.Round(time.Second))
	}
	return n.send(ctx, payload{
		title:   "flaccapture - Capture Complete",
		message: b.String(),
		tags:    []string{"flaccapture", "capture", "completed"},
	})
}

func (n *ntfyService) NotifyJobFailed(ctx context.Context, playlist string, err error) error {
	if !n.failed {
		return nil
	}
	return n.send(ctx, payload{
		title:    "flaccapture - Capture Failed",
		message:  fmt.Sprintf("Capture failed: %s\n%s", filepath.Base(playlist), errorText(err)),
		tags:     []string{"flaccapture", "capture", "failed"},
		priority: "high",
	})
}

func (n *ntfyService) NotifyEncodingFailed(ctx context.Context, wavPath string, err error) error {
	if !n.failed {
		return nil
	}
	return n.send(ctx, payload{
		title:   "flaccapture - FLAC Conversion Failed",
		message: fmt.Sprintf("WAV kept at %s\n%s", wavPath, errorText(err)),
		tags:    []string{"flaccapture", "encode", "warning"},
	})
}

func (n *ntfyService) TestNotification(ctx context.Context) error {
	return n.send(ctx, payload{
		title:    "flaccapture - Test",
		message:  "Notification system test",
		tags:     []string{"flaccapture", "test"},
		priority: "low",
	})
}

func (n *ntfyService) send(ctx context.Context, data payload) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.message))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func errorText(err error) string {
	if err == nil {
		return "unknown error"
	}
	return strings.TrimSpace(err.Error())
}

type noopService struct{}

func (noopService) NotifyJobSucceeded(context.Context, JobSummary) error      { return nil }
func (noopService) NotifyJobFailed(context.Context, string, error) error      { return nil }
func (noopService) NotifyEncodingFailed(context.Context, string, error) error { return nil }
func (noopService) TestNotification(context.Context) error                    { return nil }
