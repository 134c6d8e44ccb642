package playlist_test

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"flaccapture/internal/playlist"
	"flaccapture/internal/services"
)

func TestParseFiltersBlankAndCommentLines(t *testing.T) {
	text := "http://a/1.mp3\n#comment\n\nhttp://a/2.mp3\n"
	got := playlist.ParseString(text)
	want := []string{"http://a/1.mp3", "http://a/2.mp3"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected urls: got %v want %v", got, want)
	}
}

func TestParseEdgeCases(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []string
	}{
		{name: "empty", text: "", want: nil},
		{name: "only comments", text: "#EXTM3U\n# note\n", want: nil},
		{name: "whitespace only lines", text: "   \n\t\n", want: nil},
		{name: "indented comment", text: "   # not a url\nhttp://x/1", want: []string{"http://x/1"}},
		{name: "crlf and padding", text: "  http://x/1  \r\nhttp://x/2\r\n", want: []string{"http://x/1", "http://x/2"}},
		{name: "bom", text: "\ufeffhttp://x/1\n", want: []string{"http://x/1"}},
		{name: "extinf", text: "#EXTM3U\n#EXTINF:-1,Show\nhttp://x/live.mp3\n", want: []string{"http://x/live.mp3"}},
		{name: "no trailing newline", text: "http://x/1", want: []string{"http://x/1"}},
		{name: "not validated", text: "not a url\n", want: []string{"not a url"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := playlist.Parse(strings.NewReader(tt.text))
			if err != nil {
				t.Fatalf("Parse: %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("unexpected urls: got %#v want %#v", got, tt.want)
			}
		})
	}
}

func TestLoadBuildsJob(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "Late Night: Mix.m3u")
	if err := os.WriteFile(path, []byte("http://a/1.mp3\nhttp://a/2.mp3\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	now := time.Date(2025, 3, 4, 5, 6, 7, 0, time.Local)

	job, err := playlist.Load(path, now)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if job.Path != path {
		t.Fatalf("unexpected path: %q", job.Path)
	}
	if len(job.URLs) != 2 {
		t.Fatalf("unexpected url count: %d", len(job.URLs))
	}
	if job.BaseName != "Late Night- Mix" {
		t.Fatalf("unexpected base name: %q", job.BaseName)
	}
	if got := job.OutputBase("capture_", now); got != "capture_Late Night- Mix_20250304_050607" {
		t.Fatalf("unexpected output base: %q", got)
	}
}

func TestLoadEmptyPlaylist(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.m3u")
	if err := os.WriteFile(path, []byte("# nothing\n\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := playlist.Load(path, time.Now())
	if !errors.Is(err, playlist.ErrEmptyPlaylist) {
		t.Fatalf("expected ErrEmptyPlaylist, got %v", err)
	}
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation marker, got %v", err)
	}
}

func TestLoadMissingPlaylist(t *testing.T) {
	_, err := playlist.Load(filepath.Join(t.TempDir(), "gone.m3u"), time.Now())
	if !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found marker, got %v", err)
	}
}

func TestOutputBaseWithoutStem(t *testing.T) {
	start := time.Date(2024, 12, 31, 23, 59, 58, 0, time.UTC)
	if got := playlist.OutputBase("capture_", "", start); got != "capture_20241231_235958" {
		t.Fatalf("unexpected base: %q", got)
	}
}

func TestIsPlaylist(t *testing.T) {
	patterns := []string{"*.m3u", "*.m3u8"}
	cases := map[string]bool{
		"/in/show.m3u":  true,
		"/in/SHOW.M3U":  true,
		"/in/show.m3u8": true,
		"/in/show.txt":  false,
		"/in/show.m3u~": false,
	}
	for name, want := range cases {
		if got := playlist.IsPlaylist(name, patterns); got != want {
			t.Fatalf("IsPlaylist(%q): got %v want %v", name, got, want)
		}
	}
}
