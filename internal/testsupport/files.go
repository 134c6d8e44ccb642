package testsupport

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// WAVBytes renders a 16-bit stereo 44.1kHz PCM WAV with frames frames of a
// deterministic ramp.
func WAVBytes(t testing.TB, frames int) []byte {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fixture.wav")
	WriteWAV(t, path, frames)
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read wav fixture: %v", err)
	}
	return raw
}

// WriteWAV writes the WAVBytes fixture to path.
func WriteWAV(t testing.TB, path string, frames int) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create %s: %v", path, err)
	}
	data := make([]int, frames*2)
	for i := range data {
		data[i] = (i*37)%2000 - 1000
	}
	enc := wav.NewEncoder(f, 44100, 16, 2, 1)
	buf := &goaudio.IntBuffer{Format: &goaudio.Format{NumChannels: 2, SampleRate: 44100}, Data: data, SourceBitDepth: 16}
	if err := enc.Write(buf); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("finalize %s: %v", path, err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close %s: %v", path, err)
	}
}

// AudioServer serves payload for every path except /missing (404). The
// server is closed when the test ends.
func AudioServer(t testing.TB, payload []byte) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		http.ServeContent(w, r, "audio.wav", fixedModTime, bytes.NewReader(payload))
	}))
	t.Cleanup(srv.Close)
	return srv
}

// DropPlaylist writes a playlist into dir under a temporary name and renames
// it into place, the way a careful producer would.
func DropPlaylist(t testing.TB, dir, name string, urls ...string) string {
	t.Helper()
	tmp := filepath.Join(dir, "."+name+".partial")
	if err := os.WriteFile(tmp, []byte(strings.Join(urls, "\n")+"\n"), 0o644); err != nil {
		t.Fatalf("write playlist: %v", err)
	}
	final := filepath.Join(dir, name)
	if err := os.Rename(tmp, final); err != nil {
		t.Fatalf("rename playlist: %v", err)
	}
	return final
}

var fixedModTime = time.Date(2026, 3, 4, 0, 0, 0, 0, time.UTC)
