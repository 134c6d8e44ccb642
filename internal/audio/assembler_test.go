package audio_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"flaccapture/internal/audio"
	"flaccapture/internal/fetch"
	"flaccapture/internal/fileutil"
	"flaccapture/internal/logging"
	"flaccapture/internal/services"
)

func writeWAV(t *testing.T, path string, format audio.Format, data []int) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create wav: %v", err)
	}
	enc := wav.NewEncoder(f, format.SampleRate, format.BitDepth, format.Channels, 1)
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: format.Channels, SampleRate: format.SampleRate},
		Data:           data,
		SourceBitDepth: format.BitDepth,
	}
	if err := enc.Write(buf); err != nil {
		t.Fatalf("write wav: %v", err)
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("close encoder: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close wav: %v", err)
	}
}

func readWAV(t *testing.T, path string) (audio.Format, []int) {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open wav: %v", err)
	}
	defer f.Close()
	dec := wav.NewDecoder(f)
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		t.Fatalf("decode wav: %v", err)
	}
	return audio.Format{SampleRate: int(dec.SampleRate), BitDepth: int(dec.BitDepth), Channels: int(dec.NumChans)}, buf.Data
}

func ramp(n, step int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = (i*step)%20000 - 10000
	}
	return out
}

func fetched(t *testing.T, dir string, format audio.Format, data ...[]int) []fetch.Result {
	t.Helper()
	results := make([]fetch.Result, len(data))
	for i, d := range data {
		path := filepath.Join(dir, "stream_"+string(rune('a'+i))+".tmp")
		writeWAV(t, path, format, d)
		results[i] = fetch.Result{Index: i, URL: "http://example.test/" + string(rune('a'+i)), Path: path}
	}
	return results
}

func assertRemoved(t *testing.T, results []fetch.Result) {
	t.Helper()
	for _, r := range results {
		if r.Path == "" {
			continue
		}
		if _, err := os.Stat(r.Path); !os.IsNotExist(err) {
			t.Fatalf("expected temp file %s to be removed, stat err=%v", r.Path, err)
		}
	}
}

var cd16 = audio.Format{SampleRate: 44100, BitDepth: 16, Channels: 2}

func TestAssembleSingleWAVIsBitIdentical(t *testing.T) {
	tmp := t.TempDir()
	results := fetched(t, tmp, cd16, ramp(2000, 7))
	reference := filepath.Join(tmp, "reference.wav")
	if err := fileutil.CopyFile(results[0].Path, reference); err != nil {
		t.Fatalf("copy reference: %v", err)
	}

	out := filepath.Join(tmp, "out", "capture.wav")
	assembled, err := audio.NewAssembler(audio.PolicyResample, logging.NewNop()).Assemble(context.Background(), results, out)
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if !assembled.Copied {
		t.Fatal("expected single wav to be copied")
	}
	if assembled.Frames != 1000 {
		t.Fatalf("unexpected frames: got %d want 1000", assembled.Frames)
	}
	if assembled.Format != cd16 {
		t.Fatalf("unexpected format: got %v want %v", assembled.Format, cd16)
	}
	same, err := fileutil.SameContent(reference, out)
	if err != nil {
		t.Fatalf("compare: %v", err)
	}
	if !same {
		t.Fatal("expected output to be bit-identical to the single input")
	}
	assertRemoved(t, results)
}

func TestAssembleConcatenatesInOrder(t *testing.T) {
	tmp := t.TempDir()
	first := ramp(600, 3)
	second := ramp(400, 11)
	results := fetched(t, tmp, cd16, first, second)

	out := filepath.Join(tmp, "joined.wav")
	assembled, err := audio.NewAssembler("", logging.NewNop()).Assemble(context.Background(), results, out)
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if assembled.Copied || assembled.Segments != 2 {
		t.Fatalf("unexpected assembly: %+v", assembled)
	}
	if assembled.Frames != 500 {
		t.Fatalf("unexpected frames: got %d want 500", assembled.Frames)
	}

	format, data := readWAV(t, out)
	if format != cd16 {
		t.Fatalf("unexpected output format: got %v want %v", format, cd16)
	}
	want := append(append([]int{}, first...), second...)
	if len(data) != len(want) {
		t.Fatalf("unexpected sample count: got %d want %d", len(data), len(want))
	}
	for i := range want {
		if data[i] != want[i] {
			t.Fatalf("sample %d: got %d want %d", i, data[i], want[i])
		}
	}
	assertRemoved(t, results)
}

func TestAssembleEightBitRoundTrip(t *testing.T) {
	tmp := t.TempDir()
	format := audio.Format{SampleRate: 8000, BitDepth: 8, Channels: 1}
	a := []int{0, 64, 128, 192, 255}
	b := []int{128, 127, 129}
	results := fetched(t, tmp, format, a, b)

	out := filepath.Join(tmp, "eight.wav")
	if _, err := audio.NewAssembler("", logging.NewNop()).Assemble(context.Background(), results, out); err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	_, data := readWAV(t, out)
	want := append(append([]int{}, a...), b...)
	for i := range want {
		if data[i] != want[i] {
			t.Fatalf("sample %d: got %d want %d", i, data[i], want[i])
		}
	}
}

func TestAssembleConvertsChannelsToCanonicalFormat(t *testing.T) {
	tmp := t.TempDir()
	mono := audio.Format{SampleRate: 44100, BitDepth: 16, Channels: 1}

	stereoPath := filepath.Join(tmp, "stereo.tmp")
	writeWAV(t, stereoPath, cd16, []int{100, -100, 200, -200})
	monoPath := filepath.Join(tmp, "mono.tmp")
	writeWAV(t, monoPath, mono, []int{300, -300, 1234})

	results := []fetch.Result{
		{Index: 0, URL: "u1", Path: stereoPath},
		{Index: 1, URL: "u2", Path: monoPath},
	}
	out := filepath.Join(tmp, "mixed.wav")
	assembled, err := audio.NewAssembler(audio.PolicyResample, logging.NewNop()).Assemble(context.Background(), results, out)
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if assembled.Frames != 5 {
		t.Fatalf("unexpected frames: got %d want 5", assembled.Frames)
	}
	format, data := readWAV(t, out)
	if format != cd16 {
		t.Fatalf("unexpected format: got %v want %v", format, cd16)
	}
	want := []int{100, -100, 200, -200, 300, 300, -300, -300, 1234, 1234}
	for i := range want {
		if data[i] != want[i] {
			t.Fatalf("sample %d: got %d want %d (all=%v)", i, data[i], want[i], data)
		}
	}
}

func TestAssembleResamplesToCanonicalRate(t *testing.T) {
	tmp := t.TempDir()
	hi := audio.Format{SampleRate: 16000, BitDepth: 16, Channels: 1}
	lo := audio.Format{SampleRate: 8000, BitDepth: 16, Channels: 1}

	hiPath := filepath.Join(tmp, "hi.tmp")
	writeWAV(t, hiPath, hi, make([]int, 1600))
	loPath := filepath.Join(tmp, "lo.tmp")
	writeWAV(t, loPath, lo, make([]int, 800))

	results := []fetch.Result{{Index: 0, Path: hiPath}, {Index: 1, Path: loPath}}
	out := filepath.Join(tmp, "resampled.wav")
	assembled, err := audio.NewAssembler(audio.PolicyResample, logging.NewNop()).Assemble(context.Background(), results, out)
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if assembled.Format != hi {
		t.Fatalf("unexpected format: got %v want %v", assembled.Format, hi)
	}
	// 800 frames at 8 kHz is 1600 frames at 16 kHz; allow resampler edge slack.
	if assembled.Frames < 3100 || assembled.Frames > 3300 {
		t.Fatalf("unexpected frame count after resampling: %d", assembled.Frames)
	}
}

func TestAssembleRejectPolicyFailsOnMismatch(t *testing.T) {
	tmp := t.TempDir()
	aPath := filepath.Join(tmp, "a.tmp")
	writeWAV(t, aPath, cd16, ramp(200, 1))
	bPath := filepath.Join(tmp, "b.tmp")
	writeWAV(t, bPath, audio.Format{SampleRate: 48000, BitDepth: 16, Channels: 2}, ramp(200, 1))

	results := []fetch.Result{{Index: 0, Path: aPath}, {Index: 1, Path: bPath}}
	out := filepath.Join(tmp, "rejected.wav")
	_, err := audio.NewAssembler(audio.PolicyReject, logging.NewNop()).Assemble(context.Background(), results, out)
	if !errors.Is(err, services.ErrAssembly) {
		t.Fatalf("expected assembly error, got %v", err)
	}
	if _, statErr := os.Stat(out); !os.IsNotExist(statErr) {
		t.Fatalf("expected no output after rejection, stat err=%v", statErr)
	}
	assertRemoved(t, results)
}

func TestAssembleNoUsableInput(t *testing.T) {
	tmp := t.TempDir()
	results := []fetch.Result{
		{Index: 0, URL: "u1", Err: services.ErrFetch},
		{Index: 1, URL: "u2", Err: services.ErrFetch},
	}
	out := filepath.Join(tmp, "none.wav")
	_, err := audio.NewAssembler("", logging.NewNop()).Assemble(context.Background(), results, out)
	if !errors.Is(err, services.ErrAssembly) {
		t.Fatalf("expected assembly error, got %v", err)
	}
	if _, statErr := os.Stat(out); !os.IsNotExist(statErr) {
		t.Fatal("expected no output file")
	}
}

func TestAssembleSkipsUndecodableStream(t *testing.T) {
	tmp := t.TempDir()
	junk := filepath.Join(tmp, "junk.tmp")
	if err := os.WriteFile(junk, []byte("<html>not audio</html>"), 0o600); err != nil {
		t.Fatalf("write junk: %v", err)
	}
	good := filepath.Join(tmp, "good.tmp")
	writeWAV(t, good, cd16, ramp(100, 5))

	results := []fetch.Result{{Index: 0, URL: "junk", Path: junk}, {Index: 1, URL: "good", Path: good}}
	out := filepath.Join(tmp, "partial.wav")
	assembled, err := audio.NewAssembler("", logging.NewNop()).Assemble(context.Background(), results, out)
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if assembled.Segments != 1 || len(assembled.Skipped) != 1 || assembled.Skipped[0] != "junk" {
		t.Fatalf("unexpected assembly: %+v", assembled)
	}
	assertRemoved(t, results)
}

func TestAssembleAllUndecodableFails(t *testing.T) {
	tmp := t.TempDir()
	var results []fetch.Result
	for i, name := range []string{"a.tmp", "b.tmp"} {
		path := filepath.Join(tmp, name)
		if err := os.WriteFile(path, []byte("garbage"), 0o600); err != nil {
			t.Fatalf("write: %v", err)
		}
		results = append(results, fetch.Result{Index: i, Path: path})
	}
	out := filepath.Join(tmp, "broken.wav")
	_, err := audio.NewAssembler("", logging.NewNop()).Assemble(context.Background(), results, out)
	if !errors.Is(err, services.ErrAssembly) {
		t.Fatalf("expected assembly error, got %v", err)
	}
	if _, statErr := os.Stat(out); !os.IsNotExist(statErr) {
		t.Fatal("expected partial output to be removed")
	}
}

func TestAssembleCancelled(t *testing.T) {
	tmp := t.TempDir()
	results := fetched(t, tmp, cd16, ramp(200, 1), ramp(200, 2))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out := filepath.Join(tmp, "cancelled.wav")
	_, err := audio.NewAssembler("", logging.NewNop()).Assemble(ctx, results, out)
	if !errors.Is(err, services.ErrCancelled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	if _, statErr := os.Stat(out); !os.IsNotExist(statErr) {
		t.Fatal("expected no output after cancellation")
	}
	assertRemoved(t, results)
}

func TestAssembleFormatComesFromFirstStreamWithAudio(t *testing.T) {
	mono := audio.Format{SampleRate: 22050, BitDepth: 16, Channels: 1}
	tests := []struct {
		name    string
		prepare func(t *testing.T, path string)
	}{
		{"empty", func(t *testing.T, path string) { writeWAV(t, path, mono, nil) }},
		{"truncated", func(t *testing.T, path string) {
			writeWAV(t, path, mono, ramp(400, 3))
			if err := os.Truncate(path, 45); err != nil {
				t.Fatalf("truncate: %v", err)
			}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			first := filepath.Join(dir, "stream_first.tmp")
			tt.prepare(t, first)
			rest := fetched(t, dir, cd16, ramp(1000, 5))
			rest[0].Index = 1
			results := append([]fetch.Result{{Index: 0, URL: "http://example.test/first", Path: first}}, rest...)

			out := filepath.Join(dir, "out.wav")
			assembled, err := audio.NewAssembler(audio.PolicyReject, logging.NewNop()).Assemble(context.Background(), results, out)
			if err != nil {
				t.Fatalf("Assemble: %v", err)
			}
			if assembled.Format != cd16 {
				t.Fatalf("expected canonical %s, got %s", cd16, assembled.Format)
			}
			if assembled.Segments != 1 || len(assembled.Skipped) != 1 || assembled.Skipped[0] != "http://example.test/first" {
				t.Fatalf("unexpected segments=%d skipped=%v", assembled.Segments, assembled.Skipped)
			}
			format, data := readWAV(t, out)
			if format != cd16 || len(data) != 1000 {
				t.Fatalf("unexpected output: %s with %d samples", format, len(data))
			}
			assertRemoved(t, results)
		})
	}
}

func TestAssembleRejectPolicySkipsEmptyMismatchedStream(t *testing.T) {
	dir := t.TempDir()
	results := fetched(t, dir, cd16, ramp(800, 3))
	empty := filepath.Join(dir, "stream_empty.tmp")
	writeWAV(t, empty, audio.Format{SampleRate: 8000, BitDepth: 8, Channels: 1}, nil)
	results = append(results, fetch.Result{Index: 1, URL: "http://example.test/empty", Path: empty})

	out := filepath.Join(dir, "out.wav")
	assembled, err := audio.NewAssembler(audio.PolicyReject, logging.NewNop()).Assemble(context.Background(), results, out)
	if err != nil {
		t.Fatalf("an empty stream must not trigger the format check: %v", err)
	}
	if assembled.Frames != 400 || len(assembled.Skipped) != 1 {
		t.Fatalf("unexpected frames=%d skipped=%v", assembled.Frames, assembled.Skipped)
	}
}
