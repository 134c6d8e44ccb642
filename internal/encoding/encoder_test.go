package encoding

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/gofrs/flock"
	"github.com/mewkiz/flac"

	"flaccapture/internal/logging"
	"flaccapture/internal/services"
)

func writeTestWAV(t *testing.T, path string, rate, bits, channels, frames int) []int {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create wav: %v", err)
	}
	peak := float64(int(1)<<(bits-1) - 1)
	data := make([]int, frames*channels)
	for i := 0; i < frames; i++ {
		for c := 0; c < channels; c++ {
			v := int(math.Round(0.6 * peak * math.Sin(2*math.Pi*440*float64(i+c*7)/float64(rate))))
			if bits == 8 {
				v += 128
			}
			data[i*channels+c] = v
		}
	}
	enc := wav.NewEncoder(f, rate, bits, channels, 1)
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: channels, SampleRate: rate},
		Data:           data,
		SourceBitDepth: bits,
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
	return data
}

func writeStub(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "flac")
	script := "#!/bin/sh\n" + body
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("write stub: %v", err)
	}
	return path
}

const recordingStub = `out=""
prev=""
for a in "$@"; do
  if [ "$prev" = "-o" ]; then out="$a"; fi
  prev="$a"
done
printf '%s\n' "$@" > "$(dirname "$0")/args.txt"
printf 'fLaC' > "$out"
`

func TestDefaultOptionsOpenThreeTimes(t *testing.T) {
	if got := DefaultOptions().OpenAttempts; got != 3 {
		t.Fatalf("default open attempts = %d, want 3", got)
	}
}

func TestLevel(t *testing.T) {
	cases := map[int]int{0: 0, 6: 0, 7: 1, 50: 4, 94: 8, 100: 8}
	for quality, want := range cases {
		if got := Level(quality); got != want {
			t.Fatalf("Level(%d): got %d want %d", quality, got, want)
		}
	}
}

func TestEncodeRejectsQualityOutOfRange(t *testing.T) {
	input := filepath.Join(t.TempDir(), "in.wav")
	writeTestWAV(t, input, 44100, 16, 2, 100)
	for _, q := range []int{-1, 101} {
		enc := New(Options{Quality: q}, logging.NewNop())
		if _, err := enc.Encode(context.Background(), input, ""); !errors.Is(err, services.ErrConfiguration) {
			t.Fatalf("quality %d: expected configuration error, got %v", q, err)
		}
	}
}

func TestEncodeMissingInput(t *testing.T) {
	enc := New(DefaultOptions(), logging.NewNop())
	_, err := enc.Encode(context.Background(), filepath.Join(t.TempDir(), "missing.wav"), "")
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestEncodeExternalArguments(t *testing.T) {
	tmp := t.TempDir()
	stub := writeStub(t, tmp, recordingStub)
	input := filepath.Join(tmp, "capture.wav")
	writeTestWAV(t, input, 44100, 16, 2, 4410)

	opts := DefaultOptions()
	opts.BinaryName = stub
	opts.DisableNative = true
	result, err := New(opts, logging.NewNop()).Encode(context.Background(), input, "")
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	wantOut := filepath.Join(tmp, "capture.flac")
	if result.OutputPath != wantOut || result.Method != MethodExternal {
		t.Fatalf("unexpected result: %+v", result)
	}
	if result.Attempts != 1 {
		t.Fatalf("expected one open attempt, got %d", result.Attempts)
	}
	if result.Ratio() <= 99 {
		t.Fatalf("expected stub output to report a large reduction, got %.2f", result.Ratio())
	}

	raw, err := os.ReadFile(filepath.Join(tmp, "args.txt"))
	if err != nil {
		t.Fatalf("read args: %v", err)
	}
	got := strings.Fields(string(raw))
	want := []string{"-8", "--verify", "--best", input, "-o", wantOut}
	if strings.Join(got, " ") != strings.Join(want, " ") {
		t.Fatalf("unexpected args: got %v want %v", got, want)
	}
	if _, err := os.Stat(input); err != nil {
		t.Fatalf("expected input to be kept: %v", err)
	}
}

func TestEncodeUnavailableKeepsSource(t *testing.T) {
	tmp := t.TempDir()
	t.Setenv("PATH", t.TempDir())
	input := filepath.Join(tmp, "keep.wav")
	writeTestWAV(t, input, 44100, 16, 2, 100)

	opts := DefaultOptions()
	opts.BinaryName = "flaccapture-test-missing-flac"
	opts.DisableNative = true
	_, err := New(opts, logging.NewNop()).Encode(context.Background(), input, "")
	if !errors.Is(err, services.ErrEncodingUnavailable) {
		t.Fatalf("expected unavailable error, got %v", err)
	}
	if !strings.Contains(err.Error(), input) {
		t.Fatalf("expected error to name the kept source, got %v", err)
	}
	if _, statErr := os.Stat(input); statErr != nil {
		t.Fatalf("expected source to be kept: %v", statErr)
	}
}

func TestEncodeExternalFailureRemovesPartialOutput(t *testing.T) {
	tmp := t.TempDir()
	stub := writeStub(t, tmp, `prev=""
for a in "$@"; do
  if [ "$prev" = "-o" ]; then printf 'partial' > "$a"; fi
  prev="$a"
done
echo "ERROR: input file has an unsupported format" >&2
exit 1
`)
	input := filepath.Join(tmp, "bad.wav")
	writeTestWAV(t, input, 44100, 16, 2, 100)

	opts := DefaultOptions()
	opts.BinaryName = stub
	opts.DisableNative = true
	_, err := New(opts, logging.NewNop()).Encode(context.Background(), input, "")
	if !errors.Is(err, services.ErrEncodingFailed) {
		t.Fatalf("expected encoding failure, got %v", err)
	}
	if !strings.Contains(err.Error(), "unsupported format") {
		t.Fatalf("expected stderr in error, got %v", err)
	}
	if _, statErr := os.Stat(filepath.Join(tmp, "bad.flac")); !os.IsNotExist(statErr) {
		t.Fatalf("expected partial output removed, stat err=%v", statErr)
	}
	if _, statErr := os.Stat(input); statErr != nil {
		t.Fatalf("expected source kept: %v", statErr)
	}
}

func TestEncodeRetriesWhileInputLocked(t *testing.T) {
	tmp := t.TempDir()
	stub := writeStub(t, tmp, recordingStub)
	input := filepath.Join(tmp, "busy.wav")
	writeTestWAV(t, input, 44100, 16, 1, 100)

	writer := flock.New(input)
	if err := writer.Lock(); err != nil {
		t.Fatalf("lock: %v", err)
	}
	released := make(chan struct{})
	go func() {
		time.Sleep(150 * time.Millisecond)
		_ = writer.Unlock()
		close(released)
	}()

	opts := DefaultOptions()
	opts.BinaryName = stub
	opts.DisableNative = true
	opts.InitialBackoff = 100 * time.Millisecond
	result, err := New(opts, logging.NewNop()).Encode(context.Background(), input, "")
	<-released
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if result.Attempts < 2 || result.Attempts > DefaultOpenAttempts {
		t.Fatalf("unexpected attempts: %d", result.Attempts)
	}
}

func TestEncodeGivesUpWhenInputStaysLocked(t *testing.T) {
	tmp := t.TempDir()
	input := filepath.Join(tmp, "held.wav")
	writeTestWAV(t, input, 44100, 16, 1, 100)

	writer := flock.New(input)
	if err := writer.Lock(); err != nil {
		t.Fatalf("lock: %v", err)
	}
	defer writer.Unlock()

	opts := DefaultOptions()
	opts.OpenAttempts = 3
	opts.InitialBackoff = 5 * time.Millisecond
	_, err := New(opts, logging.NewNop()).Encode(context.Background(), input, "")
	if !errors.Is(err, services.ErrEncodingFailed) {
		t.Fatalf("expected encoding failure, got %v", err)
	}
	if !errors.Is(err, errInputLocked) {
		t.Fatalf("expected lock contention cause, got %v", err)
	}
	if !strings.Contains(err.Error(), "3 attempts") {
		t.Fatalf("expected attempt count in error, got %v", err)
	}
}

func TestEncodeNativeRoundTrip(t *testing.T) {
	cases := []struct {
		name     string
		bits     int
		channels int
		quality  int
	}{
		{"16-bit stereo best", 16, 2, 100},
		{"16-bit mono fast", 16, 1, 0},
		{"24-bit stereo", 24, 2, 60},
		{"8-bit mono", 8, 1, 100},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tmp := t.TempDir()
			t.Setenv("PATH", t.TempDir())
			input := filepath.Join(tmp, "tone.wav")
			frames := 10000
			data := writeTestWAV(t, input, 44100, tc.bits, tc.channels, frames)

			opts := DefaultOptions()
			opts.Quality = tc.quality
			result, err := New(opts, logging.NewNop()).Encode(context.Background(), input, "")
			if err != nil {
				t.Fatalf("Encode: %v", err)
			}
			if result.Method != MethodNative {
				t.Fatalf("expected native method, got %s", result.Method)
			}
			if result.OutputSize <= 0 || result.OutputSize >= result.InputSize {
				t.Fatalf("expected compression, got %d -> %d", result.InputSize, result.OutputSize)
			}

			stream, err := flac.ParseFile(result.OutputPath)
			if err != nil {
				t.Fatalf("parse flac: %v", err)
			}
			defer stream.Close()
			if int(stream.Info.NChannels) != tc.channels || int(stream.Info.BitsPerSample) != tc.bits {
				t.Fatalf("unexpected stream info: %+v", stream.Info)
			}
			var decoded []int
			for {
				f, err := stream.ParseNext()
				if err != nil {
					break
				}
				for i := 0; i < int(f.BlockSize); i++ {
					for _, sub := range f.Subframes {
						v := int(sub.Samples[i])
						if tc.bits == 8 {
							v += 128
						}
						decoded = append(decoded, v)
					}
				}
			}
			if len(decoded) != len(data) {
				t.Fatalf("decoded %d samples, want %d", len(decoded), len(data))
			}
			for i := range data {
				if decoded[i] != data[i] {
					t.Fatalf("sample %d: got %d want %d", i, decoded[i], data[i])
				}
			}
		})
	}
}

func TestEncodeNativeFallsBackForUnsupportedInput(t *testing.T) {
	tmp := t.TempDir()
	stub := writeStub(t, tmp, recordingStub)
	input := filepath.Join(tmp, "wide.wav")
	writeTestWAV(t, input, 44100, 32, 1, 100)

	opts := DefaultOptions()
	opts.BinaryName = stub
	result, err := New(opts, logging.NewNop()).Encode(context.Background(), input, "")
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if result.Method != MethodExternal {
		t.Fatalf("expected external fallback, got %s", result.Method)
	}
}

func TestDeleteSource(t *testing.T) {
	tmp := t.TempDir()
	input := filepath.Join(tmp, "a.wav")
	output := filepath.Join(tmp, "a.flac")
	if err := os.WriteFile(input, []byte("wav"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := DeleteSource(&Result{InputPath: input, OutputPath: output}); err == nil {
		t.Fatal("expected refusal while output is missing")
	}
	if _, err := os.Stat(input); err != nil {
		t.Fatalf("source removed without output: %v", err)
	}

	if err := os.WriteFile(output, []byte("flac"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := DeleteSource(&Result{InputPath: input, OutputPath: output}); err != nil {
		t.Fatalf("DeleteSource: %v", err)
	}
	if _, err := os.Stat(input); !os.IsNotExist(err) {
		t.Fatalf("expected source removed, stat err=%v", err)
	}
}
