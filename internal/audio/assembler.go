package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"flaccapture/internal/fetch"
	"flaccapture/internal/fileutil"
	"flaccapture/internal/logging"
	"flaccapture/internal/services"
)

const (
	stageName   = "assemble"
	chunkFrames = 8192
)

// Policy decides what happens to a stream whose format differs from the
// first stream that yields audio.
type Policy string

const (
	PolicyResample Policy = "resample"
	PolicyReject   Policy = "reject"
)

// Assembled describes the WAV produced by Assemble.
type Assembled struct {
	Path     string
	Format   Format
	Segments int
	Frames   int64
	Bytes    int64
	// Copied is set when a single WAV input was adopted byte for byte.
	Copied bool
	// Skipped lists the URLs of fetched streams that could not be decoded.
	Skipped []string
}

// Duration is the playing time of the assembled audio.
func (a *Assembled) Duration() time.Duration {
	if a == nil || a.Format.SampleRate <= 0 {
		return 0
	}
	return time.Duration(a.Frames) * time.Second / time.Duration(a.Format.SampleRate)
}

// Assembler concatenates fetched streams into one WAV file.
type Assembler struct {
	policy Policy
	logger *slog.Logger
}

// NewAssembler constructs an Assembler. An empty policy means resample.
func NewAssembler(policy Policy, logger *slog.Logger) *Assembler {
	if policy == "" {
		policy = PolicyResample
	}
	return &Assembler{
		policy: policy,
		logger: logging.NewComponentLogger(logger, "assembler"),
	}
}

// Assemble writes the successful results, in order, to outputPath. Every
// temporary file referenced by results is removed before returning, and a
// failed assembly leaves no output behind.
func (a *Assembler) Assemble(ctx context.Context, results []fetch.Result, outputPath string) (*Assembled, error) {
	defer fetch.Cleanup(results)
	logger := logging.WithContext(ctx, a.logger)

	usable := fetch.Succeeded(results)
	if len(usable) == 0 {
		return nil, services.Wrap(services.ErrAssembly, stageName, "assemble", "no usable input", nil)
	}
	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return nil, services.Wrap(services.ErrAssembly, stageName, "create output dir", filepath.Dir(outputPath), err)
	}

	lock := flock.New(outputPath, flock.SetPermissions(0o644))
	if err := lock.Lock(); err != nil {
		return nil, services.Wrap(services.ErrAssembly, stageName, "lock output", outputPath, err)
	}
	defer func() { _ = lock.Unlock() }()

	logger.Info("assembly started",
		logging.Int("streams", len(usable)),
		logging.String("output", outputPath),
	)

	var (
		out *Assembled
		err error
	)
	if len(usable) == 1 {
		out, err = a.adopt(logger, usable[0], outputPath)
	}
	if out == nil && err == nil {
		out, err = a.concatenate(ctx, logger, usable, outputPath)
	}
	if err != nil {
		_ = os.Remove(outputPath)
		return nil, err
	}

	if info, statErr := os.Stat(outputPath); statErr == nil {
		out.Bytes = info.Size()
	}
	logger.Info("assembly complete",
		logging.String("output", outputPath),
		logging.String("format", out.Format.String()),
		logging.Int("segments", out.Segments),
		logging.Duration("duration", out.Duration().Round(time.Millisecond)),
		logging.Bytes("size", out.Bytes),
		logging.Bool("copied", out.Copied),
		logging.String(logging.FieldEventType, "assembly_complete"),
	)
	return out, nil
}

// adopt copies a lone integer PCM WAV unchanged. It returns nil, nil when the
// input needs decoding instead.
func (a *Assembler) adopt(logger *slog.Logger, r fetch.Result, outputPath string) (*Assembled, error) {
	container, err := SniffFile(r.Path)
	if err != nil || container != ContainerWAV {
		return nil, nil
	}
	format, frames, ok := readPCMHeader(r.Path)
	if !ok {
		return nil, nil
	}
	if err := fileutil.CopyFileVerified(r.Path, outputPath); err != nil {
		return nil, services.Wrap(services.ErrAssembly, stageName, "copy", outputPath, err)
	}
	logger.Debug("single wav stream adopted without re-encoding", logging.String("url", r.URL))
	return &Assembled{
		Path:     outputPath,
		Format:   format,
		Segments: 1,
		Frames:   frames,
		Copied:   true,
	}, nil
}

func readPCMHeader(path string) (Format, int64, bool) {
	f, err := os.Open(path)
	if err != nil {
		return Format{}, 0, false
	}
	defer f.Close()
	reader, err := NewPCMReader(f)
	if err != nil {
		return Format{}, 0, false
	}
	return reader.Format(), reader.Frames(), true
}

func (a *Assembler) concatenate(ctx context.Context, logger *slog.Logger, usable []fetch.Result, outputPath string) (*Assembled, error) {
	out := &Assembled{Path: outputPath}
	var (
		writer    *wavWriter
		canonical Format
		buf       []int
	)
	abort := func(err error) (*Assembled, error) {
		if writer != nil {
			_ = writer.file.Close()
		}
		return nil, err
	}

	for _, r := range usable {
		if err := ctx.Err(); err != nil {
			return abort(services.Wrap(services.ErrCancelled, stageName, "assemble", outputPath, err))
		}
		src, container, err := openStream(r.Path)
		if err != nil {
			a.skip(logger, out, r, "stream could not be decoded", err)
			continue
		}

		// The output format is taken from the first stream that yields
		// audio, so the header is written only once samples are in hand.
		var primed int
		var primeErr error
		from := src.Format()
		switch {
		case writer == nil:
			buf = make([]int, chunkFrames*from.Channels)
			primed, primeErr = primeStream(src, buf)
			if primed == 0 {
				_ = src.Close()
				a.skip(logger, out, r, "stream produced no audio", emptyStreamErr(primeErr))
				continue
			}
			canonical = from
			writer, err = createWAV(outputPath, canonical)
			if err != nil {
				_ = src.Close()
				return abort(services.Wrap(services.ErrAssembly, stageName, "create output", outputPath, err))
			}
			logger.Info("output format fixed by first stream",
				logging.Int("index", r.Index+1),
				logging.String("format", canonical.String()),
				logging.String("container", container.String()),
			)
		case from != canonical && a.policy == PolicyReject:
			n, probeErr := primeStream(src, make([]int, from.Channels*64))
			_ = src.Close()
			if n == 0 {
				a.skip(logger, out, r, "stream produced no audio", emptyStreamErr(probeErr))
				continue
			}
			return abort(services.Wrap(services.ErrAssembly, stageName, "format check",
				fmt.Sprintf("stream %d is %s, expected %s", r.Index+1, from, canonical), nil))
		case from != canonical:
			conv, convErr := convert(src, canonical)
			if convErr != nil {
				_ = src.Close()
				a.skip(logger, out, r, "stream format cannot be converted", convErr)
				continue
			}
			logger.Info("converting stream to output format",
				logging.Int("index", r.Index+1),
				logging.String("from", from.String()),
				logging.String("to", canonical.String()),
			)
			src = conv
		}

		var frames int64
		var readErr, writeErr error
		if primed > 0 {
			writeErr = writer.Write(buf[:primed])
			frames = int64(primed / canonical.Channels)
		}
		switch {
		case writeErr != nil:
		case primeErr == nil:
			var more int64
			more, readErr, writeErr = copyFrames(ctx, src, writer, buf)
			frames += more
		case !errors.Is(primeErr, io.EOF):
			readErr = primeErr
		}
		_ = src.Close()
		if writeErr != nil {
			return abort(services.Wrap(services.ErrAssembly, stageName, "write", outputPath, writeErr))
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return abort(services.Wrap(services.ErrCancelled, stageName, "assemble", outputPath, ctxErr))
		}
		if frames == 0 {
			a.skip(logger, out, r, "stream produced no audio", emptyStreamErr(readErr))
			continue
		}
		if readErr != nil {
			logging.WarnWithContext(logger, "stream truncated by decode error", "assembly_stream_truncated",
				logging.Int("index", r.Index+1),
				logging.Int64("frames", frames),
				logging.Error(readErr),
				logging.String(logging.FieldImpact, "audio after the error is missing"),
			)
		}
		out.Segments++
		logger.Debug("stream appended",
			logging.Int("index", r.Index+1),
			logging.Int64("frames", frames),
		)
	}

	if writer == nil || writer.frames == 0 {
		return abort(services.Wrap(services.ErrAssembly, stageName, "assemble", "no decodable input", nil))
	}
	out.Format = canonical
	out.Frames = writer.frames
	if err := writer.Close(); err != nil {
		return nil, services.Wrap(services.ErrAssembly, stageName, "finalize", outputPath, err)
	}
	return out, nil
}

// maxEmptyReads bounds decoders that keep returning zero samples without an
// error.
const maxEmptyReads = 64

// primeStream reads from src until it yields samples or fails.
func primeStream(src stream, buf []int) (int, error) {
	for range maxEmptyReads {
		n, err := src.Read(buf)
		if n > 0 || err != nil {
			return n, err
		}
	}
	return 0, io.ErrNoProgress
}

var errEmptyStream = errors.New("stream contains no audio frames")

func emptyStreamErr(err error) error {
	if err == nil || errors.Is(err, io.EOF) {
		return errEmptyStream
	}
	return err
}

func (a *Assembler) skip(logger *slog.Logger, out *Assembled, r fetch.Result, msg string, err error) {
	out.Skipped = append(out.Skipped, r.URL)
	logging.WarnWithContext(logger, msg, "assembly_stream_skipped",
		logging.Int("index", r.Index+1),
		logging.String("url", r.URL),
		logging.Error(err),
		logging.String(logging.FieldErrorHint, "the server may not be returning audio"),
		logging.String(logging.FieldImpact, "stream omitted from the capture"),
	)
}

func copyFrames(ctx context.Context, src stream, w *wavWriter, buf []int) (frames int64, readErr, writeErr error) {
	ch := w.format.Channels
	for {
		if ctx.Err() != nil {
			return frames, nil, nil
		}
		n, err := src.Read(buf)
		if n > 0 {
			if werr := w.Write(buf[:n]); werr != nil {
				return frames, nil, werr
			}
			frames += int64(n / ch)
		}
		if errors.Is(err, io.EOF) {
			return frames, nil, nil
		}
		if err != nil {
			return frames, err, nil
		}
	}
}
