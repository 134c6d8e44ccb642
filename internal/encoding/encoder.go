package encoding

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"flaccapture/internal/config"
	"flaccapture/internal/logging"
	"flaccapture/internal/services"
)

const stageName = "encode"

// Method names the encoder that produced an output.
type Method string

const (
	MethodNative   Method = "native"
	MethodExternal Method = "external"
)

// Options configures an Encoder.
type Options struct {
	// Quality is 0-100 and maps onto FLAC levels 0-8.
	Quality int
	// OpenAttempts bounds how often the input is opened before giving up.
	OpenAttempts int
	// InitialBackoff is the first wait between open attempts; later waits
	// double.
	InitialBackoff time.Duration
	BinaryName     string
	DisableNative  bool
}

// Defaults used when Options fields are zero.
const (
	DefaultQuality        = 100
	DefaultOpenAttempts   = 3
	DefaultInitialBackoff = 200 * time.Millisecond
	DefaultBinary         = "flac"
)

// DefaultOptions returns the settings used without configuration.
func DefaultOptions() Options {
	return Options{
		Quality:        DefaultQuality,
		OpenAttempts:   DefaultOpenAttempts,
		InitialBackoff: DefaultInitialBackoff,
		BinaryName:     DefaultBinary,
	}
}

// OptionsFromConfig maps the [encoding] section onto Options.
func OptionsFromConfig(cfg *config.Config) Options {
	opts := DefaultOptions()
	if cfg == nil {
		return opts
	}
	opts.Quality = cfg.Encoding.Quality
	if cfg.Encoding.OpenAttempts > 0 {
		opts.OpenAttempts = cfg.Encoding.OpenAttempts
	}
	if strings.TrimSpace(cfg.Encoding.FlacBinary) != "" {
		opts.BinaryName = strings.TrimSpace(cfg.Encoding.FlacBinary)
	}
	opts.DisableNative = !cfg.Encoding.Native
	return opts
}

// Result describes a finished encode.
type Result struct {
	InputPath  string
	OutputPath string
	InputSize  int64
	OutputSize int64
	Method     Method
	Attempts   int
	Duration   time.Duration
}

// Ratio is the size reduction in percent.
func (r *Result) Ratio() float64 {
	if r == nil || r.InputSize <= 0 {
		return 0
	}
	return (1 - float64(r.OutputSize)/float64(r.InputSize)) * 100
}

// Encoder converts WAV files to FLAC.
type Encoder struct {
	opts   Options
	logger *slog.Logger
}

// New constructs an Encoder. Zero attempts, backoff and binary fall back to
// the defaults; Quality is used as given and checked by Encode.
func New(opts Options, logger *slog.Logger) *Encoder {
	if opts.OpenAttempts <= 0 {
		opts.OpenAttempts = DefaultOpenAttempts
	}
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = DefaultInitialBackoff
	}
	if strings.TrimSpace(opts.BinaryName) == "" {
		opts.BinaryName = DefaultBinary
	}
	return &Encoder{opts: opts, logger: logging.NewComponentLogger(logger, "encoder")}
}

// OutputPathFor swaps the extension of a WAV path for .flac.
func OutputPathFor(inputPath string) string {
	return strings.TrimSuffix(inputPath, filepath.Ext(inputPath)) + ".flac"
}

// Encode compresses inputPath into outputPath, or next to the input when
// outputPath is empty. The input is never modified. On failure any partial
// output is removed and the error names the retained input.
func (e *Encoder) Encode(ctx context.Context, inputPath, outputPath string) (*Result, error) {
	if e.opts.Quality < 0 || e.opts.Quality > 100 {
		return nil, services.Wrap(services.ErrConfiguration, stageName, "validate",
			fmt.Sprintf("quality %d outside 0-100", e.opts.Quality), nil)
	}
	info, err := os.Stat(inputPath)
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, stageName, "stat input", inputPath, err)
	}
	if info.IsDir() {
		return nil, services.Wrap(services.ErrValidation, stageName, "stat input", inputPath+" is a directory", nil)
	}
	if outputPath == "" {
		outputPath = OutputPathFor(inputPath)
	}

	logger := logging.WithContext(ctx, e.logger).With(
		logging.String("input", inputPath),
		logging.String("output", outputPath),
	)
	level := Level(e.opts.Quality)
	logger.Info("encoding started",
		logging.Bytes("size", info.Size()),
		logging.Int("level", level),
		logging.Bool("native", !e.opts.DisableNative),
	)

	start := time.Now()
	input, attempts, err := e.openInput(ctx, logger, inputPath)
	if err != nil {
		switch {
		case ctx.Err() != nil:
			return nil, services.Wrap(services.ErrCancelled, stageName, "open input", inputPath, ctx.Err())
		case errors.Is(err, fs.ErrNotExist):
			return nil, services.Wrap(services.ErrValidation, stageName, "open input", inputPath, err)
		default:
			return nil, services.Wrap(services.ErrEncodingFailed, stageName, "open input",
				fmt.Sprintf("gave up after %d attempts; source kept at %s", attempts, inputPath), err)
		}
	}
	defer input.Close()

	result := &Result{
		InputPath:  inputPath,
		OutputPath: outputPath,
		InputSize:  info.Size(),
		Attempts:   attempts,
	}

	if !e.opts.DisableNative {
		if nativeErr := e.runNative(ctx, input, outputPath, level); nativeErr == nil {
			result.Method = MethodNative
		} else {
			_ = os.Remove(outputPath)
			if ctx.Err() != nil {
				return nil, services.Wrap(services.ErrCancelled, stageName, "native encode", inputPath, ctx.Err())
			}
			logging.WarnWithContext(logger, "native encoder failed; falling back to external flac", "native_encode_failed",
				logging.Error(nativeErr),
				logging.String(logging.FieldImpact, "encoding continues with the external encoder"),
			)
		}
	}

	if result.Method == "" {
		if err := e.encodeExternal(ctx, logger, inputPath, outputPath); err != nil {
			_ = os.Remove(outputPath)
			return nil, err
		}
		result.Method = MethodExternal
	}

	out, err := os.Stat(outputPath)
	if err != nil {
		return nil, services.Wrap(services.ErrEncodingFailed, stageName, "stat output",
			fmt.Sprintf("encoder reported success but %s is missing; source kept at %s", outputPath, inputPath), err)
	}
	result.OutputSize = out.Size()
	result.Duration = time.Since(start)

	logger.Info("encoding complete",
		logging.String("method", string(result.Method)),
		logging.Bytes("input_size", result.InputSize),
		logging.Bytes("output_size", result.OutputSize),
		logging.String("reduction", fmt.Sprintf("%.1f%%", result.Ratio())),
		logging.Duration("elapsed", result.Duration.Round(time.Millisecond)),
		logging.String(logging.FieldEventType, "encoding_complete"),
	)
	return result, nil
}

func (e *Encoder) runNative(ctx context.Context, input io.ReadSeeker, outputPath string, level int) error {
	stats, err := encodeNative(ctx, input, outputPath, level)
	if err != nil {
		return err
	}
	if err := verifyNative(outputPath, stats.digest); err != nil {
		return fmt.Errorf("verify: %w", err)
	}
	return nil
}

// DeleteSource removes the WAV behind a successful result.
func DeleteSource(result *Result) error {
	if result == nil || result.InputPath == "" {
		return errors.New("no encoding result")
	}
	if _, err := os.Stat(result.OutputPath); err != nil {
		return fmt.Errorf("refusing to delete source without output: %w", err)
	}
	if err := os.Remove(result.InputPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}
