package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"flaccapture/internal/audio"
	"flaccapture/internal/config"
	"flaccapture/internal/encoding"
	"flaccapture/internal/fetch"
	"flaccapture/internal/logging"
	"flaccapture/internal/playlist"
	"flaccapture/internal/services"
)

// Fetcher downloads the streams of a playlist.
type Fetcher interface {
	FetchAll(ctx context.Context, urls []string, parallelism int) ([]fetch.Result, error)
}

// Assembler joins fetched streams into one WAV.
type Assembler interface {
	Assemble(ctx context.Context, results []fetch.Result, outputPath string) (*audio.Assembled, error)
}

// Encoder compresses the assembled WAV.
type Encoder interface {
	Encode(ctx context.Context, inputPath, outputPath string) (*encoding.Result, error)
}

// Monitor plays fetched audio to a local output device while a capture runs.
// Volume is already clamped to 0.0-1.0.
type Monitor interface {
	Play(ctx context.Context, path string, volume float64) error
}

// Options configures an Orchestrator.
type Options struct {
	OutputDir     string
	OutputPrefix  string
	Parallelism   int
	Volume        float64
	AutoConvert   bool
	AutoDeleteWAV bool
}

// OptionsFromConfig maps the capture and encoding sections onto Options.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		OutputDir:     cfg.Paths.OutputDir,
		OutputPrefix:  cfg.Capture.OutputPrefix,
		Parallelism:   cfg.Capture.FetchParallelism,
		Volume:        cfg.Capture.Volume,
		AutoConvert:   cfg.Encoding.AutoConvert,
		AutoDeleteWAV: cfg.Encoding.AutoDeleteWAV,
	}
}

// Orchestrator runs capture jobs.
type Orchestrator struct {
	opts      Options
	fetcher   Fetcher
	assembler Assembler
	encoder   Encoder
	monitor   Monitor
	logger    *slog.Logger
	now       func() time.Time
}

// New constructs an Orchestrator. encoder may be nil when AutoConvert is off.
func New(opts Options, fetcher Fetcher, assembler Assembler, encoder Encoder, logger *slog.Logger) *Orchestrator {
	opts.Volume = config.ClampVolume(opts.Volume)
	return &Orchestrator{
		opts:      opts,
		fetcher:   fetcher,
		assembler: assembler,
		encoder:   encoder,
		logger:    logging.NewComponentLogger(logger, "capture"),
		now:       time.Now,
	}
}

// NewFromConfig wires the stock fetcher, assembler and encoder.
func NewFromConfig(cfg *config.Config, logger *slog.Logger) *Orchestrator {
	fetcher := fetch.New(fetch.Options{
		Timeout:   cfg.FetchTimeout(),
		UserAgent: cfg.Capture.UserAgent,
	}, logger)
	assembler := audio.NewAssembler(audio.Policy(cfg.Capture.FormatMismatch), logger)
	var encoder Encoder
	if cfg.Encoding.AutoConvert {
		encoder = encoding.New(encoding.OptionsFromConfig(cfg), logger)
	}
	return New(OptionsFromConfig(cfg), fetcher, assembler, encoder, logger)
}

// SetMonitor attaches a playback monitor. Monitor errors never fail a job.
func (o *Orchestrator) SetMonitor(m Monitor) {
	o.monitor = m
}

// Run captures job and reports the outcome. It never panics on job errors;
// failures are reported through Outcome.Err. Cancelling ctx is a shutdown:
// fetched streams are discarded and the outcome fails with
// services.ErrCancelled.
func (o *Orchestrator) Run(ctx context.Context, job *playlist.Job) *Outcome {
	return o.RunUntil(ctx, job, nil)
}

// RunUntil is Run with a stop signal for the fetch queue. Closing stop ends
// fetching early: the streams fetched so far are still assembled and
// encoded, and the outcome is marked Aborted. With nothing fetched the job
// fails with services.ErrCancelled.
func (o *Orchestrator) RunUntil(ctx context.Context, job *playlist.Job, stop <-chan struct{}) *Outcome {
	start := o.now()
	out := &Outcome{
		JobID:     uuid.NewString(),
		StartedAt: start,
		States:    []State{StateIdle},
	}
	if job == nil {
		return o.fail(ctx, out, services.Wrap(services.ErrValidation, "capture", "run", "no playlist job", nil))
	}
	out.Playlist = job.Path
	out.Requested = len(job.URLs)
	ctx = services.WithJobID(ctx, out.JobID)
	ctx = services.WithPlaylist(ctx, job.Path)

	base := filepath.Join(o.opts.OutputDir, job.OutputBase(o.opts.OutputPrefix, start))
	wavPath := base + ".wav"

	// Fetching
	stageCtx, logger := o.enter(ctx, out, StateFetching)
	if len(job.URLs) == 0 {
		return o.fail(ctx, out, services.Wrap(services.ErrValidation, "capture", "fetch", job.Path, playlist.ErrEmptyPlaylist))
	}
	results, err := o.fetchUntil(stageCtx, job.URLs, stop)
	out.Fetches = results
	if ctx.Err() != nil {
		return o.shutdown(ctx, out, "fetch")
	}
	fetched := fetch.Succeeded(results)
	if err != nil {
		out.Aborted = true
		if len(fetched) == 0 {
			fetch.Cleanup(results)
			return o.fail(ctx, out, err)
		}
		logging.WarnWithContext(logger, "fetch queue aborted; assembling the streams fetched so far", "fetch_aborted",
			logging.Int("fetched", len(fetched)),
			logging.Int("skipped", len(job.URLs)-len(fetched)),
			logging.String(logging.FieldImpact, "capture covers only the streams fetched before the abort"),
		)
	}
	logger.Info("stage completed",
		logging.String(logging.FieldEventType, "stage_complete"),
		logging.Int("streams", len(job.URLs)),
		logging.Int("fetched", len(fetched)),
		logging.Int("failed", len(results)-len(fetched)),
	)
	o.monitorSegments(stageCtx, logger, fetched)
	if ctx.Err() != nil {
		return o.shutdown(ctx, out, "monitor")
	}

	// Assembling
	stageCtx, logger = o.enter(ctx, out, StateAssembling)
	assembled, err := o.assembler.Assemble(stageCtx, results, wavPath)
	if err != nil {
		return o.fail(ctx, out, err)
	}
	out.Assembled = assembled
	logger.Info("stage completed",
		logging.String(logging.FieldEventType, "stage_complete"),
		logging.String("wav", assembled.Path),
		logging.Bytes("size", assembled.Bytes),
	)

	// Encoding
	if o.opts.AutoConvert && o.encoder != nil {
		stageCtx, logger = o.enter(ctx, out, StateEncoding)
		o.encode(stageCtx, logger, out, assembled.Path, base+".flac")
	}

	return o.succeed(ctx, out)
}

// fetchUntil runs the fetch queue on a child of ctx that is also cancelled
// when stop closes.
func (o *Orchestrator) fetchUntil(ctx context.Context, urls []string, stop <-chan struct{}) ([]fetch.Result, error) {
	fetchCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if stop != nil {
		go func() {
			select {
			case <-stop:
				cancel()
			case <-fetchCtx.Done():
			}
		}()
	}
	return o.fetcher.FetchAll(fetchCtx, urls, o.opts.Parallelism)
}

// shutdown discards everything fetched and fails the job as cancelled.
func (o *Orchestrator) shutdown(ctx context.Context, out *Outcome, op string) *Outcome {
	fetch.Cleanup(out.Fetches)
	for i := range out.Fetches {
		out.Fetches[i].Path = ""
	}
	return o.fail(ctx, out, services.Wrap(services.ErrCancelled, "capture", op, "shutdown before assembly", ctx.Err()))
}

func (o *Orchestrator) encode(ctx context.Context, logger *slog.Logger, out *Outcome, wavPath, flacPath string) {
	result, err := o.encoder.Encode(ctx, wavPath, flacPath)
	if err != nil {
		out.EncodeErr = err
		logging.WarnWithContext(logger, "encoding failed; keeping wav", "encoding_failed",
			logging.String("wav", wavPath),
			logging.Error(err),
			logging.String(logging.FieldErrorKind, services.Classify(err)),
			logging.String(logging.FieldErrorHint, "install flac or run `flaccapture convert` on the wav later"),
			logging.String(logging.FieldImpact, "capture kept as uncompressed wav"),
		)
		return
	}
	out.Encoded = result
	logger.Info("stage completed",
		logging.String(logging.FieldEventType, "stage_complete"),
		logging.String("flac", result.OutputPath),
		logging.String("reduction", fmt.Sprintf("%.1f%%", result.Ratio())),
	)
	if !o.opts.AutoDeleteWAV {
		return
	}
	if err := encoding.DeleteSource(result); err != nil {
		logging.WarnWithContext(logger, "failed to delete wav after encoding", "wav_cleanup_failed",
			logging.String("wav", wavPath),
			logging.Error(err),
			logging.String(logging.FieldImpact, "wav remains next to the flac"),
		)
		return
	}
	logger.Debug("wav removed after encoding", logging.String("wav", wavPath))
}

func (o *Orchestrator) monitorSegments(ctx context.Context, logger *slog.Logger, fetched []fetch.Result) {
	if o.monitor == nil {
		return
	}
	for _, r := range fetched {
		if ctx.Err() != nil {
			return
		}
		if err := o.monitor.Play(ctx, r.Path, o.opts.Volume); err != nil {
			logger.Warn("monitor playback failed",
				logging.Int("index", r.Index+1),
				logging.Error(err),
				logging.String(logging.FieldImpact, "capture continues without monitoring"),
			)
		}
	}
}

func (o *Orchestrator) enter(ctx context.Context, out *Outcome, state State) (context.Context, *slog.Logger) {
	out.States = append(out.States, state)
	stageCtx := services.WithStage(ctx, string(state))
	logger := logging.WithContext(stageCtx, o.logger)
	logger.Info("stage started", logging.String(logging.FieldEventType, "stage_start"))
	return stageCtx, logger
}

func (o *Orchestrator) succeed(ctx context.Context, out *Outcome) *Outcome {
	out.States = append(out.States, StateDone)
	out.Status = StatusSucceeded
	out.FinishedAt = o.now()
	logging.WithContext(ctx, o.logger).Info("capture succeeded",
		logging.String(logging.FieldEventType, "capture_succeeded"),
		logging.Bool("aborted", out.Aborted),
		logging.String("output", out.OutputPath()),
		logging.Bytes("size", out.OutputBytes()),
		logging.Int("fetched", out.Fetched()),
		logging.Int("streams", len(out.Fetches)),
		logging.Duration("elapsed", out.Duration().Round(time.Millisecond)),
	)
	return out
}

func (o *Orchestrator) fail(ctx context.Context, out *Outcome, err error) *Outcome {
	out.States = append(out.States, StateDone)
	out.Status = StatusFailed
	out.Err = err
	out.FinishedAt = o.now()
	logger := logging.WithContext(ctx, o.logger)
	if services.IsCancelled(err) || errors.Is(err, context.Canceled) {
		logger.Info("capture cancelled", logging.String(logging.FieldEventType, "capture_cancelled"))
		return out
	}
	logging.ErrorWithContext(logger, "capture failed", "capture_failed",
		logging.Error(err),
		logging.String(logging.FieldErrorKind, services.Classify(err)),
		logging.String(logging.FieldImpact, "no capture produced for this playlist"),
	)
	return out
}
