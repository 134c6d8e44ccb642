package watcher

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"

	"flaccapture/internal/capture"
	"flaccapture/internal/fileutil"
	"flaccapture/internal/history"
	"flaccapture/internal/logging"
	"flaccapture/internal/notifications"
	"flaccapture/internal/playlist"
	"flaccapture/internal/services"
)

// collisionLayout is appended to a relocated playlist whose name is taken.
const collisionLayout = "20060102_150405.000"

// process runs one admitted playlist to a terminal disposition. The registry
// slot is released only after relocation, history and notifications are
// done, so jobs never overlap.
func (s *Service) process(ctx context.Context, path string) {
	ctx = services.WithPlaylist(ctx, path)
	logger := logging.WithContext(ctx, s.logger)
	disposition := DispositionFailed
	release := false
	defer func() {
		if r := recover(); r != nil {
			logging.ErrorWithContext(logger, "capture job panicked", "job_panic",
				logging.Any("panic", r),
				logging.String("stack", string(debug.Stack())),
				logging.String(logging.FieldImpact, "playlist marked failed; watch service continues"),
			)
			disposition = DispositionFailed
			release = false
		}
		if release {
			s.registry.Release(path)
			return
		}
		s.registry.Finish(path, disposition)
	}()

	if !s.settle(ctx) {
		release = true
		return
	}
	if _, err := os.Stat(path); err != nil {
		logging.WarnWithContext(logger, "playlist vanished before capture", "playlist_vanished",
			logging.Error(err),
			logging.String(logging.FieldImpact, "nothing captured or relocated"),
		)
		return
	}

	started := s.now()
	job, err := playlist.Load(path, started)
	var out *capture.Outcome
	if err != nil {
		out = &capture.Outcome{
			JobID:      uuid.NewString(),
			Playlist:   path,
			States:     []capture.State{capture.StateIdle, capture.StateDone},
			Status:     capture.StatusFailed,
			Err:        err,
			StartedAt:  started,
			FinishedAt: s.now(),
		}
		logging.WarnWithContext(logger, "playlist rejected", "playlist_rejected",
			logging.Error(err),
			logging.String(logging.FieldErrorKind, services.Classify(err)),
			logging.String(logging.FieldImpact, "playlist moved to failed"),
		)
	} else {
		out = s.runner.Run(ctx, job)
		if out == nil {
			out = &capture.Outcome{Playlist: path, Status: capture.StatusFailed, Err: errors.New("capture returned no outcome")}
		}
	}

	if !out.Succeeded() && services.IsCancelled(out.Err) && ctx.Err() != nil {
		logger.Info("capture interrupted by shutdown; playlist left in inbox",
			logging.String(logging.FieldEventType, "job_interrupted"))
		release = true
		return
	}

	if out.Succeeded() {
		disposition = DispositionProcessed
	}
	dest, relocErr := s.relocate(path, disposition)
	if relocErr != nil {
		logging.WarnWithContext(logger, "failed to relocate playlist", "relocation_failed",
			logging.Error(relocErr),
			logging.String(logging.FieldErrorKind, services.Classify(relocErr)),
			logging.String(logging.FieldImpact, "playlist stays in the inbox but will not be captured again this run"),
			logging.String(logging.FieldErrorHint, "check permissions on the inbox and its processed/failed folders"),
		)
	} else {
		logger.Info("playlist relocated",
			logging.String(logging.FieldEventType, "playlist_relocated"),
			logging.String("disposition", string(disposition)),
			logging.String("destination", dest),
		)
	}

	s.record(ctx, out, disposition)
	s.notify(ctx, out)
}

// settle waits for the writer of a freshly dropped playlist to finish.
func (s *Service) settle(ctx context.Context) bool {
	if s.opts.SettleDelay <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(s.opts.SettleDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// relocate moves the playlist into the processed or failed folder. When the
// name is taken a millisecond timestamp is appended to the stem.
func (s *Service) relocate(path string, disposition Disposition) (string, error) {
	dir := s.opts.FailedDir
	if disposition == DispositionProcessed {
		dir = s.opts.ProcessedDir
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", services.Wrap(services.ErrRelocation, stageName, "create folder", dir, err)
	}

	name := filepath.Base(path)
	dest := filepath.Join(dir, name)
	if _, err := os.Lstat(dest); err == nil {
		ext := filepath.Ext(name)
		stamp := strings.Replace(s.now().Format(collisionLayout), ".", "_", 1)
		dest = filepath.Join(dir, strings.TrimSuffix(name, ext)+"_"+stamp+ext)
		if _, err := os.Lstat(dest); err == nil {
			return "", services.Wrap(services.ErrRelocation, stageName, "relocate", fmt.Sprintf("%s already exists", dest), os.ErrExist)
		}
	}
	if err := fileutil.MoveFile(path, dest); err != nil {
		return "", services.Wrap(services.ErrRelocation, stageName, "relocate", path, err)
	}
	return dest, nil
}

func (s *Service) record(ctx context.Context, out *capture.Outcome, disposition Disposition) {
	if s.recorder == nil {
		return
	}
	rec := history.FromOutcome(out, string(disposition))
	if rec.Playlist == "" {
		return
	}
	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if _, err := s.recorder.Insert(recordCtx, rec); err != nil {
		s.logger.Warn("failed to record capture history",
			logging.String(logging.FieldPlaylist, out.Playlist),
			logging.Error(err),
			logging.String(logging.FieldImpact, "history command will not list this job"),
		)
	}
}

func (s *Service) notify(ctx context.Context, out *capture.Outcome) {
	var err error
	switch {
	case out.Succeeded():
		if out.EncodeErr != nil {
			if encErr := s.notifier.NotifyEncodingFailed(ctx, out.OutputPath(), out.EncodeErr); encErr != nil {
				s.logger.Warn("encoding failure notification failed", logging.Error(encErr))
			}
		}
		summary := notifications.JobSummary{
			Playlist:   out.Playlist,
			OutputPath: out.OutputPath(),
			Streams:    len(out.Fetches),
			Fetched:    out.Fetched(),
			Bytes:      out.OutputBytes(),
			Duration:   out.Duration(),
		}
		if out.Encoded != nil {
			summary.Ratio = out.Encoded.Ratio()
		}
		err = s.notifier.NotifyJobSucceeded(ctx, summary)
	default:
		err = s.notifier.NotifyJobFailed(ctx, out.Playlist, out.Err)
	}
	if err != nil {
		s.logger.Warn("job notification failed",
			logging.String(logging.FieldPlaylist, out.Playlist),
			logging.Error(err),
			logging.String(logging.FieldImpact, "no push notification for this job"),
		)
	}
}
