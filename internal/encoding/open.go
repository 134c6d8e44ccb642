package encoding

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gofrs/flock"

	"flaccapture/internal/logging"
)

var errInputLocked = errors.New("input is locked by another writer")

// lockedInput is an open WAV held under a shared lock.
type lockedInput struct {
	*os.File
	lock *flock.Flock
}

func (l *lockedInput) Close() error {
	err := l.File.Close()
	if uerr := l.lock.Unlock(); err == nil {
		err = uerr
	}
	return err
}

// openInput opens path under a shared lock, retrying while another process
// holds it exclusively or the open fails transiently. A missing file is not
// retried. The returned count is the number of attempts made.
func (e *Encoder) openInput(ctx context.Context, logger *slog.Logger, path string) (*lockedInput, int, error) {
	policy := &backoff.ExponentialBackOff{
		InitialInterval:     e.opts.InitialBackoff,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         30 * time.Second,
	}
	attempts := 0
	input, err := backoff.Retry(ctx, func() (*lockedInput, error) {
		attempts++
		lock := flock.New(path, flock.SetFlag(os.O_RDONLY))
		ok, err := lock.TryRLock()
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, backoff.Permanent(err)
			}
			return nil, err
		}
		if !ok {
			return nil, errInputLocked
		}
		f, err := os.Open(path)
		if err != nil {
			_ = lock.Unlock()
			if errors.Is(err, fs.ErrNotExist) {
				return nil, backoff.Permanent(err)
			}
			return nil, err
		}
		return &lockedInput{File: f, lock: lock}, nil
	},
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(uint(e.opts.OpenAttempts)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, wait time.Duration) {
			logger.Info("input not ready; retrying",
				logging.Int("attempt", attempts),
				logging.Duration("wait", wait),
				logging.Error(err),
			)
		}),
	)
	return input, attempts, err
}
