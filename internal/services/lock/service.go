// Package lock serializes undine runs across processes with an advisory file lock.
package lock

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/rs/zerolog"
)

// ErrLockTimeout is returned when the lock could not be taken within the
// configured wait.
var ErrLockTimeout = errors.New("timed out waiting for lock")

// ReleaseFunc drops a held lock. Calling it more than once is a no-op.
type ReleaseFunc func() error

// Service defines the interface for the run lock.
type Service interface {
	Acquire(ctx context.Context, path string, timeout time.Duration) (ReleaseFunc, error)
}

// Impl implements the Service interface on top of flock(2).
type Impl struct {
	logger     zerolog.Logger
	retryDelay time.Duration
}

// New creates a new lock service.
func New(logger zerolog.Logger) *Impl {
	return &Impl{
		logger:     logger,
		retryDelay: 500 * time.Millisecond,
	}
}

// NewWithRetryDelay creates a lock service polling at the given interval (for testing).
func NewWithRetryDelay(logger zerolog.Logger, retryDelay time.Duration) *Impl {
	return &Impl{
		logger:     logger,
		retryDelay: retryDelay,
	}
}

// Acquire takes an exclusive lock on path, waiting while another process
// holds it. A zero timeout waits until the lock is free or ctx is done.
// Missing parent directories are created.
func (s *Impl) Acquire(ctx context.Context, path string, timeout time.Duration) (ReleaseFunc, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create lock directory for %s: %w", path, err)
	}

	fl := flock.New(path)

	ok, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire lock %s: %w", path, err)
	}

	if !ok {
		s.logger.Info().
			Str("lockfile", path).
			Dur("timeout", timeout).
			Msg("another run holds the lock, waiting")

		waitCtx := ctx
		if timeout > 0 {
			var cancel context.CancelFunc
			waitCtx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}

		ok, err = fl.TryLockContext(waitCtx, s.retryDelay)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
				return nil, fmt.Errorf("%w after %s: %s", ErrLockTimeout, timeout, path)
			}
			return nil, fmt.Errorf("acquire lock %s: %w", path, err)
		}
		if !ok {
			return nil, fmt.Errorf("acquire lock %s: lock not obtained", path)
		}
	}

	s.logger.Debug().Str("lockfile", path).Msg("lock acquired")

	return func() error {
		if err := fl.Unlock(); err != nil {
			return fmt.Errorf("release lock %s: %w", path, err)
		}
		s.logger.Debug().Str("lockfile", path).Msg("lock released")
		return nil
	}, nil
}
