package browser

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ytget/livecap/errs"
	"github.com/ytget/livecap/internal/logger"
	"github.com/ytget/livecap/profile"
)

// RetryPolicy controls StartWithRetry.
type RetryPolicy struct {
	// Attempts is the total number of launches tried.
	Attempts int
	// Backoff is multiplied by the attempt number before each retry.
	Backoff time.Duration
	// ProfileWait bounds the wait for lock files before every launch.
	ProfileWait time.Duration
	// PollInterval is the lock file polling period.
	PollInterval time.Duration
	// CleanupFrom is the zero-based failed attempt after which stale locks
	// are removed before launching again.
	CleanupFrom int
}

// DefaultRetryPolicy returns four attempts with a 1.2s linear backoff.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Attempts:     4,
		Backoff:      1200 * time.Millisecond,
		ProfileWait:  8 * time.Second,
		PollInterval: profile.DefaultPollInterval,
		CleanupFrom:  1,
	}
}

// StartWithRetry launches a browser bound to userDataDir. A busy profile is
// retried with backoff, and once two launches have failed stale locks are
// removed before the next one.
// Any other launch error is returned at once.
func StartWithRetry(ctx context.Context, l Launcher, userDataDir string, p RetryPolicy) (Browser, error) {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for i := 0; i < attempts; i++ {
		if !profile.WaitReleased(ctx, userDataDir, p.ProfileWait, p.PollInterval) {
			log.Warn("profile still locked before launch", logger.Fields{
				"attempt": i + 1,
				"locks":   profile.Locked(userDataDir),
			})
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		b, err := l.Launch(ctx)
		if err == nil {
			if i > 0 {
				log.Info("browser started after retry", logger.Fields{"attempt": i + 1})
			}
			return b, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !busy(err, userDataDir) {
			return nil, err
		}

		lastErr = err
		wait := p.Backoff * time.Duration(i+1)
		log.Warn("profile busy, retrying", logger.Fields{
			"attempt": i + 1,
			"of":      attempts,
			"wait":    wait.String(),
			"err":     err,
		})
		if i+1 >= attempts {
			break
		}
		if err := Sleep(ctx, wait); err != nil {
			return nil, err
		}
		if i >= p.CleanupFrom && userDataDir != "" {
			profile.CleanupLocks(userDataDir)
		}
	}
	return nil, fmt.Errorf("%w after %d attempts: %v", errs.ErrProfileBusy, attempts, lastErr)
}

// busy reports whether a failed launch should be retried. Besides the
// messages IsBusyError knows, a browser that failed to start while the
// profile is still locked counts as busy.
func busy(err error, userDataDir string) bool {
	if profile.IsBusyError(err) {
		return true
	}
	return userDataDir != "" && errors.Is(err, errs.ErrBrowserStart) && len(profile.Locked(userDataDir)) > 0
}
