// pkg/retry/retry.go - functions for retrying actions with exponential backoff.

package retry

import (
	"errors"
	"fmt"
	"time"

	"github.com/windowsadmins/winfeature/pkg/logging"
)

// PermanentError wraps an error that must not be retried, such as a
// missing executable.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }

func (e *PermanentError) Unwrap() error { return e.Err }

// Config defines the configuration for retry attempts
type Config struct {
	MaxRetries      int
	InitialInterval time.Duration
	Multiplier      float64
}

// Retry retries a given function with exponential backoff. A
// PermanentError aborts immediately and is returned unwrapped.
func Retry(config Config, action func() error) error {
	interval := config.InitialInterval

	var lastErr error
	for attempt := 1; attempt <= config.MaxRetries; attempt++ {
		err := action()
		if err == nil {
			return nil
		}
		lastErr = err

		var permanent *PermanentError
		if errors.As(err, &permanent) {
			logging.Warn("Non-retryable error encountered",
				"attempt", attempt,
				"error", err,
			)
			return permanent.Err
		}

		if attempt < config.MaxRetries {
			logging.Warn(fmt.Sprintf("Attempt %d/%d failed, retrying in %s",
				attempt, config.MaxRetries, interval),
				"error", err,
			)
			time.Sleep(interval)
			interval = time.Duration(float64(interval) * config.Multiplier)
		} else {
			logging.Warn(fmt.Sprintf("Attempt %d/%d failed, no more retries",
				attempt, config.MaxRetries),
				"error", err,
			)
		}
	}

	return fmt.Errorf("action failed after %d attempts: %w", config.MaxRetries, lastErr)
}
