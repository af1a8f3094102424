// Package retry runs a whole workflow again when it fails with a retryable
// error. Each workflow step is idempotent, so a rerun picks up where the
// failed attempt stopped.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	"octobranch/internal/config"
	"octobranch/internal/octopus"
	"octobranch/pkg/logging"
)

const subsystem = "Retry"

// Policy bounds how often and how long an operation is retried.
type Policy struct {
	MaxAttempts int
	MaxElapsed  time.Duration
	Backoff     time.Duration

	// Retryable reports whether err warrants another attempt.
	Retryable func(error) bool

	clock backoff.Clock
	timer backoff.Timer
}

// NewPolicy builds a policy from settings that retries communication errors.
// Zero settings fall back to the defaults.
func NewPolicy(s config.RetrySettings) Policy {
	p := Policy{
		MaxAttempts: s.MaxAttempts,
		MaxElapsed:  s.MaxElapsed,
		Backoff:     s.Backoff,
		Retryable:   octopus.IsCommunicationError,
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = config.DefaultMaxAttempts
	}
	if p.MaxElapsed <= 0 {
		p.MaxElapsed = config.DefaultMaxElapsed
	}
	if p.Backoff <= 0 {
		p.Backoff = config.DefaultBackoff
	}
	return p
}

func (p Policy) backOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.Backoff
	b.MaxInterval = p.Backoff
	b.Multiplier = 1
	b.RandomizationFactor = 0
	b.MaxElapsedTime = p.MaxElapsed
	if p.clock != nil {
		b.Clock = p.clock
	}
	b.Reset()

	retries := p.MaxAttempts - 1
	if retries < 0 {
		retries = 0
	}
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(retries)), ctx)
}

// Do calls fn until it succeeds, fails with a non-retryable error, or the
// policy is exhausted. The last error is returned.
func (p Policy) Do(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	attempt := 0
	op := func() error {
		attempt++
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			return backoff.Permanent(err)
		}
		if p.Retryable == nil || !p.Retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		logging.Warn(subsystem, "%s attempt %d of %d failed, retrying in %s: %v", name, attempt, p.MaxAttempts, wait, err)
	}

	err := backoff.RetryNotifyWithTimer(op, p.backOff(ctx), notify, p.timer)
	if err != nil {
		logging.Error(subsystem, err, "%s failed after %d attempts", name, attempt)
	}
	return err
}
