// Package retry runs an operation under an exponential-backoff policy.
// Skill steps declare these policies in YAML; the engine hands them here.
package retry

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

// Config is one backoff policy.
type Config struct {
	// MaxAttempts counts the first try too.
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	// Factor multiplies the delay after each failure.
	Factor float64
	Jitter bool
}

// DefaultConfig is the policy used when a step asks for retry without
// tuning it.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  3,
		InitialDelay: time.Second,
		MaxDelay:     30 * time.Second,
		Factor:       2.0,
		Jitter:       false,
	}
}

// Result is the outcome of a retried operation.
type Result struct {
	Attempts int
	Err      error
	Duration time.Duration
}

// Do runs op until it succeeds, the attempts are spent, a permanent
// error surfaces, or ctx is cancelled.
func Do(ctx context.Context, cfg Config, op func() error) Result {
	start := time.Now()
	res := Result{}

	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = time.Second
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 30 * time.Second
	}
	if cfg.Factor <= 0 {
		cfg.Factor = 2.0
	}

	delay := cfg.InitialDelay
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		res.Attempts = attempt

		if ctx.Err() != nil {
			res.Err = ctx.Err()
			break
		}

		err := op()
		if err == nil {
			res.Err = nil
			break
		}
		res.Err = err

		if IsPermanent(err) || attempt >= cfg.MaxAttempts {
			break
		}

		sleep := delay
		if cfg.Jitter {
			sleep = time.Duration(float64(delay) * (0.5 + rand.Float64())) // #nosec G404 -- not security sensitive
		}
		select {
		case <-ctx.Done():
			res.Err = ctx.Err()
			res.Duration = time.Since(start)
			return res
		case <-time.After(sleep):
		}

		delay = time.Duration(float64(delay) * cfg.Factor)
		if delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
	}

	res.Duration = time.Since(start)
	return res
}

// PermanentError stops retrying early.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps an error so Do gives up immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err carries the no-retry marker.
func IsPermanent(err error) bool {
	var p *PermanentError
	return errors.As(err, &p)
}
