// Package retry computes job-level backoff delays.
package retry

import (
	"context"
	"errors"
	"time"

	"git.home.luguber.info/inful/sitebuilder/internal/config"
)

// Policy encapsulates retry/backoff settings for whole-job retries.
// It is immutable after construction.
type Policy struct {
	Mode       config.RetryBackoffMode
	Initial    time.Duration
	Max        time.Duration
	MaxRetries int // retries after the first attempt
}

// DefaultPolicy returns exponential backoff from 2s capped at 30s with 2 retries.
func DefaultPolicy() Policy {
	return Policy{Mode: config.RetryBackoffExponential, Initial: 2 * time.Second, Max: 30 * time.Second, MaxRetries: 2}
}

// FromConfig builds a policy from the queue section.
func FromConfig(q config.QueueConfig) Policy {
	return NewPolicy(q.RetryBackoff, q.RetryInitialDelay, q.RetryMaxDelay, q.MaxRetries)
}

// NewPolicy builds a policy from raw fields; zero or unknown values fall back to defaults.
func NewPolicy(mode config.RetryBackoffMode, initial, maxDelay time.Duration, maxRetries int) Policy {
	p := DefaultPolicy()
	if maxRetries >= 0 {
		p.MaxRetries = maxRetries
	}
	if initial > 0 {
		p.Initial = initial
	}
	if maxDelay > 0 {
		p.Max = maxDelay
	}
	if m := config.NormalizeRetryBackoff(string(mode)); m != "" {
		p.Mode = m
	}
	if p.Initial > p.Max {
		p.Initial = p.Max
	}
	return p
}

// Attempts is the total number of executions the policy allows.
func (p Policy) Attempts() int { return p.MaxRetries + 1 }

// Delay returns the backoff before the given retry (1-based: first retry => 1).
func (p Policy) Delay(retryCount int) time.Duration {
	if retryCount <= 0 {
		return 0
	}
	var d time.Duration
	switch p.Mode {
	case config.RetryBackoffFixed:
		d = p.Initial
	case config.RetryBackoffLinear:
		d = time.Duration(retryCount) * p.Initial
	default:
		shift := min(retryCount-1, 30)
		d = p.Initial << shift
	}
	if d > p.Max || d <= 0 {
		return p.Max
	}
	return d
}

// Wait blocks for Delay(retryCount) or until ctx is done.
func (p Policy) Wait(ctx context.Context, retryCount int) error {
	d := p.Delay(retryCount)
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Validate ensures the policy can be applied.
func (p Policy) Validate() error {
	switch {
	case p.Initial <= 0:
		return errors.New("initial must be >0")
	case p.Max <= 0:
		return errors.New("max must be >0")
	case p.MaxRetries < 0:
		return errors.New("max retries cannot be negative")
	}
	return nil
}
