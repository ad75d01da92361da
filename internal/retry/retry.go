// Package retry runs calls to flaky external dependencies under a backoff
// policy.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"
)

// Growth selects how the delay grows between attempts.
type Growth string

const (
	// Linear waits attempt × BaseDelay.
	Linear Growth = "linear"
	// Exponential doubles BaseDelay every attempt.
	Exponential Growth = "exponential"
)

// Policy configures retries.
type Policy struct {
	// MaxAttempts counts every attempt including the first.
	MaxAttempts int
	BaseDelay   time.Duration
	// MaxDelay caps a single wait. Zero means no cap.
	MaxDelay time.Duration
	Growth   Growth
	// Jitter randomizes each wait by ± this fraction (0–1).
	Jitter float64
	// Retryable decides whether an error earns another attempt. Nil retries
	// every error.
	Retryable func(error) bool
	// OnRetry observes each scheduled retry.
	OnRetry func(attempt int, delay time.Duration, err error)
	// Sleep waits for d or until ctx ends. Nil uses a timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

// DefaultPolicy retries three times in total, doubling from one second.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		MaxDelay:    30 * time.Second,
		Growth:      Exponential,
		Jitter:      0.2,
	}
}

// ErrInvalidPolicy is returned by Validate.
var ErrInvalidPolicy = errors.New("invalid retry policy")

// Validate checks the policy's bounds.
func (p Policy) Validate() error {
	switch {
	case p.MaxAttempts < 1:
		return fmt.Errorf("%w: max attempts %d", ErrInvalidPolicy, p.MaxAttempts)
	case p.BaseDelay < 0:
		return fmt.Errorf("%w: negative base delay", ErrInvalidPolicy)
	case p.MaxDelay != 0 && p.MaxDelay < p.BaseDelay:
		return fmt.Errorf("%w: max delay below base delay", ErrInvalidPolicy)
	case p.Jitter < 0 || p.Jitter > 1:
		return fmt.Errorf("%w: jitter %v outside [0,1]", ErrInvalidPolicy, p.Jitter)
	}
	switch p.Growth {
	case "", Linear, Exponential:
		return nil
	}
	return fmt.Errorf("%w: growth %q", ErrInvalidPolicy, p.Growth)
}

// Delay returns the wait after the given failed attempt (1-based), before
// jitter.
func (p Policy) Delay(attempt int) time.Duration {
	var d time.Duration
	if p.Growth == Linear {
		d = time.Duration(attempt) * p.BaseDelay
	} else {
		d = p.BaseDelay
		for i := 1; i < attempt; i++ {
			d *= 2
			if p.MaxDelay > 0 && d >= p.MaxDelay {
				break
			}
		}
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

func (p Policy) jittered(d time.Duration) time.Duration {
	if p.Jitter <= 0 || d <= 0 {
		return d
	}
	return time.Duration(float64(d) * (1 + (rand.Float64()*2-1)*p.Jitter))
}

// Result describes a finished Do.
type Result struct {
	Attempts int
	Waited   time.Duration
}

// Do calls fn until it succeeds, returns a non-retryable error, exhausts
// MaxAttempts or ctx ends. The error of the last attempt is returned.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context, attempt int) error) (Result, error) {
	var res Result
	if err := p.Validate(); err != nil {
		return res, err
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = timerSleep
	}

	for attempt := 1; ; attempt++ {
		res.Attempts = attempt
		if err := ctx.Err(); err != nil {
			return res, err
		}
		err := fn(ctx, attempt)
		if err == nil {
			return res, nil
		}
		if attempt >= p.MaxAttempts || (p.Retryable != nil && !p.Retryable(err)) {
			return res, err
		}

		delay := p.jittered(p.Delay(attempt))
		if p.OnRetry != nil {
			p.OnRetry(attempt, delay, err)
		}
		if serr := sleep(ctx, delay); serr != nil {
			return res, errors.Join(err, serr)
		}
		res.Waited += delay
	}
}

func timerSleep(ctx context.Context, d time.Duration) error {
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
