package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errTransient = errors.New("overloaded")

type recorder struct {
	waits []time.Duration
}

func (r *recorder) sleep(_ context.Context, d time.Duration) error {
	r.waits = append(r.waits, d)
	return nil
}

func TestDelayGrowth(t *testing.T) {
	exp := Policy{BaseDelay: time.Second, MaxDelay: 10 * time.Second, Growth: Exponential}
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 10 * time.Second},
		[]time.Duration{exp.Delay(1), exp.Delay(2), exp.Delay(3), exp.Delay(4), exp.Delay(5)})

	lin := Policy{BaseDelay: 500 * time.Millisecond, Growth: Linear}
	assert.Equal(t, []time.Duration{500 * time.Millisecond, time.Second, 1500 * time.Millisecond},
		[]time.Duration{lin.Delay(1), lin.Delay(2), lin.Delay(3)})

	assert.Equal(t, 30*time.Second, Policy{BaseDelay: time.Second, MaxDelay: 30 * time.Second}.Delay(60))
}

func TestDoRetriesUntilSuccess(t *testing.T) {
	rec := &recorder{}
	p := Policy{MaxAttempts: 4, BaseDelay: time.Second, Growth: Exponential, Sleep: rec.sleep}

	calls := 0
	res, err := p.Do(context.Background(), func(_ context.Context, attempt int) error {
		calls++
		assert.Equal(t, calls, attempt)
		if attempt < 3 {
			return errTransient
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, rec.waits)
	assert.Equal(t, 3*time.Second, res.Waited)
}

func TestDoStopsAtCeiling(t *testing.T) {
	rec := &recorder{}
	var observed []int
	p := Policy{
		MaxAttempts: 3, BaseDelay: time.Millisecond, Growth: Linear, Sleep: rec.sleep,
		OnRetry: func(attempt int, _ time.Duration, err error) {
			observed = append(observed, attempt)
			assert.ErrorIs(t, err, errTransient)
		},
	}
	res, err := p.Do(context.Background(), func(context.Context, int) error { return errTransient })
	assert.ErrorIs(t, err, errTransient)
	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, []int{1, 2}, observed)
	assert.Len(t, rec.waits, 2)
}

func TestDoSkipsPermanentErrors(t *testing.T) {
	permanent := errors.New("bad request")
	rec := &recorder{}
	p := Policy{
		MaxAttempts: 5, BaseDelay: time.Second, Sleep: rec.sleep,
		Retryable: func(err error) bool { return errors.Is(err, errTransient) },
	}
	res, err := p.Do(context.Background(), func(context.Context, int) error { return permanent })
	assert.ErrorIs(t, err, permanent)
	assert.Equal(t, 1, res.Attempts)
	assert.Empty(t, rec.waits)
}

func TestDoHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := Policy{MaxAttempts: 5, BaseDelay: time.Hour}

	res, err := p.Do(ctx, func(context.Context, int) error {
		cancel()
		return errTransient
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, err, errTransient)
	assert.Equal(t, 1, res.Attempts)
}

func TestJitterStaysInRange(t *testing.T) {
	p := Policy{Jitter: 0.2}
	for range 200 {
		d := p.jittered(time.Second)
		assert.GreaterOrEqual(t, d, 800*time.Millisecond)
		assert.LessOrEqual(t, d, 1200*time.Millisecond)
	}
}

func TestValidate(t *testing.T) {
	assert.NoError(t, DefaultPolicy().Validate())
	for name, p := range map[string]Policy{
		"attempts": {MaxAttempts: 0},
		"max":      {MaxAttempts: 1, BaseDelay: time.Second, MaxDelay: time.Millisecond},
		"jitter":   {MaxAttempts: 1, Jitter: 2},
		"growth":   {MaxAttempts: 1, Growth: "cubic"},
	} {
		assert.ErrorIs(t, p.Validate(), ErrInvalidPolicy, name)
	}
}
