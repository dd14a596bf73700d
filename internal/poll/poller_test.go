package poll

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackoffGrowsAndResets(t *testing.T) {
	p := New(func(context.Context) error { return nil }, time.Second, 5*time.Second, nil)

	fail := errors.New("down")
	assert.Equal(t, time.Second, p.next(fail))
	assert.Equal(t, 1500*time.Millisecond, p.next(fail))
	assert.Equal(t, 2250*time.Millisecond, p.next(fail))
	for j := 0; j < 10; j++ {
		p.next(fail)
	}
	assert.Equal(t, 5*time.Second, p.next(fail))

	assert.Equal(t, time.Second, p.next(nil))
	assert.Equal(t, time.Second, p.next(fail))
}

func TestBackoffStaysWithinIntervalAndMax(t *testing.T) {
	p := New(nil, time.Second, 2*time.Second, nil)
	fail := errors.New("down")
	for i := 0; i < 50; i++ {
		wait := p.next(fail)
		assert.GreaterOrEqual(t, wait, time.Second, "attempt %d", i)
		assert.LessOrEqual(t, wait, 2*time.Second, "attempt %d", i)
	}
}

func TestBackoffClampsJitter(t *testing.T) {
	p := New(nil, time.Second, 2*time.Second, nil)
	p.backoff.RandomizationFactor = 0.5
	p.backoff.Reset()
	fail := errors.New("down")
	for i := 0; i < 50; i++ {
		wait := p.next(fail)
		assert.GreaterOrEqual(t, wait, time.Second, "attempt %d", i)
		assert.LessOrEqual(t, wait, 2*time.Second, "attempt %d", i)
	}
}

func TestMaxBackoffNotBelowInterval(t *testing.T) {
	p := New(nil, time.Minute, time.Second, nil)
	assert.Equal(t, time.Minute, p.backoff.MaxInterval)
}

func TestRunPollsUntilCancelled(t *testing.T) {
	var calls atomic.Int32
	ctx, cancel := context.WithCancel(context.Background())
	p := New(func(context.Context) error {
		if calls.Add(1) == 3 {
			cancel()
		}
		return nil
	}, time.Millisecond, time.Millisecond, nil)

	err := p.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int32(3), calls.Load())
}

func TestStartStop(t *testing.T) {
	var calls atomic.Int32
	p := New(func(context.Context) error {
		calls.Add(1)
		return errors.New("flaky")
	}, time.Millisecond, 2*time.Millisecond, nil)

	p.Start(context.Background())
	p.Start(context.Background())
	require.Eventually(t, func() bool { return calls.Load() >= 2 }, time.Second, time.Millisecond)
	p.Stop()

	n := calls.Load()
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, n, calls.Load())
	p.Stop()
}
