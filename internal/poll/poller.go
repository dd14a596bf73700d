// Package poll runs a refresh function periodically, backing off after
// failures.
package poll

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/matheus3301/bunnychat/internal/logging"
)

// Func is one poll step.
type Func func(ctx context.Context) error

// Poller calls a Func every interval. After a failure the next call waits an
// exponential backoff that starts at interval and is capped at maxBackoff; a
// success resets it.
type Poller struct {
	fn         Func
	interval   time.Duration
	maxBackoff time.Duration
	backoff    *backoff.ExponentialBackOff
	logger   *zap.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a Poller. A maxBackoff below interval is raised to interval.
func New(fn Func, interval, maxBackoff time.Duration, logger *zap.Logger) *Poller {
	if maxBackoff < interval {
		maxBackoff = interval
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = interval
	b.MaxInterval = maxBackoff
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()
	return &Poller{fn: fn, interval: interval, maxBackoff: maxBackoff, backoff: b, logger: logging.OrNop(logger)}
}

// Start runs the poll loop in a goroutine until ctx is cancelled or Stop is
// called. Starting a running Poller is a no-op.
func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		return
	}
	ctx, p.cancel = context.WithCancel(ctx)
	p.done = make(chan struct{})
	go func(done chan struct{}) {
		defer close(done)
		_ = p.Run(ctx)
	}(p.done)
}

// Stop stops a started Poller and waits for the loop to exit.
func (p *Poller) Stop() {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel, p.done = nil, nil
	p.mu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
}

// Run polls in the calling goroutine, starting immediately, and returns
// ctx.Err() once ctx is done.
func (p *Poller) Run(ctx context.Context) error {
	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
		err := p.fn(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		wait := p.next(err)
		if err != nil {
			p.logger.Warn("poll failed", zap.Error(err), zap.Duration("retry_in", wait))
		}
		timer.Reset(wait)
	}
}

func (p *Poller) next(err error) time.Duration {
	if err == nil {
		p.backoff.Reset()
		return p.interval
	}
	return min(max(p.backoff.NextBackOff(), p.interval), p.maxBackoff)
}
