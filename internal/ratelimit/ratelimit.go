package ratelimit

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrClosed is returned for work submitted after Close.
var ErrClosed = errors.New("ratelimit: limiter closed")

// Options tune the limiter. Zero values fall back to defaults.
type Options struct {
	// CallsPerMinute caps how many guarded calls run within one window.
	// Defaults to 60.
	CallsPerMinute int
	// MinInterval is the pause between consecutive guarded calls. Zero
	// disables the spacing.
	MinInterval time.Duration
	// Window is the budget window. Defaults to one minute. Shrunk in tests.
	Window time.Duration
}

// Stats is a point-in-time snapshot of limiter activity.
type Stats struct {
	Dispatched uint64 `json:"dispatched"`
	Pending    int    `json:"pending"`
}

// Limiter serializes guarded calls through a single FIFO worker. No two
// guarded calls are ever in flight at once. Before each call the worker
// resets the window counter if the window has elapsed; when the counter
// reaches the per-window cap it sleeps until the window resets. After each
// call it pauses for the minimum interval.
//
// A call's error reaches only its own caller; the worker keeps draining.
type Limiter struct {
	opts Options

	mu         sync.Mutex
	cond       *sync.Cond
	queue      []*task
	closed     bool
	dispatched uint64

	quit chan struct{}
	done chan struct{}

	// worker-owned window state, touched only by run()
	windowStart time.Time
	calls       int

	// test seams
	now   func() time.Time
	timer func(d time.Duration) <-chan time.Time
}

type task struct {
	ctx context.Context
	fn  func(context.Context) error
	out chan error
}

// New creates a limiter and starts its worker.
func New(opts Options) *Limiter {
	if opts.CallsPerMinute <= 0 {
		opts.CallsPerMinute = 60
	}
	if opts.Window <= 0 {
		opts.Window = time.Minute
	}
	l := &Limiter{
		opts:  opts,
		quit:  make(chan struct{}),
		done:  make(chan struct{}),
		now:   time.Now,
		timer: func(d time.Duration) <-chan time.Time { return time.After(d) },
	}
	l.cond = sync.NewCond(&l.mu)
	go l.run()
	return l
}

// Do enqueues fn and blocks until it has run, the context is canceled, or
// the limiter is closed. fn's own error is returned untouched. A caller
// canceled while still queued gets ctx.Err(); its slot consumes no budget.
func (l *Limiter) Do(ctx context.Context, fn func(context.Context) error) error {
	t := &task{ctx: ctx, fn: fn, out: make(chan error, 1)}

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrClosed
	}
	l.queue = append(l.queue, t)
	l.cond.Signal()
	l.mu.Unlock()

	select {
	case err := <-t.out:
		return err
	case <-ctx.Done():
		// The worker discards the task at dequeue.
		return ctx.Err()
	}
}

// Stats reports queue depth and how many calls have been dispatched.
func (l *Limiter) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Stats{Dispatched: l.dispatched, Pending: len(l.queue)}
}

// Close stops the worker. Queued and later-submitted tasks fail with
// ErrClosed; a call already in flight completes. Idempotent.
func (l *Limiter) Close() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	close(l.quit)
	l.cond.Signal()
	l.mu.Unlock()
}

// Done is closed once the worker has fully stopped. Mostly for tests and
// orderly shutdown.
func (l *Limiter) Done() <-chan struct{} { return l.done }

func (l *Limiter) run() {
	defer close(l.done)
	for {
		l.mu.Lock()
		for len(l.queue) == 0 && !l.closed {
			l.cond.Wait()
		}
		if l.closed {
			rest := l.queue
			l.queue = nil
			l.mu.Unlock()
			for _, t := range rest {
				t.out <- ErrClosed
			}
			return
		}
		t := l.queue[0]
		l.queue = l.queue[1:]
		l.mu.Unlock()

		// Abandoned while queued: settle without consuming budget.
		if err := t.ctx.Err(); err != nil {
			t.out <- err
			continue
		}

		if err := l.waitBudget(t.ctx); err != nil {
			t.out <- err
			continue
		}

		l.calls++
		l.mu.Lock()
		l.dispatched++
		l.mu.Unlock()

		t.out <- t.fn(t.ctx)

		if l.opts.MinInterval > 0 {
			l.pause(l.opts.MinInterval)
		}
	}
}

// waitBudget blocks until the current window has room for one more call.
func (l *Limiter) waitBudget(ctx context.Context) error {
	for {
		now := l.now()
		if l.windowStart.IsZero() || now.Sub(l.windowStart) >= l.opts.Window {
			l.windowStart = now
			l.calls = 0
		}
		if l.calls < l.opts.CallsPerMinute {
			return nil
		}
		wait := l.windowStart.Add(l.opts.Window).Sub(now)
		if wait <= 0 {
			continue
		}
		select {
		case <-l.timer(wait):
		case <-ctx.Done():
			return ctx.Err()
		case <-l.quit:
			return ErrClosed
		}
	}
}

// pause is the inter-call spacing; interrupted only by Close.
func (l *Limiter) pause(d time.Duration) {
	select {
	case <-l.timer(d):
	case <-l.quit:
	}
}
