package audit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Recorder accepts events without blocking the caller. The returned Pending
// completes once the event reached its sink; callers that do not care may drop it.
type Recorder interface {
	Record(ctx context.Context, ev Event) *Pending
}

// Pending is the handle of one in-flight write.
type Pending struct {
	done chan struct{}
	err  error
}

// Resolved returns an already completed Pending.
func Resolved(err error) *Pending {
	p := &Pending{done: make(chan struct{}), err: err}
	close(p.done)
	return p
}

// Go runs fn in its own goroutine and exposes its outcome.
func Go(fn func() error) *Pending {
	p := &Pending{done: make(chan struct{})}
	go func() {
		defer close(p.done)
		p.err = fn()
	}()
	return p
}

// Done is closed when the write finished.
func (p *Pending) Done() <-chan struct{} {
	return p.done
}

// Wait blocks until the write finished or ctx ends.
func (p *Pending) Wait(ctx context.Context) error {
	if p == nil {
		return nil
	}
	select {
	case <-p.done:
		return p.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Batch collects the writes emitted while handling one request.
type Batch struct {
	mu      sync.Mutex
	pending []*Pending
}

// Add tracks p. Nil handles are ignored.
func (b *Batch) Add(p *Pending) {
	if b == nil || p == nil {
		return
	}
	b.mu.Lock()
	b.pending = append(b.pending, p)
	b.mu.Unlock()
}

// Len returns the number of tracked writes.
func (b *Batch) Len() int {
	if b == nil {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// Wait blocks until every tracked write finished and returns the first error.
func (b *Batch) Wait(ctx context.Context) error {
	if b == nil {
		return nil
	}
	b.mu.Lock()
	pending := make([]*Pending, len(b.pending))
	copy(pending, b.pending)
	b.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, p := range pending {
		g.Go(func() error { return p.Wait(gctx) })
	}
	return g.Wait()
}

// AsyncRecorder writes through Service in a background goroutine.
type AsyncRecorder struct {
	service *Service
	logger  *slog.Logger
	timeout time.Duration
}

// NewAsyncRecorder wraps service. Writes outlive the request context but not timeout.
func NewAsyncRecorder(service *Service, logger *slog.Logger, timeout time.Duration) *AsyncRecorder {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &AsyncRecorder{service: service, logger: logger, timeout: timeout}
}

// Record stores ev without blocking.
func (r *AsyncRecorder) Record(ctx context.Context, ev Event) *Pending {
	if err := ev.Validate(); err != nil {
		r.logger.Warn("audit event rejected", slog.String("action", ev.Action), slog.Any("error", err))
		return Resolved(err)
	}
	detached := context.WithoutCancel(ctx)
	return Go(func() error {
		writeCtx, cancel := context.WithTimeout(detached, r.timeout)
		defer cancel()
		if err := r.service.Record(writeCtx, ev); err != nil {
			r.logger.Error("audit record", slog.String("action", ev.Action), slog.Any("error", err))
			return err
		}
		return nil
	})
}

// Observed invokes observe for every event before handing it to next.
func Observed(next Recorder, observe func(Event)) Recorder {
	if observe == nil {
		return next
	}
	return observedRecorder{next: next, observe: observe}
}

type observedRecorder struct {
	next    Recorder
	observe func(Event)
}

func (o observedRecorder) Record(ctx context.Context, ev Event) *Pending {
	o.observe(ev)
	return o.next.Record(ctx, ev)
}

// Discard drops every event. Useful when auditing is disabled.
type Discard struct{}

// Record implements Recorder.
func (Discard) Record(context.Context, Event) *Pending {
	return Resolved(nil)
}
