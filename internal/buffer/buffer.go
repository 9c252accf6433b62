// Package buffer implements the client-side delivery queue: a single logical
// FIFO with deduplication, staleness rejection, and flush scheduling. All
// mutable state (queue, dedup set, pending timer) is owned by one goroutine;
// callers talk to it over channels.
package buffer

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/FranksOps/searchsift/internal/capture"
	"github.com/FranksOps/searchsift/internal/metrics"
)

// ErrStopped is returned by queue operations once shutdown has begun. The
// final flush is already in progress or done by then; callers must not wait
// for the actor to take more work.
var ErrStopped = errors.New("delivery queue stopped")

// Config carries the queue tuning knobs. Zero values fall back to the
// defaults the backend expects.
type Config struct {
	BatchSize    int
	BatchTimeout time.Duration
	MaxEventAge  time.Duration
	DedupeWindow time.Duration
}

const (
	DefaultBatchSize    = 20
	DefaultBatchTimeout = 10 * time.Second
	DefaultMaxEventAge  = 10 * time.Second
	DefaultDedupeWindow = 5 * time.Second
)

func (c Config) withDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.BatchTimeout <= 0 {
		c.BatchTimeout = DefaultBatchTimeout
	}
	if c.MaxEventAge <= 0 {
		c.MaxEventAge = DefaultMaxEventAge
	}
	if c.DedupeWindow <= 0 {
		c.DedupeWindow = DefaultDedupeWindow
	}
	return c
}

// Sink receives flushed batches. The buffer hands each snapshot to the sink
// on its own goroutine and never waits for delivery to finish.
type Sink interface {
	Deliver(ctx context.Context, batch []capture.Event)
}

type acceptReq struct {
	ev    capture.Event
	reply chan error
}

type lenReq struct {
	reply chan int
}

type flushReq struct {
	reply chan struct{}
}

// Buffer is the delivery queue actor. Create with New, then call Run on its
// own goroutine; Accept, RequeueFront, FlushNow and Len are safe from any
// goroutine while Run is live.
type Buffer struct {
	cfg    Config
	sink   Sink
	logger *slog.Logger
	now    func() time.Time

	acceptCh  chan acceptReq
	requeueCh chan []capture.Event
	flushCh   chan flushReq
	lenCh     chan lenReq
	stopped   chan struct{}
}

// New creates a buffer feeding the given sink. A nil logger falls back to
// slog.Default.
func New(cfg Config, sink Sink, logger *slog.Logger) *Buffer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Buffer{
		cfg:       cfg.withDefaults(),
		sink:      sink,
		logger:    logger,
		now:       time.Now,
		acceptCh:  make(chan acceptReq),
		requeueCh: make(chan []capture.Event),
		flushCh:   make(chan flushReq),
		lenCh:     make(chan lenReq),
		stopped:   make(chan struct{}),
	}
}

// Accept offers one event to the queue. Stale and duplicate events are
// dropped silently (logged, counted); the nil return still acknowledges the
// message so the detector never stalls on a drop.
func (b *Buffer) Accept(ctx context.Context, ev capture.Event) error {
	req := acceptReq{ev: ev, reply: make(chan error, 1)}
	select {
	case b.acceptCh <- req:
	case <-b.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-req.reply:
		return err
	case <-b.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RequeueFront returns a batch to the head of the queue in its original
// order; events accepted afterwards go behind it. Used by the delivery loop
// when a send is abandoned before any attempt (missing credential). Once
// shutdown has begun it returns ErrStopped immediately: the actor is past
// its final flush and will never drain the queue again, so blocking here
// would wedge the process.
func (b *Buffer) RequeueFront(ctx context.Context, batch []capture.Event) error {
	if len(batch) == 0 {
		return nil
	}
	select {
	case b.requeueCh <- batch:
		return nil
	case <-b.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// FlushNow forces a synchronous flush decision. It returns once the snapshot
// has been handed off (or the queue was empty).
func (b *Buffer) FlushNow(ctx context.Context) error {
	req := flushReq{reply: make(chan struct{}, 1)}
	select {
	case b.flushCh <- req:
	case <-b.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-req.reply:
		return nil
	case <-b.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Len reports the current queue length.
func (b *Buffer) Len(ctx context.Context) (int, error) {
	req := lenReq{reply: make(chan int, 1)}
	select {
	case b.lenCh <- req:
	case <-b.stopped:
		return 0, ErrStopped
	case <-ctx.Done():
		return 0, ctx.Err()
	}
	select {
	case n := <-req.reply:
		return n, nil
	case <-b.stopped:
		return 0, ErrStopped
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// Run owns the queue until ctx is cancelled, then attempts one best-effort
// synchronous flush before returning. In-memory contents are lost if the
// host kills the process without cancelling first; that is a known limit.
func (b *Buffer) Run(ctx context.Context) error {
	var (
		queue   []capture.Event
		seen    = make(map[string]time.Time)
		timer   *time.Timer
		timerCh <-chan time.Time
	)

	stopTimer := func() {
		if timer != nil {
			timer.Stop()
			timer = nil
			timerCh = nil
		}
	}

	flush := func(sync bool) {
		stopTimer()
		if len(queue) == 0 {
			return
		}
		snapshot := queue
		queue = nil
		if sync {
			// Shutdown path: the run context is already cancelled, so hand
			// the sink a detached context for the final best-effort send.
			b.sink.Deliver(context.WithoutCancel(ctx), snapshot)
			return
		}
		go b.sink.Deliver(ctx, snapshot)
	}

	accept := func(ev capture.Event) {
		now := b.now()

		if ev.Age(now) > b.cfg.MaxEventAge {
			b.logger.Debug("dropping stale event", "age", ev.Age(now), "query", ev.Query)
			metrics.EventsDropped.WithLabelValues("stale").Inc()
			return
		}

		key := ev.Key()
		for k, at := range seen {
			if now.Sub(at) > b.cfg.DedupeWindow {
				delete(seen, k)
			}
		}
		if at, ok := seen[key]; ok && now.Sub(at) <= b.cfg.DedupeWindow {
			b.logger.Debug("dropping duplicate event", "query", ev.Query)
			metrics.EventsDropped.WithLabelValues("duplicate").Inc()
			return
		}
		seen[key] = now

		queue = append(queue, ev)
		metrics.EventsBuffered.Inc()

		if len(queue) >= b.cfg.BatchSize {
			flush(false)
			return
		}
		if timer == nil {
			timer = time.NewTimer(b.cfg.BatchTimeout)
			timerCh = timer.C
		}
	}

	for {
		select {
		case req := <-b.acceptCh:
			accept(req.ev)
			req.reply <- nil

		case batch := <-b.requeueCh:
			queue = append(append(make([]capture.Event, 0, len(batch)+len(queue)), batch...), queue...)
			if timer == nil && len(queue) > 0 {
				timer = time.NewTimer(b.cfg.BatchTimeout)
				timerCh = timer.C
			}

		case <-timerCh:
			// A timer firing after a size-triggered flush emptied the queue
			// is a no-op inside flush.
			timer = nil
			timerCh = nil
			flush(false)

		case req := <-b.flushCh:
			flush(false)
			req.reply <- struct{}{}

		case req := <-b.lenCh:
			req.reply <- len(queue)

		case <-ctx.Done():
			// Closing stopped before the synchronous flush lets the sink's
			// requeue path fail fast instead of deadlocking against an
			// actor that is no longer serving its channels.
			close(b.stopped)
			flush(true)
			return ctx.Err()
		}
	}
}
