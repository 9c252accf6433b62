// Package agent assembles the capture pipeline: page signals feed per-tab
// detectors, detected events cross the bus into the delivery buffer, and
// flushed batches go out through the retrying transport.
package agent

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/FranksOps/searchsift/internal/buffer"
	"github.com/FranksOps/searchsift/internal/bus"
	"github.com/FranksOps/searchsift/internal/capture"
	"github.com/FranksOps/searchsift/internal/detector"
	"github.com/FranksOps/searchsift/internal/engine"
	"github.com/FranksOps/searchsift/internal/transport"
)

// TabSignal is one page signal tagged with its originating tab and window.
type TabSignal struct {
	TabID    int
	WindowID int
	Signal   detector.Signal
}

// Options for assembling an Agent.
type Options struct {
	Buffer    buffer.Config
	Transport transport.Config
	Logger    *slog.Logger
}

// Agent owns the pipeline components and the per-tab detector registry.
type Agent struct {
	bus    *bus.Bus
	buf    *buffer.Buffer
	sender *transport.Sender
	logger *slog.Logger

	enabled atomic.Bool

	mu        sync.Mutex
	detectors map[int]*tabDetector
}

type tabDetector struct {
	engine string
	det    *detector.Detector
}

// deliverySink bridges the buffer to the transport. A batch refused for a
// missing credential goes back to the front of the queue untouched; every
// other outcome means the transport owned the batch to its end.
type deliverySink struct {
	sender *transport.Sender
	logger *slog.Logger

	// set after the buffer is constructed
	buf *buffer.Buffer
}

func (s *deliverySink) Deliver(ctx context.Context, batch []capture.Event) {
	err := s.sender.Send(ctx, batch)
	switch {
	case err == nil:
	case errors.Is(err, transport.ErrNotConfigured):
		rqErr := s.buf.RequeueFront(ctx, batch)
		switch {
		case rqErr == nil:
		case errors.Is(rqErr, buffer.ErrStopped):
			// Shutdown with no credential: nothing can deliver the batch
			// and the queue is gone. Accepted as bounded loss.
			s.logger.Warn("discarding batch at shutdown, no credential configured", "events", len(batch))
		default:
			s.logger.Error("requeue after unconfigured send failed", "events", len(batch), "err", rqErr)
		}
	case errors.Is(err, transport.ErrAuthRejected):
		s.logger.Error("batch discarded, credential rejected", "events", len(batch))
	default:
		s.logger.Error("batch delivery gave up", "events", len(batch), "err", err)
	}
}

// New wires the bus, buffer and sender. Call Run to start the pipeline.
func New(opts Options) *Agent {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	sender := transport.New(opts.Transport, logger)
	sink := &deliverySink{sender: sender, logger: logger}
	buf := buffer.New(opts.Buffer, sink, logger)
	sink.buf = buf

	a := &Agent{
		bus:       bus.New(0),
		buf:       buf,
		sender:    sender,
		logger:    logger,
		detectors: make(map[int]*tabDetector),
	}
	a.enabled.Store(true)
	return a
}

// SetEnabled toggles capture. Signals arriving while disabled are dropped
// before detection; the queue and transport keep draining either way.
func (a *Agent) SetEnabled(on bool) {
	a.enabled.Store(on)
}

// Run drives the pipeline until ctx is cancelled. Cancellation (typically
// SIGTERM via signal.NotifyContext) triggers the buffer's best-effort final
// flush before Run returns.
func (a *Agent) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.buf.Run(ctx)
	})
	g.Go(func() error {
		return a.bus.Serve(ctx, func(ctx context.Context, ev capture.Event) error {
			return a.buf.Accept(ctx, ev)
		})
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// HandleSignal routes one page signal to the detector for its tab. A load on
// a host no engine claims clears the tab's detector; non-load signals for
// unclaimed tabs are ignored.
func (a *Agent) HandleSignal(ctx context.Context, sig TabSignal) {
	if !a.enabled.Load() {
		return
	}

	det := a.detectorFor(sig)
	if det == nil {
		return
	}
	det.HandleSignal(ctx, sig.Signal)
}

func (a *Agent) detectorFor(sig TabSignal) *detector.Detector {
	a.mu.Lock()
	defer a.mu.Unlock()

	if sig.Signal.Kind == detector.SignalLoad {
		profile := engine.MatchURL(sig.Signal.URL)
		if profile == nil {
			delete(a.detectors, sig.TabID)
			return nil
		}
		cur, ok := a.detectors[sig.TabID]
		if !ok || cur.engine != profile.Name {
			cur = &tabDetector{
				engine: profile.Name,
				det:    detector.New(profile, a.bus, sig.TabID, sig.WindowID, a.logger),
			}
			a.detectors[sig.TabID] = cur
		}
		return cur.det
	}

	cur, ok := a.detectors[sig.TabID]
	if !ok {
		return nil
	}
	return cur.det
}

// CloseTab discards the detector state for a closed tab.
func (a *Agent) CloseTab(tabID int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.detectors, tabID)
}

// Flush forces an immediate queue flush, independent of size and timer.
func (a *Agent) Flush(ctx context.Context) error {
	return a.buf.FlushNow(ctx)
}

// Health probes the backend through the shared sender.
func (a *Agent) Health(ctx context.Context) (string, error) {
	return a.sender.Health(ctx)
}

// QueueLen reports the delivery queue depth.
func (a *Agent) QueueLen(ctx context.Context) (int, error) {
	return a.buf.Len(ctx)
}
