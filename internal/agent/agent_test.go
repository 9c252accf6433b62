package agent

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/FranksOps/searchsift/internal/buffer"
	"github.com/FranksOps/searchsift/internal/capture"
	"github.com/FranksOps/searchsift/internal/detector"
	"github.com/FranksOps/searchsift/internal/transport"
)

type ingestCapture struct {
	mu      sync.Mutex
	batches [][]capture.Event
	notify  chan struct{}
}

func (c *ingestCapture) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Events []capture.Event `json:"events"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		c.mu.Lock()
		c.batches = append(c.batches, body.Events)
		c.mu.Unlock()
		select {
		case c.notify <- struct{}{}:
		default:
		}
		w.WriteHeader(http.StatusOK)
	}
}

func (c *ingestCapture) waitBatch(t *testing.T) []capture.Event {
	t.Helper()
	select {
	case <-c.notify:
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for a delivered batch")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.batches[len(c.batches)-1]
}

func newTestAgent(t *testing.T, baseURL string) (*Agent, context.CancelFunc) {
	t.Helper()
	a := New(Options{
		Buffer: buffer.Config{
			BatchSize:    2,
			BatchTimeout: 50 * time.Millisecond,
			MaxEventAge:  time.Minute,
			DedupeWindow: 5 * time.Second,
		},
		Transport: transport.Config{
			BaseURL:            baseURL,
			Credential:         func() string { return "k" },
			MinRequestInterval: time.Millisecond,
			BaseDelay:          time.Millisecond,
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = a.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return a, cancel
}

func loadSignal(tabID int, url string) TabSignal {
	return TabSignal{
		TabID:    tabID,
		WindowID: 1,
		Signal:   detector.Signal{Kind: detector.SignalLoad, URL: url},
	}
}

func TestSignalFlowsEndToEnd(t *testing.T) {
	sink := &ingestCapture{notify: make(chan struct{}, 1)}
	srv := httptest.NewServer(sink.handler())
	defer srv.Close()

	a, _ := newTestAgent(t, srv.URL)
	ctx := context.Background()

	a.HandleSignal(ctx, loadSignal(1, "https://www.google.com/search?q=go+errgroup"))

	batch := sink.waitBatch(t)
	if len(batch) != 1 {
		t.Fatalf("expected 1 event, got %d", len(batch))
	}
	ev := batch[0]
	if ev.Type != capture.EventSearch || ev.Query != "go errgroup" || ev.Engine != "google" {
		t.Errorf("unexpected event: %+v", ev)
	}
	if ev.TabID != 1 || ev.WindowID != 1 {
		t.Errorf("tab/window lost: %+v", ev)
	}
}

func TestUnknownHostIgnored(t *testing.T) {
	sink := &ingestCapture{notify: make(chan struct{}, 1)}
	srv := httptest.NewServer(sink.handler())
	defer srv.Close()

	a, _ := newTestAgent(t, srv.URL)
	ctx := context.Background()

	a.HandleSignal(ctx, loadSignal(1, "https://news.example.com/search?q=irrelevant"))

	if n, err := a.QueueLen(ctx); err != nil || n != 0 {
		t.Errorf("queue should stay empty, len=%d err=%v", n, err)
	}
}

func TestDisabledCaptureDropsSignals(t *testing.T) {
	sink := &ingestCapture{notify: make(chan struct{}, 1)}
	srv := httptest.NewServer(sink.handler())
	defer srv.Close()

	a, _ := newTestAgent(t, srv.URL)
	ctx := context.Background()

	a.SetEnabled(false)
	a.HandleSignal(ctx, loadSignal(1, "https://www.google.com/search?q=hidden"))

	if n, err := a.QueueLen(ctx); err != nil || n != 0 {
		t.Errorf("disabled capture must not buffer, len=%d err=%v", n, err)
	}

	a.SetEnabled(true)
	a.HandleSignal(ctx, loadSignal(1, "https://www.google.com/search?q=visible"))
	batch := sink.waitBatch(t)
	if len(batch) != 1 || batch[0].Query != "visible" {
		t.Errorf("re-enabled capture broken: %+v", batch)
	}
}

func TestNonLoadSignalForUnclaimedTabIgnored(t *testing.T) {
	sink := &ingestCapture{notify: make(chan struct{}, 1)}
	srv := httptest.NewServer(sink.handler())
	defer srv.Close()

	a, _ := newTestAgent(t, srv.URL)
	ctx := context.Background()

	a.HandleSignal(ctx, TabSignal{
		TabID:  7,
		Signal: detector.Signal{Kind: detector.SignalEnterKey, EnterValue: "stray"},
	})

	if n, err := a.QueueLen(ctx); err != nil || n != 0 {
		t.Errorf("unclaimed tab must not emit, len=%d err=%v", n, err)
	}
}

func TestShutdownFlushesQueue(t *testing.T) {
	sink := &ingestCapture{notify: make(chan struct{}, 1)}
	srv := httptest.NewServer(sink.handler())
	defer srv.Close()

	a := New(Options{
		Buffer: buffer.Config{
			BatchSize:    100,
			BatchTimeout: time.Hour, // nothing flushes before shutdown
			MaxEventAge:  time.Minute,
			DedupeWindow: 5 * time.Second,
		},
		Transport: transport.Config{
			BaseURL:            srv.URL,
			Credential:         func() string { return "k" },
			MinRequestInterval: time.Millisecond,
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = a.Run(ctx)
	}()

	a.HandleSignal(ctx, loadSignal(2, "https://www.bing.com/search?q=final+flush"))

	// Give the bus consumer a moment to buffer before cancelling.
	waitQueued(t, a, ctx, 1)
	cancel()
	<-done

	batch := sink.waitBatch(t)
	if len(batch) != 1 || batch[0].Query != "final flush" {
		t.Errorf("shutdown flush lost the queue: %+v", batch)
	}
}

func TestShutdownWithMissingCredentialTerminates(t *testing.T) {
	// No server: with no credential the transport never makes a call anyway.
	a := New(Options{
		Buffer: buffer.Config{
			BatchSize:    100,
			BatchTimeout: time.Hour,
			MaxEventAge:  time.Minute,
			DedupeWindow: 5 * time.Second,
		},
		Transport: transport.Config{
			BaseURL:            "http://127.0.0.1:0",
			Credential:         func() string { return "" },
			MinRequestInterval: time.Millisecond,
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = a.Run(ctx)
	}()

	a.HandleSignal(ctx, loadSignal(9, "https://www.google.com/search?q=stranded"))
	waitQueued(t, a, ctx, 1)
	cancel()

	// The final flush bounces off the unconfigured transport; the requeue must
	// be refused so shutdown completes instead of wedging on the queue actor.
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return after cancellation with no credential configured")
	}
}

func waitQueued(t *testing.T, a *Agent, ctx context.Context, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if n, err := a.QueueLen(ctx); err == nil && n >= want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("queue never reached %d events", want)
}
