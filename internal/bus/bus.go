// Package bus carries capture events from per-page detectors to the delivery
// process. It models the host's cross-process messaging as asynchronous
// message passing with an acknowledgement reply: the sender blocks only until
// the receiver reports the event buffered, never on end-to-end delivery.
package bus

import (
	"context"
	"errors"

	"github.com/FranksOps/searchsift/internal/capture"
)

// ErrClosed is returned by Emit after the bus has shut down.
var ErrClosed = errors.New("bus closed")

type envelope struct {
	ev  capture.Event
	ack chan error
}

// Bus is a single-consumer message channel with per-message acks.
type Bus struct {
	ch   chan envelope
	done chan struct{}
}

// New creates a bus with the given channel depth. Depth only bounds how many
// senders can be in flight before blocking on the consumer; acks are always
// per-message.
func New(depth int) *Bus {
	if depth <= 0 {
		depth = 64
	}
	return &Bus{
		ch:   make(chan envelope, depth),
		done: make(chan struct{}),
	}
}

// Emit sends one event and waits for the local acknowledgement. The returned
// error is whatever the consumer's handler returned: nil means buffered.
func (b *Bus) Emit(ctx context.Context, ev capture.Event) error {
	env := envelope{ev: ev, ack: make(chan error, 1)}

	select {
	case b.ch <- env:
	case <-b.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-env.ack:
		return err
	case <-b.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Serve delivers messages to handler one at a time until ctx is cancelled.
// Handling one message at a time keeps all downstream state single-writer.
func (b *Bus) Serve(ctx context.Context, handler func(context.Context, capture.Event) error) error {
	defer close(b.done)
	for {
		select {
		case env := <-b.ch:
			env.ack <- handler(ctx, env.ev)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
