// Package dispatch delivers composed replies over each channel's outbound
// mechanism with bounded retry. Delivery failure never rolls back the
// session state already committed for the turn.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sawitlab/tanya/internal/bus"
)

// Sender delivers one reply on one channel. Synchronous channels that return
// the reply in-band (webchat) never register a sender here.
type Sender interface {
	// Channel returns the channel identifier this sender delivers for.
	Channel() string

	// Send performs one delivery attempt and returns the provider response
	// body, if any.
	Send(ctx context.Context, reply bus.OutboundReply) (string, error)
}

// ErrDeliveryFailed wraps the final attempt's error once retries are
// exhausted. Operational: logged and surfaced to metrics, never to the user.
type ErrDeliveryFailed struct {
	Channel  string
	Attempts int
	Err      error
}

func (e *ErrDeliveryFailed) Error() string {
	return fmt.Sprintf("delivery to %s failed after %d attempts: %v", e.Channel, e.Attempts, e.Err)
}

func (e *ErrDeliveryFailed) Unwrap() error { return e.Err }

// Options bound the retry policy.
type Options struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// Dispatcher routes replies to channel senders.
type Dispatcher struct {
	senders map[string]Sender
	opts    Options
}

// New creates a dispatcher with the given senders.
func New(opts Options, senders ...Sender) *Dispatcher {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = 500 * time.Millisecond
	}
	if opts.MaxDelay <= 0 {
		opts.MaxDelay = 5 * time.Second
	}
	d := &Dispatcher{senders: make(map[string]Sender), opts: opts}
	for _, s := range senders {
		d.senders[s.Channel()] = s
	}
	return d
}

// Register adds a sender after construction (channels built late).
func (d *Dispatcher) Register(s Sender) { d.senders[s.Channel()] = s }

// Dispatch delivers the reply with bounded exponential backoff. At-least-once:
// a retry after an ambiguous failure may duplicate delivery rather than drop
// a reply silently.
func (d *Dispatcher) Dispatch(ctx context.Context, reply bus.OutboundReply) (bus.DeliveryResult, error) {
	sender, ok := d.senders[reply.Channel]
	if !ok {
		return bus.DeliveryResult{}, fmt.Errorf("no sender registered for channel %q", reply.Channel)
	}

	var lastErr error
	delay := d.opts.BaseDelay
	for attempt := 1; attempt <= d.opts.MaxAttempts; attempt++ {
		body, err := sender.Send(ctx, reply)
		if err == nil {
			return bus.DeliveryResult{Delivered: true, Attempts: attempt, Body: body}, nil
		}
		lastErr = err
		slog.Warn("delivery attempt failed",
			"channel", reply.Channel, "attempt", attempt, "error", err)

		if attempt == d.opts.MaxAttempts || ctx.Err() != nil {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			lastErr = ctx.Err()
			attempt = d.opts.MaxAttempts
		}
		delay *= 2
		if delay > d.opts.MaxDelay {
			delay = d.opts.MaxDelay
		}
	}

	slog.Error("delivery.retry_exhausted", "channel", reply.Channel, "target", reply.Target)
	return bus.DeliveryResult{Delivered: false, Attempts: d.opts.MaxAttempts},
		&ErrDeliveryFailed{Channel: reply.Channel, Attempts: d.opts.MaxAttempts, Err: lastErr}
}
