// Package relay routes a message to its recipient's live connection and
// records it in the durable message log.
//
// Every accepted message is appended to the log first. Delivery is best
// effort: an offline recipient gets nothing and the sender is not told.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Tyrowin/chatrelay/internal/messagelog"
	"github.com/Tyrowin/chatrelay/internal/presence"
	"github.com/Tyrowin/chatrelay/internal/protocol"
)

var (
	// ErrLogAppend wraps any failure to persist a message. The message is
	// not delivered when this is returned.
	ErrLogAppend = errors.New("message log append failed")
	// ErrQueueFull is returned by Submit when the relay is saturated.
	ErrQueueFull = errors.New("relay queue full")
)

const defaultQueueSize = 256

// Message is a relay request. Payload is an opaque JSON value.
type Message struct {
	From    string
	To      string
	Payload json.RawMessage
}

// Outcome reports what happened to the live delivery of a relayed message.
type Outcome int

const (
	// Delivered means the recipient's connection accepted the event.
	Delivered Outcome = iota
	// RecipientOffline means no connection is registered for the recipient.
	RecipientOffline
	// DeliveryDropped means the recipient is registered but its connection
	// refused the event (closed or buffer full).
	DeliveryDropped
)

func (o Outcome) String() string {
	switch o {
	case Delivered:
		return "delivered"
	case RecipientOffline:
		return "recipient_offline"
	case DeliveryDropped:
		return "delivery_dropped"
	default:
		return "unknown"
	}
}

// Lookuper resolves a username to its current connection.
type Lookuper interface {
	Lookup(username string) (presence.Handle, bool)
}

// Encoder renders the event pushed to the recipient.
type Encoder func(Message) ([]byte, error)

// Relay serializes relay calls so log order equals acceptance order.
type Relay struct {
	registry Lookuper
	sink     messagelog.Sink
	encode   Encoder
	log      *slog.Logger
	now      func() time.Time

	mu    sync.Mutex
	queue chan Message
}

// Option configures a Relay.
type Option func(*Relay)

// WithLogger sets the relay logger.
func WithLogger(log *slog.Logger) Option {
	return func(r *Relay) {
		if log != nil {
			r.log = log
		}
	}
}

// WithQueueSize bounds the number of messages waiting for Run.
func WithQueueSize(n int) Option {
	return func(r *Relay) {
		if n > 0 {
			r.queue = make(chan Message, n)
		}
	}
}

// WithEncoder overrides the receive-message encoding.
func WithEncoder(enc Encoder) Option {
	return func(r *Relay) {
		if enc != nil {
			r.encode = enc
		}
	}
}

// WithClock overrides the timestamp source for records.
func WithClock(now func() time.Time) Option {
	return func(r *Relay) {
		if now != nil {
			r.now = now
		}
	}
}

// New creates a Relay reading presence from registry and appending to sink.
func New(registry Lookuper, sink messagelog.Sink, opts ...Option) *Relay {
	r := &Relay{
		registry: registry,
		sink:     sink,
		encode:   encodeReceiveMessage,
		log:      slog.New(slog.DiscardHandler),
		now:      time.Now,
		queue:    make(chan Message, defaultQueueSize),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func encodeReceiveMessage(m Message) ([]byte, error) {
	return protocol.EncodeReceiveMessage(m.To, m.From, m.Payload)
}

// Relay appends msg to the log and, if the recipient is online, pushes it
// to the recipient's connection. A log failure aborts the call before any
// delivery and is returned wrapped in ErrLogAppend.
func (r *Relay) Relay(ctx context.Context, msg Message) (Outcome, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec := messagelog.Record{
		ID:      uuid.New(),
		From:    msg.From,
		To:      msg.To,
		Payload: msg.Payload,
		At:      r.now().UTC(),
	}
	if err := r.sink.Append(ctx, rec); err != nil {
		return DeliveryDropped, fmt.Errorf("%w: %w", ErrLogAppend, err)
	}

	h, ok := r.registry.Lookup(msg.To)
	if !ok {
		return RecipientOffline, nil
	}

	payload, err := r.encode(msg)
	if err != nil {
		// The record is already durable; only the live push is lost.
		r.log.Error("encoding delivery", "record_id", rec.ID, "error", err)
		return DeliveryDropped, nil
	}
	if !h.Send(payload) {
		return DeliveryDropped, nil
	}
	return Delivered, nil
}

// Submit queues msg for Run without blocking.
func (r *Relay) Submit(msg Message) error {
	select {
	case r.queue <- msg:
		return nil
	default:
		return ErrQueueFull
	}
}

// Run processes queued messages one at a time until ctx is cancelled, then
// drains whatever is still queued so accepted messages are still logged.
// Appends are not cancelled by ctx; a message taken off the queue is always
// written.
func (r *Relay) Run(ctx context.Context) error {
	appendCtx := context.WithoutCancel(ctx)
	for {
		select {
		case <-ctx.Done():
			r.drain(appendCtx)
			return ctx.Err()
		case msg := <-r.queue:
			r.process(appendCtx, msg)
		}
	}
}

func (r *Relay) drain(ctx context.Context) {
	for {
		select {
		case msg := <-r.queue:
			r.process(ctx, msg)
		default:
			return
		}
	}
}

func (r *Relay) process(ctx context.Context, msg Message) {
	outcome, err := r.Relay(ctx, msg)
	if err != nil {
		r.log.Error("relay failed", "from", msg.From, "to", msg.To, "error", err)
		return
	}
	r.log.Debug("message relayed", "from", msg.From, "to", msg.To, "outcome", outcome.String())
}
