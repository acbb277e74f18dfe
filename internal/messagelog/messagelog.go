// Package messagelog persists relayed chat messages to an append-only log.
//
// Two backends are available: a JSON-lines file and a BadgerDB keyspace
// ordered by a monotonic sequence. Both keep records in append order.
package messagelog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrSinkClosed is returned by Append after Close.
	ErrSinkClosed = errors.New("message log closed")
	// ErrUnknownBackend is returned by Open for an unsupported backend name.
	ErrUnknownBackend = errors.New("unknown message log backend")
)

// Backend names accepted by Open.
const (
	BackendFile   = "file"
	BackendBadger = "badger"
)

// Record is one relayed message. Records are immutable once appended.
type Record struct {
	ID      uuid.UUID       `json:"id"`
	From    string          `json:"from"`
	To      string          `json:"to"`
	Payload json.RawMessage `json:"payload"`
	At      time.Time       `json:"at"`
}

// Sink is the append capability the relay depends on. Append must not return
// before the record is written, and records must be kept in call order.
type Sink interface {
	Append(ctx context.Context, rec Record) error
	Close() error
}

// Log is a Sink that can also be read back in append order.
type Log interface {
	Sink
	Each(ctx context.Context, fn func(Record) error) error
}

// Options selects and configures a backend.
type Options struct {
	Backend string
	Path    string
	// Sync forces an fsync (file) or synchronous write (badger) per append.
	Sync bool
}

// Open returns the Log described by opts.
func Open(opts Options, log *slog.Logger) (Log, error) {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}

	switch opts.Backend {
	case "", BackendFile:
		return OpenFile(opts.Path, opts.Sync)
	case BackendBadger:
		return OpenBadger(opts.Path, opts.Sync, log)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, opts.Backend)
	}
}
