// Package presence tracks which usernames are online and which live
// connection each of them is reachable on.
//
// The Registry is the single source of truth for "who is online". A Session
// drives one connection through its join/close lifecycle, and the Notifier
// turns registry changes into online-count broadcasts.
package presence

import "github.com/google/uuid"

// HandleID uniquely identifies one accepted transport connection.
type HandleID uuid.UUID

// NewHandleID returns a fresh random HandleID.
func NewHandleID() HandleID {
	return HandleID(uuid.New())
}

func (id HandleID) String() string {
	return uuid.UUID(id).String()
}

// Handle is an opaque reference to a live connection. The registry compares
// handles by ID only and never reaches into the transport behind them.
type Handle interface {
	ID() HandleID
	// Send pushes an encoded event to the connection without blocking.
	// It reports false when the connection is closed or cannot accept more data.
	Send(payload []byte) bool
}
