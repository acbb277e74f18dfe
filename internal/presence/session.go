package presence

import (
	"errors"
	"slices"
	"sync"
)

var (
	// ErrSessionClosed is returned when an event arrives after the connection closed.
	ErrSessionClosed = errors.New("session closed")
	// ErrEmptyUsername is returned when a join carries no username.
	ErrEmptyUsername = errors.New("username is empty")
)

// State is the lifecycle position of a single connection.
type State int

const (
	// StateConnected means the transport is open but no username was claimed.
	StateConnected State = iota
	// StateJoined means at least one username is registered for the connection.
	StateJoined
	// StateClosed is terminal.
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateJoined:
		return "joined"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Session drives one connection through Connected -> Joined -> Closed and
// keeps the registry in step with it.
type Session struct {
	registry *Registry
	handle   Handle

	mu    sync.Mutex
	state State
	names []string
}

// NewSession binds h to registry in the Connected state.
func NewSession(registry *Registry, h Handle) *Session {
	return &Session{
		registry: registry,
		handle:   h,
		state:    StateConnected,
	}
}

// Join claims username for this connection. Joining again with a different
// username registers the new name as well; earlier names stay registered
// until the connection closes.
func (s *Session) Join(username string) error {
	if username == "" {
		return ErrEmptyUsername
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateClosed {
		return ErrSessionClosed
	}

	s.state = StateJoined
	if !slices.Contains(s.names, username) {
		s.names = append(s.names, username)
	}
	s.registry.Register(username, s.handle)
	return nil
}

// Close moves the session to its terminal state and removes every registry
// entry still pointing at this connection. It returns false if the session
// was already closed.
func (s *Session) Close() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateClosed {
		return false
	}
	s.state = StateClosed
	s.registry.RemoveByHandle(s.handle)
	return true
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Usernames returns every username this session has claimed, in join order.
func (s *Session) Usernames() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.names)
}

// Handle returns the connection this session is bound to.
func (s *Session) Handle() Handle {
	return s.handle
}
