package presence

import (
	"log/slog"
	"slices"
	"sync"

	"github.com/samber/lo"
)

// Registry maps usernames to the connection currently claiming them.
// At most one entry exists per username; a later Register for the same
// username replaces the earlier one.
type Registry struct {
	mu       sync.RWMutex
	entries  map[string]Handle
	onChange func(count int)
	log      *slog.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger used for replacement and removal diagnostics.
func WithLogger(log *slog.Logger) Option {
	return func(r *Registry) {
		if log != nil {
			r.log = log
		}
	}
}

// NewRegistry creates an empty Registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		entries: make(map[string]Handle),
		log:     slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// OnChange installs the presence-changed signal. fn receives the online count
// after every Register and after every RemoveByHandle that removed something.
// It is called after the registry lock has been released.
func (r *Registry) OnChange(fn func(count int)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onChange = fn
}

// Register inserts or replaces the entry for username. The replaced connection
// stays open at the transport level but is no longer routable by username.
func (r *Registry) Register(username string, h Handle) {
	if h == nil {
		return
	}

	r.mu.Lock()
	prev, replaced := r.entries[username]
	r.entries[username] = h
	count := len(r.entries)
	fn := r.onChange
	r.mu.Unlock()

	if replaced && prev.ID() != h.ID() {
		r.log.Debug("presence entry replaced",
			"username", username,
			"previous_handle", prev.ID().String(),
			"handle", h.ID().String(),
		)
	}

	if fn != nil {
		fn(count)
	}
}

// Lookup returns the handle registered for username, if any.
func (r *Registry) Lookup(username string) (Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h, ok := r.entries[username]
	return h, ok
}

// RemoveByHandle deletes every entry still pointing at h and returns the
// removed usernames in sorted order. Entries that were overwritten by a newer
// connection are left untouched. Removing an unknown handle is a no-op.
func (r *Registry) RemoveByHandle(h Handle) []string {
	if h == nil {
		return nil
	}
	id := h.ID()

	r.mu.Lock()
	var removed []string
	for username, current := range r.entries {
		if current.ID() == id {
			delete(r.entries, username)
			removed = append(removed, username)
		}
	}
	count := len(r.entries)
	fn := r.onChange
	r.mu.Unlock()

	if len(removed) == 0 {
		return nil
	}
	slices.Sort(removed)

	r.log.Debug("presence entries removed", "handle", id.String(), "usernames", removed)

	if fn != nil {
		fn(count)
	}
	return removed
}

// Count returns the number of online usernames.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Usernames returns a sorted snapshot of the online usernames.
func (r *Registry) Usernames() []string {
	r.mu.RLock()
	names := lo.Keys(r.entries)
	r.mu.RUnlock()

	slices.Sort(names)
	return names
}
