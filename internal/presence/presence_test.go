package presence

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeHandle struct {
	id HandleID

	mu   sync.Mutex
	sent [][]byte
}

func newFakeHandle() *fakeHandle {
	return &fakeHandle{id: NewHandleID()}
}

func (h *fakeHandle) ID() HandleID { return h.id }

func (h *fakeHandle) Send(payload []byte) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sent = append(h.sent, payload)
	return true
}

// countRecorder collects every online count the registry signals.
type countRecorder struct {
	mu     sync.Mutex
	counts []int
}

func (c *countRecorder) record(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts = append(c.counts, n)
}

func (c *countRecorder) all() []int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]int(nil), c.counts...)
}

func newRecordedRegistry() (*Registry, *countRecorder) {
	rec := &countRecorder{}
	r := NewRegistry()
	r.OnChange(rec.record)
	return r, rec
}

func TestRegistry_RegisterAndLookup(t *testing.T) {
	req := require.New(t)
	r, rec := newRecordedRegistry()
	alice, bob := newFakeHandle(), newFakeHandle()

	r.Register("alice", alice)
	r.Register("bob", bob)

	h, ok := r.Lookup("alice")
	req.True(ok)
	req.Equal(alice.ID(), h.ID())

	_, ok = r.Lookup("carol")
	req.False(ok)

	req.Equal(2, r.Count())
	req.Equal([]string{"alice", "bob"}, r.Usernames())
	req.Equal([]int{1, 2}, rec.all())
}

func TestRegistry_OverwriteKeepsNewestHandle(t *testing.T) {
	req := require.New(t)
	r, rec := newRecordedRegistry()
	h1, h2 := newFakeHandle(), newFakeHandle()

	r.Register("u", h1)
	r.Register("u", h2)

	h, ok := r.Lookup("u")
	req.True(ok)
	req.Equal(h2.ID(), h.ID())
	req.Equal(1, r.Count())

	// Disconnecting the displaced handle must not touch the newer entry.
	req.Nil(r.RemoveByHandle(h1))
	h, ok = r.Lookup("u")
	req.True(ok)
	req.Equal(h2.ID(), h.ID())

	// Every register signals, even when the count does not move.
	req.Equal([]int{1, 1}, rec.all())
}

func TestRegistry_RemoveByHandle(t *testing.T) {
	req := require.New(t)
	r, rec := newRecordedRegistry()
	shared, other := newFakeHandle(), newFakeHandle()

	r.Register("first", shared)
	r.Register("second", shared)
	r.Register("third", other)

	removed := r.RemoveByHandle(shared)
	req.Equal([]string{"first", "second"}, removed)
	req.Equal(1, r.Count())
	req.Equal([]int{1, 2, 3, 1}, rec.all())
}

func TestRegistry_RemoveIsIdempotent(t *testing.T) {
	req := require.New(t)
	r, rec := newRecordedRegistry()
	h := newFakeHandle()

	req.Nil(r.RemoveByHandle(h))
	req.Nil(r.RemoveByHandle(nil))

	r.Register("alice", h)
	req.Equal([]string{"alice"}, r.RemoveByHandle(h))
	req.Nil(r.RemoveByHandle(h))

	req.Equal(0, r.Count())
	req.Equal([]int{1, 0}, rec.all())
}

func TestRegistry_CountMatchesDistinctUsernames(t *testing.T) {
	req := require.New(t)
	r := NewRegistry()
	handles := []*fakeHandle{newFakeHandle(), newFakeHandle(), newFakeHandle()}

	steps := []struct {
		join     string
		handle   int
		drop     int
		expected int
	}{
		{join: "a", handle: 0, drop: -1, expected: 1},
		{join: "b", handle: 1, drop: -1, expected: 2},
		{join: "a", handle: 2, drop: -1, expected: 2},
		{join: "", drop: 0, expected: 2},
		{join: "c", handle: 1, drop: -1, expected: 3},
		{join: "", drop: 1, expected: 1},
		{join: "", drop: 2, expected: 0},
	}

	for _, s := range steps {
		if s.join != "" {
			r.Register(s.join, handles[s.handle])
		}
		if s.drop >= 0 {
			r.RemoveByHandle(handles[s.drop])
		}
		req.Equal(s.expected, r.Count())
		req.Len(r.Usernames(), s.expected)
	}
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			h := newFakeHandle()
			name := string(rune('a' + n))
			r.Register(name, h)
			r.Lookup(name)
			r.Count()
			r.RemoveByHandle(h)
		}(i)
	}
	wg.Wait()

	require.Equal(t, 0, r.Count())
}

func TestSession_Lifecycle(t *testing.T) {
	req := require.New(t)
	r, rec := newRecordedRegistry()
	h := newFakeHandle()
	s := NewSession(r, h)

	req.Equal(StateConnected, s.State())

	req.NoError(s.Join("alice"))
	req.Equal(StateJoined, s.State())
	req.Equal(1, r.Count())

	req.True(s.Close())
	req.Equal(StateClosed, s.State())
	req.Equal(0, r.Count())

	req.False(s.Close())
	req.ErrorIs(s.Join("alice"), ErrSessionClosed)
	req.Equal(0, r.Count())
	req.Equal([]int{1, 0}, rec.all())
}

func TestSession_RejoinKeepsEarlierUsername(t *testing.T) {
	req := require.New(t)
	r := NewRegistry()
	s := NewSession(r, newFakeHandle())

	req.NoError(s.Join("alice"))
	req.NoError(s.Join("alice"))
	req.NoError(s.Join("alice2"))

	req.Equal([]string{"alice", "alice2"}, r.Usernames())
	req.Equal([]string{"alice", "alice2"}, s.Usernames())

	s.Close()
	req.Empty(r.Usernames())
}

func TestSession_CloseWithoutJoinDoesNotSignal(t *testing.T) {
	r, rec := newRecordedRegistry()
	s := NewSession(r, newFakeHandle())

	require.True(t, s.Close())
	require.Empty(t, rec.all())
}

func TestSession_EmptyUsername(t *testing.T) {
	s := NewSession(NewRegistry(), newFakeHandle())

	err := s.Join("")
	require.True(t, errors.Is(err, ErrEmptyUsername))
	require.Equal(t, StateConnected, s.State())
}

func TestSession_DisplacedByNewerConnection(t *testing.T) {
	req := require.New(t)
	r := NewRegistry()
	first := NewSession(r, newFakeHandle())
	second := NewSession(r, newFakeHandle())

	req.NoError(first.Join("u"))
	req.NoError(second.Join("u"))
	first.Close()

	h, ok := r.Lookup("u")
	req.True(ok)
	req.Equal(second.Handle().ID(), h.ID())
}

type fakeBroadcaster struct {
	payloads [][]byte
}

func (b *fakeBroadcaster) Broadcast(payload []byte) int {
	b.payloads = append(b.payloads, payload)
	return 1
}

func TestNotifier_BroadcastsEncodedCount(t *testing.T) {
	req := require.New(t)
	b := &fakeBroadcaster{}
	n := NewNotifier(b, func(count int) ([]byte, error) {
		return []byte{byte('0' + count)}, nil
	}, nil)

	r := NewRegistry()
	r.OnChange(n.PresenceChanged)

	h := newFakeHandle()
	r.Register("alice", h)
	r.Register("bob", newFakeHandle())
	r.RemoveByHandle(h)
	r.RemoveByHandle(h)

	req.Equal([][]byte{[]byte("1"), []byte("2"), []byte("1")}, b.payloads)
}

func TestNotifier_EncodeFailureSkipsBroadcast(t *testing.T) {
	b := &fakeBroadcaster{}
	n := NewNotifier(b, func(int) ([]byte, error) {
		return nil, errors.New("boom")
	}, nil)

	n.PresenceChanged(3)
	require.Empty(t, b.payloads)
}
