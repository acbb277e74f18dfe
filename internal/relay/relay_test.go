package relay

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/chatrelay/internal/messagelog"
	"github.com/Tyrowin/chatrelay/internal/presence"
)

type memorySink struct {
	mu      sync.Mutex
	records []messagelog.Record
	err     error
}

func (s *memorySink) Append(_ context.Context, rec messagelog.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.records = append(s.records, rec)
	return nil
}

func (s *memorySink) Close() error { return nil }

func (s *memorySink) snapshot() []messagelog.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]messagelog.Record(nil), s.records...)
}

type recordingHandle struct {
	id     presence.HandleID
	accept bool

	mu       sync.Mutex
	received [][]byte
}

func newRecordingHandle() *recordingHandle {
	return &recordingHandle{id: presence.NewHandleID(), accept: true}
}

func (h *recordingHandle) ID() presence.HandleID { return h.id }

func (h *recordingHandle) Send(payload []byte) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.accept {
		return false
	}
	h.received = append(h.received, payload)
	return true
}

func (h *recordingHandle) messages() [][]byte {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([][]byte(nil), h.received...)
}

func hello(to string) Message {
	return Message{From: "alice", To: to, Payload: json.RawMessage(`"hi"`)}
}

func TestRelay_DeliversToOnlineRecipient(t *testing.T) {
	req := require.New(t)
	registry := presence.NewRegistry()
	sink := &memorySink{}
	bob := newRecordingHandle()
	registry.Register("bob", bob)

	r := New(registry, sink)
	outcome, err := r.Relay(context.Background(), hello("bob"))

	req.NoError(err)
	req.Equal(Delivered, outcome)
	req.Len(sink.snapshot(), 1)

	got := bob.messages()
	req.Len(got, 1)
	req.JSONEq(`{"type":"receive-message","to":"bob","from":"alice","payload":"hi"}`, string(got[0]))
}

func TestRelay_OfflineRecipientIsLoggedOnly(t *testing.T) {
	req := require.New(t)
	sink := &memorySink{}
	r := New(presence.NewRegistry(), sink)

	outcome, err := r.Relay(context.Background(), hello("bob"))

	req.NoError(err)
	req.Equal(RecipientOffline, outcome)

	records := sink.snapshot()
	req.Len(records, 1)
	req.Equal("alice", records[0].From)
	req.Equal("bob", records[0].To)
	req.JSONEq(`"hi"`, string(records[0].Payload))
}

func TestRelay_LogFailureSkipsDelivery(t *testing.T) {
	req := require.New(t)
	registry := presence.NewRegistry()
	bob := newRecordingHandle()
	registry.Register("bob", bob)
	diskFull := errors.New("disk full")

	r := New(registry, &memorySink{err: diskFull})
	_, err := r.Relay(context.Background(), hello("bob"))

	req.ErrorIs(err, ErrLogAppend)
	req.ErrorIs(err, diskFull)
	req.Empty(bob.messages())
}

func TestRelay_RefusedDelivery(t *testing.T) {
	registry := presence.NewRegistry()
	bob := newRecordingHandle()
	bob.accept = false
	registry.Register("bob", bob)
	sink := &memorySink{}

	outcome, err := New(registry, sink).Relay(context.Background(), hello("bob"))

	require.NoError(t, err)
	require.Equal(t, DeliveryDropped, outcome)
	require.Len(t, sink.snapshot(), 1)
}

func TestRelay_FollowsPresenceChanges(t *testing.T) {
	req := require.New(t)
	registry := presence.NewRegistry()
	sink := &memorySink{}
	r := New(registry, sink)

	old, current := newRecordingHandle(), newRecordingHandle()
	registry.Register("bob", old)
	registry.Register("bob", current)

	outcome, err := r.Relay(context.Background(), hello("bob"))
	req.NoError(err)
	req.Equal(Delivered, outcome)
	req.Empty(old.messages())
	req.Len(current.messages(), 1)

	registry.RemoveByHandle(current)
	outcome, err = r.Relay(context.Background(), hello("bob"))
	req.NoError(err)
	req.Equal(RecipientOffline, outcome)
	req.Len(sink.snapshot(), 2)
}

func TestRelay_RecordTimestampUsesClock(t *testing.T) {
	fixed := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	sink := &memorySink{}
	r := New(presence.NewRegistry(), sink, WithClock(func() time.Time { return fixed }))

	_, err := r.Relay(context.Background(), hello("bob"))
	require.NoError(t, err)
	require.Equal(t, fixed, sink.snapshot()[0].At)
}

func TestRelay_RunPreservesArrivalOrder(t *testing.T) {
	req := require.New(t)
	registry := presence.NewRegistry()
	bob := newRecordingHandle()
	registry.Register("bob", bob)
	sink := &memorySink{}
	r := New(registry, sink, WithQueueSize(64))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	const total = 50
	for i := 0; i < total; i++ {
		payload, err := json.Marshal(i)
		req.NoError(err)
		req.NoError(r.Submit(Message{From: "alice", To: "bob", Payload: payload}))
	}

	req.Eventually(func() bool {
		return len(sink.snapshot()) == total
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	req.ErrorIs(<-done, context.Canceled)

	for i, rec := range sink.snapshot() {
		var n int
		req.NoError(json.Unmarshal(rec.Payload, &n))
		req.Equal(i, n)
	}
	req.Len(bob.messages(), total)
}

func TestRelay_RunDrainsQueueOnStop(t *testing.T) {
	sink := &memorySink{}
	r := New(presence.NewRegistry(), sink, WithQueueSize(8))

	for i := 0; i < 5; i++ {
		require.NoError(t, r.Submit(hello("bob")))
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, r.Run(ctx), context.Canceled)
	require.Len(t, sink.snapshot(), 5)
}

func TestRelay_SubmitQueueFull(t *testing.T) {
	r := New(presence.NewRegistry(), &memorySink{}, WithQueueSize(1))

	require.NoError(t, r.Submit(hello("bob")))
	require.ErrorIs(t, r.Submit(hello("bob")), ErrQueueFull)
}

func TestRelay_WithFileLog(t *testing.T) {
	req := require.New(t)
	log, err := messagelog.OpenFile(filepath.Join(t.TempDir(), "messages.log"), true)
	req.NoError(err)
	defer func() { req.NoError(log.Close()) }()

	registry := presence.NewRegistry()
	bob := newRecordingHandle()
	registry.Register("bob", bob)
	r := New(registry, log)

	_, err = r.Relay(context.Background(), hello("bob"))
	req.NoError(err)
	_, err = r.Relay(context.Background(), hello("carol"))
	req.NoError(err)

	var to []string
	req.NoError(log.Each(context.Background(), func(rec messagelog.Record) error {
		to = append(to, rec.To)
		return nil
	}))
	req.Equal([]string{"bob", "carol"}, to)
	req.Len(bob.messages(), 1)
}
