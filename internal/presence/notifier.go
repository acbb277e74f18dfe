package presence

import "log/slog"

// Broadcaster delivers a payload to every open connection and reports how
// many accepted it.
type Broadcaster interface {
	Broadcast(payload []byte) int
}

// CountEncoder renders the online count as a wire event.
type CountEncoder func(count int) ([]byte, error)

// Notifier broadcasts the online count whenever the registry changes.
type Notifier struct {
	broadcaster Broadcaster
	encode      CountEncoder
	log         *slog.Logger
}

// NewNotifier creates a Notifier that pushes through b.
func NewNotifier(b Broadcaster, encode CountEncoder, log *slog.Logger) *Notifier {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Notifier{broadcaster: b, encode: encode, log: log}
}

// PresenceChanged is meant to be installed with Registry.OnChange. Failed
// sends to individual connections are dropped by the broadcaster.
func (n *Notifier) PresenceChanged(count int) {
	payload, err := n.encode(count)
	if err != nil {
		n.log.Error("encoding online count", "count", count, "error", err)
		return
	}

	reached := n.broadcaster.Broadcast(payload)
	n.log.Debug("online count broadcast", "count", count, "reached", reached)
}
