// Package server wires the presence registry, notifier, relay, and hub into
// a single Server value.
package server

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/chatrelay/internal/messagelog"
	"github.com/Tyrowin/chatrelay/internal/presence"
	"github.com/Tyrowin/chatrelay/internal/protocol"
	"github.com/Tyrowin/chatrelay/internal/relay"
)

// Server owns one registry shared by the hub, the notifier, and the relay.
type Server struct {
	cfg      Config
	log      *slog.Logger
	registry *presence.Registry
	hub      *Hub
	relay    *relay.Relay
	upgrader websocket.Upgrader

	startOnce   sync.Once
	stopRelay   context.CancelFunc
	relayDone   chan struct{}
	relayCancel sync.Once
}

// New builds a Server appending relayed messages to sink. The sink is not
// closed by the Server.
func New(cfg Config, sink messagelog.Sink, log *slog.Logger) *Server {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	cfg = cfg.Sanitize()

	registry := presence.NewRegistry(presence.WithLogger(log.With("component", "presence")))
	rel := relay.New(registry, sink,
		relay.WithLogger(log.With("component", "relay")),
		relay.WithQueueSize(cfg.RelayQueueSize),
	)
	hub := NewHub(cfg, registry, rel, log.With("component", "hub"))

	notifier := presence.NewNotifier(hub, protocol.EncodeOnlineCount, log.With("component", "notifier"))
	registry.OnChange(notifier.PresenceChanged)

	origins := newOriginPolicy(cfg.AllowedOrigins, log)

	return &Server{
		cfg:      cfg,
		log:      log,
		registry: registry,
		hub:      hub,
		relay:    rel,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     origins.checkOrigin,
		},
		relayDone: make(chan struct{}),
	}
}

// Start launches the hub event loop and the relay worker.
func (s *Server) Start() {
	s.startOnce.Do(func() {
		ctx, cancel := context.WithCancel(context.Background())
		s.stopRelay = cancel

		go s.hub.Run()
		go func() {
			defer close(s.relayDone)
			if err := s.relay.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				s.log.Error("relay worker stopped", "error", err)
			}
		}()
		s.log.Info("hub and relay started")
	})
}

// Stop closes every connection, then lets the relay finish the messages it
// already accepted. The caller closes the message log afterwards.
func (s *Server) Stop(timeout time.Duration) error {
	if s.stopRelay == nil {
		return nil
	}

	hubErr := s.hub.Shutdown(timeout)

	s.relayCancel.Do(s.stopRelay)
	select {
	case <-s.relayDone:
	case <-time.After(timeout):
		return errors.Join(hubErr, context.DeadlineExceeded)
	}
	return hubErr
}

// Hub returns the connection hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Registry returns the presence registry.
func (s *Server) Registry() *presence.Registry {
	return s.registry
}

// Config returns the sanitized configuration the server runs with.
func (s *Server) Config() Config {
	return s.cfg
}
