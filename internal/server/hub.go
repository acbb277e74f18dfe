// Package server coordinates connection registration, presence joins, and
// connection cleanup for the chat relay via the Hub type.
package server

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Tyrowin/chatrelay/internal/presence"
	"github.com/Tyrowin/chatrelay/internal/relay"
)

// MessageSubmitter accepts send-message events for asynchronous relay.
type MessageSubmitter interface {
	Submit(msg relay.Message) error
}

// Hub manages all WebSocket client connections. It is the single event stream
// for joins and disconnects, so registry mutations never interleave, and it
// implements presence.Broadcaster for online-count fan-out.
type Hub struct {
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	joins      chan joinRequest
	mutex      sync.RWMutex
	wg         sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc
	done       chan struct{}

	registry *presence.Registry
	messages MessageSubmitter
	cfg      Config
	log      *slog.Logger
}

// NewHub creates and initializes a new Hub bound to registry. Send-message
// events are forwarded to messages.
func NewHub(cfg Config, registry *presence.Registry, messages MessageSubmitter, log *slog.Logger) *Hub {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		joins:      make(chan joinRequest),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
		registry:   registry,
		messages:   messages,
		cfg:        cfg.Sanitize(),
		log:        log,
	}
}

// Registry returns the presence registry the hub maintains.
func (h *Hub) Registry() *presence.Registry {
	return h.registry
}

// ClientCount returns the number of open connections, joined or not.
func (h *Hub) ClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

// Register hands a freshly upgraded client to the hub, which starts its
// pumps. It reports false if the hub is shutting down.
func (h *Hub) Register(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.ctx.Done():
		return false
	}
}

// requestJoin hands a join to the event loop and returns once the registry
// reflects it, so later events from the same read pump observe the join.
func (h *Hub) requestJoin(client *Client, username string) bool {
	req := joinRequest{client: client, username: username, done: make(chan struct{})}
	select {
	case h.joins <- req:
	case <-h.ctx.Done():
		return false
	}

	// The loop runs handleJoin right after receiving, so done always closes.
	<-req.done
	return true
}

// disconnect is the only path out of the Joined state. Once the loop has
// stopped the session is closed inline.
func (h *Hub) disconnect(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.ctx.Done():
		h.closeSession(client)
	}
}

func (h *Hub) safeSend(client *Client, message []byte) bool {
	defer func() {
		if r := recover(); r != nil {
			h.log.Error("recovered from panic in safeSend", "panic", r)
		}
	}()

	// Hold the lock during the entire send operation to prevent race conditions
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	// Check if client is still registered and not closed
	_, exists := h.clients[client]
	if !exists || client.closed {
		return false
	}

	select {
	case client.send <- message:
		return true
	default:
		return false
	}
}

// Run starts the hub's main event loop, handling client registration, joins,
// and unregistration. This method should be called in a separate goroutine
// as it runs until Shutdown.
func (h *Hub) Run() {
	defer close(h.done)

	for {
		select {
		case <-h.ctx.Done():
			h.shutdownClients()
			return

		case client := <-h.register:
			h.handleRegister(client)

		case req := <-h.joins:
			h.handleJoin(req)

		case client := <-h.unregister:
			h.handleUnregister(client)
		}
	}
}

func (h *Hub) handleRegister(client *Client) {
	if client == nil {
		h.log.Warn("received nil client registration; skipping")
		return
	}

	h.mutex.Lock()
	client.closed = false
	h.clients[client] = true
	clientCount := len(h.clients)
	h.mutex.Unlock()
	h.log.Info("client connected", "addr", client.addr, "handle", client.id.String(), "clients", clientCount)

	if client.conn == nil {
		return
	}

	h.wg.Add(2)
	go func() {
		defer h.wg.Done()
		client.writePump()
	}()
	go func() {
		defer h.wg.Done()
		client.readPump()
	}()
}

func (h *Hub) handleJoin(req joinRequest) {
	defer close(req.done)

	if err := req.client.session.Join(req.username); err != nil {
		h.log.Debug("join ignored", "addr", req.client.addr, "username", req.username, "error", err)
		return
	}
	h.log.Info("user joined", "username", req.username, "handle", req.client.id.String(), "online", h.registry.Count())
}

func (h *Hub) handleUnregister(client *Client) {
	h.mutex.Lock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		client.closed = true
		clientCount := len(h.clients)
		h.mutex.Unlock()
		// Close the channel after releasing the lock
		close(client.send)
		h.log.Info("client disconnected", "addr", client.addr, "handle", client.id.String(), "clients", clientCount)
	} else {
		h.mutex.Unlock()
	}

	// Evicted clients still own presence entries until this point.
	h.closeSession(client)
}

func (h *Hub) closeSession(client *Client) {
	names := client.session.Usernames()
	if client.session.Close() && len(names) > 0 {
		h.log.Info("user left", "usernames", names, "online", h.registry.Count())
	}
}

// Broadcast sends payload to every open connection and returns how many
// accepted it. Connections whose send buffer is full are evicted.
func (h *Hub) Broadcast(payload []byte) int {
	clients := h.getClientSnapshot()

	var (
		delivered       int
		clientsToRemove []*Client
	)
	for _, client := range clients {
		if h.safeSend(client, payload) {
			delivered++
			continue
		}
		clientsToRemove = append(clientsToRemove, client)
	}

	h.removeFailedClients(clientsToRemove)
	return delivered
}

// getClientSnapshot returns a thread-safe snapshot of all current clients
func (h *Hub) getClientSnapshot() []*Client {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	return clients
}

// removeFailedClients removes clients that failed to receive messages and
// closes their channels. Their sessions are closed when the read pump exits.
func (h *Hub) removeFailedClients(clientsToRemove []*Client) {
	if len(clientsToRemove) == 0 {
		return
	}

	h.mutex.Lock()
	var channelsToClose []chan []byte
	for _, client := range clientsToRemove {
		if _, exists := h.clients[client]; exists {
			delete(h.clients, client)
			client.closed = true
			channelsToClose = append(channelsToClose, client.send)
			h.log.Warn("client removed due to full send buffer", "addr", client.addr, "handle", client.id.String())
		}
	}
	h.mutex.Unlock()

	// Close channels after releasing the lock
	for _, ch := range channelsToClose {
		close(ch)
	}
}

// shutdownClients closes every connection and its send channel so both
// pumps of every client return.
func (h *Hub) shutdownClients() {
	h.log.Info("shutting down all client connections")

	clients := h.getClientSnapshot()

	for _, client := range clients {
		if client.conn != nil {
			if err := client.conn.Close(); err != nil {
				if !isExpectedCloseError(err) {
					h.log.Error("closing client connection", "addr", client.addr, "error", err)
				}
			}
		}
	}

	h.mutex.Lock()
	var channelsToClose []chan []byte
	for _, client := range clients {
		if _, exists := h.clients[client]; exists {
			delete(h.clients, client)
			client.closed = true
			channelsToClose = append(channelsToClose, client.send)
		}
	}
	h.mutex.Unlock()

	for _, ch := range channelsToClose {
		close(ch)
	}

	h.log.Info("closed client connections", "count", len(clients))
}

// Shutdown initiates graceful shutdown of the hub and waits for all goroutines to complete.
// It returns after all client connections are closed and goroutines have finished,
// or when the timeout is reached.
func (h *Hub) Shutdown(timeout time.Duration) error {
	h.log.Info("initiating hub shutdown")

	h.cancel()
	<-h.done

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		h.log.Info("hub shutdown completed")
		return nil
	case <-time.After(timeout):
		h.log.Warn("hub shutdown timeout reached, some goroutines may still be running")
		return context.DeadlineExceeded
	}
}
