// Package server manages individual WebSocket clients, handling read/write
// pumps, rate limiting, event decoding, and lifecycle control for each connection.
package server

import (
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/chatrelay/internal/presence"
	"github.com/Tyrowin/chatrelay/internal/protocol"
	"github.com/Tyrowin/chatrelay/internal/relay"
)

const (
	pongWait     = 60 * time.Second
	pingInterval = 54 * time.Second
	writeWait    = 10 * time.Second
)

// Client represents a WebSocket connection in the chat system. It is the
// presence.Handle the registry stores, and it owns the presence.Session that
// tracks which usernames the connection has claimed.
type Client struct {
	id             presence.HandleID
	conn           *websocket.Conn
	send           chan []byte
	hub            *Hub
	addr           string
	closed         bool
	session        *presence.Session
	maxMessageSize int64
	rateLimiter    *rateLimiter
	rateLimit      RateLimitConfig
	log            *slog.Logger
}

var _ presence.Handle = (*Client)(nil)

// NewClient creates a new Client instance with the provided WebSocket connection,
// hub reference, and client address. The client's send channel is buffered
// to handle message queuing.
func NewClient(conn *websocket.Conn, hub *Hub, addr string) *Client {
	cfg := hub.cfg
	maxMessageSize := int64(cfg.MaxMessageSize)
	if conn != nil {
		conn.SetReadLimit(maxMessageSize)
	}

	c := &Client{
		id:             presence.NewHandleID(),
		conn:           conn,
		send:           make(chan []byte, cfg.SendBufferSize),
		hub:            hub,
		addr:           addr,
		closed:         false,
		maxMessageSize: maxMessageSize,
		rateLimiter:    newRateLimiter(cfg.RateLimit()),
		rateLimit:      cfg.RateLimit(),
	}
	c.log = hub.log.With("addr", addr, "handle", c.id.String())
	c.session = presence.NewSession(hub.registry, c)
	return c
}

// ID implements presence.Handle.
func (c *Client) ID() presence.HandleID {
	return c.id
}

// Send implements presence.Handle. It never blocks.
func (c *Client) Send(payload []byte) bool {
	return c.hub.safeSend(c, payload)
}

// Session returns the lifecycle state machine for this connection.
func (c *Client) Session() *presence.Session {
	return c.session
}

// GetSendChan returns the client's send channel for reading outgoing messages.
// This channel is read-only from the caller's perspective.
func (c *Client) GetSendChan() <-chan []byte {
	return c.send
}

// setupReadConnection configures read deadlines and pong handler for the WebSocket connection
func (c *Client) setupReadConnection() {
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.log.Error("setting initial read deadline", "error", err)
	}
	c.conn.SetPongHandler(func(string) error {
		if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
			c.log.Error("setting read deadline in pong handler", "error", err)
		}
		return nil
	})
}

// handleReadError logs appropriate error messages based on the error type
// and returns true if the read loop should break
func (c *Client) handleReadError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, websocket.ErrReadLimit) {
		c.log.Warn("message exceeded maximum size", "limit", c.maxMessageSize)
		return true
	}

	if websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure) {
		c.log.Debug("client closed connection", "reason", err)
		return true
	}

	if errors.Is(err, io.EOF) || isExpectedCloseError(err) {
		c.log.Debug("client connection closed", "reason", err)
		return true
	}

	if websocket.IsUnexpectedCloseError(err,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure,
		websocket.CloseMessageTooBig) {
		c.log.Warn("unexpected websocket close", "error", err)
		return true
	}

	c.log.Warn("websocket read error", "error", err)
	return true
}

// checkRateLimit verifies if the client has exceeded rate limits
// and returns true if the message should be processed
func (c *Client) checkRateLimit() bool {
	if c.rateLimiter != nil && !c.rateLimiter.allow() {
		c.log.Warn("rate limit exceeded; discarding event",
			"burst", c.rateLimit.Burst,
			"interval", c.rateLimit.RefillInterval,
		)
		return false
	}
	return true
}

// processMessage decodes one inbound event and routes it: joins go to the
// hub's event loop, send-message events to the relay. Rejected events are
// answered with an error event and never reach the core. It returns false
// when the read loop should stop because the hub is shutting down.
func (c *Client) processMessage(rawMessage []byte) bool {
	ev, err := protocol.Decode(rawMessage)
	if err != nil {
		c.log.Debug("rejected event", "error", err)
		c.reject(err)
		return true
	}

	switch ev := ev.(type) {
	case protocol.Join:
		if !c.hub.requestJoin(c, ev.Username) {
			c.log.Debug("hub stopped; join dropped", "username", ev.Username)
			return false
		}

	case protocol.SendMessage:
		err := c.hub.messages.Submit(relay.Message{From: ev.From, To: ev.To, Payload: ev.Payload})
		if err != nil {
			c.log.Warn("relay unavailable; message dropped", "from", ev.From, "to", ev.To, "error", err)
		}
	}
	return true
}

func (c *Client) reject(cause error) {
	payload, err := protocol.EncodeError(cause)
	if err != nil {
		return
	}
	c.Send(payload)
}

func (c *Client) readPump() {
	defer func() {
		c.hub.disconnect(c)
		if err := c.conn.Close(); err != nil {
			if !isExpectedCloseError(err) {
				c.log.Error("closing connection in readPump", "error", err)
			}
		}
	}()

	c.setupReadConnection()

	for {
		_, rawMessage, err := c.conn.ReadMessage()
		if err != nil {
			if c.handleReadError(err) {
				break
			}
		}

		if !c.checkRateLimit() {
			continue
		}

		if !c.processMessage(rawMessage) {
			break
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.closeConnection()
	}()

	for c.processWriteEvent(ticker) {
	}
}

// processWriteEvent waits for the next write event and returns false when the
// pump should stop processing.
func (c *Client) processWriteEvent(ticker *time.Ticker) bool {
	select {
	case message, ok := <-c.send:
		return c.handleMessage(message, ok)
	case <-ticker.C:
		return c.handlePing()
	}
}

// closeConnection safely closes the WebSocket connection with proper error handling
func (c *Client) closeConnection() {
	if err := c.conn.Close(); err != nil {
		if !isExpectedCloseError(err) {
			c.log.Error("closing connection in writePump", "error", err)
		}
	}
}

// handleMessage processes outgoing messages and returns false if the connection should be closed
func (c *Client) handleMessage(message []byte, ok bool) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.log.Debug("setting write deadline", "error", err)
		return false
	}

	if !ok {
		return c.writeCloseMessage()
	}

	return c.writeTextMessage(message)
}

// writeCloseMessage sends a close message to the client
func (c *Client) writeCloseMessage() bool {
	if err := c.conn.WriteMessage(websocket.CloseMessage, []byte{}); err != nil {
		if !isExpectedCloseError(err) {
			c.log.Debug("writing close message", "error", err)
		}
	}
	return false
}

// writeTextMessage writes one event per frame so every frame is a single
// JSON document.
func (c *Client) writeTextMessage(message []byte) bool {
	if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
		c.log.Debug("writing message", "error", err)
		return false
	}
	return true
}

// handlePing sends a ping message to keep the connection alive
func (c *Client) handlePing() bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.log.Debug("setting write deadline for ping", "error", err)
		return false
	}
	if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		c.log.Debug("writing ping", "error", err)
		return false
	}
	return true
}
