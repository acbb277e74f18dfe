// Package testhelpers provides common utilities and helper functions for
// testing the chat relay server.
//
// It provides functions for dialing the websocket endpoint, sending join and
// send-message events, and reading typed server events, so tests do not
// repeat wire details.
package testhelpers

import (
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/chatrelay/internal/protocol"
)

// TestOrigin is the Origin header sent by ConnectWebSocket.
const TestOrigin = "http://localhost:8080"

// Event is a decoded server-to-client event. Only the fields relevant to its
// Type are set.
type Event struct {
	Type    protocol.Type   `json:"type"`
	Count   int             `json:"count"`
	To      string          `json:"to"`
	From    string          `json:"from"`
	Payload json.RawMessage `json:"payload"`
	Error   string          `json:"error"`
}

// WebSocketURL turns an httptest server URL into the websocket endpoint URL.
func WebSocketURL(httpURL string) string {
	return "ws" + strings.TrimPrefix(httpURL, "http") + "/ws"
}

// MakeRequest creates and executes an HTTP request, returning the response.
// It includes a 5-second timeout and fails the test if the request cannot be
// created or executed successfully.
func MakeRequest(t *testing.T, method, url string) *http.Response {
	t.Helper()

	client := &http.Client{
		Timeout: 5 * time.Second,
	}

	req, err := http.NewRequest(method, url, http.NoBody)
	require.NoError(t, err, "creating request")

	resp, err := client.Do(req)
	require.NoError(t, err, "making request")

	return resp
}

// ConnectWebSocketWithOrigin dials url with the given Origin header and
// returns the handshake response status alongside any error.
func ConnectWebSocketWithOrigin(url, origin string) (*websocket.Conn, int, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: 5 * time.Second,
	}

	headers := http.Header{}
	if origin != "" {
		headers.Set("Origin", origin)
	}

	conn, resp, err := dialer.Dial(url, headers)
	status := 0
	if resp != nil {
		status = resp.StatusCode
		_ = resp.Body.Close()
	}
	return conn, status, err
}

// ConnectWebSocket creates a WebSocket connection to url with TestOrigin and
// closes it when the test ends.
func ConnectWebSocket(t *testing.T, url string) *websocket.Conn {
	t.Helper()

	conn, _, err := ConnectWebSocketWithOrigin(url, TestOrigin)
	require.NoError(t, err, "dialing %s", url)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// SendJoin sends a join event claiming username.
func SendJoin(t *testing.T, conn *websocket.Conn, username string) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(map[string]any{
		"type":     protocol.TypeJoin,
		"username": username,
	}))
}

// SendMessage sends a send-message event. payload must be valid JSON.
func SendMessage(t *testing.T, conn *websocket.Conn, from, to, payload string) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(map[string]any{
		"type":    protocol.TypeSendMessage,
		"from":    from,
		"to":      to,
		"payload": json.RawMessage(payload),
	}))
}

// SendRawMessage sends a raw text frame.
func SendRawMessage(t *testing.T, conn *websocket.Conn, data string) {
	t.Helper()
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(data)))
}

// ReadEvent reads one event, failing the test if nothing arrives within timeout.
func ReadEvent(t *testing.T, conn *websocket.Conn, timeout time.Duration) Event {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(timeout)))
	var ev Event
	require.NoError(t, conn.ReadJSON(&ev), "reading event")
	return ev
}

// ReadUntil reads events until one of type typ arrives and returns it.
func ReadUntil(t *testing.T, conn *websocket.Conn, typ protocol.Type, timeout time.Duration) Event {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		require.Positive(t, remaining, "no %s event within %s", typ, timeout)
		ev := ReadEvent(t, conn, remaining)
		if ev.Type == typ {
			return ev
		}
	}
}

// WaitForCount reads online-count events until one reports want.
func WaitForCount(t *testing.T, conn *websocket.Conn, want int, timeout time.Duration) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		require.Positive(t, remaining, "online count never reached %d", want)
		ev := ReadUntil(t, conn, protocol.TypeOnlineCount, remaining)
		if ev.Count == want {
			return
		}
	}
}

// ExpectSilence asserts that no event arrives within d. The read deadline
// error leaves conn unusable for further reads.
func ExpectSilence(t *testing.T, conn *websocket.Conn, d time.Duration) {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(d)))
	_, data, err := conn.ReadMessage()
	require.Error(t, err, "unexpected event %s", data)
}

// CloseWebSocket gracefully closes a WebSocket connection.
func CloseWebSocket(conn *websocket.Conn) error {
	err := conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	if err != nil {
		return err
	}
	return conn.Close()
}
