// Package server defines shared helpers that are reused across client and
// hub logic.
package server

import (
	"strings"

	"github.com/Tyrowin/chatrelay/internal/presence"
)

// joinRequest carries a validated join event from a client's read pump to
// the hub's event loop. done is closed once the join has been applied.
type joinRequest struct {
	client   *Client
	username string
	done     chan struct{}
}

// presenceSnapshot is the body served by the presence endpoint.
type presenceSnapshot struct {
	Online int      `json:"online"`
	Users  []string `json:"users"`
}

func snapshotOf(r *presence.Registry) presenceSnapshot {
	users := r.Usernames()
	if users == nil {
		users = []string{}
	}
	return presenceSnapshot{Online: len(users), Users: users}
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}
