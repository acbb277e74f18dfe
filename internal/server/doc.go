// Package server implements the HTTP and WebSocket transport of the chat relay.
//
// Accepted connections become Clients owned by the Hub. The Hub serializes
// joins and disconnects against the presence registry, while send-message
// events flow to the relay worker, which logs every message and forwards it
// to the recipient if they are online. The implementation is organized into
// specialized files for configuration, hub management, clients, routing, and
// HTTP handlers.
package server
