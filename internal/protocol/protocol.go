// Package protocol defines the JSON events exchanged over the websocket and
// validates inbound events before they reach the presence and relay layers.
package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// Type names an event on the wire.
type Type string

const (
	TypeJoin           Type = "join"
	TypeSendMessage    Type = "send-message"
	TypeOnlineCount    Type = "online-count"
	TypeReceiveMessage Type = "receive-message"
	TypeError          Type = "error"
)

var (
	// ErrMalformedEvent is returned for events that are not valid JSON or miss required fields.
	ErrMalformedEvent = errors.New("malformed event")
	// ErrUnknownEventType is returned for well-formed events with an unsupported type.
	ErrUnknownEventType = errors.New("unknown event type")
)

var validate = validator.New()

// Inbound is implemented by every client-to-server event.
type Inbound interface {
	EventType() Type
}

// Join claims a username for the sending connection.
type Join struct {
	Username string `json:"username" validate:"required,max=64"`
}

func (Join) EventType() Type { return TypeJoin }

// SendMessage asks the server to relay Payload to To. Payload is any JSON
// value and is passed through untouched.
type SendMessage struct {
	To      string          `json:"to" validate:"required,max=64"`
	From    string          `json:"from" validate:"required,max=64"`
	Payload json.RawMessage `json:"payload" validate:"required"`
}

func (SendMessage) EventType() Type { return TypeSendMessage }

type envelope struct {
	Type Type `json:"type"`
}

// Decode parses and validates one inbound event.
func Decode(raw []byte) (Inbound, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}

	var ev Inbound
	switch env.Type {
	case TypeJoin:
		var j Join
		if err := decodeInto(raw, &j); err != nil {
			return nil, err
		}
		ev = j
	case TypeSendMessage:
		var m SendMessage
		if err := decodeInto(raw, &m); err != nil {
			return nil, err
		}
		if bytes.Equal(bytes.TrimSpace(m.Payload), []byte("null")) {
			return nil, fmt.Errorf("%w: payload is null", ErrMalformedEvent)
		}
		ev = m
	case "":
		return nil, fmt.Errorf("%w: missing type", ErrMalformedEvent)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEventType, env.Type)
	}
	return ev, nil
}

func decodeInto(raw []byte, v any) error {
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if err := validate.Struct(v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	return nil
}

// OnlineCount is broadcast to every connection after a presence change.
type OnlineCount struct {
	Type  Type `json:"type"`
	Count int  `json:"count"`
}

// ReceiveMessage is pushed to the recipient of a relayed message.
type ReceiveMessage struct {
	Type    Type            `json:"type"`
	To      string          `json:"to"`
	From    string          `json:"from"`
	Payload json.RawMessage `json:"payload"`
}

// ErrorEvent tells a client its last event was rejected.
type ErrorEvent struct {
	Type  Type   `json:"type"`
	Error string `json:"error"`
}

// EncodeOnlineCount renders an online-count event.
func EncodeOnlineCount(count int) ([]byte, error) {
	return json.Marshal(OnlineCount{Type: TypeOnlineCount, Count: count})
}

// EncodeReceiveMessage renders a receive-message event.
func EncodeReceiveMessage(to, from string, payload json.RawMessage) ([]byte, error) {
	return json.Marshal(ReceiveMessage{Type: TypeReceiveMessage, To: to, From: from, Payload: payload})
}

// EncodeError renders an error event.
func EncodeError(err error) ([]byte, error) {
	return json.Marshal(ErrorEvent{Type: TypeError, Error: err.Error()})
}
