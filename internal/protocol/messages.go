// Package protocol defines the WebSocket message types exchanged between
// clients and the chat server. All messages are JSON with a "type"
// discriminator in a common envelope.
package protocol

import (
	"encoding/json"
	"fmt"
)

// Client -> Server message types.
const (
	TypeAnnounce = "announce" // bind the connection to an authenticated user id
	TypeSend     = "send"     // send a 1:1 message
	TypePing     = "ping"     // keepalive
)

// Server -> Client message types.
const (
	TypeConnectionEstablished = "connection_established"
	TypeAnnounced             = "announced"
	TypeSent                  = "sent"     // echo of the persisted message to the sender
	TypeDelivery              = "delivery" // live push to a recipient connection
	TypeRateLimited           = "rate_limited"
	TypeError                 = "error"
	TypePong                  = "pong"
)

// Envelope holds the message type and the raw JSON payload for deferred
// decoding into a concrete struct.
type Envelope struct {
	Type string          `json:"type"`
	Raw  json.RawMessage `json:"-"`
}

// UnmarshalJSON captures the full raw bytes and extracts only the "type"
// field so the rest of the payload can be decoded once the type is known.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	e.Raw = make(json.RawMessage, len(data))
	copy(e.Raw, data)

	var partial struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &partial); err != nil {
		return fmt.Errorf("protocol: failed to unmarshal envelope: %w", err)
	}
	if partial.Type == "" {
		return fmt.Errorf("protocol: missing or empty \"type\" field")
	}
	e.Type = partial.Type
	return nil
}

// AnnounceMsg binds the connection to a user identity. Identity comes from
// the external auth layer; the server trusts it unverified. A connection's
// identity is fixed from the first announce until disconnect.
type AnnounceMsg struct {
	Type   string `json:"type"`
	UserID string `json:"user_id"`
}

// SendMsg asks the server to deliver a text message to another user.
type SendMsg struct {
	Type string `json:"type"`
	To   string `json:"to"`
	Body string `json:"body"`
}

// PingMsg is a client-initiated keepalive ping.
type PingMsg struct {
	Type string `json:"type"`
}

// ConnectionEstablishedMsg is sent once after the WebSocket upgrade.
type ConnectionEstablishedMsg struct {
	Type         string `json:"type"`
	ConnectionID string `json:"connection_id"`
}

// AnnouncedMsg confirms the connection is registered for the given user.
type AnnouncedMsg struct {
	Type   string `json:"type"`
	UserID string `json:"user_id"`
}

// SentMsg echoes the persisted message back to the sending connection. Its
// presence means the message has a durable record; a failed send gets an
// ErrorMsg instead and must not be rendered as sent.
type SentMsg struct {
	Type      string `json:"type"`
	MessageID int64  `json:"message_id"`
	To        string `json:"to"`
	Body      string `json:"body"`
	Ts        int64  `json:"ts"`
}

// DeliveryMsg is pushed to every live connection of a message's recipient.
type DeliveryMsg struct {
	Type      string `json:"type"`
	MessageID int64  `json:"message_id"`
	From      string `json:"from"`
	Body      string `json:"body"`
	Ts        int64  `json:"ts"`
}

// RateLimitedMsg tells the client it is sending too fast.
type RateLimitedMsg struct {
	Type       string `json:"type"`
	RetryAfter int    `json:"retry_after"`
}

// ErrorMsg communicates a failure for the preceding request.
type ErrorMsg struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// PongMsg is the server's response to a client ping.
type PongMsg struct {
	Type string `json:"type"`
}

// ParseClientMessage parses raw WebSocket bytes into a typed client message.
// It returns the type string, the decoded struct, and any parse error. An
// error is returned for unknown or server-only types.
func ParseClientMessage(data []byte) (string, interface{}, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("protocol: failed to parse message: %w", err)
	}

	var (
		msg interface{}
		err error
	)

	switch env.Type {
	case TypeAnnounce:
		var m AnnounceMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeSend:
		var m SendMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypePing:
		var m PingMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	default:
		return env.Type, nil, fmt.Errorf("protocol: unknown client message type: %q", env.Type)
	}

	if err != nil {
		return env.Type, nil, fmt.Errorf("protocol: failed to decode %q payload: %w", env.Type, err)
	}
	return env.Type, msg, nil
}

// NewServerMessage JSON-encodes a server message, injecting msgType under
// the "type" key so payload structs don't need to fill it themselves.
func NewServerMessage(msgType string, payload interface{}) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal payload: %w", err)
	}

	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("protocol: failed to unmarshal payload into map: %w", err)
	}

	m["type"] = msgType

	out, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal server message: %w", err)
	}
	return out, nil
}
