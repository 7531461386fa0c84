// Package chat defines the message data model, content validation, and the
// PostgreSQL-backed message store. A message is immutable once persisted;
// the store assigns ids from a sequence so creation order and id order agree.
package chat

import "time"

// Message is a persisted 1:1 text message. The ID is assigned by the store
// on insert and is monotonically increasing, so ordering history by id
// yields creation order.
type Message struct {
	ID          int64     `json:"id"`
	SenderID    string    `json:"sender_id"`
	RecipientID string    `json:"recipient_id"`
	Body        string    `json:"body"`
	CreatedAt   time.Time `json:"created_at"`
}

// DeliveryEvent is the payload published to NATS delivery.<user_id> subjects
// and translated into a delivery push for each of the recipient's live
// connections. Origin carries the publishing server's instance name so a
// server can skip events it already delivered locally.
type DeliveryEvent struct {
	MessageID int64  `json:"message_id"`
	From      string `json:"from"`
	To        string `json:"to"`
	Body      string `json:"body"`
	Ts        int64  `json:"ts"`
	Origin    string `json:"origin,omitempty"`
}
