// Package router orchestrates message sends: validate, persist, then fan out
// to the recipient's live connections. Persistence always happens before any
// delivery attempt, so a message is never pushed without a durable record.
// The router itself holds no mutable state and is safe for concurrent use by
// any number of sessions.
package router

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/parley/chat-server/internal/chat"
	"github.com/parley/chat-server/internal/metrics"
	"github.com/parley/chat-server/internal/protocol"
)

// Appender persists messages. Implemented by *chat.Store.
type Appender interface {
	Append(ctx context.Context, senderID, recipientID, body string) (*chat.Message, error)
}

// Registry reports the recipient's live connections. Implemented by
// *presence.Registry.
type Registry interface {
	ActiveConnections(userID string) []string
}

// Deliverer pushes an encoded frame to one local connection. Deliver must
// not block on a slow connection; implementations enqueue to the
// connection's outbound queue and report a full queue as an error.
type Deliverer interface {
	Deliver(connID string, data []byte) error
}

// DeliverFunc adapts a function to the Deliverer interface.
type DeliverFunc func(connID string, data []byte) error

func (f DeliverFunc) Deliver(connID string, data []byte) error {
	return f(connID, data)
}

// Publisher broadcasts a delivery event so other server instances can push
// to connections they hold for the recipient. Implemented by the NATS
// client; nil disables cross-node fan-out.
type Publisher interface {
	PublishDelivery(userID string, data []byte) error
}

// Router coordinates the send path.
type Router struct {
	store    Appender
	presence Registry
	local    Deliverer
	bus      Publisher
	origin   string // this server's instance name, stamped on bus events
}

// New creates a Router. bus may be nil for single-node deployments.
func New(store Appender, presence Registry, local Deliverer, bus Publisher, origin string) *Router {
	return &Router{
		store:    store,
		presence: presence,
		local:    local,
		bus:      bus,
		origin:   origin,
	}
}

// Send validates and persists a message, then attempts best-effort live
// delivery to each of the recipient's connections. Validation and storage
// failures are returned to the caller (*chat.ValidationError,
// *chat.StorageError); delivery failures are logged and counted but never
// surfaced, since history is the catch-up mechanism.
//
// Self-messages (senderID == recipientID) are legal and deliver to the
// sender's own connections.
func (r *Router) Send(ctx context.Context, senderID, recipientID, body string) (*chat.Message, error) {
	start := time.Now()

	body, err := chat.ValidateBody(body)
	if err != nil {
		metrics.SendFailures.WithLabelValues("validation").Inc()
		return nil, err
	}

	// Persist before any delivery attempt. If this fails the whole send
	// fails and nothing was pushed.
	msg, err := r.store.Append(ctx, senderID, recipientID, body)
	if err != nil {
		metrics.SendFailures.WithLabelValues("storage").Inc()
		return nil, err
	}
	metrics.MessagesSent.Inc()

	r.fanOut(msg)

	metrics.SendLatency.Observe(time.Since(start).Seconds())
	return msg, nil
}

// fanOut pushes the message to every live local connection of the recipient
// and publishes the event for other server instances. At most one delivery
// attempt is made per currently-registered connection; a failure on one
// connection does not affect the others.
func (r *Router) fanOut(msg *chat.Message) {
	frame, err := protocol.NewServerMessage(protocol.TypeDelivery, protocol.DeliveryMsg{
		MessageID: msg.ID,
		From:      msg.SenderID,
		Body:      msg.Body,
		Ts:        msg.CreatedAt.Unix(),
	})
	if err != nil {
		log.Printf("router: build delivery frame msg=%d: %v", msg.ID, err)
		return
	}

	for _, connID := range r.presence.ActiveConnections(msg.RecipientID) {
		if err := r.local.Deliver(connID, frame); err != nil {
			metrics.Deliveries.WithLabelValues("failed").Inc()
			log.Printf("router: delivery failed msg=%d conn=%s: %v", msg.ID, connID, err)
			continue
		}
		metrics.Deliveries.WithLabelValues("ok").Inc()
	}

	if r.bus == nil {
		return
	}
	event, err := json.Marshal(chat.DeliveryEvent{
		MessageID: msg.ID,
		From:      msg.SenderID,
		To:        msg.RecipientID,
		Body:      msg.Body,
		Ts:        msg.CreatedAt.Unix(),
		Origin:    r.origin,
	})
	if err != nil {
		log.Printf("router: marshal delivery event msg=%d: %v", msg.ID, err)
		return
	}
	if err := r.bus.PublishDelivery(msg.RecipientID, event); err != nil {
		log.Printf("router: publish delivery msg=%d user=%s: %v", msg.ID, msg.RecipientID, err)
	}
}
