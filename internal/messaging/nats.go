// Package messaging provides a NATS client wrapper for cross-node delivery
// fan-out. Each server instance subscribes to delivery.<user_id> for the
// users it currently holds connections for; the router publishes every send
// there so recipients connected to other instances still get a live push.
package messaging

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// SubjectDelivery is the subject prefix for per-user delivery events;
// the full subject is delivery.<user_id>.
const SubjectDelivery = "delivery"

// NATSClient wraps the NATS connection with per-user keyed subscriptions.
type NATSClient struct {
	conn *nats.Conn
	mu   sync.Mutex
	subs map[string]*nats.Subscription // user_id -> subscription
}

// NATSConfig holds NATS connection settings.
type NATSConfig struct {
	URL           string        // nats://localhost:4222
	Name          string        // client name for identification
	ReconnectWait time.Duration // time between reconnect attempts
	MaxReconnects int           // max reconnect attempts (-1 for infinite)
}

// DefaultNATSConfig returns sensible defaults.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           "nats://localhost:4222",
		Name:          "parley",
		ReconnectWait: 2 * time.Second,
		MaxReconnects: -1,
	}
}

// NewNATSClient connects to NATS with the given config and returns a ready
// client. It returns an error if the initial connection fails; reconnects
// after that are handled automatically.
func NewNATSClient(config NATSConfig) (*NATSClient, error) {
	opts := []nats.Option{
		nats.Name(config.Name),
		nats.ReconnectWait(config.ReconnectWait),
		nats.MaxReconnects(config.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Printf("[nats] disconnected: %v", err)
			} else {
				log.Printf("[nats] disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("[nats] reconnected to %s", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			log.Printf("[nats] connection closed")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	log.Printf("[nats] connected to %s", nc.ConnectedUrl())

	return &NATSClient{
		conn: nc,
		subs: make(map[string]*nats.Subscription),
	}, nil
}

// PublishDelivery publishes a delivery event to the delivery.<userID>
// subject. It implements the router's Publisher interface.
func (c *NATSClient) PublishDelivery(userID string, data []byte) error {
	return c.conn.Publish(SubjectDelivery+"."+userID, data)
}

// SubscribeDeliveries subscribes to delivery events for a user. Called when
// the user's first connection on this server announces itself. Subscribing
// twice for the same user replaces the previous subscription.
func (c *NATSClient) SubscribeDeliveries(userID string, handler func(data []byte)) error {
	subject := SubjectDelivery + "." + userID
	sub, err := c.conn.Subscribe(subject, func(msg *nats.Msg) {
		handler(msg.Data)
	})
	if err != nil {
		return fmt.Errorf("nats subscribe %s: %w", subject, err)
	}

	c.mu.Lock()
	if old, ok := c.subs[userID]; ok {
		_ = old.Unsubscribe()
	}
	c.subs[userID] = sub
	c.mu.Unlock()
	return nil
}

// UnsubscribeDeliveries drops the delivery subscription for a user. Called
// when the user's last connection on this server goes away.
func (c *NATSClient) UnsubscribeDeliveries(userID string) error {
	c.mu.Lock()
	sub, ok := c.subs[userID]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("nats: no delivery subscription for user %s", userID)
	}
	delete(c.subs, userID)
	c.mu.Unlock()

	if err := sub.Unsubscribe(); err != nil {
		return fmt.Errorf("nats unsubscribe delivery for %s: %w", userID, err)
	}
	return nil
}

// Close drains all active subscriptions and closes the NATS connection.
func (c *NATSClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for userID, sub := range c.subs {
		if err := sub.Drain(); err != nil {
			log.Printf("[nats] drain delivery sub for %s: %v", userID, err)
		}
	}
	c.subs = make(map[string]*nats.Subscription)

	if err := c.conn.Drain(); err != nil {
		log.Printf("[nats] connection drain: %v", err)
	}

	log.Printf("[nats] client closed")
}
