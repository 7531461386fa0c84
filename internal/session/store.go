// Package session mirrors per-connection state into Redis. The in-memory
// presence registry is authoritative for routing; the Redis mirror gives
// operators a cross-instance view of live connections and records which
// server instance holds each one.
package session

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// ConnPrefix is the Redis key prefix for connection hashes.
	ConnPrefix = "conn:"

	// ConnTTL is the time-to-live for connection keys. The heartbeat
	// refreshes it; a crashed server's keys age out on their own.
	ConnTTL = 1 * time.Hour

	// Connection lifecycle states.
	StatusPending   = "pending"   // upgraded, not yet announced
	StatusAnnounced = "announced" // bound to a user identity
)

// Session is the Redis-mirrored state of one connection.
type Session struct {
	ID          string `redis:"id"`
	UserID      string `redis:"user_id"` // empty until announced
	Status      string `redis:"status"`  // pending | announced
	Server      string `redis:"server"`  // which server instance holds it
	ConnectedAt int64  `redis:"connected_at"`
	LastActive  int64  `redis:"last_active"`
}

// Store manages connection state in Redis.
type Store struct {
	client     *redis.Client
	serverName string
}

// NewStore creates a session store connected to Redis.
func NewStore(redisAddr string, serverName string) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr: redisAddr,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("session: redis connection failed: %w", err)
	}

	return &Store{client: client, serverName: serverName}, nil
}

// Create records a freshly upgraded connection in pending state.
func (s *Store) Create(ctx context.Context, connID string) error {
	key := ConnPrefix + connID
	now := time.Now().Unix()

	pipe := s.client.Pipeline()
	pipe.HSet(ctx, key, map[string]interface{}{
		"id":           connID,
		"user_id":      "",
		"status":       StatusPending,
		"server":       s.serverName,
		"connected_at": now,
		"last_active":  now,
	})
	pipe.Expire(ctx, key, ConnTTL)
	_, err := pipe.Exec(ctx)
	return err
}

// Announce binds a connection to a user identity and marks it announced.
// The binding never changes for the life of the connection.
func (s *Store) Announce(ctx context.Context, connID, userID string) error {
	key := ConnPrefix + connID
	pipe := s.client.Pipeline()
	pipe.HSet(ctx, key, "user_id", userID, "status", StatusAnnounced, "last_active", time.Now().Unix())
	pipe.Expire(ctx, key, ConnTTL)
	_, err := pipe.Exec(ctx)
	return err
}

// Get retrieves a connection's mirrored state. Returns nil if not found.
func (s *Store) Get(ctx context.Context, connID string) (*Session, error) {
	key := ConnPrefix + connID
	var sess Session
	err := s.client.HGetAll(ctx, key).Scan(&sess)
	if err != nil {
		return nil, err
	}
	if sess.ID == "" {
		return nil, nil // not found
	}
	return &sess, nil
}

// Touch refreshes the TTL and last-active timestamp. Called from the
// heartbeat path so live connections never age out of the mirror.
func (s *Store) Touch(ctx context.Context, connID string) error {
	key := ConnPrefix + connID
	pipe := s.client.Pipeline()
	pipe.HSet(ctx, key, "last_active", time.Now().Unix())
	pipe.Expire(ctx, key, ConnTTL)
	_, err := pipe.Exec(ctx)
	return err
}

// Delete removes a connection from the mirror.
func (s *Store) Delete(ctx context.Context, connID string) error {
	return s.client.Del(ctx, ConnPrefix+connID).Err()
}

// Close closes the Redis connection.
func (s *Store) Close() error {
	return s.client.Close()
}

// Client returns the underlying Redis client for use by other packages
// (the rate limiter shares this connection).
func (s *Store) Client() *redis.Client {
	return s.client
}
