package chat

import (
	"context"
	"database/sql"
)

// Store persists messages in PostgreSQL. A conversation is not a stored
// entity; history is queried by the unordered {userA, userB} pair, so
// History(a, b) and History(b, a) return the same rows.
type Store struct {
	db *sql.DB
}

// NewStore creates a message store backed by the given database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Append inserts a message and returns it with the store-assigned id and
// timestamp. The insert either fully succeeds or fails with a StorageError;
// callers must not assume partial success.
func (s *Store) Append(ctx context.Context, senderID, recipientID, body string) (*Message, error) {
	const query = `
		INSERT INTO messages (sender_id, recipient_id, body)
		VALUES ($1, $2, $3)
		RETURNING id, created_at`

	msg := &Message{
		SenderID:    senderID,
		RecipientID: recipientID,
		Body:        body,
	}
	err := s.db.QueryRowContext(ctx, query, senderID, recipientID, body).
		Scan(&msg.ID, &msg.CreatedAt)
	if err != nil {
		return nil, &StorageError{Op: "append", Err: err}
	}
	return msg, nil
}

// History returns every message exchanged between userA and userB in
// ascending creation order. The pair is unordered: both directions of the
// conversation are included regardless of argument order.
func (s *Store) History(ctx context.Context, userA, userB string) ([]Message, error) {
	return s.HistorySince(ctx, userA, userB, 0)
}

// HistorySince returns the messages between userA and userB with id greater
// than afterID, in ascending creation order. It is the catch-up query for a
// client reconciling missed deliveries after a reconnect; afterID 0 returns
// the full history.
func (s *Store) HistorySince(ctx context.Context, userA, userB string, afterID int64) ([]Message, error) {
	const query = `
		SELECT id, sender_id, recipient_id, body, created_at
		FROM messages
		WHERE ((sender_id = $1 AND recipient_id = $2)
		   OR (sender_id = $2 AND recipient_id = $1))
		  AND id > $3
		ORDER BY id ASC`

	rows, err := s.db.QueryContext(ctx, query, userA, userB, afterID)
	if err != nil {
		return nil, &StorageError{Op: "history", Err: err}
	}
	defer rows.Close()

	msgs := make([]Message, 0)
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.SenderID, &m.RecipientID, &m.Body, &m.CreatedAt); err != nil {
			return nil, &StorageError{Op: "history", Err: err}
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, &StorageError{Op: "history", Err: err}
	}
	return msgs, nil
}
