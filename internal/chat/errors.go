package chat

import "fmt"

// ValidationError indicates a message was rejected by local content policy
// (empty after trimming, oversized, or malformed) before reaching the store.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "chat: invalid message: " + e.Reason
}

// StorageError indicates the persistence layer failed. A send that returns
// a StorageError left no partial state behind: the message was not stored
// and was not delivered.
type StorageError struct {
	Op  string // "append", "history"
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("chat: storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}
