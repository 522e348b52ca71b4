// Package idempotency tracks which firehose events have already been
// applied to the backing stores, so replayed deliveries never
// double-apply their writes.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"
)

var (
	// ErrKeyNotFound is returned when an applied-event key is not found.
	ErrKeyNotFound = errors.New("applied-event key not found")

	// ErrKeyExists is returned when attempting to store a duplicate key.
	ErrKeyExists = errors.New("applied-event key already exists")

	// ErrInvalidKey is returned when the key is empty.
	ErrInvalidKey = errors.New("invalid applied-event key")

	// ErrKeyTooLong is returned when the key exceeds maximum length.
	ErrKeyTooLong = errors.New("applied-event key exceeds maximum length of 64 characters")
)

// MaxKeyLength is the maximum allowed length for an applied-event key.
// EventKey always produces keys of exactly this length.
const MaxKeyLength = 64

// AppliedEvent records a single firehose event that has been applied.
// Kind, Operation and Seq are kept for operator inspection; the Key
// alone decides duplicate suppression.
type AppliedEvent struct {
	Key       string    `json:"key"`
	Kind      string    `json:"kind"`
	Operation string    `json:"operation,omitempty"`
	Seq       int64     `json:"seq"`
	CreatedAt time.Time `json:"created_at"`
}

// ValidateKey checks if an applied-event key is valid.
// Returns ErrInvalidKey if the key is empty.
// Returns ErrKeyTooLong if the key exceeds MaxKeyLength.
func ValidateKey(key string) error {
	if key == "" {
		return ErrInvalidKey
	}
	if len(key) > MaxKeyLength {
		return ErrKeyTooLong
	}
	return nil
}

// EventKey derives a stable key from the identifying parts of an event.
// Parts are joined with a NUL byte before hashing so that distinct part
// lists cannot produce the same key by concatenation.
func EventKey(parts ...string) string {
	h := sha256.New()
	for i, part := range parts {
		if i > 0 {
			h.Write([]byte{0})
		}
		h.Write([]byte(part))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Repository defines methods for applied-event persistence.
type Repository interface {
	// Get retrieves an applied-event record by its key.
	// Returns ErrKeyNotFound if the key doesn't exist.
	Get(ctx context.Context, key string) (*AppliedEvent, error)

	// Store saves a new applied-event record.
	// Returns ErrKeyExists if the key already exists.
	Store(ctx context.Context, record *AppliedEvent) error

	// DeleteOlderThan removes applied-event records older than the given
	// duration and returns how many were removed. This is used by the
	// ingest cleanup job to prevent unbounded storage growth.
	DeleteOlderThan(ctx context.Context, olderThan time.Duration) (int64, error)
}
