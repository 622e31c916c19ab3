// Package idempotency stores request fingerprints so retried purchase
// calls replay their original response instead of running twice.
package idempotency

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"
)

// MaxKeyLength caps client-supplied idempotency keys.
const MaxKeyLength = 64

// Key lifecycle states. StatusCompleted is the only state written today;
// StatusProcessing is reserved for marking a request in-flight once
// concurrent retries need to block instead of racing.
const (
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
)

var (
	ErrKeyNotFound = errors.New("idempotency key not found")
	ErrKeyExists   = errors.New("idempotency key already exists")
	ErrInvalidKey  = errors.New("invalid idempotency key")
	ErrKeyTooLong  = errors.New("idempotency key exceeds maximum length of 64 characters")
)

// IdempotencyKey is one stored key together with the response it caches.
type IdempotencyKey struct {
	Key                string    `json:"key"`
	Method             string    `json:"method"`
	Route              string    `json:"route"`
	CreatedAt          time.Time `json:"created_at"`
	PurchaseID         *string   `json:"purchase_id,omitempty"`
	ResponseHash       string    `json:"response_hash"`
	Status             string    `json:"status"`
	ResponseBody       string    `json:"response_body"`
	ResponseStatusCode int       `json:"response_status_code"`
}

// ValidateKey rejects empty keys (ErrInvalidKey) and keys longer than
// MaxKeyLength (ErrKeyTooLong).
func ValidateKey(key string) error {
	switch {
	case key == "":
		return ErrInvalidKey
	case len(key) > MaxKeyLength:
		return ErrKeyTooLong
	}
	return nil
}

// ComputeResponseHash returns the hex SHA-256 digest of a response body,
// letting replays verify the cached payload was not corrupted.
func ComputeResponseHash(responseBody string) string {
	sum := sha256.Sum256([]byte(responseBody))
	return hex.EncodeToString(sum[:])
}

// Repository persists idempotency keys.
type Repository interface {
	// Get returns the record for key, or ErrKeyNotFound.
	Get(key string) (*IdempotencyKey, error)

	// Store saves a new record, or returns ErrKeyExists on a duplicate key.
	Store(record *IdempotencyKey) error

	// DeleteOlderThan drops records created before now minus duration and
	// reports how many were removed. Cleanup jobs use it to bound growth.
	DeleteOlderThan(duration time.Duration) (int64, error)
}
