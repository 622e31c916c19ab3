package idempotency

import (
	"sync"
	"time"
)

// InMemoryRepository keeps idempotency keys in a mutex-guarded map. It is
// the default store when no external backend is configured and the store
// used throughout the test suite.
type InMemoryRepository struct {
	mu   sync.RWMutex
	keys map[string]*IdempotencyKey
}

func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{keys: make(map[string]*IdempotencyKey)}
}

// Get returns the record for key, or ErrKeyNotFound. The caller receives
// a private copy so later mutation cannot leak into the store.
func (r *InMemoryRepository) Get(key string) (*IdempotencyKey, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	record, ok := r.keys[key]
	if !ok {
		return nil, ErrKeyNotFound
	}
	return cloneRecord(record), nil
}

// Store validates and saves a new record. A duplicate key yields
// ErrKeyExists; a zero CreatedAt is stamped with the current time.
func (r *InMemoryRepository) Store(record *IdempotencyKey) error {
	if err := ValidateKey(record.Key); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.keys[record.Key]; exists {
		return ErrKeyExists
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now()
	}

	// The map holds its own copy so the caller's struct stays detached.
	r.keys[record.Key] = cloneRecord(record)
	return nil
}

// DeleteOlderThan removes every record created before now minus duration
// and reports the count.
func (r *InMemoryRepository) DeleteOlderThan(duration time.Duration) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := time.Now().Add(-duration)
	var deleted int64
	for key, record := range r.keys {
		if record.CreatedAt.Before(cutoff) {
			delete(r.keys, key)
			deleted++
		}
	}
	return deleted, nil
}

// cloneRecord deep-copies a record, including the optional purchase ID.
func cloneRecord(record *IdempotencyKey) *IdempotencyKey {
	if record == nil {
		return nil
	}

	copied := *record
	if record.PurchaseID != nil {
		id := *record.PurchaseID
		copied.PurchaseID = &id
	}
	return &copied
}
