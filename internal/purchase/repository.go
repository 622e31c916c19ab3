// Package purchase provides repository implementations for the purchase ledger.
package purchase

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrPurchaseNotFound is returned when no ledger row matches the lookup.
// Callers in the webhook and update-purchase flows treat this as "create
// instead of update", not as a failure.
var ErrPurchaseNotFound = errors.New("purchase not found")

// ErrDuplicateCompleted is returned when inserting a second completed
// purchase for the same (user, lesson) pair.
var ErrDuplicateCompleted = errors.New("completed purchase already exists for user and lesson")

// Repository defines persistence for purchase ledger rows.
type Repository interface {
	// Insert adds a new row. Generates the ID and timestamps when unset.
	Insert(ctx context.Context, p *Purchase) error

	// LatestByUserAndLesson returns the most recent purchase for the pair,
	// or ErrPurchaseNotFound.
	LatestByUserAndLesson(ctx context.Context, userID, lessonID string) (*Purchase, error)

	// GetBySessionID returns the purchase with the given Stripe Checkout
	// Session ID, or ErrPurchaseNotFound.
	GetBySessionID(ctx context.Context, sessionID string) (*Purchase, error)

	// GetByPaymentIntentID returns the purchase with the given Stripe
	// PaymentIntent ID, or ErrPurchaseNotFound.
	GetByPaymentIntentID(ctx context.Context, paymentIntentID string) (*Purchase, error)

	// PendingByUserAndLesson returns all pending purchases for the pair,
	// most recent first. An empty slice is not an error.
	PendingByUserAndLesson(ctx context.Context, userID, lessonID string) ([]*Purchase, error)

	// UpdateStatus sets the status and refreshes updated_at.
	// Returns ErrPurchaseNotFound if the row does not exist.
	UpdateStatus(ctx context.Context, id, status string) error
}

// InMemoryRepository implements Repository with in-memory storage.
type InMemoryRepository struct {
	mu        sync.RWMutex
	purchases map[string]*Purchase
}

// NewInMemoryRepository creates a new in-memory purchase repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		purchases: make(map[string]*Purchase),
	}
}

// Insert adds a new purchase row.
func (r *InMemoryRepository) Insert(_ context.Context, p *Purchase) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Mirror the partial unique index the Postgres schema enforces.
	if p.Status == StatusCompleted {
		for _, existing := range r.purchases {
			if existing.UserID == p.UserID && existing.LessonID == p.LessonID && existing.Status == StatusCompleted {
				return ErrDuplicateCompleted
			}
		}
	}

	if p.ID == "" {
		p.ID = uuid.New().String()
	}

	now := time.Now()
	if p.CreatedAt == nil {
		p.CreatedAt = &now
	}
	if p.UpdatedAt == nil {
		p.UpdatedAt = &now
	}

	// Deep copy to prevent external mutation
	copied := *p
	r.purchases[p.ID] = &copied

	return nil
}

// LatestByUserAndLesson returns the most recent purchase for the pair.
func (r *InMemoryRepository) LatestByUserAndLesson(_ context.Context, userID, lessonID string) (*Purchase, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var latest *Purchase
	for _, p := range r.purchases {
		if p.UserID != userID || p.LessonID != lessonID {
			continue
		}
		if latest == nil || after(p.CreatedAt, latest.CreatedAt) {
			latest = p
		}
	}
	if latest == nil {
		return nil, ErrPurchaseNotFound
	}

	copied := *latest
	return &copied, nil
}

// GetBySessionID returns the purchase with the given session ID.
func (r *InMemoryRepository) GetBySessionID(_ context.Context, sessionID string) (*Purchase, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, p := range r.purchases {
		if p.StripeSessionID != nil && *p.StripeSessionID == sessionID {
			copied := *p
			return &copied, nil
		}
	}
	return nil, ErrPurchaseNotFound
}

// GetByPaymentIntentID returns the purchase with the given payment intent ID.
func (r *InMemoryRepository) GetByPaymentIntentID(_ context.Context, paymentIntentID string) (*Purchase, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, p := range r.purchases {
		if p.PaymentIntentID != nil && *p.PaymentIntentID == paymentIntentID {
			copied := *p
			return &copied, nil
		}
	}
	return nil, ErrPurchaseNotFound
}

// PendingByUserAndLesson returns pending purchases for the pair, most recent first.
func (r *InMemoryRepository) PendingByUserAndLesson(_ context.Context, userID, lessonID string) ([]*Purchase, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var pending []*Purchase
	for _, p := range r.purchases {
		if p.UserID == userID && p.LessonID == lessonID && p.Status == StatusPending {
			copied := *p
			pending = append(pending, &copied)
		}
	}

	sort.Slice(pending, func(i, j int) bool {
		return after(pending[i].CreatedAt, pending[j].CreatedAt)
	})
	return pending, nil
}

// UpdateStatus sets the status and refreshes updated_at.
func (r *InMemoryRepository) UpdateStatus(_ context.Context, id, status string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.purchases[id]
	if !ok {
		return ErrPurchaseNotFound
	}

	now := time.Now()
	p.Status = status
	p.UpdatedAt = &now

	return nil
}

// Count returns the number of stored rows. Test helper.
func (r *InMemoryRepository) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.purchases)
}

func after(a, b *time.Time) bool {
	if a == nil {
		return false
	}
	if b == nil {
		return true
	}
	return a.After(*b)
}
