// Package purchase provides the lesson access resolver.
package purchase

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// AccessStatusNone marks access decided without a ledger row (free lesson,
// owner, or no purchase at all).
const AccessStatusNone = "none"

// AccessResult reports whether a user can watch a lesson and why.
type AccessResult struct {
	HasAccess      bool       `json:"has_access"`
	PurchaseStatus string     `json:"purchase_status"`
	PurchaseDate   *time.Time `json:"purchase_date,omitempty"`
}

// CheckLessonAccess determines access for a (user, lesson) pair. Free
// lessons and the lesson's own creator are granted without touching the
// ledger; everyone else is decided by their most recent purchase. The
// resolver is read-only and never mutates the ledger.
func (s *Service) CheckLessonAccess(ctx context.Context, userID, lessonID string) (*AccessResult, error) {
	les, err := s.lessons.GetByID(ctx, lessonID)
	if err != nil {
		return nil, err
	}

	if les.Free() || les.OwnedBy(userID) {
		return &AccessResult{HasAccess: true, PurchaseStatus: AccessStatusNone}, nil
	}

	latest, err := s.purchases.LatestByUserAndLesson(ctx, userID, lessonID)
	if errors.Is(err, ErrPurchaseNotFound) {
		return &AccessResult{HasAccess: false, PurchaseStatus: AccessStatusNone}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup latest purchase: %w", err)
	}

	result := &AccessResult{
		HasAccess:      latest.Status == StatusCompleted,
		PurchaseStatus: latest.Status,
	}
	if result.HasAccess {
		result.PurchaseDate = latest.CreatedAt
	}
	return result, nil
}
