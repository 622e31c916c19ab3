// Package lesson provides models and persistence for video lessons.
package lesson

import "time"

// Lesson represents a creator's video lesson. Only the fields the
// purchase core reads are modeled here; presentation data lives with the
// frontend.
type Lesson struct {
	ID            string     `json:"id"`
	CreatorID     string     `json:"creator_id"`
	Title         string     `json:"title"`
	Description   string     `json:"description,omitempty"`
	PriceCents    int64      `json:"price_cents"` // 0 means universally free
	MuxPlaybackID *string    `json:"mux_playback_id,omitempty"`
	CreatedAt     *time.Time `json:"created_at,omitempty"`
	UpdatedAt     *time.Time `json:"updated_at,omitempty"`
}

// Free reports whether the lesson is accessible without a purchase.
func (l *Lesson) Free() bool {
	return l.PriceCents == 0
}

// OwnedBy reports whether the given user created the lesson.
func (l *Lesson) OwnedBy(userID string) bool {
	return l.CreatorID == userID
}
