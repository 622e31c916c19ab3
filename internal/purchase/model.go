// Package purchase provides the purchase ledger, Stripe gateway adapter,
// and reconciliation logic for lesson purchases.
package purchase

import "time"

// Purchase status values. Transitions are forward-only: a completed
// purchase is never moved back to pending or failed.
const (
	StatusPending   = "pending"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusRefunded  = "refunded"
)

// Purchase represents a row in the purchase ledger. A purchase is located
// by its Stripe correlation keys (session ID or payment intent ID), never
// by primary key from external callers, because those are the only
// identifiers Stripe and the client redirect can supply.
type Purchase struct {
	ID                   string     `json:"id"`
	LessonID             string     `json:"lesson_id"`
	UserID               string     `json:"user_id"`
	CreatorID            string     `json:"creator_id"`
	AmountCents          int64      `json:"amount_cents"`           // Gross amount in cents
	PlatformFeeCents     int64      `json:"platform_fee_cents"`     // Platform cut in cents
	CreatorEarningsCents int64      `json:"creator_earnings_cents"` // Amount minus platform fee
	FeePercent           float64    `json:"fee_percent"`            // Rate applied at creation time
	Status               string     `json:"status"`                 // pending, completed, failed, refunded
	StripeSessionID      *string    `json:"stripe_session_id,omitempty"`
	PaymentIntentID      *string    `json:"payment_intent_id,omitempty"`
	Note                 string     `json:"note,omitempty"` // Origin annotation, e.g. "created via webhook"
	CreatedAt            *time.Time `json:"created_at,omitempty"`
	UpdatedAt            *time.Time `json:"updated_at,omitempty"`
}

// HasExternalKey reports whether the purchase carries at least one Stripe
// correlation key. Every ledger row must satisfy this.
func (p *Purchase) HasExternalKey() bool {
	return (p.StripeSessionID != nil && *p.StripeSessionID != "") ||
		(p.PaymentIntentID != nil && *p.PaymentIntentID != "")
}

// Terminal reports whether the status is one no-regression applies to.
func Terminal(status string) bool {
	return status == StatusCompleted || status == StatusRefunded
}

// FeeBreakdown computes the platform fee and creator earnings for a gross
// amount in cents at the given percentage rate. The fee is rounded
// half-up to the nearest cent; creator earnings absorb the remainder so
// that fee + earnings always equals the amount.
func FeeBreakdown(amountCents int64, feePercent float64) (feeCents, earningsCents int64) {
	feeCents = int64(float64(amountCents)*feePercent/100.0 + 0.5)
	return feeCents, amountCents - feeCents
}
