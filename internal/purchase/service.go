// Package purchase provides the reconciliation service that converges
// checkout, webhook, and client-poll signals into one consistent ledger row.
package purchase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/teachniche/api/internal/lesson"
)

// Notes recorded on ledger rows to preserve which path created them.
const (
	NoteCheckout     = "created at checkout"
	NoteWebhook      = "created via webhook"
	NoteVerification = "created via client verification"
)

// Service applies the purchase idempotency rules. All three entry points
// (checkout creation, webhook delivery, client polling) funnel through it,
// so whichever path runs first performs the real work and every subsequent
// path observes a no-op.
type Service struct {
	purchases  Repository
	lessons    lesson.Repository
	gateway    Gateway
	feePercent float64
	metrics    *Metrics
	logger     *slog.Logger
}

// NewService creates a new reconciliation service. feePercent is the single
// platform-wide fee rate; every creation path uses it. metrics may be nil.
func NewService(purchases Repository, lessons lesson.Repository, gateway Gateway, feePercent float64, metrics *Metrics, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		purchases:  purchases,
		lessons:    lessons,
		gateway:    gateway,
		feePercent: feePercent,
		metrics:    metrics,
		logger:     logger,
	}
}

// SessionVerification is the outcome of checking a Checkout Session
// against Stripe.
type SessionVerification struct {
	SessionID       string
	Paid            bool
	AmountCents     int64
	LessonID        string
	UserID          string
	PaymentIntentID string
}

// VerifySession retrieves a Checkout Session and extracts the payment
// state plus the lesson/user identifiers. Metadata is consulted first;
// when either ID is missing the client reference ID is parsed as the
// redundant channel.
func (s *Service) VerifySession(ctx context.Context, sessionID string) (*SessionVerification, error) {
	details, err := s.gateway.RetrieveSession(ctx, sessionID, false)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("verify session %s: %w", sessionID, err)
	}

	lessonID, userID := ExtractSessionIdentity(details)

	return &SessionVerification{
		SessionID:       details.ID,
		Paid:            details.Paid(),
		AmountCents:     details.AmountTotalCents,
		LessonID:        lessonID,
		UserID:          userID,
		PaymentIntentID: details.PaymentIntentID,
	}, nil
}

// ExtractSessionIdentity resolves the lesson and user IDs from a session,
// preferring metadata and falling back to the client reference ID.
func ExtractSessionIdentity(details *SessionDetails) (lessonID, userID string) {
	if details.Metadata != nil {
		lessonID = details.Metadata[MetadataLessonID]
		userID = details.Metadata[MetadataUserID]
	}
	if lessonID == "" || userID == "" {
		if l, u, ok := ParseClientReferenceID(details.ClientReferenceID); ok {
			if lessonID == "" {
				lessonID = l
			}
			if userID == "" {
				userID = u
			}
		}
	}
	return lessonID, userID
}

// CreateInput describes a purchase creation request. At least one of
// StripeSessionID and PaymentIntentID must be set.
type CreateInput struct {
	LessonID        string
	UserID          string
	AmountCents     int64 // 0 means use the lesson's canonical price
	StripeSessionID string
	PaymentIntentID string

	// Pending records the provisional checkout-time row instead of a
	// completed confirmation.
	Pending bool

	// FromWebhook marks back-fills created by the webhook fallback path.
	FromWebhook bool
}

var errMissingExternalKey = errors.New("purchase requires a stripe session id or payment intent id")

// CreatePurchase finds-or-creates a purchase row exactly once:
//
//  1. An existing completed purchase for (user, lesson) short-circuits —
//     its ID is returned with no write.
//  2. An existing row matching the session or payment intent ID is
//     completed in place.
//  3. Otherwise a new row is inserted with the fee breakdown computed from
//     the lesson's creator and the configured platform rate.
//
// Racing callers converge: the storage layer's completed-uniqueness
// constraint turns a genuine concurrent double-insert into a re-read of
// the winner's row.
func (s *Service) CreatePurchase(ctx context.Context, in CreateInput) (string, error) {
	if in.LessonID == "" || in.UserID == "" {
		return "", errors.New("lesson id and user id are required")
	}
	if in.StripeSessionID == "" && in.PaymentIntentID == "" {
		return "", errMissingExternalKey
	}

	// Step 1: a completed purchase already exists for this pair.
	latest, err := s.purchases.LatestByUserAndLesson(ctx, in.UserID, in.LessonID)
	if err == nil && latest.Status == StatusCompleted {
		s.logger.InfoContext(ctx, "purchase already completed, skipping create",
			"purchase_id", latest.ID, "lesson_id", in.LessonID, "user_id", in.UserID)
		return latest.ID, nil
	}
	if err != nil && !errors.Is(err, ErrPurchaseNotFound) {
		return "", fmt.Errorf("lookup purchase by user and lesson: %w", err)
	}

	// Step 2: a row keyed by the same external identifier exists. This is
	// the pending record created at checkout time being confirmed now.
	existing, err := s.lookupByExternalKey(ctx, in.StripeSessionID, in.PaymentIntentID)
	if err != nil && !errors.Is(err, ErrPurchaseNotFound) {
		return "", fmt.Errorf("lookup purchase by external key: %w", err)
	}
	if existing != nil {
		if in.Pending || existing.Status == StatusCompleted {
			return existing.ID, nil
		}
		if err := s.purchases.UpdateStatus(ctx, existing.ID, StatusCompleted); err != nil {
			return "", fmt.Errorf("complete pending purchase %s: %w", existing.ID, err)
		}
		s.metrics.IncPurchasesCompleted()
		return existing.ID, nil
	}

	// Step 3: fetch the lesson for the creator and canonical price.
	les, err := s.lessons.GetByID(ctx, in.LessonID)
	if err != nil {
		return "", fmt.Errorf("fetch lesson %s: %w", in.LessonID, err)
	}

	amount := in.AmountCents
	if amount == 0 {
		amount = les.PriceCents
	}
	fee, earnings := FeeBreakdown(amount, s.feePercent)

	status := StatusCompleted
	note := NoteVerification
	if in.Pending {
		status = StatusPending
		note = NoteCheckout
	} else if in.FromWebhook {
		note = NoteWebhook
	}

	p := &Purchase{
		LessonID:             in.LessonID,
		UserID:               in.UserID,
		CreatorID:            les.CreatorID,
		AmountCents:          amount,
		PlatformFeeCents:     fee,
		CreatorEarningsCents: earnings,
		FeePercent:           s.feePercent,
		Status:               status,
		Note:                 note,
	}
	if in.StripeSessionID != "" {
		p.StripeSessionID = &in.StripeSessionID
	}
	if in.PaymentIntentID != "" {
		p.PaymentIntentID = &in.PaymentIntentID
	}

	if err := s.purchases.Insert(ctx, p); err != nil {
		if errors.Is(err, ErrDuplicateCompleted) {
			// Lost a genuine concurrent-insert race; the winner's row is
			// the canonical one.
			winner, lookupErr := s.purchases.LatestByUserAndLesson(ctx, in.UserID, in.LessonID)
			if lookupErr == nil {
				return winner.ID, nil
			}
			return "", fmt.Errorf("resolve duplicate completed purchase: %w", lookupErr)
		}
		return "", fmt.Errorf("insert purchase: %w", err)
	}

	if status == StatusCompleted {
		s.metrics.IncPurchasesCompleted()
	}
	return p.ID, nil
}

// UpdatePurchaseStatus locates a purchase by its Stripe session ID, then
// by payment intent ID, and moves it to the target status. Missing rows
// surface ErrPurchaseNotFound so callers can fall back to a create.
// Repeated calls with the same target, and attempts to regress a terminal
// status to pending or failed, are idempotent no-ops.
func (s *Service) UpdatePurchaseStatus(ctx context.Context, identifier, status string) (string, error) {
	p, err := s.lookupByExternalKey(ctx, identifier, identifier)
	if err != nil {
		return "", err
	}

	if p.Status == status {
		return p.ID, nil
	}
	if Terminal(p.Status) && !Terminal(status) {
		s.logger.WarnContext(ctx, "ignoring status regression",
			"purchase_id", p.ID, "current", p.Status, "requested", status)
		return p.ID, nil
	}

	if err := s.purchases.UpdateStatus(ctx, p.ID, status); err != nil {
		return "", fmt.Errorf("update purchase %s status: %w", p.ID, err)
	}
	if status == StatusCompleted {
		s.metrics.IncPurchasesCompleted()
	}
	return p.ID, nil
}

// ReconcilePending re-checks a user's pending purchases for a lesson
// against Stripe and completes the ones whose sessions show paid. Used by
// the check-purchase entry point when the client has no session ID.
func (s *Service) ReconcilePending(ctx context.Context, userID, lessonID string) error {
	pending, err := s.purchases.PendingByUserAndLesson(ctx, userID, lessonID)
	if err != nil {
		return fmt.Errorf("list pending purchases: %w", err)
	}

	for _, p := range pending {
		if p.StripeSessionID == nil || *p.StripeSessionID == "" {
			continue
		}
		details, err := s.gateway.RetrieveSession(ctx, *p.StripeSessionID, false)
		if err != nil {
			// Best effort: an unreachable or expired session leaves the row
			// pending for the next poll or the webhook.
			s.logger.WarnContext(ctx, "failed to re-check pending session",
				"session_id", *p.StripeSessionID, "error", err)
			continue
		}
		if !details.Paid() {
			continue
		}
		if _, err := s.UpdatePurchaseStatus(ctx, *p.StripeSessionID, StatusCompleted); err != nil {
			return fmt.Errorf("complete pending purchase for session %s: %w", *p.StripeSessionID, err)
		}
	}
	return nil
}

// lookupByExternalKey tries the session ID first, then the payment intent
// ID, mirroring the identifiers external callers can supply.
func (s *Service) lookupByExternalKey(ctx context.Context, sessionID, paymentIntentID string) (*Purchase, error) {
	if sessionID != "" {
		p, err := s.purchases.GetBySessionID(ctx, sessionID)
		if err == nil {
			return p, nil
		}
		if !errors.Is(err, ErrPurchaseNotFound) {
			return nil, err
		}
	}
	if paymentIntentID != "" {
		p, err := s.purchases.GetByPaymentIntentID(ctx, paymentIntentID)
		if err == nil {
			return p, nil
		}
		if !errors.Is(err, ErrPurchaseNotFound) {
			return nil, err
		}
	}
	return nil, ErrPurchaseNotFound
}
