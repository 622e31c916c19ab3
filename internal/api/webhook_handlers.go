package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/webhook"

	"github.com/teachniche/api/internal/lesson"
	"github.com/teachniche/api/internal/middleware"
	"github.com/teachniche/api/internal/purchase"
	"github.com/teachniche/api/internal/user"
	"github.com/teachniche/api/internal/validate"
)

// WebhookHandlers holds dependencies for webhook-related HTTP handlers.
type WebhookHandlers struct {
	webhookSecret string
	service       *purchase.Service
	gateway       purchase.Gateway
	webhookRepo   purchase.WebhookRepository
	lessonRepo    lesson.Repository
	userRepo      user.Repository
	metrics       *purchase.Metrics
}

// NewWebhookHandlers creates a new WebhookHandlers instance.
func NewWebhookHandlers(
	webhookSecret string,
	service *purchase.Service,
	gateway purchase.Gateway,
	webhookRepo purchase.WebhookRepository,
	lessonRepo lesson.Repository,
	userRepo user.Repository,
	metrics *purchase.Metrics,
) *WebhookHandlers {
	return &WebhookHandlers{
		webhookSecret: webhookSecret,
		service:       service,
		gateway:       gateway,
		webhookRepo:   webhookRepo,
		lessonRepo:    lessonRepo,
		userRepo:      userRepo,
		metrics:       metrics,
	}
}

// HandleStripeWebhook processes Stripe webhook events with signature verification.
// Every handled or ignored event is acknowledged with 200 so Stripe stops
// retrying; only a bad signature or an unrecoverable internal failure returns
// a non-200.
// POST /webhooks/stripe
func (h *WebhookHandlers) HandleStripeWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	body, err := io.ReadAll(r.Body)
	if err != nil {
		ctx = middleware.SetErrorCode(ctx, ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "failed to read request body")
		return
	}

	signature := r.Header.Get("Stripe-Signature")
	if signature == "" {
		ctx = middleware.SetErrorCode(ctx, ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "missing Stripe-Signature header")
		return
	}

	event, err := webhook.ConstructEvent(body, signature, h.webhookSecret)
	if err != nil {
		slog.WarnContext(ctx, "webhook signature verification failed", "error", err)
		ctx = middleware.SetErrorCode(ctx, ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "invalid signature")
		return
	}

	// Log minimal event info (type and ID only, not full payload)
	slog.InfoContext(ctx, "webhook event received", "event_type", event.Type, "event_id", event.ID)

	processed, err := h.webhookRepo.HasProcessed(ctx, event.ID)
	if err != nil {
		slog.ErrorContext(ctx, "failed to check webhook event", "event_id", event.ID, "error", err)
		ctx = middleware.SetErrorCode(ctx, ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "failed to process webhook")
		return
	}
	if processed {
		slog.InfoContext(ctx, "webhook event already processed, ignoring", "event_id", event.ID)
		h.metrics.IncWebhookEvent(string(event.Type), "duplicate")
		w.WriteHeader(http.StatusOK)
		return
	}

	switch event.Type {
	case "checkout.session.completed":
		if err := h.handleCheckoutSessionCompleted(ctx, event); err != nil {
			slog.ErrorContext(ctx, "failed to process checkout completion",
				"event_id", event.ID, "error", err)
			h.metrics.IncWebhookEvent(string(event.Type), "error")
			ctx = middleware.SetErrorCode(ctx, ErrCodeInternal)
			WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "failed to process webhook")
			return
		}
		h.metrics.IncWebhookEvent(string(event.Type), "processed")
	default:
		slog.InfoContext(ctx, "ignoring unhandled webhook event type", "event_type", event.Type, "event_id", event.ID)
		h.metrics.IncWebhookEvent(string(event.Type), "ignored")
	}

	// Record the event only after successful processing so a failed delivery
	// is retried by Stripe instead of being swallowed as a duplicate.
	if err := h.webhookRepo.RecordEvent(ctx, event.ID, string(event.Type)); err != nil {
		if !errors.Is(err, purchase.ErrEventAlreadyProcessed) {
			slog.ErrorContext(ctx, "failed to record webhook event", "event_id", event.ID, "error", err)
		}
	}

	w.WriteHeader(http.StatusOK)
}

// handleCheckoutSessionCompleted converges a completed checkout session into
// exactly one completed ledger row: update the pending row if it exists,
// back-fill a completed row if it never did. Returns an error only for
// failures worth a Stripe retry; an unresolvable event is logged and dropped.
func (h *WebhookHandlers) handleCheckoutSessionCompleted(ctx context.Context, event stripe.Event) error {
	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		// A malformed payload will not improve on retry.
		slog.ErrorContext(ctx, "failed to parse checkout session", "event_id", event.ID, "error", err)
		return nil
	}

	details := &purchase.SessionDetails{
		ID:                session.ID,
		Metadata:          session.Metadata,
		ClientReferenceID: session.ClientReferenceID,
	}
	lessonID, userID := purchase.ExtractSessionIdentity(details)

	if lessonID == "" || userID == "" {
		resolvedLesson, resolvedUser, err := h.resolveFromExpandedSession(ctx, session.ID)
		if err != nil {
			slog.WarnContext(ctx, "failed to resolve session identity",
				"session_id", session.ID, "event_id", event.ID, "error", err)
		}
		if lessonID == "" {
			lessonID = resolvedLesson
		}
		if userID == "" {
			userID = resolvedUser
		}
	}

	paymentIntentID := ""
	if session.PaymentIntent != nil {
		paymentIntentID = session.PaymentIntent.ID
	}

	_, err := h.service.UpdatePurchaseStatus(ctx, session.ID, purchase.StatusCompleted)
	if err == nil {
		slog.InfoContext(ctx, "purchase completed via webhook", "session_id", session.ID)
		return nil
	}
	if !errors.Is(err, purchase.ErrPurchaseNotFound) {
		return err
	}

	// No row exists yet: the webhook beat the checkout-time insert. Back-fill
	// a completed record, which needs a resolved lesson and user.
	if lessonID == "" || userID == "" {
		slog.WarnContext(ctx, "webhook event unresolved, dropping",
			"session_id", session.ID, "event_id", event.ID,
			"lesson_id", lessonID, "user_id", userID)
		h.metrics.IncWebhookUnresolved()
		return nil
	}

	purchaseID, err := h.service.CreatePurchase(ctx, purchase.CreateInput{
		LessonID:        lessonID,
		UserID:          userID,
		AmountCents:     session.AmountTotal,
		StripeSessionID: session.ID,
		PaymentIntentID: paymentIntentID,
		FromWebhook:     true,
	})
	if err != nil {
		return err
	}
	h.metrics.IncWebhookFallbackCreates()
	slog.InfoContext(ctx, "purchase back-filled via webhook",
		"session_id", session.ID, "purchase_id", purchaseID)
	return nil
}

// resolveFromExpandedSession is the last-resort identity path for sessions
// carrying neither metadata nor a client reference ID: the lesson is matched
// by its title in the line-item description and the user by the customer
// email. Best effort; either side may come back empty.
func (h *WebhookHandlers) resolveFromExpandedSession(ctx context.Context, sessionID string) (lessonID, userID string, err error) {
	details, err := h.gateway.RetrieveSession(ctx, sessionID, true)
	if err != nil {
		return "", "", err
	}

	for _, desc := range details.LineItemDescriptions {
		title, found := strings.CutPrefix(desc, purchase.LessonDescriptionPrefix)
		if !found {
			continue
		}
		title, verr := validate.LessonTitle(title)
		if verr != nil {
			continue
		}
		les, err := h.lessonRepo.GetByTitle(ctx, title)
		if err != nil {
			if errors.Is(err, lesson.ErrLessonNotFound) {
				continue
			}
			return "", "", err
		}
		lessonID = les.ID
		break
	}

	if email, verr := validate.Email(details.CustomerEmail); verr == nil {
		u, err := h.userRepo.FindByEmail(ctx, email)
		if err == nil {
			userID = u.ID
		} else if !errors.Is(err, user.ErrUserNotFound) {
			return lessonID, "", err
		}
	}

	return lessonID, userID, nil
}
