// Package api provides HTTP handlers for the Teach Niche API.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/teachniche/api/internal/lesson"
	"github.com/teachniche/api/internal/middleware"
	"github.com/teachniche/api/internal/purchase"
)

// PurchaseHandlers holds dependencies for purchase-related HTTP handlers.
type PurchaseHandlers struct {
	lessonRepo lesson.Repository
	service    *purchase.Service
	gateway    purchase.Gateway
	successURL string
	cancelURL  string
	metrics    *purchase.Metrics
}

// NewPurchaseHandlers creates a new PurchaseHandlers instance.
func NewPurchaseHandlers(
	lessonRepo lesson.Repository,
	service *purchase.Service,
	gateway purchase.Gateway,
	successURL string,
	cancelURL string,
	metrics *purchase.Metrics,
) *PurchaseHandlers {
	return &PurchaseHandlers{
		lessonRepo: lessonRepo,
		service:    service,
		gateway:    gateway,
		successURL: successURL,
		cancelURL:  cancelURL,
		metrics:    metrics,
	}
}

// CreatePurchaseRequest represents the request body for starting a lesson checkout.
type CreatePurchaseRequest struct {
	LessonID   string `json:"lesson_id"`
	PriceCents int64  `json:"price_cents"`
}

// CreatePurchaseResponse represents the response for a successful checkout session creation.
type CreatePurchaseResponse struct {
	SessionID  string `json:"session_id"`
	SessionURL string `json:"session_url"`
}

// CreatePurchase creates a Stripe Checkout Session for a lesson and records
// a provisional pending purchase.
// POST /lessons/purchase
func (h *PurchaseHandlers) CreatePurchase(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID := middleware.GetUserID(ctx)
	if userID == "" {
		ctx = middleware.SetErrorCode(ctx, ErrCodeAuthFailed)
		WriteError(w, ctx, http.StatusUnauthorized, ErrCodeAuthFailed, "authentication required")
		return
	}

	var req CreatePurchaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ctx = middleware.SetErrorCode(ctx, ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "invalid request body")
		return
	}

	if req.LessonID == "" {
		ctx = middleware.SetErrorCode(ctx, ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "lesson_id is required")
		return
	}

	les, err := h.lessonRepo.GetByID(ctx, req.LessonID)
	if err != nil {
		if errors.Is(err, lesson.ErrLessonNotFound) {
			ctx = middleware.SetErrorCode(ctx, ErrCodeLessonNotFound)
			WriteError(w, ctx, http.StatusNotFound, ErrCodeLessonNotFound, "lesson not found")
			return
		}
		slog.ErrorContext(ctx, "failed to get lesson", "lesson_id", req.LessonID, "error", err)
		ctx = middleware.SetErrorCode(ctx, ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "failed to load lesson")
		return
	}

	if les.Free() {
		ctx = middleware.SetErrorCode(ctx, ErrCodeFreeLesson)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeFreeLesson, "free lessons do not require a purchase")
		return
	}
	if les.OwnedBy(userID) {
		ctx = middleware.SetErrorCode(ctx, ErrCodeForbidden)
		WriteError(w, ctx, http.StatusForbidden, ErrCodeForbidden, "creators cannot purchase their own lessons")
		return
	}

	// The client echoes the price it displayed; the lesson's canonical price
	// always governs the charge. A mismatch means the client saw stale data.
	if req.PriceCents != 0 && req.PriceCents != les.PriceCents {
		ctx = middleware.SetErrorCode(ctx, ErrCodeValidation)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, "price does not match the current lesson price")
		return
	}

	sess, err := h.gateway.CreateCheckoutSession(ctx, &purchase.CheckoutParams{
		LessonID:    les.ID,
		LessonTitle: les.Title,
		UserID:      userID,
		PriceCents:  les.PriceCents,
		SuccessURL:  h.successURL,
		CancelURL:   h.cancelURL,
	})
	if err != nil {
		slog.ErrorContext(ctx, "failed to create checkout session", "lesson_id", les.ID, "error", err)
		ctx = middleware.SetErrorCode(ctx, ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "failed to create checkout session")
		return
	}
	h.metrics.IncCheckoutSessionsCreated()

	// Record the provisional pending row. A failure here is not fatal: the
	// webhook and check-purchase paths can back-fill the record later.
	if _, err := h.service.CreatePurchase(ctx, purchase.CreateInput{
		LessonID:        les.ID,
		UserID:          userID,
		AmountCents:     les.PriceCents,
		StripeSessionID: sess.ID,
		Pending:         true,
	}); err != nil {
		slog.ErrorContext(ctx, "failed to record pending purchase", "session_id", sess.ID, "error", err)
	}

	response := CreatePurchaseResponse{
		SessionID:  sess.ID,
		SessionURL: sess.URL,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(response); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

// CheckPurchaseRequest represents the request body for the post-redirect
// purchase check.
type CheckPurchaseRequest struct {
	LessonID  string `json:"lesson_id"`
	SessionID string `json:"session_id,omitempty"`
}

// CheckPurchase verifies a checkout session (when the client carries one back
// from the redirect), reconciles any pending purchases otherwise, and returns
// the caller's current access to the lesson.
// POST /lessons/check-purchase
func (h *PurchaseHandlers) CheckPurchase(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID := middleware.GetUserID(ctx)
	if userID == "" {
		ctx = middleware.SetErrorCode(ctx, ErrCodeAuthFailed)
		WriteError(w, ctx, http.StatusUnauthorized, ErrCodeAuthFailed, "authentication required")
		return
	}

	var req CheckPurchaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ctx = middleware.SetErrorCode(ctx, ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "invalid request body")
		return
	}
	if req.LessonID == "" {
		ctx = middleware.SetErrorCode(ctx, ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "lesson_id is required")
		return
	}

	if req.SessionID != "" {
		verification, err := h.service.VerifySession(ctx, req.SessionID)
		if err != nil {
			if errors.Is(err, purchase.ErrSessionNotFound) {
				ctx = middleware.SetErrorCode(ctx, ErrCodeSessionNotFound)
				WriteError(w, ctx, http.StatusNotFound, ErrCodeSessionNotFound, "checkout session not found")
				return
			}
			slog.ErrorContext(ctx, "failed to verify session", "session_id", req.SessionID, "error", err)
			ctx = middleware.SetErrorCode(ctx, ErrCodeInternal)
			WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "failed to verify checkout session")
			return
		}

		// An unpaid session is not an error: the caller simply does not have
		// access yet, which the access result below reports.
		if verification.Paid {
			lessonID := verification.LessonID
			if lessonID == "" {
				lessonID = req.LessonID
			}
			purchaserID := verification.UserID
			if purchaserID == "" {
				purchaserID = userID
			}
			if _, err := h.service.CreatePurchase(ctx, purchase.CreateInput{
				LessonID:        lessonID,
				UserID:          purchaserID,
				AmountCents:     verification.AmountCents,
				StripeSessionID: verification.SessionID,
				PaymentIntentID: verification.PaymentIntentID,
			}); err != nil {
				slog.ErrorContext(ctx, "failed to record verified purchase", "session_id", req.SessionID, "error", err)
				ctx = middleware.SetErrorCode(ctx, ErrCodeInternal)
				WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "failed to record purchase")
				return
			}
		}
	} else {
		if err := h.service.ReconcilePending(ctx, userID, req.LessonID); err != nil {
			slog.ErrorContext(ctx, "failed to reconcile pending purchases",
				"lesson_id", req.LessonID, "user_id", userID, "error", err)
			ctx = middleware.SetErrorCode(ctx, ErrCodeInternal)
			WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "failed to reconcile purchases")
			return
		}
	}

	access, err := h.service.CheckLessonAccess(ctx, userID, req.LessonID)
	if err != nil {
		if errors.Is(err, lesson.ErrLessonNotFound) {
			ctx = middleware.SetErrorCode(ctx, ErrCodeLessonNotFound)
			WriteError(w, ctx, http.StatusNotFound, ErrCodeLessonNotFound, "lesson not found")
			return
		}
		slog.ErrorContext(ctx, "failed to check lesson access", "lesson_id", req.LessonID, "error", err)
		ctx = middleware.SetErrorCode(ctx, ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "failed to check access")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(access); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

// UpdatePurchaseRequest represents the request body for the client-triggered
// reconciliation fallback.
type UpdatePurchaseRequest struct {
	LessonID        string `json:"lesson_id"`
	SessionID       string `json:"session_id,omitempty"`
	PaymentIntentID string `json:"payment_intent_id,omitempty"`
}

// UpdatePurchaseResponse reports the ledger row the request converged on.
type UpdatePurchaseResponse struct {
	PurchaseID string `json:"purchase_id"`
	Status     string `json:"status"`
}

// UpdatePurchase idempotently ensures a completed purchase exists for the
// supplied Stripe identifier. When no row was ever recorded, the session is
// verified with Stripe first and back-filled only if it shows paid.
// POST /lessons/update-purchase
func (h *PurchaseHandlers) UpdatePurchase(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID := middleware.GetUserID(ctx)
	if userID == "" {
		ctx = middleware.SetErrorCode(ctx, ErrCodeAuthFailed)
		WriteError(w, ctx, http.StatusUnauthorized, ErrCodeAuthFailed, "authentication required")
		return
	}

	var req UpdatePurchaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ctx = middleware.SetErrorCode(ctx, ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "invalid request body")
		return
	}
	if req.LessonID == "" {
		ctx = middleware.SetErrorCode(ctx, ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "lesson_id is required")
		return
	}
	identifier := req.SessionID
	if identifier == "" {
		identifier = req.PaymentIntentID
	}
	if identifier == "" {
		ctx = middleware.SetErrorCode(ctx, ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "session_id or payment_intent_id is required")
		return
	}

	purchaseID, err := h.service.UpdatePurchaseStatus(ctx, identifier, purchase.StatusCompleted)
	if errors.Is(err, purchase.ErrPurchaseNotFound) {
		// The pending row was never persisted. The identifier alone proves
		// nothing; back-fill only what Stripe confirms was paid.
		if req.SessionID == "" {
			// A bare payment intent carries no session to verify against,
			// so without a ledger row there is nothing to complete.
			ctx = middleware.SetErrorCode(ctx, ErrCodePurchaseNotFound)
			WriteError(w, ctx, http.StatusNotFound, ErrCodePurchaseNotFound, "no purchase found for payment intent")
			return
		}

		verification, verifyErr := h.service.VerifySession(ctx, req.SessionID)
		if verifyErr != nil {
			if errors.Is(verifyErr, purchase.ErrSessionNotFound) {
				ctx = middleware.SetErrorCode(ctx, ErrCodeSessionNotFound)
				WriteError(w, ctx, http.StatusNotFound, ErrCodeSessionNotFound, "checkout session not found")
				return
			}
			slog.ErrorContext(ctx, "failed to verify session", "session_id", req.SessionID, "error", verifyErr)
			ctx = middleware.SetErrorCode(ctx, ErrCodeInternal)
			WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "failed to verify checkout session")
			return
		}
		if !verification.Paid {
			ctx = middleware.SetErrorCode(ctx, ErrCodePaymentNotCompleted)
			WriteError(w, ctx, http.StatusBadRequest, ErrCodePaymentNotCompleted, "checkout session has not been paid")
			return
		}

		// Prefer the identity and amount Stripe recorded on the session over
		// anything the client sent.
		lessonID := verification.LessonID
		if lessonID == "" {
			lessonID = req.LessonID
		}
		purchaserID := verification.UserID
		if purchaserID == "" {
			purchaserID = userID
		}
		purchaseID, err = h.service.CreatePurchase(ctx, purchase.CreateInput{
			LessonID:        lessonID,
			UserID:          purchaserID,
			AmountCents:     verification.AmountCents,
			StripeSessionID: verification.SessionID,
			PaymentIntentID: verification.PaymentIntentID,
		})
	}
	if err != nil {
		if errors.Is(err, lesson.ErrLessonNotFound) {
			ctx = middleware.SetErrorCode(ctx, ErrCodeLessonNotFound)
			WriteError(w, ctx, http.StatusNotFound, ErrCodeLessonNotFound, "lesson not found")
			return
		}
		slog.ErrorContext(ctx, "failed to update purchase", "identifier", identifier, "error", err)
		ctx = middleware.SetErrorCode(ctx, ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "failed to update purchase")
		return
	}

	response := UpdatePurchaseResponse{
		PurchaseID: purchaseID,
		Status:     purchase.StatusCompleted,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(response); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}
