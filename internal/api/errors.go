// Package api provides HTTP API utilities including standardized error handling.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/teachniche/api/internal/middleware"
)

// Error codes shared across handlers. Generic codes first, then the
// purchase-flow specific ones.
const (
	ErrCodeValidation  = "validation_error"
	ErrCodeAuthFailed  = "auth_failed"
	ErrCodeNotFound    = "not_found"
	ErrCodeRateLimited = "rate_limited"
	ErrCodeInternal    = "internal_error"
	ErrCodeForbidden   = "forbidden"
	ErrCodeConflict    = "conflict"
	ErrCodeBadRequest  = "bad_request"

	ErrCodeLessonNotFound   = "lesson_not_found"
	ErrCodePurchaseNotFound = "purchase_not_found"
	// ErrCodeSessionNotFound means Stripe has no checkout session with
	// the given ID.
	ErrCodeSessionNotFound = "session_not_found"
	// ErrCodePaymentNotCompleted means the session exists but is not
	// paid yet.
	ErrCodePaymentNotCompleted = "payment_not_completed"
	// ErrCodeFreeLesson flags a checkout attempt on a lesson with no
	// price.
	ErrCodeFreeLesson      = "free_lesson"
	ErrCodeUnsupportedType = "unsupported_type"
)

// ErrorResponse is the envelope every API error uses:
// {"error": {"code": "...", "message": "..."}}
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail carries the machine-readable code and a human-readable
// message.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WriteError sends the standard JSON error envelope with the given
// status. Call middleware.SetErrorCode on the context first so the
// access log picks up the code:
//
//	ctx := middleware.SetErrorCode(r.Context(), api.ErrCodeNotFound)
//	WriteError(w, ctx, http.StatusNotFound, api.ErrCodeNotFound, "Lesson not found")
func WriteError(w http.ResponseWriter, ctx context.Context, status int, code, message string) {
	middleware.UpdateResponseContext(w, ctx)

	data, err := json.Marshal(ErrorResponse{
		Error: ErrorDetail{Code: code, Message: message},
	})
	if err != nil {
		slog.ErrorContext(ctx, "failed to marshal error response", "error", err)
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("Internal server error"))
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if _, err := w.Write(data); err != nil {
		slog.ErrorContext(ctx, "failed to write error response", "error", err)
	}
}

// StatusCodeMapping returns the HTTP status conventionally paired
// with an error code. Unknown codes map to 500.
func StatusCodeMapping(code string) int {
	switch code {
	case ErrCodeValidation, ErrCodeBadRequest, ErrCodePaymentNotCompleted, ErrCodeFreeLesson:
		return http.StatusBadRequest
	case ErrCodeAuthFailed:
		return http.StatusUnauthorized
	case ErrCodeForbidden:
		return http.StatusForbidden
	case ErrCodeNotFound, ErrCodeLessonNotFound, ErrCodePurchaseNotFound, ErrCodeSessionNotFound:
		return http.StatusNotFound
	case ErrCodeConflict:
		return http.StatusConflict
	case ErrCodeRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
