package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/teachniche/api/internal/middleware"
	"github.com/teachniche/api/internal/upload"
)

// SignUploadRequest is the body of POST /uploads/sign.
type SignUploadRequest struct {
	ContentType string  `json:"content_type"`
	SizeBytes   int64   `json:"size_bytes"`
	LessonID    *string `json:"lesson_id,omitempty"`
}

// SignUploadResponse carries the pre-signed URL back to the client.
// ExpiresAt is RFC 3339.
type SignUploadResponse struct {
	URL       string `json:"url"`
	Key       string `json:"key"`
	ExpiresAt string `json:"expires_at"`
}

// UploadHandlers serves the upload-signing endpoint.
type UploadHandlers struct {
	uploadService *upload.Service
}

func NewUploadHandlers(uploadService *upload.Service) *UploadHandlers {
	return &UploadHandlers{uploadService: uploadService}
}

// SignUpload handles POST /uploads/sign. Lesson media goes straight to
// object storage, so the API only hands out a short-lived signed URL.
func (h *UploadHandlers) SignUpload(w http.ResponseWriter, r *http.Request) {
	reject := func(status int, code, message string) {
		ctx := middleware.SetErrorCode(r.Context(), code)
		WriteError(w, ctx, status, code, message)
	}

	if middleware.GetUserID(r.Context()) == "" {
		reject(http.StatusUnauthorized, ErrCodeAuthFailed, "authentication required")
		return
	}

	var req SignUploadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		reject(http.StatusBadRequest, ErrCodeBadRequest, "Invalid JSON in request body")
		return
	}
	if req.ContentType == "" {
		reject(http.StatusBadRequest, ErrCodeValidation, "content_type is required")
		return
	}
	if req.SizeBytes <= 0 {
		reject(http.StatusBadRequest, ErrCodeValidation, "size_bytes must be positive")
		return
	}

	signedURL, err := h.uploadService.GenerateSignedURL(r.Context(), upload.SignedURLRequest{
		ContentType: req.ContentType,
		SizeBytes:   req.SizeBytes,
		LessonID:    req.LessonID,
	})
	if err != nil {
		switch {
		case errors.Is(err, upload.ErrUnsupportedType):
			reject(http.StatusBadRequest, ErrCodeUnsupportedType,
				"Unsupported content type. Allowed types: video/mp4, video/quicktime, video/webm, image/jpeg, image/png")
		case errors.Is(err, upload.ErrFileTooLarge):
			reject(http.StatusBadRequest, ErrCodeValidation, "File size exceeds maximum allowed")
		case errors.Is(err, upload.ErrInvalidLessonID):
			reject(http.StatusBadRequest, ErrCodeValidation, "Invalid lesson ID")
		default:
			slog.ErrorContext(r.Context(), "failed to generate signed URL", "error", err)
			reject(http.StatusInternalServerError, ErrCodeInternal, "Failed to generate signed URL")
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(SignUploadResponse{
		URL:       signedURL.URL,
		Key:       signedURL.Key,
		ExpiresAt: signedURL.ExpiresAt.Format(time.RFC3339),
	}); err != nil {
		slog.ErrorContext(r.Context(), "failed to encode response", "error", err)
	}
}
