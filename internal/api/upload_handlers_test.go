package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/teachniche/api/internal/middleware"
	"github.com/teachniche/api/internal/upload"
)

func newTestUploadHandlers(t *testing.T) *UploadHandlers {
	t.Helper()
	// Presigning is a local computation, so a real service with dummy
	// credentials works in tests without network access.
	svc, err := upload.NewService(upload.ServiceConfig{
		BucketName:      "test-bucket",
		AccessKeyID:     "test-access-key",
		SecretAccessKey: "test-secret-key",
		Endpoint:        "http://localhost:9000",
		MaxSizeMB:       500,
	})
	if err != nil {
		t.Fatalf("failed to create upload service: %v", err)
	}
	return NewUploadHandlers(svc)
}

func signUploadRequest(body any, userID string) *http.Request {
	var buf bytes.Buffer
	_ = json.NewEncoder(&buf).Encode(body)
	req := httptest.NewRequest(http.MethodPost, "/uploads/sign", &buf)
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		req = req.WithContext(middleware.SetUserID(req.Context(), userID))
	}
	return req
}

func TestSignUpload_Success(t *testing.T) {
	handlers := newTestUploadHandlers(t)

	lessonID := "lesson-1"
	req := signUploadRequest(SignUploadRequest{
		ContentType: "video/mp4",
		SizeBytes:   10 * 1024 * 1024,
		LessonID:    &lessonID,
	}, "user-1")
	w := httptest.NewRecorder()
	handlers.SignUpload(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp SignUploadResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.URL == "" {
		t.Error("expected url to be set")
	}
	if !strings.HasPrefix(resp.Key, "lessons/lesson-1/") {
		t.Errorf("expected key under lessons/lesson-1/, got %s", resp.Key)
	}
	if !strings.HasSuffix(resp.Key, ".mp4") {
		t.Errorf("expected .mp4 key, got %s", resp.Key)
	}
	if _, err := time.Parse(time.RFC3339, resp.ExpiresAt); err != nil {
		t.Errorf("expected RFC3339 expires_at, got %s: %v", resp.ExpiresAt, err)
	}
}

func TestSignUpload_Unauthorized(t *testing.T) {
	handlers := newTestUploadHandlers(t)

	req := signUploadRequest(SignUploadRequest{
		ContentType: "video/mp4",
		SizeBytes:   1024,
	}, "")
	w := httptest.NewRecorder()
	handlers.SignUpload(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected status 401, got %d", w.Code)
	}
}

func TestSignUpload_InvalidJSON(t *testing.T) {
	handlers := newTestUploadHandlers(t)

	req := httptest.NewRequest(http.MethodPost, "/uploads/sign", bytes.NewReader([]byte("{not json")))
	req = req.WithContext(middleware.SetUserID(req.Context(), "user-1"))
	w := httptest.NewRecorder()
	handlers.SignUpload(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", w.Code)
	}
}

func TestSignUpload_MissingContentType(t *testing.T) {
	handlers := newTestUploadHandlers(t)

	req := signUploadRequest(SignUploadRequest{SizeBytes: 1024}, "user-1")
	w := httptest.NewRecorder()
	handlers.SignUpload(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", w.Code)
	}
}

func TestSignUpload_NonPositiveSize(t *testing.T) {
	handlers := newTestUploadHandlers(t)

	req := signUploadRequest(SignUploadRequest{
		ContentType: "video/mp4",
		SizeBytes:   0,
	}, "user-1")
	w := httptest.NewRecorder()
	handlers.SignUpload(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", w.Code)
	}
}

func TestSignUpload_UnsupportedType(t *testing.T) {
	handlers := newTestUploadHandlers(t)

	req := signUploadRequest(SignUploadRequest{
		ContentType: "application/pdf",
		SizeBytes:   1024,
	}, "user-1")
	w := httptest.NewRecorder()
	handlers.SignUpload(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", w.Code)
	}

	var resp ErrorResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode error response: %v", err)
	}
	if resp.Error.Code != ErrCodeUnsupportedType {
		t.Errorf("expected error code %s, got %s", ErrCodeUnsupportedType, resp.Error.Code)
	}
}

func TestSignUpload_FileTooLarge(t *testing.T) {
	handlers := newTestUploadHandlers(t)

	req := signUploadRequest(SignUploadRequest{
		ContentType: "video/mp4",
		SizeBytes:   600 * 1024 * 1024,
	}, "user-1")
	w := httptest.NewRecorder()
	handlers.SignUpload(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", w.Code)
	}
}

func TestSignUpload_InvalidLessonID(t *testing.T) {
	handlers := newTestUploadHandlers(t)

	badID := "../escape"
	req := signUploadRequest(SignUploadRequest{
		ContentType: "video/mp4",
		SizeBytes:   1024,
		LessonID:    &badID,
	}, "user-1")
	w := httptest.NewRecorder()
	handlers.SignUpload(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", w.Code)
	}
}
