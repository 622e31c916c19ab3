package upload

import (
	"strings"
	"testing"

	"github.com/teachniche/api/internal/validate"
)

func TestValidateContentType(t *testing.T) {
	accepted := []string{
		validate.MIMEVideoMP4,
		validate.MIMEVideoQuickTime,
		validate.MIMEVideoWebM,
		validate.MIMEImageJPEG,
	}
	for _, ct := range accepted {
		if err := ValidateContentType(ct); err != nil {
			t.Errorf("ValidateContentType(%q) = %v, want nil", ct, err)
		}
	}

	rejected := []string{"audio/mpeg", "application/pdf", ""}
	for _, ct := range rejected {
		if err := ValidateContentType(ct); err != ErrUnsupportedType {
			t.Errorf("ValidateContentType(%q) = %v, want ErrUnsupportedType", ct, err)
		}
	}
}

func TestValidateFileSize(t *testing.T) {
	const mb = 1024 * 1024
	service := &Service{maxSizeBytes: 500 * mb}

	tests := []struct {
		name      string
		sizeBytes int64
		wantErr   bool
	}{
		{"well under limit", 100 * mb, false},
		{"exactly at limit", 500 * mb, false},
		{"one MB over", 501 * mb, true},
		{"zero bytes", 0, true},
		{"negative", -1, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := service.ValidateFileSize(tt.sizeBytes)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateFileSize(%d) = %v, wantErr %v", tt.sizeBytes, err, tt.wantErr)
			}
		})
	}
}

func TestGenerateObjectKey(t *testing.T) {
	lessonID := "lesson123"

	tests := []struct {
		name        string
		contentType string
		lessonID    *string
		wantPrefix  string
		wantExt     string
	}{
		{"mp4 under lesson", validate.MIMEVideoMP4, &lessonID, "lessons/lesson123/", ".mp4"},
		{"webm without lesson goes to temp", validate.MIMEVideoWebM, nil, "lessons/temp/", ".webm"},
		{"jpeg thumbnail", validate.MIMEImageJPEG, &lessonID, "lessons/lesson123/", ".jpg"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key, err := GenerateObjectKey(tt.contentType, tt.lessonID)
			if err != nil {
				t.Fatalf("GenerateObjectKey: %v", err)
			}
			if !strings.HasPrefix(key, tt.wantPrefix) {
				t.Errorf("key %q missing prefix %q", key, tt.wantPrefix)
			}
			if !strings.HasSuffix(key, tt.wantExt) {
				t.Errorf("key %q missing extension %q", key, tt.wantExt)
			}
			// The middle segment is a 36-character UUID.
			if len(key) != len(tt.wantPrefix)+36+len(tt.wantExt) {
				t.Errorf("key %q has unexpected length", key)
			}
		})
	}

	t.Run("unknown content type", func(t *testing.T) {
		if _, err := GenerateObjectKey("image/gif", nil); err == nil {
			t.Error("expected error for image/gif")
		}
	})

	t.Run("keys are unique", func(t *testing.T) {
		a, _ := GenerateObjectKey(validate.MIMEVideoMP4, &lessonID)
		b, _ := GenerateObjectKey(validate.MIMEVideoMP4, &lessonID)
		if a == b {
			t.Errorf("two keys for the same lesson collided: %q", a)
		}
	})
}

func TestSanitizePathComponent(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"lesson123", "lesson123"},
		{"lesson-123_abc", "lesson-123_abc"},
		{"../../etc/passwd", "etcpasswd"},
		{"lesson@#$%123", "lesson123"},
		{"", ""},
		{"@#$%^&*()", ""},
	}

	for _, tt := range tests {
		if got := sanitizePathComponent(tt.input); got != tt.want {
			t.Errorf("sanitizePathComponent(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestNewService(t *testing.T) {
	valid := ServiceConfig{
		BucketName:      "lesson-media",
		AccessKeyID:     "test-key",
		SecretAccessKey: "test-secret",
		Endpoint:        "https://media.s3.example.com",
		MaxSizeMB:       500,
	}

	t.Run("valid configuration", func(t *testing.T) {
		service, err := NewService(valid)
		if err != nil {
			t.Fatalf("NewService: %v", err)
		}
		if service.maxSizeBytes != 500*1024*1024 {
			t.Errorf("maxSizeBytes = %d, want 500MB", service.maxSizeBytes)
		}
	})

	t.Run("defaults applied", func(t *testing.T) {
		cfg := valid
		cfg.MaxSizeMB = 0
		cfg.URLExpiryMinutes = 0
		service, err := NewService(cfg)
		if err != nil {
			t.Fatalf("NewService: %v", err)
		}
		if service.maxSizeBytes != 500*1024*1024 {
			t.Errorf("default maxSizeBytes = %d, want 500MB", service.maxSizeBytes)
		}
	})

	missing := []struct {
		name    string
		mutate  func(*ServiceConfig)
		wantErr string
	}{
		{"bucket", func(c *ServiceConfig) { c.BucketName = "" }, "bucket name is required"},
		{"access key", func(c *ServiceConfig) { c.AccessKeyID = "" }, "access key ID is required"},
		{"secret", func(c *ServiceConfig) { c.SecretAccessKey = "" }, "secret access key is required"},
		{"endpoint", func(c *ServiceConfig) { c.Endpoint = "" }, "endpoint is required"},
	}

	for _, tt := range missing {
		t.Run("missing "+tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			_, err := NewService(cfg)
			if err == nil {
				t.Fatal("expected error")
			}
			if err.Error() != tt.wantErr {
				t.Errorf("error = %q, want %q", err.Error(), tt.wantErr)
			}
		})
	}
}
