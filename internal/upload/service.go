// Package upload issues pre-signed URLs so lesson video files go
// straight from the teacher's browser to object storage, never through
// the API process.
package upload

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"github.com/teachniche/api/internal/validate"
)

var (
	ErrUnsupportedType = errors.New("unsupported content type")
	ErrFileTooLarge    = errors.New("file size exceeds maximum allowed")
	ErrInvalidLessonID = errors.New("invalid lesson ID")
)

// AllowedMIMETypes maps each accepted MIME type to the extension used
// in generated object keys. Its key set mirrors
// validate.AllowedLessonMediaTypes.
var AllowedMIMETypes = map[string]string{
	validate.MIMEVideoMP4:       ".mp4",
	validate.MIMEVideoQuickTime: ".mov",
	validate.MIMEVideoWebM:      ".webm",
	validate.MIMEImageJPEG:      ".jpg",
	validate.MIMEImagePNG:       ".png",
}

// SignedURLRequest describes the file a client wants to upload.
type SignedURLRequest struct {
	ContentType string
	SizeBytes   int64
	// LessonID scopes the object key; nil files the upload under temp/.
	LessonID *string
}

// SignedURLResponse is returned to the client for the direct PUT.
type SignedURLResponse struct {
	URL       string    `json:"url"`
	Key       string    `json:"key"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Service signs upload URLs against an S3-compatible bucket.
type Service struct {
	s3Client      *s3.Client
	presignClient *s3.PresignClient
	bucketName    string
	maxSizeBytes  int64
	urlExpiry     time.Duration
	timeNow       func() time.Time
}

// ServiceConfig holds the credentials and limits for NewService.
type ServiceConfig struct {
	BucketName       string
	AccessKeyID      string
	SecretAccessKey  string
	Endpoint         string
	MaxSizeMB        int // default 500
	URLExpiryMinutes int // default 15
}

// NewService builds a Service from cfg, applying defaults for the
// size limit and URL lifetime when unset.
func NewService(cfg ServiceConfig) (*Service, error) {
	switch {
	case cfg.BucketName == "":
		return nil, errors.New("bucket name is required")
	case cfg.AccessKeyID == "":
		return nil, errors.New("access key ID is required")
	case cfg.SecretAccessKey == "":
		return nil, errors.New("secret access key is required")
	case cfg.Endpoint == "":
		return nil, errors.New("endpoint is required")
	}

	if cfg.MaxSizeMB <= 0 {
		cfg.MaxSizeMB = 500
	}
	if cfg.URLExpiryMinutes <= 0 {
		cfg.URLExpiryMinutes = 15
	}

	// Custom endpoints (R2, MinIO) need path-style addressing.
	client := s3.New(s3.Options{
		Region: "auto",
		Credentials: aws.NewCredentialsCache(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		)),
		BaseEndpoint: aws.String(cfg.Endpoint),
		UsePathStyle: true,
	})

	return &Service{
		s3Client:      client,
		presignClient: s3.NewPresignClient(client),
		bucketName:    cfg.BucketName,
		maxSizeBytes:  int64(cfg.MaxSizeMB) * 1024 * 1024,
		urlExpiry:     time.Duration(cfg.URLExpiryMinutes) * time.Minute,
		timeNow:       time.Now,
	}, nil
}

// ValidateContentType reports whether contentType is an accepted
// lesson media type.
func ValidateContentType(contentType string) error {
	if _, err := validate.MIMEType(contentType, validate.AllowedLessonMediaTypes); err != nil {
		return ErrUnsupportedType
	}
	return nil
}

// ValidateFileSize checks sizeBytes against the service limit.
func (s *Service) ValidateFileSize(sizeBytes int64) error {
	err := validate.FileSize(sizeBytes, validate.FileConstraints{MaxSizeBytes: s.maxSizeBytes})
	if errors.Is(err, validate.ErrFileTooLarge) {
		return ErrFileTooLarge
	}
	return err
}

// GenerateObjectKey builds a unique key of the form
// lessons/{lessonID|temp}/{uuid}{ext}. The lesson id is stripped down
// to path-safe characters before use.
func GenerateObjectKey(contentType string, lessonID *string) (string, error) {
	ext, ok := AllowedMIMETypes[contentType]
	if !ok {
		return "", ErrUnsupportedType
	}

	prefix := "temp"
	if lessonID != nil && *lessonID != "" {
		prefix = sanitizePathComponent(*lessonID)
		if prefix == "" {
			return "", ErrInvalidLessonID
		}
	}

	return fmt.Sprintf("lessons/%s/%s%s", prefix, uuid.New().String(), ext), nil
}

// sanitizePathComponent keeps alphanumerics, hyphens, and underscores
// and drops everything else, so "../" style input cannot escape the
// lesson prefix.
func sanitizePathComponent(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z',
			r >= 'A' && r <= 'Z',
			r >= '0' && r <= '9',
			r == '-', r == '_':
			return r
		}
		return -1
	}, s)
}

// GenerateSignedURL validates the request and returns a pre-signed
// PUT URL scoped to the generated object key.
func (s *Service) GenerateSignedURL(ctx context.Context, req SignedURLRequest) (*SignedURLResponse, error) {
	if err := ValidateContentType(req.ContentType); err != nil {
		return nil, err
	}
	if err := s.ValidateFileSize(req.SizeBytes); err != nil {
		return nil, err
	}

	key, err := GenerateObjectKey(req.ContentType, req.LessonID)
	if err != nil {
		return nil, err
	}

	presigned, err := s.presignClient.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucketName),
		Key:           aws.String(key),
		ContentType:   aws.String(req.ContentType),
		ContentLength: aws.Int64(req.SizeBytes),
	}, func(opts *s3.PresignOptions) {
		opts.Expires = s.urlExpiry
	})
	if err != nil {
		return nil, fmt.Errorf("failed to presign request: %w", err)
	}

	return &SignedURLResponse{
		URL:       presigned.URL,
		Key:       key,
		ExpiresAt: s.timeNow().Add(s.urlExpiry),
	}, nil
}

// GetBucketName returns the configured bucket name.
func (s *Service) GetBucketName() string {
	return s.bucketName
}
