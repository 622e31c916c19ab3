package validate

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidMIMEType = errors.New("invalid MIME type")
	ErrFileTooLarge    = errors.New("file too large")
	ErrFileTooSmall    = errors.New("file too small")
)

const (
	MIMEVideoMP4       = "video/mp4"
	MIMEVideoQuickTime = "video/quicktime"
	MIMEVideoWebM      = "video/webm"
	MIMEImageJPEG      = "image/jpeg"
	MIMEImagePNG       = "image/png"
)

// AllowedLessonMediaTypes is the accepted set for lesson uploads:
// video formats for the lesson itself, images for thumbnails.
var AllowedLessonMediaTypes = []string{
	MIMEVideoMP4,
	MIMEVideoQuickTime,
	MIMEVideoWebM,
	MIMEImageJPEG,
	MIMEImagePNG,
}

// FileConstraints bounds an upload's type and size.
type FileConstraints struct {
	AllowedTypes []string
	MaxSizeBytes int64
	MinSizeBytes int64 // 0 disables the lower bound
}

// MIMEType normalizes mimeType (trimmed, lowercased) and checks it
// against allowedTypes.
func MIMEType(mimeType string, allowedTypes []string) (string, error) {
	mimeType = strings.ToLower(strings.TrimSpace(mimeType))
	if mimeType == "" {
		return "", ErrEmpty
	}

	for _, allowed := range allowedTypes {
		if mimeType == strings.ToLower(allowed) {
			return mimeType, nil
		}
	}
	return "", fmt.Errorf("%w: %q not in allowed types", ErrInvalidMIMEType, mimeType)
}

// FileSize checks sizeBytes against the constraint bounds.
func FileSize(sizeBytes int64, constraints FileConstraints) error {
	if sizeBytes <= 0 {
		return errors.New("file size must be positive")
	}
	if constraints.MinSizeBytes > 0 && sizeBytes < constraints.MinSizeBytes {
		return fmt.Errorf("%w: got %d bytes, minimum is %d", ErrFileTooSmall, sizeBytes, constraints.MinSizeBytes)
	}
	if constraints.MaxSizeBytes > 0 && sizeBytes > constraints.MaxSizeBytes {
		return fmt.Errorf("%w: got %d bytes, maximum is %d", ErrFileTooLarge, sizeBytes, constraints.MaxSizeBytes)
	}
	return nil
}

// File validates type and size together, returning the normalized
// MIME type.
func File(mimeType string, sizeBytes int64, constraints FileConstraints) (string, error) {
	validatedType, err := MIMEType(mimeType, constraints.AllowedTypes)
	if err != nil {
		return "", err
	}
	if err := FileSize(sizeBytes, constraints); err != nil {
		return "", err
	}
	return validatedType, nil
}

// LessonMediaFile validates a lesson media upload against the allowed
// MIME types and the given size limit.
func LessonMediaFile(mimeType string, sizeBytes, maxSizeBytes int64) (string, error) {
	return File(mimeType, sizeBytes, FileConstraints{
		AllowedTypes: AllowedLessonMediaTypes,
		MaxSizeBytes: maxSizeBytes,
	})
}
