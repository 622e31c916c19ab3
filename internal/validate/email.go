package validate

import (
	"errors"
	"regexp"
	"strings"
)

// ErrInvalidEmail is returned when an email address is malformed.
var ErrInvalidEmail = errors.New("invalid email format")

// emailPattern accepts the common shapes of addresses Stripe reports as
// customer emails. Anything stricter belongs to delivery, not matching.
var emailPattern = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)

// Email validates and normalizes an email address. The returned value is
// lowercased and trimmed so it can be compared against stored user emails
// case-insensitively, which the webhook fallback lookup relies on.
func Email(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	if email == "" {
		return "", ErrEmpty
	}

	// RFC 5321 length limits: 254 total, 64 local part, 255 domain.
	if len(email) > 254 {
		return "", ErrStringTooLong
	}

	if !emailPattern.MatchString(email) {
		return "", ErrInvalidEmail
	}

	localPart, domain, ok := strings.Cut(email, "@")
	if !ok || strings.Contains(domain, "@") {
		return "", ErrInvalidEmail
	}
	if len(localPart) > 64 || len(domain) > 255 {
		return "", ErrStringTooLong
	}
	if !strings.Contains(domain, ".") {
		return "", ErrInvalidEmail
	}

	return email, nil
}
