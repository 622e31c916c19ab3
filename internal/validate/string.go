// Package validate holds the input validation used at the API boundary:
// strings, emails, files, and URLs, with basic SQL-injection, XSS, and
// SSRF screening.
package validate

import (
	"errors"
	"fmt"
	"html"
	"regexp"
	"strings"
	"unicode/utf8"
)

var (
	ErrStringTooShort    = errors.New("string is too short")
	ErrStringTooLong     = errors.New("string is too long")
	ErrInvalidCharacters = errors.New("string contains invalid characters")
	ErrSQLKeyword        = errors.New("string contains SQL keywords")
	ErrEmpty             = errors.New("string is empty")
)

// SQL screening is a heuristic layer on top of parameterized queries, not
// a replacement for them. Keywords match on word boundaries so text like
// "Executive" passes; the punctuation patterns match anywhere.
var (
	sqlKeywordPattern    = regexp.MustCompile(`(?i)\b(SELECT|INSERT|UPDATE|DELETE|DROP|CREATE|ALTER|TRUNCATE|EXEC|EXECUTE|UNION|JOIN|WHERE|FROM)\b`)
	sqlInjectionPatterns = []string{"--", "/*", "*/", ";--", "xp_", "sp_"}
)

// StringConstraints configures String. Zero MinLength/MaxLength means no
// bound on that side.
type StringConstraints struct {
	MinLength        int
	MaxLength        int
	AllowedPattern   *regexp.Regexp
	DisallowedWords  []string // case-insensitive substring match
	CheckSQLKeywords bool
	AllowEmpty       bool
	TrimSpace        bool
}

// String applies constraints to s and returns the (possibly trimmed)
// value. Lengths count runes, not bytes.
func String(s string, constraints StringConstraints) (string, error) {
	if constraints.TrimSpace {
		s = strings.TrimSpace(s)
	}
	if s == "" {
		if constraints.AllowEmpty {
			return s, nil
		}
		return "", ErrEmpty
	}

	length := utf8.RuneCountInString(s)
	switch {
	case constraints.MinLength > 0 && length < constraints.MinLength:
		return "", fmt.Errorf("%w: got %d chars, need at least %d", ErrStringTooShort, length, constraints.MinLength)
	case constraints.MaxLength > 0 && length > constraints.MaxLength:
		return "", fmt.Errorf("%w: got %d chars, maximum is %d", ErrStringTooLong, length, constraints.MaxLength)
	}

	if constraints.AllowedPattern != nil && !constraints.AllowedPattern.MatchString(s) {
		return "", fmt.Errorf("%w: does not match required pattern", ErrInvalidCharacters)
	}
	if constraints.CheckSQLKeywords {
		if err := screenSQL(s); err != nil {
			return "", err
		}
	}

	upper := strings.ToUpper(s)
	for _, word := range constraints.DisallowedWords {
		if strings.Contains(upper, strings.ToUpper(word)) {
			return "", fmt.Errorf("string contains disallowed word: %q", word)
		}
	}

	return s, nil
}

func screenSQL(s string) error {
	if match := sqlKeywordPattern.FindString(s); match != "" {
		return fmt.Errorf("%w: contains %q", ErrSQLKeyword, match)
	}
	lower := strings.ToLower(s)
	for _, pattern := range sqlInjectionPatterns {
		if strings.Contains(lower, pattern) {
			return fmt.Errorf("%w: contains %q", ErrSQLKeyword, pattern)
		}
	}
	return nil
}

// SanitizeHTML escapes HTML special characters. Use it on any
// user-supplied text that ends up rendered in a page.
func SanitizeHTML(s string) string {
	return html.EscapeString(s)
}

// SanitizeString validates then HTML-escapes s.
func SanitizeString(s string, constraints StringConstraints) (string, error) {
	validated, err := String(s, constraints)
	if err != nil {
		return "", err
	}
	return SanitizeHTML(validated), nil
}

// LessonTitle accepts 1-200 trimmed characters. The title is used
// verbatim for lesson lookups, so it is neither HTML-escaped nor
// SQL-screened; ordinary titles like "Where to Start" must pass.
func LessonTitle(title string) (string, error) {
	return String(title, StringConstraints{
		MinLength: 1,
		MaxLength: 200,
		TrimSpace: true,
	})
}

// Description accepts an optional free-text field of up to 5000
// characters and escapes it for display.
func Description(desc string) (string, error) {
	return SanitizeString(desc, StringConstraints{
		MaxLength:  5000,
		AllowEmpty: true,
		TrimSpace:  true,
	})
}
