package auth

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// 44-character base64 string, as produced by `openssl rand -base64 32`
const testSecret = "wJ6Qk8Qn1v9Qw1Zb2l8Qk9J3p6Qk8Qn1v9Qw1Zb2l8Qk="

func mustAccessToken(t *testing.T, svc *JWTService, userID, email string) string {
	t.Helper()
	token, err := svc.GenerateAccessToken(userID, email)
	if err != nil {
		t.Fatalf("GenerateAccessToken(%q, %q) error = %v", userID, email, err)
	}
	return token
}

// signedWithExpiry hand-signs an access token with the given secret
// and expiry, bypassing GenerateAccessToken so tests can produce
// already-expired tokens.
func signedWithExpiry(t *testing.T, secret, userID string, expiresAt time.Time) string {
	t.Helper()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(expiresAt.Add(-time.Hour)),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		Type: TokenTypeAccess,
	}
	tokenString, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("signing token: %v", err)
	}
	return tokenString
}

func TestGenerateAccessToken(t *testing.T) {
	svc := NewJWTService(testSecret)

	token, err := svc.GenerateAccessToken("buyer-1", "buyer@example.com")
	if err != nil {
		t.Fatalf("GenerateAccessToken() error = %v", err)
	}
	if token == "" {
		t.Error("GenerateAccessToken() returned empty token")
	}

	if _, err := svc.GenerateAccessToken("", "buyer@example.com"); err != ErrEmptyUserID {
		t.Errorf("GenerateAccessToken() with empty userID error = %v, want %v", err, ErrEmptyUserID)
	}

	// Some accounts have no email on file; the claim is just omitted.
	if _, err := svc.GenerateAccessToken("buyer-1", ""); err != nil {
		t.Errorf("GenerateAccessToken() with empty email error = %v, want nil", err)
	}
}

func TestGenerateRefreshToken(t *testing.T) {
	svc := NewJWTService(testSecret)

	token, err := svc.GenerateRefreshToken("buyer-1")
	if err != nil {
		t.Fatalf("GenerateRefreshToken() error = %v", err)
	}
	if token == "" {
		t.Error("GenerateRefreshToken() returned empty token")
	}

	if _, err := svc.GenerateRefreshToken(""); err != ErrEmptyUserID {
		t.Errorf("GenerateRefreshToken() with empty userID error = %v, want %v", err, ErrEmptyUserID)
	}
}

func TestValidateToken_AccessClaims(t *testing.T) {
	svc := NewJWTService(testSecret)

	beforeGen := time.Now().Add(-time.Second)
	token := mustAccessToken(t, svc, "buyer-1", "buyer@example.com")
	afterGen := time.Now().Add(time.Second)

	claims, err := svc.ValidateToken(token)
	if err != nil {
		t.Fatalf("ValidateToken() error = %v", err)
	}

	if claims.Subject != "buyer-1" {
		t.Errorf("Subject = %v, want buyer-1", claims.Subject)
	}
	if claims.Email != "buyer@example.com" {
		t.Errorf("Email = %v, want buyer@example.com", claims.Email)
	}
	if claims.Type != TokenTypeAccess {
		t.Errorf("Type = %v, want %v", claims.Type, TokenTypeAccess)
	}
	if claims.IssuedAt == nil {
		t.Fatal("IssuedAt is nil")
	}
	if iat := claims.IssuedAt.Time; iat.Before(beforeGen) || iat.After(afterGen) {
		t.Errorf("IssuedAt = %v, want between %v and %v", iat, beforeGen, afterGen)
	}
	if claims.ExpiresAt == nil {
		t.Fatal("ExpiresAt is nil")
	}
	if want := claims.IssuedAt.Time.Add(AccessTokenExpiry); !claims.ExpiresAt.Time.Equal(want) {
		t.Errorf("ExpiresAt = %v, want %v", claims.ExpiresAt.Time, want)
	}
}

func TestValidateToken_RefreshClaims(t *testing.T) {
	svc := NewJWTService(testSecret)

	token, err := svc.GenerateRefreshToken("buyer-2")
	if err != nil {
		t.Fatalf("GenerateRefreshToken() error = %v", err)
	}

	claims, err := svc.ValidateToken(token)
	if err != nil {
		t.Fatalf("ValidateToken() error = %v", err)
	}

	if claims.Subject != "buyer-2" {
		t.Errorf("Subject = %v, want buyer-2", claims.Subject)
	}
	// Refresh tokens carry no email claim.
	if claims.Email != "" {
		t.Errorf("Email = %v, want empty", claims.Email)
	}
	if claims.Type != TokenTypeRefresh {
		t.Errorf("Type = %v, want %v", claims.Type, TokenTypeRefresh)
	}
	if claims.ExpiresAt == nil {
		t.Fatal("ExpiresAt is nil")
	}
	if want := claims.IssuedAt.Time.Add(RefreshTokenExpiry); !claims.ExpiresAt.Time.Equal(want) {
		t.Errorf("ExpiresAt = %v, want %v", claims.ExpiresAt.Time, want)
	}
}

func TestValidateToken_Malformed(t *testing.T) {
	svc := NewJWTService(testSecret)

	for _, token := range []string{"", "not-a-valid-token"} {
		if _, err := svc.ValidateToken(token); err != ErrInvalidToken {
			t.Errorf("ValidateToken(%q) error = %v, want %v", token, err, ErrInvalidToken)
		}
	}
}

func TestValidateToken_TamperedSignature(t *testing.T) {
	svc := NewJWTService(testSecret)
	token := mustAccessToken(t, svc, "buyer-1", "buyer@example.com")

	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		t.Fatalf("unexpected token format: %q", token)
	}
	tampered := parts[0] + "." + parts[1] + ".tamperedsignature"

	if _, err := svc.ValidateToken(tampered); err != ErrInvalidToken {
		t.Errorf("ValidateToken() error = %v, want %v", err, ErrInvalidToken)
	}
}

func TestValidateToken_WrongSecret(t *testing.T) {
	signer := NewJWTService("secret-one")
	verifier := NewJWTService("secret-two")

	token := mustAccessToken(t, signer, "buyer-1", "buyer@example.com")
	if _, err := verifier.ValidateToken(token); err != ErrInvalidToken {
		t.Errorf("ValidateToken() error = %v, want %v", err, ErrInvalidToken)
	}
}

func TestValidateToken_Expired(t *testing.T) {
	token := signedWithExpiry(t, testSecret, "buyer-1", time.Now().Add(-time.Hour))

	svc := NewJWTServiceWithLeeway(testSecret, 0)
	if _, err := svc.ValidateToken(token); err != ErrExpiredToken {
		t.Errorf("ValidateToken() error = %v, want %v", err, ErrExpiredToken)
	}
}

// A token that expired seconds ago should still be accepted under the
// default 30s leeway, so clock skew between the API and a client's
// refresh loop does not log buyers out mid-checkout.
func TestValidateToken_Leeway(t *testing.T) {
	token := signedWithExpiry(t, testSecret, "buyer-1", time.Now().Add(-10*time.Second))

	if _, err := NewJWTService(testSecret).ValidateToken(token); err != nil {
		t.Errorf("ValidateToken() with default leeway error = %v, want nil", err)
	}
	if _, err := NewJWTServiceWithLeeway(testSecret, 0).ValidateToken(token); err != ErrExpiredToken {
		t.Errorf("ValidateToken() with zero leeway error = %v, want %v", err, ErrExpiredToken)
	}
}

// Secret rotation: new tokens are signed with the current secret,
// tokens issued before the rotation still verify against the previous
// secret until they expire.
func TestKeyRotation(t *testing.T) {
	const (
		currentSecret  = "current-secret-key-12345678"
		previousSecret = "previous-secret-key-87654321"
	)
	rotated := NewJWTServiceWithRotation(currentSecret, previousSecret)

	t.Run("current secret round trip", func(t *testing.T) {
		token := mustAccessToken(t, rotated, "buyer-1", "buyer@example.com")
		claims, err := rotated.ValidateToken(token)
		if err != nil {
			t.Fatalf("ValidateToken() error = %v", err)
		}
		if claims.Subject != "buyer-1" {
			t.Errorf("Subject = %v, want buyer-1", claims.Subject)
		}
	})

	t.Run("pre-rotation token still validates", func(t *testing.T) {
		oldToken := mustAccessToken(t, NewJWTService(previousSecret), "buyer-2", "buyer@example.com")
		claims, err := rotated.ValidateToken(oldToken)
		if err != nil {
			t.Fatalf("ValidateToken() error = %v, want pre-rotation token to validate", err)
		}
		if claims.Subject != "buyer-2" {
			t.Errorf("Subject = %v, want buyer-2", claims.Subject)
		}
	})

	t.Run("new tokens signed with current secret only", func(t *testing.T) {
		token := mustAccessToken(t, rotated, "buyer-3", "buyer@example.com")

		if _, err := NewJWTService(currentSecret).ValidateToken(token); err != nil {
			t.Errorf("ValidateToken() against current secret error = %v, want nil", err)
		}
		if _, err := NewJWTService(previousSecret).ValidateToken(token); err != ErrInvalidToken {
			t.Errorf("ValidateToken() against previous secret error = %v, want %v", err, ErrInvalidToken)
		}
	})

	t.Run("empty previous secret", func(t *testing.T) {
		svc := NewJWTServiceWithRotation(currentSecret, "")
		token := mustAccessToken(t, svc, "buyer-4", "buyer@example.com")
		if _, err := svc.ValidateToken(token); err != nil {
			t.Errorf("ValidateToken() error = %v", err)
		}
	})

	t.Run("unknown secret rejected", func(t *testing.T) {
		stray := mustAccessToken(t, NewJWTService("wrong-secret-key-99999999"), "buyer-5", "buyer@example.com")
		if _, err := rotated.ValidateToken(stray); err != ErrInvalidToken {
			t.Errorf("ValidateToken() error = %v, want %v", err, ErrInvalidToken)
		}
	})
}

func TestRotationWithCustomLeeway(t *testing.T) {
	const (
		currentSecret  = "current-leeway-key-123456"
		previousSecret = "previous-leeway-key-654321"
	)

	// Expired ten seconds ago, signed with the previous secret: both
	// the rotation fallback and the leeway have to apply for this to
	// validate.
	token := signedWithExpiry(t, previousSecret, "buyer-1", time.Now().Add(-10*time.Second))

	withLeeway := NewJWTServiceWithRotationAndLeeway(currentSecret, previousSecret, 30*time.Second)
	if _, err := withLeeway.ValidateToken(token); err != nil {
		t.Errorf("ValidateToken() error = %v, want nil within leeway", err)
	}

	noLeeway := NewJWTServiceWithRotationAndLeeway(currentSecret, previousSecret, 0)
	if _, err := noLeeway.ValidateToken(token); err != ErrExpiredToken {
		t.Errorf("ValidateToken() error = %v, want %v", err, ErrExpiredToken)
	}
}
