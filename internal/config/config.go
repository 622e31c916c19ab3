// Package config loads API server settings with koanf, layering
// environment variables over an optional YAML file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/teachniche/api/internal/validate"
)

// Config is the full runtime configuration of the API server.
type Config struct {
	Port int    `koanf:"port"`
	Env  string `koanf:"env"`

	DatabaseURL string `koanf:"database_url"`

	// RedisAddr backs rate limiting; empty means in-process limits only.
	RedisAddr string `koanf:"redis_addr"`

	// JWTSecretPrevious is set only while a secret rotation is in
	// progress; tokens signed with it are still accepted.
	JWTSecret         string `koanf:"jwt_secret"`
	JWTSecretPrevious string `koanf:"jwt_secret_previous"`

	StripeAPIKey        string `koanf:"stripe_api_key"`
	StripeWebhookSecret string `koanf:"stripe_webhook_secret"`

	CheckoutSuccessURL string `koanf:"checkout_success_url"`
	CheckoutCancelURL  string `koanf:"checkout_cancel_url"`

	// PlatformFeePercent is the platform's cut of each lesson sale,
	// e.g. 15.0 for 15%. Every purchase creation path uses this one rate.
	PlatformFeePercent float64 `koanf:"platform_fee_percent"`

	// S3 settings for lesson video upload signing. Optional as a group.
	S3BucketName      string `koanf:"s3_bucket_name"`
	S3AccessKeyID     string `koanf:"s3_access_key_id"`
	S3SecretAccessKey string `koanf:"s3_secret_access_key"`
	S3Endpoint        string `koanf:"s3_endpoint"`
	S3MaxUploadSizeMB int    `koanf:"s3_max_upload_size_mb"`

	// CORSAllowedOrigins is comma-separated; empty disables CORS.
	CORSAllowedOrigins string `koanf:"cors_allowed_origins"`

	TracingEnabled  bool   `koanf:"tracing_enabled"`
	TracingEndpoint string `koanf:"tracing_endpoint"`
}

var (
	ErrMissingDatabaseURL         = errors.New("DATABASE_URL is required")
	ErrMissingJWTSecret           = errors.New("JWT_SECRET is required")
	ErrMissingStripeAPIKey        = errors.New("STRIPE_API_KEY is required")
	ErrMissingStripeWebhookSecret = errors.New("STRIPE_WEBHOOK_SECRET is required")
	ErrMissingCheckoutSuccessURL  = errors.New("CHECKOUT_SUCCESS_URL is required")
	ErrMissingCheckoutCancelURL   = errors.New("CHECKOUT_CANCEL_URL is required")
	ErrInvalidFeePercent          = errors.New("PLATFORM_FEE_PERCENT must be between 0 and 100")
	ErrMissingS3BucketName        = errors.New("S3_BUCKET_NAME is required")
	ErrMissingS3AccessKeyID       = errors.New("S3_ACCESS_KEY_ID is required")
	ErrMissingS3SecretAccessKey   = errors.New("S3_SECRET_ACCESS_KEY is required")
	ErrMissingS3Endpoint          = errors.New("S3_ENDPOINT is required")
	ErrInvalidPort                = errors.New("PORT must be a valid integer")
)

const (
	DefaultPort               = 8080
	DefaultEnv                = "development"
	DefaultPlatformFeePercent = 15.0
	DefaultS3MaxUploadSizeMB  = 500
)

// Load builds a Config from the environment plus an optional YAML file,
// with environment variables winning. It returns the config together
// with every validation error found, so startup can report them all at
// once. A file path that cannot be read is the only fatal case.
func Load(configFilePath string) (*Config, []error) {
	k := koanf.New(".")
	if configFilePath != "" {
		if err := k.Load(file.Provider(configFilePath), yaml.Parser()); err != nil {
			return nil, []error{fmt.Errorf("failed to load config file %s: %w", configFilePath, err)}
		}
	}

	str := func(envKey, koanfKey string) string {
		if val := os.Getenv(envKey); val != "" {
			return val
		}
		return k.String(koanfKey)
	}

	var loadErrs []error
	collect := func(err error) {
		if err != nil {
			loadErrs = append(loadErrs, err)
		}
	}

	port, err := intSetting("PORT", k.Int("port"), DefaultPort)
	collect(err)
	feePercent, err := floatSetting("PLATFORM_FEE_PERCENT", k.Float64("platform_fee_percent"), DefaultPlatformFeePercent)
	collect(err)
	maxUploadSize, err := intSetting("S3_MAX_UPLOAD_SIZE_MB", k.Int("s3_max_upload_size_mb"), DefaultS3MaxUploadSizeMB)
	collect(err)

	cfg := &Config{
		Port:                port,
		Env:                 envFirst([]string{"ENV", "GO_ENV"}, k.String("env"), DefaultEnv),
		DatabaseURL:         str("DATABASE_URL", "database_url"),
		RedisAddr:           str("REDIS_ADDR", "redis_addr"),
		JWTSecret:           str("JWT_SECRET", "jwt_secret"),
		JWTSecretPrevious:   str("JWT_SECRET_PREVIOUS", "jwt_secret_previous"),
		StripeAPIKey:        str("STRIPE_API_KEY", "stripe_api_key"),
		StripeWebhookSecret: str("STRIPE_WEBHOOK_SECRET", "stripe_webhook_secret"),
		CheckoutSuccessURL:  str("CHECKOUT_SUCCESS_URL", "checkout_success_url"),
		CheckoutCancelURL:   str("CHECKOUT_CANCEL_URL", "checkout_cancel_url"),
		PlatformFeePercent:  feePercent,
		S3BucketName:        str("S3_BUCKET_NAME", "s3_bucket_name"),
		S3AccessKeyID:       str("S3_ACCESS_KEY_ID", "s3_access_key_id"),
		S3SecretAccessKey:   str("S3_SECRET_ACCESS_KEY", "s3_secret_access_key"),
		S3Endpoint:          str("S3_ENDPOINT", "s3_endpoint"),
		S3MaxUploadSizeMB:   maxUploadSize,
		CORSAllowedOrigins:  str("CORS_ALLOWED_ORIGINS", "cors_allowed_origins"),
		TracingEnabled:      boolSetting("TRACING_ENABLED", k.Bool("tracing_enabled")),
		TracingEndpoint:     str("TRACING_ENDPOINT", "tracing_endpoint"),
	}

	return cfg, append(loadErrs, cfg.Validate()...)
}

// envFirst returns the first non-empty environment variable from keys,
// then the file value, then the default.
func envFirst(keys []string, fileVal, defaultVal string) string {
	for _, key := range keys {
		if val := os.Getenv(key); val != "" {
			return val
		}
	}
	if fileVal != "" {
		return fileVal
	}
	return defaultVal
}

// intSetting parses an integer setting. A zero file value falls through
// to the default; a malformed environment value is an error.
func intSetting(envKey string, fileVal, defaultVal int) (int, error) {
	if val := os.Getenv(envKey); val != "" {
		i, err := strconv.Atoi(val)
		if err != nil {
			return 0, fmt.Errorf("%s must be a valid integer: %w", envKey, ErrInvalidPort)
		}
		return i, nil
	}
	if fileVal != 0 {
		return fileVal, nil
	}
	return defaultVal, nil
}

func floatSetting(envKey string, fileVal, defaultVal float64) (float64, error) {
	if val := os.Getenv(envKey); val != "" {
		f, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return 0, fmt.Errorf("%s must be a valid float: %w", envKey, err)
		}
		return f, nil
	}
	if fileVal != 0 {
		return fileVal, nil
	}
	return defaultVal, nil
}

// boolSetting accepts the usual truthy and falsy spellings from the
// environment; anything else leaves the file value in place.
func boolSetting(envKey string, fileVal bool) bool {
	switch strings.ToLower(os.Getenv(envKey)) {
	case "true", "1", "yes", "on":
		return true
	case "false", "0", "no", "off":
		return false
	}
	return fileVal
}

// Validate reports every missing or malformed required value.
func (c *Config) Validate() []error {
	var errs []error
	require := func(ok bool, err error) {
		if !ok {
			errs = append(errs, err)
		}
	}

	require(c.DatabaseURL != "", ErrMissingDatabaseURL)
	require(c.JWTSecret != "", ErrMissingJWTSecret)
	require(c.StripeAPIKey != "", ErrMissingStripeAPIKey)
	require(c.StripeWebhookSecret != "", ErrMissingStripeWebhookSecret)

	if c.CheckoutSuccessURL == "" {
		errs = append(errs, ErrMissingCheckoutSuccessURL)
	} else if _, err := validate.CheckoutRedirectURL(c.CheckoutSuccessURL); err != nil {
		errs = append(errs, fmt.Errorf("CHECKOUT_SUCCESS_URL: %w", err))
	}
	if c.CheckoutCancelURL == "" {
		errs = append(errs, ErrMissingCheckoutCancelURL)
	} else if _, err := validate.CheckoutRedirectURL(c.CheckoutCancelURL); err != nil {
		errs = append(errs, fmt.Errorf("CHECKOUT_CANCEL_URL: %w", err))
	}

	require(c.PlatformFeePercent >= 0 && c.PlatformFeePercent <= 100, ErrInvalidFeePercent)

	// S3 is optional as a whole, but once any field is set the group must
	// be complete.
	if c.S3BucketName != "" || c.S3AccessKeyID != "" || c.S3SecretAccessKey != "" || c.S3Endpoint != "" {
		require(c.S3BucketName != "", ErrMissingS3BucketName)
		require(c.S3AccessKeyID != "", ErrMissingS3AccessKeyID)
		require(c.S3SecretAccessKey != "", ErrMissingS3SecretAccessKey)
		require(c.S3Endpoint != "", ErrMissingS3Endpoint)
	}

	return errs
}

// GetJWTSecrets returns the current signing secret and, during a
// rotation window, the previous one (otherwise empty).
func (c *Config) GetJWTSecrets() (current, previous string) {
	return c.JWTSecret, c.JWTSecretPrevious
}

// LogSummary renders the configuration for startup logging with every
// secret masked.
func (c *Config) LogSummary() map[string]string {
	return map[string]string{
		"port":                  strconv.Itoa(c.Port),
		"env":                   c.Env,
		"database_url":          maskDatabaseURL(c.DatabaseURL),
		"redis_addr":            c.RedisAddr,
		"jwt_secret":            maskSecret(c.JWTSecret),
		"jwt_secret_previous":   maskSecret(c.JWTSecretPrevious),
		"stripe_api_key":        maskStripeKey(c.StripeAPIKey),
		"stripe_webhook_secret": maskSecret(c.StripeWebhookSecret),
		"checkout_success_url":  c.CheckoutSuccessURL,
		"checkout_cancel_url":   c.CheckoutCancelURL,
		"platform_fee_percent":  fmt.Sprintf("%.2f", c.PlatformFeePercent),
		"s3_bucket_name":        c.S3BucketName,
		"s3_access_key_id":      maskSecret(c.S3AccessKeyID),
		"s3_secret_access_key":  maskSecret(c.S3SecretAccessKey),
		"s3_endpoint":           c.S3Endpoint,
		"s3_max_upload_size_mb": strconv.Itoa(c.S3MaxUploadSizeMB),
		"cors_allowed_origins":  c.CORSAllowedOrigins,
		"tracing_enabled":       strconv.FormatBool(c.TracingEnabled),
		"tracing_endpoint":      c.TracingEndpoint,
	}
}

// maskSecret shows the first 4 characters of a secret; values under 8
// characters are masked entirely.
func maskSecret(s string) string {
	switch {
	case s == "":
		return "<not set>"
	case len(s) < 8:
		return "****"
	}
	return s[:4] + "****"
}

// maskStripeKey keeps the sk_live_ / sk_test_ style prefix visible so
// logs show which mode the key is for.
func maskStripeKey(s string) string {
	if s == "" {
		return "<not set>"
	}
	if parts := strings.SplitN(s, "_", 3); len(parts) == 3 {
		return parts[0] + "_" + parts[1] + "_****"
	}
	return maskSecret(s)
}

// maskDatabaseURL hides the password component of a connection URL,
// leaving scheme, user, and host readable.
func maskDatabaseURL(s string) string {
	if s == "" {
		return "<not set>"
	}

	schemeEnd := strings.Index(s, "://")
	if schemeEnd == -1 {
		return maskSecret(s)
	}

	rest := s[schemeEnd+3:]
	at := strings.Index(rest, "@")
	if at == -1 {
		// no credentials
		return s
	}
	colon := strings.Index(rest[:at], ":")
	if colon == -1 {
		// username only
		return s
	}

	return s[:schemeEnd+3] + rest[:colon] + ":****" + rest[at:]
}
