// Package middleware provides HTTP middleware for the API server.
package middleware

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/pprof"
	"strings"
)

// ProfilingConfig configures the profiling middleware.
type ProfilingConfig struct {
	// Enabled controls whether profiling endpoints are exposed. Must stay
	// false outside development: heap dumps can contain Stripe keys and
	// customer emails.
	Enabled bool

	// Environment gates a second check: "production"/"prod" always disable
	// profiling regardless of Enabled.
	Environment string
}

// pprofEndpoints is the set served under /debug/pprof/.
var pprofEndpoints = []string{
	"/debug/pprof/",
	"/debug/pprof/profile",
	"/debug/pprof/heap",
	"/debug/pprof/goroutine",
	"/debug/pprof/block",
	"/debug/pprof/mutex",
	"/debug/pprof/threadcreate",
	"/debug/pprof/allocs",
	"/debug/pprof/cmdline",
	"/debug/pprof/symbol",
	"/debug/pprof/trace",
}

// Profiling exposes the net/http/pprof handlers at /debug/pprof/* when
// enabled. Requests outside that prefix pass through untouched.
func Profiling(config ProfilingConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if !config.Enabled {
			return next
		}

		if config.Environment == "production" || config.Environment == "prod" {
			slog.Error("refusing to enable profiling in production environment",
				"environment", config.Environment,
			)
			return next
		}

		slog.Warn("profiling endpoints enabled",
			"environment", config.Environment,
			"endpoints", "/debug/pprof/*",
		)

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !strings.HasPrefix(r.URL.Path, "/debug/pprof") {
				next.ServeHTTP(w, r)
				return
			}

			switch r.URL.Path {
			case "/debug/pprof/cmdline":
				pprof.Cmdline(w, r)
			case "/debug/pprof/profile":
				pprof.Profile(w, r)
			case "/debug/pprof/symbol":
				pprof.Symbol(w, r)
			case "/debug/pprof/trace":
				pprof.Trace(w, r)
			default:
				// Index also dispatches named profiles (heap, goroutine, ...).
				pprof.Index(w, r)
			}
		})
	}
}

// ProfilingStatus reports whether profiling is active and which endpoints
// it would serve. Useful as a sanity probe in development.
func ProfilingStatus(config ProfilingConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")

		status := "disabled"
		if config.Enabled {
			status = "enabled"
		}

		body, err := json.MarshalIndent(map[string]any{
			"profiling_enabled": config.Enabled,
			"environment":       config.Environment,
			"status":            status,
			"endpoints":         pprofEndpoints,
		}, "", "  ")
		if err != nil {
			http.Error(w, "failed to encode status", http.StatusInternalServerError)
			return
		}

		w.WriteHeader(http.StatusOK)
		if _, err := w.Write(body); err != nil {
			slog.Error("failed to write profiling status response", "error", err)
		}
	}
}
