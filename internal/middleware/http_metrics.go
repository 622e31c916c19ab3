package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// staticRoutes are recorded under their own path label.
var staticRoutes = map[string]bool{
	"/":                        true,
	"/lessons/purchase":        true,
	"/lessons/check-purchase":  true,
	"/lessons/update-purchase": true,
	"/webhooks/stripe":         true,
	"/uploads/sign":            true,
	"/health":                  true,
	"/ready":                   true,
	"/metrics":                 true,
}

// normalizePath collapses dynamic segments so each route is one
// metric series: /lessons/123 and /lessons/456 both become
// /lessons/{id}. Unknown paths pass through unchanged.
func normalizePath(path string) string {
	if staticRoutes[path] {
		return path
	}

	if strings.HasPrefix(path, "/lessons/") {
		parts := strings.Split(path, "/")
		switch {
		case len(parts) == 4 && parts[3] == "access":
			return "/lessons/{id}/access"
		case len(parts) == 3 && parts[2] != "":
			return "/lessons/{id}"
		}
	}

	return path
}

// metricsResponseWriter captures status code and bytes written.
type metricsResponseWriter struct {
	http.ResponseWriter
	statusCode  int
	size        int64
	wroteHeader bool
}

func newMetricsResponseWriter(w http.ResponseWriter) *metricsResponseWriter {
	return &metricsResponseWriter{
		ResponseWriter: w,
		statusCode:     http.StatusOK,
	}
}

func (mrw *metricsResponseWriter) WriteHeader(code int) {
	if mrw.wroteHeader {
		return
	}
	mrw.statusCode = code
	mrw.wroteHeader = true
	mrw.ResponseWriter.WriteHeader(code)
}

func (mrw *metricsResponseWriter) Write(b []byte) (int, error) {
	n, err := mrw.ResponseWriter.Write(b)
	mrw.size += int64(n)
	return n, err
}

// HTTPMetrics records duration, count, and request/response sizes for
// every request. Health probes are skipped; they fire constantly and
// would drown the real traffic.
func HTTPMetrics(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/health" || r.URL.Path == "/ready" {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			mrw := newMetricsResponseWriter(w)

			var requestSize int64
			if contentLength := r.Header.Get("Content-Length"); contentLength != "" {
				if size, err := strconv.ParseInt(contentLength, 10, 64); err == nil {
					requestSize = size
				}
			}

			next.ServeHTTP(mrw, r)

			metrics.ObserveHTTPRequest(
				r.Method,
				normalizePath(r.URL.Path),
				strconv.Itoa(mrw.statusCode),
				time.Since(start).Seconds(),
				requestSize,
				mrw.size,
			)
		})
	}
}
