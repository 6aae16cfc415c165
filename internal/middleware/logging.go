package middleware

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/overlaykit/access-core/internal/logging"
)

// HTTPLogging logs each request and its outcome at debug level. Header
// values pass through the credential mask; bodies are never logged on this
// service because every mutation body may reference principals.
func HTTPLogging(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !logger.Enabled(r.Context(), slog.LevelDebug) {
				next.ServeHTTP(w, r)
				return
			}

			logger.Debug("http request",
				"request_id", GetRequestID(r.Context()),
				"method", r.Method,
				"url", r.URL.Path,
				"headers", maskedHeaders(r.Header),
			)

			rec := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
			start := time.Now()
			next.ServeHTTP(rec, r)

			logger.Debug("http response",
				"request_id", GetRequestID(r.Context()),
				"method", r.Method,
				"url", r.URL.Path,
				"status_code", rec.statusCode,
				"duration_ms", time.Since(start).Milliseconds(),
			)
		})
	}
}

func maskedHeaders(headers http.Header) map[string]string {
	result := make(map[string]string, len(headers))
	for k, v := range headers {
		if len(v) > 0 {
			result[k] = logging.MaskHeader(k, v[0])
		}
	}
	return result
}

// statusRecorder captures the response status for logging.
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.statusCode = code
	r.ResponseWriter.WriteHeader(code)
}
