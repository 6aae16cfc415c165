package metrics

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// statusRecorder wraps http.ResponseWriter to capture the status code.
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
	written    bool
}

// WriteHeader captures the status code and writes it through.
func (r *statusRecorder) WriteHeader(code int) {
	if !r.written {
		r.statusCode = code
		r.written = true
		r.ResponseWriter.WriteHeader(code)
		return
	}
	r.ResponseWriter.WriteHeader(code)
}

// Write ensures a status is recorded before writing the body.
func (r *statusRecorder) Write(b []byte) (int, error) {
	if !r.written {
		r.statusCode = http.StatusOK
		r.written = true
	}
	return r.ResponseWriter.Write(b)
}

// Middleware records request count and latency for each request, labeled
// by the chi route pattern so principal ids never become label values.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		startTime := time.Now()

		// Record metrics even when a handler panics, then re-panic so
		// the recoverer above still handles it.
		defer func() {
			duration := time.Since(startTime).Seconds()
			statusCode := recorder.statusCode
			rec := recover()
			if rec != nil {
				statusCode = http.StatusInternalServerError
			}

			path := chi.RouteContext(r.Context()).RoutePattern()
			if path == "" {
				path = "unmatched"
			}
			status := fmt.Sprintf("%d", statusCode)
			RecordRequest(r.Method, path, status)
			RecordDuration(r.Method, path, status, duration)

			if rec != nil {
				panic(rec)
			}
		}()

		next.ServeHTTP(recorder, r)
	})
}
