package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/maruel/selfiegram/internal/utils"
)

// statusRecorder captures the status code written by the next handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// RequestMiddleware stores the client IP in the request context and logs
// every API request once it completes. Forwarding headers are only honoured
// when trustProxy is set.
func RequestMiddleware(next http.Handler, trustProxy bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ip := utils.GetClientIP(r, trustProxy)
		ctx := utils.WithClientIP(r.Context(), ip)
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r.WithContext(ctx))
		slog.InfoContext(ctx, "http",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"ip", ip,
			"dur", time.Since(start).Round(time.Millisecond))
	})
}
