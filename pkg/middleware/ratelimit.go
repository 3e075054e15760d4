package middleware

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/Hikikomori041/m2-projetweb/pkg/logger"
	"golang.org/x/time/rate"
)

// RateLimit rejects requests beyond rps (with the given burst) with 429.
// The limit is global to the process.
func RateLimit(rps float64, burst int) func(http.Handler) http.Handler {
	limiter := rate.NewLimiter(rate.Limit(rps), burst)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow() {
				slog.Warn("rate limit exceeded", "method", r.Method, "path", r.URL.Path, "request_id", logger.RequestID(r.Context()))
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("Retry-After", strconv.Itoa(1))
				w.WriteHeader(http.StatusTooManyRequests)
				w.Write([]byte(`{"error":"rate limit exceeded"}`))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
