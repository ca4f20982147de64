package rest

import (
	"context"
	"log/slog"
	"net/http"
	"runtime/debug"
	"time"
)

// Context keys are defined in handler_base.go

// recoveryMiddleware recovers from panics and returns 500 errors
func recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				slog.ErrorContext(r.Context(), "panic recovered",
					"error", err,
					"stack", string(debug.Stack()),
					"path", r.URL.Path,
				)

				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusInternalServerError)
				w.Write([]byte(`{"error":{"code":"INTERNAL_ERROR","message":"An internal error occurred"}}`))
			}
		}()

		next.ServeHTTP(w, r)
	})
}

// CORS is handled by CORSMiddleware (cors_middleware.go), bearer
// authentication by AuthMiddleware (auth_middleware.go), request IDs
// and structured request logging by RequestIDMiddleware/
// RequestLoggingMiddleware, and request-rate throttling by
// CacheRateLimiter (all in middleware_advanced.go / rate_limiter_redis.go)
// — each needs constructor-supplied config or dependencies, so they
// live as methods/closures rather than bare package-level functions.

// timeoutMiddleware adds request timeout
func timeoutMiddleware(timeout time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), timeout)
			defer cancel()

			r = r.WithContext(ctx)

			done := make(chan struct{})
			panicChan := make(chan interface{})
			go func() {
				defer func() {
					if err := recover(); err != nil {
						panicChan <- err
					}
					close(done)
				}()
				next.ServeHTTP(w, r)
			}()

			select {
			case <-done:
				// Request completed normally
			case <-panicChan:
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusInternalServerError)
				w.Write([]byte(`{"error":{"code":"INTERNAL_ERROR","message":"Internal server error"}}`))
			case <-ctx.Done():
				if ctx.Err() == context.DeadlineExceeded {
					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusGatewayTimeout)
					w.Write([]byte(`{"error":{"code":"REQUEST_TIMEOUT","message":"Request timed out"}}`))
				}
			}
		})
	}
}

// getClientIP is defined in middleware_advanced.go
