package middleware

import (
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/driftai/driftd/internal/api/response"
)

// Recovery turns handler panics into a 500 error envelope. If the panic
// happened mid-stream (a CSV export that already sent headers) the envelope
// write is a no-op and the client just sees a truncated body.
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				attrs := []any{
					"error", err,
					"stack", string(debug.Stack()),
					"method", r.Method,
					"path", r.URL.Path,
				}
				if prefix, ok := getKeyPrefix(r); ok {
					attrs = append(attrs, "key_prefix", prefix)
				}
				slog.Error("panic recovered", attrs...)
				response.Error(w, http.StatusInternalServerError,
					"INTERNAL_ERROR", "An unexpected error occurred", nil)
			}
		}()
		next.ServeHTTP(w, r)
	})
}
