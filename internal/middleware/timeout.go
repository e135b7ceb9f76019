package middleware

import (
	"context"
	"net/http"
	"time"
)

// Timeout puts a deadline of d on the request context. Handlers observe it
// through ctx and decide the response themselves, so the ResponseWriter is
// only ever written from the handler goroutine.
func Timeout(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if d <= 0 {
				next.ServeHTTP(w, r)
				return
			}
			ctx, cancel := context.WithTimeout(r.Context(), d)
			defer cancel()

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
