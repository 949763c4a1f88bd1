package middleware

import (
	"net/http"

	apperrors "courtslots/pkg/errors"
	httputil "courtslots/pkg/http"
)

// MaxRequestSize caps request bodies. Declared oversized bodies are rejected
// up front; others fail when the handler reads past the limit.
func MaxRequestSize(limit int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > limit {
				_ = httputil.WriteError(w, apperrors.New(
					apperrors.CodeInvalidInput,
					"Request body too large",
					http.StatusRequestEntityTooLarge,
				))
				return
			}
			r.Body = http.MaxBytesReader(w, r.Body, limit)
			next.ServeHTTP(w, r)
		})
	}
}
