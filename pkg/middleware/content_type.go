package middleware

import (
	"mime"
	"net/http"

	apperrors "courtslots/pkg/errors"
	httputil "courtslots/pkg/http"
	"courtslots/pkg/logger"
)

// ContentTypeValidation rejects bodies that are not JSON on POST, PUT and
// PATCH.
func ContentTypeValidation(log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if requiresContentType(r.Method) {
				contentType := extractContentType(r.Header.Get(httputil.HeaderContentType))
				if contentType != httputil.ContentTypeJSON {
					log.Warn("Invalid Content-Type header",
						"request_id", RequestIDFrom(r.Context()),
						"content_type", contentType,
						"path", r.URL.Path,
						"method", r.Method,
					)
					_ = httputil.WriteError(w, apperrors.New(
						apperrors.CodeInvalidInput,
						"Content-Type must be application/json",
						http.StatusUnsupportedMediaType,
					))
					return
				}
			}

			next.ServeHTTP(w, r)
		})
	}
}

func requiresContentType(method string) bool {
	return method == http.MethodPost || method == http.MethodPut || method == http.MethodPatch
}

func extractContentType(header string) string {
	if header == "" {
		return ""
	}
	mediaType, _, err := mime.ParseMediaType(header)
	if err != nil {
		return ""
	}
	return mediaType
}
