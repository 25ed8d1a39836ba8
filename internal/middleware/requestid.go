package middleware

import (
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/jamesprial/storegate/internal/pipeline"
)

// maxRequestIDLength bounds caller-supplied request IDs.
const maxRequestIDLength = 128

// RequestID reuses the caller's X-Request-ID or generates a UUID. The ID is
// set on the response and on the request, so it reaches the backend.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := strings.TrimSpace(r.Header.Get(pipeline.RequestIDHeader))
		if requestID == "" || len(requestID) > maxRequestIDLength {
			requestID = uuid.New().String()
		}

		r.Header.Set(pipeline.RequestIDHeader, requestID)
		w.Header().Set(pipeline.RequestIDHeader, requestID)
		next.ServeHTTP(w, r)
	})
}
