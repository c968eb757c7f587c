// Package request assigns every HTTP request an id.
package request

import (
	"net/http"
	"strings"

	"github.com/google/uuid"

	"rollcall/pkg/requestcontext"
)

const Header = "X-Request-ID"

// maxIncomingLength bounds ids accepted from callers.
const maxIncomingLength = 128

// RequestID reuses a caller-supplied id when reasonable and otherwise mints
// one. The id is echoed in the response header.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := strings.TrimSpace(r.Header.Get(Header))
		if requestID == "" || len(requestID) > maxIncomingLength {
			requestID = uuid.NewString()
		}
		w.Header().Set(Header, requestID)
		next.ServeHTTP(w, r.WithContext(requestcontext.WithRequestID(r.Context(), requestID)))
	})
}
