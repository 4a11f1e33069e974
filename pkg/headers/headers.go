package headers

import "net/http"

const (
	// HeaderKeySignature carries the legacy hex HMAC-SHA256 of a delivery.
	HeaderKeySignature = "X-Kiket-Signature"
	// HeaderKeyTimestamp carries the unix-second timestamp the signature
	// covers.
	HeaderKeyTimestamp = "X-Kiket-Timestamp"
	// HeaderKeyEventVersion selects a handler version when the route has no
	// version segment.
	HeaderKeyEventVersion = "X-Kiket-Event-Version"
)

func ContentTypeJsonResponse() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			next.ServeHTTP(w, r)
		})
	}
}
