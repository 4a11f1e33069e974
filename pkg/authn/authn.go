// Package authn verifies inbound webhook deliveries under the platform's two
// trust models:  legacy HMAC-signed payloads and runtime-token JWTs resolved
// against the platform's published key set.
package authn

import (
	"errors"
	"time"
)

type TokenType string

const (
	// TokenTypeHmac identifies deliveries authenticated by the legacy shared
	// secret signature.
	TokenTypeHmac TokenType = "hmac"
	// TokenTypeRuntime identifies deliveries authenticated by a runtime
	// token issued per invocation.
	TokenTypeRuntime TokenType = "runtime_token"
)

var (
	// ErrMissingSecret is returned when signature verification is attempted
	// without a configured webhook secret.
	ErrMissingSecret = errors.New("webhook secret is not configured")

	// ErrMissingHeader is returned when the signature or timestamp header is
	// absent from a legacy delivery.
	ErrMissingHeader = errors.New("missing signature or timestamp header")

	// ErrInvalidTimestamp is returned when the timestamp header is not a
	// unix-second integer.
	ErrInvalidTimestamp = errors.New("timestamp header is not a unix timestamp")

	// ErrTimestampOutOfRange is returned when the signed timestamp is
	// outside the allowed replay window.
	ErrTimestampOutOfRange = errors.New("timestamp outside of allowed window")

	// ErrInvalidSignature is returned on any signature mismatch, HMAC or JWT.
	ErrInvalidSignature = errors.New("invalid signature")

	// ErrMissingToken is returned when a delivery carries no runtime token.
	ErrMissingToken = errors.New("no runtime token in delivery")

	// ErrKeyFetchFailed is returned when the platform key set cannot be
	// retrieved or parsed.
	ErrKeyFetchFailed = errors.New("could not fetch platform key set")

	// ErrInvalidIssuer is returned when a token was not issued by the
	// platform.
	ErrInvalidIssuer = errors.New("token issuer is not the platform")

	// ErrTokenExpired is returned when a runtime token's expiry has elapsed.
	ErrTokenExpired = errors.New("runtime token has expired")
)

// AuthContext is the authenticated identity derived from a verified
// credential.  It is constructed once per delivery after verification
// succeeds and is read-only thereafter;  verification failure short-circuits
// before any context exists.
type AuthContext struct {
	TokenType TokenType
	// Subject is the token subject, empty for HMAC deliveries.
	Subject string
	// ExpiresAt is the token expiry, nil for HMAC deliveries.
	ExpiresAt *time.Time
	// Scopes are the granted scopes, possibly containing the wildcard.  HMAC
	// deliveries carry the wildcard:  the shared secret predates scoping and
	// grants everything.
	Scopes []string

	OrganizationID string
	ExtensionID    string
	ProjectID      string
}
