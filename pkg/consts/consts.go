package consts

import "time"

const (
	// MaxDeliverySize represents the maximum size of the webhook payload we
	// process, currently 256KB.
	MaxDeliverySize = 256 * 1024

	// SignatureTolerance is the maximum clock skew allowed between a
	// delivery's signed timestamp and our wall clock.  Deliveries outside
	// this window are rejected to prevent replays.
	SignatureTolerance = 300 * time.Second

	// JWKSCacheTTL is how long a fetched key set is served from cache before
	// a fresh fetch against the well-known endpoint.
	JWKSCacheTTL = time.Hour

	// JWKSFetchTimeout bounds the HTTP GET for a key set.
	JWKSFetchTimeout = 10 * time.Second

	// TelemetryTimeout bounds the POST of a single telemetry record.
	TelemetryTimeout = 5 * time.Second

	// APIClientTimeout bounds each platform REST call made on behalf of a
	// handler.
	APIClientTimeout = 30 * time.Second

	// RuntimeTokenIssuer is the issuer claim every runtime token must carry.
	RuntimeTokenIssuer = "kiket.dev"

	// JWKSPath is appended to the platform base URL to fetch signing keys.
	JWKSPath = "/.well-known/jwks.json"

	// ScopeWildcard grants every scope.
	ScopeWildcard = "*"
)
