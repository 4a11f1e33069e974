package authn

import (
	"context"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jonboulle/clockwork"
	"github.com/kiket-dev/kiket-go-sdk/pkg/consts"
	"github.com/kiket-dev/kiket-go-sdk/pkg/event"
)

// RuntimeClaims are the claims carried by a platform runtime token.
type RuntimeClaims struct {
	jwt.RegisteredClaims
	Scopes         []string `json:"scopes,omitempty"`
	OrganizationID string   `json:"org_id,omitempty"`
	ExtensionID    string   `json:"extension_id,omitempty"`
	ProjectID      string   `json:"project_id,omitempty"`
}

// TokenVerifier validates runtime tokens against the platform's published
// key set.  Verification may perform a network fetch through the JWKS cache.
type TokenVerifier struct {
	jwks  *JWKSCache
	clock clockwork.Clock
}

type TokenVerifierOpt func(v *TokenVerifier)

func WithTokenClock(clock clockwork.Clock) TokenVerifierOpt {
	return func(v *TokenVerifier) {
		v.clock = clock
	}
}

func NewTokenVerifier(jwks *JWKSCache, opts ...TokenVerifierOpt) *TokenVerifier {
	v := &TokenVerifier{
		jwks:  jwks,
		clock: clockwork.NewRealClock(),
	}
	for _, apply := range opts {
		apply(v)
	}
	return v
}

// Verify extracts the runtime token from the delivery, verifies it against
// the key set for baseURL, and returns the authenticated context.  Only
// ES256 signatures are accepted;  the issuer must be the platform and the
// expiry claim is required.
func (v *TokenVerifier) Verify(ctx context.Context, d event.Delivery, baseURL string) (*AuthContext, error) {
	token := d.RuntimeToken()
	if token == "" {
		return nil, ErrMissingToken
	}

	keys, err := v.jwks.Get(ctx, baseURL)
	if err != nil {
		return nil, err
	}

	claims := &RuntimeClaims{}
	_, err = jwt.ParseWithClaims(
		token,
		claims,
		keys.Keyfunc(),
		jwt.WithValidMethods([]string{jwt.SigningMethodES256.Alg()}),
		jwt.WithIssuer(consts.RuntimeTokenIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.clock.Now),
	)
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, fmt.Errorf("%w: %v", ErrTokenExpired, err)
		case errors.Is(err, jwt.ErrTokenInvalidIssuer):
			return nil, fmt.Errorf("%w: %v", ErrInvalidIssuer, err)
		default:
			return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
		}
	}

	auth := &AuthContext{
		TokenType:      TokenTypeRuntime,
		Subject:        claims.Subject,
		Scopes:         claims.Scopes,
		OrganizationID: claims.OrganizationID,
		ExtensionID:    claims.ExtensionID,
		ProjectID:      claims.ProjectID,
	}
	if claims.ExpiresAt != nil {
		exp := claims.ExpiresAt.Time
		auth.ExpiresAt = &exp
	}
	if auth.Scopes == nil {
		auth.Scopes = []string{}
	}
	return auth, nil
}
