package authn

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/kiket-dev/kiket-go-sdk/pkg/consts"
	"github.com/kiket-dev/kiket-go-sdk/pkg/headers"
)

// SignatureVerifier validates legacy HMAC-signed deliveries.  It is a pure
// function of its inputs plus the wall clock, which is injectable for tests.
type SignatureVerifier struct {
	clock clockwork.Clock
}

func NewSignatureVerifier() *SignatureVerifier {
	return &SignatureVerifier{clock: clockwork.NewRealClock()}
}

func NewSignatureVerifierWithClock(clock clockwork.Clock) *SignatureVerifier {
	return &SignatureVerifier{clock: clock}
}

// Verify checks the delivery's signature and timestamp headers against the
// shared secret.  The signature covers the string "{timestamp}.{body}".
// Timestamps further than the tolerance window from now are rejected to
// prevent replays;  a skew of exactly the tolerance is accepted.
func (v *SignatureVerifier) Verify(secret string, body []byte, h http.Header) error {
	if secret == "" {
		return ErrMissingSecret
	}

	sig := h.Get(headers.HeaderKeySignature)
	ts := h.Get(headers.HeaderKeyTimestamp)
	if sig == "" || ts == "" {
		return ErrMissingHeader
	}

	unix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidTimestamp, ts)
	}

	skew := v.clock.Now().Sub(time.Unix(unix, 0))
	if skew < 0 {
		skew = -skew
	}
	if skew > consts.SignatureTolerance {
		return fmt.Errorf("%w: skew of %s", ErrTimestampOutOfRange, skew)
	}

	expected := Sign(secret, body, time.Unix(unix, 0))
	if !hmac.Equal([]byte(sig), []byte(expected)) {
		return ErrInvalidSignature
	}

	return nil
}

// Sign computes the hex HMAC-SHA256 of "{timestamp}.{body}" with the shared
// secret.  This is the platform-side shape;  the SDK exposes it for tests
// and local tooling.
func Sign(secret string, body []byte, ts time.Time) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = fmt.Fprintf(mac, "%d.", ts.Unix())
	_, _ = mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
