package event

import (
	"crypto/rand"
	"encoding/json"
	"net/http"
	"net/url"

	"github.com/oklog/ulid/v2"
)

// Delivery represents one inbound webhook request: the raw body, the request
// headers, and the event/version path segments the router extracted.  A
// delivery is immutable once constructed.
type Delivery struct {
	// ID is an internal ULID assigned on receipt, used to correlate logs and
	// telemetry for a single delivery.
	ID ulid.ULID

	// Event is the event name path segment, eg. "issue.created".
	Event string

	// PathVersion is the version path segment, if the versioned route was
	// used.  Empty otherwise.
	PathVersion string

	// Headers holds the request headers as received.
	Headers http.Header

	// Query holds the request query parameters.
	Query url.Values

	// Body is the raw request body.
	Body []byte
}

func NewDelivery(eventName, pathVersion string, headers http.Header, query url.Values, body []byte) Delivery {
	return Delivery{
		ID:          ulid.MustNew(ulid.Now(), rand.Reader),
		Event:       eventName,
		PathVersion: pathVersion,
		Headers:     headers,
		Query:       query,
		Body:        body,
	}
}

// Payload parses the delivery body as a JSON object.
func (d Delivery) Payload() (map[string]any, error) {
	payload := map[string]any{}
	if err := json.Unmarshal(d.Body, &payload); err != nil {
		return nil, err
	}
	return payload, nil
}

// Authentication is the envelope the platform embeds in runtime-token
// deliveries.  The scopes and expiry here are advisory copies;  the verified
// JWT claims are authoritative.
type Authentication struct {
	RuntimeToken string   `json:"runtime_token,omitempty"`
	Scopes       []string `json:"scopes,omitempty"`
	ExpiresAt    string   `json:"expires_at,omitempty"`
}

type envelope struct {
	Authentication *Authentication `json:"authentication,omitempty"`
}

// Authentication extracts the authentication envelope from the body, if
// present.  A body that is not a JSON object yields no envelope rather than
// an error;  body validation belongs to the dispatcher.
func (d Delivery) Authentication() *Authentication {
	env := envelope{}
	if err := json.Unmarshal(d.Body, &env); err != nil {
		return nil
	}
	return env.Authentication
}

// RuntimeToken returns the embedded runtime token, or "" when the delivery
// carries none.
func (d Delivery) RuntimeToken() string {
	auth := d.Authentication()
	if auth == nil {
		return ""
	}
	return auth.RuntimeToken
}
