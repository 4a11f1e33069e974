// Package handler defines the capability surface a webhook handler receives.
package handler

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/kiket-dev/kiket-go-sdk/pkg/apiclient"
	"github.com/kiket-dev/kiket-go-sdk/pkg/scopes"
)

// Func is a user-supplied handler bound to an (event, version) pair.  The
// returned value becomes the HTTP response body;  a nil return yields a
// generic acknowledgement.  Handlers run synchronously from the dispatcher's
// point of view and may do their own concurrency internally.
type Func func(ctx context.Context, payload map[string]any, call *Call) (any, error)

// Identity describes the extension receiving the delivery.
type Identity struct {
	ID      string
	Version string
}

// Call is the per-invocation context handed to a handler.  It is constructed
// by the dispatcher after authentication and authorization succeed and is
// valid only for the duration of the invocation.
type Call struct {
	// InvocationID identifies this invocation in logs and telemetry.
	InvocationID uuid.UUID

	// Event and Version are the resolved routing pair.
	Event   string
	Version string

	// Headers are the delivery's request headers.
	Headers http.Header

	// API is the platform client, pre-bound with the delivery's verified
	// credential.  The dispatcher closes it when the invocation ends.
	API *apiclient.Client

	// Scopes are the scopes granted to this delivery's credential.
	Scopes []string

	// Extension identifies the running extension.
	Extension Identity

	// Settings are the extension's manifest settings.
	Settings map[string]any

	deliverySecrets map[string]string
	configSecrets   map[string]string
}

// NewCall is used by the dispatcher;  handlers never construct a Call.
func NewCall(event, version string, h http.Header, api *apiclient.Client, granted []string, ext Identity, settings map[string]any, deliverySecrets, configSecrets map[string]string) *Call {
	return &Call{
		InvocationID:    uuid.New(),
		Event:           event,
		Version:         version,
		Headers:         h,
		API:             api,
		Scopes:          granted,
		Extension:       ext,
		Settings:        settings,
		deliverySecrets: deliverySecrets,
		configSecrets:   configSecrets,
	}
}

// Secret resolves a named secret, preferring secrets delivered with this
// webhook over process configuration.
func (c *Call) Secret(name string) (string, error) {
	if v, ok := c.deliverySecrets[name]; ok {
		return v, nil
	}
	if v, ok := c.configSecrets[name]; ok {
		return v, nil
	}
	return "", fmt.Errorf("secret %q is not available", name)
}

// RequireScopes asserts that the delivery's credential grants every listed
// scope, for handlers that gate specific code paths beyond their registered
// requirements.
func (c *Call) RequireScopes(required ...string) error {
	missing := scopes.Missing(required, c.Scopes)
	if len(missing) > 0 {
		return fmt.Errorf("missing required scopes: %s", strings.Join(missing, ", "))
	}
	return nil
}
