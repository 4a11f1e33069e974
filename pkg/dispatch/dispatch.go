// Package dispatch orchestrates a webhook delivery end to end:  parse,
// authenticate, resolve the versioned handler, authorize, invoke, and record
// telemetry.  All cross-cutting knowledge lives here;  the verifiers,
// registry and reporter are leaves.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/kiket-dev/kiket-go-sdk/pkg/apiclient"
	"github.com/kiket-dev/kiket-go-sdk/pkg/authn"
	"github.com/kiket-dev/kiket-go-sdk/pkg/consts"
	"github.com/kiket-dev/kiket-go-sdk/pkg/event"
	"github.com/kiket-dev/kiket-go-sdk/pkg/handler"
	"github.com/kiket-dev/kiket-go-sdk/pkg/headers"
	"github.com/kiket-dev/kiket-go-sdk/pkg/logger"
	"github.com/kiket-dev/kiket-go-sdk/pkg/publicerr"
	"github.com/kiket-dev/kiket-go-sdk/pkg/registry"
	"github.com/kiket-dev/kiket-go-sdk/pkg/scopes"
	"github.com/kiket-dev/kiket-go-sdk/pkg/telemetry"
)

// Options configures a Dispatcher.  The registry, verifiers, cache and
// reporter are constructed by the caller and passed by handle so tests can
// use fresh instances.
type Options struct {
	Registry          *registry.Registry
	SignatureVerifier *authn.SignatureVerifier
	TokenVerifier     *authn.TokenVerifier
	Telemetry         *telemetry.Reporter

	// WebhookSecret is the shared secret for legacy HMAC deliveries.
	WebhookSecret string
	// BaseURL is the platform base URL, used for JWKS resolution and as the
	// API client target.
	BaseURL string
	// WorkspaceToken authenticates platform API calls for HMAC deliveries,
	// which carry no credential of their own.
	WorkspaceToken string

	Extension handler.Identity
	Settings  map[string]any
	// Secrets is the process-level secret store handlers fall back to when a
	// delivery carries no secret of the same name.
	Secrets map[string]string

	Logger logger.Logger
	Clock  clockwork.Clock
}

type Dispatcher struct {
	opts  Options
	log   logger.Logger
	clock clockwork.Clock
}

func New(o Options) *Dispatcher {
	log := o.Logger
	if log == nil {
		log = logger.From(context.Background())
	}
	clock := o.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Dispatcher{opts: o, log: log.With("caller", "dispatch"), clock: clock}
}

// Response is the shaped HTTP outcome of a dispatch.  The web layer writes
// it verbatim.
type Response struct {
	StatusCode int
	Body       any
}

// Dispatch runs one delivery through the full pipeline.  It never returns an
// error:  every failure is shaped into a client-visible response, and
// telemetry records invocation outcomes without affecting the response.
func (d *Dispatcher) Dispatch(ctx context.Context, del event.Delivery) *Response {
	log := d.log.With("delivery_id", del.ID.String(), "event", del.Event)

	payload, err := del.Payload()
	if err != nil {
		return respondErr(publicerr.Wrap(err, 400, "malformed delivery body"))
	}

	auth, err := d.authenticate(ctx, del)
	if err != nil {
		log.Warn("delivery failed authentication", "error", err)
		return respondErr(publicerr.Wrap(err, 401, err.Error()))
	}

	version := d.resolveVersion(del)
	if version == "" {
		return respondErr(publicerr.Errorf(400, "no event version in path, header or query"))
	}

	reg, resolved, ok := d.lookup(del.Event, version)
	if !ok {
		tried := []string{version}
		if alt := alternateVersion(version); alt != "" {
			tried = append(tried, alt)
		}
		return respondErr(publicerr.WithData(
			publicerr.Errorf(404, "no handler registered for event %q version %q", del.Event, version),
			map[string]any{"event": del.Event, "version": version, "tried_versions": tried},
		))
	}

	if missing := scopes.Missing(reg.RequiredScopes, auth.Scopes); len(missing) > 0 {
		log.Warn("delivery missing scopes", "missing", missing, "required", reg.RequiredScopes)
		return respondErr(publicerr.WithData(
			publicerr.Errorf(403, "insufficient scopes for event %q", del.Event),
			map[string]any{"missing_scopes": missing, "required_scopes": reg.RequiredScopes},
		))
	}

	return d.invoke(ctx, log, del, payload, auth, reg, resolved)
}

// authenticate picks the verifier from the credential the delivery carries.
// A runtime token in the body wins over signature headers;  a delivery with
// neither is rejected before any handler work.
func (d *Dispatcher) authenticate(ctx context.Context, del event.Delivery) (*authn.AuthContext, error) {
	if del.RuntimeToken() != "" {
		return d.opts.TokenVerifier.Verify(ctx, del, d.opts.BaseURL)
	}

	if del.Headers.Get(headers.HeaderKeySignature) != "" || del.Headers.Get(headers.HeaderKeyTimestamp) != "" {
		if err := d.opts.SignatureVerifier.Verify(d.opts.WebhookSecret, del.Body, del.Headers); err != nil {
			return nil, err
		}
		// The shared secret predates scoping and grants everything.
		return &authn.AuthContext{
			TokenType: authn.TokenTypeHmac,
			Scopes:    []string{consts.ScopeWildcard},
		}, nil
	}

	return nil, fmt.Errorf("delivery carries no credential")
}

// resolveVersion reads the version in priority order:  path segment, then
// the version header, then the query parameter.
func (d *Dispatcher) resolveVersion(del event.Delivery) string {
	if del.PathVersion != "" {
		return del.PathVersion
	}
	if v := del.Headers.Get(headers.HeaderKeyEventVersion); v != "" {
		return v
	}
	return del.Query.Get("version")
}

// lookup tries the exact (event, version) pair first, then a single
// normalized alternate:  a numeric version gains a "v" prefix, a v-prefixed
// version loses it.  Exact matches always win;  the fallback exists for
// platform payloads that disagree with manifests on the prefix and is a
// candidate for stricter validation.
func (d *Dispatcher) lookup(eventName, version string) (registry.Registration, string, bool) {
	if reg, ok := d.opts.Registry.Lookup(eventName, version); ok {
		return reg, version, true
	}
	if alt := alternateVersion(version); alt != "" {
		if reg, ok := d.opts.Registry.Lookup(eventName, alt); ok {
			return reg, alt, true
		}
	}
	return registry.Registration{}, version, false
}

func alternateVersion(version string) string {
	if isDigits(version) {
		return "v" + version
	}
	if len(version) > 1 && version[0] == 'v' && isDigits(version[1:]) {
		return version[1:]
	}
	return ""
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// invoke builds the per-invocation context, runs the handler, and records
// telemetry.  The API client is closed on every exit path, and no telemetry
// failure can alter the response being built.
func (d *Dispatcher) invoke(ctx context.Context, log logger.Logger, del event.Delivery, payload map[string]any, auth *authn.AuthContext, reg registry.Registration, version string) *Response {
	api := apiclient.New(d.opts.BaseURL, d.credential(del, auth))
	defer api.Close()

	call := handler.NewCall(
		del.Event,
		version,
		del.Headers,
		api,
		auth.Scopes,
		d.opts.Extension,
		d.opts.Settings,
		deliverySecrets(payload),
		d.opts.Secrets,
	)

	start := d.clock.Now()
	result, err := d.run(ctx, reg, payload, call)
	dur := d.clock.Since(start)

	if err != nil {
		log.Error("handler failed", "version", version, "duration", dur, "error", err)
		d.record(ctx, del, version, telemetry.StatusError, dur, err)

		if errors.Is(err, apiclient.ErrBadRequest) {
			return respondErr(publicerr.Wrap(err, 400, err.Error()))
		}
		return respondErr(publicerr.Wrap(err, 500, err.Error()))
	}

	log.Info("handler completed", "version", version, "duration", dur)
	d.record(ctx, del, version, telemetry.StatusOK, dur, nil)

	if result == nil {
		result = map[string]any{"status": "ok"}
	}
	return &Response{StatusCode: 200, Body: result}
}

// run invokes user code, containing panics as handler errors.
func (d *Dispatcher) run(ctx context.Context, reg registry.Registration, payload map[string]any, call *handler.Call) (result any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("handler panicked: %v", rec)
		}
	}()
	return reg.Handler(ctx, payload, call)
}

// credential returns the bearer credential the API client is bound with:
// the delivery's own runtime token, or the workspace token for legacy HMAC
// deliveries.
func (d *Dispatcher) credential(del event.Delivery, auth *authn.AuthContext) string {
	if auth.TokenType == authn.TokenTypeRuntime {
		return del.RuntimeToken()
	}
	return d.opts.WorkspaceToken
}

func deliverySecrets(payload map[string]any) map[string]string {
	raw, ok := payload["secrets"].(map[string]any)
	if !ok {
		return nil
	}
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		if s, ok := v.(string); ok {
			out[k] = s
		}
	}
	return out
}

func (d *Dispatcher) record(ctx context.Context, del event.Delivery, version, status string, dur time.Duration, handlerErr error) {
	if d.opts.Telemetry == nil {
		return
	}
	out := telemetry.Outcome{
		Event:      del.Event,
		Version:    version,
		Status:     status,
		DurationMS: dur.Milliseconds(),
		Extras:     map[string]any{"delivery_id": del.ID.String()},
	}
	if handlerErr != nil {
		out.Error = handlerErr.Error()
		out.ErrorType = fmt.Sprintf("%T", handlerErr)
	}
	d.opts.Telemetry.Record(ctx, out)
}

func respondErr(err error) *Response {
	e := publicerr.Error{}
	if !errors.As(err, &e) {
		e = publicerr.Error{Message: err.Error(), Status: publicerr.DefaultStatus}
	}

	body := map[string]any{"error": e.Message}
	for k, v := range e.Data {
		body[k] = v
	}
	return &Response{StatusCode: e.Status, Body: body}
}
