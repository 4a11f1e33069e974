package dispatch

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/kiket-dev/kiket-go-sdk/pkg/apiclient"
	"github.com/kiket-dev/kiket-go-sdk/pkg/authn"
	"github.com/kiket-dev/kiket-go-sdk/pkg/consts"
	"github.com/kiket-dev/kiket-go-sdk/pkg/event"
	"github.com/kiket-dev/kiket-go-sdk/pkg/handler"
	"github.com/kiket-dev/kiket-go-sdk/pkg/headers"
	"github.com/kiket-dev/kiket-go-sdk/pkg/logger"
	"github.com/kiket-dev/kiket-go-sdk/pkg/registry"
	"github.com/kiket-dev/kiket-go-sdk/pkg/telemetry"
	"github.com/stretchr/testify/require"
)

type outcomeSink struct {
	mu       sync.Mutex
	outcomes []telemetry.Outcome
}

func (s *outcomeSink) callback(out telemetry.Outcome) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outcomes = append(s.outcomes, out)
}

func (s *outcomeSink) all() []telemetry.Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]telemetry.Outcome{}, s.outcomes...)
}

type env struct {
	registry *registry.Registry
	reporter *telemetry.Reporter
	sink     *outcomeSink
	priv     *ecdsa.PrivateKey
	d        *Dispatcher
}

func newEnv(t *testing.T) *env {
	t.Helper()
	t.Setenv("DO_NOT_TRACK", "")

	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	doc, err := json.Marshal(map[string]any{
		"keys": []map[string]string{{
			"kty": "EC",
			"crv": "P-256",
			"kid": "key-1",
			"x":   base64.RawURLEncoding.EncodeToString(priv.PublicKey.X.FillBytes(make([]byte, 32))),
			"y":   base64.RawURLEncoding.EncodeToString(priv.PublicKey.Y.FillBytes(make([]byte, 32))),
		}},
	})
	require.NoError(t, err)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/.well-known/jwks.json" {
			_, _ = w.Write(doc)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(srv.Close)

	reg := registry.New()
	sink := &outcomeSink{}
	reporter := telemetry.NewReporter(telemetry.Options{
		Enabled:  true,
		Callback: sink.callback,
		Logger:   logger.VoidLogger(),
	})

	d := New(Options{
		Registry:          reg,
		SignatureVerifier: authn.NewSignatureVerifier(),
		TokenVerifier:     authn.NewTokenVerifier(authn.NewJWKSCache()),
		Telemetry:         reporter,
		WebhookSecret:     "s",
		BaseURL:           srv.URL,
		WorkspaceToken:    "wk_token",
		Extension:         handler.Identity{ID: "ext_abc", Version: "1.2.3"},
		Settings:          map[string]any{"color": "green"},
		Secrets:           map[string]string{"api_key": "from-config"},
		Logger:            logger.VoidLogger(),
	})

	return &env{registry: reg, reporter: reporter, sink: sink, priv: priv, d: d}
}

func signedDelivery(t *testing.T, eventName, pathVersion, secret string, body []byte) event.Delivery {
	t.Helper()

	now := time.Now()
	h := http.Header{}
	h.Set(headers.HeaderKeySignature, authn.Sign(secret, body, now))
	h.Set(headers.HeaderKeyTimestamp, strconv.FormatInt(now.Unix(), 10))
	return event.NewDelivery(eventName, pathVersion, h, url.Values{}, body)
}

func (e *env) tokenDelivery(t *testing.T, eventName, pathVersion string, scopes []string) event.Delivery {
	t.Helper()

	tok := jwt.NewWithClaims(jwt.SigningMethodES256, authn.RuntimeClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    consts.RuntimeTokenIssuer,
			Subject:   "ext_abc",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Scopes:      scopes,
		ExtensionID: "ext_abc",
	})
	tok.Header["kid"] = "key-1"
	signed, err := tok.SignedString(e.priv)
	require.NoError(t, err)

	body, err := json.Marshal(map[string]any{
		"x":              1,
		"authentication": map[string]any{"runtime_token": signed, "scopes": scopes},
	})
	require.NoError(t, err)
	return event.NewDelivery(eventName, pathVersion, http.Header{}, url.Values{}, body)
}

func echoHandler(result any) handler.Func {
	return func(ctx context.Context, payload map[string]any, call *handler.Call) (any, error) {
		return result, nil
	}
}

func TestSignedDeliveryDispatches(t *testing.T) {
	e := newEnv(t)
	e.registry.Register("evt", "v1", echoHandler(map[string]any{"handled": true}))

	resp := e.d.Dispatch(context.Background(), signedDelivery(t, "evt", "v1", "s", []byte(`{"x":1}`)))
	require.Equal(t, 200, resp.StatusCode)
	require.Equal(t, map[string]any{"handled": true}, resp.Body)

	e.reporter.Wait()
	outs := e.sink.all()
	require.Len(t, outs, 1)
	require.Equal(t, telemetry.StatusOK, outs[0].Status)
	require.Equal(t, "evt", outs[0].Event)
	require.Equal(t, "v1", outs[0].Version)
}

func TestBadSignatureIsRejected(t *testing.T) {
	e := newEnv(t)
	invoked := false
	e.registry.Register("evt", "v1", func(ctx context.Context, payload map[string]any, call *handler.Call) (any, error) {
		invoked = true
		return nil, nil
	})

	del := signedDelivery(t, "evt", "v1", "s", []byte(`{"x":1}`))
	del.Headers.Set(headers.HeaderKeySignature, "bad")

	resp := e.d.Dispatch(context.Background(), del)
	require.Equal(t, 401, resp.StatusCode)
	require.False(t, invoked)

	// Authentication failures produce no invocation telemetry.
	e.reporter.Wait()
	require.Empty(t, e.sink.all())
}

func TestNoCredentialIsRejected(t *testing.T) {
	e := newEnv(t)
	e.registry.Register("evt", "v1", echoHandler(nil))

	del := event.NewDelivery("evt", "v1", http.Header{}, url.Values{}, []byte(`{"x":1}`))
	resp := e.d.Dispatch(context.Background(), del)
	require.Equal(t, 401, resp.StatusCode)
}

func TestMalformedBodyIsRejected(t *testing.T) {
	e := newEnv(t)
	resp := e.d.Dispatch(context.Background(), signedDelivery(t, "evt", "v1", "s", []byte(`{oops`)))
	require.Equal(t, 400, resp.StatusCode)
}

func TestUnregisteredVersionIs404(t *testing.T) {
	e := newEnv(t)
	e.registry.Register("evt", "v2", echoHandler(nil))

	resp := e.d.Dispatch(context.Background(), signedDelivery(t, "evt", "v1", "s", []byte(`{"x":1}`)))
	require.Equal(t, 404, resp.StatusCode)

	body, ok := resp.Body.(map[string]any)
	require.True(t, ok)
	require.Equal(t, "v1", body["version"])
	require.Equal(t, []string{"v1", "1"}, body["tried_versions"])
	require.Contains(t, body["error"], "v1")
}

func TestUnresolvableVersionListsOnlyItself(t *testing.T) {
	// A version with no normalized alternate reports a single tried form.
	e := newEnv(t)

	resp := e.d.Dispatch(context.Background(), signedDelivery(t, "evt", "beta", "s", []byte(`{"x":1}`)))
	require.Equal(t, 404, resp.StatusCode)

	body, ok := resp.Body.(map[string]any)
	require.True(t, ok)
	require.Equal(t, []string{"beta"}, body["tried_versions"])
}

func TestVersionNormalizationFallback(t *testing.T) {
	tests := []struct {
		name       string
		registered string
		requested  string
	}{
		{name: "numeric version gains v prefix", registered: "v1", requested: "1"},
		{name: "v-prefixed version is stripped", registered: "2", requested: "v2"},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			e := newEnv(t)
			var gotVersion string
			e.registry.Register("evt", test.registered, func(ctx context.Context, payload map[string]any, call *handler.Call) (any, error) {
				gotVersion = call.Version
				return nil, nil
			})

			resp := e.d.Dispatch(context.Background(), signedDelivery(t, "evt", test.requested, "s", []byte(`{"x":1}`)))
			require.Equal(t, 200, resp.StatusCode)
			require.Equal(t, test.registered, gotVersion)
		})
	}
}

func TestExactVersionWinsOverFallback(t *testing.T) {
	e := newEnv(t)
	e.registry.Register("evt", "1", echoHandler("exact"))
	e.registry.Register("evt", "v1", echoHandler("prefixed"))

	resp := e.d.Dispatch(context.Background(), signedDelivery(t, "evt", "1", "s", []byte(`{"x":1}`)))
	require.Equal(t, 200, resp.StatusCode)
	require.Equal(t, "exact", resp.Body)
}

func TestVersionResolutionOrder(t *testing.T) {
	e := newEnv(t)
	e.registry.Register("evt", "v1", echoHandler("v1"))
	e.registry.Register("evt", "v2", echoHandler("v2"))

	t.Run("path wins over header", func(t *testing.T) {
		del := signedDelivery(t, "evt", "v1", "s", []byte(`{"x":1}`))
		del.Headers.Set(headers.HeaderKeyEventVersion, "v2")
		resp := e.d.Dispatch(context.Background(), del)
		require.Equal(t, "v1", resp.Body)
	})

	t.Run("header wins over query", func(t *testing.T) {
		del := signedDelivery(t, "evt", "", "s", []byte(`{"x":1}`))
		del.Headers.Set(headers.HeaderKeyEventVersion, "v2")
		del.Query = url.Values{"version": []string{"v1"}}
		resp := e.d.Dispatch(context.Background(), del)
		require.Equal(t, "v2", resp.Body)
	})

	t.Run("query alone", func(t *testing.T) {
		del := signedDelivery(t, "evt", "", "s", []byte(`{"x":1}`))
		del.Query = url.Values{"version": []string{"v2"}}
		resp := e.d.Dispatch(context.Background(), del)
		require.Equal(t, "v2", resp.Body)
	})

	t.Run("no version anywhere", func(t *testing.T) {
		del := signedDelivery(t, "evt", "", "s", []byte(`{"x":1}`))
		resp := e.d.Dispatch(context.Background(), del)
		require.Equal(t, 400, resp.StatusCode)
	})
}

func TestInsufficientScopesIs403(t *testing.T) {
	e := newEnv(t)
	invoked := false
	e.registry.Register("evt", "v1", func(ctx context.Context, payload map[string]any, call *handler.Call) (any, error) {
		invoked = true
		return nil, nil
	}, "read", "write")

	resp := e.d.Dispatch(context.Background(), e.tokenDelivery(t, "evt", "v1", []string{"read"}))
	require.Equal(t, 403, resp.StatusCode)
	require.False(t, invoked)

	body, ok := resp.Body.(map[string]any)
	require.True(t, ok)
	require.Equal(t, []string{"write"}, body["missing_scopes"])
	require.Equal(t, []string{"read", "write"}, body["required_scopes"])
}

func TestWildcardScopeAuthorizesEverything(t *testing.T) {
	e := newEnv(t)
	invoked := false
	e.registry.Register("evt", "v1", func(ctx context.Context, payload map[string]any, call *handler.Call) (any, error) {
		invoked = true
		return nil, nil
	}, "read", "write")

	resp := e.d.Dispatch(context.Background(), e.tokenDelivery(t, "evt", "v1", []string{"*"}))
	require.Equal(t, 200, resp.StatusCode)
	require.True(t, invoked)
}

func TestHmacDeliveriesAreFullyScoped(t *testing.T) {
	// The shared secret predates scoping, so a signed delivery satisfies
	// any scope requirement.
	e := newEnv(t)
	e.registry.Register("evt", "v1", echoHandler("ran"), "issues.read")

	resp := e.d.Dispatch(context.Background(), signedDelivery(t, "evt", "v1", "s", []byte(`{"x":1}`)))
	require.Equal(t, 200, resp.StatusCode)
	require.Equal(t, "ran", resp.Body)
}

func TestNilHandlerResultAcknowledges(t *testing.T) {
	e := newEnv(t)
	e.registry.Register("evt", "v1", echoHandler(nil))

	resp := e.d.Dispatch(context.Background(), signedDelivery(t, "evt", "v1", "s", []byte(`{"x":1}`)))
	require.Equal(t, 200, resp.StatusCode)
	require.Equal(t, map[string]any{"status": "ok"}, resp.Body)
}

func TestHandlerErrorIs500WithTelemetry(t *testing.T) {
	e := newEnv(t)
	e.registry.Register("evt", "v1", func(ctx context.Context, payload map[string]any, call *handler.Call) (any, error) {
		return nil, errors.New("database is down")
	})

	resp := e.d.Dispatch(context.Background(), signedDelivery(t, "evt", "v1", "s", []byte(`{"x":1}`)))
	require.Equal(t, 500, resp.StatusCode)

	body, ok := resp.Body.(map[string]any)
	require.True(t, ok)
	require.Equal(t, "database is down", body["error"])

	e.reporter.Wait()
	outs := e.sink.all()
	require.Len(t, outs, 1)
	require.Equal(t, telemetry.StatusError, outs[0].Status)
	require.Equal(t, "database is down", outs[0].Error)
	require.Equal(t, "*errors.errorString", outs[0].ErrorType)
}

func TestHandlerPanicIs500(t *testing.T) {
	e := newEnv(t)
	e.registry.Register("evt", "v1", func(ctx context.Context, payload map[string]any, call *handler.Call) (any, error) {
		panic("handler bug")
	})

	resp := e.d.Dispatch(context.Background(), signedDelivery(t, "evt", "v1", "s", []byte(`{"x":1}`)))
	require.Equal(t, 500, resp.StatusCode)

	e.reporter.Wait()
	outs := e.sink.all()
	require.Len(t, outs, 1)
	require.Equal(t, telemetry.StatusError, outs[0].Status)
	require.Contains(t, outs[0].Error, "handler bug")
}

func TestClientBadRequestIs400(t *testing.T) {
	e := newEnv(t)
	e.registry.Register("evt", "v1", func(ctx context.Context, payload map[string]any, call *handler.Call) (any, error) {
		return nil, fmt.Errorf("%w: malformed record", apiclient.ErrBadRequest)
	})

	resp := e.d.Dispatch(context.Background(), signedDelivery(t, "evt", "v1", "s", []byte(`{"x":1}`)))
	require.Equal(t, 400, resp.StatusCode)

	e.reporter.Wait()
	outs := e.sink.all()
	require.Len(t, outs, 1)
	require.Equal(t, telemetry.StatusError, outs[0].Status)
}

func TestCallContext(t *testing.T) {
	e := newEnv(t)

	var got *handler.Call
	var payload map[string]any
	e.registry.Register("evt", "v1", func(ctx context.Context, p map[string]any, call *handler.Call) (any, error) {
		got = call
		payload = p
		return nil, nil
	}, "read")

	body := []byte(`{"x":1,"secrets":{"api_key":"from-delivery"}}`)
	resp := e.d.Dispatch(context.Background(), signedDelivery(t, "evt", "v1", "s", body))
	require.Equal(t, 200, resp.StatusCode)
	require.NotNil(t, got)

	require.Equal(t, "evt", got.Event)
	require.Equal(t, "v1", got.Version)
	require.Equal(t, []string{"*"}, got.Scopes)
	require.Equal(t, handler.Identity{ID: "ext_abc", Version: "1.2.3"}, got.Extension)
	require.Equal(t, map[string]any{"color": "green"}, got.Settings)
	require.NotNil(t, got.API)
	require.Equal(t, float64(1), payload["x"])

	// Delivery secrets shadow process configuration.
	v, err := got.Secret("api_key")
	require.NoError(t, err)
	require.Equal(t, "from-delivery", v)
}

func TestExpiredTokenIs401(t *testing.T) {
	e := newEnv(t)
	e.registry.Register("evt", "v1", echoHandler(nil))

	tok := jwt.NewWithClaims(jwt.SigningMethodES256, authn.RuntimeClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    consts.RuntimeTokenIssuer,
			Subject:   "ext_abc",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		},
	})
	tok.Header["kid"] = "key-1"
	signed, err := tok.SignedString(e.priv)
	require.NoError(t, err)

	body, err := json.Marshal(map[string]any{
		"authentication": map[string]any{"runtime_token": signed},
	})
	require.NoError(t, err)

	del := event.NewDelivery("evt", "v1", http.Header{}, url.Values{}, body)
	resp := e.d.Dispatch(context.Background(), del)
	require.Equal(t, 401, resp.StatusCode)
}
