// Package api terminates webhook HTTP traffic and feeds raw deliveries into
// the dispatcher.  It owns no verification or routing policy of its own.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/kiket-dev/kiket-go-sdk/pkg/consts"
	"github.com/kiket-dev/kiket-go-sdk/pkg/dispatch"
	"github.com/kiket-dev/kiket-go-sdk/pkg/event"
	"github.com/kiket-dev/kiket-go-sdk/pkg/handler"
	"github.com/kiket-dev/kiket-go-sdk/pkg/headers"
	"github.com/kiket-dev/kiket-go-sdk/pkg/logger"
	"github.com/kiket-dev/kiket-go-sdk/pkg/registry"
)

type Options struct {
	Dispatcher *dispatch.Dispatcher
	Registry   *registry.Registry
	Extension  handler.Identity
	Logger     logger.Logger
}

func NewAPI(o Options) *API {
	log := o.Logger
	if log == nil {
		log = logger.From(context.Background())
	}

	a := &API{
		Router:     chi.NewRouter(),
		dispatcher: o.Dispatcher,
		registry:   o.Registry,
		extension:  o.Extension,
		log:        log.With("caller", "api"),
	}

	a.Use(middleware.Recoverer)
	a.Use(headers.ContentTypeJsonResponse())

	a.Get("/health", a.health)
	a.Post("/webhooks/{event}", a.receive)
	a.Post("/v/{version}/webhooks/{event}", a.receive)

	return a
}

type API struct {
	chi.Router

	dispatcher *dispatch.Dispatcher
	registry   *registry.Registry
	extension  handler.Identity
	log        logger.Logger
}

func (a *API) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"extension": a.extension.ID,
		"version":   a.extension.Version,
		"events":    a.registry.EventNames(),
	})
}

func (a *API) receive(w http.ResponseWriter, r *http.Request) {
	defer func() { _ = r.Body.Close() }()

	if r.ContentLength > consts.MaxDeliverySize {
		writeJSON(w, http.StatusRequestEntityTooLarge, map[string]any{
			"error": "payload larger than maximum allowed 256KB",
		})
		return
	}

	// Read one byte past the cap so bodies with no declared length, eg.
	// chunked encoding, are rejected rather than silently truncated.
	body, err := io.ReadAll(io.LimitReader(r.Body, consts.MaxDeliverySize+1))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error": "could not read delivery body",
		})
		return
	}
	if len(body) > consts.MaxDeliverySize {
		writeJSON(w, http.StatusRequestEntityTooLarge, map[string]any{
			"error": "payload larger than maximum allowed 256KB",
		})
		return
	}

	del := event.NewDelivery(
		chi.URLParam(r, "event"),
		chi.URLParam(r, "version"),
		r.Header,
		r.URL.Query(),
		body,
	)

	a.log.Debug("received delivery", "delivery_id", del.ID.String(), "event", del.Event)

	resp := a.dispatcher.Dispatch(r.Context(), del)
	writeJSON(w, resp.StatusCode, resp.Body)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(body); err != nil {
		// Too late to change the status;  nothing else to do.
		_, _ = fmt.Fprint(w, `{"error":"could not encode response"}`)
	}
}
