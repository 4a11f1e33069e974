package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"
)

// Server runs the webhook API over HTTP with a graceful stop.
type Server struct {
	api  *API
	addr string
	srv  *http.Server
}

func NewServer(a *API, addr string) *Server {
	return &Server{api: a, addr: addr}
}

func (s *Server) Start(ctx context.Context) error {
	s.srv = &http.Server{
		Addr:    s.addr,
		Handler: s.api,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}
	s.api.log.Info(fmt.Sprintf("starting server on %s", s.addr))

	err := s.srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Stop(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.srv.Shutdown(ctx)
}
