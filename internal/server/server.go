// Package server hosts the broadcast relay that lets console instances on
// different machines see each other's mutations.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/golang/glog"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"owconsole/internal/broadcast"
)

// Server serves the relay websocket and health endpoint over HTTP/1.1 and
// cleartext HTTP/2.
type Server struct {
	hub        *broadcast.RelayHub
	httpServer *http.Server
}

// New builds a relay server listening on addr (":7070" or "7070"). A nil hub
// gets a fresh one.
func New(addr string, hub *broadcast.RelayHub) *Server {
	if hub == nil {
		hub = broadcast.NewRelayHub()
	}
	addr = strings.TrimSpace(addr)
	if addr != "" && !strings.Contains(addr, ":") {
		addr = ":" + addr
	}
	return &Server{
		hub: hub,
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           h2c.NewHandler(NewMux(hub), &http2.Server{}),
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

func (s *Server) Hub() *broadcast.RelayHub { return s.hub }

// Start listens on the configured address and serves until Shutdown.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve serves on ln until Shutdown. A clean shutdown returns nil.
func (s *Server) Serve(ln net.Listener) error {
	glog.Infof("server: relay listening addr=%s ws=/ws health=/healthz", ln.Addr())
	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting connections and waits for handlers to return.
// Hijacked websocket connections are closed by their peers.
func (s *Server) Shutdown(ctx context.Context) error {
	glog.Infof("server: relay shutting down")
	return s.httpServer.Shutdown(ctx)
}
