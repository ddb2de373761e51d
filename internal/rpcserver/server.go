package rpcserver

import (
	"context"
	"io"
	"log/slog"
	"net"

	"github.com/antigravity-dev/agentco/internal/eventlog"
)

// Server owns the method table and event bus shared by every connection.
// Unlike the HTTP control surface it is grounded on, one Server instance
// serves many independent duplex connections rather than request/response
// pairs over a single mux.
type Server struct {
	router *Router
	bus    *eventlog.Bus
	logger *slog.Logger
}

func NewServer(router *Router, bus *eventlog.Bus, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{router: router, bus: bus, logger: logger}
}

// ServeConn runs one connection to completion: it blocks until ctx is
// canceled, rw.Close is observed by the reader returning EOF, or a
// non-EOF read error occurs.
func (s *Server) ServeConn(ctx context.Context, rw io.ReadWriteCloser) error {
	defer rw.Close()
	conn := newConn(s.router, s.bus, s.logger, rw)
	return conn.Serve(ctx, rw)
}

// Serve accepts connections on ln until ctx is canceled, serving each on
// its own goroutine. It mirrors the accept-loop-plus-ctx.Done shutdown
// shape used elsewhere in this codebase for long-running servers.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return err
			}
		}
		go func() {
			if err := s.ServeConn(ctx, conn); err != nil {
				s.logger.Warn("rpcserver connection closed", "err", err)
			}
		}()
	}
}
