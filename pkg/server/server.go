// Package server implements the TCP accept loop that turns raw framed
// connections into Jobs for a dispatcher.Dispatcher.
package server

import (
	"context"
	"net"

	"replikv/pkg/dispatcher"
	"replikv/pkg/logger"
	"replikv/pkg/metrics"
	"replikv/pkg/wire"
)

// Server binds one listener and hands every accepted connection's
// frames to a Dispatcher, one request at a time per connection.
type Server struct {
	address string
	disp    dispatcher.Dispatcher

	listener net.Listener
}

// New builds a Server. It does not bind the listener; call Start for
// that.
func New(address string, disp dispatcher.Dispatcher) *Server {
	return &Server{address: address, disp: disp}
}

// Start binds the listener and runs the accept loop in a goroutine. A
// bind failure is returned directly as Start's error (so callers see
// startup failures immediately). Otherwise Start returns a channel that
// receives at most one error: the Accept failure that ends the loop,
// including the one caused by Drain closing the listener.
func (s *Server) Start() (<-chan error, error) {
	ln, err := net.Listen("tcp", s.address)
	if err != nil {
		return nil, err
	}
	s.listener = ln

	errCh := make(chan error, 1)
	go s.acceptLoop(errCh)
	return errCh, nil
}

func (s *Server) acceptLoop(errCh chan<- error) {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			errCh <- err
			return
		}
		metrics.ConnectionsAccepted.Inc()
		go s.serve(conn)
	}
}

func (s *Server) serve(conn net.Conn) {
	defer conn.Close()

	for {
		payload, err := wire.ReadFrame(conn)
		if err != nil {
			return
		}

		reply := make(chan []byte, 1)
		s.disp.Submit(dispatcher.Job{Request: payload, Reply: reply})
		respPayload := <-reply

		if err := wire.WriteFrame(conn, respPayload); err != nil {
			logger.Debug("connection_write_failed", "remote", conn.RemoteAddr(), "error", err)
			return
		}
	}
}

// Drain closes the listener, satisfying shutdown.Drainer. In-flight
// connections are left to finish their current request/response on
// their own; the listener close only stops new connections from being
// accepted.
func (s *Server) Drain(ctx context.Context) error {
	if s.listener == nil {
		return nil
	}
	return s.listener.Close()
}
