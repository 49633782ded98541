/*
Copyright 2024 The WinCC PG Gateway Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package wire

import (
	"context"
	"net"

	"github.com/gravitational/trace"
)

// Server accepts Postgres wire connections on a single listener and serves
// each on its own goroutine until its context is canceled.
type Server struct {
	listener net.Listener
	cfg      Config
}

// Listen binds addr and returns a Server ready to Serve.
func Listen(addr string, cfg Config) (*Server, error) {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, trace.Wrap(err, "listening on %s", addr)
	}
	return &Server{listener: l, cfg: cfg}, nil
}

// Addr returns the bound address, useful when addr was ":0" in tests.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Serve accepts connections until ctx is canceled or the listener fails.
// It closes the listener before returning.
func (s *Server) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		_ = s.listener.Close()
	}()

	for {
		netConn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return trace.Wrap(err, "accept failed")
			}
		}
		s.configureKeepAlive(netConn)
		go Serve(ctx, netConn, s.cfg)
	}
}

// Close closes the underlying listener without waiting for ctx to cancel.
func (s *Server) Close() error {
	return s.listener.Close()
}

// configureKeepAlive enables TCP keep-alive probing on accepted connections
// so a dead client (power loss, network partition) is eventually noticed
// and its Session cleaned up, rather than leaking a goroutine forever.
func (s *Server) configureKeepAlive(netConn net.Conn) {
	if s.cfg.KeepAliveInterval <= 0 {
		return
	}
	tcpConn, ok := netConn.(*net.TCPConn)
	if !ok {
		return
	}
	_ = tcpConn.SetKeepAlive(true)
	_ = tcpConn.SetKeepAlivePeriod(s.cfg.KeepAliveInterval)
}
