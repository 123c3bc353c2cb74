package server

import (
	"context"
	"crypto/tls"
	"log/slog"
	"net"
	"time"
)

// DoTServer serves DNS-over-TLS (RFC 7858): the same length-prefixed wire
// format as plain DNS-over-TCP, but every connection is TLS-wrapped before
// the length-prefix framing in TCPServer takes over. It reuses TCPServer's
// accept loop, per-IP limiting, and pipelining by wrapping the same
// SO_REUSEPORT raw listeners with tls.NewListener.
type DoTServer struct {
	Logger    *slog.Logger
	Handler   *QueryHandler
	TLSConfig *tls.Config

	tcp TCPServer
}

// Run starts the DoT listener. One SO_REUSEPORT raw TCP listener is opened
// per CPU core, as TCPServer.Run does, and each is wrapped in TLS.
func (s *DoTServer) Run(ctx context.Context, addr string) error {
	s.tcp.Logger = s.Logger
	s.tcp.Handler = s.Handler

	return s.tcp.runWithListenerFactory(ctx, addr, func(ctx context.Context, addr string) (net.Listener, error) {
		ln, err := listenTCPReusePort(ctx, addr)
		if err != nil {
			return nil, err
		}
		return tls.NewListener(ln, s.TLSConfig), nil
	})
}

// Stop gracefully shuts down the DoT listener and its connections.
func (s *DoTServer) Stop(timeout time.Duration) error {
	return s.tcp.Stop(timeout)
}
