// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"
)

var (
	_ Listener = (*TCPListener)(nil)
	_ Dialer   = (*TCPDialer)(nil)
)

// TCPListener accepts inbound TCP connections from peer nodes. Sleds
// on the bootstrap network reach each other directly.
type TCPListener struct {
	listener net.Listener
	server   *http.Server
}

// NewTCPListener listens on address (e.g. ":7420"). Use ":0" for a
// random available port.
func NewTCPListener(address string) (*TCPListener, error) {
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return nil, err
	}
	return &TCPListener{
		listener: listener,
		server: &http.Server{
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       30 * time.Second,
			WriteTimeout:      30 * time.Second,
		},
	}, nil
}

// Serve accepts connections and dispatches to handler until ctx is
// cancelled or Close is called.
func (l *TCPListener) Serve(ctx context.Context, handler http.Handler) error {
	l.server.Handler = handler

	stop := context.AfterFunc(ctx, func() { l.server.Close() })
	defer stop()

	err := l.server.Serve(l.listener)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Address returns the TCP address in "host:port" format.
func (l *TCPListener) Address() string {
	return l.listener.Addr().String()
}

// Close shuts down the listener and any active connections.
func (l *TCPListener) Close() error {
	err := l.server.Close()
	// Close before Serve leaves the listener open.
	l.listener.Close()
	return err
}

// TCPDialer opens TCP connections to peer nodes.
type TCPDialer struct {
	// Timeout bounds connection establishment. Zero means only the
	// context deadline applies.
	Timeout time.Duration
}

// DialContext opens a TCP connection to address (host:port).
func (d *TCPDialer) DialContext(ctx context.Context, address string) (net.Conn, error) {
	return (&net.Dialer{Timeout: d.Timeout}).DialContext(ctx, "tcp", address)
}
