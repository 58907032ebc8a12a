// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"net"
	"net/http"
)

// Listener accepts inbound connections from peer nodes.
type Listener interface {
	// Serve starts accepting connections and dispatches to handler.
	// Blocks until ctx is cancelled or Close is called. Returns nil
	// on clean shutdown.
	Serve(ctx context.Context, handler http.Handler) error

	// Address returns the address peers dial, e.g. "10.0.0.1:7420".
	Address() string

	// Close shuts down the listener. Subsequent calls to Serve return
	// immediately.
	Close() error
}

// Dialer opens connections to peer nodes.
type Dialer interface {
	// DialContext opens a connection to the peer listening at address.
	DialContext(ctx context.Context, address string) (net.Conn, error)
}

// httpTransport returns an http.RoundTripper that opens every
// connection through dialer, to the host:port of the request URL.
func httpTransport(dialer Dialer) http.RoundTripper {
	return &http.Transport{
		DialContext: func(ctx context.Context, _, address string) (net.Conn, error) {
			return dialer.DialContext(ctx, address)
		},
		MaxIdleConnsPerHost: 2,
	}
}
