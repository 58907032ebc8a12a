// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package transport carries bootstore messages between sleds over
// HTTP on TCP.
//
// Every node runs a [Server] behind a [Listener]. A message travels as
// a CBOR-encoded [Frame] POSTed to /bootstore/v0/message; the receiver
// decodes and validates it and hands it to its node, answering 204 once
// the node has queued it. GET /bootstore/v0/hello returns the node's
// identity and is how peers decide who is connected. The same server
// exposes /bootstore/v0/status as JSON and /metrics for Prometheus.
//
// [Client] is the sending side. Delivery is best effort: a failed Send
// is reported to the caller, which treats the peer as disconnected and
// relies on the state machine's re-sends.
//
// [Listener] and [Dialer] abstract the byte stream; [TCPListener] and
// [TCPDialer] are the implementations used on the bootstrap network.
package transport
