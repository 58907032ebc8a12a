// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package control is the operator interface of a running node: a
// CBOR request/response protocol on a Unix socket.
//
// A request is a CBOR map whose "action" field selects a handler
// registered with [Server.Handle]; the remaining fields are the
// handler's arguments. Every reply is a [Response]: ok, an error
// message, or CBOR data. Each connection carries exactly one request,
// and the socket is created mode 0600 so only the node's user can
// drive it.
package control
