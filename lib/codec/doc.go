// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides the bootstore's single CBOR configuration.
//
// Two things are encoded with it: protocol frames exchanged between
// peers (requests, responses, share packages) and the persistent
// state blob that the driver seals and writes to disk. Both sides of
// a connection and both directions of a save/load must agree byte for
// byte, so every package goes through [Marshal] and [Unmarshal] rather
// than configuring fxamacker/cbor itself.
//
// Encoding uses Core Deterministic Encoding (RFC 8949 §4.2): sorted
// map keys, smallest integer encoding, no indefinite-length items.
// Types implementing encoding.TextMarshaler (peer baseboards, UUIDs)
// are written as CBOR text strings.
//
// Types in this repository carry `cbor` struct tags only. Nothing here
// is ever rendered as JSON.
package codec
