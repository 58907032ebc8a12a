// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package bootstore implements the trust-quorum protocol that lets the
// sleds of a rack jointly create a rack secret, hold it as threshold
// shares, admit sleds that join later, and reconstruct the secret on
// demand.
//
// [Fsm] is one peer's protocol state. It is synchronous and performs
// no I/O: every operation consumes one event (an API call, an inbound
// [Msg], a connectivity change, or a tick) and returns an [Output]
// describing what the caller must do. The caller (see package node)
// must durably save [Fsm.Persistent] whenever Output.Persist is set,
// and only then send Output.Envelopes. Time is measured in [Ticks],
// advanced once per [Fsm.Tick], so every timeout is reproducible in
// tests.
//
// A peer is in one of four states:
//
//   - uninitialized: no rack membership yet
//   - initial_member: received a [trustquorum.SharePkg] at rack init
//   - learning: asked to join after init, waiting for a share
//   - learned: holds a [trustquorum.LearnedSharePkg]
//
// Multi-party exchanges (rack init acknowledgements, share collection
// for a secret load, share collection on behalf of a learner) are
// tracked by [RequestManager], which owns their expiry.
//
// Secret material in messages is owned by whoever holds the message.
// Envelopes returned in an Output carry their own copies, and
// [Fsm.Handle] takes ownership of the material in the message it is
// given. [Msg.Close] releases it.
package bootstore
