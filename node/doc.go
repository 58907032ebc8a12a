// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package node runs a bootstore peer on a sled.
//
// A [Node] owns one [bootstore.Fsm] and a single event loop that
// serializes everything the Fsm sees: clock ticks at the configured
// tick interval, peers coming and going, frames delivered by the
// transport server, and local API calls. After each event the loop
// applies the Fsm's Output in order. It saves the persistent state
// through [Store] when asked to, then queues envelopes to the
// per-peer senders, then answers the API caller.
//
// Each configured peer has a goroutine that probes it with the hello
// endpoint every probe interval and drains a bounded outbound queue.
// A peer that answers with the expected identity is connected; a
// failed probe or send disconnects it. The Fsm re-sends anything a
// reconnecting peer missed.
//
// [Store] seals the state file with age to the node's key and any
// escrow recipients, and replaces it atomically.
package node
