// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides the wall-clock source for the bootstore
// driver.
//
// The trust-quorum state machine never reads time: it counts abstract
// ticks. Something still has to decide when a tick happens, and that
// is the driver's ticker. Production code injects Real(); tests inject
// Fake() and call Advance to fire ticks deterministically, so a test
// can say "three ticks pass" without sleeping.
//
//	c := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	n, _ := node.New(node.Options{Clock: c, TickInterval: time.Second, ...})
//	go n.Run(ctx)
//	c.WaitForTickers(1)       // the run loop has created its ticker
//	c.Advance(3 * time.Second) // three ticks
package clock
