// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import "time"

// Clock is the time source of a node's run loop and peer probes.
type Clock interface {
	Now() time.Time

	// NewTicker panics if d <= 0.
	NewTicker(d time.Duration) *Ticker
}

// Ticker delivers periodic ticks on C.
//
// C holds one tick. A consumer that falls behind loses ticks instead
// of queueing them, which only stretches protocol timeouts.
type Ticker struct {
	C <-chan time.Time

	stop func()
}

// Stop turns off the ticker without closing C.
func (t *Ticker) Stop() { t.stop() }

// Real returns the system clock.
func Real() Clock { return systemClock{} }

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

func (systemClock) NewTicker(d time.Duration) *Ticker {
	t := time.NewTicker(d)
	return &Ticker{C: t.C, stop: t.Stop}
}
