// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"sync"
	"time"
)

// FakeClock is a Clock that moves only when Advance is called. It is
// safe for concurrent use.
type FakeClock struct {
	mu      sync.Mutex
	now     time.Time
	tickers map[*fakeTicker]struct{}
	added   *sync.Cond
}

type fakeTicker struct {
	due      time.Time
	interval time.Duration
	ch       chan time.Time
}

// Fake returns a FakeClock reading start.
func Fake(start time.Time) *FakeClock {
	c := &FakeClock{now: start, tickers: make(map[*fakeTicker]struct{})}
	c.added = sync.NewCond(&c.mu)
	return c
}

func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// NewTicker returns a ticker whose first tick is due d after the
// current fake time.
func (c *FakeClock) NewTicker(d time.Duration) *Ticker {
	if d <= 0 {
		panic("clock: non-positive interval for NewTicker")
	}
	ft := &fakeTicker{interval: d, ch: make(chan time.Time, 1)}

	c.mu.Lock()
	ft.due = c.now.Add(d)
	c.tickers[ft] = struct{}{}
	c.added.Broadcast()
	c.mu.Unlock()

	return &Ticker{C: ft.ch, stop: func() {
		c.mu.Lock()
		delete(c.tickers, ft)
		c.mu.Unlock()
	}}
}

// Advance moves the clock forward by d and fires every tick that
// became due, oldest first. Like time.Ticker, a tick that finds the
// channel full is lost. Call Advance once per interval when the
// consumer must see each tick.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	for ft := range c.tickers {
		for ; !ft.due.After(c.now); ft.due = ft.due.Add(ft.interval) {
			select {
			case ft.ch <- ft.due:
			default:
			}
		}
	}
}

// WaitForTickers blocks until n tickers are live, so a test does not
// advance the clock before a goroutine has created its ticker.
func (c *FakeClock) WaitForTickers(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for len(c.tickers) < n {
		c.added.Wait()
	}
}
