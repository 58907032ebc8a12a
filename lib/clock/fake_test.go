// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"testing"
	"time"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func TestFakeClockNow(t *testing.T) {
	c := Fake(epoch)
	if !c.Now().Equal(epoch) {
		t.Fatalf("Now = %v, want %v", c.Now(), epoch)
	}
	c.Advance(90 * time.Second)
	if want := epoch.Add(90 * time.Second); !c.Now().Equal(want) {
		t.Fatalf("Now after Advance = %v, want %v", c.Now(), want)
	}
}

func TestFakeTickerFiresOnInterval(t *testing.T) {
	c := Fake(epoch)
	ticker := c.NewTicker(time.Second)
	defer ticker.Stop()

	c.Advance(500 * time.Millisecond)
	select {
	case <-ticker.C:
		t.Fatal("ticker fired before its interval")
	default:
	}

	c.Advance(500 * time.Millisecond)
	select {
	case fired := <-ticker.C:
		if want := epoch.Add(time.Second); !fired.Equal(want) {
			t.Errorf("tick time = %v, want %v", fired, want)
		}
	default:
		t.Fatal("ticker did not fire at its interval")
	}
}

func TestFakeTickerDropsOverflow(t *testing.T) {
	c := Fake(epoch)
	ticker := c.NewTicker(time.Second)
	defer ticker.Stop()

	c.Advance(5 * time.Second)
	<-ticker.C
	select {
	case <-ticker.C:
		t.Fatal("ticks beyond buffer capacity should be dropped")
	default:
	}

	// The schedule continues from where it left off.
	c.Advance(time.Second)
	select {
	case fired := <-ticker.C:
		if want := epoch.Add(6 * time.Second); !fired.Equal(want) {
			t.Errorf("tick time = %v, want %v", fired, want)
		}
	default:
		t.Fatal("ticker stopped firing after overflow")
	}
}

func TestFakeTickerStop(t *testing.T) {
	c := Fake(epoch)
	ticker := c.NewTicker(time.Second)
	ticker.Stop()

	c.Advance(3 * time.Second)
	select {
	case <-ticker.C:
		t.Fatal("stopped ticker fired")
	default:
	}
}

func TestFakeTickerPanicsOnNonPositive(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic")
		}
	}()
	Fake(epoch).NewTicker(0)
}

func TestWaitForTickers(t *testing.T) {
	c := Fake(epoch)
	ready := make(chan struct{})
	go func() {
		c.WaitForTickers(1)
		close(ready)
	}()

	ticker := c.NewTicker(time.Second)
	defer ticker.Stop()
	<-ready
}

func TestImplementsClock(t *testing.T) {
	var _ Clock = Fake(epoch)
	var _ Clock = Real()
}
