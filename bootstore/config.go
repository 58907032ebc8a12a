// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package bootstore

import "fmt"

// Ticks counts calls to [Fsm.Tick]. All protocol timeouts are in
// ticks; the driver decides how much wall time one tick is.
type Ticks uint64

// Config holds the protocol timeouts.
type Config struct {
	// LearnTimeout is how long a learner waits on one peer before
	// asking the next. A member collects shares for a learner for the
	// same span.
	LearnTimeout Ticks

	// RackInitTimeout bounds rack initialization. When it passes
	// without every member acknowledging, the initializer reports
	// ErrRackInitTimeout.
	RackInitTimeout Ticks

	// RackSecretRequestTimeout bounds one round of share collection
	// for a local secret load.
	RackSecretRequestTimeout Ticks

	// RetryInterval re-sends unanswered Init and GetShare requests to
	// connected peers this often while they are outstanding. Zero
	// disables periodic re-sends; reconnecting peers are still sent
	// their backlog.
	RetryInterval Ticks
}

// DefaultConfig returns timeouts suited to a one second tick.
func DefaultConfig() Config {
	return Config{
		LearnTimeout:             5,
		RackInitTimeout:          300,
		RackSecretRequestTimeout: 10,
		RetryInterval:            3,
	}
}

// Validate rejects zero timeouts.
func (c Config) Validate() error {
	if c.LearnTimeout == 0 {
		return fmt.Errorf("learn timeout must be positive")
	}
	if c.RackInitTimeout == 0 {
		return fmt.Errorf("rack init timeout must be positive")
	}
	if c.RackSecretRequestTimeout == 0 {
		return fmt.Errorf("rack secret request timeout must be positive")
	}
	return nil
}
