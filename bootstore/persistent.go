// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package bootstore

import (
	"fmt"

	"github.com/bureau-foundation/bootstore/trustquorum"
)

// PersistentStateVersion is the current on-disk layout.
const PersistentStateVersion = 1

// PersistentState is the part of an [Fsm] that survives a restart.
// Tracked requests, the clock, and the connected peer set are not
// saved: a restarted initializer forgets an unfinished rack init, and
// a restarted peer starts collecting shares afresh.
type PersistentState struct {
	Version int    `cbor:"version"`
	State   string `cbor:"state"`

	// SharePkg is set in the initial_member state.
	SharePkg *trustquorum.SharePkg `cbor:"share_pkg,omitempty"`

	// LearnedSharePkg is set in the learned state.
	LearnedSharePkg *trustquorum.LearnedSharePkg `cbor:"learned_share_pkg,omitempty"`

	// DistributedShares records the learner shares an initial member
	// has handed out, ordered by learner.
	DistributedShares []DistributedShare `cbor:"distributed_shares,omitempty"`
}

// DistributedShare records that Learner was given the learner share
// with index Index.
type DistributedShare struct {
	Learner Baseboard `cbor:"learner"`
	Index   int       `cbor:"index"`
}

// Persistent returns the state to save after an Output with Persist
// set. The packages it references still belong to the Fsm: encode
// the result before the next call and do not Close it.
func (f *Fsm) Persistent() PersistentState {
	state := PersistentState{
		Version: PersistentStateVersion,
		State:   f.state.Name(),
	}
	f.state.persistent(&state)
	return state
}

// Restore rebuilds a peer from saved state. The Fsm takes ownership of
// the packages in state, including on error. A peer restored in the
// learning state starts a new attempt on its first tick or connection.
func Restore(id Baseboard, config Config, state PersistentState) (*Fsm, error) {
	fail := func(err error) (*Fsm, error) {
		state.SharePkg.Close()
		state.LearnedSharePkg.Close()
		return nil, err
	}
	if state.Version != PersistentStateVersion {
		return fail(fmt.Errorf("unsupported state version %d", state.Version))
	}

	switch state.State {
	case "uninitialized", "learning":
		if state.SharePkg != nil || state.LearnedSharePkg != nil {
			return fail(fmt.Errorf("%s state carries a share package", state.State))
		}
		if state.State == "learning" {
			return newFsm(id, config, &learning{}), nil
		}
		return New(id, config), nil

	case "initial_member":
		if state.LearnedSharePkg != nil {
			return fail(fmt.Errorf("initial member state carries a learned share package"))
		}
		if err := validSharePkg(state.SharePkg); err != nil {
			return fail(fmt.Errorf("restoring initial member: %w", err))
		}
		member := newInitialMember(state.SharePkg)
		for _, distributed := range state.DistributedShares {
			if distributed.Learner.IsZero() || distributed.Index < state.SharePkg.Members {
				return fail(fmt.Errorf("invalid distributed share %d to %q", distributed.Index, distributed.Learner))
			}
			member.distributedShares[distributed.Learner] = distributed.Index
		}
		return newFsm(id, config, member), nil

	case "learned":
		if state.SharePkg != nil {
			return fail(fmt.Errorf("learned state carries a founding share package"))
		}
		if err := validLearnedSharePkg(state.LearnedSharePkg); err != nil {
			return fail(fmt.Errorf("restoring learned peer: %w", err))
		}
		return newFsm(id, config, newLearned(state.LearnedSharePkg)), nil

	default:
		return fail(fmt.Errorf("unknown state %q", state.State))
	}
}
