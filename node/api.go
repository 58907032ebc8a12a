// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package node

import (
	"errors"

	"github.com/google/uuid"

	"github.com/bureau-foundation/bootstore/bootstore"
)

type operation uint8

const (
	opInitRack operation = iota
	opInitLearner
	opLoadRackSecret
)

func (o operation) String() string {
	switch o {
	case opInitRack:
		return "init_rack"
	case opInitLearner:
		return "init_learner"
	default:
		return "load_rack_secret"
	}
}

// apiCall is a local API request travelling through the event loop.
// reply is buffered and receives exactly one result.
type apiCall struct {
	op       operation
	rackUUID uuid.UUID
	members  []bootstore.Baseboard
	reply    chan *bootstore.APIResult
}

// resultOperation maps a result the Fsm produced on a later event back
// to the operation that started it.
func resultOperation(result *bootstore.APIResult) operation {
	switch result.Value.(type) {
	case bootstore.RackInitComplete:
		return opInitRack
	case bootstore.LearningCompleted:
		return opInitLearner
	case bootstore.RackSecretLoaded:
		return opLoadRackSecret
	}
	if errors.Is(result.Err, bootstore.ErrRackInitTimeout) || errors.Is(result.Err, bootstore.ErrRackInitFailed) {
		return opInitRack
	}
	return opLoadRackSecret
}

// copyResult duplicates result for another waiter.
func copyResult(result *bootstore.APIResult) *bootstore.APIResult {
	loaded, ok := result.Value.(bootstore.RackSecretLoaded)
	if !ok {
		return &bootstore.APIResult{Value: result.Value, Err: result.Err}
	}
	clone, err := loaded.Secret.Clone()
	if err != nil {
		return &bootstore.APIResult{Err: err}
	}
	return &bootstore.APIResult{Value: bootstore.RackSecretLoaded{Secret: clone}}
}

// closeResult zeroes any secret result carries.
func closeResult(result *bootstore.APIResult) {
	if result == nil {
		return
	}
	if loaded, ok := result.Value.(bootstore.RackSecretLoaded); ok {
		loaded.Secret.Close()
	}
}
