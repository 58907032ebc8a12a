// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package node

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/bureau-foundation/bootstore/bootstore"
	"github.com/bureau-foundation/bootstore/lib/codec"
	"github.com/bureau-foundation/bootstore/lib/control"
)

// Control socket actions.
const (
	ActionStatus         = "status"
	ActionInitRack       = "init-rack"
	ActionInitLearner    = "init-learner"
	ActionLoadRackSecret = "load-rack-secret"
)

// InitRackRequest is the body of an init-rack action. An empty
// RackUUID asks the node to generate one.
type InitRackRequest struct {
	RackUUID string   `cbor:"rack_uuid,omitempty"`
	Members  []string `cbor:"members"`
}

// InitRackResponse reports the rack the node initialized.
type InitRackResponse struct {
	RackUUID uuid.UUID `cbor:"rack_uuid"`
}

// LoadRackSecretResponse identifies the loaded secret. The secret
// itself never leaves the node.
type LoadRackSecretResponse struct {
	Fingerprint string `cbor:"fingerprint"`
}

// RegisterControl exposes n's local API on server.
func RegisterControl(server *control.Server, n *Node) {
	server.Handle(ActionStatus, func(context.Context, []byte) (any, error) {
		return n.Status(), nil
	})

	server.Handle(ActionInitRack, func(ctx context.Context, raw []byte) (any, error) {
		var request InitRackRequest
		if err := codec.Unmarshal(raw, &request); err != nil {
			return nil, fmt.Errorf("invalid init-rack request: %w", err)
		}
		rackUUID, members, err := request.parse()
		if err != nil {
			return nil, err
		}
		if err := n.InitRack(ctx, rackUUID, members); err != nil {
			return nil, err
		}
		return InitRackResponse{RackUUID: rackUUID}, nil
	})

	server.Handle(ActionInitLearner, func(ctx context.Context, _ []byte) (any, error) {
		return nil, n.InitLearner(ctx)
	})

	server.Handle(ActionLoadRackSecret, func(ctx context.Context, _ []byte) (any, error) {
		rackSecret, err := n.LoadRackSecret(ctx)
		if err != nil {
			return nil, err
		}
		defer rackSecret.Close()
		return LoadRackSecretResponse{Fingerprint: rackSecret.Fingerprint()}, nil
	})
}

func (r InitRackRequest) parse() (uuid.UUID, []bootstore.Baseboard, error) {
	rackUUID := uuid.New()
	if r.RackUUID != "" {
		parsed, err := uuid.Parse(r.RackUUID)
		if err != nil {
			return uuid.Nil, nil, fmt.Errorf("rack_uuid: %w", err)
		}
		rackUUID = parsed
	}
	if len(r.Members) == 0 {
		return uuid.Nil, nil, fmt.Errorf("members: at least one member is required")
	}
	members := make([]bootstore.Baseboard, 0, len(r.Members))
	for _, text := range r.Members {
		member, err := bootstore.ParseBaseboard(text)
		if err != nil {
			return uuid.Nil, nil, fmt.Errorf("members: %w", err)
		}
		members = append(members, member)
	}
	return rackUUID, members, nil
}
