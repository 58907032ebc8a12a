// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package bootstore

import (
	"cmp"
	"fmt"
	"maps"
	"slices"

	"github.com/google/uuid"

	"github.com/bureau-foundation/bootstore/trustquorum"
)

// Fsm is the trust-quorum state of one peer. It is not safe for
// concurrent use; the driver feeds it one event at a time.
type Fsm struct {
	id       Baseboard
	config   Config
	clock    Ticks
	peers    map[Baseboard]struct{}
	state    State
	requests *RequestManager

	// pendingSecretLoad is the tick of the most recent LoadRackSecret
	// call that has not yet been answered.
	pendingSecretLoad *Ticks
}

// New returns an uninitialized peer.
func New(id Baseboard, config Config) *Fsm {
	return newFsm(id, config, &uninitialized{})
}

func newFsm(id Baseboard, config Config, state State) *Fsm {
	return &Fsm{
		id:       id,
		config:   config,
		peers:    make(map[Baseboard]struct{}),
		state:    state,
		requests: NewRequestManager(config),
	}
}

// ID returns this peer's identity.
func (f *Fsm) ID() Baseboard { return f.id }

// Clock returns the number of ticks processed.
func (f *Fsm) Clock() Ticks { return f.clock }

// StateName returns "uninitialized", "initial_member", "learning", or
// "learned".
func (f *Fsm) StateName() string { return f.state.Name() }

// Peers returns the connected peers in ascending order.
func (f *Fsm) Peers() []Baseboard {
	return slices.SortedFunc(maps.Keys(f.peers), Baseboard.Compare)
}

// InitRack makes this peer the rack initializer: it creates a rack
// secret, splits it among members (which must include this peer), keeps
// its own share package, and sends every other member its package,
// connected or not. A member that connects later is sent its package
// again by [Fsm.InsertPeer]. Completion is reported as
// [RackInitComplete] once every member has acknowledged.
func (f *Fsm) InitRack(rackUUID uuid.UUID, members []Baseboard) Output {
	if _, ok := f.state.(*uninitialized); !ok {
		return apiError(ErrRackAlreadyInitialized)
	}
	if rackUUID == uuid.Nil {
		return apiError(fmt.Errorf("%w: nil rack uuid", ErrRackInitFailed))
	}

	sorted := slices.Compact(slices.SortedFunc(slices.Values(members), Baseboard.Compare))
	if len(sorted) > 0 && sorted[0].IsZero() {
		return apiError(fmt.Errorf("%w: zero baseboard in membership", ErrRackInitFailed))
	}
	if !slices.Contains(sorted, f.id) {
		return apiError(fmt.Errorf("%w: initializer %s is not a member", ErrRackInitFailed, f.id))
	}

	pkgs, err := trustquorum.CreatePkgs(rackUUID, len(sorted))
	if err != nil {
		return apiError(fmt.Errorf("%w: %w", ErrRackInitFailed, err))
	}

	var own *trustquorum.SharePkg
	packages := make(map[Baseboard]*trustquorum.SharePkg, len(sorted)-1)
	others := make([]Baseboard, 0, len(sorted)-1)
	for index, member := range sorted {
		if member == f.id {
			own = pkgs[index]
		} else {
			packages[member] = pkgs[index]
			others = append(others, member)
		}
	}

	requestID := f.requests.NewInitRack(f.clock, rackUUID, packages)
	state := newInitialMember(own)
	state.rackInit = &rackInitState{
		requestID:    requestID,
		start:        f.clock,
		totalMembers: len(sorted),
	}
	f.state = state

	return Output{
		Persist:   true,
		Envelopes: f.requests.broadcast(requestID, others),
	}
}

// InitLearner asks to join an initialized rack. The peer becomes a
// learner and asks connected peers for a share, one at a time, until
// one hands it out; [LearningCompleted] is reported then.
func (f *Fsm) InitLearner() Output {
	if _, ok := f.state.(*uninitialized); !ok {
		return apiError(ErrPeerAlreadyInitialized)
	}
	state := &learning{}
	f.state = state
	out := state.nextAttempt(f)
	out.Persist = true
	return out
}

// LoadRackSecret asks for the rack secret. A cached secret is returned
// immediately. Otherwise share collection starts (or, if already
// running, its deadline is extended) and the secret is reported as
// [RackSecretLoaded] once a threshold of shares has arrived, or
// [ErrRackSecretLoadTimeout] if it does not arrive in time.
func (f *Fsm) LoadRackSecret() Output {
	switch state := f.state.(type) {
	case *uninitialized:
		return apiError(ErrRackNotInitialized)
	case *learning:
		return apiError(ErrStillLearning)
	case *initialMember:
		return state.loadRackSecret(f)
	case *learned:
		return state.loadRackSecret(f)
	}
	panic(fmt.Sprintf("bootstore: unknown state %T", f.state))
}

// expiryRank orders requests that expire on the same tick so rack
// init failures are reported before secret load failures.
func expiryRank(kind TrackedKind) int {
	if kind == TrackedInitRack {
		return 0
	}
	return 1
}

// Tick advances the clock by one, abandons or restarts expired
// exchanges, and re-sends requests that are due.
func (f *Fsm) Tick() Output {
	f.clock++

	var out Output
	expired := f.requests.Expired(f.clock)
	slices.SortStableFunc(expired, func(a, b *TrackableRequest) int {
		return cmp.Compare(expiryRank(a.Kind), expiryRank(b.Kind))
	})
	for _, request := range expired {
		f.state.expire(f, request, &out)
		request.Close()
	}

	next, tickOut := f.state.tick(f)
	f.state = next
	out.merge(tickOut)

	out.Envelopes = append(out.Envelopes, f.requests.Resend(f.clock, f.Peers())...)
	return out
}

// InsertPeer records that peer is reachable and returns the requests
// it has not yet answered. A learner without an outstanding attempt
// asks the newly connected peer.
func (f *Fsm) InsertPeer(peer Baseboard) Output {
	if peer == f.id || peer.IsZero() {
		return Output{}
	}
	f.peers[peer] = struct{}{}
	out := Output{Envelopes: f.requests.OnConnected(peer)}
	if state, ok := f.state.(*learning); ok && state.attempt == nil {
		out.merge(state.nextAttempt(f))
	}
	return out
}

// RemovePeer records that peer is unreachable. Tracked exchanges are
// not touched; peer is only left out of future sends.
func (f *Fsm) RemovePeer(peer Baseboard) Output {
	delete(f.peers, peer)
	return Output{}
}

// Handle processes a message from a peer. The Fsm takes ownership of
// the secret material in msg. Invalid messages and messages claiming
// to come from this peer are dropped.
func (f *Fsm) Handle(from Baseboard, msg Msg) Output {
	defer msg.Close()
	if from == f.id || from.IsZero() || msg.Validate() != nil {
		return Output{}
	}

	var (
		next State
		out  Output
	)
	if msg.Request != nil {
		next, out = f.state.handleRequest(f, from, msg.Request)
	} else {
		next, out = f.state.handleResponse(f, from, msg.Response)
	}
	f.state = next
	return out
}

// Close releases all secret material held by the peer.
func (f *Fsm) Close() {
	f.state.close()
	f.requests.Close()
}

// reply returns an Output carrying a single message to peer.
func reply(to Baseboard, msg Msg) Output {
	return Output{Envelopes: []Envelope{{To: to, Msg: msg}}}
}

// Status is a point-in-time summary of a peer, for metrics and the
// status endpoint. It holds no secret material.
type Status struct {
	ID               Baseboard `cbor:"id" json:"id"`
	State            string    `cbor:"state" json:"state"`
	Clock            Ticks     `cbor:"clock" json:"clock"`
	ConnectedPeers   int       `cbor:"connected_peers" json:"connected_peers"`
	TrackedRequests  int       `cbor:"tracked_requests" json:"tracked_requests"`
	RackUUID         uuid.UUID `cbor:"rack_uuid" json:"rack_uuid"`
	RackInitPending  bool      `cbor:"rack_init_pending" json:"rack_init_pending"`
	RackInitStart    Ticks     `cbor:"rack_init_start" json:"rack_init_start"`
	RackInitAcked    int       `cbor:"rack_init_acked" json:"rack_init_acked"`
	RackInitMembers  int       `cbor:"rack_init_members" json:"rack_init_members"`
	RackSecretCached bool      `cbor:"rack_secret_cached" json:"rack_secret_cached"`
	LearnersServed   int       `cbor:"learners_served" json:"learners_served"`
}

// Status summarizes the peer.
func (f *Fsm) Status() Status {
	status := Status{
		ID:              f.id,
		State:           f.state.Name(),
		Clock:           f.clock,
		ConnectedPeers:  len(f.peers),
		TrackedRequests: f.requests.Len(),
	}
	switch state := f.state.(type) {
	case *initialMember:
		status.RackUUID = state.rackUUID
		status.RackSecretCached = state.secret != nil
		status.LearnersServed = len(state.distributedShares)
		if state.rackInit != nil {
			status.RackInitPending = true
			status.RackInitStart = state.rackInit.start
			status.RackInitMembers = state.rackInit.totalMembers
			// The initializer counts as acknowledged.
			status.RackInitAcked = 1
			if request, ok := f.requests.Get(state.rackInit.requestID); ok {
				status.RackInitAcked += len(request.InitAcks.Received)
			}
		}
	case *learned:
		status.RackUUID = state.rackUUID
		status.RackSecretCached = state.secret != nil
	}
	return status
}
