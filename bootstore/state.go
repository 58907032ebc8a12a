// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package bootstore

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/bureau-foundation/bootstore/trustquorum"
)

// State is one of the four protocol states. The set is closed: the
// concrete types are uninitialized, initialMember, learning, and
// learned. Each event handler returns the next state, which may be
// the receiver itself.
type State interface {
	Name() string

	handleRequest(f *Fsm, from Baseboard, request *Request) (State, Output)
	handleResponse(f *Fsm, from Baseboard, response *Response) (State, Output)

	// expire handles a tracked request that has passed its expiry. The
	// caller releases request afterwards.
	expire(f *Fsm, request *TrackableRequest, out *Output)

	tick(f *Fsm) (State, Output)
	persistent(*PersistentState)
	close()
}

// member is what initial members and learned peers share: a share of
// the rack secret and the ability to reconstruct it.
type member struct {
	rackUUID  uuid.UUID
	threshold int
	// share and digests alias the state's package.
	share   *trustquorum.Share
	digests []trustquorum.Digest

	// secret is the reconstructed rack secret, once loaded.
	secret *trustquorum.RackSecret
	// collecting is the tracked LoadRackSecret request, or uuid.Nil.
	collecting RequestID
}

func (m *member) loadRackSecret(f *Fsm) Output {
	if m.secret != nil {
		return m.secretLoaded()
	}
	now := f.clock
	f.pendingSecretLoad = &now
	if m.collecting != uuid.Nil {
		return Output{}
	}
	return m.startCollecting(f)
}

func (m *member) secretLoaded() Output {
	clone, err := m.secret.Clone()
	if err != nil {
		return apiError(fmt.Errorf("%w: %w", ErrFailedToReconstructRackSecret, err))
	}
	return apiValue(RackSecretLoaded{Secret: clone})
}

func (m *member) startCollecting(f *Fsm) Output {
	id := f.requests.NewLoadRackSecret(f.clock, m.rackUUID, m.threshold, m.digests)
	m.seed(f, id)
	m.collecting = id
	return Output{Envelopes: f.requests.broadcast(id, f.Peers())}
}

// seed adds this peer's own share to the collection for id. Thresholds
// are at least two, so the local share alone never completes it.
func (m *member) seed(f *Fsm, id RequestID) {
	own, err := m.share.Clone()
	if err != nil {
		// Collection proceeds with the other peers' shares only.
		return
	}
	f.requests.OnShare(f.id, id, own)
}

// getShare answers a GetShare request with this peer's share.
func (m *member) getShare(from Baseboard, request *Request) Output {
	if request.RackUUID != m.rackUUID {
		return reply(from, errorResponse(request.ID, ErrorRackUUIDMismatch))
	}
	share, err := m.share.Clone()
	if err != nil {
		// The requester asks again on its next resend.
		return Output{}
	}
	return reply(from, shareResponse(request.ID, share))
}

// collectShare hands the share carried by response to the tracker and
// returns the request it completed, if any.
func (m *member) collectShare(f *Fsm, from Baseboard, response *Response) *TrackableRequest {
	share := response.Share
	response.Share = nil
	return f.requests.OnShare(from, response.RequestID, share)
}

// secretCollected reconstructs the rack secret from a completed
// LoadRackSecret request and answers the pending API call.
func (m *member) secretCollected(f *Fsm, request *TrackableRequest) Output {
	if m.collecting == request.ID {
		m.collecting = uuid.Nil
	}
	f.pendingSecretLoad = nil

	secret, err := trustquorum.Combine(request.Shares(), request.ShareAcks.Threshold)
	if err != nil {
		return apiError(fmt.Errorf("%w: %w", ErrFailedToReconstructRackSecret, err))
	}
	m.secret = secret
	return m.secretLoaded()
}

// expireSecretLoad handles an expired LoadRackSecret round. If the API
// caller has asked again since the round started, a new round begins.
// Otherwise the caller is told the load timed out, unless another API
// result is already being reported this tick, in which case the
// timeout is deferred to a new round.
func (m *member) expireSecretLoad(f *Fsm, request *TrackableRequest, out *Output) {
	if m.collecting != request.ID {
		return
	}
	m.collecting = uuid.Nil
	if f.pendingSecretLoad == nil {
		return
	}
	waited := f.clock - *f.pendingSecretLoad
	if waited >= f.config.RackSecretRequestTimeout && out.APIOutput == nil {
		f.pendingSecretLoad = nil
		out.merge(apiError(ErrRackSecretLoadTimeout))
		return
	}
	out.merge(m.startCollecting(f))
}

func (m *member) close() {
	m.secret.Close()
	m.secret = nil
}

// validSharePkg checks a share package received from the initializer
// or read from disk.
func validSharePkg(pkg *trustquorum.SharePkg) error {
	switch {
	case pkg == nil || pkg.Share == nil:
		return fmt.Errorf("missing share package")
	case pkg.RackUUID == uuid.Nil:
		return fmt.Errorf("share package has a nil rack uuid")
	case pkg.Members < trustquorum.MinMembers:
		return fmt.Errorf("share package has %d members", pkg.Members)
	case pkg.Threshold < 2 || pkg.Threshold > pkg.Members:
		return fmt.Errorf("share package threshold %d invalid for %d members", pkg.Threshold, pkg.Members)
	case pkg.Share.Index >= pkg.Members:
		return fmt.Errorf("founding member holds learner share %d", pkg.Share.Index)
	case !pkg.VerifyShare(pkg.Share):
		return fmt.Errorf("share %d does not match its digest", pkg.Share.Index)
	}
	return nil
}

// validLearnedSharePkg checks a package handed to a learner.
func validLearnedSharePkg(pkg *trustquorum.LearnedSharePkg) error {
	switch {
	case pkg == nil || pkg.Share == nil:
		return fmt.Errorf("missing learned share package")
	case pkg.RackUUID == uuid.Nil:
		return fmt.Errorf("learned share package has a nil rack uuid")
	case pkg.Threshold < 2:
		return fmt.Errorf("learned share package threshold %d", pkg.Threshold)
	case !pkg.VerifyShare(pkg.Share):
		return fmt.Errorf("share %d does not match its digest", pkg.Share.Index)
	}
	return nil
}
