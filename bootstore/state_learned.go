// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package bootstore

import "github.com/bureau-foundation/bootstore/trustquorum"

// learned is a peer that joined after rack init and holds a learned
// share. It can serve and collect shares like a founding member but
// has no spare shares to hand out.
type learned struct {
	member
	pkg *trustquorum.LearnedSharePkg
}

func newLearned(pkg *trustquorum.LearnedSharePkg) *learned {
	return &learned{
		member: member{
			rackUUID:  pkg.RackUUID,
			threshold: pkg.Threshold,
			share:     pkg.Share,
			digests:   pkg.ShareDigests,
		},
		pkg: pkg,
	}
}

func (*learned) Name() string { return "learned" }

func (s *learned) handleRequest(f *Fsm, from Baseboard, request *Request) (State, Output) {
	switch request.Kind {
	case RequestInit:
		return s, reply(from, errorResponse(request.ID, ErrorAlreadyInitialized))
	case RequestGetShare:
		return s, s.getShare(from, request)
	default:
		return s, reply(from, errorResponse(request.ID, ErrorCannotSpareAShare))
	}
}

func (s *learned) handleResponse(f *Fsm, from Baseboard, response *Response) (State, Output) {
	if response.Kind != ResponseShare {
		return s, Output{}
	}
	request := s.collectShare(f, from, response)
	if request == nil {
		return s, Output{}
	}
	defer request.Close()
	if request.Kind != TrackedLoadRackSecret {
		return s, Output{}
	}
	return s, s.secretCollected(f, request)
}

func (s *learned) expire(f *Fsm, request *TrackableRequest, out *Output) {
	if request.Kind == TrackedLoadRackSecret {
		s.expireSecretLoad(f, request, out)
	}
}

func (s *learned) tick(*Fsm) (State, Output) { return s, Output{} }

func (s *learned) persistent(state *PersistentState) {
	state.LearnedSharePkg = s.pkg
}

func (s *learned) close() {
	s.member.close()
	s.pkg.Close()
}
