// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package bootstore

import (
	"maps"
	"slices"

	"github.com/bureau-foundation/bootstore/trustquorum"
)

// rackInitState exists at the initializer while rack init is
// outstanding. The acknowledgements themselves are tracked by the
// RequestManager under requestID.
type rackInitState struct {
	requestID    RequestID
	start        Ticks
	totalMembers int
}

// initialMember is a founding member of the rack.
type initialMember struct {
	member
	pkg *trustquorum.SharePkg

	// distributedShares maps each learner to the learner share index
	// it was given, so a learner that asks again gets the same share.
	distributedShares map[Baseboard]int

	rackInit *rackInitState
}

func newInitialMember(pkg *trustquorum.SharePkg) *initialMember {
	return &initialMember{
		member: member{
			rackUUID:  pkg.RackUUID,
			threshold: pkg.Threshold,
			share:     pkg.Share,
			digests:   pkg.ShareDigests,
		},
		pkg:               pkg,
		distributedShares: make(map[Baseboard]int),
	}
}

func (*initialMember) Name() string { return "initial_member" }

func (s *initialMember) handleRequest(f *Fsm, from Baseboard, request *Request) (State, Output) {
	switch request.Kind {
	case RequestInit:
		// The initializer re-sends Init until it sees an ack, so the
		// same package arriving again is acknowledged again.
		if s.pkg.Equal(request.Pkg) {
			return s, reply(from, initAckResponse(request.ID))
		}
		return s, reply(from, errorResponse(request.ID, ErrorAlreadyInitialized))
	case RequestGetShare:
		return s, s.getShare(from, request)
	default:
		return s, s.learn(f, from, request.ID)
	}
}

// learn serves a Learn request. With the rack secret at hand the
// learner is answered at once; otherwise shares are collected first.
func (s *initialMember) learn(f *Fsm, learner Baseboard, learnRequestID RequestID) Output {
	if _, known := s.distributedShares[learner]; !known && s.freeLearnerIndex() < 0 {
		return reply(learner, errorResponse(learnRequestID, ErrorCannotSpareAShare))
	}
	if s.secret != nil {
		return s.handOut(learner, learnRequestID, s.secret)
	}
	if request, ok := f.requests.findLearn(learner); ok {
		request.LearnRequestID = learnRequestID
		return Output{Envelopes: f.requests.broadcast(request.ID, f.Peers())}
	}
	id := f.requests.NewLearn(f.clock, s.rackUUID, s.threshold, s.digests, learner, learnRequestID)
	s.seed(f, id)
	return Output{Envelopes: f.requests.broadcast(id, f.Peers())}
}

// freeLearnerIndex returns an unused learner share index this member
// may hand out, or -1. Spare shares are striped across founding
// members by share index, so two members never give the same spare
// to different learners.
func (s *initialMember) freeLearnerIndex() int {
	used := make(map[int]bool, len(s.distributedShares))
	for _, index := range s.distributedShares {
		used[index] = true
	}
	for offset := s.pkg.Share.Index; offset < trustquorum.MaxLearners; offset += s.pkg.Members {
		if index := s.pkg.Members + offset; !used[index] {
			return index
		}
	}
	return -1
}

// handOut decrypts the spare shares with rackSecret and answers the
// learner with its share.
func (s *initialMember) handOut(learner Baseboard, learnRequestID RequestID, rackSecret *trustquorum.RackSecret) Output {
	shares, err := s.pkg.DecryptLearnerShares(rackSecret)
	if err != nil {
		// The reconstructed secret does not open this package; leave
		// the learner to try another member.
		return Output{}
	}
	defer func() {
		for _, share := range shares {
			share.Close()
		}
	}()

	index, assigned := s.distributedShares[learner]
	if !assigned {
		index = s.freeLearnerIndex()
	}
	offset := index - s.pkg.Members
	if index < 0 || offset < 0 || offset >= len(shares) {
		return reply(learner, errorResponse(learnRequestID, ErrorCannotSpareAShare))
	}

	share := shares[offset]
	shares[offset] = nil
	out := reply(learner, learnPkgResponse(learnRequestID, s.pkg.Learned(share)))
	if !assigned {
		s.distributedShares[learner] = index
		out.Persist = true
	}
	return out
}

func (s *initialMember) handleResponse(f *Fsm, from Baseboard, response *Response) (State, Output) {
	switch response.Kind {
	case ResponseInitAck:
		if !f.requests.OnInitAck(from, response.RequestID) {
			return s, Output{}
		}
		if s.rackInit == nil || s.rackInit.requestID != response.RequestID {
			return s, Output{}
		}
		s.rackInit = nil
		return s, apiValue(RackInitComplete{})

	case ResponseShare:
		request := s.collectShare(f, from, response)
		if request == nil {
			return s, Output{}
		}
		defer request.Close()
		switch request.Kind {
		case TrackedLoadRackSecret:
			return s, s.secretCollected(f, request)
		case TrackedLearn:
			rackSecret, err := trustquorum.Combine(request.Shares(), request.ShareAcks.Threshold)
			if err != nil {
				return s, Output{}
			}
			defer rackSecret.Close()
			return s, s.handOut(request.From, request.LearnRequestID, rackSecret)
		}
	}
	return s, Output{}
}

func (s *initialMember) expire(f *Fsm, request *TrackableRequest, out *Output) {
	switch request.Kind {
	case TrackedInitRack:
		if s.rackInit != nil && s.rackInit.requestID == request.ID {
			s.rackInit = nil
			out.merge(apiError(ErrRackInitTimeout))
		}
	case TrackedLoadRackSecret:
		s.expireSecretLoad(f, request, out)
	case TrackedLearn:
		// The learner moves on to another member when its own attempt
		// times out.
	}
}

func (s *initialMember) tick(*Fsm) (State, Output) { return s, Output{} }

func (s *initialMember) persistent(state *PersistentState) {
	state.SharePkg = s.pkg
	learners := slices.SortedFunc(maps.Keys(s.distributedShares), Baseboard.Compare)
	for _, learner := range learners {
		state.DistributedShares = append(state.DistributedShares, DistributedShare{
			Learner: learner,
			Index:   s.distributedShares[learner],
		})
	}
}

func (s *initialMember) close() {
	s.member.close()
	s.pkg.Close()
}
