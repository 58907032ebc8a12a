// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package bootstore

import "github.com/google/uuid"

// LearnAttempt is a learner's outstanding Learn request.
type LearnAttempt struct {
	Peer      Baseboard
	RequestID RequestID
	Expiry    Ticks
}

// learning is a peer that asked to join and is waiting for a share.
// It asks one connected peer at a time. When an attempt expires or is
// refused, the next connected peer in ascending order is asked,
// wrapping around, so every reachable member is eventually tried.
type learning struct {
	// attempt is nil while no peer is connected.
	attempt *LearnAttempt
	// previous is the last peer asked, which survives a nil attempt so
	// the rotation continues where it left off.
	previous Baseboard
}

func (*learning) Name() string { return "learning" }

// nextAttempt asks the connected peer after the previous one.
func (s *learning) nextAttempt(f *Fsm) Output {
	peers := f.Peers()
	if len(peers) == 0 {
		s.attempt = nil
		return Output{}
	}
	next := peers[0]
	if !s.previous.IsZero() {
		for _, peer := range peers {
			if peer.Compare(s.previous) > 0 {
				next = peer
				break
			}
		}
	}
	s.previous = next
	s.attempt = &LearnAttempt{
		Peer:      next,
		RequestID: uuid.New(),
		Expiry:    f.clock + f.config.LearnTimeout,
	}
	return reply(next, learnRequest(s.attempt.RequestID))
}

func (s *learning) handleRequest(f *Fsm, from Baseboard, request *Request) (State, Output) {
	return s, reply(from, errorResponse(request.ID, ErrorStillLearning))
}

func (s *learning) handleResponse(f *Fsm, from Baseboard, response *Response) (State, Output) {
	if s.attempt == nil || from != s.attempt.Peer || response.RequestID != s.attempt.RequestID {
		return s, Output{}
	}
	switch response.Kind {
	case ResponseLearnPkg:
		if validLearnedSharePkg(response.LearnPkg) != nil {
			return s, s.nextAttempt(f)
		}
		pkg := response.LearnPkg
		response.LearnPkg = nil
		out := apiValue(LearningCompleted{})
		out.Persist = true
		return newLearned(pkg), out
	case ResponseError:
		return s, s.nextAttempt(f)
	}
	return s, Output{}
}

func (*learning) expire(*Fsm, *TrackableRequest, *Output) {}

func (s *learning) tick(f *Fsm) (State, Output) {
	if s.attempt == nil || f.clock >= s.attempt.Expiry {
		return s, s.nextAttempt(f)
	}
	return s, Output{}
}

func (*learning) persistent(state *PersistentState) {}

func (*learning) close() {}
