// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package bootstore

// uninitialized is a peer with no rack membership.
type uninitialized struct{}

func (*uninitialized) Name() string { return "uninitialized" }

func (s *uninitialized) handleRequest(f *Fsm, from Baseboard, request *Request) (State, Output) {
	switch request.Kind {
	case RequestInit:
		if validSharePkg(request.Pkg) != nil {
			return s, Output{}
		}
		pkg := request.Pkg
		request.Pkg = nil
		out := reply(from, initAckResponse(request.ID))
		out.Persist = true
		return newInitialMember(pkg), out
	default:
		return s, reply(from, errorResponse(request.ID, ErrorNotInitialized))
	}
}

func (s *uninitialized) handleResponse(*Fsm, Baseboard, *Response) (State, Output) {
	return s, Output{}
}

func (*uninitialized) expire(*Fsm, *TrackableRequest, *Output) {}

func (s *uninitialized) tick(*Fsm) (State, Output) { return s, Output{} }

func (*uninitialized) persistent(*PersistentState) {}

func (*uninitialized) close() {}
