// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package bootstore

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/bureau-foundation/bootstore/trustquorum"
)

// RequestID correlates a response with the request it answers.
type RequestID = uuid.UUID

// RequestKind discriminates [Request] payloads.
type RequestKind uint8

const (
	// RequestInit carries a founding member's share package from the
	// rack initializer. Answered with InitAck.
	RequestInit RequestKind = iota + 1
	// RequestGetShare asks a member for its own share. Answered with
	// Share.
	RequestGetShare
	// RequestLearn asks a founding member to hand out a learner share.
	// Answered with LearnPkg.
	RequestLearn
)

func (k RequestKind) String() string {
	switch k {
	case RequestInit:
		return "init"
	case RequestGetShare:
		return "get_share"
	case RequestLearn:
		return "learn"
	default:
		return fmt.Sprintf("request_kind(%d)", uint8(k))
	}
}

// ResponseKind discriminates [Response] payloads.
type ResponseKind uint8

const (
	ResponseInitAck ResponseKind = iota + 1
	ResponseShare
	ResponseLearnPkg
	ResponseError
)

func (k ResponseKind) String() string {
	switch k {
	case ResponseInitAck:
		return "init_ack"
	case ResponseShare:
		return "share"
	case ResponseLearnPkg:
		return "learn_pkg"
	case ResponseError:
		return "error"
	default:
		return fmt.Sprintf("response_kind(%d)", uint8(k))
	}
}

// ErrorKind is the reason carried by an error response.
type ErrorKind uint8

const (
	ErrorNotInitialized ErrorKind = iota + 1
	ErrorStillLearning
	ErrorAlreadyInitialized
	ErrorRackUUIDMismatch
	ErrorCannotSpareAShare
)

func (k ErrorKind) String() string {
	switch k {
	case ErrorNotInitialized:
		return "not_initialized"
	case ErrorStillLearning:
		return "still_learning"
	case ErrorAlreadyInitialized:
		return "already_initialized"
	case ErrorRackUUIDMismatch:
		return "rack_uuid_mismatch"
	case ErrorCannotSpareAShare:
		return "cannot_spare_a_share"
	default:
		return fmt.Sprintf("error_kind(%d)", uint8(k))
	}
}

// Request is a message that expects a [Response].
type Request struct {
	ID   RequestID   `cbor:"id"`
	Kind RequestKind `cbor:"kind"`

	// Pkg is set for RequestInit.
	Pkg *trustquorum.SharePkg `cbor:"pkg,omitempty"`

	// RackUUID is set for RequestGetShare.
	RackUUID uuid.UUID `cbor:"rack_uuid"`
}

// Response answers the [Request] whose ID is RequestID.
type Response struct {
	RequestID RequestID    `cbor:"request_id"`
	Kind      ResponseKind `cbor:"kind"`

	// Share is set for ResponseShare.
	Share *trustquorum.Share `cbor:"share,omitempty"`

	// LearnPkg is set for ResponseLearnPkg.
	LearnPkg *trustquorum.LearnedSharePkg `cbor:"learn_pkg,omitempty"`

	// Error is set for ResponseError.
	Error ErrorKind `cbor:"error,omitempty"`
}

// Msg is either a Request or a Response.
type Msg struct {
	Request  *Request  `cbor:"request,omitempty"`
	Response *Response `cbor:"response,omitempty"`
}

// Envelope is a message addressed to a peer.
type Envelope struct {
	To  Baseboard
	Msg Msg
}

// Validate checks that exactly one of Request or Response is set and
// that its payload matches its kind. Messages decoded from the network
// must pass Validate before [Fsm.Handle] acts on them.
func (m Msg) Validate() error {
	switch {
	case m.Request != nil && m.Response != nil:
		return fmt.Errorf("message has both a request and a response")
	case m.Request != nil:
		return m.Request.validate()
	case m.Response != nil:
		return m.Response.validate()
	default:
		return fmt.Errorf("empty message")
	}
}

func (r *Request) validate() error {
	switch r.Kind {
	case RequestInit:
		if r.Pkg == nil || r.Pkg.Share == nil {
			return fmt.Errorf("init request without a share package")
		}
	case RequestGetShare, RequestLearn:
		if r.Pkg != nil {
			return fmt.Errorf("%s request carries a share package", r.Kind)
		}
	default:
		return fmt.Errorf("unknown %s", r.Kind)
	}
	return nil
}

func (r *Response) validate() error {
	switch r.Kind {
	case ResponseInitAck:
	case ResponseShare:
		if r.Share == nil {
			return fmt.Errorf("share response without a share")
		}
	case ResponseLearnPkg:
		if r.LearnPkg == nil || r.LearnPkg.Share == nil {
			return fmt.Errorf("learn_pkg response without a package")
		}
	case ResponseError:
		if r.Error < ErrorNotInitialized || r.Error > ErrorCannotSpareAShare {
			return fmt.Errorf("unknown %s", r.Error)
		}
	default:
		return fmt.Errorf("unknown %s", r.Kind)
	}
	return nil
}

// String describes the message without any secret material, for logs.
func (m Msg) String() string {
	switch {
	case m.Request != nil:
		return fmt.Sprintf("%s request %s", m.Request.Kind, m.Request.ID)
	case m.Response != nil && m.Response.Kind == ResponseError:
		return fmt.Sprintf("error(%s) response to %s", m.Response.Error, m.Response.RequestID)
	case m.Response != nil:
		return fmt.Sprintf("%s response to %s", m.Response.Kind, m.Response.RequestID)
	default:
		return "empty message"
	}
}

// Close releases any secret material the message carries. Safe to
// call more than once.
func (m Msg) Close() {
	if m.Request != nil {
		m.Request.Pkg.Close()
	}
	if m.Response != nil {
		m.Response.Share.Close()
		m.Response.LearnPkg.Close()
	}
}

func initRequest(id RequestID, pkg *trustquorum.SharePkg) Msg {
	return Msg{Request: &Request{ID: id, Kind: RequestInit, Pkg: pkg}}
}

func getShareRequest(id RequestID, rackUUID uuid.UUID) Msg {
	return Msg{Request: &Request{ID: id, Kind: RequestGetShare, RackUUID: rackUUID}}
}

func learnRequest(id RequestID) Msg {
	return Msg{Request: &Request{ID: id, Kind: RequestLearn}}
}

func initAckResponse(requestID RequestID) Msg {
	return Msg{Response: &Response{RequestID: requestID, Kind: ResponseInitAck}}
}

func shareResponse(requestID RequestID, share *trustquorum.Share) Msg {
	return Msg{Response: &Response{RequestID: requestID, Kind: ResponseShare, Share: share}}
}

func learnPkgResponse(requestID RequestID, pkg *trustquorum.LearnedSharePkg) Msg {
	return Msg{Response: &Response{RequestID: requestID, Kind: ResponseLearnPkg, LearnPkg: pkg}}
}

func errorResponse(requestID RequestID, kind ErrorKind) Msg {
	return Msg{Response: &Response{RequestID: requestID, Kind: ResponseError, Error: kind}}
}
