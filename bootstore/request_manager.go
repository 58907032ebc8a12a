// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package bootstore

import (
	"cmp"
	"maps"
	"slices"

	"github.com/google/uuid"

	"github.com/bureau-foundation/bootstore/trustquorum"
)

// TrackedKind discriminates [TrackableRequest].
type TrackedKind uint8

const (
	// TrackedInitRack waits for every founding member to acknowledge
	// its share package.
	TrackedInitRack TrackedKind = iota + 1
	// TrackedLoadRackSecret collects shares for a local secret load.
	TrackedLoadRackSecret
	// TrackedLearn collects shares on behalf of a learner.
	TrackedLearn
)

func (k TrackedKind) String() string {
	switch k {
	case TrackedInitRack:
		return "init_rack"
	case TrackedLoadRackSecret:
		return "load_rack_secret"
	case TrackedLearn:
		return "learn"
	default:
		return "unknown"
	}
}

// InitAcks tracks which founding members acknowledged rack init.
type InitAcks struct {
	Expected map[Baseboard]struct{}
	Received map[Baseboard]struct{}
}

// ShareAcks collects shares keyed by the peer that sent them, so a
// peer answering twice is counted once.
type ShareAcks struct {
	Threshold int
	// Digests verifies received shares; a share whose digest does not
	// match is dropped.
	Digests  []trustquorum.Digest
	Received map[Baseboard]*trustquorum.Share
}

// TrackableRequest is one in-flight multi-party exchange.
type TrackableRequest struct {
	ID       RequestID
	Kind     TrackedKind
	RackUUID uuid.UUID
	Expiry   Ticks

	// Packages and InitAcks are set for TrackedInitRack. Packages holds
	// the share package of every member other than the initializer.
	Packages map[Baseboard]*trustquorum.SharePkg
	InitAcks InitAcks

	// ShareAcks is set for TrackedLoadRackSecret and TrackedLearn.
	ShareAcks ShareAcks

	// From and LearnRequestID are set for TrackedLearn: the learner
	// and the id of its Learn request, which the eventual LearnPkg
	// response answers.
	From           Baseboard
	LearnRequestID RequestID

	sequence uint64
	lastSent Ticks
}

// Shares returns the collected shares ordered by sender. The request
// keeps ownership.
func (r *TrackableRequest) Shares() []*trustquorum.Share {
	senders := slices.SortedFunc(maps.Keys(r.ShareAcks.Received), Baseboard.Compare)
	shares := make([]*trustquorum.Share, 0, len(senders))
	for _, sender := range senders {
		shares = append(shares, r.ShareAcks.Received[sender])
	}
	return shares
}

// Close releases the packages and shares the request holds.
func (r *TrackableRequest) Close() {
	for _, pkg := range r.Packages {
		pkg.Close()
	}
	for _, share := range r.ShareAcks.Received {
		share.Close()
	}
}

// message returns the request this exchange needs peer to answer, or
// false if peer already answered or is not part of it.
func (r *TrackableRequest) message(peer Baseboard) (Msg, bool) {
	switch r.Kind {
	case TrackedInitRack:
		if _, acked := r.InitAcks.Received[peer]; acked {
			return Msg{}, false
		}
		pkg, ok := r.Packages[peer]
		if !ok {
			return Msg{}, false
		}
		clone, err := pkg.Clone()
		if err != nil {
			// Secret memory exhausted; the next resend tries again.
			return Msg{}, false
		}
		return initRequest(r.ID, clone), true
	case TrackedLoadRackSecret, TrackedLearn:
		if _, answered := r.ShareAcks.Received[peer]; answered {
			return Msg{}, false
		}
		if r.Kind == TrackedLearn && peer == r.From {
			return Msg{}, false
		}
		return getShareRequest(r.ID, r.RackUUID), true
	}
	return Msg{}, false
}

type expiryEntry struct {
	expiry   Ticks
	sequence uint64
	id       RequestID
}

func compareExpiry(a, b expiryEntry) int {
	if c := cmp.Compare(a.expiry, b.expiry); c != 0 {
		return c
	}
	return cmp.Compare(a.sequence, b.sequence)
}

// RequestManager tracks in-flight exchanges and their expiry. Every
// request in the primary map has exactly one entry in the expiry
// index, which is kept sorted by (expiry, creation order).
type RequestManager struct {
	config   Config
	requests map[RequestID]*TrackableRequest
	expiries []expiryEntry
	sequence uint64
}

// NewRequestManager returns an empty tracker.
func NewRequestManager(config Config) *RequestManager {
	return &RequestManager{
		config:   config,
		requests: make(map[RequestID]*TrackableRequest),
	}
}

// NewInitRack tracks rack initialization. The tracker takes ownership
// of packages, which must hold one package per member that is
// expected to acknowledge.
func (m *RequestManager) NewInitRack(now Ticks, rackUUID uuid.UUID, packages map[Baseboard]*trustquorum.SharePkg) RequestID {
	expected := make(map[Baseboard]struct{}, len(packages))
	for member := range packages {
		expected[member] = struct{}{}
	}
	return m.newRequest(now, now+m.config.RackInitTimeout, &TrackableRequest{
		Kind:     TrackedInitRack,
		RackUUID: rackUUID,
		Packages: packages,
		InitAcks: InitAcks{Expected: expected, Received: make(map[Baseboard]struct{})},
	})
}

// NewLoadRackSecret tracks share collection for a local secret load.
func (m *RequestManager) NewLoadRackSecret(now Ticks, rackUUID uuid.UUID, threshold int, digests []trustquorum.Digest) RequestID {
	return m.newRequest(now, now+m.config.RackSecretRequestTimeout, &TrackableRequest{
		Kind:      TrackedLoadRackSecret,
		RackUUID:  rackUUID,
		ShareAcks: newShareAcks(threshold, digests),
	})
}

// NewLearn tracks share collection on behalf of learner, whose Learn
// request had id learnRequestID. It expires after LearnTimeout, when
// the learner stops waiting for this peer.
func (m *RequestManager) NewLearn(now Ticks, rackUUID uuid.UUID, threshold int, digests []trustquorum.Digest, learner Baseboard, learnRequestID RequestID) RequestID {
	return m.newRequest(now, now+m.config.LearnTimeout, &TrackableRequest{
		Kind:           TrackedLearn,
		RackUUID:       rackUUID,
		ShareAcks:      newShareAcks(threshold, digests),
		From:           learner,
		LearnRequestID: learnRequestID,
	})
}

func newShareAcks(threshold int, digests []trustquorum.Digest) ShareAcks {
	return ShareAcks{
		Threshold: threshold,
		Digests:   digests,
		Received:  make(map[Baseboard]*trustquorum.Share),
	}
}

func (m *RequestManager) newRequest(now, expiry Ticks, request *TrackableRequest) RequestID {
	id := uuid.New()
	m.sequence++
	request.ID = id
	request.Expiry = expiry
	request.sequence = m.sequence
	request.lastSent = now
	m.requests[id] = request

	entry := expiryEntry{expiry: expiry, sequence: m.sequence, id: id}
	position, _ := slices.BinarySearchFunc(m.expiries, entry, compareExpiry)
	m.expiries = slices.Insert(m.expiries, position, entry)
	return id
}

// Get returns the tracked request with the given id.
func (m *RequestManager) Get(id RequestID) (*TrackableRequest, bool) {
	request, ok := m.requests[id]
	return request, ok
}

// Len returns the number of tracked requests.
func (m *RequestManager) Len() int { return len(m.requests) }

// Remove stops tracking id and returns the request, which the caller
// now owns. Returns nil if id is unknown.
func (m *RequestManager) Remove(id RequestID) *TrackableRequest {
	request, ok := m.requests[id]
	if !ok {
		return nil
	}
	delete(m.requests, id)
	entry := expiryEntry{expiry: request.Expiry, sequence: request.sequence, id: id}
	if position, found := slices.BinarySearchFunc(m.expiries, entry, compareExpiry); found {
		m.expiries = slices.Delete(m.expiries, position, position+1)
	}
	return request
}

// Expired removes and returns every request whose expiry is at or
// before now, earliest expiry first. The caller owns the returned
// requests.
func (m *RequestManager) Expired(now Ticks) []*TrackableRequest {
	cut := 0
	for cut < len(m.expiries) && m.expiries[cut].expiry <= now {
		cut++
	}
	if cut == 0 {
		return nil
	}
	expired := make([]*TrackableRequest, 0, cut)
	for _, entry := range m.expiries[:cut] {
		expired = append(expired, m.requests[entry.id])
		delete(m.requests, entry.id)
	}
	m.expiries = slices.Delete(m.expiries, 0, cut)
	return expired
}

// OnInitAck records an InitAck and reports whether every expected
// member has now acknowledged, in which case the request is removed
// and released. Acks for unknown requests, from unexpected peers, or
// repeated acks are ignored; a stale ack may be left over from a rack
// init that was reset.
func (m *RequestManager) OnInitAck(from Baseboard, id RequestID) bool {
	request, ok := m.requests[id]
	if !ok || request.Kind != TrackedInitRack {
		return false
	}
	if _, expected := request.InitAcks.Expected[from]; !expected {
		return false
	}
	if _, already := request.InitAcks.Received[from]; already {
		return false
	}
	request.InitAcks.Received[from] = struct{}{}
	if len(request.InitAcks.Received) < len(request.InitAcks.Expected) {
		return false
	}
	m.Remove(id).Close()
	return true
}

// OnShare records a share sent by from. When the request reaches its
// threshold of distinct senders it is removed and returned; the caller
// then owns it. The tracker takes ownership of share in every case and
// releases it if it is not kept: for an unknown request or a request
// that does not collect shares, for a sender that already answered,
// for a share that fails digest verification, or for a share whose
// index was already collected from another sender.
func (m *RequestManager) OnShare(from Baseboard, id RequestID, share *trustquorum.Share) *TrackableRequest {
	request, ok := m.requests[id]
	if !ok || (request.Kind != TrackedLoadRackSecret && request.Kind != TrackedLearn) {
		share.Close()
		return nil
	}
	acks := &request.ShareAcks
	if _, already := acks.Received[from]; already {
		share.Close()
		return nil
	}
	if acks.Digests != nil && !trustquorum.VerifyShare(acks.Digests, share) {
		share.Close()
		return nil
	}
	for _, received := range acks.Received {
		if received.Index == share.Index {
			share.Close()
			return nil
		}
	}
	acks.Received[from] = share
	if len(acks.Received) < acks.Threshold {
		return nil
	}
	return m.Remove(id)
}

// OnConnected returns the requests peer has not yet answered, for
// every outstanding exchange it is part of. Called when a connection
// to peer comes up so it receives its backlog without waiting for a
// resend.
func (m *RequestManager) OnConnected(peer Baseboard) []Envelope {
	var envelopes []Envelope
	for _, entry := range m.expiries {
		if msg, ok := m.requests[entry.id].message(peer); ok {
			envelopes = append(envelopes, Envelope{To: peer, Msg: msg})
		}
	}
	return envelopes
}

// Resend returns the unanswered requests due for a periodic re-send
// to the given connected peers. A request is due when RetryInterval
// ticks have passed since it was created or last re-sent.
func (m *RequestManager) Resend(now Ticks, peers []Baseboard) []Envelope {
	if m.config.RetryInterval == 0 {
		return nil
	}
	var envelopes []Envelope
	for _, entry := range m.expiries {
		request := m.requests[entry.id]
		if now-request.lastSent < m.config.RetryInterval {
			continue
		}
		request.lastSent = now
		for _, peer := range peers {
			if msg, ok := request.message(peer); ok {
				envelopes = append(envelopes, Envelope{To: peer, Msg: msg})
			}
		}
	}
	return envelopes
}

// broadcast returns the request for id addressed to each of peers
// that has not answered it.
func (m *RequestManager) broadcast(id RequestID, peers []Baseboard) []Envelope {
	request, ok := m.requests[id]
	if !ok {
		return nil
	}
	var envelopes []Envelope
	for _, peer := range peers {
		if msg, ok := request.message(peer); ok {
			envelopes = append(envelopes, Envelope{To: peer, Msg: msg})
		}
	}
	return envelopes
}

// findLearn returns the tracked Learn on behalf of learner.
func (m *RequestManager) findLearn(learner Baseboard) (*TrackableRequest, bool) {
	for _, request := range m.requests {
		if request.Kind == TrackedLearn && request.From == learner {
			return request, true
		}
	}
	return nil, false
}

// Close releases every tracked request.
func (m *RequestManager) Close() {
	for id, request := range m.requests {
		request.Close()
		delete(m.requests, id)
	}
	m.expiries = nil
}
