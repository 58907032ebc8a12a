// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package bootstore

import (
	"fmt"
	"testing"

	"github.com/bureau-foundation/bootstore/lib/codec"
	"github.com/bureau-foundation/bootstore/trustquorum"
)

func testConfig() Config {
	return Config{
		LearnTimeout:             5,
		RackInitTimeout:          20,
		RackSecretRequestTimeout: 10,
	}
}

func sled(name string) Baseboard {
	return Baseboard{Model: "gimlet", Revision: "6", Identifier: name}
}

// packet is a message in flight between two peers.
type packet struct {
	from, to Baseboard
	msg      Msg
}

// testNet wires a set of Fsms together through an in-memory network.
// Every message is encoded and decoded with the wire codec on the way,
// and every persisted state is encoded, so ownership bugs and codec
// gaps surface here.
type testNet struct {
	t      *testing.T
	config Config
	ids    []Baseboard
	peers  map[Baseboard]*Fsm

	// links holds the connected pairs, keyed lower id first.
	links    map[[2]Baseboard]bool
	inflight []packet

	results   map[Baseboard][]*APIResult
	persisted map[Baseboard]int
}

func newTestNet(t *testing.T, config Config, count int) *testNet {
	t.Helper()
	network := &testNet{
		t:         t,
		config:    config,
		peers:     make(map[Baseboard]*Fsm),
		links:     make(map[[2]Baseboard]bool),
		results:   make(map[Baseboard][]*APIResult),
		persisted: make(map[Baseboard]int),
	}
	for index := range count {
		id := sled(fmt.Sprintf("sled-%02d", index))
		network.ids = append(network.ids, id)
		network.peers[id] = New(id, config)
	}
	t.Cleanup(network.close)
	return network
}

func (n *testNet) close() {
	for _, peer := range n.peers {
		peer.Close()
	}
	for _, in := range n.inflight {
		in.msg.Close()
	}
	n.inflight = nil
	for _, results := range n.results {
		for _, result := range results {
			result.close()
		}
	}
}

func (n *testNet) peer(id Baseboard) *Fsm { return n.peers[id] }

func linkKey(a, b Baseboard) [2]Baseboard {
	if a.Compare(b) > 0 {
		a, b = b, a
	}
	return [2]Baseboard{a, b}
}

func (n *testNet) connected(a, b Baseboard) bool { return n.links[linkKey(a, b)] }

// connect brings up the link between a and b and tells both peers.
func (n *testNet) connect(a, b Baseboard) {
	if a == b {
		return
	}
	n.links[linkKey(a, b)] = true
	n.collect(a, n.peers[a].InsertPeer(b))
	n.collect(b, n.peers[b].InsertPeer(a))
}

// disconnect takes the link down. Messages already in flight on it
// are lost.
func (n *testNet) disconnect(a, b Baseboard) {
	if a == b {
		return
	}
	delete(n.links, linkKey(a, b))
	n.collect(a, n.peers[a].RemovePeer(b))
	n.collect(b, n.peers[b].RemovePeer(a))
}

func (n *testNet) connectAll() {
	for i, a := range n.ids {
		for _, b := range n.ids[i+1:] {
			n.connect(a, b)
		}
	}
}

// collect applies an Output the way a driver would: persist, then
// queue the envelopes, then record the API result.
func (n *testNet) collect(from Baseboard, out Output) {
	n.t.Helper()
	if out.Persist {
		n.persist(from)
	}
	for _, envelope := range out.Envelopes {
		n.inflight = append(n.inflight, packet{from: from, to: envelope.To, msg: roundTripMsg(n.t, envelope.Msg)})
		envelope.Msg.Close()
	}
	if out.APIOutput != nil {
		n.results[from] = append(n.results[from], out.APIOutput)
	}
}

func (n *testNet) persist(id Baseboard) {
	n.t.Helper()
	encoded, err := codec.Marshal(n.peers[id].Persistent())
	if err != nil {
		n.t.Fatalf("encoding persistent state of %s: %v", id, err)
	}
	var decoded PersistentState
	if err := codec.Unmarshal(encoded, &decoded); err != nil {
		n.t.Fatalf("decoding persistent state of %s: %v", id, err)
	}
	decoded.SharePkg.Close()
	decoded.LearnedSharePkg.Close()
	n.persisted[id]++
}

func roundTripMsg(t *testing.T, msg Msg) Msg {
	t.Helper()
	encoded, err := codec.Marshal(msg)
	if err != nil {
		t.Fatalf("encoding %s: %v", msg, err)
	}
	var decoded Msg
	if err := codec.Unmarshal(encoded, &decoded); err != nil {
		t.Fatalf("decoding %s: %v", msg, err)
	}
	if err := decoded.Validate(); err != nil {
		t.Fatalf("decoded %s is invalid: %v", msg, err)
	}
	return decoded
}

// deliverOne delivers the oldest message in flight. Messages on a
// link that is down are dropped.
func (n *testNet) deliverOne() {
	n.t.Helper()
	in := n.inflight[0]
	n.inflight = n.inflight[1:]
	if !n.connected(in.from, in.to) {
		in.msg.Close()
		return
	}
	n.collect(in.to, n.peers[in.to].Handle(in.from, in.msg))
}

// deliverAll delivers until nothing is in flight.
func (n *testNet) deliverAll() {
	n.t.Helper()
	for len(n.inflight) > 0 {
		n.deliverOne()
	}
}

// tick advances every peer's clock once.
func (n *testNet) tick() {
	n.t.Helper()
	for _, id := range n.ids {
		n.collect(id, n.peers[id].Tick())
	}
}

// takeResults returns and forgets the API results recorded for id.
// The caller owns any secrets in them.
func (n *testNet) takeResults(id Baseboard) []*APIResult {
	results := n.results[id]
	delete(n.results, id)
	return results
}

// initRack initializes a rack of the first count peers with the first
// peer as initializer, connecting the members first, and runs it to
// completion.
func (n *testNet) initRack(count int) []Baseboard {
	n.t.Helper()
	members := n.ids[:count]
	for _, member := range members[1:] {
		n.connect(members[0], member)
	}
	n.collect(members[0], n.peers[members[0]].InitRack(testRackUUID, members))
	n.deliverAll()
	results := n.takeResults(members[0])
	if len(results) != 1 || results[0].Err != nil {
		n.t.Fatalf("rack init results = %+v, want one RackInitComplete", results)
	}
	if _, ok := results[0].Value.(RackInitComplete); !ok {
		n.t.Fatalf("rack init result = %T, want RackInitComplete", results[0].Value)
	}
	return members
}

// memberShare returns a copy of the share held by an initialized peer.
func (n *testNet) memberShare(id Baseboard) *trustquorum.Share {
	n.t.Helper()
	state := n.peers[id].Persistent()
	var share *trustquorum.Share
	switch {
	case state.SharePkg != nil:
		share = state.SharePkg.Share
	case state.LearnedSharePkg != nil:
		share = state.LearnedSharePkg.Share
	default:
		n.t.Fatalf("%s holds no share (state %s)", id, state.State)
	}
	clone, err := share.Clone()
	if err != nil {
		n.t.Fatalf("cloning share: %v", err)
	}
	n.t.Cleanup(func() { clone.Close() })
	return clone
}

// checkTracker verifies the RequestManager's map and expiry index
// agree.
func checkTracker(t *testing.T, id Baseboard, m *RequestManager) {
	t.Helper()
	if len(m.requests) != len(m.expiries) {
		t.Fatalf("%s: %d requests but %d expiry entries", id, len(m.requests), len(m.expiries))
	}
	for index, entry := range m.expiries {
		request, ok := m.requests[entry.id]
		if !ok {
			t.Fatalf("%s: expiry entry %s has no request", id, entry.id)
		}
		if request.Expiry != entry.expiry || request.ID != entry.id {
			t.Fatalf("%s: expiry entry %s disagrees with its request", id, entry.id)
		}
		if index > 0 && compareExpiry(m.expiries[index-1], entry) >= 0 {
			t.Fatalf("%s: expiry index out of order at %d", id, index)
		}
	}
}
