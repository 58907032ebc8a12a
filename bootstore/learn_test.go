// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package bootstore

import (
	"fmt"
	"testing"

	"github.com/google/uuid"

	"github.com/bureau-foundation/bootstore/trustquorum"
)

// requireLearn checks out holds exactly one Learn request to want and
// returns its id.
func requireLearn(t *testing.T, out Output, want Baseboard) RequestID {
	t.Helper()
	if out.APIOutput != nil || len(out.Envelopes) != 1 {
		t.Fatalf("output = %+v, want one Learn request to %s", out, want)
	}
	envelope := out.Envelopes[0]
	if envelope.To != want || envelope.Msg.Request == nil || envelope.Msg.Request.Kind != RequestLearn {
		t.Fatalf("sent %s to %s, want learn request to %s", envelope.Msg, envelope.To, want)
	}
	return envelope.Msg.Request.ID
}

// loadSecret loads the rack secret at id over the network.
func (n *testNet) loadSecret(id Baseboard) *trustquorum.RackSecret {
	n.t.Helper()
	n.collect(id, n.peers[id].LoadRackSecret())
	n.deliverAll()
	results := n.takeResults(id)
	if len(results) != 1 {
		n.t.Fatalf("%s: got %d API results loading the secret", id, len(results))
	}
	return requireSecret(n.t, results[0])
}

func TestLearnFlow(t *testing.T) {
	network := newTestNet(t, testConfig(), 4)
	members := network.initRack(3)
	learner := network.ids[3]
	network.connect(learner, members[0])
	network.connect(learner, members[1])

	network.collect(learner, network.peer(learner).InitLearner())
	if network.peer(learner).StateName() != "learning" {
		t.Fatalf("state = %s", network.peer(learner).StateName())
	}
	network.deliverAll()

	results := network.takeResults(learner)
	if len(results) != 1 || results[0].Err != nil {
		t.Fatalf("learner results = %+v", results)
	}
	if _, ok := results[0].Value.(LearningCompleted); !ok {
		t.Fatalf("learner result = %T, want LearningCompleted", results[0].Value)
	}
	if network.peer(learner).StateName() != "learned" {
		t.Fatalf("state = %s", network.peer(learner).StateName())
	}
	if network.persisted[learner] != 2 {
		t.Fatalf("learner persisted %d times, want 2 (learning, learned)", network.persisted[learner])
	}
	if share := network.memberShare(learner); share.Index != 3 {
		t.Fatalf("learner holds share %d, want the initializer's first spare, 3", share.Index)
	}
	if served := network.peer(members[0]).Status().LearnersServed; served != 1 {
		t.Fatalf("initializer served %d learners", served)
	}

	// The learned peer reconstructs the same secret as the members.
	fromLearner := network.loadSecret(learner)
	fromMember := network.loadSecret(members[2])
	if !fromLearner.Equal(fromMember) {
		t.Fatal("learner reconstructed a different secret")
	}
}

func TestLearnTimeoutRotatesPeers(t *testing.T) {
	a, b, c := sled("a"), sled("b"), sled("c")
	for timeout := Ticks(1); timeout <= 6; timeout++ {
		t.Run(fmt.Sprintf("timeout=%d", timeout), func(t *testing.T) {
			config := testConfig()
			config.LearnTimeout = timeout
			peer := New(sled("learner"), config)
			defer peer.Close()
			for _, other := range []Baseboard{c, a, b} {
				requireNothing(t, peer.InsertPeer(other))
			}

			out := peer.InitLearner()
			if !out.Persist {
				t.Fatal("init_learner did not persist")
			}
			previous := requireLearn(t, out, a)

			for _, want := range []Baseboard{b, c, a, b} {
				for range timeout - 1 {
					requireNothing(t, peer.Tick())
				}
				id := requireLearn(t, peer.Tick(), want)
				if id == previous {
					t.Fatal("retry reused the previous request id")
				}
				previous = id
			}
		})
	}
}

func TestLearnerWaitsForAPeer(t *testing.T) {
	config := testConfig()
	peer := New(sled("learner"), config)
	defer peer.Close()

	out := peer.InitLearner()
	if !out.Persist || len(out.Envelopes) != 0 {
		t.Fatalf("init_learner with no peers = %+v", out)
	}
	for range 2 * config.LearnTimeout {
		requireNothing(t, peer.Tick())
	}
	requireLearn(t, peer.InsertPeer(sled("b")), sled("b"))

	// A second connection does not start another attempt.
	requireNothing(t, peer.InsertPeer(sled("a")))
	// Removing the attempt's peer leaves the attempt to time out.
	requireNothing(t, peer.RemovePeer(sled("b")))
	for range config.LearnTimeout - 1 {
		requireNothing(t, peer.Tick())
	}
	requireLearn(t, peer.Tick(), sled("a"))
}

func TestLearnRefusalMovesOn(t *testing.T) {
	a, b := sled("a"), sled("b")
	peer := New(sled("learner"), testConfig())
	defer peer.Close()
	peer.InsertPeer(a)
	peer.InsertPeer(b)
	attempt := requireLearn(t, peer.InitLearner(), a)

	// Errors that do not answer the current attempt are ignored.
	requireNothing(t, peer.Handle(a, errorResponse(uuid.New(), ErrorNotInitialized)))
	requireNothing(t, peer.Handle(b, errorResponse(attempt, ErrorNotInitialized)))

	requireLearn(t, peer.Handle(a, errorResponse(attempt, ErrorCannotSpareAShare)), b)
}

func TestLearnRetryReachesLiveMember(t *testing.T) {
	config := testConfig()
	network := newTestNet(t, config, 4)
	members := network.initRack(3)
	learner := network.ids[3]
	network.connect(learner, members[1])
	network.connect(learner, members[2])
	// The link to the first choice fails silently: neither side is told.
	delete(network.links, linkKey(learner, members[1]))

	network.collect(learner, network.peer(learner).InitLearner())
	network.deliverAll()
	if network.peer(learner).StateName() != "learning" {
		t.Fatalf("learned through a dead link")
	}

	for range config.LearnTimeout {
		network.tick()
		network.deliverAll()
	}
	if network.peer(learner).StateName() != "learned" {
		t.Fatalf("state after retry = %s", network.peer(learner).StateName())
	}
	// members[2] holds share 2, so its first spare is 3+2.
	if share := network.memberShare(learner); share.Index != 5 {
		t.Fatalf("learner holds share %d, want 5", share.Index)
	}
}

func TestLearnerSharesAreStable(t *testing.T) {
	network := newTestNet(t, testConfig(), 3)
	members := network.initRack(3)
	network.loadSecret(members[0])
	network.loadSecret(members[1])
	first, second := sled("learner-1"), sled("learner-2")

	learn := func(member, learner Baseboard, wantPersist bool) int {
		t.Helper()
		id := uuid.New()
		out := network.peer(member).Handle(learner, learnRequest(id))
		defer out.Close()
		if out.Persist != wantPersist {
			t.Fatalf("persist = %v, want %v", out.Persist, wantPersist)
		}
		if len(out.Envelopes) != 1 || out.Envelopes[0].To != learner {
			t.Fatalf("learn answered with %+v", out.Envelopes)
		}
		response := out.Envelopes[0].Msg.Response
		if response.Kind != ResponseLearnPkg || response.RequestID != id {
			t.Fatalf("learn answered with %s", out.Envelopes[0].Msg)
		}
		if !response.LearnPkg.VerifyShare(response.LearnPkg.Share) {
			t.Fatal("handed-out share fails verification")
		}
		return response.LearnPkg.Share.Index
	}

	if got := learn(members[0], first, true); got != 3 {
		t.Fatalf("first learner got share %d, want 3", got)
	}
	if got := learn(members[0], first, false); got != 3 {
		t.Fatalf("repeated learn got share %d, want 3", got)
	}
	if got := learn(members[0], second, true); got != 6 {
		t.Fatalf("second learner got share %d, want 6", got)
	}
	// Another member hands out from its own stripe.
	if got := learn(members[1], first, true); got != 4 {
		t.Fatalf("first learner at member 1 got share %d, want 4", got)
	}
}

func TestLearnerSharesExhausted(t *testing.T) {
	network := newTestNet(t, testConfig(), 2)
	members := network.initRack(2)
	network.loadSecret(members[0])
	member := network.peer(members[0])

	// With two members each hands out every other spare.
	for index := range trustquorum.MaxLearners / 2 {
		out := member.Handle(sled(fmt.Sprintf("learner-%d", index)), learnRequest(uuid.New()))
		if len(out.Envelopes) != 1 || out.Envelopes[0].Msg.Response.Kind != ResponseLearnPkg {
			t.Fatalf("learner %d refused: %+v", index, out.Envelopes)
		}
		out.Close()
	}
	out := member.Handle(sled("one-too-many"), learnRequest(uuid.New()))
	if len(out.Envelopes) != 1 || out.Envelopes[0].Msg.Response.Error != ErrorCannotSpareAShare {
		t.Fatalf("extra learner answered with %+v", out.Envelopes)
	}
	if status := member.Status(); status.LearnersServed != trustquorum.MaxLearners/2 {
		t.Fatalf("learners served = %d", status.LearnersServed)
	}
}

func TestLearningAndLearnedRefuseRequests(t *testing.T) {
	network := newTestNet(t, testConfig(), 3)
	members := network.initRack(2)
	learner := network.ids[2]
	network.connect(learner, members[0])

	network.collect(learner, network.peer(learner).InitLearner())
	out := network.peer(learner).Handle(members[1], getShareRequest(uuid.New(), testRackUUID))
	if len(out.Envelopes) != 1 || out.Envelopes[0].Msg.Response.Error != ErrorStillLearning {
		t.Fatalf("learning peer answered GetShare with %+v", out.Envelopes)
	}
	requireAPIError(t, network.peer(learner).InitLearner(), ErrPeerAlreadyInitialized)
	requireAPIError(t, network.peer(learner).InitRack(testRackUUID, members), ErrRackAlreadyInitialized)

	network.deliverAll()
	if network.peer(learner).StateName() != "learned" {
		t.Fatalf("state = %s", network.peer(learner).StateName())
	}
	learnedPeer := network.peer(learner)

	out = learnedPeer.Handle(members[1], learnRequest(uuid.New()))
	if len(out.Envelopes) != 1 || out.Envelopes[0].Msg.Response.Error != ErrorCannotSpareAShare {
		t.Fatalf("learned peer answered Learn with %+v", out.Envelopes)
	}

	pkgs, err := trustquorum.CreatePkgs(testRackUUID, 2)
	if err != nil {
		t.Fatalf("CreatePkgs: %v", err)
	}
	defer pkgs[0].Close()
	out = learnedPeer.Handle(members[1], initRequest(uuid.New(), pkgs[1]))
	if len(out.Envelopes) != 1 || out.Envelopes[0].Msg.Response.Error != ErrorAlreadyInitialized {
		t.Fatalf("learned peer answered Init with %+v", out.Envelopes)
	}

	out = learnedPeer.Handle(members[1], getShareRequest(uuid.New(), testRackUUID))
	closeOutput(t, out)
	if len(out.Envelopes) != 1 || out.Envelopes[0].Msg.Response.Kind != ResponseShare {
		t.Fatalf("learned peer answered GetShare with %+v", out.Envelopes)
	}
	requireAPIError(t, learnedPeer.InitLearner(), ErrPeerAlreadyInitialized)
}
