// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package bootstore

import (
	"strings"
	"testing"

	"github.com/bureau-foundation/bootstore/lib/codec"
	"github.com/bureau-foundation/bootstore/trustquorum"
)

// restart saves id's state through the codec, discards the peer, and
// restores it from the decoded state. The restored peer is told about
// every link that is up.
func (n *testNet) restart(id Baseboard) {
	n.t.Helper()
	encoded, err := codec.Marshal(n.peers[id].Persistent())
	if err != nil {
		n.t.Fatalf("encoding persistent state of %s: %v", id, err)
	}
	n.peers[id].Close()

	var decoded PersistentState
	if err := codec.Unmarshal(encoded, &decoded); err != nil {
		n.t.Fatalf("decoding persistent state of %s: %v", id, err)
	}
	restored, err := Restore(id, n.config, decoded)
	if err != nil {
		n.t.Fatalf("restoring %s: %v", id, err)
	}
	n.peers[id] = restored
	for _, other := range n.ids {
		if other != id && n.connected(id, other) {
			n.collect(id, restored.InsertPeer(other))
		}
	}
}

func TestRestoreEveryState(t *testing.T) {
	network := newTestNet(t, testConfig(), 5)
	members := network.initRack(3)
	learner, fresh := network.ids[3], network.ids[4]
	network.connect(learner, members[0])
	network.collect(learner, network.peer(learner).InitLearner())
	network.deliverAll()
	network.takeResults(learner)

	before := make(map[Baseboard]Status)
	for _, id := range network.ids {
		before[id] = network.peer(id).Status()
	}
	for _, id := range network.ids {
		network.restart(id)
	}

	wantStates := map[Baseboard]string{
		members[0]: "initial_member",
		members[1]: "initial_member",
		members[2]: "initial_member",
		learner:    "learned",
		fresh:      "uninitialized",
	}
	for id, want := range wantStates {
		after := network.peer(id).Status()
		if after.State != want {
			t.Fatalf("%s restored as %s, want %s", id, after.State, want)
		}
		if after.RackUUID != before[id].RackUUID || after.LearnersServed != before[id].LearnersServed {
			t.Fatalf("%s status changed across restart: %+v -> %+v", id, before[id], after)
		}
		if after.RackSecretCached || after.RackInitPending || after.TrackedRequests != 0 {
			t.Fatalf("%s restored with volatile state: %+v", id, after)
		}
	}

	// The initializer still hands the learner the same share.
	first := network.peer(members[0]).Status().LearnersServed
	if first != 1 {
		t.Fatalf("initializer remembers %d learners", first)
	}
	secretAtMember := network.loadSecret(members[0])
	out := network.peer(members[0]).Handle(learner, learnRequest(RequestID{1}))
	closeOutput(t, out)
	if len(out.Envelopes) != 1 || out.Envelopes[0].Msg.Response.LearnPkg == nil {
		t.Fatalf("repeat learn after restart = %+v", out)
	}
	if index := out.Envelopes[0].Msg.Response.LearnPkg.Share.Index; index != network.memberShare(learner).Index {
		t.Fatalf("learner given share %d after restart, holds %d", index, network.memberShare(learner).Index)
	}

	secretAtLearner := network.loadSecret(learner)
	if !secretAtLearner.Equal(secretAtMember) {
		t.Fatal("restored peers reconstructed different secrets")
	}
}

func TestRestoredLearnerResumes(t *testing.T) {
	network := newTestNet(t, testConfig(), 3)
	members := network.initRack(2)
	learner := network.ids[2]

	out := network.peer(learner).InitLearner()
	if !out.Persist || len(out.Envelopes) != 0 {
		t.Fatalf("InitLearner with no peers = %+v", out)
	}
	network.restart(learner)
	if state := network.peer(learner).StateName(); state != "learning" {
		t.Fatalf("restored as %s", state)
	}

	// No peer yet: the first tick has nobody to ask.
	network.tick()
	if len(network.inflight) != 0 {
		t.Fatalf("%d messages sent with no peers", len(network.inflight))
	}

	network.connect(learner, members[1])
	if len(network.inflight) != 1 || network.inflight[0].to != members[1] {
		t.Fatalf("in flight after connecting = %+v", network.inflight)
	}
	network.deliverAll()
	if state := network.peer(learner).StateName(); state != "learned" {
		t.Fatalf("learner ended in %s", state)
	}
}

func TestRestoreRejectsInvalidState(t *testing.T) {
	id := sled("a")
	pkgs := rackPkgs(t, 3)

	clonePkg := func(pkg *trustquorum.SharePkg) *trustquorum.SharePkg {
		t.Helper()
		clone, err := pkg.Clone()
		if err != nil {
			t.Fatalf("Clone: %v", err)
		}
		return clone
	}
	learnedPkg := func() *trustquorum.LearnedSharePkg {
		t.Helper()
		source := clonePkg(pkgs[0])
		defer source.Close()
		share, err := source.Share.Clone()
		if err != nil {
			t.Fatalf("Clone: %v", err)
		}
		return source.Learned(share)
	}

	tests := []struct {
		name  string
		state func() PersistentState
		want  string
	}{
		{
			name:  "future version",
			state: func() PersistentState { return PersistentState{Version: 99, State: "uninitialized"} },
			want:  "version",
		},
		{
			name:  "unknown state",
			state: func() PersistentState { return PersistentState{Version: PersistentStateVersion, State: "elected"} },
			want:  "unknown state",
		},
		{
			name: "uninitialized with package",
			state: func() PersistentState {
				return PersistentState{Version: PersistentStateVersion, State: "uninitialized", SharePkg: clonePkg(pkgs[0])}
			},
			want: "carries a share package",
		},
		{
			name:  "initial member without package",
			state: func() PersistentState { return PersistentState{Version: PersistentStateVersion, State: "initial_member"} },
			want:  "restoring initial member",
		},
		{
			name: "initial member with learned package",
			state: func() PersistentState {
				return PersistentState{
					Version:         PersistentStateVersion,
					State:           "initial_member",
					SharePkg:        clonePkg(pkgs[0]),
					LearnedSharePkg: learnedPkg(),
				}
			},
			want: "learned share package",
		},
		{
			name: "distributed founding share",
			state: func() PersistentState {
				return PersistentState{
					Version:           PersistentStateVersion,
					State:             "initial_member",
					SharePkg:          clonePkg(pkgs[0]),
					DistributedShares: []DistributedShare{{Learner: sled("l"), Index: 1}},
				}
			},
			want: "invalid distributed share",
		},
		{
			name: "learned with founding package",
			state: func() PersistentState {
				return PersistentState{
					Version:         PersistentStateVersion,
					State:           "learned",
					SharePkg:        clonePkg(pkgs[0]),
					LearnedSharePkg: learnedPkg(),
				}
			},
			want: "founding share package",
		},
		{
			name:  "learned without package",
			state: func() PersistentState { return PersistentState{Version: PersistentStateVersion, State: "learned"} },
			want:  "restoring learned peer",
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			peer, err := Restore(id, testConfig(), test.state())
			if err == nil {
				peer.Close()
				t.Fatal("Restore succeeded")
			}
			if !strings.Contains(err.Error(), test.want) {
				t.Fatalf("Restore error = %v, want mention of %q", err, test.want)
			}
		})
	}
}

func TestRestoreTakesOwnership(t *testing.T) {
	pkgs := rackPkgs(t, 3)
	pkg, err := pkgs[1].Clone()
	if err != nil {
		t.Fatalf("Clone: %v", err)
	}
	peer, err := Restore(sled("b"), testConfig(), PersistentState{
		Version:           PersistentStateVersion,
		State:             "initial_member",
		SharePkg:          pkg,
		DistributedShares: []DistributedShare{{Learner: sled("l"), Index: 4}},
	})
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	defer peer.Close()

	saved := peer.Persistent()
	if saved.SharePkg != pkg {
		t.Fatal("restored peer does not hold the restored package")
	}
	if len(saved.DistributedShares) != 1 || saved.DistributedShares[0].Index != 4 {
		t.Fatalf("distributed shares = %+v", saved.DistributedShares)
	}
}
