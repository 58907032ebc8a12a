// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package node

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/bureau-foundation/bootstore/bootstore"
	"github.com/bureau-foundation/bootstore/lib/clock"
	"github.com/bureau-foundation/bootstore/lib/sealed"
	"github.com/bureau-foundation/bootstore/lib/testutil"
	"github.com/bureau-foundation/bootstore/transport"
	"github.com/bureau-foundation/bootstore/trustquorum"
)

const (
	tickInterval  = time.Second
	probeInterval = 2 * time.Second
)

// cluster runs real nodes over TCP on loopback, sharing one fake
// clock. Probes run once at start and then only when the test
// advances the clock.
type cluster struct {
	t         *testing.T
	clock     *clock.FakeClock
	addresses map[bootstore.Baseboard]string
	keys      map[bootstore.Baseboard]*sealed.Keypair
	dirs      map[bootstore.Baseboard]string
	running   map[bootstore.Baseboard]*runningNode
}

type runningNode struct {
	*Node
	cancel context.CancelFunc
	result chan error
}

func newCluster(t *testing.T, ids ...bootstore.Baseboard) *cluster {
	t.Helper()
	c := &cluster{
		t:         t,
		clock:     clock.Fake(time.Unix(1_700_000_000, 0)),
		addresses: make(map[bootstore.Baseboard]string),
		keys:      make(map[bootstore.Baseboard]*sealed.Keypair),
		dirs:      make(map[bootstore.Baseboard]string),
		running:   make(map[bootstore.Baseboard]*runningNode),
	}
	listeners := make(map[bootstore.Baseboard]*transport.TCPListener)
	for _, id := range ids {
		listener, err := transport.NewTCPListener("127.0.0.1:0")
		if err != nil {
			t.Fatalf("NewTCPListener: %v", err)
		}
		listeners[id] = listener
		c.addresses[id] = listener.Address()
		c.keys[id] = generateKeypair(t)
		c.dirs[id] = t.TempDir()
	}
	for _, id := range ids {
		c.start(id, listeners[id])
	}
	t.Cleanup(func() {
		for id := range c.running {
			c.stop(id)
		}
	})
	return c
}

// start runs id on listener, or on a fresh listener at its old
// address if listener is nil.
func (c *cluster) start(id bootstore.Baseboard, listener *transport.TCPListener) *runningNode {
	c.t.Helper()
	if listener == nil {
		var err error
		listener, err = transport.NewTCPListener(c.addresses[id])
		if err != nil {
			c.t.Fatalf("relistening on %s: %v", c.addresses[id], err)
		}
	}
	identity, err := c.keys[id].PrivateKey.Clone()
	if err != nil {
		c.t.Fatalf("Clone: %v", err)
	}
	store, err := NewStore(filepath.Join(c.dirs[id], "state.age"), identity, nil)
	if err != nil {
		c.t.Fatalf("NewStore: %v", err)
	}

	config := bootstore.DefaultConfig()
	config.RetryInterval = 0
	node, err := New(Options{
		ID:            id,
		Config:        config,
		Peers:         c.addresses,
		Store:         store,
		Client:        transport.NewClient(&transport.TCPDialer{Timeout: time.Second}, 5*time.Second),
		Listener:      listener,
		Clock:         c.clock,
		TickInterval:  tickInterval,
		ProbeInterval: probeInterval,
	})
	if err != nil {
		store.Close()
		c.t.Fatalf("New(%s): %v", id, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	running := &runningNode{Node: node, cancel: cancel, result: make(chan error, 1)}
	go func() {
		running.result <- node.Run(ctx)
		store.Close()
	}()
	c.running[id] = running
	return running
}

func (c *cluster) stop(id bootstore.Baseboard) {
	c.t.Helper()
	running := c.running[id]
	delete(c.running, id)
	running.cancel()
	if err := testutil.RequireReceive(c.t, running.result, 10*time.Second, "waiting for %s to stop", id); err != nil {
		c.t.Errorf("Run(%s) = %v", id, err)
	}
}

func (c *cluster) node(id bootstore.Baseboard) *Node { return c.running[id].Node }

// tickUntil advances the clock one tick at a time until done is
// closed.
func (c *cluster) tickUntil(done <-chan struct{}) {
	c.t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for {
		select {
		case <-done:
			return
		case <-time.After(10 * time.Millisecond):
		}
		if time.Now().After(deadline) {
			c.t.Fatal("timed out advancing the clock")
		}
		c.clock.Advance(tickInterval)
	}
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func loadSecret(t *testing.T, node *Node) *trustquorum.RackSecret {
	t.Helper()
	rackSecret, err := node.LoadRackSecret(testContext(t))
	if err != nil {
		t.Fatalf("LoadRackSecret on %s: %v", node.ID(), err)
	}
	t.Cleanup(func() { rackSecret.Close() })
	return rackSecret
}

func TestRackLifecycle(t *testing.T) {
	a, b, c, learner := sled("a"), sled("b"), sled("c"), sled("learner")
	rack := newCluster(t, a, b, c, learner)
	ctx := testContext(t)

	rackUUID := uuid.New()
	if err := rack.node(a).InitRack(ctx, rackUUID, []bootstore.Baseboard{a, b, c}); err != nil {
		t.Fatalf("InitRack: %v", err)
	}
	for _, id := range []bootstore.Baseboard{a, b, c} {
		status := rack.node(id).Status()
		if status.State != "initial_member" || status.RackUUID != rackUUID {
			t.Fatalf("%s status = %+v", id, status)
		}
	}

	reference := loadSecret(t, rack.node(b))
	if !loadSecret(t, rack.node(c)).Equal(reference) {
		t.Fatal("c reconstructed a different secret")
	}

	if err := rack.node(learner).InitLearner(ctx); err != nil {
		t.Fatalf("InitLearner: %v", err)
	}
	if state := rack.node(learner).Status().State; state != "learned" {
		t.Fatalf("learner state = %s", state)
	}
	if !loadSecret(t, rack.node(learner)).Equal(reference) {
		t.Fatal("learner reconstructed a different secret")
	}

	metrics := rack.node(learner).Metrics()
	if got := promtestutil.ToFloat64(metrics.state.WithLabelValues("learned")); got != 1 {
		t.Fatalf("learned state gauge = %v", got)
	}
	if got := promtestutil.ToFloat64(metrics.apiCalls.WithLabelValues("init_learner", "ok")); got != 1 {
		t.Fatalf("init_learner ok count = %v", got)
	}
	if got := promtestutil.ToFloat64(rack.node(a).Metrics().persists); got < 1 {
		t.Fatalf("initializer wrote state %v times", got)
	}
}

func TestAPIErrorsReturnImmediately(t *testing.T) {
	a, b := sled("a"), sled("b")
	rack := newCluster(t, a, b)
	ctx := testContext(t)

	if _, err := rack.node(a).LoadRackSecret(ctx); !errors.Is(err, bootstore.ErrRackNotInitialized) {
		t.Fatalf("LoadRackSecret before init = %v", err)
	}
	if err := rack.node(a).InitRack(ctx, uuid.New(), []bootstore.Baseboard{b}); !errors.Is(err, bootstore.ErrRackInitFailed) {
		t.Fatalf("InitRack without self = %v", err)
	}
	if err := rack.node(a).InitRack(ctx, uuid.New(), []bootstore.Baseboard{a, b}); err != nil {
		t.Fatalf("InitRack: %v", err)
	}
	if err := rack.node(a).InitRack(ctx, uuid.New(), []bootstore.Baseboard{a, b}); !errors.Is(err, bootstore.ErrRackAlreadyInitialized) {
		t.Fatalf("second InitRack = %v", err)
	}
	if err := rack.node(b).InitLearner(ctx); !errors.Is(err, bootstore.ErrPeerAlreadyInitialized) {
		t.Fatalf("InitLearner on a member = %v", err)
	}
}

func TestLoadRackSecretTimesOut(t *testing.T) {
	a, b := sled("a"), sled("b")
	rack := newCluster(t, a, b)
	if err := rack.node(a).InitRack(testContext(t), uuid.New(), []bootstore.Baseboard{a, b}); err != nil {
		t.Fatalf("InitRack: %v", err)
	}
	rack.stop(a)

	ctx := testContext(t)
	done := make(chan struct{})
	var err error
	go func() {
		defer close(done)
		var rackSecret *trustquorum.RackSecret
		rackSecret, err = rack.node(b).LoadRackSecret(ctx)
		rackSecret.Close()
	}()
	rack.tickUntil(done)
	if !errors.Is(err, bootstore.ErrRackSecretLoadTimeout) {
		t.Fatalf("LoadRackSecret with the other member down = %v", err)
	}
	if tracked := rack.node(b).Status().TrackedRequests; tracked != 0 {
		t.Fatalf("%d requests still tracked after the timeout", tracked)
	}
}

func TestWaitersShareOneLoad(t *testing.T) {
	a, b := sled("a"), sled("b")
	rack := newCluster(t, a, b)
	if err := rack.node(a).InitRack(testContext(t), uuid.New(), []bootstore.Baseboard{a, b}); err != nil {
		t.Fatalf("InitRack: %v", err)
	}
	rack.stop(a)
	testutil.Eventually(t, 10*time.Second, func() bool {
		rack.clock.Advance(probeInterval)
		return rack.node(b).Status().ConnectedPeers == 0
	}, "b to see a disconnect")

	type loaded struct {
		secret *trustquorum.RackSecret
		err    error
	}
	ctx := testContext(t)
	results := make(chan loaded, 2)
	for range 2 {
		go func() {
			rackSecret, err := rack.node(b).LoadRackSecret(ctx)
			results <- loaded{rackSecret, err}
		}()
	}
	pending := rack.node(b).Metrics().apiCallsPending
	testutil.Eventually(t, 10*time.Second, func() bool { return promtestutil.ToFloat64(pending) == 2 }, "both loads to wait")

	rack.start(a, nil)
	rack.clock.Advance(probeInterval)

	first := testutil.RequireReceive(t, results, 10*time.Second, "first load")
	second := testutil.RequireReceive(t, results, 10*time.Second, "second load")
	if first.err != nil || second.err != nil {
		t.Fatalf("loads failed: %v, %v", first.err, second.err)
	}
	defer first.secret.Close()
	defer second.secret.Close()
	if first.secret == second.secret {
		t.Fatal("both callers got the same secret value")
	}
	if !first.secret.Equal(second.secret) {
		t.Fatal("callers got different secrets")
	}
}

func TestRestartKeepsMembership(t *testing.T) {
	a, b := sled("a"), sled("b")
	rack := newCluster(t, a, b)
	rackUUID := uuid.New()
	if err := rack.node(a).InitRack(testContext(t), rackUUID, []bootstore.Baseboard{a, b}); err != nil {
		t.Fatalf("InitRack: %v", err)
	}
	before := loadSecret(t, rack.node(b))

	rack.stop(b)
	restarted := rack.start(b, nil)
	status := restarted.Status()
	if status.State != "initial_member" || status.RackUUID != rackUUID || status.RackSecretCached {
		t.Fatalf("restarted status = %+v", status)
	}
	if !loadSecret(t, restarted.Node).Equal(before) {
		t.Fatal("secret changed across a restart")
	}
}

func TestStoppedNode(t *testing.T) {
	a := sled("a")
	rack := newCluster(t, a)
	node := rack.node(a)
	rack.stop(a)

	if err := node.InitLearner(testContext(t)); !errors.Is(err, ErrStopped) {
		t.Fatalf("InitLearner on a stopped node = %v", err)
	}
	if err := node.Run(context.Background()); err == nil {
		t.Fatal("second Run succeeded")
	}
	if err := node.Deliver(transport.Frame{From: sled("b")}); !errors.Is(err, transport.ErrUnavailable) {
		t.Fatalf("Deliver on a stopped node = %v", err)
	}
}

func TestDropsUnknownSender(t *testing.T) {
	a := sled("a")
	rack := newCluster(t, a)
	node := rack.node(a)

	frame := transport.Frame{
		From: sled("stranger"),
		Msg:  bootstore.Msg{Request: &bootstore.Request{ID: uuid.New(), Kind: bootstore.RequestLearn}},
	}
	if err := node.Deliver(frame); err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	// Events are handled in order, so the drop is counted once this
	// call returns.
	if _, err := node.LoadRackSecret(testContext(t)); !errors.Is(err, bootstore.ErrRackNotInitialized) {
		t.Fatalf("LoadRackSecret = %v", err)
	}
	dropped := node.Metrics().messagesDropped.WithLabelValues("unknown_sender")
	if got := promtestutil.ToFloat64(dropped); got != 1 {
		t.Fatalf("unknown_sender drops = %v", got)
	}
}

func TestCancelledCallLeavesNodeRunning(t *testing.T) {
	a, b := sled("a"), sled("b")
	rack := newCluster(t, a, b)
	if err := rack.node(a).InitRack(testContext(t), uuid.New(), []bootstore.Baseboard{a, b}); err != nil {
		t.Fatalf("InitRack: %v", err)
	}
	rack.stop(a)

	ctx, cancel := context.WithCancel(context.Background())
	result := make(chan error, 1)
	go func() {
		_, err := rack.node(b).LoadRackSecret(ctx)
		result <- err
	}()
	pending := rack.node(b).Metrics().apiCallsPending
	testutil.Eventually(t, 10*time.Second, func() bool { return promtestutil.ToFloat64(pending) == 1 }, "the load to wait")
	cancel()
	if err := testutil.RequireReceive(t, result, 10*time.Second, "cancelled load"); !errors.Is(err, context.Canceled) {
		t.Fatalf("cancelled LoadRackSecret = %v", err)
	}
	if state := rack.node(b).Status().State; state != "initial_member" {
		t.Fatalf("state after cancel = %s", state)
	}
}

func TestNewValidatesOptions(t *testing.T) {
	store := newStore(t, t.TempDir())
	client := transport.NewClient(&transport.TCPDialer{}, time.Second)
	valid := Options{
		ID:            sled("a"),
		Config:        bootstore.DefaultConfig(),
		Store:         store,
		Client:        client,
		TickInterval:  time.Second,
		ProbeInterval: time.Second,
	}

	tests := []struct {
		name   string
		mutate func(*Options)
	}{
		{"zero id", func(o *Options) { o.ID = bootstore.Baseboard{} }},
		{"no store", func(o *Options) { o.Store = nil }},
		{"no client", func(o *Options) { o.Client = nil }},
		{"no tick interval", func(o *Options) { o.TickInterval = 0 }},
		{"no probe interval", func(o *Options) { o.ProbeInterval = 0 }},
		{"zero timeout", func(o *Options) { o.Config.LearnTimeout = 0 }},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			options := valid
			test.mutate(&options)
			if _, err := New(options); err == nil {
				t.Fatal("New accepted invalid options")
			}
		})
	}

	valid.Peers = map[bootstore.Baseboard]string{sled("a"): "self", sled("b"): "127.0.0.1:1"}
	node, err := New(valid)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer node.fsm.Close()
	if len(node.peers) != 1 {
		t.Fatalf("peers = %d, want the entry for self skipped", len(node.peers))
	}
	if node.Status().State != "uninitialized" {
		t.Fatalf("state = %s", node.Status().State)
	}
}
