// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package node

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/bureau-foundation/bootstore/bootstore"
	"github.com/bureau-foundation/bootstore/lib/clock"
	"github.com/bureau-foundation/bootstore/transport"
	"github.com/bureau-foundation/bootstore/trustquorum"
)

// ErrStopped is returned by API calls made on, or outstanding when, a
// node that is no longer running.
var ErrStopped = errors.New("node stopped")

// DefaultQueueSize bounds each peer's outbound queue.
const DefaultQueueSize = 64

// Options configures a [Node].
type Options struct {
	// ID is this sled's identity. Required.
	ID bootstore.Baseboard

	// Config holds the protocol timeouts.
	Config bootstore.Config

	// Peers maps every other sled to its transport address. An entry
	// for ID is ignored.
	Peers map[bootstore.Baseboard]string

	// Store persists state across restarts. Required. The node does
	// not close it.
	Store *Store

	// Client carries outbound frames and probes. Required.
	Client *transport.Client

	// Listener, if set, serves the peer endpoints while the node runs.
	Listener transport.Listener

	// Clock defaults to the real clock.
	Clock clock.Clock

	// TickInterval is the wall time of one protocol tick. Required.
	TickInterval time.Duration

	// ProbeInterval is how often each peer is probed. Required.
	ProbeInterval time.Duration

	// QueueSize defaults to DefaultQueueSize.
	QueueSize int

	// Metrics defaults to a fresh registry.
	Metrics *Metrics

	// Logger defaults to a discard logger.
	Logger *slog.Logger
}

// Node drives one [bootstore.Fsm]. A single event loop owns the Fsm
// and feeds it ticks, peer changes, inbound frames, and API calls one
// at a time. State is saved before any message it caused is sent.
type Node struct {
	id            bootstore.Baseboard
	fsm           *bootstore.Fsm
	store         *Store
	client        *transport.Client
	listener      transport.Listener
	clock         clock.Clock
	tickInterval  time.Duration
	probeInterval time.Duration
	metrics       *Metrics
	logger        *slog.Logger

	peers  map[bootstore.Baseboard]*peer
	events chan any
	done   chan struct{}

	started atomic.Bool
	status  atomic.Pointer[bootstore.Status]

	// waiters holds API callers whose result arrives on a later event.
	// Owned by the event loop.
	waiters map[operation][]chan *bootstore.APIResult
}

// New loads the node's saved state and prepares it to run.
func New(options Options) (*Node, error) {
	switch {
	case options.ID.IsZero():
		return nil, fmt.Errorf("node ID is required")
	case options.Store == nil:
		return nil, fmt.Errorf("store is required")
	case options.Client == nil:
		return nil, fmt.Errorf("client is required")
	case options.TickInterval <= 0:
		return nil, fmt.Errorf("tick interval must be positive")
	case options.ProbeInterval <= 0:
		return nil, fmt.Errorf("probe interval must be positive")
	}
	if err := options.Config.Validate(); err != nil {
		return nil, err
	}
	if options.Clock == nil {
		options.Clock = clock.Real()
	}
	if options.QueueSize <= 0 {
		options.QueueSize = DefaultQueueSize
	}
	if options.Metrics == nil {
		options.Metrics = NewMetrics(options.Clock)
	}
	if options.Logger == nil {
		options.Logger = slog.New(slog.DiscardHandler)
	}

	fsm, err := options.Store.Load(options.ID, options.Config)
	if err != nil {
		return nil, fmt.Errorf("loading state: %w", err)
	}

	n := &Node{
		id:            options.ID,
		fsm:           fsm,
		store:         options.Store,
		client:        options.Client,
		listener:      options.Listener,
		clock:         options.Clock,
		tickInterval:  options.TickInterval,
		probeInterval: options.ProbeInterval,
		metrics:       options.Metrics,
		logger:        options.Logger.With("node", options.ID.String()),
		peers:         make(map[bootstore.Baseboard]*peer, len(options.Peers)),
		events:        make(chan any),
		done:          make(chan struct{}),
		waiters:       make(map[operation][]chan *bootstore.APIResult),
	}
	for id, address := range options.Peers {
		if id != options.ID && !id.IsZero() {
			n.peers[id] = newPeer(id, address, options.QueueSize)
		}
	}
	n.publishStatus()
	return n, nil
}

// ID returns the node's identity.
func (n *Node) ID() bootstore.Baseboard { return n.id }

// Status returns the state as of the last processed event.
func (n *Node) Status() bootstore.Status { return *n.status.Load() }

// Metrics returns the node's collectors.
func (n *Node) Metrics() *Metrics { return n.metrics }

// Handler serves the peer endpoints: messages, hello, status, and
// metrics.
func (n *Node) Handler() http.Handler {
	server := &transport.Server{
		ID:      n.id,
		Deliver: n.Deliver,
		Status:  n.Status,
		Metrics: n.metrics.Handler(),
		Logger:  n.logger,
	}
	return server.Handler()
}

// Run processes events until ctx is cancelled or state cannot be
// saved. Outstanding API calls fail when Run returns. The Fsm's
// secrets are zeroed on return; a Node runs at most once.
func (n *Node) Run(ctx context.Context) error {
	if !n.started.CompareAndSwap(false, true) {
		return fmt.Errorf("node %s already started", n.id)
	}
	defer close(n.done)
	defer n.fsm.Close()

	// Peer goroutines and the listener outlive ctx until the loop has
	// stopped, so nothing blocks on an event the loop will never take.
	background, stopBackground := context.WithCancel(context.WithoutCancel(ctx))
	var wg sync.WaitGroup
	defer wg.Wait()
	defer stopBackground()

	for _, p := range n.peers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.run(background, n)
		}()
	}

	serveErr := make(chan error, 1)
	if n.listener != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			serveErr <- n.listener.Serve(background, n.Handler())
		}()
	}

	ticker := n.clock.NewTicker(n.tickInterval)
	defer ticker.Stop()

	n.logger.Info("node running", "state", n.fsm.StateName(), "peers", len(n.peers))
	err := n.loop(ctx, ticker, serveErr)
	if err != nil {
		n.logger.Error("node stopped", "error", err)
		n.failWaiters(fmt.Errorf("%w: %w", ErrStopped, err))
	} else {
		n.logger.Info("node stopped")
		n.failWaiters(ErrStopped)
	}
	return err
}

func (n *Node) loop(ctx context.Context, ticker *clock.Ticker, serveErr <-chan error) error {
	for {
		var err error
		select {
		case <-ctx.Done():
			return nil
		case serveError := <-serveErr:
			if serveError == nil {
				serveError = fmt.Errorf("listener closed")
			}
			return fmt.Errorf("serving peers: %w", serveError)
		case <-ticker.C:
			n.metrics.ticks.Inc()
			err = n.apply(n.fsm.Tick(), nil)
		case event := <-n.events:
			err = n.handle(event)
		}
		if err != nil {
			return err
		}
	}
}

type peerEvent struct {
	id        bootstore.Baseboard
	connected bool
}

func (n *Node) handle(event any) error {
	switch event := event.(type) {
	case transport.Frame:
		if _, known := n.peers[event.From]; !known {
			event.Msg.Close()
			n.metrics.messagesDropped.WithLabelValues("unknown_sender").Inc()
			n.logger.Warn("dropping message from unconfigured sled", "from", event.From, "message", event.Msg)
			return nil
		}
		n.metrics.messagesReceived.WithLabelValues(msgKind(event.Msg)).Inc()
		n.logger.Debug("received", "from", event.From, "message", event.Msg)
		return n.apply(n.fsm.Handle(event.From, event.Msg), nil)

	case peerEvent:
		if event.connected {
			return n.apply(n.fsm.InsertPeer(event.id), nil)
		}
		return n.apply(n.fsm.RemovePeer(event.id), nil)

	case *apiCall:
		var out bootstore.Output
		switch event.op {
		case opInitRack:
			n.logger.Info("initializing rack", "rack", event.rackUUID, "members", len(event.members))
			out = n.fsm.InitRack(event.rackUUID, event.members)
		case opInitLearner:
			n.logger.Info("joining rack as learner")
			out = n.fsm.InitLearner()
		case opLoadRackSecret:
			out = n.fsm.LoadRackSecret()
		}
		return n.apply(out, event)
	}
	panic(fmt.Sprintf("node: unknown event %T", event))
}

// apply saves state if asked, then queues the envelopes and routes
// the API result. A failed save is fatal: the envelopes are dropped.
func (n *Node) apply(out bootstore.Output, call *apiCall) error {
	if out.Persist {
		if err := n.store.Save(n.fsm.Persistent()); err != nil {
			out.Close()
			err = fmt.Errorf("persisting state: %w", err)
			if call != nil {
				call.reply <- &bootstore.APIResult{Err: err}
			}
			return err
		}
		n.metrics.persists.Inc()
	}

	if out.APIOutput == nil && call != nil {
		n.waiters[call.op] = append(n.waiters[call.op], call.reply)
	}

	// Status is published before anything leaves the loop.
	n.publishStatus()
	for _, envelope := range out.Envelopes {
		n.send(envelope)
	}
	switch {
	case out.APIOutput != nil && call != nil:
		call.reply <- out.APIOutput
	case out.APIOutput != nil:
		n.resolve(out.APIOutput)
	}
	return nil
}

func (n *Node) publishStatus() {
	status := n.fsm.Status()
	n.status.Store(&status)
	n.metrics.observeStatus(status)
	n.observePending()
}

func (n *Node) observePending() {
	pending := 0
	for _, waiting := range n.waiters {
		pending += len(waiting)
	}
	n.metrics.apiCallsPending.Set(float64(pending))
}

func (n *Node) send(envelope bootstore.Envelope) {
	p, ok := n.peers[envelope.To]
	if !ok {
		envelope.Msg.Close()
		n.metrics.messagesDropped.WithLabelValues("unknown_peer").Inc()
		n.logger.Warn("no address for peer", "peer", envelope.To, "message", envelope.Msg)
		return
	}
	if !p.enqueue(envelope.Msg) {
		n.metrics.messagesDropped.WithLabelValues("queue_full").Inc()
		n.logger.Warn("outbound queue full", "peer", envelope.To, "message", envelope.Msg)
	}
}

// resolve hands a deferred API result to every caller waiting on its
// operation. Each caller gets its own copy of a loaded secret.
func (n *Node) resolve(result *bootstore.APIResult) {
	op := resultOperation(result)
	if result.Err != nil {
		n.logger.Warn("operation failed", "operation", op, "error", result.Err)
	} else {
		n.logger.Info("operation complete", "operation", op)
	}

	waiting := n.waiters[op]
	delete(n.waiters, op)
	n.observePending()
	if len(waiting) == 0 {
		closeResult(result)
		return
	}
	for _, reply := range waiting[:len(waiting)-1] {
		reply <- copyResult(result)
	}
	waiting[len(waiting)-1] <- result
}

func (n *Node) failWaiters(err error) {
	for op, waiting := range n.waiters {
		for _, reply := range waiting {
			reply <- &bootstore.APIResult{Err: err}
		}
		delete(n.waiters, op)
	}
	n.metrics.apiCallsPending.Set(0)
}

// Deliver passes an inbound frame to the event loop, which takes
// ownership of its secret material. It blocks until the loop accepts
// the frame and fails once the node has stopped.
func (n *Node) Deliver(frame transport.Frame) error {
	select {
	case n.events <- frame:
		return nil
	case <-n.done:
		frame.Msg.Close()
		return transport.ErrUnavailable
	}
}

// InitRack makes this node the rack initializer for members, which
// must include the node itself. It returns once every member has
// acknowledged its share package.
func (n *Node) InitRack(ctx context.Context, rackUUID uuid.UUID, members []bootstore.Baseboard) error {
	result, err := n.call(ctx, &apiCall{op: opInitRack, rackUUID: rackUUID, members: members})
	if err != nil {
		return err
	}
	closeResult(result)
	return result.Err
}

// InitLearner joins an initialized rack and returns once this node
// holds a learner share.
func (n *Node) InitLearner(ctx context.Context) error {
	result, err := n.call(ctx, &apiCall{op: opInitLearner})
	if err != nil {
		return err
	}
	closeResult(result)
	return result.Err
}

// LoadRackSecret returns the rack secret, collecting shares from peers
// if it is not cached. The caller must Close the secret.
func (n *Node) LoadRackSecret(ctx context.Context) (*trustquorum.RackSecret, error) {
	result, err := n.call(ctx, &apiCall{op: opLoadRackSecret})
	if err != nil {
		return nil, err
	}
	if result.Err != nil {
		return nil, result.Err
	}
	loaded, ok := result.Value.(bootstore.RackSecretLoaded)
	if !ok {
		closeResult(result)
		return nil, fmt.Errorf("unexpected result %T", result.Value)
	}
	return loaded.Secret, nil
}

func (n *Node) call(ctx context.Context, call *apiCall) (*bootstore.APIResult, error) {
	call.reply = make(chan *bootstore.APIResult, 1)
	select {
	case n.events <- call:
	case <-n.done:
		return nil, ErrStopped
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case result := <-call.reply:
		n.metrics.apiResult(call.op.String(), result.Err)
		return result, nil
	case <-ctx.Done():
		// The loop always answers, at the latest when Run returns.
		go func() { closeResult(<-call.reply) }()
		n.metrics.apiResult(call.op.String(), ctx.Err())
		return nil, ctx.Err()
	}
}
