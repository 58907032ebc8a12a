// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package node

import (
	"context"

	"github.com/bureau-foundation/bootstore/bootstore"
	"github.com/bureau-foundation/bootstore/transport"
)

// peer owns the outbound side of one configured sled: a bounded queue
// of messages drained by a single goroutine, and periodic probes that
// decide whether the sled counts as connected.
type peer struct {
	id      bootstore.Baseboard
	address string
	queue   chan bootstore.Msg

	// connected is the last state reported to the event loop. Only the
	// run goroutine touches it.
	connected bool
}

func newPeer(id bootstore.Baseboard, address string, queueSize int) *peer {
	return &peer{
		id:      id,
		address: address,
		queue:   make(chan bootstore.Msg, queueSize),
	}
}

// enqueue hands msg to the peer goroutine. The message is closed and
// false returned if the queue is full.
func (p *peer) enqueue(msg bootstore.Msg) bool {
	select {
	case p.queue <- msg:
		return true
	default:
		msg.Close()
		return false
	}
}

// run probes immediately, then every probe interval, and sends queued
// messages until ctx is done.
func (p *peer) run(ctx context.Context, n *Node) {
	ticker := n.clock.NewTicker(n.probeInterval)
	defer ticker.Stop()
	defer p.drain()

	p.probe(ctx, n)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.probe(ctx, n)
		case msg := <-p.queue:
			p.send(ctx, n, msg)
		}
	}
}

func (p *peer) send(ctx context.Context, n *Node, msg bootstore.Msg) {
	defer msg.Close()
	kind := msgKind(msg)

	start := n.clock.Now()
	err := n.client.Send(ctx, p.address, transport.Frame{From: n.id, Msg: msg})
	n.metrics.sendDuration.Observe(n.clock.Now().Sub(start).Seconds())
	if err != nil {
		n.metrics.messagesDropped.WithLabelValues("send_failed").Inc()
		n.logger.Debug("send failed", "peer", p.id, "message", msg, "error", err)
		p.setConnected(ctx, n, false)
		return
	}
	n.metrics.messagesSent.WithLabelValues(kind).Inc()
}

// probe asks the peer for its identity. Only a peer that answers with
// the configured identity counts as connected.
func (p *peer) probe(ctx context.Context, n *Node) {
	id, err := n.client.Hello(ctx, p.address)
	switch {
	case err != nil:
		if p.connected {
			n.logger.Info("peer unreachable", "peer", p.id, "address", p.address, "error", err)
		}
		p.setConnected(ctx, n, false)
	case id != p.id:
		n.logger.Warn("peer answered with an unexpected identity",
			"peer", p.id, "address", p.address, "answered", id)
		p.setConnected(ctx, n, false)
	default:
		if !p.connected {
			n.logger.Info("peer connected", "peer", p.id, "address", p.address)
		}
		p.setConnected(ctx, n, true)
	}
}

func (p *peer) setConnected(ctx context.Context, n *Node, connected bool) {
	if p.connected == connected {
		return
	}
	select {
	case n.events <- peerEvent{id: p.id, connected: connected}:
		p.connected = connected
	case <-ctx.Done():
	}
}

// drain releases messages left in the queue at shutdown.
func (p *peer) drain() {
	for {
		select {
		case msg := <-p.queue:
			msg.Close()
		default:
			return
		}
	}
}
