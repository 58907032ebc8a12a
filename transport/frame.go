// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"fmt"

	"github.com/bureau-foundation/bootstore/bootstore"
)

// HTTP paths served by every node.
const (
	MessagePath = "/bootstore/v0/message"
	HelloPath   = "/bootstore/v0/hello"
	StatusPath  = "/bootstore/v0/status"
	MetricsPath = "/metrics"
)

// ContentType is the media type of message frames and hello replies.
const ContentType = "application/cbor"

// MaxFrameSize bounds an encoded frame. The largest message is an
// Init carrying a share package with every learner share encrypted.
const MaxFrameSize = 1 << 20

// Frame is one message on the wire, tagged with the sender.
type Frame struct {
	From bootstore.Baseboard `cbor:"from"`
	Msg  bootstore.Msg       `cbor:"msg"`
}

// Validate checks the sender is set and the message is well formed.
func (f Frame) Validate() error {
	if f.From.IsZero() {
		return fmt.Errorf("frame without a sender")
	}
	if err := f.Msg.Validate(); err != nil {
		return fmt.Errorf("frame from %s: %w", f.From, err)
	}
	return nil
}
