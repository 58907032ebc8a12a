// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/bureau-foundation/bootstore/bootstore"
	"github.com/bureau-foundation/bootstore/lib/codec"
)

// ErrUnavailable is returned by a [Server] Deliver function when the
// node is shutting down; the sender sees 503 and retries later.
var ErrUnavailable = errors.New("node unavailable")

// Server routes peer HTTP requests into a node.
type Server struct {
	// ID is this node's identity, returned by the hello endpoint.
	ID bootstore.Baseboard

	// Deliver hands a validated frame to the node, which takes
	// ownership of its secret material whether or not it returns an
	// error.
	Deliver func(Frame) error

	// Status reports the node's state for the status endpoint. Nil
	// disables the endpoint.
	Status func() bootstore.Status

	// Metrics serves /metrics. Nil disables the endpoint.
	Metrics http.Handler

	// Logger defaults to a discard logger.
	Logger *slog.Logger
}

// Handler returns the HTTP handler serving every endpoint.
func (s *Server) Handler() http.Handler {
	if s.Logger == nil {
		s.Logger = slog.New(slog.DiscardHandler)
	}
	mux := http.NewServeMux()
	mux.HandleFunc("POST "+MessagePath, s.handleMessage)
	mux.HandleFunc("GET "+HelloPath, s.handleHello)
	if s.Status != nil {
		mux.HandleFunc("GET "+StatusPath, s.handleStatus)
	}
	if s.Metrics != nil {
		mux.Handle("GET "+MetricsPath, s.Metrics)
	}
	return mux
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxFrameSize))
	if err != nil {
		http.Error(w, "reading frame: "+err.Error(), http.StatusRequestEntityTooLarge)
		return
	}

	var frame Frame
	if err := codec.Unmarshal(body, &frame); err != nil {
		frame.Msg.Close()
		s.Logger.Debug("dropping undecodable frame", "remote", r.RemoteAddr, "error", err)
		http.Error(w, "decoding frame: "+err.Error(), http.StatusBadRequest)
		return
	}
	if err := frame.Validate(); err != nil {
		frame.Msg.Close()
		s.Logger.Debug("dropping invalid frame", "remote", r.RemoteAddr, "error", err)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if frame.From == s.ID {
		frame.Msg.Close()
		http.Error(w, "frame claims to come from this node", http.StatusBadRequest)
		return
	}

	if err := s.Deliver(frame); err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleHello(w http.ResponseWriter, r *http.Request) {
	data, err := codec.Marshal(s.ID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", ContentType)
	w.Write(data)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(s.Status()); err != nil {
		s.Logger.Warn("writing status", "error", err)
	}
}
