// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package control

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/bureau-foundation/bootstore/lib/codec"
)

// ActionFunc handles one action. raw is the whole CBOR request,
// including the "action" field; the handler decodes its own fields
// from it. A non-nil result is CBOR encoded into the response's data.
type ActionFunc func(ctx context.Context, raw []byte) (any, error)

// Response is the envelope of every reply on the socket.
type Response struct {
	OK    bool             `cbor:"ok"`
	Error string           `cbor:"error,omitempty"`
	Data  codec.RawMessage `cbor:"data,omitempty"`
}

// Server answers CBOR requests on a Unix socket, one request per
// connection. Register actions with Handle before Serve.
type Server struct {
	socketPath string
	handlers   map[string]ActionFunc
	logger     *slog.Logger

	active sync.WaitGroup
}

// NewServer returns a server for socketPath. A nil logger discards.
func NewServer(socketPath string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Server{
		socketPath: socketPath,
		handlers:   make(map[string]ActionFunc),
		logger:     logger,
	}
}

// Handle registers handler for action. Panics on a duplicate.
func (s *Server) Handle(action string, handler ActionFunc) {
	if _, exists := s.handlers[action]; exists {
		panic(fmt.Sprintf("control: duplicate handler for action %q", action))
	}
	s.handlers[action] = handler
}

// Serve listens until ctx is cancelled, then waits for in-flight
// requests. A stale socket file is replaced; the socket is created
// with mode 0600 and removed on return.
func (s *Server) Serve(ctx context.Context) error {
	if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing stale socket %s: %w", s.socketPath, err)
	}
	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.socketPath, err)
	}
	defer func() {
		listener.Close()
		os.Remove(s.socketPath)
	}()
	if err := os.Chmod(s.socketPath, 0o600); err != nil {
		return fmt.Errorf("restricting %s: %w", s.socketPath, err)
	}

	stop := context.AfterFunc(ctx, func() { listener.Close() })
	defer stop()

	s.logger.Info("control socket listening", "path", s.socketPath)
	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				break
			}
			s.logger.Error("accept failed", "error", err)
			continue
		}
		s.active.Add(1)
		go func() {
			defer s.active.Done()
			s.handleConnection(ctx, conn)
		}()
	}
	s.active.Wait()
	return nil
}

const (
	readTimeout    = 30 * time.Second
	writeTimeout   = 10 * time.Second
	maxRequestSize = 64 * 1024
)

func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(readTimeout))

	var raw codec.RawMessage
	err := codec.NewDecoder(io.LimitReader(conn, maxRequestSize)).Decode(&raw)
	if errors.Is(err, io.EOF) {
		return
	}
	var response Response
	if err != nil {
		response.Error = fmt.Sprintf("invalid request: %v", err)
	} else {
		response = s.dispatch(ctx, raw)
	}

	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := codec.NewEncoder(conn).Encode(response); err != nil {
		s.logger.Debug("writing response", "error", err)
	}
}

// dispatch runs the handler named by the request's action field.
func (s *Server) dispatch(ctx context.Context, raw []byte) Response {
	var header struct {
		Action string `cbor:"action"`
	}
	if err := codec.Unmarshal(raw, &header); err != nil {
		return Response{Error: fmt.Sprintf("invalid request: %v", err)}
	}
	if header.Action == "" {
		return Response{Error: "missing required field: action"}
	}
	handler, ok := s.handlers[header.Action]
	if !ok {
		return Response{Error: fmt.Sprintf("unknown action %q", header.Action)}
	}

	result, err := handler(ctx, raw)
	if err != nil {
		s.logger.Debug("action failed", "action", header.Action, "error", err)
		return Response{Error: err.Error()}
	}
	if result == nil {
		return Response{OK: true}
	}
	data, err := codec.Marshal(result)
	if err != nil {
		return Response{Error: fmt.Sprintf("internal: encoding response: %v", err)}
	}
	return Response{OK: true, Data: data}
}
