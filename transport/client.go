// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/bureau-foundation/bootstore/bootstore"
	"github.com/bureau-foundation/bootstore/lib/codec"
)

// Client sends frames to and probes peer nodes.
type Client struct {
	http *http.Client
}

// NewClient returns a client that dials through dialer. Each request
// is bounded by timeout in addition to its context.
func NewClient(dialer Dialer, timeout time.Duration) *Client {
	return &Client{http: &http.Client{
		Transport: httpTransport(dialer),
		Timeout:   timeout,
	}}
}

// Send delivers frame to the node at address. The caller keeps
// ownership of the frame's secret material.
func (c *Client) Send(ctx context.Context, address string, frame Frame) error {
	data, err := codec.Marshal(frame)
	if err != nil {
		return fmt.Errorf("encoding frame: %w", err)
	}
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, "http://"+address+MessagePath, bytes.NewReader(data))
	if err != nil {
		return err
	}
	request.Header.Set("Content-Type", ContentType)

	response, err := c.http.Do(request)
	if err != nil {
		return fmt.Errorf("sending to %s: %w", address, err)
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusNoContent {
		return responseError(address, response)
	}
	return nil
}

// Hello asks the node at address for its identity.
func (c *Client) Hello(ctx context.Context, address string) (bootstore.Baseboard, error) {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+address+HelloPath, nil)
	if err != nil {
		return bootstore.Baseboard{}, err
	}
	response, err := c.http.Do(request)
	if err != nil {
		return bootstore.Baseboard{}, fmt.Errorf("probing %s: %w", address, err)
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusOK {
		return bootstore.Baseboard{}, responseError(address, response)
	}

	data, err := io.ReadAll(io.LimitReader(response.Body, 4096))
	if err != nil {
		return bootstore.Baseboard{}, fmt.Errorf("reading hello from %s: %w", address, err)
	}
	var id bootstore.Baseboard
	if err := codec.Unmarshal(data, &id); err != nil {
		return bootstore.Baseboard{}, fmt.Errorf("decoding hello from %s: %w", address, err)
	}
	return id, nil
}

// CloseIdleConnections releases pooled connections.
func (c *Client) CloseIdleConnections() {
	c.http.CloseIdleConnections()
}

func responseError(address string, response *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(response.Body, 512))
	return fmt.Errorf("%s answered %s: %s", address, response.Status, bytes.TrimSpace(body))
}
