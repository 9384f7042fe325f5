// Copyright (c) 2025, WSO2 LLC. (https://www.wso2.com).
//
// WSO2 LLC. licenses this file to you under the Apache License,
// Version 2.0 (the "License"); you may not use this file except
// in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing,
// software distributed under the License is distributed on an
// "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY
// KIND, either express or implied. See the License for the
// specific language governing permissions and limitations
// under the License.

// Package sse carries commands as HTTP POSTs and receives replies and pushes
// on a server-sent event stream.
package sse

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/wso2/api-platform/gateway/gateway-runtime/feed-client/pkg/core"
)

const (
	EventsPath   = "/events"
	CommandsPath = "/commands"
)

type Dialer struct {
	name     string
	baseURL  string
	clientID string
	http     *http.Client
	logger   *slog.Logger
}

func New(name, baseURL, clientID string, logger *slog.Logger) *Dialer {
	return &Dialer{
		name:     name,
		baseURL:  strings.TrimRight(baseURL, "/"),
		clientID: clientID,
		http:     &http.Client{},
		logger:   logger,
	}
}

func (d *Dialer) Name() string { return d.name }
func (d *Dialer) Type() string { return "sse" }

// Dial opens the event stream. ctx bounds the handshake only; the stream
// lives until Close.
func (d *Dialer) Dial(ctx context.Context, rcv core.Receiver) (core.Connection, error) {
	lifetime, cancel := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(lifetime, http.MethodGet, d.baseURL+EventsPath, nil)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("sse request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("X-Client-ID", d.clientID)

	type result struct {
		resp *http.Response
		err  error
	}
	done := make(chan result, 1)
	go func() {
		resp, err := d.http.Do(req)
		done <- result{resp, err}
	}()

	var resp *http.Response
	select {
	case r := <-done:
		if r.err != nil {
			cancel()
			return nil, fmt.Errorf("sse connect: %w", r.err)
		}
		resp = r.resp
	case <-ctx.Done():
		cancel()
		return nil, ctx.Err()
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("sse connect: unexpected status %d", resp.StatusCode)
	}

	c := &Conn{
		dialer: d,
		rcv:    rcv,
		body:   resp.Body,
		cancel: cancel,
		logger: d.logger.With("transport", d.name),
	}
	go c.readLoop()
	d.logger.Info("sse transport connected", "name", d.name, "url", d.baseURL)
	return c, nil
}

type Conn struct {
	dialer *Dialer
	rcv    core.Receiver
	body   io.ReadCloser
	cancel context.CancelFunc
	logger *slog.Logger

	mu     sync.Mutex
	closed bool
}

func (c *Conn) Send(ctx context.Context, frame core.Frame) error {
	if c.isClosed() {
		return core.ErrConnectionClosed
	}
	data, err := core.EncodeFrame(frame)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.dialer.baseURL+CommandsPath, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Client-ID", c.dialer.clientID)
	resp, err := c.dialer.http.Do(req)
	if err != nil {
		return fmt.Errorf("sse post: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("sse post: unexpected status %d", resp.StatusCode)
	}
	return nil
}

func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()
	c.cancel()
	return c.body.Close()
}

func (c *Conn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// readLoop parses the event stream. Each event's data lines form one frame.
func (c *Conn) readLoop() {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("sse read loop panic recovered", "error", r)
		}
	}()
	scanner := bufio.NewScanner(c.body)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	var data []string
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if len(data) > 0 {
				if err := core.DeliverFrame(c.rcv, []byte(strings.Join(data, "\n"))); err != nil {
					c.logger.Warn("sse frame dropped", "error", err)
				}
				data = data[:0]
			}
		case strings.HasPrefix(line, ":"):
			// comment or keep-alive
		case strings.HasPrefix(line, "data:"):
			data = append(data, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
	if c.isClosed() {
		return
	}
	err := scanner.Err()
	if err == nil {
		err = io.EOF
	}
	c.rcv.Disconnected(err)
}
