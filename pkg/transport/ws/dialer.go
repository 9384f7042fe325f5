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

package ws

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wso2/api-platform/gateway/gateway-runtime/feed-client/pkg/core"
)

const (
	defaultHandshakeTimeout = 10 * time.Second
	writeTimeout            = 10 * time.Second
)

// Dialer opens one websocket per client. Every text message carries one
// JSON frame in either direction.
type Dialer struct {
	name     string
	url      string
	clientID string
	dialer   websocket.Dialer
	logger   *slog.Logger
}

func New(name, url, clientID string, logger *slog.Logger) *Dialer {
	return &Dialer{
		name:     name,
		url:      url,
		clientID: clientID,
		dialer: websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: defaultHandshakeTimeout,
		},
		logger: logger,
	}
}

func (d *Dialer) Name() string { return d.name }
func (d *Dialer) Type() string { return "websocket" }

func (d *Dialer) Dial(ctx context.Context, rcv core.Receiver) (core.Connection, error) {
	header := http.Header{}
	header.Set("X-Client-ID", d.clientID)
	ws, _, err := d.dialer.DialContext(ctx, d.url, header)
	if err != nil {
		return nil, fmt.Errorf("websocket dial: %w", err)
	}
	c := &Conn{ws: ws, rcv: rcv, logger: d.logger.With("transport", d.name)}
	go c.readLoop()
	d.logger.Info("websocket transport connected", "name", d.name, "url", d.url)
	return c, nil
}

type Conn struct {
	ws     *websocket.Conn
	rcv    core.Receiver
	logger *slog.Logger

	mu     sync.Mutex
	closed bool
}

func (c *Conn) Send(ctx context.Context, frame core.Frame) error {
	data, err := core.EncodeFrame(frame)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return core.ErrConnectionClosed
	}
	deadline := time.Now().Add(writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = c.ws.SetWriteDeadline(deadline)
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	c.mu.Unlock()
	return c.ws.Close()
}

func (c *Conn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Conn) readLoop() {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("websocket read loop panic recovered", "error", r)
		}
	}()
	for {
		msgType, payload, err := c.ws.ReadMessage()
		if err != nil {
			if c.isClosed() {
				return
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Error("websocket read error", "error", err)
			}
			c.rcv.Disconnected(err)
			return
		}
		if msgType != websocket.TextMessage && msgType != websocket.BinaryMessage {
			continue
		}
		if err := core.DeliverFrame(c.rcv, payload); err != nil {
			c.logger.Warn("websocket frame dropped", "error", err)
		}
	}
}
