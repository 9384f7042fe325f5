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

// Package memory connects a client to an in-process loopback server.
package memory

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/wso2/api-platform/gateway/gateway-runtime/feed-client/internal/loopback"
	"github.com/wso2/api-platform/gateway/gateway-runtime/feed-client/pkg/core"
)

type Dialer struct {
	name   string
	server *loopback.Server
	logger *slog.Logger
	dials  atomic.Int64

	mu      sync.Mutex
	failing []error
}

func New(name string, server *loopback.Server, logger *slog.Logger) *Dialer {
	return &Dialer{name: name, server: server, logger: logger}
}

func (d *Dialer) Name() string { return d.name }
func (d *Dialer) Type() string { return "memory" }

func (d *Dialer) Server() *loopback.Server { return d.server }

// FailDials makes the next len(errs) dials fail with errs in order.
func (d *Dialer) FailDials(errs ...error) {
	d.mu.Lock()
	d.failing = append(d.failing, errs...)
	d.mu.Unlock()
}

// Dials counts the dial attempts made so far.
func (d *Dialer) Dials() int { return int(d.dials.Load()) }

func (d *Dialer) Dial(ctx context.Context, rcv core.Receiver) (core.Connection, error) {
	d.dials.Add(1)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	if len(d.failing) > 0 {
		err := d.failing[0]
		d.failing = d.failing[1:]
		d.mu.Unlock()
		return nil, err
	}
	d.mu.Unlock()

	c := &Conn{logger: d.logger}
	c.remote = d.server.Connect(func(data []byte) {
		if err := core.DeliverFrame(rcv, data); err != nil {
			d.logger.Warn("memory transport dropped frame", "name", d.name, "error", err)
		}
	}, rcv.Disconnected)
	return c, nil
}

type Conn struct {
	remote *loopback.Conn
	logger *slog.Logger
}

func (c *Conn) Send(ctx context.Context, frame core.Frame) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := core.EncodeFrame(frame)
	if err != nil {
		return err
	}
	return c.remote.Handle(data)
}

func (c *Conn) Close() error {
	return c.remote.Close()
}
