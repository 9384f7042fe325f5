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

// Package amqp speaks AMQP 1.0. Replies are read from a dynamic node whose
// address goes out as ReplyTo on every command.
package amqp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/Azure/go-amqp"
	"github.com/google/uuid"

	"github.com/wso2/api-platform/gateway/gateway-runtime/feed-client/pkg/core"
)

type Dialer struct {
	name     string
	url      string
	queueOut string
	logger   *slog.Logger
}

func New(name, url, queueOut string, logger *slog.Logger) *Dialer {
	return &Dialer{name: name, url: url, queueOut: queueOut, logger: logger}
}

func (d *Dialer) Name() string { return d.name }
func (d *Dialer) Type() string { return "amqp" }

func (d *Dialer) Dial(ctx context.Context, rcv core.Receiver) (core.Connection, error) {
	conn, err := amqp.Dial(ctx, d.url, nil)
	if err != nil {
		return nil, fmt.Errorf("amqp dial: %w", err)
	}
	sess, err := conn.NewSession(ctx, nil)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("amqp session: %w", err)
	}
	sender, err := sess.NewSender(ctx, d.queueOut, nil)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("amqp sender: %w", err)
	}
	receiver, err := sess.NewReceiver(ctx, "", &amqp.ReceiverOptions{
		DynamicAddress: true,
		Credit:         10,
	})
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("amqp reply receiver: %w", err)
	}

	lifetime, cancel := context.WithCancel(context.Background())
	c := &Conn{
		conn:     conn,
		sender:   sender,
		receiver: receiver,
		replyTo:  receiver.Address(),
		rcv:      rcv,
		cancel:   cancel,
		logger:   d.logger.With("transport", d.name),
	}
	go c.receiveLoop(lifetime)

	d.logger.Info("amqp transport connected", "name", d.name, "url", d.url, "reply_to", c.replyTo)
	return c, nil
}

type Conn struct {
	conn     *amqp.Conn
	sender   *amqp.Sender
	receiver *amqp.Receiver
	replyTo  string
	rcv      core.Receiver
	cancel   context.CancelFunc
	logger   *slog.Logger

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
	replyTo := c.replyTo
	return c.sender.Send(ctx, &amqp.Message{
		Data: [][]byte{data},
		Properties: &amqp.MessageProperties{
			MessageID:     uuid.New().String(),
			CorrelationID: frame.Token,
			ReplyTo:       &replyTo,
		},
	}, nil)
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
	return c.conn.Close()
}

func (c *Conn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Conn) receiveLoop(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("amqp receive loop panic recovered", "error", r)
		}
	}()
	for {
		msg, err := c.receiver.Receive(ctx, nil)
		if err != nil {
			if ctx.Err() != nil || c.isClosed() {
				return
			}
			var connErr *amqp.ConnError
			if errors.As(err, &connErr) {
				c.logger.Error("amqp connection error", "error", err)
			}
			c.rcv.Disconnected(err)
			return
		}
		if err := c.receiver.AcceptMessage(ctx, msg); err != nil {
			c.logger.Warn("amqp accept failed", "error", err)
		}
		if err := core.DeliverFrame(c.rcv, msg.GetData()); err != nil {
			c.logger.Warn("amqp frame dropped", "error", err)
		}
	}
}
