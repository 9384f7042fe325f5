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

package rabbitmq

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/wso2/api-platform/gateway/gateway-runtime/feed-client/pkg/core"
)

// Dialer publishes commands to queueOut and consumes replies from an
// exclusive server-named queue advertised through ReplyTo.
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
func (d *Dialer) Type() string { return "rabbitmq" }

func (d *Dialer) Dial(ctx context.Context, rcv core.Receiver) (core.Connection, error) {
	cfg := amqp.Config{Heartbeat: 10 * time.Second, Locale: "en_US"}
	if deadline, ok := ctx.Deadline(); ok {
		cfg.Dial = amqp.DefaultDial(time.Until(deadline))
	}
	conn, err := amqp.DialConfig(d.url, cfg)
	if err != nil {
		return nil, fmt.Errorf("rabbitmq dial: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("rabbitmq channel: %w", err)
	}
	if _, err := ch.QueueDeclare(d.queueOut, true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("rabbitmq queue declare %s: %w", d.queueOut, err)
	}
	replyQ, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("rabbitmq reply queue: %w", err)
	}
	deliveries, err := ch.Consume(replyQ.Name, "", true, true, false, false, nil)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("rabbitmq consume: %w", err)
	}

	c := &Conn{
		conn:     conn,
		ch:       ch,
		queueOut: d.queueOut,
		replyTo:  replyQ.Name,
		rcv:      rcv,
		logger:   d.logger.With("transport", d.name),
	}
	closed := conn.NotifyClose(make(chan *amqp.Error, 1))
	go c.consume(deliveries, closed)

	d.logger.Info("rabbitmq transport connected", "name", d.name, "url", d.url, "reply_queue", replyQ.Name)
	return c, nil
}

type Conn struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	queueOut string
	replyTo  string
	rcv      core.Receiver
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
	return c.ch.PublishWithContext(ctx, "", c.queueOut, false, false, amqp.Publishing{
		ContentType:   "application/json",
		CorrelationId: frame.Token,
		ReplyTo:       c.replyTo,
		MessageId:     uuid.New().String(),
		Timestamp:     time.Now().UTC(),
		Body:          data,
	})
}

func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()
	return c.conn.Close()
}

func (c *Conn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Conn) consume(deliveries <-chan amqp.Delivery, closed <-chan *amqp.Error) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("rabbitmq consumer panic recovered", "error", r)
		}
	}()
	for d := range deliveries {
		if err := core.DeliverFrame(c.rcv, d.Body); err != nil {
			c.logger.Warn("rabbitmq frame dropped", "correlation_id", d.CorrelationId, "error", err)
		}
	}
	if c.isClosed() {
		return
	}
	var err error = core.ErrConnectionLost
	if amqpErr, ok := <-closed; ok && amqpErr != nil {
		err = fmt.Errorf("%w: %v", core.ErrConnectionLost, amqpErr)
	}
	c.rcv.Disconnected(err)
}
