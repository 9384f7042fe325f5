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

package mqtt

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/wso2/api-platform/gateway/gateway-runtime/feed-client/pkg/core"
)

const qos byte = 1

// Dialer speaks MQTT 3.1.1. Frames carry the client id, so the server
// answers on {replyPrefix}/{clientID}.
type Dialer struct {
	name         string
	broker       string
	requestTopic string
	replyPrefix  string
	clientID     string
	logger       *slog.Logger
}

func New(name, broker, requestTopic, replyPrefix, clientID string, logger *slog.Logger) *Dialer {
	if replyPrefix == "" {
		replyPrefix = "feeds/replies"
	}
	return &Dialer{
		name:         name,
		broker:       broker,
		requestTopic: requestTopic,
		replyPrefix:  replyPrefix,
		clientID:     clientID,
		logger:       logger,
	}
}

func (d *Dialer) Name() string { return d.name }
func (d *Dialer) Type() string { return "mqtt" }

func (d *Dialer) ReplyTopic() string { return d.replyPrefix + "/" + d.clientID }

func (d *Dialer) Dial(ctx context.Context, rcv core.Receiver) (core.Connection, error) {
	c := &Conn{
		requestTopic: d.requestTopic,
		rcv:          rcv,
		logger:       d.logger.With("transport", d.name),
	}
	opts := pahomqtt.NewClientOptions().
		AddBroker(d.broker).
		SetClientID(d.clientID).
		SetCleanSession(true).
		SetAutoReconnect(false).
		SetConnectTimeout(10 * time.Second).
		SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
			c.lost(err)
		})

	client := pahomqtt.NewClient(opts)
	if err := wait(ctx, client.Connect()); err != nil {
		return nil, fmt.Errorf("mqtt connect: %w", err)
	}
	c.client = client

	replyTopic := d.ReplyTopic()
	handler := func(_ pahomqtt.Client, msg pahomqtt.Message) {
		if err := core.DeliverFrame(rcv, msg.Payload()); err != nil {
			c.logger.Warn("mqtt frame dropped", "topic", msg.Topic(), "error", err)
		}
	}
	if err := wait(ctx, client.Subscribe(replyTopic, qos, handler)); err != nil {
		client.Disconnect(250)
		return nil, fmt.Errorf("mqtt subscribe %s: %w", replyTopic, err)
	}

	d.logger.Info("mqtt transport connected", "name", d.name, "broker", d.broker, "reply_topic", replyTopic)
	return c, nil
}

type Conn struct {
	client       pahomqtt.Client
	requestTopic string
	rcv          core.Receiver
	logger       *slog.Logger

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
	return wait(ctx, c.client.Publish(c.requestTopic, qos, false, data))
}

func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()
	c.client.Disconnect(250)
	return nil
}

func (c *Conn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Conn) lost(err error) {
	if c.isClosed() {
		return
	}
	c.logger.Warn("mqtt connection lost", "error", err)
	c.rcv.Disconnected(err)
}

// wait blocks until tok completes or ctx ends.
func wait(ctx context.Context, tok pahomqtt.Token) error {
	select {
	case <-tok.Done():
		return tok.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}
