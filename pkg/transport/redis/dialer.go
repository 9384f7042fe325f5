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

package redis

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/wso2/api-platform/gateway/gateway-runtime/feed-client/pkg/core"
)

// Config holds Redis connection settings.
type Config struct {
	Addr        string
	Password    string
	DB          int
	ChannelOut  string
	ReplyPrefix string
}

// Dialer publishes commands on ChannelOut and subscribes to
// {ReplyPrefix}:{clientID} for replies and pushes.
type Dialer struct {
	name     string
	cfg      Config
	clientID string
	logger   *slog.Logger
}

func New(name string, cfg Config, clientID string, logger *slog.Logger) *Dialer {
	if cfg.ChannelOut == "" {
		cfg.ChannelOut = "feeds:commands"
	}
	if cfg.ReplyPrefix == "" {
		cfg.ReplyPrefix = "feeds:replies"
	}
	return &Dialer{name: name, cfg: cfg, clientID: clientID, logger: logger}
}

func (d *Dialer) Name() string { return d.name }
func (d *Dialer) Type() string { return "redis" }

func (d *Dialer) ReplyChannel() string { return d.cfg.ReplyPrefix + ":" + d.clientID }

func (d *Dialer) Dial(ctx context.Context, rcv core.Receiver) (core.Connection, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     d.cfg.Addr,
		Password: d.cfg.Password,
		DB:       d.cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	lifetime, cancel := context.WithCancel(context.Background())
	pubsub := client.Subscribe(lifetime, d.ReplyChannel())
	if _, err := pubsub.Receive(ctx); err != nil {
		cancel()
		pubsub.Close()
		client.Close()
		return nil, fmt.Errorf("redis subscribe: %w", err)
	}

	c := &Conn{
		client:     client,
		pubsub:     pubsub,
		channelOut: d.cfg.ChannelOut,
		rcv:        rcv,
		cancel:     cancel,
		logger:     d.logger.With("transport", d.name),
	}
	go c.receiveLoop(pubsub.Channel())

	d.logger.Info("redis transport connected", "name", d.name, "addr", d.cfg.Addr, "reply_channel", d.ReplyChannel())
	return c, nil
}

type Conn struct {
	client     *redis.Client
	pubsub     *redis.PubSub
	channelOut string
	rcv        core.Receiver
	cancel     context.CancelFunc
	logger     *slog.Logger

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
	return c.client.Publish(ctx, c.channelOut, data).Err()
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
	err := c.pubsub.Close()
	if cerr := c.client.Close(); err == nil {
		err = cerr
	}
	return err
}

func (c *Conn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// receiveLoop ends when the subscription is closed. go-redis resubscribes
// across transient drops by itself.
func (c *Conn) receiveLoop(ch <-chan *redis.Message) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("redis receive loop panic recovered", "error", r)
		}
	}()
	for msg := range ch {
		if err := core.DeliverFrame(c.rcv, []byte(msg.Payload)); err != nil {
			c.logger.Warn("redis frame dropped", "channel", msg.Channel, "error", err)
		}
	}
	if !c.isClosed() {
		c.rcv.Disconnected(core.ErrConnectionLost)
	}
}
