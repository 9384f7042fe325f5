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

package mqtt5

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"
	"github.com/google/uuid"

	"github.com/wso2/api-platform/gateway/gateway-runtime/feed-client/pkg/core"
)

const disconnectTimeout = 5 * time.Second

// Dialer publishes commands to a request topic using MQTT 5 request/response
// properties. Replies and pushes arrive on {replyPrefix}/{clientID}.
type Dialer struct {
	name         string
	brokerURL    string
	requestTopic string
	replyPrefix  string
	clientID     string
	logger       *slog.Logger
}

func New(name, brokerURL, requestTopic, replyPrefix, clientID string, logger *slog.Logger) *Dialer {
	if replyPrefix == "" {
		replyPrefix = "feeds/replies"
	}
	return &Dialer{
		name:         name,
		brokerURL:    brokerURL,
		requestTopic: requestTopic,
		replyPrefix:  replyPrefix,
		clientID:     clientID,
		logger:       logger,
	}
}

func (d *Dialer) Name() string { return d.name }
func (d *Dialer) Type() string { return "mqtt5" }

func (d *Dialer) ReplyTopic() string { return d.replyPrefix + "/" + d.clientID }

// Dial connects and subscribes to the reply topic. ctx bounds the connection
// attempt; the session lives until Close.
func (d *Dialer) Dial(ctx context.Context, rcv core.Receiver) (core.Connection, error) {
	serverURL, err := url.Parse(d.brokerURL)
	if err != nil {
		return nil, fmt.Errorf("mqtt5 invalid URL: %w", err)
	}

	lifetime, cancel := context.WithCancel(context.Background())
	c := &Conn{
		replyTopic:   d.ReplyTopic(),
		requestTopic: d.requestTopic,
		rcv:          rcv,
		cancel:       cancel,
		logger:       d.logger.With("transport", d.name),
	}

	cfg := autopaho.ClientConfig{
		ServerUrls:                    []*url.URL{serverURL},
		KeepAlive:                     30,
		CleanStartOnInitialConnection: true,
		SessionExpiryInterval:         60,
		OnConnectionUp: func(cm *autopaho.ConnectionManager, _ *paho.Connack) {
			c.logger.Info("mqtt5 connection up", "reply_topic", c.replyTopic)
			if _, err := cm.Subscribe(lifetime, &paho.Subscribe{
				Subscriptions: []paho.SubscribeOptions{{Topic: c.replyTopic, QoS: 1}},
			}); err != nil {
				c.logger.Error("mqtt5 reply subscription failed", "error", err)
			}
		},
		OnConnectError: func(err error) {
			c.logger.Warn("mqtt5 connect attempt failed", "error", err)
		},
		ClientConfig: paho.ClientConfig{
			ClientID: "feed-" + d.clientID + "-" + uuid.New().String()[:8],
			OnPublishReceived: []func(paho.PublishReceived) (bool, error){
				func(pr paho.PublishReceived) (bool, error) {
					if pr.Packet.Topic != c.replyTopic {
						return false, nil
					}
					if err := core.DeliverFrame(rcv, pr.Packet.Payload); err != nil {
						c.logger.Warn("mqtt5 frame dropped", "error", err)
					}
					return true, nil
				},
			},
			OnServerDisconnect: func(p *paho.Disconnect) {
				c.lost(fmt.Errorf("%w: server disconnect reason %d", core.ErrConnectionLost, p.ReasonCode))
			},
			OnClientError: func(err error) {
				c.lost(err)
			},
		},
	}

	cm, err := autopaho.NewConnection(lifetime, cfg)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("mqtt5 connection: %w", err)
	}
	if err := cm.AwaitConnection(ctx); err != nil {
		cancel()
		return nil, fmt.Errorf("mqtt5 await connection: %w", err)
	}
	c.cm = cm
	d.logger.Info("mqtt5 transport connected", "name", d.name, "broker", d.brokerURL)
	return c, nil
}

type Conn struct {
	cm           *autopaho.ConnectionManager
	replyTopic   string
	requestTopic string
	rcv          core.Receiver
	cancel       context.CancelFunc
	logger       *slog.Logger

	mu     sync.Mutex
	closed bool
	gone   bool
}

func (c *Conn) Send(ctx context.Context, frame core.Frame) error {
	if c.isClosed() {
		return core.ErrConnectionClosed
	}
	data, err := core.EncodeFrame(frame)
	if err != nil {
		return err
	}
	_, err = c.cm.Publish(ctx, &paho.Publish{
		Topic:   c.requestTopic,
		QoS:     1,
		Payload: data,
		Properties: &paho.PublishProperties{
			ContentType:     "application/json",
			ResponseTopic:   c.replyTopic,
			CorrelationData: []byte(frame.Token),
		},
	})
	return err
}

func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), disconnectTimeout)
	defer cancel()
	err := c.cm.Disconnect(ctx)
	c.cancel()
	return err
}

func (c *Conn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// lost reports the first unexpected drop. autopaho keeps redialing
// underneath, but the server-side sessions are gone with the old link.
func (c *Conn) lost(err error) {
	c.mu.Lock()
	if c.closed || c.gone {
		c.mu.Unlock()
		return
	}
	c.gone = true
	c.mu.Unlock()
	c.logger.Warn("mqtt5 connection down", "error", err)
	c.rcv.Disconnected(err)
}
