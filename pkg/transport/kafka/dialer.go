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

package kafka

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/wso2/api-platform/gateway/gateway-runtime/feed-client/pkg/core"
)

// Dialer writes commands to topicOut keyed by client id and reads replies
// from topicIn, keeping only records keyed by the same id.
type Dialer struct {
	name     string
	brokers  []string
	topicIn  string
	topicOut string
	groupID  string
	clientID string
	logger   *slog.Logger
}

func New(name string, brokers []string, topicIn, topicOut, groupID, clientID string, logger *slog.Logger) *Dialer {
	if groupID == "" {
		groupID = "feed-client"
	}
	return &Dialer{
		name:     name,
		brokers:  brokers,
		topicIn:  topicIn,
		topicOut: topicOut,
		groupID:  groupID,
		clientID: clientID,
		logger:   logger,
	}
}

func (d *Dialer) Name() string { return d.name }
func (d *Dialer) Type() string { return "kafka" }

// readerConfig joins a per-client group that starts at the newest offset, so
// replies left on topic_in by an earlier run are not replayed.
func (d *Dialer) readerConfig() kafka.ReaderConfig {
	return kafka.ReaderConfig{
		Brokers:     d.brokers,
		Topic:       d.topicIn,
		GroupID:     d.groupID + "-" + d.clientID,
		StartOffset: kafka.LastOffset,
		MaxWait:     500 * time.Millisecond,
		MinBytes:    1,
		MaxBytes:    10e6,
	}
}

func (d *Dialer) Dial(ctx context.Context, rcv core.Receiver) (core.Connection, error) {
	if len(d.brokers) == 0 {
		return nil, fmt.Errorf("%w: brokers", core.ErrMissingTransport)
	}
	conn, err := kafka.DialContext(ctx, "tcp", d.brokers[0])
	if err != nil {
		return nil, fmt.Errorf("kafka dial: %w", err)
	}
	conn.Close()

	lifetime, cancel := context.WithCancel(context.Background())
	c := &Conn{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(d.brokers...),
			Topic:        d.topicOut,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
		},
		reader: kafka.NewReader(d.readerConfig()),
		key:    []byte(d.clientID),
		rcv:    rcv,
		cancel: cancel,
		logger: d.logger.With("transport", d.name),
	}
	go c.readLoop(lifetime)

	d.logger.Info("kafka transport connected",
		"name", d.name,
		"brokers", strings.Join(d.brokers, ","),
		"topic_in", d.topicIn,
		"topic_out", d.topicOut,
	)
	return c, nil
}

type Conn struct {
	writer *kafka.Writer
	reader *kafka.Reader
	key    []byte
	rcv    core.Receiver
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
	return c.writer.WriteMessages(ctx, kafka.Message{
		Key:     c.key,
		Value:   data,
		Headers: []kafka.Header{{Key: "token", Value: []byte(frame.Token)}},
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
	c.cancel()
	return errors.Join(c.reader.Close(), c.writer.Close())
}

func (c *Conn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Conn) readLoop(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("kafka read loop panic recovered", "error", r)
		}
	}()
	for {
		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || c.isClosed() {
				return
			}
			c.logger.Error("kafka fetch error", "error", err)
			c.rcv.Disconnected(err)
			return
		}
		if string(msg.Key) != string(c.key) {
			continue
		}
		if err := core.DeliverFrame(c.rcv, msg.Value); err != nil {
			c.logger.Warn("kafka frame dropped", "offset", msg.Offset, "error", err)
		}
	}
}
