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

package transport

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/wso2/api-platform/gateway/gateway-runtime/feed-client/internal/loopback"
	"github.com/wso2/api-platform/gateway/gateway-runtime/feed-client/pkg/config"
	"github.com/wso2/api-platform/gateway/gateway-runtime/feed-client/pkg/core"
	"github.com/wso2/api-platform/gateway/gateway-runtime/feed-client/pkg/transport/amqp"
	"github.com/wso2/api-platform/gateway/gateway-runtime/feed-client/pkg/transport/kafka"
	"github.com/wso2/api-platform/gateway/gateway-runtime/feed-client/pkg/transport/memory"
	"github.com/wso2/api-platform/gateway/gateway-runtime/feed-client/pkg/transport/mqtt"
	"github.com/wso2/api-platform/gateway/gateway-runtime/feed-client/pkg/transport/mqtt5"
	"github.com/wso2/api-platform/gateway/gateway-runtime/feed-client/pkg/transport/rabbitmq"
	"github.com/wso2/api-platform/gateway/gateway-runtime/feed-client/pkg/transport/redis"
	"github.com/wso2/api-platform/gateway/gateway-runtime/feed-client/pkg/transport/sse"
	"github.com/wso2/api-platform/gateway/gateway-runtime/feed-client/pkg/transport/ws"
)

const (
	TypeWebSocket = "websocket"
	TypeSSE       = "sse"
	TypeMQTT5     = "mqtt5"
	TypeMQTT      = "mqtt"
	TypeKafka     = "kafka"
	TypeRabbitMQ  = "rabbitmq"
	TypeAMQP      = "amqp"
	TypeRedis     = "redis"
	TypeMemory    = "memory"
)

// Build creates the dialer a transport section describes. server backs the
// memory transport and may be nil for every other type.
func Build(tc config.TransportConfig, clientID string, server *loopback.Server, logger *slog.Logger) (core.Dialer, error) {
	name := DialerName(tc)
	c := tc.Config

	switch tc.Type {
	case TypeWebSocket:
		if err := requireKeys(c, "url"); err != nil {
			return nil, err
		}
		return ws.New(name, c["url"], clientID, logger), nil
	case TypeSSE:
		if err := requireKeys(c, "url"); err != nil {
			return nil, err
		}
		return sse.New(name, c["url"], clientID, logger), nil
	case TypeMQTT5:
		if err := requireKeys(c, "broker", "request_topic"); err != nil {
			return nil, err
		}
		return mqtt5.New(name, c["broker"], c["request_topic"], c["reply_prefix"], clientID, logger), nil
	case TypeMQTT:
		if err := requireKeys(c, "broker", "request_topic"); err != nil {
			return nil, err
		}
		return mqtt.New(name, c["broker"], c["request_topic"], c["reply_prefix"], clientID, logger), nil
	case TypeKafka:
		if err := requireKeys(c, "brokers", "topic_in", "topic_out"); err != nil {
			return nil, err
		}
		return kafka.New(name, splitList(c["brokers"]), c["topic_in"], c["topic_out"], c["group_id"], clientID, logger), nil
	case TypeRabbitMQ:
		if err := requireKeys(c, "url", "queue_out"); err != nil {
			return nil, err
		}
		return rabbitmq.New(name, c["url"], c["queue_out"], logger), nil
	case TypeAMQP:
		if err := requireKeys(c, "url", "queue_out"); err != nil {
			return nil, err
		}
		return amqp.New(name, c["url"], c["queue_out"], logger), nil
	case TypeRedis:
		if err := requireKeys(c, "addr"); err != nil {
			return nil, err
		}
		db := 0
		if v := c["db"]; v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return nil, fmt.Errorf("redis db %q: %w", v, err)
			}
			db = n
		}
		return redis.New(name, redis.Config{
			Addr:        c["addr"],
			Password:    c["password"],
			DB:          db,
			ChannelOut:  c["channel_out"],
			ReplyPrefix: c["reply_prefix"],
		}, clientID, logger), nil
	case TypeMemory, "":
		if server == nil {
			return nil, fmt.Errorf("%w: memory transport needs a loopback server", core.ErrMissingTransport)
		}
		return memory.New(name, server, logger), nil
	default:
		return nil, fmt.Errorf("%w: %s", core.ErrUnknownTransport, tc.Type)
	}
}

// BuildAll builds every section into one registry. Names must be unique.
func BuildAll(sections []config.TransportConfig, clientID string, server *loopback.Server, logger *slog.Logger) (*Registry, error) {
	reg := NewRegistry(logger)
	for _, tc := range sections {
		name := DialerName(tc)
		if _, err := reg.Get(name); err == nil {
			return nil, fmt.Errorf("duplicate transport name %q", name)
		}
		d, err := Build(tc, clientID, server, logger)
		if err != nil {
			return nil, fmt.Errorf("transport %s: %w", name, err)
		}
		reg.Register(d)
	}
	return reg, nil
}

// DialerName is the registry name of a section: its name, else its type.
func DialerName(tc config.TransportConfig) string {
	switch {
	case tc.Name != "":
		return tc.Name
	case tc.Type != "":
		return tc.Type
	default:
		return TypeMemory
	}
}

func requireKeys(c map[string]string, keys ...string) error {
	for _, k := range keys {
		if strings.TrimSpace(c[k]) == "" {
			return fmt.Errorf("%w: %s", core.ErrMissingTransport, k)
		}
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
