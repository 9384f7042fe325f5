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
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/wso2/api-platform/gateway/gateway-runtime/feed-client/pkg/core"
)

type nopReceiver struct{}

func (nopReceiver) Receive(core.Frame) {}
func (nopReceiver) Disconnected(error) {}

func TestDefaults(t *testing.T) {
	d := New("r", Config{Addr: "127.0.0.1:6379"}, "c1", slog.New(slog.NewTextHandler(io.Discard, nil)))
	assert.Equal(t, "redis", d.Type())
	assert.Equal(t, "feeds:replies:c1", d.ReplyChannel())
	assert.Equal(t, "feeds:commands", d.cfg.ChannelOut)
}

func TestDialRefused(t *testing.T) {
	d := New("r", Config{Addr: "127.0.0.1:1"}, "c1", slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := d.Dial(ctx, nopReceiver{})
	assert.ErrorContains(t, err, "redis connection failed")
}
