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


package memory

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wso2/api-platform/gateway/gateway-runtime/feed-client/internal/loopback"
	"github.com/wso2/api-platform/gateway/gateway-runtime/feed-client/pkg/core"
)

type receiver struct {
	frames []core.Frame
	lost   []error
}

func (r *receiver) Receive(f core.Frame) { r.frames = append(r.frames, f) }
func (r *receiver) Disconnected(err error) { r.lost = append(r.lost, err) }

func newDialer() *Dialer {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	server := loopback.NewServer(logger)
	server.AddProcessor(loopback.Processor{ID: 5, Channel: "c", FeedType: core.FeedTypeThru})
	return New("mem", server, logger)
}

func TestCommandRoundTrip(t *testing.T) {
	d := newDialer()
	rcv := &receiver{}
	conn, err := d.Dial(context.Background(), rcv)
	require.NoError(t, err)
	defer conn.Close()

	err = conn.Send(context.Background(), core.Frame{
		Type:   core.FrameCommand,
		Token:  "t1",
		Path:   core.PathSessionCreate,
		Params: map[string]any{"feed": map[string]any{"procId": 5}},
	})
	require.NoError(t, err)
	require.Len(t, rcv.frames, 1)
	assert.Equal(t, core.FrameResponse, rcv.frames[0].Type)
	assert.Equal(t, "t1", rcv.frames[0].Token)
	assert.Equal(t, 1, d.Server().SessionCount())
}

func TestFailDials(t *testing.T) {
	d := newDialer()
	boom := errors.New("boom")
	d.FailDials(boom)

	_, err := d.Dial(context.Background(), &receiver{})
	assert.ErrorIs(t, err, boom)
	conn, err := d.Dial(context.Background(), &receiver{})
	require.NoError(t, err)
	require.NoError(t, conn.Close())
	assert.Equal(t, 2, d.Dials())
}

func TestDropReportsLoss(t *testing.T) {
	d := newDialer()
	rcv := &receiver{}
	conn, err := d.Dial(context.Background(), rcv)
	require.NoError(t, err)

	d.Server().DropConnections()
	require.Len(t, rcv.lost, 1)
	assert.ErrorIs(t, rcv.lost[0], core.ErrConnectionLost)
	assert.ErrorIs(t, conn.Send(context.Background(), core.Frame{Type: core.FrameCommand}), core.ErrConnectionClosed)
}
