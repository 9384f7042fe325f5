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

package ws

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wso2/api-platform/gateway/gateway-runtime/feed-client/pkg/core"
)

type receiver struct {
	frames chan core.Frame
	lost   chan error
}

func newReceiver() *receiver {
	return &receiver{frames: make(chan core.Frame, 8), lost: make(chan error, 1)}
}

func (r *receiver) Receive(f core.Frame) { r.frames <- f }
func (r *receiver) Disconnected(err error) { r.lost <- err }

// echoServer answers every command with a response carrying the same token.
func echoServer(t *testing.T, clientIDs chan<- string) *httptest.Server {
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		clientIDs <- r.Header.Get("X-Client-ID")
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			f, err := core.DecodeFrame(data)
			if err != nil {
				t.Errorf("decode: %v", err)
				return
			}
			if f.Path == "/drop" {
				return
			}
			reply, _ := core.EncodeFrame(core.Frame{Type: core.FrameResponse, Token: f.Token, Result: []byte(`{"ok":true}`)})
			if err := conn.WriteMessage(websocket.TextMessage, reply); err != nil {
				return
			}
		}
	}))
}

func dial(t *testing.T, srv *httptest.Server, rcv *receiver) core.Connection {
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	d := New("ws-test", url, "client-1", slog.New(slog.NewTextHandler(io.Discard, nil)))
	assert.Equal(t, "websocket", d.Type())
	conn, err := d.Dial(context.Background(), rcv)
	require.NoError(t, err)
	return conn
}

func TestRoundTrip(t *testing.T) {
	ids := make(chan string, 1)
	srv := echoServer(t, ids)
	defer srv.Close()

	rcv := newReceiver()
	conn := dial(t, srv, rcv)
	defer conn.Close()
	assert.Equal(t, "client-1", <-ids)

	require.NoError(t, conn.Send(context.Background(), core.Frame{Type: core.FrameCommand, Token: "t1", Path: core.PathSessionCreate}))
	select {
	case f := <-rcv.frames:
		assert.Equal(t, core.FrameResponse, f.Type)
		assert.Equal(t, "t1", f.Token)
		assert.JSONEq(t, `{"ok":true}`, string(f.Result))
	case <-time.After(2 * time.Second):
		t.Fatal("no response")
	}
}

func TestServerHangupReportsLoss(t *testing.T) {
	ids := make(chan string, 1)
	srv := echoServer(t, ids)
	defer srv.Close()

	rcv := newReceiver()
	conn := dial(t, srv, rcv)
	defer conn.Close()

	require.NoError(t, conn.Send(context.Background(), core.Frame{Type: core.FrameCommand, Token: "t1", Path: "/drop"}))
	select {
	case err := <-rcv.lost:
		assert.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("loss not reported")
	}
}

func TestCloseIsQuiet(t *testing.T) {
	ids := make(chan string, 1)
	srv := echoServer(t, ids)
	defer srv.Close()

	rcv := newReceiver()
	conn := dial(t, srv, rcv)
	require.NoError(t, conn.Close())
	require.NoError(t, conn.Close())

	err := conn.Send(context.Background(), core.Frame{Type: core.FrameCommand, Token: "t2"})
	assert.ErrorIs(t, err, core.ErrConnectionClosed)
	select {
	case <-rcv.lost:
		t.Fatal("explicit close reported as loss")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestDialFailure(t *testing.T) {
	d := New("ws-test", "ws://127.0.0.1:1/", "client-1", slog.New(slog.NewTextHandler(io.Discard, nil)))
	_, err := d.Dial(context.Background(), newReceiver())
	assert.Error(t, err)
}
