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

package sse

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

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

// fakeServer replies to each posted command on the client's event stream.
type fakeServer struct {
	events chan []byte
	hangup chan struct{}
}

func newFakeServer() (*fakeServer, *httptest.Server) {
	fs := &fakeServer{events: make(chan []byte, 8), hangup: make(chan struct{})}
	mux := http.NewServeMux()
	mux.HandleFunc(EventsPath, func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, ": connected\n\n")
		flusher.Flush()
		for {
			select {
			case <-r.Context().Done():
				return
			case <-fs.hangup:
				return
			case data := <-fs.events:
				fmt.Fprintf(w, "event: frame\ndata: %s\n\n", data)
				flusher.Flush()
			}
		}
	})
	mux.HandleFunc(CommandsPath, func(w http.ResponseWriter, r *http.Request) {
		var f core.Frame
		if err := json.NewDecoder(r.Body).Decode(&f); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if f.Path == "/drop" {
			close(fs.hangup)
			w.WriteHeader(http.StatusAccepted)
			return
		}
		reply, _ := core.EncodeFrame(core.Frame{Type: core.FrameResponse, Token: f.Token, Result: []byte(`{"client":"` + r.Header.Get("X-Client-ID") + `"}`)})
		fs.events <- reply
		w.WriteHeader(http.StatusAccepted)
	})
	return fs, httptest.NewServer(mux)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestCommandReplyOnStream(t *testing.T) {
	_, srv := newFakeServer()
	defer srv.Close()

	rcv := newReceiver()
	d := New("sse-test", srv.URL+"/", "client-7", testLogger())
	conn, err := d.Dial(context.Background(), rcv)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.Send(context.Background(), core.Frame{Type: core.FrameCommand, Token: "t1", Path: core.PathMessageSend}))
	select {
	case f := <-rcv.frames:
		assert.Equal(t, "t1", f.Token)
		assert.JSONEq(t, `{"client":"client-7"}`, string(f.Result))
	case <-time.After(2 * time.Second):
		t.Fatal("no reply")
	}
}

func TestStreamEndReportsLoss(t *testing.T) {
	_, srv := newFakeServer()
	defer srv.Close()

	rcv := newReceiver()
	conn, err := New("sse-test", srv.URL, "client-7", testLogger()).Dial(context.Background(), rcv)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.Send(context.Background(), core.Frame{Type: core.FrameCommand, Token: "t1", Path: "/drop"}))
	select {
	case err := <-rcv.lost:
		assert.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("loss not reported")
	}
}

func TestSendAfterClose(t *testing.T) {
	_, srv := newFakeServer()
	defer srv.Close()

	rcv := newReceiver()
	conn, err := New("sse-test", srv.URL, "client-7", testLogger()).Dial(context.Background(), rcv)
	require.NoError(t, err)
	require.NoError(t, conn.Close())

	assert.ErrorIs(t, conn.Send(context.Background(), core.Frame{Type: core.FrameCommand}), core.ErrConnectionClosed)
	select {
	case <-rcv.lost:
		t.Fatal("explicit close reported as loss")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestDialRejectsBadStatus(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	_, err := New("sse-test", srv.URL, "client-7", testLogger()).Dial(context.Background(), newReceiver())
	assert.Error(t, err)
}
