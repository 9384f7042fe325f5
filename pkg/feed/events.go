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

package feed

import (
	"encoding/json"

	"github.com/wso2/api-platform/gateway/gateway-runtime/feed-client/internal/dispatch"
	"github.com/wso2/api-platform/gateway/gateway-runtime/feed-client/pkg/core"
)

const (
	EventOpen        = "open"
	EventClose       = "close"
	EventMessage     = "message"
	EventMessageSent = "messagesent"
	EventHistory     = "history"
	EventError       = "error"

	eventPush = "push"
)

type openEvent struct {
	key  dispatch.Key
	feed *Feed
}

func (e openEvent) Key() dispatch.Key { return e.key }
func (e openEvent) Kind() string      { return EventOpen }
func (e openEvent) DeliverTo(l any) bool {
	h, ok := l.(OpenHandler)
	if ok {
		h.OnOpen(e.feed)
	}
	return ok
}

type closeEvent struct {
	key  dispatch.Key
	feed *Feed
}

func (e closeEvent) Key() dispatch.Key { return e.key }
func (e closeEvent) Kind() string      { return EventClose }
func (e closeEvent) DeliverTo(l any) bool {
	h, ok := l.(CloseHandler)
	if ok {
		h.OnClose(e.feed)
	}
	return ok
}

type messageEvent struct {
	key  dispatch.Key
	feed *Feed
	msg  core.Message
}

func (e messageEvent) Key() dispatch.Key { return e.key }
func (e messageEvent) Kind() string      { return EventMessage }
func (e messageEvent) DeliverTo(l any) bool {
	h, ok := l.(MessageHandler)
	if ok {
		h.OnMessage(e.feed, e.msg)
	}
	return ok
}

type messageSentEvent struct {
	key  dispatch.Key
	feed *Feed
	msg  core.Message
}

func (e messageSentEvent) Key() dispatch.Key { return e.key }
func (e messageSentEvent) Kind() string      { return EventMessageSent }
func (e messageSentEvent) DeliverTo(l any) bool {
	h, ok := l.(MessageSentHandler)
	if ok {
		h.OnMessageSent(e.feed, e.msg)
	}
	return ok
}

type historyEvent struct {
	key  dispatch.Key
	feed *Feed
	msgs []core.Message
}

func (e historyEvent) Key() dispatch.Key { return e.key }
func (e historyEvent) Kind() string      { return EventHistory }
func (e historyEvent) DeliverTo(l any) bool {
	h, ok := l.(HistoryHandler)
	if ok {
		h.OnHistory(e.feed, e.msgs)
	}
	return ok
}

type errorEvent struct {
	key  dispatch.Key
	feed *Feed
	err  error
}

func (e errorEvent) Key() dispatch.Key { return e.key }
func (e errorEvent) Kind() string      { return EventError }
func (e errorEvent) DeliverTo(l any) bool {
	h, ok := l.(ErrorHandler)
	if ok {
		h.OnError(e.feed, e.err)
	}
	return ok
}

// pushTarget is implemented by *Feed only; it receives server pushes
// addressed to the feed key.
type pushTarget interface {
	deliverPush(payload json.RawMessage)
}

type pushEvent struct {
	key     dispatch.Key
	payload json.RawMessage
}

func (e pushEvent) Key() dispatch.Key { return e.key }
func (e pushEvent) Kind() string      { return eventPush }
func (e pushEvent) DeliverTo(l any) bool {
	t, ok := l.(pushTarget)
	if ok {
		t.deliverPush(e.payload)
	}
	return ok
}
