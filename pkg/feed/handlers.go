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

import "github.com/wso2/api-platform/gateway/gateway-runtime/feed-client/pkg/core"

// A listener is any comparable value, usually a pointer, implementing one or
// more of the handler interfaces below. Events are delivered only to
// listeners that implement the matching handler. Handlers run on the client's
// event loop and must not block.

type OpenHandler interface {
	OnOpen(f *Feed)
}

type CloseHandler interface {
	OnClose(f *Feed)
}

type MessageHandler interface {
	OnMessage(f *Feed, msg core.Message)
}

type MessageSentHandler interface {
	OnMessageSent(f *Feed, msg core.Message)
}

type HistoryHandler interface {
	OnHistory(f *Feed, msgs []core.Message)
}

type ErrorHandler interface {
	OnError(f *Feed, err error)
}

// Callbacks adapts plain functions to every handler interface. Nil fields are
// skipped.
type Callbacks struct {
	Open        func(f *Feed)
	Close       func(f *Feed)
	Message     func(f *Feed, msg core.Message)
	MessageSent func(f *Feed, msg core.Message)
	History     func(f *Feed, msgs []core.Message)
	Error       func(f *Feed, err error)
}

func (c *Callbacks) OnOpen(f *Feed) {
	if c.Open != nil {
		c.Open(f)
	}
}

func (c *Callbacks) OnClose(f *Feed) {
	if c.Close != nil {
		c.Close(f)
	}
}

func (c *Callbacks) OnMessage(f *Feed, msg core.Message) {
	if c.Message != nil {
		c.Message(f, msg)
	}
}

func (c *Callbacks) OnMessageSent(f *Feed, msg core.Message) {
	if c.MessageSent != nil {
		c.MessageSent(f, msg)
	}
}

func (c *Callbacks) OnHistory(f *Feed, msgs []core.Message) {
	if c.History != nil {
		c.History(f, msgs)
	}
}

func (c *Callbacks) OnError(f *Feed, err error) {
	if c.Error != nil {
		c.Error(f, err)
	}
}
