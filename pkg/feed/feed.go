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
	"log/slog"
	"sync"
	"time"

	"github.com/wso2/api-platform/gateway/gateway-runtime/feed-client/internal/contract"
	"github.com/wso2/api-platform/gateway/gateway-runtime/feed-client/internal/dispatch"
	"github.com/wso2/api-platform/gateway/gateway-runtime/feed-client/pkg/core"
)

// Config describes a feed before it is opened.
type Config struct {
	ProcID   int64
	Filters  map[string]any
	WriteKey string
	// Callbacks is registered first under the feed's identity key.
	Callbacks *Callbacks
	// Listener is registered right after Callbacks.
	Listener any
}

// HistoryCompletion receives the result of one History call in addition to
// the history event.
type HistoryCompletion func(f *Feed, msgs []core.Message)

// Feed is a handle to one stream bound to a server-side processor. A feed is
// created closed and becomes open only after the server confirms the session.
// All transitions run on the owning client's event loop; the accessors are
// safe from any goroutine.
type Feed struct {
	client *Client
	procID int64
	idKey  dispatch.Key
	logger *slog.Logger

	mu         sync.RWMutex
	state      core.FeedState
	feedKey    string
	filters    map[string]any
	writeKey   string
	settings   core.FeedSettings
	dateFields []string
	conn       core.Connection
	listeners  []any
	bound      bool

	// loop-owned
	opening     bool
	closing     bool
	closeQueued bool
}

func newFeed(c *Client, cfg Config) *Feed {
	f := &Feed{
		client:   c,
		procID:   cfg.ProcID,
		state:    core.FeedStateClosed,
		filters:  cfg.Filters,
		writeKey: cfg.WriteKey,
		settings: core.FeedSettings{
			State:   core.FeedStateClosed,
			ProcID:  cfg.ProcID,
			Filters: cfg.Filters,
		},
	}
	if cfg.Callbacks != nil {
		f.listeners = append(f.listeners, cfg.Callbacks)
	}
	if cfg.Listener != nil {
		f.listeners = append(f.listeners, cfg.Listener)
	}
	f.idKey = dispatch.ObjectKey(c.dispatcher, f)
	f.logger = c.logger.With("proc_id", cfg.ProcID)
	return f
}

// Open asks the server for a session. The result arrives as an open or
// error event.
func (f *Feed) Open() error {
	return f.client.Open(f)
}

// Close ends the session. The owning client releases the connection when no
// open feed remains.
func (f *Feed) Close() error {
	return f.client.CloseFeed(f)
}

// Send validates msg against the feed's contract and publishes it. Failures
// are reported as error events.
func (f *Feed) Send(msg any) {
	f.client.post(func() { f.client.send(f, msg) })
}

// History fetches up to limit past messages sent before endingBefore. Zero
// values select the client's default limit and the current time.
func (f *Feed) History(limit int, endingBefore time.Time, completion HistoryCompletion) {
	f.client.post(func() { f.client.history(f, limit, endingBefore, completion) })
}

// AddListener registers l for this feed's events after the listeners already
// present. l must be comparable.
func (f *Feed) AddListener(l any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.bound {
		if err := f.client.dispatcher.Register(f.idKey, l); err != nil {
			return err
		}
	} else if err := dispatch.CheckListener(l); err != nil {
		return err
	}
	f.listeners = append(f.listeners, l)
	return nil
}

// RemoveListener removes every registration of l.
func (f *Feed) RemoveListener(l any) {
	if dispatch.CheckListener(l) != nil {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	kept := f.listeners[:0]
	for _, existing := range f.listeners {
		if existing != l {
			kept = append(kept, existing)
		}
	}
	f.listeners = kept
	f.client.dispatcher.Unregister(f.idKey, l)
}

// SetWriteKey unlocks a write-protected feed for later opens and sends.
func (f *Feed) SetWriteKey(key string) {
	f.mu.Lock()
	f.writeKey = key
	f.mu.Unlock()
}

func (f *Feed) State() core.FeedState {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.state
}

func (f *Feed) IsOpen() bool   { return f.State() == core.FeedStateOpen }
func (f *Feed) IsClosed() bool { return f.State() == core.FeedStateClosed }
func (f *Feed) HasError() bool { return f.State() == core.FeedStateError }

func (f *Feed) ProcID() int64 { return f.procID }

// FeedKey is empty unless the feed is open.
func (f *Feed) FeedKey() string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.feedKey
}

// Settings returns a copy of the current settings.
func (f *Feed) Settings() core.FeedSettings {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.settings.Clone()
}

func (f *Feed) DateFields() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return append([]string(nil), f.dateFields...)
}

func (f *Feed) getWriteKey() string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.writeKey
}

func (f *Feed) connection() core.Connection {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.conn
}

func (f *Feed) setConnection(conn core.Connection) {
	f.mu.Lock()
	f.conn = conn
	f.mu.Unlock()
}

// requestSettings is what a create-session command carries.
func (f *Feed) requestSettings() core.FeedSettings {
	f.mu.RLock()
	defer f.mu.RUnlock()
	s := f.settings.Clone()
	if s.ProcID == 0 {
		s.ProcID = f.procID
	}
	if s.Filters == nil {
		s.Filters = f.filters
	}
	return s
}

// adopt takes over server settings and moves the feed to open.
func (f *Feed) adopt(s core.FeedSettings) {
	s.State = core.FeedStateOpen
	f.mu.Lock()
	f.settings = s.Clone()
	f.feedKey = s.FeedKey
	f.dateFields = s.DateFields()
	f.state = core.FeedStateOpen
	f.mu.Unlock()
}

// markState records a non-open state and clears the feed key.
func (f *Feed) markState(state core.FeedState) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := f.feedKey
	f.state = state
	f.feedKey = ""
	f.settings.State = state
	f.settings.FeedKey = ""
	f.conn = nil
	return key
}

// bindListeners registers the feed's listeners under its identity key once.
func (f *Feed) bindListeners() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.bound {
		return
	}
	for _, l := range f.listeners {
		if err := f.client.dispatcher.Register(f.idKey, l); err != nil {
			f.logger.Warn("listener not registered", "error", err)
		}
	}
	f.bound = true
}

func (f *Feed) unbindListeners() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.bound {
		return
	}
	for _, l := range f.listeners {
		f.client.dispatcher.Unregister(f.idKey, l)
	}
	f.bound = false
}

// deliverPush runs on the loop for pushes addressed to the feed key.
func (f *Feed) deliverPush(payload json.RawMessage) {
	if !f.IsOpen() {
		return
	}
	msg, err := contract.ParsePayload(payload)
	if err != nil {
		f.logger.Warn("dropping unparseable push", "feed_key", f.FeedKey(), "error", err)
		return
	}
	contract.Rehydrate(msg, f.DateFields())
	f.client.metrics.MessageReceived()
	f.client.dispatcher.Dispatch(messageEvent{key: f.idKey, feed: f, msg: msg})
}
