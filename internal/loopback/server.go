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

// Package loopback is an in-process implementation of the feed command
// surface. It backs the memory transport for tests and local demos.
package loopback

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wso2/api-platform/gateway/gateway-runtime/feed-client/pkg/core"
)

const DefaultHistorySize = 100

var (
	ErrInvalidWriteKey = errors.New("invalid write key")
	ErrReadOnlyFeed    = errors.New("feed does not accept messages")
)

// Processor is a server-side stream definition feeds are opened against.
type Processor struct {
	ID           int64
	Channel      string
	FeedType     core.FeedType
	TemplateType string
	Contract     []core.FieldDescriptor
	WriteKey     string
}

type historyEntry struct {
	ts  int64
	msg core.Message
}

type session struct {
	feedKey  string
	settings core.FeedSettings
	proc     Processor
	owner    *Conn
}

// Server keeps processors, sessions and per-processor history.
type Server struct {
	mu          sync.Mutex
	processors  map[int64]Processor
	sessions    map[string]*session
	conns       map[string]*Conn
	history     map[int64][]historyEntry
	historySize int
	failures    map[string][]string
	logger      *slog.Logger
	now         func() time.Time
}

func NewServer(logger *slog.Logger) *Server {
	return &Server{
		processors:  make(map[int64]Processor),
		sessions:    make(map[string]*session),
		conns:       make(map[string]*Conn),
		history:     make(map[int64][]historyEntry),
		historySize: DefaultHistorySize,
		failures:    make(map[string][]string),
		logger:      logger.With("component", "loopback"),
		now:         time.Now,
	}
}

func (s *Server) AddProcessor(p Processor) {
	if p.FeedType == "" {
		p.FeedType = core.FeedTypeThru
	}
	s.mu.Lock()
	s.processors[p.ID] = p
	s.mu.Unlock()
	s.logger.Info("processor registered", "proc_id", p.ID, "channel", p.Channel, "feed_type", p.FeedType)
}

func (s *Server) SetHistorySize(n int) {
	s.mu.Lock()
	s.historySize = n
	s.mu.Unlock()
}

// FailNext makes the next command on path fail with message.
func (s *Server) FailNext(path, message string) {
	s.mu.Lock()
	s.failures[path] = append(s.failures[path], message)
	s.mu.Unlock()
}

// Connect attaches a client. deliver receives every encoded reply and push.
func (s *Server) Connect(deliver func([]byte), onDrop func(error)) *Conn {
	c := &Conn{
		id:      uuid.NewString(),
		server:  s,
		deliver: deliver,
		onDrop:  onDrop,
	}
	s.mu.Lock()
	s.conns[c.id] = c
	s.mu.Unlock()
	s.logger.Debug("connection attached", "conn_id", c.id)
	return c
}

// DropConnections severs every attached client as a network failure would.
// Their sessions are lost.
func (s *Server) DropConnections() int {
	s.mu.Lock()
	conns := make([]*Conn, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		c.detach()
		if c.onDrop != nil {
			c.onDrop(core.ErrConnectionLost)
		}
	}
	return len(conns)
}

func (s *Server) SessionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func (s *Server) ConnectionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// Conn is the server end of one client connection.
type Conn struct {
	id      string
	server  *Server
	deliver func([]byte)
	onDrop  func(error)
	mu      sync.Mutex
	closed  bool
}

// Handle processes one encoded command frame.
func (c *Conn) Handle(data []byte) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return core.ErrConnectionClosed
	}

	frame, err := core.DecodeFrame(data)
	if err != nil {
		return err
	}
	if frame.Type != core.FrameCommand {
		return fmt.Errorf("%w: expected command, got %s", core.ErrMalformedFrame, frame.Type)
	}

	result, pushes, err := c.server.execute(c, frame)
	reply := core.Frame{Token: frame.Token, Path: frame.Path}
	if err != nil {
		reply.Type = core.FrameError
		reply.Error = err.Error()
	} else {
		reply.Type = core.FrameResponse
		reply.Result = result
	}
	c.send(reply)
	for _, p := range pushes {
		p.conn.send(p.frame)
	}
	return nil
}

// Close detaches the connection and ends its sessions.
func (c *Conn) Close() error {
	c.detach()
	return nil
}

func (c *Conn) detach() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	s := c.server
	s.mu.Lock()
	delete(s.conns, c.id)
	for key, sess := range s.sessions {
		if sess.owner == c {
			delete(s.sessions, key)
		}
	}
	s.mu.Unlock()
	s.logger.Debug("connection detached", "conn_id", c.id)
}

func (c *Conn) send(frame core.Frame) {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return
	}
	data, err := core.EncodeFrame(frame)
	if err != nil {
		c.server.logger.Error("encode reply", "error", err)
		return
	}
	c.deliver(data)
}

type push struct {
	conn  *Conn
	frame core.Frame
}

func (s *Server) execute(c *Conn, frame core.Frame) (json.RawMessage, []push, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if queued := s.failures[frame.Path]; len(queued) > 0 {
		s.failures[frame.Path] = queued[1:]
		return nil, nil, errors.New(queued[0])
	}

	switch frame.Path {
	case core.PathSessionCreate:
		return s.create(c, frame.Params)
	case core.PathSessionDelete:
		return s.deleteSessions(c, frame.Params)
	case core.PathMessageSend:
		return s.publish(c, frame.Params)
	case core.PathMessageHistory:
		return s.historyFor(c, frame.Params)
	default:
		return nil, nil, fmt.Errorf("unknown command path %s", frame.Path)
	}
}

func (s *Server) create(c *Conn, params map[string]any) (json.RawMessage, []push, error) {
	var req core.FeedSettings
	if err := decodeParam(params["feed"], &req); err != nil {
		return nil, nil, err
	}
	proc, ok := s.processors[req.ProcID]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %d", core.ErrProcessorNotFound, req.ProcID)
	}
	if wk, _ := params["writeKey"].(string); wk != "" && proc.WriteKey != "" && wk != proc.WriteKey {
		return nil, nil, ErrInvalidWriteKey
	}

	key := req.FeedKey
	if existing, taken := s.sessions[key]; key == "" || (taken && existing.owner != c) {
		key = uuid.NewString()
	}
	settings := core.FeedSettings{
		State:        core.FeedStateOpen,
		FeedKey:      key,
		ProcID:       proc.ID,
		Filters:      req.Filters,
		FeedType:     proc.FeedType,
		TemplateType: proc.TemplateType,
		MsgContract:  proc.Contract,
	}
	s.sessions[key] = &session{feedKey: key, settings: settings, proc: proc, owner: c}
	s.logger.Info("session created", "feed_key", key, "proc_id", proc.ID, "conn_id", c.id)
	return mustJSON(settings), nil, nil
}

func (s *Server) deleteSessions(c *Conn, params map[string]any) (json.RawMessage, []push, error) {
	var keys []string
	switch v := params["fklist"].(type) {
	case string:
		for _, k := range strings.Split(v, ",") {
			if k = strings.TrimSpace(k); k != "" {
				keys = append(keys, k)
			}
		}
	case []any:
		for _, k := range v {
			if ks, ok := k.(string); ok {
				keys = append(keys, ks)
			}
		}
	}
	if len(keys) == 0 {
		return nil, nil, fmt.Errorf("%w: empty fklist", core.ErrUnknownFeedKey)
	}
	for _, k := range keys {
		sess, ok := s.sessions[k]
		if !ok || sess.owner != c {
			return nil, nil, fmt.Errorf("%w: %s", core.ErrUnknownFeedKey, k)
		}
	}
	for _, k := range keys {
		delete(s.sessions, k)
		s.logger.Info("session destroyed", "feed_key", k, "conn_id", c.id)
	}
	return mustJSON(map[string]any{"deleted": len(keys)}), nil, nil
}

func (s *Server) publish(c *Conn, params map[string]any) (json.RawMessage, []push, error) {
	key, _ := params["feedKey"].(string)
	sess, ok := s.sessions[key]
	if !ok || sess.owner != c {
		return nil, nil, fmt.Errorf("%w: %s", core.ErrUnknownFeedKey, key)
	}
	if sess.proc.FeedType == core.FeedTypeOutput {
		return nil, nil, ErrReadOnlyFeed
	}
	if sess.proc.WriteKey != "" {
		wk, _ := params["writeKey"].(string)
		switch {
		case wk == "":
			return nil, nil, core.ErrWriteKeyRequired
		case wk != sess.proc.WriteKey:
			return nil, nil, ErrInvalidWriteKey
		}
	}
	var msg core.Message
	if err := decodeParam(params["msg"], &msg); err != nil {
		return nil, nil, err
	}

	ts := s.now().UnixMilli()
	targets := make(map[int64]bool)
	if sess.proc.FeedType == core.FeedTypeThru {
		targets[sess.proc.ID] = true
	} else {
		s.record(sess.proc.ID, ts, msg)
		for id, p := range s.processors {
			if p.FeedType == core.FeedTypeOutput && p.Channel == sess.proc.Channel {
				targets[id] = true
			}
		}
	}
	for id := range targets {
		s.record(id, ts, msg)
	}

	payload := mustJSON(msg)
	var pushes []push
	for _, k := range s.sortedKeys() {
		other := s.sessions[k]
		if !targets[other.proc.ID] || !matches(other.settings.Filters, msg) {
			continue
		}
		pushes = append(pushes, push{
			conn:  other.owner,
			frame: core.Frame{Type: core.FramePush, FeedKey: other.feedKey, Payload: payload},
		})
	}
	return mustJSON(map[string]any{"ts": ts}), pushes, nil
}

func (s *Server) historyFor(c *Conn, params map[string]any) (json.RawMessage, []push, error) {
	key, _ := params["feedKey"].(string)
	sess, ok := s.sessions[key]
	if !ok || sess.owner != c {
		return nil, nil, fmt.Errorf("%w: %s", core.ErrUnknownFeedKey, key)
	}
	limit := intParam(params["limit"], 10)
	before := int64(intParam(params["sinceTS"], int(s.now().UnixMilli())))

	var out []core.Message
	entries := s.history[sess.proc.ID]
	for i := len(entries) - 1; i >= 0 && len(out) < limit; i-- {
		if entries[i].ts < before {
			out = append(out, entries[i].msg)
		}
	}
	// oldest first
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	if out == nil {
		out = []core.Message{}
	}
	return mustJSON(out), nil, nil
}

func (s *Server) record(procID, ts int64, msg core.Message) {
	entries := append(s.history[procID], historyEntry{ts: ts, msg: msg})
	if s.historySize > 0 && len(entries) > s.historySize {
		entries = entries[len(entries)-s.historySize:]
	}
	s.history[procID] = entries
}

func (s *Server) sortedKeys() []string {
	keys := make([]string, 0, len(s.sessions))
	for k := range s.sessions {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// matches applies a session's filters as field equality.
func matches(filters map[string]any, msg core.Message) bool {
	for k, want := range filters {
		if fmt.Sprint(msg[k]) != fmt.Sprint(want) {
			return false
		}
	}
	return true
}

func decodeParam(v any, out any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("%w: %v", core.ErrMalformedFrame, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: %v", core.ErrMalformedFrame, err)
	}
	return nil
}

func intParam(v any, def int) int {
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	case int64:
		return int(n)
	}
	return def
}

func mustJSON(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}
