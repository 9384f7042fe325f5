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

// Package command correlates request frames with their responses. Every
// submitted command completes exactly once: with the server's result, with the
// server's error, on timeout, or when the connection goes away.
package command

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wso2/api-platform/gateway/gateway-runtime/feed-client/internal/logging"
	"github.com/wso2/api-platform/gateway/gateway-runtime/feed-client/pkg/core"
)

type Command struct {
	Method string
	Path   string
	Params map[string]any
}

// Result is the outcome handed to a Completion. Err is nil on success.
type Result struct {
	Payload json.RawMessage
	Err     error
}

// Decode unmarshals the result payload into v.
func (r Result) Decode(v any) error {
	if r.Err != nil {
		return r.Err
	}
	if len(r.Payload) == 0 {
		return fmt.Errorf("%w: empty result", core.ErrMalformedFrame)
	}
	if err := json.Unmarshal(r.Payload, v); err != nil {
		return fmt.Errorf("%w: %v", core.ErrMalformedFrame, err)
	}
	return nil
}

type Completion func(Result)

// Scheduler runs work items in order. serial.Queue implements it.
type Scheduler interface {
	Post(fn func()) bool
}

// Observer is told about every completed command.
type Observer interface {
	CommandCompleted(path string, err error)
}

type Options struct {
	ClientID string
	Timeout  time.Duration
	// Loop runs completions.
	Loop Scheduler
	// Writer runs transport writes.
	Writer   Scheduler
	Logger   *slog.Logger
	Frames   *logging.FrameLogger
	Observer Observer
}

type call struct {
	path  string
	done  Completion
	timer *time.Timer
	once  sync.Once
}

type Channel struct {
	opts    Options
	logger  *slog.Logger
	mu      sync.Mutex
	pending map[string]*call
}

func NewChannel(opts Options) *Channel {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Channel{
		opts:    opts,
		logger:  logger.With("component", "command"),
		pending: make(map[string]*call),
	}
}

// Send submits cmd over conn and returns its correlation token. done runs on
// the loop scheduler exactly once.
func (ch *Channel) Send(ctx context.Context, conn core.Connection, cmd Command, done Completion) string {
	token := uuid.NewString()
	c := &call{path: cmd.Path, done: done}

	ch.mu.Lock()
	ch.pending[token] = c
	ch.mu.Unlock()

	if ch.opts.Timeout > 0 {
		c.timer = time.AfterFunc(ch.opts.Timeout, func() {
			ch.complete(token, Result{Err: fmt.Errorf("%w: %s", core.ErrCommandTimeout, cmd.Path)})
		})
	}

	if conn == nil {
		ch.complete(token, Result{Err: core.ErrNoConnection})
		return token
	}

	method := cmd.Method
	if method == "" {
		method = core.MethodFor(cmd.Path)
	}
	frame := core.Frame{
		Type:     core.FrameCommand,
		Token:    token,
		ClientID: ch.opts.ClientID,
		Method:   method,
		Path:     cmd.Path,
		Params:   cmd.Params,
	}

	write := func() {
		ch.opts.Frames.Log(frame, logging.DirectionOut)
		if err := conn.Send(ctx, frame); err != nil {
			ch.complete(token, Result{Err: err})
		}
	}
	if ch.opts.Writer == nil {
		write()
	} else if !ch.opts.Writer.Post(write) {
		ch.complete(token, Result{Err: core.ErrClientClosed})
	}
	return token
}

// Resolve completes the command a response or error frame answers. It reports
// false for frames whose token is unknown, such as late replies after a
// timeout.
func (ch *Channel) Resolve(frame core.Frame) bool {
	var res Result
	switch frame.Type {
	case core.FrameResponse:
		res = Result{Payload: frame.Result}
	case core.FrameError:
		res = Result{Err: fmt.Errorf("%w: %s", core.ErrCommandRejected, frame.Error)}
	default:
		return false
	}
	ok := ch.complete(frame.Token, res)
	if !ok {
		ch.logger.Debug("response for unknown command", "token", frame.Token, "type", frame.Type)
	}
	return ok
}

// FailAll completes every pending command with err.
func (ch *Channel) FailAll(err error) int {
	ch.mu.Lock()
	tokens := make([]string, 0, len(ch.pending))
	for token := range ch.pending {
		tokens = append(tokens, token)
	}
	ch.mu.Unlock()

	n := 0
	for _, token := range tokens {
		if ch.complete(token, Result{Err: err}) {
			n++
		}
	}
	return n
}

// Pending returns the number of commands awaiting completion.
func (ch *Channel) Pending() int {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return len(ch.pending)
}

func (ch *Channel) complete(token string, res Result) bool {
	ch.mu.Lock()
	c, ok := ch.pending[token]
	if ok {
		delete(ch.pending, token)
	}
	ch.mu.Unlock()
	if !ok {
		return false
	}

	c.once.Do(func() {
		if c.timer != nil {
			c.timer.Stop()
		}
		if ch.opts.Observer != nil {
			ch.opts.Observer.CommandCompleted(c.path, res.Err)
		}
		if res.Err != nil {
			ch.logger.Debug("command failed", "path", c.path, "token", token, "error", res.Err)
		}
		if c.done == nil {
			return
		}
		run := func() { c.done(res) }
		if ch.opts.Loop == nil {
			run()
			return
		}
		if !ch.opts.Loop.Post(run) {
			ch.logger.Warn("completion dropped, client loop stopped", "path", c.path, "token", token)
		}
	})
	return true
}
