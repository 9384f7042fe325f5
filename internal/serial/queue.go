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

// Package serial provides an unbounded FIFO of work items that are run one at
// a time on a single goroutine. Items may post further items, including from
// inside a running item, without blocking.
package serial

import (
	"context"
	"log/slog"
	"sync"
)

type Queue struct {
	mu      sync.Mutex
	pending []func()
	closed  bool
	wake    chan struct{}
	done    chan struct{}
	logger  *slog.Logger
}

func New(logger *slog.Logger) *Queue {
	return &Queue{
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
		logger: logger,
	}
}

// Post appends fn to the queue. It reports false once the queue has stopped.
func (q *Queue) Post(fn func()) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.pending = append(q.pending, fn)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return true
}

// Run executes posted items until ctx is cancelled. Items already queued when
// ctx is cancelled still run; later posts are rejected.
func (q *Queue) Run(ctx context.Context) {
	defer close(q.done)
	for {
		if fn, ok := q.next(); ok {
			q.runOne(fn)
			continue
		}
		select {
		case <-ctx.Done():
			q.mu.Lock()
			q.closed = true
			rest := q.pending
			q.pending = nil
			q.mu.Unlock()
			for _, fn := range rest {
				q.runOne(fn)
			}
			return
		case <-q.wake:
		}
	}
}

// Done is closed when Run has returned.
func (q *Queue) Done() <-chan struct{} {
	return q.done
}

// Len returns the number of items waiting to run.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

func (q *Queue) next() (func(), bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return nil, false
	}
	fn := q.pending[0]
	q.pending[0] = nil
	q.pending = q.pending[1:]
	return fn, true
}

func (q *Queue) runOne(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("queued work panic recovered", "error", r)
		}
	}()
	fn()
}
