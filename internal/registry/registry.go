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

package registry

import (
	"bytes"
	"encoding/json"
	"sync"

	"github.com/wso2/api-platform/gateway/gateway-runtime/feed-client/pkg/core"
)

// Member is an open feed as seen by the registry.
type Member interface {
	comparable
	Settings() core.FeedSettings
}

// Registry indexes open feeds by feed key. Several local feeds may share one
// server-side key.
type Registry[T Member] struct {
	mu    sync.RWMutex
	feeds map[string][]T
	order []string
}

func New[T Member]() *Registry[T] {
	return &Registry[T]{feeds: make(map[string][]T)}
}

// Register adds f under key. Adding the same feed twice is a no-op.
func (r *Registry[T]) Register(key string, f T) {
	if key == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	members, exists := r.feeds[key]
	for _, m := range members {
		if m == f {
			return
		}
	}
	if !exists {
		r.order = append(r.order, key)
	}
	r.feeds[key] = append(members, f)
}

// Unregister removes f from key and reports whether it was registered.
func (r *Registry[T]) Unregister(key string, f T) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	members := r.feeds[key]
	for i, m := range members {
		if m != f {
			continue
		}
		members = append(members[:i:i], members[i+1:]...)
		if len(members) == 0 {
			r.dropKey(key)
		} else {
			r.feeds[key] = members
		}
		return true
	}
	return false
}

// RemoveKey drops every feed registered under key and returns them.
func (r *Registry[T]) RemoveKey(key string) []T {
	r.mu.Lock()
	defer r.mu.Unlock()
	members := r.feeds[key]
	if members != nil {
		r.dropKey(key)
	}
	return members
}

func (r *Registry[T]) FeedsForKey(key string) []T {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]T(nil), r.feeds[key]...)
}

// Settings returns the settings of the first feed registered under key.
func (r *Registry[T]) Settings(key string) (core.FeedSettings, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	members := r.feeds[key]
	if len(members) == 0 {
		return core.FeedSettings{}, false
	}
	return members[0].Settings(), true
}

// FindOpen returns the key of an open session for the processor and filter
// combination, if any.
func (r *Registry[T]) FindOpen(procID int64, filters map[string]any) (string, bool) {
	want := canonicalFilters(filters)

	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, key := range r.order {
		members := r.feeds[key]
		if len(members) == 0 {
			continue
		}
		s := members[0].Settings()
		if s.ProcID == procID && bytes.Equal(canonicalFilters(s.Filters), want) {
			return key, true
		}
	}
	return "", false
}

// Keys returns the registered feed keys in registration order.
func (r *Registry[T]) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

func (r *Registry[T]) All() []T {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var all []T
	for _, key := range r.order {
		all = append(all, r.feeds[key]...)
	}
	return all
}

// Clear empties the registry and returns what it held.
func (r *Registry[T]) Clear() []T {
	all := r.All()
	r.mu.Lock()
	r.feeds = make(map[string][]T)
	r.order = nil
	r.mu.Unlock()
	return all
}

func (r *Registry[T]) IsEmpty() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.feeds) == 0
}

func (r *Registry[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, members := range r.feeds {
		n += len(members)
	}
	return n
}

func (r *Registry[T]) dropKey(key string) {
	delete(r.feeds, key)
	for i, k := range r.order {
		if k == key {
			r.order = append(r.order[:i:i], r.order[i+1:]...)
			break
		}
	}
}

func canonicalFilters(filters map[string]any) []byte {
	if len(filters) == 0 {
		return nil
	}
	data, err := json.Marshal(filters)
	if err != nil {
		return nil
	}
	return data
}
