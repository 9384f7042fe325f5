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
	"fmt"
	"sync"
	"testing"

	"github.com/wso2/api-platform/gateway/gateway-runtime/feed-client/pkg/core"
)

type stubFeed struct {
	settings core.FeedSettings
}

func (s *stubFeed) Settings() core.FeedSettings { return s.settings }

func newStub(procID int64, filters map[string]any) *stubFeed {
	return &stubFeed{settings: core.FeedSettings{ProcID: procID, Filters: filters}}
}

func TestRegistryRegisterAndLookup(t *testing.T) {
	reg := New[*stubFeed]()
	a := newStub(1, nil)
	reg.Register("fk-1", a)

	got := reg.FeedsForKey("fk-1")
	if len(got) != 1 || got[0] != a {
		t.Fatalf("expected [a], got %v", got)
	}
	s, ok := reg.Settings("fk-1")
	if !ok || s.ProcID != 1 {
		t.Fatalf("expected settings for proc 1, got %+v (found=%v)", s, ok)
	}
	if reg.IsEmpty() {
		t.Fatal("expected registry not to be empty")
	}
}

func TestRegistryLookupMiss(t *testing.T) {
	reg := New[*stubFeed]()
	if got := reg.FeedsForKey("nonexistent"); len(got) != 0 {
		t.Fatalf("expected no feeds, got %v", got)
	}
	if _, ok := reg.Settings("nonexistent"); ok {
		t.Fatal("expected settings not to be found")
	}
	if !reg.IsEmpty() {
		t.Fatal("expected new registry to be empty")
	}
}

func TestRegistrySiblingsShareKey(t *testing.T) {
	reg := New[*stubFeed]()
	a, b := newStub(1, nil), newStub(1, nil)
	reg.Register("fk", a)
	reg.Register("fk", b)
	reg.Register("fk", a)

	if n := reg.Len(); n != 2 {
		t.Fatalf("expected 2 members, got %d", n)
	}

	if !reg.Unregister("fk", a) {
		t.Fatal("expected a to be unregistered")
	}
	if reg.Unregister("fk", a) {
		t.Fatal("expected second unregister to report false")
	}
	if reg.IsEmpty() {
		t.Fatal("expected b to keep the key alive")
	}

	reg.Unregister("fk", b)
	if !reg.IsEmpty() {
		t.Fatal("expected registry to be empty after last sibling left")
	}
	if keys := reg.Keys(); len(keys) != 0 {
		t.Fatalf("expected no keys, got %v", keys)
	}
}

func TestRegistryIgnoresEmptyKey(t *testing.T) {
	reg := New[*stubFeed]()
	reg.Register("", newStub(1, nil))
	if !reg.IsEmpty() {
		t.Fatal("expected empty key to be ignored")
	}
}

func TestRegistryFindOpen(t *testing.T) {
	reg := New[*stubFeed]()
	reg.Register("fk-plain", newStub(7, nil))
	reg.Register("fk-filtered", newStub(7, map[string]any{"t": "tag", "v": 5.0}))

	if key, ok := reg.FindOpen(7, nil); !ok || key != "fk-plain" {
		t.Fatalf("expected fk-plain, got %q (found=%v)", key, ok)
	}
	if key, ok := reg.FindOpen(7, map[string]any{}); !ok || key != "fk-plain" {
		t.Fatalf("expected empty filters to match fk-plain, got %q", key)
	}
	if key, ok := reg.FindOpen(7, map[string]any{"v": 5, "t": "tag"}); !ok || key != "fk-filtered" {
		t.Fatalf("expected fk-filtered, got %q (found=%v)", key, ok)
	}
	if _, ok := reg.FindOpen(8, nil); ok {
		t.Fatal("expected no match for another processor")
	}
	if _, ok := reg.FindOpen(7, map[string]any{"t": "other"}); ok {
		t.Fatal("expected no match for other filters")
	}
}

func TestRegistryClearAndRemoveKey(t *testing.T) {
	reg := New[*stubFeed]()
	a, b, c := newStub(1, nil), newStub(1, nil), newStub(2, nil)
	reg.Register("k1", a)
	reg.Register("k1", b)
	reg.Register("k2", c)

	removed := reg.RemoveKey("k1")
	if len(removed) != 2 {
		t.Fatalf("expected 2 removed, got %d", len(removed))
	}
	all := reg.Clear()
	if len(all) != 1 || all[0] != c {
		t.Fatalf("expected [c], got %v", all)
	}
	if !reg.IsEmpty() {
		t.Fatal("expected registry to be empty")
	}
}

func TestRegistryConcurrentAccess(t *testing.T) {
	reg := New[*stubFeed]()
	var wg sync.WaitGroup

	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			key := fmt.Sprintf("fk-%d", n%5)
			f := newStub(int64(n), nil)
			reg.Register(key, f)
			reg.FeedsForKey(key)
			reg.Unregister(key, f)
		}(i)
	}
	wg.Wait()

	if !reg.IsEmpty() {
		t.Fatal("expected registry to be empty")
	}
}
