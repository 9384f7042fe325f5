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

package dispatch

import (
	"io"
	"log/slog"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pinger interface {
	OnPing(note string)
}

type pingEvent struct {
	key  Key
	note string
}

func (e pingEvent) Key() Key     { return e.key }
func (e pingEvent) Kind() string { return "ping" }
func (e pingEvent) DeliverTo(l any) bool {
	h, ok := l.(pinger)
	if ok {
		h.OnPing(e.note)
	}
	return ok
}

type recorder struct {
	name string
	log  *[]string
}

func (r *recorder) OnPing(note string) { *r.log = append(*r.log, r.name+":"+note) }

type silent struct{}

func newDispatcher() *Dispatcher {
	return New(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestDispatchRegistrationOrder(t *testing.T) {
	d := newDispatcher()
	var log []string
	a := &recorder{name: "a", log: &log}
	b := &recorder{name: "b", log: &log}
	key := FeedKey("fk-1")

	require.NoError(t, d.Register(key, a))
	require.NoError(t, d.Register(key, b))

	n := d.Dispatch(pingEvent{key: key, note: "x"})

	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"a:x", "b:x"}, log)
}

func TestDispatchSkipsListenersWithoutHandler(t *testing.T) {
	d := newDispatcher()
	var log []string
	key := IdentityKey("id-1")

	require.NoError(t, d.Register(key, &silent{}))
	require.NoError(t, d.Register(key, &recorder{name: "a", log: &log}))

	assert.Equal(t, 1, d.Dispatch(pingEvent{key: key, note: "x"}))
	assert.Equal(t, []string{"a:x"}, log)
}

func TestDispatchKeysAreDistinctByKind(t *testing.T) {
	d := newDispatcher()
	var log []string
	require.NoError(t, d.Register(IdentityKey("same"), &recorder{name: "id", log: &log}))
	require.NoError(t, d.Register(FeedKey("same"), &recorder{name: "feed", log: &log}))

	d.Dispatch(pingEvent{key: FeedKey("same"), note: "x"})

	assert.Equal(t, []string{"feed:x"}, log)
}

func TestDuplicateRegistrationDeliversTwice(t *testing.T) {
	d := newDispatcher()
	var log []string
	a := &recorder{name: "a", log: &log}
	key := FeedKey("fk")

	require.NoError(t, d.Register(key, a))
	require.NoError(t, d.Register(key, a))
	d.Dispatch(pingEvent{key: key, note: "x"})

	assert.Equal(t, []string{"a:x", "a:x"}, log)
}

func TestUnregisterRemovesAllAndIsIdempotent(t *testing.T) {
	d := newDispatcher()
	var log []string
	a := &recorder{name: "a", log: &log}
	b := &recorder{name: "b", log: &log}
	key := FeedKey("fk")

	require.NoError(t, d.Register(key, a))
	require.NoError(t, d.Register(key, b))
	require.NoError(t, d.Register(key, a))

	d.Unregister(key, a)
	d.Unregister(key, a)
	d.Unregister(FeedKey("other"), a)

	assert.Equal(t, []any{b}, d.Listeners(key))
	d.Dispatch(pingEvent{key: key, note: "x"})
	assert.Equal(t, []string{"b:x"}, log)

	d.Unregister(key, b)
	assert.Empty(t, d.Listeners(key))
}

func TestRegisterRejectsUncomparableListener(t *testing.T) {
	d := newDispatcher()
	err := d.Register(FeedKey("fk"), map[string]int{})
	assert.ErrorIs(t, err, ErrListenerNotComparable)
	assert.ErrorIs(t, d.Register(FeedKey("fk"), nil), ErrListenerNotComparable)
}

func TestHandlerMayUnregisterDuringDispatch(t *testing.T) {
	d := newDispatcher()
	key := FeedKey("fk")
	var log []string
	b := &recorder{name: "b", log: &log}
	self := &selfRemover{d: d, key: key, log: &log}

	require.NoError(t, d.Register(key, self))
	require.NoError(t, d.Register(key, b))

	assert.Equal(t, 2, d.Dispatch(pingEvent{key: key, note: "x"}))
	assert.Equal(t, []string{"self:x", "b:x"}, log)
	assert.Equal(t, []any{b}, d.Listeners(key))
}

type selfRemover struct {
	d   *Dispatcher
	key Key
	log *[]string
}

func (s *selfRemover) OnPing(note string) {
	*s.log = append(*s.log, "self:"+note)
	s.d.Unregister(s.key, s)
}

func TestPanickingListenerDoesNotStopDelivery(t *testing.T) {
	d := newDispatcher()
	key := FeedKey("fk")
	var log []string

	require.NoError(t, d.Register(key, &panicker{}))
	require.NoError(t, d.Register(key, &recorder{name: "b", log: &log}))

	assert.Equal(t, 2, d.Dispatch(pingEvent{key: key, note: "x"}))
	assert.Equal(t, []string{"b:x"}, log)
}

type panicker struct{}

func (p *panicker) OnPing(string) { panic("listener failure") }

func TestNewIdentityKeyUnique(t *testing.T) {
	ka, kb := NewIdentityKey(), NewIdentityKey()
	assert.Equal(t, KindIdentity, ka.Kind)
	assert.NotEmpty(t, ka.Value)
	assert.NotEqual(t, ka, kb)
	assert.NotEqual(t, ka, FeedKey(ka.Value))
}

type owner struct{ name string }

func TestObjectKeyStableAndUnique(t *testing.T) {
	d := newDispatcher()
	a, b := &owner{name: "a"}, &owner{name: "b"}

	ka := ObjectKey(d, a)
	assert.Equal(t, KindIdentity, ka.Kind)
	assert.Equal(t, ka, ObjectKey(d, a))
	assert.NotEqual(t, ka, ObjectKey(d, b))
	runtime.KeepAlive(a)
	runtime.KeepAlive(b)
}

func TestObjectKeyDoesNotPinObjects(t *testing.T) {
	d := newDispatcher()
	for i := 0; i < 20; i++ {
		ObjectKey(d, &owner{name: "tmp"})
	}
	assert.Eventually(t, func() bool {
		runtime.GC()
		return d.trackedObjects() == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestUnregisterDropsEmptyKeys(t *testing.T) {
	d := newDispatcher()
	l := &silent{}
	key := NewIdentityKey()

	require.NoError(t, d.Register(key, l))
	require.NoError(t, d.Register(FeedKey("fk"), l))
	assert.Equal(t, 2, d.Len())

	d.Unregister(key, l)
	d.Unregister(FeedKey("fk"), l)
	assert.Zero(t, d.Len())
}

func TestConcurrentRegisterAndDispatch(t *testing.T) {
	d := newDispatcher()
	key := FeedKey("fk")
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			l := &silent{}
			_ = d.Register(key, l)
			d.Unregister(key, l)
		}()
		go func() {
			defer wg.Done()
			d.Dispatch(pingEvent{key: key})
		}()
	}
	wg.Wait()
	assert.Empty(t, d.Listeners(key))
}
