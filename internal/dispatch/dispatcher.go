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
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"runtime"
	"sync"
	"weak"

	"github.com/google/uuid"
)

var ErrListenerNotComparable = errors.New("listener must be a comparable value such as a pointer")

type KeyKind int

const (
	KindIdentity KeyKind = iota + 1
	KindFeed
)

func (k KeyKind) String() string {
	switch k {
	case KindIdentity:
		return "identity"
	case KindFeed:
		return "feed"
	default:
		return "unknown"
	}
}

// Key addresses a list of listeners. Identity keys belong to one local object
// for its whole lifetime; feed keys are assigned by the server per session.
type Key struct {
	Kind  KeyKind
	Value string
}

func IdentityKey(v string) Key { return Key{Kind: KindIdentity, Value: v} }

// NewIdentityKey returns a fresh identity key.
func NewIdentityKey() Key { return IdentityKey(uuid.NewString()) }

func FeedKey(v string) Key { return Key{Kind: KindFeed, Value: v} }

func (k Key) IsZero() bool { return k.Value == "" }

func (k Key) String() string { return k.Kind.String() + ":" + k.Value }

// Event is delivered to every listener registered under Key. DeliverTo
// invokes the handler matching the event kind and reports false when the
// listener does not implement it.
type Event interface {
	Key() Key
	Kind() string
	DeliverTo(listener any) bool
}

// Dispatcher maps dispatch keys to ordered listener lists.
type Dispatcher struct {
	mu         sync.RWMutex
	listeners  map[Key][]any
	objectKeys map[any]Key
	logger     *slog.Logger
}

func New(logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		listeners:  make(map[Key][]any),
		objectKeys: make(map[any]Key),
		logger:     logger,
	}
}

// Register appends listener under key. Registering the same listener twice
// yields two deliveries per event.
func (d *Dispatcher) Register(key Key, listener any) error {
	if err := CheckListener(listener); err != nil {
		return err
	}
	d.mu.Lock()
	d.listeners[key] = append(d.listeners[key], listener)
	d.mu.Unlock()
	return nil
}

// Unregister removes every registration of listener under key. Removing a
// listener that is not registered does nothing.
func (d *Dispatcher) Unregister(key Key, listener any) {
	if CheckListener(listener) != nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	current := d.listeners[key]
	if len(current) == 0 {
		return
	}
	kept := make([]any, 0, len(current))
	for _, l := range current {
		if l != listener {
			kept = append(kept, l)
		}
	}
	if len(kept) == 0 {
		delete(d.listeners, key)
		return
	}
	d.listeners[key] = kept
}

// Dispatch delivers evt to the listeners registered under its key in
// registration order and returns how many handled it. The list is
// snapshotted first so handlers may register or unregister freely.
func (d *Dispatcher) Dispatch(evt Event) int {
	d.mu.RLock()
	snapshot := append([]any(nil), d.listeners[evt.Key()]...)
	d.mu.RUnlock()

	delivered := 0
	for _, l := range snapshot {
		if d.deliver(evt, l) {
			delivered++
		}
	}
	return delivered
}

// Listeners returns a copy of the listeners registered under key.
func (d *Dispatcher) Listeners(key Key) []any {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]any(nil), d.listeners[key]...)
}

// ObjectKey returns the identity key of obj, assigning a fresh one on first
// use. The memo holds obj weakly; the entry is dropped once obj is collected.
func ObjectKey[T any](d *Dispatcher, obj *T) Key {
	wp := weak.Make(obj)
	d.mu.Lock()
	defer d.mu.Unlock()
	if k, ok := d.objectKeys[wp]; ok {
		return k
	}
	k := NewIdentityKey()
	d.objectKeys[wp] = k
	runtime.AddCleanup(obj, d.forget, any(wp))
	return k
}

func (d *Dispatcher) forget(wp any) {
	d.mu.Lock()
	delete(d.objectKeys, wp)
	d.mu.Unlock()
}

// Len returns the number of keys that have at least one listener.
func (d *Dispatcher) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.listeners)
}

func (d *Dispatcher) trackedObjects() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.objectKeys)
}

func (d *Dispatcher) deliver(evt Event, listener any) (handled bool) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("listener panic recovered",
				"event", evt.Kind(),
				"key", evt.Key().String(),
				"error", r,
			)
			handled = true
		}
	}()
	return evt.DeliverTo(listener)
}

// CheckListener reports whether listener can be registered.
func CheckListener(listener any) error {
	if listener == nil {
		return fmt.Errorf("%w: nil", ErrListenerNotComparable)
	}
	if !reflect.TypeOf(listener).Comparable() {
		return fmt.Errorf("%w: %T", ErrListenerNotComparable, listener)
	}
	return nil
}
