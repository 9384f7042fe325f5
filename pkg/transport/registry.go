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

package transport

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/wso2/api-platform/gateway/gateway-runtime/feed-client/pkg/core"
)

// Registry holds the configured dialers by name.
type Registry struct {
	dialers map[string]core.Dialer
	logger  *slog.Logger
	mu      sync.RWMutex
}

func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		dialers: make(map[string]core.Dialer),
		logger:  logger,
	}
}

func (r *Registry) Register(d core.Dialer) {
	r.mu.Lock()
	r.dialers[d.Name()] = d
	r.mu.Unlock()
	r.logger.Info("registered transport", "name", d.Name(), "type", d.Type())
}

func (r *Registry) Get(name string) (core.Dialer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.dialers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", core.ErrDialerNotFound, name)
	}
	return d, nil
}

// Names lists the registered dialers in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.dialers))
	for n := range r.dialers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) Dialers() map[string]core.Dialer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cp := make(map[string]core.Dialer, len(r.dialers))
	for k, v := range r.dialers {
		cp[k] = v
	}
	return cp
}
