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

package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterAndRecord(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New()
	require.NoError(t, m.Register(reg))

	m.FeedOpened("create")
	m.FeedOpened("create")
	m.CommandCompleted("/feed/session/create", nil)
	m.CommandCompleted("/feed/session/create", errors.New("rejected"))
	m.SetOpenFeeds(3)
	m.ValidationFailed()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.FeedsOpened.WithLabelValues("create")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Commands.WithLabelValues("/feed/session/create", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Commands.WithLabelValues("/feed/session/create", "error")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.OpenFeeds))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ValidationFailures))
}

func TestRegisterTwiceFails(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NoError(t, New().Register(reg))
	assert.Error(t, New().Register(reg))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.FeedOpened("create")
		m.FeedError("command")
		m.SetOpenFeeds(1)
		m.CommandCompleted("/x", nil)
		m.MessageSent()
		m.MessageReceived()
		m.ValidationFailed()
		m.ConnectionReleased()
		m.Reconnected(true)
	})
}
