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
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "feedclient"

// Metrics holds the client's Prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	FeedsOpened        *prometheus.CounterVec
	FeedErrors         *prometheus.CounterVec
	OpenFeeds          prometheus.Gauge
	Commands           *prometheus.CounterVec
	MessagesSent       prometheus.Counter
	MessagesReceived   prometheus.Counter
	ValidationFailures prometheus.Counter
	ConnectionReleases prometheus.Counter
	Reconnects         *prometheus.CounterVec
}

func New() *Metrics {
	return &Metrics{
		FeedsOpened: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "feed",
				Name:      "opened_total",
				Help:      "Total number of feeds opened, by how the session was obtained",
			},
			[]string{"mode"},
		),
		FeedErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "feed",
				Name:      "errors_total",
				Help:      "Total number of error events raised on feeds",
			},
			[]string{"kind"},
		),
		OpenFeeds: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "feed",
				Name:      "open",
				Help:      "Number of feeds currently registered as open",
			},
		),
		Commands: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "command",
				Name:      "completed_total",
				Help:      "Total number of commands completed, by path and outcome",
			},
			[]string{"path", "outcome"},
		),
		MessagesSent: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "messages",
				Name:      "sent_total",
				Help:      "Total number of messages accepted by the server",
			},
		),
		MessagesReceived: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "messages",
				Name:      "received_total",
				Help:      "Total number of pushed messages delivered to feeds",
			},
		),
		ValidationFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "messages",
				Name:      "validation_failures_total",
				Help:      "Total number of outbound messages rejected by their contract",
			},
		),
		ConnectionReleases: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "connection",
				Name:      "releases_total",
				Help:      "Total number of connections released after the last feed closed",
			},
		),
		Reconnects: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "connection",
				Name:      "reconnects_total",
				Help:      "Total number of reconnect cycles, by outcome",
			},
			[]string{"outcome"},
		),
	}
}

// Register adds every collector to reg.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{
		m.FeedsOpened, m.FeedErrors, m.OpenFeeds, m.Commands,
		m.MessagesSent, m.MessagesReceived, m.ValidationFailures,
		m.ConnectionReleases, m.Reconnects,
	} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

func (m *Metrics) FeedOpened(mode string) {
	if m == nil {
		return
	}
	m.FeedsOpened.WithLabelValues(mode).Inc()
}

func (m *Metrics) FeedError(kind string) {
	if m == nil {
		return
	}
	m.FeedErrors.WithLabelValues(kind).Inc()
}

func (m *Metrics) SetOpenFeeds(n int) {
	if m == nil {
		return
	}
	m.OpenFeeds.Set(float64(n))
}

// CommandCompleted records one finished command round trip.
func (m *Metrics) CommandCompleted(path string, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.Commands.WithLabelValues(path, outcome).Inc()
}

func (m *Metrics) MessageSent() {
	if m == nil {
		return
	}
	m.MessagesSent.Inc()
}

func (m *Metrics) MessageReceived() {
	if m == nil {
		return
	}
	m.MessagesReceived.Inc()
}

func (m *Metrics) ValidationFailed() {
	if m == nil {
		return
	}
	m.ValidationFailures.Inc()
}

func (m *Metrics) ConnectionReleased() {
	if m == nil {
		return
	}
	m.ConnectionReleases.Inc()
}

func (m *Metrics) Reconnected(ok bool) {
	if m == nil {
		return
	}
	outcome := "ok"
	if !ok {
		outcome = "failed"
	}
	m.Reconnects.WithLabelValues(outcome).Inc()
}
