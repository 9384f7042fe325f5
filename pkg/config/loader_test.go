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

package config

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/wso2/api-platform/gateway/gateway-runtime/feed-client/pkg/core"
	"github.com/wso2/api-platform/gateway/gateway-runtime/feed-client/pkg/feed"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
client:
  id: demo
  validation: false
  command_timeout: 5s
  history_limit: 25
reconnect:
  enabled: true
  max_attempts: 3
  initial_backoff: 250ms
log:
  level: debug
transport:
  name: main
  type: kafka
  config:
    brokers: "localhost:9092"
    topic_in: feeds.replies
    topic_out: feeds.commands
transports:
  - name: local
feeds:
  - proc_id: 12
    write_key: k1
    filters:
      room: a
processors:
  - id: 12
    channel: chat
    feed_type: out
    contract:
      - name: sent
        type: date
      - name: text
        type: S
        required: true
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Client.ValidationEnabled() {
		t.Fatal("expected validation disabled")
	}
	if cfg.Client.CommandTimeout != 5*time.Second {
		t.Fatalf("expected 5s timeout, got %s", cfg.Client.CommandTimeout)
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != DefaultLogFormat {
		t.Fatalf("unexpected log config %+v", cfg.Log)
	}
	if cfg.Transport.Type != "kafka" || cfg.Transport.Config["topic_out"] != "feeds.commands" {
		t.Fatalf("unexpected transport %+v", cfg.Transport)
	}
	if sections := cfg.TransportSections(); len(sections) != 2 || sections[1].Name != "local" || sections[1].Type != "memory" {
		t.Fatalf("unexpected transport sections %+v", sections)
	}
	if len(cfg.Feeds) != 1 {
		t.Fatalf("expected 1 feed, got %d", len(cfg.Feeds))
	}

	fc := cfg.Feeds[0].ToFeedConfig()
	if fc.ProcID != 12 || fc.WriteKey != "k1" || fc.Filters["room"] != "a" {
		t.Fatalf("unexpected feed config %+v", fc)
	}

	p := cfg.Processors[0].ToProcessor()
	if p.FeedType != core.FeedTypeOutput {
		t.Fatalf("expected OUT, got %s", p.FeedType)
	}
	if len(p.Contract) != 2 || p.Contract[0].Type != core.FieldDate || !p.Contract[1].Required {
		t.Fatalf("unexpected contract %+v", p.Contract)
	}

	opts := cfg.ClientOptions()
	if !opts.DisableValidation || opts.HistoryLimit != 25 || opts.ClientID != "demo" {
		t.Fatalf("unexpected options %+v", opts)
	}
	if !opts.Reconnect.Enabled || opts.Reconnect.MaxAttempts != 3 || opts.Reconnect.InitialBackoff != 250*time.Millisecond {
		t.Fatalf("unexpected reconnect policy %+v", opts.Reconnect)
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "feeds: []\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !cfg.Client.ValidationEnabled() {
		t.Fatal("expected validation enabled by default")
	}
	if cfg.Client.CommandTimeout != feed.DefaultCommandTimeout {
		t.Fatalf("expected default timeout, got %s", cfg.Client.CommandTimeout)
	}
	if cfg.Client.HistoryLimit != feed.DefaultHistoryLimit {
		t.Fatalf("expected default history limit, got %d", cfg.Client.HistoryLimit)
	}
	if cfg.Transport.Type != "memory" || cfg.Log.Level != DefaultLogLevel {
		t.Fatalf("unexpected defaults %+v %+v", cfg.Transport, cfg.Log)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"missing proc id", "feeds:\n  - write_key: x\n"},
		{"bad feed type", "processors:\n  - id: 1\n    feed_type: sideways\n"},
		{"bad field type", "processors:\n  - id: 1\n    contract:\n      - name: a\n        type: blob\n"},
		{"bad yaml", "client: [\n"},
	}
	for _, tt := range tests {
		if _, err := Load(writeConfig(t, tt.content)); err == nil {
			t.Errorf("%s: expected error", tt.name)
		}
	}
}

func TestLoadFileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/path")
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestWatcherAppliesChanges(t *testing.T) {
	path := writeConfig(t, "client:\n  validation: true\n")
	var got []*Config
	w := NewWatcher(path, func(c *Config) { got = append(got, c) }, slog.New(slog.NewTextHandler(io.Discard, nil)))

	w.poll()
	if len(got) != 0 {
		t.Fatal("unchanged file must not reload")
	}

	if err := os.WriteFile(path, []byte("client:\n  validation: false\nlog:\n  level: warn\n"), 0644); err != nil {
		t.Fatal(err)
	}
	future := time.Now().Add(time.Minute)
	if err := os.Chtimes(path, future, future); err != nil {
		t.Fatal(err)
	}
	w.poll()
	if len(got) != 1 {
		t.Fatalf("expected 1 reload, got %d", len(got))
	}
	if got[0].Client.ValidationEnabled() || got[0].Log.Level != "warn" {
		t.Fatalf("unexpected reloaded config %+v", got[0])
	}

	if err := os.WriteFile(path, []byte("feeds:\n  - proc_id: 0\n"), 0644); err != nil {
		t.Fatal(err)
	}
	later := future.Add(time.Minute)
	if err := os.Chtimes(path, later, later); err != nil {
		t.Fatal(err)
	}
	w.poll()
	if len(got) != 1 {
		t.Fatal("invalid config must not be applied")
	}
}
