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
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/wso2/api-platform/gateway/gateway-runtime/feed-client/internal/loopback"
	"github.com/wso2/api-platform/gateway/gateway-runtime/feed-client/pkg/core"
	"github.com/wso2/api-platform/gateway/gateway-runtime/feed-client/pkg/feed"
)

const (
	DefaultLogLevel  = "info"
	DefaultLogFormat = "json"
)

type Config struct {
	Client    ClientConfig    `yaml:"client"`
	Reconnect ReconnectConfig `yaml:"reconnect"`
	Log       LogConfig       `yaml:"log"`
	Transport TransportConfig `yaml:"transport"`

	// Transports are extra named transports selectable at startup.
	Transports []TransportConfig `yaml:"transports"`
	Feeds      []FeedConfig      `yaml:"feeds"`

	// Processors seed the loopback server behind the memory transport.
	Processors []ProcessorConfig `yaml:"processors"`
}

type ClientConfig struct {
	ID             string        `yaml:"id"`
	Validation     *bool         `yaml:"validation"`
	CommandTimeout time.Duration `yaml:"command_timeout"`
	HistoryLimit   int           `yaml:"history_limit"`
}

// ValidationEnabled defaults to true when the key is absent.
func (c ClientConfig) ValidationEnabled() bool {
	return c.Validation == nil || *c.Validation
}

type ReconnectConfig struct {
	Enabled        bool          `yaml:"enabled"`
	MaxAttempts    int           `yaml:"max_attempts"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type TransportConfig struct {
	Name   string            `yaml:"name"`
	Type   string            `yaml:"type"`
	Config map[string]string `yaml:"config"`
}

type FeedConfig struct {
	ProcID   int64          `yaml:"proc_id"`
	Filters  map[string]any `yaml:"filters"`
	WriteKey string         `yaml:"write_key"`
}

type ProcessorConfig struct {
	ID           int64                  `yaml:"id"`
	Channel      string                 `yaml:"channel"`
	FeedType     string                 `yaml:"feed_type"`
	TemplateType string                 `yaml:"template_type"`
	WriteKey     string                 `yaml:"write_key"`
	Contract     []core.FieldDescriptor `yaml:"contract"`
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
	if c.Log.Format == "" {
		c.Log.Format = DefaultLogFormat
	}
	if c.Client.CommandTimeout <= 0 {
		c.Client.CommandTimeout = feed.DefaultCommandTimeout
	}
	if c.Client.HistoryLimit <= 0 {
		c.Client.HistoryLimit = feed.DefaultHistoryLimit
	}
	if c.Transport.Type == "" {
		c.Transport.Type = "memory"
	}
	for i := range c.Transports {
		if c.Transports[i].Type == "" {
			c.Transports[i].Type = "memory"
		}
	}
}

func (c *Config) validate() error {
	for i, f := range c.Feeds {
		if f.ProcID <= 0 {
			return fmt.Errorf("feeds[%d]: proc_id is required", i)
		}
	}
	for i, p := range c.Processors {
		if p.ID <= 0 {
			return fmt.Errorf("processors[%d]: id is required", i)
		}
		if _, err := core.ParseFeedType(p.FeedType); err != nil {
			return fmt.Errorf("processors[%d]: %w", i, err)
		}
	}
	return nil
}

// TransportSections returns the primary transport followed by the extras.
func (c *Config) TransportSections() []TransportConfig {
	return append([]TransportConfig{c.Transport}, c.Transports...)
}

func (rc ReconnectConfig) ToPolicy() feed.ReconnectPolicy {
	return feed.ReconnectPolicy{
		Enabled:        rc.Enabled,
		MaxAttempts:    rc.MaxAttempts,
		InitialBackoff: rc.InitialBackoff,
		MaxBackoff:     rc.MaxBackoff,
	}
}

func (fc FeedConfig) ToFeedConfig() feed.Config {
	return feed.Config{
		ProcID:   fc.ProcID,
		Filters:  fc.Filters,
		WriteKey: fc.WriteKey,
	}
}

func (pc ProcessorConfig) ToProcessor() loopback.Processor {
	ft, _ := core.ParseFeedType(pc.FeedType)
	return loopback.Processor{
		ID:           pc.ID,
		Channel:      pc.Channel,
		FeedType:     ft,
		TemplateType: pc.TemplateType,
		Contract:     pc.Contract,
		WriteKey:     pc.WriteKey,
	}
}

// ClientOptions maps the client, reconnect and log-independent sections onto
// feed client options. Dialer, Logger and Registerer are left to the caller.
func (c *Config) ClientOptions() feed.Options {
	return feed.Options{
		ClientID:          c.Client.ID,
		DisableValidation: !c.Client.ValidationEnabled(),
		CommandTimeout:    c.Client.CommandTimeout,
		HistoryLimit:      c.Client.HistoryLimit,
		Reconnect:         c.Reconnect.ToPolicy(),
	}
}
