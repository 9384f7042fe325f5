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


package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/wso2/api-platform/gateway/gateway-runtime/feed-client/internal/logging"
	"github.com/wso2/api-platform/gateway/gateway-runtime/feed-client/internal/loopback"
	"github.com/wso2/api-platform/gateway/gateway-runtime/feed-client/pkg/config"
	"github.com/wso2/api-platform/gateway/gateway-runtime/feed-client/pkg/core"
	"github.com/wso2/api-platform/gateway/gateway-runtime/feed-client/pkg/feed"
	"github.com/wso2/api-platform/gateway/gateway-runtime/feed-client/pkg/transport"
)

const defaultConfigPath = "/etc/feed-client/config.yaml"

// dialGrace is added to the command timeout when waiting for a feed to open.
// A failed dial raises no event, so the wait must be bounded.
var dialGrace = 10 * time.Second

var errOpenTimeout = errors.New("no answer from the server")

var (
	configPath    string
	metricsAddr   string
	transportName string
)

var rootCmd = &cobra.Command{
	Use:           "feedctl",
	Short:         "Open, publish to and query processor feeds",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	def := os.Getenv("CONFIG_PATH")
	if def == "" {
		def = defaultConfigPath
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", def, "path to the client config file")
	rootCmd.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", "", "serve prometheus metrics on this address")
	rootCmd.PersistentFlags().StringVar(&transportName, "transport", "", "named transport to use instead of the primary one")

	rootCmd.AddCommand(listenCmd, sendCmd, historyCmd)
}

// session is the client plus everything built from the config to run it.
type session struct {
	cfg     *config.Config
	logger  *slog.Logger
	level   *slog.LevelVar
	client  *feed.Client
	metrics *http.Server
}

func newSession() (*session, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	level := new(slog.LevelVar)
	level.Set(logging.ParseLevel(cfg.Log.Level))
	logger := logging.NewLogger(cfg.Log.Format, level)

	sections := cfg.TransportSections()
	var server *loopback.Server
	for _, tc := range sections {
		if tc.Type == transport.TypeMemory {
			server = loopback.NewServer(logger.With("component", "loopback"))
			for _, pc := range cfg.Processors {
				server.AddProcessor(pc.ToProcessor())
			}
			break
		}
	}

	clientID := core.GenerateClientID(cfg.Client.ID)
	transports, err := transport.BuildAll(sections, clientID, server, logger)
	if err != nil {
		return nil, fmt.Errorf("build transports: %w", err)
	}
	name := transportName
	if name == "" {
		name = transport.DialerName(cfg.Transport)
	}
	dialer, err := transports.Get(name)
	if err != nil {
		return nil, fmt.Errorf("%w (available: %s)", err, strings.Join(transports.Names(), ", "))
	}

	opts := cfg.ClientOptions()
	opts.ClientID = clientID
	opts.Dialer = dialer
	opts.Logger = logger

	s := &session{cfg: cfg, logger: logger, level: level}
	if metricsAddr != "" {
		reg := prometheus.NewRegistry()
		opts.Registerer = reg
		s.metrics = serveMetrics(metricsAddr, reg, logger)
	}

	client, err := feed.NewClient(opts)
	if err != nil {
		s.stopMetrics()
		return nil, err
	}
	s.client = client
	return s, nil
}

func serveMetrics(addr string, reg *prometheus.Registry, logger *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "addr", addr, "error", err)
		}
	}()
	logger.Info("serving metrics", "addr", addr)
	return srv
}

// watch applies runtime-safe settings from config changes until ctx ends.
func (s *session) watch(ctx context.Context) {
	w := config.NewWatcher(configPath, func(cfg *config.Config) {
		s.level.Set(logging.ParseLevel(cfg.Log.Level))
		s.client.SetValidation(cfg.Client.ValidationEnabled())
	}, s.logger)
	go w.Watch(ctx)
}

func (s *session) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.client.Close(ctx); err != nil {
		s.logger.Warn("client close", "error", err)
	}
	s.stopMetrics()
}

func (s *session) stopMetrics() {
	if s.metrics == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = s.metrics.Shutdown(ctx)
}

// openAndWait opens one feed and blocks until the server answers or the
// command timeout plus dialGrace elapses.
func (s *session) openAndWait(ctx context.Context, cfg feed.Config) (*feed.Feed, error) {
	wait := s.cfg.Client.CommandTimeout + dialGrace
	ctx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()

	result := make(chan error, 1)
	cfg.Callbacks = &feed.Callbacks{
		Open: func(*feed.Feed) {
			select {
			case result <- nil:
			default:
			}
		},
		Error: func(_ *feed.Feed, err error) {
			select {
			case result <- err:
			default:
			}
		},
	}
	f, err := s.client.OpenFeed(cfg)
	if err != nil {
		return nil, err
	}
	select {
	case err := <-result:
		if err != nil {
			return nil, fmt.Errorf("open feed %d: %w", cfg.ProcID, err)
		}
		return f, nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			s.logger.Error("feed did not open, check the transport", "proc_id", cfg.ProcID, "waited", wait)
			return nil, fmt.Errorf("open feed %d: %w within %s", cfg.ProcID, errOpenTimeout, wait)
		}
		return nil, ctx.Err()
	}
}

// feedConfig returns the configured feed for procID, or a bare one.
func (s *session) feedConfig(procID int64) feed.Config {
	for _, fc := range s.cfg.Feeds {
		if fc.ProcID == procID {
			return fc.ToFeedConfig()
		}
	}
	return feed.Config{ProcID: procID}
}

func printJSON(cmd *cobra.Command, v any) {
	enc := json.NewEncoder(cmd.OutOrStdout())
	if err := enc.Encode(v); err != nil {
		fmt.Fprintln(cmd.ErrOrStderr(), "encode:", err)
	}
}
