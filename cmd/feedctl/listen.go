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
	"errors"

	"github.com/spf13/cobra"

	"github.com/wso2/api-platform/gateway/gateway-runtime/feed-client/pkg/core"
	"github.com/wso2/api-platform/gateway/gateway-runtime/feed-client/pkg/feed"
)

var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Open every configured feed and print its messages",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := newSession()
		if err != nil {
			return err
		}
		defer s.close()

		if len(s.cfg.Feeds) == 0 {
			return errors.New("no feeds configured")
		}

		ctx := cmd.Context()
		s.watch(ctx)

		printer := &feed.Callbacks{
			Message: func(f *feed.Feed, msg core.Message) {
				printJSON(cmd, map[string]any{"procId": f.ProcID(), "feedKey": f.FeedKey(), "msg": msg})
			},
			Close: func(f *feed.Feed) {
				s.logger.Warn("feed closed", "proc_id", f.ProcID())
			},
		}
		for _, fc := range s.cfg.Feeds {
			cfg := fc.ToFeedConfig()
			cfg.Listener = printer
			f, err := s.openAndWait(ctx, cfg)
			if err != nil {
				return err
			}
			s.logger.Info("listening", "proc_id", f.ProcID(), "feed_key", f.FeedKey())
		}

		<-ctx.Done()
		s.logger.Info("shutting down")
		return nil
	},
}
