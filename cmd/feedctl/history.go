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
	"time"

	"github.com/spf13/cobra"

	"github.com/wso2/api-platform/gateway/gateway-runtime/feed-client/pkg/core"
	"github.com/wso2/api-platform/gateway/gateway-runtime/feed-client/pkg/feed"
)

var (
	historyProcID int64
	historyLimit  int
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Print the latest messages of a processor feed",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := newSession()
		if err != nil {
			return err
		}
		defer s.close()

		ctx := cmd.Context()
		errs := make(chan error, 1)
		cfg := s.feedConfig(historyProcID)
		cfg.Listener = &feed.Callbacks{
			Error: func(_ *feed.Feed, err error) {
				select {
				case errs <- err:
				default:
				}
			},
		}
		f, err := s.openAndWait(ctx, cfg)
		if err != nil {
			return err
		}

		result := make(chan []core.Message, 1)
		f.History(historyLimit, time.Time{}, func(_ *feed.Feed, msgs []core.Message) {
			result <- msgs
		})
		select {
		case msgs := <-result:
			for _, m := range msgs {
				printJSON(cmd, m)
			}
			return nil
		case err := <-errs:
			return err
		case <-ctx.Done():
			return ctx.Err()
		}
	},
}

func init() {
	historyCmd.Flags().Int64Var(&historyProcID, "proc", 0, "processor id")
	historyCmd.Flags().IntVar(&historyLimit, "limit", 0, "number of messages, 0 for the configured default")
	_ = historyCmd.MarkFlagRequired("proc")
}
