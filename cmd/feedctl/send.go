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
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wso2/api-platform/gateway/gateway-runtime/feed-client/pkg/core"
	"github.com/wso2/api-platform/gateway/gateway-runtime/feed-client/pkg/feed"
)

var (
	sendProcID int64
	sendMsg    string
)

var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Publish one message to a processor feed",
	RunE: func(cmd *cobra.Command, args []string) error {
		var msg map[string]any
		if err := json.Unmarshal([]byte(sendMsg), &msg); err != nil {
			return fmt.Errorf("--msg must be a JSON object: %w", err)
		}

		s, err := newSession()
		if err != nil {
			return err
		}
		defer s.close()

		ctx := cmd.Context()
		done := make(chan error, 1)
		cfg := s.feedConfig(sendProcID)
		cfg.Listener = &feed.Callbacks{
			MessageSent: func(_ *feed.Feed, sent core.Message) {
				printJSON(cmd, sent)
				select {
				case done <- nil:
				default:
				}
			},
			Error: func(_ *feed.Feed, err error) {
				select {
				case done <- err:
				default:
				}
			},
		}
		f, err := s.openAndWait(ctx, cfg)
		if err != nil {
			return err
		}
		if f.Settings().FeedType == core.FeedTypeOutput {
			return errors.New("cannot send on an output feed")
		}

		f.Send(msg)
		select {
		case err := <-done:
			return err
		case <-ctx.Done():
			return ctx.Err()
		}
	},
}

func init() {
	sendCmd.Flags().Int64Var(&sendProcID, "proc", 0, "processor id")
	sendCmd.Flags().StringVar(&sendMsg, "msg", "", "message as a JSON object")
	_ = sendCmd.MarkFlagRequired("proc")
	_ = sendCmd.MarkFlagRequired("msg")
}
