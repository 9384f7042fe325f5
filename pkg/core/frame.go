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

package core

import (
	"encoding/json"
	"fmt"
	"net/http"
)

type FrameType string

const (
	FrameCommand  FrameType = "command"
	FrameResponse FrameType = "response"
	FrameError    FrameType = "error"
	FramePush     FrameType = "push"
)

// Server command surface.
const (
	PathSessionCreate  = "/feed/session/create"
	PathSessionDelete  = "/feed/session/delete"
	PathMessageHistory = "/feed/message/history"
	PathMessageSend    = "/feed/message/send"
)

// MethodFor returns the request method used for a command path.
func MethodFor(path string) string {
	if path == PathMessageHistory {
		return http.MethodGet
	}
	return http.MethodPost
}

// Frame is the unit carried by every transport. Commands and their replies
// share a correlation token; pushes are addressed by feed key.
type Frame struct {
	Type     FrameType       `json:"type"`
	Token    string          `json:"token,omitempty"`
	ClientID string          `json:"clientId,omitempty"`
	Method   string          `json:"method,omitempty"`
	Path     string          `json:"path,omitempty"`
	Params   map[string]any  `json:"params,omitempty"`
	Result   json.RawMessage `json:"result,omitempty"`
	Error    string          `json:"error,omitempty"`
	FeedKey  string          `json:"feedKey,omitempty"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

func EncodeFrame(f Frame) ([]byte, error) {
	data, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	return data, nil
}

func DecodeFrame(data []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return Frame{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if f.Type == "" {
		return Frame{}, fmt.Errorf("%w: missing type", ErrMalformedFrame)
	}
	return f, nil
}

// DeliverFrame decodes one inbound transport message and hands it to rcv.
func DeliverFrame(rcv Receiver, data []byte) error {
	f, err := DecodeFrame(data)
	if err != nil {
		return err
	}
	rcv.Receive(f)
	return nil
}
