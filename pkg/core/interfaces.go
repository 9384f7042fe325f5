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

import "context"

// Receiver is handed to a Dialer and is fed every inbound frame.
// Disconnected is called at most once, when the transport is lost
// without the client having closed it.
type Receiver interface {
	Receive(frame Frame)
	Disconnected(err error)
}

type Connection interface {
	Send(ctx context.Context, frame Frame) error
	Close() error
}

type Dialer interface {
	Name() string
	Type() string
	Dial(ctx context.Context, rcv Receiver) (Connection, error)
}
