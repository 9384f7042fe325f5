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

import "errors"

var (
	ErrNoConnection      = errors.New("no connection available")
	ErrConnectionClosed  = errors.New("connection closed")
	ErrConnectionLost    = errors.New("connection lost")
	ErrCommandTimeout    = errors.New("command timed out")
	ErrCommandRejected   = errors.New("command rejected by server")
	ErrMalformedFrame    = errors.New("malformed frame")
	ErrClientClosed      = errors.New("client closed")
	ErrUnknownTransport  = errors.New("unknown transport type")
	ErrMissingTransport  = errors.New("missing transport setting")
	ErrDialerNotFound    = errors.New("dialer not found")
	ErrUnknownFeedKey    = errors.New("unknown feed key")
	ErrWriteKeyRequired  = errors.New("write key required")
	ErrProcessorNotFound = errors.New("processor not found")
)
