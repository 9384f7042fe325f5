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
	"crypto/sha256"
	"encoding/hex"
	"os"
	"strings"

	"github.com/google/uuid"
)

// GenerateClientID returns the identifier a connection uses to address its
// reply destination on broker transports. A configured id wins; otherwise the
// id is derived from the host name plus a random suffix so that two clients on
// one host never share a reply destination.
func GenerateClientID(configured string) string {
	if id := strings.TrimSpace(configured); id != "" {
		return id
	}

	host, err := os.Hostname()
	if err != nil || host == "" {
		return uuid.New().String()
	}

	hash := sha256.Sum256([]byte(host))
	return hex.EncodeToString(hash[:])[:12] + "-" + uuid.New().String()[:8]
}
