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
	"strings"
)

type FeedState string

const (
	FeedStateClosed FeedState = "closed"
	FeedStateOpen   FeedState = "open"
	FeedStateError  FeedState = "error"
)

// FeedType is the direction of a feed relative to its processor.
type FeedType string

const (
	FeedTypeInput  FeedType = "IN"
	FeedTypeOutput FeedType = "OUT"
	FeedTypeThru   FeedType = "THRU"
)

type FieldType string

const (
	FieldString  FieldType = "S"
	FieldNumber  FieldType = "N"
	FieldBoolean FieldType = "B"
	FieldDate    FieldType = "D"
)

// ParseFieldType accepts both the single letter wire codes and their long names.
func ParseFieldType(s string) (FieldType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "s", "string":
		return FieldString, nil
	case "n", "number":
		return FieldNumber, nil
	case "b", "boolean", "bool":
		return FieldBoolean, nil
	case "d", "date":
		return FieldDate, nil
	default:
		return "", fmt.Errorf("unknown field type %q", s)
	}
}

func (t *FieldType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	ft, err := ParseFieldType(s)
	if err != nil {
		return err
	}
	*t = ft
	return nil
}

func (t *FieldType) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	ft, err := ParseFieldType(s)
	if err != nil {
		return err
	}
	*t = ft
	return nil
}

// FieldDescriptor declares one field of a feed's message contract.
type FieldDescriptor struct {
	Name     string    `json:"fieldName" yaml:"name"`
	Type     FieldType `json:"fieldType" yaml:"type"`
	Required bool      `json:"required" yaml:"required"`
	Min      *float64  `json:"min,omitempty" yaml:"min,omitempty"`
	Max      *float64  `json:"max,omitempty" yaml:"max,omitempty"`
}

// FeedSettings is the settings object exchanged with the server on
// session create. The server's copy is authoritative once a feed is open.
type FeedSettings struct {
	State            FeedState         `json:"state"`
	FeedKey          string            `json:"feedKey,omitempty"`
	ProcID           int64             `json:"procId"`
	Filters          map[string]any    `json:"filters,omitempty"`
	FeedType         FeedType          `json:"feedType,omitempty"`
	TemplateType     string            `json:"templateType,omitempty"`
	ActiveUserFields []string          `json:"activeUserFields,omitempty"`
	MsgContract      []FieldDescriptor `json:"msgContract,omitempty"`
	ActiveUserCycle  int               `json:"activeUserCycle,omitempty"`
	ActiveUserFlag   bool              `json:"activeUserFlag,omitempty"`
	GoInactiveTime   int               `json:"goInactiveTime,omitempty"`
}

// Clone copies the settings so that callers cannot mutate a feed's snapshot.
func (s FeedSettings) Clone() FeedSettings {
	cp := s
	if s.Filters != nil {
		cp.Filters = make(map[string]any, len(s.Filters))
		for k, v := range s.Filters {
			cp.Filters[k] = v
		}
	}
	if s.ActiveUserFields != nil {
		cp.ActiveUserFields = append([]string(nil), s.ActiveUserFields...)
	}
	if s.MsgContract != nil {
		cp.MsgContract = append([]FieldDescriptor(nil), s.MsgContract...)
	}
	return cp
}

// DateFields lists the date typed contract fields of an output feed.
// Other feed types never rehydrate dates and return nil.
func (s FeedSettings) DateFields() []string {
	if s.FeedType != FeedTypeOutput {
		return nil
	}
	var fields []string
	for _, fd := range s.MsgContract {
		if fd.Type == FieldDate {
			fields = append(fields, fd.Name)
		}
	}
	return fields
}

// Message is a decoded feed message keyed by field name.
type Message map[string]any

func ParseFeedType(s string) (FeedType, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "IN", "INPUT":
		return FeedTypeInput, nil
	case "OUT", "OUTPUT":
		return FeedTypeOutput, nil
	case "", "THRU":
		return FeedTypeThru, nil
	default:
		return "", fmt.Errorf("unknown feed type %q", s)
	}
}
