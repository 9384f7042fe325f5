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

// Package contract checks outbound messages against a feed's field contract
// and restores date fields on inbound ones.
package contract

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/wso2/api-platform/gateway/gateway-runtime/feed-client/pkg/core"
)

const (
	MsgNotJSON     = "Message contract not honored. Cannot parse message to JSON"
	MsgIncomplete  = "Message contract not honored. Message incomplete"
	msgFieldErrors = "Message contract not honored. Fields with errors : "
)

var ErrContractViolation = errors.New("message contract not honored")

type Reason int

const (
	ReasonNotJSON Reason = iota + 1
	ReasonIncomplete
	ReasonFields
)

// ValidationError is the single aggregate failure for one message.
type ValidationError struct {
	Reason Reason
	Fields []string
}

func (e *ValidationError) Error() string {
	switch e.Reason {
	case ReasonNotJSON:
		return MsgNotJSON
	case ReasonIncomplete:
		return MsgIncomplete
	default:
		return msgFieldErrors + strings.Join(e.Fields, ", ")
	}
}

func (e *ValidationError) Unwrap() error { return ErrContractViolation }

// Validator holds the process-wide validation toggle. Checks are enabled by
// default.
type Validator struct {
	disabled atomic.Bool
}

func NewValidator(enabled bool) *Validator {
	v := &Validator{}
	v.SetEnabled(enabled)
	return v
}

func (v *Validator) Enabled() bool { return !v.disabled.Load() }

func (v *Validator) SetEnabled(enabled bool) { v.disabled.Store(!enabled) }

// Prepare turns msg into a wire-ready message. With validation enabled the
// contract is applied: required fields first, then per-field coercion and
// bounds. Extra fields pass through. Date values are always written as epoch
// milliseconds.
func (v *Validator) Prepare(fields []core.FieldDescriptor, msg any) (core.Message, error) {
	m, err := ToMessage(msg)
	if err != nil {
		return nil, err
	}
	if v.Enabled() {
		if err := apply(fields, m); err != nil {
			return nil, err
		}
	}
	encodeDates(m)
	return m, nil
}

func apply(fields []core.FieldDescriptor, m core.Message) error {
	for _, fd := range fields {
		if !fd.Required {
			continue
		}
		if val, ok := m[fd.Name]; !ok || val == nil {
			return &ValidationError{Reason: ReasonIncomplete}
		}
	}

	var bad []string
	for _, fd := range fields {
		val, ok := m[fd.Name]
		if !ok || val == nil {
			continue
		}
		coerced, ok := Coerce(fd.Type, val)
		if !ok || !inRange(fd, coerced) {
			bad = append(bad, fd.Name)
			continue
		}
		m[fd.Name] = coerced
	}
	if len(bad) > 0 {
		return &ValidationError{Reason: ReasonFields, Fields: bad}
	}
	return nil
}

func inRange(fd core.FieldDescriptor, v any) bool {
	if fd.Type != core.FieldNumber {
		return true
	}
	f, ok := v.(float64)
	if !ok {
		return false
	}
	if fd.Min != nil && f < *fd.Min {
		return false
	}
	if fd.Max != nil && f > *fd.Max {
		return false
	}
	return true
}

func encodeDates(m core.Message) {
	for k, val := range m {
		switch t := val.(type) {
		case time.Time:
			m[k] = t.UnixMilli()
		case *time.Time:
			if t != nil {
				m[k] = t.UnixMilli()
			}
		}
	}
}

// ToMessage converts a caller value into a fresh message map. Text and raw
// JSON are parsed; other values go through a JSON round trip. Anything that
// does not yield a JSON object fails with ReasonNotJSON.
func ToMessage(msg any) (core.Message, error) {
	notJSON := &ValidationError{Reason: ReasonNotJSON}
	switch t := msg.(type) {
	case nil:
		return nil, notJSON
	case core.Message:
		return copyMessage(t), nil
	case map[string]any:
		return copyMessage(t), nil
	case string:
		return decodeObject([]byte(t))
	case []byte:
		return decodeObject(t)
	case json.RawMessage:
		return decodeObject(t)
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, notJSON
	}
	return decodeObject(data)
}

// ParsePayload decodes an inbound push body. The body may be a JSON object or
// a JSON string holding object text.
func ParsePayload(raw []byte) (core.Message, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var text string
		if err := json.Unmarshal(trimmed, &text); err != nil {
			return nil, fmt.Errorf("%w: %v", core.ErrMalformedFrame, err)
		}
		trimmed = []byte(text)
	}
	m, err := decodeObject(trimmed)
	if err != nil {
		return nil, fmt.Errorf("%w: payload is not a JSON object", core.ErrMalformedFrame)
	}
	return m, nil
}

// Rehydrate rewrites the named epoch millisecond fields of m into time.Time
// values. Numeric text is accepted. Absent or non-numeric fields are left
// untouched.
func Rehydrate(m core.Message, dateFields []string) core.Message {
	for _, name := range dateFields {
		val, ok := m[name]
		if !ok {
			continue
		}
		if s, isText := val.(string); isText {
			if ms, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64); err == nil {
				if ms, ok := inDateRange(ms); ok {
					m[name] = time.UnixMilli(ms)
				}
			}
			continue
		}
		if ms, ok := EpochMillis(val); ok {
			m[name] = time.UnixMilli(ms)
		}
	}
	return m
}

func decodeObject(data []byte) (core.Message, error) {
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil || m == nil {
		return nil, &ValidationError{Reason: ReasonNotJSON}
	}
	return core.Message(m), nil
}

func copyMessage(src map[string]any) core.Message {
	m := make(core.Message, len(src))
	for k, v := range src {
		m[k] = v
	}
	return m
}
