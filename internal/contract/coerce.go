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

package contract

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/wso2/api-platform/gateway/gateway-runtime/feed-client/pkg/core"
)

type coerceFunc func(v any) (any, bool)

// coercers maps each declared field type to its loose conversion. Numbers
// become float64, dates become epoch milliseconds as int64.
var coercers = map[core.FieldType]coerceFunc{
	core.FieldString:  toString,
	core.FieldNumber:  toNumber,
	core.FieldBoolean: toBoolean,
	core.FieldDate:    toDate,
}

// Coerce converts v toward the declared field type. The second result is
// false when v cannot represent that type.
func Coerce(ft core.FieldType, v any) (any, bool) {
	fn, ok := coercers[ft]
	if !ok {
		return nil, false
	}
	return fn(v)
}

func toString(v any) (any, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case bool:
		return strconv.FormatBool(t), true
	case json.Number:
		return t.String(), true
	}
	if i, ok := asInt(v); ok {
		return strconv.FormatInt(i, 10), true
	}
	if f, ok := asFloat(v); ok {
		return strconv.FormatFloat(f, 'f', -1, 64), true
	}
	return nil, false
}

func toNumber(v any) (any, bool) {
	if s, ok := v.(string); ok {
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, false
		}
		return f, true
	}
	if f, ok := asFloat(v); ok {
		return f, true
	}
	return nil, false
}

func toBoolean(v any) (any, bool) {
	b, ok := v.(bool)
	return b, ok
}

// maxDateMillis bounds epoch milliseconds to the range a JavaScript Date can
// hold, 100,000,000 days either side of the epoch.
const maxDateMillis = 8.64e15

func toDate(v any) (any, bool) {
	ms, ok := dateMillis(v)
	if !ok {
		return nil, false
	}
	return ms, true
}

func dateMillis(v any) (int64, bool) {
	switch t := v.(type) {
	case time.Time:
		return inDateRange(t.UnixMilli())
	case *time.Time:
		if t == nil {
			return 0, false
		}
		return inDateRange(t.UnixMilli())
	case string:
		s := strings.TrimSpace(t)
		if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
			return inDateRange(ms)
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return wholeMillis(f)
		}
		if ts, err := time.Parse(time.RFC3339Nano, s); err == nil {
			return inDateRange(ts.UnixMilli())
		}
		return 0, false
	}
	return EpochMillis(v)
}

// EpochMillis reads an epoch millisecond value from a decoded JSON number or
// a native integer. Values outside the Date range are rejected.
func EpochMillis(v any) (int64, bool) {
	if i, ok := asInt(v); ok {
		return inDateRange(i)
	}
	if f, ok := asFloat(v); ok {
		return wholeMillis(f)
	}
	return 0, false
}

func wholeMillis(f float64) (int64, bool) {
	if !isWhole(f) || math.Abs(f) > maxDateMillis {
		return 0, false
	}
	return int64(f), true
}

func inDateRange(ms int64) (int64, bool) {
	if ms > maxDateMillis || ms < -maxDateMillis {
		return 0, false
	}
	return ms, true
}

func asInt(v any) (int64, bool) {
	switch t := v.(type) {
	case int:
		return int64(t), true
	case int8:
		return int64(t), true
	case int16:
		return int64(t), true
	case int32:
		return int64(t), true
	case int64:
		return t, true
	case uint:
		return int64(t), true
	case uint8:
		return int64(t), true
	case uint16:
		return int64(t), true
	case uint32:
		return int64(t), true
	case uint64:
		if t > math.MaxInt64 {
			return 0, false
		}
		return int64(t), true
	case json.Number:
		i, err := t.Int64()
		return i, err == nil
	}
	return 0, false
}

// asFloat accepts native numeric kinds only; booleans and text are not numbers.
func asFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, !math.IsNaN(t) && !math.IsInf(t, 0)
	case float32:
		f := float64(t)
		return f, !math.IsNaN(f) && !math.IsInf(f, 0)
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	}
	if i, ok := asInt(v); ok {
		return float64(i), true
	}
	return 0, false
}

func isWhole(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0) && f == math.Trunc(f)
}
