// Copyright 2021 FerretDB Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package memory

import (
	"bytes"
	"cmp"
	"math"
	"reflect"
	"time"

	"github.com/google/uuid"
)

// normalize converts values to the canonical stored representation.
//
// Unsigned integers that do not fit into int64 are returned as is.
func normalize(v any) any {
	switch v := v.(type) {
	case int:
		return int64(v)
	case int32:
		return int64(v)
	case int16:
		return int64(v)
	case int8:
		return int64(v)
	case uint:
		if uint64(v) <= math.MaxInt64 {
			return int64(v)
		}

		return v
	case uint64:
		if v <= math.MaxInt64 {
			return int64(v)
		}

		return v
	case uint32:
		return int64(v)
	case uint16:
		return int64(v)
	case uint8:
		return int64(v)
	case float32:
		return float64(v)
	case time.Time:
		return v.UTC()
	case [16]byte:
		return uuid.UUID(v)
	default:
		return v
	}
}

// compareValues compares two non-nil values.
//
// It returns false if values are not comparable.
func compareValues(a, b any) (int, bool) {
	a, b = normalize(a), normalize(b)

	switch a := a.(type) {
	case int64:
		switch b := b.(type) {
		case int64:
			return cmp.Compare(a, b), true
		case float64:
			return cmp.Compare(float64(a), b), true
		}

	case float64:
		switch b := b.(type) {
		case int64:
			return cmp.Compare(a, float64(b)), true
		case float64:
			return cmp.Compare(a, b), true
		}

	case string:
		if b, ok := b.(string); ok {
			return cmp.Compare(a, b), true
		}

	case bool:
		if b, ok := b.(bool); ok {
			switch {
			case a == b:
				return 0, true
			case !a:
				return -1, true
			default:
				return 1, true
			}
		}

	case time.Time:
		if b, ok := b.(time.Time); ok {
			return a.Compare(b), true
		}

	case uuid.UUID:
		if b, ok := b.(uuid.UUID); ok {
			return bytes.Compare(a[:], b[:]), true
		}

	case []byte:
		if b, ok := b.([]byte); ok {
			return bytes.Compare(a, b), true
		}
	}

	return 0, false
}

// equalValues returns true if both values are equal.
//
// Nil is not equal to anything, including nil.
func equalValues(a, b any) bool {
	if a == nil || b == nil {
		return false
	}

	if c, ok := compareValues(a, b); ok {
		return c == 0
	}

	return reflect.DeepEqual(normalize(a), normalize(b))
}

// sortValues orders values for ORDER BY; nil sorts first.
func sortValues(a, b any) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}

	c, _ := compareValues(a, b)

	return c
}
