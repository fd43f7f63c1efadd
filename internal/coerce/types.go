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

package coerce

import (
	"fmt"
	"math"
	"reflect"
	"time"

	"github.com/google/uuid"
)

// Built-in types.
var (
	ID          Type = idType{}
	BinaryID    Type = binaryIDType{}
	Integer     Type = integerType{}
	Float       Type = floatType{}
	Boolean     Type = booleanType{}
	String      Type = stringType{}
	Binary      Type = binaryType{}
	Map         Type = mapType{}
	UTCDateTime Type = utcDateTimeType{}
)

// idType is an integer primary key.
type idType struct{}

func (idType) Name() string            { return "id" }
func (idType) Primitive() Primitive    { return PrimitiveID }
func (idType) Load(v any) (any, error) { return toInt64(v) }
func (idType) Dump(v any) (any, error) { return toInt64(v) }

// integerType is int64.
type integerType struct{}

func (integerType) Name() string            { return "integer" }
func (integerType) Primitive() Primitive    { return PrimitiveInteger }
func (integerType) Load(v any) (any, error) { return toInt64(v) }
func (integerType) Dump(v any) (any, error) { return toInt64(v) }

// binaryIDType is a UUID primary key.
//
// Domain values are uuid.UUID.
// It accepts 16-byte slices and arrays, and textual UUIDs.
type binaryIDType struct{}

func (binaryIDType) Name() string         { return "binary_id" }
func (binaryIDType) Primitive() Primitive { return PrimitiveBinaryID }

func (binaryIDType) Load(v any) (any, error) {
	switch v := v.(type) {
	case uuid.UUID:
		return v, nil
	case [16]byte:
		return uuid.UUID(v), nil
	case []byte:
		return uuid.FromBytes(v)
	case string:
		return uuid.Parse(v)
	default:
		return nil, fmt.Errorf("unexpected type %T", v)
	}
}

func (t binaryIDType) Dump(v any) (any, error) {
	return t.Load(v)
}

// floatType is float64.
type floatType struct{}

func (floatType) Name() string         { return "float" }
func (floatType) Primitive() Primitive { return PrimitiveFloat }

func (floatType) Load(v any) (any, error) {
	switch v := v.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	}

	i, err := toInt64(v)
	if err != nil {
		return nil, err
	}

	return float64(i), nil
}

func (t floatType) Dump(v any) (any, error) {
	return t.Load(v)
}

// booleanType is bool.
//
// Integers 0 and 1 are loaded as false and true.
type booleanType struct{}

func (booleanType) Name() string         { return "boolean" }
func (booleanType) Primitive() Primitive { return PrimitiveBoolean }

func (booleanType) Load(v any) (any, error) {
	if b, ok := v.(bool); ok {
		return b, nil
	}

	i, err := toInt64(v)
	if err != nil {
		return nil, err
	}

	switch i {
	case 0:
		return false, nil
	case 1:
		return true, nil
	default:
		return nil, fmt.Errorf("unexpected boolean value %d", i)
	}
}

func (booleanType) Dump(v any) (any, error) {
	b, ok := v.(bool)
	if !ok {
		return nil, fmt.Errorf("unexpected type %T", v)
	}

	return b, nil
}

// stringType is string.
type stringType struct{}

func (stringType) Name() string         { return "string" }
func (stringType) Primitive() Primitive { return PrimitiveString }

func (stringType) Load(v any) (any, error) {
	switch v := v.(type) {
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	default:
		return nil, fmt.Errorf("unexpected type %T", v)
	}
}

func (stringType) Dump(v any) (any, error) {
	s, ok := v.(string)
	if !ok {
		return nil, fmt.Errorf("unexpected type %T", v)
	}

	return s, nil
}

// binaryType is []byte.
type binaryType struct{}

func (binaryType) Name() string         { return "binary" }
func (binaryType) Primitive() Primitive { return PrimitiveBinary }

func (binaryType) Load(v any) (any, error) {
	switch v := v.(type) {
	case []byte:
		return append([]byte{}, v...), nil
	case string:
		return []byte(v), nil
	default:
		return nil, fmt.Errorf("unexpected type %T", v)
	}
}

func (binaryType) Dump(v any) (any, error) {
	b, ok := v.([]byte)
	if !ok {
		return nil, fmt.Errorf("unexpected type %T", v)
	}

	return b, nil
}

// mapType is map[string]any.
type mapType struct{}

func (mapType) Name() string         { return "map" }
func (mapType) Primitive() Primitive { return PrimitiveMap }

func (mapType) Load(v any) (any, error) {
	m, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("unexpected type %T", v)
	}

	return m, nil
}

func (t mapType) Dump(v any) (any, error) {
	return t.Load(v)
}

// utcDateTimeType is time.Time in UTC.
type utcDateTimeType struct{}

func (utcDateTimeType) Name() string         { return "utc_datetime" }
func (utcDateTimeType) Primitive() Primitive { return PrimitiveUTCDateTime }

func (utcDateTimeType) Load(v any) (any, error) {
	t, ok := v.(time.Time)
	if !ok {
		return nil, fmt.Errorf("unexpected type %T", v)
	}

	return t.UTC(), nil
}

func (t utcDateTimeType) Dump(v any) (any, error) {
	return t.Load(v)
}

// Array is a list of values of the element type.
//
// Domain values are []any.
type Array struct {
	Elem Type
}

// Name implements [Type].
func (a Array) Name() string {
	return "array<" + a.Elem.Name() + ">"
}

// Primitive implements [Type].
func (Array) Primitive() Primitive {
	return PrimitiveArray
}

// Load implements [Type] with default clauses for elements.
func (a Array) Load(v any) (any, error) {
	return a.LoadWith(DefaultPipeline{}, v)
}

// Dump implements [Type] with default clauses for elements.
func (a Array) Dump(v any) (any, error) {
	return a.DumpWith(DefaultPipeline{}, v)
}

// LoadWith implements [Nested].
func (a Array) LoadWith(p Pipeline, v any) (any, error) {
	return a.each(v, func(el any) (any, error) { return Load(p, a.Elem, el) })
}

// DumpWith implements [Nested].
func (a Array) DumpWith(p Pipeline, v any) (any, error) {
	return a.each(v, func(el any) (any, error) { return Dump(p, a.Elem, el) })
}

// each applies f to every element of slice v.
func (a Array) each(v any, f func(any) (any, error)) (any, error) {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, fmt.Errorf("unexpected type %T", v)
	}

	// []byte is binary, not an array of integers
	if _, ok := v.([]byte); ok {
		return nil, fmt.Errorf("unexpected type %T", v)
	}

	res := make([]any, rv.Len())

	for i := range res {
		el, err := f(rv.Index(i).Interface())
		if err != nil {
			return nil, err
		}

		res[i] = el
	}

	return res, nil
}

// toInt64 converts integer values (and integral floats) to int64.
func toInt64(v any) (int64, error) {
	switch v := v.(type) {
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case int16:
		return int64(v), nil
	case int8:
		return int64(v), nil
	case uint32:
		return int64(v), nil
	case uint16:
		return int64(v), nil
	case uint8:
		return int64(v), nil
	case uint:
		if uint64(v) > math.MaxInt64 {
			return 0, fmt.Errorf("value %d overflows int64", v)
		}

		return int64(v), nil
	case uint64:
		if v > math.MaxInt64 {
			return 0, fmt.Errorf("value %d overflows int64", v)
		}

		return int64(v), nil
	case float64:
		if v != math.Trunc(v) || v < math.MinInt64 || v >= math.MaxInt64 {
			return 0, fmt.Errorf("value %v is not an integer", v)
		}

		return int64(v), nil
	default:
		return 0, fmt.Errorf("unexpected type %T", v)
	}
}

// check interfaces
var (
	_ Nested = Array{}
)
