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

package mongodb

import (
	"fmt"
	"reflect"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/FerretDB/adapters/internal/coerce"
)

// Loaders implements [coerce.Pipeline].
func (a *mongoAdapter) Loaders(p coerce.Primitive, t coerce.Type) []coerce.Step {
	return []coerce.Step{coerce.Func(loadBSON), coerce.Ref(t)}
}

// Dumpers implements [coerce.Pipeline].
func (a *mongoAdapter) Dumpers(p coerce.Primitive, t coerce.Type) []coerce.Step {
	switch p {
	case coerce.PrimitiveBinaryID:
		return []coerce.Step{coerce.Ref(t), coerce.Func(dumpBinaryID)}
	default:
		return coerce.DefaultDumpers(p, t)
	}
}

// dumpBinaryID converts UUID to BSON binary subtype 4.
func dumpBinaryID(v any) (any, error) {
	u, ok := v.(uuid.UUID)
	if !ok {
		return nil, fmt.Errorf("unexpected type %T", v)
	}

	return primitive.Binary{Subtype: bson.TypeBinaryUUID, Data: u[:]}, nil
}

// loadBSON converts decoded BSON values to plain Go values:
// documents to maps, arrays to slices, binaries to byte slices, datetimes to time.Time.
func loadBSON(v any) (any, error) {
	switch v := v.(type) {
	case primitive.M:
		res := make(map[string]any, len(v))
		for k, e := range v {
			var err error
			if res[k], err = loadBSON(e); err != nil {
				return nil, err
			}
		}

		return res, nil

	case primitive.D:
		res := make(map[string]any, len(v))
		for _, e := range v {
			var err error
			if res[e.Key], err = loadBSON(e.Value); err != nil {
				return nil, err
			}
		}

		return res, nil

	case primitive.A:
		res := make([]any, len(v))
		for i, e := range v {
			var err error
			if res[i], err = loadBSON(e); err != nil {
				return nil, err
			}
		}

		return res, nil

	case primitive.Binary:
		return v.Data, nil

	case primitive.DateTime:
		return v.Time().UTC(), nil

	case int32:
		return int64(v), nil

	default:
		return v, nil
	}
}

// normalize converts domain values passed as fields, filters, or parameters
// into values stored by MongoDB.
func normalize(v any) any {
	switch v := v.(type) {
	case uuid.UUID:
		return primitive.Binary{Subtype: bson.TypeBinaryUUID, Data: v[:]}
	case time.Time:
		return v.UTC()
	case map[string]any:
		res := make(map[string]any, len(v))
		for k, e := range v {
			res[k] = normalize(e)
		}

		return res
	case []any:
		res := make([]any, len(v))
		for i, e := range v {
			res[i] = normalize(e)
		}

		return res
	default:
		return v
	}
}

// toList converts slice parameter of IN to a list of values.
func toList(v any) ([]any, error) {
	if l, ok := v.([]any); ok {
		return l, nil
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice || rv.Type().Elem().Kind() == reflect.Uint8 {
		return nil, fmt.Errorf("IN parameter must be a slice, got %T", v)
	}

	res := make([]any, rv.Len())
	for i := range res {
		res[i] = rv.Index(i).Interface()
	}

	return res, nil
}

// toInt64 converts limit or offset value to int64.
func toInt64(v any) (int64, error) {
	var res int64

	switch v := v.(type) {
	case int:
		res = int64(v)
	case int32:
		res = int64(v)
	case int64:
		res = v
	default:
		return 0, fmt.Errorf("expected integer, got %T", v)
	}

	if res < 0 {
		return 0, fmt.Errorf("expected non-negative integer, got %d", res)
	}

	return res, nil
}
