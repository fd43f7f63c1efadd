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

package sqldb

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/FerretDB/adapters/internal/coerce"
)

// textTimeLayouts are accepted when datetime values are loaded from text.
var textTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05.999999999-07:00",
}

// Loaders implements [coerce.Pipeline].
func (a *sqlAdapter) Loaders(p coerce.Primitive, t coerce.Type) []coerce.Step {
	switch p {
	case coerce.PrimitiveBinaryID:
		return coerce.UUIDTextLoaders()
	case coerce.PrimitiveID, coerce.PrimitiveInteger, coerce.PrimitiveFloat, coerce.PrimitiveBoolean:
		return []coerce.Step{coerce.Func(loadNumber), coerce.Ref(t)}
	case coerce.PrimitiveMap, coerce.PrimitiveArray:
		return []coerce.Step{coerce.Func(loadJSON), coerce.Ref(t)}
	case coerce.PrimitiveUTCDateTime:
		return []coerce.Step{coerce.Func(loadTime), coerce.Ref(t)}
	default:
		return coerce.DefaultLoaders(p, t)
	}
}

// Dumpers implements [coerce.Pipeline].
func (a *sqlAdapter) Dumpers(p coerce.Primitive, t coerce.Type) []coerce.Step {
	switch p {
	case coerce.PrimitiveBinaryID:
		return coerce.UUIDTextDumpers()
	case coerce.PrimitiveMap, coerce.PrimitiveArray:
		return []coerce.Step{coerce.Ref(t), coerce.Func(dumpJSON)}
	case coerce.PrimitiveUTCDateTime:
		if a.drv.textTime {
			return []coerce.Step{coerce.Ref(t), coerce.Func(dumpTimeText)}
		}

		return coerce.DefaultDumpers(p, t)
	default:
		return coerce.DefaultDumpers(p, t)
	}
}

// loadNumber parses numbers returned as text by the MySQL text protocol.
//
// Other values are returned as is.
func loadNumber(v any) (any, error) {
	b, ok := v.([]byte)
	if !ok {
		return v, nil
	}

	s := string(b)

	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i, nil
	}

	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid number %q", s)
	}

	return f, nil
}

// loadJSON decodes JSON text, keeping integers as int64.
func loadJSON(v any) (any, error) {
	var b []byte

	switch v := v.(type) {
	case string:
		b = []byte(v)
	case []byte:
		b = v
	default:
		return nil, fmt.Errorf("unexpected type %T", v)
	}

	return coerce.DecodeJSON(b)
}

// dumpJSON encodes value as JSON text.
func dumpJSON(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}

	return string(b), nil
}

// loadTime parses datetime text; time.Time values are returned as is.
func loadTime(v any) (any, error) {
	var s string

	switch v := v.(type) {
	case time.Time:
		return v, nil
	case string:
		s = v
	case []byte:
		s = string(v)
	default:
		return nil, fmt.Errorf("unexpected type %T", v)
	}

	for _, layout := range textTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}

	return nil, fmt.Errorf("invalid datetime %q", s)
}

// dumpTimeText formats datetime as RFC 3339 text in UTC.
func dumpTimeText(v any) (any, error) {
	t, ok := v.(time.Time)
	if !ok {
		return nil, fmt.Errorf("unexpected type %T", v)
	}

	return t.UTC().Format(time.RFC3339Nano), nil
}

// normalize converts domain values passed as fields, filters, or parameters
// into values accepted by the driver.
func (a *sqlAdapter) normalize(v any) (any, error) {
	switch v := v.(type) {
	case uuid.UUID:
		return v.String(), nil
	case map[string]any, []any:
		return dumpJSON(v)
	case time.Time:
		if a.drv.textTime {
			return dumpTimeText(v)
		}

		return v.UTC(), nil
	default:
		return v, nil
	}
}

// normalizeAll normalizes all values.
func (a *sqlAdapter) normalizeAll(values []any) ([]any, error) {
	res := make([]any, len(values))

	for i, v := range values {
		var err error
		if res[i], err = a.normalize(v); err != nil {
			return nil, err
		}
	}

	return res, nil
}
