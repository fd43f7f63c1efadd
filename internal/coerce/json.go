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
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// DecodeJSON decodes JSON text, preserving integers.
//
// Integral numbers that fit into int64 are returned as int64, other numbers as float64.
// Objects are returned as map[string]any, arrays as []any.
func DecodeJSON(b []byte) (any, error) {
	d := json.NewDecoder(bytes.NewReader(b))
	d.UseNumber()

	var v any
	if err := d.Decode(&v); err != nil {
		return nil, err
	}

	if _, err := d.Token(); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("unexpected data after JSON value")
	}

	return fromJSONNumbers(v)
}

// fromJSONNumbers recursively replaces json.Number values.
func fromJSONNumbers(v any) (any, error) {
	switch v := v.(type) {
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return i, nil
		}

		f, err := v.Float64()
		if err != nil {
			return nil, err
		}

		return f, nil

	case map[string]any:
		for k, e := range v {
			n, err := fromJSONNumbers(e)
			if err != nil {
				return nil, err
			}

			v[k] = n
		}

		return v, nil

	case []any:
		for i, e := range v {
			n, err := fromJSONNumbers(e)
			if err != nil {
				return nil, err
			}

			v[i] = n
		}

		return v, nil

	default:
		return v, nil
	}
}
