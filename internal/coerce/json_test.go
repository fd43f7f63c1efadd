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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeJSON(t *testing.T) {
	t.Parallel()

	for name, tc := range map[string]struct {
		in       string
		expected any
	}{
		"Int": {
			in:       `{"n":1}`,
			expected: map[string]any{"n": int64(1)},
		},
		"LargeInt": {
			in:       `[9007199254740993]`,
			expected: []any{int64(9007199254740993)},
		},
		"Float": {
			in:       `{"f":1.5,"e":1e3}`,
			expected: map[string]any{"f": 1.5, "e": float64(1000)},
		},
		"Overflow": {
			in:       `[18446744073709551616]`,
			expected: []any{float64(18446744073709551616)},
		},
		"Nested": {
			in:       `{"a":[{"b":-2}],"s":"x","t":true,"z":null}`,
			expected: map[string]any{"a": []any{map[string]any{"b": int64(-2)}}, "s": "x", "t": true, "z": nil},
		},
	} {
		name, tc := name, tc
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			actual, err := DecodeJSON([]byte(tc.in))
			require.NoError(t, err)
			assert.Equal(t, tc.expected, actual)
		})
	}

	_, err := DecodeJSON([]byte(`{} {}`))
	require.Error(t, err)

	_, err = DecodeJSON([]byte(`{`))
	require.Error(t, err)
}
