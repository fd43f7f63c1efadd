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

// RowProcessor returns a function that loads a single selected column value through the pipeline.
//
// Callers adapt it to their row processor signature.
func RowProcessor(p Pipeline) func(raw any, t Type) (any, error) {
	return func(raw any, t Type) (any, error) {
		return Load(p, t, raw)
	}
}

// DumpAll dumps every value of the row through the pipeline.
//
// Types and values must have the same length.
// The first failure is returned.
func DumpAll(p Pipeline, types []Type, values []any) ([]any, error) {
	res := make([]any, len(values))

	for i, v := range values {
		d, err := Dump(p, types[i], v)
		if err != nil {
			return nil, err
		}

		res[i] = d
	}

	return res, nil
}
