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

	"github.com/google/uuid"
)

// LoadUUIDText parses the textual UUID form produced by DumpUUIDText.
//
// It is a loader step for adapters without native binary ids.
func LoadUUIDText(v any) (any, error) {
	var s string

	switch v := v.(type) {
	case string:
		s = v
	case []byte:
		s = string(v)
	default:
		return nil, fmt.Errorf("unexpected type %T", v)
	}

	u, err := uuid.Parse(s)
	if err != nil {
		return nil, err
	}

	return u, nil
}

// DumpUUIDText formats UUID in the canonical textual form (xxxxxxxx-xxxx-xxxx-xxxx-xxxxxxxxxxxx).
//
// It is a dumper step for adapters without native binary ids.
func DumpUUIDText(v any) (any, error) {
	u, ok := v.(uuid.UUID)
	if !ok {
		return nil, fmt.Errorf("unexpected type %T", v)
	}

	return u.String(), nil
}

// UUIDTextLoaders returns binary id loaders for adapters without native binary ids.
func UUIDTextLoaders() []Step {
	return []Step{Func(LoadUUIDText), Ref(BinaryID)}
}

// UUIDTextDumpers returns binary id dumpers for adapters without native binary ids.
func UUIDTextDumpers() []Step {
	return []Step{Ref(BinaryID), Func(DumpUUIDText)}
}
