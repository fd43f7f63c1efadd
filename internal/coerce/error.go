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
)

// Error is returned when a coercion step fails.
//
// It aborts the processing of a single value only;
// the caller decides whether that fails the whole operation.
type Error struct {
	err   error
	value any
	dir   direction
	typ   string
}

// newError creates a new Error.
func newError(dir direction, t Type, value any, err error) *Error {
	return &Error{
		err:   err,
		value: value,
		dir:   dir,
		typ:   t.Name(),
	}
}

// Type returns the name of the type that failed.
func (e *Error) Type() string {
	return e.typ
}

// Value returns the value that failed to coerce.
func (e *Error) Value() any {
	return e.value
}

// Error implements error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("coerce: failed to %s %T as %s: %v", e.dir, e.value, e.typ, e.err)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.err
}

// check interfaces
var (
	_ error = (*Error)(nil)
)
