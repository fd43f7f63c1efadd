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

package adapter

import (
	"errors"
	"fmt"

	"golang.org/x/exp/slices"

	"github.com/FerretDB/adapters/internal/util/debugbuild"
)

// ErrorCode represent an adapter error code.
type ErrorCode int

// Error codes.
const (
	_ ErrorCode = iota

	// ErrorCodeInvalid means that the write was rejected by named constraint(s).
	// The argument is []Constraint.
	ErrorCodeInvalid

	// ErrorCodeStale means that filters of update or delete matched zero records.
	ErrorCodeStale

	// ErrorCodeCoercionFailure means that a single value failed to coerce.
	// The argument is the field name.
	ErrorCodeCoercionFailure
)

// String implements [fmt.Stringer].
func (c ErrorCode) String() string {
	switch c {
	case ErrorCodeInvalid:
		return "ErrorCodeInvalid"
	case ErrorCodeStale:
		return "ErrorCodeStale"
	case ErrorCodeCoercionFailure:
		return "ErrorCodeCoercionFailure"
	default:
		return fmt.Sprintf("ErrorCode(%d)", int(c))
	}
}

// ErrUnsupportedAutogenerate is returned (wrapped) by adapters that can't autogenerate the given kind.
//
// It is a fatal error.
var ErrUnsupportedAutogenerate = errors.New("unsupported autogenerate kind")

// Error represents an adapter error returned by Adapter methods for recoverable outcomes.
type Error struct {
	// This internal error can't be accessed by the caller; it exists only for debugging.
	// It may be nil.
	err error

	arg any

	code ErrorCode
}

// NewError creates a new adapter error.
//
// Code must not be 0. Err may be nil.
func NewError(code ErrorCode, err error) *Error {
	if code == 0 {
		panic("adapter.NewError: code must not be 0")
	}

	return &Error{
		code: code,
		err:  err,
	}
}

// NewErrorWithArgument creates a new adapter error with argument to be passed to the caller.
//
// Code must not be 0. Err may be nil.
func NewErrorWithArgument(code ErrorCode, err error, arg any) *Error {
	if code == 0 {
		panic("adapter.NewErrorWithArgument: code must not be 0")
	}

	return &Error{
		code: code,
		err:  err,
		arg:  arg,
	}
}

// NewInvalidError creates a new ErrorCodeInvalid error for the given violated constraints.
func NewInvalidError(err error, constraints ...Constraint) *Error {
	if len(constraints) == 0 {
		panic("adapter.NewInvalidError: no constraints")
	}

	return NewErrorWithArgument(ErrorCodeInvalid, err, constraints)
}

// Code returns the error code.
func (err *Error) Code() ErrorCode {
	return err.code
}

// There is intentionally no method to return the internal error.

// Error implements error interface.
func (err *Error) Error() string {
	return fmt.Sprintf("%s: %v", err.code, err.err)
}

// ErrorArgument returns the argument to be passed to the caller.
func ErrorArgument(err error) any {
	e, ok := err.(*Error) //nolint:errorlint // do not inspect error chain
	if !ok {
		return nil
	}

	return e.arg
}

// ErrorConstraints returns violated constraints of ErrorCodeInvalid error.
//
// It returns nil for other errors.
func ErrorConstraints(err error) []Constraint {
	if !ErrorCodeIs(err, ErrorCodeInvalid) {
		return nil
	}

	c, _ := ErrorArgument(err).([]Constraint)

	return c
}

// ErrorField returns the field name of ErrorCodeCoercionFailure error.
//
// It returns empty string for other errors.
func ErrorField(err error) string {
	if !ErrorCodeIs(err, ErrorCodeCoercionFailure) {
		return ""
	}

	f, _ := ErrorArgument(err).(string)

	return f
}

// ErrorCodeIs returns true if err is *Error with one of the given error codes.
//
// At least one error code must be given.
func ErrorCodeIs(err error, code ErrorCode, codes ...ErrorCode) bool {
	e, ok := err.(*Error) //nolint:errorlint // do not inspect error chain
	if !ok {
		return false
	}

	return e.code == code || slices.Contains(codes, e.code)
}

// checkError enforces adapter interface contracts.
//
// Err must be nil, *Error, or some other opaque error.
// *Error values can't be wrapped or be present anywhere in the error chain.
// If err is *Error, it must have one of the given error codes.
// If that's not the case, checkError panics in debug builds.
//
// It does nothing in non-debug builds.
func checkError(err error, codes ...ErrorCode) {
	if !debugbuild.Enabled {
		return
	}

	if err == nil {
		return
	}

	e, ok := err.(*Error) //nolint:errorlint // do not inspect error chain
	if !ok {
		if errors.As(err, &e) {
			panic(fmt.Sprintf("error should not be wrapped: %v", err))
		}

		return
	}

	if e.code == 0 {
		panic(fmt.Sprintf("error code is 0: %v", err))
	}

	if len(codes) == 0 {
		panic(fmt.Sprintf("no allowed error codes: %v", err))
	}

	if !slices.Contains(codes, e.code) {
		panic(fmt.Sprintf("error code is not in %v: %v", codes, err))
	}

	if e.code == ErrorCodeInvalid {
		if c, _ := e.arg.([]Constraint); len(c) == 0 {
			panic(fmt.Sprintf("no constraints: %v", err))
		}
	}
}

// check interfaces
var (
	_ error = (*Error)(nil)
)
