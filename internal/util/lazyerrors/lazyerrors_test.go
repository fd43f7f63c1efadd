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

package lazyerrors

import (
	"errors"
	"fmt"
	"io"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// line returns the line number of the caller.
func line(t *testing.T) int {
	t.Helper()

	_, _, l, ok := runtime.Caller(1)
	require.True(t, ok)

	return l
}

func TestErrors(t *testing.T) {
	t.Parallel()

	l := line(t)
	err := New("err")
	err1 := Errorf("err1: %w", err)
	err2 := Error(err1)

	expected := fmt.Sprintf("[lazyerrors_test.go:%d lazyerrors.TestErrors] err", l+1)
	assert.Equal(t, expected, err.Error())

	expected = fmt.Sprintf(
		"[lazyerrors_test.go:%d lazyerrors.TestErrors] err1: [lazyerrors_test.go:%d lazyerrors.TestErrors] err",
		l+2, l+1,
	)
	assert.Equal(t, expected, err1.Error())

	expected = fmt.Sprintf("[lazyerrors_test.go:%d lazyerrors.TestErrors] ", l+3) + err1.Error()
	assert.Equal(t, expected, err2.Error())

	assert.ErrorIs(t, err2, err1)
	assert.ErrorIs(t, err2, err)
	assert.Equal(t, "err", UnwrapAll(err2).Error())
}

func TestWrapped(t *testing.T) {
	t.Parallel()

	err := Error(io.EOF)
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, io.EOF, errors.Unwrap(err))
	assert.Equal(t, io.EOF, UnwrapAll(Errorf("read: %w", err)))
	assert.Nil(t, UnwrapAll(nil))

	assert.Panics(t, func() { _ = Error(nil) })
}

func TestPC(t *testing.T) {
	t.Parallel()

	ch := make(chan error, 1)

	l := line(t)

	go func() {
		ch <- New("err")
	}()

	err := <-ch
	assert.Equal(t, fmt.Sprintf("[lazyerrors_test.go:%d lazyerrors.TestPC.func1] err", l+3), err.Error())
}

var drain any

func BenchmarkNew(b *testing.B) {
	for i := 0; i < b.N; i++ {
		drain = New("err")
	}

	b.StopTimer()

	assert.NotNil(b, drain)
}
