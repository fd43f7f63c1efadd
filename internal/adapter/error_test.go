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
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError(t *testing.T) {
	t.Parallel()

	c := []Constraint{{Type: ConstraintUnique, Name: "users_name_index"}}
	err := NewInvalidError(fmt.Errorf("duplicate"), c...)

	assert.True(t, ErrorCodeIs(err, ErrorCodeInvalid))
	assert.True(t, ErrorCodeIs(err, ErrorCodeStale, ErrorCodeInvalid))
	assert.False(t, ErrorCodeIs(err, ErrorCodeStale))
	assert.Equal(t, c, ErrorConstraints(err))
	assert.Empty(t, ErrorField(err))
	assert.Equal(t, "ErrorCodeInvalid: duplicate", err.Error())

	// wrapped errors are not recognized
	wrapped := fmt.Errorf("wrapped: %w", err)
	assert.False(t, ErrorCodeIs(wrapped, ErrorCodeInvalid))
	assert.Nil(t, ErrorConstraints(wrapped))

	assert.Panics(t, func() { NewError(0, nil) })
	assert.Panics(t, func() { NewInvalidError(nil) })

	assert.Equal(t, "unique:users_name_index", c[0].String())
}
