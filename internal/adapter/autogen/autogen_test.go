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

package autogen

import (
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSequence(t *testing.T) {
	t.Parallel()

	s := NewSequence(42)
	assert.Equal(t, int64(42), s.Next())
	assert.Equal(t, int64(43), s.Next())

	s.Observe(10)
	assert.Equal(t, int64(44), s.Next())

	s.Observe(100)
	assert.Equal(t, int64(101), s.Next())
}

func TestSequenceConcurrent(t *testing.T) {
	t.Parallel()

	s := NewSequence(1)

	const n = 100

	var wg sync.WaitGroup
	res := make([]int64, n)

	for i := range n {
		wg.Add(1)

		go func() {
			defer wg.Done()
			res[i] = s.Next()
		}()
	}

	wg.Wait()

	seen := make(map[int64]struct{}, n)
	for _, v := range res {
		seen[v] = struct{}{}
	}

	assert.Len(t, seen, n)
	assert.Equal(t, int64(n+1), s.Next())
}

func TestUUID(t *testing.T) {
	t.Parallel()

	u1, u2 := UUID(), UUID()
	require.NotEqual(t, uuid.Nil, u1)
	assert.NotEqual(t, u1, u2)
	assert.Equal(t, uuid.Version(7), u1.Version())

	assert.Nil(t, Storage())
}
