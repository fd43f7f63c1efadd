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

package ctxutil

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDurationWithJitter(t *testing.T) {
	t.Parallel()

	t.Run("LargerOrEqualThan1ms", func(t *testing.T) {
		t.Parallel()

		assert.GreaterOrEqual(t, DurationWithJitter(time.Second, 1), time.Millisecond)
	})

	t.Run("LessOrEqualThanCap", func(t *testing.T) {
		t.Parallel()

		for attempt := range int64(100) {
			assert.LessOrEqual(t, DurationWithJitter(time.Second, attempt), time.Second)
		}
	})

	t.Run("AttemptLessThan1", func(t *testing.T) {
		t.Parallel()

		d := DurationWithJitter(time.Second, 0)
		assert.GreaterOrEqual(t, d, time.Millisecond)
		assert.LessOrEqual(t, d, 2*time.Millisecond)
	})

	t.Run("SmallCap", func(t *testing.T) {
		t.Parallel()

		assert.Equal(t, time.Millisecond, DurationWithJitter(time.Microsecond, 10))
	})
}

func TestSleep(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	Sleep(ctx, time.Hour)
	assert.Less(t, time.Since(start), time.Minute)
}
