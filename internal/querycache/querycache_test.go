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

package querycache

import (
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FerretDB/adapters/internal/adapter"
)

func TestCache(t *testing.T) {
	t.Parallel()

	c := New[string]("test", 2)

	_, ok := c.Get(1, adapter.ReadAll)
	assert.False(t, ok)

	c.Put(1, adapter.ReadAll, "a")
	c.Put(1, adapter.DeleteAll, "b")

	token, ok := c.Get(1, adapter.ReadAll)
	require.True(t, ok)
	assert.Equal(t, "a", token)

	// last write wins
	c.Put(1, adapter.ReadAll, "c")
	token, ok = c.Get(1, adapter.ReadAll)
	require.True(t, ok)
	assert.Equal(t, "c", token)
	assert.Equal(t, 2, c.Len())

	// (1, DeleteAll) is the least recently used entry
	c.Put(2, adapter.ReadAll, "d")
	assert.Equal(t, 2, c.Len())

	_, ok = c.Get(1, adapter.DeleteAll)
	assert.False(t, ok)

	_, ok = c.Get(1, adapter.ReadAll)
	assert.True(t, ok)

	expected := Stats{
		Hits:          3,
		Misses:        2,
		Registrations: 4,
		Evictions:     1,
	}
	assert.Equal(t, expected, c.Stats())

	assert.Panics(t, func() { New[string]("test", 0) })
}

func TestCacheConcurrent(t *testing.T) {
	t.Parallel()

	c := New[int]("test", 10)

	var wg sync.WaitGroup

	for i := range 20 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			c.Put(uint64(i%5), adapter.ReadAll, i)
			c.Get(uint64(i%5), adapter.ReadAll)
		}()
	}

	wg.Wait()

	assert.Equal(t, 5, c.Len())
	assert.Equal(t, uint64(20), c.Stats().Registrations)
}

func TestCacheMetrics(t *testing.T) {
	t.Parallel()

	c := New[string]("metrics", 1)
	c.Put(1, adapter.ReadAll, "a")
	c.Put(2, adapter.ReadAll, "b")
	c.Get(2, adapter.ReadAll)

	reg := prometheus.NewPedanticRegistry()
	require.NoError(t, reg.Register(c))

	mfs, err := reg.Gather()
	require.NoError(t, err)

	actual := make(map[string]float64, len(mfs))

	for _, mf := range mfs {
		require.Len(t, mf.GetMetric(), 1)

		m := mf.GetMetric()[0]
		require.Len(t, m.GetLabel(), 1)
		assert.Equal(t, "metrics", m.GetLabel()[0].GetValue())

		if m.GetCounter() != nil {
			actual[mf.GetName()] = m.GetCounter().GetValue()
		} else {
			actual[mf.GetName()] = m.GetGauge().GetValue()
		}
	}

	expected := map[string]float64{
		"ferretdb_adapters_querycache_entries":             1,
		"ferretdb_adapters_querycache_evictions_total":     1,
		"ferretdb_adapters_querycache_hits_total":          1,
		"ferretdb_adapters_querycache_misses_total":        0,
		"ferretdb_adapters_querycache_registrations_total": 2,
	}
	assert.Equal(t, expected, actual)
}
