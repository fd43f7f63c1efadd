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

// Package querycache provides the caller-side cache of compiled queries.
//
// Adapters only manufacture tokens; cache storage, keying, eviction, and locking are owned by the caller.
package querycache

import (
	"container/list"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/FerretDB/adapters/internal/adapter"
)

// Parts of Prometheus metric names.
const (
	namespace = "ferretdb_adapters"
	subsystem = "querycache"
)

// key identifies a cached query.
type key struct {
	fingerprint uint64
	kind        adapter.OperationKind
}

// entry is a single cache entry.
type entry[T any] struct {
	key   key
	token T
}

// Cache is a bounded LRU cache of adapter tokens keyed by query fingerprint and operation kind.
//
// Concurrent registrations for the same key are resolved by last-write-wins:
// tokens for the same query are execution-equivalent.
//
// Cache is safe for concurrent use.
type Cache[T any] struct {
	name string
	size int

	m             sync.Mutex
	ll            *list.List
	items         map[key]*list.Element
	hits          uint64
	misses        uint64
	registrations uint64
	evictions     uint64
}

// New creates a new cache with the given name (used as a metric label value) and maximum size.
func New[T any](name string, size int) *Cache[T] {
	if size <= 0 {
		panic("querycache.New: size must be positive")
	}

	return &Cache[T]{
		name:  name,
		size:  size,
		ll:    list.New(),
		items: make(map[key]*list.Element, size),
	}
}

// Get returns the token for the given query fingerprint and operation kind.
func (c *Cache[T]) Get(fingerprint uint64, kind adapter.OperationKind) (T, bool) {
	c.m.Lock()
	defer c.m.Unlock()

	el, ok := c.items[key{fingerprint, kind}]
	if !ok {
		c.misses++

		var zero T
		return zero, false
	}

	c.hits++
	c.ll.MoveToFront(el)

	return el.Value.(*entry[T]).token, true
}

// Put stores the token, replacing the existing one, and evicts the least recently used entry if needed.
func (c *Cache[T]) Put(fingerprint uint64, kind adapter.OperationKind, token T) {
	c.m.Lock()
	defer c.m.Unlock()

	c.registrations++

	k := key{fingerprint, kind}

	if el, ok := c.items[k]; ok {
		el.Value.(*entry[T]).token = token
		c.ll.MoveToFront(el)

		return
	}

	c.items[k] = c.ll.PushFront(&entry[T]{key: k, token: token})

	for c.ll.Len() > c.size {
		el := c.ll.Back()
		c.ll.Remove(el)
		delete(c.items, el.Value.(*entry[T]).key)
		c.evictions++
	}
}

// Len returns the number of cached entries.
func (c *Cache[T]) Len() int {
	c.m.Lock()
	defer c.m.Unlock()

	return c.ll.Len()
}

// Stats represents cache statistics.
type Stats struct {
	Hits          uint64
	Misses        uint64
	Registrations uint64
	Evictions     uint64
}

// Stats returns cache statistics.
func (c *Cache[T]) Stats() Stats {
	c.m.Lock()
	defer c.m.Unlock()

	return Stats{
		Hits:          c.hits,
		Misses:        c.misses,
		Registrations: c.registrations,
		Evictions:     c.evictions,
	}
}

// desc returns metric description.
func (c *Cache[T]) desc(name, help string) *prometheus.Desc {
	return prometheus.NewDesc(
		prometheus.BuildFQName(namespace, subsystem, name),
		help,
		nil,
		prometheus.Labels{"cache": c.name},
	)
}

// Describe implements [prometheus.Collector].
func (c *Cache[T]) Describe(ch chan<- *prometheus.Desc) {
	prometheus.DescribeByCollect(c, ch)
}

// Collect implements [prometheus.Collector].
func (c *Cache[T]) Collect(ch chan<- prometheus.Metric) {
	s := c.Stats()

	ch <- prometheus.MustNewConstMetric(
		c.desc("hits_total", "The total number of cache hits."),
		prometheus.CounterValue,
		float64(s.Hits),
	)
	ch <- prometheus.MustNewConstMetric(
		c.desc("misses_total", "The total number of cache misses."),
		prometheus.CounterValue,
		float64(s.Misses),
	)
	ch <- prometheus.MustNewConstMetric(
		c.desc("registrations_total", "The total number of token registrations."),
		prometheus.CounterValue,
		float64(s.Registrations),
	)
	ch <- prometheus.MustNewConstMetric(
		c.desc("evictions_total", "The total number of evicted entries."),
		prometheus.CounterValue,
		float64(s.Evictions),
	)
	ch <- prometheus.MustNewConstMetric(
		c.desc("entries", "The current number of cached entries."),
		prometheus.GaugeValue,
		float64(c.Len()),
	)
}

// check interfaces
var (
	_ prometheus.Collector = (*Cache[any])(nil)
)
