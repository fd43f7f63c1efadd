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
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/FerretDB/adapters/internal/coerce"
	"github.com/FerretDB/adapters/internal/query"
)

// Adapter is the interface every storage backend implements.
//
// P is the adapter's opaque compiled query representation (Prepared),
// T is the adapter's opaque handle for a previously compiled query (CacheToken).
//
// Adapter methods can be called concurrently.
//
// See adapterContract and its methods for additional details.
type Adapter[P, T any] interface {
	coerce.Pipeline
	prometheus.Collector

	Close()

	Prepare(*PrepareParams) (*PrepareResult[P], error)
	Execute(context.Context, *ExecuteParams[P, T]) (*ExecuteResult, error)

	Autogenerate(AutogenerateKind) (any, error)

	Insert(context.Context, *InsertParams) (*InsertResult, error)
	InsertAll(context.Context, *InsertAllParams) (*InsertAllResult, error)
	Update(context.Context, *UpdateParams) (*UpdateResult, error)
	Delete(context.Context, *DeleteParams) (*DeleteResult, error)
}

// OperationKind is a kind of query operation.
type OperationKind int

// Operation kinds.
const (
	_ OperationKind = iota

	ReadAll   // read_all
	UpdateAll // update_all
	DeleteAll // delete_all
)

// String implements [fmt.Stringer].
func (k OperationKind) String() string {
	switch k {
	case ReadAll:
		return "read_all"
	case UpdateAll:
		return "update_all"
	case DeleteAll:
		return "delete_all"
	default:
		return fmt.Sprintf("OperationKind(%d)", int(k))
	}
}

// Cacheability tells the caller whether a compiled query may be cached.
type Cacheability int

// Cacheability values.
const (
	_ Cacheability = iota

	// Cacheable means that the compiled form depends only on the query shape.
	Cacheable

	// NotCacheable means that the compiled form also depends on parameter values.
	NotCacheable
)

// String implements [fmt.Stringer].
func (c Cacheability) String() string {
	switch c {
	case Cacheable:
		return "cacheable"
	case NotCacheable:
		return "not_cacheable"
	default:
		return fmt.Sprintf("Cacheability(%d)", int(c))
	}
}

// PrepareParams represents the parameters of Adapter.Prepare method.
type PrepareParams struct {
	Kind  OperationKind
	Query *query.Query
}

// PrepareResult represents the results of Adapter.Prepare method.
type PrepareResult[P any] struct {
	Cacheability Cacheability
	Prepared     P
}

// Descriptor tells Execute how to obtain the compiled query.
//
// It is one of NotCached, Cached, or FirstCache.
type Descriptor[P, T any] interface {
	descriptor(P, T) // seal for sumtype
}

// NotCached compiles and runs the query once, without caching.
type NotCached[P, T any] struct {
	Prepared P
}

// Cached reuses a previously issued token.
type Cached[P, T any] struct {
	Token T
}

// FirstCache is the first execution of a cacheable query.
//
// The adapter compiles and executes the query and, on success only,
// calls Register exactly once with a token for future reuse.
// Register is fire-and-forget; the adapter never reads cache contents.
type FirstCache[P, T any] struct {
	Register func(T)
	Prepared P
}

func (NotCached[P, T]) descriptor(P, T)  {}
func (Cached[P, T]) descriptor(P, T)     {}
func (FirstCache[P, T]) descriptor(P, T) {}

// RowProcessor transforms a single selected value of a result row.
//
// It is applied by the adapter to every selected column of every row, in order.
// A returned error fails the whole Execute call;
// processors that want to keep going substitute a value and return nil error.
type RowProcessor func(value any, field FieldMeta) (any, error)

// ExecuteParams represents the parameters of Adapter.Execute method.
type ExecuteParams[P, T any] struct {
	Meta      *QueryMeta
	Query     Descriptor[P, T]
	Params    []any
	Processor RowProcessor // nil means none
	Options   *Options
}

// ExecuteResult represents the results of Adapter.Execute method.
//
// Rows is nil when the operation produces no rows (update_all, delete_all).
// Rows preserve result-set order.
type ExecuteResult struct {
	Count int64
	Rows  [][]any
}
