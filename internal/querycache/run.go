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
	"context"

	"github.com/FerretDB/adapters/internal/adapter"
	"github.com/FerretDB/adapters/internal/query"
	"github.com/FerretDB/adapters/internal/util/lazyerrors"
	"github.com/FerretDB/adapters/internal/util/observability"
)

// RunParams represents the parameters of Run function.
type RunParams struct {
	Kind      adapter.OperationKind
	Query     *query.Query
	Meta      *adapter.QueryMeta
	Params    []any
	Processor adapter.RowProcessor
	Options   *adapter.Options
}

// Run executes the query using the cache.
//
// On a cache hit, the cached token is executed.
// On a miss, the query is prepared and executed;
// cacheable queries register their token in the cache after successful execution.
func Run[P, T any](ctx context.Context, c *Cache[T], a adapter.Adapter[P, T], params *RunParams) (*adapter.ExecuteResult, error) {
	defer observability.FuncCall(ctx)()

	fp := params.Query.Fingerprint()

	ep := &adapter.ExecuteParams[P, T]{
		Meta:      params.Meta,
		Params:    params.Params,
		Processor: params.Processor,
		Options:   params.Options,
	}

	if token, ok := c.Get(fp, params.Kind); ok {
		ep.Query = adapter.Cached[P, T]{Token: token}
		return a.Execute(ctx, ep)
	}

	prepared, err := a.Prepare(&adapter.PrepareParams{
		Kind:  params.Kind,
		Query: params.Query,
	})
	if err != nil {
		return nil, lazyerrors.Error(err)
	}

	switch prepared.Cacheability {
	case adapter.Cacheable:
		ep.Query = adapter.FirstCache[P, T]{
			Register: func(token T) {
				c.Put(fp, params.Kind, token)
			},
			Prepared: prepared.Prepared,
		}
	default:
		ep.Query = adapter.NotCached[P, T]{Prepared: prepared.Prepared}
	}

	return a.Execute(ctx, ep)
}
