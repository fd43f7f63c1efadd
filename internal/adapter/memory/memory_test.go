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

package memory_test

import (
	"testing"

	"github.com/AlekSi/pointer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FerretDB/adapters/internal/adapter"
	"github.com/FerretDB/adapters/internal/adapter/memory"
	"github.com/FerretDB/adapters/internal/coerce"
	"github.com/FerretDB/adapters/internal/conformance"
	"github.com/FerretDB/adapters/internal/query"
	"github.com/FerretDB/adapters/internal/util/testutil"
)

// setup creates a new adapter with fixture tables.
func setup(t *testing.T, start int64) adapter.Adapter[*memory.Prepared, *memory.Token] {
	t.Helper()

	a, err := memory.NewAdapter(&memory.NewAdapterParams{
		Tables:        conformance.MemoryTables(nil),
		L:             testutil.Logger(t),
		SequenceStart: start,
	})
	require.NoError(t, err)
	t.Cleanup(a.Close)

	return a
}

func TestConformance(t *testing.T) {
	t.Parallel()

	a := setup(t, 0)

	for _, c := range conformance.Checks(a, conformance.ParamsFor(conformance.Memory)) {
		t.Run(c.Name, func(t *testing.T) {
			require.NoError(t, c.Run(testutil.Ctx(t)))
		})
	}
}

func TestExampleScenario(t *testing.T) {
	t.Parallel()

	ctx := testutil.Ctx(t)
	a := setup(t, 42)

	meta := &adapter.SchemaMeta{
		Source:         query.Source{Table: conformance.UsersTable},
		AutogenerateID: &adapter.AutogenerateField{Field: "id", Kind: adapter.AutogenerateID},
	}

	res, err := a.Insert(ctx, &adapter.InsertParams{
		Meta:      meta,
		Fields:    adapter.Fields{"name": "a"},
		Returning: []string{"id"},
	})
	require.NoError(t, err)
	assert.Equal(t, adapter.Fields{"name": "a", "id": int64(42)}, res.Fields)
	assert.Equal(t, &adapter.Autogenerated{Field: "id", Kind: adapter.AutogenerateID, Value: int64(42)}, res.Autogenerated)

	// returning is empty, but the autogenerated value is still reported
	res, err = a.Insert(ctx, &adapter.InsertParams{
		Meta:   meta,
		Fields: adapter.Fields{"name": "c"},
	})
	require.NoError(t, err)
	assert.Equal(t, adapter.Fields{"name": "c", "id": int64(43)}, res.Fields)

	_, err = a.Update(ctx, &adapter.UpdateParams{
		Meta:    meta,
		Fields:  adapter.Fields{"name": "b"},
		Filters: adapter.Filters{"id": int64(44)},
	})
	require.True(t, adapter.ErrorCodeIs(err, adapter.ErrorCodeStale), "%v", err)
}

func TestExplicitID(t *testing.T) {
	t.Parallel()

	ctx := testutil.Ctx(t)
	a := setup(t, 0)

	meta := &adapter.SchemaMeta{
		Source:         query.Source{Table: conformance.UsersTable},
		AutogenerateID: &adapter.AutogenerateField{Field: "id", Kind: adapter.AutogenerateID},
	}

	res, err := a.Insert(ctx, &adapter.InsertParams{
		Meta:   meta,
		Fields: adapter.Fields{"name": "explicit", "id": int64(10)},
	})
	require.NoError(t, err)
	assert.Nil(t, res.Autogenerated)
	assert.Equal(t, int64(10), res.Fields["id"])

	// sequence continues after the explicit value
	res, err = a.Insert(ctx, &adapter.InsertParams{
		Meta:   meta,
		Fields: adapter.Fields{"name": "generated"},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(11), res.Fields["id"])

	_, err = a.Insert(ctx, &adapter.InsertParams{
		Meta:   meta,
		Fields: adapter.Fields{"name": "duplicate", "id": int64(10)},
	})
	assert.Equal(t, []adapter.Constraint{{Type: adapter.ConstraintUnique, Name: "conformance_users_pkey"}}, adapter.ErrorConstraints(err))
}

func TestUpdatedID(t *testing.T) {
	t.Parallel()

	ctx := testutil.Ctx(t)
	a := setup(t, 0)

	source := query.Source{Table: conformance.UsersTable}
	meta := &adapter.SchemaMeta{
		Source:         source,
		AutogenerateID: &adapter.AutogenerateField{Field: "id", Kind: adapter.AutogenerateID},
	}

	res, err := a.Insert(ctx, &adapter.InsertParams{Meta: meta, Fields: adapter.Fields{"name": "a"}})
	require.NoError(t, err)

	_, err = a.Update(ctx, &adapter.UpdateParams{
		Meta:    &adapter.SchemaMeta{Source: source},
		Fields:  adapter.Fields{"id": int64(100)},
		Filters: adapter.Filters{"id": res.Fields["id"]},
	})
	require.NoError(t, err)

	res, err = a.Insert(ctx, &adapter.InsertParams{Meta: meta, Fields: adapter.Fields{"name": "b"}})
	require.NoError(t, err)
	assert.Equal(t, int64(101), res.Fields["id"])

	prepared, err := a.Prepare(&adapter.PrepareParams{
		Kind: adapter.UpdateAll,
		Query: &query.Query{
			Sources: []query.Source{source},
			Wheres:  []query.Expr{query.Compare{Field: "name", Op: query.Eq, Value: query.Literal{Value: "a"}}},
			Updates: []query.Set{{Field: "id", Value: query.Param{Index: 0}}},
		},
	})
	require.NoError(t, err)

	_, err = a.Execute(ctx, &adapter.ExecuteParams[*memory.Prepared, *memory.Token]{
		Meta:   &adapter.QueryMeta{Sources: []query.Source{source}},
		Query:  adapter.NotCached[*memory.Prepared, *memory.Token]{Prepared: prepared.Prepared},
		Params: []any{int64(200)},
	})
	require.NoError(t, err)

	res, err = a.Insert(ctx, &adapter.InsertParams{Meta: meta, Fields: adapter.Fields{"name": "c"}})
	require.NoError(t, err)
	assert.Equal(t, int64(201), res.Fields["id"])
}

func TestPrefix(t *testing.T) {
	t.Parallel()

	ctx := testutil.Ctx(t)

	a, err := memory.NewAdapter(&memory.NewAdapterParams{
		Tables: conformance.MemoryTables(pointer.ToString("tenant")),
		L:      testutil.Logger(t),
	})
	require.NoError(t, err)
	t.Cleanup(a.Close)

	meta := &adapter.SchemaMeta{Source: query.Source{Table: conformance.UsersTable}}

	_, err = a.Insert(ctx, &adapter.InsertParams{
		Meta:   meta,
		Fields: adapter.Fields{"id": int64(1), "name": "a"},
	})
	require.Error(t, err)
	assert.False(t, adapter.ErrorCodeIs(err, adapter.ErrorCodeInvalid))

	_, err = a.Insert(ctx, &adapter.InsertParams{
		Meta:    meta,
		Fields:  adapter.Fields{"id": int64(1), "name": "a"},
		Options: &adapter.Options{Prefix: pointer.ToString("tenant")},
	})
	require.NoError(t, err)
}

func TestExecute(t *testing.T) {
	t.Parallel()

	ctx := testutil.Ctx(t)
	a := setup(t, 0)

	meta := &adapter.SchemaMeta{Source: query.Source{Table: conformance.UsersTable}}

	_, err := a.InsertAll(ctx, &adapter.InsertAllParams{
		Meta:   meta,
		Header: []string{"id", "name", "age"},
		Rows: []adapter.Fields{
			{"id": int64(1), "name": "a", "age": int64(30)},
			{"id": int64(2), "name": "b"},
			{"id": int64(3), "name": "c", "age": int64(20)},
			{"id": int64(4), "name": "d", "age": int64(40)},
		},
	})
	require.NoError(t, err)

	qm := &adapter.QueryMeta{
		Sources: []query.Source{{Table: conformance.UsersTable}},
		Fields:  []adapter.FieldMeta{{Name: "name", Type: coerce.String}, {Name: "age", Type: coerce.Integer}},
	}

	for name, tc := range map[string]struct {
		q        *query.Query
		params   []any
		expected [][]any
	}{
		"OrderLimitOffset": {
			q: &query.Query{
				Select:  []string{"name", "age"},
				OrderBy: []query.Order{{Field: "age", Desc: true}},
				Limit:   query.Param{Index: 0},
				Offset:  query.Literal{Value: 1},
			},
			params:   []any{int64(2)},
			expected: [][]any{{"a", int64(30)}, {"c", int64(20)}},
		},
		"IsNil": {
			q: &query.Query{
				Wheres: []query.Expr{query.IsNil{Field: "age"}},
				Select: []string{"name", "age"},
			},
			expected: [][]any{{"b", nil}},
		},
		"OrNot": {
			q: &query.Query{
				Wheres: []query.Expr{query.Or{Exprs: []query.Expr{
					query.Compare{Field: "age", Op: query.Lt, Value: query.Literal{Value: 25}},
					query.Not{Expr: query.In{Field: "name", Values: query.Param{Index: 0}}},
				}}},
				Select:  []string{"name", "age"},
				OrderBy: []query.Order{{Field: "name"}},
			},
			params:   []any{[]string{"a", "b", "c"}},
			expected: [][]any{{"c", int64(20)}, {"d", int64(40)}},
		},
		"NilComparison": {
			q: &query.Query{
				Wheres: []query.Expr{query.Compare{Field: "age", Op: query.Ne, Value: query.Literal{Value: 30}}},
				Select: []string{"name", "age"},
			},
			expected: [][]any{{"c", int64(20)}, {"d", int64(40)}},
		},
		"NotNil": {
			q: &query.Query{
				Wheres:  []query.Expr{query.Not{Expr: query.Compare{Field: "age", Op: query.Lt, Value: query.Literal{Value: 25}}}},
				Select:  []string{"name", "age"},
				OrderBy: []query.Order{{Field: "name"}},
			},
			expected: [][]any{{"a", int64(30)}, {"d", int64(40)}},
		},
		"NotInNil": {
			q: &query.Query{
				Wheres:  []query.Expr{query.Not{Expr: query.In{Field: "age", Values: query.Param{Index: 0}}}},
				Select:  []string{"name", "age"},
				OrderBy: []query.Order{{Field: "name"}},
			},
			params:   []any{[]any{int64(30), int64(20)}},
			expected: [][]any{{"d", int64(40)}},
		},
		"NotInNilElement": {
			q: &query.Query{
				Wheres: []query.Expr{query.Not{Expr: query.In{Field: "age", Values: query.Param{Index: 0}}}},
				Select: []string{"name", "age"},
			},
			params:   []any{[]any{int64(30), nil}},
			expected: [][]any{},
		},
		"NotOr": {
			q: &query.Query{
				Wheres: []query.Expr{query.Not{Expr: query.Or{Exprs: []query.Expr{
					query.Compare{Field: "age", Op: query.Eq, Value: query.Literal{Value: 30}},
					query.IsNil{Field: "age"},
				}}}},
				Select:  []string{"name", "age"},
				OrderBy: []query.Order{{Field: "name"}},
			},
			expected: [][]any{{"c", int64(20)}, {"d", int64(40)}},
		},
		"Unsigned": {
			q: &query.Query{
				Wheres: []query.Expr{query.In{Field: "age", Values: query.Param{Index: 0}}},
				Select: []string{"name", "age"},
			},
			params:   []any{[]any{uint64(30), uint(40)}},
			expected: [][]any{{"a", int64(30)}, {"d", int64(40)}},
		},
		"UnsignedCompare": {
			q: &query.Query{
				Wheres: []query.Expr{query.Compare{Field: "age", Op: query.Le, Value: query.Param{Index: 0}}},
				Select: []string{"name", "age"},
			},
			params:   []any{uint64(20)},
			expected: [][]any{{"c", int64(20)}},
		},
		"Empty": {
			q: &query.Query{
				Wheres: []query.Expr{query.Compare{Field: "age", Op: query.Gt, Value: query.Literal{Value: 100}}},
				Select: []string{"name", "age"},
			},
			expected: [][]any{},
		},
	} {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			tc.q.Sources = []query.Source{{Table: conformance.UsersTable}}

			prepared, err := a.Prepare(&adapter.PrepareParams{Kind: adapter.ReadAll, Query: tc.q})
			require.NoError(t, err)
			assert.Equal(t, adapter.Cacheable, prepared.Cacheability)

			res, err := a.Execute(ctx, &adapter.ExecuteParams[*memory.Prepared, *memory.Token]{
				Meta:   qm,
				Query:  adapter.NotCached[*memory.Prepared, *memory.Token]{Prepared: prepared.Prepared},
				Params: tc.params,
			})
			require.NoError(t, err)
			assert.Equal(t, tc.expected, res.Rows)
			assert.Equal(t, int64(len(tc.expected)), res.Count)
		})
	}
}
