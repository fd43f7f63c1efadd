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
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FerretDB/adapters/internal/coerce"
	"github.com/FerretDB/adapters/internal/query"
	"github.com/FerretDB/adapters/internal/util/testutil"
)

// fakeAdapter is a minimal adapter used to test the contract wrapper.
type fakeAdapter struct {
	coerce.DefaultPipeline

	m sync.Mutex

	autogenerated any
	autogenCalls  int
	registers     int
	executeErr    error
	rows          [][]any
	inserted      []Fields
	returned      Fields
	deadline      bool
}

func (f *fakeAdapter) Close()                           {}
func (f *fakeAdapter) Describe(chan<- *prometheus.Desc) {}
func (f *fakeAdapter) Collect(chan<- prometheus.Metric) {}

func (f *fakeAdapter) Prepare(params *PrepareParams) (*PrepareResult[string], error) {
	return &PrepareResult[string]{Cacheability: Cacheable, Prepared: params.Query.String()}, nil
}

func (f *fakeAdapter) Execute(ctx context.Context, params *ExecuteParams[string, int]) (*ExecuteResult, error) {
	f.m.Lock()
	defer f.m.Unlock()

	_, f.deadline = ctx.Deadline()

	if f.executeErr != nil {
		return nil, f.executeErr
	}

	rows := make([][]any, len(f.rows))

	for i, row := range f.rows {
		rows[i] = make([]any, len(row))

		for j, v := range row {
			if params.Processor == nil {
				rows[i][j] = v
				continue
			}

			var err error
			if rows[i][j], err = params.Processor(v, params.Meta.Fields[j]); err != nil {
				return nil, err
			}
		}
	}

	if fc, ok := params.Query.(FirstCache[string, int]); ok {
		for range f.registers {
			fc.Register(42)
		}
	}

	return &ExecuteResult{Count: int64(len(rows)), Rows: rows}, nil
}

func (f *fakeAdapter) Autogenerate(AutogenerateKind) (any, error) {
	f.m.Lock()
	defer f.m.Unlock()

	f.autogenCalls++

	return f.autogenerated, nil
}

func (f *fakeAdapter) Insert(_ context.Context, params *InsertParams) (*InsertResult, error) {
	f.m.Lock()
	defer f.m.Unlock()

	f.inserted = append(f.inserted, params.Fields)

	res := make(Fields, len(params.Returning))
	for _, r := range params.Returning {
		res[r] = f.returned[r]
	}

	return &InsertResult{Fields: res}, nil
}

func (f *fakeAdapter) InsertAll(_ context.Context, params *InsertAllParams) (*InsertAllResult, error) {
	f.m.Lock()
	defer f.m.Unlock()

	res := &InsertAllResult{Count: int64(len(params.Rows))}

	for i, row := range params.Rows {
		f.inserted = append(f.inserted, row)

		values := make([]any, len(params.Returning))
		for j, r := range params.Returning {
			if v, ok := row[r]; ok {
				values[j] = v
			} else {
				values[j] = int64(100 + i)
			}
		}

		res.Rows = append(res.Rows, values)
	}

	return res, nil
}

func (f *fakeAdapter) Update(context.Context, *UpdateParams) (*UpdateResult, error) {
	return nil, NewError(ErrorCodeStale, nil)
}

func (f *fakeAdapter) Delete(context.Context, *DeleteParams) (*DeleteResult, error) {
	return &DeleteResult{}, nil
}

// users returns schema meta of test table.
func users(kind AutogenerateKind) *SchemaMeta {
	return &SchemaMeta{
		Source:         query.Source{Table: "users"},
		AutogenerateID: &AutogenerateField{Field: "id", Kind: kind},
	}
}

func TestInsertAutogenerate(t *testing.T) {
	t.Parallel()

	t.Run("Value", func(t *testing.T) {
		t.Parallel()

		f := &fakeAdapter{autogenerated: int64(42)}
		a := AdapterContract[string, int](f, testutil.Logger(t))

		fields := Fields{"name": "a"}
		res, err := a.Insert(testutil.Ctx(t), &InsertParams{
			Meta:   users(AutogenerateID),
			Fields: fields,
		})
		require.NoError(t, err)

		assert.Equal(t, Fields{"name": "a", "id": int64(42)}, res.Fields)
		assert.Equal(t, &Autogenerated{Field: "id", Kind: AutogenerateID, Value: int64(42)}, res.Autogenerated)
		assert.Equal(t, []Fields{{"name": "a", "id": int64(42)}}, f.inserted)
		assert.Equal(t, 1, f.autogenCalls)

		// caller's fields are not modified
		assert.Equal(t, Fields{"name": "a"}, fields)
	})

	t.Run("Storage", func(t *testing.T) {
		t.Parallel()

		f := &fakeAdapter{returned: Fields{"id": int64(7)}}
		a := AdapterContract[string, int](f, testutil.Logger(t))

		res, err := a.Insert(testutil.Ctx(t), &InsertParams{
			Meta:   users(AutogenerateID),
			Fields: Fields{"name": "a", "id": nil},
		})
		require.NoError(t, err)

		assert.Equal(t, Fields{"name": "a", "id": int64(7)}, res.Fields)
		assert.Equal(t, &Autogenerated{Field: "id", Kind: AutogenerateID, Value: int64(7)}, res.Autogenerated)
		assert.Equal(t, []Fields{{"name": "a"}}, f.inserted)
	})

	t.Run("Explicit", func(t *testing.T) {
		t.Parallel()

		f := &fakeAdapter{autogenerated: int64(42)}
		a := AdapterContract[string, int](f, testutil.Logger(t))

		res, err := a.Insert(testutil.Ctx(t), &InsertParams{
			Meta:   users(AutogenerateID),
			Fields: Fields{"name": "a", "id": int64(1)},
		})
		require.NoError(t, err)

		assert.Equal(t, Fields{"name": "a", "id": int64(1)}, res.Fields)
		assert.Nil(t, res.Autogenerated)
		assert.Equal(t, 0, f.autogenCalls)
	})
}

func TestInsertAllAutogenerate(t *testing.T) {
	t.Parallel()

	f := &fakeAdapter{}
	a := AdapterContract[string, int](f, testutil.Logger(t))

	res, err := a.InsertAll(testutil.Ctx(t), &InsertAllParams{
		Meta:   users(AutogenerateID),
		Header: []string{"name", "id"},
		Rows:   []Fields{{"name": "a"}, {"name": "b", "id": int64(5)}},
	})
	require.NoError(t, err)

	assert.Equal(t, int64(2), res.Count)
	assert.Equal(t, []string{"id"}, res.Returning)
	assert.Equal(t, [][]any{{int64(100)}, {int64(5)}}, res.Rows)
	assert.Equal(t, []Autogenerated{{Field: "id", Kind: AutogenerateID, Value: int64(100)}}, res.Autogenerated)
	assert.Equal(t, 1, f.autogenCalls)

	_, err = a.InsertAll(testutil.Ctx(t), &InsertAllParams{
		Meta:   users(AutogenerateID),
		Header: []string{"name"},
		Rows:   []Fields{{"age": int64(1)}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `row 0: column "age" is not in header`)
}

func TestExecuteRegistration(t *testing.T) {
	t.Parallel()

	ctx := testutil.Ctx(t)
	q := &query.Query{Sources: []query.Source{{Table: "users"}}, Select: []string{"name"}}
	meta := &QueryMeta{Fields: []FieldMeta{{Name: "name", Type: coerce.String}}}

	t.Run("Success", func(t *testing.T) {
		t.Parallel()

		f := &fakeAdapter{registers: 1, rows: [][]any{{"a"}}}
		a := AdapterContract[string, int](f, testutil.Logger(t))

		prepared, err := a.Prepare(&PrepareParams{Kind: ReadAll, Query: q})
		require.NoError(t, err)

		var tokens []int
		res, err := a.Execute(ctx, &ExecuteParams[string, int]{
			Meta: meta,
			Query: FirstCache[string, int]{
				Register: func(token int) { tokens = append(tokens, token) },
				Prepared: prepared.Prepared,
			},
		})
		require.NoError(t, err)
		assert.Equal(t, [][]any{{"a"}}, res.Rows)
		assert.Equal(t, []int{42}, tokens)
	})

	t.Run("Failure", func(t *testing.T) {
		t.Parallel()

		f := &fakeAdapter{executeErr: errors.New("connection lost")}
		a := AdapterContract[string, int](f, testutil.Logger(t))

		var called bool
		_, err := a.Execute(ctx, &ExecuteParams[string, int]{
			Meta: meta,
			Query: FirstCache[string, int]{
				Register: func(int) { called = true },
				Prepared: "q",
			},
		})
		require.Error(t, err)
		assert.False(t, called)
	})

	t.Run("RegisterPanics", func(t *testing.T) {
		t.Parallel()

		f := &fakeAdapter{registers: 1}
		a := AdapterContract[string, int](f, testutil.Logger(t))

		res, err := a.Execute(ctx, &ExecuteParams[string, int]{
			Meta: meta,
			Query: FirstCache[string, int]{
				Register: func(int) { panic("cache is broken") },
				Prepared: "q",
			},
		})
		require.NoError(t, err)
		assert.Equal(t, int64(0), res.Count)
	})

	t.Run("NoRegister", func(t *testing.T) {
		t.Parallel()

		a := AdapterContract[string, int](&fakeAdapter{}, testutil.Logger(t))

		_, err := a.Execute(ctx, &ExecuteParams[string, int]{
			Meta:  meta,
			Query: FirstCache[string, int]{Prepared: "q"},
		})
		require.Error(t, err)
	})
}

func TestExecuteCoercionFailure(t *testing.T) {
	t.Parallel()

	f := &fakeAdapter{rows: [][]any{{"a", "not a number"}}}
	a := AdapterContract[string, int](f, testutil.Logger(t))

	meta := &QueryMeta{Fields: []FieldMeta{
		{Name: "name", Type: coerce.String},
		{Name: "age", Type: coerce.Integer},
	}}

	_, err := a.Execute(testutil.Ctx(t), &ExecuteParams[string, int]{
		Meta:      meta,
		Query:     NotCached[string, int]{Prepared: "q"},
		Processor: LoadProcessor(a),
	})
	require.True(t, ErrorCodeIs(err, ErrorCodeCoercionFailure), "%v", err)
	assert.Equal(t, "age", ErrorField(err))

	// other processor errors are fatal
	_, err = a.Execute(testutil.Ctx(t), &ExecuteParams[string, int]{
		Meta:  meta,
		Query: NotCached[string, int]{Prepared: "q"},
		Processor: func(any, FieldMeta) (any, error) {
			return nil, errors.New("boom")
		},
	})
	require.Error(t, err)
	assert.False(t, ErrorCodeIs(err, ErrorCodeCoercionFailure))
}

func TestExecuteTimeout(t *testing.T) {
	t.Parallel()

	f := &fakeAdapter{}
	a := AdapterContract[string, int](f, testutil.Logger(t))

	_, err := a.Execute(testutil.Ctx(t), &ExecuteParams[string, int]{
		Meta:    &QueryMeta{},
		Query:   NotCached[string, int]{Prepared: "q"},
		Options: &Options{Timeout: time.Minute},
	})
	require.NoError(t, err)
	assert.True(t, f.deadline)
}

func TestValidation(t *testing.T) {
	t.Parallel()

	ctx := testutil.Ctx(t)
	a := AdapterContract[string, int](&fakeAdapter{}, testutil.Logger(t))

	_, err := a.Prepare(&PrepareParams{Kind: ReadAll, Query: &query.Query{}})
	assert.Error(t, err)

	_, err = a.Prepare(&PrepareParams{Kind: UpdateAll, Query: &query.Query{Sources: []query.Source{{Table: "t"}}}})
	assert.Error(t, err)

	_, err = a.Autogenerate(AutogenerateKind(0))
	assert.Error(t, err)

	_, err = a.Update(ctx, &UpdateParams{Meta: users(AutogenerateID), Fields: Fields{"name": "a"}})
	assert.ErrorContains(t, err, "filters are required")

	_, err = a.Update(ctx, &UpdateParams{Meta: users(AutogenerateID), Fields: Fields{"name": "a"}, Filters: Filters{"id": 1}})
	assert.True(t, ErrorCodeIs(err, ErrorCodeStale), "%v", err)

	_, err = a.Delete(ctx, &DeleteParams{Meta: users(AutogenerateID)})
	assert.ErrorContains(t, err, "filters are required")

	res, err := a.Delete(ctx, &DeleteParams{Meta: users(AutogenerateID), Filters: Filters{"id": 1}})
	require.NoError(t, err)
	assert.Equal(t, Fields{}, res.Fields)
}
