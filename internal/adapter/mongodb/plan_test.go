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

package mongodb

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/FerretDB/adapters/internal/adapter"
	"github.com/FerretDB/adapters/internal/query"
)

func TestCompile(t *testing.T) {
	t.Parallel()

	u := uuid.MustParse("5bd3e6c2-3a3c-4b8e-9a3c-000000000001")
	binary := primitive.Binary{Subtype: bson.TypeBinaryUUID, Data: u[:]}

	for name, tc := range map[string]struct {
		wheres   []query.Expr
		params   []any
		expected bson.D
	}{
		"Empty": {
			expected: bson.D{},
		},
		"Compare": {
			wheres:   []query.Expr{query.Compare{Field: "age", Op: query.Ge, Value: query.Param{Index: 0}}},
			params:   []any{int64(18)},
			expected: bson.D{{Key: "age", Value: bson.D{{Key: "$gte", Value: int64(18)}}}},
		},
		"NotEqual": {
			wheres: []query.Expr{query.Compare{Field: "name", Op: query.Ne, Value: query.Literal{Value: "a"}}},
			expected: bson.D{{Key: "name", Value: bson.D{
				{Key: "$nin", Value: bson.A{"a", nil}},
			}}},
		},
		"UUID": {
			wheres:   []query.Expr{query.Compare{Field: "_id", Op: query.Eq, Value: query.Param{Index: 0}}},
			params:   []any{u},
			expected: bson.D{{Key: "_id", Value: bson.D{{Key: "$eq", Value: binary}}}},
		},
		"And": {
			wheres: []query.Expr{
				query.IsNil{Field: "age"},
				query.Not{Expr: query.In{Field: "name", Values: query.List{query.Literal{Value: "a"}, query.Param{Index: 0}}}},
			},
			params: []any{"b"},
			expected: bson.D{{Key: "$and", Value: bson.A{
				bson.D{{Key: "age", Value: nil}},
				bson.D{{Key: "$nor", Value: bson.A{
					bson.D{{Key: "name", Value: bson.D{{Key: "$in", Value: []any{"a", "b"}}}}},
				}}},
			}}},
		},
		"InParam": {
			wheres:   []query.Expr{query.In{Field: "name", Values: query.Param{Index: 0}}},
			params:   []any{[]string{"a", "b"}},
			expected: bson.D{{Key: "name", Value: bson.D{{Key: "$in", Value: []any{"a", "b"}}}}},
		},
		"Or": {
			wheres: []query.Expr{query.Or{Exprs: []query.Expr{
				query.Compare{Field: "age", Op: query.Lt, Value: query.Literal{Value: int64(1)}},
				query.Compare{Field: "age", Op: query.Gt, Value: query.Literal{Value: int64(9)}},
			}}},
			expected: bson.D{{Key: "$or", Value: bson.A{
				bson.D{{Key: "age", Value: bson.D{{Key: "$lt", Value: int64(1)}}}},
				bson.D{{Key: "age", Value: bson.D{{Key: "$gt", Value: int64(9)}}}},
			}}},
		},
		"EmptyOr": {
			wheres:   []query.Expr{query.Or{}},
			expected: bson.D{{Key: "$expr", Value: false}},
		},
	} {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			p, err := compile(adapter.ReadAll, &query.Query{
				Sources: []query.Source{{Table: "users"}},
				Wheres:  tc.wheres,
				Select:  []string{"name"},
			})
			require.NoError(t, err)

			actual, err := p.filter(tc.params)
			require.NoError(t, err)
			assert.Equal(t, tc.expected, actual)
		})
	}
}

func TestCompileErrors(t *testing.T) {
	t.Parallel()

	_, err := compile(adapter.DeleteAll, &query.Query{
		Sources: []query.Source{{Table: "users"}},
		Limit:   query.Literal{Value: 1},
	})
	require.Error(t, err)

	_, err = compile(adapter.ReadAll, &query.Query{
		Sources: []query.Source{{Table: "users"}, {Table: "posts"}},
		Select:  []string{"name"},
	})
	require.Error(t, err)

	p, err := compile(adapter.ReadAll, &query.Query{
		Sources: []query.Source{{Table: "users"}},
		Wheres:  []query.Expr{query.In{Field: "data", Values: query.Param{Index: 0}}},
		Select:  []string{"name"},
	})
	require.NoError(t, err)

	_, err = p.filter(nil)
	assert.EqualError(t, err, "parameter 0 is not bound")

	_, err = p.filter([]any{[]byte("ab")})
	assert.EqualError(t, err, "IN parameter must be a slice, got []uint8")
}

func TestProjection(t *testing.T) {
	t.Parallel()

	assert.Equal(t, bson.D{{Key: "name", Value: 1}, {Key: "_id", Value: 0}}, projection([]string{"name"}))
	assert.Equal(t, bson.D{{Key: "_id", Value: 1}, {Key: "name", Value: 1}}, projection([]string{"_id", "name"}))
}

func TestLoadBSON(t *testing.T) {
	t.Parallel()

	ts := time.Date(2024, 3, 18, 14, 39, 56, 0, time.UTC)

	actual, err := loadBSON(primitive.M{
		"nested": primitive.M{"a": int32(1)},
		"doc":    primitive.D{{Key: "b", Value: "c"}},
		"array":  primitive.A{"x", int32(2)},
		"data":   primitive.Binary{Data: []byte("data")},
	})
	require.NoError(t, err)

	expected := map[string]any{
		"nested": map[string]any{"a": int64(1)},
		"doc":    map[string]any{"b": "c"},
		"array":  []any{"x", int64(2)},
		"data":   []byte("data"),
	}
	assert.Equal(t, expected, actual)

	actual, err = loadBSON(primitive.NewDateTimeFromTime(ts))
	require.NoError(t, err)
	assert.True(t, ts.Equal(actual.(time.Time)))
	assert.Equal(t, time.UTC, actual.(time.Time).Location())
}

func TestWriteError(t *testing.T) {
	t.Parallel()

	err := writeError(mongo.WriteException{WriteErrors: []mongo.WriteError{{
		Code:    11000,
		Message: `E11000 duplicate key error collection: db.users index: users_name_index dup key: { name: "a" }`,
	}}})
	require.True(t, adapter.ErrorCodeIs(err, adapter.ErrorCodeInvalid))
	assert.Equal(
		t,
		[]adapter.Constraint{{Type: adapter.ConstraintUnique, Name: "users_name_index"}},
		adapter.ErrorConstraints(err),
	)

	err = writeError(assert.AnError)
	assert.False(t, adapter.ErrorCodeIs(err, adapter.ErrorCodeInvalid))
	assert.ErrorIs(t, err, assert.AnError)
}
