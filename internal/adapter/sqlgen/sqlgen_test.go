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

package sqlgen

import (
	"testing"

	"github.com/AlekSi/pointer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FerretDB/adapters/internal/adapter"
	"github.com/FerretDB/adapters/internal/query"
)

func TestCompile(t *testing.T) {
	t.Parallel()

	users := []query.Source{{Table: "users"}}

	read := &query.Query{
		Sources: users,
		Wheres: []query.Expr{
			query.Compare{Field: "age", Op: query.Ge, Value: query.Param{Index: 0}},
			query.In{Field: "name", Values: query.List{query.Literal{Value: "a"}, query.Literal{Value: "b"}}},
		},
		Select:  []string{"name", "age"},
		OrderBy: []query.Order{{Field: "age", Desc: true}},
		Limit:   query.Literal{Value: int64(10)},
	}

	for name, tc := range map[string]struct {
		d      Dialect
		kind   adapter.OperationKind
		q      *query.Query
		params []any
		sql    string
		args   []any
	}{
		"SQLite": {
			d:      SQLite,
			kind:   adapter.ReadAll,
			q:      read,
			params: []any{int64(5)},
			sql:    `SELECT "name", "age" FROM "users" WHERE "age" >= ? AND "name" IN (?, ?) ORDER BY "age" DESC LIMIT ?`,
			args:   []any{int64(5), "a", "b", int64(10)},
		},
		"PostgreSQL": {
			d:      PostgreSQL,
			kind:   adapter.ReadAll,
			q:      read,
			params: []any{int64(5)},
			sql:    `SELECT "name", "age" FROM "users" WHERE "age" >= $1 AND "name" IN ($2, $3) ORDER BY "age" DESC LIMIT $4`,
			args:   []any{int64(5), "a", "b", int64(10)},
		},
		"MySQL": {
			d:      MySQL,
			kind:   adapter.ReadAll,
			q:      read,
			params: []any{int64(5)},
			sql:    "SELECT `name`, `age` FROM `users` WHERE `age` >= ? AND `name` IN (?, ?) ORDER BY `age` DESC LIMIT ?",
			args:   []any{int64(5), "a", "b", int64(10)},
		},
		"Offset": {
			d:    SQLite,
			kind: adapter.ReadAll,
			q: &query.Query{
				Prefix:  pointer.ToString("main"),
				Sources: users,
				Select:  []string{"name"},
				Offset:  query.Param{Index: 0},
			},
			params: []any{int64(2)},
			sql:    `SELECT "name" FROM "main"."users" LIMIT -1 OFFSET ?`,
			args:   []any{int64(2)},
		},
		"OffsetPostgreSQL": {
			d:    PostgreSQL,
			kind: adapter.ReadAll,
			q: &query.Query{
				Sources: users,
				Select:  []string{"name"},
				Offset:  query.Param{Index: 0},
			},
			params: []any{int64(2)},
			sql:    `SELECT "name" FROM "users" OFFSET $1`,
			args:   []any{int64(2)},
		},
		"UpdateAll": {
			d:    HANA,
			kind: adapter.UpdateAll,
			q: &query.Query{
				Sources: []query.Source{{Prefix: pointer.ToString("s"), Table: "users"}},
				Wheres:  []query.Expr{query.Compare{Field: "name", Op: query.Ne, Value: query.Param{Index: 1}}},
				Updates: []query.Set{{Field: "age", Value: query.Param{Index: 0}}},
			},
			params: []any{int64(1), "a"},
			sql:    `UPDATE "s"."users" SET "age" = ? WHERE "name" <> ?`,
			args:   []any{int64(1), "a"},
		},
		"DeleteAll": {
			d:    SQLite,
			kind: adapter.DeleteAll,
			q: &query.Query{
				Sources: users,
				Wheres: []query.Expr{query.Or{Exprs: []query.Expr{
					query.IsNil{Field: "age"},
					query.Not{Expr: query.Compare{Field: "name", Op: query.Eq, Value: query.Literal{Value: "x"}}},
				}}},
			},
			sql:  `DELETE FROM "users" WHERE (("age" IS NULL) OR (NOT ("name" = ?)))`,
			args: []any{"x"},
		},
	} {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			s, err := Compile(tc.d, tc.kind, tc.q)
			require.NoError(t, err)
			assert.Equal(t, adapter.Cacheable, s.Cacheability())
			assert.Equal(t, tc.kind, s.Kind())
			assert.Equal(t, tc.sql, s.SQL())

			sql, args, err := s.Render(tc.params)
			require.NoError(t, err)
			assert.Equal(t, tc.sql, sql)
			assert.Equal(t, tc.args, args)
		})
	}
}

func TestCompileParamList(t *testing.T) {
	t.Parallel()

	q := &query.Query{
		Sources: []query.Source{{Table: "users"}},
		Wheres: []query.Expr{
			query.Compare{Field: "age", Op: query.Gt, Value: query.Param{Index: 0}},
			query.In{Field: "name", Values: query.Param{Index: 1}},
		},
		Select: []string{"name"},
	}

	s, err := Compile(PostgreSQL, adapter.ReadAll, q)
	require.NoError(t, err)
	assert.Equal(t, adapter.NotCacheable, s.Cacheability())
	assert.Panics(t, func() { s.SQL() })

	sql, args, err := s.Render([]any{int64(1), []string{"a", "b", "c"}})
	require.NoError(t, err)
	assert.Equal(t, `SELECT "name" FROM "users" WHERE "age" > $1 AND "name" IN ($2, $3, $4)`, sql)
	assert.Equal(t, []any{int64(1), "a", "b", "c"}, args)

	sql, args, err = s.Render([]any{int64(1), []any{}})
	require.NoError(t, err)
	assert.Equal(t, `SELECT "name" FROM "users" WHERE "age" > $1 AND 1 = 0`, sql)
	assert.Equal(t, []any{int64(1)}, args)

	_, _, err = s.Render([]any{int64(1), "a"})
	assert.Error(t, err)

	_, _, err = s.Render([]any{int64(1)})
	assert.Error(t, err)
}

func TestCompileErrors(t *testing.T) {
	t.Parallel()

	_, err := Compile(SQLite, adapter.ReadAll, &query.Query{
		Sources: []query.Source{{Table: "a"}, {Table: "b"}},
		Select:  []string{"x"},
	})
	assert.Error(t, err)

	_, err = Compile(SQLite, adapter.DeleteAll, &query.Query{
		Sources: []query.Source{{Table: "a"}},
		Limit:   query.Literal{Value: int64(1)},
	})
	assert.Error(t, err)

	s, err := Compile(SQLite, adapter.ReadAll, &query.Query{
		Sources: []query.Source{{Table: "a"}},
		Wheres:  []query.Expr{query.Compare{Field: "x", Op: query.Eq, Value: query.Param{Index: 2}}},
		Select:  []string{"x"},
	})
	require.NoError(t, err)

	_, _, err = s.Render([]any{1})
	assert.Error(t, err)
}

func TestWrites(t *testing.T) {
	t.Parallel()

	users := query.Source{Table: "users"}

	sql, err := Insert(SQLite, users, []string{"name", "age"}, []string{"id"})
	require.NoError(t, err)
	assert.Equal(t, `INSERT INTO "users" ("name", "age") VALUES (?, ?) RETURNING "id"`, sql)

	sql, err = Insert(PostgreSQL, users, []string{"name", "age"}, nil)
	require.NoError(t, err)
	assert.Equal(t, `INSERT INTO "users" ("name", "age") VALUES ($1, $2)`, sql)

	sql, err = Insert(MySQL, users, []string{"name"}, []string{"id"})
	require.NoError(t, err)
	assert.Equal(t, "INSERT INTO `users` (`name`) VALUES (?)", sql)

	sql, err = Insert(SQLite, users, nil, []string{"id"})
	require.NoError(t, err)
	assert.Equal(t, `INSERT INTO "users" DEFAULT VALUES RETURNING "id"`, sql)

	_, err = Insert(HANA, users, nil, nil)
	assert.Error(t, err)

	sql, args := Update(
		PostgreSQL, users,
		adapter.Fields{"name": "b", "age": int64(1)},
		adapter.Filters{"id": int64(1), "deleted": nil},
		[]string{"name"},
	)
	assert.Equal(t, `UPDATE "users" SET "age" = $1, "name" = $2 WHERE "deleted" IS NULL AND "id" = $3 RETURNING "name"`, sql)
	assert.Equal(t, []any{int64(1), "b", int64(1)}, args)

	sql, args = Delete(MySQL, users, adapter.Filters{"id": int64(1)}, []string{"name"})
	assert.Equal(t, "DELETE FROM `users` WHERE `id` = ?", sql)
	assert.Equal(t, []any{int64(1)}, args)

	sql, args = Select(HANA, users, []string{"name", "age"}, adapter.Filters{"id": int64(1)}, true)
	assert.Equal(t, `SELECT "name", "age" FROM "users" WHERE "id" = ? FOR UPDATE`, sql)
	assert.Equal(t, []any{int64(1)}, args)
}

func TestQuote(t *testing.T) {
	t.Parallel()

	assert.Equal(t, `"a""b"`, SQLite.Quote(`a"b`))
	assert.Equal(t, "`a``b`", MySQL.Quote("a`b"))
	assert.Equal(t, `/* a * / b */ SELECT 1`, WithComment("SELECT 1", "a */ b"))
	assert.Equal(t, `SELECT 1`, WithComment("SELECT 1", ""))
}
