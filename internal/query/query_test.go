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

package query

import (
	"testing"

	"github.com/AlekSi/pointer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate(t *testing.T) {
	t.Parallel()

	for name, tc := range map[string]struct {
		q   *Query
		err string
	}{
		"Valid": {
			q: &Query{
				Sources: []Source{{Table: "users"}},
				Wheres: []Expr{
					Compare{Field: "name", Op: Eq, Value: Param{Index: 0}},
					Or{Exprs: []Expr{IsNil{Field: "age"}, Not{Expr: In{Field: "age", Values: List{Literal{1}, Param{1}}}}}},
				},
				Select:  []string{"id", "name"},
				OrderBy: []Order{{Field: "id", Desc: true}},
				Limit:   Literal{Value: 10},
			},
		},
		"NoSources": {
			q:   &Query{},
			err: "query has no sources",
		},
		"EmptyTable": {
			q:   &Query{Sources: []Source{{}}},
			err: "source 0 has empty table name",
		},
		"NegativeParam": {
			q: &Query{
				Sources: []Source{{Table: "users"}},
				Wheres:  []Expr{Compare{Field: "id", Op: Eq, Value: Param{Index: -1}}},
			},
			err: "negative parameter index -1",
		},
		"UnknownOp": {
			q: &Query{
				Sources: []Source{{Table: "users"}},
				Wheres:  []Expr{Compare{Field: "id", Op: "~", Value: Literal{1}}},
			},
			err: `unknown operator "~"`,
		},
		"InLiteral": {
			q: &Query{
				Sources: []Source{{Table: "users"}},
				Wheres:  []Expr{In{Field: "id", Values: Literal{1}}},
			},
			err: `IN of "id" requires a list or a parameter, got query.Literal`,
		},
		"EmptyOr": {
			q: &Query{
				Sources: []Source{{Table: "users"}},
				Wheres:  []Expr{Or{}},
			},
			err: "empty OR",
		},
		"ListLimit": {
			q: &Query{
				Sources: []Source{{Table: "users"}},
				Limit:   List{},
			},
			err: "list is not allowed in limit or offset",
		},
		"EmptyUpdateField": {
			q: &Query{
				Sources: []Source{{Table: "users"}},
				Updates: []Set{{Value: Literal{1}}},
			},
			err: "empty update field",
		},
	} {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			err := tc.q.Validate()
			if tc.err == "" {
				require.NoError(t, err)
				return
			}

			require.EqualError(t, err, tc.err)
		})
	}
}

func TestParamCount(t *testing.T) {
	t.Parallel()

	q := &Query{
		Sources: []Source{{Table: "users"}},
		Wheres: []Expr{
			Compare{Field: "name", Op: Eq, Value: Param{Index: 2}},
			In{Field: "id", Values: List{Param{Index: 0}, Literal{5}}},
		},
		Limit: Param{Index: 3},
	}
	assert.Equal(t, 4, q.ParamCount())
	assert.False(t, q.HasParamList())

	q = &Query{Sources: []Source{{Table: "users"}}}
	assert.Equal(t, 0, q.ParamCount())

	q.Wheres = []Expr{Not{Expr: In{Field: "id", Values: Param{Index: 0}}}}
	assert.Equal(t, 1, q.ParamCount())
	assert.True(t, q.HasParamList())
}

func TestFingerprint(t *testing.T) {
	t.Parallel()

	base := func() *Query {
		return &Query{
			Sources: []Source{{Table: "users"}},
			Wheres:  []Expr{Compare{Field: "name", Op: Eq, Value: Param{Index: 0}}},
			Select:  []string{"id", "name"},
		}
	}

	assert.Equal(t, base().Fingerprint(), base().Fingerprint())

	withLiteral := func(v any) *Query {
		q := base()
		q.Wheres = append(q.Wheres, Compare{Field: "age", Op: Gt, Value: Literal{v}})
		return q
	}

	assert.Equal(t, withLiteral(int64(18)).Fingerprint(), withLiteral(int64(18)).Fingerprint())
	assert.NotEqual(t, withLiteral(int64(18)).Fingerprint(), withLiteral(int64(21)).Fingerprint())
	assert.NotEqual(t, withLiteral(int64(18)).Fingerprint(), withLiteral(int32(18)).Fingerprint())
	assert.NotEqual(t, base().Fingerprint(), withLiteral(int64(18)).Fingerprint())

	prefixed := base()
	prefixed.Prefix = pointer.ToString("tenant")
	assert.NotEqual(t, base().Fingerprint(), prefixed.Fingerprint())

	selected := base()
	selected.Select = []string{"name", "id"}
	assert.NotEqual(t, base().Fingerprint(), selected.Fingerprint())
}

func TestSource(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "users", Source{Table: "users"}.String())
	assert.Equal(t, "public.users", Source{Prefix: pointer.ToString("public"), Table: "users"}.String())

	q := &Query{Prefix: pointer.ToString("tenant"), Sources: []Source{{Table: "users"}}}
	assert.Equal(t, "tenant.users", q.Source().String())

	q.Sources[0].Prefix = pointer.ToString("public")
	assert.Equal(t, "public.users", q.Source().String())
}
