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

// Package sqlgen compiles abstract queries and single-record writes into SQL text.
//
// Literal values are never embedded into SQL text; they are passed as arguments,
// so adapters can normalize them the same way as parameters.
package sqlgen

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/FerretDB/adapters/internal/adapter"
	"github.com/FerretDB/adapters/internal/query"
	"github.com/FerretDB/adapters/internal/util/lazyerrors"
)

// Arg is a single statement argument: either a query parameter or a literal value.
type Arg struct {
	// Param is the index of query parameter; -1 for literals.
	Param int
	Value any
}

// Statement is a compiled query.
//
// Statements are immutable and safe for concurrent use.
type Statement struct {
	d    Dialect
	kind adapter.OperationKind
	q    *query.Query

	// empty for statements that are rendered per execution
	sql  string
	args []Arg
}

// Compile compiles the query of the given operation kind.
//
// Queries with lists bound to parameters are not cacheable:
// their SQL text depends on parameter values and is rendered by every Render call.
func Compile(d Dialect, kind adapter.OperationKind, q *query.Query) (*Statement, error) {
	if len(q.Sources) != 1 {
		return nil, lazyerrors.Errorf("%d sources are not supported", len(q.Sources))
	}

	if kind != adapter.ReadAll && (q.Limit != nil || q.Offset != nil || len(q.OrderBy) > 0) {
		return nil, lazyerrors.Errorf("%s does not support ordering, limit, or offset", kind)
	}

	s := &Statement{
		d:    d,
		kind: kind,
		q:    q,
	}

	if q.HasParamList() {
		// check that the query compiles at all
		if _, _, err := build(d, kind, q, nil); err != nil {
			return nil, err
		}

		return s, nil
	}

	var err error
	if s.sql, s.args, err = build(d, kind, q, nil); err != nil {
		return nil, err
	}

	return s, nil
}

// Cacheability returns statement cacheability.
func (s *Statement) Cacheability() adapter.Cacheability {
	if s.sql == "" {
		return adapter.NotCacheable
	}

	return adapter.Cacheable
}

// Kind returns the operation kind.
func (s *Statement) Kind() adapter.OperationKind {
	return s.kind
}

// SQL returns SQL text of a cacheable statement.
//
// It panics for statements that are not cacheable.
func (s *Statement) SQL() string {
	if s.sql == "" {
		panic("sqlgen.Statement.SQL: statement is not cacheable")
	}

	return s.sql
}

// Render returns SQL text and arguments for the given parameters.
func (s *Statement) Render(params []any) (string, []any, error) {
	if s.sql != "" {
		args, err := Bind(s.args, params)
		if err != nil {
			return "", nil, err
		}

		return s.sql, args, nil
	}

	sql, args, err := build(s.d, s.kind, s.q, params)
	if err != nil {
		return "", nil, err
	}

	res, err := Bind(args, params)
	if err != nil {
		return "", nil, err
	}

	return sql, res, nil
}

// Bind resolves statement arguments with the given parameters.
func Bind(args []Arg, params []any) ([]any, error) {
	res := make([]any, len(args))

	for i, a := range args {
		if a.Param < 0 {
			res[i] = a.Value
			continue
		}

		if a.Param >= len(params) {
			return nil, lazyerrors.Errorf("parameter %d is not bound (%d parameters given)", a.Param, len(params))
		}

		res[i] = params[a.Param]
	}

	return res, nil
}

// WithComment returns SQL text with the given comment prepended.
func WithComment(sql, comment string) string {
	if comment == "" {
		return sql
	}

	return "/* " + strings.ReplaceAll(comment, "*/", "* /") + " */ " + sql
}

// compiler renders a single statement.
type compiler struct {
	d      Dialect
	b      strings.Builder
	args   []Arg
	params []any // nil when lists bound to parameters are not expanded
}

// build renders the query; lists bound to parameters are expanded using params
// (or rendered as a single placeholder if params is nil).
func build(d Dialect, kind adapter.OperationKind, q *query.Query, params []any) (string, []Arg, error) {
	c := &compiler{d: d, params: params}

	src := c.source(q.Source())

	switch kind {
	case adapter.ReadAll:
		c.b.WriteString("SELECT ")
		c.columns(q.Select)
		c.b.WriteString(" FROM " + src)

	case adapter.UpdateAll:
		c.b.WriteString("UPDATE " + src + " SET ")

		for i, u := range q.Updates {
			if i > 0 {
				c.b.WriteString(", ")
			}

			c.b.WriteString(d.Quote(u.Field) + " = ")

			if err := c.scalar(u.Value); err != nil {
				return "", nil, err
			}
		}

	case adapter.DeleteAll:
		c.b.WriteString("DELETE FROM " + src)

	default:
		return "", nil, lazyerrors.Errorf("invalid operation kind %s", kind)
	}

	if len(q.Wheres) > 0 {
		c.b.WriteString(" WHERE ")

		for i, w := range q.Wheres {
			if i > 0 {
				c.b.WriteString(" AND ")
			}

			if err := c.expr(w); err != nil {
				return "", nil, err
			}
		}
	}

	if len(q.OrderBy) > 0 {
		c.b.WriteString(" ORDER BY ")

		for i, o := range q.OrderBy {
			if i > 0 {
				c.b.WriteString(", ")
			}

			c.b.WriteString(d.Quote(o.Field))

			if o.Desc {
				c.b.WriteString(" DESC")
			}
		}
	}

	var limit, offset string
	var err error

	if q.Limit != nil {
		if limit, err = c.placeholder(q.Limit); err != nil {
			return "", nil, err
		}
	}

	if q.Offset != nil {
		if offset, err = c.placeholder(q.Offset); err != nil {
			return "", nil, err
		}
	}

	if lo := d.LimitOffset(limit, offset); lo != "" {
		c.b.WriteString(" " + lo)
	}

	return c.b.String(), c.args, nil
}

// source renders a quoted source name.
func (c *compiler) source(s query.Source) string {
	return Source(c.d, s)
}

// columns renders a list of quoted column names.
func (c *compiler) columns(columns []string) {
	for i, col := range columns {
		if i > 0 {
			c.b.WriteString(", ")
		}

		c.b.WriteString(c.d.Quote(col))
	}
}

// arg adds an argument and returns its placeholder.
func (c *compiler) arg(a Arg) string {
	c.args = append(c.args, a)
	return c.d.Placeholder(len(c.args))
}

// placeholder renders a scalar operand as a placeholder.
func (c *compiler) placeholder(op query.Operand) (string, error) {
	switch op := op.(type) {
	case query.Param:
		return c.arg(Arg{Param: op.Index}), nil
	case query.Literal:
		return c.arg(Arg{Param: -1, Value: op.Value}), nil
	default:
		return "", lazyerrors.Errorf("unexpected operand %T", op)
	}
}

// scalar writes a scalar operand.
func (c *compiler) scalar(op query.Operand) error {
	p, err := c.placeholder(op)
	if err != nil {
		return err
	}

	c.b.WriteString(p)

	return nil
}

// expr writes a boolean expression.
func (c *compiler) expr(e query.Expr) error {
	switch e := e.(type) {
	case query.Compare:
		op := string(e.Op)
		if e.Op == query.Ne {
			op = "<>"
		}

		c.b.WriteString(c.d.Quote(e.Field) + " " + op + " ")

		return c.scalar(e.Value)

	case query.In:
		return c.in(e)

	case query.IsNil:
		c.b.WriteString(c.d.Quote(e.Field) + " IS NULL")
		return nil

	case query.Not:
		c.b.WriteString("NOT (")

		if err := c.expr(e.Expr); err != nil {
			return err
		}

		c.b.WriteString(")")

		return nil

	case query.Or:
		c.b.WriteString("(")

		for i, sub := range e.Exprs {
			if i > 0 {
				c.b.WriteString(" OR ")
			}

			c.b.WriteString("(")

			if err := c.expr(sub); err != nil {
				return err
			}

			c.b.WriteString(")")
		}

		c.b.WriteString(")")

		return nil

	default:
		return lazyerrors.Errorf("unexpected expression %T", e)
	}
}

// in writes IN expression.
func (c *compiler) in(e query.In) error {
	var values []Arg

	switch v := e.Values.(type) {
	case query.List:
		for _, op := range v {
			switch op := op.(type) {
			case query.Param:
				values = append(values, Arg{Param: op.Index})
			case query.Literal:
				values = append(values, Arg{Param: -1, Value: op.Value})
			default:
				return lazyerrors.Errorf("unexpected operand %T in list", op)
			}
		}

	case query.Param:
		if c.params == nil {
			// placeholder to check that the rest of the query compiles
			c.b.WriteString(c.d.Quote(e.Field) + " IN (" + c.arg(Arg{Param: v.Index}) + ")")
			return nil
		}

		if v.Index >= len(c.params) {
			return lazyerrors.Errorf("parameter %d is not bound (%d parameters given)", v.Index, len(c.params))
		}

		list, err := toList(c.params[v.Index])
		if err != nil {
			return lazyerrors.Errorf("parameter %d: %s", v.Index, err)
		}

		for _, el := range list {
			values = append(values, Arg{Param: -1, Value: el})
		}

	default:
		return lazyerrors.Errorf("unexpected operand %T", v)
	}

	if len(values) == 0 {
		c.b.WriteString("1 = 0")
		return nil
	}

	c.b.WriteString(c.d.Quote(e.Field) + " IN (")

	for i, a := range values {
		if i > 0 {
			c.b.WriteString(", ")
		}

		c.b.WriteString(c.arg(a))
	}

	c.b.WriteString(")")

	return nil
}

// toList converts a slice of any type to []any.
func toList(v any) ([]any, error) {
	if l, ok := v.([]any); ok {
		return l, nil
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice || rv.Type().Elem().Kind() == reflect.Uint8 {
		return nil, fmt.Errorf("expected a list, got %T", v)
	}

	res := make([]any, rv.Len())
	for i := range res {
		res[i] = rv.Index(i).Interface()
	}

	return res, nil
}
