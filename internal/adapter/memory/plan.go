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

package memory

import (
	"fmt"
	"reflect"

	"golang.org/x/exp/slices"

	"github.com/FerretDB/adapters/internal/adapter"
	"github.com/FerretDB/adapters/internal/query"
	"github.com/FerretDB/adapters/internal/util/lazyerrors"
)

// Prepared is a compiled query.
//
// It is immutable and safe for concurrent use.
type Prepared struct {
	kind    adapter.OperationKind
	table   string
	where   matcher
	sel     []string
	order   []query.Order
	limit   operand
	offset  operand
	updates []update
	params  int
}

// Token references a compiled query.
type Token struct {
	p *Prepared
}

// truth is a value of three-valued logic, as in SQL.
type truth int8

const (
	truthFalse truth = iota
	truthUnknown
	truthTrue
)

// not returns the negation; unknown stays unknown.
func (t truth) not() truth {
	return truthTrue - t
}

// truthOf converts bool to truth.
func truthOf(b bool) truth {
	if b {
		return truthTrue
	}

	return truthFalse
}

// predicate evaluates a where condition for a single row.
type predicate func(row map[string]any, params []any) (truth, error)

// matcher reports whether all where conditions are true for a single row.
type matcher func(row map[string]any, params []any) (bool, error)

// operand resolves a query operand.
type operand func(params []any) (any, error)

// update is a compiled assignment of update-all query.
type update struct {
	field string
	value operand
}

// compile compiles the query.
func compile(kind adapter.OperationKind, q *query.Query) (*Prepared, error) {
	if len(q.Sources) != 1 {
		return nil, lazyerrors.Errorf("joins are not supported, got %d sources", len(q.Sources))
	}

	p := &Prepared{
		kind:   kind,
		table:  q.Source().String(),
		sel:    slices.Clone(q.Select),
		order:  slices.Clone(q.OrderBy),
		params: q.ParamCount(),
	}

	preds := make([]predicate, len(q.Wheres))
	for i, w := range q.Wheres {
		preds[i] = compileExpr(w)
	}

	p.where = func(row map[string]any, params []any) (bool, error) {
		for _, pred := range preds {
			res, err := pred(row, params)
			if err != nil || res != truthTrue {
				return false, err
			}
		}

		return true, nil
	}

	if q.Limit != nil {
		p.limit = compileOperand(q.Limit)
	}

	if q.Offset != nil {
		p.offset = compileOperand(q.Offset)
	}

	for _, s := range q.Updates {
		p.updates = append(p.updates, update{field: s.Field, value: compileOperand(s.Value)})
	}

	return p, nil
}

// compileExpr compiles a single expression.
func compileExpr(e query.Expr) predicate {
	switch e := e.(type) {
	case query.Compare:
		value := compileOperand(e.Value)

		return func(row map[string]any, params []any) (truth, error) {
			v, err := value(params)
			if err != nil {
				return truthFalse, err
			}

			return compareOp(e.Op, row[e.Field], v), nil
		}

	case query.In:
		values := compileOperand(e.Values)

		return func(row map[string]any, params []any) (truth, error) {
			v, err := values(params)
			if err != nil {
				return truthFalse, err
			}

			list, err := toList(v)
			if err != nil {
				return truthFalse, err
			}

			if len(list) == 0 {
				return truthFalse, nil
			}

			fv := row[e.Field]
			if fv == nil {
				return truthUnknown, nil
			}

			res := truthFalse

			for _, el := range list {
				if el == nil {
					res = truthUnknown
					continue
				}

				if equalValues(fv, el) {
					return truthTrue, nil
				}
			}

			return res, nil
		}

	case query.IsNil:
		return func(row map[string]any, _ []any) (truth, error) {
			return truthOf(row[e.Field] == nil), nil
		}

	case query.Not:
		inner := compileExpr(e.Expr)

		return func(row map[string]any, params []any) (truth, error) {
			res, err := inner(row, params)
			if err != nil {
				return truthFalse, err
			}

			return res.not(), nil
		}

	case query.Or:
		inner := make([]predicate, len(e.Exprs))
		for i, el := range e.Exprs {
			inner[i] = compileExpr(el)
		}

		return func(row map[string]any, params []any) (truth, error) {
			res := truthFalse

			for _, pred := range inner {
				t, err := pred(row, params)
				if err != nil {
					return truthFalse, err
				}

				res = max(res, t)
				if res == truthTrue {
					break
				}
			}

			return res, nil
		}

	default:
		panic(fmt.Sprintf("unexpected expression %T", e))
	}
}

// compileOperand compiles a single operand.
func compileOperand(op query.Operand) operand {
	switch op := op.(type) {
	case query.Param:
		return func(params []any) (any, error) {
			if op.Index >= len(params) {
				return nil, lazyerrors.Errorf("parameter %d is not bound", op.Index)
			}

			return params[op.Index], nil
		}

	case query.Literal:
		return func([]any) (any, error) {
			return op.Value, nil
		}

	case query.List:
		els := make([]operand, len(op))
		for i, el := range op {
			els[i] = compileOperand(el)
		}

		return func(params []any) (any, error) {
			res := make([]any, len(els))

			for i, el := range els {
				v, err := el(params)
				if err != nil {
					return nil, err
				}

				res[i] = v
			}

			return res, nil
		}

	default:
		panic(fmt.Sprintf("unexpected operand %T", op))
	}
}

// compareOp applies comparison operator.
//
// Comparisons with nil and of incomparable values are unknown.
func compareOp(op query.Op, a, b any) truth {
	if a == nil || b == nil {
		return truthUnknown
	}

	if op == query.Eq {
		return truthOf(equalValues(a, b))
	}

	if op == query.Ne {
		return truthOf(!equalValues(a, b))
	}

	c, ok := compareValues(a, b)
	if !ok {
		return truthUnknown
	}

	switch op {
	case query.Lt:
		return truthOf(c < 0)
	case query.Le:
		return truthOf(c <= 0)
	case query.Gt:
		return truthOf(c > 0)
	case query.Ge:
		return truthOf(c >= 0)
	default:
		return truthUnknown
	}
}

// toList converts IN values to a slice.
func toList(v any) ([]any, error) {
	if l, ok := v.([]any); ok {
		return l, nil
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice {
		return nil, lazyerrors.Errorf("IN requires a slice, got %T", v)
	}

	res := make([]any, rv.Len())
	for i := range res {
		res[i] = rv.Index(i).Interface()
	}

	return res, nil
}

// toInt converts limit or offset value to int.
func toInt(v any) (int, error) {
	switch v := normalize(v).(type) {
	case int64:
		if v < 0 {
			return 0, lazyerrors.Errorf("negative value %d", v)
		}

		return int(v), nil
	default:
		return 0, lazyerrors.Errorf("expected integer, got %T", v)
	}
}
