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
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
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
	source  query.Source
	filter  filter
	sel     []string
	sort    bson.D
	limit   operand
	offset  operand
	updates []update
}

// Token references a compiled query.
type Token struct {
	a *mongoAdapter
	p *Prepared
}

// filter builds a filter document for the given parameters.
type filter func(params []any) (bson.D, error)

// operand resolves a query operand.
type operand func(params []any) (any, error)

// update is a compiled assignment of update-all query.
type update struct {
	field string
	value operand
}

// comparisonOps maps comparison operators to query operators.
var comparisonOps = map[query.Op]string{
	query.Eq: "$eq",
	query.Ne: "$ne",
	query.Lt: "$lt",
	query.Le: "$lte",
	query.Gt: "$gt",
	query.Ge: "$gte",
}

// compile compiles the query.
func compile(kind adapter.OperationKind, q *query.Query) (*Prepared, error) {
	if len(q.Sources) != 1 {
		return nil, lazyerrors.Errorf("joins are not supported, got %d sources", len(q.Sources))
	}

	if kind != adapter.ReadAll && (len(q.OrderBy) > 0 || q.Limit != nil || q.Offset != nil) {
		return nil, lazyerrors.Errorf("%s does not support order, limit, or offset", kind)
	}

	p := &Prepared{
		kind:   kind,
		source: q.Source(),
		sel:    slices.Clone(q.Select),
	}

	for _, o := range q.OrderBy {
		dir := 1
		if o.Desc {
			dir = -1
		}

		p.sort = append(p.sort, bson.E{Key: o.Field, Value: dir})
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

	filters := make([]filter, len(q.Wheres))
	for i, w := range q.Wheres {
		filters[i] = compileExpr(w)
	}

	p.filter = func(params []any) (bson.D, error) {
		switch len(filters) {
		case 0:
			return bson.D{}, nil
		case 1:
			return filters[0](params)
		}

		exprs, err := buildAll(filters, params)
		if err != nil {
			return nil, err
		}

		return bson.D{{Key: "$and", Value: exprs}}, nil
	}

	return p, nil
}

// buildAll builds all filters.
func buildAll(filters []filter, params []any) (bson.A, error) {
	res := make(bson.A, len(filters))

	for i, f := range filters {
		d, err := f(params)
		if err != nil {
			return nil, err
		}

		res[i] = d
	}

	return res, nil
}

// compileExpr compiles a single expression.
func compileExpr(e query.Expr) filter {
	switch e := e.(type) {
	case query.Compare:
		v := compileOperand(e.Value)
		op := comparisonOps[e.Op]

		return func(params []any) (bson.D, error) {
			val, err := v(params)
			if err != nil {
				return nil, err
			}

			// unlike SQL, $ne matches null and missing fields
			if op == "$ne" {
				return bson.D{{Key: e.Field, Value: bson.D{{Key: "$nin", Value: bson.A{val, nil}}}}}, nil
			}

			return bson.D{{Key: e.Field, Value: bson.D{{Key: op, Value: val}}}}, nil
		}

	case query.In:
		var values operand

		switch v := e.Values.(type) {
		case query.List:
			values = compileOperand(v)
		default:
			param := compileOperand(v)
			values = func(params []any) (any, error) {
				val, err := param(params)
				if err != nil {
					return nil, err
				}

				l, err := toList(val)
				if err != nil {
					return nil, err
				}

				return normalize(l), nil
			}
		}

		return func(params []any) (bson.D, error) {
			val, err := values(params)
			if err != nil {
				return nil, err
			}

			return bson.D{{Key: e.Field, Value: bson.D{{Key: "$in", Value: val}}}}, nil
		}

	case query.IsNil:
		return func([]any) (bson.D, error) {
			return bson.D{{Key: e.Field, Value: nil}}, nil
		}

	case query.Not:
		f := compileExpr(e.Expr)

		return func(params []any) (bson.D, error) {
			d, err := f(params)
			if err != nil {
				return nil, err
			}

			return bson.D{{Key: "$nor", Value: bson.A{d}}}, nil
		}

	case query.Or:
		filters := make([]filter, len(e.Exprs))
		for i, x := range e.Exprs {
			filters[i] = compileExpr(x)
		}

		return func(params []any) (bson.D, error) {
			if len(filters) == 0 {
				return bson.D{{Key: "$expr", Value: false}}, nil
			}

			exprs, err := buildAll(filters, params)
			if err != nil {
				return nil, err
			}

			return bson.D{{Key: "$or", Value: exprs}}, nil
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
				return nil, fmt.Errorf("parameter %d is not bound", op.Index)
			}

			return normalize(params[op.Index]), nil
		}

	case query.Literal:
		v := normalize(op.Value)

		return func([]any) (any, error) {
			return v, nil
		}

	case query.List:
		elems := make([]operand, len(op))
		for i, e := range op {
			elems[i] = compileOperand(e)
		}

		return func(params []any) (any, error) {
			res := make([]any, len(elems))

			for i, e := range elems {
				var err error
				if res[i], err = e(params); err != nil {
					return nil, err
				}
			}

			return res, nil
		}

	default:
		panic(fmt.Sprintf("unexpected operand %T", op))
	}
}
