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

// Package query provides the abstract query value passed to adapters.
//
// Queries are produced by the query builder (a collaborator outside this module).
// Adapters compile them into backend-specific representations and never modify them.
package query

import (
	"fmt"
	"strings"
)

// Source names a storage location (table or collection), optionally inside a prefix (schema).
type Source struct {
	Prefix *string
	Table  string
}

// String returns "prefix.table" or "table".
func (s Source) String() string {
	if s.Prefix == nil {
		return s.Table
	}

	return *s.Prefix + "." + s.Table
}

// Operand is a value in query: either Param, Literal, or List.
type Operand interface {
	operand() // seal for sumtype
}

// Param is a positional parameter bound at execution time.
type Param struct {
	Index int
}

// Literal is a value embedded in the query shape.
type Literal struct {
	Value any
}

// List is a list of operands used by In.
type List []Operand

func (Param) operand()   {}
func (Literal) operand() {}
func (List) operand()    {}

// Op is a comparison operator.
type Op string

// Comparison operators.
const (
	Eq Op = "="
	Ne Op = "!="
	Lt Op = "<"
	Le Op = "<="
	Gt Op = ">"
	Ge Op = ">="
)

// Expr is a boolean expression: Compare, In, IsNil, Not, or Or.
type Expr interface {
	expr() // seal for sumtype
}

// Compare compares field with the value.
type Compare struct {
	Field string
	Op    Op
	Value Operand
}

// In checks that field value is one of the values.
//
// Values is either List or Param bound to a slice.
type In struct {
	Field  string
	Values Operand
}

// IsNil checks that field is nil (NULL).
type IsNil struct {
	Field string
}

// Not negates the expression.
type Not struct {
	Expr Expr
}

// Or is a disjunction of expressions.
type Or struct {
	Exprs []Expr
}

func (Compare) expr() {}
func (In) expr()      {}
func (IsNil) expr()   {}
func (Not) expr()     {}
func (Or) expr()      {}

// Order is a single ORDER BY term.
type Order struct {
	Field string
	Desc  bool
}

// Set is a single assignment of update-all query.
type Set struct {
	Field string
	Value Operand
}

// Query is an abstract query.
//
// Wheres are ANDed.
// Select lists fields of the first source; empty Select is valid only for update-all and delete-all.
// Updates are used only by update-all.
// Limit and Offset may be nil.
type Query struct {
	Prefix  *string
	Sources []Source
	Wheres  []Expr
	Select  []string
	OrderBy []Order
	Limit   Operand
	Offset  Operand
	Updates []Set
}

// Source returns the first (main) source with query prefix applied.
func (q *Query) Source() Source {
	s := q.Sources[0]
	if s.Prefix == nil {
		s.Prefix = q.Prefix
	}

	return s
}

// Validate checks that query is well-formed.
func (q *Query) Validate() error {
	if len(q.Sources) == 0 {
		return fmt.Errorf("query has no sources")
	}

	for i, s := range q.Sources {
		if s.Table == "" {
			return fmt.Errorf("source %d has empty table name", i)
		}
	}

	for _, w := range q.Wheres {
		if err := validateExpr(w); err != nil {
			return err
		}
	}

	for _, f := range q.Select {
		if f == "" {
			return fmt.Errorf("empty select field")
		}
	}

	for _, o := range q.OrderBy {
		if o.Field == "" {
			return fmt.Errorf("empty order by field")
		}
	}

	for _, op := range []Operand{q.Limit, q.Offset} {
		switch op := op.(type) {
		case nil:
		case List:
			return fmt.Errorf("list is not allowed in limit or offset")
		default:
			if err := validateOperand(op); err != nil {
				return err
			}
		}
	}

	for _, s := range q.Updates {
		if s.Field == "" {
			return fmt.Errorf("empty update field")
		}

		if _, ok := s.Value.(List); ok {
			return fmt.Errorf("list is not allowed in update of %q", s.Field)
		}

		if err := validateOperand(s.Value); err != nil {
			return err
		}
	}

	return nil
}

// validateExpr checks a single expression recursively.
func validateExpr(e Expr) error {
	switch e := e.(type) {
	case Compare:
		if e.Field == "" {
			return fmt.Errorf("empty field in comparison")
		}

		switch e.Op {
		case Eq, Ne, Lt, Le, Gt, Ge:
		default:
			return fmt.Errorf("unknown operator %q", e.Op)
		}

		if _, ok := e.Value.(List); ok {
			return fmt.Errorf("list is not allowed in comparison of %q", e.Field)
		}

		return validateOperand(e.Value)

	case In:
		if e.Field == "" {
			return fmt.Errorf("empty field in IN")
		}

		switch v := e.Values.(type) {
		case Param:
			return validateOperand(v)
		case List:
			for _, el := range v {
				if _, ok := el.(List); ok {
					return fmt.Errorf("nested list in IN of %q", e.Field)
				}

				if err := validateOperand(el); err != nil {
					return err
				}
			}

			return nil
		default:
			return fmt.Errorf("IN of %q requires a list or a parameter, got %T", e.Field, e.Values)
		}

	case IsNil:
		if e.Field == "" {
			return fmt.Errorf("empty field in IS NULL")
		}

		return nil

	case Not:
		if e.Expr == nil {
			return fmt.Errorf("empty NOT")
		}

		return validateExpr(e.Expr)

	case Or:
		if len(e.Exprs) == 0 {
			return fmt.Errorf("empty OR")
		}

		for _, el := range e.Exprs {
			if err := validateExpr(el); err != nil {
				return err
			}
		}

		return nil

	default:
		return fmt.Errorf("unexpected expression %T", e)
	}
}

// validateOperand checks a single operand.
func validateOperand(op Operand) error {
	switch op := op.(type) {
	case Param:
		if op.Index < 0 {
			return fmt.Errorf("negative parameter index %d", op.Index)
		}

		return nil
	case Literal:
		return nil
	case List:
		for _, el := range op {
			if err := validateOperand(el); err != nil {
				return err
			}
		}

		return nil
	default:
		return fmt.Errorf("unexpected operand %T", op)
	}
}

// ParamCount returns the highest referenced parameter index + 1.
func (q *Query) ParamCount() int {
	var res int

	Walk(q, func(p Param) {
		res = max(res, p.Index+1)
	})

	return res
}

// Walk calls f for every parameter referenced by query, in query order.
func Walk(q *Query, f func(Param)) {
	var walkOp func(Operand)
	walkOp = func(op Operand) {
		switch op := op.(type) {
		case Param:
			f(op)
		case List:
			for _, el := range op {
				walkOp(el)
			}
		}
	}

	var walkExpr func(Expr)
	walkExpr = func(e Expr) {
		switch e := e.(type) {
		case Compare:
			walkOp(e.Value)
		case In:
			walkOp(e.Values)
		case Not:
			walkExpr(e.Expr)
		case Or:
			for _, el := range e.Exprs {
				walkExpr(el)
			}
		}
	}

	for _, s := range q.Updates {
		walkOp(s.Value)
	}

	for _, w := range q.Wheres {
		walkExpr(w)
	}

	walkOp(q.Limit)
	walkOp(q.Offset)
}

// HasParamList returns true if query contains IN with a parameter bound to a slice.
//
// The compiled form of such query depends on the parameter length.
func (q *Query) HasParamList() bool {
	var found func(Expr) bool
	found = func(e Expr) bool {
		switch e := e.(type) {
		case In:
			_, ok := e.Values.(Param)
			return ok
		case Not:
			return found(e.Expr)
		case Or:
			for _, el := range e.Exprs {
				if found(el) {
					return true
				}
			}
		}

		return false
	}

	for _, w := range q.Wheres {
		if found(w) {
			return true
		}
	}

	return false
}

// String returns a canonical representation of the query.
//
// Literal values are part of it, parameter values are not.
func (q *Query) String() string {
	var b strings.Builder
	q.writeTo(&b)

	return b.String()
}
