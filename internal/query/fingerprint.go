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
	"fmt"
	"io"

	"github.com/cespare/xxhash/v2"
)

// Fingerprint returns a key identifying logically identical queries.
//
// It is used by callers as a cache key.
// Queries that differ only in parameter values have the same fingerprint.
func (q *Query) Fingerprint() uint64 {
	h := xxhash.New()
	q.writeTo(h)

	return h.Sum64()
}

// writeTo writes a canonical representation of the query to w.
func (q *Query) writeTo(w io.Writer) {
	if q.Prefix != nil {
		fmt.Fprintf(w, "prefix %q ", *q.Prefix)
	}

	fmt.Fprint(w, "from")

	for _, s := range q.Sources {
		if s.Prefix != nil {
			fmt.Fprintf(w, " %q.%q", *s.Prefix, s.Table)
			continue
		}

		fmt.Fprintf(w, " %q", s.Table)
	}

	if len(q.Wheres) > 0 {
		fmt.Fprint(w, " where")

		for _, e := range q.Wheres {
			fmt.Fprint(w, " ")
			writeExpr(w, e)
		}
	}

	if len(q.Select) > 0 {
		fmt.Fprintf(w, " select %q", q.Select)
	}

	for _, o := range q.OrderBy {
		fmt.Fprintf(w, " order %q %t", o.Field, o.Desc)
	}

	if q.Limit != nil {
		fmt.Fprint(w, " limit ")
		writeOperand(w, q.Limit)
	}

	if q.Offset != nil {
		fmt.Fprint(w, " offset ")
		writeOperand(w, q.Offset)
	}

	for _, s := range q.Updates {
		fmt.Fprintf(w, " set %q ", s.Field)
		writeOperand(w, s.Value)
	}
}

func writeExpr(w io.Writer, e Expr) {
	switch e := e.(type) {
	case Compare:
		fmt.Fprintf(w, "(%q %s ", e.Field, e.Op)
		writeOperand(w, e.Value)
		fmt.Fprint(w, ")")
	case In:
		fmt.Fprintf(w, "(%q in ", e.Field)
		writeOperand(w, e.Values)
		fmt.Fprint(w, ")")
	case IsNil:
		fmt.Fprintf(w, "(%q is nil)", e.Field)
	case Not:
		fmt.Fprint(w, "(not ")
		writeExpr(w, e.Expr)
		fmt.Fprint(w, ")")
	case Or:
		fmt.Fprint(w, "(or")

		for _, el := range e.Exprs {
			fmt.Fprint(w, " ")
			writeExpr(w, el)
		}

		fmt.Fprint(w, ")")
	default:
		fmt.Fprintf(w, "(%T)", e)
	}
}

func writeOperand(w io.Writer, op Operand) {
	switch op := op.(type) {
	case Param:
		fmt.Fprintf(w, "$%d", op.Index)
	case Literal:
		fmt.Fprintf(w, "%T(%#v)", op.Value, op.Value)
	case List:
		fmt.Fprint(w, "[")

		for i, el := range op {
			if i > 0 {
				fmt.Fprint(w, ", ")
			}

			writeOperand(w, el)
		}

		fmt.Fprint(w, "]")
	default:
		fmt.Fprintf(w, "%T", op)
	}
}
