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
	"strings"

	"github.com/FerretDB/adapters/internal/adapter"
	"github.com/FerretDB/adapters/internal/query"
	"github.com/FerretDB/adapters/internal/util/lazyerrors"
)

// Source returns a quoted source name with optional prefix.
func Source(d Dialect, s query.Source) string {
	if s.Prefix == nil {
		return d.Quote(s.Table)
	}

	return d.Quote(*s.Prefix) + "." + d.Quote(s.Table)
}

// Insert returns INSERT statement for the given columns.
//
// Arguments should be passed in the same order as columns.
// RETURNING clause is rendered only if the dialect supports it.
func Insert(d Dialect, s query.Source, columns, returning []string) (string, error) {
	src := Source(d, s)

	var sql string

	if len(columns) == 0 {
		if sql = d.DefaultValues(src); sql == "" {
			return "", lazyerrors.Errorf("%s: insert without columns is not supported", d.Name())
		}
	} else {
		cols := make([]string, len(columns))
		placeholders := make([]string, len(columns))

		for i, c := range columns {
			cols[i] = d.Quote(c)
			placeholders[i] = d.Placeholder(i + 1)
		}

		sql = "INSERT INTO " + src + " (" + strings.Join(cols, ", ") + ") VALUES (" + strings.Join(placeholders, ", ") + ")"
	}

	return sql + returningClause(d, returning), nil
}

// Update returns UPDATE statement and its arguments.
//
// Columns are rendered in sorted order.
// Nil filter values match NULLs.
func Update(d Dialect, s query.Source, fields adapter.Fields, filters adapter.Filters, returning []string) (string, []any) {
	var args []any
	var b strings.Builder

	b.WriteString("UPDATE " + Source(d, s) + " SET ")

	for i, k := range fields.Keys() {
		if i > 0 {
			b.WriteString(", ")
		}

		args = append(args, fields[k])
		b.WriteString(d.Quote(k) + " = " + d.Placeholder(len(args)))
	}

	args = where(d, &b, filters, args)
	b.WriteString(returningClause(d, returning))

	return b.String(), args
}

// Delete returns DELETE statement and its arguments.
func Delete(d Dialect, s query.Source, filters adapter.Filters, returning []string) (string, []any) {
	var b strings.Builder

	b.WriteString("DELETE FROM " + Source(d, s))

	args := where(d, &b, filters, nil)
	b.WriteString(returningClause(d, returning))

	return b.String(), args
}

// Select returns SELECT statement of the given columns of records matching filters.
//
// It is used to read returning columns by dialects without RETURNING support.
// If lock is true, selected rows are locked for update.
func Select(d Dialect, s query.Source, columns []string, filters adapter.Filters, lock bool) (string, []any) {
	var b strings.Builder

	cols := make([]string, len(columns))
	for i, c := range columns {
		cols[i] = d.Quote(c)
	}

	b.WriteString("SELECT " + strings.Join(cols, ", ") + " FROM " + Source(d, s))

	args := where(d, &b, filters, nil)

	if lock {
		b.WriteString(" FOR UPDATE")
	}

	return b.String(), args
}

// where writes WHERE clause for filters and returns updated args.
func where(d Dialect, b *strings.Builder, filters adapter.Filters, args []any) []any {
	for i, k := range filters.Keys() {
		if i == 0 {
			b.WriteString(" WHERE ")
		} else {
			b.WriteString(" AND ")
		}

		v := filters[k]
		if v == nil {
			b.WriteString(d.Quote(k) + " IS NULL")
			continue
		}

		args = append(args, v)
		b.WriteString(d.Quote(k) + " = " + d.Placeholder(len(args)))
	}

	return args
}

// returningClause returns RETURNING clause or empty string.
func returningClause(d Dialect, returning []string) string {
	if len(returning) == 0 || !d.Returning() {
		return ""
	}

	cols := make([]string, len(returning))
	for i, c := range returning {
		cols[i] = d.Quote(c)
	}

	return " RETURNING " + strings.Join(cols, ", ")
}
