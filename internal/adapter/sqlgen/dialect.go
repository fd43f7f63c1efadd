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
	"strconv"
	"strings"
)

// Dialect describes differences between SQL dialects.
type Dialect interface {
	// Name returns the dialect name used in logs and metric labels.
	Name() string

	// Quote quotes an identifier.
	Quote(ident string) string

	// Placeholder returns the placeholder for the n-th (1-based) argument.
	Placeholder(n int) string

	// Returning returns true if INSERT, UPDATE, and DELETE support RETURNING clause.
	Returning() bool

	// LimitOffset renders LIMIT and OFFSET clauses; either argument may be empty.
	LimitOffset(limit, offset string) string

	// DefaultValues renders an INSERT of a row with default values only;
	// empty string means that it is not supported.
	DefaultValues(table string) string
}

// Dialects.
var (
	SQLite     Dialect = sqliteDialect{}
	PostgreSQL Dialect = postgresqlDialect{}
	MySQL      Dialect = mysqlDialect{}
	HANA       Dialect = hanaDialect{}
)

// quoteWith quotes identifier with the given quote character, doubling embedded quotes.
func quoteWith(ident, q string) string {
	return q + strings.ReplaceAll(ident, q, q+q) + q
}

// limitOffset renders LIMIT and OFFSET using the given maximum limit when only OFFSET is set.
func limitOffset(limit, offset, max string) string {
	switch {
	case limit == "" && offset == "":
		return ""
	case offset == "":
		return "LIMIT " + limit
	case limit == "":
		return "LIMIT " + max + " OFFSET " + offset
	default:
		return "LIMIT " + limit + " OFFSET " + offset
	}
}

type sqliteDialect struct{}

func (sqliteDialect) Name() string                      { return "sqlite" }
func (sqliteDialect) Quote(ident string) string         { return quoteWith(ident, `"`) }
func (sqliteDialect) Placeholder(int) string            { return "?" }
func (sqliteDialect) Returning() bool                   { return true }
func (sqliteDialect) DefaultValues(table string) string { return "INSERT INTO " + table + " DEFAULT VALUES" }

func (sqliteDialect) LimitOffset(limit, offset string) string {
	return limitOffset(limit, offset, "-1")
}

type postgresqlDialect struct{}

func (postgresqlDialect) Name() string              { return "postgresql" }
func (postgresqlDialect) Quote(ident string) string { return quoteWith(ident, `"`) }
func (postgresqlDialect) Placeholder(n int) string  { return "$" + strconv.Itoa(n) }
func (postgresqlDialect) Returning() bool           { return true }

func (postgresqlDialect) DefaultValues(table string) string {
	return "INSERT INTO " + table + " DEFAULT VALUES"
}

func (postgresqlDialect) LimitOffset(limit, offset string) string {
	var res []string

	if limit != "" {
		res = append(res, "LIMIT "+limit)
	}

	if offset != "" {
		res = append(res, "OFFSET "+offset)
	}

	return strings.Join(res, " ")
}

type mysqlDialect struct{}

func (mysqlDialect) Name() string                      { return "mysql" }
func (mysqlDialect) Quote(ident string) string         { return quoteWith(ident, "`") }
func (mysqlDialect) Placeholder(int) string            { return "?" }
func (mysqlDialect) Returning() bool                   { return false }
func (mysqlDialect) DefaultValues(table string) string { return "INSERT INTO " + table + " () VALUES ()" }

func (mysqlDialect) LimitOffset(limit, offset string) string {
	return limitOffset(limit, offset, "18446744073709551615")
}

type hanaDialect struct{}

func (hanaDialect) Name() string                { return "hana" }
func (hanaDialect) Quote(ident string) string   { return quoteWith(ident, `"`) }
func (hanaDialect) Placeholder(int) string      { return "?" }
func (hanaDialect) Returning() bool             { return false }
func (hanaDialect) DefaultValues(string) string { return "" }

func (hanaDialect) LimitOffset(limit, offset string) string {
	return limitOffset(limit, offset, "2147483647")
}

// check interfaces
var (
	_ Dialect = sqliteDialect{}
	_ Dialect = postgresqlDialect{}
	_ Dialect = mysqlDialect{}
	_ Dialect = hanaDialect{}
)
