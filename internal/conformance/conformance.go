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

// Package conformance provides backend-agnostic checks of adapter behavior.
//
// Checks are used by adapter tests and by adaptertool.
// They operate on conformance_users and conformance_posts tables
// that are created by fixtures provided by this package.
// Every run uses unique values, so checks can be run repeatedly against the same database.
package conformance

import (
	"bytes"
	"context"
	"fmt"
	"reflect"
	"time"

	"github.com/google/uuid"

	"github.com/FerretDB/adapters/internal/adapter"
	"github.com/FerretDB/adapters/internal/coerce"
	"github.com/FerretDB/adapters/internal/query"
	"github.com/FerretDB/adapters/internal/util/must"
)

// Params represents the parameters of Checks function.
//
//nolint:vet // for readability
type Params struct {
	// IDField is the name of the primary key field of fixture tables.
	IDField string

	// IDKind is the kind of primary key.
	IDKind adapter.AutogenerateKind

	// Prefix is the prefix (schema) of fixture tables; may be nil.
	Prefix *string

	// ForeignKeys is true if the backend enforces foreign keys.
	ForeignKeys bool

	// NamedForeignKeys is true if the backend reports foreign key constraint names.
	NamedForeignKeys bool

	// CheckConstraints is true if the backend enforces check constraints.
	CheckConstraints bool
}

// Check is a single named check.
type Check struct {
	Name string
	Run  func(ctx context.Context) error
}

// suite holds the state shared by checks.
type suite[P, T any] struct {
	a   adapter.Adapter[P, T]
	p   *Params
	run string
}

// Checks returns all checks for the given adapter.
//
// Checks should be run sequentially.
func Checks[P, T any](a adapter.Adapter[P, T], params *Params) []Check {
	s := &suite[P, T]{
		a:   a,
		p:   params,
		run: uuid.NewString()[:8],
	}

	return []Check{
		{Name: "RoundTrip", Run: s.roundTrip},
		{Name: "CacheCorrectness", Run: s.cacheCorrectness},
		{Name: "Staleness", Run: s.staleness},
		{Name: "ConstraintReporting", Run: s.constraintReporting},
		{Name: "Autogeneration", Run: s.autogeneration},
		{Name: "IdempotentRegistration", Run: s.idempotentRegistration},
		{Name: "ExampleScenario", Run: s.exampleScenario},
		{Name: "CoercionFailure", Run: s.coercionFailure},
		{Name: "ExecuteWrites", Run: s.executeWrites},
	}
}

// name returns a unique name value for this run.
func (s *suite[P, T]) name(tag string) string {
	return tag + "-" + s.run
}

// idType returns the coercion type of primary key.
func (s *suite[P, T]) idType() coerce.Type {
	if s.p.IDKind == adapter.AutogenerateID {
		return coerce.ID
	}

	return coerce.BinaryID
}

// columnType returns the coercion type of users table column.
func (s *suite[P, T]) columnType(column string) coerce.Type {
	if column == s.p.IDField {
		return s.idType()
	}

	for _, c := range UserColumns {
		if c.Name == column {
			return c.Type
		}
	}

	panic(fmt.Sprintf("unknown column %q", column))
}

// source returns the source of the given fixture table.
func (s *suite[P, T]) source(table string) query.Source {
	return query.Source{Prefix: s.p.Prefix, Table: table}
}

// meta returns schema meta of the given fixture table with primary key autogeneration.
func (s *suite[P, T]) meta(table string) *adapter.SchemaMeta {
	return &adapter.SchemaMeta{
		Source: s.source(table),
		Schema: table,
		AutogenerateID: &adapter.AutogenerateField{
			Field: s.p.IDField,
			Kind:  s.p.IDKind,
		},
	}
}

// dump dumps domain values of users table columns.
func (s *suite[P, T]) dump(values map[string]any) (adapter.Fields, error) {
	res := make(adapter.Fields, len(values))

	for k, v := range values {
		d, err := coerce.Dump(s.a, s.columnType(k), v)
		if err != nil {
			return nil, err
		}

		res[k] = d
	}

	return res, nil
}

// nonexistentID returns a dumped primary key value that does not exist.
func (s *suite[P, T]) nonexistentID() (any, error) {
	if s.p.IDKind == adapter.AutogenerateID {
		return coerce.Dump(s.a, coerce.ID, int64(-1))
	}

	return coerce.Dump(s.a, coerce.BinaryID, uuid.New())
}

// insertUser inserts a user with the given domain values and returns its primary key.
func (s *suite[P, T]) insertUser(ctx context.Context, values map[string]any) (any, error) {
	fields, err := s.dump(values)
	if err != nil {
		return nil, err
	}

	res, err := s.a.Insert(ctx, &adapter.InsertParams{
		Meta:   s.meta(UsersTable),
		Fields: fields,
	})
	if err != nil {
		return nil, err
	}

	id := res.Fields[s.p.IDField]
	if id == nil {
		return nil, fmt.Errorf("insert result does not contain %q: %v", s.p.IDField, res.Fields)
	}

	return id, nil
}

// queryMeta returns query meta for the given selected users table columns.
func (s *suite[P, T]) queryMeta(columns []string) *adapter.QueryMeta {
	meta := &adapter.QueryMeta{
		Prefix:  s.p.Prefix,
		Sources: []query.Source{s.source(UsersTable)},
		Select:  adapter.SelectMap,
		Fields:  make([]adapter.FieldMeta, len(columns)),
	}

	for i, c := range columns {
		meta.Fields[i] = adapter.FieldMeta{Name: c, Type: s.columnType(c)}
	}

	return meta
}

// readUsers reads users table with a one-off compiled query and loads values through the pipeline.
func (s *suite[P, T]) readUsers(ctx context.Context, q *query.Query, params ...any) (*adapter.ExecuteResult, error) {
	if q.Sources == nil {
		q.Sources = []query.Source{s.source(UsersTable)}
	}

	prepared, err := s.a.Prepare(&adapter.PrepareParams{Kind: adapter.ReadAll, Query: q})
	if err != nil {
		return nil, err
	}

	return s.a.Execute(ctx, &adapter.ExecuteParams[P, T]{
		Meta:      s.queryMeta(q.Select),
		Query:     adapter.NotCached[P, T]{Prepared: prepared.Prepared},
		Params:    params,
		Processor: adapter.LoadProcessor(s.a),
	})
}

// countByName returns the number of users with the given name.
func (s *suite[P, T]) countByName(ctx context.Context, name string) (int64, error) {
	res, err := s.readUsers(ctx, &query.Query{
		Wheres: []query.Expr{query.Compare{Field: "name", Op: query.Eq, Value: query.Param{Index: 0}}},
		Select: []string{"name"},
	}, must.NotFail(coerce.Dump(s.a, coerce.String, name)))
	if err != nil {
		return 0, err
	}

	return res.Count, nil
}

// expectCode returns an error if err is not *adapter.Error with the given code.
func expectCode(err error, code adapter.ErrorCode) error {
	if err == nil {
		return fmt.Errorf("expected %s, got no error", code)
	}

	if !adapter.ErrorCodeIs(err, code) {
		return fmt.Errorf("expected %s, got %w", code, err)
	}

	return nil
}

// expectConstraint returns an error if err is not ErrorCodeInvalid with the given constraint.
//
// Empty name matches any name.
func expectConstraint(err error, typ adapter.ConstraintType, name string) error {
	if e := expectCode(err, adapter.ErrorCodeInvalid); e != nil {
		return e
	}

	cs := adapter.ErrorConstraints(err)
	for _, c := range cs {
		if c.Type == typ && (name == "" || c.Name == name) {
			return nil
		}
	}

	return fmt.Errorf("expected %s constraint %q, got %v", typ, name, cs)
}

// expectEqual returns an error if values are not equal.
func expectEqual(what string, expected, actual any) error {
	if sameValue(expected, actual) {
		return nil
	}

	return fmt.Errorf("%s: expected %#v (%T), got %#v (%T)", what, expected, expected, actual, actual)
}

// sameValue returns true if values are equal.
func sameValue(expected, actual any) bool {
	switch e := expected.(type) {
	case time.Time:
		a, ok := actual.(time.Time)
		return ok && e.Equal(a)
	case []byte:
		a, ok := actual.([]byte)
		return ok && bytes.Equal(e, a)
	case []any:
		a, ok := actual.([]any)
		if !ok || len(e) != len(a) {
			return false
		}

		for i := range e {
			if !sameValue(e[i], a[i]) {
				return false
			}
		}

		return true
	default:
		return reflect.DeepEqual(expected, actual)
	}
}
