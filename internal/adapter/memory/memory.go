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

// Package memory provides the reference in-memory adapter.
//
// Tables are declared at construction together with their constraints.
// All data is kept in memory and guarded by a single lock.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/FerretDB/adapters/internal/adapter"
	"github.com/FerretDB/adapters/internal/adapter/autogen"
	"github.com/FerretDB/adapters/internal/coerce"
	"github.com/FerretDB/adapters/internal/query"
	"github.com/FerretDB/adapters/internal/util/lazyerrors"
	"github.com/FerretDB/adapters/internal/util/observability"
)

// TableSpec declares a table and its constraints.
type TableSpec struct {
	Prefix      *string
	Name        string
	PrimaryKey  string
	Unique      []UniqueSpec
	ForeignKeys []ForeignKeySpec
	Checks      []CheckSpec
}

// UniqueSpec declares a unique constraint over one or more columns.
type UniqueSpec struct {
	Name    string
	Columns []string
}

// ForeignKeySpec declares a foreign key constraint.
//
// RefTable is the referenced table's name in the same prefix.
type ForeignKeySpec struct {
	Name      string
	Column    string
	RefTable  string
	RefColumn string
}

// CheckSpec declares a check constraint.
type CheckSpec struct {
	Name  string
	Check func(row adapter.Fields) bool
}

// pkeyName returns the name of the primary key constraint.
func (s *TableSpec) pkeyName() string {
	return s.Name + "_pkey"
}

// source returns the table source.
func (s *TableSpec) source() query.Source {
	return query.Source{Prefix: s.Prefix, Table: s.Name}
}

// table holds the rows of a single table in insertion order.
type table struct {
	spec TableSpec
	rows []adapter.Fields
}

// memoryAdapter implements adapter.Adapter.
type memoryAdapter struct {
	coerce.DefaultPipeline

	l   *zap.Logger
	seq *autogen.Sequence

	rw     sync.RWMutex
	tables map[string]*table
}

// NewAdapterParams represents the parameters of NewAdapter function.
//
//nolint:vet // for readability
type NewAdapterParams struct {
	Tables []TableSpec
	L      *zap.Logger

	// SequenceStart is the first value of autogenerated integer identifiers; 1 if zero.
	SequenceStart int64
}

// NewAdapter creates a new in-memory adapter.
func NewAdapter(params *NewAdapterParams) (adapter.Adapter[*Prepared, *Token], error) {
	start := params.SequenceStart
	if start == 0 {
		start = 1
	}

	a := &memoryAdapter{
		l:      params.L,
		seq:    autogen.NewSequence(start),
		tables: make(map[string]*table, len(params.Tables)),
	}

	for _, spec := range params.Tables {
		key := spec.source().String()
		if _, ok := a.tables[key]; ok {
			return nil, lazyerrors.Errorf("duplicate table %q", key)
		}

		a.tables[key] = &table{spec: spec}
	}

	for _, t := range a.tables {
		for _, fk := range t.spec.ForeignKeys {
			ref := query.Source{Prefix: t.spec.Prefix, Table: fk.RefTable}.String()
			if _, ok := a.tables[ref]; !ok {
				return nil, lazyerrors.Errorf("foreign key %q references unknown table %q", fk.Name, ref)
			}
		}
	}

	return adapter.AdapterContract(a, params.L), nil
}

// Close implements adapter.Adapter interface.
func (a *memoryAdapter) Close() {
	a.rw.Lock()
	defer a.rw.Unlock()

	a.tables = nil
}

// rowsDesc describes the number of rows gauge.
var rowsDesc = prometheus.NewDesc(
	prometheus.BuildFQName("ferretdb_adapters", "memory", "rows"),
	"The current number of rows in the table.",
	[]string{"table"},
	nil,
)

// Describe implements prometheus.Collector.
func (a *memoryAdapter) Describe(ch chan<- *prometheus.Desc) {
	ch <- rowsDesc
}

// Collect implements prometheus.Collector.
func (a *memoryAdapter) Collect(ch chan<- prometheus.Metric) {
	a.rw.RLock()
	defer a.rw.RUnlock()

	for name, t := range a.tables {
		ch <- prometheus.MustNewConstMetric(rowsDesc, prometheus.GaugeValue, float64(len(t.rows)), name)
	}
}

// Prepare implements adapter.Adapter interface.
//
// All compiled queries are cacheable.
func (a *memoryAdapter) Prepare(params *adapter.PrepareParams) (*adapter.PrepareResult[*Prepared], error) {
	p, err := compile(params.Kind, params.Query)
	if err != nil {
		return nil, err
	}

	return &adapter.PrepareResult[*Prepared]{
		Cacheability: adapter.Cacheable,
		Prepared:     p,
	}, nil
}

// Execute implements adapter.Adapter interface.
func (a *memoryAdapter) Execute(ctx context.Context, params *adapter.ExecuteParams[*Prepared, *Token]) (*adapter.ExecuteResult, error) {
	defer observability.FuncCall(ctx)()

	var p *Prepared
	var register func(*Token)

	switch d := params.Query.(type) {
	case adapter.NotCached[*Prepared, *Token]:
		p = d.Prepared
	case adapter.Cached[*Prepared, *Token]:
		p = d.Token.p
	case adapter.FirstCache[*Prepared, *Token]:
		p = d.Prepared
		register = d.Register
	}

	if len(params.Params) < p.params {
		return nil, lazyerrors.Errorf("expected %d parameters, got %d", p.params, len(params.Params))
	}

	var res *adapter.ExecuteResult
	var err error

	switch p.kind {
	case adapter.ReadAll:
		res, err = a.readAll(p, params)
	case adapter.UpdateAll:
		res, err = a.updateAll(p, params.Params)
	case adapter.DeleteAll:
		res, err = a.deleteAll(p, params.Params)
	default:
		panic(fmt.Sprintf("unexpected kind %s", p.kind))
	}

	if err != nil {
		return nil, err
	}

	if register != nil {
		register(&Token{p: p})
	}

	return res, nil
}

// Autogenerate implements adapter.Adapter interface.
func (a *memoryAdapter) Autogenerate(kind adapter.AutogenerateKind) (any, error) {
	switch kind {
	case adapter.AutogenerateID:
		return a.seq.Next(), nil
	case adapter.AutogenerateBinaryID, adapter.AutogenerateEmbedID:
		return autogen.UUID(), nil
	default:
		return nil, lazyerrors.Errorf("%w: %s", adapter.ErrUnsupportedAutogenerate, kind)
	}
}

// Insert implements adapter.Adapter interface.
func (a *memoryAdapter) Insert(ctx context.Context, params *adapter.InsertParams) (*adapter.InsertResult, error) {
	defer observability.FuncCall(ctx)()

	a.rw.Lock()
	defer a.rw.Unlock()

	t, err := a.table(params.Meta.Source)
	if err != nil {
		return nil, err
	}

	row := normalizeRow(params.Fields)
	if err = a.checkRow(t, row, -1); err != nil {
		return nil, err
	}

	a.insertRow(t, row)

	return &adapter.InsertResult{Fields: project(row, params.Returning)}, nil
}

// InsertAll implements adapter.Adapter interface.
//
// The whole batch is checked before any row is written.
func (a *memoryAdapter) InsertAll(ctx context.Context, params *adapter.InsertAllParams) (*adapter.InsertAllResult, error) {
	defer observability.FuncCall(ctx)()

	a.rw.Lock()
	defer a.rw.Unlock()

	t, err := a.table(params.Meta.Source)
	if err != nil {
		return nil, err
	}

	orig := t.rows
	t.rows = slices.Clip(t.rows)

	rows := make([]adapter.Fields, len(params.Rows))

	for i, r := range params.Rows {
		rows[i] = normalizeRow(r)

		if err = a.checkRow(t, rows[i], -1); err != nil {
			t.rows = orig
			return nil, err
		}

		t.rows = append(t.rows, rows[i])
	}

	t.rows = orig

	res := &adapter.InsertAllResult{
		Count: int64(len(rows)),
	}

	for _, row := range rows {
		a.insertRow(t, row)

		if len(params.Returning) > 0 {
			res.Rows = append(res.Rows, values(row, params.Returning))
		}
	}

	return res, nil
}

// Update implements adapter.Adapter interface.
func (a *memoryAdapter) Update(ctx context.Context, params *adapter.UpdateParams) (*adapter.UpdateResult, error) {
	defer observability.FuncCall(ctx)()

	a.rw.Lock()
	defer a.rw.Unlock()

	t, err := a.table(params.Meta.Source)
	if err != nil {
		return nil, err
	}

	idx := t.match(params.Filters)
	if len(idx) == 0 {
		return nil, adapter.NewError(adapter.ErrorCodeStale, errors.New("no rows matched filters"))
	}

	updated := make([]adapter.Fields, len(idx))

	for i, j := range idx {
		row := maps.Clone(t.rows[j])
		maps.Copy(row, normalizeRow(params.Fields))

		if err = a.checkRow(t, row, j); err != nil {
			return nil, err
		}

		if err = a.checkReferenced(t, t.rows[j], row); err != nil {
			return nil, err
		}

		updated[i] = row
	}

	for i, j := range idx {
		a.replaceRow(t, j, updated[i])
	}

	return &adapter.UpdateResult{Fields: project(updated[0], params.Returning)}, nil
}

// Delete implements adapter.Adapter interface.
func (a *memoryAdapter) Delete(ctx context.Context, params *adapter.DeleteParams) (*adapter.DeleteResult, error) {
	defer observability.FuncCall(ctx)()

	a.rw.Lock()
	defer a.rw.Unlock()

	t, err := a.table(params.Meta.Source)
	if err != nil {
		return nil, err
	}

	idx := t.match(params.Filters)
	if len(idx) == 0 {
		return nil, adapter.NewError(adapter.ErrorCodeStale, errors.New("no rows matched filters"))
	}

	for _, j := range idx {
		if err = a.checkReferenced(t, t.rows[j], nil); err != nil {
			return nil, err
		}
	}

	res := project(t.rows[idx[0]], params.Returning)
	t.deleteRows(idx)

	return &adapter.DeleteResult{Fields: res}, nil
}

// table returns the table for the given source.
//
// The caller must hold the lock.
func (a *memoryAdapter) table(s query.Source) (*table, error) {
	return a.tableByKey(s.String())
}

// insertRow appends the row; it must be checked first.
func (a *memoryAdapter) insertRow(t *table, row adapter.Fields) {
	if id, ok := row[t.spec.PrimaryKey].(int64); ok {
		a.seq.Observe(id)
	}

	t.rows = append(t.rows, row)
}

// replaceRow replaces the row with the given index; it must be checked first.
func (a *memoryAdapter) replaceRow(t *table, j int, row adapter.Fields) {
	if id, ok := row[t.spec.PrimaryKey].(int64); ok {
		a.seq.Observe(id)
	}

	t.rows[j] = row
}

// checkRow checks constraints of the row that would be written to the table.
//
// Row with index skip (the old version of the updated row) is ignored; -1 ignores nothing.
func (a *memoryAdapter) checkRow(t *table, row adapter.Fields, skip int) error {
	var violated []adapter.Constraint

	uniques := t.spec.Unique
	if t.spec.PrimaryKey != "" {
		uniques = append([]UniqueSpec{{Name: t.spec.pkeyName(), Columns: []string{t.spec.PrimaryKey}}}, uniques...)
	}

	for _, u := range uniques {
		if t.conflicts(u.Columns, row, skip) {
			violated = append(violated, adapter.Constraint{Type: adapter.ConstraintUnique, Name: u.Name})
		}
	}

	for _, fk := range t.spec.ForeignKeys {
		v := row[fk.Column]
		if v == nil {
			continue
		}

		ref := a.tables[query.Source{Prefix: t.spec.Prefix, Table: fk.RefTable}.String()]
		if len(ref.match(adapter.Filters{fk.RefColumn: v})) == 0 {
			violated = append(violated, adapter.Constraint{Type: adapter.ConstraintForeignKey, Name: fk.Name})
		}
	}

	for _, c := range t.spec.Checks {
		if !c.Check(row) {
			violated = append(violated, adapter.Constraint{Type: adapter.ConstraintCheck, Name: c.Name})
		}
	}

	if len(violated) == 0 {
		return nil
	}

	return adapter.NewInvalidError(fmt.Errorf("table %q: constraints violated: %v", t.spec.Name, violated), violated...)
}

// checkReferenced checks that no rows reference old row's columns that change in updated row.
//
// Nil updated row means deletion.
func (a *memoryAdapter) checkReferenced(t *table, old, updated adapter.Fields) error {
	var violated []adapter.Constraint

	for _, other := range a.tables {
		if !samePrefix(other.spec.Prefix, t.spec.Prefix) {
			continue
		}

		for _, fk := range other.spec.ForeignKeys {
			if fk.RefTable != t.spec.Name {
				continue
			}

			v := old[fk.RefColumn]
			if v == nil || (updated != nil && equalValues(v, updated[fk.RefColumn])) {
				continue
			}

			if len(other.match(adapter.Filters{fk.Column: v})) > 0 {
				violated = append(violated, adapter.Constraint{Type: adapter.ConstraintForeignKey, Name: fk.Name})
			}
		}
	}

	if len(violated) == 0 {
		return nil
	}

	return adapter.NewInvalidError(fmt.Errorf("table %q: referenced by %v", t.spec.Name, violated), violated...)
}

// samePrefix returns true if both prefixes are absent or equal.
func samePrefix(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}

	return *a == *b
}

// match returns indexes of rows matching all filters.
//
// Nil filter value matches nil column.
func (t *table) match(filters adapter.Filters) []int {
	var res []int

	for i, row := range t.rows {
		ok := true

		for k, v := range filters {
			if v == nil {
				ok = row[k] == nil
			} else {
				ok = equalValues(row[k], v)
			}

			if !ok {
				break
			}
		}

		if ok {
			res = append(res, i)
		}
	}

	return res
}

// conflicts returns true if another row has the same non-nil values for all columns.
func (t *table) conflicts(columns []string, row adapter.Fields, skip int) bool {
	for _, c := range columns {
		if row[c] == nil {
			return false
		}
	}

	for i, other := range t.rows {
		if i == skip {
			continue
		}

		same := true

		for _, c := range columns {
			if !equalValues(row[c], other[c]) {
				same = false
				break
			}
		}

		if same {
			return true
		}
	}

	return false
}

// deleteRows deletes rows with given sorted indexes.
func (t *table) deleteRows(idx []int) {
	rows := make([]adapter.Fields, 0, len(t.rows)-len(idx))

	for i, row := range t.rows {
		if _, found := slices.BinarySearch(idx, i); !found {
			rows = append(rows, row)
		}
	}

	t.rows = rows
}

// normalizeRow returns a copy of fields with normalized values.
func normalizeRow(fields adapter.Fields) adapter.Fields {
	res := make(adapter.Fields, len(fields))
	for k, v := range fields {
		res[k] = normalize(v)
	}

	return res
}

// project returns returning columns of the row.
func project(row adapter.Fields, returning []string) adapter.Fields {
	res := make(adapter.Fields, len(returning))
	for _, r := range returning {
		res[r] = row[r]
	}

	return res
}

// values returns values of the given columns of the row.
func values(row adapter.Fields, columns []string) []any {
	res := make([]any, len(columns))
	for i, c := range columns {
		res[i] = row[c]
	}

	return res
}

// check interfaces
var (
	_ adapter.Adapter[*Prepared, *Token] = (*memoryAdapter)(nil)
)
