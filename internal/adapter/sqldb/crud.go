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

package sqldb

import (
	"context"
	"database/sql"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/FerretDB/adapters/internal/adapter"
	"github.com/FerretDB/adapters/internal/adapter/sqlgen"
	"github.com/FerretDB/adapters/internal/util/fsql"
	"github.com/FerretDB/adapters/internal/util/lazyerrors"
	"github.com/FerretDB/adapters/internal/util/observability"
)

// querier is implemented by *fsql.DB and *fsql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*fsql.Rows, error)
}

// Insert implements adapter.Adapter interface.
func (a *sqlAdapter) Insert(ctx context.Context, params *adapter.InsertParams) (*adapter.InsertResult, error) {
	defer observability.FuncCall(ctx)()

	var res adapter.Fields

	err := a.db.InTransaction(ctx, func(tx *fsql.Tx) error {
		var err error
		res, err = a.insert(ctx, tx, params.Meta, params.Fields.Keys(), params.Fields, params.Returning, params.Options.CommentText())

		return err
	})
	if err != nil {
		return nil, err
	}

	return &adapter.InsertResult{Fields: res}, nil
}

// InsertAll implements adapter.Adapter interface.
//
// Rows are inserted one by one in a single transaction.
func (a *sqlAdapter) InsertAll(ctx context.Context, params *adapter.InsertAllParams) (*adapter.InsertAllResult, error) {
	defer observability.FuncCall(ctx)()

	res := &adapter.InsertAllResult{
		Count: int64(len(params.Rows)),
	}

	err := a.db.InTransaction(ctx, func(tx *fsql.Tx) error {
		for _, row := range params.Rows {
			// columns missing in the row use storage defaults
			columns := make([]string, 0, len(params.Header))
			for _, h := range params.Header {
				if _, ok := row[h]; ok {
					columns = append(columns, h)
				}
			}

			fields, err := a.insert(ctx, tx, params.Meta, columns, row, params.Returning, params.Options.CommentText())
			if err != nil {
				return err
			}

			if len(params.Returning) == 0 {
				continue
			}

			values := make([]any, len(params.Returning))
			for i, c := range params.Returning {
				values[i] = fields[c]
			}

			res.Rows = append(res.Rows, values)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return res, nil
}

// insert inserts a single row with the given columns.
func (a *sqlAdapter) insert(ctx context.Context, tx *fsql.Tx, meta *adapter.SchemaMeta, columns []string, fields adapter.Fields, returning []string, comment string) (adapter.Fields, error) {
	d := a.drv.dialect

	q, err := sqlgen.Insert(d, meta.Source, columns, returning)
	if err != nil {
		return nil, lazyerrors.Error(err)
	}

	q = sqlgen.WithComment(q, comment)

	values := make([]any, len(columns))
	for i, c := range columns {
		values[i] = fields[c]
	}

	args, err := a.normalizeAll(values)
	if err != nil {
		return nil, lazyerrors.Error(err)
	}

	if d.Returning() && len(returning) > 0 {
		rows, err := queryAll(ctx, tx, q, args, len(returning))
		if err != nil {
			return nil, a.writeError(err, meta.Source.Table)
		}

		if len(rows) != 1 {
			return nil, lazyerrors.Errorf("expected 1 returned row, got %d", len(rows))
		}

		return fieldsOf(returning, rows[0]), nil
	}

	r, err := tx.ExecContext(ctx, q, args...)
	if err != nil {
		return nil, a.writeError(err, meta.Source.Table)
	}

	if len(returning) == 0 {
		return adapter.Fields{}, nil
	}

	return a.returnInserted(ctx, tx, meta, fields, returning, r)
}

// returnInserted returns columns of the inserted row for dialects without RETURNING support.
//
// Written values are echoed; the generated identifier is taken from the driver,
// and other columns are selected by it.
func (a *sqlAdapter) returnInserted(ctx context.Context, tx *fsql.Tx, meta *adapter.SchemaMeta, fields adapter.Fields, returning []string, r sql.Result) (adapter.Fields, error) {
	res := make(adapter.Fields, len(returning))

	var missing []string

	for _, c := range returning {
		if v, ok := fields[c]; ok {
			res[c] = v
		} else {
			missing = append(missing, c)
		}
	}

	if len(missing) == 0 {
		return res, nil
	}

	ag := meta.AutogenerateID
	if ag == nil {
		return nil, lazyerrors.Errorf("%s: columns %v can't be returned without primary key", a.drv.dialect.Name(), missing)
	}

	id, ok := fields[ag.Field]
	if !ok {
		var err error
		if id, err = a.drv.lastInsertID(ctx, tx, r); err != nil {
			return nil, lazyerrors.Error(err)
		}

		res[ag.Field] = id
		missing = slices.DeleteFunc(missing, func(c string) bool { return c == ag.Field })
	}

	if len(missing) == 0 {
		return res, nil
	}

	values, err := a.selectOne(ctx, tx, meta, missing, adapter.Filters{ag.Field: id}, false)
	if err != nil {
		return nil, err
	}

	if values == nil {
		return nil, lazyerrors.Errorf("inserted row %v is not found", id)
	}

	maps.Copy(res, values)

	return res, nil
}

// Update implements adapter.Adapter interface.
func (a *sqlAdapter) Update(ctx context.Context, params *adapter.UpdateParams) (*adapter.UpdateResult, error) {
	defer observability.FuncCall(ctx)()

	d := a.drv.dialect
	meta := params.Meta

	var res adapter.Fields

	err := a.db.InTransaction(ctx, func(tx *fsql.Tx) error {
		q, args := sqlgen.Update(d, meta.Source, params.Fields, params.Filters, params.Returning)
		q = sqlgen.WithComment(q, params.Options.CommentText())

		args, err := a.normalizeAll(args)
		if err != nil {
			return lazyerrors.Error(err)
		}

		if d.Returning() && len(params.Returning) > 0 {
			rows, err := queryAll(ctx, tx, q, args, len(params.Returning))
			if err != nil {
				return a.writeError(err, meta.Source.Table)
			}

			if len(rows) == 0 {
				return adapter.NewError(adapter.ErrorCodeStale, nil)
			}

			res = fieldsOf(params.Returning, rows[0])

			return nil
		}

		if err = execAffected(ctx, tx, q, args); err != nil {
			return a.writeError(err, meta.Source.Table)
		}

		res = adapter.Fields{}

		var missing []string

		for _, c := range params.Returning {
			if _, ok := params.Fields[c]; !ok {
				missing = append(missing, c)
			}
		}

		if len(missing) == 0 {
			return nil
		}

		// select the updated record by its new values
		filters := maps.Clone(params.Filters)
		for k := range filters {
			if v, ok := params.Fields[k]; ok {
				filters[k] = v
			}
		}

		values, err := a.selectOne(ctx, tx, meta, missing, filters, false)
		if err != nil {
			return err
		}

		if values == nil {
			return lazyerrors.New("updated record is not found")
		}

		res = values

		return nil
	})
	if err != nil {
		return nil, err
	}

	return &adapter.UpdateResult{Fields: res}, nil
}

// Delete implements adapter.Adapter interface.
func (a *sqlAdapter) Delete(ctx context.Context, params *adapter.DeleteParams) (*adapter.DeleteResult, error) {
	defer observability.FuncCall(ctx)()

	d := a.drv.dialect
	meta := params.Meta

	res := adapter.Fields{}

	err := a.db.InTransaction(ctx, func(tx *fsql.Tx) error {
		// read returning columns before the record is gone
		if !d.Returning() && len(params.Returning) > 0 {
			values, err := a.selectOne(ctx, tx, meta, params.Returning, params.Filters, true)
			if err != nil {
				return err
			}

			if values == nil {
				return adapter.NewError(adapter.ErrorCodeStale, nil)
			}

			res = values
		}

		q, args := sqlgen.Delete(d, meta.Source, params.Filters, params.Returning)
		q = sqlgen.WithComment(q, params.Options.CommentText())

		args, err := a.normalizeAll(args)
		if err != nil {
			return lazyerrors.Error(err)
		}

		if d.Returning() && len(params.Returning) > 0 {
			rows, err := queryAll(ctx, tx, q, args, len(params.Returning))
			if err != nil {
				return a.writeError(err, meta.Source.Table)
			}

			if len(rows) == 0 {
				return adapter.NewError(adapter.ErrorCodeStale, nil)
			}

			res = fieldsOf(params.Returning, rows[0])

			return nil
		}

		if err = execAffected(ctx, tx, q, args); err != nil {
			return a.writeError(err, meta.Source.Table)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return &adapter.DeleteResult{Fields: res}, nil
}

// selectOne selects columns of the first record matching filters.
//
// It returns nil if there are no such records.
func (a *sqlAdapter) selectOne(ctx context.Context, tx *fsql.Tx, meta *adapter.SchemaMeta, columns []string, filters adapter.Filters, lock bool) (adapter.Fields, error) {
	q, args := sqlgen.Select(a.drv.dialect, meta.Source, columns, filters, lock)

	args, err := a.normalizeAll(args)
	if err != nil {
		return nil, lazyerrors.Error(err)
	}

	rows, err := queryAll(ctx, tx, q, args, len(columns))
	if err != nil {
		return nil, lazyerrors.Error(err)
	}

	if len(rows) == 0 {
		return nil, nil
	}

	return fieldsOf(columns, rows[0]), nil
}

// writeError returns ErrorCodeInvalid error for constraint violations
// and fatal error for everything else.
func (a *sqlAdapter) writeError(err error, table string) error {
	if e, ok := err.(*adapter.Error); ok { //nolint:errorlint // do not inspect error chain
		return e
	}

	if cs := a.drv.constraints(err, table); len(cs) > 0 {
		return adapter.NewInvalidError(err, cs...)
	}

	return lazyerrors.Error(err)
}

// execAffected executes the statement and returns ErrorCodeStale error if no rows were affected.
func execAffected(ctx context.Context, q querier, query string, args []any) error {
	r, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}

	n, err := r.RowsAffected()
	if err != nil {
		return err
	}

	if n == 0 {
		return adapter.NewError(adapter.ErrorCodeStale, nil)
	}

	return nil
}

// queryAll returns all rows of n columns.
func queryAll(ctx context.Context, q querier, query string, args []any, n int) (res [][]any, err error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}

	defer func() {
		if e := rows.Close(); e != nil && err == nil {
			err = e
		}
	}()

	for rows.Next() {
		var values []any
		if values, err = rows.ScanValues(n); err != nil {
			return nil, err
		}

		res = append(res, values)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	return res, nil
}

// fieldsOf returns fields of the given columns and values.
func fieldsOf(columns []string, values []any) adapter.Fields {
	res := make(adapter.Fields, len(columns))
	for i, c := range columns {
		res[c] = values[i]
	}

	return res
}
