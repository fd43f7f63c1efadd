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

package postgresql

import (
	"context"
	"errors"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/FerretDB/adapters/internal/adapter"
	"github.com/FerretDB/adapters/internal/adapter/sqlgen"
	"github.com/FerretDB/adapters/internal/coerce"
	"github.com/FerretDB/adapters/internal/util/lazyerrors"
	"github.com/FerretDB/adapters/internal/util/observability"
)

// querier is implemented by *pgxpool.Pool and pgx.Tx.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// queryAll returns values of all rows.
func queryAll(ctx context.Context, q querier, sql string, args []any) ([][]any, error) {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}

	return collect(rows)
}

// collect returns values of all rows and closes them.
func collect(rows pgx.Rows) ([][]any, error) {
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) ([]any, error) {
		values, err := row.Values()
		if err != nil {
			return nil, err
		}

		if err = decodeJSON(row.FieldDescriptions(), row.RawValues(), values); err != nil {
			return nil, err
		}

		return values, nil
	})
}

// decodeJSON replaces json and jsonb values decoded by pgx with values decoded from raw data.
//
// pgx decodes all JSON numbers as float64; integers are kept as int64 there.
func decodeJSON(fds []pgconn.FieldDescription, raw [][]byte, values []any) error {
	for i, fd := range fds {
		if raw[i] == nil {
			continue
		}

		b := raw[i]

		switch fd.DataTypeOID {
		case pgtype.JSONOID:
		case pgtype.JSONBOID:
			// binary jsonb starts with the format version byte
			if fd.Format == pgtype.BinaryFormatCode {
				if len(b) == 0 || b[0] != 1 {
					return lazyerrors.Errorf("unsupported jsonb format version")
				}

				b = b[1:]
			}
		default:
			continue
		}

		v, err := coerce.DecodeJSON(b)
		if err != nil {
			return lazyerrors.Error(err)
		}

		values[i] = v
	}

	return nil
}

// insertSQL returns INSERT statement and arguments for a single row with the given columns.
func insertSQL(meta *adapter.SchemaMeta, columns []string, fields adapter.Fields, returning []string, comment string) (string, []any, error) {
	q, err := sqlgen.Insert(sqlgen.PostgreSQL, meta.Source, columns, returning)
	if err != nil {
		return "", nil, lazyerrors.Error(err)
	}

	args := make([]any, len(columns))
	for i, c := range columns {
		args[i] = normalize(fields[c])
	}

	return sqlgen.WithComment(q, comment), args, nil
}

// Insert implements adapter.Adapter interface.
func (a *pgAdapter) Insert(ctx context.Context, params *adapter.InsertParams) (*adapter.InsertResult, error) {
	defer observability.FuncCall(ctx)()

	q, args, err := insertSQL(params.Meta, params.Fields.Keys(), params.Fields, params.Returning, params.Options.CommentText())
	if err != nil {
		return nil, err
	}

	if len(params.Returning) == 0 {
		if _, err = a.p.Exec(ctx, q, args...); err != nil {
			return nil, writeError(err)
		}

		return &adapter.InsertResult{Fields: adapter.Fields{}}, nil
	}

	rows, err := queryAll(ctx, a.p, q, args)
	if err != nil {
		return nil, writeError(err)
	}

	if len(rows) != 1 {
		return nil, lazyerrors.Errorf("expected 1 returned row, got %d", len(rows))
	}

	return &adapter.InsertResult{Fields: fieldsOf(params.Returning, rows[0])}, nil
}

// InsertAll implements adapter.Adapter interface.
//
// Rows are sent as a single batch in a transaction.
func (a *pgAdapter) InsertAll(ctx context.Context, params *adapter.InsertAllParams) (*adapter.InsertAllResult, error) {
	defer observability.FuncCall(ctx)()

	b := new(pgx.Batch)

	for _, row := range params.Rows {
		// columns missing in the row use storage defaults
		columns := make([]string, 0, len(params.Header))
		for _, h := range params.Header {
			if _, ok := row[h]; ok {
				columns = append(columns, h)
			}
		}

		q, args, err := insertSQL(params.Meta, columns, row, params.Returning, params.Options.CommentText())
		if err != nil {
			return nil, err
		}

		b.Queue(q, args...)
	}

	res := &adapter.InsertAllResult{
		Count: int64(len(params.Rows)),
	}

	err := pgx.BeginFunc(ctx, a.p, func(tx pgx.Tx) error {
		br := tx.SendBatch(ctx, b)

		rows, err := batchRows(br, b.Len(), len(params.Returning) > 0)
		if closeErr := br.Close(); err == nil {
			err = closeErr
		}

		if err != nil {
			return err
		}

		res.Rows = rows

		return nil
	})
	if err != nil {
		return nil, writeError(err)
	}

	return res, nil
}

// batchRows returns the returned row of each of n queued inserts.
func batchRows(br pgx.BatchResults, n int, returning bool) ([][]any, error) {
	res := make([][]any, 0, n)

	for range n {
		rows, err := br.Query()
		if err != nil {
			return nil, err
		}

		values, err := collect(rows)
		if err != nil {
			return nil, err
		}

		if !returning {
			continue
		}

		if len(values) != 1 {
			return nil, lazyerrors.Errorf("expected 1 returned row, got %d", len(values))
		}

		res = append(res, values[0])
	}

	return res, nil
}

// Update implements adapter.Adapter interface.
func (a *pgAdapter) Update(ctx context.Context, params *adapter.UpdateParams) (*adapter.UpdateResult, error) {
	defer observability.FuncCall(ctx)()

	q, args := sqlgen.Update(sqlgen.PostgreSQL, params.Meta.Source, params.Fields, params.Filters, params.Returning)
	q = sqlgen.WithComment(q, params.Options.CommentText())

	res, err := a.writeOne(ctx, q, normalizeAll(args), params.Returning)
	if err != nil {
		return nil, err
	}

	return &adapter.UpdateResult{Fields: res}, nil
}

// Delete implements adapter.Adapter interface.
func (a *pgAdapter) Delete(ctx context.Context, params *adapter.DeleteParams) (*adapter.DeleteResult, error) {
	defer observability.FuncCall(ctx)()

	q, args := sqlgen.Delete(sqlgen.PostgreSQL, params.Meta.Source, params.Filters, params.Returning)
	q = sqlgen.WithComment(q, params.Options.CommentText())

	res, err := a.writeOne(ctx, q, normalizeAll(args), params.Returning)
	if err != nil {
		return nil, err
	}

	return &adapter.DeleteResult{Fields: res}, nil
}

// writeOne executes UPDATE or DELETE statement that should affect a single record.
//
// It returns ErrorCodeStale error if no records were affected.
func (a *pgAdapter) writeOne(ctx context.Context, q string, args []any, returning []string) (adapter.Fields, error) {
	if len(returning) == 0 {
		tag, err := a.p.Exec(ctx, q, args...)
		if err != nil {
			return nil, writeError(err)
		}

		if tag.RowsAffected() == 0 {
			return nil, adapter.NewError(adapter.ErrorCodeStale, nil)
		}

		return adapter.Fields{}, nil
	}

	rows, err := queryAll(ctx, a.p, q, args)
	if err != nil {
		return nil, writeError(err)
	}

	if len(rows) == 0 {
		return nil, adapter.NewError(adapter.ErrorCodeStale, nil)
	}

	return fieldsOf(returning, rows[0]), nil
}

// fieldsOf returns fields with the given names and values.
func fieldsOf(names []string, values []any) adapter.Fields {
	res := make(adapter.Fields, len(names))
	for i, n := range names {
		res[n] = values[i]
	}

	return res
}

// constraintTypes maps PostgreSQL error codes to constraint types.
var constraintTypes = map[string]adapter.ConstraintType{
	pgerrcode.UniqueViolation:     adapter.ConstraintUnique,
	pgerrcode.ForeignKeyViolation: adapter.ConstraintForeignKey,
	pgerrcode.CheckViolation:      adapter.ConstraintCheck,
	pgerrcode.ExclusionViolation:  adapter.ConstraintExclusion,
}

// constraints returns constraints violated by a write, or nil.
func constraints(err error) []adapter.Constraint {
	var e *pgconn.PgError
	if !errors.As(err, &e) {
		return nil
	}

	t, ok := constraintTypes[e.Code]
	if !ok {
		return nil
	}

	return []adapter.Constraint{{Type: t, Name: e.ConstraintName}}
}

// writeError returns ErrorCodeInvalid error for constraint violations
// and fatal error for everything else.
func writeError(err error) error {
	if e, ok := err.(*adapter.Error); ok { //nolint:errorlint // do not inspect error chain
		return e
	}

	if cs := constraints(err); len(cs) > 0 {
		return adapter.NewInvalidError(err, cs...)
	}

	return lazyerrors.Error(err)
}
