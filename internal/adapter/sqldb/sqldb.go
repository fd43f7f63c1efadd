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

// Package sqldb provides the adapter for SQL databases accessed through database/sql:
// SQLite (modernc.org/sqlite), MySQL (go-sql-driver/mysql), and SAP HANA (SAP/go-hdb).
//
// Compiled queries are sqlgen statements.
// Cache tokens refer to statements prepared on the connection pool.
// Statements are shared by SQL text and closed together with the adapter.
package sqldb

import (
	"context"
	"database/sql"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/FerretDB/adapters/internal/adapter"
	"github.com/FerretDB/adapters/internal/adapter/autogen"
	"github.com/FerretDB/adapters/internal/adapter/sqlgen"
	"github.com/FerretDB/adapters/internal/util/fsql"
	"github.com/FerretDB/adapters/internal/util/lazyerrors"
	"github.com/FerretDB/adapters/internal/util/observability"
	"github.com/FerretDB/adapters/internal/util/resource"
)

// Token is a cache token: a compiled statement and its prepared statement.
type Token struct {
	s *sqlgen.Statement

	// nil for statements that are rendered per execution
	p *prepared
}

// stmt returns prepared statement or nil.
func (t *Token) stmt() *fsql.Stmt {
	if t.p == nil {
		return nil
	}

	return t.p.stmt
}

// prepared is a statement prepared on the connection pool.
//
// It is shared by all tokens of statements with the same SQL text.
type prepared struct {
	stmt  *fsql.Stmt
	token *resource.Token
}

// close closes prepared statement.
func (p *prepared) close() error {
	resource.Untrack(p, p.token)

	return p.stmt.Close()
}

// sqlAdapter implements adapter.Adapter interface.
type sqlAdapter struct {
	db  *fsql.DB
	drv *driver
	l   *zap.Logger

	rw     sync.RWMutex
	stmts  map[string]*prepared // keyed by SQL text
	closed bool
}

// NewAdapterParams represents the parameters of NewAdapter function.
//
//nolint:vet // for readability
type NewAdapterParams struct {
	// Driver is one of "sqlite", "mysql", or "hdb".
	Driver string
	URI    string
	L      *zap.Logger

	// Bootstrap statements are executed in order after the connection is established.
	Bootstrap []string
}

// NewAdapter creates a new adapter.
func NewAdapter(params *NewAdapterParams) (adapter.Adapter[*sqlgen.Statement, *Token], error) {
	drv := drivers[params.Driver]
	if drv == nil {
		return nil, lazyerrors.Errorf("unsupported driver %q", params.Driver)
	}

	sqlDB, err := drv.open(params.URI)
	if err != nil {
		return nil, lazyerrors.Error(err)
	}

	l := params.L.Named(drv.dialect.Name())

	db := fsql.WrapDB(sqlDB, drv.dialect.Name(), l)

	ctx := context.Background()

	if err = db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, lazyerrors.Error(err)
	}

	for _, q := range params.Bootstrap {
		if _, err = db.ExecContext(ctx, q); err != nil {
			if drv.ignoreBootstrap(err) {
				l.Debug("Bootstrap statement error ignored", zap.String("query", q), zap.Error(err))
				continue
			}

			_ = db.Close()

			return nil, lazyerrors.Error(err)
		}
	}

	a := &sqlAdapter{
		db:     db,
		drv:    drv,
		l:      l,
		stmts:  map[string]*prepared{},
	}

	return adapter.AdapterContract[*sqlgen.Statement, *Token](a, params.L), nil
}

// Parts of Prometheus metric names.
const (
	namespace = "ferretdb_adapters"
	subsystem = "sqldb"
)

var preparedDesc = prometheus.NewDesc(
	prometheus.BuildFQName(namespace, subsystem, "prepared_statements"),
	"The number of statements prepared on the connection pool.",
	[]string{"name"}, nil,
)

// Describe implements prometheus.Collector.
func (a *sqlAdapter) Describe(ch chan<- *prometheus.Desc) {
	a.db.Describe(ch)
	ch <- preparedDesc
}

// Collect implements prometheus.Collector.
func (a *sqlAdapter) Collect(ch chan<- prometheus.Metric) {
	a.db.Collect(ch)

	a.rw.RLock()
	n := len(a.stmts)
	a.rw.RUnlock()

	ch <- prometheus.MustNewConstMetric(preparedDesc, prometheus.GaugeValue, float64(n), a.drv.dialect.Name())
}

// Close implements adapter.Adapter interface.
func (a *sqlAdapter) Close() {
	a.rw.Lock()
	defer a.rw.Unlock()

	if a.closed {
		return
	}

	a.closed = true

	for _, p := range a.stmts {
		if err := p.close(); err != nil {
			a.l.Warn("Failed to close statement", zap.Error(err))
		}
	}

	clear(a.stmts)

	if err := a.db.Close(); err != nil {
		a.l.Error("Failed to close database", zap.Error(err))
	}
}

// Prepare implements adapter.Adapter interface.
func (a *sqlAdapter) Prepare(params *adapter.PrepareParams) (*adapter.PrepareResult[*sqlgen.Statement], error) {
	s, err := sqlgen.Compile(a.drv.dialect, params.Kind, params.Query)
	if err != nil {
		return nil, lazyerrors.Error(err)
	}

	return &adapter.PrepareResult[*sqlgen.Statement]{
		Cacheability: s.Cacheability(),
		Prepared:     s,
	}, nil
}

// Execute implements adapter.Adapter interface.
func (a *sqlAdapter) Execute(ctx context.Context, params *adapter.ExecuteParams[*sqlgen.Statement, *Token]) (*adapter.ExecuteResult, error) {
	defer observability.FuncCall(ctx)()

	comment := params.Options.CommentText()

	switch d := params.Query.(type) {
	case adapter.NotCached[*sqlgen.Statement, *Token]:
		return a.run(ctx, d.Prepared, nil, params, comment)

	case adapter.FirstCache[*sqlgen.Statement, *Token]:
		t, err := a.prepare(ctx, d.Prepared)
		if err != nil {
			return nil, err
		}

		res, err := a.run(ctx, d.Prepared, t.stmt(), params, comment)
		if err != nil {
			return nil, err
		}

		d.Register(t)

		return res, nil

	case adapter.Cached[*sqlgen.Statement, *Token]:
		t := d.Token

		if t.p != nil {
			a.rw.RLock()
			p := a.stmts[t.s.SQL()]
			a.rw.RUnlock()

			if p != t.p {
				return nil, lazyerrors.New("token is not valid for this adapter")
			}
		}

		stmt := t.stmt()
		if comment != "" {
			// prepared statement text can't carry a per-call comment
			stmt = nil
		}

		return a.run(ctx, t.s, stmt, params, comment)

	default:
		return nil, lazyerrors.Errorf("unexpected descriptor %T", d)
	}
}

// prepare creates a new token for the statement.
//
// Cacheable statements are prepared on the connection pool once per SQL text;
// statements with different parameter order share the prepared statement, but not the token.
func (a *sqlAdapter) prepare(ctx context.Context, s *sqlgen.Statement) (*Token, error) {
	t := &Token{s: s}

	if s.Cacheability() != adapter.Cacheable {
		return t, nil
	}

	q := s.SQL()

	a.rw.Lock()
	defer a.rw.Unlock()

	if a.closed {
		return nil, lazyerrors.New("adapter is closed")
	}

	if p := a.stmts[q]; p != nil {
		t.p = p
		return t, nil
	}

	stmt, err := a.db.PrepareContext(ctx, q)
	if err != nil {
		return nil, lazyerrors.Error(err)
	}

	p := &prepared{stmt: stmt, token: resource.NewToken()}
	resource.Track(p, p.token)

	a.stmts[q] = p
	t.p = p

	return t, nil
}

// run executes the statement, using the prepared statement if it is not nil.
func (a *sqlAdapter) run(ctx context.Context, s *sqlgen.Statement, stmt *fsql.Stmt, params *adapter.ExecuteParams[*sqlgen.Statement, *Token], comment string) (*adapter.ExecuteResult, error) {
	q, args, err := s.Render(params.Params)
	if err != nil {
		return nil, lazyerrors.Error(err)
	}

	if args, err = a.normalizeAll(args); err != nil {
		return nil, lazyerrors.Error(err)
	}

	q = sqlgen.WithComment(q, comment)

	if s.Kind() != adapter.ReadAll {
		var res sql.Result

		if stmt != nil {
			res, err = stmt.ExecContext(ctx, args...)
		} else {
			res, err = a.db.ExecContext(ctx, q, args...)
		}

		if err != nil {
			return nil, lazyerrors.Error(err)
		}

		n, err := res.RowsAffected()
		if err != nil {
			return nil, lazyerrors.Error(err)
		}

		return &adapter.ExecuteResult{Count: n}, nil
	}

	var rows *fsql.Rows

	if stmt != nil {
		rows, err = stmt.QueryContext(ctx, args...)
	} else {
		rows, err = a.db.QueryContext(ctx, q, args...)
	}

	if err != nil {
		return nil, lazyerrors.Error(err)
	}

	defer rows.Close()

	res := new(adapter.ExecuteResult)
	fields := params.Meta.Fields

	for rows.Next() {
		values, err := rows.ScanValues(len(fields))
		if err != nil {
			return nil, lazyerrors.Error(err)
		}

		if params.Processor != nil {
			for i, v := range values {
				// processor errors are converted by the contract
				if values[i], err = params.Processor(v, fields[i]); err != nil {
					return nil, err
				}
			}
		}

		res.Rows = append(res.Rows, values)
	}

	if err = rows.Err(); err != nil {
		return nil, lazyerrors.Error(err)
	}

	res.Count = int64(len(res.Rows))

	return res, nil
}

// Autogenerate implements adapter.Adapter interface.
//
// Integer identifiers are generated by the database.
func (a *sqlAdapter) Autogenerate(kind adapter.AutogenerateKind) (any, error) {
	switch kind {
	case adapter.AutogenerateID:
		return autogen.Storage(), nil
	case adapter.AutogenerateBinaryID, adapter.AutogenerateEmbedID:
		return autogen.UUID(), nil
	default:
		return nil, lazyerrors.Errorf("%w: %s", adapter.ErrUnsupportedAutogenerate, kind)
	}
}

// check interfaces
var (
	_ adapter.Adapter[*sqlgen.Statement, *Token] = (*sqlAdapter)(nil)
)
