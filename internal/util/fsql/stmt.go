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

package fsql

import (
	"context"
	"database/sql"
	"time"

	"go.uber.org/zap"

	"github.com/FerretDB/adapters/internal/util/observability"
	"github.com/FerretDB/adapters/internal/util/resource"
)

// Stmt wraps [*database/sql.Stmt] with tracing, logging, and resource tracking.
//
// Stmt is safe for concurrent use.
type Stmt struct {
	sqlStmt *sql.Stmt
	query   string
	l       *zap.Logger
	token   *resource.Token
}

// wrapStmt creates new Stmt.
func wrapStmt(stmt *sql.Stmt, query string, l *zap.Logger) *Stmt {
	res := &Stmt{
		sqlStmt: stmt,
		query:   query,
		l:       l,
		token:   resource.NewToken(),
	}

	resource.Track(res, res.token)

	return res
}

// Query returns SQL text of the prepared statement.
func (s *Stmt) Query() string {
	return s.query
}

// Close calls [*sql.Stmt.Close].
func (s *Stmt) Close() error {
	resource.Untrack(s, s.token)
	return s.sqlStmt.Close()
}

// QueryContext calls [*sql.Stmt.QueryContext].
func (s *Stmt) QueryContext(ctx context.Context, args ...any) (*Rows, error) {
	defer observability.FuncCall(ctx)()

	start := time.Now()

	fields := []zap.Field{zap.Any("args", args)}
	s.l.Debug(">>> (prepared) "+s.query, fields...)

	rows, err := s.sqlStmt.QueryContext(ctx, args...)

	fields = append(fields, zap.Duration("time", time.Since(start)), zap.Error(err))
	s.l.Debug("<<< (prepared) "+s.query, fields...)

	return wrapRows(rows), err
}

// ExecContext calls [*sql.Stmt.ExecContext].
func (s *Stmt) ExecContext(ctx context.Context, args ...any) (sql.Result, error) {
	defer observability.FuncCall(ctx)()

	start := time.Now()

	fields := []zap.Field{zap.Any("args", args)}
	s.l.Debug(">>> (prepared) "+s.query, fields...)

	res, err := s.sqlStmt.ExecContext(ctx, args...)

	fields = append(fields, zap.Duration("time", time.Since(start)), zap.Error(err))
	s.l.Debug("<<< (prepared) "+s.query, fields...)

	return res, err
}
