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
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/FerretDB/adapters/internal/util/lazyerrors"
	"github.com/FerretDB/adapters/internal/util/testutil"
)

// setup returns a DB backed by a new SQLite database file.
func setup(t *testing.T) *DB {
	t.Helper()

	sqlDB, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "test.sqlite"))
	require.NoError(t, err)

	db := WrapDB(sqlDB, "test", testutil.Logger(t))
	t.Cleanup(func() { require.NoError(t, db.Close()) })

	_, err = db.ExecContext(testutil.Ctx(t), `CREATE TABLE t (id INTEGER PRIMARY KEY, v TEXT)`)
	require.NoError(t, err)

	return db
}

func TestInTransaction(t *testing.T) {
	t.Parallel()

	ctx := testutil.Ctx(t)
	db := setup(t)

	err := db.InTransaction(ctx, func(tx *Tx) error {
		_, err := tx.ExecContext(ctx, `INSERT INTO t (v) VALUES (?)`, "committed")
		return err
	})
	require.NoError(t, err)

	errRollback := errors.New("rollback")
	err = db.InTransaction(ctx, func(tx *Tx) error {
		if _, err := tx.ExecContext(ctx, `INSERT INTO t (v) VALUES (?)`, "rolled back"); err != nil {
			return lazyerrors.Error(err)
		}

		return errRollback
	})
	require.Same(t, errRollback, err)

	rows, err := db.QueryContext(ctx, `SELECT v FROM t ORDER BY id`)
	require.NoError(t, err)

	defer rows.Close()

	var actual []string

	for rows.Next() {
		var v string
		require.NoError(t, rows.Scan(&v))
		actual = append(actual, v)
	}

	require.NoError(t, rows.Err())
	assert.Equal(t, []string{"committed"}, actual)
}

func TestStmt(t *testing.T) {
	t.Parallel()

	ctx := testutil.Ctx(t)
	db := setup(t)

	stmt, err := db.PrepareContext(ctx, `INSERT INTO t (v) VALUES (?)`)
	require.NoError(t, err)

	t.Cleanup(func() { require.NoError(t, stmt.Close()) })

	for _, v := range []string{"a", "b"} {
		_, err = stmt.ExecContext(ctx, v)
		require.NoError(t, err)
	}

	var count int64
	require.NoError(t, db.QueryRowContext(ctx, `SELECT count(*) FROM t`).Scan(&count))
	assert.Equal(t, int64(2), count)

	rows, err := db.QueryContext(ctx, `SELECT id, v FROM t ORDER BY id`)
	require.NoError(t, err)

	defer rows.Close()

	require.True(t, rows.Next())

	values, err := rows.ScanValues(2)
	require.NoError(t, err)
	assert.Equal(t, []any{int64(1), "a"}, values)
}

func TestMetrics(t *testing.T) {
	t.Parallel()

	ctx := testutil.Ctx(t)
	db := setup(t)

	_, err := db.ExecContext(ctx, `SELECT * FROM no_such_table`)
	require.Error(t, err)

	problems, err := promtestutil.CollectAndLint(db)
	require.NoError(t, err)
	assert.Empty(t, problems)

	assert.Equal(t, 5, promtestutil.CollectAndCount(db))
	assert.Equal(t, int64(2), db.queries.Load())
	assert.Equal(t, int64(1), db.errors.Load())
}
