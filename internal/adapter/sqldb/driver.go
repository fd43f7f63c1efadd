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
	"strings"

	"github.com/FerretDB/adapters/internal/adapter"
	"github.com/FerretDB/adapters/internal/adapter/sqlgen"
	"github.com/FerretDB/adapters/internal/util/fsql"
)

// driver describes specifics of a single database/sql driver.
type driver struct {
	// name is database/sql driver name
	name    string
	dialect sqlgen.Dialect

	// open opens a database handle for the given URI
	open func(uri string) (*sql.DB, error)

	// constraints returns constraints violated by a write to the given table, or nil
	constraints func(err error, table string) []adapter.Constraint

	// lastInsertID returns the identifier generated by the last insert in the transaction
	lastInsertID func(ctx context.Context, tx *fsql.Tx, res sql.Result) (any, error)

	// ignoreBootstrap returns true if bootstrap statement error should be ignored
	ignoreBootstrap func(err error) bool

	// textTime is true if datetime values are stored as RFC 3339 text
	textTime bool
}

// drivers contains all supported drivers by name.
var drivers = map[string]*driver{
	"sqlite": sqliteDriver,
	"mysql":  mysqlDriver,
	"hdb":    hanaDriver,
}

// resultLastInsertID returns sql.Result.LastInsertId.
func resultLastInsertID(_ context.Context, _ *fsql.Tx, res sql.Result) (any, error) {
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}

	return id, nil
}

// indexName returns the name of a unique index on the given table columns
// for databases that report only column names.
func indexName(table string, columns []string) string {
	return table + "_" + strings.Join(columns, "_") + "_index"
}

// pkeyName returns the name of the primary key constraint of the table.
func pkeyName(table string) string {
	return table + "_pkey"
}
