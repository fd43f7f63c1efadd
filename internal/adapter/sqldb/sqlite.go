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
	"database/sql"
	"errors"
	"net/url"
	"regexp"
	"strings"

	"modernc.org/sqlite"
	sqlitelib "modernc.org/sqlite/lib"

	"github.com/FerretDB/adapters/internal/adapter"
	"github.com/FerretDB/adapters/internal/adapter/sqlgen"
)

// sqliteDriver uses modernc.org/sqlite.
var sqliteDriver = &driver{
	name:            "sqlite",
	dialect:         sqlgen.SQLite,
	open:            openSQLite,
	constraints:     sqliteConstraints,
	lastInsertID:    resultLastInsertID,
	ignoreBootstrap: func(error) bool { return false },
	textTime:        true,
}

// sqlitePragmas are set for every connection.
var sqlitePragmas = []string{
	"foreign_keys(1)",
	"busy_timeout(10000)",
}

// sqliteURI returns SQLite URI with connection pragmas.
//
// Both file names and "file:" URIs are accepted.
func sqliteURI(uri string) (string, error) {
	if !strings.HasPrefix(uri, "file:") {
		uri = "file:" + uri
	}

	path, rawQuery, _ := strings.Cut(uri, "?")

	values, err := url.ParseQuery(rawQuery)
	if err != nil {
		return "", err
	}

	for _, p := range sqlitePragmas {
		name, _, _ := strings.Cut(p, "(")

		var found bool

		for _, v := range values["_pragma"] {
			if strings.HasPrefix(v, name+"(") {
				found = true
				break
			}
		}

		if !found {
			values.Add("_pragma", p)
		}
	}

	return path + "?" + values.Encode(), nil
}

// openSQLite opens SQLite database.
func openSQLite(uri string) (*sql.DB, error) {
	u, err := sqliteURI(uri)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", u)
	if err != nil {
		return nil, err
	}

	db.SetConnMaxIdleTime(0)
	db.SetConnMaxLifetime(0)

	return db, nil
}

var (
	sqliteUniqueRe = regexp.MustCompile(`UNIQUE constraint failed: ([^()]+)`)
	sqliteCheckRe  = regexp.MustCompile(`CHECK constraint failed: ([^\s()]+)`)
)

// sqliteConstraints classifies SQLite constraint errors.
//
// SQLite reports column names for unique violations; index names are derived from them.
// Names of violated foreign keys are not reported.
func sqliteConstraints(err error, table string) []adapter.Constraint {
	var e *sqlite.Error
	if !errors.As(err, &e) {
		return nil
	}

	switch e.Code() {
	case sqlitelib.SQLITE_CONSTRAINT_PRIMARYKEY:
		return []adapter.Constraint{{Type: adapter.ConstraintUnique, Name: pkeyName(table)}}

	case sqlitelib.SQLITE_CONSTRAINT_UNIQUE:
		m := sqliteUniqueRe.FindStringSubmatch(e.Error())
		if m == nil {
			return []adapter.Constraint{{Type: adapter.ConstraintUnique}}
		}

		var t string
		var columns []string

		for _, c := range strings.Split(strings.TrimSpace(m[1]), ",") {
			var column string
			t, column, _ = strings.Cut(strings.TrimSpace(c), ".")
			columns = append(columns, column)
		}

		return []adapter.Constraint{{Type: adapter.ConstraintUnique, Name: indexName(t, columns)}}

	case sqlitelib.SQLITE_CONSTRAINT_FOREIGNKEY:
		return []adapter.Constraint{{Type: adapter.ConstraintForeignKey}}

	case sqlitelib.SQLITE_CONSTRAINT_CHECK:
		var name string
		if m := sqliteCheckRe.FindStringSubmatch(e.Error()); m != nil {
			name = m[1]
		}

		return []adapter.Constraint{{Type: adapter.ConstraintCheck, Name: name}}

	default:
		return nil
	}
}
