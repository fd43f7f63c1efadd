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
	"errors"
	"regexp"
	"strings"

	hdb "github.com/SAP/go-hdb/driver"

	"github.com/FerretDB/adapters/internal/adapter"
	"github.com/FerretDB/adapters/internal/adapter/sqlgen"
	"github.com/FerretDB/adapters/internal/util/fsql"
)

// SAP HANA error codes.
const (
	hanaErrDuplicateTableName  = 288
	hanaErrUniqueViolated      = 301
	hanaErrForeignKeyViolated  = 461
	hanaErrForeignKeyReference = 462
)

// hanaDriver uses SAP/go-hdb.
var hanaDriver = &driver{
	name:         "hdb",
	dialect:      sqlgen.HANA,
	open:         openHANA,
	constraints:  hanaConstraints,
	lastInsertID: hanaLastInsertID,
	ignoreBootstrap: func(err error) bool {
		var e hdb.Error
		return errors.As(err, &e) && e.Code() == hanaErrDuplicateTableName
	},
}

// openHANA opens SAP HANA database.
func openHANA(uri string) (*sql.DB, error) {
	return sql.Open("hdb", uri)
}

// hanaLastInsertID returns the identity value generated in the current session.
func hanaLastInsertID(ctx context.Context, tx *fsql.Tx, _ sql.Result) (any, error) {
	var id int64
	if err := tx.QueryRowContext(ctx, "SELECT CURRENT_IDENTITY_VALUE() FROM DUMMY").Scan(&id); err != nil {
		return nil, err
	}

	return id, nil
}

var hanaIndexRe = regexp.MustCompile(`Index\(([^)]+)\)`)

// hanaConstraints classifies SAP HANA constraint errors.
//
// Names of violated foreign keys and check constraints are not reported.
func hanaConstraints(err error, table string) []adapter.Constraint {
	var e hdb.Error
	if !errors.As(err, &e) {
		return nil
	}

	switch e.Code() {
	case hanaErrUniqueViolated:
		var name string
		if m := hanaIndexRe.FindStringSubmatch(e.Text()); m != nil {
			name = m[1]
		}

		// primary key indexes are system-generated
		if name == "" || strings.HasPrefix(name, "_SYS") {
			name = pkeyName(table)
		}

		return []adapter.Constraint{{Type: adapter.ConstraintUnique, Name: name}}

	case hanaErrForeignKeyViolated, hanaErrForeignKeyReference:
		return []adapter.Constraint{{Type: adapter.ConstraintForeignKey}}

	default:
		return nil
	}
}
