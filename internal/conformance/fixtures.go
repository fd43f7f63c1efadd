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

package conformance

import (
	"fmt"

	"github.com/FerretDB/adapters/internal/adapter"
	"github.com/FerretDB/adapters/internal/adapter/memory"
	"github.com/FerretDB/adapters/internal/adapter/mongodb"
	"github.com/FerretDB/adapters/internal/coerce"
)

// Fixture table and constraint names.
const (
	UsersTable     = "conformance_users"
	PostsTable     = "conformance_posts"
	UsersNameIndex = "conformance_users_name_index"
	UsersAgeCheck  = "conformance_users_age_check"
	PostsUserFKey  = "conformance_posts_user_id_fkey"
)

// Column describes a fixture table column.
type Column struct {
	Name string
	Type coerce.Type
}

// UserColumns are columns of users table except the primary key.
var UserColumns = []Column{
	{Name: "uid", Type: coerce.BinaryID},
	{Name: "name", Type: coerce.String},
	{Name: "age", Type: coerce.Integer},
	{Name: "score", Type: coerce.Float},
	{Name: "active", Type: coerce.Boolean},
	{Name: "data", Type: coerce.Binary},
	{Name: "props", Type: coerce.Map},
	{Name: "inserted_at", Type: coerce.UTCDateTime},
}

// Backend names.
const (
	Memory     = "memory"
	SQLite     = "sqlite"
	PostgreSQL = "postgresql"
	MySQL      = "mysql"
	HANA       = "hana"
	MongoDB    = "mongodb"
)

// Backends contains all backend names.
var Backends = []string{Memory, SQLite, PostgreSQL, MySQL, HANA, MongoDB}

// ParamsFor returns check parameters for the given backend.
func ParamsFor(backend string) *Params {
	res := &Params{
		IDField:          "id",
		IDKind:           adapter.AutogenerateID,
		ForeignKeys:      true,
		NamedForeignKeys: true,
		CheckConstraints: true,
	}

	switch backend {
	case Memory, PostgreSQL, MySQL:
	case SQLite:
		// SQLite does not report names of violated foreign keys
		res.NamedForeignKeys = false
	case HANA:
		res.NamedForeignKeys = false
		res.CheckConstraints = false
	case MongoDB:
		res.IDField = "_id"
		res.IDKind = adapter.AutogenerateBinaryID
		res.ForeignKeys = false
		res.NamedForeignKeys = false
		res.CheckConstraints = false
	default:
		panic(fmt.Sprintf("unknown backend %q", backend))
	}

	return res
}

// Bootstrap returns statements that create fixture tables for the given SQL backend.
//
// Statements are idempotent except for HANA,
// where the adapter ignores "already exists" errors.
func Bootstrap(backend string) []string {
	switch backend {
	case SQLite:
		return []string{
			`CREATE TABLE IF NOT EXISTS conformance_users (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				uid TEXT,
				name TEXT NOT NULL,
				age INTEGER,
				score REAL,
				active INTEGER,
				data BLOB,
				props TEXT,
				inserted_at TEXT,
				CONSTRAINT conformance_users_age_check CHECK (age >= 0)
			)`,
			`CREATE UNIQUE INDEX IF NOT EXISTS conformance_users_name_index ON conformance_users (name)`,
			`CREATE TABLE IF NOT EXISTS conformance_posts (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				user_id INTEGER CONSTRAINT conformance_posts_user_id_fkey REFERENCES conformance_users (id),
				title TEXT
			)`,
		}

	case PostgreSQL:
		return []string{
			`CREATE TABLE IF NOT EXISTS conformance_users (
				id bigint GENERATED BY DEFAULT AS IDENTITY PRIMARY KEY,
				uid uuid,
				name text NOT NULL,
				age bigint,
				score double precision,
				active boolean,
				data bytea,
				props jsonb,
				inserted_at timestamptz,
				CONSTRAINT conformance_users_age_check CHECK (age >= 0)
			)`,
			`CREATE UNIQUE INDEX IF NOT EXISTS conformance_users_name_index ON conformance_users (name)`,
			`CREATE TABLE IF NOT EXISTS conformance_posts (
				id bigint GENERATED BY DEFAULT AS IDENTITY PRIMARY KEY,
				user_id bigint CONSTRAINT conformance_posts_user_id_fkey REFERENCES conformance_users (id),
				title text
			)`,
		}

	case MySQL:
		return []string{
			"CREATE TABLE IF NOT EXISTS conformance_users (" +
				"id BIGINT AUTO_INCREMENT PRIMARY KEY, " +
				"uid CHAR(36), " +
				"name VARCHAR(255) NOT NULL, " +
				"age BIGINT, " +
				"score DOUBLE, " +
				"active BOOLEAN, " +
				"data BLOB, " +
				"props JSON, " +
				"inserted_at DATETIME(6), " +
				"UNIQUE KEY conformance_users_name_index (name), " +
				"CONSTRAINT conformance_users_age_check CHECK (age >= 0))",
			"CREATE TABLE IF NOT EXISTS conformance_posts (" +
				"id BIGINT AUTO_INCREMENT PRIMARY KEY, " +
				"user_id BIGINT, " +
				"title VARCHAR(255), " +
				"CONSTRAINT conformance_posts_user_id_fkey FOREIGN KEY (user_id) REFERENCES conformance_users (id))",
		}

	case HANA:
		return []string{
			`CREATE COLUMN TABLE "conformance_users" (` +
				`"id" BIGINT GENERATED BY DEFAULT AS IDENTITY PRIMARY KEY, ` +
				`"uid" NVARCHAR(36), ` +
				`"name" NVARCHAR(255) NOT NULL, ` +
				`"age" BIGINT, ` +
				`"score" DOUBLE, ` +
				`"active" BOOLEAN, ` +
				`"data" VARBINARY(5000), ` +
				`"props" NVARCHAR(5000), ` +
				`"inserted_at" TIMESTAMP, ` +
				`CONSTRAINT "conformance_users_name_index" UNIQUE ("name"))`,
			`CREATE COLUMN TABLE "conformance_posts" (` +
				`"id" BIGINT GENERATED BY DEFAULT AS IDENTITY PRIMARY KEY, ` +
				`"user_id" BIGINT, ` +
				`"title" NVARCHAR(255), ` +
				`CONSTRAINT "conformance_posts_user_id_fkey" FOREIGN KEY ("user_id") REFERENCES "conformance_users" ("id"))`,
		}

	default:
		panic(fmt.Sprintf("no bootstrap statements for %q", backend))
	}
}

// MemoryTables returns fixture tables for the in-memory adapter.
func MemoryTables(prefix *string) []memory.TableSpec {
	return []memory.TableSpec{
		{
			Prefix:     prefix,
			Name:       UsersTable,
			PrimaryKey: "id",
			Unique: []memory.UniqueSpec{
				{Name: UsersNameIndex, Columns: []string{"name"}},
			},
			Checks: []memory.CheckSpec{{
				Name: UsersAgeCheck,
				Check: func(row adapter.Fields) bool {
					age, ok := row["age"].(int64)
					return !ok || age >= 0
				},
			}},
		},
		{
			Prefix:     prefix,
			Name:       PostsTable,
			PrimaryKey: "id",
			ForeignKeys: []memory.ForeignKeySpec{
				{Name: PostsUserFKey, Column: "user_id", RefTable: UsersTable, RefColumn: "id"},
			},
		},
	}
}

// MongoDBIndexes returns fixture indexes for MongoDB adapter.
func MongoDBIndexes() []mongodb.IndexSpec {
	return []mongodb.IndexSpec{
		{Collection: UsersTable, Name: UsersNameIndex, Keys: []string{"name"}, Unique: true},
	}
}
