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

package testutil

import (
	"os"
	"testing"
)

// Environment variables with URLs of external backends used by tests.
const (
	PostgreSQLURLEnv = "ADAPTERS_TEST_POSTGRESQL_URL"
	MySQLURLEnv      = "ADAPTERS_TEST_MYSQL_URL"
	HANAURLEnv       = "ADAPTERS_TEST_HANA_URL"
	MongoDBURLEnv    = "ADAPTERS_TEST_MONGODB_URL"
)

// BackendURL returns the URL of the external backend from the given environment variable.
//
// The test is skipped in -short mode or if the variable is not set.
func BackendURL(tb testing.TB, env string) string {
	tb.Helper()

	if testing.Short() {
		tb.Skip("skipping in -short mode")
	}

	u := os.Getenv(env)
	if u == "" {
		tb.Skipf("%s is not set", env)
	}

	return u
}
