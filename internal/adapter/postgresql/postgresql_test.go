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

package postgresql_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FerretDB/adapters/internal/adapter"
	"github.com/FerretDB/adapters/internal/adapter/postgresql"
	"github.com/FerretDB/adapters/internal/adapter/sqlgen"
	"github.com/FerretDB/adapters/internal/conformance"
	"github.com/FerretDB/adapters/internal/util/testutil"
)

// setup creates a new adapter with fixture tables.
func setup(t *testing.T) adapter.Adapter[*sqlgen.Statement, *postgresql.Token] {
	t.Helper()

	a, err := postgresql.NewAdapter(&postgresql.NewAdapterParams{
		URI:       testutil.BackendURL(t, testutil.PostgreSQLURLEnv),
		L:         testutil.Logger(t),
		Bootstrap: conformance.Bootstrap(conformance.PostgreSQL),
	})
	require.NoError(t, err)
	t.Cleanup(a.Close)

	return a
}

func TestConformance(t *testing.T) {
	t.Parallel()

	a := setup(t)

	for _, c := range conformance.Checks(a, conformance.ParamsFor(conformance.PostgreSQL)) {
		t.Run(c.Name, func(t *testing.T) {
			require.NoError(t, c.Run(testutil.Ctx(t)))
		})
	}
}

func TestMetrics(t *testing.T) {
	t.Parallel()

	a := setup(t)

	reg := prometheus.NewPedanticRegistry()
	require.NoError(t, reg.Register(a))

	mfs, err := reg.Gather()
	require.NoError(t, err)

	var names []string
	for _, mf := range mfs {
		names = append(names, mf.GetName())
	}

	assert.Equal(t, []string{
		"ferretdb_adapters_postgresql_acquired",
		"ferretdb_adapters_postgresql_acquires_total",
		"ferretdb_adapters_postgresql_idle",
	}, names)
}

func TestInvalidURI(t *testing.T) {
	t.Parallel()

	_, err := postgresql.NewAdapter(&postgresql.NewAdapterParams{
		URI: "postgres://127.0.0.1:port/adapters",
		L:   testutil.Logger(t),
	})
	require.Error(t, err)
}
