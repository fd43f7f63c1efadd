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
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/FerretDB/adapters/internal/adapter"
)

func TestWriteError(t *testing.T) {
	t.Parallel()

	for name, tc := range map[string]struct {
		err        error
		constraint *adapter.Constraint
	}{
		"Unique": {
			err:        &pgconn.PgError{Code: pgerrcode.UniqueViolation, ConstraintName: "users_name_index"},
			constraint: &adapter.Constraint{Type: adapter.ConstraintUnique, Name: "users_name_index"},
		},
		"ForeignKey": {
			err:        &pgconn.PgError{Code: pgerrcode.ForeignKeyViolation, ConstraintName: "posts_user_id_fkey"},
			constraint: &adapter.Constraint{Type: adapter.ConstraintForeignKey, Name: "posts_user_id_fkey"},
		},
		"Check": {
			err:        &pgconn.PgError{Code: pgerrcode.CheckViolation, ConstraintName: "users_age_check"},
			constraint: &adapter.Constraint{Type: adapter.ConstraintCheck, Name: "users_age_check"},
		},
		"Exclusion": {
			err:        &pgconn.PgError{Code: pgerrcode.ExclusionViolation, ConstraintName: "rooms_excl"},
			constraint: &adapter.Constraint{Type: adapter.ConstraintExclusion, Name: "rooms_excl"},
		},
		"NotNull": {
			err: &pgconn.PgError{Code: pgerrcode.NotNullViolation},
		},
		"Other": {
			err: assert.AnError,
		},
	} {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			err := writeError(tc.err)

			if tc.constraint == nil {
				assert.False(t, adapter.ErrorCodeIs(err, adapter.ErrorCodeInvalid))
				assert.ErrorIs(t, err, tc.err)

				return
			}

			require.True(t, adapter.ErrorCodeIs(err, adapter.ErrorCodeInvalid))
			assert.Equal(t, []adapter.Constraint{*tc.constraint}, adapter.ErrorConstraints(err))
		})
	}

	stale := adapter.NewError(adapter.ErrorCodeStale, nil)
	assert.Same(t, stale, writeError(stale))
}

func TestNormalize(t *testing.T) {
	t.Parallel()

	u := uuid.New()
	assert.Equal(t, [16]byte(u), normalize(u))

	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.FixedZone("X", 3600))
	assert.Equal(t, time.UTC, normalize(ts).(time.Time).Location())

	assert.Equal(t, []any{int64(1), "a"}, normalizeAll([]any{int64(1), "a"}))
}

func TestDecodeJSON(t *testing.T) {
	t.Parallel()

	fds := []pgconn.FieldDescription{
		{Name: "id", DataTypeOID: pgtype.Int8OID, Format: pgtype.BinaryFormatCode},
		{Name: "j", DataTypeOID: pgtype.JSONOID, Format: pgtype.TextFormatCode},
		{Name: "jb", DataTypeOID: pgtype.JSONBOID, Format: pgtype.BinaryFormatCode},
		{Name: "n", DataTypeOID: pgtype.JSONBOID, Format: pgtype.BinaryFormatCode},
	}
	raw := [][]byte{
		{0, 0, 0, 0, 0, 0, 0, 1},
		[]byte(`{"n":1}`),
		append([]byte{1}, `[9007199254740993,1.5]`...),
		nil,
	}
	values := []any{int64(1), map[string]any{"n": float64(1)}, []any{float64(9007199254740992), 1.5}, nil}

	require.NoError(t, decodeJSON(fds, raw, values))

	expected := []any{int64(1), map[string]any{"n": int64(1)}, []any{int64(9007199254740993), 1.5}, nil}
	assert.Equal(t, expected, values)

	raw[2] = append([]byte{2}, `[]`...)
	require.Error(t, decodeJSON(fds, raw, values))
}

func TestDebugTracer(t *testing.T) {
	t.Parallel()

	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))

	tracer := &multiQueryTracer{
		Tracers: []pgx.QueryTracer{&debugTracer{t: tp.Tracer("test")}},
	}

	ctx := tracer.TraceQueryStart(context.Background(), nil, pgx.TraceQueryStartData{
		SQL:  "SELECT $1",
		Args: []any{int64(1)},
	})
	tracer.TraceQueryEnd(ctx, nil, pgx.TraceQueryEndData{
		CommandTag: pgconn.NewCommandTag("SELECT 1"),
		Err:        assert.AnError,
	})

	spans := sr.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "SELECT $1", spans[0].Name())
	assert.Equal(t, assert.AnError.Error(), spans[0].Status().Description)
}
