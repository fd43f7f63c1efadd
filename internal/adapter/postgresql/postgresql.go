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

// Package postgresql provides the adapter for PostgreSQL.
//
// Compiled queries are sqlgen statements.
// pgx prepares and caches statements on each connection by their text,
// so cache tokens hold only compiled statements.
package postgresql

import (
	"context"
	"time"

	"github.com/google/uuid"
	zapadapter "github.com/jackc/pgx-zap"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/tracelog"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/FerretDB/adapters/internal/adapter"
	"github.com/FerretDB/adapters/internal/adapter/autogen"
	"github.com/FerretDB/adapters/internal/adapter/sqlgen"
	"github.com/FerretDB/adapters/internal/coerce"
	"github.com/FerretDB/adapters/internal/util/debugbuild"
	"github.com/FerretDB/adapters/internal/util/lazyerrors"
	"github.com/FerretDB/adapters/internal/util/observability"
)

// Token is a cache token.
type Token struct {
	a *pgAdapter
	s *sqlgen.Statement
}

// pgAdapter implements adapter.Adapter interface.
type pgAdapter struct {
	coerce.DefaultPipeline

	p *pgxpool.Pool
	l *zap.Logger
}

// NewAdapterParams represents the parameters of NewAdapter function.
//
//nolint:vet // for readability
type NewAdapterParams struct {
	URI string
	L   *zap.Logger

	// Bootstrap statements are executed in order after the connection is established.
	Bootstrap []string
}

// NewAdapter creates a new adapter.
//
// Connectivity is checked before returning.
func NewAdapter(params *NewAdapterParams) (adapter.Adapter[*sqlgen.Statement, *Token], error) {
	l := params.L.Named("postgresql")

	config, err := pgxpool.ParseConfig(params.URI)
	if err != nil {
		return nil, lazyerrors.Error(err)
	}

	// That only affects text protocol; pgx mostly uses a binary one.
	config.ConnConfig.RuntimeParams["timezone"] = "UTC"
	config.ConnConfig.RuntimeParams["application_name"] = "FerretDB adapters"

	var tracers []pgx.QueryTracer

	if l.Core().Enabled(zap.DebugLevel) {
		tracers = append(tracers, &tracelog.TraceLog{
			Logger:   zapadapter.NewLogger(l.Named("pgx")),
			LogLevel: tracelog.LogLevelTrace,
		})
	}

	if debugbuild.Enabled {
		tracers = append(tracers, &debugTracer{t: otel.Tracer("internal/adapter/postgresql")})
	}

	if len(tracers) > 0 {
		config.ConnConfig.Tracer = &multiQueryTracer{Tracers: tracers}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	p, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, lazyerrors.Error(err)
	}

	if err = p.Ping(ctx); err != nil {
		p.Close()
		return nil, lazyerrors.Error(err)
	}

	for _, q := range params.Bootstrap {
		if _, err = p.Exec(ctx, q); err != nil {
			p.Close()
			return nil, lazyerrors.Error(err)
		}
	}

	a := &pgAdapter{
		p: p,
		l: l,
	}

	return adapter.AdapterContract[*sqlgen.Statement, *Token](a, params.L), nil
}

// Close implements adapter.Adapter interface.
func (a *pgAdapter) Close() {
	a.p.Close()
}

// Prepare implements adapter.Adapter interface.
func (a *pgAdapter) Prepare(params *adapter.PrepareParams) (*adapter.PrepareResult[*sqlgen.Statement], error) {
	s, err := sqlgen.Compile(sqlgen.PostgreSQL, params.Kind, params.Query)
	if err != nil {
		return nil, lazyerrors.Error(err)
	}

	return &adapter.PrepareResult[*sqlgen.Statement]{
		Cacheability: s.Cacheability(),
		Prepared:     s,
	}, nil
}

// Execute implements adapter.Adapter interface.
func (a *pgAdapter) Execute(ctx context.Context, params *adapter.ExecuteParams[*sqlgen.Statement, *Token]) (*adapter.ExecuteResult, error) {
	defer observability.FuncCall(ctx)()

	switch d := params.Query.(type) {
	case adapter.NotCached[*sqlgen.Statement, *Token]:
		return a.run(ctx, d.Prepared, params)

	case adapter.FirstCache[*sqlgen.Statement, *Token]:
		res, err := a.run(ctx, d.Prepared, params)
		if err != nil {
			return nil, err
		}

		d.Register(&Token{a: a, s: d.Prepared})

		return res, nil

	case adapter.Cached[*sqlgen.Statement, *Token]:
		if d.Token == nil || d.Token.a != a {
			return nil, lazyerrors.New("token is not valid for this adapter")
		}

		return a.run(ctx, d.Token.s, params)

	default:
		return nil, lazyerrors.Errorf("unexpected descriptor %T", d)
	}
}

// run executes the statement.
func (a *pgAdapter) run(ctx context.Context, s *sqlgen.Statement, params *adapter.ExecuteParams[*sqlgen.Statement, *Token]) (*adapter.ExecuteResult, error) {
	q, args, err := s.Render(params.Params)
	if err != nil {
		return nil, lazyerrors.Error(err)
	}

	args = normalizeAll(args)
	q = sqlgen.WithComment(q, params.Options.CommentText())

	if s.Kind() != adapter.ReadAll {
		tag, err := a.p.Exec(ctx, q, args...)
		if err != nil {
			return nil, lazyerrors.Error(err)
		}

		return &adapter.ExecuteResult{Count: tag.RowsAffected()}, nil
	}

	rows, err := queryAll(ctx, a.p, q, args)
	if err != nil {
		return nil, lazyerrors.Error(err)
	}

	fields := params.Meta.Fields

	if params.Processor != nil {
		for _, row := range rows {
			if len(row) != len(fields) {
				return nil, lazyerrors.Errorf("expected %d columns, got %d", len(fields), len(row))
			}

			for i, v := range row {
				// processor errors are converted by the contract
				if row[i], err = params.Processor(v, fields[i]); err != nil {
					return nil, err
				}
			}
		}
	}

	return &adapter.ExecuteResult{
		Count: int64(len(rows)),
		Rows:  rows,
	}, nil
}

// Autogenerate implements adapter.Adapter interface.
//
// Integer identifiers are generated by the database.
func (a *pgAdapter) Autogenerate(kind adapter.AutogenerateKind) (any, error) {
	switch kind {
	case adapter.AutogenerateID:
		return autogen.Storage(), nil
	case adapter.AutogenerateBinaryID, adapter.AutogenerateEmbedID:
		return autogen.UUID(), nil
	default:
		return nil, lazyerrors.Errorf("%w: %s", adapter.ErrUnsupportedAutogenerate, kind)
	}
}

// normalize converts domain values into values accepted by pgx.
func normalize(v any) any {
	switch v := v.(type) {
	case uuid.UUID:
		return [16]byte(v)
	case time.Time:
		return v.UTC()
	default:
		return v
	}
}

// normalizeAll normalizes all values.
func normalizeAll(values []any) []any {
	res := make([]any, len(values))
	for i, v := range values {
		res[i] = normalize(v)
	}

	return res
}

// Parts of Prometheus metric names.
const (
	namespace = "ferretdb_adapters"
	subsystem = "postgresql"
)

var (
	acquiredDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, subsystem, "acquired"),
		"The number of currently acquired connections.",
		nil, nil,
	)
	idleDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, subsystem, "idle"),
		"The number of currently idle connections.",
		nil, nil,
	)
	acquiresDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, subsystem, "acquires_total"),
		"The total number of successful connection acquires.",
		nil, nil,
	)
)

// Describe implements prometheus.Collector.
func (a *pgAdapter) Describe(ch chan<- *prometheus.Desc) {
	ch <- acquiredDesc
	ch <- idleDesc
	ch <- acquiresDesc
}

// Collect implements prometheus.Collector.
func (a *pgAdapter) Collect(ch chan<- prometheus.Metric) {
	stats := a.p.Stat()

	ch <- prometheus.MustNewConstMetric(acquiredDesc, prometheus.GaugeValue, float64(stats.AcquiredConns()))
	ch <- prometheus.MustNewConstMetric(idleDesc, prometheus.GaugeValue, float64(stats.IdleConns()))
	ch <- prometheus.MustNewConstMetric(acquiresDesc, prometheus.CounterValue, float64(stats.AcquireCount()))
}

// check interfaces
var (
	_ adapter.Adapter[*sqlgen.Statement, *Token] = (*pgAdapter)(nil)
)
