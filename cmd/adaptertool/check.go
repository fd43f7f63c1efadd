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

package main

import (
	"context"
	"regexp"
	"slices"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/FerretDB/adapters/internal/adapter/memory"
	"github.com/FerretDB/adapters/internal/adapter/mongodb"
	"github.com/FerretDB/adapters/internal/adapter/postgresql"
	"github.com/FerretDB/adapters/internal/adapter/sqldb"
	"github.com/FerretDB/adapters/internal/conformance"
	"github.com/FerretDB/adapters/internal/util/ctxutil"
	"github.com/FerretDB/adapters/internal/util/lazyerrors"
	"github.com/FerretDB/adapters/internal/util/observability"
)

// target is an adapter under test with its checks.
type target struct {
	collector prometheus.Collector
	checks    []conformance.Check
	close     func()
}

// newTarget creates an adapter for the given backend using flags.
func newTarget(backend string, l *zap.Logger) (*target, error) {
	if !slices.Contains(conformance.Backends, backend) {
		return nil, lazyerrors.Errorf("unknown backend %q", backend)
	}

	params := conformance.ParamsFor(backend)

	switch backend {
	case conformance.Memory:
		a, err := memory.NewAdapter(&memory.NewAdapterParams{
			Tables: conformance.MemoryTables(params.Prefix),
			L:      l,
		})
		if err != nil {
			return nil, err
		}

		return &target{collector: a, checks: conformance.Checks(a, params), close: a.Close}, nil

	case conformance.PostgreSQL:
		a, err := postgresql.NewAdapter(&postgresql.NewAdapterParams{
			URI:       cli.Check.PostgreSQLURL,
			L:         l,
			Bootstrap: conformance.Bootstrap(backend),
		})
		if err != nil {
			return nil, err
		}

		return &target{collector: a, checks: conformance.Checks(a, params), close: a.Close}, nil

	case conformance.SQLite, conformance.MySQL, conformance.HANA:
		p := &sqldb.NewAdapterParams{
			L:         l,
			Bootstrap: conformance.Bootstrap(backend),
		}

		switch backend {
		case conformance.SQLite:
			p.Driver, p.URI = "sqlite", cli.Check.SQLiteURL
		case conformance.MySQL:
			p.Driver, p.URI = "mysql", cli.Check.MySQLURL
		case conformance.HANA:
			p.Driver, p.URI = "hdb", cli.Check.HANAURL
		}

		if p.URI == "" {
			return nil, lazyerrors.Errorf("no URL for %q backend", backend)
		}

		a, err := sqldb.NewAdapter(p)
		if err != nil {
			return nil, err
		}

		return &target{collector: a, checks: conformance.Checks(a, params), close: a.Close}, nil

	case conformance.MongoDB:
		a, err := mongodb.NewAdapter(&mongodb.NewAdapterParams{
			URI:      cli.Check.MongoDBURL,
			Database: cli.Check.MongoDBDatabase,
			L:        l,
			Indexes:  conformance.MongoDBIndexes(),
		})
		if err != nil {
			return nil, err
		}

		return &target{collector: a, checks: conformance.Checks(a, params), close: a.Close}, nil

	default:
		return nil, lazyerrors.Errorf("unknown backend %q", backend)
	}
}

// connect calls newTarget, retrying with backoff until it succeeds,
// retries are exhausted, or ctx is canceled.
func connect(ctx context.Context, backend string, l *zap.Logger) (*target, error) {
	var attempt int64

	for {
		t, err := newTarget(backend, l)
		if err == nil {
			return t, nil
		}

		attempt++
		if attempt > cli.Check.ConnectRetries {
			return nil, err
		}

		d := ctxutil.DurationWithJitter(5*time.Second, attempt)
		l.Warn("Failed to create adapter, retrying", zap.Int64("attempt", attempt), zap.Duration("delay", d), zap.Error(err))

		ctxutil.Sleep(ctx, d)

		if ctx.Err() != nil {
			return nil, err
		}
	}
}

// checkMetrics represents check results metrics.
type checkMetrics struct {
	results  *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// newCheckMetrics creates new check metrics.
func newCheckMetrics() *checkMetrics {
	return &checkMetrics{
		results: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "ferretdb_adapters",
				Subsystem: "conformance",
				Name:      "checks_total",
				Help:      "The total number of finished checks.",
			},
			[]string{"check", "result"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "ferretdb_adapters",
				Subsystem: "conformance",
				Name:      "check_duration_seconds",
				Help:      "Check duration.",
				Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8),
			},
			[]string{"check"},
		),
	}
}

// Describe implements prometheus.Collector.
func (m *checkMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.results.Describe(ch)
	m.duration.Describe(ch)
}

// Collect implements prometheus.Collector.
func (m *checkMetrics) Collect(ch chan<- prometheus.Metric) {
	m.results.Collect(ch)
	m.duration.Collect(ch)
}

// checkResults contains numbers of checks by result.
type checkResults struct {
	passed  int
	failed  int
	skipped int
}

// runChecks runs checks sequentially; checks with names not matching re (if not nil) are skipped.
//
// It stops when ctx is canceled.
func runChecks(ctx context.Context, checks []conformance.Check, re *regexp.Regexp, m *checkMetrics, l *zap.Logger) *checkResults {
	var res checkResults

	for _, c := range checks {
		if ctx.Err() != nil {
			res.skipped++
			continue
		}

		if re != nil && !re.MatchString(c.Name) {
			l.Debug("Skipping check", zap.String("check", c.Name))
			res.skipped++
			m.results.WithLabelValues(c.Name, "skipped").Inc()

			continue
		}

		checkCtx, span := observability.StartSpan(ctx, c.Name)
		start := time.Now()

		err := c.Run(checkCtx)

		elapsed := time.Since(start)
		m.duration.WithLabelValues(c.Name).Observe(elapsed.Seconds())

		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "")

			l.Error("Check failed", zap.String("check", c.Name), zap.Duration("duration", elapsed), zap.Error(err))
			res.failed++
			m.results.WithLabelValues(c.Name, "failed").Inc()
		} else {
			l.Info("Check passed", zap.String("check", c.Name), zap.Duration("duration", elapsed))
			res.passed++
			m.results.WithLabelValues(c.Name, "passed").Inc()
		}

		span.End()
	}

	return &res
}
