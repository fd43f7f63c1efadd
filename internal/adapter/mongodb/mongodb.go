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

// Package mongodb provides the adapter for MongoDB.
//
// Sources are collections; source prefixes are database names.
// Queries are compiled into filter builders, so all of them are cacheable.
package mongodb

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/event"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/FerretDB/adapters/internal/adapter"
	"github.com/FerretDB/adapters/internal/adapter/autogen"
	"github.com/FerretDB/adapters/internal/query"
	"github.com/FerretDB/adapters/internal/util/lazyerrors"
	"github.com/FerretDB/adapters/internal/util/observability"
)

// IndexSpec describes an index created at adapter creation.
type IndexSpec struct {
	Collection string
	Name       string
	Keys       []string
	Unique     bool
}

// mongoAdapter implements adapter.Adapter interface.
type mongoAdapter struct {
	client *mongo.Client
	db     string
	l      *zap.Logger

	commands atomic.Int64
	failures atomic.Int64
}

// NewAdapterParams represents the parameters of NewAdapter function.
//
//nolint:vet // for readability
type NewAdapterParams struct {
	URI string

	// Database is used for sources without prefix.
	Database string

	L *zap.Logger

	// Indexes are created if they do not exist.
	Indexes []IndexSpec
}

// NewAdapter creates a new adapter.
//
// Connectivity is checked before returning.
func NewAdapter(params *NewAdapterParams) (adapter.Adapter[*Prepared, *Token], error) {
	if params.Database == "" {
		return nil, lazyerrors.New("database name is required")
	}

	a := &mongoAdapter{
		db: params.Database,
		l:  params.L.Named("mongodb"),
	}

	opts := options.Client().ApplyURI(params.URI).SetMonitor(a.monitor())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, lazyerrors.Error(err)
	}

	a.client = client

	if err = client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, lazyerrors.Error(err)
	}

	for _, idx := range params.Indexes {
		keys := make(bson.D, len(idx.Keys))
		for i, k := range idx.Keys {
			keys[i] = bson.E{Key: k, Value: 1}
		}

		m := mongo.IndexModel{
			Keys:    keys,
			Options: options.Index().SetName(idx.Name).SetUnique(idx.Unique),
		}

		if _, err = client.Database(a.db).Collection(idx.Collection).Indexes().CreateOne(ctx, m); err != nil {
			_ = client.Disconnect(ctx)
			return nil, lazyerrors.Error(err)
		}
	}

	return adapter.AdapterContract[*Prepared, *Token](a, params.L), nil
}

// monitor returns command monitor that logs commands and counts them.
func (a *mongoAdapter) monitor() *event.CommandMonitor {
	return &event.CommandMonitor{
		Started: func(_ context.Context, e *event.CommandStartedEvent) {
			a.commands.Add(1)

			if ce := a.l.Check(zap.DebugLevel, ">>> "+e.CommandName); ce != nil {
				ce.Write(zap.Int64("request_id", e.RequestID), zap.Stringer("command", e.Command))
			}
		},
		Succeeded: func(_ context.Context, e *event.CommandSucceededEvent) {
			a.l.Debug(
				"<<< "+e.CommandName,
				zap.Int64("request_id", e.RequestID), zap.Duration("duration", e.Duration),
			)
		},
		Failed: func(_ context.Context, e *event.CommandFailedEvent) {
			a.failures.Add(1)

			a.l.Debug(
				"<<< "+e.CommandName,
				zap.Int64("request_id", e.RequestID), zap.Duration("duration", e.Duration), zap.String("failure", e.Failure),
			)
		},
	}
}

// Close implements adapter.Adapter interface.
func (a *mongoAdapter) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := a.client.Disconnect(ctx); err != nil && err != mongo.ErrClientDisconnected { //nolint:errorlint // sentinel error
		a.l.Error("Failed to disconnect", zap.Error(err))
	}
}

// collection returns the collection of the given source.
func (a *mongoAdapter) collection(s query.Source) *mongo.Collection {
	db := a.db
	if s.Prefix != nil {
		db = *s.Prefix
	}

	return a.client.Database(db).Collection(s.Table)
}

// Prepare implements adapter.Adapter interface.
func (a *mongoAdapter) Prepare(params *adapter.PrepareParams) (*adapter.PrepareResult[*Prepared], error) {
	p, err := compile(params.Kind, params.Query)
	if err != nil {
		return nil, err
	}

	return &adapter.PrepareResult[*Prepared]{
		Cacheability: adapter.Cacheable,
		Prepared:     p,
	}, nil
}

// Execute implements adapter.Adapter interface.
func (a *mongoAdapter) Execute(ctx context.Context, params *adapter.ExecuteParams[*Prepared, *Token]) (*adapter.ExecuteResult, error) {
	defer observability.FuncCall(ctx)()

	var p *Prepared
	var register func(*Token)

	switch d := params.Query.(type) {
	case adapter.NotCached[*Prepared, *Token]:
		p = d.Prepared
	case adapter.FirstCache[*Prepared, *Token]:
		p = d.Prepared
		register = d.Register
	case adapter.Cached[*Prepared, *Token]:
		if d.Token == nil || d.Token.a != a {
			return nil, lazyerrors.New("token is not valid for this adapter")
		}

		p = d.Token.p
	default:
		return nil, lazyerrors.Errorf("unexpected descriptor %T", d)
	}

	var res *adapter.ExecuteResult
	var err error

	switch p.kind {
	case adapter.ReadAll:
		res, err = a.readAll(ctx, p, params)
	case adapter.UpdateAll:
		res, err = a.updateAll(ctx, p, params)
	case adapter.DeleteAll:
		res, err = a.deleteAll(ctx, p, params)
	default:
		err = lazyerrors.Errorf("unexpected operation kind %s", p.kind)
	}

	if err != nil {
		return nil, err
	}

	if register != nil {
		register(&Token{a: a, p: p})
	}

	return res, nil
}

// Autogenerate implements adapter.Adapter interface.
//
// Integer identifiers are not supported.
func (a *mongoAdapter) Autogenerate(kind adapter.AutogenerateKind) (any, error) {
	switch kind {
	case adapter.AutogenerateBinaryID, adapter.AutogenerateEmbedID:
		return autogen.UUID(), nil
	default:
		return nil, lazyerrors.Errorf("%w: %s", adapter.ErrUnsupportedAutogenerate, kind)
	}
}

var (
	commandsDesc = prometheus.NewDesc(
		prometheus.BuildFQName("ferretdb_adapters", "mongodb", "commands_total"),
		"The total number of commands sent.",
		nil, nil,
	)
	failuresDesc = prometheus.NewDesc(
		prometheus.BuildFQName("ferretdb_adapters", "mongodb", "failures_total"),
		"The total number of failed commands.",
		nil, nil,
	)
)

// Describe implements prometheus.Collector.
func (a *mongoAdapter) Describe(ch chan<- *prometheus.Desc) {
	ch <- commandsDesc
	ch <- failuresDesc
}

// Collect implements prometheus.Collector.
func (a *mongoAdapter) Collect(ch chan<- prometheus.Metric) {
	ch <- prometheus.MustNewConstMetric(commandsDesc, prometheus.CounterValue, float64(a.commands.Load()))
	ch <- prometheus.MustNewConstMetric(failuresDesc, prometheus.CounterValue, float64(a.failures.Load()))
}

// check interfaces
var (
	_ adapter.Adapter[*Prepared, *Token] = (*mongoAdapter)(nil)
)
