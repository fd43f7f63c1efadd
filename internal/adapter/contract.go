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

package adapter

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/FerretDB/adapters/internal/coerce"
	"github.com/FerretDB/adapters/internal/util/debugbuild"
	"github.com/FerretDB/adapters/internal/util/lazyerrors"
	"github.com/FerretDB/adapters/internal/util/observability"
	"github.com/FerretDB/adapters/internal/util/resource"
)

// adapterContract implements Adapter interface.
type adapterContract[P, T any] struct {
	a     Adapter[P, T]
	l     *zap.Logger
	token *resource.Token
}

// AdapterContract wraps Adapter and enforces its contract.
//
// All adapter implementations should use that function when they create new Adapter instances.
// The caller should not use that function.
//
// See adapterContract and its methods for additional details.
func AdapterContract[P, T any](a Adapter[P, T], l *zap.Logger) Adapter[P, T] {
	if _, ok := a.(*adapterContract[P, T]); ok {
		panic("adapter.AdapterContract: adapter is already wrapped")
	}

	ac := &adapterContract[P, T]{
		a:     a,
		l:     l,
		token: resource.NewToken(),
	}
	resource.Track(ac, ac.token)

	return ac
}

// Loaders implements [coerce.Pipeline].
func (ac *adapterContract[P, T]) Loaders(p coerce.Primitive, t coerce.Type) []coerce.Step {
	return ac.a.Loaders(p, t)
}

// Dumpers implements [coerce.Pipeline].
func (ac *adapterContract[P, T]) Dumpers(p coerce.Primitive, t coerce.Type) []coerce.Step {
	return ac.a.Dumpers(p, t)
}

// Describe implements [prometheus.Collector].
func (ac *adapterContract[P, T]) Describe(ch chan<- *prometheus.Desc) {
	ac.a.Describe(ch)
}

// Collect implements [prometheus.Collector].
func (ac *adapterContract[P, T]) Collect(ch chan<- prometheus.Metric) {
	ac.a.Collect(ch)
}

// Close closes all connections and frees all resources associated with the adapter,
// including cached statements.
//
// Tokens issued before Close must not be used after it.
func (ac *adapterContract[P, T]) Close() {
	ac.a.Close()

	resource.Untrack(ac, ac.token)
}

// Prepare compiles the query for the given operation kind.
//
// The query is validated first; malformed queries are fatal errors.
// The adapter decides cacheability.
func (ac *adapterContract[P, T]) Prepare(params *PrepareParams) (*PrepareResult[P], error) {
	var res *PrepareResult[P]

	err := validatePrepareParams(params)
	if err == nil {
		res, err = ac.a.Prepare(params)
	}

	checkError(err)

	if err == nil && debugbuild.Enabled {
		switch res.Cacheability {
		case Cacheable, NotCacheable:
		default:
			panic(fmt.Sprintf("invalid cacheability %d", res.Cacheability))
		}
	}

	return res, err
}

// Execute runs the compiled query described by the descriptor.
//
// For FirstCache, Register is called by the contract wrapper exactly once,
// only after the adapter succeeded.
// Panics inside Register are recovered and logged.
//
// Errors returned by the processor are converted:
// [*coerce.Error] to ErrorCodeCoercionFailure with the field name as argument,
// others to fatal errors.
func (ac *adapterContract[P, T]) Execute(ctx context.Context, params *ExecuteParams[P, T]) (*ExecuteResult, error) {
	defer observability.FuncCall(ctx)()

	if err := validateExecuteParams(params); err != nil {
		return nil, err
	}

	ctx, cancel := withTimeout(ctx, params.Options)
	defer cancel()

	p := *params

	if params.Processor != nil {
		p.Processor = coercionProcessor(params.Processor)
	}

	var rec *registration[T]

	fc, first := params.Query.(FirstCache[P, T])
	if first {
		rec = new(registration[T])
		p.Query = FirstCache[P, T]{
			Register: rec.record,
			Prepared: fc.Prepared,
		}
	}

	res, err := ac.a.Execute(ctx, &p)
	checkError(err, ErrorCodeCoercionFailure)

	if first {
		ac.finishRegistration(rec, fc.Register, err == nil)
	}

	if err == nil && debugbuild.Enabled {
		if res.Count < 0 {
			panic(fmt.Sprintf("negative count %d", res.Count))
		}

		for i, row := range res.Rows {
			if len(row) != len(params.Meta.Fields) {
				panic(fmt.Sprintf("row %d has %d values, expected %d", i, len(row), len(params.Meta.Fields)))
			}
		}
	}

	return res, err
}

// Autogenerate returns a generated value of the given kind,
// nil if the storage engine generates the value itself,
// or a fatal error wrapping ErrUnsupportedAutogenerate.
func (ac *adapterContract[P, T]) Autogenerate(kind AutogenerateKind) (any, error) {
	var res any

	err := validateAutogenerateKind(kind)
	if err == nil {
		res, err = ac.a.Autogenerate(kind)
	}

	checkError(err)

	return res, err
}

// Insert inserts a single record.
//
// If SchemaMeta.AutogenerateID is set and the field is missing or nil,
// Autogenerate is called exactly once before the write.
// A generated value is written and reported in the result even if it is not in Returning;
// nil means that storage generates it, so the field is appended to Returning.
//
// Result fields are written fields overlaid with returned columns.
//
// It returns *Error with ErrorCodeInvalid code if a constraint is violated.
func (ac *adapterContract[P, T]) Insert(ctx context.Context, params *InsertParams) (*InsertResult, error) {
	defer observability.FuncCall(ctx)()

	if err := validateInsertParams(params); err != nil {
		return nil, err
	}

	ctx, cancel := withTimeout(ctx, params.Options)
	defer cancel()

	p := *params
	p.Meta = resolveMeta(params.Meta, params.Options)
	p.Fields = maps.Clone(params.Fields)
	p.Returning = slices.Clone(params.Returning)

	if p.Fields == nil {
		p.Fields = Fields{}
	}

	gen, err := ac.autogenerate(p.Meta, p.Fields, &p.Returning)
	if err != nil {
		return nil, err
	}

	res, err := ac.a.Insert(ctx, &p)
	checkError(err, ErrorCodeInvalid)

	if err != nil {
		return nil, err
	}

	fields := maps.Clone(p.Fields)
	maps.Copy(fields, res.Fields)

	if gen != nil {
		if gen.Value == nil {
			gen.Value = fields[gen.Field]
		}

		fields[gen.Field] = gen.Value
	}

	if debugbuild.Enabled {
		checkReturning(fields, p.Returning)
	}

	return &InsertResult{
		Fields:        fields,
		Autogenerated: gen,
	}, nil
}

// InsertAll inserts multiple records atomically.
//
// Every row is subject to the same autogeneration rule as Insert;
// if any identifier is autogenerated, its field is appended to Returning.
// Result Returning contains the final list of returned columns.
//
// It returns *Error with ErrorCodeInvalid code if a constraint is violated;
// no rows are written in that case.
func (ac *adapterContract[P, T]) InsertAll(ctx context.Context, params *InsertAllParams) (*InsertAllResult, error) {
	defer observability.FuncCall(ctx)()

	if err := validateInsertAllParams(params); err != nil {
		return nil, err
	}

	ctx, cancel := withTimeout(ctx, params.Options)
	defer cancel()

	p := *params
	p.Meta = resolveMeta(params.Meta, params.Options)
	p.Header = slices.Clone(params.Header)
	p.Returning = slices.Clone(params.Returning)
	p.Rows = make([]Fields, len(params.Rows))

	// index of the row for each autogenerated value
	var gens []Autogenerated
	var genRows []int

	for i, row := range params.Rows {
		p.Rows[i] = maps.Clone(row)
		if p.Rows[i] == nil {
			p.Rows[i] = Fields{}
		}

		gen, err := ac.autogenerate(p.Meta, p.Rows[i], &p.Returning)
		if err != nil {
			return nil, err
		}

		if gen == nil {
			continue
		}

		if !slices.Contains(p.Returning, gen.Field) {
			p.Returning = append(p.Returning, gen.Field)
		}

		if gen.Value != nil && !slices.Contains(p.Header, gen.Field) {
			p.Header = append(p.Header, gen.Field)
		}

		gens = append(gens, *gen)
		genRows = append(genRows, i)
	}

	if len(p.Rows) == 0 {
		return &InsertAllResult{Returning: p.Returning}, nil
	}

	res, err := ac.a.InsertAll(ctx, &p)
	checkError(err, ErrorCodeInvalid)

	if err != nil {
		return nil, err
	}

	if debugbuild.Enabled {
		if res.Count != int64(len(p.Rows)) {
			panic(fmt.Sprintf("inserted %d rows, expected %d", res.Count, len(p.Rows)))
		}

		if len(p.Returning) > 0 && len(res.Rows) != len(p.Rows) {
			panic(fmt.Sprintf("returned %d rows, expected %d", len(res.Rows), len(p.Rows)))
		}

		for i, row := range res.Rows {
			if len(row) != len(p.Returning) {
				panic(fmt.Sprintf("row %d has %d values, expected %d", i, len(row), len(p.Returning)))
			}
		}
	}

	for i := range gens {
		if gens[i].Value == nil && len(res.Rows) > genRows[i] {
			gens[i].Value = res.Rows[genRows[i]][slices.Index(p.Returning, gens[i].Field)]
		}
	}

	res.Autogenerated = gens
	res.Returning = p.Returning

	return res, nil
}

// Update updates a single record selected by filters.
//
// Result fields are written fields overlaid with returned columns.
//
// It returns *Error with ErrorCodeStale code if filters matched zero records,
// or ErrorCodeInvalid if a constraint is violated.
func (ac *adapterContract[P, T]) Update(ctx context.Context, params *UpdateParams) (*UpdateResult, error) {
	defer observability.FuncCall(ctx)()

	if err := validateUpdateParams(params); err != nil {
		return nil, err
	}

	ctx, cancel := withTimeout(ctx, params.Options)
	defer cancel()

	p := *params
	p.Meta = resolveMeta(params.Meta, params.Options)

	res, err := ac.a.Update(ctx, &p)
	checkError(err, ErrorCodeInvalid, ErrorCodeStale)

	if err != nil {
		return nil, err
	}

	fields := maps.Clone(params.Fields)
	maps.Copy(fields, res.Fields)

	if debugbuild.Enabled {
		checkReturning(fields, params.Returning)
	}

	return &UpdateResult{Fields: fields}, nil
}

// Delete deletes a single record selected by filters.
//
// Result fields contain returned columns.
//
// It returns *Error with ErrorCodeStale code if filters matched zero records,
// or ErrorCodeInvalid if a constraint (for example, foreign key) is violated.
func (ac *adapterContract[P, T]) Delete(ctx context.Context, params *DeleteParams) (*DeleteResult, error) {
	defer observability.FuncCall(ctx)()

	if err := validateDeleteParams(params); err != nil {
		return nil, err
	}

	ctx, cancel := withTimeout(ctx, params.Options)
	defer cancel()

	p := *params
	p.Meta = resolveMeta(params.Meta, params.Options)

	res, err := ac.a.Delete(ctx, &p)
	checkError(err, ErrorCodeInvalid, ErrorCodeStale)

	if err != nil {
		return nil, err
	}

	if res.Fields == nil {
		res.Fields = Fields{}
	}

	if debugbuild.Enabled {
		checkReturning(res.Fields, params.Returning)
	}

	return res, nil
}

// autogenerate performs identifier autogeneration for a single row.
//
// It modifies fields and returning in place.
// It returns nil if autogeneration is not needed.
func (ac *adapterContract[P, T]) autogenerate(meta *SchemaMeta, fields Fields, returning *[]string) (*Autogenerated, error) {
	ag := meta.AutogenerateID
	if ag == nil {
		return nil, nil
	}

	if v := fields[ag.Field]; v != nil {
		return nil, nil
	}

	v, err := ac.Autogenerate(ag.Kind)
	if err != nil {
		return nil, lazyerrors.Error(err)
	}

	if v == nil {
		delete(fields, ag.Field)

		if !slices.Contains(*returning, ag.Field) {
			*returning = append(*returning, ag.Field)
		}
	} else {
		fields[ag.Field] = v
	}

	return &Autogenerated{
		Field: ag.Field,
		Kind:  ag.Kind,
		Value: v,
	}, nil
}

// finishRegistration calls the caller's register function if the adapter registered a token.
func (ac *adapterContract[P, T]) finishRegistration(rec *registration[T], register func(T), success bool) {
	rec.m.Lock()
	calls, token := rec.calls, rec.token
	rec.done = true
	rec.m.Unlock()

	switch {
	case !success && calls > 0:
		ac.violation("adapter registered a token for failed execution")
		return
	case !success:
		return
	case calls == 0:
		ac.violation("adapter did not register a token for first cache execution")
		return
	case calls > 1:
		ac.violation(fmt.Sprintf("adapter registered a token %d times", calls))
	}

	defer func() {
		if p := recover(); p != nil {
			ac.l.Warn("Cache registration failed", zap.Any("panic", p), zap.ByteString("stack", debugbuild.Stack()))
		}
	}()

	register(token)
}

// violation reports adapter contract violation.
//
// It panics in debug builds.
func (ac *adapterContract[P, T]) violation(msg string) {
	if debugbuild.Enabled {
		panic(msg)
	}

	ac.l.Error(msg)
}

// registration records tokens registered by the adapter during a single FirstCache execution.
type registration[T any] struct {
	m     sync.Mutex
	token T
	calls int
	done  bool
}

// record is passed to the adapter as FirstCache.Register.
func (r *registration[T]) record(token T) {
	r.m.Lock()
	defer r.m.Unlock()

	if r.done {
		// registration after Execute returned can't be forwarded
		if debugbuild.Enabled {
			panic("adapter registered a token after execution")
		}

		return
	}

	r.calls++
	r.token = token
}

// coercionProcessor wraps the caller's row processor to convert its errors.
func coercionProcessor(proc RowProcessor) RowProcessor {
	return func(value any, field FieldMeta) (any, error) {
		res, err := proc(value, field)
		if err == nil {
			return res, nil
		}

		if _, ok := err.(*Error); ok { //nolint:errorlint // do not inspect error chain
			return nil, err
		}

		var ce *coerce.Error
		if errors.As(err, &ce) {
			return nil, NewErrorWithArgument(ErrorCodeCoercionFailure, err, field.Name)
		}

		return nil, lazyerrors.Error(err)
	}
}

// LoadProcessor returns a row processor that loads every selected value through the pipeline.
//
// The first value that fails to load fails the whole execution with ErrorCodeCoercionFailure.
func LoadProcessor(p coerce.Pipeline) RowProcessor {
	load := coerce.RowProcessor(p)

	return func(value any, field FieldMeta) (any, error) {
		return load(value, field.Type)
	}
}

// withTimeout returns a context with Options.Timeout applied if it is set.
func withTimeout(ctx context.Context, opts *Options) (context.Context, context.CancelFunc) {
	if opts == nil || opts.Timeout <= 0 {
		return context.WithCancel(ctx)
	}

	return context.WithTimeout(ctx, opts.Timeout)
}

// resolveMeta returns a copy of meta with Options.Prefix applied.
func resolveMeta(meta *SchemaMeta, opts *Options) *SchemaMeta {
	res := *meta
	res.Source = opts.Source(meta.Source)

	return &res
}

// checkReturning panics if fields do not contain every returning column.
func checkReturning(fields Fields, returning []string) {
	for _, r := range returning {
		if _, ok := fields[r]; !ok {
			panic(fmt.Sprintf("returning column %q is missing in result", r))
		}
	}
}

// check interfaces
var (
	_ Adapter[any, any] = (*adapterContract[any, any])(nil)
)
