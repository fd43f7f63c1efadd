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
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/FerretDB/adapters/internal/adapter"
	"github.com/FerretDB/adapters/internal/coerce"
	"github.com/FerretDB/adapters/internal/query"
	"github.com/FerretDB/adapters/internal/querycache"
)

// roundTrip checks that dump then load yields the same value,
// both through the pipeline alone and through the storage.
func (s *suite[P, T]) roundTrip(ctx context.Context) error {
	for _, tc := range []struct {
		t coerce.Type
		v any
	}{
		{coerce.ID, int64(42)},
		{coerce.BinaryID, uuid.New()},
		{coerce.Integer, int64(-7)},
		{coerce.Float, 2.5},
		{coerce.Boolean, true},
		{coerce.String, "hello"},
		{coerce.Binary, []byte{0, 1, 0xff}},
		{coerce.Map, map[string]any{"a": "b"}},
		{coerce.Map, map[string]any{"n": int64(1), "big": int64(9007199254740993), "f": 0.5}},
		{coerce.UTCDateTime, time.Date(2024, 3, 18, 14, 39, 56, 0, time.UTC)},
		{coerce.Array{Elem: coerce.String}, []any{"a", "b"}},
		{coerce.Array{Elem: coerce.BinaryID}, []any{uuid.New()}},
		{coerce.Array{Elem: coerce.Integer}, []any{int64(1), int64(9007199254740993)}},
	} {
		d, err := coerce.Dump(s.a, tc.t, tc.v)
		if err != nil {
			return err
		}

		l, err := coerce.Load(s.a, tc.t, d)
		if err != nil {
			return err
		}

		if err = expectEqual("pipeline round-trip of "+tc.t.Name(), tc.v, l); err != nil {
			return err
		}
	}

	values := map[string]any{
		"uid":         uuid.New(),
		"name":        s.name("roundtrip"),
		"age":         int64(33),
		"score":       1.5,
		"active":      true,
		"data":        []byte{0, 1, 2, 0xff},
		"props":       map[string]any{"a": "b", "n": int64(1), "nested": map[string]any{"c": "d", "big": int64(9007199254740993)}},
		"inserted_at": time.Date(2024, 3, 18, 14, 39, 56, 0, time.UTC),
	}

	id, err := s.insertUser(ctx, values)
	if err != nil {
		return err
	}

	columns := make([]string, len(UserColumns))
	for i, c := range UserColumns {
		columns[i] = c.Name
	}

	res, err := s.readUsers(ctx, &query.Query{
		Wheres: []query.Expr{query.Compare{Field: s.p.IDField, Op: query.Eq, Value: query.Param{Index: 0}}},
		Select: columns,
	}, id)
	if err != nil {
		return err
	}

	if len(res.Rows) != 1 {
		return fmt.Errorf("expected 1 row, got %d", len(res.Rows))
	}

	for i, c := range columns {
		if err = expectEqual("storage round-trip of "+c, values[c], res.Rows[0][i]); err != nil {
			return err
		}
	}

	return nil
}

// cacheCorrectness checks that FirstCache then Cached executions yield identical results.
func (s *suite[P, T]) cacheCorrectness(ctx context.Context) error {
	names := make(query.List, 3)

	for i := range 3 {
		name := s.name(fmt.Sprintf("cache%d", i))
		if _, err := s.insertUser(ctx, map[string]any{"name": name, "age": int64(i)}); err != nil {
			return err
		}

		names[i] = query.Literal{Value: name}
	}

	q := &query.Query{
		Sources: []query.Source{s.source(UsersTable)},
		Wheres: []query.Expr{
			query.Compare{Field: "age", Op: query.Ge, Value: query.Param{Index: 0}},
			query.In{Field: "name", Values: names},
		},
		Select:  []string{"name", "age"},
		OrderBy: []query.Order{{Field: "age"}},
	}

	prepared, err := s.a.Prepare(&adapter.PrepareParams{Kind: adapter.ReadAll, Query: q})
	if err != nil {
		return err
	}

	if prepared.Cacheability != adapter.Cacheable {
		return fmt.Errorf("expected cacheable query, got %s", prepared.Cacheability)
	}

	var token T
	var registered int

	execute := func(d adapter.Descriptor[P, T], age int64) (*adapter.ExecuteResult, error) {
		return s.a.Execute(ctx, &adapter.ExecuteParams[P, T]{
			Meta:      s.queryMeta(q.Select),
			Query:     d,
			Params:    []any{age},
			Processor: adapter.LoadProcessor(s.a),
		})
	}

	first, err := execute(adapter.FirstCache[P, T]{
		Register: func(t T) {
			token = t
			registered++
		},
		Prepared: prepared.Prepared,
	}, 1)
	if err != nil {
		return err
	}

	if registered != 1 {
		return fmt.Errorf("expected 1 registration, got %d", registered)
	}

	cached, err := execute(adapter.Cached[P, T]{Token: token}, 1)
	if err != nil {
		return err
	}

	if err = expectEqual("count", int64(2), first.Count); err != nil {
		return err
	}

	if err = expectEqual("cached count", first.Count, cached.Count); err != nil {
		return err
	}

	if err = expectEqual("cached rows", first.Rows, cached.Rows); err != nil {
		return err
	}

	other, err := execute(adapter.Cached[P, T]{Token: token}, 2)
	if err != nil {
		return err
	}

	if err = expectEqual("cached rows with other parameter", [][]any{{s.name("cache2"), int64(2)}}, other.Rows); err != nil {
		return err
	}

	// the same through the caller-side cache, with a query that is not necessarily cacheable
	cache := querycache.New[T]("conformance", 8)
	params := &querycache.RunParams{
		Kind: adapter.ReadAll,
		Query: &query.Query{
			Sources: q.Sources,
			Wheres:  []query.Expr{query.In{Field: "name", Values: query.Param{Index: 0}}},
			Select:  q.Select,
			OrderBy: q.OrderBy,
		},
		Meta:      s.queryMeta(q.Select),
		Params:    []any{[]any{s.name("cache0"), s.name("cache1"), s.name("cache2")}},
		Processor: adapter.LoadProcessor(s.a),
	}

	for range 2 {
		res, err := querycache.Run(ctx, cache, s.a, params)
		if err != nil {
			return err
		}

		if err = expectEqual("querycache count", int64(3), res.Count); err != nil {
			return err
		}
	}

	return nil
}

// staleness checks that update and delete with filters matching zero records return Stale.
func (s *suite[P, T]) staleness(ctx context.Context) error {
	missing, err := s.nonexistentID()
	if err != nil {
		return err
	}

	_, err = s.a.Update(ctx, &adapter.UpdateParams{
		Meta:    s.meta(UsersTable),
		Fields:  adapter.Fields{"name": s.name("stale")},
		Filters: adapter.Filters{s.p.IDField: missing},
	})
	if err = expectCode(err, adapter.ErrorCodeStale); err != nil {
		return fmt.Errorf("update: %w", err)
	}

	_, err = s.a.Delete(ctx, &adapter.DeleteParams{
		Meta:    s.meta(UsersTable),
		Filters: adapter.Filters{s.p.IDField: missing},
	})
	if err = expectCode(err, adapter.ErrorCodeStale); err != nil {
		return fmt.Errorf("delete: %w", err)
	}

	id, err := s.insertUser(ctx, map[string]any{"name": s.name("stale")})
	if err != nil {
		return err
	}

	// the second deletion of the same record is stale
	for i := range 2 {
		_, err = s.a.Delete(ctx, &adapter.DeleteParams{
			Meta:    s.meta(UsersTable),
			Filters: adapter.Filters{s.p.IDField: id},
		})

		if i == 0 && err != nil {
			return err
		}
	}

	if err = expectCode(err, adapter.ErrorCodeStale); err != nil {
		return fmt.Errorf("second delete: %w", err)
	}

	// stale filters include non-key columns, too
	id, err = s.insertUser(ctx, map[string]any{"name": s.name("stale2"), "age": int64(1)})
	if err != nil {
		return err
	}

	_, err = s.a.Update(ctx, &adapter.UpdateParams{
		Meta:    s.meta(UsersTable),
		Fields:  adapter.Fields{"age": int64(3)},
		Filters: adapter.Filters{s.p.IDField: id, "age": int64(2)},
	})
	if err = expectCode(err, adapter.ErrorCodeStale); err != nil {
		return fmt.Errorf("update with outdated filter: %w", err)
	}

	return nil
}

// constraintReporting checks that constraint violations are reported as Invalid with names,
// and that no partial rows are visible afterward.
func (s *suite[P, T]) constraintReporting(ctx context.Context) error {
	name := s.name("unique")

	if _, err := s.insertUser(ctx, map[string]any{"name": name}); err != nil {
		return err
	}

	_, err := s.insertUser(ctx, map[string]any{"name": name, "age": int64(5)})
	if err = expectConstraint(err, adapter.ConstraintUnique, UsersNameIndex); err != nil {
		return fmt.Errorf("insert: %w", err)
	}

	if err = s.expectCount(ctx, name, 1); err != nil {
		return err
	}

	// batch is rejected entirely
	batch := s.name("batch")
	_, err = s.a.InsertAll(ctx, &adapter.InsertAllParams{
		Meta:   s.meta(UsersTable),
		Header: []string{"name"},
		Rows:   []adapter.Fields{{"name": batch}, {"name": batch}},
	})
	if err = expectConstraint(err, adapter.ConstraintUnique, UsersNameIndex); err != nil {
		return fmt.Errorf("insert all: %w", err)
	}

	if err = s.expectCount(ctx, batch, 0); err != nil {
		return err
	}

	// update to a duplicate value
	other := s.name("unique2")

	id, err := s.insertUser(ctx, map[string]any{"name": other})
	if err != nil {
		return err
	}

	_, err = s.a.Update(ctx, &adapter.UpdateParams{
		Meta:    s.meta(UsersTable),
		Fields:  adapter.Fields{"name": name},
		Filters: adapter.Filters{s.p.IDField: id},
	})
	if err = expectConstraint(err, adapter.ConstraintUnique, UsersNameIndex); err != nil {
		return fmt.Errorf("update: %w", err)
	}

	if s.p.CheckConstraints {
		negative := s.name("negative")

		_, err = s.insertUser(ctx, map[string]any{"name": negative, "age": int64(-1)})
		if err = expectConstraint(err, adapter.ConstraintCheck, UsersAgeCheck); err != nil {
			return fmt.Errorf("check: %w", err)
		}

		if err = s.expectCount(ctx, negative, 0); err != nil {
			return err
		}
	}

	if s.p.ForeignKeys {
		if err = s.foreignKeys(ctx); err != nil {
			return err
		}
	}

	return nil
}

// foreignKeys checks foreign key violations on insert and delete.
func (s *suite[P, T]) foreignKeys(ctx context.Context) error {
	fkName := ""
	if s.p.NamedForeignKeys {
		fkName = PostsUserFKey
	}

	missing, err := s.nonexistentID()
	if err != nil {
		return err
	}

	_, err = s.a.Insert(ctx, &adapter.InsertParams{
		Meta:   s.meta(PostsTable),
		Fields: adapter.Fields{"user_id": missing, "title": s.name("orphan")},
	})
	if err = expectConstraint(err, adapter.ConstraintForeignKey, fkName); err != nil {
		return fmt.Errorf("insert post: %w", err)
	}

	id, err := s.insertUser(ctx, map[string]any{"name": s.name("author")})
	if err != nil {
		return err
	}

	if _, err = s.a.Insert(ctx, &adapter.InsertParams{
		Meta:   s.meta(PostsTable),
		Fields: adapter.Fields{"user_id": id, "title": s.name("post")},
	}); err != nil {
		return err
	}

	_, err = s.a.Delete(ctx, &adapter.DeleteParams{
		Meta:    s.meta(UsersTable),
		Filters: adapter.Filters{s.p.IDField: id},
	})
	if err = expectConstraint(err, adapter.ConstraintForeignKey, fkName); err != nil {
		return fmt.Errorf("delete referenced user: %w", err)
	}

	return s.expectCount(ctx, s.name("author"), 1)
}

// expectCount returns an error if the number of users with the given name is not n.
func (s *suite[P, T]) expectCount(ctx context.Context, name string, n int64) error {
	count, err := s.countByName(ctx, name)
	if err != nil {
		return err
	}

	return expectEqual("count of "+name, n, count)
}

// autogeneration checks that autogenerated identifiers are reported even when not requested.
func (s *suite[P, T]) autogeneration(ctx context.Context) error {
	name := s.name("autogen")

	res, err := s.a.Insert(ctx, &adapter.InsertParams{
		Meta:   s.meta(UsersTable),
		Fields: adapter.Fields{"name": name},
	})
	if err != nil {
		return err
	}

	id := res.Fields[s.p.IDField]
	if id == nil {
		return fmt.Errorf("result does not contain %q: %v", s.p.IDField, res.Fields)
	}

	if res.Autogenerated == nil {
		return errors.New("autogenerated value is not reported")
	}

	if err = expectEqual("autogenerated value", res.Autogenerated.Value, id); err != nil {
		return err
	}

	read, err := s.readUsers(ctx, &query.Query{
		Wheres: []query.Expr{query.Compare{Field: s.p.IDField, Op: query.Eq, Value: query.Param{Index: 0}}},
		Select: []string{"name"},
	}, id)
	if err != nil {
		return err
	}

	if err = expectEqual("rows", [][]any{{name}}, read.Rows); err != nil {
		return err
	}

	// requested autogenerated field is reported the same way
	res, err = s.a.Insert(ctx, &adapter.InsertParams{
		Meta:      s.meta(UsersTable),
		Fields:    adapter.Fields{"name": s.name("returning")},
		Returning: []string{s.p.IDField},
	})
	if err != nil {
		return err
	}

	if res.Autogenerated == nil || res.Fields[s.p.IDField] == nil || sameValue(id, res.Fields[s.p.IDField]) {
		return fmt.Errorf("expected new autogenerated value, got %v", res.Fields)
	}

	all, err := s.a.InsertAll(ctx, &adapter.InsertAllParams{
		Meta:   s.meta(UsersTable),
		Header: []string{"name"},
		Rows:   []adapter.Fields{{"name": s.name("autogen1")}, {"name": s.name("autogen2")}},
	})
	if err != nil {
		return err
	}

	if err = expectEqual("insert all count", int64(2), all.Count); err != nil {
		return err
	}

	if len(all.Autogenerated) != 2 || len(all.Rows) != 2 {
		return fmt.Errorf("expected 2 autogenerated values and rows, got %v and %v", all.Autogenerated, all.Rows)
	}

	if all.Autogenerated[0].Value == nil || sameValue(all.Autogenerated[0].Value, all.Autogenerated[1].Value) {
		return fmt.Errorf("expected distinct autogenerated values, got %v", all.Autogenerated)
	}

	return nil
}

// idempotentRegistration checks that racing FirstCache registrations leave a usable cache.
func (s *suite[P, T]) idempotentRegistration(ctx context.Context) error {
	name := s.name("race")

	if _, err := s.insertUser(ctx, map[string]any{"name": name}); err != nil {
		return err
	}

	q := &query.Query{
		Sources: []query.Source{s.source(UsersTable)},
		Wheres:  []query.Expr{query.Compare{Field: "name", Op: query.Eq, Value: query.Param{Index: 0}}},
		Select:  []string{"name"},
	}

	prepared, err := s.a.Prepare(&adapter.PrepareParams{Kind: adapter.ReadAll, Query: q})
	if err != nil {
		return err
	}

	if prepared.Cacheability != adapter.Cacheable {
		return fmt.Errorf("expected cacheable query, got %s", prepared.Cacheability)
	}

	cache := querycache.New[T]("conformance", 8)
	fp := q.Fingerprint()
	meta := s.queryMeta(q.Select)
	params := []any{name}

	const n = 2

	var wg sync.WaitGroup
	errs := make([]error, n)

	for i := range n {
		wg.Add(1)

		go func() {
			defer wg.Done()

			_, errs[i] = s.a.Execute(ctx, &adapter.ExecuteParams[P, T]{
				Meta: meta,
				Query: adapter.FirstCache[P, T]{
					Register: func(t T) {
						cache.Put(fp, adapter.ReadAll, t)
					},
					Prepared: prepared.Prepared,
				},
				Params: params,
			})
		}()
	}

	wg.Wait()

	if err = errors.Join(errs...); err != nil {
		return err
	}

	if err = expectEqual("registrations", uint64(n), cache.Stats().Registrations); err != nil {
		return err
	}

	token, ok := cache.Get(fp, adapter.ReadAll)
	if !ok {
		return errors.New("token is not cached")
	}

	res, err := s.a.Execute(ctx, &adapter.ExecuteParams[P, T]{
		Meta:      meta,
		Query:     adapter.Cached[P, T]{Token: token},
		Params:    params,
		Processor: adapter.LoadProcessor(s.a),
	})
	if err != nil {
		return err
	}

	return expectEqual("rows", [][]any{{name}}, res.Rows)
}

// exampleScenario checks the basic insert and stale update scenario.
func (s *suite[P, T]) exampleScenario(ctx context.Context) error {
	name := s.name("a")

	res, err := s.a.Insert(ctx, &adapter.InsertParams{
		Meta:      s.meta(UsersTable),
		Fields:    adapter.Fields{"name": name},
		Returning: []string{s.p.IDField},
	})
	if err != nil {
		return err
	}

	if err = expectEqual("name", name, res.Fields["name"]); err != nil {
		return err
	}

	id := res.Fields[s.p.IDField]
	if id == nil {
		return fmt.Errorf("result does not contain %q: %v", s.p.IDField, res.Fields)
	}

	missing, err := s.nonexistentID()
	if err != nil {
		return err
	}

	_, err = s.a.Update(ctx, &adapter.UpdateParams{
		Meta:    s.meta(UsersTable),
		Fields:  adapter.Fields{"name": s.name("b")},
		Filters: adapter.Filters{s.p.IDField: missing},
	})
	if err = expectCode(err, adapter.ErrorCodeStale); err != nil {
		return err
	}

	upd, err := s.a.Update(ctx, &adapter.UpdateParams{
		Meta:      s.meta(UsersTable),
		Fields:    adapter.Fields{"name": s.name("b")},
		Filters:   adapter.Filters{s.p.IDField: id},
		Returning: []string{"name"},
	})
	if err != nil {
		return err
	}

	return expectEqual("updated name", s.name("b"), upd.Fields["name"])
}

// coercionFailure checks that row processor coercion failures are reported with the field name.
func (s *suite[P, T]) coercionFailure(ctx context.Context) error {
	name := s.name("coercion")

	if _, err := s.insertUser(ctx, map[string]any{"name": name}); err != nil {
		return err
	}

	q := &query.Query{
		Sources: []query.Source{s.source(UsersTable)},
		Wheres:  []query.Expr{query.Compare{Field: "name", Op: query.Eq, Value: query.Param{Index: 0}}},
		Select:  []string{"name"},
	}

	prepared, err := s.a.Prepare(&adapter.PrepareParams{Kind: adapter.ReadAll, Query: q})
	if err != nil {
		return err
	}

	meta := s.queryMeta(q.Select)
	meta.Fields[0].Type = coerce.Map

	_, err = s.a.Execute(ctx, &adapter.ExecuteParams[P, T]{
		Meta:      meta,
		Query:     adapter.NotCached[P, T]{Prepared: prepared.Prepared},
		Params:    []any{name},
		Processor: adapter.LoadProcessor(s.a),
	})
	if e := expectCode(err, adapter.ErrorCodeCoercionFailure); e != nil {
		return e
	}

	return expectEqual("field", "name", adapter.ErrorField(err))
}

// executeWrites checks update_all and delete_all queries.
func (s *suite[P, T]) executeWrites(ctx context.Context) error {
	names := query.List{query.Literal{Value: s.name("bulk1")}, query.Literal{Value: s.name("bulk2")}}

	for _, n := range names {
		if _, err := s.insertUser(ctx, map[string]any{"name": n.(query.Literal).Value, "age": int64(1)}); err != nil {
			return err
		}
	}

	where := []query.Expr{query.In{Field: "name", Values: names}}

	for _, tc := range []struct {
		kind    adapter.OperationKind
		updates []query.Set
		params  []any
	}{
		{adapter.UpdateAll, []query.Set{{Field: "age", Value: query.Param{Index: 0}}}, []any{int64(10)}},
		{adapter.DeleteAll, nil, nil},
	} {
		prepared, err := s.a.Prepare(&adapter.PrepareParams{
			Kind: tc.kind,
			Query: &query.Query{
				Sources: []query.Source{s.source(UsersTable)},
				Wheres:  where,
				Updates: tc.updates,
			},
		})
		if err != nil {
			return err
		}

		res, err := s.a.Execute(ctx, &adapter.ExecuteParams[P, T]{
			Meta:   &adapter.QueryMeta{Sources: []query.Source{s.source(UsersTable)}},
			Query:  adapter.NotCached[P, T]{Prepared: prepared.Prepared},
			Params: tc.params,
		})
		if err != nil {
			return fmt.Errorf("%s: %w", tc.kind, err)
		}

		if err = expectEqual(tc.kind.String()+" count", int64(2), res.Count); err != nil {
			return err
		}

		if res.Rows != nil {
			return fmt.Errorf("%s: expected no rows, got %v", tc.kind, res.Rows)
		}

		if tc.kind == adapter.UpdateAll {
			read, err := s.readUsers(ctx, &query.Query{Wheres: where, Select: []string{"age"}})
			if err != nil {
				return err
			}

			if err = expectEqual("updated ages", [][]any{{int64(10)}, {int64(10)}}, read.Rows); err != nil {
				return err
			}
		}
	}

	read, err := s.readUsers(ctx, &query.Query{Wheres: where, Select: []string{"name"}})
	if err != nil {
		return err
	}

	return expectEqual("count after delete_all", int64(0), read.Count)
}
