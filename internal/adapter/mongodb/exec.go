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

package mongodb

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/FerretDB/adapters/internal/adapter"
	"github.com/FerretDB/adapters/internal/util/lazyerrors"
)

// projection returns projection document for the given fields.
func projection(fields []string) bson.D {
	res := make(bson.D, 0, len(fields)+1)

	var id bool

	for _, f := range fields {
		res = append(res, bson.E{Key: f, Value: 1})
		id = id || f == "_id"
	}

	if !id {
		res = append(res, bson.E{Key: "_id", Value: 0})
	}

	return res
}

// readAll executes read-all query.
func (a *mongoAdapter) readAll(ctx context.Context, p *Prepared, params *adapter.ExecuteParams[*Prepared, *Token]) (*adapter.ExecuteResult, error) {
	f, err := p.filter(params.Params)
	if err != nil {
		return nil, lazyerrors.Error(err)
	}

	opts := options.Find().SetProjection(projection(p.sel))

	if len(p.sort) > 0 {
		opts.SetSort(p.sort)
	}

	if p.limit != nil {
		n, err := resolveInt(p.limit, params.Params)
		if err != nil {
			return nil, lazyerrors.Error(err)
		}

		// zero limit means no limit for MongoDB
		if n == 0 {
			return new(adapter.ExecuteResult), nil
		}

		opts.SetLimit(n)
	}

	if p.offset != nil {
		n, err := resolveInt(p.offset, params.Params)
		if err != nil {
			return nil, lazyerrors.Error(err)
		}

		opts.SetSkip(n)
	}

	if comment := params.Options.CommentText(); comment != "" {
		opts.SetComment(comment)
	}

	cur, err := a.collection(p.source).Find(ctx, f, opts)
	if err != nil {
		return nil, lazyerrors.Error(err)
	}

	defer cur.Close(ctx)

	res := new(adapter.ExecuteResult)
	fields := params.Meta.Fields

	for cur.Next(ctx) {
		var doc bson.M
		if err = cur.Decode(&doc); err != nil {
			return nil, lazyerrors.Error(err)
		}

		row := make([]any, len(p.sel))
		for i, name := range p.sel {
			row[i] = doc[name]
		}

		if params.Processor != nil {
			for i, v := range row {
				// processor errors are converted by the contract
				if row[i], err = params.Processor(v, fields[i]); err != nil {
					return nil, err
				}
			}
		}

		res.Rows = append(res.Rows, row)
	}

	if err = cur.Err(); err != nil {
		return nil, lazyerrors.Error(err)
	}

	res.Count = int64(len(res.Rows))

	return res, nil
}

// updateAll executes update-all query.
func (a *mongoAdapter) updateAll(ctx context.Context, p *Prepared, params *adapter.ExecuteParams[*Prepared, *Token]) (*adapter.ExecuteResult, error) {
	f, err := p.filter(params.Params)
	if err != nil {
		return nil, lazyerrors.Error(err)
	}

	if len(p.updates) == 0 {
		return nil, lazyerrors.New("update-all requires at least one assignment")
	}

	set := make(bson.D, len(p.updates))

	for i, u := range p.updates {
		v, err := u.value(params.Params)
		if err != nil {
			return nil, lazyerrors.Error(err)
		}

		set[i] = bson.E{Key: u.field, Value: v}
	}

	opts := options.Update()
	if comment := params.Options.CommentText(); comment != "" {
		opts.SetComment(comment)
	}

	r, err := a.collection(p.source).UpdateMany(ctx, f, bson.D{{Key: "$set", Value: set}}, opts)
	if err != nil {
		return nil, lazyerrors.Error(err)
	}

	return &adapter.ExecuteResult{Count: r.MatchedCount}, nil
}

// deleteAll executes delete-all query.
func (a *mongoAdapter) deleteAll(ctx context.Context, p *Prepared, params *adapter.ExecuteParams[*Prepared, *Token]) (*adapter.ExecuteResult, error) {
	f, err := p.filter(params.Params)
	if err != nil {
		return nil, lazyerrors.Error(err)
	}

	opts := options.Delete()
	if comment := params.Options.CommentText(); comment != "" {
		opts.SetComment(comment)
	}

	r, err := a.collection(p.source).DeleteMany(ctx, f, opts)
	if err != nil {
		return nil, lazyerrors.Error(err)
	}

	return &adapter.ExecuteResult{Count: r.DeletedCount}, nil
}

// resolveInt resolves limit or offset operand.
func resolveInt(op operand, params []any) (int64, error) {
	v, err := op(params)
	if err != nil {
		return 0, err
	}

	return toInt64(v)
}
