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
	"errors"
	"regexp"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
	"golang.org/x/exp/slices"

	"github.com/FerretDB/adapters/internal/adapter"
	"github.com/FerretDB/adapters/internal/util/lazyerrors"
	"github.com/FerretDB/adapters/internal/util/observability"
)

// document returns a document with normalized values of the given fields.
func document(fields adapter.Fields, columns []string) bson.D {
	res := make(bson.D, 0, len(columns))
	for _, c := range columns {
		if v, ok := fields[c]; ok {
			res = append(res, bson.E{Key: c, Value: normalize(v)})
		}
	}

	return res
}

// filterDocument returns a filter document for the given filters.
//
// Nil values match both null and missing fields.
func filterDocument(filters adapter.Filters) bson.D {
	return document(adapter.Fields(filters), filters.Keys())
}

// withID returns the document with _id field, generating ObjectID if it is missing.
func withID(doc bson.D) (bson.D, any) {
	for _, e := range doc {
		if e.Key == "_id" {
			return doc, e.Value
		}
	}

	id := primitive.NewObjectID()

	return append(bson.D{{Key: "_id", Value: id}}, doc...), id
}

// echo returns returning fields from the written fields; missing fields are nil.
func echo(fields adapter.Fields, returning []string) adapter.Fields {
	res := make(adapter.Fields, len(returning))
	for _, c := range returning {
		res[c] = fields[c]
	}

	return res
}

// Insert implements adapter.Adapter interface.
func (a *mongoAdapter) Insert(ctx context.Context, params *adapter.InsertParams) (*adapter.InsertResult, error) {
	defer observability.FuncCall(ctx)()

	doc, id := withID(document(params.Fields, params.Fields.Keys()))

	opts := options.InsertOne()
	if comment := params.Options.CommentText(); comment != "" {
		opts.SetComment(comment)
	}

	if _, err := a.collection(params.Meta.Source).InsertOne(ctx, doc, opts); err != nil {
		return nil, writeError(err)
	}

	res := echo(params.Fields, params.Returning)
	if _, ok := params.Fields["_id"]; !ok && slices.Contains(params.Returning, "_id") {
		res["_id"] = id
	}

	return &adapter.InsertResult{Fields: res}, nil
}

// InsertAll implements adapter.Adapter interface.
//
// Documents are inserted in order; if that fails,
// already inserted documents are deleted.
func (a *mongoAdapter) InsertAll(ctx context.Context, params *adapter.InsertAllParams) (*adapter.InsertAllResult, error) {
	defer observability.FuncCall(ctx)()

	docs := make([]any, len(params.Rows))
	ids := make([]any, len(params.Rows))

	for i, row := range params.Rows {
		docs[i], ids[i] = withID(document(row, params.Header))
	}

	opts := options.InsertMany().SetOrdered(true)
	if comment := params.Options.CommentText(); comment != "" {
		opts.SetComment(comment)
	}

	c := a.collection(params.Meta.Source)

	if _, err := c.InsertMany(ctx, docs, opts); err != nil {
		inserted := ids

		var bwe mongo.BulkWriteException
		if errors.As(err, &bwe) && len(bwe.WriteErrors) > 0 {
			inserted = ids[:bwe.WriteErrors[0].Index]
		}

		if len(inserted) > 0 {
			f := bson.D{{Key: "_id", Value: bson.D{{Key: "$in", Value: inserted}}}}
			if _, derr := c.DeleteMany(context.WithoutCancel(ctx), f); derr != nil {
				a.l.Error("Failed to delete partially inserted documents", zap.Error(derr))
			}
		}

		return nil, writeError(err)
	}

	res := &adapter.InsertAllResult{
		Count: int64(len(params.Rows)),
	}

	if len(params.Returning) == 0 {
		return res, nil
	}

	res.Rows = make([][]any, len(params.Rows))

	for i, row := range params.Rows {
		values := make([]any, len(params.Returning))
		for j, c := range params.Returning {
			if _, ok := row[c]; !ok && c == "_id" {
				values[j] = ids[i]
				continue
			}

			values[j] = row[c]
		}

		res.Rows[i] = values
	}

	return res, nil
}

// Update implements adapter.Adapter interface.
func (a *mongoAdapter) Update(ctx context.Context, params *adapter.UpdateParams) (*adapter.UpdateResult, error) {
	defer observability.FuncCall(ctx)()

	c := a.collection(params.Meta.Source)
	f := filterDocument(params.Filters)
	u := bson.D{{Key: "$set", Value: document(params.Fields, params.Fields.Keys())}}
	comment := params.Options.CommentText()

	if len(params.Returning) == 0 {
		opts := options.Update()
		if comment != "" {
			opts.SetComment(comment)
		}

		r, err := c.UpdateOne(ctx, f, u, opts)
		if err != nil {
			return nil, writeError(err)
		}

		if r.MatchedCount == 0 {
			return nil, adapter.NewError(adapter.ErrorCodeStale, nil)
		}

		return &adapter.UpdateResult{Fields: adapter.Fields{}}, nil
	}

	opts := options.FindOneAndUpdate().
		SetReturnDocument(options.After).
		SetProjection(projection(params.Returning))
	if comment != "" {
		opts.SetComment(comment)
	}

	res, err := decodeOne(c.FindOneAndUpdate(ctx, f, u, opts), params.Returning)
	if err != nil {
		return nil, err
	}

	return &adapter.UpdateResult{Fields: res}, nil
}

// Delete implements adapter.Adapter interface.
func (a *mongoAdapter) Delete(ctx context.Context, params *adapter.DeleteParams) (*adapter.DeleteResult, error) {
	defer observability.FuncCall(ctx)()

	c := a.collection(params.Meta.Source)
	f := filterDocument(params.Filters)
	comment := params.Options.CommentText()

	if len(params.Returning) == 0 {
		opts := options.Delete()
		if comment != "" {
			opts.SetComment(comment)
		}

		r, err := c.DeleteOne(ctx, f, opts)
		if err != nil {
			return nil, writeError(err)
		}

		if r.DeletedCount == 0 {
			return nil, adapter.NewError(adapter.ErrorCodeStale, nil)
		}

		return &adapter.DeleteResult{Fields: adapter.Fields{}}, nil
	}

	opts := options.FindOneAndDelete().SetProjection(projection(params.Returning))
	if comment != "" {
		opts.SetComment(comment)
	}

	res, err := decodeOne(c.FindOneAndDelete(ctx, f, opts), params.Returning)
	if err != nil {
		return nil, err
	}

	return &adapter.DeleteResult{Fields: res}, nil
}

// decodeOne returns returning fields of the single result.
//
// It returns ErrorCodeStale error if there is no document.
func decodeOne(r *mongo.SingleResult, returning []string) (adapter.Fields, error) {
	var doc bson.M

	if err := r.Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, adapter.NewError(adapter.ErrorCodeStale, nil)
		}

		return nil, writeError(err)
	}

	return echo(adapter.Fields(doc), returning), nil
}

// duplicateKeyIndexRe extracts the index name from duplicate key error message.
var duplicateKeyIndexRe = regexp.MustCompile(`index: (\S+) dup key`)

// writeError returns ErrorCodeInvalid error for duplicate key errors
// and fatal error for everything else.
func writeError(err error) error {
	if !mongo.IsDuplicateKeyError(err) {
		return lazyerrors.Error(err)
	}

	var name string
	if m := duplicateKeyIndexRe.FindStringSubmatch(err.Error()); m != nil {
		name = m[1]
	}

	return adapter.NewInvalidError(err, adapter.Constraint{Type: adapter.ConstraintUnique, Name: name})
}
