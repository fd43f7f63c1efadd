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

// InsertParams represents the parameters of Adapter.Insert method.
type InsertParams struct {
	Meta      *SchemaMeta
	Fields    Fields
	Returning []string
	Options   *Options
}

// InsertResult represents the results of Adapter.Insert method.
//
// Fields contain every column from Returning.
type InsertResult struct {
	Fields Fields

	// Autogenerated is set by the contract wrapper when identifier was autogenerated.
	Autogenerated *Autogenerated
}

// InsertAllParams represents the parameters of Adapter.InsertAll method.
//
// Every row's keys are a subset of Header.
// Header columns missing in a row are not written for that row, so storage defaults apply.
type InsertAllParams struct {
	Meta      *SchemaMeta
	Header    []string
	Rows      []Fields
	Returning []string
	Options   *Options
}

// InsertAllResult represents the results of Adapter.InsertAll method.
//
// Rows are nil if Returning is empty;
// otherwise, each row contains values of Returning columns in that order.
// The batch is atomic: constraint violations abort it entirely.
type InsertAllResult struct {
	Count int64
	Rows  [][]any

	// Returning is the final list of returned columns, set by the contract wrapper.
	// It may contain the autogenerated field in addition to requested columns.
	Returning []string

	// Autogenerated is set by the contract wrapper, one element per autogenerated row identifier.
	Autogenerated []Autogenerated
}

// UpdateParams represents the parameters of Adapter.Update method.
type UpdateParams struct {
	Meta      *SchemaMeta
	Fields    Fields
	Filters   Filters
	Returning []string
	Options   *Options
}

// UpdateResult represents the results of Adapter.Update method.
type UpdateResult struct {
	Fields Fields
}

// DeleteParams represents the parameters of Adapter.Delete method.
type DeleteParams struct {
	Meta      *SchemaMeta
	Filters   Filters
	Returning []string
	Options   *Options
}

// DeleteResult represents the results of Adapter.Delete method.
type DeleteResult struct {
	Fields Fields
}
