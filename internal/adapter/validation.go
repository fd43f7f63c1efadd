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
	"golang.org/x/exp/slices"

	"github.com/FerretDB/adapters/internal/util/lazyerrors"
)

// validatePrepareParams checks Prepare parameters.
func validatePrepareParams(params *PrepareParams) error {
	if params == nil || params.Query == nil {
		return lazyerrors.New("query is required")
	}

	switch params.Kind {
	case ReadAll:
		if len(params.Query.Select) == 0 {
			return lazyerrors.New("read_all query must select fields")
		}

		if len(params.Query.Updates) > 0 {
			return lazyerrors.New("read_all query must not have updates")
		}

	case UpdateAll:
		if len(params.Query.Updates) == 0 {
			return lazyerrors.New("update_all query must have updates")
		}

	case DeleteAll:
		if len(params.Query.Updates) > 0 {
			return lazyerrors.New("delete_all query must not have updates")
		}

	default:
		return lazyerrors.Errorf("invalid operation kind %s", params.Kind)
	}

	if err := params.Query.Validate(); err != nil {
		return lazyerrors.Error(err)
	}

	return nil
}

// validateExecuteParams checks Execute parameters.
func validateExecuteParams[P, T any](params *ExecuteParams[P, T]) error {
	if params == nil || params.Meta == nil {
		return lazyerrors.New("query meta is required")
	}

	switch d := params.Query.(type) {
	case NotCached[P, T], Cached[P, T]:
	case FirstCache[P, T]:
		if d.Register == nil {
			return lazyerrors.New("register function is required")
		}
	default:
		return lazyerrors.Errorf("invalid query descriptor %T", params.Query)
	}

	for _, f := range params.Meta.Fields {
		if f.Name == "" || f.Type == nil {
			return lazyerrors.Errorf("invalid field meta %+v", f)
		}
	}

	return nil
}

// validateAutogenerateKind checks autogenerate kind.
func validateAutogenerateKind(kind AutogenerateKind) error {
	switch kind {
	case AutogenerateID, AutogenerateBinaryID, AutogenerateEmbedID:
		return nil
	default:
		return lazyerrors.Errorf("invalid autogenerate kind %s", kind)
	}
}

// validateSchemaMeta checks schema meta of writes.
func validateSchemaMeta(meta *SchemaMeta) error {
	if meta == nil {
		return lazyerrors.New("schema meta is required")
	}

	if meta.Source.Table == "" {
		return lazyerrors.New("source table is required")
	}

	if ag := meta.AutogenerateID; ag != nil {
		if ag.Field == "" {
			return lazyerrors.New("autogenerate field is required")
		}

		if err := validateAutogenerateKind(ag.Kind); err != nil {
			return err
		}
	}

	return nil
}

// validateColumns checks column names.
func validateColumns(what string, columns []string) error {
	for i, c := range columns {
		if c == "" {
			return lazyerrors.Errorf("%s column %d is empty", what, i)
		}

		if slices.Contains(columns[:i], c) {
			return lazyerrors.Errorf("%s column %q is duplicated", what, c)
		}
	}

	return nil
}

// validateInsertParams checks Insert parameters.
func validateInsertParams(params *InsertParams) error {
	if params == nil {
		return lazyerrors.New("params are required")
	}

	if err := validateSchemaMeta(params.Meta); err != nil {
		return err
	}

	if err := validateColumns("field", params.Fields.Keys()); err != nil {
		return err
	}

	return validateColumns("returning", params.Returning)
}

// validateInsertAllParams checks InsertAll parameters.
func validateInsertAllParams(params *InsertAllParams) error {
	if params == nil {
		return lazyerrors.New("params are required")
	}

	if err := validateSchemaMeta(params.Meta); err != nil {
		return err
	}

	if err := validateColumns("header", params.Header); err != nil {
		return err
	}

	for i, row := range params.Rows {
		for k := range row {
			if !slices.Contains(params.Header, k) {
				return lazyerrors.Errorf("row %d: column %q is not in header", i, k)
			}
		}
	}

	return validateColumns("returning", params.Returning)
}

// validateUpdateParams checks Update parameters.
func validateUpdateParams(params *UpdateParams) error {
	if params == nil {
		return lazyerrors.New("params are required")
	}

	if err := validateSchemaMeta(params.Meta); err != nil {
		return err
	}

	if len(params.Fields) == 0 {
		return lazyerrors.New("fields are required")
	}

	if err := validateColumns("field", params.Fields.Keys()); err != nil {
		return err
	}

	if len(params.Filters) == 0 {
		return lazyerrors.New("filters are required")
	}

	if err := validateColumns("filter", params.Filters.Keys()); err != nil {
		return err
	}

	return validateColumns("returning", params.Returning)
}

// validateDeleteParams checks Delete parameters.
func validateDeleteParams(params *DeleteParams) error {
	if params == nil {
		return lazyerrors.New("params are required")
	}

	if err := validateSchemaMeta(params.Meta); err != nil {
		return err
	}

	if len(params.Filters) == 0 {
		return lazyerrors.New("filters are required")
	}

	if err := validateColumns("filter", params.Filters.Keys()); err != nil {
		return err
	}

	return validateColumns("returning", params.Returning)
}
