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
	"fmt"
	"time"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/FerretDB/adapters/internal/coerce"
	"github.com/FerretDB/adapters/internal/query"
)

// AutogenerateKind is a kind of autogenerated identifier.
type AutogenerateKind int

// Autogenerate kinds.
const (
	_ AutogenerateKind = iota

	AutogenerateID       // id
	AutogenerateBinaryID // binary_id
	AutogenerateEmbedID  // embed_id
)

// String implements [fmt.Stringer].
func (k AutogenerateKind) String() string {
	switch k {
	case AutogenerateID:
		return "id"
	case AutogenerateBinaryID:
		return "binary_id"
	case AutogenerateEmbedID:
		return "embed_id"
	default:
		return fmt.Sprintf("AutogenerateKind(%d)", int(k))
	}
}

// AutogenerateField describes which field of the record is autogenerated.
type AutogenerateField struct {
	Field string
	Kind  AutogenerateKind
}

// Autogenerated describes the field that was autogenerated in a write and the produced value.
type Autogenerated struct {
	Field string
	Kind  AutogenerateKind
	Value any
}

// SchemaMeta describes the logical record type being operated on.
//
// It is immutable for the duration of the call.
type SchemaMeta struct {
	Source         query.Source
	Schema         string
	Context        any
	AutogenerateID *AutogenerateField // may be nil
}

// FieldMeta describes a single selected field.
type FieldMeta struct {
	Name string
	Type coerce.Type
}

// SelectShape describes how the caller maps selected fields to the result.
type SelectShape int

// Select shapes.
const (
	_ SelectShape = iota

	SelectStruct // struct
	SelectMap    // map
	SelectList   // list
)

// QueryMeta is cached by the caller alongside the compiled query.
//
// It is sufficient to interpret raw rows without the original query.
type QueryMeta struct {
	Prefix       *string
	Sources      []query.Source
	Associations []string
	Preloads     []string
	Select       SelectShape
	Fields       []FieldMeta
}

// Fields maps column names to values.
type Fields map[string]any

// Keys returns sorted column names.
func (f Fields) Keys() []string {
	keys := maps.Keys(f)
	slices.Sort(keys)

	return keys
}

// Filters maps column names to expected values.
//
// They should select at most one record; the contract does not enforce that.
type Filters map[string]any

// Keys returns sorted column names.
func (f Filters) Keys() []string {
	keys := maps.Keys(f)
	slices.Sort(keys)

	return keys
}

// ConstraintType is a type of violated constraint.
type ConstraintType int

// Constraint types.
const (
	_ ConstraintType = iota

	ConstraintUnique     // unique
	ConstraintForeignKey // foreign_key
	ConstraintCheck      // check
	ConstraintExclusion  // exclusion
)

// String implements [fmt.Stringer].
func (t ConstraintType) String() string {
	switch t {
	case ConstraintUnique:
		return "unique"
	case ConstraintForeignKey:
		return "foreign_key"
	case ConstraintCheck:
		return "check"
	case ConstraintExclusion:
		return "exclusion"
	default:
		return fmt.Sprintf("ConstraintType(%d)", int(t))
	}
}

// Constraint is a named constraint that was violated.
type Constraint struct {
	Type ConstraintType
	Name string
}

// String implements [fmt.Stringer].
func (c Constraint) String() string {
	return c.Type.String() + ":" + c.Name
}

// Options are per-call options.
type Options struct {
	// Prefix overrides the source prefix of writes.
	Prefix *string

	// Timeout limits the duration of the call if positive.
	// Exceeding it is a fatal error.
	Timeout time.Duration

	// Comment is attached to the generated statement where the backend supports that.
	Comment string
}

// Source returns s with Options.Prefix applied.
//
// It is safe to call on nil Options.
func (o *Options) Source(s query.Source) query.Source {
	if o != nil && o.Prefix != nil {
		s.Prefix = o.Prefix
	}

	return s
}

// CommentText returns the comment or empty string for nil Options.
func (o *Options) CommentText() string {
	if o == nil {
		return ""
	}

	return o.Comment
}
