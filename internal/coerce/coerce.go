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

// Package coerce provides the bidirectional type coercion pipeline.
//
// Values travel storage→domain through loaders and domain→storage through dumpers.
// Each adapter declares, per primitive kind and domain type, an ordered list of steps.
// A step is either a terminal value transform (Func)
// or a reference to another type that is resolved recursively by the same mechanism (Ref).
//
// A reference to the type being converted is resolved by that type's own Load or Dump method;
// that is how the domain type itself acts as a step.
package coerce

import (
	"fmt"
)

// Primitive represents a primitive storage kind.
type Primitive int

// Primitive kinds.
const (
	_ Primitive = iota

	PrimitiveID
	PrimitiveBinaryID
	PrimitiveInteger
	PrimitiveFloat
	PrimitiveBoolean
	PrimitiveString
	PrimitiveBinary
	PrimitiveMap
	PrimitiveUTCDateTime
	PrimitiveArray
)

// String implements [fmt.Stringer].
func (p Primitive) String() string {
	switch p {
	case PrimitiveID:
		return "id"
	case PrimitiveBinaryID:
		return "binary_id"
	case PrimitiveInteger:
		return "integer"
	case PrimitiveFloat:
		return "float"
	case PrimitiveBoolean:
		return "boolean"
	case PrimitiveString:
		return "string"
	case PrimitiveBinary:
		return "binary"
	case PrimitiveMap:
		return "map"
	case PrimitiveUTCDateTime:
		return "utc_datetime"
	case PrimitiveArray:
		return "array"
	default:
		return fmt.Sprintf("Primitive(%d)", int(p))
	}
}

// Type is a domain type.
//
// Load converts a value produced by the previous loader step into the domain value.
// Dump converts a domain value into a value accepted by the next dumper step.
// Both are never called with nil.
type Type interface {
	Name() string
	Primitive() Primitive
	Load(v any) (any, error)
	Dump(v any) (any, error)
}

// Nested is implemented by types with values embedding other types' values.
//
// They receive the pipeline to resolve inner types recursively.
// If a type implements Nested, its Load and Dump methods are not used by the pipeline.
type Nested interface {
	Type
	LoadWith(p Pipeline, v any) (any, error)
	DumpWith(p Pipeline, v any) (any, error)
}

// Step is a single coercion step.
//
// The zero value is not valid; use Func or Ref.
type Step struct {
	f   func(any) (any, error)
	ref Type
}

// Func returns a terminal value-transform step.
func Func(f func(v any) (any, error)) Step {
	if f == nil {
		panic("coerce.Func: nil function")
	}

	return Step{f: f}
}

// Ref returns a step referencing type t.
func Ref(t Type) Step {
	if t == nil {
		panic("coerce.Ref: nil type")
	}

	return Step{ref: t}
}

// String implements [fmt.Stringer].
func (s Step) String() string {
	if s.ref != nil {
		return "ref(" + s.ref.Name() + ")"
	}

	return "func"
}

// Pipeline declares coercion steps per primitive kind and domain type.
//
// Loaders are applied storage→domain and normally end with Ref(t).
// Dumpers are applied domain→storage and normally start with Ref(t).
type Pipeline interface {
	Loaders(p Primitive, t Type) []Step
	Dumpers(p Primitive, t Type) []Step
}

// DefaultLoaders returns the fallback loaders clause: the domain type only.
func DefaultLoaders(_ Primitive, t Type) []Step {
	return []Step{Ref(t)}
}

// DefaultDumpers returns the fallback dumpers clause: the domain type only.
func DefaultDumpers(_ Primitive, t Type) []Step {
	return []Step{Ref(t)}
}

// DefaultPipeline uses fallback clauses for all primitive kinds.
//
// It may be embedded by adapters that override only some clauses.
type DefaultPipeline struct{}

// Loaders implements [Pipeline].
func (DefaultPipeline) Loaders(p Primitive, t Type) []Step {
	return DefaultLoaders(p, t)
}

// Dumpers implements [Pipeline].
func (DefaultPipeline) Dumpers(p Primitive, t Type) []Step {
	return DefaultDumpers(p, t)
}

// direction is a coercion direction.
type direction string

const (
	load direction = "load"
	dump direction = "dump"
)

// Load converts raw storage value into the domain value of type t.
//
// Steps are applied strictly in order; the first failure stops the processing of that value
// and is returned as *Error.
// Nil loads as nil without invoking any steps.
func Load(p Pipeline, t Type, raw any) (any, error) {
	return apply(p, t, raw, load, p.Loaders(t.Primitive(), t))
}

// Dump converts the domain value of type t into the storage value.
//
// Steps are applied strictly in order; the first failure stops the processing of that value
// and is returned as *Error.
// Nil dumps as nil without invoking any steps.
func Dump(p Pipeline, t Type, value any) (any, error) {
	return apply(p, t, value, dump, p.Dumpers(t.Primitive(), t))
}

// apply applies steps to v.
func apply(p Pipeline, t Type, v any, dir direction, steps []Step) (any, error) {
	if v == nil {
		return nil, nil
	}

	if len(steps) == 0 {
		return nil, newError(dir, t, v, fmt.Errorf("no %s steps", dir))
	}

	orig := v

	for _, s := range steps {
		var err error

		if v, err = s.apply(p, t, v, dir); err != nil {
			if e, ok := err.(*Error); ok { //nolint:errorlint // nested type reference already reported
				return nil, e
			}

			return nil, newError(dir, t, orig, err)
		}

		// remaining steps are not invoked for nil
		if v == nil {
			return nil, nil
		}
	}

	return v, nil
}

// apply applies a single step to v of type t.
func (s Step) apply(p Pipeline, t Type, v any, dir direction) (any, error) {
	switch {
	case s.f != nil:
		return s.f(v)

	case s.ref == nil:
		return nil, fmt.Errorf("invalid step")

	case s.ref.Name() != t.Name():
		if dir == load {
			return Load(p, s.ref, v)
		}

		return Dump(p, s.ref, v)
	}

	if n, ok := t.(Nested); ok {
		if dir == load {
			return n.LoadWith(p, v)
		}

		return n.DumpWith(p, v)
	}

	if dir == load {
		return t.Load(v)
	}

	return t.Dump(v)
}
