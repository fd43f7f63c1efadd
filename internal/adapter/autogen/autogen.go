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

// Package autogen provides identifier generators used by adapters' Autogenerate methods.
package autogen

import (
	"sync/atomic"

	"github.com/google/uuid"
)

// Sequence generates increasing int64 identifiers.
//
// It is safe for concurrent use.
type Sequence struct {
	next atomic.Int64
}

// NewSequence creates a new Sequence that starts with the given value.
func NewSequence(start int64) *Sequence {
	var s Sequence
	s.next.Store(start)

	return &s
}

// Next returns the next identifier.
func (s *Sequence) Next() int64 {
	return s.next.Add(1) - 1
}

// Observe makes sure that the sequence never returns v or smaller values.
//
// It is used when records with explicit identifiers are written.
func (s *Sequence) Observe(v int64) {
	for {
		cur := s.next.Load()
		if cur > v {
			return
		}

		if s.next.CompareAndSwap(cur, v+1) {
			return
		}
	}
}

// UUID returns a new time-ordered (version 7) UUID, or random (version 4) UUID if that fails.
func UUID() uuid.UUID {
	u, err := uuid.NewV7()
	if err != nil {
		return uuid.New()
	}

	return u
}

// Storage returns nil, meaning that the storage engine generates the value itself.
func Storage() any {
	return nil
}
