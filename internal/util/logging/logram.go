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

package logging

import (
	"fmt"
	"sync"

	"go.uber.org/zap/zapcore"
)

// logRAM stores the last log entries in a ring buffer in memory.
type logRAM struct {
	mu    sync.RWMutex
	log   []*zapcore.Entry
	index int
}

// NewLogRAM creates a ring buffer for the given number of entries.
func NewLogRAM(size int) *logRAM {
	if size < 1 {
		panic(fmt.Sprintf("logram size must be at least 1, but %d provided", size))
	}

	return &logRAM{
		log: make([]*zapcore.Entry, size),
	}
}

// append adds an entry, overwriting the oldest one if needed.
func (l *logRAM) append(entry *zapcore.Entry) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.log[l.index] = entry
	l.index = (l.index + 1) % len(l.log)
}

// Get returns stored entries from the oldest to the newest.
func (l *logRAM) Get() []*zapcore.Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var entries []*zapcore.Entry

	for i := range len(l.log) {
		k := (i + l.index) % len(l.log)

		if l.log[k] != nil {
			entries = append(entries, l.log[k])
		}
	}

	return entries
}

// CountAtLeast returns the number of stored entries with the given level or above.
func (l *logRAM) CountAtLeast(level zapcore.Level) int {
	var n int

	for _, e := range l.Get() {
		if e.Level >= level {
			n++
		}
	}

	return n
}
