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

package testutil

import (
	"bytes"
	"runtime/debug"
	"strings"
	"sync"
	"testing"
	"unicode"

	"github.com/stretchr/testify/require"
)

var (
	tableNamesM sync.Mutex
	tableNames  = make(map[string][]byte)
)

// stack returns the stack trace of the caller without testutil frames.
func stack() []byte {
	s := bytes.Split(debug.Stack(), []byte("\n"))
	return bytes.Join(s[7:], []byte("\n"))
}

// TableName returns a stable table name for that test.
//
// Names are lowercase and contain only letters, digits, and underscores,
// so they are valid unquoted identifiers for all supported backends.
// It panics if the same name is requested twice.
func TableName(tb testing.TB) string {
	tb.Helper()

	name := strings.Map(func(r rune) rune {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			return unicode.ToLower(r)
		}

		return '_'
	}, tb.Name())

	// keep the end of the name as it is the most specific part
	if len(name) > 63 {
		name = name[len(name)-63:]
	}

	name = strings.TrimLeft(name, "_0123456789")
	require.NotEmpty(tb, name)

	tableNamesM.Lock()
	defer tableNamesM.Unlock()

	current := stack()
	if another, ok := tableNames[name]; ok {
		tb.Logf("Table name %q already used by another test:\n%s", name, another)
		panic("duplicate table name")
	}

	tableNames[name] = current

	return name
}
