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

// Package version provides information about adapters version and build configuration.
//
// # Extra files
//
// The following generated text files may be present in this (`build/version`) directory during building:
//   - version.txt (optional) contains the version in a format similar to `git describe` output:
//     `v<major>.<minor>.<patch>`.
//   - commit.txt (optional) contains information about the source git commit.
//   - branch.txt (optional) contains information about the source git branch.
//   - package.txt (always present, may be empty) contains package type (e.g. "docker").
//
// # Go build tags
//
// The following Go build tags (also known as build constraints) affect builds:
//
//	ferretdb_debug - enables debug build (see below; implied by builds with race detector)
//
// # Debug builds
//
// Debug builds behave differently in a few aspects:
//   - they are significantly slower;
//   - stack traces are collected for leaked resources;
//   - PostgreSQL queries are traced with OpenTelemetry;
//   - metrics are written to stderr on exit;
//   - the default logging level is set to debug.
package version

import (
	"embed"
	"fmt"
	"regexp"
	"runtime"
	runtimedebug "runtime/debug"
	"strconv"
	"strings"

	"github.com/FerretDB/adapters/internal/util/debugbuild"
	"github.com/FerretDB/adapters/internal/util/must"
)

//go:generate go run ./generate.go

//go:embed *.txt
var gen embed.FS

// Info provides details about the current build.
//
//nolint:vet // for readability
type Info struct {
	Version          string
	Commit           string
	Branch           string
	Dirty            bool
	Package          string
	DebugBuild       bool
	BuildEnvironment map[string]string
}

// info singleton instance set by init().
var info *Info

// unknown is a placeholder for unknown version, commit, and branch values.
const unknown = "unknown"

// module path from go.mod.
const module = "github.com/FerretDB/adapters"

// semVerTag is a https://semver.org/#is-there-a-suggested-regular-expression-regex-to-check-a-semver-string,
// but with a leading `v` and an optional `git describe` suffix.
//
//nolint:lll // for readability
var semVerTag = regexp.MustCompile(`^v(?P<major>0|[1-9]\d*)\.(?P<minor>0|[1-9]\d*)\.(?P<patch>0|[1-9]\d*)(?:-(?P<prerelease>(?:0|[1-9]\d*|\d*[a-zA-Z-][0-9a-zA-Z-]*)(?:\.(?:0|[1-9]\d*|\d*[a-zA-Z-][0-9a-zA-Z-]*))*))?(?:\+(?P<buildmetadata>[0-9a-zA-Z-]+(?:\.[0-9a-zA-Z-]+)*))?$`)

// Get returns current build's info.
//
// It returns a shared instance without any synchronization.
// If caller needs to modify the instance, it should make sure there is no concurrent accesses.
func Get() *Info {
	return info
}

// initFromFiles initializes info from txt files (that might be absent).
// All info fields are set to non-empty values, but some of them may be unknown.
func initFromFiles() {
	info = &Info{
		Version:    unknown,
		Commit:     unknown,
		Branch:     unknown,
		Package:    unknown,
		DebugBuild: debugbuild.Enabled,
		BuildEnvironment: map[string]string{
			"go.runtime": runtime.Version(),
		},
	}

	for f, sp := range map[string]*string{
		"version.txt": &info.Version,
		"commit.txt":  &info.Commit,
		"branch.txt":  &info.Branch,
		"package.txt": &info.Package,
	} {
		b, _ := gen.ReadFile(f)
		if s := strings.TrimSpace(string(b)); s != "" {
			*sp = s
		}
	}
}

// readBuildInfo returns module version and commit from the build info.
// It also updates info.BuildEnvironment and info.Dirty when this module is the main one.
func readBuildInfo() (version, commit string) {
	buildInfo, ok := runtimedebug.ReadBuildInfo()
	if !ok {
		return
	}

	info.BuildEnvironment["go.version"] = buildInfo.GoVersion

	// builds in this repository and `go install ...@version`
	if buildInfo.Main.Path == module {
		version = buildInfo.Main.Version
		if version == "(devel)" {
			version = ""
		}

		for _, s := range buildInfo.Settings {
			if v := s.Value; v != "" {
				info.BuildEnvironment[s.Key] = v
			}

			switch s.Key {
			case "vcs.revision":
				commit = s.Value
			case "vcs.modified":
				info.Dirty = must.NotFail(strconv.ParseBool(s.Value))
			}
		}

		return
	}

	// this module is a dependency; settings describe another repository
	for _, dep := range buildInfo.Deps {
		if dep.Path != module {
			continue
		}

		version = dep.Version
		if dep.Replace != nil {
			version = dep.Replace.Version
		}

		if version == "(devel)" {
			version = ""
		}

		break
	}

	return
}

func init() {
	initFromFiles()

	version, commit := readBuildInfo()

	if info.Version == unknown && version != "" {
		info.Version = version
	}

	if info.Commit == unknown && commit != "" {
		info.Commit = commit
	}

	if info.Version != unknown {
		if match := semVerTag.FindStringSubmatch(info.Version); match == nil || len(match) != semVerTag.NumSubexp()+1 {
			msg := fmt.Sprintf("info.Version: %q, version: %q\n", info.Version, version)
			msg += "Invalid build/version/version.txt file content. Please run `go generate ./build/version`.\n"
			msg += "Alternatively, create this file manually with a content similar to\n"
			msg += "the output of `git describe`: `v<major>.<minor>.<patch>`."
			panic(msg)
		}
	}
}
