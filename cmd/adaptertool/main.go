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

// Package main contains adaptertool, a command-line tool that runs conformance checks
// against storage adapters.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"regexp"
	"runtime"
	"strings"
	"sync"

	"github.com/alecthomas/kong"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/common/expfmt"
	"go.uber.org/automaxprocs/maxprocs"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	_ "golang.org/x/crypto/x509roots/fallback" // register root TLS certificates for minimal Docker images

	"github.com/FerretDB/adapters/build/version"
	"github.com/FerretDB/adapters/internal/conformance"
	"github.com/FerretDB/adapters/internal/util/ctxutil"
	"github.com/FerretDB/adapters/internal/util/debug"
	"github.com/FerretDB/adapters/internal/util/debugbuild"
	"github.com/FerretDB/adapters/internal/util/logging"
	"github.com/FerretDB/adapters/internal/util/must"
	"github.com/FerretDB/adapters/internal/util/observability"
)

// The cli struct represents all command-line commands, fields and flags.
// It's used for parsing the user input.
//
//nolint:lll // some tags are long
var cli struct {
	Version kong.VersionFlag `help:"Print version to stdout and exit." env:"-"`

	Log struct {
		Level  string `default:"${default_log_level}" help:"${help_log_level}"`
		Format string `default:"console"              help:"${help_log_format}" enum:"${enum_log_format}"`
	} `embed:"" prefix:"log-"`

	DebugAddr    string `default:"-" help:"Listen address for HTTP handlers for metrics, pprof, etc."`
	OTLPEndpoint string `default:""  help:"OTLP/HTTP endpoint (host:port) for traces." name:"otlp-endpoint"`

	Check struct {
		Backend        string `arg:""       help:"${help_backend}" enum:"${enum_backend}"`
		Run            string `default:""   help:"Run only checks with names matching this regular expression."`
		ConnectRetries int64  `default:"5"  help:"Number of connection retries."`

		SQLiteURL       string `name:"sqlite-url"       default:"file:adapters.sqlite"                 help:"SQLite URI for 'sqlite' backend."`
		PostgreSQLURL   string `name:"postgresql-url"   default:"postgres://127.0.0.1:5432/adapters"   help:"PostgreSQL URL for 'postgresql' backend."`
		MySQLURL        string `name:"mysql-url"        default:"mysql://root@127.0.0.1:3306/adapters" help:"MySQL URL for 'mysql' backend."`
		HANAURL         string `name:"hana-url"         default:""                                     help:"SAP HANA URL for 'hana' backend."`
		MongoDBURL      string `name:"mongodb-url"      default:"mongodb://127.0.0.1:27017/"           help:"MongoDB URL for 'mongodb' backend."`
		MongoDBDatabase string `name:"mongodb-database" default:"adapters"                             help:"MongoDB database for 'mongodb' backend."`
	} `cmd:"" help:"Run conformance checks against the given backend."`
}

// Additional variables for the kong parsers.
var (
	logLevels = []string{
		zap.DebugLevel.String(),
		zap.InfoLevel.String(),
		zap.WarnLevel.String(),
		zap.ErrorLevel.String(),
	}

	kongOptions = []kong.Option{
		kong.Vars{
			"default_log_level": defaultLogLevel().String(),

			"enum_backend":    strings.Join(conformance.Backends, ","),
			"enum_log_format": strings.Join(logging.Formats, ","),

			"help_backend":    fmt.Sprintf("Backend: '%s'.", strings.Join(conformance.Backends, "', '")),
			"help_log_format": fmt.Sprintf("Log format: '%s'.", strings.Join(logging.Formats, "', '")),
			"help_log_level":  fmt.Sprintf("Log level: '%s'.", strings.Join(logLevels, "', '")),

			"version": versionString(),
		},
		kong.DefaultEnvars("ADAPTERTOOL"),
	}
)

func main() {
	kctx := kong.Parse(&cli, kongOptions...)

	switch cmd := kctx.Command(); cmd {
	case "check <backend>":
		if !runCheck() {
			os.Exit(1)
		}

	default:
		panic(fmt.Sprintf("unhandled command %q", cmd))
	}
}

// defaultLogLevel returns the default log level.
func defaultLogLevel() zapcore.Level {
	if version.Get().DebugBuild {
		return zap.DebugLevel
	}

	return zap.InfoLevel
}

// versionString returns version information for the --version flag.
func versionString() string {
	info := version.Get()

	return strings.Join([]string{
		"version: " + info.Version,
		"commit: " + info.Commit,
		"branch: " + info.Branch,
		fmt.Sprintf("dirty: %t", info.Dirty),
		"package: " + info.Package,
		fmt.Sprintf("debugBuild: %t", info.DebugBuild),
	}, "\n")
}

// setupLogger setups zap logger.
func setupLogger() *zap.Logger {
	info := version.Get()

	level, err := zapcore.ParseLevel(cli.Log.Level)
	if err != nil {
		log.Fatal(err)
	}

	logging.Setup(level, cli.Log.Format)
	l := zap.L()

	l.Info(
		"Starting adaptertool "+info.Version+"...",
		zap.String("version", info.Version),
		zap.String("commit", info.Commit),
		zap.String("branch", info.Branch),
		zap.Bool("dirty", info.Dirty),
		zap.String("package", info.Package),
		zap.Bool("debugBuild", info.DebugBuild),
		zap.Any("buildEnvironment", info.BuildEnvironment),
	)

	if debugbuild.Enabled {
		l.Info("This is debug build. The performance will be affected.")
	}

	return l
}

// dumpMetrics dumps all Prometheus metrics to stderr.
func dumpMetrics(g prometheus.Gatherer) {
	mfs := must.NotFail(g.Gather())

	for _, mf := range mfs {
		must.NotFail(expfmt.MetricFamilyToText(os.Stderr, mf))
	}
}

// runCheck sets up environment based on provided flags and runs conformance checks.
// It returns true if all checks passed.
func runCheck() bool {
	// to increase a chance of resource finalizers to spot problems
	if debugbuild.Enabled {
		defer func() {
			runtime.GC()
			runtime.GC()
		}()
	}

	logger := setupLogger()

	if _, err := maxprocs.Set(maxprocs.Logger(logger.Sugar().Debugf)); err != nil {
		logger.Sugar().Warnf("Failed to set GOMAXPROCS: %s.", err)
	}

	var re *regexp.Regexp
	if cli.Check.Run != "" {
		var err error
		if re, err = regexp.Compile(cli.Check.Run); err != nil {
			logger.Sugar().Fatalf("Invalid --run flag: %s.", err)
		}
	}

	shutdownOtel, err := observability.SetupOtel("adaptertool", cli.OTLPEndpoint)
	if err != nil {
		logger.Sugar().Fatalf("Failed to setup OpenTelemetry: %s.", err)
	}

	defer func() {
		if err := shutdownOtel(context.Background()); err != nil {
			logger.Sugar().Warnf("Failed to shutdown OpenTelemetry: %s.", err)
		}
	}()

	ctx, stop := ctxutil.SigTerm(context.Background())
	defer stop()

	go func() {
		<-ctx.Done()
		logger.Info("Stopping...")
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	var wg sync.WaitGroup
	defer wg.Wait()

	debugCtx, debugCancel := context.WithCancel(ctx)
	defer debugCancel()

	// https://github.com/alecthomas/kong/issues/389
	if cli.DebugAddr != "" && cli.DebugAddr != "-" {
		h, err := debug.Listen(&debug.ListenOpts{
			TCPAddr: cli.DebugAddr,
			L:       logger.Named("debug"),
			R:       reg,
			G:       reg,
		})
		if err != nil {
			logger.Sugar().Fatalf("Failed to create debug handler: %s.", err)
		}

		wg.Add(1)

		go func() {
			defer wg.Done()
			h.Serve(debugCtx)
		}()
	}

	t, err := connect(ctx, cli.Check.Backend, logger)
	if err != nil {
		logger.Sugar().Errorf("Failed to create %s adapter: %s.", cli.Check.Backend, err)
		return false
	}

	defer t.close()

	m := newCheckMetrics()
	reg.MustRegister(t.collector, m)

	res := runChecks(ctx, t.checks, re, m, logger.Named("check"))

	logger.Info(
		"Checks finished",
		zap.String("backend", cli.Check.Backend),
		zap.Int("passed", res.passed),
		zap.Int("failed", res.failed),
		zap.Int("skipped", res.skipped),
	)

	if version.Get().DebugBuild {
		dumpMetrics(reg)
	}

	return res.failed == 0 && ctx.Err() == nil
}
