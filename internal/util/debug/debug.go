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

// Package debug provides debug facilities.
package debug

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/pprof"
	"slices"
	"text/template"
	"time"

	"github.com/arl/statsviz"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/exp/maps"

	"github.com/FerretDB/adapters/internal/util/lazyerrors"
	"github.com/FerretDB/adapters/internal/util/must"
)

// ListenOpts represents [Listen] options.
type ListenOpts struct {
	TCPAddr string
	L       *zap.Logger
	R       prometheus.Registerer
	G       prometheus.Gatherer
}

// Handler serves debug endpoints.
type Handler struct {
	opts     *ListenOpts
	lis      net.Listener
	handlers map[string]string
	s        *http.Server
}

// Listen creates a new debug handler and starts listener on the given TCP address.
//
// This function can be used to detect the listener's address before calling [Handler.Serve].
func Listen(opts *ListenOpts) (*Handler, error) {
	if opts == nil {
		opts = new(ListenOpts)
	}

	if opts.L == nil {
		opts.L = zap.NewNop()
	}

	if opts.R == nil {
		opts.R = prometheus.DefaultRegisterer
	}

	if opts.G == nil {
		opts.G = prometheus.DefaultGatherer
	}

	stdL := must.NotFail(zap.NewStdLogAt(opts.L, zap.WarnLevel))

	mux := http.NewServeMux()

	mux.Handle("/debug/metrics", promhttp.InstrumentMetricHandler(
		opts.R, promhttp.HandlerFor(opts.G, promhttp.HandlerOpts{
			ErrorLog:          stdL,
			ErrorHandling:     promhttp.ContinueOnError,
			Registry:          opts.R,
			EnableOpenMetrics: true,
		}),
	))

	if err := statsviz.Register(mux, statsviz.Root("/debug/graphs")); err != nil {
		return nil, lazyerrors.Error(err)
	}

	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	handlers := map[string]string{
		"/debug/graphs":  "Visualize runtime metrics",
		"/debug/metrics": "Metrics in Prometheus format",
		"/debug/pprof":   "Runtime profiling data for pprof",
	}

	var page bytes.Buffer
	must.NoError(template.Must(template.New("debug").Parse(`
	<html>
	<body>
	<ul>
	{{range $path, $desc := .}}
		<li><a href="{{$path}}">{{$path}}</a>: {{$desc}}</li>
	{{end}}
	</ul>
	</body>
	</html>
	`)).Execute(&page, handlers))

	mux.HandleFunc("/debug", func(rw http.ResponseWriter, _ *http.Request) {
		_, _ = rw.Write(page.Bytes())
	})

	mux.HandleFunc("/", func(rw http.ResponseWriter, req *http.Request) {
		http.Redirect(rw, req, "/debug", http.StatusSeeOther)
	})

	lis, err := net.Listen("tcp", opts.TCPAddr)
	if err != nil {
		return nil, lazyerrors.Error(err)
	}

	return &Handler{
		opts:     opts,
		lis:      lis,
		handlers: handlers,
		s: &http.Server{
			Handler:  mux,
			ErrorLog: stdL,
		},
	}, nil
}

// Addr returns the listener's address.
func (h *Handler) Addr() net.Addr {
	return h.lis.Addr()
}

// Serve runs debug handler until ctx is canceled.
//
// It exits when handler is stopped and listener closed.
func (h *Handler) Serve(ctx context.Context) {
	h.s.BaseContext = func(net.Listener) context.Context {
		return ctx
	}

	root := fmt.Sprintf("http://%s", h.lis.Addr())

	h.opts.L.Sugar().Infof("Starting debug server on %s ...", root)

	paths := maps.Keys(h.handlers)
	slices.Sort(paths)

	for _, path := range paths {
		h.opts.L.Sugar().Infof("%s%s - %s", root, path, h.handlers[path])
	}

	done := make(chan struct{})

	go func() {
		defer close(done)

		if err := h.s.Serve(h.lis); !errors.Is(err, http.ErrServerClosed) {
			h.opts.L.Error("Debug server stopped with error", zap.Error(err))
		}
	}()

	<-ctx.Done()

	stopCtx, stopCancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
	defer stopCancel()

	_ = h.s.Shutdown(stopCtx)
	_ = h.s.Close()

	<-done

	h.opts.L.Info("Debug server stopped.")
}
