// Copyright 2025 Tom Barlow
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

// Command rocketworker runs the Rocket worker loop (rapidfire) against a
// configured Launchpad store: it repeatedly checks out a task, executes
// its sub-tasks, and reports completion, until the queue drains or it is
// asked to stop.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/launchpad/engine/internal/config"
	"github.com/launchpad/engine/internal/launchpad"
	"github.com/launchpad/engine/internal/log"
	"github.com/launchpad/engine/internal/model"
	"github.com/launchpad/engine/internal/rapidfire"
	"github.com/launchpad/engine/internal/rocket"
	"github.com/launchpad/engine/internal/store"
	"github.com/launchpad/engine/internal/store/memory"
	"github.com/launchpad/engine/internal/store/postgres"
	"github.com/launchpad/engine/internal/store/sqlite"
	"github.com/launchpad/engine/internal/timing"
)

// Version information, injected via -ldflags at build time.
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	var (
		configPath  = flag.String("config", "", "path to the launchpad config file")
		workerName  = flag.String("worker-name", "", "name to report for this worker (default: hostname)")
		category    = flag.String("category", "", "only check out tasks matching this category")
		baseDir     = flag.String("base-dir", ".", "directory under which launch working directories are created")
		nLaunches   = flag.Int("n-launches", 0, "stop after this many successful launches (0 = drain the queue and stop)")
		maxLoops    = flag.Int("max-loops", 0, "stop after this many checkout attempts, successful or not (0 = unbounded)")
		sleepTime   = flag.Float64("sleep-time", 1, "seconds to sleep between successful checkouts")
		numWorkers  = flag.Int("num-workers", 1, "number of concurrent worker loops to run against the same store")
		metricsAddr = flag.String("metrics-addr", "", "serve Prometheus metrics on this address (empty = disabled)")
		showVersion = flag.Bool("version", false, "show version information")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("rocketworker %s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	logger := log.New(log.FromEnv())
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config", log.Error(err))
		os.Exit(1)
	}

	st, err := openStore(cfg.Store)
	if err != nil {
		logger.Error("failed to open store", log.Error(err))
		os.Exit(1)
	}
	if closer, ok := st.(store.Closer); ok {
		defer closer.Close()
	}

	lp := launchpad.New(st, launchpad.Config{
		LockWait: cfg.Thresholds.LockWait(),
		LockTTL:  cfg.Thresholds.LockTTL(),
	})

	// Span export is configured by the deployment (an OTLP collector
	// sidecar, usually); an unconfigured provider is a cheap no-op.
	tp := sdktrace.NewTracerProvider()
	defer func() { _ = tp.Shutdown(context.Background()) }()
	otel.SetTracerProvider(tp)
	lp.SetTracer(tp.Tracer("launchpad"))
	lp.SetMetrics(launchpad.NewPrometheusMetrics(prometheus.DefaultRegisterer))

	if *metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		go func() {
			if err := http.ListenAndServe(*metricsAddr, mux); err != nil {
				logger.Error("metrics listener failed", log.Error(err))
			}
		}()
	}

	registry := rocket.NewRegistry()
	if err := rocket.RegisterBuiltins(registry); err != nil {
		logger.Error("failed to register built-in sub-tasks", log.Error(err))
		os.Exit(1)
	}

	r := rocket.New(lp, registry, rocket.Config{
		BaseDir:      *baseDir,
		PingInterval: cfg.Thresholds.PingInterval(),
	}, logger)

	worker := model.FWorker{Name: *workerName, Category: *category}
	if worker.Name == "" {
		if host, err := os.Hostname(); err == nil {
			worker.Name = host
		} else {
			worker.Name = "rocketworker"
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received signal, draining in-flight work then stopping", slog.Any("signal", sig))
		cancel()
	}()

	opts := rapidfire.Options{
		Worker:    worker,
		NLaunches: *nLaunches,
		MaxLoops:  *maxLoops,
		SleepTime: time.Duration(*sleepTime * float64(time.Second)),
	}

	n, err := rapidfire.RunMulti(ctx, r, *numWorkers, opts, logger)
	if timing.Any() {
		timing.Write(os.Stderr)
	}
	if err != nil {
		logger.Error("rocketworker exited with error", log.Error(err))
		os.Exit(1)
	}
	logger.Info("rocketworker stopped", slog.Int("launches_completed", n))
}

func openStore(cfg config.StoreConfig) (store.Store, error) {
	switch cfg.Type {
	case "", "memory":
		return memory.New(), nil
	case "sqlite":
		return sqlite.New(sqlite.Config{Path: cfg.SQLite.Path, WAL: cfg.SQLite.WAL})
	case "postgres":
		return postgres.New(postgres.Config{
			ConnectionString: cfg.Postgres.ConnectionString,
			MaxOpenConns:     cfg.Postgres.MaxOpenConns,
			MaxIdleConns:     cfg.Postgres.MaxIdleConns,
			ConnMaxLifetime:  time.Duration(cfg.Postgres.ConnMaxLifetimeSeconds) * time.Second,
		})
	default:
		return nil, fmt.Errorf("unknown store type %q", cfg.Type)
	}
}
