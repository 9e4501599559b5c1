/*
 *
 * Copyright 2025 gRPC authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 *
 */

// Command generator attaches to a running supervisor's channel and keeps
// publishing candidate feedback arc sets for the graph given as arguments.
//
//	generator [flags] EDGE...    EDGE is "from-to", e.g. 0-1 1-2 2-0
package main

import (
	"context"
	"errors"
	"flag"
	"os"

	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/log"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"

	"golang.org/x/sync/errgroup"

	"github.com/markrussinovich/fbarc/internal/config"
	"github.com/markrussinovich/fbarc/internal/generator"
	"github.com/markrussinovich/fbarc/internal/graph"
	"github.com/markrussinovich/fbarc/internal/logging"
	"github.com/markrussinovich/fbarc/internal/metrics"
	"github.com/markrussinovich/fbarc/internal/shm"
)

var (
	logVerbosity = flag.Int("v", logging.DEFAULT, "number for the log level verbosity")

	setupLog = ctrl.Log.WithName("setup")
)

func main() {
	if err := run(); err != nil {
		os.Exit(1)
	}
}

func run() error {
	sessionFlags := config.RegisterFlags(flag.CommandLine)
	opts := zap.Options{Development: true}
	opts.BindFlags(flag.CommandLine)
	flag.Parse()
	logger := logging.InitLogging(&opts, *logVerbosity)

	if flag.NArg() == 0 {
		err := errors.New("no edges given")
		setupLog.Error(err, "Usage: generator [flags] EDGE...")
		return err
	}
	g, err := graph.Parse(flag.Args())
	if err != nil {
		setupLog.Error(err, "Invalid graph")
		return err
	}

	cfg, err := sessionFlags.Load()
	if err != nil {
		setupLog.Error(err, "Failed to load configuration")
		return err
	}

	ctx := ctrl.SetupSignalHandler()
	ctx = log.IntoContext(ctx, logger.WithName("generator").WithValues("pid", os.Getpid()))
	metrics.Register()

	ch, err := shm.Attach(ctx, cfg.ChannelOptions())
	if err != nil {
		setupLog.Error(err, "Failed to attach to channel")
		return err
	}

	gen := generator.New(g, ch, generator.Options{Seed: uint64(cfg.Seed)})

	serveCtx, stopServing := context.WithCancel(ctx)
	defer stopServing()
	eg, egCtx := errgroup.WithContext(serveCtx)

	var stats generator.Stats
	eg.Go(func() error {
		defer stopServing()
		var err error
		stats, err = gen.Run(egCtx)
		return err
	})
	if cfg.MetricsBindAddress != "" {
		eg.Go(func() error {
			return metrics.Serve(egCtx, cfg.MetricsBindAddress)
		})
	}

	if err := eg.Wait(); err != nil {
		setupLog.Error(err, "Generator failed")
		return err
	}
	setupLog.Info("Generator terminated", "session", ch.Session(), "iterations", stats.Iterations, "published", stats.Published, "dropped", stats.Dropped)
	return nil
}
