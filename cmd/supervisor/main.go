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

// Command supervisor creates the candidate channel, reads candidates from
// the generators and reports the smallest feedback arc set found.
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
	"github.com/markrussinovich/fbarc/internal/logging"
	"github.com/markrussinovich/fbarc/internal/metrics"
	"github.com/markrussinovich/fbarc/internal/shm"
	"github.com/markrussinovich/fbarc/internal/supervisor"
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

	if flag.NArg() > 0 {
		err := errors.New("unexpected positional arguments")
		setupLog.Error(err, "Usage: supervisor [flags]", "args", flag.Args())
		return err
	}

	cfg, err := sessionFlags.Load()
	if err != nil {
		setupLog.Error(err, "Failed to load configuration")
		return err
	}
	setupLog.Info("Configuration loaded", "config", cfg)

	// Cancelled on SIGINT or SIGTERM: the shutdown request.
	ctx := ctrl.SetupSignalHandler()
	ctx = log.IntoContext(ctx, logger.WithName("supervisor"))
	metrics.Register()

	ch, err := shm.Create(ctx, cfg.ChannelOptions())
	if err != nil {
		setupLog.Error(err, "Failed to create channel")
		return err
	}

	sup := supervisor.New(ch, supervisor.Options{Limit: uint64(cfg.Limit), Out: os.Stdout})

	serveCtx, stopServing := context.WithCancel(ctx)
	defer stopServing()
	eg, egCtx := errgroup.WithContext(serveCtx)

	var res supervisor.Result
	eg.Go(func() error {
		defer stopServing()
		var err error
		res, err = sup.Run(egCtx)
		return err
	})
	if cfg.MetricsBindAddress != "" {
		eg.Go(func() error {
			return metrics.Serve(egCtx, cfg.MetricsBindAddress)
		})
	}

	if err := eg.Wait(); err != nil {
		setupLog.Error(err, "Supervisor failed")
		return err
	}
	setupLog.Info("Supervisor terminated", "reason", res.Reason, "taken", res.Taken, "improvements", res.Improvements)
	return nil
}
