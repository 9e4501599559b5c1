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

// Package metrics holds the prometheus collectors for generators and the
// supervisor. Each process registers into its own Registry.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "fbarc"

// Registry is the process-wide registry served by Handler.
var Registry = prometheus.NewRegistry()

var (
	generatorIterations = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "generator",
			Name:      "iterations_total",
			Help:      "Number of random orders evaluated.",
		},
	)
	generatorPublish = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "generator",
			Name:      "publish_total",
			Help:      "Publish attempts by result (published, dropped, terminated).",
		},
		[]string{"result"},
	)
	generatorCandidateSize = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "generator",
			Name:      "candidate_size",
			Help:      "Size of published candidates.",
			Buckets:   prometheus.LinearBuckets(0, 1, 16),
		},
	)

	supervisorTaken = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "supervisor",
			Name:      "candidates_taken_total",
			Help:      "Number of candidates read from the channel.",
		},
	)
	supervisorImprovements = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "supervisor",
			Name:      "improvements_total",
			Help:      "Number of times a strictly smaller candidate was found.",
		},
	)
	supervisorBestSize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "supervisor",
			Name:      "best_size",
			Help:      "Size of the best candidate so far, -1 before the first one.",
		},
	)
)

var registerMetrics sync.Once

// Register all metrics.
func Register() {
	registerMetrics.Do(func() {
		Registry.MustRegister(
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
			collectors.NewGoCollector(),
			generatorIterations,
			generatorPublish,
			generatorCandidateSize,
			supervisorTaken,
			supervisorImprovements,
			supervisorBestSize,
		)
		supervisorBestSize.Set(-1)
	})
}

// Handler serves Registry in the prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// Serve serves Handler at /metrics on addr until ctx is done.
func Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// RecordIteration counts one evaluated order.
func RecordIteration() {
	generatorIterations.Inc()
}

// RecordPublish counts one publish attempt with its result and, for
// published candidates, observes the size.
func RecordPublish(result string, size int) {
	generatorPublish.WithLabelValues(result).Inc()
	if result == "published" {
		generatorCandidateSize.Observe(float64(size))
	}
}

// RecordTaken counts one candidate read by the supervisor.
func RecordTaken() {
	supervisorTaken.Inc()
}

// RecordImprovement records a new best candidate size.
func RecordImprovement(size int) {
	supervisorImprovements.Inc()
	supervisorBestSize.Set(float64(size))
}
