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

// Package supervisor consumes candidates from the channel, keeps the
// smallest one seen and ends the search.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"

	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/markrussinovich/fbarc/internal/graph"
	logutil "github.com/markrussinovich/fbarc/internal/logging"
	"github.com/markrussinovich/fbarc/internal/metrics"
	"github.com/markrussinovich/fbarc/internal/shm"
)

// Consumer is the owning side of the candidate channel.
type Consumer interface {
	Take(ctx context.Context) (graph.Candidate, error)
	SetTerminate() error
	NotifyShutdown(n uint64) error
	GeneratorCount() uint64
	Destroy() error
}

// Reason says why the main loop ended.
type Reason string

const (
	// ReasonSolved means a generator produced an empty candidate: the graph is acyclic.
	ReasonSolved Reason = "solved"
	// ReasonShutdown means shutdown was requested from outside.
	ReasonShutdown Reason = "shutdown requested"
	// ReasonLimit means the configured number of candidates was read.
	ReasonLimit Reason = "limit reached"
	// ReasonError means reading from the channel failed.
	ReasonError Reason = "error"
)

// Options configure a Supervisor.
type Options struct {
	// Limit stops the loop after that many candidates. Zero means no limit.
	Limit uint64
	// Out receives one line per new best candidate and one when the graph
	// is found acyclic. Nil discards them.
	Out io.Writer
}

// Result summarizes a run.
type Result struct {
	Reason       Reason
	Best         graph.Candidate
	HaveBest     bool
	Taken        uint64
	Improvements uint64
}

// Solved reports whether the run proved the graph acyclic.
func (r Result) Solved() bool {
	return r.Reason == ReasonSolved
}

// Supervisor owns the channel for the lifetime of a session.
type Supervisor struct {
	ch    Consumer
	limit uint64
	out   io.Writer

	best         graph.Candidate
	haveBest     bool
	taken        uint64
	improvements uint64

	stop shutdown
}

// New returns a supervisor reading from ch.
func New(ch Consumer, opts Options) *Supervisor {
	out := opts.Out
	if out == nil {
		out = io.Discard
	}
	return &Supervisor{ch: ch, limit: opts.Limit, out: out}
}

// Run consumes candidates until the graph is proven acyclic, ctx is
// cancelled or the limit is reached, then runs the shutdown sequence. The
// shutdown sequence runs on every exit path, including errors.
func (s *Supervisor) Run(ctx context.Context) (Result, error) {
	logger := log.FromContext(ctx)
	logger.V(logutil.DEFAULT).Info("Supervisor starting", "limit", s.limit)

	reason, runErr := s.loop(ctx)
	res := s.result(reason)
	logger.V(logutil.DEFAULT).Info("Supervisor loop ended",
		"reason", reason, "taken", res.Taken, "improvements", res.Improvements, "best", s.bestSize())

	if err := s.Shutdown(ctx); err != nil {
		runErr = errors.Join(runErr, fmt.Errorf("shutdown: %w", err))
	}
	return res, runErr
}

func (s *Supervisor) loop(ctx context.Context) (Reason, error) {
	for {
		if ctx.Err() != nil {
			return ReasonShutdown, nil
		}
		if s.limit > 0 && s.taken >= s.limit {
			return ReasonLimit, nil
		}

		cand, err := s.ch.Take(ctx)
		if err != nil {
			if errors.Is(err, shm.ErrInterrupted) {
				// Re-checked at the top of the loop.
				continue
			}
			return ReasonError, fmt.Errorf("take: %w", err)
		}
		s.taken++
		metrics.RecordTaken()

		if s.observe(ctx, cand) {
			return ReasonSolved, nil
		}
	}
}

// observe folds one candidate into the best-so-far and reports whether it
// proves the graph acyclic.
func (s *Supervisor) observe(ctx context.Context, cand graph.Candidate) bool {
	logger := log.FromContext(ctx)
	if cand.Acyclic() {
		s.best, s.haveBest = cand, true
		fmt.Fprintln(s.out, "The graph is acyclic!")
		logger.V(logutil.DEFAULT).Info("Graph is acyclic")
		return true
	}
	if s.haveBest && cand.Len() >= s.best.Len() {
		logger.V(logutil.TRACE).Info("Candidate not better", "size", cand.Len(), "best", s.best.Len())
		return false
	}

	s.best, s.haveBest = cand, true
	s.improvements++
	metrics.RecordImprovement(cand.Len())
	fmt.Fprintf(s.out, "Solution with %d edges: %s\n", cand.Len(), cand)
	logger.V(logutil.DEFAULT).Info("New best solution", "size", cand.Len(), "edges", cand.String())
	return false
}

// Best returns the best candidate so far.
func (s *Supervisor) Best() (graph.Candidate, bool) {
	return s.best, s.haveBest
}

func (s *Supervisor) bestSize() int {
	if !s.haveBest {
		return -1
	}
	return s.best.Len()
}

func (s *Supervisor) result(reason Reason) Result {
	return Result{
		Reason:       reason,
		Best:         s.best,
		HaveBest:     s.haveBest,
		Taken:        s.taken,
		Improvements: s.improvements,
	}
}
