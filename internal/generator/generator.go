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

// Package generator turns a fixed graph into a stream of candidate feedback
// arc sets: it draws a uniformly random node order, collects the edges that
// point backwards under that order and publishes them.
//
// Removing every backward edge leaves only edges that agree with the order,
// so the order is a topological sort of what remains and the candidate is a
// valid, though not necessarily minimal, feedback arc set. An order with no
// backward edges exists exactly when the graph is acyclic.
package generator

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"sync/atomic"
	"time"

	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/markrussinovich/fbarc/internal/graph"
	logutil "github.com/markrussinovich/fbarc/internal/logging"
	"github.com/markrussinovich/fbarc/internal/metrics"
	"github.com/markrussinovich/fbarc/internal/shm"
)

// Rand is the random source used for shuffling. *rand.Rand from math/rand/v2
// satisfies it.
type Rand interface {
	// IntN returns a uniform value in [0, n).
	IntN(n int) int
}

// Publisher is the producer side of the candidate channel.
type Publisher interface {
	Publish(ctx context.Context, c graph.Candidate) (shm.PublishResult, error)
	Terminated() bool
	MaxCandidateSize() int
	Detach() error
}

// State is the lifecycle state of a Generator.
type State int32

const (
	StateInit State = iota
	StateRun
	StateTerminating
	StateCleanup
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "Init"
	case StateRun:
		return "Run"
	case StateTerminating:
		return "Terminating"
	case StateCleanup:
		return "Cleanup"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Options configure a Generator.
type Options struct {
	// Rand overrides the random source. When nil a PCG source seeded from
	// Seed is used.
	Rand Rand
	// Seed seeds the default source. Zero picks a seed from the clock and pid.
	Seed uint64
	// MaxIterations stops Run after that many orders. Zero means no limit.
	MaxIterations uint64
}

// Stats count what a Run did.
type Stats struct {
	Iterations uint64
	Published  uint64
	Dropped    uint64
}

// Generator produces candidates for one graph. It is not safe for
// concurrent use; run one per process.
type Generator struct {
	graph *graph.Graph
	ch    Publisher
	rnd   Rand
	seed  uint64

	maxIterations uint64

	order    []int // order[p] is the dense node at position p
	position []int // position[n] is the position of dense node n
	cand     graph.Candidate

	state atomic.Int32
	stats Stats
}

// New returns a generator for g publishing into ch.
func New(g *graph.Graph, ch Publisher, opts Options) *Generator {
	gen := &Generator{
		graph:         g,
		ch:            ch,
		rnd:           opts.Rand,
		seed:          opts.Seed,
		maxIterations: opts.MaxIterations,
		order:         make([]int, g.NodeCount()),
		position:      make([]int, g.NodeCount()),
		cand:          graph.NewCandidate(ch.MaxCandidateSize()),
	}
	if gen.rnd == nil {
		if gen.seed == 0 {
			gen.seed = uint64(time.Now().UnixNano()) ^ uint64(os.Getpid())<<32
		}
		gen.rnd = rand.New(rand.NewPCG(gen.seed, gen.seed^0x9e3779b97f4a7c15))
	}
	for i := range gen.order {
		gen.order[i] = i
	}
	return gen
}

// State returns the current lifecycle state.
func (g *Generator) State() State {
	return State(g.state.Load())
}

func (g *Generator) setState(s State) {
	g.state.Store(int32(s))
}

// Order returns the most recent node order as node identifiers, first to
// last.
func (g *Generator) Order() []uint32 {
	nodes := g.graph.Nodes()
	out := make([]uint32, len(g.order))
	for p, n := range g.order {
		out[p] = nodes[n]
	}
	return out
}

// shuffle is Fisher–Yates: every permutation is equally likely given a
// uniform r.
func shuffle(r Rand, order []int) {
	for i := len(order) - 1; i > 0; i-- {
		j := r.IntN(i + 1)
		order[i], order[j] = order[j], order[i]
	}
}

// Next draws a new order and returns its backward edges. The returned
// candidate shares storage with the generator and is only valid until the
// next call.
func (g *Generator) Next() graph.Candidate {
	shuffle(g.rnd, g.order)
	for p, n := range g.order {
		g.position[n] = p
	}
	g.graph.BackwardEdges(g.position, &g.cand)
	return g.cand
}

// Run publishes candidates until the terminate flag is raised, ctx is
// cancelled or MaxIterations is reached, then detaches from the channel.
// Every iteration makes exactly one publish attempt.
func (g *Generator) Run(ctx context.Context) (Stats, error) {
	logger := log.FromContext(ctx).WithValues("nodes", g.graph.NodeCount(), "edges", g.graph.EdgeCount())
	if g.seed != 0 {
		logger = logger.WithValues("seed", g.seed)
	}
	logger.V(logutil.DEFAULT).Info("Generator starting")
	g.setState(StateRun)

	runErr := g.loop(ctx)

	g.setState(StateTerminating)
	logger.V(logutil.VERBOSE).Info("Generator terminating",
		"iterations", g.stats.Iterations, "published", g.stats.Published, "dropped", g.stats.Dropped)

	g.setState(StateCleanup)
	if err := g.ch.Detach(); err != nil {
		runErr = errors.Join(runErr, fmt.Errorf("detach: %w", err))
	}
	return g.stats, runErr
}

func (g *Generator) loop(ctx context.Context) error {
	logger := log.FromContext(ctx)
	for {
		if g.ch.Terminated() || ctx.Err() != nil {
			return nil
		}
		if g.maxIterations > 0 && g.stats.Iterations >= g.maxIterations {
			return nil
		}

		cand := g.Next()
		g.stats.Iterations++
		metrics.RecordIteration()

		res, err := g.ch.Publish(ctx, cand)
		if err != nil {
			if errors.Is(err, shm.ErrInterrupted) {
				// Re-checked at the top of the loop.
				continue
			}
			return fmt.Errorf("publish: %w", err)
		}
		metrics.RecordPublish(res.String(), cand.Len())

		switch res {
		case shm.Published:
			g.stats.Published++
			if logger.V(logutil.TRACE).Enabled() {
				logger.V(logutil.TRACE).Info("Published candidate", "size", cand.Len(), "edges", cand.String(), "order", g.Order())
			}
		case shm.Dropped:
			g.stats.Dropped++
			logger.V(logutil.TRACE).Info("Dropped oversized candidate", "limit", cand.Limit())
		case shm.Terminated:
			return nil
		}
	}
}
