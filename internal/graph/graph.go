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

// Package graph holds the immutable input graph and the bounded candidate
// container that generators fill and the supervisor reads back.
package graph

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyGraph is returned when a graph is built from no edges.
	ErrEmptyGraph = errors.New("graph: no edges")
	// ErrSelfLoop is returned for an edge whose endpoints are equal. A self
	// loop is never backward under any order, so it cannot be broken by the
	// search and would let a cyclic graph produce an empty candidate.
	ErrSelfLoop = errors.New("graph: self loop")
	// ErrDuplicateEdge is returned when the same edge is given twice.
	ErrDuplicateEdge = errors.New("graph: duplicate edge")
	// ErrNotPermutation is returned when an order does not list every node exactly once.
	ErrNotPermutation = errors.New("graph: order is not a permutation of the node set")
)

// Edge is a directed edge between two node identifiers.
type Edge struct {
	From uint32
	To   uint32
}

// String renders the edge in its command line form, "from-to".
func (e Edge) String() string {
	return fmt.Sprintf("%d-%d", e.From, e.To)
}

// Graph is a directed graph given as an edge list. It is never mutated after
// New returns and may be shared freely.
type Graph struct {
	edges []Edge
	nodes []uint32       // dense index -> node id, in first-seen order
	index map[uint32]int // node id -> dense index
	// ends holds each edge's endpoints as dense indices so the hot loop
	// never touches the map.
	ends [][2]int
}

// New builds a graph from edges. The node set is the union of both endpoints
// of every edge.
func New(edges []Edge) (*Graph, error) {
	if len(edges) == 0 {
		return nil, ErrEmptyGraph
	}

	g := &Graph{
		edges: make([]Edge, 0, len(edges)),
		index: make(map[uint32]int, 2*len(edges)),
		ends:  make([][2]int, 0, len(edges)),
	}
	seen := make(map[Edge]struct{}, len(edges))
	for _, e := range edges {
		if e.From == e.To {
			return nil, fmt.Errorf("%w: %s", ErrSelfLoop, e)
		}
		if _, dup := seen[e]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateEdge, e)
		}
		seen[e] = struct{}{}

		g.edges = append(g.edges, e)
		g.ends = append(g.ends, [2]int{g.addNode(e.From), g.addNode(e.To)})
	}
	return g, nil
}

func (g *Graph) addNode(id uint32) int {
	if i, ok := g.index[id]; ok {
		return i
	}
	i := len(g.nodes)
	g.nodes = append(g.nodes, id)
	g.index[id] = i
	return i
}

// EdgeCount returns the number of edges.
func (g *Graph) EdgeCount() int {
	return len(g.edges)
}

// NodeCount returns the number of distinct nodes.
func (g *Graph) NodeCount() int {
	return len(g.nodes)
}

// Edges returns a copy of the edge list in input order.
func (g *Graph) Edges() []Edge {
	out := make([]Edge, len(g.edges))
	copy(out, g.edges)
	return out
}

// Nodes returns a copy of the node identifiers in first-seen order. The
// position of an id in this slice is its dense index.
func (g *Graph) Nodes() []uint32 {
	out := make([]uint32, len(g.nodes))
	copy(out, g.nodes)
	return out
}

// BackwardEdges resets c and fills it with every edge (u,v) for which
// position[u] > position[v], where position is indexed by dense node index.
// It stops early and returns false once c overflows, since an overflowed
// candidate is never published.
func (g *Graph) BackwardEdges(position []int, c *Candidate) bool {
	c.Reset()
	for i, ends := range g.ends {
		if position[ends[0]] > position[ends[1]] {
			if !c.Append(g.edges[i]) {
				return false
			}
		}
	}
	return true
}

// BackwardEdgesForOrder computes the candidate for an explicit order given as
// node identifiers, first to last.
func (g *Graph) BackwardEdgesForOrder(order []uint32, limit int) (Candidate, error) {
	if len(order) != len(g.nodes) {
		return Candidate{}, fmt.Errorf("%w: got %d nodes, want %d", ErrNotPermutation, len(order), len(g.nodes))
	}
	position := make([]int, len(g.nodes))
	for i := range position {
		position[i] = -1
	}
	for pos, id := range order {
		i, ok := g.index[id]
		if !ok || position[i] != -1 {
			return Candidate{}, fmt.Errorf("%w: node %d", ErrNotPermutation, id)
		}
		position[i] = pos
	}
	c := NewCandidate(limit)
	g.BackwardEdges(position, &c)
	return c, nil
}
