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

package graph

import (
	"strings"
)

// Candidate is a proposed feedback arc set with a fixed upper bound on its
// size. Append is the only way to grow it. Overflow policy: once the limit is
// reached further edges are refused and the candidate is marked overflowed;
// the channel drops overflowed candidates instead of publishing a truncated
// set.
type Candidate struct {
	edges      []Edge
	limit      int
	overflowed bool
}

// NewCandidate returns an empty candidate that holds at most limit edges.
// It panics if limit is negative.
func NewCandidate(limit int) Candidate {
	if limit < 0 {
		panic("graph: negative candidate limit")
	}
	return Candidate{edges: make([]Edge, 0, limit), limit: limit}
}

// CandidateOf builds a candidate from edges, applying the overflow policy.
func CandidateOf(limit int, edges ...Edge) Candidate {
	c := NewCandidate(limit)
	for _, e := range edges {
		if !c.Append(e) {
			break
		}
	}
	return c
}

// Append adds e and reports whether it fit.
func (c *Candidate) Append(e Edge) bool {
	if len(c.edges) >= c.limit {
		c.overflowed = true
		return false
	}
	c.edges = append(c.edges, e)
	return true
}

// Reset empties the candidate and clears the overflow mark, keeping storage.
func (c *Candidate) Reset() {
	c.edges = c.edges[:0]
	c.overflowed = false
}

// Len returns the number of edges held.
func (c Candidate) Len() int {
	return len(c.edges)
}

// Limit returns the maximum number of edges the candidate can hold.
func (c Candidate) Limit() int {
	return c.limit
}

// Overflowed reports whether an Append was refused since the last Reset.
func (c Candidate) Overflowed() bool {
	return c.overflowed
}

// Acyclic reports whether the candidate certifies an acyclic input graph.
func (c Candidate) Acyclic() bool {
	return len(c.edges) == 0 && !c.overflowed
}

// Edges returns a copy of the held edges.
func (c Candidate) Edges() []Edge {
	out := make([]Edge, len(c.edges))
	copy(out, c.edges)
	return out
}

// At returns the i-th edge.
func (c Candidate) At(i int) Edge {
	return c.edges[i]
}

// String renders the edges space separated, "0-2 1-3".
func (c Candidate) String() string {
	var sb strings.Builder
	for i, e := range c.edges {
		if i > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(e.String())
	}
	return sb.String()
}
