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
	"fmt"
	"strconv"
	"strings"
)

// ParseEdge parses the "from-to" form, e.g. "3-14".
func ParseEdge(s string) (Edge, error) {
	from, to, ok := strings.Cut(s, "-")
	if !ok {
		return Edge{}, fmt.Errorf("edge %q: missing '-'", s)
	}
	if strings.Contains(to, "-") {
		return Edge{}, fmt.Errorf("edge %q: more than one '-'", s)
	}
	u, err := parseNode(from)
	if err != nil {
		return Edge{}, fmt.Errorf("edge %q: %w", s, err)
	}
	v, err := parseNode(to)
	if err != nil {
		return Edge{}, fmt.Errorf("edge %q: %w", s, err)
	}
	return Edge{From: u, To: v}, nil
}

func parseNode(s string) (uint32, error) {
	if s == "" {
		return 0, fmt.Errorf("empty node id")
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, fmt.Errorf("node id %q is not a non-negative integer", s)
		}
	}
	n, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("node id %q: %w", s, err)
	}
	return uint32(n), nil
}

// Parse parses a list of "from-to" arguments into a graph.
func Parse(args []string) (*Graph, error) {
	edges := make([]Edge, 0, len(args))
	for _, a := range args {
		e, err := ParseEdge(a)
		if err != nil {
			return nil, err
		}
		edges = append(edges, e)
	}
	return New(edges)
}
