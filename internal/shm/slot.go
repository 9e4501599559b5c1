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

package shm

import (
	"encoding/binary"
	"fmt"

	"github.com/markrussinovich/fbarc/internal/graph"
)

// Slot layout (little-endian):
//
//	uint32 edgeCount
//	uint32 reserved
//	[maxCandidateSize]struct{ from, to uint32 }
//
// Only the first edgeCount edges are meaningful.

// encodeSlot writes c into dst, which must be a full slot. The caller has
// already rejected candidates larger than the slot.
func encodeSlot(dst []byte, c graph.Candidate) {
	binary.LittleEndian.PutUint32(dst[0:4], uint32(c.Len()))
	binary.LittleEndian.PutUint32(dst[4:8], 0)
	b := dst[slotPrefixSize:]
	for i := 0; i < c.Len(); i++ {
		e := c.At(i)
		binary.LittleEndian.PutUint32(b[0:4], e.From)
		binary.LittleEndian.PutUint32(b[4:8], e.To)
		b = b[edgeSize:]
	}
}

// decodeSlot reads a candidate back from src.
func decodeSlot(src []byte, maxCandidateSize int) (graph.Candidate, error) {
	n := int(binary.LittleEndian.Uint32(src[0:4]))
	if n > maxCandidateSize {
		return graph.Candidate{}, fmt.Errorf("%w: edge count %d exceeds maximum %d", ErrCorruptSlot, n, maxCandidateSize)
	}
	c := graph.NewCandidate(maxCandidateSize)
	b := src[slotPrefixSize:]
	for i := 0; i < n; i++ {
		c.Append(graph.Edge{
			From: binary.LittleEndian.Uint32(b[0:4]),
			To:   binary.LittleEndian.Uint32(b[4:8]),
		})
		b = b[edgeSize:]
	}
	return c, nil
}
