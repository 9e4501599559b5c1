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
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"unsafe"
)

// Memory layout constants
const (
	// Magic bytes for region identification
	RegionMagic = "FBARCSHM"

	// Current layout version
	RegionVersion = uint32(1)

	// Header size (aligned to 128 bytes); slots start right after it.
	HeaderSize = 128

	// Slot prefix: edgeCount uint32 + padding uint32.
	slotPrefixSize = 8

	// Encoded edge: from uint32 + to uint32.
	edgeSize = 8

	regionPrefix = "fbarc_"
)

// channelHeader is the fixed header at offset 0 of the shared region. Every
// mutable field is accessed atomically.
type channelHeader struct {
	magic            [8]byte  // 0x00: "FBARCSHM"
	version          uint32   // 0x08: layout version
	capacity         uint32   // 0x0C: number of slots
	maxCandidateSize uint32   // 0x10: edges per slot
	slotSize         uint32   // 0x14: bytes per slot
	writeIndex       uint32   // 0x18: next slot to write, in [0, capacity)
	readIndex        uint32   // 0x1C: next slot to read, in [0, capacity)
	terminate        uint32   // 0x20: 0 running, 1 generators must stop
	supervisorPID    uint32   // 0x24: creating process
	generatorCount   uint64   // 0x28: distinct publishers, sizes the shutdown fan-out
	session          [16]byte // 0x30: session UUID
	freeSlots        semWord  // 0x40: counting, starts at capacity
	usedSlots        semWord  // 0x48: counting, starts at 0
	writeMutex       semWord  // 0x50: binary, starts at 1
	reserved         [40]byte // 0x58-0x7F
}

// Fail the build if the header drifts from HeaderSize.
var (
	_ [HeaderSize - unsafe.Sizeof(channelHeader{})]byte
	_ [unsafe.Sizeof(channelHeader{}) - HeaderSize]byte
)

// SlotSize returns the encoded size of one slot.
func SlotSize(maxCandidateSize int) int {
	return slotPrefixSize + edgeSize*maxCandidateSize
}

// RegionSize returns the total size of a region with the given geometry.
func RegionSize(capacity, maxCandidateSize int) int {
	return HeaderSize + capacity*SlotSize(maxCandidateSize)
}

func headerAt(mem []byte) *channelHeader {
	return (*channelHeader)(unsafe.Pointer(&mem[0]))
}

// validateHeader checks a mapped header against the region size.
func validateHeader(h *channelHeader, size int) error {
	if string(h.magic[:]) != RegionMagic {
		return fmt.Errorf("invalid magic bytes")
	}
	if v := atomic.LoadUint32(&h.version); v != RegionVersion {
		return fmt.Errorf("unsupported version %d, expected %d", v, RegionVersion)
	}
	capacity := int(atomic.LoadUint32(&h.capacity))
	maxSize := int(atomic.LoadUint32(&h.maxCandidateSize))
	if capacity <= 0 {
		return fmt.Errorf("invalid capacity %d", capacity)
	}
	if got, want := int(atomic.LoadUint32(&h.slotSize)), SlotSize(maxSize); got != want {
		return fmt.Errorf("slot size mismatch: got %d, expected %d", got, want)
	}
	if want := RegionSize(capacity, maxSize); size != want {
		return fmt.Errorf("region size mismatch: got %d, expected %d", size, want)
	}
	return nil
}

// Segment is a mapped shared memory region.
type Segment struct {
	File *os.File // backing file
	Mem  []byte   // memory-mapped region
	Path string   // file path
}

// Close unmaps the memory and closes the file. The file is left in place.
func (s *Segment) Close() error {
	var firstErr error

	if s.Mem != nil {
		if err := unmapMemory(s.Mem); err != nil {
			firstErr = &ResourceError{Op: "munmap", Path: s.Path, Err: err}
		}
		s.Mem = nil
	}

	if s.File != nil {
		if err := s.File.Close(); err != nil && firstErr == nil {
			firstErr = &ResourceError{Op: "close", Path: s.Path, Err: err}
		}
		s.File = nil
	}

	return firstErr
}

// RegionPath returns the file backing the channel called name. An empty dir
// selects /dev/shm when available and the temporary directory otherwise.
func RegionPath(dir, name string) string {
	if dir == "" {
		dir = defaultDir()
	}
	return filepath.Join(dir, regionPrefix+name)
}

func defaultDir() string {
	if info, err := os.Stat("/dev/shm"); err == nil && info.IsDir() {
		return "/dev/shm"
	}
	return os.TempDir()
}

// RemoveRegion removes a stale region file, e.g. one left by a crashed supervisor.
func RemoveRegion(dir, name string) error {
	return os.Remove(RegionPath(dir, name))
}

// RegionExists reports whether a region file for name exists.
func RegionExists(dir, name string) bool {
	_, err := os.Stat(RegionPath(dir, name))
	return err == nil
}
