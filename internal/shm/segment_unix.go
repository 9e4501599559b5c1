//go:build unix

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
	"errors"
	"fmt"
	"io/fs"
	"os"

	"golang.org/x/sys/unix"
)

// createSegment creates, sizes and maps a new region file. It fails with a
// SessionConflictError if the file already exists.
func createSegment(name, path string, size int) (*Segment, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0600)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return nil, &SessionConflictError{Name: name, Path: path, Exists: true, Err: err}
		}
		return nil, &ResourceError{Op: "create", Path: path, Err: err}
	}

	cleanup := func() {
		file.Close()
		os.Remove(path)
	}

	if err := file.Truncate(int64(size)); err != nil {
		cleanup()
		return nil, &ResourceError{Op: "truncate", Path: path, Err: err}
	}

	mem, err := mmapFile(file, size)
	if err != nil {
		cleanup()
		return nil, &ResourceError{Op: "mmap", Path: path, Err: err}
	}

	return &Segment{File: file, Mem: mem, Path: path}, nil
}

// openSegment maps an existing region file. It fails with a
// SessionConflictError if the file does not exist.
func openSegment(name, path string) (*Segment, error) {
	file, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, &SessionConflictError{Name: name, Path: path, Exists: false, Err: err}
		}
		return nil, &ResourceError{Op: "open", Path: path, Err: err}
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, &ResourceError{Op: "stat", Path: path, Err: err}
	}
	size := info.Size()
	if size < HeaderSize {
		file.Close()
		return nil, &ResourceError{Op: "open", Path: path, Err: fmt.Errorf("region file too small: %d bytes", size)}
	}

	mem, err := mmapFile(file, int(size))
	if err != nil {
		file.Close()
		return nil, &ResourceError{Op: "mmap", Path: path, Err: err}
	}

	return &Segment{File: file, Mem: mem, Path: path}, nil
}

func mmapFile(file *os.File, size int) ([]byte, error) {
	return unix.Mmap(int(file.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
}

func unmapMemory(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	return unix.Munmap(data)
}
