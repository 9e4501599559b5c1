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
)

var (
	// ErrInterrupted is returned when a blocking wait gives up because its
	// context was cancelled. It is not a failure: the caller re-checks the
	// termination condition and either waits again or shuts down.
	ErrInterrupted = errors.New("shm: wait interrupted")

	// ErrNotTerminated is returned by NotifyShutdown when the terminate flag
	// has not been raised yet. Waking producers before the flag is visible
	// would let them publish once more and block again.
	ErrNotTerminated = errors.New("shm: terminate flag not set")

	// ErrDestroyed is returned by operations on a channel that was destroyed
	// or detached.
	ErrDestroyed = errors.New("shm: channel destroyed")

	// ErrNotOwner is returned when a non-owning handle calls an owner-only operation.
	ErrNotOwner = errors.New("shm: operation requires the owning handle")

	// ErrCorruptSlot is returned by Take when a slot holds an edge count
	// larger than the channel's maximum candidate size.
	ErrCorruptSlot = errors.New("shm: corrupt slot")

	// ErrFutexTimeout is returned by futexWait when the wait slice elapses.
	ErrFutexTimeout = errors.New("futex timeout")
)

// ResourceError reports a failure to create, open, map or operate an
// OS-level resource backing a channel.
type ResourceError struct {
	Op   string // failing operation, e.g. "mmap"
	Path string // region path, if known
	Err  error  // underlying error
}

func (e *ResourceError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("shm: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("shm: %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *ResourceError) Unwrap() error { return e.Err }

// SessionConflictError reports a startup-order problem: the supervisor found
// a region left by another session, or a generator found none.
type SessionConflictError struct {
	Name   string
	Path   string
	Exists bool // true when creating, false when attaching
	Err    error
}

func (e *SessionConflictError) Error() string {
	if e.Exists {
		return fmt.Sprintf("shm: channel %q already exists at %s; another supervisor is running or a previous one crashed (remove the file to recover)", e.Name, e.Path)
	}
	return fmt.Sprintf("shm: channel %q does not exist at %s; start the supervisor before any generator", e.Name, e.Path)
}

func (e *SessionConflictError) Unwrap() error { return e.Err }

func interrupted(cause error) error {
	return fmt.Errorf("%w: %w", ErrInterrupted, cause)
}
