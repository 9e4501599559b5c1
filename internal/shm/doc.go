/*
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
 */

// Package shm implements the bounded candidate channel shared by the
// supervisor and its generator processes.
//
// A channel is a memory-mapped file holding a fixed header followed by a
// ring of fixed-size slots, one candidate per slot. Three process-shared
// semaphores live in the header: freeSlots and usedSlots give the classic
// bounded-buffer backpressure, and writeMutex serializes the copy and index
// advance among producers. Candidate computation happens outside the mutex,
// so producers only contend for the short copy.
//
// The semaphores are futex words in the shared mapping, which keeps the
// region self-contained: creating, attaching to and unlinking one file is the
// whole lifecycle. Blocking waits take a context; cancelling it interrupts
// the wait with ErrInterrupted, which callers treat as a cue to re-check the
// terminate flag rather than as a failure.
package shm
