//go:build linux

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
	"context"
	"testing"

	logutil "github.com/markrussinovich/fbarc/internal/logging"
)

// createTestChannel creates a channel in a per-test directory and registers
// its destruction with t.Cleanup.
func createTestChannel(t *testing.T, capacity, maxCandidateSize int) (*Channel, Options) {
	t.Helper()

	opts := Options{
		Name:             "test",
		Dir:              t.TempDir(),
		Capacity:         capacity,
		MaxCandidateSize: maxCandidateSize,
	}
	ch, err := Create(testContext(t), opts)
	if err != nil {
		t.Fatalf("Failed to create test channel: %v", err)
	}
	t.Cleanup(func() {
		ch.Destroy()
	})
	return ch, opts
}

// attachTestChannel attaches a producer handle to the channel named by opts.
func attachTestChannel(t *testing.T, opts Options) *Channel {
	t.Helper()

	ch, err := Attach(testContext(t), opts)
	if err != nil {
		t.Fatalf("Failed to attach to test channel: %v", err)
	}
	t.Cleanup(func() {
		ch.Detach()
	})
	return ch
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	return logutil.NewTestLoggerIntoContext(context.Background())
}
