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
	"time"
)

func newTestSemaphore(v uint32) Semaphore {
	s := Semaphore{w: &semWord{}}
	s.init(v)
	return s
}

func TestSemaphoreTryWait(t *testing.T) {
	s := newTestSemaphore(2)

	if !s.TryWait() || !s.TryWait() {
		t.Fatal("TryWait failed with units available")
	}
	if s.TryWait() {
		t.Fatal("TryWait succeeded on an empty semaphore")
	}
	if err := s.Post(); err != nil {
		t.Fatalf("Post: %v", err)
	}
	if got := s.Value(); got != 1 {
		t.Errorf("Value() = %d, want 1", got)
	}
}

func TestSemaphoreWaitWakesOnPost(t *testing.T) {
	s := newTestSemaphore(0)

	done := make(chan error, 1)
	go func() {
		done <- s.Wait(context.Background())
	}()

	select {
	case err := <-done:
		t.Fatalf("Wait returned early: %v", err)
	case <-time.After(20 * time.Millisecond):
	}

	if err := s.Post(); err != nil {
		t.Fatalf("Post: %v", err)
	}
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Wait: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Wait was not woken by Post")
	}
	if got := s.Value(); got != 0 {
		t.Errorf("Value() = %d after a matched Wait/Post, want 0", got)
	}
}

func TestSemaphoreWaitCancelled(t *testing.T) {
	s := newTestSemaphore(0)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := s.Wait(ctx); !isInterrupted(err) {
		t.Fatalf("Wait on a cancelled context = %v, want ErrInterrupted", err)
	}

	// A unit that is available wins over a cancelled context.
	if err := s.Post(); err != nil {
		t.Fatalf("Post: %v", err)
	}
	if err := s.Wait(ctx); err != nil {
		t.Fatalf("Wait with a unit available: %v", err)
	}
}

func TestSemaphoreManyWaiters(t *testing.T) {
	const n = 8
	s := newTestSemaphore(0)

	done := make(chan error, n)
	for range n {
		go func() {
			done <- s.Wait(context.Background())
		}()
	}
	for range n {
		if err := s.Post(); err != nil {
			t.Fatalf("Post: %v", err)
		}
	}
	for range n {
		select {
		case err := <-done:
			if err != nil {
				t.Fatalf("Wait: %v", err)
			}
		case <-time.After(5 * time.Second):
			t.Fatal("not every waiter was woken")
		}
	}
}
