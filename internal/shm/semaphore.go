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
	"errors"
	"math"
	"sync/atomic"
	"time"
)

// waitSlice bounds a single futex sleep so a cancelled context is noticed
// even if its wake-up raced with the caller entering the kernel.
const waitSlice = 100 * time.Millisecond

// semWord is the shared-memory representation of a counting semaphore.
type semWord struct {
	count   uint32 // available units; the futex word
	waiters uint32 // sleepers across all processes, lets Post skip the syscall
}

// Semaphore is a process-shared counting semaphore over a semWord in a
// mapped region. The zero value is unusable.
type Semaphore struct {
	w *semWord
}

func (s Semaphore) init(v uint32) {
	atomic.StoreUint32(&s.w.waiters, 0)
	atomic.StoreUint32(&s.w.count, v)
}

// Value returns the current count. It is a snapshot.
func (s Semaphore) Value() uint32 {
	return atomic.LoadUint32(&s.w.count)
}

// TryWait takes one unit without blocking and reports whether it did.
func (s Semaphore) TryWait() bool {
	for {
		v := atomic.LoadUint32(&s.w.count)
		if v == 0 {
			return false
		}
		if atomic.CompareAndSwapUint32(&s.w.count, v, v-1) {
			return true
		}
	}
}

// Wait takes one unit, blocking while the count is zero. If ctx is done
// first it returns an error wrapping ErrInterrupted and takes nothing.
func (s Semaphore) Wait(ctx context.Context) error {
	if s.TryWait() {
		return nil
	}
	if ctx.Err() != nil {
		return interrupted(context.Cause(ctx))
	}

	stop := context.AfterFunc(ctx, func() {
		futexWake(&s.w.count, math.MaxInt32)
	})
	defer stop()

	atomic.AddUint32(&s.w.waiters, 1)
	defer atomic.AddUint32(&s.w.waiters, ^uint32(0))

	for {
		if s.TryWait() {
			return nil
		}
		if ctx.Err() != nil {
			// A Post may have woken us rather than another sleeper; hand
			// the wake-up on so the unit is not stranded.
			s.passWake()
			return interrupted(context.Cause(ctx))
		}
		if err := futexWait(&s.w.count, 0, waitSlice); err != nil && !errors.Is(err, ErrFutexTimeout) {
			return &ResourceError{Op: "futex wait", Err: err}
		}
	}
}

// Post releases one unit and wakes one sleeper if there is any.
func (s Semaphore) Post() error {
	atomic.AddUint32(&s.w.count, 1)
	if atomic.LoadUint32(&s.w.waiters) == 0 {
		return nil
	}
	if _, err := futexWake(&s.w.count, 1); err != nil {
		return &ResourceError{Op: "futex wake", Err: err}
	}
	return nil
}

func (s Semaphore) passWake() {
	// waiters still includes the caller.
	if atomic.LoadUint32(&s.w.count) > 0 && atomic.LoadUint32(&s.w.waiters) > 1 {
		futexWake(&s.w.count, 1)
	}
}
