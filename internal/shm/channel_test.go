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
	"errors"
	"io/fs"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/markrussinovich/fbarc/internal/graph"
)

func candidate(limit int, edges ...graph.Edge) graph.Candidate {
	return graph.CandidateOf(limit, edges...)
}

func TestCreateConflict(t *testing.T) {
	_, opts := createTestChannel(t, 4, 4)

	_, err := Create(testContext(t), opts)
	var conflict *SessionConflictError
	require.ErrorAs(t, err, &conflict)
	assert.True(t, conflict.Exists)
	assert.Equal(t, RegionPath(opts.Dir, opts.Name), conflict.Path)
	assert.ErrorIs(t, err, fs.ErrExist)
}

func TestAttachMissing(t *testing.T) {
	_, err := Attach(testContext(t), Options{Name: "missing", Dir: t.TempDir()})
	var conflict *SessionConflictError
	require.ErrorAs(t, err, &conflict)
	assert.False(t, conflict.Exists)
	assert.ErrorIs(t, err, fs.ErrNotExist)
}

func TestAttachRejectsInvalidRegion(t *testing.T) {
	tests := []struct {
		name string
		size int
	}{
		{name: "too small", size: 16},
		{name: "zeroed header", size: 512},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			require.NoError(t, os.WriteFile(RegionPath(dir, "bad"), make([]byte, tt.size), 0600))

			_, err := Attach(testContext(t), Options{Name: "bad", Dir: dir})
			var resErr *ResourceError
			require.ErrorAs(t, err, &resErr)
		})
	}
}

func TestAttachUsesRegionGeometry(t *testing.T) {
	ch, opts := createTestChannel(t, 3, 5)
	p := attachTestChannel(t, Options{Name: opts.Name, Dir: opts.Dir, Capacity: 99})

	assert.False(t, p.Owner())
	assert.True(t, ch.Owner())
	assert.Equal(t, 3, p.Capacity())
	assert.Equal(t, 5, p.MaxCandidateSize())
	assert.Equal(t, ch.Session(), p.Session())
	assert.Equal(t, ch.Path(), p.Path())
}

func TestPublishTakeFIFO(t *testing.T) {
	ch, opts := createTestChannel(t, 2, 4)
	p := attachTestChannel(t, opts)
	ctx := testContext(t)

	// Enough rounds to wrap the ring several times.
	for round := uint32(0); round < 5; round++ {
		var want []graph.Candidate
		for i := uint32(0); i < 2; i++ {
			c := candidate(4, graph.Edge{From: round, To: i}, graph.Edge{From: i, To: round + 10})
			res, err := p.Publish(ctx, c)
			require.NoError(t, err)
			require.Equal(t, Published, res)
			want = append(want, c)
		}
		for _, w := range want {
			got, err := ch.Take(ctx)
			require.NoError(t, err)
			if diff := cmp.Diff(w.Edges(), got.Edges()); diff != "" {
				t.Fatalf("round %d: taken candidate mismatch (-want +got):\n%s", round, diff)
			}
		}
	}
	assert.Equal(t, uint64(1), ch.GeneratorCount())
}

func TestPublishEmptyCandidate(t *testing.T) {
	ch, opts := createTestChannel(t, 2, 4)
	p := attachTestChannel(t, opts)
	ctx := testContext(t)

	res, err := p.Publish(ctx, graph.NewCandidate(4))
	require.NoError(t, err)
	require.Equal(t, Published, res)

	got, err := ch.Take(ctx)
	require.NoError(t, err)
	assert.True(t, got.Acyclic())
}

func TestPublishDropsOversized(t *testing.T) {
	ch, opts := createTestChannel(t, 2, 2)
	p := attachTestChannel(t, opts)
	ctx := testContext(t)

	tooBig := candidate(8, graph.Edge{From: 0, To: 1}, graph.Edge{From: 1, To: 2}, graph.Edge{From: 2, To: 3})
	overflowed := candidate(1, graph.Edge{From: 0, To: 1}, graph.Edge{From: 1, To: 2})
	require.True(t, overflowed.Overflowed())

	for _, c := range []graph.Candidate{tooBig, overflowed} {
		res, err := p.Publish(ctx, c)
		require.NoError(t, err)
		assert.Equal(t, Dropped, res)
	}

	st, err := ch.State()
	require.NoError(t, err)
	assert.Equal(t, uint32(2), st.FreeSlots)
	assert.Equal(t, uint32(0), st.UsedSlots)
	assert.Equal(t, uint32(0), st.WriteIndex)
	assert.Equal(t, uint64(0), st.GeneratorCount)
}

func TestSlotAccounting(t *testing.T) {
	const capacity = 4
	ch, opts := createTestChannel(t, capacity, 4)
	p := attachTestChannel(t, opts)
	ctx := testContext(t)

	check := func(pending uint32) {
		t.Helper()
		st, err := ch.State()
		require.NoError(t, err)
		assert.Equal(t, uint32(capacity), st.FreeSlots+st.UsedSlots, "free+used")
		assert.Equal(t, st.UsedSlots, st.Pending)
		assert.Equal(t, pending, st.Pending)
		assert.Equal(t, uint32(1), st.WriteMutex)
	}

	check(0)
	for i := uint32(1); i < capacity; i++ {
		_, err := p.Publish(ctx, candidate(4, graph.Edge{From: 0, To: i}))
		require.NoError(t, err)
		check(i)
	}
	for i := uint32(capacity - 1); i > 0; i-- {
		_, err := ch.Take(ctx)
		require.NoError(t, err)
		check(i - 1)
	}
}

func TestPublishBlocksWhileFull(t *testing.T) {
	ch, opts := createTestChannel(t, 1, 4)
	p := attachTestChannel(t, opts)
	ctx := testContext(t)

	first := candidate(4, graph.Edge{From: 0, To: 1})
	second := candidate(4, graph.Edge{From: 1, To: 2})
	res, err := p.Publish(ctx, first)
	require.NoError(t, err)
	require.Equal(t, Published, res)

	done := make(chan PublishResult, 1)
	go func() {
		res, err := p.Publish(ctx, second)
		if err != nil {
			t.Errorf("Publish: %v", err)
		}
		done <- res
	}()

	select {
	case <-done:
		t.Fatal("Publish returned while the buffer was full")
	case <-time.After(50 * time.Millisecond):
	}

	got, err := ch.Take(ctx)
	require.NoError(t, err)
	assert.Equal(t, first.Edges(), got.Edges())

	select {
	case res := <-done:
		assert.Equal(t, Published, res)
	case <-time.After(5 * time.Second):
		t.Fatal("Publish did not resume after Take freed a slot")
	}

	got, err = ch.Take(ctx)
	require.NoError(t, err)
	assert.Equal(t, second.Edges(), got.Edges())
}

func TestPublishInterrupted(t *testing.T) {
	ch, opts := createTestChannel(t, 1, 4)
	p := attachTestChannel(t, opts)

	_, err := p.Publish(testContext(t), candidate(4, graph.Edge{From: 0, To: 1}))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(testContext(t), 50*time.Millisecond)
	defer cancel()
	_, err = p.Publish(ctx, candidate(4, graph.Edge{From: 1, To: 2}))
	require.ErrorIs(t, err, ErrInterrupted)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	st, err := ch.State()
	require.NoError(t, err)
	assert.Equal(t, uint32(0), st.FreeSlots)
	assert.Equal(t, uint32(1), st.UsedSlots)
	assert.Equal(t, uint32(0), atomic.LoadUint32(&ch.hdr.freeSlots.waiters))
}

func TestTakeInterrupted(t *testing.T) {
	ch, _ := createTestChannel(t, 2, 4)

	stop := errors.New("stop requested")
	ctx, cancel := context.WithCancelCause(testContext(t))
	defer cancel(nil)
	time.AfterFunc(20*time.Millisecond, func() { cancel(stop) })

	start := time.Now()
	_, err := ch.Take(ctx)
	require.ErrorIs(t, err, ErrInterrupted)
	assert.ErrorIs(t, err, stop)
	// The context hook wakes the futex, so the wait slice is not needed.
	assert.Less(t, time.Since(start), 5*time.Second)

	st, err := ch.State()
	require.NoError(t, err)
	assert.Equal(t, uint32(2), st.FreeSlots)
	assert.Equal(t, uint32(0), st.UsedSlots)
}

func TestPublishAfterTerminate(t *testing.T) {
	ch, opts := createTestChannel(t, 2, 4)
	p := attachTestChannel(t, opts)

	require.NoError(t, ch.SetTerminate())
	assert.True(t, p.Terminated())

	res, err := p.Publish(testContext(t), candidate(4, graph.Edge{From: 0, To: 1}))
	require.NoError(t, err)
	assert.Equal(t, Terminated, res)

	st, err := ch.State()
	require.NoError(t, err)
	assert.Equal(t, uint32(2), st.FreeSlots)
	assert.True(t, st.Terminate)
}

func TestNotifyShutdownRequiresTerminate(t *testing.T) {
	ch, _ := createTestChannel(t, 2, 4)

	require.ErrorIs(t, ch.NotifyShutdown(3), ErrNotTerminated)
	st, err := ch.State()
	require.NoError(t, err)
	assert.Equal(t, uint32(2), st.FreeSlots)
}

// A producer that never published is not in GeneratorCount, so the single
// shutdown unit must be passed on for it to wake.
func TestNotifyShutdownWakesBlockedProducers(t *testing.T) {
	ch, opts := createTestChannel(t, 1, 4)
	counted := attachTestChannel(t, opts)
	uncounted := attachTestChannel(t, opts)
	ctx := testContext(t)

	res, err := counted.Publish(ctx, candidate(4, graph.Edge{From: 0, To: 1}))
	require.NoError(t, err)
	require.Equal(t, Published, res)
	require.Equal(t, uint64(1), ch.GeneratorCount())

	var g errgroup.Group
	for _, p := range []*Channel{counted, uncounted} {
		g.Go(func() error {
			res, err := p.Publish(ctx, candidate(4, graph.Edge{From: 2, To: 3}))
			if err != nil {
				return err
			}
			if res != Terminated {
				return errors.New("blocked producer returned " + res.String())
			}
			return nil
		})
	}

	require.Eventually(t, func() bool {
		return atomic.LoadUint32(&ch.hdr.freeSlots.waiters) == 2
	}, 5*time.Second, time.Millisecond, "producers did not block on a full buffer")

	require.NoError(t, ch.SetTerminate())
	require.NoError(t, ch.NotifyShutdown(ch.GeneratorCount()))

	waitErr := make(chan error, 1)
	go func() { waitErr <- g.Wait() }()
	select {
	case err := <-waitErr:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("blocked producers were not woken by shutdown")
	}
	assert.Equal(t, uint64(1), ch.GeneratorCount())
}

// Concurrent producers never interleave inside a slot and each producer's
// candidates arrive in the order it published them.
func TestConcurrentProducers(t *testing.T) {
	const (
		producers = 4
		perProd   = 50
		maxSize   = 8
	)
	ch, opts := createTestChannel(t, 4, maxSize)

	ctx, cancel := context.WithTimeout(testContext(t), 30*time.Second)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	for id := uint32(0); id < producers; id++ {
		p := attachTestChannel(t, opts)
		g.Go(func() error {
			for seq := uint32(0); seq < perProd; seq++ {
				c := graph.NewCandidate(maxSize)
				for range int(seq%maxSize) + 1 {
					c.Append(graph.Edge{From: id, To: seq})
				}
				if _, err := p.Publish(gctx, c); err != nil {
					return err
				}
			}
			return nil
		})
	}

	next := make(map[uint32]uint32, producers)
	for range producers * perProd {
		got, err := ch.Take(ctx)
		require.NoError(t, err)
		require.Positive(t, got.Len())

		first := got.At(0)
		assert.Equal(t, int(first.To%maxSize)+1, got.Len(), "candidate %s", got)
		for _, e := range got.Edges() {
			require.Equal(t, first, e, "slot mixes edges from different writes: %s", got)
		}
		assert.Equal(t, next[first.From], first.To, "producer %d out of order", first.From)
		next[first.From] = first.To + 1
	}
	require.NoError(t, g.Wait())
	assert.Equal(t, uint64(producers), ch.GeneratorCount())

	st, err := ch.State()
	require.NoError(t, err)
	assert.Equal(t, uint32(4), st.FreeSlots)
	assert.Equal(t, uint32(0), st.UsedSlots)
}

func TestDestroy(t *testing.T) {
	ch, opts := createTestChannel(t, 2, 4)
	p := attachTestChannel(t, opts)
	ctx := testContext(t)

	assert.ErrorIs(t, p.Destroy(), ErrNotOwner)
	assert.ErrorIs(t, ch.Detach(), ErrNotOwner)

	require.NoError(t, ch.Destroy())
	require.NoError(t, ch.Destroy())
	assert.False(t, RegionExists(opts.Dir, opts.Name))

	_, err := ch.Take(ctx)
	assert.ErrorIs(t, err, ErrDestroyed)
	assert.ErrorIs(t, ch.SetTerminate(), ErrDestroyed)
	assert.ErrorIs(t, ch.NotifyShutdown(1), ErrDestroyed)
	_, err = ch.State()
	assert.ErrorIs(t, err, ErrDestroyed)
	assert.False(t, ch.Terminated())

	// The producer's mapping outlives the unlink.
	res, err := p.Publish(ctx, candidate(4, graph.Edge{From: 0, To: 1}))
	require.NoError(t, err)
	assert.Equal(t, Published, res)

	require.NoError(t, p.Detach())
	_, err = p.Publish(ctx, candidate(4, graph.Edge{From: 0, To: 1}))
	assert.ErrorIs(t, err, ErrDestroyed)

	// A new session can start once the region is gone.
	again, err := Create(ctx, opts)
	require.NoError(t, err)
	assert.NotEqual(t, ch.Session(), again.Session())
	require.NoError(t, again.Destroy())
}

func TestChannelState(t *testing.T) {
	ch, opts := createTestChannel(t, 4, 2)
	p := attachTestChannel(t, opts)

	_, err := p.Publish(testContext(t), candidate(2, graph.Edge{From: 0, To: 1}))
	require.NoError(t, err)

	st, err := ch.State()
	require.NoError(t, err)
	assert.Equal(t, opts.Name, st.Name)
	assert.Equal(t, uint32(os.Getpid()), st.SupervisorPID)
	assert.Equal(t, uint32(1), st.WriteIndex)
	assert.Equal(t, uint32(0), st.ReadIndex)
	assert.Equal(t, uint32(1), st.Pending)
	assert.Contains(t, st.String(), "free=3 used=1")
	assert.Contains(t, st.String(), "terminate=false generators=1")
}
