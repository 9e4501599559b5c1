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
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/markrussinovich/fbarc/internal/graph"
	logutil "github.com/markrussinovich/fbarc/internal/logging"
)

// Defaults for Options.
const (
	DefaultName             = "fbarc"
	DefaultCapacity         = 16
	DefaultMaxCandidateSize = 8
)

// Options identify a channel and, for Create, fix its geometry.
type Options struct {
	Name             string // region name; the file is <Dir>/fbarc_<Name>
	Dir              string // empty selects /dev/shm or the temporary directory
	Capacity         int    // number of slots (Create only)
	MaxCandidateSize int    // edges per slot (Create only)
}

func (o Options) withDefaults() Options {
	if o.Name == "" {
		o.Name = DefaultName
	}
	if o.Capacity == 0 {
		o.Capacity = DefaultCapacity
	}
	if o.MaxCandidateSize == 0 {
		o.MaxCandidateSize = DefaultMaxCandidateSize
	}
	return o
}

func (o Options) validate() error {
	if o.Capacity < 1 {
		return fmt.Errorf("capacity %d must be positive", o.Capacity)
	}
	if o.MaxCandidateSize < 1 {
		return fmt.Errorf("max candidate size %d must be positive", o.MaxCandidateSize)
	}
	return nil
}

// PublishResult is the outcome of a Publish call that did not fail.
type PublishResult int

const (
	// Published means the candidate was copied into a slot.
	Published PublishResult = iota
	// Dropped means the candidate exceeded the maximum candidate size and
	// was discarded without touching shared memory. This is the overflow
	// policy, not an error.
	Dropped
	// Terminated means the terminate flag was raised; the producer must stop.
	Terminated
)

func (r PublishResult) String() string {
	switch r {
	case Published:
		return "published"
	case Dropped:
		return "dropped"
	case Terminated:
		return "terminated"
	default:
		return fmt.Sprintf("PublishResult(%d)", int(r))
	}
}

// Channel is a bounded multi-producer single-consumer queue of candidates in
// a shared memory region. The owning handle comes from Create, producer
// handles from Attach.
//
// Publish may be called from any number of processes. Take must only be
// called by one consumer at a time.
type Channel struct {
	name  string
	path  string
	seg   *Segment
	hdr   *channelHeader
	owner bool

	capacity         uint32
	maxCandidateSize int
	slotSize         int
	session          uuid.UUID

	freeSlots  Semaphore
	usedSlots  Semaphore
	writeMutex Semaphore

	// counted records whether this handle has bumped generatorCount.
	// Guarded by writeMutex.
	counted bool

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// Create creates and initializes a new channel region. It fails with a
// SessionConflictError if the region already exists.
func Create(ctx context.Context, opts Options) (*Channel, error) {
	opts = opts.withDefaults()
	if err := opts.validate(); err != nil {
		return nil, err
	}
	path := RegionPath(opts.Dir, opts.Name)
	if !futexSupported {
		return nil, &ResourceError{Op: "create", Path: path, Err: errors.ErrUnsupported}
	}

	seg, err := createSegment(opts.Name, path, RegionSize(opts.Capacity, opts.MaxCandidateSize))
	if err != nil {
		return nil, err
	}

	c := newChannel(opts.Name, seg, true)
	h := c.hdr
	copy(h.magic[:], RegionMagic)
	atomic.StoreUint32(&h.capacity, uint32(opts.Capacity))
	atomic.StoreUint32(&h.maxCandidateSize, uint32(opts.MaxCandidateSize))
	atomic.StoreUint32(&h.slotSize, uint32(SlotSize(opts.MaxCandidateSize)))
	atomic.StoreUint32(&h.writeIndex, 0)
	atomic.StoreUint32(&h.readIndex, 0)
	atomic.StoreUint32(&h.terminate, 0)
	atomic.StoreUint64(&h.generatorCount, 0)
	atomic.StoreUint32(&h.supervisorPID, uint32(os.Getpid()))
	session := uuid.New()
	copy(h.session[:], session[:])
	c.freeSlots.init(uint32(opts.Capacity))
	c.usedSlots.init(0)
	c.writeMutex.init(1)
	// Version last: Attach validates it, so a half-initialized region is rejected.
	atomic.StoreUint32(&h.version, RegionVersion)
	c.loadGeometry()

	log.FromContext(ctx).V(logutil.DEFAULT).Info("Created channel",
		"name", opts.Name, "path", path, "session", session,
		"capacity", opts.Capacity, "maxCandidateSize", opts.MaxCandidateSize)
	return c, nil
}

// Attach opens an existing channel created by a supervisor. It fails with a
// SessionConflictError if the region does not exist. Geometry fields of opts
// are ignored; the region's own geometry is used.
func Attach(ctx context.Context, opts Options) (*Channel, error) {
	opts = opts.withDefaults()
	path := RegionPath(opts.Dir, opts.Name)
	if !futexSupported {
		return nil, &ResourceError{Op: "open", Path: path, Err: errors.ErrUnsupported}
	}

	seg, err := openSegment(opts.Name, path)
	if err != nil {
		return nil, err
	}
	if err := validateHeader(headerAt(seg.Mem), len(seg.Mem)); err != nil {
		seg.Close()
		return nil, &ResourceError{Op: "validate header", Path: path, Err: err}
	}

	c := newChannel(opts.Name, seg, false)
	c.loadGeometry()

	log.FromContext(ctx).V(logutil.VERBOSE).Info("Attached to channel",
		"name", opts.Name, "path", path, "session", c.Session(),
		"capacity", c.capacity, "maxCandidateSize", c.maxCandidateSize)
	return c, nil
}

func newChannel(name string, seg *Segment, owner bool) *Channel {
	h := headerAt(seg.Mem)
	return &Channel{
		name:       name,
		path:       seg.Path,
		seg:        seg,
		hdr:        h,
		owner:      owner,
		freeSlots:  Semaphore{w: &h.freeSlots},
		usedSlots:  Semaphore{w: &h.usedSlots},
		writeMutex: Semaphore{w: &h.writeMutex},
	}
}

func (c *Channel) loadGeometry() {
	c.capacity = atomic.LoadUint32(&c.hdr.capacity)
	c.maxCandidateSize = int(atomic.LoadUint32(&c.hdr.maxCandidateSize))
	c.slotSize = int(atomic.LoadUint32(&c.hdr.slotSize))
	c.session = uuid.UUID(c.hdr.session)
}

// slot returns the bytes of slot i.
func (c *Channel) slot(i uint32) []byte {
	off := HeaderSize + int(i)*c.slotSize
	return c.seg.Mem[off : off+c.slotSize : off+c.slotSize]
}

// Name returns the channel name.
func (c *Channel) Name() string { return c.name }

// Path returns the region file path.
func (c *Channel) Path() string { return c.path }

// Capacity returns the number of slots.
func (c *Channel) Capacity() int { return int(c.capacity) }

// MaxCandidateSize returns the largest candidate a slot can hold.
func (c *Channel) MaxCandidateSize() int { return c.maxCandidateSize }

// Session returns the ID the supervisor assigned to this run.
func (c *Channel) Session() uuid.UUID { return c.session }

// Owner reports whether this handle created the region.
func (c *Channel) Owner() bool { return c.owner }

// Terminated reports whether the shared terminate flag is raised.
func (c *Channel) Terminated() bool {
	return !c.closed.Load() && atomic.LoadUint32(&c.hdr.terminate) != 0
}

// SetTerminate raises the shared terminate flag.
func (c *Channel) SetTerminate() error {
	if c.closed.Load() {
		return ErrDestroyed
	}
	atomic.StoreUint32(&c.hdr.terminate, 1)
	return nil
}

// GeneratorCount returns the number of distinct handles that have published.
func (c *Channel) GeneratorCount() uint64 {
	return atomic.LoadUint64(&c.hdr.generatorCount)
}

// Publish copies cand into the next free slot, blocking while the buffer is
// full. Candidates that overflowed or exceed MaxCandidateSize are dropped
// silently and reported as Dropped. If the terminate flag is observed,
// Publish returns Terminated without writing. A cancelled ctx yields an
// error wrapping ErrInterrupted.
func (c *Channel) Publish(ctx context.Context, cand graph.Candidate) (PublishResult, error) {
	if c.closed.Load() {
		return 0, ErrDestroyed
	}
	if cand.Overflowed() || cand.Len() > c.maxCandidateSize {
		return Dropped, nil
	}
	if c.Terminated() {
		return Terminated, nil
	}

	if err := c.freeSlots.Wait(ctx); err != nil {
		return 0, err
	}
	if c.Terminated() {
		// The unit may be one of the supervisor's shutdown wake-ups. Pass it
		// on so producers that never published, and are therefore not in
		// generatorCount, wake up too.
		if err := c.freeSlots.Post(); err != nil {
			return 0, err
		}
		return Terminated, nil
	}

	if err := c.writeMutex.Wait(ctx); err != nil {
		// Give the reserved slot back.
		if perr := c.freeSlots.Post(); perr != nil {
			return 0, errors.Join(err, perr)
		}
		return 0, err
	}

	idx := atomic.LoadUint32(&c.hdr.writeIndex)
	encodeSlot(c.slot(idx), cand)
	atomic.StoreUint32(&c.hdr.writeIndex, (idx+1)%c.capacity)
	if !c.counted {
		atomic.AddUint64(&c.hdr.generatorCount, 1)
		c.counted = true
	}

	if err := c.writeMutex.Post(); err != nil {
		return 0, err
	}
	if err := c.usedSlots.Post(); err != nil {
		return 0, err
	}
	return Published, nil
}

// Take removes the oldest candidate, blocking while the buffer is empty. A
// cancelled ctx yields an error wrapping ErrInterrupted.
func (c *Channel) Take(ctx context.Context) (graph.Candidate, error) {
	if c.closed.Load() {
		return graph.Candidate{}, ErrDestroyed
	}
	if err := c.usedSlots.Wait(ctx); err != nil {
		return graph.Candidate{}, err
	}

	idx := atomic.LoadUint32(&c.hdr.readIndex)
	cand, decodeErr := decodeSlot(c.slot(idx), c.maxCandidateSize)
	atomic.StoreUint32(&c.hdr.readIndex, (idx+1)%c.capacity)

	if err := c.freeSlots.Post(); err != nil {
		return graph.Candidate{}, errors.Join(decodeErr, err)
	}
	if decodeErr != nil {
		return graph.Candidate{}, decodeErr
	}
	return cand, nil
}

// NotifyShutdown releases freeSlots n times so that producers blocked on a
// full buffer wake up and observe the terminate flag. The flag must already
// be raised; otherwise ErrNotTerminated is returned and nothing is released.
func (c *Channel) NotifyShutdown(n uint64) error {
	if c.closed.Load() {
		return ErrDestroyed
	}
	if atomic.LoadUint32(&c.hdr.terminate) == 0 {
		return ErrNotTerminated
	}
	for range n {
		if err := c.freeSlots.Post(); err != nil {
			return err
		}
	}
	return nil
}

// Detach unmaps a producer handle. The region stays in place.
func (c *Channel) Detach() error {
	if c.owner {
		return fmt.Errorf("%w: owner must call Destroy", ErrNotOwner)
	}
	return c.close(false)
}

// Destroy unmaps and unlinks the region. Only the owning handle may call
// it, and only once the terminate flag is raised and producers have been
// notified. Calls after the first return the first call's result.
func (c *Channel) Destroy() error {
	if !c.owner {
		return ErrNotOwner
	}
	return c.close(true)
}

func (c *Channel) close(unlink bool) error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		err := c.seg.Close()
		if unlink {
			if rerr := os.Remove(c.path); rerr != nil {
				err = errors.Join(err, &ResourceError{Op: "unlink", Path: c.path, Err: rerr})
			}
		}
		c.closeErr = err
	})
	return c.closeErr
}

// ChannelState is a snapshot of a channel for diagnostics.
type ChannelState struct {
	Name             string
	Path             string
	Session          uuid.UUID
	SupervisorPID    uint32
	Capacity         int
	MaxCandidateSize int
	WriteIndex       uint32
	ReadIndex        uint32
	Pending          uint32 // (WriteIndex - ReadIndex) mod Capacity
	FreeSlots        uint32
	UsedSlots        uint32
	WriteMutex       uint32
	Terminate        bool
	GeneratorCount   uint64
}

// State returns a snapshot of the header. Fields are read one at a time, so
// a snapshot taken during traffic may be mutually inconsistent.
func (c *Channel) State() (ChannelState, error) {
	if c.closed.Load() {
		return ChannelState{}, ErrDestroyed
	}
	h := c.hdr
	w := atomic.LoadUint32(&h.writeIndex)
	r := atomic.LoadUint32(&h.readIndex)
	return ChannelState{
		Name:             c.name,
		Path:             c.path,
		Session:          c.Session(),
		SupervisorPID:    atomic.LoadUint32(&h.supervisorPID),
		Capacity:         int(c.capacity),
		MaxCandidateSize: c.maxCandidateSize,
		WriteIndex:       w,
		ReadIndex:        r,
		Pending:          (w + c.capacity - r) % c.capacity,
		FreeSlots:        c.freeSlots.Value(),
		UsedSlots:        c.usedSlots.Value(),
		WriteMutex:       c.writeMutex.Value(),
		Terminate:        atomic.LoadUint32(&h.terminate) != 0,
		GeneratorCount:   atomic.LoadUint64(&h.generatorCount),
	}, nil
}

// String renders the snapshot on one line.
func (s ChannelState) String() string {
	return fmt.Sprintf("name=%s session=%s pid=%d capacity=%d max=%d widx=%d ridx=%d pending=%d free=%d used=%d mutex=%d terminate=%t generators=%d",
		s.Name, s.Session, s.SupervisorPID, s.Capacity, s.MaxCandidateSize,
		s.WriteIndex, s.ReadIndex, s.Pending, s.FreeSlots, s.UsedSlots, s.WriteMutex,
		s.Terminate, s.GeneratorCount)
}
