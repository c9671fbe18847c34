package cachesystem

import (
	"fmt"
	"math/bits"

	"github.com/ApoorvaMN/SWLTP/src/esim"
)

const DirEntryOwnerNone = -1

// DirEntry tracks which upper-level nodes share or own one sub-block.
type DirEntry struct {
	owner   int
	sharers uint64
}

func (this *DirEntry) Owner() int {
	return this.owner
}

func (this *DirEntry) SetOwner(node int) {
	this.owner = node
}

func (this *DirEntry) IsSharer(node int) bool {
	return this.sharers&(1<<uint(node)) != 0
}

func (this *DirEntry) SetSharer(node int) {
	this.sharers |= 1 << uint(node)
}

func (this *DirEntry) ClearSharer(node int) {
	this.sharers &^= 1 << uint(node)
}

func (this *DirEntry) NumSharers() int {
	return bits.OnesCount64(this.sharers)
}

type lockWaiter struct {
	event int
	stack *ModStack
}

// DirLock serializes conflicting accesses to one cache block. Waiters queue
// FIFO; non-blocking callers never enqueue, they observe the held lock and
// take the error path instead.
type DirLock struct {
	engine *esim.Engine

	locked   bool
	owner_id uint64
	waiters  []lockWaiter
}

func (this *DirLock) Locked() bool {
	return this.locked
}

// Lock acquires the lock for stack, or enqueues (event, stack) to be
// rescheduled at release. Returns whether the lock was taken.
func (this *DirLock) Lock(event int, stack *ModStack) bool {
	if this.locked {
		this.waiters = append(this.waiters, lockWaiter{event: event, stack: stack})
		return false
	}

	this.locked = true
	this.owner_id = stack.id

	return true
}

func (this *DirLock) Unlock() {
	this.locked = false
	this.owner_id = 0

	if len(this.waiters) > 0 {
		waiter := this.waiters[0]
		this.waiters = this.waiters[1:]
		this.engine.Schedule(waiter.event, waiter.stack, 0)
	}
}

// Dir is the per-module sharing directory: one entry per set x way x
// sub-block, one lock per set x way.
type Dir struct {
	xsize int // sets
	ysize int // ways
	zsize int // sub-blocks per line

	entries [][][]*DirEntry
	locks   [][]*DirLock
}

func (this *Dir) Init(engine *esim.Engine, num_sets int, assoc int, zsize int) {
	if zsize <= 0 {
		err := fmt.Errorf("directory: bad sub-block count %d", zsize)
		panic(err)
	}

	this.xsize = num_sets
	this.ysize = assoc
	this.zsize = zsize

	this.entries = make([][][]*DirEntry, num_sets)
	this.locks = make([][]*DirLock, num_sets)
	for x := 0; x < num_sets; x++ {
		this.entries[x] = make([][]*DirEntry, assoc)
		this.locks[x] = make([]*DirLock, assoc)
		for y := 0; y < assoc; y++ {
			this.entries[x][y] = make([]*DirEntry, zsize)
			for z := 0; z < zsize; z++ {
				entry := new(DirEntry)
				entry.owner = DirEntryOwnerNone
				this.entries[x][y][z] = entry
			}
			lock := new(DirLock)
			lock.engine = engine
			this.locks[x][y] = lock
		}
	}
}

func (this *Dir) Zsize() int {
	return this.zsize
}

func (this *Dir) Entry(set_index int, way int, z int) *DirEntry {
	return this.entries[set_index][way][z]
}

func (this *Dir) Lock(set_index int, way int) *DirLock {
	return this.locks[set_index][way]
}

// SharedOrOwned reports whether any sub-block of a way has a sharer or an
// owner; an invalid block must never satisfy this.
func (this *Dir) SharedOrOwned(set_index int, way int) bool {
	for z := 0; z < this.zsize; z++ {
		entry := this.entries[set_index][way][z]
		if entry.sharers != 0 || entry.owner != DirEntryOwnerNone {
			return true
		}
	}

	return false
}
