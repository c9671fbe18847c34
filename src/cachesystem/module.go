package cachesystem

import (
	"fmt"
)

type ModKind int

const (
	ModKindCache ModKind = iota
	ModKindMainMemory
)

// ModStats counts accesses observed by one module. Retry counters inflate on
// every lock-contention replay; the no-retry counters only count first
// attempts.
type ModStats struct {
	Accesses uint64
	Hits     uint64

	Reads     uint64
	ReadHits  uint64
	Writes    uint64
	WriteHits uint64

	BlockingReads     uint64
	NonBlockingReads  uint64
	BlockingWrites    uint64
	NonBlockingWrites uint64

	NoRetryAccesses  uint64
	NoRetryHits      uint64
	NoRetryReads     uint64
	NoRetryReadHits  uint64
	NoRetryWrites    uint64
	NoRetryWriteHits uint64

	ReadRetries  uint64
	WriteRetries uint64
	Evictions    uint64
}

// Mod is one node of the memory hierarchy: a cache level or main memory,
// attached to a network toward the CPU (high) and one toward memory (low).
type Mod struct {
	name string
	kind ModKind

	block_size int
	latency    int

	cache *Cache
	dir   *Dir

	high_net      *Net
	high_net_node *Node
	low_net       *Net
	low_net_node  *Node

	// The single module directly below; nil for main memory.
	low_mod *Mod

	// In-flight accesses indexed by block address.
	access_list map[uint32][]*ModStack

	stats ModStats
}

func (this *Mod) Init(name string, kind ModKind, num_sets int, assoc int, block_size int, latency int) {
	this.name = name
	this.kind = kind
	this.block_size = block_size
	this.latency = latency

	this.cache = new(Cache)
	this.cache.Init(name, num_sets, assoc, block_size)

	this.access_list = make(map[uint32][]*ModStack)
}

func (this *Mod) Name() string {
	return this.name
}

func (this *Mod) Kind() ModKind {
	return this.kind
}

func (this *Mod) BlockSize() int {
	return this.block_size
}

func (this *Mod) Latency() int {
	return this.latency
}

func (this *Mod) Cache() *Cache {
	return this.cache
}

func (this *Mod) Dir() *Dir {
	return this.dir
}

func (this *Mod) LowMod() *Mod {
	return this.low_mod
}

func (this *Mod) Stats() *ModStats {
	return &this.stats
}

func (this *Mod) blockAddr(addr uint32) uint32 {
	return addr &^ uint32(this.block_size-1)
}

func (this *Mod) accessInsert(stack *ModStack) {
	block_addr := this.blockAddr(stack.addr)
	this.access_list[block_addr] = append(this.access_list[block_addr], stack)
}

func (this *Mod) accessExtract(stack *ModStack) {
	block_addr := this.blockAddr(stack.addr)
	accesses := this.access_list[block_addr]
	for i, in_flight := range accesses {
		if in_flight == stack {
			accesses = append(accesses[:i], accesses[i+1:]...)
			break
		}
	}
	if len(accesses) == 0 {
		delete(this.access_list, block_addr)
	} else {
		this.access_list[block_addr] = accesses
	}
}

// FindBlock looks for a resident block holding addr, or one whose fill is
// in progress; a transient tag only counts while its directory lock is
// held, so abandoned fills do not alias.
func (this *Mod) FindBlock(addr uint32) (int, int, BlockState, bool) {
	set_index, tag := this.cache.Decode(addr)

	for way := 0; way < this.cache.assoc; way++ {
		block := this.cache.sets[set_index].blocks[way]
		if block.tag == tag && block.state != BlockInvalid {
			return set_index, way, block.state, true
		}
		if block.transient_tag == tag && block.transient_tag != block.tag &&
			this.dir.Lock(set_index, way).Locked() {
			return set_index, way, block.state, true
		}
	}

	return set_index, 0, BlockInvalid, false
}

// InFlightAccesses returns how many accesses to addr's block this module is
// currently tracking.
func (this *Mod) InFlightAccesses(addr uint32) int {
	return len(this.access_list[this.blockAddr(addr)])
}

// StatsLines renders the counters in the dump format used at end of run.
func (this *Mod) StatsLines() []string {
	s := &this.stats

	return []string{
		fmt.Sprintf("[%s]", this.name),
		fmt.Sprintf("Accesses = %d", s.Accesses),
		fmt.Sprintf("Hits = %d", s.Hits),
		fmt.Sprintf("Reads = %d", s.Reads),
		fmt.Sprintf("ReadHits = %d", s.ReadHits),
		fmt.Sprintf("Writes = %d", s.Writes),
		fmt.Sprintf("WriteHits = %d", s.WriteHits),
		fmt.Sprintf("ReadRetries = %d", s.ReadRetries),
		fmt.Sprintf("WriteRetries = %d", s.WriteRetries),
		fmt.Sprintf("Evictions = %d", s.Evictions),
	}
}
