package cachesystem

import (
	"fmt"
	"math/bits"
)

type BlockState int

const (
	BlockInvalid BlockState = iota
	BlockModified
	BlockOwned
	BlockExclusive
	BlockShared
)

var BlockStateMap = map[BlockState]string{
	BlockInvalid:   "I",
	BlockModified:  "M",
	BlockOwned:     "O",
	BlockExclusive: "E",
	BlockShared:    "S",
}

func (this BlockState) String() string {
	return BlockStateMap[this]
}

type Block struct {
	tag           uint32
	transient_tag uint32
	state         BlockState
}

type set struct {
	blocks []*Block

	// Way indices ordered most-recently-used first.
	lru []int
}

// Cache holds the tag array and LRU bookkeeping of one module. It never
// drives messages; the coherence engine mutates it through the accessors
// below.
type Cache struct {
	name string

	num_sets       int
	assoc          int
	block_size     int
	log_block_size uint

	sets []*set
}

func (this *Cache) Init(name string, num_sets int, assoc int, block_size int) {
	if num_sets <= 0 || assoc <= 0 {
		err := fmt.Errorf("cache %s: bad geometry %dx%d", name, num_sets, assoc)
		panic(err)
	}
	if bits.OnesCount32(uint32(block_size)) != 1 {
		err := fmt.Errorf("cache %s: block size %d is not a power of two", name, block_size)
		panic(err)
	}

	this.name = name
	this.num_sets = num_sets
	this.assoc = assoc
	this.block_size = block_size
	this.log_block_size = uint(bits.TrailingZeros32(uint32(block_size)))

	this.sets = make([]*set, num_sets)
	for i := range this.sets {
		blocks := make([]*Block, assoc)
		lru := make([]int, assoc)
		for way := 0; way < assoc; way++ {
			blocks[way] = new(Block)
			lru[way] = way
		}
		this.sets[i] = &set{blocks: blocks, lru: lru}
	}
}

func (this *Cache) NumSets() int {
	return this.num_sets
}

func (this *Cache) Assoc() int {
	return this.assoc
}

func (this *Cache) BlockSize() int {
	return this.block_size
}

// Decode splits an address into set index and tag. The tag keeps the full
// block-aligned address, which makes directory sub-block arithmetic direct.
func (this *Cache) Decode(addr uint32) (int, uint32) {
	tag := addr &^ uint32(this.block_size-1)
	set_index := int(addr>>this.log_block_size) % this.num_sets

	return set_index, tag
}

// FindBlock looks for a resident block holding addr. In-flight fills are
// matched at the module level, where the directory lock can be consulted.
func (this *Cache) FindBlock(addr uint32) (int, int, BlockState, bool) {
	set_index, tag := this.Decode(addr)

	for way, block := range this.sets[set_index].blocks {
		if block.tag == tag && block.state != BlockInvalid {
			return set_index, way, block.state, true
		}
	}

	return set_index, 0, BlockInvalid, false
}

func (this *Cache) GetBlock(set_index int, way int) (uint32, BlockState) {
	block := this.sets[set_index].blocks[way]

	return block.tag, block.state
}

func (this *Cache) SetBlock(set_index int, way int, tag uint32, state BlockState) {
	block := this.sets[set_index].blocks[way]
	block.tag = tag
	block.state = state
	if state == BlockInvalid {
		block.transient_tag = 0
	}
}

// SetTransientTag reserves a way for a fill in progress.
func (this *Cache) SetTransientTag(set_index int, way int, tag uint32) {
	this.sets[set_index].blocks[way].transient_tag = tag
}

// AccessBlock promotes a way to most-recently-used.
func (this *Cache) AccessBlock(set_index int, way int) {
	lru := this.sets[set_index].lru
	for i, w := range lru {
		if w == way {
			copy(lru[1:i+1], lru[:i])
			lru[0] = way
			return
		}
	}
}

// ReplaceBlock returns the least-recently-used way of a set.
func (this *Cache) ReplaceBlock(set_index int) int {
	lru := this.sets[set_index].lru

	return lru[len(lru)-1]
}
