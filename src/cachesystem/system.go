package cachesystem

import (
	"fmt"
	"math/rand"

	"github.com/ApoorvaMN/SWLTP/src/esim"
	"github.com/ApoorvaMN/SWLTP/src/misc"
)

// System owns the modules, networks and event chains of the memory
// hierarchy. All protocol state advances through the event engine; there is
// no other entry point.
type System struct {
	engine *esim.Engine
	debug  *misc.Debug
	rand   *rand.Rand

	min_block_size int

	mods []*Mod
	nets []*Net

	next_id uint64

	ev_load        int
	ev_load_lock   int
	ev_load_action int
	ev_load_miss   int
	ev_load_finish int

	ev_store        int
	ev_store_lock   int
	ev_store_action int
	ev_store_finish int

	ev_find_and_lock        int
	ev_find_and_lock_action int
	ev_find_and_lock_finish int

	ev_evict                     int
	ev_evict_invalid             int
	ev_evict_action              int
	ev_evict_receive             int
	ev_evict_writeback           int
	ev_evict_writeback_exclusive int
	ev_evict_writeback_finish    int
	ev_evict_process             int
	ev_evict_reply               int
	ev_evict_reply_receive       int
	ev_evict_finish              int

	ev_read_request               int
	ev_read_request_receive       int
	ev_read_request_action        int
	ev_read_request_updown        int
	ev_read_request_updown_miss   int
	ev_read_request_updown_finish int
	ev_read_request_downup        int
	ev_read_request_downup_finish int
	ev_read_request_reply         int
	ev_read_request_finish        int

	ev_write_request               int
	ev_write_request_receive       int
	ev_write_request_action        int
	ev_write_request_exclusive     int
	ev_write_request_updown        int
	ev_write_request_updown_finish int
	ev_write_request_downup        int
	ev_write_request_reply         int
	ev_write_request_finish        int

	ev_invalidate        int
	ev_invalidate_finish int
}

func (this *System) Init(engine *esim.Engine, debug *misc.Debug, seed int64) {
	this.engine = engine
	this.debug = debug
	this.rand = rand.New(rand.NewSource(seed))
	this.mods = make([]*Mod, 0)
	this.nets = make([]*Net, 0)
	this.next_id = 0

	this.ev_load = engine.RegisterEvent("mod_load", this.handlerLoad)
	this.ev_load_lock = engine.RegisterEvent("mod_load_lock", this.handlerLoad)
	this.ev_load_action = engine.RegisterEvent("mod_load_action", this.handlerLoad)
	this.ev_load_miss = engine.RegisterEvent("mod_load_miss", this.handlerLoad)
	this.ev_load_finish = engine.RegisterEvent("mod_load_finish", this.handlerLoad)

	this.ev_store = engine.RegisterEvent("mod_store", this.handlerStore)
	this.ev_store_lock = engine.RegisterEvent("mod_store_lock", this.handlerStore)
	this.ev_store_action = engine.RegisterEvent("mod_store_action", this.handlerStore)
	this.ev_store_finish = engine.RegisterEvent("mod_store_finish", this.handlerStore)

	this.ev_find_and_lock = engine.RegisterEvent("mod_find_and_lock", this.handlerFindAndLock)
	this.ev_find_and_lock_action = engine.RegisterEvent("mod_find_and_lock_action", this.handlerFindAndLock)
	this.ev_find_and_lock_finish = engine.RegisterEvent("mod_find_and_lock_finish", this.handlerFindAndLock)

	this.ev_evict = engine.RegisterEvent("mod_evict", this.handlerEvict)
	this.ev_evict_invalid = engine.RegisterEvent("mod_evict_invalid", this.handlerEvict)
	this.ev_evict_action = engine.RegisterEvent("mod_evict_action", this.handlerEvict)
	this.ev_evict_receive = engine.RegisterEvent("mod_evict_receive", this.handlerEvict)
	this.ev_evict_writeback = engine.RegisterEvent("mod_evict_writeback", this.handlerEvict)
	this.ev_evict_writeback_exclusive = engine.RegisterEvent("mod_evict_writeback_exclusive", this.handlerEvict)
	this.ev_evict_writeback_finish = engine.RegisterEvent("mod_evict_writeback_finish", this.handlerEvict)
	this.ev_evict_process = engine.RegisterEvent("mod_evict_process", this.handlerEvict)
	this.ev_evict_reply = engine.RegisterEvent("mod_evict_reply", this.handlerEvict)
	this.ev_evict_reply_receive = engine.RegisterEvent("mod_evict_reply_receive", this.handlerEvict)
	this.ev_evict_finish = engine.RegisterEvent("mod_evict_finish", this.handlerEvict)

	this.ev_read_request = engine.RegisterEvent("mod_read_request", this.handlerReadRequest)
	this.ev_read_request_receive = engine.RegisterEvent("mod_read_request_receive", this.handlerReadRequest)
	this.ev_read_request_action = engine.RegisterEvent("mod_read_request_action", this.handlerReadRequest)
	this.ev_read_request_updown = engine.RegisterEvent("mod_read_request_updown", this.handlerReadRequest)
	this.ev_read_request_updown_miss = engine.RegisterEvent("mod_read_request_updown_miss", this.handlerReadRequest)
	this.ev_read_request_updown_finish = engine.RegisterEvent("mod_read_request_updown_finish", this.handlerReadRequest)
	this.ev_read_request_downup = engine.RegisterEvent("mod_read_request_downup", this.handlerReadRequest)
	this.ev_read_request_downup_finish = engine.RegisterEvent("mod_read_request_downup_finish", this.handlerReadRequest)
	this.ev_read_request_reply = engine.RegisterEvent("mod_read_request_reply", this.handlerReadRequest)
	this.ev_read_request_finish = engine.RegisterEvent("mod_read_request_finish", this.handlerReadRequest)

	this.ev_write_request = engine.RegisterEvent("mod_write_request", this.handlerWriteRequest)
	this.ev_write_request_receive = engine.RegisterEvent("mod_write_request_receive", this.handlerWriteRequest)
	this.ev_write_request_action = engine.RegisterEvent("mod_write_request_action", this.handlerWriteRequest)
	this.ev_write_request_exclusive = engine.RegisterEvent("mod_write_request_exclusive", this.handlerWriteRequest)
	this.ev_write_request_updown = engine.RegisterEvent("mod_write_request_updown", this.handlerWriteRequest)
	this.ev_write_request_updown_finish = engine.RegisterEvent("mod_write_request_updown_finish", this.handlerWriteRequest)
	this.ev_write_request_downup = engine.RegisterEvent("mod_write_request_downup", this.handlerWriteRequest)
	this.ev_write_request_reply = engine.RegisterEvent("mod_write_request_reply", this.handlerWriteRequest)
	this.ev_write_request_finish = engine.RegisterEvent("mod_write_request_finish", this.handlerWriteRequest)

	this.ev_invalidate = engine.RegisterEvent("mod_invalidate", this.handlerInvalidate)
	this.ev_invalidate_finish = engine.RegisterEvent("mod_invalidate_finish", this.handlerInvalidate)
}

func (this *System) Engine() *esim.Engine {
	return this.engine
}

func (this *System) MinBlockSize() int {
	return this.min_block_size
}

func (this *System) Mods() []*Mod {
	return this.mods
}

// NewMod creates a module; the hierarchy is wired afterwards with
// ConnectNet and sealed with Finalize.
func (this *System) NewMod(
	name string,
	kind ModKind,
	num_sets int,
	assoc int,
	block_size int,
	latency int,
) *Mod {
	mod := new(Mod)
	mod.Init(name, kind, num_sets, assoc, block_size, latency)
	this.mods = append(this.mods, mod)

	return mod
}

func (this *System) NewNet(name string, width int, capacity int) *Net {
	net := new(Net)
	net.Init(this.engine, name, width, capacity)
	this.nets = append(this.nets, net)

	return net
}

// ConnectNet attaches low as node 0 of net and each module of highs as a
// further node, recording low as their directly-below module.
func (this *System) ConnectNet(net *Net, low *Mod, highs []*Mod) {
	low.high_net = net
	low.high_net_node = net.AddNode(low)

	for _, high := range highs {
		high.low_net = net
		high.low_net_node = net.AddNode(high)
		high.low_mod = low
	}
}

// Finalize computes the directory sub-block granularity and allocates the
// per-module directories. Must run after all ConnectNet calls, before the
// first access.
func (this *System) Finalize() {
	if len(this.mods) == 0 {
		panic(fmt.Errorf("cachesystem: no modules configured"))
	}

	this.min_block_size = this.mods[0].block_size
	for _, mod := range this.mods {
		if mod.block_size < this.min_block_size {
			this.min_block_size = mod.block_size
		}
	}

	for _, mod := range this.mods {
		dir := new(Dir)
		dir.Init(this.engine, mod.cache.num_sets, mod.cache.assoc,
			mod.block_size/this.min_block_size)
		mod.dir = dir
	}
}

func (this *System) newStack(
	id uint64,
	mod *Mod,
	addr uint32,
	ret_event int,
	ret_stack *ModStack,
) *ModStack {
	stack := new(ModStack)
	stack.id = id
	stack.mod = mod
	stack.addr = addr
	stack.ret_event = ret_event
	stack.ret_stack = ret_stack
	stack.src_way = -1

	return stack
}

func (this *System) stackReturn(stack *ModStack) {
	if stack.ret_stack == nil {
		if stack.on_complete != nil {
			stack.on_complete(stack)
		}
		return
	}

	this.engine.Schedule(stack.ret_event, stack.ret_stack, 0)
}

func (this *System) retryLatency(mod *Mod) uint64 {
	return uint64(this.rand.Intn(mod.latency) + mod.latency)
}

// Load starts a coherent read at mod. on_complete fires when the access and
// all retries have finished.
func (this *System) Load(mod *Mod, addr uint32, on_complete func(*ModStack)) uint64 {
	this.next_id++
	stack := this.newStack(this.next_id, mod, addr, -1, nil)
	stack.on_complete = on_complete
	this.engine.Schedule(this.ev_load, stack, 0)

	return this.next_id
}

// Store starts a coherent write at mod.
func (this *System) Store(mod *Mod, addr uint32, on_complete func(*ModStack)) uint64 {
	this.next_id++
	stack := this.newStack(this.next_id, mod, addr, -1, nil)
	stack.on_complete = on_complete
	this.engine.Schedule(this.ev_store, stack, 0)

	return this.next_id
}

// NCStore starts a non-coherent write. It walks the store chain and is
// counted as an ordinary store; no statistic tells the two apart.
func (this *System) NCStore(mod *Mod, addr uint32, on_complete func(*ModStack)) uint64 {
	return this.Store(mod, addr, on_complete)
}
