package cachesystem

import "fmt"

// The MOESI protocol engine. Each handler implements one flow of the
// directory-based protocol as a chain of events threaded through a ModStack;
// ownership of a line lives in the cache below its sharers. The flows follow
// the module graph only through high/low networks and the per-block
// directory locks, so conflicting accesses serialize per block and
// everything else overlaps.

func (this *System) handlerLoad(event int, data interface{}) {
	stack := data.(*ModStack)
	mod := stack.mod

	switch event {

	case this.ev_load:
		this.debug.Printf("%d %d 0x%x %s load\n",
			this.engine.Now(), stack.id, stack.addr, mod.name)

		mod.accessInsert(stack)

		this.engine.Schedule(this.ev_load_lock, stack, 0)

	case this.ev_load_lock:
		this.debug.Printf("  %d %d 0x%x %s load lock\n",
			this.engine.Now(), stack.id, stack.addr, mod.name)

		new_stack := this.newStack(stack.id, mod, stack.addr,
			this.ev_load_action, stack)
		new_stack.blocking = false
		new_stack.read = true
		new_stack.retried = stack.retried
		this.engine.Schedule(this.ev_find_and_lock, new_stack, 0)

	case this.ev_load_action:
		this.debug.Printf("  %d %d 0x%x %s load action\n",
			this.engine.Now(), stack.id, stack.tag, mod.name)

		// Error locking
		if stack.err {
			mod.stats.ReadRetries++
			retry_lat := this.retryLatency(mod)
			this.debug.Printf("    lock error, retrying in %d cycles\n", retry_lat)
			stack.retried = true
			stack.err = false
			this.engine.Schedule(this.ev_load_lock, stack, retry_lat)
			return
		}

		// Hit
		if stack.state != BlockInvalid {
			this.engine.Schedule(this.ev_load_finish, stack, 0)
			return
		}

		// Miss
		new_stack := this.newStack(stack.id, mod, stack.tag,
			this.ev_load_miss, stack)
		new_stack.target_mod = mod.low_mod
		this.engine.Schedule(this.ev_read_request, new_stack, 0)

	case this.ev_load_miss:
		this.debug.Printf("  %d %d 0x%x %s load miss\n",
			this.engine.Now(), stack.id, stack.tag, mod.name)

		// Error on read request. Unlock block and retry load.
		if stack.err {
			mod.stats.ReadRetries++
			retry_lat := this.retryLatency(mod)
			stack.dir_lock.Unlock()
			this.debug.Printf("    lock error, retrying in %d cycles\n", retry_lat)
			stack.retried = true
			stack.err = false
			this.engine.Schedule(this.ev_load_lock, stack, retry_lat)
			return
		}

		// Install as E, or S when another cache was sharing.
		state := BlockExclusive
		if stack.shared {
			state = BlockShared
		}
		mod.cache.SetBlock(stack.set, stack.way, stack.tag, state)

		this.engine.Schedule(this.ev_load_finish, stack, 0)

	case this.ev_load_finish:
		this.debug.Printf("%d %d 0x%x %s load finish\n",
			this.engine.Now(), stack.id, stack.tag, mod.name)

		stack.dir_lock.Unlock()
		mod.accessExtract(stack)
		this.stackReturn(stack)

	default:
		panic(fmt.Errorf("cachesystem: load handler got %s", this.engine.EventName(event)))
	}
}

func (this *System) handlerStore(event int, data interface{}) {
	stack := data.(*ModStack)
	mod := stack.mod

	switch event {

	case this.ev_store:
		this.debug.Printf("%d %d 0x%x %s store\n",
			this.engine.Now(), stack.id, stack.addr, mod.name)

		mod.accessInsert(stack)

		this.engine.Schedule(this.ev_store_lock, stack, 0)

	case this.ev_store_lock:
		this.debug.Printf("  %d %d 0x%x %s store lock\n",
			this.engine.Now(), stack.id, stack.addr, mod.name)

		new_stack := this.newStack(stack.id, mod, stack.addr,
			this.ev_store_action, stack)
		new_stack.blocking = false
		new_stack.read = false
		new_stack.retried = stack.retried
		this.engine.Schedule(this.ev_find_and_lock, new_stack, 0)

	case this.ev_store_action:
		this.debug.Printf("  %d %d 0x%x %s store action\n",
			this.engine.Now(), stack.id, stack.tag, mod.name)

		// Error locking
		if stack.err {
			mod.stats.WriteRetries++
			retry_lat := this.retryLatency(mod)
			this.debug.Printf("    lock error, retrying in %d cycles\n", retry_lat)
			stack.retried = true
			stack.err = false
			this.engine.Schedule(this.ev_store_lock, stack, retry_lat)
			return
		}

		// Hit in M/E needs no request below.
		if stack.state == BlockModified || stack.state == BlockExclusive {
			this.engine.Schedule(this.ev_store_finish, stack, 0)
			return
		}

		// O/S/I: request exclusive ownership below.
		new_stack := this.newStack(stack.id, mod, stack.tag,
			this.ev_store_finish, stack)
		new_stack.target_mod = mod.low_mod
		this.engine.Schedule(this.ev_write_request, new_stack, 0)

	case this.ev_store_finish:
		this.debug.Printf("%d %d 0x%x %s store finish\n",
			this.engine.Now(), stack.id, stack.tag, mod.name)

		// Error in write request. Unlock block and retry store.
		if stack.err {
			mod.stats.WriteRetries++
			retry_lat := this.retryLatency(mod)
			stack.dir_lock.Unlock()
			this.debug.Printf("    lock error, retrying in %d cycles\n", retry_lat)
			stack.retried = true
			stack.err = false
			this.engine.Schedule(this.ev_store_lock, stack, retry_lat)
			return
		}

		mod.cache.SetBlock(stack.set, stack.way, stack.tag, BlockModified)
		stack.dir_lock.Unlock()
		mod.accessExtract(stack)
		this.stackReturn(stack)

	default:
		panic(fmt.Errorf("cachesystem: store handler got %s", this.engine.EventName(event)))
	}
}

func (this *System) handlerFindAndLock(event int, data interface{}) {
	stack := data.(*ModStack)
	ret := stack.ret_stack
	mod := stack.mod

	switch event {

	case this.ev_find_and_lock:
		this.debug.Printf("  %d %d 0x%x %s find and lock (blocking=%v)\n",
			this.engine.Now(), stack.id, stack.addr, mod.name, stack.blocking)

		// Default return values
		ret.err = false
		ret.set = 0
		ret.way = 0
		ret.state = BlockInvalid
		ret.tag = 0

		set, way, state, hit := mod.FindBlock(stack.addr)
		stack.set = set
		stack.way = way
		stack.state = state
		stack.hit = hit
		_, stack.tag = mod.cache.Decode(stack.addr)
		if hit {
			this.debug.Printf("    %d 0x%x %s hit: set=%d, way=%d, state=%s\n",
				stack.id, stack.tag, mod.name, set, way, state)
		}

		// Stats
		mod.stats.Accesses++
		if hit {
			mod.stats.Hits++
		}
		if stack.read {
			mod.stats.Reads++
			if stack.blocking {
				mod.stats.BlockingReads++
			} else {
				mod.stats.NonBlockingReads++
			}
			if hit {
				mod.stats.ReadHits++
			}
		} else {
			mod.stats.Writes++
			if stack.blocking {
				mod.stats.BlockingWrites++
			} else {
				mod.stats.NonBlockingWrites++
			}
			if hit {
				mod.stats.WriteHits++
			}
		}
		if !stack.retried {
			mod.stats.NoRetryAccesses++
			if hit {
				mod.stats.NoRetryHits++
			}
			if stack.read {
				mod.stats.NoRetryReads++
				if hit {
					mod.stats.NoRetryReadHits++
				}
			} else {
				mod.stats.NoRetryWrites++
				if hit {
					mod.stats.NoRetryWriteHits++
				}
			}
		}

		// Miss: pick the victim.
		if !hit {
			if stack.blocking {
				panic(fmt.Errorf("%s: down-up request missed at 0x%x", mod.name, stack.addr))
			}

			stack.way = mod.cache.ReplaceBlock(stack.set)
			_, stack.state = mod.cache.GetBlock(stack.set, stack.way)
			if stack.state == BlockInvalid && mod.dir.SharedOrOwned(stack.set, stack.way) {
				panic(fmt.Errorf("%s: invalid victim with live directory entries", mod.name))
			}
			this.debug.Printf("    %d 0x%x %s miss -> lru: set=%d, way=%d, state=%s\n",
				stack.id, stack.tag, mod.name, stack.set, stack.way, stack.state)
		}

		// Lock entry
		stack.dir_lock = mod.dir.Lock(stack.set, stack.way)
		if stack.dir_lock.Locked() && !stack.blocking {
			this.debug.Printf("    %d 0x%x %s block already locked: set=%d, way=%d\n",
				stack.id, stack.tag, mod.name, stack.set, stack.way)
			ret.err = true
			this.stackReturn(stack)
			return
		}
		if !stack.dir_lock.Lock(this.ev_find_and_lock, stack) {
			return
		}

		// Entry is locked. Record the transient tag so a later lookup sees
		// the fill in progress; update the LRU order now.
		mod.cache.SetTransientTag(stack.set, stack.way, stack.tag)
		mod.cache.AccessBlock(stack.set, stack.way)

		this.engine.Schedule(this.ev_find_and_lock_action, stack, uint64(mod.latency))

	case this.ev_find_and_lock_action:
		this.debug.Printf("  %d %d 0x%x %s find and lock action\n",
			this.engine.Now(), stack.id, stack.tag, mod.name)

		// On miss, evict a valid victim before the fill.
		if !stack.hit && stack.state != BlockInvalid {
			stack.eviction = true
			new_stack := this.newStack(stack.id, mod, 0,
				this.ev_find_and_lock_finish, stack)
			new_stack.set = stack.set
			new_stack.way = stack.way
			this.engine.Schedule(this.ev_evict, new_stack, 0)
			return
		}

		this.engine.Schedule(this.ev_find_and_lock_finish, stack, 0)

	case this.ev_find_and_lock_finish:
		this.debug.Printf("  %d %d 0x%x %s find and lock finish (err=%v)\n",
			this.engine.Now(), stack.id, stack.tag, mod.name, stack.err)

		// Eviction error propagates; the victim is still valid.
		if stack.err {
			_, stack.state = mod.cache.GetBlock(stack.set, stack.way)
			if stack.state == BlockInvalid || !stack.eviction {
				panic(fmt.Errorf("%s: eviction error left an invalid victim", mod.name))
			}
			ret.err = true
			stack.dir_lock.Unlock()
			this.stackReturn(stack)
			return
		}

		if stack.eviction {
			mod.stats.Evictions++
			_, stack.state = mod.cache.GetBlock(stack.set, stack.way)
			if stack.state != BlockInvalid {
				panic(fmt.Errorf("%s: victim not invalid after eviction", mod.name))
			}
		}

		// Main memory holds every block; a miss there was only a directory
		// miss, so materialize the line as exclusive.
		if mod.kind == ModKindMainMemory && stack.state == BlockInvalid {
			stack.state = BlockExclusive
			mod.cache.SetBlock(stack.set, stack.way, stack.tag, stack.state)
		}

		ret.err = false
		ret.set = stack.set
		ret.way = stack.way
		ret.state = stack.state
		ret.tag = stack.tag
		ret.dir_lock = stack.dir_lock
		this.stackReturn(stack)

	default:
		panic(fmt.Errorf("cachesystem: find-and-lock handler got %s", this.engine.EventName(event)))
	}
}

func (this *System) handlerEvict(event int, data interface{}) {
	stack := data.(*ModStack)
	ret := stack.ret_stack
	mod := stack.mod
	target_mod := stack.target_mod

	switch event {

	case this.ev_evict:
		ret.err = false

		tag, state := mod.cache.GetBlock(stack.set, stack.way)
		stack.tag = tag
		stack.state = state
		if state == BlockInvalid && mod.dir.SharedOrOwned(stack.set, stack.way) {
			panic(fmt.Errorf("%s: evicting invalid block with live directory entries", mod.name))
		}
		this.debug.Printf("  %d %d 0x%x %s evict (set=%d, way=%d, state=%s)\n",
			this.engine.Now(), stack.id, stack.tag, mod.name,
			stack.set, stack.way, stack.state)

		stack.src_set = stack.set
		stack.src_way = stack.way
		stack.src_tag = stack.tag
		stack.target_mod = mod.low_mod

		// Invalidate every upper-level sharer of the victim.
		new_stack := this.newStack(stack.id, mod, 0,
			this.ev_evict_invalid, stack)
		new_stack.except_mod = nil
		new_stack.set = stack.set
		new_stack.way = stack.way
		this.engine.Schedule(this.ev_invalidate, new_stack, 0)

	case this.ev_evict_invalid:
		this.debug.Printf("  %d %d 0x%x %s evict invalid\n",
			this.engine.Now(), stack.id, stack.tag, mod.name)

		// Main memory has nowhere to write back; drop the block.
		if mod.kind == ModKindMainMemory {
			mod.cache.SetBlock(stack.src_set, stack.src_way, 0, BlockInvalid)
			this.engine.Schedule(this.ev_evict_finish, stack, 0)
			return
		}

		this.engine.Schedule(this.ev_evict_action, stack, 0)

	case this.ev_evict_action:
		this.debug.Printf("  %d %d 0x%x %s evict action\n",
			this.engine.Now(), stack.id, stack.tag, mod.name)

		lower_node := mod.low_net.Node(0)

		switch stack.state {

		case BlockInvalid:
			this.engine.Schedule(this.ev_evict_finish, stack, 0)

		case BlockModified, BlockOwned:
			// Dirty line travels down with the message.
			stack.msg = mod.low_net.TrySend(mod.low_net_node, lower_node,
				mod.block_size+8, this.ev_evict_receive, event, stack)
			stack.writeback = true

		case BlockShared, BlockExclusive:
			stack.msg = mod.low_net.TrySend(mod.low_net_node, lower_node,
				8, this.ev_evict_receive, event, stack)

		default:
			panic(fmt.Errorf("%s: invalid state %d in evict", mod.name, stack.state))
		}

	case this.ev_evict_receive:
		this.debug.Printf("  %d %d 0x%x %s evict receive\n",
			this.engine.Now(), stack.id, stack.tag, target_mod.name)

		target_mod.high_net.Receive(target_mod.high_net_node, stack.msg)

		new_stack := this.newStack(stack.id, target_mod, stack.src_tag,
			this.ev_evict_writeback, stack)
		new_stack.blocking = false
		new_stack.read = false
		new_stack.retried = false
		this.engine.Schedule(this.ev_find_and_lock, new_stack, 0)

	case this.ev_evict_writeback:
		this.debug.Printf("  %d %d 0x%x %s evict writeback\n",
			this.engine.Now(), stack.id, stack.tag, target_mod.name)

		if stack.err {
			ret.err = true
			this.engine.Schedule(this.ev_evict_reply, stack, 0)
			return
		}

		if !stack.writeback {
			this.engine.Schedule(this.ev_evict_process, stack, 0)
			return
		}

		// Writeback landed; claim exclusivity at the target level.
		new_stack := this.newStack(stack.id, target_mod, 0,
			this.ev_evict_writeback_exclusive, stack)
		new_stack.except_mod = mod
		new_stack.set = stack.set
		new_stack.way = stack.way
		this.engine.Schedule(this.ev_invalidate, new_stack, 0)

	case this.ev_evict_writeback_exclusive:
		this.debug.Printf("  %d %d 0x%x %s evict writeback exclusive\n",
			this.engine.Now(), stack.id, stack.tag, target_mod.name)

		if stack.state == BlockInvalid {
			panic(fmt.Errorf("%s: writeback into invalid block", target_mod.name))
		}

		// O/S destination needs exclusive ownership further down before it
		// can absorb dirty data.
		if stack.state == BlockOwned || stack.state == BlockShared {
			new_stack := this.newStack(stack.id, target_mod, stack.tag,
				this.ev_evict_writeback_finish, stack)
			new_stack.target_mod = target_mod.low_mod
			this.engine.Schedule(this.ev_write_request, new_stack, 0)
			return
		}

		this.engine.Schedule(this.ev_evict_writeback_finish, stack, 0)

	case this.ev_evict_writeback_finish:
		this.debug.Printf("  %d %d 0x%x %s evict writeback finish\n",
			this.engine.Now(), stack.id, stack.tag, target_mod.name)

		if stack.err {
			ret.err = true
			stack.dir_lock.Unlock()
			this.engine.Schedule(this.ev_evict_reply, stack, 0)
			return
		}

		target_mod.cache.SetBlock(stack.set, stack.way, stack.tag, BlockModified)
		this.engine.Schedule(this.ev_evict_process, stack, 0)

	case this.ev_evict_process:
		this.debug.Printf("  %d %d 0x%x %s evict process\n",
			this.engine.Now(), stack.id, stack.tag, target_mod.name)

		// Remove the evictor as sharer/owner of every sub-block it covered.
		dir := target_mod.dir
		for z := 0; z < dir.Zsize(); z++ {
			dir_entry_tag := stack.tag + uint32(z*this.min_block_size)
			if dir_entry_tag < stack.src_tag ||
				dir_entry_tag >= stack.src_tag+uint32(mod.block_size) {
				continue
			}
			dir_entry := dir.Entry(stack.set, stack.way, z)
			dir_entry.ClearSharer(mod.low_net_node.index)
			if dir_entry.Owner() == mod.low_net_node.index {
				dir_entry.SetOwner(DirEntryOwnerNone)
			}
		}
		stack.dir_lock.Unlock()

		this.engine.Schedule(this.ev_evict_reply, stack, 0)

	case this.ev_evict_reply:
		this.debug.Printf("  %d %d 0x%x %s evict reply\n",
			this.engine.Now(), stack.id, stack.tag, target_mod.name)

		stack.msg = target_mod.high_net.TrySend(target_mod.high_net_node,
			mod.low_net_node, 8, this.ev_evict_reply_receive, event, stack)

	case this.ev_evict_reply_receive:
		this.debug.Printf("  %d %d 0x%x %s evict reply receive\n",
			this.engine.Now(), stack.id, stack.tag, mod.name)

		mod.low_net.Receive(mod.low_net_node, stack.msg)

		if !stack.err {
			mod.cache.SetBlock(stack.src_set, stack.src_way, 0, BlockInvalid)
		}
		if mod.dir.SharedOrOwned(stack.src_set, stack.src_way) {
			panic(fmt.Errorf("%s: evicted block still shared or owned", mod.name))
		}
		this.engine.Schedule(this.ev_evict_finish, stack, 0)

	case this.ev_evict_finish:
		this.debug.Printf("  %d %d 0x%x %s evict finish\n",
			this.engine.Now(), stack.id, stack.tag, mod.name)

		this.stackReturn(stack)

	default:
		panic(fmt.Errorf("cachesystem: evict handler got %s", this.engine.EventName(event)))
	}
}

func (this *System) handlerReadRequest(event int, data interface{}) {
	stack := data.(*ModStack)
	ret := stack.ret_stack
	mod := stack.mod
	target_mod := stack.target_mod

	// Request direction: up-down when the target is the module below.
	updown := mod.low_mod == target_mod

	switch event {

	case this.ev_read_request:
		this.debug.Printf("  %d %d 0x%x %s read request\n",
			this.engine.Now(), stack.id, stack.addr, mod.name)

		ret.shared = false
		ret.err = false

		if !updown && target_mod.low_mod != mod {
			panic(fmt.Errorf("read request between unrelated modules %s and %s",
				mod.name, target_mod.name))
		}

		var net *Net
		var src_node, dst_node *Node
		if updown {
			net = mod.low_net
			src_node = mod.low_net_node
			dst_node = target_mod.high_net_node
		} else {
			net = mod.high_net
			src_node = mod.high_net_node
			dst_node = target_mod.low_net_node
		}

		stack.msg = net.TrySend(src_node, dst_node, 8,
			this.ev_read_request_receive, event, stack)

	case this.ev_read_request_receive:
		this.debug.Printf("  %d %d 0x%x %s read request receive\n",
			this.engine.Now(), stack.id, stack.addr, target_mod.name)

		if updown {
			target_mod.high_net.Receive(target_mod.high_net_node, stack.msg)
		} else {
			target_mod.low_net.Receive(target_mod.low_net_node, stack.msg)
		}

		new_stack := this.newStack(stack.id, target_mod, stack.addr,
			this.ev_read_request_action, stack)
		new_stack.blocking = target_mod.low_mod == mod
		new_stack.read = true
		new_stack.retried = false
		this.engine.Schedule(this.ev_find_and_lock, new_stack, 0)

	case this.ev_read_request_action:
		this.debug.Printf("  %d %d 0x%x %s read request action\n",
			this.engine.Now(), stack.id, stack.tag, target_mod.name)

		// A down-up request can never fail the lock; its holder set it up.
		if stack.err {
			if !updown {
				panic(fmt.Errorf("%s: lock error on down-up read request", target_mod.name))
			}
			ret.err = true
			stack.reply_size = 8
			this.engine.Schedule(this.ev_read_request_reply, stack, 0)
			return
		}

		if updown {
			this.engine.Schedule(this.ev_read_request_updown, stack, 0)
		} else {
			this.engine.Schedule(this.ev_read_request_downup, stack, 0)
		}

	case this.ev_read_request_updown:
		this.debug.Printf("  %d %d 0x%x %s read request updown\n",
			this.engine.Now(), stack.id, stack.tag, target_mod.name)
		stack.pending = 1

		if stack.state != BlockInvalid {
			// Forward the read to any sub-block owner other than the
			// requester, then collect replies.
			if stack.addr%uint32(mod.block_size) != 0 {
				panic(fmt.Errorf("read request addr 0x%x not aligned to %s block",
					stack.addr, mod.name))
			}
			dir := target_mod.dir
			for z := 0; z < dir.Zsize(); z++ {
				dir_entry_tag := stack.tag + uint32(z*this.min_block_size)
				if dir_entry_tag >= stack.addr &&
					dir_entry_tag < stack.addr+uint32(mod.block_size) &&
					dir.Entry(stack.set, stack.way, z).Owner() == mod.low_net_node.index {
					panic(fmt.Errorf("%s: requester already owns sub-block 0x%x",
						target_mod.name, dir_entry_tag))
				}
			}
			for z := 0; z < dir.Zsize(); z++ {
				dir_entry := dir.Entry(stack.set, stack.way, z)
				dir_entry_tag := stack.tag + uint32(z*this.min_block_size)
				if dir_entry.Owner() == DirEntryOwnerNone {
					continue
				}
				if dir_entry.Owner() == mod.low_net_node.index {
					continue
				}
				owner := target_mod.high_net.Node(dir_entry.Owner()).mod
				if dir_entry_tag%uint32(owner.block_size) != 0 {
					continue
				}

				stack.pending++
				new_stack := this.newStack(stack.id, target_mod, dir_entry_tag,
					this.ev_read_request_updown_finish, stack)
				new_stack.target_mod = owner
				this.engine.Schedule(this.ev_read_request, new_stack, 0)
			}
			this.engine.Schedule(this.ev_read_request_updown_finish, stack, 0)
			return
		}

		// State I: miss here too, read from the next level down.
		if target_mod.dir.SharedOrOwned(stack.set, stack.way) {
			panic(fmt.Errorf("%s: invalid block with live directory entries", target_mod.name))
		}
		new_stack := this.newStack(stack.id, target_mod, stack.tag,
			this.ev_read_request_updown_miss, stack)
		new_stack.target_mod = target_mod.low_mod
		this.engine.Schedule(this.ev_read_request, new_stack, 0)

	case this.ev_read_request_updown_miss:
		this.debug.Printf("  %d %d 0x%x %s read request updown miss\n",
			this.engine.Now(), stack.id, stack.tag, target_mod.name)

		if stack.err {
			stack.dir_lock.Unlock()
			ret.err = true
			stack.reply_size = 8
			this.engine.Schedule(this.ev_read_request_reply, stack, 0)
			return
		}

		state := BlockExclusive
		if stack.shared {
			state = BlockShared
		}
		target_mod.cache.SetBlock(stack.set, stack.way, stack.tag, state)
		this.engine.Schedule(this.ev_read_request_updown_finish, stack, 0)

	case this.ev_read_request_updown_finish:
		if stack.pending <= 0 {
			panic(fmt.Errorf("%s: read request updown finish without pending children",
				target_mod.name))
		}
		stack.pending--
		if stack.pending > 0 {
			return
		}
		this.debug.Printf("  %d %d 0x%x %s read request updown finish\n",
			this.engine.Now(), stack.id, stack.tag, target_mod.name)

		// Flushed owners gave up their sub-blocks.
		dir := target_mod.dir
		for z := 0; z < dir.Zsize(); z++ {
			dir_entry := dir.Entry(stack.set, stack.way, z)
			if dir_entry.Owner() != mod.low_net_node.index {
				dir_entry.SetOwner(DirEntryOwnerNone)
			}
		}

		// Add the requester as sharer of the sub-blocks it asked for and
		// find out whether anyone else still shares them.
		shared := false
		for z := 0; z < dir.Zsize(); z++ {
			dir_entry_tag := stack.tag + uint32(z*this.min_block_size)
			if dir_entry_tag < stack.addr ||
				dir_entry_tag >= stack.addr+uint32(mod.block_size) {
				continue
			}
			dir_entry := dir.Entry(stack.set, stack.way, z)
			dir_entry.SetSharer(mod.low_net_node.index)
			if dir_entry.NumSharers() > 1 {
				shared = true
			}
		}

		// A sole sharer becomes owner; otherwise the shared reply forces the
		// requester to install S instead of E.
		ret.shared = shared
		if !shared {
			for z := 0; z < dir.Zsize(); z++ {
				dir_entry_tag := stack.tag + uint32(z*this.min_block_size)
				if dir_entry_tag < stack.addr ||
					dir_entry_tag >= stack.addr+uint32(mod.block_size) {
					continue
				}
				dir.Entry(stack.set, stack.way, z).SetOwner(mod.low_net_node.index)
			}
		}

		stack.reply_size = mod.block_size + 8
		stack.dir_lock.Unlock()
		this.engine.Schedule(this.ev_read_request_reply, stack, 0)

	case this.ev_read_request_downup:
		this.debug.Printf("  %d %d 0x%x %s read request downup\n",
			this.engine.Now(), stack.id, stack.tag, target_mod.name)

		if stack.state == BlockInvalid {
			panic(fmt.Errorf("%s: down-up read request hit invalid block", target_mod.name))
		}
		stack.pending = 1
		if stack.state == BlockExclusive || stack.state == BlockShared {
			stack.reply_size = 8
		} else {
			stack.reply_size = target_mod.block_size + 8
		}

		dir := target_mod.dir
		for z := 0; z < dir.Zsize(); z++ {
			dir_entry_tag := stack.tag + uint32(z*this.min_block_size)
			dir_entry := dir.Entry(stack.set, stack.way, z)
			if dir_entry.Owner() == DirEntryOwnerNone {
				continue
			}

			owner := target_mod.high_net.Node(dir_entry.Owner()).mod
			if dir_entry_tag%uint32(owner.block_size) != 0 {
				continue
			}

			stack.pending++
			stack.reply_size = target_mod.block_size + 8
			new_stack := this.newStack(stack.id, target_mod, dir_entry_tag,
				this.ev_read_request_downup_finish, stack)
			new_stack.target_mod = owner
			this.engine.Schedule(this.ev_read_request, new_stack, 0)
		}

		this.engine.Schedule(this.ev_read_request_downup_finish, stack, 0)

	case this.ev_read_request_downup_finish:
		if stack.pending <= 0 {
			panic(fmt.Errorf("%s: read request downup finish without pending children",
				target_mod.name))
		}
		stack.pending--
		if stack.pending > 0 {
			return
		}
		this.debug.Printf("  %d %d 0x%x %s read request downup finish\n",
			this.engine.Now(), stack.id, stack.tag, target_mod.name)

		dir := target_mod.dir
		for z := 0; z < dir.Zsize(); z++ {
			dir.Entry(stack.set, stack.way, z).SetOwner(DirEntryOwnerNone)
		}

		target_mod.cache.SetBlock(stack.set, stack.way, stack.tag, BlockShared)
		stack.dir_lock.Unlock()
		this.engine.Schedule(this.ev_read_request_reply, stack, 0)

	case this.ev_read_request_reply:
		this.debug.Printf("  %d %d 0x%x %s read request reply\n",
			this.engine.Now(), stack.id, stack.tag, target_mod.name)

		if stack.reply_size == 0 {
			panic(fmt.Errorf("%s: read request reply with no size", target_mod.name))
		}

		var net *Net
		var src_node, dst_node *Node
		if updown {
			net = mod.low_net
			src_node = target_mod.high_net_node
			dst_node = mod.low_net_node
		} else {
			net = mod.high_net
			src_node = target_mod.low_net_node
			dst_node = mod.high_net_node
		}

		stack.msg = net.TrySend(src_node, dst_node, stack.reply_size,
			this.ev_read_request_finish, event, stack)

	case this.ev_read_request_finish:
		this.debug.Printf("  %d %d 0x%x %s read request finish\n",
			this.engine.Now(), stack.id, stack.tag, mod.name)

		if updown {
			mod.low_net.Receive(mod.low_net_node, stack.msg)
		} else {
			mod.high_net.Receive(mod.high_net_node, stack.msg)
		}

		this.stackReturn(stack)

	default:
		panic(fmt.Errorf("cachesystem: read request handler got %s", this.engine.EventName(event)))
	}
}

func (this *System) handlerWriteRequest(event int, data interface{}) {
	stack := data.(*ModStack)
	ret := stack.ret_stack
	mod := stack.mod
	target_mod := stack.target_mod

	updown := mod.low_mod == target_mod

	switch event {

	case this.ev_write_request:
		this.debug.Printf("  %d %d 0x%x %s write request\n",
			this.engine.Now(), stack.id, stack.addr, mod.name)

		ret.err = false

		if !updown && target_mod.low_mod != mod {
			panic(fmt.Errorf("write request between unrelated modules %s and %s",
				mod.name, target_mod.name))
		}

		var net *Net
		var src_node, dst_node *Node
		if updown {
			net = mod.low_net
			src_node = mod.low_net_node
			dst_node = target_mod.high_net_node
		} else {
			net = mod.high_net
			src_node = mod.high_net_node
			dst_node = target_mod.low_net_node
		}

		stack.msg = net.TrySend(src_node, dst_node, 8,
			this.ev_write_request_receive, event, stack)

	case this.ev_write_request_receive:
		this.debug.Printf("  %d %d 0x%x %s write request receive\n",
			this.engine.Now(), stack.id, stack.addr, target_mod.name)

		if updown {
			target_mod.high_net.Receive(target_mod.high_net_node, stack.msg)
		} else {
			target_mod.low_net.Receive(target_mod.low_net_node, stack.msg)
		}

		new_stack := this.newStack(stack.id, target_mod, stack.addr,
			this.ev_write_request_action, stack)
		new_stack.blocking = target_mod.low_mod == mod
		new_stack.read = false
		new_stack.retried = false
		this.engine.Schedule(this.ev_find_and_lock, new_stack, 0)

	case this.ev_write_request_action:
		this.debug.Printf("  %d %d 0x%x %s write request action\n",
			this.engine.Now(), stack.id, stack.tag, target_mod.name)

		if stack.err {
			if !updown {
				panic(fmt.Errorf("%s: lock error on down-up write request", target_mod.name))
			}
			ret.err = true
			stack.reply_size = 8
			this.engine.Schedule(this.ev_write_request_reply, stack, 0)
			return
		}

		// Invalidate every other upper-level sharer.
		new_stack := this.newStack(stack.id, target_mod, 0,
			this.ev_write_request_exclusive, stack)
		new_stack.except_mod = mod
		new_stack.set = stack.set
		new_stack.way = stack.way
		this.engine.Schedule(this.ev_invalidate, new_stack, 0)

	case this.ev_write_request_exclusive:
		this.debug.Printf("  %d %d 0x%x %s write request exclusive\n",
			this.engine.Now(), stack.id, stack.tag, target_mod.name)

		if updown {
			this.engine.Schedule(this.ev_write_request_updown, stack, 0)
		} else {
			this.engine.Schedule(this.ev_write_request_downup, stack, 0)
		}

	case this.ev_write_request_updown:
		this.debug.Printf("  %d %d 0x%x %s write request updown\n",
			this.engine.Now(), stack.id, stack.tag, target_mod.name)

		// M/E here answers the request; anything else claims exclusivity
		// one level further down first.
		if stack.state == BlockModified || stack.state == BlockExclusive {
			this.engine.Schedule(this.ev_write_request_updown_finish, stack, 0)
			return
		}

		new_stack := this.newStack(stack.id, target_mod, stack.tag,
			this.ev_write_request_updown_finish, stack)
		new_stack.target_mod = target_mod.low_mod
		this.engine.Schedule(this.ev_write_request, new_stack, 0)

	case this.ev_write_request_updown_finish:
		this.debug.Printf("  %d %d 0x%x %s write request updown finish\n",
			this.engine.Now(), stack.id, stack.tag, target_mod.name)

		if stack.err {
			ret.err = true
			stack.reply_size = 8
			stack.dir_lock.Unlock()
			this.engine.Schedule(this.ev_write_request_reply, stack, 0)
			return
		}

		// The requester becomes sole sharer and owner of its sub-blocks.
		if stack.addr%uint32(mod.block_size) != 0 {
			panic(fmt.Errorf("write request addr 0x%x not aligned to %s block",
				stack.addr, mod.name))
		}
		dir := target_mod.dir
		for z := 0; z < dir.Zsize(); z++ {
			dir_entry_tag := stack.tag + uint32(z*this.min_block_size)
			if dir_entry_tag < stack.addr ||
				dir_entry_tag >= stack.addr+uint32(mod.block_size) {
				continue
			}
			dir_entry := dir.Entry(stack.set, stack.way, z)
			dir_entry.SetSharer(mod.low_net_node.index)
			dir_entry.SetOwner(mod.low_net_node.index)
			if dir_entry.NumSharers() != 1 {
				panic(fmt.Errorf("%s: stale sharers on exclusive grant", target_mod.name))
			}
		}

		// M stays M; everything else becomes E at this level.
		if stack.state != BlockModified {
			target_mod.cache.SetBlock(stack.set, stack.way, stack.tag, BlockExclusive)
		}

		stack.dir_lock.Unlock()
		stack.reply_size = mod.block_size + 8
		this.engine.Schedule(this.ev_write_request_reply, stack, 0)

	case this.ev_write_request_downup:
		this.debug.Printf("  %d %d 0x%x %s write request downup\n",
			this.engine.Now(), stack.id, stack.tag, target_mod.name)

		if stack.state == BlockInvalid {
			panic(fmt.Errorf("%s: down-up write request hit invalid block", target_mod.name))
		}
		if target_mod.dir.SharedOrOwned(stack.set, stack.way) {
			panic(fmt.Errorf("%s: down-up write request with live sharers", target_mod.name))
		}

		// Dirty data travels back; clean states only acknowledge.
		if stack.state == BlockModified || stack.state == BlockOwned {
			stack.reply_size = target_mod.block_size + 8
		} else {
			stack.reply_size = 8
		}
		target_mod.cache.SetBlock(stack.set, stack.way, 0, BlockInvalid)
		stack.dir_lock.Unlock()
		this.engine.Schedule(this.ev_write_request_reply, stack, 0)

	case this.ev_write_request_reply:
		this.debug.Printf("  %d %d 0x%x %s write request reply\n",
			this.engine.Now(), stack.id, stack.tag, target_mod.name)

		if stack.reply_size == 0 {
			panic(fmt.Errorf("%s: write request reply with no size", target_mod.name))
		}

		var net *Net
		var src_node, dst_node *Node
		if updown {
			net = mod.low_net
			src_node = target_mod.high_net_node
			dst_node = mod.low_net_node
		} else {
			net = mod.high_net
			src_node = target_mod.low_net_node
			dst_node = mod.high_net_node
		}

		stack.msg = net.TrySend(src_node, dst_node, stack.reply_size,
			this.ev_write_request_finish, event, stack)

	case this.ev_write_request_finish:
		this.debug.Printf("  %d %d 0x%x %s write request finish\n",
			this.engine.Now(), stack.id, stack.tag, mod.name)

		if updown {
			mod.low_net.Receive(mod.low_net_node, stack.msg)
		} else {
			mod.high_net.Receive(mod.high_net_node, stack.msg)
		}

		this.stackReturn(stack)

	default:
		panic(fmt.Errorf("cachesystem: write request handler got %s", this.engine.EventName(event)))
	}
}

func (this *System) handlerInvalidate(event int, data interface{}) {
	stack := data.(*ModStack)
	mod := stack.mod

	switch event {

	case this.ev_invalidate:
		tag, state := mod.cache.GetBlock(stack.set, stack.way)
		stack.tag = tag
		stack.state = state
		this.debug.Printf("  %d %d 0x%x %s invalidate (set=%d, way=%d, state=%s)\n",
			this.engine.Now(), stack.id, stack.tag, mod.name,
			stack.set, stack.way, stack.state)
		stack.pending = 1

		// Write request toward every upper-level sharer except except_mod;
		// completion blocks until all children return.
		dir := mod.dir
		node_count := 0
		if mod.high_net != nil {
			node_count = mod.high_net.NodeCount()
		}
		for z := 0; z < dir.Zsize(); z++ {
			dir_entry_tag := stack.tag + uint32(z*this.min_block_size)
			dir_entry := dir.Entry(stack.set, stack.way, z)
			for i := 1; i < node_count; i++ {
				if !dir_entry.IsSharer(i) {
					continue
				}

				sharer := mod.high_net.Node(i).mod
				if sharer == stack.except_mod {
					continue
				}

				dir_entry.ClearSharer(i)
				if dir_entry.Owner() == i {
					dir_entry.SetOwner(DirEntryOwnerNone)
				}

				// One request per sharer line, sent at its first sub-block.
				if dir_entry_tag%uint32(sharer.block_size) != 0 {
					continue
				}
				new_stack := this.newStack(stack.id, mod, dir_entry_tag,
					this.ev_invalidate_finish, stack)
				new_stack.target_mod = sharer
				this.engine.Schedule(this.ev_write_request, new_stack, 0)
				stack.pending++
			}
		}
		this.engine.Schedule(this.ev_invalidate_finish, stack, 0)

	case this.ev_invalidate_finish:
		this.debug.Printf("  %d %d 0x%x %s invalidate finish\n",
			this.engine.Now(), stack.id, stack.tag, mod.name)

		if stack.pending <= 0 {
			panic(fmt.Errorf("%s: invalidate finish without pending children", mod.name))
		}
		stack.pending--
		if stack.pending > 0 {
			return
		}
		this.stackReturn(stack)

	default:
		panic(fmt.Errorf("cachesystem: invalidate handler got %s", this.engine.EventName(event)))
	}
}
